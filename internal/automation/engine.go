// Package automation contains the event-driven engine that decides whether
// an incoming domain event should trigger an automated playbook, runs it
// under a hard timeout, and feeds the outcome back into the guardrails.
package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/meridianhq/autoflow/internal/bus"
	"github.com/meridianhq/autoflow/internal/guardrail"
	"github.com/meridianhq/autoflow/internal/rules"
	"github.com/meridianhq/autoflow/internal/runlog"
	"github.com/meridianhq/autoflow/internal/status"
)

// ExecutionTimeout is the hard wall-clock ceiling on one playbook run.
// A run that exceeds it is cancelled and registered as a failure.
const ExecutionTimeout = 120 * time.Second

// StopCooldown is the unconditional pause entered when an operator calls
// Stop. It is a cooldown, not a failure: the circuit breaker is untouched.
const StopCooldown = 10 * time.Minute

// PlaybookRunner executes playbooks. The engine treats it as an opaque
// capability: it does not know what a playbook does.
type PlaybookRunner interface {
	// Run executes the playbook. It must observe context cancellation.
	Run(ctx context.Context, pb rules.Playbook) error

	// StopCurrentRun force-terminates any in-flight execution.
	StopCurrentRun()
}

// Engine is the automation decision loop. One playbook executes at a time;
// events arriving mid-execution wait in the bus subscription and are
// processed strictly after the current decision completes.
type Engine struct {
	tracker      *guardrail.Tracker
	rules        *rules.Engine
	runner       PlaybookRunner
	hub          *status.Hub
	runLog       *runlog.Logger
	instanceName string
	timeout      time.Duration
	now          func() time.Time

	mu            sync.Mutex
	cancelRun     context.CancelFunc
	stopRequested bool
}

// Option customizes an Engine.
type Option func(*Engine)

// WithTimeout overrides the execution timeout. Test hook.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithClock overrides the engine's time source. Test hook.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an automation engine.
func NewEngine(tracker *guardrail.Tracker, ruleEngine *rules.Engine, runner PlaybookRunner, runLog *runlog.Logger, instanceName string, opts ...Option) *Engine {
	e := &Engine{
		tracker:      tracker,
		rules:        ruleEngine,
		runner:       runner,
		hub:          status.NewHub(),
		runLog:       runLog,
		instanceName: instanceName,
		timeout:      ExecutionTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Tracker returns the guardrail state holder, the engine's settings surface.
func (e *Engine) Tracker() *guardrail.Tracker {
	return e.tracker
}

// Subscribe returns a stream of the engine's phase transitions.
func (e *Engine) Subscribe(ctx context.Context) *status.Subscription {
	return e.hub.Subscribe(ctx)
}

// Run consumes events from the subscription until the context is cancelled.
// Decisions are strictly serialized: the next event is not read until the
// current one has been fully handled.
func (e *Engine) Run(ctx context.Context, sub *bus.Subscription) error {
	log.Printf("[INFO] Automation engine starting for instance '%s'", e.instanceName)
	e.hub.Publish(status.Idle())

	for {
		select {
		case <-ctx.Done():
			log.Printf("[INFO] Automation engine shutting down")
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				log.Printf("[INFO] Event subscription closed")
				return nil
			}
			e.Handle(ctx, ev)
		}
	}
}

// Handle processes a single event end to end. It never returns an error:
// execution failures are converted into guardrail feedback and status
// transitions, keeping the engine failure-isolated per event.
func (e *Engine) Handle(ctx context.Context, ev bus.Event) {
	e.hub.Publish(status.Evaluating())

	verdict := e.tracker.Verdict()
	if !verdict.Ready() {
		reason := verdict.Reason()
		e.logEvent("guardrail_blocked", map[string]any{
			"trigger": ev.Kind(),
			"verdict": string(verdict.Kind),
			"reason":  reason,
		})
		e.appendRunLog("paused", map[string]any{"trigger": ev.Kind(), "reason": reason})
		e.hub.Publish(status.Paused(reason))
		return
	}

	action := e.rules.ActionFor(ev, e.tracker.Preferences())
	if action == nil {
		e.hub.Publish(status.Idle())
		return
	}

	if e.tracker.ShouldSkip(action.CacheKey) {
		e.logEvent("cache_skip", map[string]any{
			"trigger":   ev.Kind(),
			"cache_key": action.CacheKey,
		})
		e.appendRunLog("cache_skip", map[string]any{
			"trigger":   ev.Kind(),
			"playbook":  action.Playbook.ID,
			"cache_key": action.CacheKey,
		})
		e.hub.Publish(status.Paused("cached"))
		return
	}

	e.hub.Publish(status.Running(action.Playbook.Description))
	e.execute(ctx, ev, action)
}

// execute runs the playbook under the timeout and records the outcome.
func (e *Engine) execute(ctx context.Context, ev bus.Event, action *rules.Action) {
	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	e.mu.Lock()
	e.stopRequested = false
	e.cancelRun = cancel
	e.mu.Unlock()

	started := e.now()

	// Race the runner against the deadline. The loser is actively
	// cancelled via runCtx, never just abandoned.
	done := make(chan error, 1)
	go func() {
		done <- e.runner.Run(runCtx, action.Playbook)
	}()

	var runErr error
	select {
	case runErr = <-done:
	case <-runCtx.Done():
		runErr = runCtx.Err()
	}

	e.mu.Lock()
	e.cancelRun = nil
	stopped := e.stopRequested
	e.mu.Unlock()

	durationMs := e.now().Sub(started).Milliseconds()

	switch {
	case stopped:
		// Operator stop: a cooldown, not a success/failure outcome.
		e.logEvent("run_stopped", map[string]any{
			"playbook":    action.Playbook.ID,
			"duration_ms": durationMs,
		})
		e.appendRunLog("stopped", map[string]any{"playbook": action.Playbook.ID})
		until := e.tracker.Preferences().PausedUntil
		e.hub.Publish(status.Paused(fmt.Sprintf("Stopped by operator, cooling down until %s", until.Format(time.RFC3339))))
		return

	case runErr == nil:
		e.tracker.RegisterSuccess(action.CacheKey)
		e.logEvent("run_succeeded", map[string]any{
			"playbook":    action.Playbook.ID,
			"duration_ms": durationMs,
		})
		e.appendRunLog("success", map[string]any{
			"trigger":  ev.Kind(),
			"playbook": action.Playbook.ID,
			"dataset":  action.Playbook.DatasetPath,
		})

	default:
		// A timeout counts as a failure for circuit-breaker purposes.
		e.tracker.RegisterFailure()
		kind := "failure"
		message := fmt.Sprintf("Playbook %s failed: %v", action.Playbook.ID, runErr)
		if errors.Is(runErr, context.DeadlineExceeded) {
			kind = "timeout"
			message = fmt.Sprintf("Playbook %s timed out after %s", action.Playbook.ID, e.timeout)
		}
		e.logEvent("run_failed", map[string]any{
			"playbook":    action.Playbook.ID,
			"kind":        kind,
			"error":       message,
			"duration_ms": durationMs,
		})
		e.appendRunLog(kind, map[string]any{
			"trigger":  ev.Kind(),
			"playbook": action.Playbook.ID,
			"reason":   message,
		})
	}

	e.hub.Publish(status.Idle())
}

// Stop force-cancels the in-flight run, if any, and unconditionally enters
// the operator cooldown pause.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancelRun
	if cancel != nil {
		e.stopRequested = true
	}
	e.mu.Unlock()

	if cancel != nil {
		e.runner.StopCurrentRun()
		cancel()
	}

	until := e.now().Add(StopCooldown)
	e.tracker.PauseUntil(until)

	e.logEvent("operator_stop", map[string]any{"paused_until": until.Format(time.RFC3339)})
	if cancel == nil {
		// Nothing was in flight; announce the pause directly.
		e.hub.Publish(status.Paused(fmt.Sprintf("Stopped by operator, cooling down until %s", until.Format(time.RFC3339))))
	}
}

// appendRunLog writes a run-log entry, best-effort. A log failure never
// aborts the state transition being logged.
func (e *Engine) appendRunLog(event string, fields map[string]any) {
	if e.runLog == nil {
		return
	}
	if err := e.runLog.Append(event, fields); err != nil {
		log.Printf("[WARN] Failed to append run log entry: %v", err)
	}
}

// logEvent logs a structured event in JSON format.
func (e *Engine) logEvent(eventType string, data map[string]any) {
	data["timestamp"] = e.now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "automation"
	data["event_type"] = eventType
	data["instance"] = e.instanceName

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[WARN] Failed to marshal log event: %v", err)
		return
	}
	log.Println(string(jsonData))
}
