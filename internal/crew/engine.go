package crew

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/meridianhq/autoflow/internal/runlog"
	"github.com/meridianhq/autoflow/internal/status"
	"github.com/meridianhq/autoflow/pkg/blackboard"
)

// Stop reasons reported by Report.StopReason.
const (
	StopDone          = "done"
	StopQuiescent     = "quiescent"
	StopWallClock     = "wall_clock_exceeded"
	StopToolCalls     = "tool_call_budget_exceeded"
	StopTokens        = "token_budget_exceeded"
	StopTaskFailure   = "task_failed"
	StopContextClosed = "context_cancelled"
)

// Report summarizes one crew run for the caller.
type Report struct {
	RunID         string   `json:"run_id"`
	TasksExecuted int      `json:"tasks_executed"`
	ToolCalls     int      `json:"tool_calls"`
	Tokens        int      `json:"tokens"`
	TaskFailures  []string `json:"task_failures,omitempty"`
	GateFailures  []string `json:"gate_failures,omitempty"`
	Done          bool     `json:"done"`
	StopReason    string   `json:"stop_reason"`
}

// Engine drives one crew run: it seeds the goal on the blackboard, then
// loops over pending blackboard events, asking each policy for proposals
// and executing the single highest-priority task per tick. Events produced
// by task execution are queued locally in write order, so the loop is
// deterministic and never depends on pub/sub delivery timing.
type Engine struct {
	bb       *blackboard.Client
	runtime  *TaskRuntime
	policies []Policy
	hub      *status.Hub
	runLog   *runlog.Logger
	now      func() time.Time
}

// EngineOption configures a crew engine.
type EngineOption func(*Engine)

// WithPolicies replaces the default policy set.
func WithPolicies(policies []Policy) EngineOption {
	return func(e *Engine) { e.policies = policies }
}

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a crew engine. runLog may be nil.
func NewEngine(bb *blackboard.Client, runtime *TaskRuntime, runLog *runlog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		bb:       bb,
		runtime:  runtime,
		policies: DefaultPolicies(),
		hub:      status.NewHub(),
		runLog:   runLog,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Subscribe returns a stream of engine status updates.
func (e *Engine) Subscribe(ctx context.Context) *status.Subscription {
	return e.hub.Subscribe(ctx)
}

// Run executes one crew run under the contract and returns its report.
// The contract's wall clock budget bounds the whole run; tool call and
// token budgets are checked after every task. A task failure ends the run
// but is reported, not returned: the report is the error surface for
// in-run problems, the returned error covers setup failures only.
func (e *Engine) Run(ctx context.Context, contract *PlanContract) (*Report, error) {
	if err := contract.Validate(); err != nil {
		return nil, fmt.Errorf("invalid contract: %w", err)
	}

	report := &Report{RunID: uuid.New().String()}

	if contract.Budgets.WallClockSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, e.now().Add(time.Duration(contract.Budgets.WallClockSec)*time.Second))
		defer cancel()
	}

	e.appendRunLog("run_start", map[string]any{"run_id": report.RunID, "goal": contract.Goal})

	if err := e.bb.UpsertFact(ctx, blackboard.StringFact(FactGoal, contract.Goal)); err != nil {
		return nil, fmt.Errorf("seeding goal: %w", err)
	}

	pctx := &PolicyContext{BB: e.bb, Contract: contract, Validator: &Validator{}}

	// Pending blackboard events in write order. The goal upsert seeds it.
	queue := []blackboard.Event{{Kind: blackboard.EventFactUpserted, Key: FactGoal}}

	report.StopReason = StopQuiescent
	for len(queue) > 0 {
		if ctx.Err() != nil {
			report.StopReason = stopReasonFor(ctx)
			break
		}

		ev := queue[0]
		queue = queue[1:]

		e.hub.Publish(status.Evaluating())

		task, err := e.selectTask(ctx, ev, pctx)
		if err != nil {
			report.TaskFailures = append(report.TaskFailures, err.Error())
			report.StopReason = StopTaskFailure
			break
		}
		if task == nil {
			continue
		}

		e.hub.Publish(status.Running(task.Describe()))
		e.appendRunLog("task_start", map[string]any{
			"run_id": report.RunID, "task_id": task.ID, "kind": string(task.Kind),
		})

		outcome, events, err := e.runtime.Execute(ctx, *task, contract)
		report.TasksExecuted++
		report.ToolCalls += outcome.ToolCalls
		report.Tokens += outcome.Tokens
		queue = append(queue, events...)

		if err != nil {
			if ctx.Err() != nil {
				report.StopReason = stopReasonFor(ctx)
				break
			}
			log.Printf("[ERROR] Task %s failed: %v", task.ID, err)
			report.TaskFailures = append(report.TaskFailures, err.Error())
			e.appendRunLog("task_failure", map[string]any{
				"run_id": report.RunID, "task_id": task.ID, "error": err.Error(),
			})
			report.StopReason = StopTaskFailure
			break
		}

		if reason := e.overBudget(contract.Budgets, report); reason != "" {
			report.StopReason = reason
			break
		}

		if producedDone(events) {
			report.StopReason = StopDone
			break
		}
	}

	e.finish(ctx, contract, report)
	return report, nil
}

// selectTask collects proposals from every policy for one event and
// returns the strictly highest-priority task, or nil when no policy bids.
// Ties go to the earlier policy in evaluation order.
func (e *Engine) selectTask(ctx context.Context, ev blackboard.Event, pctx *PolicyContext) (*ProposedTask, error) {
	var best *ProposedTask
	for _, p := range e.policies {
		proposals, err := p.Evaluate(ctx, ev, pctx)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", p.Name(), err)
		}
		for i := range proposals {
			t := proposals[i]
			if best == nil || t.Priority > best.Priority {
				best = &t
			}
		}
	}
	return best, nil
}

// overBudget reports which budget, if any, the run has exhausted.
func (e *Engine) overBudget(b Budgets, r *Report) string {
	if b.MaxToolCalls > 0 && r.ToolCalls >= b.MaxToolCalls {
		return StopToolCalls
	}
	if b.MaxTokensTotal > 0 && r.Tokens >= b.MaxTokensTotal {
		return StopTokens
	}
	return ""
}

// finish resolves the terminal state: done if the done fact landed, gate
// failures recorded otherwise. The blackboard read uses a fresh context so
// a wall clock expiry does not hide the final state.
func (e *Engine) finish(ctx context.Context, contract *PlanContract, report *Report) {
	readCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		readCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}

	done, err := e.bb.HasFact(readCtx, FactDone)
	if err != nil {
		log.Printf("[WARN] Failed to read done fact: %v", err)
	}
	report.Done = done

	if done {
		report.StopReason = StopDone
		e.hub.Publish(status.Idle())
	} else {
		failures, err := (&Validator{}).Failures(readCtx, contract.QualityGates, e.bb)
		if err != nil {
			log.Printf("[WARN] Failed to evaluate quality gates: %v", err)
		}
		report.GateFailures = failures
		reason := report.StopReason
		if len(failures) > 0 {
			reason = fmt.Sprintf("%s: %s", reason, failures[0])
		}
		e.hub.Publish(status.Blocked(reason))
	}

	e.appendRunLog("run_end", map[string]any{
		"run_id":         report.RunID,
		"done":           report.Done,
		"stop_reason":    report.StopReason,
		"tasks_executed": report.TasksExecuted,
		"tool_calls":     report.ToolCalls,
		"tokens":         report.Tokens,
	})
	e.logEvent("crew_run_end", map[string]any{"run_id": report.RunID, "stop_reason": report.StopReason})
}

// producedDone reports whether a task's writes included the done fact.
// The run is over the moment it lands; events still queued are moot.
func producedDone(events []blackboard.Event) bool {
	for _, ev := range events {
		if ev.Kind == blackboard.EventFactUpserted && ev.Key == FactDone {
			return true
		}
	}
	return false
}

func stopReasonFor(ctx context.Context) string {
	if ctx.Err() == context.DeadlineExceeded {
		return StopWallClock
	}
	return StopContextClosed
}

func (e *Engine) appendRunLog(event string, fields map[string]any) {
	if e.runLog == nil {
		return
	}
	if err := e.runLog.Append(event, fields); err != nil {
		log.Printf("[WARN] Failed to append run log entry: %v", err)
	}
}

func (e *Engine) logEvent(eventType string, data map[string]any) {
	entry := map[string]any{"event": eventType, "data": data}
	b, err := json.Marshal(entry)
	if err != nil {
		return
	}
	log.Printf("[INFO] %s", string(b))
}
