package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/meridianhq/autoflow/internal/automation"
	"github.com/meridianhq/autoflow/internal/bus"
	"github.com/meridianhq/autoflow/internal/config"
	"github.com/meridianhq/autoflow/internal/guardrail"
	"github.com/meridianhq/autoflow/internal/printer"
	"github.com/meridianhq/autoflow/internal/rules"
	"github.com/meridianhq/autoflow/internal/runlog"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "React to workspace events with guardrailed automation",
	Long: `Read workspace events from stdin as JSON lines and react to them with
rule-driven playbook runs. Guardrails (rate limit, circuit breaker,
operator pause, kill switch) decide per event whether automation may
act; every decision is appended to the run log.

Event lines carry a "kind" field: dataset_mounted, run_finished,
app_became_active, or error_occurred.

Examples:
  # Drive automation from a producer process
  workspace-events | autoflow watch

  # Replay captured events
  autoflow watch < events.jsonl`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return printer.Error(
			"configuration error",
			err.Error(),
			[]string{"Create a project first:\n  autoflow init"},
		)
	}

	runner, err := automation.NewExecRunner(cfg.Automation.RunnerCommand)
	if err != nil {
		return fmt.Errorf("failed to create runner: %w", err)
	}

	tracker := guardrail.NewTracker(cfg.Automation.Preferences())
	ruleEngine := rules.NewEngine(cfg.Automation.NullRatioThreshold())
	runLog := runlog.New(cfg.Automation.RunLog)

	var opts []automation.Option
	if cfg.Automation.TimeoutSec > 0 {
		opts = append(opts, automation.WithTimeout(time.Duration(cfg.Automation.TimeoutSec)*time.Second))
	}
	engine := automation.NewEngine(tracker, ruleEngine, runner, runLog, cfg.Instance, opts...)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		printer.Info("\nShutting down...\n")
		engine.Stop()
		cancel()
	}()

	eventBus := bus.New()
	sub := eventBus.Subscribe(ctx)
	defer sub.Close()

	// Stdin feeds the bus; EOF ends the session.
	go func() {
		defer cancel()
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			ev, err := bus.ParseEvent(line)
			if err != nil {
				printer.Warning("Skipping malformed event: %v\n", err)
				continue
			}
			eventBus.Publish(ev)
		}
	}()

	// Status transitions stream to the terminal as they happen.
	statusSub := engine.Subscribe(ctx)
	defer statusSub.Close()
	go func() {
		for s := range statusSub.Statuses() {
			printer.Status(s)
		}
	}()

	printer.Step("Watching for events (instance %q, profile %q)\n", cfg.Instance, cfg.Automation.Profile)
	return engine.Run(ctx, sub)
}
