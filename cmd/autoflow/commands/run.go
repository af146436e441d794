package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/meridianhq/autoflow/internal/config"
	"github.com/meridianhq/autoflow/internal/crew"
	"github.com/meridianhq/autoflow/internal/printer"
	"github.com/meridianhq/autoflow/internal/runlog"
	"github.com/meridianhq/autoflow/pkg/blackboard"
)

var (
	runGoal       string
	runOutputJSON bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an agent crew against a goal",
	Long: `Run a blackboard-coordinated agent crew until the goal is met, a
budget is exhausted, or no policy has work left.

The goal is seeded onto the Redis blackboard; policies react to each
change by proposing tasks, and the highest-priority proposal executes
each tick. Quality gates from the configuration must pass before the
final synthesis step may run.

Examples:
  # Run with budgets and gates from autoflow.yml
  autoflow run --goal "analyze the sales dataset"

  # Emit the final report as JSON
  autoflow run --goal "analyze the sales dataset" --json`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runGoal, "goal", "g", "", "Goal for the crew (required)")
	runCmd.Flags().BoolVar(&runOutputJSON, "json", false, "Print the final report as JSON")
	_ = runCmd.MarkFlagRequired("goal")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return printer.Error(
			"configuration error",
			err.Error(),
			[]string{"Create a project first:\n  autoflow init"},
		)
	}

	if cfg.Crew == nil {
		return printer.Error(
			"crew not configured",
			"autoflow.yml has no crew section.",
			[]string{"Add a crew section with agent_command, budgets, and quality_gates"},
		)
	}

	bb, err := blackboard.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, cfg.Instance)
	if err != nil {
		return fmt.Errorf("failed to create blackboard client: %w", err)
	}
	defer bb.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		printer.Info("\nCancelling run...\n")
		cancel()
	}()

	if err := bb.Ping(ctx); err != nil {
		return printer.Error(
			"Redis unreachable",
			fmt.Sprintf("Could not reach Redis at %s: %v", cfg.Redis.Addr, err),
			[]string{"Check that Redis is running", "Verify redis.addr in autoflow.yml"},
		)
	}

	agent, err := crew.NewExecAgentRuntime(cfg.Crew.AgentCommand)
	if err != nil {
		return fmt.Errorf("failed to create agent runtime: %w", err)
	}

	contract := &crew.PlanContract{
		Goal:         runGoal,
		Budgets:      cfg.Crew.Budgets,
		QualityGates: cfg.Crew.QualityGates,
	}

	runLog := runlog.New(cfg.Automation.RunLog)
	engine := crew.NewEngine(bb, crew.NewTaskRuntime(bb, agent, runLog), runLog)

	statusSub := engine.Subscribe(ctx)
	defer statusSub.Close()
	go func() {
		for s := range statusSub.Statuses() {
			printer.Status(s)
		}
	}()

	printer.Step("Starting crew run (instance %q)\n", cfg.Instance)

	report, err := engine.Run(ctx, contract)
	if err != nil {
		return fmt.Errorf("crew run failed: %w", err)
	}

	if runOutputJSON {
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		printer.Println(string(out))
		return nil
	}

	printReport(report)
	if !report.Done {
		return printer.Error(
			"run did not complete",
			fmt.Sprintf("Stopped: %s", report.StopReason),
			[]string{"Inspect the run log:\n  autoflow log"},
		)
	}
	return nil
}

func printReport(r *crew.Report) {
	if r.Done {
		printer.Success("Run %s complete\n", r.RunID)
	} else {
		printer.Warning("Run %s stopped: %s\n", r.RunID, r.StopReason)
	}
	printer.Printf("  tasks: %d  tool calls: %d  tokens: %d\n", r.TasksExecuted, r.ToolCalls, r.Tokens)
	for _, f := range r.TaskFailures {
		printer.Printf("  task failure: %s\n", f)
	}
	for _, f := range r.GateFailures {
		printer.Printf("  gate failure: %s\n", f)
	}
}
