package commands

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/meridianhq/autoflow/internal/config"
	"github.com/meridianhq/autoflow/internal/printer"
	"github.com/meridianhq/autoflow/internal/runlog"
	"github.com/meridianhq/autoflow/internal/timespec"
)

var (
	logSince  string
	logEvent  string
	logOutput string
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Inspect the automation run log",
	Long: `Read the append-only run log and print matching entries.

Filters:
  --since  - Entries at or after this time (duration like '2h' or RFC3339)
  --event  - Glob pattern matched against the event name

Output formats:
  default - One human-readable line per entry
  jsonl   - Line-delimited JSON for programmatic processing

Examples:
  # Everything from the last two hours
  autoflow log --since=2h

  # Only guardrail pauses, as JSON
  autoflow log --event="paused" --output=jsonl | jq .reason

  # All task events from a crew run
  autoflow log --event="task_*"`,
	RunE: runLog,
}

func init() {
	logCmd.Flags().StringVar(&logSince, "since", "", "Show entries after this time (duration or RFC3339)")
	logCmd.Flags().StringVar(&logEvent, "event", "", "Glob pattern for the event name")
	logCmd.Flags().StringVarP(&logOutput, "output", "o", "default", "Output format (default or jsonl)")
	rootCmd.AddCommand(logCmd)
}

func runLog(cmd *cobra.Command, args []string) error {
	if logOutput != "default" && logOutput != "jsonl" {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", logOutput),
			[]string{"Valid formats: default, jsonl"},
		)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return printer.Error(
			"configuration error",
			err.Error(),
			[]string{"Create a project first:\n  autoflow init"},
		)
	}

	filter := runlog.Filter{Event: logEvent}
	if logSince != "" {
		since, err := timespec.Parse(logSince, time.Now())
		if err != nil {
			return printer.Error("invalid --since", err.Error(), nil)
		}
		filter.Since = since
	}

	entries, err := runlog.Read(cfg.Automation.RunLog)
	if err != nil {
		return fmt.Errorf("failed to read run log: %w", err)
	}

	for _, entry := range filter.Apply(entries) {
		if logOutput == "jsonl" {
			line, err := json.Marshal(entry)
			if err != nil {
				continue
			}
			printer.Println(string(line))
			continue
		}
		printEntry(entry)
	}
	return nil
}

// printEntry renders one run-log entry with the stamped fields first and
// the rest as key=value pairs in key order.
func printEntry(e runlog.Entry) {
	ts, _ := e["timestamp"].(string)
	event, _ := e["event"].(string)
	printer.Printf("%s  %-14s", ts, event)

	keys := make([]string, 0, len(e))
	for k := range e {
		if k == "timestamp" || k == "event" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		printer.Printf(" %s=%v", k, e[k])
	}
	printer.Printf("\n")
}
