// Package scaffold creates a starter autoflow project in the current
// directory.
package scaffold

import (
	"fmt"
	"os"

	"github.com/meridianhq/autoflow/internal/config"
)

const configFile = "autoflow.yml"

const starterConfig = `version: "1.0"
instance: default

redis:
  addr: localhost:6379

automation:
  profile: balanced
  runner_command: ["python3", "-m", "autoflow_runner"]
  run_log: .autoflow/run.log

crew:
  agent_command: ["python3", "-m", "autoflow_agent"]
  budgets:
    wall_clock_sec: 600
    max_tool_calls: 50
  quality_gates:
    - kind: min_images
      count: 1
`

// Initialize writes a starter autoflow.yml and the .autoflow state
// directory. If force is true an existing config is replaced.
func Initialize(force bool) error {
	if _, err := os.Stat(configFile); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to replace it)", configFile)
	}

	if err := os.WriteFile(configFile, []byte(starterConfig), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", configFile, err)
	}

	if err := os.MkdirAll(".autoflow", 0o755); err != nil {
		return fmt.Errorf("failed to create .autoflow directory: %w", err)
	}

	// The template must always pass the loader's own validation.
	if _, err := config.Load(configFile); err != nil {
		return fmt.Errorf("generated config failed validation: %w", err)
	}

	return nil
}
