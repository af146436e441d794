// Package config loads and validates autoflow.yml.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/meridianhq/autoflow/internal/crew"
	"github.com/meridianhq/autoflow/internal/guardrail"
)

// DefaultRunLogPath is used when automation.run_log is not set.
const DefaultRunLogPath = ".autoflow/run.log"

// Config represents the top-level autoflow.yml configuration.
type Config struct {
	Version    string           `yaml:"version"`
	Instance   string           `yaml:"instance"`
	Redis      RedisConfig      `yaml:"redis,omitempty"`
	Automation AutomationConfig `yaml:"automation"`
	Crew       *CrewConfig      `yaml:"crew,omitempty"`
}

// RedisConfig locates the Redis instance backing the blackboard.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// AutomationConfig specifies guardrail preferences and the playbook runner.
type AutomationConfig struct {
	Profile          string   `yaml:"profile"`
	QuickEDAOnMount  *bool    `yaml:"quick_eda_on_mount,omitempty"`
	CleanOnHighNulls *bool    `yaml:"clean_on_high_nulls,omitempty"`
	PlotsOnMissing   *bool    `yaml:"plots_on_missing,omitempty"`
	NullThreshold    *float64 `yaml:"null_ratio_threshold,omitempty"`
	RunnerCommand    []string `yaml:"runner_command"`
	RunLog           string   `yaml:"run_log,omitempty"`
	TimeoutSec       int      `yaml:"timeout_sec,omitempty"`
}

// CrewConfig specifies the agent runtime and default run constraints.
type CrewConfig struct {
	AgentCommand []string           `yaml:"agent_command"`
	Budgets      crew.Budgets       `yaml:"budgets,omitempty"`
	QualityGates []crew.QualityGate `yaml:"quality_gates,omitempty"`
}

// Preferences converts the automation section into guardrail preferences.
// Toggles default to on; the profile still gates which rules may fire.
func (a *AutomationConfig) Preferences() guardrail.Preferences {
	toggles := guardrail.Toggles{QuickEDAOnMount: true, CleanOnHighNulls: true, PlotsOnMissing: true}
	if a.QuickEDAOnMount != nil {
		toggles.QuickEDAOnMount = *a.QuickEDAOnMount
	}
	if a.CleanOnHighNulls != nil {
		toggles.CleanOnHighNulls = *a.CleanOnHighNulls
	}
	if a.PlotsOnMissing != nil {
		toggles.PlotsOnMissing = *a.PlotsOnMissing
	}
	return guardrail.Preferences{
		Profile: guardrail.Profile(a.Profile),
		Toggles: toggles,
	}
}

// NullRatioThreshold returns the configured threshold, or zero to accept
// the rule engine's default.
func (a *AutomationConfig) NullRatioThreshold() float64 {
	if a.NullThreshold == nil {
		return 0
	}
	return *a.NullThreshold
}

// Validate performs strict validation on the configuration.
func (c *Config) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Instance == "" {
		return fmt.Errorf("instance is required")
	}

	if err := c.Automation.Validate(); err != nil {
		return err
	}

	if c.Crew != nil {
		if err := c.Crew.Validate(); err != nil {
			return err
		}
	}

	// Apply defaults after validation so zero values stay detectable above.
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Automation.RunLog == "" {
		c.Automation.RunLog = DefaultRunLogPath
	}

	return nil
}

// Validate checks the automation section.
func (a *AutomationConfig) Validate() error {
	if err := guardrail.Profile(a.Profile).Validate(); err != nil {
		return fmt.Errorf("automation: %w", err)
	}

	if len(a.RunnerCommand) == 0 {
		return fmt.Errorf("automation: runner_command is required")
	}

	if a.NullThreshold != nil && (*a.NullThreshold < 0 || *a.NullThreshold > 1) {
		return fmt.Errorf("automation: null_ratio_threshold must be in [0, 1], got %g", *a.NullThreshold)
	}

	if a.TimeoutSec < 0 {
		return fmt.Errorf("automation: timeout_sec cannot be negative")
	}

	return nil
}

// Validate checks the crew section.
func (cc *CrewConfig) Validate() error {
	if len(cc.AgentCommand) == 0 {
		return fmt.Errorf("crew: agent_command is required")
	}

	if err := cc.Budgets.Validate(); err != nil {
		return fmt.Errorf("crew: %w", err)
	}

	for i, g := range cc.QualityGates {
		if err := g.Validate(); err != nil {
			return fmt.Errorf("crew: invalid quality gate %d: %w", i, err)
		}
	}

	return nil
}

// Load reads and validates autoflow.yml from the specified path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
