package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string
)

// configPath is shared by every subcommand that needs autoflow.yml.
var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "autoflow",
	Short: "AutoFlow - guardrailed automation for data workflows",
	Long: `AutoFlow reacts to workspace events with rule-driven playbook runs,
kept safe by rate limits, circuit breakers, and operator controls, and
can hand larger goals to a blackboard-coordinated agent crew.

State lives in Redis; every automated action is recorded in an
append-only run log for audit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() error {
	// Errors are printed with formatting by the printer package.
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "autoflow.yml", "Path to the autoflow config file")
}
