package commands

import (
	"github.com/spf13/cobra"

	"github.com/meridianhq/autoflow/internal/printer"
	"github.com/meridianhq/autoflow/internal/scaffold"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a starter autoflow project",
	Long: `Create a starter autoflow.yml and the .autoflow state directory in
the current directory.

Examples:
  # Create a new project
  autoflow init

  # Replace an existing configuration
  autoflow init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Replace an existing autoflow.yml")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if err := scaffold.Initialize(initForce); err != nil {
		return printer.Error(
			"init failed",
			err.Error(),
			[]string{"Run with --force to replace an existing configuration"},
		)
	}

	printer.Success("Created autoflow.yml\n")
	printer.Info("Edit the runner and agent commands, then start with: autoflow watch\n")
	return nil
}
