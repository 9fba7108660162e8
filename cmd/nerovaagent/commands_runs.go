package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Runs Commands
// =============================================================================

// buildRunsCmd creates the "runs" command group for inspecting past runs.
func buildRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded runs",
	}
	cmd.AddCommand(buildRunsListCmd(), buildRunsShowCmd())
	return cmd
}

func buildRunsListCmd() *cobra.Command {
	var (
		configPath string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		Example: `  # Twenty most recent runs
  nerovaagent runs list

  # More history
  nerovaagent runs list --limit 100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRunsList(cmd, resolveConfigPath(configPath), limit)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (YAML, JSON, or JSON5)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to list")
	return cmd
}

func buildRunsShowCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run's summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRunsShow(cmd, resolveConfigPath(configPath), args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (YAML, JSON, or JSON5)")
	return cmd
}
