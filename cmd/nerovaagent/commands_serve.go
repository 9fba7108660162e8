package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Serve Command
// =============================================================================

// buildServeCmd creates the "serve" command that starts the agent daemon.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the brain service and agent pool",
		Long: `Start the nerovaagent daemon.

The daemon will:
1. Serve the brain decision API (bootstrap / critic / assistant)
2. Accept browser workers on the agent websocket
3. Execute goal runs submitted to /v1/run/start
4. Expose run control (pause / context / abort), /v1/agents, and /metrics
5. Sweep expired run artifacts on the retention schedule

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with built-in defaults (port 3001)
  nerovaagent serve

  # Start with a config file and live reload
  nerovaagent serve --config /etc/nerovaagent/agent.yaml

  # Start with debug logging
  nerovaagent serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to configuration file (YAML, JSON, or JSON5)")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}
