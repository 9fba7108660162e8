package main

import (
	"strings"

	"github.com/spf13/cobra"
)

// =============================================================================
// Run Control Commands
// =============================================================================

// defaultServerURL is where the control commands and the worker look for a
// serve process.
const defaultServerURL = "http://localhost:3001"

// buildPauseCmd creates the "pause" command.
func buildPauseCmd() *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "pause",
		Short: "Pause the active run",
		Long: `Request a pause of the active run.

The run yields at its next suspension point (before or after a model call,
screenshot, or browser command) and waits for fresh context or an abort.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPause(cmd, serverURL)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "Server base URL")
	return cmd
}

// buildResumeCmd creates the "resume" command.
func buildResumeCmd() *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "resume \"context...\"",
		Short: "Resume the active run with steering context",
		Long: `Deliver steering context to the active run and resume it.

The context is appended to the run's effective prompt, so the Critic sees
it on the replayed step and every step after.`,
		Example: `  nerovaagent resume "use the promo code SAVE10 at checkout"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResume(cmd, serverURL, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "Server base URL")
	return cmd
}

// buildAbortCmd creates the "abort" command.
func buildAbortCmd() *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "abort",
		Short: "Abort the active run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAbort(cmd, serverURL)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "Server base URL")
	return cmd
}
