// Package main provides the CLI entry point for the nerovaagent web-browsing agent.
//
// nerovaagent drives a real browser toward a natural-language goal: a
// vision-capable Critic model decides the next action from a screenshot,
// the click resolver turns click intents into precise coordinates, and a
// remote browser worker executes the commands.
//
// # Basic Usage
//
// Run a goal against a locally launched browser:
//
//	nerovaagent run "buy a pair of wool socks on amazon"
//
// Host the brain service and agent pool as a daemon:
//
//	nerovaagent serve --config nerovaagent.yaml
//
// Attach a browser worker to a running daemon:
//
//	nerovaagent worker --server http://brain-host:3001
//
// Steer the active run:
//
//	nerovaagent pause
//	nerovaagent resume "use the promo code SAVE10 at checkout"
//	nerovaagent abort
//
// # Environment Variables
//
//   - NEROVAAGENT_CONFIG: configuration file path (flags win)
//   - NEROVA_BRAIN_URL: remote brain for the control loop
//   - CRITIC_OPENAI_KEY / OPENAI_API_KEY: Critic API key chain
//   - RETRIEVER_OPENAI_KEY / NANO_OPENAI_KEY: Assistant API key chain
//   - NEROVA_HEADLESS, NEROVA_KEEP_BROWSER, NEROVA_BOOT_URL, NEROVA_MAX_STEPS
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/NerovaAutomation/nerovaagent-sub000/internal/observability"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

func main() {
	// Interactive default: text logs with credential redaction. serve and
	// worker swap in the configured handler once the config is loaded.
	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "text"})
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nerovaagent",
		Short: "nerovaagent - autonomous web-browsing agent",
		Long: `nerovaagent advances a natural-language goal through a real browser.

Each iteration captures the viewport, asks the Critic model for the next
action, and executes it through a remote-controlled browser worker. Click
targets that cannot be located deterministically are disambiguated by the
Assistant model.

Run artifacts (screenshots, decisions, logs) land under ~/.nerovaagent/runs.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		// SilenceUsage prevents printing usage on every error.
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildRunCmd(),
		buildWorkerCmd(),
		buildRunsCmd(),
		buildPauseCmd(),
		buildResumeCmd(),
		buildAbortCmd(),
		buildVersionCmd(),
	)

	return rootCmd
}

// resolveConfigPath applies the NEROVAAGENT_CONFIG fallback; an empty result
// means built-in defaults plus environment overrides.
func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	return strings.TrimSpace(os.Getenv("NEROVAAGENT_CONFIG"))
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "nerovaagent %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
