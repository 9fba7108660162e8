package main

import (
	"strings"

	"github.com/spf13/cobra"
)

// =============================================================================
// Run Command
// =============================================================================

// runOptions carries the run command's flags into the handler.
type runOptions struct {
	configPath string
	prompt     string
	contexts   []string
	bootURL    string
	maxSteps   int
	brainURL   string
	debug      bool

	headless           bool
	headlessChanged    bool
	keepBrowser        bool
	keepBrowserChanged bool
}

// buildRunCmd creates the "run" command that executes one goal end to end:
// it launches a local browser worker, wires a private control plane, and
// drives the loop until a terminal status.
func buildRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run \"goal...\"",
		Short: "Execute one goal with a locally launched browser",
		Long: `Execute a single goal run.

The command launches a browser worker in-process, binds a loopback control
plane for pause/context/abort, and drives the agent loop until the run
reaches a terminal status. The Critic and Assistant are served by the
embedded brain unless a remote brain URL is configured.

Artifacts (screenshots, decisions, logs) are written to a fresh directory
under ~/.nerovaagent/runs.`,
		Example: `  # Run a goal headless
  nerovaagent run --headless "find the cheapest 27 inch monitor on newegg"

  # Start from a specific page with extra context
  nerovaagent run --url https://news.ycombinator.com \
    --context "prefer discussions over articles" "open the top story"

  # Use a remote brain
  nerovaagent run --brain http://brain-host:3001 "check the weather in Oslo"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.configPath = resolveConfigPath(opts.configPath)
			opts.prompt = strings.Join(args, " ")
			opts.headlessChanged = cmd.Flags().Changed("headless")
			opts.keepBrowserChanged = cmd.Flags().Changed("keep-browser")
			return runRun(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "",
		"Path to configuration file (YAML, JSON, or JSON5)")
	cmd.Flags().StringArrayVar(&opts.contexts, "context", nil,
		"Initial context note (repeatable)")
	cmd.Flags().StringVar(&opts.bootURL, "url", "",
		"Page to open before the first Critic call")
	cmd.Flags().IntVar(&opts.maxSteps, "max-steps", 0,
		"Iteration budget (0 uses the configured default)")
	cmd.Flags().StringVar(&opts.brainURL, "brain", "",
		"Remote brain base URL (empty embeds the brain in-process)")
	cmd.Flags().BoolVar(&opts.headless, "headless", false,
		"Run the browser without a window")
	cmd.Flags().BoolVar(&opts.keepBrowser, "keep-browser", false,
		"Leave the browser running after the run")
	cmd.Flags().BoolVarP(&opts.debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}
