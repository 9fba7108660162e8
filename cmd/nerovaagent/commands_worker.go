package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Worker Command
// =============================================================================

// workerOptions carries the worker command's flags into the handler.
type workerOptions struct {
	configPath string
	serverURL  string
	agentID    string
	chromePath string
	debugURL   string
	profileDir string
	debug      bool

	headless           bool
	headlessChanged    bool
	keepBrowser        bool
	keepBrowserChanged bool
}

// buildWorkerCmd creates the "worker" command that attaches a browser worker
// to a running daemon.
func buildWorkerCmd() *cobra.Command {
	var opts workerOptions

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Attach a browser worker to a nerovaagent server",
		Long: `Run a browser worker.

The worker owns one Chrome instance and connects to the server's agent
websocket. It executes the browser commands runs dispatch to it
(navigation, screenshots, clicks, typing, DOM extraction) and reconnects
automatically when the connection drops.`,
		Example: `  # Attach to a local server
  nerovaagent worker

  # Attach to a remote server, headless, with a stable identity
  nerovaagent worker --server http://brain-host:3001 --id rack7-chrome --headless

  # Drive an already-running Chrome via its debug port
  nerovaagent worker --debug-url http://127.0.0.1:9222`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.configPath = resolveConfigPath(opts.configPath)
			opts.headlessChanged = cmd.Flags().Changed("headless")
			opts.keepBrowserChanged = cmd.Flags().Changed("keep-browser")
			return runWorker(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "",
		"Path to configuration file (YAML, JSON, or JSON5)")
	cmd.Flags().StringVar(&opts.serverURL, "server", defaultServerURL,
		"Server base URL or agent websocket URL")
	cmd.Flags().StringVar(&opts.agentID, "id", "",
		"Requested agent identity (the server may assign another)")
	cmd.Flags().StringVar(&opts.chromePath, "chrome", "",
		"Chrome binary path (empty uses discovery)")
	cmd.Flags().StringVar(&opts.debugURL, "debug-url", "",
		"Attach to a running Chrome via its CDP debug URL instead of launching")
	cmd.Flags().StringVar(&opts.profileDir, "profile-dir", "",
		"Browser profile directory (default ~/.nerovaagent/browser)")
	cmd.Flags().BoolVar(&opts.headless, "headless", false,
		"Run the browser without a window")
	cmd.Flags().BoolVar(&opts.keepBrowser, "keep-browser", false,
		"Leave the browser running when the worker exits")
	cmd.Flags().BoolVarP(&opts.debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}
