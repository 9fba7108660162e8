package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/NerovaAutomation/nerovaagent-sub000/internal/brain"
	"github.com/NerovaAutomation/nerovaagent-sub000/internal/config"
	"github.com/NerovaAutomation/nerovaagent-sub000/internal/driver"
	"github.com/NerovaAutomation/nerovaagent-sub000/internal/loop"
	"github.com/NerovaAutomation/nerovaagent-sub000/internal/observability"
	"github.com/NerovaAutomation/nerovaagent-sub000/internal/worker"
	"github.com/NerovaAutomation/nerovaagent-sub000/pkg/models"
)

// =============================================================================
// Run Command Handler
// =============================================================================

// runRun executes one goal run with an in-process browser worker and a
// loopback control plane.
func runRun(cmd *cobra.Command, opts runOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.debug {
		cfg.Logging.Level = "debug"
	}
	if opts.headlessChanged {
		cfg.Agent.Headless = opts.headless
	}
	if opts.keepBrowserChanged {
		cfg.Agent.KeepBrowser = opts.keepBrowser
	}
	if opts.brainURL != "" {
		cfg.Server.BrainURL = opts.brainURL
	}
	resolveKeys(cfg)

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: "text",
	})
	slog.SetDefault(logger)

	if cfg.Server.BrainURL == "" {
		if _, err := cfg.ResolveCriticKey(""); err != nil {
			return fmt.Errorf("the embedded brain needs a Critic key (critic.api_key or CRITIC_OPENAI_KEY): %w", err)
		}
	}

	// A private registry keeps repeated in-process invocations (tests) from
	// colliding on metric registration.
	metrics := observability.NewMetricsWith(prometheus.NewRegistry())

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Private control plane on a loopback port: the worker socket, the run
	// control endpoints, and the embedded brain unless a remote one is set.
	serverCfg := *cfg
	serverCfg.Server.Host = "127.0.0.1"
	serverCfg.Server.Port = 0
	pool := driver.NewPool(logger, metrics)
	server := brain.NewServer(&serverCfg, logger, metrics, brain.WithPool(pool))
	if err := server.Start(ctx); err != nil {
		return err
	}
	defer server.Shutdown(nil)

	brainURL := cfg.Server.BrainURL
	if brainURL == "" {
		brainURL = "http://" + server.Addr()
	}
	client := brain.NewClient(brainURL)
	if err := client.WaitReady(ctx, 5*time.Second); err != nil {
		return fmt.Errorf("brain not reachable at %s: %w", client.BaseURL(), err)
	}

	engine := worker.NewEngine(worker.EngineConfig{
		Headless:    cfg.Agent.Headless,
		KeepBrowser: cfg.Agent.KeepBrowser,
		ProfileDir:  cfg.ProfileDir(),
	}, logger)
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer engine.Stop()

	workerClient := worker.NewClient(worker.Config{
		ServerURL: "ws://" + server.Addr() + "/v1/agent/ws",
		AgentID:   "local",
	}, engine, logger)
	go func() {
		if err := workerClient.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("worker stopped", "error", err)
		}
	}()
	if err := awaitAgent(ctx, pool, 15*time.Second); err != nil {
		return err
	}

	index, err := openRunIndex(cfg)
	if err != nil {
		logger.Warn("run index unavailable", "error", err)
	} else {
		defer index.Close()
	}

	runner := loop.NewRunner(cfg, logger, metrics, client,
		loop.WithPool(pool),
		loop.WithIndex(index),
	)
	server.SetRunControl(runner.Supervisor())

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "[nerovaagent] run control at http://%s (pause/context/abort)\n", server.Addr())

	summary, err := runner.Run(ctx, loop.RunRequest{
		Prompt:       opts.prompt,
		ContextNotes: opts.contexts,
		BootURL:      opts.bootURL,
		MaxSteps:     opts.maxSteps,
	})
	if err != nil {
		return err
	}

	if summary.Error == models.CodeMaxStepsReached {
		fmt.Fprintf(out, "[nerovaagent] run completed after %d iterations\n", summary.Iterations)
	}
	fmt.Fprintf(out, "[nerovaagent] run finished with status %s\n", summary.Status)
	fmt.Fprintf(out, "[nerovaagent] artifacts: %s\n", summary.ArtifactDir)

	switch summary.Status {
	case models.RunStatusError:
		return fmt.Errorf("run failed: %s", summary.Error)
	case models.RunStatusAborted:
		return fmt.Errorf("run aborted")
	}
	return nil
}

// awaitAgent waits for the in-process worker to register with the pool.
func awaitAgent(ctx context.Context, pool *driver.Pool, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if len(pool.Agents()) > 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("browser worker did not register within %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}
