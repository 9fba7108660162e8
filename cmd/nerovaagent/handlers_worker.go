package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os/signal"
	"strings"
	"syscall"

	"github.com/NerovaAutomation/nerovaagent-sub000/internal/config"
	"github.com/NerovaAutomation/nerovaagent-sub000/internal/observability"
	"github.com/NerovaAutomation/nerovaagent-sub000/internal/worker"
)

// =============================================================================
// Worker Command Handler
// =============================================================================

// runWorker launches Chrome and serves driver commands until a signal stops
// it.
func runWorker(ctx context.Context, opts workerOptions) error {
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

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	slog.SetDefault(logger)

	socketURL, err := agentSocketURL(opts.serverURL)
	if err != nil {
		return err
	}
	profileDir := opts.profileDir
	if profileDir == "" {
		profileDir = cfg.ProfileDir()
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	engine := worker.NewEngine(worker.EngineConfig{
		Headless:    cfg.Agent.Headless,
		KeepBrowser: cfg.Agent.KeepBrowser,
		ProfileDir:  profileDir,
		ChromePath:  opts.chromePath,
		DebugURL:    opts.debugURL,
		BootURL:     cfg.Agent.BootURL,
	}, logger)
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer engine.Stop()

	logger.Info("worker starting",
		"server", socketURL,
		"agent_id", opts.agentID,
		"headless", cfg.Agent.Headless,
		"profile_dir", profileDir,
	)

	client := worker.NewClient(worker.Config{
		ServerURL: socketURL,
		AgentID:   opts.agentID,
	}, engine, logger)
	if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("worker stopped")
	return nil
}

// agentSocketURL turns a server base URL into the agent websocket endpoint.
// Full websocket URLs pass through with only the scheme normalized.
func agentSocketURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("server url %q has no host", raw)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/v1/agent/ws"
	}
	return u.String(), nil
}
