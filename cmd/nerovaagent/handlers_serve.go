package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/NerovaAutomation/nerovaagent-sub000/internal/brain"
	"github.com/NerovaAutomation/nerovaagent-sub000/internal/config"
	"github.com/NerovaAutomation/nerovaagent-sub000/internal/driver"
	"github.com/NerovaAutomation/nerovaagent-sub000/internal/journal"
	"github.com/NerovaAutomation/nerovaagent-sub000/internal/loop"
	"github.com/NerovaAutomation/nerovaagent-sub000/internal/observability"
	"github.com/NerovaAutomation/nerovaagent-sub000/pkg/models"
)

// =============================================================================
// Serve Command Handler
// =============================================================================

// runServe hosts the brain API, the worker pool, and the run launcher in one
// process, then blocks until a shutdown signal arrives.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	resolveKeys(cfg)

	// The level var lets config reloads retune verbosity without rebuilding
	// the handler chain.
	levelVar := new(slog.LevelVar)
	logger := observability.NewLogger(observability.LogConfig{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		LevelVar: levelVar,
	})
	slog.SetDefault(logger)

	logger.Info("starting nerovaagent",
		"version", version,
		"commit", commit,
		"config", configPath,
		"debug", debug,
	)

	metrics := observability.NewMetrics()
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "nerovaagent",
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SampleRate,
		EnableInsecure: cfg.Tracing.Insecure,
	})
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool := driver.NewPool(logger, metrics)
	pool.SetTracer(tracer)

	index, err := openRunIndex(cfg)
	if err != nil {
		logger.Warn("run index unavailable, runs will not be listed", "error", err)
	} else {
		defer index.Close()
	}

	server := brain.NewServer(cfg, logger, metrics,
		brain.WithPool(pool),
		brain.WithTracer(tracer),
	)
	if err := server.Start(ctx); err != nil {
		return err
	}

	// The control loop reaches the brain over HTTP even in-process, so a
	// remote brain behaves identically to the embedded one.
	brainURL := cfg.Server.BrainURL
	if brainURL == "" {
		brainURL = "http://" + loopbackAddr(server.Addr())
	}
	runner := loop.NewRunner(cfg, logger, metrics, brain.NewClient(brainURL),
		loop.WithPool(pool),
		loop.WithIndex(index),
		loop.WithTracer(tracer),
		loop.WithParkOnAssistance(true),
	)
	server.SetRunControl(runner.Supervisor())
	server.SetRunLauncher(newRunLauncher(ctx, runner, pool, logger))

	sweeper := journal.NewSweeper(cfg.RunsDir(), cfg.Journal.Retention, cfg.Journal.Sweep, index, logger)
	if err := sweeper.Start(ctx); err != nil {
		logger.Warn("retention sweeper disabled", "error", err)
	}

	// Config changes retune the live-adjustable settings: log level and the
	// retention sweeper. Structural settings (ports, pool) need a restart.
	if configPath != "" {
		var reloadMu sync.Mutex
		journalCfg := cfg.Journal
		reload := func(next *config.Config) {
			levelVar.Set(observability.ParseLevel(next.Logging.Level))

			reloadMu.Lock()
			defer reloadMu.Unlock()
			if next.Journal == journalCfg {
				return
			}
			journalCfg = next.Journal
			sweeper.Stop()
			sweeper = journal.NewSweeper(next.RunsDir(), next.Journal.Retention, next.Journal.Sweep, index, logger)
			if err := sweeper.Start(ctx); err != nil {
				logger.Warn("retention sweeper disabled", "error", err)
			}
		}
		if err := config.Watch(ctx, configPath, logger, reload); err != nil {
			logger.Warn("config watch unavailable", "path", configPath, "error", err)
		}
	}

	logger.Info("nerovaagent serving",
		"addr", server.Addr(),
		"brain", brainURL,
		"runs_dir", cfg.RunsDir(),
	)

	<-ctx.Done()
	logger.Info("shutdown signal received, draining")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)

	logger.Info("nerovaagent stopped")
	return nil
}

// resolveKeys folds the environment key chains into the config once, so the
// brain handlers see them; per-request key overrides still win.
func resolveKeys(cfg *config.Config) {
	if key, err := cfg.ResolveCriticKey(""); err == nil {
		cfg.Critic.APIKey = key
	}
	if key, err := cfg.ResolveAssistantKey(""); err == nil {
		cfg.Assistant.APIKey = key
	}
}

// loopbackAddr rewrites wildcard listen addresses into dialable loopback.
func loopbackAddr(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

// =============================================================================
// Run Launcher
// =============================================================================

// runLauncher executes /v1/run/start requests, one run at a time. Pause and
// context signals are process-global, so concurrent runs would fight over
// the supervisor.
type runLauncher struct {
	runner *loop.Runner
	pool   *driver.Pool
	logger *slog.Logger

	// base outlives the HTTP request that starts the run.
	base context.Context

	mu     sync.Mutex
	active *brain.RunStatusInfo
}

func newRunLauncher(base context.Context, runner *loop.Runner, pool *driver.Pool, logger *slog.Logger) *runLauncher {
	if logger == nil {
		logger = slog.Default()
	}
	return &runLauncher{base: base, runner: runner, pool: pool, logger: logger}
}

// StartRun begins a run in the background and reports its pre-assigned id.
func (l *runLauncher) StartRun(req brain.StartRunRequest) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active != nil {
		return "", models.NewError(models.CodeRunActive)
	}
	if l.pool != nil && len(l.pool.Agents()) == 0 {
		return "", models.NewError(models.CodeAgentUnavailable)
	}

	runID := uuid.NewString()
	l.active = &brain.RunStatusInfo{RunID: runID, Goal: req.Prompt, StartedAt: time.Now()}

	go func() {
		defer func() {
			l.mu.Lock()
			l.active = nil
			l.mu.Unlock()
		}()
		_, err := l.runner.Run(l.base, loop.RunRequest{
			RunID:        runID,
			Prompt:       req.Prompt,
			ContextNotes: req.ContextNotes,
			BootURL:      req.BootURL,
			MaxSteps:     req.MaxSteps,
			AgentID:      req.AgentID,
			CriticKey:    req.CriticKey,
			AssistantKey: req.AssistantKey,
			AssistantID:  req.AssistantID,
			Model:        req.Model,
		})
		if err != nil {
			l.logger.Error("run failed", "runId", runID, "error", err)
		}
	}()

	return runID, nil
}

// RunStatus reports the in-flight run, if any.
func (l *runLauncher) RunStatus() (brain.RunStatusInfo, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active == nil {
		return brain.RunStatusInfo{}, false
	}
	info := *l.active
	info.Paused = l.runner.Supervisor().Paused()
	return info, true
}
