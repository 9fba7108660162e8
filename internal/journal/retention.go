package journal

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard 5-field expressions plus descriptors
// (@hourly, @daily).
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// runDirPattern matches directory names produced by DirName.
var runDirPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}Z$`)

// Sweeper prunes run directories older than the retention window on a cron
// schedule. A zero retention disables pruning entirely.
type Sweeper struct {
	root      string
	retention time.Duration
	schedule  string
	index     *Index
	logger    *slog.Logger
	cron      *cron.Cron
}

// NewSweeper builds a sweeper over the runs root. index may be nil when the
// caller keeps no run index.
func NewSweeper(root string, retention time.Duration, schedule string, index *Index, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if schedule == "" {
		schedule = "@hourly"
	}
	return &Sweeper{
		root:      root,
		retention: retention,
		schedule:  schedule,
		index:     index,
		logger:    logger,
	}
}

// Start schedules the sweep job. It returns immediately; the job stops when
// ctx is cancelled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	if s.retention <= 0 {
		s.logger.Debug("run retention disabled")
		return nil
	}

	schedule, err := cronParser.Parse(s.schedule)
	if err != nil {
		return err
	}

	s.cron = cron.New(cron.WithParser(cronParser))
	s.cron.Schedule(schedule, cron.FuncJob(func() {
		if n := s.Sweep(ctx); n > 0 {
			s.logger.Info("run retention sweep completed", "pruned", n)
		}
	}))
	s.cron.Start()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("run retention sweeper started",
		"retention", s.retention, "schedule", s.schedule)
	return nil
}

// Stop halts the cron scheduler without waiting for a running sweep.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// Sweep removes run directories older than the retention window and returns
// how many were pruned. Only directories matching the run naming scheme are
// touched.
func (s *Sweeper) Sweep(ctx context.Context) int {
	cutoff := time.Now().Add(-s.retention)

	entries, err := os.ReadDir(s.root)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("retention sweep: read runs root", "error", err)
		}
		return 0
	}

	pruned := 0
	for _, entry := range entries {
		if !entry.IsDir() || !runDirPattern.MatchString(entry.Name()) {
			continue
		}
		startedAt, err := time.Parse(time.RFC3339, restoreColons(entry.Name()))
		if err != nil || !startedAt.Before(cutoff) {
			continue
		}
		path := filepath.Join(s.root, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			s.logger.Warn("retention sweep: remove run dir", "dir", path, "error", err)
			continue
		}
		pruned++
	}

	if s.index != nil {
		if _, err := s.index.DeleteOlderThan(ctx, cutoff); err != nil {
			s.logger.Warn("retention sweep: prune index", "error", err)
		}
	}
	return pruned
}

// restoreColons maps a run directory name back to its RFC3339 timestamp.
func restoreColons(name string) string {
	// 2026-08-25T12-30-05Z -> 2026-08-25T12:30:05Z
	if len(name) < 20 {
		return name
	}
	b := []byte(name)
	b[13] = ':'
	b[16] = ':'
	return string(b)
}
