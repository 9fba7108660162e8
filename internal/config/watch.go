package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config file whenever it changes on disk and invokes
// onReload with the freshly loaded configuration. Reload failures are logged
// and the previous configuration stays in effect. Watch returns once the
// watcher is installed; it stops when ctx is cancelled.
func Watch(ctx context.Context, path string, logger *slog.Logger, onReload func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// Watch the directory: editors replace files by rename, which drops a
	// watch installed on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return err
	}

	target, err := filepath.Abs(path)
	if err != nil {
		target = path
	}

	go func() {
		defer watcher.Close()

		var mu sync.Mutex
		var timer *time.Timer
		scheduleReload := func() {
			mu.Lock()
			defer mu.Unlock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(250*time.Millisecond, func() {
				cfg, err := Load(path)
				if err != nil {
					logger.Warn("config reload failed", "path", path, "error", err)
					return
				}
				logger.Info("config reloaded", "path", path)
				onReload(cfg)
			})
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				abs, err := filepath.Abs(event.Name)
				if err != nil || abs != target {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
					scheduleReload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", "error", err)
			}
		}
	}()

	return nil
}
