package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// watchSettle coalesces the burst of events editors emit on save.
const watchSettle = 250 * time.Millisecond

// Watch reloads the config file whenever it changes and calls onReload
// with the new configuration. A file that fails to load or validate is
// logged and skipped; the previous configuration stays in effect.
//
// The parent directory is watched rather than the file itself, because
// most editors replace the file by rename and the original watch would
// be lost.
//
// Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, logger *log.Logger, onReload func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(path)

	var settle *time.Timer
	var settleC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if settle == nil {
				settle = time.NewTimer(watchSettle)
				settleC = settle.C
			} else {
				settle.Reset(watchSettle)
			}

		case <-settleC:
			settle = nil
			settleC = nil
			cfg, err := Load(path)
			if err != nil {
				logger.Error("config reload failed, keeping previous configuration",
					"path", path, "error", err)
				continue
			}
			logger.Info("configuration reloaded", "path", path, "origins", len(cfg.Origins))
			onReload(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", "error", err)
		}
	}
}
