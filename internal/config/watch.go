package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay coalesces the burst of events editors produce for one save.
const reloadDelay = 200 * time.Millisecond

// Watch reloads the config file at path whenever it changes and passes
// each successfully validated config to onChange. Invalid edits are logged
// and skipped. Watch blocks until ctx is cancelled.
//
// The parent directory is watched rather than the file itself so that
// atomic saves (write temp file, rename over) are picked up.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	slog.Debug("[config] watching for changes", "path", path)

	name := filepath.Clean(path)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDelay)
			} else {
				timer.Reset(reloadDelay)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			cfg, err := Load(path)
			if err != nil {
				slog.Warn("[config] reload failed", "path", path, "error", err)
				continue
			}
			if err := cfg.Validate(); err != nil {
				slog.Warn("[config] ignoring invalid config", "path", path, "error", err)
				continue
			}
			slog.Info("[config] reloaded", "path", path)
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("[config] watcher error", "error", err)
		}
	}
}
