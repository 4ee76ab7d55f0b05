package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay collapses the burst of events editors and atomic saves
// produce into a single reload.
const debounceDelay = 500 * time.Millisecond

// Watch reloads the settings document whenever the file changes on disk.
// The parent directory is watched rather than the file itself so that
// rename-over saves (our own atomic writes included) keep being observed.
// Watch blocks until ctx is cancelled.
func (s *SettingsStore) Watch(ctx context.Context, log *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	log.Info("watching settings file", "path", s.path)

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info("settings watcher stopped")
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, func() {
				if err := s.Load(); err != nil {
					log.Error("settings reload failed", "error", err)
					return
				}
				log.Info("settings reloaded", "path", s.path)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("settings watcher error", "error", err)
		}
	}
}
