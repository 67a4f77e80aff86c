package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
)

// Watch reloads the repository whenever its config file is written,
// created or renamed into place, and passes every valid result to
// onChange. Invalid reloads are logged and skipped, so the caller keeps
// its last good configuration. Watch blocks until ctx is done.
//
// The parent directory is watched rather than the file itself so editors
// that replace the file on save keep triggering reloads.
func Watch(ctx context.Context, repo *Repository, logger hclog.Logger, onChange func(*Config)) error {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	path := filepath.Clean(repo.Path())
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}
	logger.Debug("watching config file", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			cfg, err := repo.Load()
			if err != nil {
				logger.Warn("ignoring invalid config reload", "path", path, "error", err)
				continue
			}
			logger.Info("config reloaded", "path", path)
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", "error", err)
		}
	}
}
