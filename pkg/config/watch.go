package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// WatchLogLevel re-reads the config file whenever it changes and applies its log level to
// logger. Other settings need a restart. It returns when ctx is done.
//
// The directory is watched rather than the file so that editors and config-map updates that
// replace the file by rename are still seen.
func WatchLogLevel(ctx context.Context, path string, logger *observability.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	path = filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			reloadLogLevel(path, logger)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("config watcher error")
		}
	}
}

func reloadLogLevel(path string, logger *observability.Logger) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		logger.WithError(err).Warn("ignoring unreadable config file")
		return
	}
	level, err := observability.ParseLogLevel(cfg.Observability.LogLevel)
	if err != nil {
		logger.WithError(err).Warn("ignoring invalid log level")
		return
	}
	logger.SetLevel(level)
	logger.WithField("level", level.String()).Info("log level reloaded")
}
