package config

import (
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the configuration from the environment whenever a sentinel
// file changes, without restarting the process. Each reload rebuilds the
// whole Config via Load, Database and RPC sections included, and hands it to
// onLoad, which decides which fields to apply.
type Watcher struct {
	watcher *fsnotify.Watcher
	logger  *zap.Logger
	onLoad  func(*Config)
}

// NewWatcher starts watching path for writes; each write triggers a fresh
// Load() and invokes onLoad with the result. Callers own stopping the
// watcher by calling Close.
func NewWatcher(path string, logger *zap.Logger, onLoad func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, err
	}
	watcher := &Watcher{watcher: w, logger: logger, onLoad: onLoad}
	go watcher.run()
	return watcher, nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load()
			if err != nil {
				w.logger.Warn("config reload failed", zap.Error(err))
				continue
			}
			w.logger.Info("config reloaded", zap.String("path", event.Name))
			w.onLoad(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
