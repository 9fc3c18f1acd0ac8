package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/seabase/kiwi-relay/logging"
)

// reloadDebounce coalesces the burst of events editors produce for one save.
const reloadDebounce = 200 * time.Millisecond

// Watcher reloads the config file when it changes and hands the new
// configuration to a callback. Only settings that can change without
// restarting listeners are expected to be applied by the callback.
type Watcher struct {
	logger logging.Logger
	path   string

	watcher *fsnotify.Watcher

	mu     sync.Mutex
	closed bool
}

// NewWatcher watches the directory containing path, so that editors that
// replace the file through a rename are still seen.
func NewWatcher(logger logging.Logger, path string) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	return &Watcher{
		logger:  logging.ForComponent(logger, logging.ComponentConfigWatcher),
		path:    filepath.Clean(path),
		watcher: watcher,
	}, nil
}

// Run blocks until ctx is done or the watcher is closed, calling apply with
// every configuration that loads and validates. Invalid edits are logged
// and the previous configuration stays in effect.
func (w *Watcher) Run(ctx context.Context, apply func(*Config)) {
	var debounce <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				debounce = time.After(reloadDebounce)
			}
		case <-debounce:
			debounce = nil
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.Warn().Err(err).Msg("config reload rejected")
				continue
			}
			w.logger.Info().Msg("config reloaded")
			apply(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("file watcher error")
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	return w.watcher.Close()
}
