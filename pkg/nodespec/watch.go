package nodespec

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the registry when manifests change on disk. Events are
// debounced so editors that write in several steps trigger one reload.
type Watcher struct {
	registry *Registry
	debounce time.Duration
	logger   *slog.Logger
}

// NewWatcher creates a hot-reload watcher for the registry's directory.
func NewWatcher(registry *Registry, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		registry: registry,
		debounce: debounce,
		logger:   logger.With("component", "manifest-watcher"),
	}
}

// Run watches until the context is canceled. Errors from the underlying
// watcher are logged, not fatal; a closed event stream ends the loop.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.registry.directory); err != nil {
		return fmt.Errorf("watch %s: %w", w.registry.directory, err)
	}

	w.logger.Info("watching manifest directory", "dir", w.registry.directory)

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("stopping manifest watcher")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}

			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) {
				continue
			}

			// New node type directories must be added to the watch before
			// their manifest write events can be seen.
			if event.Has(fsnotify.Create) {
				if err := watcher.Add(event.Name); err == nil {
					w.logger.Debug("watching new entry", "path", event.Name)
				}
			}

			if !strings.HasSuffix(event.Name, ".yaml") && !strings.HasSuffix(event.Name, ".yml") {
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) {
					continue
				}
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}

			debounceTimer = time.AfterFunc(w.debounce, func() {
				if err := w.registry.Reload(); err != nil {
					w.logger.Error("manifest reload failed", "error", err)
					return
				}
				w.logger.Info("manifests reloaded", "count", w.registry.Count())
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}
