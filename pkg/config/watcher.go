package config

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce is how long the watcher waits for a burst of file events
// to settle before reloading.
const DefaultDebounce = 500 * time.Millisecond

// ReloadFunc receives the files that changed since the previous reload.
type ReloadFunc func(changed []string)

// Watcher reports changes to profile and template files.
type Watcher struct {
	logger   zerolog.Logger
	debounce time.Duration
	watcher  *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
	done    chan struct{}
}

// NewWatcher creates a watcher. A non-positive debounce uses DefaultDebounce.
func NewWatcher(logger zerolog.Logger, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		logger:   logger.With().Str("component", "config-watcher").Logger(),
		debounce: debounce,
		pending:  make(map[string]struct{}),
		done:     make(chan struct{}),
	}
}

// Watch starts watching paths, files or directories, and calls reload after
// each debounced burst of writes to loadable files. It returns once the
// watches are registered; events are processed until ctx is done. Wait
// blocks until processing has stopped.
func (w *Watcher) Watch(ctx context.Context, paths []string, reload ReloadFunc) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	added := 0
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			w.logger.Warn().Err(err).Str("path", path).Msg("Failed to stat path for watching")
			continue
		}
		if err := watcher.Add(path); err != nil {
			w.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch path")
			continue
		}
		added++
	}
	if added == 0 {
		_ = watcher.Close()
		return fmt.Errorf("no watchable paths in %v", paths)
	}

	w.watcher = watcher
	go w.processEvents(ctx, reload)

	w.logger.Info().Int("paths", added).Msg("Started watching configuration")
	return nil
}

// Wait blocks until the event loop has exited.
func (w *Watcher) Wait() {
	<-w.done
}

func (w *Watcher) processEvents(ctx context.Context, reload ReloadFunc) {
	defer close(w.done)
	defer func() {
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		_ = w.watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 || !IsConfigFile(event.Name) {
				continue
			}
			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Configuration file changed")
			w.schedule(event.Name, reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) schedule(name string, reload ReloadFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[name] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		changed := make([]string, 0, len(w.pending))
		for f := range w.pending {
			changed = append(changed, f)
		}
		w.pending = make(map[string]struct{})
		w.mu.Unlock()

		sort.Strings(changed)
		reload(changed)
	})
}
