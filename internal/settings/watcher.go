// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package settings

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce coalesces bursts of writes to the settings file.
const DefaultWatchDebounce = 200 * time.Millisecond

// =============================================================================
// FSNOTIFY WATCHER
// =============================================================================

// Watcher reloads a Store when its backing file is changed by another
// process. Only the file storage backend has a file to watch.
type Watcher struct {
	store    *Store
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	onReload func(Snapshot)

	mu      sync.Mutex
	pending time.Time
}

// NewWatcher creates a watcher for the settings record at path. onReload may
// be nil.
func NewWatcher(store *Store, path string, debounce time.Duration, onReload func(Snapshot)) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory: atomic writes replace the file by rename.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	return &Watcher{
		store:    store,
		path:     filepath.Clean(path),
		debounce: debounce,
		watcher:  fw,
		onReload: onReload,
	}, nil
}

// Run processes events until ctx is done, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.mu.Lock()
				w.pending = time.Now()
				w.mu.Unlock()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.store.logger.Warn("settings watcher error", "error", err)

		case <-ticker.C:
			w.flush()
		}
	}
}

// flush reloads once the file has been quiet for the debounce interval.
func (w *Watcher) flush() {
	w.mu.Lock()
	if w.pending.IsZero() || time.Since(w.pending) < w.debounce {
		w.mu.Unlock()
		return
	}
	w.pending = time.Time{}
	w.mu.Unlock()

	w.store.Load()
	w.store.logger.Info("settings reloaded from disk", "path", w.path)
	if w.onReload != nil {
		w.onReload(w.store.Snapshot())
	}
}

// Watch is a convenience wrapper that builds a Watcher and runs it.
func (s *Store) Watch(ctx context.Context, path string, onReload func(Snapshot)) error {
	w, err := NewWatcher(s, path, DefaultWatchDebounce, onReload)
	if err != nil {
		return err
	}
	return w.Run(ctx)
}
