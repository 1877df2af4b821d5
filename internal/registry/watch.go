package registry

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchSettle coalesces bursts of events (editors write, chmod and rename
// in quick succession) into one reload.
const watchSettle = 250 * time.Millisecond

// Watch reloads the registry whenever the station file at path is written,
// created or replaced by another process, then calls onReload (if non-nil)
// with the result of the reload. It watches the parent directory because
// atomic saves replace the file's inode. Watch returns once the watcher is
// installed; it stops when ctx is cancelled.
func (r *Registry) Watch(ctx context.Context, path string, onReload func(error)) error {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("resolve stations path %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	go r.watchLoop(ctx, watcher, abs, onReload)
	slog.Info("watching station file", "path", abs)
	return nil
}

func (r *Registry) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string, onReload func(error)) {
	defer watcher.Close()

	timer := time.NewTimer(watchSettle)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path || !isFileChange(event) {
				continue
			}
			timer.Reset(watchSettle)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("station file watcher error", "err", err)

		case <-timer.C:
			// Reload logs its own failure and resets to empty.
			err := r.Reload(ctx)
			if onReload != nil {
				onReload(err)
			}
		}
	}
}

func isFileChange(event fsnotify.Event) bool {
	return event.Has(fsnotify.Write) ||
		event.Has(fsnotify.Create) ||
		event.Has(fsnotify.Rename) ||
		event.Has(fsnotify.Remove)
}
