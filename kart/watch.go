package kart

import (
	"context"
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// dirFetcher is implemented by fetchers backed by a real OS directory
// (GoGitFetcher); Watch needs this to hand a path to fsnotify.
type dirFetcher interface {
	Dir() string
}

// Watch watches the repository's working tree for filesystem changes and
// invalidates the in-memory cache (including the spatial index and
// GeoJSON materialization) of any loaded dataset whose directory was
// touched, so the next Get reloads it from disk. A single watcher
// goroutine runs until ctx is cancelled.
//
// Only the working tree's root directory is watched; fsnotify watches
// are not recursive. Events arrive for entries directly under the root
// (a dataset directory being created, removed, renamed or having its
// attributes changed); edits to files nested inside a dataset directory
// produce no event and do not invalidate the dataset.
//
// Watch requires a Fetcher backed by a real OS directory (GoGitFetcher);
// it returns an error for fs.FS-only fetchers (e.g. OpenFS in tests),
// since fsnotify has no equivalent for an in-memory fs.FS.
func (r *Repository) Watch(ctx context.Context) error {
	df, ok := r.fetcher.(dirFetcher)
	if !ok {
		return fmt.Errorf("kart: watch: fetcher does not expose an OS directory")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("kart: watch: %w", err)
	}

	root := df.Dir()
	if err := watcher.Add(root); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("kart: watch: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				r.handleWatchEvent(root, ev)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("kart: watch error", "error", err)
			}
		}
	}()
	return nil
}

// handleWatchEvent maps a changed path back to the dataset directory it
// falls under (the first path segment below root) and invalidates it.
func (r *Repository) handleWatchEvent(root string, ev fsnotify.Event) {
	rel := strings.TrimPrefix(ev.Name, root)
	rel = strings.TrimPrefix(rel, "/")
	name, _, _ := strings.Cut(rel, "/")
	if name == "" {
		return
	}
	r.invalidate(name)
	r.logger.Debug("kart: invalidated dataset on change", "name", name, "event", ev.Op.String())
}
