// Package watch re-runs a sync when the upstream tree or the manifest changes.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/schaermu/aixsync/internal/snapshot"
	"github.com/schaermu/aixsync/internal/tree"
)

// DefaultDebounce collapses bursts of events (editors, git checkouts) into one run
const DefaultDebounce = 500 * time.Millisecond

// RunFunc performs one sync pass
type RunFunc func(ctx context.Context) error

// Watcher triggers a RunFunc for changes below a tree root and to one file
type Watcher struct {
	root     string
	file     string
	debounce time.Duration
	logger   *slog.Logger

	watcher     *fsnotify.Watcher
	fileHash    string
	treeTouched bool
}

// New creates a watcher for every directory below root and for file.
// Call Close when done.
func New(root, file string, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		root:     filepath.Clean(root),
		file:     filepath.Clean(file),
		debounce: debounce,
		logger:   logger,
		watcher:  fsw,
	}

	if err := w.addTree(w.root); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	// the file may be replaced atomically, so watch its directory instead
	if err := fsw.Add(filepath.Dir(w.file)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.file), err)
	}

	return w, nil
}

// Close releases the underlying watcher
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// Run calls run once, then again after every debounced change until ctx is
// done. Errors from run are logged and do not stop the loop.
func (w *Watcher) Run(ctx context.Context, run RunFunc) error {
	w.runOnce(ctx, run)

	// nil until a relevant event arms the debounce window
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("change detected", "path", event.Name, "op", event.Op.String())
			fire = time.After(w.debounce)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)

		case <-fire:
			fire = nil
			if !w.treeTouched && !w.fileChanged() {
				w.logger.Debug("ignoring manifest update written by the last run")
				continue
			}
			w.treeTouched = false
			w.runOnce(ctx, run)
		}
	}
}

func (w *Watcher) runOnce(ctx context.Context, run RunFunc) {
	if err := run(ctx); err != nil && ctx.Err() == nil {
		w.logger.Error("sync failed", "error", err)
	}
	w.fileHash = w.currentFileHash()
}

// relevant filters events to the watched tree and file, registering new
// directories as they appear
func (w *Watcher) relevant(event fsnotify.Event) bool {
	name := filepath.Clean(event.Name)

	if name == w.file {
		return !event.Has(fsnotify.Chmod)
	}

	if name != w.root && !isWithin(w.root, name) {
		return false
	}
	if event.Has(fsnotify.Chmod) {
		return false
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(name); err == nil && info.IsDir() {
			if err := w.addTree(name); err != nil {
				w.logger.Warn("failed to watch new directory", "path", name, "error", err)
			}
		}
	}

	w.treeTouched = true
	return true
}

func (w *Watcher) addTree(root string) error {
	dirs, err := tree.DiscoverDirs(root)
	if err != nil {
		return fmt.Errorf("failed to list directories below %s: %w", root, err)
	}
	for _, dir := range dirs {
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}
	return nil
}

// fileChanged reports whether the watched file differs from what the last run left behind
func (w *Watcher) fileChanged() bool {
	return w.currentFileHash() != w.fileHash
}

func (w *Watcher) currentFileHash() string {
	hash, err := snapshot.FileHash(w.file)
	if err != nil {
		return ""
	}
	return hash
}

func isWithin(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && filepath.IsLocal(rel)
}
