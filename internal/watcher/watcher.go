// Package watcher turns filesystem activity under the library roots into
// debounced re-import triggers.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// Options configures a Watcher
type Options struct {
	Roots          []string
	DebounceMs     int
	IgnorePatterns []string
	// Relevant reports whether a changed file can affect the catalog.
	// A nil func accepts every file.
	Relevant func(path string) bool
}

// Watcher monitors a set of root directories
type Watcher struct {
	roots     []string
	watcher   *fsnotify.Watcher
	debouncer *Debouncer
	ignore    []string
	relevant  func(string) bool
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// New creates a watcher over every root in opts
func New(opts Options) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	roots := make([]string, 0, len(opts.Roots))
	for _, r := range opts.Roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			fsWatcher.Close()
			return nil, err
		}
		roots = append(roots, abs)
	}

	relevant := opts.Relevant
	if relevant == nil {
		relevant = func(string) bool { return true }
	}

	return &Watcher{
		roots:     roots,
		watcher:   fsWatcher,
		debouncer: NewDebouncer(opts.DebounceMs),
		ignore:    opts.IgnorePatterns,
		relevant:  relevant,
		stopCh:    make(chan struct{}),
	}, nil
}

// Start registers every directory under the roots and begins processing
func (w *Watcher) Start(ctx context.Context) error {
	for _, root := range w.roots {
		if err := w.addRecursive(root); err != nil {
			return err
		}
	}

	go w.processEvents(ctx)

	slog.Info("watcher started",
		"roots", len(w.roots),
		"ignore_patterns", len(w.ignore))

	return nil
}

// Batches returns the channel of debounced change batches
func (w *Watcher) Batches() <-chan Batch {
	return w.debouncer.Batches()
}

// Stop stops the watcher
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.debouncer.Stop()
		err = w.watcher.Close()
	})
	return err
}

// Flush releases pending changes immediately
func (w *Watcher) Flush() {
	w.debouncer.Flush()
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Warn("error walking path", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.isIgnored(path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			slog.Warn("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.isIgnored(event.Name) {
				continue
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	info, statErr := os.Stat(event.Name)
	isDir := statErr == nil && info.IsDir()

	switch {
	case event.Has(fsnotify.Create):
		if isDir {
			// files copied in with the directory produce no events of their own
			if err := w.addRecursive(event.Name); err != nil {
				slog.Warn("failed to add new directory", "path", event.Name, "error", err)
			}
			w.debouncer.Add(event.Name, ChangeCreate)
			return
		}
		if w.relevant(event.Name) {
			w.debouncer.Add(event.Name, ChangeCreate)
		}

	case event.Has(fsnotify.Write):
		if !isDir && w.relevant(event.Name) {
			w.debouncer.Add(event.Name, ChangeModify)
		}

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// the path is gone, so anything without an extension may have been a directory
		if filepath.Ext(event.Name) == "" || w.relevant(event.Name) {
			w.debouncer.Add(event.Name, ChangeDelete)
		}
	}
}

// isIgnored matches patterns against the path relative to its root and
// against every parent directory of it
func (w *Watcher) isIgnored(path string) bool {
	if len(w.ignore) == 0 {
		return false
	}
	rel, ok := w.relative(path)
	if !ok || rel == "." {
		return false
	}

	parts := strings.Split(rel, "/")
	for _, pattern := range w.ignore {
		for i := 1; i <= len(parts); i++ {
			if matched, err := doublestar.Match(pattern, strings.Join(parts[:i], "/")); err == nil && matched {
				return true
			}
		}
	}
	return false
}

func (w *Watcher) relative(path string) (string, bool) {
	for _, root := range w.roots {
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return filepath.ToSlash(rel), true
	}
	return "", false
}
