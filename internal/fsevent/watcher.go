package fsevent

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher recursively watches a project root and emits classified Events
// until its Run context is cancelled.
type Watcher struct {
	inner  *fsnotify.Watcher
	root   string
	ignore []string
	clock  *Clock
	events chan Event
}

// NewWatcher creates a Watcher rooted at root, recursively adding every
// directory not matched by ignore.
func NewWatcher(root string, ignore []string) (*Watcher, error) {
	inner, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	w := &Watcher{
		inner:  inner,
		root:   root,
		ignore: ignore,
		clock:  NewClock(),
		events: make(chan Event, 64),
	}
	if err := w.addDirs(root); err != nil {
		inner.Close()
		return nil, fmt.Errorf("watching %s: %w", root, err)
	}
	return w, nil
}

func (w *Watcher) addDirs(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && matches(w.ignore, path) {
			return filepath.SkipDir
		}
		if err := w.inner.Add(path); err != nil {
			slog.Debug("fsevent: cannot watch directory", "path", path, "err", err)
		}
		return nil
	})
}

// Events returns the channel of classified Events. It is closed once Run
// returns.
func (w *Watcher) Events() <-chan Event { return w.events }

// Run drains the underlying fsnotify watcher until ctx is cancelled,
// classifying and forwarding each event onto Events(). Newly created
// directories are added to the watch set as they appear.
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.events)
	defer w.inner.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-w.inner.Events:
			if !ok {
				return
			}
			isDir := false
			if info, err := os.Stat(raw.Name); err == nil {
				isDir = info.IsDir()
			}
			ev, ok := ClassifyDir(raw, w.root, w.ignore, w.clock, time.Now(), isDir)
			if !ok {
				continue
			}
			if ev.Kind == KindFolderCreated {
				if err := w.inner.Add(raw.Name); err != nil {
					slog.Debug("fsevent: cannot watch new directory", "path", raw.Name, "err", err)
				}
			}
			select {
			case w.events <- ev:
			case <-ctx.Done():
				return
			}
		case err, ok := <-w.inner.Errors:
			if !ok {
				return
			}
			slog.Warn("fsevent watcher error", "err", err)
		}
	}
}
