// Package watcher wraps an fsnotify source, classifying filesystem
// events into the three kinds spec §4.4 defines (mutated, removed,
// other) and filtering to the configured source extension. It does not
// coalesce; that's internal/batch's job.
//
// Grounded on ppiankov-chainwatch/internal/daemon/watcher.go's
// InboxWatcher, which wraps fsnotify.Watcher the same way (one watcher
// per directory tree, fsnotify.Op bits mapped to a small domain enum)
// before handing events to its own debounce layer.
package watcher

import (
	"context"
	"io/fs"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/ppiankov/discoveryd/internal/metadata"
)

// Kind classifies a filesystem event (spec §4.4).
type Kind int

const (
	Mutated Kind = iota // create or modify
	Removed
	Other // ignored by the caller
)

// Event is one classified filesystem event.
type Event struct {
	Path string
	Kind Kind
}

// Watcher wraps fsnotify over a fixed set of root directories.
type Watcher struct {
	fs     *fsnotify.Watcher
	ext    string
	log    zerolog.Logger
	Events chan Event
}

// New creates a Watcher recursively registered on every root. ext is the
// source extension events are filtered to (e.g. ".php").
func New(roots []string, ext string, log zerolog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{fs: fw, ext: ext, log: log, Events: make(chan Event, 256)}

	for _, root := range roots {
		if err := w.addRecursive(root); err != nil {
			fw.Close()
			return nil, err
		}
	}

	return w, nil
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			_ = w.fs.Add(path)
		}
		return nil
	})
}

// Run drains the underlying fsnotify channel, classifies each event, and
// forwards mutated/removed events to Events until ctx is cancelled or
// the source closes (spec §4.4 "infinite stream of classified events").
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.Events)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.dispatch(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("watcher error")
		}
	}
}

func (w *Watcher) dispatch(ev fsnotify.Event) {
	kind := classify(ev)
	if kind == Other {
		return
	}
	if filepath.Ext(ev.Name) != w.ext {
		return
	}
	// Canonicalise so downstream batch/cache/manifest keys agree with
	// the scanner's Class.File regardless of symlinks in the watched
	// roots (spec §3 "file" contract).
	path := metadata.CanonicalFile(ev.Name)
	select {
	case w.Events <- Event{Path: path, Kind: kind}:
	default:
		w.log.Warn().Str("file", path).Msg("watcher event channel full, dropping event")
	}
}

func classify(ev fsnotify.Event) Kind {
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		return Removed
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		return Mutated
	default:
		return Other
	}
}

// Close releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fs.Close()
}
