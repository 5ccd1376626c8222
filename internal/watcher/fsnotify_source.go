package watcher

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// fsnotifySource adapts *fsnotify.Watcher to Source, translating raw
// fsnotify.Events (absolute paths, OS-specific op bitmasks) into the
// relative-path Event the contract layer expects. fsnotify reports
// renames as a Remove on the old name with no paired new name, so a
// rename surfaces here as Deleted; Watcher callers rely on the engine's
// Index/Diff pass to recognize the reappearance under the new name
// instead of a synthesized Renamed event.
type fsnotifySource struct {
	w        *fsnotify.Watcher
	syncRoot string

	events chan Event
	errors chan error
	done   chan struct{}
}

// NewFsnotifySource creates a Source backed by fsnotify, rooted at
// syncRoot. The caller is responsible for calling Add(syncRoot) before
// reading from Events(); Add registers every subdirectory beneath it,
// since fsnotify itself is not recursive.
func NewFsnotifySource(syncRoot string) (Source, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: creating fsnotify watcher: %w", err)
	}

	s := &fsnotifySource{
		w:        w,
		syncRoot: syncRoot,
		events:   make(chan Event, 256),
		errors:   make(chan error, 16),
		done:     make(chan struct{}),
	}

	go s.pump()

	return s, nil
}

// Add registers a watch on path and, if it is a directory, recursively on
// every subdirectory beneath it (fsnotify only watches one level).
func (s *fsnotifySource) Add(path string) error {
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if !d.IsDir() {
			return nil
		}

		return s.w.Add(p)
	})
}

func (s *fsnotifySource) Remove(path string) error {
	return s.w.Remove(path)
}

func (s *fsnotifySource) Close() error {
	close(s.done)
	return s.w.Close()
}

func (s *fsnotifySource) Events() <-chan Event { return s.events }
func (s *fsnotifySource) Errors() <-chan error { return s.errors }

func (s *fsnotifySource) pump() {
	defer close(s.events)
	defer close(s.errors)

	for {
		select {
		case <-s.done:
			return

		case raw, ok := <-s.w.Events:
			if !ok {
				return
			}

			ev, ok := s.translate(raw)
			if !ok {
				continue
			}

			// New directories need their own watch registered immediately,
			// before any children inside them can fire events.
			if ev.IsDirectory && ev.Kind == Created {
				if err := s.Add(raw.Name); err != nil {
					s.trySendErr(fmt.Errorf("watcher: adding watch on %s: %w", raw.Name, err))
				}
			}

			select {
			case s.events <- ev:
			case <-s.done:
				return
			}

		case err, ok := <-s.w.Errors:
			if !ok {
				return
			}

			s.trySendErr(err)
		}
	}
}

func (s *fsnotifySource) trySendErr(err error) {
	select {
	case s.errors <- err:
	default:
	}
}

// translate maps an fsnotify.Event to an Event with a sync-root-relative
// path. Pure Chmod events (permission-only changes) are dropped; they
// carry no content the engine needs to sync.
func (s *fsnotifySource) translate(raw fsnotify.Event) (Event, bool) {
	if raw.Has(fsnotify.Chmod) && !raw.Has(fsnotify.Create) && !raw.Has(fsnotify.Write) {
		return Event{}, false
	}

	rel, err := filepath.Rel(s.syncRoot, raw.Name)
	if err != nil {
		return Event{}, false
	}

	rel = filepath.ToSlash(rel)

	isDir := false
	if info, statErr := os.Stat(raw.Name); statErr == nil {
		isDir = info.IsDir()
	}

	switch {
	case raw.Has(fsnotify.Create):
		return Event{Path: rel, Kind: Created, IsDirectory: isDir}, true
	case raw.Has(fsnotify.Write):
		return Event{Path: rel, Kind: Modified, IsDirectory: isDir}, true
	case raw.Has(fsnotify.Remove), raw.Has(fsnotify.Rename):
		return Event{Path: rel, Kind: Deleted}, true
	default:
		return Event{}, false
	}
}
