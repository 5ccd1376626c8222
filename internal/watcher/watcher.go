// Package watcher implements the debounce/coalesce/exclude contract the
// sync engine relies on. It wraps a pluggable raw event Source
// (one concrete fsnotify-backed implementation ships in this package) and
// turns its noisy, platform-specific stream into the well-behaved
// {Created, Modified, Deleted, Renamed} stream the engine consumes.
package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Kind identifies the nature of a filesystem change.
type Kind string

const (
	Created  Kind = "created"
	Modified Kind = "modified"
	Deleted  Kind = "deleted"
	Renamed  Kind = "renamed"
)

// Event is a single filesystem change, already relative to a sync root.
type Event struct {
	Path        string // slash-separated, relative to the sync root
	Kind        Kind
	IsDirectory bool
	RenamedFrom string // only set when Kind == Renamed
}

// defaultDebounceWindow is the default debounce window.
const defaultDebounceWindow = 500 * time.Millisecond

// Source abstracts raw filesystem event monitoring, satisfied by
// *fsnotifySource in production and a fake in tests.
type Source interface {
	Add(path string) error
	Remove(path string) error
	Close() error
	Events() <-chan Event
	Errors() <-chan error
}

// Options configures the debounce/coalesce/exclude contract layer.
type Options struct {
	// SyncRoot is the absolute path events are made relative to, and the
	// boundary outside which events are never emitted.
	SyncRoot string

	// ExcludedPaths are sync-root-relative paths (and their descendants)
	// to exclude, matching SyncConfig.excluded_paths.
	ExcludedPaths []string

	// SyncHiddenFiles, when false (the default), excludes any path with a
	// component beginning with '.'.
	SyncHiddenFiles bool

	// DebounceWindow overrides the default 500ms debounce window.
	DebounceWindow time.Duration
}

// Watcher applies debounce, coalesce and exclude rules on top of a Source.
type Watcher struct {
	source Source
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingEvent
}

type pendingEvent struct {
	event Event
	timer *time.Timer
}

// New builds a Watcher over the given Source.
func New(source Source, opts Options, logger *slog.Logger) *Watcher {
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = defaultDebounceWindow
	}

	return &Watcher{
		source:  source,
		opts:    opts,
		logger:  logger,
		pending: make(map[string]*pendingEvent),
	}
}

// Run consumes raw events from the Source, applies the exclude filter and
// the debounce/coalesce window, and delivers the result on out. It blocks
// until ctx is canceled or the Source's channels close, in which case it
// returns nil. Source errors are logged and otherwise ignored — the
// engine's periodic full Index pass is the safety net for anything the
// watcher misses.
func (w *Watcher) Run(ctx context.Context, out chan<- Event) error {
	defer w.source.Close()

	for {
		select {
		case <-ctx.Done():
			w.drainSync()
			return nil

		case ev, ok := <-w.source.Events():
			if !ok {
				return nil
			}

			if !w.accept(ev) {
				continue
			}

			w.schedule(ctx, ev, out)

		case err, ok := <-w.source.Errors():
			if !ok {
				return nil
			}

			w.logger.Warn("filesystem watcher error", slog.String("error", err.Error()))
		}
	}
}

// accept applies the exclude rules: outside the sync root, an excluded
// path or descendant, or (unless SyncHiddenFiles) a dotfile component.
func (w *Watcher) accept(ev Event) bool {
	rel := ev.Path
	if filepath.IsAbs(rel) {
		r, err := filepath.Rel(w.opts.SyncRoot, rel)
		if err != nil {
			return false
		}

		rel = r
	}

	rel = filepath.ToSlash(rel)
	if rel == "." || strings.HasPrefix(rel, "../") || rel == ".." {
		return false
	}

	if !w.opts.SyncHiddenFiles && hasHiddenComponent(rel) {
		return false
	}

	for _, excluded := range w.opts.ExcludedPaths {
		excluded = filepath.ToSlash(excluded)
		if rel == excluded || strings.HasPrefix(rel, excluded+"/") {
			return false
		}
	}

	return true
}

func hasHiddenComponent(relPath string) bool {
	for _, part := range strings.Split(relPath, "/") {
		if strings.HasPrefix(part, ".") && part != "." {
			return true
		}
	}

	return false
}

// schedule debounces ev against any pending event on the same path,
// coalescing Created followed by Modified into a single Created.
func (w *Watcher) schedule(ctx context.Context, ev Event, out chan<- Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	existing, ok := w.pending[ev.Path]
	if ok {
		existing.timer.Stop()
		existing.event = coalesce(existing.event, ev)
	} else {
		existing = &pendingEvent{event: ev}
		w.pending[ev.Path] = existing
	}

	path := ev.Path
	existing.timer = time.AfterFunc(w.opts.DebounceWindow, func() {
		w.flush(ctx, path, out)
	})
}

// coalesce implements the one coalescing rule the contract names:
// Created-then-Modified collapses to a single Created. Anything else is
// last-event-wins, which keeps the emitted Kind accurate (e.g. a
// Modified-then-Deleted burst should surface as Deleted).
func coalesce(prev, next Event) Event {
	if prev.Kind == Created && next.Kind == Modified {
		return Event{Path: next.Path, Kind: Created, IsDirectory: next.IsDirectory}
	}

	return next
}

func (w *Watcher) flush(ctx context.Context, path string, out chan<- Event) {
	w.mu.Lock()
	entry, ok := w.pending[path]
	if ok {
		delete(w.pending, path)
	}
	w.mu.Unlock()

	if !ok {
		return
	}

	select {
	case out <- entry.event:
	case <-ctx.Done():
	}
}

// drainSync cancels every still-pending debounce timer on shutdown. Events
// sitting in their debounce window at cancellation are not delivered; the
// engine's next full Index pass picks up anything lost this way.
func (w *Watcher) drainSync() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for path, entry := range w.pending {
		entry.timer.Stop()
		delete(w.pending, path)
	}
}
