package sync

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	gosync "sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/loam/internal/ignore"
)

// DefaultDebounce coalesces editor write bursts on a single file.
const DefaultDebounce = 300 * time.Millisecond

// Watcher turns fsnotify events on a vault tree into debounced Events.
// It only detects; the worker applies. Renames and watcher errors degrade
// to a full-rescan request so the checksum diff can re-pair moves.
type Watcher struct {
	root     string
	debounce time.Duration
	logger   *slog.Logger

	events chan Event
	rescan chan struct{}

	mu      gosync.Mutex
	pending map[string]*pendingChange
	done    chan struct{}
}

type pendingChange struct {
	timer *time.Timer
	kind  Kind
}

// NewWatcher creates a watcher over the vault root. debounce <= 0 uses
// DefaultDebounce.
func NewWatcher(root string, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		root:     root,
		debounce: debounce,
		logger:   logger,
		events:   make(chan Event, 64),
		rescan:   make(chan struct{}, 1),
		pending:  make(map[string]*pendingChange),
		done:     make(chan struct{}),
	}
}

// Events is the debounced change stream.
func (w *Watcher) Events() <-chan Event { return w.events }

// Rescan signals that the event stream may be incomplete and a full scan
// should reconcile.
func (w *Watcher) Rescan() <-chan struct{} { return w.rescan }

// Run watches until ctx is cancelled. New directories created at runtime
// are added to the watch list recursively.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()
	defer close(w.done)

	if err := addDirsRecursive(fsw, w.root); err != nil {
		return err
	}
	w.logger.Info("watcher: started", slog.String("root", w.root))

	for {
		select {
		case <-ctx.Done():
			w.stopPending()
			w.logger.Info("watcher: stopped")
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handle(fsw, ev)

		case watchErr, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			// Overflow or platform errors mean missed events; fall back to
			// a checksum scan.
			w.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
			w.requestRescan()
		}
	}
}

func (w *Watcher) handle(fsw *fsnotify.Watcher, ev fsnotify.Event) {
	absPath := ev.Name

	if ev.Op&fsnotify.Create != 0 {
		if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
			if ignore.SkipDir(filepath.Base(absPath)) {
				return
			}
			if addErr := addDirsRecursive(fsw, absPath); addErr != nil {
				w.logger.Warn("watcher: add new dir failed",
					slog.String("path", absPath),
					slog.String("error", addErr.Error()))
			}
			// Files may already exist inside the new directory (a moved
			// folder); let the scan pick them up.
			w.requestRescan()
			return
		}
	}

	rel, relErr := filepath.Rel(w.root, absPath)
	if relErr != nil {
		return
	}
	rel = filepath.ToSlash(rel)
	if !ignore.ShouldIndex(rel) {
		return
	}

	switch {
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		kind := KindModified
		if ev.Op&fsnotify.Create != 0 {
			kind = KindCreated
		}
		w.schedule(rel, kind)

	case ev.Op&fsnotify.Remove != 0:
		w.cancelPending(rel)
		w.emit(Event{Kind: KindDeleted, Path: rel})

	case ev.Op&fsnotify.Rename != 0:
		// fsnotify fires Rename on the OLD path only; the new path (if any)
		// arrives as a separate Create. Leaving the stale row in place and
		// rescanning lets the checksum diff classify this as a move.
		w.cancelPending(rel)
		w.requestRescan()
	}
}

// schedule arms (or re-arms) the per-path debounce timer. A Create
// followed by Writes within the window stays a single created event.
func (w *Watcher) schedule(rel string, kind Kind) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if p, ok := w.pending[rel]; ok {
		if p.kind != KindCreated {
			p.kind = kind
		}
		p.timer.Reset(w.debounce)
		return
	}

	p := &pendingChange{kind: kind}
	p.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		kind := p.kind
		delete(w.pending, rel)
		w.mu.Unlock()
		w.emit(Event{Kind: kind, Path: rel})
	})
	w.pending[rel] = p
}

func (w *Watcher) cancelPending(rel string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.pending[rel]; ok {
		p.timer.Stop()
		delete(w.pending, rel)
	}
}

func (w *Watcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for rel, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, rel)
	}
}

func (w *Watcher) emit(ev Event) {
	select {
	case w.events <- ev:
	case <-w.done:
	}
}

func (w *Watcher) requestRescan() {
	select {
	case w.rescan <- struct{}{}:
	default:
	}
}

// addDirsRecursive adds root and all non-excluded subdirectories to the
// watch list.
func addDirsRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && ignore.SkipDir(d.Name()) {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}
