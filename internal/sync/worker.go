package sync

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/starford/loam/internal/apperr"
	"github.com/starford/loam/internal/checksum"
	"github.com/starford/loam/internal/ignore"
	"github.com/starford/loam/internal/markdown"
	"github.com/starford/loam/internal/permalink"
	"github.com/starford/loam/internal/store"
	"github.com/starford/loam/internal/vault"
)

// State is the worker lifecycle phase.
type State string

const (
	StateIdle     State = "idle"
	StateScanning State = "scanning"
	StateApplying State = "applying"
	StateWatching State = "watching"
	StateError    State = "error"
)

// DefaultScanCeiling bounds one full scan pass.
const DefaultScanCeiling = 5 * time.Minute

// Status is a point-in-time snapshot of a worker.
type Status struct {
	Project    string    `json:"project"`
	State      State     `json:"state"`
	LastScan   time.Time `json:"last_scan,omitzero"`
	LastReport Report    `json:"last_report"`
	LastError  string    `json:"last_error,omitempty"`
}

// Notifier receives each applied change for fan-out. ent is nil for
// deletions.
type Notifier func(project string, ev Event, ent *store.Entity)

// Options tune a worker.
type Options struct {
	Debounce         time.Duration
	ScanCeiling      time.Duration
	RegenerateOnMove bool // re-derive the permalink from the new path on move
}

// Worker reconciles one project: a startup full scan, then watcher-driven
// incremental applies. Events are applied strictly in arrival order by a
// single consumer; every apply is its own store transaction so reads stay
// responsive during long scans.
//
// A store corruption error parks the worker in StateError until Reset.
type Worker struct {
	project store.Project
	store   *store.Store
	vault   vault.Provider
	logger  *slog.Logger
	notify  Notifier
	opts    Options

	mu     gosync.Mutex
	status Status

	scanReq  chan struct{}
	resetReq chan struct{}
}

// NewWorker creates a worker for one project. notify may be nil.
func NewWorker(p store.Project, s *store.Store, v vault.Provider, logger *slog.Logger, notify Notifier, opts Options) *Worker {
	if opts.ScanCeiling <= 0 {
		opts.ScanCeiling = DefaultScanCeiling
	}
	return &Worker{
		project:  p,
		store:    s,
		vault:    v,
		logger:   logger.With(slog.String("project", p.Permalink)),
		notify:   notify,
		opts:     opts,
		status:   Status{Project: p.Permalink, State: StateIdle},
		scanReq:  make(chan struct{}, 1),
		resetReq: make(chan struct{}, 1),
	}
}

// Status returns the current worker status.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// RequestScan asks the worker to run a full reconcile pass.
func (w *Worker) RequestScan() {
	select {
	case w.scanReq <- struct{}{}:
	default:
	}
}

// Reset clears an error state; the worker rescans and resumes watching.
func (w *Worker) Reset() {
	select {
	case w.resetReq <- struct{}{}:
	default:
	}
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.status.State = s
	if s != StateError {
		w.status.LastError = ""
	}
	w.mu.Unlock()
}

func (w *Worker) fail(err error) {
	w.mu.Lock()
	w.status.State = StateError
	w.status.LastError = err.Error()
	w.mu.Unlock()
	w.logger.Error("sync: worker failed", slog.String("error", err.Error()))
}

// Run drives the worker until ctx is cancelled. Only unrecoverable
// infrastructure failures (the watcher itself dying) are returned;
// store corruption parks the worker in StateError instead.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.fullScan(ctx); err != nil {
		if isCorrupt(err) {
			w.fail(err)
		} else if ctx.Err() == nil {
			w.logger.Warn("sync: startup scan failed", slog.String("error", err.Error()))
		}
	}

	watcher := NewWatcher(w.vault.Root(), w.opts.Debounce, w.logger)
	watchErr := make(chan error, 1)
	go func() { watchErr <- watcher.Run(ctx) }()

	for {
		select {
		case <-ctx.Done():
			<-watchErr
			w.setState(StateIdle)
			return nil

		case err := <-watchErr:
			if err != nil && ctx.Err() == nil {
				w.fail(err)
				return err
			}
			return nil

		case <-w.resetReq:
			w.logger.Info("sync: reset")
			w.setState(StateIdle)
			if err := w.fullScan(ctx); err != nil && isCorrupt(err) {
				w.fail(err)
			}

		case <-w.scanReq:
			if w.errored() {
				continue
			}
			if err := w.fullScan(ctx); err != nil && isCorrupt(err) {
				w.fail(err)
			}

		case <-watcher.Rescan():
			if w.errored() {
				continue
			}
			if err := w.fullScan(ctx); err != nil && isCorrupt(err) {
				w.fail(err)
			}

		case ev := <-watcher.Events():
			if w.errored() {
				continue
			}
			w.setState(StateApplying)
			if _, err := w.apply(ctx, ev); err != nil {
				if isCorrupt(err) {
					w.fail(err)
					continue
				}
				w.logger.Warn("sync: apply failed",
					slog.String("path", ev.Path),
					slog.String("kind", string(ev.Kind)),
					slog.String("error", err.Error()))
			}
			w.setState(StateWatching)
		}
	}
}

func (w *Worker) errored() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status.State == StateError
}

// ScanOnce runs a single full reconcile pass without watching. Used by the
// one-shot CLI command and the scan endpoint.
func (w *Worker) ScanOnce(ctx context.Context) (Report, error) {
	err := w.fullScan(ctx)
	return w.Status().LastReport, err
}

func (w *Worker) fullScan(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, w.opts.ScanCeiling)
	defer cancel()

	w.setState(StateScanning)
	started := time.Now()

	events, err := Scan(w.vault, w.store, w.project.ID)
	if err != nil {
		w.setState(StateIdle)
		return err
	}

	w.setState(StateApplying)
	report := Report{Started: started.UTC()}
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			w.setState(StateIdle)
			return err
		}
		applied, err := w.apply(ctx, ev)
		if err != nil {
			if isCorrupt(err) {
				return err
			}
			report.Failed++
			w.logger.Warn("sync: scan apply failed",
				slog.String("path", ev.Path),
				slog.String("kind", string(ev.Kind)),
				slog.String("error", err.Error()))
			continue
		}
		if !applied {
			continue
		}
		switch ev.Kind {
		case KindCreated:
			report.Created++
		case KindModified:
			report.Modified++
		case KindDeleted:
			report.Deleted++
		case KindMoved:
			report.Moved++
		}
	}
	report.Took = time.Since(started).Round(time.Millisecond).String()

	w.mu.Lock()
	w.status.State = StateWatching
	w.status.LastScan = time.Now().UTC()
	w.status.LastReport = report
	w.mu.Unlock()

	w.logger.Info("sync: scan complete",
		slog.Int("created", report.Created),
		slog.Int("modified", report.Modified),
		slog.Int("deleted", report.Deleted),
		slog.Int("moved", report.Moved),
		slog.Int("failed", report.Failed),
		slog.String("took", report.Took))
	return nil
}

// apply executes one event against the store. Returns false when the event
// was a harmless no-op (file vanished before read, row already gone).
func (w *Worker) apply(ctx context.Context, ev Event) (bool, error) {
	switch ev.Kind {
	case KindCreated, KindModified:
		data, err := w.readWithRetry(ctx, ev.Path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return false, nil // deleted between detection and read
			}
			return false, err
		}
		ent, err := w.store.UpsertEntity(w.project.ID, BuildDraft(ev.Path, data))
		if err != nil {
			return false, err
		}
		w.emit(ev, ent)
		return true, nil

	case KindDeleted:
		if err := w.store.DeleteEntityByPath(w.project.ID, ev.Path); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return false, nil
			}
			return false, err
		}
		w.emit(ev, nil)
		return true, nil

	case KindMoved:
		ent, err := w.store.GetEntityByPath(w.project.ID, ev.OldPath)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				// Old row already gone; treat as a plain creation.
				return w.apply(ctx, Event{Kind: KindCreated, Path: ev.Path})
			}
			return false, err
		}
		newPerm := ""
		if w.opts.RegenerateOnMove {
			newPerm = permalink.FromPath(ev.Path)
		}
		moved, err := w.store.MoveEntity(w.project.ID, ent.ID, ev.Path, newPerm)
		if err != nil {
			return false, err
		}
		w.emit(ev, moved)
		return true, nil
	}
	return false, nil
}

func (w *Worker) emit(ev Event, ent *store.Entity) {
	if w.notify != nil {
		w.notify(w.project.Permalink, ev, ent)
	}
}

// readWithRetry retries transient read failures with doubling backoff.
// Editors replacing files non-atomically cause short windows where the
// path is mid-write.
func (w *Worker) readWithRetry(ctx context.Context, path string) ([]byte, error) {
	var lastErr error
	delay := 50 * time.Millisecond
	for attempt := 0; attempt < 3; attempt++ {
		data, err := w.vault.Read(path)
		if err == nil {
			return data, nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, lastErr
}

// BuildDraft parses file bytes into the store's upsert input. An explicit
// valid frontmatter permalink is authoritative; a file with no title of
// its own falls back to the filename stem with a path-derived permalink.
// Non-Markdown files are tracked for existence and movement only, never
// parsed into graph content.
func BuildDraft(path string, data []byte) store.EntityDraft {
	if !ignore.Parseable(path) {
		return store.EntityDraft{
			Title:      markdown.Stem(path),
			FilePath:   path,
			Permalink:  permalink.FromPath(path),
			EntityType: "file",
			Checksum:   checksum.Sum(data),
		}
	}

	d := markdown.Parse(data)

	draft := store.EntityDraft{
		Title:        d.Title,
		FilePath:     path,
		EntityType:   d.EntityType,
		Checksum:     checksum.Sum(data),
		Frontmatter:  d.Frontmatter,
		Tags:         d.Tags,
		Body:         d.Body,
		Observations: d.Observations,
		Relations:    d.Relations,
	}
	if draft.Title == "" {
		draft.Title = markdown.Stem(path)
		draft.Permalink = permalink.FromPath(path)
	}
	if d.Permalink != "" && permalink.Valid(d.Permalink) {
		draft.Permalink = d.Permalink
		draft.PermalinkExplicit = true
	}
	return draft
}

func isCorrupt(err error) bool {
	return errors.Is(err, apperr.ErrStoreCorrupt)
}
