// Package service coordinates vaults, the store, sync workers, and the
// graph engine behind one API used by both the HTTP handlers and the MCP
// tools. Every operation takes an explicit project reference; "" means the
// default project.
package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"strings"
	gosync "sync"
	"time"

	"github.com/starford/loam/internal/apperr"
	"github.com/starford/loam/internal/graph"
	"github.com/starford/loam/internal/markdown"
	"github.com/starford/loam/internal/memurl"
	"github.com/starford/loam/internal/permalink"
	"github.com/starford/loam/internal/store"
	"github.com/starford/loam/internal/sync"
	"github.com/starford/loam/internal/vault"
)

// Project is the runtime handle for one registered project: its row, its
// vault, and its sync worker.
type Project struct {
	store.Project
	Vault  vault.Provider
	Worker *sync.Worker
}

// EntityDetail is the full representation of an entity: the indexed row
// plus raw file content and the extracted graph fragments.
type EntityDetail struct {
	store.Entity
	Content      string              `json:"content"`
	Observations []store.Observation `json:"observations"`
	OutboundRels []store.Relation    `json:"outbound_relations"`
	InboundRels  []store.Relation    `json:"inbound_relations"`
	MemoryURL    string              `json:"memory_url"`
	Project      string              `json:"project"`
}

// WriteRequest is the input to WriteEntity.
type WriteRequest struct {
	Title      string
	Folder     string
	Content    string // body markdown; may itself carry frontmatter
	Tags       []string
	EntityType string
}

// Service is the application core shared by all outer surfaces.
type Service struct {
	store  *store.Store
	engine *graph.Engine
	logger *slog.Logger
	notify sync.Notifier
	opts   sync.Options

	mu       gosync.RWMutex
	projects map[string]*Project // keyed by lowercase permalink
	runner   func(*Project)
}

// New creates a service. notify may be nil; it receives every applied
// change (both sync-driven and API-driven) for SSE fan-out.
func New(s *store.Store, logger *slog.Logger, notify sync.Notifier, opts sync.Options) *Service {
	svc := &Service{
		store:    s,
		engine:   graph.NewEngine(s),
		logger:   logger,
		notify:   notify,
		opts:     opts,
		projects: make(map[string]*Project),
	}
	return svc
}

// SetRunner registers a callback invoked for each project added after this
// point. The lifecycle layer uses it to start sync workers for projects
// created at runtime.
func (svc *Service) SetRunner(run func(*Project)) {
	svc.mu.Lock()
	svc.runner = run
	svc.mu.Unlock()
}

// AddProject registers a project: creates (or finds) its row, opens its
// vault, and builds its sync worker. The worker is handed to the runner
// callback when one is set; otherwise the caller runs Worker.Run under its
// own lifecycle.
func (svc *Service) AddProject(name, root string, isDefault bool) (*Project, error) {
	perm := permalink.Slug(name)
	row, err := svc.store.CreateProject(name, perm, root, isDefault)
	if err != nil {
		return nil, err
	}
	v, err := vault.NewFS(row.RootPath)
	if err != nil {
		return nil, err
	}
	w := sync.NewWorker(*row, svc.store, v, svc.logger, svc.notify, svc.opts)

	p := &Project{Project: *row, Vault: v, Worker: w}
	svc.mu.Lock()
	svc.projects[strings.ToLower(row.Permalink)] = p
	run := svc.runner
	svc.mu.Unlock()

	if run != nil {
		run(p)
	}
	return p, nil
}

// Projects returns all registered project handles.
func (svc *Service) Projects() []*Project {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	out := make([]*Project, 0, len(svc.projects))
	for _, p := range svc.projects {
		out = append(out, p)
	}
	return out
}

// Project resolves a project reference; "" means the default project.
func (svc *Service) Project(ref string) (*Project, error) {
	svc.mu.RLock()
	defer svc.mu.RUnlock()

	if ref == "" {
		for _, p := range svc.projects {
			if p.IsDefault {
				return p, nil
			}
		}
		return nil, fmt.Errorf("service: no default project: %w", apperr.ErrNotFound)
	}
	if p, ok := svc.projects[strings.ToLower(ref)]; ok {
		return p, nil
	}
	// Accept the display name too.
	for _, p := range svc.projects {
		if strings.EqualFold(p.Name, ref) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("service: project %q: %w", ref, apperr.ErrNotFound)
}

// WriteEntity renders and writes a knowledge file, then indexes it
// immediately so the caller observes its own write. The file path is
// derived from folder and title; writing the same title to the same folder
// updates in place.
func (svc *Service) WriteEntity(ctx context.Context, projectRef string, req WriteRequest) (*EntityDetail, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, fmt.Errorf("service: title required: %w", apperr.ErrConflict)
	}
	p, err := svc.Project(projectRef)
	if err != nil {
		return nil, err
	}

	draft := markdown.Parse([]byte(req.Content))
	draft.Title = req.Title
	if req.EntityType != "" {
		draft.EntityType = req.EntityType
	}
	for _, t := range req.Tags {
		if !contains(draft.Tags, t) {
			draft.Tags = append(draft.Tags, t)
		}
	}

	rendered, err := markdown.Render(draft)
	if err != nil {
		return nil, fmt.Errorf("service: render: %w", err)
	}

	filePath := path.Join(req.Folder, permalink.Slug(req.Title)+".md")
	if err := p.Vault.Write(filePath, rendered); err != nil {
		return nil, err
	}

	ent, err := svc.store.UpsertEntity(p.ID, sync.BuildDraft(filePath, rendered))
	if err != nil {
		return nil, err
	}
	svc.emit(p, sync.Event{Kind: sync.KindModified, Path: filePath}, ent)
	return svc.detail(ctx, p, ent)
}

// WriteEntityFile stores raw file content at an explicit vault path and
// indexes it immediately. Unlike WriteEntity nothing is synthesized: the
// bytes land on disk as-is.
func (svc *Service) WriteEntityFile(ctx context.Context, projectRef, filePath string, content []byte) (*EntityDetail, error) {
	if !strings.HasSuffix(filePath, ".md") {
		return nil, fmt.Errorf("service: path must be a .md file: %w", apperr.ErrConflict)
	}
	p, err := svc.Project(projectRef)
	if err != nil {
		return nil, err
	}
	filePath = path.Clean(strings.TrimPrefix(filePath, "/"))
	if err := p.Vault.Write(filePath, content); err != nil {
		return nil, err
	}
	ent, err := svc.store.UpsertEntity(p.ID, sync.BuildDraft(filePath, content))
	if err != nil {
		return nil, err
	}
	svc.emit(p, sync.Event{Kind: sync.KindModified, Path: filePath}, ent)
	return svc.detail(ctx, p, ent)
}

// ReadEntity resolves any identifier (memory:// URL, permalink, file path,
// or title) and returns the entity with its raw file content.
func (svc *Service) ReadEntity(ctx context.Context, projectRef, identifier string) (*EntityDetail, error) {
	p, ent, err := svc.resolve(projectRef, identifier)
	if err != nil {
		return nil, err
	}
	return svc.detail(ctx, p, ent)
}

// DeleteEntity removes the file and the indexed rows. Inbound relations
// from other entities are demoted to dangling, not deleted.
func (svc *Service) DeleteEntity(ctx context.Context, projectRef, identifier string) error {
	p, ent, err := svc.resolve(projectRef, identifier)
	if err != nil {
		return err
	}
	if err := p.Vault.Delete(ent.FilePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := svc.store.DeleteEntity(p.ID, ent.ID); err != nil {
		return err
	}
	svc.emit(p, sync.Event{Kind: sync.KindDeleted, Path: ent.FilePath}, nil)
	return nil
}

// MoveEntity relocates the file and updates the indexed path, preserving
// entity identity. The permalink is kept unless regeneration on move is
// configured.
func (svc *Service) MoveEntity(ctx context.Context, projectRef, identifier, newPath string) (*EntityDetail, error) {
	if !strings.HasSuffix(newPath, ".md") {
		return nil, fmt.Errorf("service: destination must be a .md path: %w", apperr.ErrConflict)
	}
	p, ent, err := svc.resolve(projectRef, identifier)
	if err != nil {
		return nil, err
	}
	newPath = path.Clean(strings.TrimPrefix(newPath, "/"))
	if newPath == ent.FilePath {
		return svc.detail(ctx, p, ent)
	}
	if err := p.Vault.Move(ent.FilePath, newPath); err != nil {
		return nil, err
	}
	newPerm := ""
	if svc.opts.RegenerateOnMove {
		newPerm = permalink.FromPath(newPath)
	}
	moved, err := svc.store.MoveEntity(p.ID, ent.ID, newPath, newPerm)
	if err != nil {
		return nil, err
	}
	svc.emit(p, sync.Event{Kind: sync.KindMoved, Path: newPath, OldPath: ent.FilePath}, moved)
	return svc.detail(ctx, p, moved)
}

// Search runs a project-scoped full-text query.
func (svc *Service) Search(ctx context.Context, projectRef, query string, limit, offset int) ([]store.SearchResult, error) {
	p, err := svc.Project(projectRef)
	if err != nil {
		return nil, err
	}
	return svc.store.Search(p.ID, query, limit, offset)
}

// ListEntities returns a paginated listing with optional folder and type
// filters.
func (svc *Service) ListEntities(ctx context.Context, projectRef string, opts store.ListOptions) ([]store.Entity, int, error) {
	p, err := svc.Project(projectRef)
	if err != nil {
		return nil, 0, err
	}
	return svc.store.ListEntities(p.ID, opts)
}

// RecentActivity returns entities updated within the timeframe, newest
// first.
func (svc *Service) RecentActivity(ctx context.Context, projectRef string, timeframe time.Duration, limit int) ([]store.Entity, error) {
	p, err := svc.Project(projectRef)
	if err != nil {
		return nil, err
	}
	if timeframe <= 0 {
		timeframe = 7 * 24 * time.Hour
	}
	return svc.store.RecentEntities(p.ID, time.Now().Add(-timeframe), limit)
}

// BuildContext walks the knowledge graph around ref. A memory:// ref may
// name a different project than projectRef.
func (svc *Service) BuildContext(ctx context.Context, projectRef, ref string, opts graph.Options) (*graph.Snapshot, error) {
	parsed, err := memurl.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("service: %v: %w", err, apperr.ErrNotFound)
	}
	if parsed.Project != "" {
		projectRef = parsed.Project
	}
	p, err := svc.Project(projectRef)
	if err != nil {
		return nil, err
	}
	return svc.engine.Build(ctx, p.ID, parsed.Entity, opts)
}

// SyncStatus returns worker statuses; a non-empty projectRef narrows to
// one project.
func (svc *Service) SyncStatus(ctx context.Context, projectRef string) ([]sync.Status, error) {
	if projectRef != "" {
		p, err := svc.Project(projectRef)
		if err != nil {
			return nil, err
		}
		return []sync.Status{p.Worker.Status()}, nil
	}
	var out []sync.Status
	for _, p := range svc.Projects() {
		out = append(out, p.Worker.Status())
	}
	return out, nil
}

// TriggerScan asks a project's worker for a full reconcile pass without
// waiting for it.
func (svc *Service) TriggerScan(ctx context.Context, projectRef string) error {
	p, err := svc.Project(projectRef)
	if err != nil {
		return err
	}
	p.Worker.RequestScan()
	return nil
}

// ScanOnce runs a blocking full scan, for the one-shot CLI path.
func (svc *Service) ScanOnce(ctx context.Context, projectRef string) (sync.Report, error) {
	p, err := svc.Project(projectRef)
	if err != nil {
		return sync.Report{}, err
	}
	return p.Worker.ScanOnce(ctx)
}

// resolve finds the entity behind any identifier shape. memory:// URLs may
// override the project.
func (svc *Service) resolve(projectRef, identifier string) (*Project, *store.Entity, error) {
	ref, err := memurl.Parse(identifier)
	if err != nil {
		return nil, nil, fmt.Errorf("service: %v: %w", err, apperr.ErrNotFound)
	}
	if ref.Project != "" {
		projectRef = ref.Project
	}
	p, err := svc.Project(projectRef)
	if err != nil {
		return nil, nil, err
	}

	id := ref.Entity
	if strings.HasSuffix(id, ".md") {
		if ent, err := svc.store.GetEntityByPath(p.ID, id); err == nil {
			return p, ent, nil
		}
	}
	ents, err := svc.store.ResolveRef(p.ID, id)
	if err != nil {
		return nil, nil, err
	}
	if len(ents) == 0 {
		return nil, nil, fmt.Errorf("service: entity %q: %w", identifier, apperr.ErrNotFound)
	}
	return p, &ents[0], nil
}

func (svc *Service) detail(ctx context.Context, p *Project, ent *store.Entity) (*EntityDetail, error) {
	raw, err := p.Vault.Read(ent.FilePath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	obs, err := svc.store.ObservationsFor(ent.ID)
	if err != nil {
		return nil, err
	}
	out, err := svc.store.RelationsFrom(ent.ID)
	if err != nil {
		return nil, err
	}
	in, err := svc.store.RelationsTo(ent.ID)
	if err != nil {
		return nil, err
	}
	return &EntityDetail{
		Entity:       *ent,
		Content:      string(raw),
		Observations: obs,
		OutboundRels: out,
		InboundRels:  in,
		MemoryURL:    memurl.Format(p.Permalink, ent.Permalink),
		Project:      p.Permalink,
	}, nil
}

func (svc *Service) emit(p *Project, ev sync.Event, ent *store.Entity) {
	if svc.notify != nil {
		svc.notify(p.Permalink, ev, ent)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
