package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/loam/internal/apperr"
	"github.com/starford/loam/internal/graph"
	"github.com/starford/loam/internal/service"
	"github.com/starford/loam/internal/store"
)

// Handler holds API route handlers.
type Handler struct {
	svc *service.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// entityRef extracts the entity identifier from the URL wildcard
// (everything after /entities/). Supports encoded slashes from OpenAPI
// clients (e.g. drinks%2Fcoffee).
func entityRef(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

func projectRef(r *http.Request) string {
	return chi.URLParam(r, "project")
}

func (h *Handler) fail(w http.ResponseWriter, err error, msg string, args ...any) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrConflict), errors.Is(err, apperr.ErrAlreadyExists):
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrCrossProject):
		writeJSON(w, http.StatusForbidden, errorBody("entity belongs to another project"))
	default:
		slog.Error(msg, append(args, slog.String("error", err.Error()))...)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// ListProjects handles GET /api/projects.
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects := h.svc.Projects()
	rows := make([]store.Project, 0, len(projects))
	for _, p := range projects {
		rows = append(rows, p.Project)
	}
	writeJSON(w, http.StatusOK, ProjectListResponse{Projects: rows})
}

// CreateProject handles POST /api/projects.
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Name == "" || req.Path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("name and path are required"))
		return
	}
	p, err := h.svc.AddProject(req.Name, req.Path, req.Default)
	if err != nil {
		h.fail(w, err, "create project failed", slog.String("name", req.Name))
		return
	}
	writeJSON(w, http.StatusCreated, p.Project)
}

// ListEntities handles GET /api/{project}/entities.
func (h *Handler) ListEntities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	entities, total, err := h.svc.ListEntities(r.Context(), projectRef(r), store.ListOptions{
		Folder:     q.Get("folder"),
		EntityType: q.Get("type"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		h.fail(w, err, "list entities failed")
		return
	}
	if entities == nil {
		entities = []store.Entity{}
	}
	writeJSON(w, http.StatusOK, EntityListResponse{Entities: entities, Total: total})
}

// WriteEntity handles POST /api/{project}/entities.
func (h *Handler) WriteEntity(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req WriteEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Title == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("title is required"))
		return
	}
	det, err := h.svc.WriteEntity(r.Context(), projectRef(r), service.WriteRequest{
		Title:      req.Title,
		Folder:     req.Folder,
		Content:    req.Content,
		Tags:       req.Tags,
		EntityType: req.EntityType,
	})
	if err != nil {
		h.fail(w, err, "write entity failed", slog.String("title", req.Title))
		return
	}
	writeJSON(w, http.StatusCreated, det)
}

// GetEntity handles GET /api/{project}/entities/*.
func (h *Handler) GetEntity(w http.ResponseWriter, r *http.Request) {
	ref := entityRef(r)
	if ref == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("identifier is required"))
		return
	}
	det, err := h.svc.ReadEntity(r.Context(), projectRef(r), ref)
	if err != nil {
		h.fail(w, err, "get entity failed", slog.String("ref", ref))
		return
	}
	writeJSON(w, http.StatusOK, det)
}

// PutEntity handles PUT /api/{project}/entities/*: replace the file at an
// explicit vault path and reindex it.
func (h *Handler) PutEntity(w http.ResponseWriter, r *http.Request) {
	ref := entityRef(r)
	if ref == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("file path is required"))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req WriteEntityFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	det, err := h.svc.WriteEntityFile(r.Context(), projectRef(r), ref, []byte(req.Content))
	if err != nil {
		h.fail(w, err, "put entity failed", slog.String("path", ref))
		return
	}
	writeJSON(w, http.StatusOK, det)
}

// DeleteEntity handles DELETE /api/{project}/entities/*.
func (h *Handler) DeleteEntity(w http.ResponseWriter, r *http.Request) {
	ref := entityRef(r)
	if ref == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("identifier is required"))
		return
	}
	if err := h.svc.DeleteEntity(r.Context(), projectRef(r), ref); err != nil {
		h.fail(w, err, "delete entity failed", slog.String("ref", ref))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MoveEntity handles POST /api/{project}/entities/move.
func (h *Handler) MoveEntity(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req MoveEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Identifier == "" || req.NewPath == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("identifier and new_path are required"))
		return
	}
	det, err := h.svc.MoveEntity(r.Context(), projectRef(r), req.Identifier, req.NewPath)
	if err != nil {
		h.fail(w, err, "move entity failed", slog.String("ref", req.Identifier))
		return
	}
	writeJSON(w, http.StatusOK, det)
}

// Search handles GET /api/{project}/search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	results, err := h.svc.Search(r.Context(), projectRef(r), q, limit, offset)
	if err != nil {
		h.fail(w, err, "search failed", slog.String("query", q))
		return
	}
	if results == nil {
		results = []store.SearchResult{}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// Context handles GET /api/{project}/context.
func (h *Handler) Context(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ref := q.Get("ref")
	if ref == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'ref' is required"))
		return
	}
	depth, _ := strconv.Atoi(q.Get("depth"))
	maxRelated, _ := strconv.Atoi(q.Get("max_related"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	timeframe, err := service.ParseTimeframe(q.Get("timeframe"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid timeframe"))
		return
	}

	snap, err := h.svc.BuildContext(r.Context(), projectRef(r), ref, graph.Options{
		Depth:      depth,
		Timeframe:  timeframe,
		MaxRelated: maxRelated,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		h.fail(w, err, "build context failed", slog.String("ref", ref))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// SyncStatus handles GET /api/{project}/sync.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.svc.SyncStatus(r.Context(), projectRef(r))
	if err != nil {
		h.fail(w, err, "sync status failed")
		return
	}
	writeJSON(w, http.StatusOK, SyncStatusResponse{Statuses: statuses})
}

// TriggerScan handles POST /api/{project}/sync/scan.
func (h *Handler) TriggerScan(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.TriggerScan(r.Context(), projectRef(r)); err != nil {
		h.fail(w, err, "trigger scan failed")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
