package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/loam/internal/service"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *service.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/projects", h.ListProjects)
	r.Post("/projects", h.CreateProject)

	// SSE endpoint (protected by the same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	r.Route("/{project}", func(r chi.Router) {
		r.Get("/entities", h.ListEntities)
		r.Post("/entities", h.WriteEntity)
		r.Get("/entities/*", h.GetEntity)
		r.Put("/entities/*", h.PutEntity)
		r.Delete("/entities/*", h.DeleteEntity)
		r.Post("/entities/move", h.MoveEntity)
		r.Get("/search", h.Search)
		r.Get("/context", h.Context)
		r.Get("/sync", h.SyncStatus)
		r.Post("/sync/scan", h.TriggerScan)
	})

	return r
}
