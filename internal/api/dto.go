package api

import (
	"github.com/starford/loam/internal/service"
	"github.com/starford/loam/internal/store"
	"github.com/starford/loam/internal/sync"
)

// WriteEntityRequest is the request body for creating or updating an
// entity by title.
type WriteEntityRequest struct {
	Title      string   `json:"title" example:"Coffee Notes"`
	Folder     string   `json:"folder,omitempty" example:"drinks"`
	Content    string   `json:"content" example:"# Coffee Notes\n- [method] pour over"`
	Tags       []string `json:"tags,omitempty"`
	EntityType string   `json:"entity_type,omitempty" example:"note"`
}

// WriteEntityFileRequest is the request body for replacing the file at an
// explicit vault path.
type WriteEntityFileRequest struct {
	Content string `json:"content" example:"# Coffee Notes\n- [method] pour over"`
}

// CreateProjectRequest is the request body for registering a project at
// runtime.
type CreateProjectRequest struct {
	Name    string `json:"name" example:"research"`
	Path    string `json:"path" example:"/home/me/research"`
	Default bool   `json:"default,omitempty"`
}

// MoveEntityRequest is the request body for relocating an entity's file.
type MoveEntityRequest struct {
	Identifier string `json:"identifier" example:"drinks/coffee-notes"`
	NewPath    string `json:"new_path" example:"archive/coffee-notes.md"`
}

// EntityDetail is the full entity response (aliased from the domain layer).
type EntityDetail = service.EntityDetail

// EntityListResponse wraps paginated entity listings.
type EntityListResponse struct {
	Entities []store.Entity `json:"entities"`
	Total    int            `json:"total" example:"42"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []store.SearchResult `json:"results"`
}

// ProjectListResponse wraps the registered projects.
type ProjectListResponse struct {
	Projects []store.Project `json:"projects"`
}

// SyncStatusResponse wraps per-project worker statuses.
type SyncStatusResponse struct {
	Statuses []sync.Status `json:"statuses"`
}
