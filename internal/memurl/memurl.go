// Package memurl parses and formats memory:// entity references.
//
// A fully qualified reference is memory://<project-permalink>/<entity-permalink>,
// where the entity permalink may itself contain slashes (folder structure).
package memurl

import (
	"fmt"
	"strings"
)

const scheme = "memory://"

// Ref is a parsed entity reference.
type Ref struct {
	Project string // project permalink; empty for bare references
	Entity  string // entity permalink, title, or folder-glob pattern
}

// Parse accepts a fully qualified memory:// URL or a bare entity reference.
// Bare references carry no project and must be resolved against an explicit
// project handle by the caller.
func Parse(raw string) (Ref, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Ref{}, fmt.Errorf("memurl: empty reference")
	}
	if !strings.HasPrefix(raw, scheme) {
		return Ref{Entity: raw}, nil
	}
	rest := strings.Trim(strings.TrimPrefix(raw, scheme), "/")
	if rest == "" {
		return Ref{}, fmt.Errorf("memurl: missing project in %q", raw)
	}
	project, entity, ok := strings.Cut(rest, "/")
	if !ok || entity == "" {
		return Ref{}, fmt.Errorf("memurl: missing entity in %q", raw)
	}
	return Ref{Project: project, Entity: entity}, nil
}

// Format renders the canonical URL for a project/entity permalink pair.
func Format(projectPermalink, entityPermalink string) string {
	return scheme + projectPermalink + "/" + entityPermalink
}

// String returns the canonical form, or the bare entity for project-less refs.
func (r Ref) String() string {
	if r.Project == "" {
		return r.Entity
	}
	return Format(r.Project, r.Entity)
}
