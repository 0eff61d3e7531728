package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/starford/loam/internal/permalink"
)

// ListOptions filter and paginate entity listings.
type ListOptions struct {
	Folder     string // restrict to a file-path folder prefix
	EntityType string
	Limit      int
	Offset     int
}

// ListEntities returns a page of entities plus the unpaginated total.
func (s *Store) ListEntities(projectID int64, opts ListOptions) ([]Entity, int, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}

	where := []string{"project_id = ?"}
	args := []any{projectID}
	if opts.Folder != "" {
		where = append(where, "file_path LIKE ?")
		args = append(args, strings.TrimSuffix(opts.Folder, "/")+"/%")
	}
	if opts.EntityType != "" {
		where = append(where, "entity_type = ?")
		args = append(args, opts.EntityType)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.conn.QueryRow(`SELECT count(*) FROM entities WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count entities: %w", err)
	}

	args = append(args, opts.Limit, opts.Offset)
	rows, err := s.conn.Query(`
		SELECT `+entityCols+` FROM entities
		WHERE `+cond+`
		ORDER BY updated_at DESC, id
		LIMIT ? OFFSET ?
	`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list entities: %w", err)
	}
	defer rows.Close()

	out, err := collectEntities(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// RecentEntities returns entities updated at or after since.
func (s *Store) RecentEntities(projectID int64, since time.Time, limit int) ([]Entity, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.conn.Query(`
		SELECT `+entityCols+` FROM entities
		WHERE project_id = ? AND updated_at >= ?
		ORDER BY updated_at DESC
		LIMIT ?
	`, projectID, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent entities: %w", err)
	}
	defer rows.Close()
	return collectEntities(rows)
}

// Checksums returns the (file_path, checksum) map for a project, used by
// the full-scan differ.
func (s *Store) Checksums(projectID int64) (map[string]string, error) {
	rows, err := s.conn.Query(`SELECT file_path, checksum FROM entities WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: checksums: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// ResolveRef resolves a reference string against a project's entities:
// exact permalink, derived slug, case-insensitive title, or — when the
// reference contains a glob metacharacter — a permalink GLOB pattern.
// Glob references may match several entities; all others at most one.
func (s *Store) ResolveRef(projectID int64, ref string) ([]Entity, error) {
	if strings.ContainsAny(ref, "*?") {
		rows, err := s.conn.Query(`
			SELECT `+entityCols+` FROM entities
			WHERE project_id = ? AND permalink GLOB ?
			ORDER BY updated_at DESC
		`, projectID, ref)
		if err != nil {
			return nil, fmt.Errorf("store: resolve glob: %w", err)
		}
		defer rows.Close()
		return collectEntities(rows)
	}

	if e, err := s.GetEntityByPermalink(projectID, ref); err == nil {
		return []Entity{*e}, nil
	}
	if slug := permalink.Slug(ref); slug != ref {
		if e, err := s.GetEntityByPermalink(projectID, slug); err == nil {
			return []Entity{*e}, nil
		}
	}
	if e, err := s.GetEntityByTitle(projectID, ref); err == nil {
		return []Entity{*e}, nil
	}
	return nil, nil
}

func collectEntities(rows *sql.Rows) ([]Entity, error) {
	var out []Entity
	for rows.Next() {
		var e Entity
		var fmJSON, tagsJSON string
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Title, &e.Permalink, &e.FilePath,
			&e.EntityType, &e.Checksum, &fmJSON, &tagsJSON, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		if fmJSON != "" && fmJSON != "[]" {
			_ = json.Unmarshal([]byte(fmJSON), &e.Frontmatter)
		}
		e.Tags = decodeTags(tagsJSON)
		out = append(out, e)
	}
	return out, rows.Err()
}
