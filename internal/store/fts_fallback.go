//go:build !sqlite_fts5

package store

import (
	"database/sql"
	"fmt"
)

func initFTS(_ *sql.DB) error {
	// FTS5 not compiled in; search falls back to LIKE over entity rows.
	return nil
}

func ftsUpsert(_ *sql.Tx, _, _ int64, _, _ string, _ []string) error {
	// Title, body, and tags already live in the entities table.
	return nil
}

func ftsDelete(_ *sql.Tx, _ int64) error { return nil }

func ftsDeleteProject(_ *sql.Tx, _ int64) error { return nil }

// SearchResult is one full-text search hit.
type SearchResult struct {
	EntityID  int64  `json:"entity_id"`
	Permalink string `json:"permalink"`
	Title     string `json:"title"`
	FilePath  string `json:"file_path"`
	Snippet   string `json:"snippet"`
}

// Search performs a LIKE-based substring search (fallback when FTS5 is not
// compiled in). Title and tag matches sort ahead of body matches.
func (s *Store) Search(projectID int64, query string, limit, offset int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + query + "%"
	rows, err := s.conn.Query(`
		SELECT id, permalink, title, file_path, substr(body, 1, 200)
		FROM entities
		WHERE project_id = ? AND (title LIKE ? OR body LIKE ? OR tags LIKE ?)
		ORDER BY CASE
			WHEN title LIKE ? THEN 0
			WHEN tags LIKE ? THEN 1
			ELSE 2
		END, updated_at DESC
		LIMIT ? OFFSET ?
	`, projectID, like, like, like, like, like, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.EntityID, &r.Permalink, &r.Title, &r.FilePath, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
