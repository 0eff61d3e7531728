//go:build sqlite_fts5

package store

import (
	"database/sql"
	"fmt"
	"strings"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS search_index USING fts5(
			project_id UNINDEXED,
			entity_id UNINDEXED,
			title,
			body,
			tags,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(tx *sql.Tx, projectID, entityID int64, title, body string, tags []string) error {
	_, err := tx.Exec(`INSERT INTO search_index (project_id, entity_id, title, body, tags) VALUES (?, ?, ?, ?, ?)`,
		projectID, entityID, title, body, strings.Join(tags, " "))
	if err != nil {
		return fmt.Errorf("store: upsert search entry: %w", err)
	}
	return nil
}

func ftsDelete(tx *sql.Tx, entityID int64) error {
	if _, err := tx.Exec(`DELETE FROM search_index WHERE entity_id = ?`, entityID); err != nil {
		return fmt.Errorf("store: delete search entry: %w", err)
	}
	return nil
}

func ftsDeleteProject(tx *sql.Tx, projectID int64) error {
	if _, err := tx.Exec(`DELETE FROM search_index WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("store: delete search entries: %w", err)
	}
	return nil
}

// SearchResult is one full-text search hit.
type SearchResult struct {
	EntityID  int64  `json:"entity_id"`
	Permalink string `json:"permalink"`
	Title     string `json:"title"`
	FilePath  string `json:"file_path"`
	Snippet   string `json:"snippet"`
}

// Search runs an FTS5 match scoped to one project. Title and tag hits rank
// above plain body hits via bm25 column weights.
func (s *Store) Search(projectID int64, query string, limit, offset int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.conn.Query(`
		SELECT e.id,
		       e.permalink,
		       e.title,
		       e.file_path,
		       snippet(search_index, 3, '<b>', '</b>', '...', 64)
		FROM search_index
		JOIN entities e ON e.id = search_index.entity_id
		WHERE search_index MATCH ? AND search_index.project_id = ?
		ORDER BY bm25(search_index, 0, 0, 4.0, 1.0, 3.0)
		LIMIT ? OFFSET ?
	`, query, projectID, limit, offset)
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
