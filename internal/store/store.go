// Package store implements the SQLite-backed knowledge store: projects,
// entities, observations, relations, and a derived full-text search index
// (FTS5 when compiled with the sqlite_fts5 tag, LIKE fallback otherwise).
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS projects (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL UNIQUE,
	permalink  TEXT NOT NULL UNIQUE COLLATE NOCASE,
	root_path  TEXT NOT NULL,
	is_default INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS entities (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id  INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	title       TEXT NOT NULL DEFAULT '',
	permalink   TEXT NOT NULL,
	file_path   TEXT NOT NULL,
	entity_type TEXT NOT NULL DEFAULT 'note',
	checksum    TEXT NOT NULL DEFAULT '',
	frontmatter TEXT NOT NULL DEFAULT '[]',
	tags        TEXT NOT NULL DEFAULT '[]',
	body        TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL,
	UNIQUE(project_id, permalink),
	UNIQUE(project_id, file_path)
);
CREATE INDEX IF NOT EXISTS idx_entities_project ON entities(project_id);
CREATE INDEX IF NOT EXISTS idx_entities_updated ON entities(project_id, updated_at);

CREATE TABLE IF NOT EXISTS observations (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_id INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	category  TEXT NOT NULL DEFAULT 'note',
	content   TEXT NOT NULL,
	tags      TEXT NOT NULL DEFAULT '[]',
	context   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_observations_entity ON observations(entity_id);

CREATE TABLE IF NOT EXISTS relations (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id    INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	from_id       INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	to_id         INTEGER REFERENCES entities(id) ON DELETE SET NULL,
	target_title  TEXT NOT NULL,
	relation_type TEXT NOT NULL,
	context       TEXT NOT NULL DEFAULT '',
	UNIQUE(from_id, target_title, relation_type)
);
CREATE INDEX IF NOT EXISTS idx_relations_project ON relations(project_id);
CREATE INDEX IF NOT EXISTS idx_relations_from ON relations(from_id);
CREATE INDEX IF NOT EXISTS idx_relations_to ON relations(to_id);
`

// Store wraps a sql.DB with knowledge-store operations. One store holds all
// projects' rows; every operation is scoped by project id, and the store's
// own transaction atomicity is the mutual-exclusion point for the
// uniqueness invariants.
type Store struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*Store, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply core schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply search schema: %w", err)
	}
	return &Store{conn: conn}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// RebuildSearchIndex drops and regenerates the search index rows for one
// project from entity state. The index is derived and never authoritative.
func (s *Store) RebuildSearchIndex(projectID int64) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := ftsDeleteProject(tx, projectID); err != nil {
		return err
	}

	rows, err := tx.Query(`SELECT id, title, tags, body FROM entities WHERE project_id = ?`, projectID)
	if err != nil {
		return fmt.Errorf("store: rebuild select: %w", err)
	}
	type ent struct {
		id    int64
		title string
		tags  string
		body  string
	}
	var ents []ent
	for rows.Next() {
		var e ent
		if err := rows.Scan(&e.id, &e.title, &e.tags, &e.body); err != nil {
			rows.Close()
			return err
		}
		ents = append(ents, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, e := range ents {
		if err := ftsUpsert(tx, projectID, e.id, e.title, e.body, decodeTags(e.tags)); err != nil {
			return err
		}
	}
	return tx.Commit()
}
