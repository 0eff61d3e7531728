package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/starford/loam/internal/apperr"
	"github.com/starford/loam/internal/markdown"
	"github.com/starford/loam/internal/permalink"
)

// Entity is the graph node bound to one source file.
type Entity struct {
	ID          int64                `json:"id"`
	ProjectID   int64                `json:"project_id"`
	Title       string               `json:"title"`
	Permalink   string               `json:"permalink"`
	FilePath    string               `json:"file_path"`
	EntityType  string               `json:"entity_type"`
	Checksum    string               `json:"checksum"`
	Frontmatter markdown.Frontmatter `json:"frontmatter,omitempty"`
	Tags        []string             `json:"tags,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// EntityDraft is the input to UpsertEntity, produced by the parser and the
// permalink resolver.
type EntityDraft struct {
	Title             string
	Permalink         string // desired permalink (explicit or derived slug)
	PermalinkExplicit bool   // frontmatter-declared; wins over a stored one
	FilePath          string
	EntityType        string
	Checksum          string
	Frontmatter       markdown.Frontmatter
	Tags              []string
	Body              string
	Observations      []markdown.Observation
	Relations         []markdown.Relation
}

const entityCols = `id, project_id, title, permalink, file_path, entity_type, checksum, frontmatter, tags, created_at, updated_at`

// UpsertEntity writes an entity and everything it owns in one transaction:
// the entity row (keyed by project+permalink, with fallback matching on
// project+file path), a wholesale replacement of its observations and
// outbound relations, opportunistic resolution of dangling relations in
// both directions, and the search index entry.
//
// Permalink collisions are resolved inside the transaction by numeric -N
// suffix probing; a concurrent creation under the same derived name turns
// into an update-in-place via ON CONFLICT rather than a uniqueness crash.
func (s *Store) UpsertEntity(projectID int64, d EntityDraft) (*Entity, error) {
	tx, err := s.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("store: begin tx: %v: %w", err, apperr.ErrStoreCorrupt)
	}
	defer tx.Rollback() //nolint:errcheck

	existing, err := getEntityByPathTx(tx, projectID, d.FilePath)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	perm := d.Permalink
	if existing != nil && !d.PermalinkExplicit {
		// Prior permalinks are preserved across edits and moves.
		perm = existing.Permalink
	}
	if perm == "" {
		perm = permalink.Slug(d.Title)
	}

	// Unchanged content under an unchanged identity is a no-op sync.
	if existing != nil && existing.Checksum == d.Checksum && existing.Permalink == perm && d.Checksum != "" {
		return existing, tx.Commit()
	}

	perm, err = probePermalink(tx, projectID, perm, d.FilePath)
	if err != nil {
		return nil, err
	}

	fmJSON, err := json.Marshal(d.Frontmatter)
	if err != nil {
		return nil, fmt.Errorf("store: marshal frontmatter: %w", err)
	}
	tagsJSON, _ := json.Marshal(nonNil(d.Tags))
	now := time.Now().UTC()

	var entityID int64
	if existing != nil {
		_, err = tx.Exec(`
			UPDATE entities
			SET title = ?, permalink = ?, entity_type = ?, checksum = ?,
			    frontmatter = ?, tags = ?, body = ?, updated_at = ?
			WHERE id = ?
		`, d.Title, perm, d.EntityType, d.Checksum, string(fmJSON), string(tagsJSON), d.Body, now, existing.ID)
		if err != nil {
			return nil, fmt.Errorf("store: update entity: %w", err)
		}
		entityID = existing.ID
	} else {
		// ON CONFLICT turns a concurrent creation under the same permalink
		// into an update of that row instead of a constraint failure.
		_, err = tx.Exec(`
			INSERT INTO entities (project_id, title, permalink, file_path, entity_type,
			                      checksum, frontmatter, tags, body, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(project_id, permalink) DO UPDATE SET
				title       = excluded.title,
				file_path   = excluded.file_path,
				entity_type = excluded.entity_type,
				checksum    = excluded.checksum,
				frontmatter = excluded.frontmatter,
				tags        = excluded.tags,
				body        = excluded.body,
				updated_at  = excluded.updated_at
		`, projectID, d.Title, perm, d.FilePath, d.EntityType, d.Checksum,
			string(fmJSON), string(tagsJSON), d.Body, now, now)
		if err != nil {
			return nil, fmt.Errorf("store: insert entity: %w", err)
		}
		if err := tx.QueryRow(`SELECT id FROM entities WHERE project_id = ? AND permalink = ?`,
			projectID, perm).Scan(&entityID); err != nil {
			return nil, fmt.Errorf("store: entity id: %w", err)
		}
	}

	if err := replaceObservations(tx, entityID, d.Observations); err != nil {
		return nil, err
	}
	if err := replaceOutboundRelations(tx, projectID, entityID, d.Relations); err != nil {
		return nil, err
	}
	if err := resolveDanglingTo(tx, projectID, entityID, d.Title, perm); err != nil {
		return nil, err
	}
	if err := ftsDelete(tx, entityID); err != nil {
		return nil, err
	}
	if err := ftsUpsert(tx, projectID, entityID, d.Title, d.Body, d.Tags); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit: %v: %w", err, apperr.ErrStoreCorrupt)
	}
	return s.GetEntity(projectID, entityID)
}

// probePermalink finds the first free permalink in the sequence
// base, base-1, base-2, ... ignoring the row that owns filePath (that row
// is being updated in place, not collided with).
func probePermalink(tx *sql.Tx, projectID int64, base, filePath string) (string, error) {
	perm := base
	for n := 0; ; n++ {
		if n > 0 {
			perm = fmt.Sprintf("%s-%d", base, n)
		}
		var otherPath string
		err := tx.QueryRow(`SELECT file_path FROM entities WHERE project_id = ? AND permalink = ?`,
			projectID, perm).Scan(&otherPath)
		if errors.Is(err, sql.ErrNoRows) {
			return perm, nil
		}
		if err != nil {
			return "", fmt.Errorf("store: probe permalink: %w", err)
		}
		if otherPath == filePath {
			return perm, nil
		}
	}
}

func replaceObservations(tx *sql.Tx, entityID int64, obs []markdown.Observation) error {
	if _, err := tx.Exec(`DELETE FROM observations WHERE entity_id = ?`, entityID); err != nil {
		return fmt.Errorf("store: clear observations: %w", err)
	}
	if len(obs) == 0 {
		return nil
	}
	stmt, err := tx.Prepare(`INSERT INTO observations (entity_id, category, content, tags, context) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare observation insert: %w", err)
	}
	defer stmt.Close()
	for _, o := range obs {
		tagsJSON, _ := json.Marshal(nonNil(o.Tags))
		if _, err := stmt.Exec(entityID, o.Category, o.Content, string(tagsJSON), o.Context); err != nil {
			return fmt.Errorf("store: insert observation: %w", err)
		}
	}
	return nil
}

func replaceOutboundRelations(tx *sql.Tx, projectID, entityID int64, rels []markdown.Relation) error {
	if _, err := tx.Exec(`DELETE FROM relations WHERE from_id = ?`, entityID); err != nil {
		return fmt.Errorf("store: clear relations: %w", err)
	}
	if len(rels) == 0 {
		return nil
	}
	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO relations (project_id, from_id, to_id, target_title, relation_type, context)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("store: prepare relation insert: %w", err)
	}
	defer stmt.Close()
	for _, r := range rels {
		toID, err := resolveTarget(tx, projectID, r.Target)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(projectID, entityID, toID, r.Target, r.Type, r.Context); err != nil {
			return fmt.Errorf("store: insert relation: %w", err)
		}
	}
	return nil
}

// resolveTarget matches a relation's literal link text against existing
// entities in the same project: permalink first, then title. A miss leaves
// the relation dangling (nil), a normal state pending resolution.
func resolveTarget(tx *sql.Tx, projectID int64, target string) (*int64, error) {
	slug := permalink.Slug(target)
	var id int64
	err := tx.QueryRow(`
		SELECT id FROM entities
		WHERE project_id = ? AND (permalink = ? OR title = ? COLLATE NOCASE)
		ORDER BY CASE WHEN permalink = ? THEN 0 ELSE 1 END
		LIMIT 1
	`, projectID, slug, target, slug).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: resolve target: %w", err)
	}
	return &id, nil
}

// resolveDanglingTo points existing dangling relations in the project at a
// newly written entity when their literal target matches its title or
// permalink. This is what makes forward references heal without re-editing
// the referring file.
func resolveDanglingTo(tx *sql.Tx, projectID, entityID int64, title, perm string) error {
	rows, err := tx.Query(`SELECT id, target_title FROM relations WHERE project_id = ? AND to_id IS NULL`, projectID)
	if err != nil {
		return fmt.Errorf("store: dangling query: %w", err)
	}
	var matched []int64
	for rows.Next() {
		var id int64
		var target string
		if err := rows.Scan(&id, &target); err != nil {
			rows.Close()
			return err
		}
		if strings.EqualFold(target, title) || permalink.Slug(target) == perm {
			matched = append(matched, id)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, id := range matched {
		if _, err := tx.Exec(`UPDATE relations SET to_id = ? WHERE id = ?`, entityID, id); err != nil {
			return fmt.Errorf("store: resolve dangling: %w", err)
		}
	}
	return nil
}

// DeleteEntity removes an entity; its observations and outbound relations
// cascade away, inbound relations demote to dangling via ON DELETE SET NULL.
func (s *Store) DeleteEntity(projectID, entityID int64) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %v: %w", err, apperr.ErrStoreCorrupt)
	}
	defer tx.Rollback() //nolint:errcheck

	var owner int64
	err = tx.QueryRow(`SELECT project_id FROM entities WHERE id = ?`, entityID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: entity owner: %w", err)
	}
	if owner != projectID {
		return fmt.Errorf("store: entity %d: %w", entityID, apperr.ErrCrossProject)
	}

	if err := ftsDelete(tx, entityID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM entities WHERE id = ?`, entityID); err != nil {
		return fmt.Errorf("store: delete entity: %w", err)
	}
	return tx.Commit()
}

// DeleteEntityByPath removes the entity indexed at filePath, if any.
func (s *Store) DeleteEntityByPath(projectID int64, filePath string) error {
	e, err := s.GetEntityByPath(projectID, filePath)
	if err != nil {
		return err
	}
	return s.DeleteEntity(projectID, e.ID)
}

// MoveEntity updates an entity's file path, and optionally its permalink
// when regeneration-on-move is configured. Identity (id, observation and
// relation rows) is untouched.
func (s *Store) MoveEntity(projectID, entityID int64, newPath, newPermalink string) (*Entity, error) {
	tx, err := s.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("store: begin tx: %v: %w", err, apperr.ErrStoreCorrupt)
	}
	defer tx.Rollback() //nolint:errcheck

	var owner int64
	err = tx.QueryRow(`SELECT project_id FROM entities WHERE id = ?`, entityID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: entity owner: %w", err)
	}
	if owner != projectID {
		return nil, fmt.Errorf("store: entity %d: %w", entityID, apperr.ErrCrossProject)
	}

	if newPermalink != "" {
		perm, err := probePermalink(tx, projectID, newPermalink, newPath)
		if err != nil {
			return nil, err
		}
		_, err = tx.Exec(`UPDATE entities SET file_path = ?, permalink = ? WHERE id = ?`, newPath, perm, entityID)
		if err != nil {
			return nil, fmt.Errorf("store: move entity: %w", err)
		}
	} else {
		if _, err := tx.Exec(`UPDATE entities SET file_path = ? WHERE id = ?`, newPath, entityID); err != nil {
			return nil, fmt.Errorf("store: move entity: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit: %v: %w", err, apperr.ErrStoreCorrupt)
	}
	return s.GetEntity(projectID, entityID)
}

// GetEntity returns one entity by id, scoped to a project.
func (s *Store) GetEntity(projectID, entityID int64) (*Entity, error) {
	e, err := scanEntity(s.conn.QueryRow(
		`SELECT `+entityCols+` FROM entities WHERE id = ?`, entityID))
	if err != nil {
		return nil, err
	}
	if e.ProjectID != projectID {
		return nil, fmt.Errorf("store: entity %d: %w", entityID, apperr.ErrCrossProject)
	}
	return e, nil
}

// GetEntityByPermalink returns the entity with the exact permalink.
func (s *Store) GetEntityByPermalink(projectID int64, perm string) (*Entity, error) {
	return scanEntity(s.conn.QueryRow(
		`SELECT `+entityCols+` FROM entities WHERE project_id = ? AND permalink = ?`, projectID, perm))
}

// GetEntityByPath returns the entity bound to filePath.
func (s *Store) GetEntityByPath(projectID int64, filePath string) (*Entity, error) {
	return scanEntity(s.conn.QueryRow(
		`SELECT `+entityCols+` FROM entities WHERE project_id = ? AND file_path = ?`, projectID, filePath))
}

// GetEntityByTitle returns the most recently updated entity with the given
// title (case-insensitive).
func (s *Store) GetEntityByTitle(projectID int64, title string) (*Entity, error) {
	return scanEntity(s.conn.QueryRow(`
		SELECT `+entityCols+` FROM entities
		WHERE project_id = ? AND title = ? COLLATE NOCASE
		ORDER BY updated_at DESC LIMIT 1
	`, projectID, title))
}

// Body returns the stored body text for an entity.
func (s *Store) Body(entityID int64) (string, error) {
	var body string
	err := s.conn.QueryRow(`SELECT body FROM entities WHERE id = ?`, entityID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperr.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: body: %w", err)
	}
	return body, nil
}

func getEntityByPathTx(tx *sql.Tx, projectID int64, filePath string) (*Entity, error) {
	return scanEntity(tx.QueryRow(
		`SELECT `+entityCols+` FROM entities WHERE project_id = ? AND file_path = ?`, projectID, filePath))
}

func scanEntity(row *sql.Row) (*Entity, error) {
	var e Entity
	var fmJSON, tagsJSON string
	err := row.Scan(&e.ID, &e.ProjectID, &e.Title, &e.Permalink, &e.FilePath,
		&e.EntityType, &e.Checksum, &fmJSON, &tagsJSON, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan entity: %w", err)
	}
	if fmJSON != "" && fmJSON != "[]" {
		_ = json.Unmarshal([]byte(fmJSON), &e.Frontmatter)
	}
	e.Tags = decodeTags(tagsJSON)
	return &e, nil
}

func decodeTags(raw string) []string {
	var tags []string
	_ = json.Unmarshal([]byte(raw), &tags)
	return tags
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
