package store

import (
	"fmt"
)

// Relation is a directed, typed edge. ToID is nil while the relation is
// dangling (target entity not yet indexed).
type Relation struct {
	ID           int64  `json:"id"`
	ProjectID    int64  `json:"project_id"`
	FromID       int64  `json:"from_id"`
	ToID         *int64 `json:"to_id"`
	TargetTitle  string `json:"target_title"`
	RelationType string `json:"relation_type"`
	Context      string `json:"context,omitempty"`
}

// Observation is an atomic fact owned by one entity.
type Observation struct {
	ID       int64    `json:"id"`
	EntityID int64    `json:"entity_id"`
	Category string   `json:"category"`
	Content  string   `json:"content"`
	Tags     []string `json:"tags,omitempty"`
	Context  string   `json:"context,omitempty"`
}

const relationCols = `id, project_id, from_id, to_id, target_title, relation_type, context`

// ObservationsFor returns all observations owned by an entity.
func (s *Store) ObservationsFor(entityID int64) ([]Observation, error) {
	rows, err := s.conn.Query(`
		SELECT id, entity_id, category, content, tags, context
		FROM observations WHERE entity_id = ? ORDER BY id
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("store: observations: %w", err)
	}
	defer rows.Close()

	var out []Observation
	for rows.Next() {
		var o Observation
		var tagsJSON string
		if err := rows.Scan(&o.ID, &o.EntityID, &o.Category, &o.Content, &tagsJSON, &o.Context); err != nil {
			return nil, err
		}
		o.Tags = decodeTags(tagsJSON)
		out = append(out, o)
	}
	return out, rows.Err()
}

// RelationsFrom returns an entity's outbound relations.
func (s *Store) RelationsFrom(entityID int64) ([]Relation, error) {
	return s.queryRelations(`SELECT `+relationCols+` FROM relations WHERE from_id = ? ORDER BY id`, entityID)
}

// RelationsTo returns the resolved inbound relations of an entity.
func (s *Store) RelationsTo(entityID int64) ([]Relation, error) {
	return s.queryRelations(`SELECT `+relationCols+` FROM relations WHERE to_id = ? ORDER BY id`, entityID)
}

// RelationsOf returns all relations touching an entity in either direction.
// Used by the context traversal engine.
func (s *Store) RelationsOf(entityID int64) ([]Relation, error) {
	return s.queryRelations(
		`SELECT `+relationCols+` FROM relations WHERE from_id = ? OR to_id = ? ORDER BY id`,
		entityID, entityID)
}

// DanglingRelations returns every unresolved relation in a project.
func (s *Store) DanglingRelations(projectID int64) ([]Relation, error) {
	return s.queryRelations(
		`SELECT `+relationCols+` FROM relations WHERE project_id = ? AND to_id IS NULL ORDER BY id`,
		projectID)
}

func (s *Store) queryRelations(q string, args ...any) ([]Relation, error) {
	rows, err := s.conn.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: relations: %w", err)
	}
	defer rows.Close()

	var out []Relation
	for rows.Next() {
		var r Relation
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.FromID, &r.ToID, &r.TargetTitle, &r.RelationType, &r.Context); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
