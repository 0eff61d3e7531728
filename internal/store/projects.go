package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/loam/internal/apperr"
)

// Project is an isolated namespace. All entities, observations, and
// relations are scoped to exactly one project.
type Project struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Permalink string    `json:"permalink"`
	RootPath  string    `json:"root_path"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateProject provisions a project. Returns the existing project when one
// with the same permalink is already registered (idempotent provisioning).
func (s *Store) CreateProject(name, permalink, rootPath string, isDefault bool) (*Project, error) {
	if existing, err := s.GetProjectByPermalink(permalink); err == nil {
		return existing, nil
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := s.conn.Exec(`
		INSERT INTO projects (name, permalink, root_path, is_default, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, name, permalink, rootPath, boolToInt(isDefault), now)
	if err != nil {
		return nil, fmt.Errorf("store: create project: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("store: create project id: %w", err)
	}
	if isDefault {
		if err := s.SetDefaultProject(id); err != nil {
			return nil, err
		}
	}
	return &Project{ID: id, Name: name, Permalink: permalink, RootPath: rootPath, IsDefault: isDefault, CreatedAt: now}, nil
}

// GetProjectByPermalink looks up a project case-insensitively.
func (s *Store) GetProjectByPermalink(permalink string) (*Project, error) {
	return s.scanProject(s.conn.QueryRow(`
		SELECT id, name, permalink, root_path, is_default, created_at
		FROM projects WHERE permalink = ? COLLATE NOCASE
	`, permalink))
}

// GetProject returns a project by id.
func (s *Store) GetProject(id int64) (*Project, error) {
	return s.scanProject(s.conn.QueryRow(`
		SELECT id, name, permalink, root_path, is_default, created_at
		FROM projects WHERE id = ?
	`, id))
}

// DefaultProject returns the project flagged as default, or ErrNotFound.
func (s *Store) DefaultProject() (*Project, error) {
	return s.scanProject(s.conn.QueryRow(`
		SELECT id, name, permalink, root_path, is_default, created_at
		FROM projects WHERE is_default = 1 LIMIT 1
	`))
}

// ListProjects returns all projects ordered by name.
func (s *Store) ListProjects() ([]Project, error) {
	rows, err := s.conn.Query(`
		SELECT id, name, permalink, root_path, is_default, created_at
		FROM projects ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list projects: %w", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var p Project
		var def int
		if err := rows.Scan(&p.ID, &p.Name, &p.Permalink, &p.RootPath, &def, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.IsDefault = def != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetDefaultProject marks one project as default and clears the flag on all
// others in the same transaction.
func (s *Store) SetDefaultProject(id int64) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	if _, err := tx.Exec(`UPDATE projects SET is_default = 0 WHERE id != ?`, id); err != nil {
		return fmt.Errorf("store: clear default: %w", err)
	}
	res, err := tx.Exec(`UPDATE projects SET is_default = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: set default: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return tx.Commit()
}

// DeleteProject removes a project and, via cascades, all of its entities,
// observations, relations, and search entries. Files on disk are untouched.
func (s *Store) DeleteProject(id int64) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	if err := ftsDeleteProject(tx, id); err != nil {
		return err
	}
	res, err := tx.Exec(`DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return tx.Commit()
}

func (s *Store) scanProject(row *sql.Row) (*Project, error) {
	var p Project
	var def int
	err := row.Scan(&p.ID, &p.Name, &p.Permalink, &p.RootPath, &def, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan project: %w", err)
	}
	p.IsDefault = def != 0
	return &p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
