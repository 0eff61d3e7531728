// Package apperr defines sentinel errors shared across layers.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")

	// ErrCrossProject is returned when an operation references an entity
	// that belongs to a different project than the one it is scoped to.
	ErrCrossProject = errors.New("cross-project reference")

	// ErrStoreCorrupt marks unrecoverable store failures. A project worker
	// that sees this error halts writes and transitions to its error state.
	ErrStoreCorrupt = errors.New("store corrupt")
)
