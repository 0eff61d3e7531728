// Package sync keeps a project's vault and its index reconciled: a
// full-scan change detector for startup and on-demand reconciliation,
// an fsnotify watcher for live edits, and a per-project worker that
// applies changes strictly in arrival order.
package sync

import "time"

// Kind classifies a detected vault change.
type Kind string

const (
	KindCreated  Kind = "created"
	KindModified Kind = "modified"
	KindDeleted  Kind = "deleted"
	KindMoved    Kind = "moved"
)

// Event is one detected change. Path is relative to the vault root;
// OldPath is set only for KindMoved.
type Event struct {
	Kind    Kind   `json:"kind"`
	Path    string `json:"path"`
	OldPath string `json:"old_path,omitempty"`
}

// Report aggregates the outcome of one full scan.
type Report struct {
	Created  int       `json:"created"`
	Modified int       `json:"modified"`
	Deleted  int       `json:"deleted"`
	Moved    int       `json:"moved"`
	Failed   int       `json:"failed"`
	Started  time.Time `json:"started"`
	Took     string    `json:"took"`
}

// Total returns the number of applied changes.
func (r Report) Total() int {
	return r.Created + r.Modified + r.Deleted + r.Moved
}
