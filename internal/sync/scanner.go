package sync

import (
	"sort"

	"github.com/starford/loam/internal/store"
	"github.com/starford/loam/internal/vault"
)

// Scan diffs the vault against the indexed state and returns the events
// needed to reconcile them. A delete and a create carrying the same
// checksum are re-classified as a single move, so renames preserve
// entity identity instead of churning rows.
func Scan(v vault.Provider, s *store.Store, projectID int64) ([]Event, error) {
	metas, err := v.List()
	if err != nil {
		return nil, err
	}
	indexed, err := s.Checksums(projectID)
	if err != nil {
		return nil, err
	}

	disk := make(map[string]string, len(metas))
	for _, m := range metas {
		disk[m.Path] = m.Checksum
	}

	var created, modified, deleted []string
	for p, cs := range disk {
		old, ok := indexed[p]
		switch {
		case !ok:
			created = append(created, p)
		case old != cs:
			modified = append(modified, p)
		}
	}
	for p := range indexed {
		if _, ok := disk[p]; !ok {
			deleted = append(deleted, p)
		}
	}
	sort.Strings(created)
	sort.Strings(modified)
	sort.Strings(deleted)

	// Pair deletions with creations by checksum to detect moves. Each
	// checksum pairs at most once; ambiguous duplicates stay delete+create.
	byChecksum := make(map[string]string, len(deleted))
	for _, p := range deleted {
		cs := indexed[p]
		if _, dup := byChecksum[cs]; dup {
			byChecksum[cs] = "" // ambiguous
			continue
		}
		byChecksum[cs] = p
	}

	var events []Event
	movedOld := make(map[string]struct{})
	for _, p := range created {
		if old, ok := byChecksum[disk[p]]; ok && old != "" {
			if _, taken := movedOld[old]; !taken {
				movedOld[old] = struct{}{}
				events = append(events, Event{Kind: KindMoved, Path: p, OldPath: old})
				continue
			}
		}
		events = append(events, Event{Kind: KindCreated, Path: p})
	}
	for _, p := range modified {
		events = append(events, Event{Kind: KindModified, Path: p})
	}
	for _, p := range deleted {
		if _, moved := movedOld[p]; !moved {
			events = append(events, Event{Kind: KindDeleted, Path: p})
		}
	}
	return events, nil
}
