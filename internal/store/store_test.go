package store

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/starford/loam/internal/apperr"
	"github.com/starford/loam/internal/markdown"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	f, err := os.CreateTemp("", "loam-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	s, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testProject(t *testing.T, s *Store) *Project {
	t.Helper()
	p, err := s.CreateProject("main", "main", "/tmp/vault", true)
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	return p
}

func draft(title, path, cs string) EntityDraft {
	return EntityDraft{
		Title:      title,
		FilePath:   path,
		EntityType: "note",
		Checksum:   cs,
		Body:       "body of " + title,
	}
}

func TestCreateProject_Idempotent(t *testing.T) {
	s := testStore(t)
	p1, _ := s.CreateProject("main", "main", "/a", true)
	p2, err := s.CreateProject("main", "MAIN", "/b", false)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if p1.ID != p2.ID {
		t.Errorf("permalink lookup should be case-insensitive: %d vs %d", p1.ID, p2.ID)
	}
}

func TestUpsertEntity_DerivesPermalink(t *testing.T) {
	s := testStore(t)
	p := testProject(t, s)

	e, err := s.UpsertEntity(p.ID, draft("Coffee", "coffee.md", "cs1"))
	if err != nil {
		t.Fatalf("UpsertEntity: %v", err)
	}
	if e.Permalink != "coffee" {
		t.Errorf("permalink = %q, want %q", e.Permalink, "coffee")
	}
}

func TestUpsertEntity_CollisionSuffix(t *testing.T) {
	s := testStore(t)
	p := testProject(t, s)

	a, _ := s.UpsertEntity(p.ID, draft("Notes", "folder-a/notes.md", "1"))
	b, err := s.UpsertEntity(p.ID, draft("Notes", "folder-b/notes.md", "2"))
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if a.Permalink != "notes" || b.Permalink != "notes-1" {
		t.Errorf("permalinks = %q, %q, want notes, notes-1", a.Permalink, b.Permalink)
	}

	// Re-syncing the second file must keep its suffixed permalink stable.
	b2, _ := s.UpsertEntity(p.ID, draft("Notes", "folder-b/notes.md", "3"))
	if b2.ID != b.ID || b2.Permalink != "notes-1" {
		t.Errorf("resync changed identity: %+v", b2)
	}
}

func TestUpsertEntity_NoOpOnSameChecksum(t *testing.T) {
	s := testStore(t)
	p := testProject(t, s)

	e1, _ := s.UpsertEntity(p.ID, draft("Coffee", "coffee.md", "same"))
	time.Sleep(10 * time.Millisecond)
	e2, err := s.UpsertEntity(p.ID, draft("Coffee", "coffee.md", "same"))
	if err != nil {
		t.Fatalf("UpsertEntity: %v", err)
	}
	if !e2.UpdatedAt.Equal(e1.UpdatedAt) {
		t.Errorf("no-op sync must not touch updated_at: %v vs %v", e2.UpdatedAt, e1.UpdatedAt)
	}
}

func TestUpsertEntity_ObservationsReplacedWholesale(t *testing.T) {
	s := testStore(t)
	p := testProject(t, s)

	d := draft("Coffee", "coffee.md", "1")
	d.Observations = []markdown.Observation{
		{Category: "method", Content: "Pour over is best #brewing", Tags: []string{"brewing"}},
		{Category: "note", Content: "second"},
	}
	e, _ := s.UpsertEntity(p.ID, d)

	obs, _ := s.ObservationsFor(e.ID)
	if len(obs) != 2 || obs[0].Category != "method" || obs[0].Tags[0] != "brewing" {
		t.Fatalf("observations = %+v", obs)
	}

	d.Checksum = "2"
	d.Observations = d.Observations[:1]
	e2, _ := s.UpsertEntity(p.ID, d)
	obs, _ = s.ObservationsFor(e2.ID)
	if len(obs) != 1 {
		t.Errorf("expected wholesale replacement, got %d observations", len(obs))
	}
}

func TestForwardReferenceResolution(t *testing.T) {
	s := testStore(t)
	p := testProject(t, s)

	d := draft("Coffee", "coffee.md", "1")
	d.Relations = []markdown.Relation{{Type: "relates_to", Target: "Tea"}}
	coffee, _ := s.UpsertEntity(p.ID, d)

	rels, _ := s.RelationsFrom(coffee.ID)
	if len(rels) != 1 || rels[0].ToID != nil {
		t.Fatalf("expected one dangling relation, got %+v", rels)
	}
	if rels[0].TargetTitle != "Tea" {
		t.Errorf("target title = %q", rels[0].TargetTitle)
	}

	tea, _ := s.UpsertEntity(p.ID, draft("Tea", "tea.md", "2"))
	rels, _ = s.RelationsFrom(coffee.ID)
	if rels[0].ToID == nil || *rels[0].ToID != tea.ID {
		t.Errorf("relation should resolve to tea (%d), got %+v", tea.ID, rels[0])
	}
}

func TestDeleteEntity_CascadeAndDemote(t *testing.T) {
	s := testStore(t)
	p := testProject(t, s)

	d := draft("A", "a.md", "1")
	d.Observations = []markdown.Observation{{Category: "note", Content: "fact"}}
	d.Relations = []markdown.Relation{{Type: "links_to", Target: "B"}}
	a, _ := s.UpsertEntity(p.ID, d)

	db := draft("B", "b.md", "2")
	db.Relations = []markdown.Relation{{Type: "links_to", Target: "A"}}
	b, _ := s.UpsertEntity(p.ID, db)

	if err := s.DeleteEntity(p.ID, a.ID); err != nil {
		t.Fatalf("DeleteEntity: %v", err)
	}
	if obs, _ := s.ObservationsFor(a.ID); len(obs) != 0 {
		t.Error("observations should cascade away")
	}
	rels, _ := s.RelationsFrom(b.ID)
	if len(rels) != 1 {
		t.Fatalf("inbound relation must survive, got %+v", rels)
	}
	if rels[0].ToID != nil {
		t.Error("inbound relation should demote to dangling, not be deleted")
	}
}

func TestMoveEntity_PreservesIdentity(t *testing.T) {
	s := testStore(t)
	p := testProject(t, s)

	d := draft("Coffee", "coffee.md", "1")
	d.Observations = []markdown.Observation{{Category: "note", Content: "fact"}}
	e, _ := s.UpsertEntity(p.ID, d)
	obsBefore, _ := s.ObservationsFor(e.ID)

	moved, err := s.MoveEntity(p.ID, e.ID, "topics/coffee.md", "")
	if err != nil {
		t.Fatalf("MoveEntity: %v", err)
	}
	if moved.ID != e.ID || moved.Permalink != e.Permalink {
		t.Errorf("move changed identity: %+v", moved)
	}
	if moved.FilePath != "topics/coffee.md" {
		t.Errorf("file_path = %q", moved.FilePath)
	}
	obsAfter, _ := s.ObservationsFor(e.ID)
	if len(obsAfter) != len(obsBefore) || obsAfter[0].ID != obsBefore[0].ID {
		t.Error("move must not touch observation rows")
	}
}

func TestCrossProjectRejected(t *testing.T) {
	s := testStore(t)
	p1 := testProject(t, s)
	p2, _ := s.CreateProject("other", "other", "/tmp/other", false)

	e, _ := s.UpsertEntity(p1.ID, draft("Coffee", "coffee.md", "1"))

	if err := s.DeleteEntity(p2.ID, e.ID); !errors.Is(err, apperr.ErrCrossProject) {
		t.Errorf("DeleteEntity cross-project = %v, want ErrCrossProject", err)
	}
	if _, err := s.GetEntity(p2.ID, e.ID); !errors.Is(err, apperr.ErrCrossProject) {
		t.Errorf("GetEntity cross-project = %v, want ErrCrossProject", err)
	}
	if _, err := s.MoveEntity(p2.ID, e.ID, "x.md", ""); !errors.Is(err, apperr.ErrCrossProject) {
		t.Errorf("MoveEntity cross-project = %v, want ErrCrossProject", err)
	}
}

func TestProjectIsolation(t *testing.T) {
	s := testStore(t)
	p1 := testProject(t, s)
	p2, _ := s.CreateProject("other", "other", "/tmp/other", false)

	// Same title in both projects: no collision suffix across projects.
	e1, _ := s.UpsertEntity(p1.ID, draft("Coffee", "coffee.md", "1"))
	e2, _ := s.UpsertEntity(p2.ID, draft("Coffee", "coffee.md", "2"))
	if e1.Permalink != "coffee" || e2.Permalink != "coffee" {
		t.Errorf("permalinks = %q, %q", e1.Permalink, e2.Permalink)
	}

	// Relations resolve only within the owning project.
	d := draft("Ref", "ref.md", "3")
	d.Relations = []markdown.Relation{{Type: "links_to", Target: "Coffee"}}
	ref, _ := s.UpsertEntity(p2.ID, d)
	rels, _ := s.RelationsFrom(ref.ID)
	if rels[0].ToID == nil || *rels[0].ToID != e2.ID {
		t.Errorf("relation resolved across projects: %+v", rels[0])
	}
}

func TestDeleteProject_RemovesRows(t *testing.T) {
	s := testStore(t)
	p := testProject(t, s)
	e, _ := s.UpsertEntity(p.ID, draft("Coffee", "coffee.md", "1"))

	if err := s.DeleteProject(p.ID); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}
	if _, err := s.GetEntityByPermalink(p.ID, e.Permalink); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("entity should cascade with project, got %v", err)
	}
}

func TestSearch_Scoped(t *testing.T) {
	s := testStore(t)
	p1 := testProject(t, s)
	p2, _ := s.CreateProject("other", "other", "/tmp/other", false)

	d := draft("Coffee", "coffee.md", "1")
	d.Body = "uniqueword appears here"
	_, _ = s.UpsertEntity(p1.ID, d)

	hits, err := s.Search(p1.ID, "uniqueword", 10, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].Permalink != "coffee" {
		t.Fatalf("hits = %+v", hits)
	}
	hits, _ = s.Search(p2.ID, "uniqueword", 10, 0)
	if len(hits) != 0 {
		t.Errorf("search leaked across projects: %+v", hits)
	}
}

func TestResolveRef(t *testing.T) {
	s := testStore(t)
	p := testProject(t, s)
	e, _ := s.UpsertEntity(p.ID, draft("Pour Over", "topics/pour-over.md", "1"))

	for _, ref := range []string{"pour-over", "Pour Over"} {
		got, err := s.ResolveRef(p.ID, ref)
		if err != nil {
			t.Fatalf("ResolveRef(%q): %v", ref, err)
		}
		if len(got) != 1 || got[0].ID != e.ID {
			t.Errorf("ResolveRef(%q) = %+v", ref, got)
		}
	}

	got, _ := s.ResolveRef(p.ID, "pour*")
	if len(got) != 1 {
		t.Errorf("glob resolve = %+v", got)
	}
	if got, _ := s.ResolveRef(p.ID, "missing"); got != nil {
		t.Errorf("missing ref should yield nil, got %+v", got)
	}
}

func TestChecksums(t *testing.T) {
	s := testStore(t)
	p := testProject(t, s)
	_, _ = s.UpsertEntity(p.ID, draft("A", "a.md", "cs-a"))
	_, _ = s.UpsertEntity(p.ID, draft("B", "b.md", "cs-b"))

	m, err := s.Checksums(p.ID)
	if err != nil {
		t.Fatalf("Checksums: %v", err)
	}
	if len(m) != 2 || m["a.md"] != "cs-a" || m["b.md"] != "cs-b" {
		t.Errorf("checksums = %v", m)
	}
}

func TestRebuildSearchIndex(t *testing.T) {
	s := testStore(t)
	p := testProject(t, s)
	d := draft("Coffee", "coffee.md", "1")
	d.Body = "rebuildable content"
	_, _ = s.UpsertEntity(p.ID, d)

	if err := s.RebuildSearchIndex(p.ID); err != nil {
		t.Fatalf("RebuildSearchIndex: %v", err)
	}
	hits, _ := s.Search(p.ID, "rebuildable", 10, 0)
	if len(hits) != 1 {
		t.Errorf("post-rebuild hits = %+v", hits)
	}
}
