package sync

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/starford/loam/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func TestScanOnce_Reconciles(t *testing.T) {
	v, s, p := testEnv(t)
	_ = v.Write("a.md", []byte("# A"))
	_ = v.Write("b.md", []byte("# B"))

	w := NewWorker(p, s, v, testLogger(), nil, Options{})
	report, err := w.ScanOnce(context.Background())
	if err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}
	if report.Created != 2 || report.Failed != 0 {
		t.Errorf("report = %+v", report)
	}
	if _, err := s.GetEntityByPath(p.ID, "a.md"); err != nil {
		t.Errorf("a.md not indexed: %v", err)
	}

	// Second pass over unchanged content is a no-op.
	report, err = w.ScanOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Total() != 0 {
		t.Errorf("clean rescan applied changes: %+v", report)
	}

	st := w.Status()
	if st.State != StateWatching || st.LastScan.IsZero() {
		t.Errorf("status = %+v", st)
	}
}

func TestScanOnce_CountsParseFailuresWithoutAborting(t *testing.T) {
	v, s, p := testEnv(t)
	_ = v.Write("good.md", []byte("# Good"))
	// Malformed frontmatter degrades to body text rather than failing, so
	// even this file indexes; the batch must report zero failures.
	_ = v.Write("odd.md", []byte("---\n: : bad yaml\n---\nbody"))

	w := NewWorker(p, s, v, testLogger(), nil, Options{})
	report, err := w.ScanOnce(context.Background())
	if err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}
	if report.Created != 2 || report.Failed != 0 {
		t.Errorf("report = %+v", report)
	}
}

func TestWorker_NotifiesOnApply(t *testing.T) {
	v, s, p := testEnv(t)
	_ = v.Write("a.md", []byte("# A"))

	var mu gosync.Mutex
	var seen []Event
	w := NewWorker(p, s, v, testLogger(), func(project string, ev Event, _ *store.Entity) {
		mu.Lock()
		seen = append(seen, ev)
		mu.Unlock()
	}, Options{})
	if _, err := w.ScanOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0].Kind != KindCreated || seen[0].Path != "a.md" {
		t.Errorf("notifications = %+v", seen)
	}
}

func TestWorker_WatchIndexesNewFile(t *testing.T) {
	v, s, p := testEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWorker(p, s, v, testLogger(), nil, Options{Debounce: 50 * time.Millisecond})
	go w.Run(ctx)
	time.Sleep(150 * time.Millisecond)

	_ = os.WriteFile(filepath.Join(v.Root(), "new.md"), []byte("# New"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		_, err := s.GetEntityByPath(p.ID, "new.md")
		return err == nil
	}, "new file not indexed by watch loop")
}

func TestWorker_WatchRemovesDeletedFile(t *testing.T) {
	v, s, p := testEnv(t)
	_ = v.Write("del.md", []byte("# Delete Me"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWorker(p, s, v, testLogger(), nil, Options{Debounce: 50 * time.Millisecond})
	go w.Run(ctx)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		_, err := s.GetEntityByPath(p.ID, "del.md")
		return err == nil
	}, "precondition: startup scan should index del.md")

	_ = os.Remove(filepath.Join(v.Root(), "del.md"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		_, err := s.GetEntityByPath(p.ID, "del.md")
		return err != nil
	}, "deleted file still indexed")
}

func TestWorker_RenamePreservesIdentity(t *testing.T) {
	v, s, p := testEnv(t)
	_ = v.Write("old.md", []byte("---\ntitle: Stable\n---\n\nbody\n"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWorker(p, s, v, testLogger(), nil, Options{Debounce: 50 * time.Millisecond})
	go w.Run(ctx)

	var origID int64
	var origPerm string
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		ent, err := s.GetEntityByPath(p.ID, "old.md")
		if err != nil {
			return false
		}
		origID, origPerm = ent.ID, ent.Permalink
		return true
	}, "precondition: startup scan should index old.md")

	_ = os.Rename(filepath.Join(v.Root(), "old.md"), filepath.Join(v.Root(), "renamed.md"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		ent, err := s.GetEntityByPath(p.ID, "renamed.md")
		return err == nil && ent.ID == origID && ent.Permalink == origPerm
	}, "rename should move the entity row, keeping id and permalink")
}
