package vault

import (
	"os"
	"path/filepath"
	"testing"
)

func testFS(t *testing.T) *FS {
	t.Helper()
	f, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return f
}

func TestWriteReadRoundTrip(t *testing.T) {
	f := testFS(t)
	content := []byte("# Coffee\n\nnotes about coffee\n")
	if err := f.Write("drinks/coffee.md", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := f.Read("drinks/coffee.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("round trip mismatch: %q", got)
	}
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	f := testFS(t)
	if err := f.Write("note.md", []byte("x")); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(f.Root())
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != "note.md" {
			t.Errorf("unexpected file left behind: %s", e.Name())
		}
	}
}

func TestSafePathRejectsTraversal(t *testing.T) {
	f := testFS(t)
	for _, p := range []string{"../escape.md", "a/../../escape.md", "/etc/passwd", ""} {
		if _, err := f.Read(p); err == nil {
			t.Errorf("Read(%q) should fail", p)
		}
		if err := f.Write(p, []byte("x")); err == nil {
			t.Errorf("Write(%q) should fail", p)
		}
	}
}

func TestListSkipsExcluded(t *testing.T) {
	f := testFS(t)
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(f.Write("keep.md", []byte("a")))
	must(f.Write("sub/also.md", []byte("b")))
	must(os.MkdirAll(filepath.Join(f.Root(), ".git"), 0o755))
	must(os.WriteFile(filepath.Join(f.Root(), ".git", "config.md"), []byte("c"), 0o644))
	must(os.WriteFile(filepath.Join(f.Root(), ".hidden.md"), []byte("d"), 0o644))
	must(os.WriteFile(filepath.Join(f.Root(), "note.tmp"), []byte("e"), 0o644))

	infos, err := f.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	got := map[string]bool{}
	for _, fi := range infos {
		got[fi.Path] = true
		if fi.Checksum == "" || fi.ModTime.IsZero() {
			t.Errorf("missing metadata for %s: %+v", fi.Path, fi)
		}
	}
	if len(got) != 2 || !got["keep.md"] || !got["sub/also.md"] {
		t.Errorf("List = %v, want keep.md and sub/also.md only", got)
	}
}

func TestListChecksumTracksContent(t *testing.T) {
	f := testFS(t)
	if err := f.Write("a.md", []byte("one")); err != nil {
		t.Fatal(err)
	}
	before, _ := f.List()
	if err := f.Write("a.md", []byte("two")); err != nil {
		t.Fatal(err)
	}
	after, _ := f.List()
	if len(before) != 1 || len(after) != 1 {
		t.Fatal("expected single file")
	}
	if before[0].Checksum == after[0].Checksum {
		t.Error("checksum should change with content")
	}
}

func TestMove(t *testing.T) {
	f := testFS(t)
	if err := f.Write("old/name.md", []byte("body")); err != nil {
		t.Fatal(err)
	}
	if err := f.Move("old/name.md", "new/deeper/name.md"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if _, err := f.Read("old/name.md"); err == nil {
		t.Error("source should be gone")
	}
	got, err := f.Read("new/deeper/name.md")
	if err != nil || string(got) != "body" {
		t.Errorf("destination read = %q, %v", got, err)
	}
}

func TestDelete(t *testing.T) {
	f := testFS(t)
	if err := f.Write("gone.md", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := f.Delete("gone.md"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := f.Read("gone.md"); err == nil {
		t.Error("file should be deleted")
	}
	if err := f.Delete("never-existed.md"); err == nil {
		t.Error("deleting a missing file should error")
	}
}
