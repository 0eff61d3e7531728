// Package testutil provides shared test helpers for setting up stores and
// vault directories.
package testutil

import (
	"os"
	"testing"

	"github.com/starford/loam/internal/store"
	"github.com/starford/loam/internal/vault"
)

// TestStore creates a temporary SQLite store that is automatically cleaned up.
func TestStore(t *testing.T) *store.Store {
	t.Helper()
	dbFile, err := os.CreateTemp("", "loam-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	s, err := store.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestVault creates a temporary vault directory with an FS provider.
func TestVault(t *testing.T) (string, vault.Provider) {
	t.Helper()
	dir := t.TempDir()
	v, err := vault.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, v
}
