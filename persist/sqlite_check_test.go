package persist

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCheckSQLiteLeavesHealthyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missions.db")
	b, err := OpenSQLite(path, 0)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := b.Write([]byte(`{"missions":[]}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = b.Close()

	moved, err := checkSQLite(path, time.Second)
	if err != nil || moved != "" {
		t.Fatalf("expected healthy file to stay, got %q %v", moved, err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("database should remain: %v", err)
	}
}

func TestCheckSQLiteMissingFileIsFine(t *testing.T) {
	moved, err := checkSQLite(filepath.Join(t.TempDir(), "none.db"), time.Second)
	if err != nil || moved != "" {
		t.Fatalf("unexpected result %q %v", moved, err)
	}
}

func TestOpenSQLiteQuarantinesCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missions.db")
	if err := os.WriteFile(path, []byte("this is not a database file at all"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(path+"-journal", []byte("junk"), 0o644); err != nil {
		t.Fatalf("write sidecar: %v", err)
	}

	b, err := OpenSQLite(path, 0)
	if err != nil {
		t.Fatalf("OpenSQLite should recover from a corrupt file: %v", err)
	}
	defer b.Close()
	if data, err := b.Read(); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("expected empty store after quarantine, got %q %v", data, err)
	}

	bad, _ := filepath.Glob(filepath.Join(dir, "missions.db.bad-*"))
	if len(bad) == 0 {
		t.Fatalf("expected a quarantined copy in %s", dir)
	}
	if _, err := os.Stat(path + "-journal"); err == nil {
		t.Fatalf("sidecar should have moved with the database")
	}
	for _, name := range bad {
		if !strings.Contains(name, ".bad-") {
			t.Fatalf("unexpected quarantine name %s", name)
		}
	}
}
