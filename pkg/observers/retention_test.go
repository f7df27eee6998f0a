package observers

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPurgeArtifactsRemovesOnlyOldArtifacts(t *testing.T) {
	dir := t.TempDir()
	old := time.Now().Add(-48 * time.Hour)
	for _, name := range []string{"a.jsonl", "b.usage.json", "notes.txt"} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		if err := os.Chtimes(path, old, old); err != nil {
			t.Fatalf("chtimes %s: %v", name, err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "fresh.jsonl"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write fresh: %v", err)
	}

	removed, err := PurgeArtifacts(dir, 24*time.Hour)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 files removed, got %d", removed)
	}
	for _, name := range []string{"notes.txt", "fresh.jsonl"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s to survive: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "a.jsonl")); !os.IsNotExist(err) {
		t.Fatalf("expected a.jsonl to be purged, stat err: %v", err)
	}
}

func TestPurgeArtifactsNoopWithoutDir(t *testing.T) {
	removed, err := PurgeArtifacts("", time.Hour)
	if err != nil || removed != 0 {
		t.Fatalf("expected noop, got removed=%d err=%v", removed, err)
	}
}
