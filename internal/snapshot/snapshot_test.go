package snapshot

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnsure_FirstWriteWins(t *testing.T) {
	tmpDir := t.TempDir()
	store := NewStore(filepath.Join(tmpDir, "snapshots"))

	first := filepath.Join(tmpDir, "first.md")
	second := filepath.Join(tmpDir, "second.md")
	if err := os.WriteFile(first, []byte("A\nB\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(second, []byte("something else\n"), 0644); err != nil {
		t.Fatal(err)
	}

	written, err := store.Ensure("agents/coder.md", first)
	if err != nil {
		t.Fatalf("first Ensure: %v", err)
	}
	if !written {
		t.Error("expected first Ensure to write a snapshot")
	}

	written, err = store.Ensure("agents/coder.md", second)
	if err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if written {
		t.Error("second Ensure must not overwrite an existing snapshot")
	}

	got, err := os.ReadFile(store.Path("agents/coder.md"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "A\nB\n" {
		t.Errorf("snapshot content = %q, want %q", got, "A\nB\n")
	}
}

func TestEnsure_MissingSource(t *testing.T) {
	store := NewStore(t.TempDir())
	if _, err := store.Ensure("x.md", filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing source")
	}
	if store.Exists("x.md") {
		t.Error("no snapshot should exist after a failed Ensure")
	}
}

func TestRebaseline(t *testing.T) {
	tmpDir := t.TempDir()
	store := NewStore(tmpDir)

	src := filepath.Join(t.TempDir(), "src")
	if err := os.WriteFile(src, []byte("old\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Ensure("f.txt", src); err != nil {
		t.Fatal(err)
	}

	if err := store.Rebaseline("f.txt", []byte("new\n")); err != nil {
		t.Fatalf("Rebaseline: %v", err)
	}

	hash, err := store.Hash("f.txt")
	if err != nil {
		t.Fatal(err)
	}
	if hash != ContentHash([]byte("new\n")) {
		t.Error("snapshot hash does not match rebaselined content")
	}
}

func TestCount(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "missing"))
	n, err := store.Count()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("Count() on missing root = %d, want 0", n)
	}

	store = NewStore(t.TempDir())
	for _, rel := range []string{"a.md", "dir/b.md"} {
		if err := store.Rebaseline(rel, []byte(rel)); err != nil {
			t.Fatal(err)
		}
	}
	n, err = store.Count()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("Count() = %d, want 2", n)
	}
}

func TestFileHash(t *testing.T) {
	tmpPath := filepath.Join(t.TempDir(), "test.txt")
	if err := os.WriteFile(tmpPath, []byte("test content"), 0644); err != nil {
		t.Fatal(err)
	}

	hash1, err := FileHash(tmpPath)
	if err != nil {
		t.Fatal(err)
	}
	if hash1 != ContentHash([]byte("test content")) {
		t.Error("FileHash and ContentHash disagree")
	}

	if err := os.WriteFile(tmpPath, []byte("different content"), 0644); err != nil {
		t.Fatal(err)
	}
	hash2, err := FileHash(tmpPath)
	if err != nil {
		t.Fatal(err)
	}
	if hash1 == hash2 {
		t.Error("hash should change when content changes")
	}
}
