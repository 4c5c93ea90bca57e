package testutil

import (
	"path/filepath"
	"testing"
)

func TestWriteAndReadFiles(t *testing.T) {
	root := t.TempDir()
	WriteFiles(t, root, map[string]string{
		"a.txt":        "alpha",
		"nested/b.txt": "beta",
	})

	if got := ReadFile(t, filepath.Join(root, "a.txt")); got != "alpha" {
		t.Errorf("a.txt = %q, want alpha", got)
	}
	if got := ReadFile(t, filepath.Join(root, "nested", "b.txt")); got != "beta" {
		t.Errorf("nested/b.txt = %q, want beta", got)
	}

	AssertMissing(t, filepath.Join(root, "c.txt"))

	if Logger() == nil {
		t.Fatal("Logger returned nil")
	}
}
