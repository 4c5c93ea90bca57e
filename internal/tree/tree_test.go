package tree

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestDiscoverAllFiles(t *testing.T) {
	dir := t.TempDir()

	writeTree(t, dir, map[string]string{
		"agents/coder.md":         "# coder\n",
		"agents/analyst.md":       "# analyst\n",
		"settings.json":           "{}\n",
		".claude/settings.json":   "{}\n",
		".git/config":             "should be ignored",
		"nested/deeper/notes.txt": "notes\n",
	})

	got, err := DiscoverAllFiles(dir)
	if err != nil {
		t.Fatal(err)
	}

	var rel []string
	for _, p := range got {
		r, err := RelativePath(dir, p)
		if err != nil {
			t.Fatal(err)
		}
		rel = append(rel, r)
	}

	want := []string{
		".claude/settings.json",
		"agents/analyst.md",
		"agents/coder.md",
		"nested/deeper/notes.txt",
		"settings.json",
	}
	sort.Strings(want)

	if len(rel) != len(want) {
		t.Fatalf("DiscoverAllFiles() returned %d files, want %d: %v", len(rel), len(want), rel)
	}
	for i := range want {
		if rel[i] != want[i] {
			t.Errorf("file[%d] = %q, want %q", i, rel[i], want[i])
		}
	}
}

func TestDiscoverAllFiles_MissingDir(t *testing.T) {
	_, err := DiscoverAllFiles(filepath.Join(t.TempDir(), "nope"))
	if err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestDiscoverDirs(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"a/b/file.txt": "x",
		".git/HEAD":    "ref",
	})

	dirs, err := DiscoverDirs(dir)
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]bool{
		dir:                       true,
		filepath.Join(dir, "a"):   true,
		filepath.Join(dir, "a/b"): true,
	}
	if len(dirs) != len(want) {
		t.Fatalf("DiscoverDirs() = %v, want %d dirs", dirs, len(want))
	}
	for _, d := range dirs {
		if !want[d] {
			t.Errorf("unexpected dir %q", d)
		}
	}
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"f.txt": "x"})

	if !Exists(filepath.Join(dir, "f.txt")) {
		t.Error("expected file to exist")
	}
	if Exists(dir) {
		t.Error("directory should not count as an existing file")
	}
	if Exists(filepath.Join(dir, "missing")) {
		t.Error("missing file reported as existing")
	}
}
