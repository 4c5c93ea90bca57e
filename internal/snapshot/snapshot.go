// Package snapshot owns the base copy of every tracked file.
//
// A snapshot is written exactly once per relative path and serves as the
// common ancestor for every later three-way comparison of that path. The
// tree under the snapshot root mirrors the tracked-file tree path for path.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/schaermu/aixsync/internal/tree"
)

// Store manages snapshots below a root directory
type Store struct {
	root string
}

// NewStore creates a snapshot store rooted at root
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Root returns the snapshot root directory
func (s *Store) Root() string {
	return s.root
}

// Path returns the location of the snapshot for a tracked relative path
func (s *Store) Path(relPath string) string {
	return filepath.Join(s.root, filepath.FromSlash(relPath))
}

// Exists reports whether a snapshot has been taken for relPath
func (s *Store) Exists(relPath string) bool {
	return tree.Exists(s.Path(relPath))
}

// Ensure writes the snapshot for relPath from the file at sourcePath unless
// one already exists. An existing snapshot is never replaced, even when the
// proposed content differs. It reports whether a new snapshot was written.
func (s *Store) Ensure(relPath, sourcePath string) (bool, error) {
	if s.Exists(relPath) {
		return false, nil
	}

	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return false, fmt.Errorf("failed to read snapshot source %s: %w", sourcePath, err)
	}

	if err := writeFileAtomic(s.Path(relPath), data, 0644); err != nil {
		return false, fmt.Errorf("failed to write snapshot for %s: %w", relPath, err)
	}
	return true, nil
}

// Rebaseline replaces the snapshot for relPath with content. Only the sync
// engine calls this, and only when re-baselining was explicitly requested.
func (s *Store) Rebaseline(relPath string, content []byte) error {
	if err := writeFileAtomic(s.Path(relPath), content, 0644); err != nil {
		return fmt.Errorf("failed to rebaseline snapshot for %s: %w", relPath, err)
	}
	return nil
}

// Hash returns the SHA256 digest of the snapshot for relPath
func (s *Store) Hash(relPath string) (string, error) {
	return FileHash(s.Path(relPath))
}

// Count returns the number of snapshot files; a missing root counts as zero
func (s *Store) Count() (int, error) {
	if _, err := os.Stat(s.root); os.IsNotExist(err) {
		return 0, nil
	}
	files, err := tree.DiscoverAllFiles(s.root)
	if err != nil {
		return 0, err
	}
	return len(files), nil
}

// FileHash computes the SHA256 hash of a file
func FileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// ContentHash computes the SHA256 hash of in-memory content
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// writeFileAtomic writes data to a temp file next to dst and renames it in place
func writeFileAtomic(dst string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".aixsync-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(perm); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, dst)
}
