package manifest

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schaermu/aixsync/internal/snapshot"
	"github.com/schaermu/aixsync/internal/tree"
)

// Recorder registers tracked files in a manifest and takes their snapshots
type Recorder struct {
	path          string
	repoRoot      string
	frameworkRoot string
	aixVersion    string
	snapshots     *snapshot.Store
	logger        *slog.Logger
	now           func() time.Time
}

// NewRecorder creates a recorder for the manifest at path. frameworkRoot may
// be empty, in which case source references are stored as given.
func NewRecorder(path, repoRoot, frameworkRoot, aixVersion string, snapshots *snapshot.Store, logger *slog.Logger) *Recorder {
	return &Recorder{
		path:          path,
		repoRoot:      repoRoot,
		frameworkRoot: frameworkRoot,
		aixVersion:    aixVersion,
		snapshots:     snapshots,
		logger:        logger,
		now:           time.Now,
	}
}

// Init creates the manifest skeleton if absent and stamps its dates.
// installed_at is only set the first time.
func (r *Recorder) Init() error {
	m, err := Load(r.path)
	if err != nil {
		return err
	}

	if m.InstalledAt == "" {
		m.InstalledAt = r.now().Format(DateLayout)
	}
	r.stamp(m)

	r.logger.Info("initialized manifest", "path", r.path, "installed_at", m.InstalledAt)
	return Save(r.path, m)
}

// Touch refreshes updated_at and the version tag
func (r *Recorder) Touch() error {
	m, err := Load(r.path)
	if err != nil {
		return err
	}
	r.stamp(m)
	return Save(r.path, m)
}

// Record registers the file at dest (relative to the repo root unless
// absolute) as tracked, sourced from source. It is a no-op when dest does not
// exist or is already tracked. The snapshot is taken from source when it
// exists, otherwise from dest. It reports whether a new entry was added.
func (r *Recorder) Record(source, dest, capability string) (bool, error) {
	destPath := dest
	if !filepath.IsAbs(destPath) {
		destPath = filepath.Join(r.repoRoot, destPath)
	}

	if !tree.Exists(destPath) {
		r.logger.Debug("skipping record, destination missing", "dest", destPath)
		return false, nil
	}

	relPath, err := tree.RelativePath(r.repoRoot, destPath)
	if err != nil || !filepath.IsLocal(filepath.FromSlash(relPath)) {
		return false, fmt.Errorf("destination %s is outside repo root %s", destPath, r.repoRoot)
	}

	m, err := Load(r.path)
	if err != nil {
		return false, err
	}
	if _, ok := m.Lookup(relPath); ok {
		r.logger.Debug("already tracked", "path", relPath)
		return false, nil
	}

	snapshotSource := source
	if !tree.Exists(snapshotSource) {
		snapshotSource = destPath
	}
	if _, err := r.snapshots.Ensure(relPath, snapshotSource); err != nil {
		return false, err
	}

	hash, err := r.snapshots.Hash(relPath)
	if err != nil {
		return false, fmt.Errorf("failed to hash snapshot for %s: %w", relPath, err)
	}

	m.Add(Entry{
		Path:       relPath,
		Source:     r.sourceRef(source),
		Hash:       hash,
		Capability: capability,
	})
	r.stamp(m)

	if err := Save(r.path, m); err != nil {
		return false, err
	}

	r.logger.Info("recorded file", "path", relPath, "source", source, "capability", capability)
	return true, nil
}

// RecordDir records every file below sourceRoot, mapping each onto the same
// relative location below destRoot. A missing sourceRoot is a no-op. It
// returns the number of newly added entries.
func (r *Recorder) RecordDir(sourceRoot, destRoot, capability string) (int, error) {
	if _, err := os.Stat(sourceRoot); os.IsNotExist(err) {
		r.logger.Debug("skipping record-dir, source root missing", "source_root", sourceRoot)
		return 0, nil
	}

	files, err := tree.DiscoverAllFiles(sourceRoot)
	if err != nil {
		return 0, fmt.Errorf("failed to discover source files: %w", err)
	}

	added := 0
	for _, src := range files {
		rel, err := filepath.Rel(sourceRoot, src)
		if err != nil {
			return added, fmt.Errorf("failed to compute relative path: %w", err)
		}

		ok, err := r.Record(src, filepath.Join(destRoot, rel), capability)
		if err != nil {
			return added, err
		}
		if ok {
			added++
		}
	}

	return added, nil
}

// sourceRef stores source relative to the framework root when it lies below it
func (r *Recorder) sourceRef(source string) string {
	if r.frameworkRoot == "" {
		return source
	}

	absSource, err := filepath.Abs(source)
	if err != nil {
		return source
	}
	absRoot, err := filepath.Abs(r.frameworkRoot)
	if err != nil {
		return source
	}

	rel, err := filepath.Rel(absRoot, absSource)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return source
	}
	return filepath.ToSlash(rel)
}

func (r *Recorder) stamp(m *Manifest) {
	m.Stamp(r.now())
	if r.aixVersion != "" {
		m.AixVersion = r.aixVersion
	}
}
