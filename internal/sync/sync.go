package sync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/schaermu/aixsync/internal/config"
	"github.com/schaermu/aixsync/internal/manifest"
	"github.com/schaermu/aixsync/internal/merge"
	"github.com/schaermu/aixsync/internal/snapshot"
	"github.com/schaermu/aixsync/internal/tree"
)

// Engine reconciles tracked files with the upstream tree
type Engine struct {
	cfg       *config.Config
	merger    merge.Merger
	snapshots *snapshot.Store
	logger    *slog.Logger
	apply     bool
	now       func() time.Time
	newRunID  func() string
}

// NewEngine creates a new sync engine. With apply unset every candidate is
// staged below the output directory and local files are left untouched.
func NewEngine(cfg *config.Config, merger merge.Merger, logger *slog.Logger, apply bool) *Engine {
	return &Engine{
		cfg:       cfg,
		merger:    merger,
		snapshots: snapshot.NewStore(cfg.Paths.SnapshotDir),
		logger:    logger,
		apply:     apply,
		now:       time.Now,
		newRunID:  uuid.NewString,
	}
}

// Run classifies every manifest entry, executes the implied action and
// returns the run report. Only a missing or unreadable manifest, a cancelled
// context, or a failure to persist the manifest after applying fail the run;
// per-entry problems are recorded in the report. A partial report is
// returned alongside cancellation and persistence errors.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	runID := e.newRunID()
	logger := e.logger.With("run_id", runID)

	logger.Info("starting sync",
		"repo", e.cfg.Paths.RepoRoot,
		"framework", e.cfg.Paths.FrameworkRoot,
		"manifest", e.cfg.Paths.Manifest,
		"apply", e.apply)

	m, err := manifest.Read(e.cfg.Paths.Manifest)
	if err != nil {
		return nil, err
	}

	report := newReport(runID, e.cfg, e.apply)
	rebaselined := 0

	for i := range m.Files {
		if err := ctx.Err(); err != nil {
			logger.Warn("sync interrupted", "processed", i, "remaining", len(m.Files)-i)
			// snapshots already replaced must stay in step with their recorded digests
			if rebaselined > 0 {
				if saveErr := manifest.Save(e.cfg.Paths.Manifest, m); saveErr != nil {
					return report, fmt.Errorf("failed to update manifest after interruption: %w", saveErr)
				}
			}
			return report, err
		}

		hash := m.Files[i].Hash
		res := e.processEntry(ctx, logger, &m.Files[i])
		report.add(res)
		if m.Files[i].Hash != hash {
			rebaselined++
		}
	}

	if e.apply {
		m.Stamp(e.now())
		if err := manifest.Save(e.cfg.Paths.Manifest, m); err != nil {
			return report, fmt.Errorf("failed to update manifest: %w", err)
		}
	}

	logger.Info("sync completed",
		"entries", len(report.Results),
		"errors", report.Errors,
		"summary", report.Summary)

	return report, nil
}

// processEntry takes one entry from selection to a terminal status
func (e *Engine) processEntry(ctx context.Context, logger *slog.Logger, entry *manifest.Entry) Result {
	res := Result{Path: entry.Path}
	if entry.Capability != "" {
		capability := entry.Capability
		res.Capability = &capability
	}

	if !validEntry(entry) {
		res.Status, res.Action = StatusInvalidEntry, ActionManualReview
		logger.Warn("invalid manifest entry", "path", entry.Path, "source", entry.Source)
		return res
	}

	localPath := filepath.Join(e.cfg.Paths.RepoRoot, filepath.FromSlash(entry.Path))
	basePath := e.snapshots.Path(entry.Path)
	upstreamPath := e.cfg.UpstreamPath(entry.Source)

	obs, err := observe(localPath, basePath, upstreamPath)
	if err != nil {
		e.fail(logger, &res, Decision{Status: StatusMergeError, Action: ActionManualReview}, err)
		return res
	}

	decision := Classify(obs)

	var upstream, candidate []byte
	hasCandidate := decision.NeedsMerge || decision.Action.Appliable()
	if hasCandidate {
		upstream, err = os.ReadFile(upstreamPath)
		if err != nil {
			e.fail(logger, &res, Decision{Status: StatusMergeError, Action: ActionManualReview}, err)
			return res
		}
		candidate = upstream
	}

	if decision.NeedsMerge {
		merged, err := e.merge(ctx, localPath, basePath, upstream)
		decision = mergeDecision(err == nil && merged.Outcome == merge.OutcomeConflict, err)
		if err != nil {
			e.fail(logger, &res, decision, err)
			return res
		}
		candidate = merged.Content
	}

	res.Status, res.Action = decision.Status, decision.Action

	if hasCandidate {
		e.deliver(logger, &res, localPath, candidate)
	}

	if res.Applied && e.cfg.Sync.Rebaseline {
		if err := e.snapshots.Rebaseline(entry.Path, upstream); err != nil {
			res.Error = err.Error()
			logger.Warn("rebaseline failed", "path", entry.Path, "error", err)
		} else {
			entry.Hash = snapshot.ContentHash(upstream)
			logger.Debug("snapshot rebaselined", "path", entry.Path)
		}
	}

	logger.Info("entry processed",
		"path", res.Path,
		"status", res.Status,
		"action", res.Action,
		"applied", res.Applied)

	return res
}

// merge runs the merge driver over the three bodies
func (e *Engine) merge(ctx context.Context, localPath, basePath string, upstream []byte) (*merge.Result, error) {
	local, err := os.ReadFile(localPath)
	if err != nil {
		return nil, err
	}
	base, err := os.ReadFile(basePath)
	if err != nil {
		return nil, err
	}
	return e.merger.Merge(ctx, local, base, upstream)
}

// deliver writes candidate content in place (apply mode, appliable actions)
// or to the mirrored location below the output directory. A write failure is
// recorded on the result and leaves it unapplied and unstaged.
func (e *Engine) deliver(logger *slog.Logger, res *Result, localPath string, content []byte) {
	res.Candidate = content

	if e.apply && res.Action.Appliable() {
		previous, _ := os.ReadFile(localPath)
		if err := e.writeFile(localPath, content); err != nil {
			res.Error = fmt.Sprintf("failed to write %s: %v", localPath, err)
			logger.Warn("apply failed", "path", res.Path, "error", err)
			return
		}
		res.Applied = true
		res.Previous = previous
		return
	}

	outPath := filepath.Join(e.cfg.Paths.OutputDir, filepath.FromSlash(res.Path))
	if err := e.writeFile(outPath, content); err != nil {
		res.Error = fmt.Sprintf("failed to stage %s: %v", outPath, err)
		logger.Warn("staging failed", "path", res.Path, "error", err)
		return
	}
	res.Output = &outPath
}

func (e *Engine) fail(logger *slog.Logger, res *Result, d Decision, err error) {
	res.Status, res.Action = d.Status, d.Action
	res.Error = err.Error()
	logger.Warn("entry needs manual review", "path", res.Path, "status", res.Status, "error", err)
}

// observe gathers presence and digests of the three versions
func observe(localPath, basePath, upstreamPath string) (Observation, error) {
	obs := Observation{
		LocalExists:    tree.Exists(localPath),
		BaseExists:     tree.Exists(basePath),
		UpstreamExists: tree.Exists(upstreamPath),
	}

	// digests only matter once all three are present
	if !obs.LocalExists || !obs.BaseExists || !obs.UpstreamExists {
		return obs, nil
	}

	var err error
	if obs.LocalHash, err = snapshot.FileHash(localPath); err != nil {
		return obs, fmt.Errorf("failed to hash local file: %w", err)
	}
	if obs.BaseHash, err = snapshot.FileHash(basePath); err != nil {
		return obs, fmt.Errorf("failed to hash snapshot: %w", err)
	}
	if obs.UpstreamHash, err = snapshot.FileHash(upstreamPath); err != nil {
		return obs, fmt.Errorf("failed to hash upstream file: %w", err)
	}
	return obs, nil
}

// validEntry rejects malformed entries, entries lacking a path or source and
// paths that would escape the repo root
func validEntry(entry *manifest.Entry) bool {
	if entry.Malformed() || entry.Path == "" || entry.Source == "" {
		return false
	}
	return filepath.IsLocal(filepath.FromSlash(entry.Path))
}

// writeFile writes content to dst with atomic rename, keeping dst's mode when it exists
func (e *Engine) writeFile(dst string, content []byte) error {
	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	mode := os.FileMode(0644)
	if info, err := os.Stat(dst); err == nil {
		mode = info.Mode().Perm()
	}

	// Create temp file in destination directory
	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".aixsync-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	if _, err := tmpFile.Write(content); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Close(); err != nil {
		return err
	}

	// Atomic rename
	return os.Rename(tmpPath, dst)
}
