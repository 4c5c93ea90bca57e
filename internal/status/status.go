package status

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/schaermu/aixsync/internal/config"
	"github.com/schaermu/aixsync/internal/git"
	"github.com/schaermu/aixsync/internal/manifest"
	"github.com/schaermu/aixsync/internal/snapshot"
)

// UnknownVersion is reported when the framework checkout has no readable HEAD
const UnknownVersion = "unknown"

// Guardrails are the architecture documents every adopting repo should carry
var Guardrails = []string{
	"docs/architecture/overview.md",
	"docs/architecture/constraints.md",
	"docs/architecture/ownership.md",
}

const (
	suggestGuardrails = "Adopt architecture guardrails (Tier 1) or add docs/architecture/*."
	suggestSync       = "Run aixsync sync to merge upstream updates."
	suggestManifest   = "Manifest missing. Run bootstrap/upgrade or re-init manifest."
)

// Tier is the repo's adoption record in .aix/tier.yaml
type Tier struct {
	Tier       string   `yaml:"tier"`
	Name       string   `yaml:"name"`
	AixVersion string   `yaml:"aix_version"`
	Adopted    []string `yaml:"adopted"`
}

// Report summarizes the adoption state of a repo
type Report struct {
	RepoRoot          string   `json:"repo_root"`
	Tier              *string  `json:"tier"`
	TierName          *string  `json:"tier_name"`
	AixVersion        *string  `json:"aix_version"`
	FrameworkRoot     *string  `json:"framework_root"`
	FrameworkVersion  *string  `json:"framework_version"`
	RegistryPath      *string  `json:"registry_path"`
	ManifestPath      *string  `json:"manifest_path"`
	ManifestFiles     int      `json:"manifest_files"`
	SnapshotFiles     int      `json:"snapshot_files"`
	GuardrailsMissing []string `json:"guardrails_missing"`
	Adopted           []string `json:"adopted"`
	Capabilities      []string `json:"capabilities"`
	Suggestions       []string `json:"suggestions"`
}

// Reporter gathers status reports
type Reporter struct {
	cfg    *config.Config
	git    git.Client
	logger *slog.Logger
}

// NewReporter creates a reporter for the repo described by cfg
func NewReporter(cfg *config.Config, gitClient git.Client, logger *slog.Logger) *Reporter {
	return &Reporter{cfg: cfg, git: gitClient, logger: logger}
}

// Build collects the report. Missing pieces are reported as absent; only
// unreadable files fail the call.
func (r *Reporter) Build(ctx context.Context) (*Report, error) {
	report := &Report{
		RepoRoot:          r.cfg.Paths.RepoRoot,
		GuardrailsMissing: []string{},
		Adopted:           []string{},
		Capabilities:      []string{},
		Suggestions:       []string{},
	}

	tier, err := ReadTier(r.cfg.TierFile())
	if err != nil {
		return nil, err
	}

	m, err := manifest.Load(r.cfg.Paths.Manifest)
	if err != nil {
		return nil, err
	}
	manifestPresent := fileExists(r.cfg.Paths.Manifest)

	report.Tier = optional(tier.Tier)
	report.TierName = optional(tier.Name)
	if tier.Adopted != nil {
		report.Adopted = tier.Adopted
	}
	report.AixVersion = optional(tier.AixVersion)
	if report.AixVersion == nil {
		report.AixVersion = optional(m.AixVersion)
	}

	if info, err := os.Stat(r.cfg.Paths.FrameworkRoot); err == nil && info.IsDir() {
		root := r.cfg.Paths.FrameworkRoot
		report.FrameworkRoot = &root

		version := r.frameworkVersion(ctx, root)
		report.FrameworkVersion = &version

		registry := filepath.Join(root, "registry.tsv")
		if fileExists(registry) {
			report.RegistryPath = &registry
		}
	}

	if manifestPresent {
		path := r.cfg.Paths.Manifest
		report.ManifestPath = &path
	}
	report.ManifestFiles = len(m.Files)

	report.SnapshotFiles, err = snapshot.NewStore(r.cfg.Paths.SnapshotDir).Count()
	if err != nil {
		return nil, fmt.Errorf("failed to count snapshots: %w", err)
	}

	for _, rel := range Guardrails {
		if !fileExists(filepath.Join(r.cfg.Paths.RepoRoot, filepath.FromSlash(rel))) {
			report.GuardrailsMissing = append(report.GuardrailsMissing, rel)
		}
	}

	report.Capabilities = append(report.Capabilities, m.Capabilities()...)
	sort.Strings(report.Capabilities)

	if len(report.GuardrailsMissing) > 0 {
		report.Suggestions = append(report.Suggestions, suggestGuardrails)
	}
	if report.FrameworkVersion != nil && report.AixVersion != nil && *report.FrameworkVersion != *report.AixVersion {
		report.Suggestions = append(report.Suggestions, suggestSync)
	}
	if !manifestPresent {
		report.Suggestions = append(report.Suggestions, suggestManifest)
	}

	r.logger.Debug("status collected",
		"manifest_files", report.ManifestFiles,
		"snapshot_files", report.SnapshotFiles,
		"guardrails_missing", len(report.GuardrailsMissing))

	return report, nil
}

func (r *Reporter) frameworkVersion(ctx context.Context, root string) string {
	version, err := r.git.ShortHead(ctx, root)
	if err != nil || version == "" {
		r.logger.Debug("framework version unavailable", "root", root, "error", err)
		return UnknownVersion
	}
	return version
}

// ReadTier parses the tier file at path. A missing file yields an empty tier.
func ReadTier(path string) (*Tier, error) {
	var tier Tier

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &tier, nil
		}
		return nil, fmt.Errorf("failed to read tier file: %w", err)
	}

	if err := yaml.Unmarshal(data, &tier); err != nil {
		return nil, fmt.Errorf("failed to parse tier file: %w", err)
	}
	return &tier, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
