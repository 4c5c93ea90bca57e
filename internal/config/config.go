package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/schaermu/aixsync/internal/merge"
)

// FrameworkEnv names the environment variable pointing at the upstream tree
const FrameworkEnv = "AIX_FRAMEWORK"

// ErrInvalid wraps every validation failure
var ErrInvalid = errors.New("invalid configuration")

// Config represents the complete aixsync configuration
type Config struct {
	Paths PathsConfig `yaml:"paths"`
	Sync  SyncConfig  `yaml:"sync"`
	Log   LogConfig   `yaml:"log"`
}

// PathsConfig configures the filesystem locations a run works on
type PathsConfig struct {
	RepoRoot      string `yaml:"repo_root"`
	FrameworkRoot string `yaml:"framework_root"`
	Manifest      string `yaml:"manifest"`
	OutputDir     string `yaml:"output_dir"`
	SnapshotDir   string `yaml:"snapshot_dir"`
}

// SyncConfig configures sync behavior
type SyncConfig struct {
	Apply       bool   `yaml:"apply"`
	MergeDriver string `yaml:"merge_driver"`
	Rebaseline  bool   `yaml:"rebaseline"`
}

// LogConfig configures an optional rotated log file
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Default returns a configuration with only defaults applied
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.validateSettings(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Paths.RepoRoot = os.ExpandEnv(c.Paths.RepoRoot)
	c.Paths.FrameworkRoot = os.ExpandEnv(c.Paths.FrameworkRoot)
	c.Paths.Manifest = os.ExpandEnv(c.Paths.Manifest)
	c.Paths.OutputDir = os.ExpandEnv(c.Paths.OutputDir)
	c.Paths.SnapshotDir = os.ExpandEnv(c.Paths.SnapshotDir)
	c.Sync.MergeDriver = os.ExpandEnv(c.Sync.MergeDriver)
	c.Log.File = os.ExpandEnv(c.Log.File)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Sync.MergeDriver == "" {
		c.Sync.MergeDriver = merge.DriverBuiltin
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 10
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 3
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = 28
	}
}

// Resolve fills every unset path and makes all paths absolute. repoRoot is
// the fallback repo root (usually the git top level of the working dir),
// getenv and home supply the framework root fallbacks. Relative paths from
// the file or flags are taken relative to the repo root.
func (c *Config) Resolve(repoRoot string, getenv func(string) string, home string) error {
	if c.Paths.RepoRoot == "" {
		c.Paths.RepoRoot = repoRoot
	}
	root, err := filepath.Abs(c.Paths.RepoRoot)
	if err != nil {
		return fmt.Errorf("failed to resolve repo root: %w", err)
	}
	c.Paths.RepoRoot = root

	if c.Paths.FrameworkRoot == "" {
		if env := getenv(FrameworkEnv); env != "" {
			c.Paths.FrameworkRoot = env
		} else {
			c.Paths.FrameworkRoot = filepath.Join(home, "tools", "aix")
		}
	}

	c.Paths.FrameworkRoot = c.absolute(c.Paths.FrameworkRoot)
	c.Paths.Manifest = c.absoluteOr(c.Paths.Manifest, c.ManifestDefault())
	c.Paths.OutputDir = c.absoluteOr(c.Paths.OutputDir, filepath.Join(c.AixDir(), "sync"))
	c.Paths.SnapshotDir = c.absoluteOr(c.Paths.SnapshotDir, filepath.Join(c.AixDir(), "snapshots"))
	if c.Log.File != "" {
		c.Log.File = c.absolute(c.Log.File)
	}

	return c.Validate()
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if err := c.validateSettings(); err != nil {
		return err
	}

	for name, path := range map[string]string{
		"paths.repo_root":      c.Paths.RepoRoot,
		"paths.framework_root": c.Paths.FrameworkRoot,
		"paths.manifest":       c.Paths.Manifest,
		"paths.output_dir":     c.Paths.OutputDir,
		"paths.snapshot_dir":   c.Paths.SnapshotDir,
	} {
		if path == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalid, name)
		}
		if !filepath.IsAbs(path) {
			return fmt.Errorf("%w: %s must be an absolute path: %s", ErrInvalid, name, path)
		}
	}

	if c.Paths.OutputDir == c.Paths.RepoRoot {
		return fmt.Errorf("%w: paths.output_dir must not be the repo root", ErrInvalid)
	}
	if c.Paths.SnapshotDir == c.Paths.RepoRoot {
		return fmt.Errorf("%w: paths.snapshot_dir must not be the repo root", ErrInvalid)
	}

	return nil
}

// validateSettings checks the non-path settings
func (c *Config) validateSettings() error {
	switch c.Sync.MergeDriver {
	case merge.DriverBuiltin, merge.DriverGit:
		// valid
	default:
		return fmt.Errorf("%w: sync.merge_driver %q (must be %s or %s)", ErrInvalid, c.Sync.MergeDriver, merge.DriverBuiltin, merge.DriverGit)
	}

	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		return fmt.Errorf("%w: log rotation settings must not be negative", ErrInvalid)
	}

	return nil
}

// AixDir returns the per-repo .aix directory
func (c *Config) AixDir() string {
	return filepath.Join(c.Paths.RepoRoot, ".aix")
}

// ManifestDefault returns the default manifest location for the repo
func (c *Config) ManifestDefault() string {
	return filepath.Join(c.AixDir(), "manifest.json")
}

// DefaultFile returns the config file looked up when --config is not given
func DefaultFile(repoRoot string) string {
	return filepath.Join(repoRoot, ".aix", "sync.yaml")
}

// TierFile returns the path of the repo's tier description
func (c *Config) TierFile() string {
	return filepath.Join(c.AixDir(), "tier.yaml")
}

// UpstreamPath returns the location of a source reference within the upstream tree
func (c *Config) UpstreamPath(source string) string {
	if filepath.IsAbs(source) {
		return source
	}
	return filepath.Join(c.Paths.FrameworkRoot, filepath.FromSlash(source))
}

func (c *Config) absolute(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(c.Paths.RepoRoot, path)
}

func (c *Config) absoluteOr(path, fallback string) string {
	if path == "" {
		return fallback
	}
	return c.absolute(path)
}
