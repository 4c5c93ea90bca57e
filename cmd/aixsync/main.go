package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/schaermu/aixsync/internal/config"
	"github.com/schaermu/aixsync/internal/git"
	"github.com/schaermu/aixsync/internal/manifest"
	"github.com/schaermu/aixsync/internal/merge"
	"github.com/schaermu/aixsync/internal/snapshot"
	"github.com/schaermu/aixsync/internal/status"
	"github.com/schaermu/aixsync/internal/sync"
	"github.com/schaermu/aixsync/internal/ui"
	"github.com/schaermu/aixsync/internal/watch"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile       string
	logLevel      string
	logFormat     string
	logFile       string
	noColor       bool
	repoRoot      string
	frameworkRoot string
	manifestPath  string

	// Sync flags
	outputDir   string
	apply       bool
	jsonOutput  bool
	watchMode   bool
	showDiff    bool
	rebaseline  bool
	mergeDriver string

	// Manifest flags
	sourcePath string
	destPath   string
	sourceRoot string
	destRoot   string
	capability string
	aixVersion string
)

// errWriteFailures signals a completed run in which some results could not be written
var errWriteFailures = errors.New("some results could not be written")

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "aixsync",
	Short: "Keep framework-installed files in sync with their upstream templates",
	Long: `aixsync reconciles files a repository received from the AIX framework with
the current upstream templates. Every tracked file is compared against the
snapshot taken at install time and its upstream source, then left alone,
fast-forwarded, three-way merged or flagged for manual review.

By default all candidate content is staged below .aix/sync and no tracked file
is touched. Pass --apply to update files in place; conflicts are always staged.`,
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile tracked files with upstream",
	Long: `Sync classifies every file listed in the manifest, merges diverged files and
stages or applies the results. A report is printed to stdout; logs go to stderr.

Exits non-zero when the manifest cannot be read or a result could not be
written. Merge conflicts are reported but are not failures.`,
	RunE: runSync,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report the framework adoption state of the repository",
	RunE:  runStatus,
}

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Maintain the manifest of tracked files",
}

var manifestInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the manifest if missing and stamp its dates",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRecorder(cmd, func(r *manifest.Recorder) error {
			return r.Init()
		})
	},
}

var manifestTouchCmd = &cobra.Command{
	Use:   "touch",
	Short: "Refresh the manifest's updated_at and version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRecorder(cmd, func(r *manifest.Recorder) error {
			return r.Touch()
		})
	},
}

var manifestRecordCmd = &cobra.Command{
	Use:   "record",
	Short: "Track one installed file and snapshot its base version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRecorder(cmd, func(r *manifest.Recorder) error {
			added, err := r.Record(absFlag(sourcePath), destPath, capability)
			if err != nil {
				return err
			}
			if added {
				fmt.Fprintf(cmd.OutOrStdout(), "recorded %s\n", destPath)
			}
			return nil
		})
	},
}

var manifestRecordDirCmd = &cobra.Command{
	Use:   "record-dir",
	Short: "Track every file installed from a source directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRecorder(cmd, func(r *manifest.Recorder) error {
			added, err := r.RecordDir(absFlag(sourceRoot), destRoot, capability)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recorded %d files\n", added)
			return nil
		})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("aixsync %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is <repo>/.aix/sync.yaml when present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to a rotated file instead of stderr")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&repoRoot, "repo-root", "", "repository root (default is the git top level of the working dir)")
	rootCmd.PersistentFlags().StringVar(&frameworkRoot, "framework-root", "", "upstream framework tree (default is $AIX_FRAMEWORK or ~/tools/aix)")
	rootCmd.PersistentFlags().StringVar(&manifestPath, "manifest", "", "manifest path (default is <repo>/.aix/manifest.json)")

	// Sync command flags
	syncCmd.Flags().StringVar(&outputDir, "output-dir", "", "staging directory (default is <repo>/.aix/sync)")
	syncCmd.Flags().BoolVar(&apply, "apply", false, "apply clean results to tracked files in place")
	syncCmd.Flags().BoolVar(&jsonOutput, "json", false, "print the report as JSON")
	syncCmd.Flags().BoolVar(&watchMode, "watch", false, "re-run whenever upstream or the manifest changes")
	syncCmd.Flags().BoolVar(&showDiff, "diff", false, "print a unified diff for every candidate")
	syncCmd.Flags().BoolVar(&rebaseline, "rebaseline", false, "move the snapshot to upstream after applying in place")
	syncCmd.Flags().StringVar(&mergeDriver, "merge-driver", "", "merge implementation (builtin, git)")

	statusCmd.Flags().BoolVar(&jsonOutput, "json", false, "print the report as JSON")

	// Manifest command flags
	manifestCmd.PersistentFlags().StringVar(&aixVersion, "aix-version", "", "framework version to record in the manifest")
	manifestRecordCmd.Flags().StringVar(&sourcePath, "source", "", "upstream file the destination was installed from")
	manifestRecordCmd.Flags().StringVar(&destPath, "dest", "", "installed file, relative to the repo root")
	manifestRecordCmd.Flags().StringVar(&capability, "capability", "", "capability tag for the entry")
	_ = manifestRecordCmd.MarkFlagRequired("source")
	_ = manifestRecordCmd.MarkFlagRequired("dest")
	manifestRecordDirCmd.Flags().StringVar(&sourceRoot, "source-root", "", "upstream directory to record")
	manifestRecordDirCmd.Flags().StringVar(&destRoot, "dest-root", "", "installed directory, relative to the repo root")
	manifestRecordDirCmd.Flags().StringVar(&capability, "capability", "", "capability tag for the entries")
	_ = manifestRecordDirCmd.MarkFlagRequired("source-root")
	_ = manifestRecordDirCmd.MarkFlagRequired("dest-root")

	// Add commands
	manifestCmd.AddCommand(manifestInitCmd)
	manifestCmd.AddCommand(manifestTouchCmd)
	manifestCmd.AddCommand(manifestRecordCmd)
	manifestCmd.AddCommand(manifestRecordDirCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(manifestCmd)
	rootCmd.AddCommand(versionCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	cfg, err := loadConfig(ctx, cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := setupLogger(cfg.Log)
	ui.Init(noColor)

	engine := sync.NewEngine(cfg, newMerger(cfg), logger, cfg.Sync.Apply)
	out := cmd.OutOrStdout()

	if watchMode {
		w, err := watch.New(cfg.Paths.FrameworkRoot, cfg.Paths.Manifest, watch.DefaultDebounce, logger)
		if err != nil {
			return err
		}
		defer func() { _ = w.Close() }()

		logger.Info("watching for changes", "framework", cfg.Paths.FrameworkRoot, "manifest", cfg.Paths.Manifest)
		return w.Run(ctx, func(ctx context.Context) error {
			report, err := engine.Run(ctx)
			if report != nil {
				if perr := printSyncReport(out, report); perr != nil {
					return perr
				}
			}
			return err
		})
	}

	report, err := engine.Run(ctx)
	if report != nil {
		if perr := printSyncReport(out, report); perr != nil {
			return perr
		}
	}
	if err != nil {
		logger.Error("sync failed", "error", err)
		return err
	}

	if report.HasFailures() {
		return errWriteFailures
	}
	return nil
}

func printSyncReport(w io.Writer, report *sync.Report) error {
	if jsonOutput {
		return writeJSON(w, report)
	}

	ui.SyncReport(w, report)

	if !showDiff {
		return nil
	}
	for _, res := range report.Results {
		if res.Candidate == nil {
			continue
		}
		before := res.Previous
		if !res.Applied {
			before, _ = os.ReadFile(filepath.Join(report.RepoRoot, filepath.FromSlash(res.Path)))
		}
		if diff := ui.UnifiedDiff(res.Path, before, res.Candidate); diff != "" {
			fmt.Fprintln(w)
			fmt.Fprint(w, diff)
		}
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	cfg, err := loadConfig(ctx, cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := setupLogger(cfg.Log)
	ui.Init(noColor)

	report, err := status.NewReporter(cfg, git.NewShellClient(), logger).Build(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), report)
	}
	ui.StatusReport(cmd.OutOrStdout(), report)
	return nil
}

func withRecorder(cmd *cobra.Command, fn func(*manifest.Recorder) error) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	cfg, err := loadConfig(ctx, cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := setupLogger(cfg.Log)
	recorder := manifest.NewRecorder(
		cfg.Paths.Manifest,
		cfg.Paths.RepoRoot,
		cfg.Paths.FrameworkRoot,
		aixVersion,
		snapshot.NewStore(cfg.Paths.SnapshotDir),
		logger,
	)
	return fn(recorder)
}

// newMerger returns the merge implementation selected by sync.merge_driver
func newMerger(cfg *config.Config) merge.Merger {
	if cfg.Sync.MergeDriver == merge.DriverGit {
		return git.NewShellClient()
	}
	return merge.NewBuiltin()
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func setupLogger(logCfg config.LogConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// stdout is reserved for reports
	var out io.Writer = os.Stderr
	if logCfg.File != "" {
		out = &lumberjack.Logger{
			Filename:   logCfg.File,
			MaxSize:    logCfg.MaxSizeMB,
			MaxBackups: logCfg.MaxBackups,
			MaxAge:     logCfg.MaxAgeDays,
		}
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler)
}

// loadConfig builds the configuration from defaults, the environment, the
// config file and the command line, in increasing order of precedence
func loadConfig(ctx context.Context, cmd *cobra.Command) (*config.Config, error) {
	repo, err := defaultRepoRoot(ctx)
	if err != nil {
		return nil, err
	}
	if repoRoot != "" {
		repo = absFlag(repoRoot)
	}

	configPath := cfgFile
	if configPath == "" {
		if candidate := config.DefaultFile(repo); fileExists(candidate) {
			configPath = candidate
		}
	}

	cfg := config.Default()
	if configPath != "" {
		if cfg, err = config.Load(configPath); err != nil {
			return nil, err
		}
	}

	applyFlags(cmd, cfg)

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}
	if err := cfg.Resolve(repo, os.Getenv, home); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyFlags overrides file settings with flags given on the command line
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()

	if flags.Changed("repo-root") {
		cfg.Paths.RepoRoot = absFlag(repoRoot)
	}
	if flags.Changed("framework-root") {
		cfg.Paths.FrameworkRoot = absFlag(frameworkRoot)
	}
	if flags.Changed("manifest") {
		cfg.Paths.Manifest = absFlag(manifestPath)
	}
	if flags.Changed("output-dir") {
		cfg.Paths.OutputDir = absFlag(outputDir)
	}
	if flags.Changed("apply") {
		cfg.Sync.Apply = apply
	}
	if flags.Changed("rebaseline") {
		cfg.Sync.Rebaseline = rebaseline
	}
	if flags.Changed("merge-driver") {
		cfg.Sync.MergeDriver = mergeDriver
	}
	if flags.Changed("log-file") {
		cfg.Log.File = absFlag(logFile)
	}
}

// defaultRepoRoot is the git top level of the working dir, or the working dir itself
func defaultRepoRoot(ctx context.Context) (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	if top, err := git.NewShellClient().TopLevel(ctx, cwd); err == nil && top != "" {
		return top, nil
	}
	return cwd, nil
}

// absFlag resolves a path flag against the working dir
func absFlag(path string) string {
	if path == "" {
		return ""
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
