//go:build integration

package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

const defaultTimeout = 5 * time.Minute

// Harness builds the aixsync binary once and runs it against scratch repos
type Harness struct {
	t      *testing.T
	binary string
	env    []string
}

// NewHarness creates a new test harness. git is required.
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	return &Harness{
		t:      t,
		binary: filepath.Join(t.TempDir(), "aixsync"),
		env: append(os.Environ(),
			"GIT_CONFIG_NOSYSTEM=1",
			"NO_COLOR=1",
		),
	}
}

// BuildBinary compiles ./cmd/aixsync into the harness temp dir
func (h *Harness) BuildBinary(ctx context.Context) error {
	h.t.Helper()

	projectRoot, err := findProjectRoot()
	if err != nil {
		return fmt.Errorf("get project root: %w", err)
	}

	cmd := exec.CommandContext(ctx, "go", "build", "-o", h.binary, "./cmd/aixsync")
	cmd.Dir = projectRoot
	cmd.Stdout = &testWriter{t: h.t, prefix: "[build] "}
	cmd.Stderr = &testWriter{t: h.t, prefix: "[build] "}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("go build: %w", err)
	}

	h.t.Logf("Binary built at %s", h.binary)
	return nil
}

// Run executes aixsync in dir and returns stdout, stderr and the exit code
func (h *Harness) Run(ctx context.Context, dir string, args ...string) (string, string, int, error) {
	h.t.Helper()
	return h.exec(ctx, dir, h.binary, args...)
}

// MustRun executes aixsync and fails the test if it returns non-zero
func (h *Harness) MustRun(ctx context.Context, dir string, args ...string) string {
	h.t.Helper()
	stdout, stderr, exitCode, err := h.Run(ctx, dir, args...)
	if err != nil {
		h.t.Fatalf("exec failed: %v", err)
	}
	if exitCode != 0 {
		h.t.Fatalf("aixsync failed with exit code %d\nstdout: %s\nstderr: %s\nargs: %v",
			exitCode, stdout, stderr, args)
	}
	return stdout
}

// MustGit runs git in dir and fails the test on error
func (h *Harness) MustGit(ctx context.Context, dir string, args ...string) string {
	h.t.Helper()
	stdout, stderr, exitCode, err := h.exec(ctx, dir, "git", args...)
	if err != nil || exitCode != 0 {
		h.t.Fatalf("git %v failed (exit %d, err %v): %s", args, exitCode, err, stderr)
	}
	return strings.TrimSpace(stdout)
}

func (h *Harness) exec(ctx context.Context, dir, name string, args ...string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = h.env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return "", "", 0, fmt.Errorf("exec failed: %w", err)
		}
		exitCode = exitErr.ExitCode()
	}

	return stdout.String(), stderr.String(), exitCode, nil
}

// WriteFile writes a file, creating parent directories
func (h *Harness) WriteFile(path, content string) {
	h.t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		h.t.Fatalf("mkdir parent: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		h.t.Fatalf("write file: %v", err)
	}
}

// ReadFile reads a file, failing the test when it is missing
func (h *Harness) ReadFile(path string) string {
	h.t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		h.t.Fatalf("read file: %v", err)
	}
	return string(data)
}

// FileExists checks if a regular file exists
func (h *Harness) FileExists(path string) bool {
	h.t.Helper()
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// testWriter wraps test logging for command output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	lines := strings.Split(string(p), "\n")
	for _, line := range lines {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)

// findProjectRoot walks up the directory tree from the current file to find go.mod
func findProjectRoot() (string, error) {
	// Get the directory of this source file
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("failed to get caller information")
	}

	dir := filepath.Dir(filename)

	// Walk up the directory tree looking for go.mod
	for {
		goModPath := filepath.Join(dir, "go.mod")
		if _, err := os.Stat(goModPath); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached the root without finding go.mod
			return "", fmt.Errorf("go.mod not found in any parent directory")
		}
		dir = parent
	}
}
