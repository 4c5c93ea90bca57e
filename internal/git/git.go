package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/schaermu/aixsync/internal/merge"
)

// Client provides the git queries used to locate repositories
type Client interface {
	// TopLevel returns the root of the work tree containing dir
	TopLevel(ctx context.Context, dir string) (string, error)
	// ShortHead returns the abbreviated commit hash checked out in dir
	ShortHead(ctx context.Context, dir string) (string, error)
}

// ShellClient implements Client and merge.Merger by shelling out to the git command
type ShellClient struct {
	binary string
}

// NewShellClient creates a new git client that uses the git command
func NewShellClient() *ShellClient {
	return &ShellClient{binary: "git"}
}

// TopLevel runs `git rev-parse --show-toplevel` in dir
func (c *ShellClient) TopLevel(ctx context.Context, dir string) (string, error) {
	cmd := exec.CommandContext(ctx, c.binary, "-C", dir, "rev-parse", "--show-toplevel")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse --show-toplevel failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// ShortHead runs `git rev-parse --short HEAD` in dir
func (c *ShellClient) ShortHead(ctx context.Context, dir string) (string, error) {
	cmd := exec.CommandContext(ctx, c.binary, "-C", dir, "rev-parse", "--short", "HEAD")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse --short HEAD failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// Merge implements merge.Merger with `git merge-file -p`. git exits with the
// number of conflicts (capped at 127) and with a larger or negative status on
// failure.
func (c *ShellClient) Merge(ctx context.Context, local, base, upstream []byte) (*merge.Result, error) {
	tmpDir, err := os.MkdirTemp("", "aixsync-merge-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create merge workspace: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(tmpDir)
	}()

	paths := make([]string, 0, 3)
	for _, f := range []struct {
		name string
		data []byte
	}{
		{merge.LabelLocal, local},
		{merge.LabelBase, base},
		{merge.LabelUpstream, upstream},
	} {
		path := filepath.Join(tmpDir, f.name)
		if err := os.WriteFile(path, f.data, 0600); err != nil {
			return nil, fmt.Errorf("failed to stage %s for merge: %w", f.name, err)
		}
		paths = append(paths, path)
	}

	cmd := exec.CommandContext(ctx, c.binary, "merge-file", "-p",
		"-L", merge.LabelLocal, "-L", merge.LabelBase, "-L", merge.LabelUpstream,
		paths[0], paths[1], paths[2])
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if err == nil {
		return &merge.Result{Content: stdout.Bytes(), Outcome: merge.OutcomeClean}, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code >= 1 && code <= 127 {
			return &merge.Result{
				Content:   stdout.Bytes(),
				Outcome:   merge.OutcomeConflict,
				Conflicts: code,
			}, nil
		}
		return nil, fmt.Errorf("%w: git merge-file exited %d: %s", merge.ErrUnmergeable, code, strings.TrimSpace(stderr.String()))
	}

	return nil, fmt.Errorf("git merge-file failed: %w", err)
}
