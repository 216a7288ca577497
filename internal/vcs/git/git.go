// Package git provides a Git implementation of the vcs.Repo interface.
//
// It wraps the git binary for the operations scenario sync needs:
// repository discovery, committing exported bundles, reading snapshots at
// refs, and remote sync. Registered with the vcs registry under
// vcs.TypeGit.
package git

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/openplanning/scensync/internal/vcs"
)

func init() {
	vcs.Register(vcs.TypeGit, New)
}

// Git implements vcs.Repo for git repositories.
type Git struct {
	// root is the directory the repository lives in (or will live in
	// after Init).
	root string
}

// New creates a Git repo handle rooted at path. The path does not have to
// be a repository yet; Init creates one on demand.
func New(path string) (vcs.Repo, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	if _, err := exec.LookPath("git"); err != nil {
		return nil, vcs.ErrBackendNotAvailable
	}
	return &Git{root: absPath}, nil
}

// Root returns the repository root directory.
func (g *Git) Root() string {
	return g.root
}

// Init initializes the repository if it does not exist yet.
func (g *Git) Init(ctx context.Context) error {
	if g.isRepo() {
		return nil
	}

	if err := os.MkdirAll(g.root, 0755); err != nil {
		return fmt.Errorf("failed to create repository directory: %w", err)
	}

	cmd := exec.CommandContext(ctx, "git", "init")
	cmd.Dir = g.root

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git init failed: %w\n%s", err, string(output))
	}

	return nil
}

// isRepo reports whether root is inside a git work tree.
func (g *Git) isRepo() bool {
	cmd := exec.Command("git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = g.root
	output, err := cmd.Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(output)) == "true"
}

// CurrentBranch returns the checked-out branch name.
// Returns empty string in detached HEAD state.
func (g *Git) CurrentBranch() (string, error) {
	cmd := exec.Command("git", "symbolic-ref", "--short", "HEAD")
	cmd.Dir = g.root

	output, err := cmd.Output()
	if err != nil {
		// symbolic-ref fails on detached HEAD
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return "", nil
		}
		if strings.Contains(err.Error(), "not a symbolic ref") {
			return "", nil
		}
		return "", fmt.Errorf("failed to get current branch: %w", err)
	}

	return strings.TrimSpace(string(output)), nil
}

// exec runs a git command in the repository root and returns combined
// output, wrapping failures with the full command line.
func (g *Git) exec(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.root

	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("git %s failed: %w\n%s",
			strings.Join(args, " "), err, string(output))
	}

	return output, nil
}
