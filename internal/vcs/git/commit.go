package git

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// HasUncommittedChanges returns true if the working tree differs from
// HEAD. If paths are specified, only those paths are checked.
func (g *Git) HasUncommittedChanges(paths ...string) (bool, error) {
	args := []string{"status", "--porcelain"}
	if len(paths) > 0 {
		args = append(args, "--")
		args = append(args, paths...)
	}

	cmd := exec.Command("git", args...)
	cmd.Dir = g.root

	output, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("git status failed: %w", err)
	}

	return len(strings.TrimSpace(string(output))) > 0, nil
}

// Commit stages the given files and commits them.
//
// A failed commit unstages the paths again, so the working tree is never
// left half-applied: either the commit exists or the tree looks exactly
// as it did before the call.
func (g *Git) Commit(ctx context.Context, message string, files []string) error {
	if message == "" {
		return fmt.Errorf("commit message is required")
	}
	if len(files) == 0 {
		return fmt.Errorf("commit requires at least one file")
	}

	addArgs := append([]string{"add", "--"}, files...)
	if _, err := g.exec(ctx, addArgs...); err != nil {
		return err
	}

	commitArgs := []string{"commit", "--no-verify", "-m", message, "--"}
	commitArgs = append(commitArgs, files...)
	if _, err := g.exec(ctx, commitArgs...); err != nil {
		g.unstage(files)
		return fmt.Errorf("commit not applied: %w", err)
	}

	return nil
}

// unstage resets the index for the given paths. Best effort: the commit
// already failed, this just restores the pre-Commit tree state.
func (g *Git) unstage(files []string) {
	args := append([]string{"reset", "-q", "HEAD", "--"}, files...)
	cmd := exec.Command("git", args...)
	cmd.Dir = g.root
	_ = cmd.Run()
}
