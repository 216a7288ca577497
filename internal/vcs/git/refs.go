package git

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/openplanning/scensync/internal/vcs"
)

// DiffBetween returns the paths that changed between two refs.
func (g *Git) DiffBetween(ctx context.Context, refA, refB string) ([]string, error) {
	output, err := g.exec(ctx, "diff", "--name-only", refA, refB)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if line != "" {
			files = append(files, line)
		}
	}

	return files, nil
}

// ReadFileAtRef returns a file's content as of a specific ref.
// Returns vcs.ErrFileNotAtRef if the path does not exist at that ref,
// which the sync core treats as "no records of this type in that
// snapshot" rather than corruption.
func (g *Git) ReadFileAtRef(ctx context.Context, path, ref string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", "show", ref+":"+path)
	cmd.Dir = g.root

	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			stderr := string(exitErr.Stderr)
			if strings.Contains(stderr, "does not exist") ||
				strings.Contains(stderr, "exists on disk, but not in") {
				return nil, fmt.Errorf("%s at %s: %w", path, ref, vcs.ErrFileNotAtRef)
			}
		}
		return nil, fmt.Errorf("failed to read %s at %s: %w", path, ref, err)
	}

	return output, nil
}

// MergeBase returns the common ancestor commit of two refs.
func (g *Git) MergeBase(ctx context.Context, refA, refB string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "merge-base", refA, refB)
	cmd.Dir = g.root

	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to find merge base of %s and %s: %w", refA, refB, err)
	}

	return strings.TrimSpace(string(output)), nil
}
