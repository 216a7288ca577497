package git

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/openplanning/scensync/internal/vcs"
)

// HasRemote returns true if any remote is configured.
func (g *Git) HasRemote() bool {
	cmd := exec.Command("git", "remote")
	cmd.Dir = g.root

	output, err := cmd.Output()
	if err != nil {
		return false
	}

	return len(strings.TrimSpace(string(output))) > 0
}

// Fetch updates remote-tracking refs. If remote is empty, origin is used.
// Skipped silently when no remote is configured (local-only mode).
func (g *Git) Fetch(ctx context.Context, remote, ref string) error {
	if !g.HasRemote() {
		return nil
	}

	if remote == "" {
		remote = "origin"
	}

	args := []string{"fetch", remote}
	if ref != "" {
		args = append(args, ref)
	}

	if output, err := g.exec(ctx, args...); err != nil {
		return transportError("fetch", remote, ctx, err, string(output))
	}

	return nil
}

// Push publishes the ref to the remote. Transport failures surface as
// *vcs.SyncError; a non-fast-forward rejection as vcs.ErrPushRejected.
func (g *Git) Push(ctx context.Context, opts vcs.PushOptions) error {
	if !g.HasRemote() {
		return nil
	}

	remote, ref, err := g.resolveRemoteRef(opts.Remote, opts.Ref)
	if err != nil {
		return err
	}

	args := []string{"push"}
	if opts.SetUpstream {
		args = append(args, "-u")
	}
	args = append(args, remote, ref)

	if output, err := g.exec(ctx, args...); err != nil {
		outputStr := string(output)
		if strings.Contains(outputStr, "rejected") || strings.Contains(outputStr, "non-fast-forward") {
			return vcs.ErrPushRejected
		}
		return transportError("push", remote, ctx, err, outputStr)
	}

	return nil
}

// Pull integrates remote changes. Divergent histories surface as
// vcs.ErrMergeRequired: bundle files must never be merged textually, the
// record-level merge session handles divergence instead.
func (g *Git) Pull(ctx context.Context, opts vcs.PullOptions) error {
	if !g.HasRemote() {
		return nil
	}

	remote, ref, err := g.resolveRemoteRef(opts.Remote, opts.Ref)
	if err != nil {
		return err
	}

	args := []string{"pull"}
	if opts.FFOnly {
		args = append(args, "--ff-only")
	}
	args = append(args, remote, ref)

	if output, err := g.exec(ctx, args...); err != nil {
		outputStr := string(output)
		if strings.Contains(outputStr, "non-fast-forward") ||
			strings.Contains(outputStr, "divergent") ||
			strings.Contains(outputStr, "Not possible to fast-forward") {
			return vcs.ErrMergeRequired
		}
		if strings.Contains(outputStr, "CONFLICT") {
			return vcs.ErrMergeRequired
		}
		return transportError("pull", remote, ctx, err, outputStr)
	}

	return nil
}

// resolveRemoteRef fills in the configured remote and current branch for
// empty options.
func (g *Git) resolveRemoteRef(remote, ref string) (string, string, error) {
	branch, err := g.CurrentBranch()
	if err != nil {
		return "", "", err
	}

	if remote == "" {
		if branch != "" {
			cmd := exec.Command("git", "config", "--get", fmt.Sprintf("branch.%s.remote", branch))
			cmd.Dir = g.root
			if output, err := cmd.Output(); err == nil {
				remote = strings.TrimSpace(string(output))
			}
		}
		if remote == "" {
			remote = "origin"
		}
	}

	if ref == "" {
		if branch == "" {
			return "", "", vcs.ErrDetached
		}
		ref = branch
	}

	return remote, ref, nil
}

// transportError wraps a failed network operation as *vcs.SyncError,
// preserving a context timeout as the cause when the deadline expired.
func transportError(op, remote string, ctx context.Context, err error, output string) error {
	cause := err
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(ctxErr, context.DeadlineExceeded) {
		cause = context.DeadlineExceeded
	} else if output != "" {
		cause = fmt.Errorf("%w: %s", err, strings.TrimSpace(output))
	}
	return &vcs.SyncError{Op: op, Remote: remote, Err: cause}
}
