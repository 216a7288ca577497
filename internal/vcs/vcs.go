// Package vcs abstracts the version-control primitives scenario sync
// needs to persist and retrieve exported bundles.
//
// The core assumes nothing about the backend beyond content-addressable
// snapshots with diffable refs. The Repo interface is implemented for git
// (internal/vcs/git) and can be swapped for another backend, or mocked in
// tests, through the constructor registry.
//
// # Usage
//
//	repo, err := vcs.Open(vcs.TypeGit, scenarioRoot)
//	if err != nil {
//	    return err
//	}
//	content, err := repo.ReadFileAtRef(ctx, "scenarios/q3/assignment.json", "origin/main")
package vcs

import "context"

// Type identifies a VCS backend.
type Type string

// TypeGit is the default backend, shelling out to the git binary.
const TypeGit Type = "git"

// String returns the string representation of the backend type.
func (t Type) String() string {
	return string(t)
}

// Repo is the minimal version-control surface the sync core consumes.
//
// Operations that touch the network or filesystem take a context; its
// deadline is the caller-supplied timeout. Commit must never leave the
// working tree partially applied: a failed commit is rolled back or
// reported as not-applied.
type Repo interface {
	// Root returns the repository root directory.
	Root() string

	// Init initializes the repository if it does not exist yet.
	// Idempotent: initializing an existing repository is a no-op.
	Init(ctx context.Context) error

	// CurrentBranch returns the checked-out branch name, or empty string
	// in detached state.
	CurrentBranch() (string, error)

	// HasUncommittedChanges reports whether the working tree differs from
	// HEAD. If paths are given, only those paths are checked.
	HasUncommittedChanges(paths ...string) (bool, error)

	// Commit stages the given files and commits them with the message.
	// On failure the staged paths are unstaged again so the working tree
	// is left as it was.
	Commit(ctx context.Context, message string, files []string) error

	// DiffBetween returns the paths that changed between two refs.
	DiffBetween(ctx context.Context, refA, refB string) ([]string, error)

	// ReadFileAtRef returns a file's content as of a specific ref.
	// Returns ErrFileNotAtRef if the path does not exist at that ref.
	ReadFileAtRef(ctx context.Context, path, ref string) ([]byte, error)

	// MergeBase returns the common ancestor ref of two refs. The sync
	// core reads the base snapshot of a three-way merge from it.
	MergeBase(ctx context.Context, refA, refB string) (string, error)

	// HasRemote reports whether any remote is configured. Push and Pull
	// are no-ops without one (local-only mode).
	HasRemote() bool

	// Fetch updates remote-tracking refs without touching the working
	// tree. remote defaults to origin, ref to the current branch.
	Fetch(ctx context.Context, remote, ref string) error

	// Push publishes the ref to the remote. Transport failures surface
	// as *SyncError.
	Push(ctx context.Context, opts PushOptions) error

	// Pull integrates remote changes. Transport failures surface as
	// *SyncError; divergent histories as ErrMergeRequired.
	Pull(ctx context.Context, opts PullOptions) error
}

// PushOptions configures a push operation.
type PushOptions struct {
	// Remote is the remote name. Empty uses the configured default.
	Remote string

	// Ref is the branch to push. Empty uses the current branch.
	Ref string

	// SetUpstream configures the upstream tracking reference.
	SetUpstream bool
}

// PullOptions configures a pull operation.
type PullOptions struct {
	// Remote is the remote name. Empty uses the configured default.
	Remote string

	// Ref is the branch to pull. Empty uses the current branch.
	Ref string

	// FFOnly only allows fast-forward merges. The sync core always sets
	// this: real merging happens at the record level, never in the VCS.
	FFOnly bool
}
