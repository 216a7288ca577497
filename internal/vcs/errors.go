package vcs

import (
	"context"
	"errors"
	"fmt"
)

// Common errors returned by VCS operations.
//
// These can be checked with errors.Is():
//
//	if errors.Is(err, vcs.ErrNotInRepo) {
//	    // scenario directory is not under version control yet
//	}
var (
	// ErrNotInRepo is returned when the operation requires a repository
	// but none was found at the path.
	ErrNotInRepo = errors.New("not in a repository")

	// ErrBackendNotAvailable is returned when the backend binary (git)
	// is not installed or not in PATH.
	ErrBackendNotAvailable = errors.New("VCS binary not available")

	// ErrNoRemote is returned when an operation requires a remote but
	// none is configured.
	ErrNoRemote = errors.New("no remote configured")

	// ErrDetached is returned when an operation needs a branch but HEAD
	// is detached.
	ErrDetached = errors.New("not on a branch")

	// ErrPushRejected is returned when the remote rejects a push,
	// typically a non-fast-forward update.
	ErrPushRejected = errors.New("push rejected by remote")

	// ErrMergeRequired is returned when a pull finds divergent histories.
	// This is the signal to start a record-level merge session rather
	// than let the VCS merge bundle files textually.
	ErrMergeRequired = errors.New("merge required")

	// ErrFileNotAtRef is returned by ReadFileAtRef when the path does
	// not exist at the requested ref.
	ErrFileNotAtRef = errors.New("file not present at ref")
)

// SyncError is a transport-level failure (network, auth, timeout) during
// push, pull, or fetch. It is distinct from data-level errors: a
// SyncError means the bytes never moved, not that the data conflicts.
// Retry per caller policy.
type SyncError struct {
	// Op is the operation that failed: push, pull, or fetch.
	Op string

	// Remote is the remote involved.
	Remote string

	// Err is the underlying cause.
	Err error
}

// Error names the operation and remote so the failure is actionable.
func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s to %s failed: %v", e.Op, e.Remote, e.Err)
}

// Unwrap returns the underlying cause.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was a caller-supplied timeout
// expiring.
func (e *SyncError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// IsRetryable returns true if the error is likely to succeed on retry,
// such as transient network failures or a push rejected because the
// remote moved.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return true
	}

	// Push rejections might succeed after a pull
	if errors.Is(err, ErrPushRejected) {
		return true
	}

	return false
}

// IsFatal returns true if the error indicates a non-recoverable state
// that requires manual intervention or re-initialization.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrNotInRepo) {
		return true
	}

	if errors.Is(err, ErrBackendNotAvailable) {
		return true
	}

	return false
}
