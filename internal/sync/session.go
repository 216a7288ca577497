package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openplanning/scensync/internal/diff"
	"github.com/openplanning/scensync/internal/export"
	"github.com/openplanning/scensync/internal/model"
	"github.com/openplanning/scensync/internal/resolve"
	"github.com/openplanning/scensync/internal/vcs"
)

// Session is one in-flight merge for one scenario. It owns the
// scenario's lock from Begin until CommitMergedState succeeds or
// Abandon is called.
//
// Nothing is written to the repository or the store until
// CommitMergedState, so abandoning a session leaves no partial commits.
type Session struct {
	m          *Manager
	scenarioID string
	remoteRef  string
	inner      *resolve.Session
	done       bool
}

func newSession(m *Manager, scenarioID, remoteRef string, base, local, remote model.Snapshot) *Session {
	return &Session{
		m:          m,
		scenarioID: scenarioID,
		remoteRef:  remoteRef,
		inner:      resolve.NewSession(base, local, remote),
	}
}

// ScenarioID returns the scenario under merge.
func (s *Session) ScenarioID() string {
	return s.scenarioID
}

// Conflicts returns the conflict set in stable order.
func (s *Session) Conflicts() []diff.Conflict {
	return s.inner.Conflicts()
}

// Pending returns the conflicts still awaiting a decision.
func (s *Session) Pending() []diff.Conflict {
	return s.inner.Pending()
}

// State returns the state of one conflict.
func (s *Session) State(conflictID string) (resolve.State, error) {
	return s.inner.State(conflictID)
}

// Resolve applies one resolution. See resolve.Session.Resolve for the
// validation and over-allocation acknowledgment semantics.
func (s *Session) Resolve(res resolve.Resolution) ([]resolve.OverAllocationWarning, error) {
	warnings, err := s.inner.Resolve(res)
	if err == nil {
		s.m.logger.Printf("[sync] scenario %s: resolved conflict %s (%s)",
			s.scenarioID, res.ConflictID, res.Strategy)
	}
	return warnings, err
}

// Defer postpones a pending conflict.
func (s *Session) Defer(conflictID string) error {
	return s.inner.Defer(conflictID)
}

// Reopen returns a deferred conflict to pending.
func (s *Session) Reopen(conflictID string) error {
	return s.inner.Reopen(conflictID)
}

// CommitMergedState writes the merged snapshot to the scenario's bundle
// files, commits, pushes when a remote is configured, and imports the
// merged records into the store. It refuses while conflicts are still
// pending; deferred conflicts keep their local value and can be merged
// in a later session.
//
// On success the session is finished and the scenario lock released.
func (s *Session) CommitMergedState(ctx context.Context) error {
	if s.done {
		return fmt.Errorf("scenario %s: session already finished", s.scenarioID)
	}

	merged, err := s.inner.MergedSnapshot()
	if err != nil {
		return err
	}

	exporter := &export.Exporter{Clock: s.m.opts.Clock, ExportedBy: s.m.opts.ExportedBy}
	dir := filepath.Join(s.m.repo.Root(), ScenarioDir(s.scenarioID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating scenario dir: %w", err)
	}

	var files []string
	bundles := make(map[model.EntityType]*export.Bundle)
	for _, t := range model.EntityTypes() {
		bundle, err := exporter.Export(s.scenarioID, t, merged.Records(t))
		if err != nil {
			return fmt.Errorf("exporting merged %s: %w", t, err)
		}
		bundles[t] = bundle
		if err := export.WriteBundleFile(dir, bundle); err != nil {
			return err
		}
		files = append(files, BundlePath(s.scenarioID, t))
	}

	msg := fmt.Sprintf("scensync: merge %s into scenario %s", s.remoteRef, s.scenarioID)
	if err := s.m.repo.Commit(ctx, msg, files); err != nil {
		return err
	}

	if s.m.repo.HasRemote() {
		branch, err := s.m.repo.CurrentBranch()
		if err != nil {
			return err
		}
		err = s.m.repo.Push(ctx, vcs.PushOptions{Remote: s.m.opts.Remote, Ref: branch})
		if err != nil {
			// The merge commit is local and valid either way; the push
			// can be retried.
			s.m.logger.Printf("[sync] scenario %s: push failed: %v", s.scenarioID, err)
			if !vcs.IsRetryable(err) {
				return err
			}
		}
	}

	for _, t := range model.EntityTypes() {
		records, err := export.Import(bundles[t])
		if err != nil {
			return fmt.Errorf("importing merged %s: %w", t, err)
		}
		if err := s.m.store.ReplaceAll(ctx, s.scenarioID, t, records); err != nil {
			return fmt.Errorf("storing merged %s: %w", t, err)
		}
	}

	s.finish()
	s.m.logger.Printf("[sync] scenario %s: merged state committed", s.scenarioID)
	return nil
}

// Abandon discards the session and releases the scenario lock. The
// repository and store are untouched: the pre-merge export commit is the
// only thing Begin wrote, and it reflected real local state.
func (s *Session) Abandon() {
	if s.done {
		return
	}
	s.m.logger.Printf("[sync] scenario %s: session abandoned with %d unresolved conflicts",
		s.scenarioID, len(s.inner.Pending()))
	s.finish()
}

func (s *Session) finish() {
	s.done = true
	s.m.locks.unlock(s.scenarioID)
}
