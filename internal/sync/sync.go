// Package sync orchestrates merge sessions: export the local state,
// commit it, fetch the remote branch, guard all three snapshots, diff,
// drive resolution, and finally commit and import the merged state.
//
// One session runs per scenario at a time. Sessions on distinct
// scenarios are independent and may run concurrently.
package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/openplanning/scensync/internal/export"
	"github.com/openplanning/scensync/internal/guard"
	"github.com/openplanning/scensync/internal/model"
	"github.com/openplanning/scensync/internal/vcs"
)

// Store is the scenario data source and sink. The embedded sqlite store
// implements it; tests substitute an in-memory map.
type Store interface {
	// Snapshot reads every entity of one scenario, grouped by type.
	Snapshot(ctx context.Context, scenarioID string) (model.Snapshot, error)

	// ReplaceAll atomically replaces one entity type's records for a
	// scenario.
	ReplaceAll(ctx context.Context, scenarioID string, t model.EntityType, records []model.Record) error
}

// Options configures a Manager.
type Options struct {
	// Branch is the local scenario branch. Defaults to the repo's
	// current branch.
	Branch string

	// Remote is the git remote to merge against. Defaults to "origin".
	Remote string

	// ExportedBy is stamped into exported bundles.
	ExportedBy string

	// ExcludeInvalid excludes records that fail validation or
	// referential integrity from the merge instead of aborting the
	// session. Corrupt snapshots always abort.
	ExcludeInvalid bool

	// Clock supplies export timestamps. Defaults to time.Now.
	Clock func() time.Time

	Logger *log.Logger
}

// Manager coordinates exports and merge sessions over one repository.
type Manager struct {
	repo   vcs.Repo
	store  Store
	opts   Options
	logger *log.Logger

	locks *scenarioLocks
}

// ErrSessionActive is returned when a merge session is already running
// for the scenario.
var ErrSessionActive = errors.New("merge session already active for scenario")

// NewManager wires a repository adapter and a store into a manager.
func NewManager(repo vcs.Repo, store Store, opts Options) *Manager {
	if opts.Remote == "" {
		opts.Remote = "origin"
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Manager{
		repo:   repo,
		store:  store,
		opts:   opts,
		logger: logger,
		locks:  newScenarioLocks(),
	}
}

// ScenarioDir returns the bundle directory for a scenario, relative to
// the repository root.
func ScenarioDir(scenarioID string) string {
	return filepath.Join("scenarios", scenarioID)
}

// BundlePath returns one entity type's bundle file, relative to the
// repository root.
func BundlePath(scenarioID string, t model.EntityType) string {
	return filepath.Join(ScenarioDir(scenarioID), export.BundleFileName(t))
}

// bundlePaths lists every possible bundle file for a scenario.
func bundlePaths(scenarioID string) []string {
	paths := make([]string, 0, len(model.EntityTypes()))
	for _, t := range model.EntityTypes() {
		paths = append(paths, BundlePath(scenarioID, t))
	}
	return paths
}

// ExportScenario exports the scenario's current store state into bundle
// files and commits them. Types with no records produce an empty-data
// bundle so deletions are visible in history. No-op commit-wise when
// nothing changed.
func (m *Manager) ExportScenario(ctx context.Context, scenarioID string) error {
	snap, err := m.store.Snapshot(ctx, scenarioID)
	if err != nil {
		return fmt.Errorf("reading scenario %s: %w", scenarioID, err)
	}

	exporter := &export.Exporter{Clock: m.opts.Clock, ExportedBy: m.opts.ExportedBy}
	dir := filepath.Join(m.repo.Root(), ScenarioDir(scenarioID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating scenario dir: %w", err)
	}

	var files []string
	for _, t := range model.EntityTypes() {
		bundle, err := exporter.Export(scenarioID, t, snap.Records(t))
		if err != nil {
			return fmt.Errorf("exporting %s: %w", t, err)
		}
		if err := export.WriteBundleFile(dir, bundle); err != nil {
			return err
		}
		files = append(files, BundlePath(scenarioID, t))
	}

	dirty, err := m.repo.HasUncommittedChanges(files...)
	if err != nil {
		return err
	}
	if !dirty {
		m.logger.Printf("[sync] scenario %s: export unchanged, nothing to commit", scenarioID)
		return nil
	}

	msg := fmt.Sprintf("scensync: export scenario %s", scenarioID)
	if err := m.repo.Commit(ctx, msg, files); err != nil {
		return err
	}
	m.logger.Printf("[sync] scenario %s: exported %d bundles", scenarioID, len(files))
	return nil
}

// Begin starts a merge session against the remote tracking branch.
//
// The local state is exported and committed first, the remote fetched,
// and the three snapshots (merge-base, local working tree, remote head)
// validated by the guard before the diff runs. The session holds the
// scenario's lock until CommitMergedState or Abandon.
func (m *Manager) Begin(ctx context.Context, scenarioID string) (*Session, error) {
	branch := m.opts.Branch
	if branch == "" {
		b, err := m.repo.CurrentBranch()
		if err != nil {
			return nil, err
		}
		branch = b
	}

	if !m.repo.HasRemote() {
		return nil, fmt.Errorf("remote %q: %w", m.opts.Remote, vcs.ErrNoRemote)
	}
	if err := m.repo.Fetch(ctx, m.opts.Remote, branch); err != nil {
		return nil, err
	}

	return m.BeginBetween(ctx, scenarioID, "HEAD", m.opts.Remote+"/"+branch)
}

// BeginBetween starts a merge session between two explicit refs. The
// local side is always read from the working tree; localRef only anchors
// the merge-base computation.
func (m *Manager) BeginBetween(ctx context.Context, scenarioID, localRef, remoteRef string) (*Session, error) {
	if !m.locks.tryLock(scenarioID) {
		return nil, fmt.Errorf("scenario %s: %w", scenarioID, ErrSessionActive)
	}
	sess, err := m.beginLocked(ctx, scenarioID, localRef, remoteRef)
	if err != nil {
		m.locks.unlock(scenarioID)
		return nil, err
	}
	return sess, nil
}

func (m *Manager) beginLocked(ctx context.Context, scenarioID, localRef, remoteRef string) (*Session, error) {
	if err := m.ExportScenario(ctx, scenarioID); err != nil {
		return nil, err
	}

	baseRef, err := m.repo.MergeBase(ctx, localRef, remoteRef)
	if err != nil {
		return nil, fmt.Errorf("finding merge base of %s and %s: %w", localRef, remoteRef, err)
	}

	base, err := m.snapshotAtRef(ctx, "base", scenarioID, baseRef)
	if err != nil {
		return nil, err
	}
	local, err := m.snapshotFromWorkingTree(scenarioID)
	if err != nil {
		return nil, err
	}
	remote, err := m.snapshotAtRef(ctx, "remote", scenarioID, remoteRef)
	if err != nil {
		return nil, err
	}

	m.logger.Printf("[sync] scenario %s: merging %s (base %s)", scenarioID, remoteRef, shortRef(baseRef))
	return newSession(m, scenarioID, remoteRef, base, local, remote), nil
}

// snapshotAtRef reads and guards one scenario snapshot at a git ref.
// Bundles absent at the ref contribute no records.
func (m *Manager) snapshotAtRef(ctx context.Context, name, scenarioID, ref string) (model.Snapshot, error) {
	files := make(map[model.EntityType][]byte)
	for _, t := range model.EntityTypes() {
		content, err := m.repo.ReadFileAtRef(ctx, BundlePath(scenarioID, t), ref)
		if errors.Is(err, vcs.ErrFileNotAtRef) {
			continue
		}
		if err != nil {
			return nil, err
		}
		files[t] = content
	}
	return m.checkSnapshot(name, files)
}

// snapshotFromWorkingTree reads and guards the local snapshot from disk.
func (m *Manager) snapshotFromWorkingTree(scenarioID string) (model.Snapshot, error) {
	files := make(map[model.EntityType][]byte)
	for _, t := range model.EntityTypes() {
		path := filepath.Join(m.repo.Root(), BundlePath(scenarioID, t))
		content, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		files[t] = content
	}
	return m.checkSnapshot("local", files)
}

func (m *Manager) checkSnapshot(name string, files map[model.EntityType][]byte) (model.Snapshot, error) {
	snap, report, err := guard.CheckSnapshot(name, files)
	if err != nil {
		return nil, err
	}
	if report.Clean() {
		return snap, nil
	}

	if !m.opts.ExcludeInvalid {
		if len(report.RecordErrors) > 0 {
			return nil, fmt.Errorf("snapshot %q has invalid records: %w", name, report.RecordErrors[0])
		}
		return nil, report.IntegrityError()
	}

	for _, recErr := range report.RecordErrors {
		m.logger.Printf("[sync] %s snapshot: excluding invalid record: %v", name, recErr)
	}
	for _, v := range report.Violations {
		m.logger.Printf("[sync] %s snapshot: excluding record with dangling reference: %v", name, v)
	}
	return guard.ExcludeOffending(snap, report), nil
}

func shortRef(ref string) string {
	if len(ref) > 8 {
		return ref[:8]
	}
	return ref
}
