package sync

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openplanning/scensync/internal/export"
	"github.com/openplanning/scensync/internal/model"
	"github.com/openplanning/scensync/internal/resolve"
	"github.com/openplanning/scensync/internal/vcs"
	"github.com/openplanning/scensync/internal/vcs/git"
)

// fakeStore is an in-memory Store for session tests.
type fakeStore struct {
	mu   sync.Mutex
	data map[string]model.Snapshot
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]model.Snapshot)}
}

func (f *fakeStore) Snapshot(ctx context.Context, scenarioID string) (model.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := make(model.Snapshot)
	for t, recs := range f.data[scenarioID] {
		for _, rec := range recs {
			snap[t] = append(snap[t], rec.Clone())
		}
	}
	return snap, nil
}

func (f *fakeStore) ReplaceAll(ctx context.Context, scenarioID string, t model.EntityType, records []model.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := f.data[scenarioID]
	if snap == nil {
		snap = make(model.Snapshot)
		f.data[scenarioID] = snap
	}
	if len(records) == 0 {
		delete(snap, t)
		return nil
	}
	out := make([]model.Record, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Clone())
	}
	snap[t] = out
	return nil
}

func (f *fakeStore) set(scenarioID string, t model.EntityType, records ...model.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := f.data[scenarioID]
	if snap == nil {
		snap = make(model.Snapshot)
		f.data[scenarioID] = snap
	}
	snap[t] = records
}

func fixedClock() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func setupRepo(t *testing.T) vcs.Repo {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}

	dir := t.TempDir()
	gitRun(t, dir, "init", "-b", "main")
	gitRun(t, dir, "config", "user.name", "Test User")
	gitRun(t, dir, "config", "user.email", "test@example.com")

	repo, err := git.New(dir)
	if err != nil {
		t.Fatalf("git.New() failed: %v", err)
	}
	return repo
}

func writeRaw(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func gitRun(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %s failed: %v\n%s", strings.Join(args, " "), err, output)
	}
}

func projectRecord(name string) model.Record {
	return model.Record{
		"id":            "p1",
		"name":          name,
		"projectTypeId": "pt-1",
		"priority":      float64(2),
		"createdAt":     "2026-01-01T09:00:00Z",
		"updatedAt":     "2026-01-01T09:00:00Z",
	}
}

func projectTypeRecord() model.Record {
	return model.Record{
		"id":        "pt-1",
		"name":      "Internal",
		"createdAt": "2026-01-01T09:00:00Z",
		"updatedAt": "2026-01-01T09:00:00Z",
	}
}

func newTestManager(repo vcs.Repo, store Store) *Manager {
	return NewManager(repo, store, Options{
		ExportedBy: "planner@example.com",
		Clock:      fixedClock,
	})
}

// rewriteBundle changes one record's field in a committed bundle file
// and commits the result, simulating a counterparty's edit.
func rewriteBundle(t *testing.T, repo vcs.Repo, scenarioID string, et model.EntityType, id, field string, value any) {
	t.Helper()

	dir := filepath.Join(repo.Root(), ScenarioDir(scenarioID))
	bundle, err := export.ReadBundleFile(dir, et)
	if err != nil {
		t.Fatalf("ReadBundleFile() failed: %v", err)
	}
	found := false
	for _, rec := range bundle.Data {
		if rec.ID() == id {
			rec[field] = value
			found = true
		}
	}
	if !found {
		t.Fatalf("record %s not in %s bundle", id, et)
	}
	if err := export.WriteBundleFile(dir, bundle); err != nil {
		t.Fatal(err)
	}
	err = repo.Commit(context.Background(), "edit "+et.String(), []string{BundlePath(scenarioID, et)})
	if err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
}

// The three-way scenario from top to bottom: base names the project
// "Alpha", the local store renames it "Alpha-Local", a remote branch
// renames it "Alpha-Remote". Exactly one conflict; resolving with the
// custom value "Alpha-Final" commits and imports that name.
func TestMergeSessionEndToEnd(t *testing.T) {
	repo := setupRepo(t)
	store := newFakeStore()
	store.set("q3", model.TypeProject, projectRecord("Alpha"))
	store.set("q3", model.TypeProjectType, projectTypeRecord())

	manager := newTestManager(repo, store)
	ctx := context.Background()

	// Base: export and commit the original state.
	if err := manager.ExportScenario(ctx, "q3"); err != nil {
		t.Fatalf("ExportScenario() failed: %v", err)
	}

	// Remote: a branch renames the project.
	gitRun(t, repo.Root(), "checkout", "-b", "remote-work")
	rewriteBundle(t, repo, "q3", model.TypeProject, "p1", "name", "Alpha-Remote")
	gitRun(t, repo.Root(), "checkout", "main")

	// Local: the store renames it differently.
	store.set("q3", model.TypeProject, projectRecord("Alpha-Local"))

	session, err := manager.BeginBetween(ctx, "q3", "HEAD", "remote-work")
	if err != nil {
		t.Fatalf("BeginBetween() failed: %v", err)
	}
	defer session.Abandon()

	conflicts := session.Conflicts()
	if len(conflicts) != 1 {
		t.Fatalf("session has %d conflicts, want 1: %v", len(conflicts), conflicts)
	}
	c := conflicts[0]
	if c.EntityType != model.TypeProject || c.EntityID != "p1" || c.Field != "name" {
		t.Fatalf("conflict = %+v", c)
	}
	if c.BaseValue != "Alpha" || c.LocalValue != "Alpha-Local" || c.RemoteValue != "Alpha-Remote" {
		t.Errorf("conflict values = %v/%v/%v", c.BaseValue, c.LocalValue, c.RemoteValue)
	}

	if err := session.CommitMergedState(ctx); !errors.Is(err, resolve.ErrSessionIncomplete) {
		t.Errorf("CommitMergedState() with pending conflict = %v, want ErrSessionIncomplete", err)
	}

	if _, err := session.Resolve(resolve.Resolution{
		ConflictID:  c.ID,
		Strategy:    resolve.Custom,
		CustomValue: "Alpha-Final",
	}); err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if len(session.Pending()) != 0 {
		t.Fatalf("pending after resolution: %v", session.Pending())
	}

	if err := session.CommitMergedState(ctx); err != nil {
		t.Fatalf("CommitMergedState() failed: %v", err)
	}

	// The merged name is in the store...
	snap, err := store.Snapshot(ctx, "q3")
	if err != nil {
		t.Fatal(err)
	}
	if got := snap.ByID(model.TypeProject)["p1"]["name"]; got != "Alpha-Final" {
		t.Errorf("store name after merge = %v, want Alpha-Final", got)
	}

	// ...and in the committed bundle file.
	bundle, err := export.ReadBundleFile(
		filepath.Join(repo.Root(), ScenarioDir("q3")), model.TypeProject)
	if err != nil {
		t.Fatal(err)
	}
	if got := bundle.Data[0]["name"]; got != "Alpha-Final" {
		t.Errorf("bundle name after merge = %v, want Alpha-Final", got)
	}
	dirty, err := repo.HasUncommittedChanges(ScenarioDir("q3"))
	if err != nil {
		t.Fatal(err)
	}
	if dirty {
		t.Error("merge left uncommitted bundle changes")
	}
}

func TestMergeSessionNoConflicts(t *testing.T) {
	repo := setupRepo(t)
	store := newFakeStore()
	store.set("q3", model.TypeProject, projectRecord("Alpha"))
	store.set("q3", model.TypeProjectType, projectTypeRecord())

	manager := newTestManager(repo, store)
	ctx := context.Background()

	if err := manager.ExportScenario(ctx, "q3"); err != nil {
		t.Fatal(err)
	}

	// Remote edits priority, local edits nothing: clean divergence.
	gitRun(t, repo.Root(), "checkout", "-b", "remote-work")
	rewriteBundle(t, repo, "q3", model.TypeProject, "p1", "priority", float64(4))
	gitRun(t, repo.Root(), "checkout", "main")

	session, err := manager.BeginBetween(ctx, "q3", "HEAD", "remote-work")
	if err != nil {
		t.Fatal(err)
	}
	if len(session.Conflicts()) != 0 {
		t.Fatalf("clean divergence produced conflicts: %v", session.Conflicts())
	}
	if err := session.CommitMergedState(ctx); err != nil {
		t.Fatalf("CommitMergedState() failed: %v", err)
	}

	snap, _ := store.Snapshot(ctx, "q3")
	if got := snap.ByID(model.TypeProject)["p1"]["priority"]; !model.ValueEqual(got, float64(4)) {
		t.Errorf("store priority after merge = %v, want remote's 4", got)
	}
}

func TestSessionLockPerScenario(t *testing.T) {
	repo := setupRepo(t)
	store := newFakeStore()
	store.set("q3", model.TypeProject, projectRecord("Alpha"))
	store.set("q3", model.TypeProjectType, projectTypeRecord())
	store.set("q4", model.TypeProject, projectRecord("Beta"))
	store.set("q4", model.TypeProjectType, projectTypeRecord())

	manager := newTestManager(repo, store)
	ctx := context.Background()

	if err := manager.ExportScenario(ctx, "q3"); err != nil {
		t.Fatal(err)
	}
	if err := manager.ExportScenario(ctx, "q4"); err != nil {
		t.Fatal(err)
	}

	first, err := manager.BeginBetween(ctx, "q3", "HEAD", "HEAD")
	if err != nil {
		t.Fatalf("BeginBetween() failed: %v", err)
	}

	// Same scenario: locked.
	if _, err := manager.BeginBetween(ctx, "q3", "HEAD", "HEAD"); !errors.Is(err, ErrSessionActive) {
		t.Errorf("second session error = %v, want ErrSessionActive", err)
	}

	// Distinct scenario: independent.
	other, err := manager.BeginBetween(ctx, "q4", "HEAD", "HEAD")
	if err != nil {
		t.Fatalf("session on distinct scenario failed: %v", err)
	}
	other.Abandon()

	// Abandoning releases the lock.
	first.Abandon()
	again, err := manager.BeginBetween(ctx, "q3", "HEAD", "HEAD")
	if err != nil {
		t.Fatalf("BeginBetween() after Abandon failed: %v", err)
	}
	again.Abandon()
}

func TestAbandonLeavesNoPartialState(t *testing.T) {
	repo := setupRepo(t)
	store := newFakeStore()
	store.set("q3", model.TypeProject, projectRecord("Alpha"))
	store.set("q3", model.TypeProjectType, projectTypeRecord())

	manager := newTestManager(repo, store)
	ctx := context.Background()

	if err := manager.ExportScenario(ctx, "q3"); err != nil {
		t.Fatal(err)
	}

	gitRun(t, repo.Root(), "checkout", "-b", "remote-work")
	rewriteBundle(t, repo, "q3", model.TypeProject, "p1", "name", "Alpha-Remote")
	gitRun(t, repo.Root(), "checkout", "main")

	store.set("q3", model.TypeProject, projectRecord("Alpha-Local"))

	session, err := manager.BeginBetween(ctx, "q3", "HEAD", "remote-work")
	if err != nil {
		t.Fatal(err)
	}
	session.Abandon()

	// The working tree still holds the local export; nothing merged.
	bundle, err := export.ReadBundleFile(
		filepath.Join(repo.Root(), ScenarioDir("q3")), model.TypeProject)
	if err != nil {
		t.Fatal(err)
	}
	if got := bundle.Data[0]["name"]; got != "Alpha-Local" {
		t.Errorf("bundle name after abandon = %v, want local export", got)
	}
	dirty, err := repo.HasUncommittedChanges(ScenarioDir("q3"))
	if err != nil {
		t.Fatal(err)
	}
	if dirty {
		t.Error("abandoned session left uncommitted changes")
	}

	// The store keeps its local state.
	snap, _ := store.Snapshot(ctx, "q3")
	if got := snap.ByID(model.TypeProject)["p1"]["name"]; got != "Alpha-Local" {
		t.Errorf("store name after abandon = %v", got)
	}
}

func TestBeginAbortsOnCorruptRemote(t *testing.T) {
	repo := setupRepo(t)
	store := newFakeStore()
	store.set("q3", model.TypeProject, projectRecord("Alpha"))
	store.set("q3", model.TypeProjectType, projectTypeRecord())

	manager := newTestManager(repo, store)
	ctx := context.Background()

	if err := manager.ExportScenario(ctx, "q3"); err != nil {
		t.Fatal(err)
	}

	// Commit a truncated bundle on the remote branch.
	gitRun(t, repo.Root(), "checkout", "-b", "remote-work")
	path := filepath.Join(repo.Root(), BundlePath("q3", model.TypeProject))
	if err := writeRaw(path, `{"schemaVersion": "1.0.0", "data": [`); err != nil {
		t.Fatal(err)
	}
	if err := repo.Commit(ctx, "corrupt", []string{BundlePath("q3", model.TypeProject)}); err != nil {
		t.Fatal(err)
	}
	gitRun(t, repo.Root(), "checkout", "main")

	_, err := manager.BeginBetween(ctx, "q3", "HEAD", "remote-work")
	if err == nil {
		t.Fatal("BeginBetween() accepted corrupt remote snapshot")
	}
	if !strings.Contains(err.Error(), "remote") {
		t.Errorf("corruption error does not name the snapshot: %v", err)
	}

	// The failed begin released the lock.
	session, err := manager.BeginBetween(ctx, "q3", "HEAD", "HEAD")
	if err != nil {
		t.Fatalf("BeginBetween() after failure: %v", err)
	}
	session.Abandon()
}

func TestBeginRequiresRemote(t *testing.T) {
	repo := setupRepo(t)
	store := newFakeStore()
	store.set("q3", model.TypeProjectType, projectTypeRecord())

	manager := newTestManager(repo, store)

	_, err := manager.Begin(context.Background(), "q3")
	if !errors.Is(err, vcs.ErrNoRemote) {
		t.Errorf("Begin() without remote = %v, want ErrNoRemote", err)
	}
}
