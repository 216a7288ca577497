package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/openplanning/scensync/internal/model"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "scensync.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return s
}

func testAssignment(id, personID string, allocation float64, start, end string) model.Record {
	return model.Record{
		"id":                   id,
		"personId":             personID,
		"projectId":            "proj-1",
		"roleId":               "role-1",
		"allocationPercentage": allocation,
		"startDate":            start,
		"endDate":              end,
		"createdAt":            "2026-01-01T09:00:00Z",
		"updatedAt":            "2026-01-01T09:00:00Z",
	}
}

func TestInitSchemaIdempotent(t *testing.T) {
	s := setupTestStore(t)
	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("second InitSchema() failed: %v", err)
	}
}

func TestReplaceAllRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	records := []model.Record{
		{"id": "p2", "name": "Beta", "priority": json.Number("3")},
		{"id": "p1", "name": "Alpha", "priority": json.Number("1")},
	}
	if err := s.ReplaceAll(ctx, "q3", model.TypeProject, records); err != nil {
		t.Fatalf("ReplaceAll() failed: %v", err)
	}

	got, err := s.Records(ctx, "q3", model.TypeProject)
	if err != nil {
		t.Fatalf("Records() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Records() returned %d records, want 2", len(got))
	}
	// Ordered by id regardless of insertion order.
	if got[0].ID() != "p1" || got[1].ID() != "p2" {
		t.Errorf("record order = %s, %s", got[0].ID(), got[1].ID())
	}
	if got[0]["name"] != "Alpha" {
		t.Errorf("p1 name = %v", got[0]["name"])
	}
	// Numbers survive as json.Number through the payload column.
	if !model.ValueEqual(got[0]["priority"], json.Number("1")) {
		t.Errorf("p1 priority = %#v", got[0]["priority"])
	}
}

func TestReplaceAllReplaces(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	first := []model.Record{{"id": "p1", "name": "Alpha"}, {"id": "p2", "name": "Beta"}}
	if err := s.ReplaceAll(ctx, "q3", model.TypeProject, first); err != nil {
		t.Fatal(err)
	}
	second := []model.Record{{"id": "p3", "name": "Gamma"}}
	if err := s.ReplaceAll(ctx, "q3", model.TypeProject, second); err != nil {
		t.Fatal(err)
	}

	got, err := s.Records(ctx, "q3", model.TypeProject)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID() != "p3" {
		t.Errorf("after replacement Records() = %v", got)
	}
}

func TestReplaceAllScopedToScenario(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.ReplaceAll(ctx, "q3", model.TypeProject,
		[]model.Record{{"id": "p1", "name": "Alpha"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.ReplaceAll(ctx, "q4", model.TypeProject,
		[]model.Record{{"id": "p1", "name": "Other"}}); err != nil {
		t.Fatal(err)
	}

	// Clearing q4 must not touch q3.
	if err := s.ReplaceAll(ctx, "q4", model.TypeProject, nil); err != nil {
		t.Fatal(err)
	}

	got, err := s.Records(ctx, "q3", model.TypeProject)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0]["name"] != "Alpha" {
		t.Errorf("q3 records after clearing q4 = %v", got)
	}
	empty, err := s.Records(ctx, "q4", model.TypeProject)
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 {
		t.Errorf("q4 records after clearing = %v", empty)
	}
}

func TestSnapshotOmitsEmptyTypes(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.ReplaceAll(ctx, "q3", model.TypeRole,
		[]model.Record{{"id": "role-1", "name": "Engineer"}}); err != nil {
		t.Fatal(err)
	}

	snap, err := s.Snapshot(ctx, "q3")
	if err != nil {
		t.Fatalf("Snapshot() failed: %v", err)
	}
	if len(snap) != 1 {
		t.Fatalf("Snapshot() has %d types, want 1: %v", len(snap), snap)
	}
	if len(snap[model.TypeRole]) != 1 {
		t.Errorf("role records = %v", snap[model.TypeRole])
	}
}

func TestScenariosAndCounts(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.ReplaceAll(ctx, "q4", model.TypeProject,
		[]model.Record{{"id": "p1", "name": "Alpha"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.ReplaceAll(ctx, "q3", model.TypePerson,
		[]model.Record{{"id": "per-1", "name": "Ada"}, {"id": "per-2", "name": "Grace"}}); err != nil {
		t.Fatal(err)
	}

	scenarios, err := s.Scenarios(ctx)
	if err != nil {
		t.Fatalf("Scenarios() failed: %v", err)
	}
	if len(scenarios) != 2 || scenarios[0] != "q3" || scenarios[1] != "q4" {
		t.Errorf("Scenarios() = %v, want [q3 q4]", scenarios)
	}

	counts, err := s.Counts(ctx, "q3")
	if err != nil {
		t.Fatalf("Counts() failed: %v", err)
	}
	if counts[model.TypePerson] != 2 || counts[model.TypeProject] != 0 {
		t.Errorf("Counts() = %v", counts)
	}
}

func TestOverAllocated(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	assignments := []model.Record{
		// per-1: two overlapping assignments totaling 150.
		testAssignment("asg-a", "per-1", 50, "2026-01-01", "2026-06-30"),
		testAssignment("asg-b", "per-1", 100, "2026-03-01", "2026-09-30"),
		// per-2: exactly 100, not over.
		testAssignment("asg-c", "per-2", 100, "2026-01-01", "2026-12-31"),
		// per-3: 160 total but the assignments never overlap the window.
		testAssignment("asg-d", "per-3", 80, "2026-07-01", "2026-12-31"),
		testAssignment("asg-e", "per-3", 80, "2026-07-01", "2026-12-31"),
	}
	if err := s.ReplaceAll(ctx, "q3", model.TypeAssignment, assignments); err != nil {
		t.Fatal(err)
	}

	start := model.NewDate(2026, 3, 1)
	end := model.NewDate(2026, 3, 31)
	over, err := s.OverAllocated(ctx, "q3", start, end)
	if err != nil {
		t.Fatalf("OverAllocated() failed: %v", err)
	}

	if len(over) != 1 {
		t.Fatalf("OverAllocated() = %v, want one person", over)
	}
	pa := over[0]
	if pa.PersonID != "per-1" {
		t.Errorf("PersonID = %s, want per-1", pa.PersonID)
	}
	if pa.TotalAllocation != 150 {
		t.Errorf("TotalAllocation = %v, want 150", pa.TotalAllocation)
	}
	if pa.AssignmentCount != 2 {
		t.Errorf("AssignmentCount = %d, want 2", pa.AssignmentCount)
	}
}

func TestOverAllocatedWindowEdges(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	// Both assignments touch 2026-06-30 only at their boundary.
	assignments := []model.Record{
		testAssignment("asg-a", "per-1", 60, "2026-01-01", "2026-06-30"),
		testAssignment("asg-b", "per-1", 60, "2026-06-30", "2026-12-31"),
	}
	if err := s.ReplaceAll(ctx, "q3", model.TypeAssignment, assignments); err != nil {
		t.Fatal(err)
	}

	day := model.NewDate(2026, 6, 30)
	over, err := s.OverAllocated(ctx, "q3", day, day)
	if err != nil {
		t.Fatal(err)
	}
	if len(over) != 1 || over[0].TotalAllocation != 120 {
		t.Errorf("boundary day OverAllocated() = %v, want per-1 at 120", over)
	}

	before := model.NewDate(2026, 6, 29)
	over, err = s.OverAllocated(ctx, "q3", before, before)
	if err != nil {
		t.Fatal(err)
	}
	if len(over) != 0 {
		t.Errorf("single-assignment day OverAllocated() = %v, want none", over)
	}
}
