package diff

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/openplanning/scensync/internal/model"
)

func project(id, name string, priority int) model.Record {
	return model.Record{
		"id":            id,
		"name":          name,
		"projectTypeId": "pt-1",
		"priority":      json.Number(jsonInt(priority)),
		"createdAt":     "2026-01-01T09:00:00Z",
		"updatedAt":     "2026-01-01T09:00:00Z",
	}
}

func jsonInt(n int) string {
	data, _ := json.Marshal(n)
	return string(data)
}

func snapshot(recs ...model.Record) model.Snapshot {
	return model.Snapshot{model.TypeProject: recs}
}

func TestDiffIdenticalSnapshotsYieldNothing(t *testing.T) {
	base := snapshot(project("p-1", "Alpha", 2))
	local := snapshot(project("p-1", "Alpha", 2))
	remote := snapshot(project("p-1", "Alpha", 2))

	if conflicts := Diff(base, local, remote); len(conflicts) != 0 {
		t.Errorf("Diff() = %v, want none", conflicts)
	}
}

func TestDiffOneSidedEditAutoResolves(t *testing.T) {
	base := snapshot(project("p-1", "Alpha", 2))
	local := snapshot(project("p-1", "Alpha Renamed", 2))
	remote := snapshot(project("p-1", "Alpha", 2))

	if conflicts := Diff(base, local, remote); len(conflicts) != 0 {
		t.Fatalf("one-sided edit produced conflicts: %v", conflicts)
	}

	merged := AutoMerge(base, local, remote)
	got := merged.ByID(model.TypeProject)["p-1"]["name"]
	if got != "Alpha Renamed" {
		t.Errorf("merged name = %v, want the changed side", got)
	}

	// Mirror: remote-only edit wins too.
	merged = AutoMerge(base, remote, local)
	got = merged.ByID(model.TypeProject)["p-1"]["name"]
	if got != "Alpha Renamed" {
		t.Errorf("merged name = %v, want the changed side", got)
	}
}

func TestDiffConvergentEditIsSilent(t *testing.T) {
	base := snapshot(project("p-1", "Alpha", 2))
	local := snapshot(project("p-1", "Alpha v2", 2))
	remote := snapshot(project("p-1", "Alpha v2", 2))

	if conflicts := Diff(base, local, remote); len(conflicts) != 0 {
		t.Errorf("convergent edit produced conflicts: %v", conflicts)
	}
}

func TestDiffBothChangedConflicts(t *testing.T) {
	base := snapshot(project("p-1", "Alpha", 2))
	local := snapshot(project("p-1", "Alpha Local", 2))
	remote := snapshot(project("p-1", "Alpha Remote", 2))

	conflicts := Diff(base, local, remote)
	if len(conflicts) != 1 {
		t.Fatalf("Diff() = %d conflicts, want 1: %v", len(conflicts), conflicts)
	}

	c := conflicts[0]
	if c.Kind != KindField || c.Field != "name" {
		t.Errorf("conflict = %+v", c)
	}
	if c.BaseValue != "Alpha" || c.LocalValue != "Alpha Local" || c.RemoteValue != "Alpha Remote" {
		t.Errorf("values = %v/%v/%v", c.BaseValue, c.LocalValue, c.RemoteValue)
	}
}

func TestDiffSymmetry(t *testing.T) {
	base := snapshot(project("p-1", "Alpha", 2))
	local := snapshot(project("p-1", "Alpha Local", 1))
	remote := snapshot(project("p-1", "Alpha Remote", 5))

	forward := Diff(base, local, remote)
	reverse := Diff(base, remote, local)

	if len(forward) != len(reverse) {
		t.Fatalf("asymmetric conflict count: %d vs %d", len(forward), len(reverse))
	}
	for i := range forward {
		f, r := forward[i], reverse[i]
		if f.Field != r.Field || f.EntityID != r.EntityID {
			t.Errorf("conflict %d identifies %s/%s vs %s/%s", i, f.EntityID, f.Field, r.EntityID, r.Field)
		}
		if !model.ValueEqual(f.LocalValue, r.RemoteValue) || !model.ValueEqual(f.RemoteValue, r.LocalValue) {
			t.Errorf("conflict %d values not mirrored: %+v vs %+v", i, f, r)
		}
	}
}

func TestDiffDeletionConflicts(t *testing.T) {
	base := snapshot(project("p-1", "Alpha", 2))

	t.Run("remote deleted", func(t *testing.T) {
		local := snapshot(project("p-1", "Alpha Renamed", 2))
		remote := snapshot()

		conflicts := Diff(base, local, remote)
		if len(conflicts) != 1 {
			t.Fatalf("Diff() = %v, want one deletion conflict", conflicts)
		}
		c := conflicts[0]
		if c.Kind != KindDeletion || c.Field != DeletedField {
			t.Errorf("conflict = %+v", c)
		}
		if c.LocalValue != false || c.RemoteValue != true {
			t.Errorf("deletion values = local %v remote %v", c.LocalValue, c.RemoteValue)
		}
	})

	t.Run("local deleted", func(t *testing.T) {
		local := snapshot()
		remote := snapshot(project("p-1", "Alpha", 2))

		conflicts := Diff(base, local, remote)
		if len(conflicts) != 1 {
			t.Fatalf("Diff() = %v, want one deletion conflict", conflicts)
		}
		if conflicts[0].LocalValue != true || conflicts[0].RemoteValue != false {
			t.Errorf("deletion values = %+v", conflicts[0])
		}
	})

	t.Run("deleted on both sides", func(t *testing.T) {
		if conflicts := Diff(base, snapshot(), snapshot()); len(conflicts) != 0 {
			t.Errorf("double deletion produced conflicts: %v", conflicts)
		}
	})
}

func TestDiffCreations(t *testing.T) {
	base := snapshot()

	t.Run("one-sided creation is clean", func(t *testing.T) {
		local := snapshot(project("p-1", "Alpha", 2))
		if conflicts := Diff(base, local, snapshot()); len(conflicts) != 0 {
			t.Errorf("local creation produced conflicts: %v", conflicts)
		}

		merged := AutoMerge(base, local, snapshot())
		if _, ok := merged.ByID(model.TypeProject)["p-1"]; !ok {
			t.Error("created record missing from merge")
		}
	})

	t.Run("identical creation converges", func(t *testing.T) {
		local := snapshot(project("p-1", "Alpha", 2))
		remote := snapshot(project("p-1", "Alpha", 2))
		if conflicts := Diff(base, local, remote); len(conflicts) != 0 {
			t.Errorf("identical creations produced conflicts: %v", conflicts)
		}
	})

	t.Run("differing creation conflicts per field", func(t *testing.T) {
		local := snapshot(project("p-1", "Alpha", 2))
		remote := snapshot(project("p-1", "Alpha Remote", 4))

		conflicts := Diff(base, local, remote)
		if len(conflicts) != 2 {
			t.Fatalf("Diff() = %d conflicts, want 2 (name, priority): %v", len(conflicts), conflicts)
		}
		for _, c := range conflicts {
			if c.Kind != KindCreation {
				t.Errorf("conflict kind = %v, want creation", c.Kind)
			}
			if c.BaseValue != nil {
				t.Errorf("creation conflict has base value: %v", c.BaseValue)
			}
		}
	})
}

func TestDiffStableOrdering(t *testing.T) {
	base := model.Snapshot{
		model.TypeProject: []model.Record{project("p-1", "Alpha", 2), project("p-2", "Beta", 2)},
		model.TypePerson: []model.Record{{
			"id": "per-1", "name": "Ada", "email": "ada@example.com",
			"seniorityLevel": "senior",
			"createdAt":      "2026-01-01T09:00:00Z", "updatedAt": "2026-01-01T09:00:00Z",
		}},
	}

	change := func(snap model.Snapshot, suffix string) model.Snapshot {
		out := make(model.Snapshot)
		for et, recs := range snap {
			for _, rec := range recs {
				c := rec.Clone()
				if name, ok := c["name"].(string); ok {
					c["name"] = name + suffix
				}
				c["id"] = rec.ID() // unchanged
				out[et] = append(out[et], c)
			}
		}
		return out
	}

	local := change(base, " L")
	remote := change(base, " R")

	first := Diff(base, local, remote)
	second := Diff(base, local, remote)

	ignoreID := cmp.FilterPath(func(p cmp.Path) bool {
		return p.Last().String() == ".ID"
	}, cmp.Ignore())
	if diff := cmp.Diff(first, second, ignoreID); diff != "" {
		t.Errorf("conflict ordering unstable (-first +second):\n%s", diff)
	}

	// Projects (declared first) precede people; within a type, ids ascend.
	if len(first) != 3 {
		t.Fatalf("Diff() = %d conflicts, want 3", len(first))
	}
	if first[0].EntityType != model.TypeProject || first[0].EntityID != "p-1" {
		t.Errorf("first conflict = %s %s", first[0].EntityType, first[0].EntityID)
	}
	if first[1].EntityID != "p-2" {
		t.Errorf("second conflict = %s", first[1].EntityID)
	}
	if first[2].EntityType != model.TypePerson {
		t.Errorf("third conflict = %s", first[2].EntityType)
	}
}

func TestDiffIgnoresAuditTimestamps(t *testing.T) {
	base := snapshot(project("p-1", "Alpha", 2))

	local := snapshot(project("p-1", "Alpha Local", 2))
	local[model.TypeProject][0]["updatedAt"] = "2026-02-01T10:00:00Z"
	remote := snapshot(project("p-1", "Alpha Remote", 2))
	remote[model.TypeProject][0]["updatedAt"] = "2026-02-02T10:00:00Z"

	conflicts := Diff(base, local, remote)
	for _, c := range conflicts {
		if c.Field == "updatedAt" || c.Field == "createdAt" {
			t.Errorf("audit timestamp reported as conflict: %+v", c)
		}
	}
	if len(conflicts) != 1 {
		t.Errorf("Diff() = %d conflicts, want only the name conflict: %v", len(conflicts), conflicts)
	}
}

func TestDiffNumberEncodingDoesNotConflict(t *testing.T) {
	base := snapshot(project("p-1", "Alpha", 2))
	local := snapshot(project("p-1", "Alpha", 2))
	local[model.TypeProject][0]["priority"] = json.Number("2.0")
	remote := snapshot(project("p-1", "Alpha", 2))
	remote[model.TypeProject][0]["priority"] = 2.0

	if conflicts := Diff(base, local, remote); len(conflicts) != 0 {
		t.Errorf("equivalent number encodings produced conflicts: %v", conflicts)
	}
}

func TestAutoMergeCombinesCleanDivergences(t *testing.T) {
	base := snapshot(project("p-1", "Alpha", 2))
	local := snapshot(project("p-1", "Alpha Renamed", 2))
	remote := snapshot(project("p-1", "Alpha", 4))

	if conflicts := Diff(base, local, remote); len(conflicts) != 0 {
		t.Fatalf("distinct-field edits produced conflicts: %v", conflicts)
	}

	merged := AutoMerge(base, local, remote).ByID(model.TypeProject)["p-1"]
	if merged["name"] != "Alpha Renamed" {
		t.Errorf("merged name = %v", merged["name"])
	}
	if !model.ValueEqual(merged["priority"], json.Number("4")) {
		t.Errorf("merged priority = %v, want remote's 4", merged["priority"])
	}
}

func TestAutoMergeKeepsSurvivorOnPendingDeletion(t *testing.T) {
	base := snapshot(project("p-1", "Alpha", 2))
	local := snapshot(project("p-1", "Alpha Renamed", 2))
	remote := snapshot()

	merged := AutoMerge(base, local, remote)
	rec, ok := merged.ByID(model.TypeProject)["p-1"]
	if !ok {
		t.Fatal("pending deletion dropped the surviving record")
	}
	if rec["name"] != "Alpha Renamed" {
		t.Errorf("survivor = %v", rec["name"])
	}
}
