package diff

import (
	"sort"

	"github.com/openplanning/scensync/internal/model"
)

// Diff computes the conflict set between a common ancestor and two
// divergent snapshots.
//
// Per entity type, keyed by id:
//   - created on both sides: identical content is convergent (no
//     conflict); differing content yields one creation conflict per
//     differing field.
//   - deleted on one side while the other still has it (modified or
//     kept): one deletion conflict. Deletion is destructive, so it is
//     never auto-resolved.
//   - present in all three: a field conflicts iff local and remote
//     disagree AND each differs from base. A field changed on only one
//     side auto-resolves to the changed side; both sides changing to the
//     same value is a convergent edit and silent.
//
// The returned slice is stably ordered by entity type declaration order,
// then entity id, then field name, so test assertions and UI listings
// are reproducible.
func Diff(base, local, remote model.Snapshot) []Conflict {
	var conflicts []Conflict

	for _, t := range model.EntityTypes() {
		conflicts = append(conflicts, diffType(t, base.ByID(t), local.ByID(t), remote.ByID(t))...)
	}

	sortConflicts(conflicts)
	return conflicts
}

func diffType(t model.EntityType, base, local, remote map[string]model.Record) []Conflict {
	var conflicts []Conflict

	for _, id := range unionIDs(base, local, remote) {
		baseRec, inBase := base[id]
		localRec, inLocal := local[id]
		remoteRec, inRemote := remote[id]

		switch {
		case !inBase && inLocal && inRemote:
			// Created independently on both sides with the same id.
			conflicts = append(conflicts, diffCreation(t, id, localRec, remoteRec)...)

		case inBase && inLocal && !inRemote:
			// Remote deleted, local kept.
			conflicts = append(conflicts, newConflict(KindDeletion, t, id,
				entityName(localRec), DeletedField, false, false, true))

		case inBase && !inLocal && inRemote:
			// Local deleted, remote kept.
			conflicts = append(conflicts, newConflict(KindDeletion, t, id,
				entityName(remoteRec), DeletedField, false, true, false))

		case inBase && inLocal && inRemote:
			conflicts = append(conflicts, diffFields(t, id, baseRec, localRec, remoteRec)...)

			// Remaining cases carry no conflict: both deleted, one-sided
			// creation, or an entity only the ancestor knew about.
		}
	}

	return conflicts
}

// diffCreation emits a creation conflict per differing field of two
// independently created records. Identical creations converge silently.
func diffCreation(t model.EntityType, id string, local, remote model.Record) []Conflict {
	var conflicts []Conflict
	name := entityName(local)

	for _, field := range unionFields(nil, local, remote) {
		localVal := local[field]
		remoteVal := remote[field]
		if model.ValueEqual(localVal, remoteVal) {
			continue
		}
		conflicts = append(conflicts, newConflict(KindCreation, t, id, name, field,
			nil, localVal, remoteVal))
	}

	return conflicts
}

// diffFields compares one entity present in all three snapshots field by
// field.
func diffFields(t model.EntityType, id string, base, local, remote model.Record) []Conflict {
	var conflicts []Conflict
	name := entityName(local)

	for _, field := range unionFields(base, local, remote) {
		baseVal := base[field]
		localVal := local[field]
		remoteVal := remote[field]

		if model.ValueEqual(localVal, remoteVal) {
			// Unchanged or convergent edit.
			continue
		}
		if model.ValueEqual(localVal, baseVal) || model.ValueEqual(remoteVal, baseVal) {
			// Clean divergence: only one side changed. Auto-resolves.
			continue
		}

		conflicts = append(conflicts, newConflict(KindField, t, id, name, field,
			baseVal, localVal, remoteVal))
	}

	return conflicts
}

// unionIDs returns the sorted union of record ids across snapshots.
func unionIDs(sets ...map[string]model.Record) []string {
	seen := make(map[string]bool)
	for _, set := range sets {
		for id := range set {
			seen[id] = true
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// unionFields returns the sorted union of field names across record
// versions. Audit timestamps are skipped: updatedAt moves on every edit
// and would turn every real conflict into a double report.
func unionFields(recs ...model.Record) []string {
	seen := make(map[string]bool)
	for _, rec := range recs {
		for field := range rec {
			seen[field] = true
		}
	}
	fields := make([]string, 0, len(seen))
	for field := range seen {
		if field == "createdAt" || field == "updatedAt" {
			continue
		}
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// sortConflicts orders conflicts by entity type declaration order, then
// entity id, then field name.
func sortConflicts(conflicts []Conflict) {
	sort.SliceStable(conflicts, func(i, j int) bool {
		a, b := conflicts[i], conflicts[j]
		if a.EntityType != b.EntityType {
			return a.EntityType < b.EntityType
		}
		if a.EntityID != b.EntityID {
			return a.EntityID < b.EntityID
		}
		return a.Field < b.Field
	})
}
