package diff

import (
	"sort"

	"github.com/openplanning/scensync/internal/model"
)

// AutoMerge builds the merged snapshot with every clean divergence
// already applied: one-sided edits take the changed side, one-sided
// creations are included, convergent changes collapse.
//
// Conflicted positions stay on the local value (local is the default base
// for unresolved state) and pending deletions keep the surviving side's
// record; the resolver patches these as resolutions are applied. Records
// are ordered by id so the merged snapshot is deterministic.
func AutoMerge(base, local, remote model.Snapshot) model.Snapshot {
	merged := make(model.Snapshot)

	for _, t := range model.EntityTypes() {
		records := mergeType(base.ByID(t), local.ByID(t), remote.ByID(t))
		if len(records) > 0 {
			merged[t] = records
		}
	}

	return merged
}

func mergeType(base, local, remote map[string]model.Record) []model.Record {
	var records []model.Record

	for _, id := range unionIDs(base, local, remote) {
		baseRec, inBase := base[id]
		localRec, inLocal := local[id]
		remoteRec, inRemote := remote[id]

		switch {
		case inLocal && inRemote:
			if inBase {
				records = append(records, mergeFields(baseRec, localRec, remoteRec))
			} else {
				// Both-sides creation: local content stands until any
				// creation conflicts are resolved.
				records = append(records, localRec.Clone())
			}

		case inLocal && !inRemote:
			if !inBase {
				// Local-only creation.
				records = append(records, localRec.Clone())
			} else {
				// Remote deleted: pending deletion conflict, keep the
				// surviving copy until resolved.
				records = append(records, localRec.Clone())
			}

		case !inLocal && inRemote:
			if !inBase {
				records = append(records, remoteRec.Clone())
			} else {
				records = append(records, remoteRec.Clone())
			}

			// Deleted on both sides, or known only to the ancestor:
			// nothing survives.
		}
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ID() < records[j].ID() })
	return records
}

// mergeFields merges one entity present in all three snapshots, starting
// from local and pulling in remote-only changes.
func mergeFields(base, local, remote model.Record) model.Record {
	merged := local.Clone()

	for _, field := range unionFields(base, local, remote) {
		baseVal := base[field]
		localVal := local[field]
		remoteVal := remote[field]

		// Only a clean remote-side change overrides local. Conflicted
		// fields keep local until resolved; everything else already is
		// the local value.
		if !model.ValueEqual(localVal, remoteVal) && model.ValueEqual(localVal, baseVal) {
			if remoteVal == nil {
				delete(merged, field)
			} else {
				merged[field] = cloneAny(remoteVal)
			}
		}
	}

	return merged
}

func cloneAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return model.Record(val).Clone()
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = cloneAny(inner)
		}
		return out
	default:
		return val
	}
}
