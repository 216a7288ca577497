// Package guard validates snapshots before the diff engine is allowed to
// see them.
//
// Checks run in order: JSON well-formedness, schema version
// compatibility, per-record field validation, referential integrity.
// The first two are fatal for the snapshot — a malformed or incompatible
// bundle aborts the merge with a CorruptionError naming the snapshot and
// reason (usually a manual git-history problem worth investigating). The
// last two are collected per record and handed back for the caller to
// decide: exclude the offending records or abort entirely.
package guard

import (
	"fmt"
	"sort"

	"github.com/openplanning/scensync/internal/export"
	"github.com/openplanning/scensync/internal/model"
	"github.com/openplanning/scensync/internal/schema"
)

// CorruptionError is a fatal snapshot defect: malformed JSON or an
// incompatible schema version. The merge session cannot proceed with
// this snapshot.
type CorruptionError struct {
	// Snapshot names which of base/local/remote is corrupt.
	Snapshot string

	// EntityType is the bundle the defect was found in.
	EntityType model.EntityType

	// Reason is a human-readable description of the defect.
	Reason string

	// Err is the underlying parse error, if any.
	Err error
}

// Error names the snapshot and bundle so the caller can investigate.
func (e *CorruptionError) Error() string {
	msg := fmt.Sprintf("snapshot %q is corrupt: %s bundle: %s", e.Snapshot, e.EntityType, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *CorruptionError) Unwrap() error {
	return e.Err
}

// Violation is one referential-integrity failure: a foreign-key field
// that does not resolve within the snapshot.
type Violation struct {
	EntityType model.EntityType `json:"entityType"`
	EntityID   string           `json:"entityId"`
	Field      string           `json:"field"`
	TargetType model.EntityType `json:"targetType"`
	TargetID   string           `json:"targetId"`
}

// Error implements the error interface.
func (v Violation) Error() string {
	return fmt.Sprintf("%s %s field %s references %s %q which does not exist in this snapshot",
		v.EntityType, v.EntityID, v.Field, v.TargetType, v.TargetID)
}

// ReferentialIntegrityError collects every unresolved reference in one
// snapshot. Non-fatal: the caller chooses between excluding the
// offending records and aborting.
type ReferentialIntegrityError struct {
	Snapshot   string
	Violations []Violation
}

// Error summarizes the violation count; individual violations carry the
// detail.
func (e *ReferentialIntegrityError) Error() string {
	return fmt.Sprintf("snapshot %q has %d unresolved references", e.Snapshot, len(e.Violations))
}

// Report is the non-fatal findings for one snapshot: invalid records and
// referential-integrity violations, each naming the exact record so the
// caller can exclude it or abort.
type Report struct {
	Snapshot     string
	RecordErrors []*schema.ValidationError
	Violations   []Violation
}

// Clean reports whether the snapshot passed every check.
func (r *Report) Clean() bool {
	return len(r.RecordErrors) == 0 && len(r.Violations) == 0
}

// IntegrityError returns the violations wrapped in the error taxonomy,
// or nil when there are none.
func (r *Report) IntegrityError() error {
	if len(r.Violations) == 0 {
		return nil
	}
	return &ReferentialIntegrityError{Snapshot: r.Snapshot, Violations: r.Violations}
}

// CheckSnapshot validates one snapshot's bundle files.
//
// files maps entity types to raw bundle content; types with no bundle
// are simply absent. Returns the parsed snapshot plus the non-fatal
// report. A non-nil error is always a *CorruptionError and means the
// snapshot must not be merged.
func CheckSnapshot(name string, files map[model.EntityType][]byte) (model.Snapshot, *Report, error) {
	snap := make(model.Snapshot)
	report := &Report{Snapshot: name}

	for _, t := range model.EntityTypes() {
		raw, ok := files[t]
		if !ok {
			continue
		}

		bundle, err := export.ParseBundle(t, raw)
		if err != nil {
			return nil, nil, &CorruptionError{
				Snapshot:   name,
				EntityType: t,
				Reason:     "malformed JSON",
				Err:        err,
			}
		}

		if !schema.IsCompatibleVersion(bundle.SchemaVersion) {
			return nil, nil, &CorruptionError{
				Snapshot:   name,
				EntityType: t,
				Reason: fmt.Sprintf("schemaVersion %q is not compatible with registry version %q",
					bundle.SchemaVersion, schema.Version),
			}
		}

		for _, rec := range bundle.Data {
			if err := schema.ValidateRecord(t, rec); err != nil {
				report.RecordErrors = append(report.RecordErrors, err.(*schema.ValidationError))
			}
		}

		snap[t] = bundle.Data
	}

	report.Violations = checkReferences(snap)
	return snap, report, nil
}

// checkReferences verifies that every foreign-key field resolves to an
// id in the corresponding entity set of the same snapshot. Snapshots are
// checked independently; a reference may be valid locally and dangling
// remotely.
func checkReferences(snap model.Snapshot) []Violation {
	indexes := make(map[model.EntityType]map[string]model.Record)
	for _, t := range model.EntityTypes() {
		indexes[t] = snap.ByID(t)
	}

	var violations []Violation
	for _, t := range model.EntityTypes() {
		refs := schema.ReferenceFields(t)
		if len(refs) == 0 {
			continue
		}
		for _, rec := range snap.Records(t) {
			for field, targetType := range refs {
				targetID, ok := rec[field].(string)
				if !ok || targetID == "" {
					// Absent optional references are fine; missing
					// required ones are a validation finding, not an
					// integrity one.
					continue
				}
				if _, found := indexes[targetType][targetID]; !found {
					violations = append(violations, Violation{
						EntityType: t,
						EntityID:   rec.ID(),
						Field:      field,
						TargetType: targetType,
						TargetID:   targetID,
					})
				}
			}
		}
	}

	sort.Slice(violations, func(i, j int) bool {
		a, b := violations[i], violations[j]
		if a.EntityType != b.EntityType {
			return a.EntityType < b.EntityType
		}
		if a.EntityID != b.EntityID {
			return a.EntityID < b.EntityID
		}
		return a.Field < b.Field
	})
	return violations
}

// ExcludeOffending returns a copy of the snapshot without the records
// named in the report. This is the "exclude only the offending records"
// caller policy; the alternative is aborting the session.
func ExcludeOffending(snap model.Snapshot, report *Report) model.Snapshot {
	bad := make(map[model.EntityType]map[string]bool)
	mark := func(t model.EntityType, id string) {
		if bad[t] == nil {
			bad[t] = make(map[string]bool)
		}
		bad[t][id] = true
	}
	for _, recErr := range report.RecordErrors {
		mark(recErr.EntityType, recErr.EntityID)
	}
	for _, v := range report.Violations {
		mark(v.EntityType, v.EntityID)
	}

	out := make(model.Snapshot)
	for t, recs := range snap {
		var kept []model.Record
		for _, rec := range recs {
			if !bad[t][rec.ID()] {
				kept = append(kept, rec)
			}
		}
		if len(kept) > 0 {
			out[t] = kept
		}
	}
	return out
}
