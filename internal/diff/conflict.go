// Package diff computes three-way differences between scenario snapshots.
//
// The engine compares structured records, not text lines: for each entity
// type it matches records by id across the base (common ancestor), local,
// and remote snapshots and reports field-level disagreements. Conflicts
// are data, not errors — diffing never fails on conflicting input.
package diff

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/openplanning/scensync/internal/model"
)

// Kind classifies how a conflict arose.
type Kind int

const (
	// KindField is a regular field conflict: both sides changed the same
	// field of an entity present in all three snapshots.
	KindField Kind = iota

	// KindCreation is a both-sides-created conflict: the same id was
	// created on both sides with differing content. BaseValue is nil.
	KindCreation

	// KindDeletion is a deletion conflict: one side deleted an entity
	// the other side still carries. Reported on the synthetic field
	// DeletedField with boolean values.
	KindDeletion
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindField:
		return "field"
	case KindCreation:
		return "creation"
	case KindDeletion:
		return "deletion"
	default:
		return "unknown"
	}
}

// DeletedField is the synthetic field name deletion conflicts are
// reported on. true means "this side deleted the entity". Regular entity
// fields never start with an underscore, so the name cannot collide.
const DeletedField = "_deleted"

// Conflict is one field-level disagreement between local and remote.
//
// Created by the diff engine, consumed exactly once by the resolver (or
// deferred and revisited). The ID is random; ordering comes from the
// (entity type, entity id, field) sort, which is stable across runs.
type Conflict struct {
	ID          string           `json:"id"`
	Kind        Kind             `json:"kind"`
	EntityType  model.EntityType `json:"entityType"`
	EntityID    string           `json:"entityId"`
	EntityName  string           `json:"entityName"`
	Field       string           `json:"field"`
	BaseValue   any              `json:"baseValue"`
	LocalValue  any              `json:"localValue"`
	RemoteValue any              `json:"remoteValue"`
}

// String renders the conflict for listings and logs.
func (c Conflict) String() string {
	return fmt.Sprintf("%s %s (%s) field %s: base=%s local=%s remote=%s",
		c.EntityType, c.EntityID, c.Kind, c.Field,
		model.FormatValue(c.BaseValue),
		model.FormatValue(c.LocalValue),
		model.FormatValue(c.RemoteValue))
}

func newConflict(kind Kind, entityType model.EntityType, entityID, entityName, field string, base, local, remote any) Conflict {
	return Conflict{
		ID:          uuid.NewString(),
		Kind:        kind,
		EntityType:  entityType,
		EntityID:    entityID,
		EntityName:  entityName,
		Field:       field,
		BaseValue:   base,
		LocalValue:  local,
		RemoteValue: remote,
	}
}

// entityName extracts a display name from a record, falling back to the
// id for entities without a name field (assignments).
func entityName(rec model.Record) string {
	if rec == nil {
		return ""
	}
	if name, ok := rec["name"].(string); ok && name != "" {
		return name
	}
	return rec.ID()
}
