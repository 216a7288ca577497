// Package model defines the planning entities that scenario sync moves
// between the relational store and versioned JSON bundles.
//
// Entities reference each other by id only; there are no embedded objects.
// Referential integrity is checked by the guard package, not enforced here.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// EntityType identifies one of the planning entity kinds.
//
// The zero value is invalid. The declaration order below is the canonical
// ordering used when sorting conflicts and writing bundle files, so new
// types must be appended, never inserted.
type EntityType int

const (
	TypeProject EntityType = iota + 1
	TypePerson
	TypeAssignment
	TypeProjectPhase
	TypeRole
	TypeLocation
	TypeProjectType
)

// entityTypeNames maps each type to its wire name. Wire names appear in
// bundle filenames and conflict payloads.
var entityTypeNames = map[EntityType]string{
	TypeProject:      "project",
	TypePerson:       "person",
	TypeAssignment:   "assignment",
	TypeProjectPhase: "project_phase",
	TypeRole:         "role",
	TypeLocation:     "location",
	TypeProjectType:  "project_type",
}

// EntityTypes returns all entity types in canonical declaration order.
func EntityTypes() []EntityType {
	return []EntityType{
		TypeProject,
		TypePerson,
		TypeAssignment,
		TypeProjectPhase,
		TypeRole,
		TypeLocation,
		TypeProjectType,
	}
}

// String returns the wire name of the entity type.
func (t EntityType) String() string {
	if name, ok := entityTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(t))
}

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	_, ok := entityTypeNames[t]
	return ok
}

// ParseEntityType resolves a wire name back to its EntityType.
func ParseEntityType(name string) (EntityType, error) {
	for t, n := range entityTypeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown entity type %q", name)
}

// MarshalJSON encodes the entity type as its wire name.
func (t EntityType) MarshalJSON() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid entity type %d", int(t))
	}
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes an entity type from its wire name.
func (t *EntityType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseEntityType(name)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// Date is a calendar date (no time component) serialized as YYYY-MM-DD.
type Date struct {
	time.Time
}

// NewDate constructs a Date from year, month, day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return Date{t}, nil
}

// String returns the YYYY-MM-DD representation.
func (d Date) String() string {
	return d.Format(DateLayout)
}

// MarshalJSON encodes the date as a YYYY-MM-DD string.
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes a YYYY-MM-DD string.
func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Before reports whether d is strictly before other.
func (d Date) Before(other Date) bool {
	return d.Time.Before(other.Time)
}

// After reports whether d is strictly after other.
func (d Date) After(other Date) bool {
	return d.Time.After(other.Time)
}

// Overlaps reports whether the inclusive range [aStart, aEnd] intersects
// [bStart, bEnd]. Used for over-allocation checks across assignments.
func Overlaps(aStart, aEnd, bStart, bEnd Date) bool {
	return !aStart.After(bEnd) && !bStart.After(aEnd)
}
