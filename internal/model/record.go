package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Record is the generic, field-addressable form of an entity as it appears
// in a bundle. The diff engine and conflict resolver operate on Records so
// they can compare and patch arbitrary fields without one code path per
// entity type.
type Record map[string]any

// ID returns the record's id field, or empty string if absent.
func (r Record) ID() string {
	id, _ := r["id"].(string)
	return id
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = cloneValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return val
	}
}

// Snapshot is a complete entity state for one scenario: every record of
// every entity type, as read from one set of bundle files (base, local,
// or remote).
type Snapshot map[EntityType][]Record

// Records returns the records for one entity type (possibly nil).
func (s Snapshot) Records(t EntityType) []Record {
	return s[t]
}

// ByID indexes one entity type's records by id.
func (s Snapshot) ByID(t EntityType) map[string]Record {
	out := make(map[string]Record, len(s[t]))
	for _, rec := range s[t] {
		if id := rec.ID(); id != "" {
			out[id] = rec
		}
	}
	return out
}

// ToRecord converts a typed entity into its generic Record form via its
// JSON encoding. Numbers come back as json.Number so values survive a
// round trip without float drift.
func ToRecord(entity any) (Record, error) {
	data, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entity: %w", err)
	}
	return DecodeRecord(data)
}

// FromRecord decodes a generic Record into a typed entity.
func FromRecord(rec Record, entity any) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	if err := json.Unmarshal(data, entity); err != nil {
		return fmt.Errorf("failed to decode record: %w", err)
	}
	return nil
}

// DecodeRecord parses one JSON object into a Record, preserving number
// literals as json.Number.
func DecodeRecord(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to parse record: %w", err)
	}
	return rec, nil
}

// ValueEqual reports whether two field values are equal under canonical
// JSON encoding. json.Number values are normalized numerically first so
// "50" and "50.0" compare equal.
func ValueEqual(a, b any) bool {
	ca, errA := canonicalValue(a)
	cb, errB := canonicalValue(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ca, cb)
}

func canonicalValue(v any) ([]byte, error) {
	return json.Marshal(normalizeValue(v))
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = normalizeValue(inner)
		}
		return out
	case Record:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = normalizeValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = normalizeValue(inner)
		}
		return out
	default:
		return val
	}
}

// FormatValue renders a field value for conflict listings and logs.
func FormatValue(v any) string {
	if v == nil {
		return "<none>"
	}
	data, err := json.Marshal(normalizeValue(v))
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
