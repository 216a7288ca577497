// Package export serializes planning entities to versioned scenario
// bundles and back.
//
// A bundle is the unit of persistence: one JSON file per entity type per
// scenario, always a full snapshot of that type's records. Entities have
// no lifecycle outside a bundle; creates, updates, and deletes all happen
// by re-exporting the complete current state.
package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/openplanning/scensync/internal/model"
	"github.com/openplanning/scensync/internal/schema"
)

// ErrIncompatibleVersion is returned when a bundle declares a
// schemaVersion the registry does not accept.
var ErrIncompatibleVersion = errors.New("incompatible schema version")

// Bundle is one scenario export document for one entity type.
//
// The on-disk encoding is the sync contract: the VCS layer treats it as
// opaque file content and the store importer parses it back. EntityType is
// carried out of band (it is implied by the bundle's filename).
type Bundle struct {
	SchemaVersion string         `json:"schemaVersion"`
	ExportedAt    time.Time      `json:"exportedAt"`
	ExportedBy    string         `json:"exportedBy,omitempty"`
	ScenarioID    string         `json:"scenarioId"`
	Data          []model.Record `json:"data"`

	EntityType model.EntityType `json:"-"`
}

// Exporter builds bundles from entity records.
type Exporter struct {
	// Clock supplies exportedAt timestamps. Injected so exports are
	// byte-for-byte reproducible under test.
	Clock func() time.Time

	// ExportedBy is the optional author email stamped on bundles.
	ExportedBy string
}

// NewExporter creates an Exporter using the wall clock.
func NewExporter(exportedBy string) *Exporter {
	return &Exporter{
		Clock:      time.Now,
		ExportedBy: exportedBy,
	}
}

// Export validates records and builds the bundle for one entity type.
//
// Partial exports are not permitted: the first record failing registry
// validation aborts the export with that ValidationError and nothing is
// produced. Records are ordered by id so output is deterministic given a
// fixed clock.
func (e *Exporter) Export(scenarioID string, entityType model.EntityType, records []model.Record) (*Bundle, error) {
	if scenarioID == "" {
		return nil, fmt.Errorf("scenario id is required")
	}
	if !entityType.Valid() {
		return nil, fmt.Errorf("invalid entity type %d", int(entityType))
	}

	seen := make(map[string]bool, len(records))
	data := make([]model.Record, 0, len(records))
	for _, rec := range records {
		if err := schema.ValidateRecord(entityType, rec); err != nil {
			return nil, err
		}
		id := rec.ID()
		if seen[id] {
			return nil, &schema.ValidationError{
				EntityType: entityType,
				EntityID:   id,
				Fields:     []schema.FieldError{{Field: "id", Message: "is duplicated in export"}},
			}
		}
		seen[id] = true
		data = append(data, rec.Clone())
	}

	sort.Slice(data, func(i, j int) bool { return data[i].ID() < data[j].ID() })

	return &Bundle{
		SchemaVersion: schema.Version,
		ExportedAt:    e.Clock().UTC(),
		ExportedBy:    e.ExportedBy,
		ScenarioID:    scenarioID,
		Data:          data,
		EntityType:    entityType,
	}, nil
}

// Import validates a bundle and returns its records, ready to hand to the
// relational store. The same registry rules gate both directions.
func Import(b *Bundle) ([]model.Record, error) {
	if !schema.IsCompatibleVersion(b.SchemaVersion) {
		return nil, fmt.Errorf("bundle %s declares schemaVersion %q, registry supports %q: %w",
			b.EntityType, b.SchemaVersion, schema.Version, ErrIncompatibleVersion)
	}
	for _, rec := range b.Data {
		if err := schema.ValidateRecord(b.EntityType, rec); err != nil {
			return nil, err
		}
	}
	out := make([]model.Record, 0, len(b.Data))
	for _, rec := range b.Data {
		out = append(out, rec.Clone())
	}
	return out, nil
}

// Marshal encodes a bundle to its canonical on-disk form: pretty-printed
// UTF-8 JSON with a trailing newline. Object keys serialize in sorted
// order, so encoding is deterministic.
func (b *Bundle) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s bundle: %w", b.EntityType, err)
	}
	return append(data, '\n'), nil
}

// BundleFileName returns the canonical filename for one entity type's
// bundle: {type}.json.
func BundleFileName(entityType model.EntityType) string {
	return entityType.String() + ".json"
}

// ParseBundle parses bundle file content. Record numbers are preserved as
// json.Number so values survive diffing without float drift.
func ParseBundle(entityType model.EntityType, data []byte) (*Bundle, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var b Bundle
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("failed to parse %s bundle: %w", entityType, err)
	}
	b.EntityType = entityType
	return &b, nil
}

// WriteBundleFile writes a bundle into the scenario directory.
func WriteBundleFile(scenarioDir string, b *Bundle) error {
	if err := os.MkdirAll(scenarioDir, 0755); err != nil {
		return fmt.Errorf("failed to create scenario directory: %w", err)
	}
	data, err := b.Marshal()
	if err != nil {
		return err
	}
	path := filepath.Join(scenarioDir, BundleFileName(b.EntityType))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write bundle file %s: %w", path, err)
	}
	return nil
}

// ReadBundleFile reads and parses one bundle file.
func ReadBundleFile(scenarioDir string, entityType model.EntityType) (*Bundle, error) {
	path := filepath.Join(scenarioDir, BundleFileName(entityType))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle file %s: %w", path, err)
	}
	return ParseBundle(entityType, data)
}

// ReadSnapshot reads every bundle file present in a scenario directory
// into a Snapshot. Missing files mean that type has no records, which is
// valid; a scenario that has never exported a type simply omits the file.
func ReadSnapshot(scenarioDir string) (model.Snapshot, error) {
	snap := make(model.Snapshot)
	for _, t := range model.EntityTypes() {
		path := filepath.Join(scenarioDir, BundleFileName(t))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		b, err := ReadBundleFile(scenarioDir, t)
		if err != nil {
			return nil, err
		}
		snap[t] = b.Data
	}
	return snap, nil
}
