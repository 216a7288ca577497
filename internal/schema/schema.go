// Package schema is the registry of entity schemas for scenario bundles.
//
// Each entity type has an explicit validator built from declarative field
// rules. Validation returns a structured Result listing every violated
// field path; expected validation failures are values, never panics.
// Exceptions are reserved for programmer error (unknown entity types
// reaching the registry).
package schema

import (
	"fmt"
	"strings"

	"github.com/openplanning/scensync/internal/model"
)

// Version is the bundle schema version this registry validates.
//
// Only exact matches are compatible. A migration path across versions is
// reserved for later; an export declaring any other version, older or
// newer, is rejected before diffing begins.
const Version = "1.0.0"

// IsCompatibleVersion reports whether a bundle's declared schemaVersion
// can be validated by this registry.
func IsCompatibleVersion(version string) bool {
	return version == Version
}

// FieldError describes one violated constraint on one field path.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Result is the outcome of validating one record.
type Result struct {
	OK     bool
	Errors []FieldError
}

// ValidationError is returned when a record or custom resolution value
// fails registry rules. It is always recoverable: the caller can correct
// the input and retry, and nothing has been written.
type ValidationError struct {
	EntityType model.EntityType
	EntityID   string
	Fields     []FieldError
}

// Error renders every violated field path in one message.
func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, fe := range e.Fields {
		parts = append(parts, fe.Error())
	}
	subject := e.EntityType.String()
	if e.EntityID != "" {
		subject += " " + e.EntityID
	}
	return fmt.Sprintf("invalid %s: %s", subject, strings.Join(parts, "; "))
}

// Validate checks one record against the entity schema for its type.
// All field rules run; the Result collects every violation rather than
// stopping at the first.
func Validate(entityType model.EntityType, rec model.Record) Result {
	rules := rulesFor(entityType)

	var errs []FieldError
	for _, rule := range rules.fields {
		value, present := rec[rule.name]
		if !present || value == nil {
			if rule.required {
				errs = append(errs, FieldError{Field: rule.name, Message: "is required"})
			}
			continue
		}
		if msg := rule.check(value); msg != "" {
			errs = append(errs, FieldError{Field: rule.name, Message: msg})
		}
	}
	for _, cross := range rules.cross {
		errs = append(errs, cross(rec)...)
	}

	return Result{OK: len(errs) == 0, Errors: errs}
}

// ValidateRecord is Validate wrapped into the error taxonomy: it returns
// nil on success and a *ValidationError naming the record otherwise.
func ValidateRecord(entityType model.EntityType, rec model.Record) error {
	res := Validate(entityType, rec)
	if res.OK {
		return nil
	}
	return &ValidationError{
		EntityType: entityType,
		EntityID:   rec.ID(),
		Fields:     res.Errors,
	}
}

// ValidateField checks a single field value against its rule, without the
// rest of the record. Used to vet custom conflict-resolution values before
// they are applied.
//
// A nil value is only acceptable for optional fields.
func ValidateField(entityType model.EntityType, field string, value any) error {
	rules := rulesFor(entityType)
	for _, rule := range rules.fields {
		if rule.name != field {
			continue
		}
		if value == nil {
			if rule.required {
				return &ValidationError{
					EntityType: entityType,
					Fields:     []FieldError{{Field: field, Message: "is required"}},
				}
			}
			return nil
		}
		if msg := rule.check(value); msg != "" {
			return &ValidationError{
				EntityType: entityType,
				Fields:     []FieldError{{Field: field, Message: msg}},
			}
		}
		return nil
	}
	return &ValidationError{
		EntityType: entityType,
		Fields:     []FieldError{{Field: field, Message: "is not a known field"}},
	}
}

// rulesFor returns the rule set for an entity type. Unknown types are a
// programmer error: every EntityType constant must have rules registered.
func rulesFor(entityType model.EntityType) entityRules {
	rules, ok := registry[entityType]
	if !ok {
		panic(fmt.Sprintf("schema: no rules registered for entity type %s", entityType))
	}
	return rules
}

// ReferenceFields returns the foreign-key fields of an entity type and the
// entity type each must resolve to. The guard package walks these when
// checking referential integrity within a snapshot.
func ReferenceFields(entityType model.EntityType) map[string]model.EntityType {
	return registry[entityType].references
}
