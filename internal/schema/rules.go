package schema

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/openplanning/scensync/internal/model"
)

// fieldRule is one declarative constraint: a field name, whether it must
// be present, and a check returning an empty string or a violation message.
type fieldRule struct {
	name     string
	required bool
	check    func(value any) string
}

// crossRule validates relationships between fields of one record.
type crossRule func(rec model.Record) []FieldError

// entityRules is the full schema of one entity type.
type entityRules struct {
	fields     []fieldRule
	cross      []crossRule
	references map[string]model.EntityType
}

const maxNameLength = 255

var registry = map[model.EntityType]entityRules{
	model.TypeProject: {
		fields: []fieldRule{
			{"id", true, checkID},
			{"name", true, checkName},
			{"description", false, checkString(2000)},
			{"projectTypeId", true, checkID},
			{"locationId", false, checkID},
			{"priority", true, checkIntRange(1, 5)},
			{"createdAt", true, checkDateTime},
			{"updatedAt", true, checkDateTime},
		},
		references: map[string]model.EntityType{
			"projectTypeId": model.TypeProjectType,
			"locationId":    model.TypeLocation,
		},
	},
	model.TypePerson: {
		fields: []fieldRule{
			{"id", true, checkID},
			{"name", true, checkName},
			{"email", true, checkString(maxNameLength)},
			{"roleId", false, checkID},
			{"locationId", false, checkID},
			{"seniorityLevel", true, checkEnum(model.SeniorityLevels)},
			{"createdAt", true, checkDateTime},
			{"updatedAt", true, checkDateTime},
		},
		references: map[string]model.EntityType{
			"roleId":     model.TypeRole,
			"locationId": model.TypeLocation,
		},
	},
	model.TypeAssignment: {
		fields: []fieldRule{
			{"id", true, checkID},
			{"projectId", true, checkID},
			{"personId", true, checkID},
			{"roleId", true, checkID},
			{"phaseId", false, checkID},
			{"allocationPercentage", true, checkNumberRange(0, 200)},
			{"startDate", true, checkDate},
			{"endDate", true, checkDate},
			{"createdAt", true, checkDateTime},
			{"updatedAt", true, checkDateTime},
		},
		cross: []crossRule{checkDateOrder},
		references: map[string]model.EntityType{
			"projectId": model.TypeProject,
			"personId":  model.TypePerson,
			"roleId":    model.TypeRole,
			"phaseId":   model.TypeProjectPhase,
		},
	},
	model.TypeProjectPhase: {
		fields: []fieldRule{
			{"id", true, checkID},
			{"projectId", true, checkID},
			{"name", true, checkName},
			{"startDate", true, checkDate},
			{"endDate", true, checkDate},
			{"createdAt", true, checkDateTime},
			{"updatedAt", true, checkDateTime},
		},
		cross: []crossRule{checkDateOrder},
		references: map[string]model.EntityType{
			"projectId": model.TypeProject,
		},
	},
	model.TypeRole: {
		fields: []fieldRule{
			{"id", true, checkID},
			{"name", true, checkName},
			{"description", false, checkString(2000)},
			{"createdAt", true, checkDateTime},
			{"updatedAt", true, checkDateTime},
		},
	},
	model.TypeLocation: {
		fields: []fieldRule{
			{"id", true, checkID},
			{"name", true, checkName},
			{"createdAt", true, checkDateTime},
			{"updatedAt", true, checkDateTime},
		},
	},
	model.TypeProjectType: {
		fields: []fieldRule{
			{"id", true, checkID},
			{"name", true, checkName},
			{"description", false, checkString(2000)},
			{"createdAt", true, checkDateTime},
			{"updatedAt", true, checkDateTime},
		},
	},
}

func checkID(value any) string {
	s, ok := value.(string)
	if !ok {
		return "must be a string id"
	}
	if s == "" {
		return "must not be empty"
	}
	if len(s) > maxNameLength {
		return fmt.Sprintf("must be %d characters or less", maxNameLength)
	}
	return ""
}

func checkName(value any) string {
	s, ok := value.(string)
	if !ok {
		return "must be a string"
	}
	if s == "" {
		return "must not be empty"
	}
	if len(s) > maxNameLength {
		return fmt.Sprintf("must be %d characters or less (got %d)", maxNameLength, len(s))
	}
	return ""
}

func checkString(maxLen int) func(any) string {
	return func(value any) string {
		s, ok := value.(string)
		if !ok {
			return "must be a string"
		}
		if len(s) > maxLen {
			return fmt.Sprintf("must be %d characters or less (got %d)", maxLen, len(s))
		}
		return ""
	}
}

func checkEnum(allowed []string) func(any) string {
	return func(value any) string {
		s, ok := value.(string)
		if !ok {
			return "must be a string"
		}
		if !slices.Contains(allowed, s) {
			return fmt.Sprintf("must be one of %v (got %q)", allowed, s)
		}
		return ""
	}
}

func checkNumberRange(min, max float64) func(any) string {
	return func(value any) string {
		f, ok := asFloat(value)
		if !ok {
			return "must be a number"
		}
		if f < min || f > max {
			return fmt.Sprintf("must be between %g and %g (got %g)", min, max, f)
		}
		return ""
	}
}

func checkIntRange(min, max int) func(any) string {
	return func(value any) string {
		f, ok := asFloat(value)
		if !ok {
			return "must be a number"
		}
		if f != float64(int(f)) {
			return "must be an integer"
		}
		if int(f) < min || int(f) > max {
			return fmt.Sprintf("must be between %d and %d (got %d)", min, max, int(f))
		}
		return ""
	}
}

func checkDate(value any) string {
	s, ok := value.(string)
	if !ok {
		return "must be a YYYY-MM-DD string"
	}
	if _, err := model.ParseDate(s); err != nil {
		return "must match YYYY-MM-DD"
	}
	return ""
}

func checkDateTime(value any) string {
	s, ok := value.(string)
	if !ok {
		return "must be an ISO-8601 datetime string"
	}
	if _, err := time.Parse(time.RFC3339, s); err != nil {
		return "must be an ISO-8601 datetime"
	}
	return ""
}

// checkDateOrder enforces endDate >= startDate when both parse. Per-field
// format violations are reported by the field rules, not duplicated here.
func checkDateOrder(rec model.Record) []FieldError {
	startStr, okS := rec["startDate"].(string)
	endStr, okE := rec["endDate"].(string)
	if !okS || !okE {
		return nil
	}
	start, errS := model.ParseDate(startStr)
	end, errE := model.ParseDate(endStr)
	if errS != nil || errE != nil {
		return nil
	}
	if end.Before(start) {
		return []FieldError{{
			Field:   "endDate",
			Message: fmt.Sprintf("must not be before startDate (%s < %s)", endStr, startStr),
		}}
	}
	return nil
}

// asFloat accepts the numeric shapes JSON decoding can produce.
func asFloat(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
