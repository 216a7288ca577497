package resolve

import (
	"encoding/json"
	"sort"

	"github.com/openplanning/scensync/internal/diff"
	"github.com/openplanning/scensync/internal/model"
)

// OverAllocationWarning reports that a proposed resolution leaves a
// person allocated above 100% across overlapping assignments.
//
// Warnings are derived and transient: recomputed fresh from the merged
// state after every resolution, never persisted, never blocking. The
// caller decides whether to proceed.
type OverAllocationWarning struct {
	PersonID        string   `json:"personId"`
	PersonName      string   `json:"personName,omitempty"`
	TotalAllocation float64  `json:"totalAllocation"`
	AssignmentIDs   []string `json:"assignmentIds"`
}

// allocationFields are the assignment fields whose resolution can change
// someone's allocation total.
var allocationFields = map[string]bool{
	"allocationPercentage": true,
	"personId":             true,
	"startDate":            true,
	"endDate":              true,
	diff.DeletedField:      true,
}

// overAllocationWarnings evaluates the guardrail for one applied
// resolution against the trial merged state.
//
// Only assignment resolutions on allocation-affecting fields are
// checked. The total is the sum of the affected person's assignments
// whose date ranges overlap the resolved assignment's effective range.
func overAllocationWarnings(c *diff.Conflict, value any, merged map[model.EntityType]map[string]model.Record) []OverAllocationWarning {
	if c.EntityType != model.TypeAssignment || !allocationFields[c.Field] {
		return nil
	}

	target, ok := merged[model.TypeAssignment][c.EntityID]
	if !ok {
		// Resolved to deletion: the person's total can only drop.
		return nil
	}

	personID, _ := target["personId"].(string)
	if personID == "" {
		return nil
	}

	start, end, ok := assignmentRange(target)
	if !ok {
		return nil
	}

	total := 0.0
	var ids []string
	for id, rec := range merged[model.TypeAssignment] {
		if pid, _ := rec["personId"].(string); pid != personID {
			continue
		}
		aStart, aEnd, ok := assignmentRange(rec)
		if !ok || !model.Overlaps(start, end, aStart, aEnd) {
			continue
		}
		total += allocationOf(rec)
		ids = append(ids, id)
	}

	if total <= 100 {
		return nil
	}

	sort.Strings(ids)
	return []OverAllocationWarning{{
		PersonID:        personID,
		PersonName:      personName(merged, personID),
		TotalAllocation: total,
		AssignmentIDs:   ids,
	}}
}

func assignmentRange(rec model.Record) (model.Date, model.Date, bool) {
	startStr, okS := rec["startDate"].(string)
	endStr, okE := rec["endDate"].(string)
	if !okS || !okE {
		return model.Date{}, model.Date{}, false
	}
	start, errS := model.ParseDate(startStr)
	end, errE := model.ParseDate(endStr)
	if errS != nil || errE != nil {
		return model.Date{}, model.Date{}, false
	}
	return start, end, true
}

func allocationOf(rec model.Record) float64 {
	switch v := rec["allocationPercentage"].(type) {
	case float64:
		return v
	case json.Number:
		f, _ := v.Float64()
		return f
	case int:
		return float64(v)
	default:
		return 0
	}
}

func personName(merged map[model.EntityType]map[string]model.Record, personID string) string {
	person, ok := merged[model.TypePerson][personID]
	if !ok {
		return ""
	}
	name, _ := person["name"].(string)
	return name
}
