package model

import "time"

// SeniorityLevels is the closed set of allowed person seniority values.
var SeniorityLevels = []string{"junior", "mid", "senior", "lead", "principal"}

// Project is a planning project. References ProjectType and Location by id.
type Project struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	ProjectTypeID string    `json:"projectTypeId"`
	LocationID    string    `json:"locationId,omitempty"`
	Priority      int       `json:"priority"` // 1 (highest) .. 5
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Person is someone who can be assigned to projects.
type Person struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	RoleID         string    `json:"roleId,omitempty"`
	LocationID     string    `json:"locationId,omitempty"`
	SeniorityLevel string    `json:"seniorityLevel"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Assignment allocates a person to a project for a date range.
//
// AllocationPercentage may exceed 100 (up to 200) to record deliberate
// over-allocation; summed overlapping allocations above 100 trigger
// warnings during conflict resolution, they are never rejected here.
type Assignment struct {
	ID                   string    `json:"id"`
	ProjectID            string    `json:"projectId"`
	PersonID             string    `json:"personId"`
	RoleID               string    `json:"roleId"`
	PhaseID              string    `json:"phaseId,omitempty"`
	AllocationPercentage float64   `json:"allocationPercentage"` // 0..200
	StartDate            Date      `json:"startDate"`
	EndDate              Date      `json:"endDate"` // inclusive, >= StartDate
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// ProjectPhase is a named date range within a project.
type ProjectPhase struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Name      string    `json:"name"`
	StartDate Date      `json:"startDate"`
	EndDate   Date      `json:"endDate"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Role is a job function people hold and assignments require.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Location is a site or region people and projects belong to.
type Location struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ProjectType categorizes projects.
type ProjectType struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
