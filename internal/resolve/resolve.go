// Package resolve applies resolution decisions to a conflict set and
// maintains the merged entity state of one merge session.
//
// Each conflict is resolved exactly once (accept-local, accept-remote, or
// a custom value) or explicitly deferred and revisited later. Resolution
// is terminal: there is no way back from resolved to pending. Domain
// guardrails run before a resolution is finalized — raising a person past
// 100% allocation is never blocked, but it must be acknowledged.
package resolve

import (
	"errors"
	"fmt"
	"sort"

	"github.com/openplanning/scensync/internal/diff"
	"github.com/openplanning/scensync/internal/model"
	"github.com/openplanning/scensync/internal/schema"
)

// Strategy selects which value wins a conflict.
type Strategy string

const (
	// AcceptLocal copies the local value verbatim.
	AcceptLocal Strategy = "accept_local"

	// AcceptRemote copies the remote value verbatim.
	AcceptRemote Strategy = "accept_remote"

	// Custom applies a caller-supplied value, re-validated against the
	// field's schema rules before acceptance.
	Custom Strategy = "custom"
)

// Resolution is one decision for one conflict.
type Resolution struct {
	ConflictID  string
	Strategy    Strategy
	CustomValue any

	// AcknowledgeWarnings confirms the caller has seen over-allocation
	// warnings from a previous attempt. Without it, a resolution that
	// would over-allocate someone is withheld and the warnings returned.
	AcknowledgeWarnings bool
}

// State tracks a conflict through the session.
//
// Transitions: Pending -> Resolved (terminal), Pending -> Deferred ->
// Pending. Deferral does not consume the conflict.
type State int

const (
	Pending State = iota
	Deferred
	Resolved
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Deferred:
		return "deferred"
	case Resolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// Session errors.
var (
	// ErrConflictNotFound is returned for an unknown conflict id.
	ErrConflictNotFound = errors.New("conflict not found")

	// ErrAlreadyResolved is returned when resolving a conflict twice.
	// Resolution is a one-shot operation.
	ErrAlreadyResolved = errors.New("conflict already resolved")

	// ErrAcknowledgementRequired is returned when a resolution would
	// over-allocate a person and the caller has not acknowledged the
	// warnings. The conflict stays pending.
	ErrAcknowledgementRequired = errors.New("over-allocation must be acknowledged")

	// ErrSessionIncomplete is returned when the merged snapshot is
	// requested while conflicts are still pending.
	ErrSessionIncomplete = errors.New("session has unresolved conflicts")
)

// Session holds the conflicts of one merge pass and the merged entity
// state they resolve into.
//
// Not safe for concurrent use: one merge session runs at a time per
// scenario (the sync layer holds the per-scenario lock).
type Session struct {
	conflicts []diff.Conflict
	states    map[string]State
	byID      map[string]*diff.Conflict

	// merged is the working entity state: auto-resolved divergences
	// already applied, conflicted positions patched as resolutions land.
	merged map[model.EntityType]map[string]model.Record
}

// NewSession diffs the three snapshots and prepares the merged state.
func NewSession(base, local, remote model.Snapshot) *Session {
	conflicts := diff.Diff(base, local, remote)
	auto := diff.AutoMerge(base, local, remote)

	merged := make(map[model.EntityType]map[string]model.Record)
	for _, t := range model.EntityTypes() {
		merged[t] = auto.ByID(t)
	}

	s := &Session{
		conflicts: conflicts,
		states:    make(map[string]State, len(conflicts)),
		byID:      make(map[string]*diff.Conflict, len(conflicts)),
		merged:    merged,
	}
	for i := range conflicts {
		c := &s.conflicts[i]
		s.states[c.ID] = Pending
		s.byID[c.ID] = c
	}
	return s
}

// Conflicts returns the conflict set in stable order.
func (s *Session) Conflicts() []diff.Conflict {
	out := make([]diff.Conflict, len(s.conflicts))
	copy(out, s.conflicts)
	return out
}

// State returns the state of one conflict.
func (s *Session) State(conflictID string) (State, error) {
	state, ok := s.states[conflictID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrConflictNotFound, conflictID)
	}
	return state, nil
}

// Pending returns the conflicts still awaiting a decision, in stable
// order. Deferred conflicts are not pending.
func (s *Session) Pending() []diff.Conflict {
	var out []diff.Conflict
	for _, c := range s.conflicts {
		if s.states[c.ID] == Pending {
			out = append(out, c)
		}
	}
	return out
}

// Defer postpones a pending conflict without discarding it.
func (s *Session) Defer(conflictID string) error {
	state, err := s.State(conflictID)
	if err != nil {
		return err
	}
	if state == Resolved {
		return fmt.Errorf("cannot defer %s: %w", conflictID, ErrAlreadyResolved)
	}
	s.states[conflictID] = Deferred
	return nil
}

// Reopen returns a deferred conflict to pending.
func (s *Session) Reopen(conflictID string) error {
	state, err := s.State(conflictID)
	if err != nil {
		return err
	}
	if state == Resolved {
		return fmt.Errorf("cannot reopen %s: %w", conflictID, ErrAlreadyResolved)
	}
	s.states[conflictID] = Pending
	return nil
}

// Resolve applies one resolution.
//
// Custom values are re-validated against the field's schema rules; an
// invalid value fails with the ValidationError and the conflict remains
// pending. Resolutions that would push a person past 100% allocation
// return OverAllocationWarnings: unacknowledged, the resolution is
// withheld (ErrAcknowledgementRequired); acknowledged, it proceeds.
// Resolving a deferred conflict implicitly reopens it first.
func (s *Session) Resolve(res Resolution) ([]OverAllocationWarning, error) {
	c, ok := s.byID[res.ConflictID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConflictNotFound, res.ConflictID)
	}
	if s.states[c.ID] == Resolved {
		return nil, fmt.Errorf("conflict %s on %s %s field %s: %w",
			c.ID, c.EntityType, c.EntityID, c.Field, ErrAlreadyResolved)
	}

	value, err := s.chooseValue(c, res)
	if err != nil {
		return nil, err
	}

	// Trial-apply, then check the guardrail before committing. Warnings
	// are always recomputed against the current merged view, never
	// cached: earlier resolutions in this session are already reflected.
	trial := s.applyToClone(c, value)
	warnings := overAllocationWarnings(c, value, trial)

	if len(warnings) > 0 && !res.AcknowledgeWarnings {
		return warnings, ErrAcknowledgementRequired
	}

	s.merged[c.EntityType] = trial[c.EntityType]
	s.states[c.ID] = Resolved
	return warnings, nil
}

// chooseValue picks and validates the winning value for a resolution.
func (s *Session) chooseValue(c *diff.Conflict, res Resolution) (any, error) {
	switch res.Strategy {
	case AcceptLocal:
		return c.LocalValue, nil
	case AcceptRemote:
		return c.RemoteValue, nil
	case Custom:
		if c.Field == diff.DeletedField {
			deleted, ok := res.CustomValue.(bool)
			if !ok {
				return nil, &schema.ValidationError{
					EntityType: c.EntityType,
					EntityID:   c.EntityID,
					Fields:     []schema.FieldError{{Field: c.Field, Message: "must be a boolean"}},
				}
			}
			return deleted, nil
		}
		if err := schema.ValidateField(c.EntityType, c.Field, res.CustomValue); err != nil {
			return nil, err
		}
		return res.CustomValue, nil
	default:
		return nil, fmt.Errorf("unknown resolution strategy %q", res.Strategy)
	}
}

// applyToClone applies a winning value to a copy of the affected entity
// type's merged records.
func (s *Session) applyToClone(c *diff.Conflict, value any) map[model.EntityType]map[string]model.Record {
	patched := make(map[string]model.Record, len(s.merged[c.EntityType]))
	for id, rec := range s.merged[c.EntityType] {
		patched[id] = rec.Clone()
	}

	if c.Field == diff.DeletedField {
		if deleted, _ := value.(bool); deleted {
			delete(patched, c.EntityID)
		}
	} else if rec, ok := patched[c.EntityID]; ok {
		if value == nil {
			delete(rec, c.Field)
		} else {
			rec[c.Field] = value
		}
	}

	trial := make(map[model.EntityType]map[string]model.Record, len(s.merged))
	for t, recs := range s.merged {
		trial[t] = recs
	}
	trial[c.EntityType] = patched
	return trial
}

// Complete reports whether every conflict is resolved or explicitly
// deferred. Only a complete session's merged snapshot may be imported.
func (s *Session) Complete() bool {
	for _, state := range s.states {
		if state == Pending {
			return false
		}
	}
	return true
}

// MergedSnapshot returns the final merged entity state. It fails while
// any conflict is still pending; deferred conflicts are allowed through
// (their entities keep the unresolved local-default state).
func (s *Session) MergedSnapshot() (model.Snapshot, error) {
	if !s.Complete() {
		return nil, fmt.Errorf("%d conflicts pending: %w", len(s.Pending()), ErrSessionIncomplete)
	}

	snap := make(model.Snapshot)
	for _, t := range model.EntityTypes() {
		recs := s.merged[t]
		if len(recs) == 0 {
			continue
		}
		out := make([]model.Record, 0, len(recs))
		for _, rec := range recs {
			out = append(out, rec.Clone())
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
		snap[t] = out
	}
	return snap, nil
}
