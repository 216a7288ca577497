package dashboard

import (
	"encoding/json"
	"time"

	"github.com/openplanning/scensync/internal/diff"
	"github.com/openplanning/scensync/internal/resolve"
)

// SyncCompleteData reports a committed merge session.
type SyncCompleteData struct {
	ScenarioID        string        `json:"scenarioId"`
	ConflictsResolved int           `json:"conflictsResolved"`
	ConflictsDeferred int           `json:"conflictsDeferred"`
	Duration          time.Duration `json:"duration"`
}

// ConflictSummary is the broadcast shape of one conflict.
type ConflictSummary struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	EntityName string `json:"entityName,omitempty"`
	Field      string `json:"field"`
}

// ConflictsData reports the conflict set of a freshly started session.
type ConflictsData struct {
	ScenarioID string            `json:"scenarioId"`
	Count      int               `json:"count"`
	Conflicts  []ConflictSummary `json:"conflicts"`
}

// ResolutionData reports one conflict resolution or deferral.
type ResolutionData struct {
	ScenarioID string                          `json:"scenarioId"`
	ConflictID string                          `json:"conflictId"`
	Strategy   string                          `json:"strategy,omitempty"`
	State      string                          `json:"state"`
	Warnings   []resolve.OverAllocationWarning `json:"warnings,omitempty"`
}

// BundleSyncedData reports a daemon import of one bundle.
type BundleSyncedData struct {
	ScenarioID  string `json:"scenarioId"`
	EntityType  string `json:"entityType"`
	RecordCount int    `json:"recordCount"`
}

// StatsData reports per-type record counts for a scenario.
type StatsData struct {
	ScenarioID string         `json:"scenarioId"`
	Counts     map[string]int `json:"counts"`
	Total      int            `json:"total"`
}

// NotifySyncComplete broadcasts a committed merge session.
func (s *Server) NotifySyncComplete(data SyncCompleteData) {
	s.notify(MessageTypeSyncComplete, data)
}

// NotifyConflicts broadcasts the conflict set of a session.
func (s *Server) NotifyConflicts(scenarioID string, conflicts []diff.Conflict) {
	summaries := make([]ConflictSummary, 0, len(conflicts))
	for _, c := range conflicts {
		summaries = append(summaries, ConflictSummary{
			ID:         c.ID,
			Kind:       c.Kind.String(),
			EntityType: c.EntityType.String(),
			EntityID:   c.EntityID,
			EntityName: c.EntityName,
			Field:      c.Field,
		})
	}
	s.notify(MessageTypeConflicts, ConflictsData{
		ScenarioID: scenarioID,
		Count:      len(summaries),
		Conflicts:  summaries,
	})
}

// NotifyResolution broadcasts one resolution or deferral.
func (s *Server) NotifyResolution(data ResolutionData) {
	s.notify(MessageTypeResolution, data)
}

// NotifyBundleSynced broadcasts a daemon bundle import.
func (s *Server) NotifyBundleSynced(data BundleSyncedData) {
	s.notify(MessageTypeBundleSynced, data)
}

// NotifyStats broadcasts scenario statistics.
func (s *Server) NotifyStats(data StatsData) {
	s.notify(MessageTypeStats, data)
}

func (s *Server) notify(t MessageType, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Printf("[dashboard] failed to marshal %s payload: %v", t, err)
		return
	}
	s.Broadcast(Message{
		Type:      t,
		Timestamp: time.Now(),
		Data:      data,
	})
}
