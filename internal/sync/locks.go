package sync

import "sync"

// scenarioLocks serializes merge sessions per scenario. Distinct
// scenarios never contend.
type scenarioLocks struct {
	mu     sync.Mutex
	active map[string]bool
}

func newScenarioLocks() *scenarioLocks {
	return &scenarioLocks{active: make(map[string]bool)}
}

// tryLock claims the scenario, reporting false when a session already
// holds it. Non-blocking: callers surface ErrSessionActive instead of
// queueing.
func (l *scenarioLocks) tryLock(scenarioID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active[scenarioID] {
		return false
	}
	l.active[scenarioID] = true
	return true
}

func (l *scenarioLocks) unlock(scenarioID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.active, scenarioID)
}
