// Package affinity tracks which dashboard connection owns each in-flight
// command, so cancel/control requests can be authorized to the originator
// only.
package affinity

import "sync"

type entry struct {
	connectionID string
	agentID      string
}

// Table is a concurrency-safe commandId -> (connectionId, agentId) map.
type Table struct {
	mu    sync.RWMutex
	byCmd map[string]entry
}

// New returns an empty affinity table.
func New() *Table {
	return &Table{byCmd: make(map[string]entry)}
}

// Create records that connectionID issued commandID against agentID. A
// pre-existing entry for the same commandID is overwritten (the caller is
// expected to have already guaranteed commandID uniqueness upstream).
func (t *Table) Create(commandID, connectionID, agentID string) {
	t.mu.Lock()
	t.byCmd[commandID] = entry{connectionID: connectionID, agentID: agentID}
	t.mu.Unlock()
}

// Owner returns the connectionId that owns commandID, if any.
func (t *Table) Owner(commandID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.byCmd[commandID]
	return e.connectionID, ok
}

// IsOwner reports whether connectionID owns commandID.
func (t *Table) IsOwner(commandID, connectionID string) bool {
	owner, ok := t.Owner(commandID)
	return ok && owner == connectionID
}

// Clear removes the affinity for a command that reached a terminal state
// (completed/failed/cancelled) or whose dashboard disconnected.
func (t *Table) Clear(commandID string) {
	t.mu.Lock()
	delete(t.byCmd, commandID)
	t.mu.Unlock()
}

// ClearByConnection removes every affinity owned by connectionID — called
// when the owning dashboard disconnects — and returns the cleared command ids
// so callers can notify anyone tracking them.
func (t *Table) ClearByConnection(connectionID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var cleared []string
	for cmd, e := range t.byCmd {
		if e.connectionID == connectionID {
			cleared = append(cleared, cmd)
			delete(t.byCmd, cmd)
		}
	}
	return cleared
}

// ClearedCommand pairs a cleared commandId with the connectionId that owned
// it, so a caller clearing by agent can still notify the right dashboard.
type ClearedCommand struct {
	CommandID    string
	ConnectionID string
}

// ClearByAgent removes every affinity entry attributed to agentID — called
// when that agent disconnects — and returns the cleared entries so the
// caller can notify each owning dashboard individually.
func (t *Table) ClearByAgent(agentID string) []ClearedCommand {
	t.mu.Lock()
	defer t.mu.Unlock()
	var cleared []ClearedCommand
	for cmd, e := range t.byCmd {
		if e.agentID == agentID {
			cleared = append(cleared, ClearedCommand{CommandID: cmd, ConnectionID: e.connectionID})
			delete(t.byCmd, cmd)
		}
	}
	return cleared
}
