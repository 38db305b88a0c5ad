// Package services declares the broker's external collaborators: the
// persistent stores and audit trail that this broker never implements itself.
// Only interfaces live here — the broker depends on these contracts and
// never on a concrete store; production wiring supplies real
// implementations at composition time.
package services

import "context"

// AgentRecord is the external AgentService's view of one known agent.
type AgentRecord struct {
	AgentID string
	Type    string
	Status  string // the store's own status vocabulary, e.g. "online"/"offline"
	Online  bool
}

// AgentService is the read-mostly store of known agents, consulted when a
// dashboard subscribes to "all agents" or requests an initial snapshot.
type AgentService interface {
	ListAgents(ctx context.Context) ([]AgentRecord, error)
	GetAgent(ctx context.Context, agentID string) (AgentRecord, error)
}

// CommandRecord is the external CommandService's view of one issued command.
type CommandRecord struct {
	CommandID string
	AgentID   string
	Status    string
}

// CommandService persists command lifecycle records; the broker notifies it
// of transitions it observes but does not read it back on the hot path.
type CommandService interface {
	RecordCommand(ctx context.Context, rec CommandRecord) error
	UpdateStatus(ctx context.Context, commandID, status, reason string) error
}

// AuditEvent is one broker-originated audit record.
type AuditEvent struct {
	Name      string
	Message   string
	Metadata  map[string]any
	TimestampMs int64
}

// AuditService durably records security- and operations-relevant broker
// events (emergency stops, auth failures, forced disconnects).
type AuditService interface {
	Record(ctx context.Context, event AuditEvent) error
}
