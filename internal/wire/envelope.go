// Package wire defines the JSON envelope and typed payloads exchanged over
// the broker's two WebSocket endpoints.
package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType is the closed set of frame types recognized by the broker.
type MessageType string

const (
	// Dashboard -> broker
	DashboardInit        MessageType = "DASHBOARD_INIT"
	DashboardSubscribe   MessageType = "DASHBOARD_SUBSCRIBE"
	DashboardUnsubscribe MessageType = "DASHBOARD_UNSUBSCRIBE"
	CommandRequest       MessageType = "COMMAND_REQUEST"
	CommandCancel        MessageType = "COMMAND_CANCEL"
	AgentControl         MessageType = "AGENT_CONTROL"
	EmergencyStop        MessageType = "EMERGENCY_STOP"

	// Broker -> dashboard
	DashboardConnected MessageType = "DASHBOARD_CONNECTED"
	AgentStatus        MessageType = "AGENT_STATUS"
	AgentMetrics       MessageType = "AGENT_METRICS"
	AgentDisconnect    MessageType = "AGENT_DISCONNECT"
	CommandStatus      MessageType = "COMMAND_STATUS"
	CommandProgress    MessageType = "COMMAND_PROGRESS"
	CommandResult      MessageType = "COMMAND_RESULT"   // canonical end-of-command
	CommandComplete    MessageType = "COMMAND_COMPLETE" // accepted alias of CommandResult on ingest
	CommandQueueUpdate MessageType = "COMMAND_QUEUE_UPDATE"

	// Agent -> broker
	AgentConnect    MessageType = "AGENT_CONNECT"
	AgentHeartbeat  MessageType = "AGENT_HEARTBEAT"
	TerminalStream  MessageType = "TERMINAL_STREAM"
	TraceStream     MessageType = "TRACE_STREAM"

	// Bidirectional
	Ping         MessageType = "PING"
	Pong         MessageType = "PONG"
	Ack          MessageType = "ACK"
	ErrorType    MessageType = "ERROR"
	TokenRefresh MessageType = "TOKEN_REFRESH"
)

// DashboardAllowedTypes is the set of message types a dashboard session may
// send (heartbeats are always allowed regardless of kind).
var DashboardAllowedTypes = map[MessageType]bool{
	DashboardInit:        true,
	DashboardSubscribe:   true,
	DashboardUnsubscribe: true,
	CommandRequest:       true,
	CommandCancel:        true,
	AgentControl:         true,
	EmergencyStop:        true,
	TokenRefresh:         true,
}

// AgentAllowedTypes is the set of message types an agent session may send.
var AgentAllowedTypes = map[MessageType]bool{
	AgentConnect:    true,
	AgentStatus:     true,
	AgentHeartbeat:  true,
	CommandStatus:   true,
	CommandProgress: true,
	CommandResult:   true,
	CommandComplete: true,
	TerminalStream:  true,
	TraceStream:     true,
}

// heartbeatTypes are always allowed regardless of peer kind.
var heartbeatTypes = map[MessageType]bool{
	Ping: true,
	Pong: true,
}

// IsHeartbeat reports whether t is one of the application-level heartbeat
// types, which bypass the per-kind allow-list.
func IsHeartbeat(t MessageType) bool {
	return heartbeatTypes[t]
}

// Envelope is the wire-level frame shape required in both directions:
//
//	{ "type": "<MessageType>", "id": "<string>", "timestamp": <number>, "payload": <object> }
type Envelope struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEnvelope builds an outbound envelope, stamping a fresh id and the
// current wall-clock timestamp in milliseconds.
func NewEnvelope(t MessageType, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal payload for %s: %w", t, err)
	}
	return &Envelope{
		Type:      t,
		ID:        uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
		Payload:   raw,
	}, nil
}

// Serialize marshals the envelope to its wire JSON form.
func (e *Envelope) Serialize() ([]byte, error) {
	return json.Marshal(e)
}

// Validate checks the envelope satisfies the required shape: non-empty type,
// non-empty id, and a payload that decodes as a JSON object (or is absent).
func (e *Envelope) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("wire: empty type")
	}
	if e.ID == "" {
		return fmt.Errorf("wire: empty id")
	}
	if e.Timestamp == 0 {
		return fmt.Errorf("wire: missing timestamp")
	}
	if len(e.Payload) > 0 {
		trimmed := firstNonSpace(e.Payload)
		if trimmed != '{' {
			return fmt.Errorf("wire: payload must be a JSON object")
		}
	}
	return nil
}

func firstNonSpace(b []byte) byte {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return c
		}
	}
	return 0
}

// CanonicalType resolves the COMMAND_RESULT/COMMAND_COMPLETE alias to the
// single canonical outbound type, per the open-question decision in
// DESIGN.md.
func CanonicalType(t MessageType) MessageType {
	if t == CommandComplete {
		return CommandResult
	}
	return t
}

// Decode unmarshals the envelope payload into dst.
func (e *Envelope) Decode(dst any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("wire: empty payload")
	}
	return json.Unmarshal(e.Payload, dst)
}
