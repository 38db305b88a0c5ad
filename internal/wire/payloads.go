package wire

// ErrorCode is the closed set of error codes the broker ever emits.
type ErrorCode string

const (
	ErrInvalidMessage     ErrorCode = "INVALID_MESSAGE"
	ErrInvalidMessageType ErrorCode = "INVALID_MESSAGE_TYPE"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrAuthTimeout        ErrorCode = "AUTH_TIMEOUT"
	ErrInitFailed         ErrorCode = "INIT_FAILED"
	ErrSubscriptionFailed ErrorCode = "SUBSCRIPTION_FAILED"
	ErrUnsubFailed        ErrorCode = "UNSUBSCRIPTION_FAILED"
	ErrForbidden          ErrorCode = "FORBIDDEN"
	ErrRoutingFailed      ErrorCode = "ROUTING_FAILED"
	ErrCapacityExceeded   ErrorCode = "CAPACITY_EXCEEDED"
	ErrInternal           ErrorCode = "INTERNAL_ERROR"
)

// CloseCode mirrors the WebSocket close codes the broker uses.
type CloseCode int

const (
	CloseNormal             CloseCode = 1000
	CloseHealthCheckFailed  CloseCode = 4000
	CloseHeartbeatTimeout   CloseCode = 4001
	CloseTokenRefreshFailed CloseCode = 4002
	CloseAuthTimeout        CloseCode = 4003
)

// ErrorPayload is the payload of an ERROR frame.
type ErrorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
}

// AckPayload is the payload of an ACK frame.
type AckPayload struct {
	MessageID string `json:"messageId"`
	Success   bool   `json:"success"`
	CommandID string `json:"commandId,omitempty"`
}

// DashboardInitPayload is the inbound DASHBOARD_INIT payload.
type DashboardInitPayload struct {
	UserID        string                `json:"userId"`
	Token         string                `json:"token,omitempty"`
	Subscriptions *InitialSubscriptions `json:"subscriptions,omitempty"`
}

// InitialSubscriptions is the subscription block accepted on DASHBOARD_INIT.
// An empty (non-nil, zero-length) slice means "all" and is normalized to the
// "*" sentinel by the caller.
type InitialSubscriptions struct {
	Agents    []string `json:"agents,omitempty"`
	Commands  []string `json:"commands,omitempty"`
	Traces    bool     `json:"traces,omitempty"`
	Terminals bool     `json:"terminals,omitempty"`
}

// SubscribePayload is the inbound DASHBOARD_SUBSCRIBE / DASHBOARD_UNSUBSCRIBE payload.
type SubscribePayload struct {
	Agents    []string `json:"agents,omitempty"`
	Commands  []string `json:"commands,omitempty"`
	Traces    *bool    `json:"traces,omitempty"`
	Terminals *bool    `json:"terminals,omitempty"`
}

// SubscriptionSnapshot is echoed back in ACKs after a subscribe/unsubscribe.
type SubscriptionSnapshot struct {
	Agents    []string `json:"agents"`
	Commands  []string `json:"commands"`
	Traces    bool     `json:"traces"`
	Terminals bool     `json:"terminals"`
}

// DashboardConnectedPayload is sent once on successful DASHBOARD_INIT.
type DashboardConnectedPayload struct {
	ConnectionID string        `json:"connectionId"`
	Agents       []AgentRecord `json:"agents"`
}

// AgentRecord summarizes one agent known to the external AgentService.
type AgentRecord struct {
	AgentID string `json:"agentId"`
	Type    string `json:"type"`   // uppercased agent type
	Status  string `json:"status"` // uppercased agent status (as known to AgentService)
}

// AgentStatusPayload reflects live connectivity of one agent.
type AgentStatusPayload struct {
	AgentID string `json:"agentId"`
	Status  string `json:"status"` // "connected" | "disconnected"
}

// CommandRequestInbound is the dashboard -> broker COMMAND_REQUEST payload.
type CommandRequestInbound struct {
	AgentID   string   `json:"agentId"`
	CommandID string   `json:"commandId"`
	Command   string   `json:"command"`
	Args      []string `json:"args,omitempty"`
}

// ExecutionConstraints bounds how long/how many times an agent may retry a command.
type ExecutionConstraints struct {
	TimeLimitMs int `json:"timeLimitMs"`
	MaxRetries  int `json:"maxRetries"`
}

// CommandRequestOutbound is the broker -> agent COMMAND_REQUEST payload.
type CommandRequestOutbound struct {
	CommandID            string                `json:"commandId"`
	Content               string                `json:"content"`
	Command               string                `json:"command"`
	Type                  string                `json:"type"` // always "NATURAL"
	Priority              int                   `json:"priority"`
	Args                  []string              `json:"args"`
	ExecutionConstraints  ExecutionConstraints  `json:"executionConstraints"`
	DashboardID           string                `json:"dashboardId"`
	UserID                string                `json:"userId"`
}

// CommandCancelPayload is shared by dashboard->broker and broker->agent frames.
type CommandCancelPayload struct {
	AgentID   string `json:"agentId"`
	CommandID string `json:"commandId"`
}

// AgentControlPayload carries a lifecycle action for one agent.
type AgentControlPayload struct {
	AgentID string `json:"agentId"`
	Action  string `json:"action"` // "start" | "stop" | "restart"
}

// CommandStatusPayload reports command lifecycle transitions.
type CommandStatusPayload struct {
	CommandID string `json:"commandId"`
	AgentID   string `json:"agentId,omitempty"`
	Status    string `json:"status"` // "running" | "completed" | "failed" | "cancelled"
	Reason    string `json:"reason,omitempty"`
}

// CommandProgressPayload reports incremental progress of a running command.
type CommandProgressPayload struct {
	CommandID string  `json:"commandId"`
	Progress  float64 `json:"progress"`
	Message   string  `json:"message,omitempty"`
}

// CommandResultPayload reports the terminal result of a command.
type CommandResultPayload struct {
	CommandID string `json:"commandId"`
	Success   bool   `json:"success"`
	Output    string `json:"output,omitempty"`
	Error     string `json:"error,omitempty"`
}

// TerminalStreamPayload is one terminal output frame from an agent, or a
// coalesced batch of them fanned out to dashboards.
type TerminalStreamPayload struct {
	AgentID    string   `json:"agentId"`
	CommandID  string   `json:"commandId,omitempty"`
	StreamType string   `json:"streamType"` // "stdout" | "stderr" | "system"
	Content    any      `json:"content"`    // string or []string when batched
	Sequence   int64    `json:"sequence"`
	AnsiCodes  []string `json:"ansiCodes,omitempty"`
	Timestamp  int64    `json:"timestamp"`
}

// TraceStreamPayload carries an agent reasoning/trace frame.
type TraceStreamPayload struct {
	AgentID   string `json:"agentId"`
	CommandID string `json:"commandId,omitempty"`
	Content   string `json:"content"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

// AgentConnectPayload is the inbound AGENT_CONNECT payload.
type AgentConnectPayload struct {
	AgentID string `json:"agentId"`
	Token   string `json:"token,omitempty"`
}

// PingPayload / PongPayload carry the app-level latency probe.
type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// PongPayload echoes the originating ping's timestamp plus measured latency.
type PongPayload struct {
	Timestamp int64 `json:"timestamp"`
	LatencyMs int64 `json:"latency"`
}

// TokenRefreshPayload carries a rotated credential down to a long-lived session.
type TokenRefreshPayload struct {
	Token        string `json:"token"`
	ExpiresAtMs  int64  `json:"expiresAtMs"`
	RefreshToken string `json:"refreshToken,omitempty"`
}
