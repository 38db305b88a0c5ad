// Package pool implements the ConnectionPool: the authoritative, concurrency
// safe registry of live agent/dashboard sessions.
package pool

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind distinguishes the two session roles the broker serves.
type Kind string

const (
	KindAgent     Kind = "agent"
	KindDashboard Kind = "dashboard"
)

// Health is the coarse liveness classification the HeartbeatEngine drives.
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthDegraded  Health = "degraded"
	HealthUnhealthy Health = "unhealthy"
)

// Socket is the minimal transport surface a Session needs: send a frame,
// close with a reason, and report a peer address for logging. Session
// handlers own the concrete WebSocket connection; the pool only ever talks
// to this interface, so tests can fake it with an in-memory stub.
type Socket interface {
	Send(data []byte) error
	Close(code int, reason string) error
	RemoteAddr() string
}

// DashboardSubscriptions is a dashboard's live fan-out filter: which agents,
// which commands, and whether it wants the trace/terminal firehoses. The
// owning dashboard's read loop writes it on subscribe/unsubscribe while agent
// read loops and the terminal mux's flush-timer goroutine read it during
// fan-out, so every access goes through its own mutex rather than the pool's.
// The "*" sentinel means "every entity of this kind"; its presence subsumes
// any individual id also present in the set.
type DashboardSubscriptions struct {
	mu        sync.RWMutex
	agents    map[string]struct{}
	commands  map[string]struct{}
	traces    bool
	terminals bool
}

// NewDashboardSubscriptions returns an empty subscription record.
func NewDashboardSubscriptions() *DashboardSubscriptions {
	return &DashboardSubscriptions{
		agents:   make(map[string]struct{}),
		commands: make(map[string]struct{}),
	}
}

const wildcard = "*"

// MatchesAgent reports whether the subscription covers agentID.
func (s *DashboardSubscriptions) MatchesAgent(agentID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.agents[wildcard]; ok {
		return true
	}
	_, ok := s.agents[agentID]
	return ok
}

// MatchesCommand reports whether the subscription covers commandID.
func (s *DashboardSubscriptions) MatchesCommand(commandID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.commands[wildcard]; ok {
		return true
	}
	_, ok := s.commands[commandID]
	return ok
}

// AddAgents merges ids into the agent set; an empty slice is normalized to
// the "*" sentinel (empty list means all).
func (s *DashboardSubscriptions) AddAgents(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(ids) == 0 {
		s.agents[wildcard] = struct{}{}
		return
	}
	for _, id := range ids {
		s.agents[id] = struct{}{}
	}
}

// AddCommands merges ids into the command set, applying the same
// empty-means-all normalization as AddAgents.
func (s *DashboardSubscriptions) AddCommands(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(ids) == 0 {
		s.commands[wildcard] = struct{}{}
		return
	}
	for _, id := range ids {
		s.commands[id] = struct{}{}
	}
}

func (s *DashboardSubscriptions) RemoveAgents(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.agents, id)
	}
}

func (s *DashboardSubscriptions) RemoveCommands(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.commands, id)
	}
}

// SetTraces sets whether this dashboard wants the trace-stream firehose.
func (s *DashboardSubscriptions) SetTraces(v bool) {
	s.mu.Lock()
	s.traces = v
	s.mu.Unlock()
}

// Traces reports whether this dashboard wants the trace-stream firehose.
func (s *DashboardSubscriptions) Traces() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.traces
}

// SetTerminals sets whether this dashboard wants every terminal batch
// regardless of agent/command subscription.
func (s *DashboardSubscriptions) SetTerminals(v bool) {
	s.mu.Lock()
	s.terminals = v
	s.mu.Unlock()
}

// Terminals reports whether this dashboard wants every terminal batch
// regardless of agent/command subscription.
func (s *DashboardSubscriptions) Terminals() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.terminals
}

// Snapshot returns an immutable copy suitable for sending to a client.
func (s *DashboardSubscriptions) Snapshot() (agents, commands []string, traces, terminals bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id := range s.agents {
		agents = append(agents, id)
	}
	for id := range s.commands {
		commands = append(commands, id)
	}
	return agents, commands, s.traces, s.terminals
}

// Clone deep-copies the subscription record.
func (s *DashboardSubscriptions) Clone() *DashboardSubscriptions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clone := NewDashboardSubscriptions()
	for id := range s.agents {
		clone.agents[id] = struct{}{}
	}
	for id := range s.commands {
		clone.commands[id] = struct{}{}
	}
	clone.traces = s.traces
	clone.terminals = s.terminals
	return clone
}

// Session is one live duplex connection.
type Session struct {
	ConnectionID string
	Kind         Kind
	Socket       Socket

	mu            sync.RWMutex
	agentID       string
	agentIDSet    bool
	userID        string
	authenticated bool
	health        Health
	subscriptions *DashboardSubscriptions

	connectedAt    time.Time
	lastActivityAt atomic.Int64 // unix millis
	lastPingSentAt atomic.Int64
	lastPongAt     atomic.Int64
	missedPings    atomic.Int32

	messagesCount atomic.Int64
	bytesCount    atomic.Int64
}

// NewSession constructs a fresh, unauthenticated, healthy session.
func NewSession(connectionID string, kind Kind, socket Socket) *Session {
	s := &Session{
		ConnectionID: connectionID,
		Kind:         kind,
		Socket:       socket,
		health:       HealthHealthy,
		connectedAt:  time.Now(),
	}
	if kind == KindDashboard {
		s.subscriptions = NewDashboardSubscriptions()
	}
	now := time.Now().UnixMilli()
	s.lastActivityAt.Store(now)
	return s
}

// RecordActivity bumps lastActivityAt to now.
func (s *Session) RecordActivity() {
	s.lastActivityAt.Store(time.Now().UnixMilli())
}

func (s *Session) LastActivityAt() time.Time {
	return time.UnixMilli(s.lastActivityAt.Load())
}

func (s *Session) RecordPingSent() {
	s.lastPingSentAt.Store(time.Now().UnixMilli())
}

func (s *Session) LastPingSentAt() time.Time {
	return time.UnixMilli(s.lastPingSentAt.Load())
}

func (s *Session) RecordPong() {
	s.lastPongAt.Store(time.Now().UnixMilli())
}

func (s *Session) LastPongAt() time.Time {
	return time.UnixMilli(s.lastPongAt.Load())
}

func (s *Session) IncMissedPings() int32 {
	return s.missedPings.Add(1)
}

func (s *Session) ResetMissedPings() {
	s.missedPings.Store(0)
}

func (s *Session) MissedPings() int32 {
	return s.missedPings.Load()
}

func (s *Session) AddMessage(bytes int) {
	s.messagesCount.Add(1)
	s.bytesCount.Add(int64(bytes))
}

func (s *Session) Counters() (messages, bytesSent int64) {
	return s.messagesCount.Load(), s.bytesCount.Load()
}

// SetAgentID sets the agent identity exactly once (invariant (c), §3); a
// second call is a no-op returning false.
func (s *Session) SetAgentID(agentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.agentIDSet {
		return false
	}
	s.agentID = agentID
	s.agentIDSet = true
	return true
}

func (s *Session) AgentID() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agentID, s.agentIDSet
}

func (s *Session) SetUserID(userID string) {
	s.mu.Lock()
	s.userID = userID
	s.mu.Unlock()
}

func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *Session) SetAuthenticated(v bool) {
	s.mu.Lock()
	s.authenticated = v
	s.mu.Unlock()
}

func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

func (s *Session) SetHealth(h Health) (prev Health, changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev = s.health
	if prev == h {
		return prev, false
	}
	s.health = h
	return prev, true
}

func (s *Session) Health() Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.health
}

// Subscriptions returns the dashboard's subscription record, or nil for
// agent sessions.
func (s *Session) Subscriptions() *DashboardSubscriptions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscriptions
}

// Snapshot is a read-only, race-free view of a Session for external
// observers (lookups never expose the live *Session for mutation).
type Snapshot struct {
	ConnectionID   string
	Kind           Kind
	AgentID        string
	HasAgentID     bool
	UserID         string
	Authenticated  bool
	Health         Health
	ConnectedAt    time.Time
	LastActivityAt time.Time
	MissedPings    int32
	MessagesCount  int64
	BytesCount     int64

	// Subscriptions is the dashboard's live subscription filter, or nil for
	// agent sessions. It carries its own mutex (see DashboardSubscriptions),
	// so callers can read it straight off a Snapshot without touching the
	// pool's lock again — this is what lets Broadcast's filter predicates
	// avoid re-entering Pool.Get from inside Pool.mu.RLock.
	Subscriptions *DashboardSubscriptions
}

// Snapshot captures the session's current state without exposing it for
// external mutation.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	messages, bytesSent := s.Counters()
	return Snapshot{
		ConnectionID:   s.ConnectionID,
		Kind:           s.Kind,
		AgentID:        s.agentID,
		HasAgentID:     s.agentIDSet,
		UserID:         s.userID,
		Authenticated:  s.authenticated,
		Health:         s.health,
		ConnectedAt:    s.connectedAt,
		LastActivityAt: s.LastActivityAt(),
		MissedPings:    s.MissedPings(),
		MessagesCount:  messages,
		BytesCount:     bytesSent,
		Subscriptions:  s.subscriptions,
	}
}
