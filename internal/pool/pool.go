package pool

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/agent-broker/internal/metrics"
)

// ErrCapacityExceeded is returned by Add when the pool is already at
// maxConnections.
var ErrCapacityExceeded = errors.New("pool: capacity exceeded")

// ErrUnknownSession is returned by operations referencing a connectionId
// that is not (or no longer) registered.
var ErrUnknownSession = errors.New("pool: unknown session")

// EventKind enumerates the pool's typed event stream (DESIGN NOTES §9:
// "event emitters ... collapse into typed channels"). Every consumer
// subscribes once at construction instead of polling the pool.
type EventKind string

const (
	EventAdded         EventKind = "added"
	EventUpdated       EventKind = "updated"
	EventRemoved       EventKind = "removed"
	EventHealthChanged EventKind = "health_changed"
)

// Event is delivered to subscribers outside any pool lock.
type Event struct {
	Kind       EventKind
	Session    Snapshot
	PrevHealth Health // only meaningful for EventHealthChanged
}

// Listener receives pool events. Listeners must not block; the pool invokes
// them synchronously (outside its lock) on whichever goroutine caused the
// event.
type Listener func(Event)

// Filter selects sessions for a lookup or broadcast.
type Filter func(Snapshot) bool

// Patch describes a partial update to a session's identity/state.
type Patch struct {
	Authenticated *bool
	AgentID       *string
	UserID        *string
	Health        *Health
}

// Pool is the authoritative, concurrency-safe registry of live sessions.
type Pool struct {
	mu             sync.RWMutex
	sessions       map[string]*Session
	maxConnections int

	logger zerolog.Logger

	listenersMu sync.RWMutex
	listeners   []Listener

	stop chan struct{}
	once sync.Once
}

// New builds an empty pool admitting at most maxConnections sessions.
func New(maxConnections int, logger zerolog.Logger) *Pool {
	return &Pool{
		sessions:       make(map[string]*Session),
		maxConnections: maxConnections,
		logger:         logger,
		stop:           make(chan struct{}),
	}
}

// Subscribe registers a listener for the pool's event stream. Intended to be
// called once per consumer at broker construction time.
func (p *Pool) Subscribe(l Listener) {
	p.listenersMu.Lock()
	p.listeners = append(p.listeners, l)
	p.listenersMu.Unlock()
}

func (p *Pool) emit(ev Event) {
	p.listenersMu.RLock()
	listeners := make([]Listener, len(p.listeners))
	copy(listeners, p.listeners)
	p.listenersMu.RUnlock()

	for _, l := range listeners {
		l(ev)
	}
}

// Count returns the current live session count.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sessions)
}

// Add inserts a new Session, unauthenticated and healthy, failing with
// ErrCapacityExceeded once the pool is full (the live session count never
// exceeds maxConnections at any observation point).
func (p *Pool) Add(connectionID string, kind Kind, socket Socket) (*Session, error) {
	p.mu.Lock()
	if len(p.sessions) >= p.maxConnections {
		p.mu.Unlock()
		metrics.ConnectionsRejected.WithLabelValues("capacity_exceeded").Inc()
		return nil, ErrCapacityExceeded
	}
	session := NewSession(connectionID, kind, socket)
	p.sessions[connectionID] = session
	p.mu.Unlock()

	metrics.ConnectionsTotal.WithLabelValues(string(kind)).Inc()
	metrics.ConnectionsActive.WithLabelValues(string(kind)).Inc()

	p.emit(Event{Kind: EventAdded, Session: session.Snapshot()})
	return session, nil
}

// Update applies a partial patch to an existing session.
func (p *Pool) Update(connectionID string, patch Patch) error {
	p.mu.RLock()
	session, ok := p.sessions[connectionID]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, connectionID)
	}

	if patch.Authenticated != nil {
		session.SetAuthenticated(*patch.Authenticated)
	}
	if patch.AgentID != nil {
		session.SetAgentID(*patch.AgentID)
	}
	if patch.UserID != nil {
		session.SetUserID(*patch.UserID)
	}
	var prevHealth Health
	healthChanged := false
	if patch.Health != nil {
		prevHealth, healthChanged = session.SetHealth(*patch.Health)
	}

	p.emit(Event{Kind: EventUpdated, Session: session.Snapshot()})
	if healthChanged {
		snap := session.Snapshot()
		p.emit(Event{Kind: EventHealthChanged, Session: snap, PrevHealth: prevHealth})
		metrics.HealthChanges.WithLabelValues(string(snap.Health)).Inc()
	}
	return nil
}

// Remove tears the session down; idempotent.
func (p *Pool) Remove(connectionID string) {
	p.mu.Lock()
	session, ok := p.sessions[connectionID]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.sessions, connectionID)
	p.mu.Unlock()

	metrics.ConnectionsActive.WithLabelValues(string(session.Kind)).Dec()
	p.emit(Event{Kind: EventRemoved, Session: session.Snapshot()})
}

// Get returns the live Session for mutation by its owning session handler.
// Other components should prefer Lookup/Snapshot-returning accessors.
func (p *Pool) Get(connectionID string) (*Session, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.sessions[connectionID]
	return s, ok
}

// Snapshot returns a point-in-time copy of one session's state.
func (p *Pool) Snapshot(connectionID string) (Snapshot, bool) {
	p.mu.RLock()
	session, ok := p.sessions[connectionID]
	p.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return session.Snapshot(), true
}

// List returns snapshots of every session satisfying filter (nil matches all).
func (p *Pool) List(filter Filter) []Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Snapshot, 0, len(p.sessions))
	for _, s := range p.sessions {
		snap := s.Snapshot()
		if filter == nil || filter(snap) {
			out = append(out, snap)
		}
	}
	return out
}

// ByAgentID returns the (single, at-most-one-live) session for agentID.
func (p *Pool) ByAgentID(agentID string) (*Session, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, s := range p.sessions {
		if id, ok := s.AgentID(); ok && id == agentID {
			return s, true
		}
	}
	return nil, false
}

// ByConnectionID returns the live *Session, for components that must call
// back into it (router sendTo, affinity ownership checks).
func (p *Pool) ByConnectionID(connectionID string) (*Session, bool) {
	return p.Get(connectionID)
}

// SendTo delivers a frame to one connection, succeeding only if the socket
// was reachable and the send did not synchronously error.
func (p *Pool) SendTo(connectionID string, frame []byte) error {
	session, ok := p.Get(connectionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, connectionID)
	}
	if err := session.Socket.Send(frame); err != nil {
		return fmt.Errorf("pool: send to %s: %w", connectionID, err)
	}
	session.AddMessage(len(frame))
	return nil
}

// Broadcast sends frame to every authenticated session matching filter,
// isolating per-session send failures so one bad socket never aborts the
// batch.
func (p *Pool) Broadcast(frame []byte, filter Filter) (sent int) {
	p.mu.RLock()
	targets := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		if !s.Authenticated() {
			continue
		}
		if filter != nil && !filter(s.Snapshot()) {
			continue
		}
		targets = append(targets, s)
	}
	p.mu.RUnlock()

	for _, s := range targets {
		if err := s.Socket.Send(frame); err != nil {
			p.logger.Debug().Str("connection_id", s.ConnectionID).Err(err).Msg("broadcast send failed, skipping")
			continue
		}
		s.AddMessage(len(frame))
		sent++
	}
	return sent
}

// CloseAll closes every session with the given reason.
func (p *Pool) CloseAll(code int, reason string) {
	for _, snap := range p.List(nil) {
		p.closeOne(snap.ConnectionID, code, reason)
	}
}

// CloseByKind closes every session of the given kind.
func (p *Pool) CloseByKind(kind Kind, code int, reason string) {
	for _, snap := range p.List(func(s Snapshot) bool { return s.Kind == kind }) {
		p.closeOne(snap.ConnectionID, code, reason)
	}
}

// CloseIdle closes sessions whose last activity exceeds maxIdle.
func (p *Pool) CloseIdle(maxIdle time.Duration, code int, reason string) {
	cutoff := time.Now().Add(-maxIdle)
	for _, snap := range p.List(func(s Snapshot) bool { return s.LastActivityAt.Before(cutoff) }) {
		p.closeOne(snap.ConnectionID, code, reason)
	}
}

func (p *Pool) closeOne(connectionID string, code int, reason string) {
	session, ok := p.Get(connectionID)
	if !ok {
		return
	}
	if err := session.Socket.Close(code, reason); err != nil {
		p.logger.Debug().Str("connection_id", connectionID).Err(err).Msg("close failed")
	}
	p.Remove(connectionID)
	metrics.DisconnectsTotal.WithLabelValues(reason, "server").Inc()
}

// CleanupConfig bounds the periodic sweep's policies.
type CleanupConfig struct {
	Interval              time.Duration
	ConnectionTimeout      time.Duration // applies uniformly to every session kind
	UnauthenticatedMaxAge time.Duration // default 60s
	UnhealthyMissThreshold int32        // evict after >=5 consecutive misses
}

// StartCleanup runs the periodic eviction sweep
// until stop is closed.
func (p *Pool) StartCleanup(cfg CleanupConfig) {
	if cfg.UnauthenticatedMaxAge == 0 {
		cfg.UnauthenticatedMaxAge = 60 * time.Second
	}
	if cfg.UnhealthyMissThreshold == 0 {
		cfg.UnhealthyMissThreshold = 5
	}
	go func() {
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				p.sweep(cfg)
			}
		}
	}()
}

func (p *Pool) sweep(cfg CleanupConfig) {
	now := time.Now()
	for _, snap := range p.List(nil) {
		switch {
		case !snap.Authenticated && now.Sub(snap.ConnectedAt) > cfg.UnauthenticatedMaxAge:
			p.closeOne(snap.ConnectionID, 4003, "auth_timeout")
		case cfg.ConnectionTimeout > 0 && now.Sub(snap.LastActivityAt) > cfg.ConnectionTimeout:
			p.closeOne(snap.ConnectionID, 1000, "idle_timeout")
		case snap.Health == HealthUnhealthy && snap.MissedPings >= cfg.UnhealthyMissThreshold:
			p.closeOne(snap.ConnectionID, 4000, "health_check_failed")
		}
	}
}

// Stop halts the background cleanup goroutine.
func (p *Pool) Stop() {
	p.once.Do(func() { close(p.stop) })
}
