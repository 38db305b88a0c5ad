// Package heartbeat implements the HeartbeatEngine: periodic liveness probes
// over every authenticated session, driving each session's Health
// classification.
package heartbeat

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/agent-broker/internal/metrics"
	"github.com/adred-codev/agent-broker/internal/pool"
)

// Pinger is implemented by sockets capable of emitting a native WebSocket
// ping control frame. Sockets that cannot (e.g. test fakes) are simply never
// pinged and age out via the pool's idle sweep instead.
type Pinger interface {
	Ping() error
}

// Config bounds the probe cycle.
type Config struct {
	PingInterval time.Duration // default 30s
	PongTimeout  time.Duration // default 10s
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 10 * time.Second
	}
	return c
}

// Engine runs the ping/watchdog cycle against every session in a Pool.
type Engine struct {
	pool   *pool.Pool
	cfg    Config
	logger zerolog.Logger

	watchdogsMu sync.Mutex
	watchdogs   map[string]*time.Timer
	stop        chan struct{}
}

// New builds a heartbeat engine bound to p.
func New(p *pool.Pool, cfg Config, logger zerolog.Logger) *Engine {
	return &Engine{
		pool:      p,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		watchdogs: make(map[string]*time.Timer),
		stop:      make(chan struct{}),
	}
}

// Start runs the probe loop until Stop is called.
func (e *Engine) Start() {
	go func() {
		ticker := time.NewTicker(e.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-e.stop:
				return
			case <-ticker.C:
				e.probeAll()
			}
		}
	}()
}

// Stop halts the probe loop.
func (e *Engine) Stop() {
	close(e.stop)
}

func (e *Engine) probeAll() {
	for _, snap := range e.pool.List(func(s pool.Snapshot) bool { return s.Authenticated }) {
		e.probe(snap.ConnectionID)
	}
}

func (e *Engine) probe(connectionID string) {
	session, ok := e.pool.Get(connectionID)
	if !ok {
		return
	}
	pinger, ok := session.Socket.(Pinger)
	if !ok {
		return
	}
	if err := pinger.Ping(); err != nil {
		e.logger.Debug().Str("connection_id", connectionID).Err(err).Msg("ping send failed")
		return
	}
	session.RecordPingSent()
	e.armWatchdog(connectionID)
}

func (e *Engine) armWatchdog(connectionID string) {
	timer := time.AfterFunc(e.cfg.PongTimeout, func() { e.onWatchdogFire(connectionID) })
	e.watchdogsMu.Lock()
	e.watchdogs[connectionID] = timer
	e.watchdogsMu.Unlock()
}

func (e *Engine) clearWatchdog(connectionID string) {
	e.watchdogsMu.Lock()
	defer e.watchdogsMu.Unlock()
	if timer, ok := e.watchdogs[connectionID]; ok {
		timer.Stop()
		delete(e.watchdogs, connectionID)
	}
}

// OnPong must be called by the session's read loop when a pong control frame
// arrives. It clears the watchdog, resets the miss counter, and reclassifies
// health from measured round-trip latency.
func (e *Engine) OnPong(connectionID string) {
	session, ok := e.pool.Get(connectionID)
	if !ok {
		return
	}
	e.clearWatchdog(connectionID)

	pingAt := session.LastPingSentAt()
	session.RecordPong()
	session.ResetMissedPings()

	latency := session.LastPongAt().Sub(pingAt)
	if pingAt.IsZero() {
		latency = 0
	}
	metrics.HeartbeatLatency.Observe(latency.Seconds())

	health := classify(latency)
	_ = e.pool.Update(connectionID, pool.Patch{Health: &health})
}

// classify applies the pong latency thresholds.
func classify(latency time.Duration) pool.Health {
	switch {
	case latency < time.Second:
		return pool.HealthHealthy
	case latency < 5*time.Second:
		return pool.HealthDegraded
	default:
		return pool.HealthUnhealthy
	}
}

func (e *Engine) onWatchdogFire(connectionID string) {
	session, ok := e.pool.Get(connectionID)
	if !ok {
		return
	}
	e.watchdogsMu.Lock()
	delete(e.watchdogs, connectionID)
	e.watchdogsMu.Unlock()

	misses := session.IncMissedPings()
	metrics.HeartbeatMisses.WithLabelValues(string(session.Kind)).Inc()
	e.logger.Warn().Str("connection_id", connectionID).Int32("missed_pings", misses).Msg("heartbeat watchdog fired")

	var health pool.Health
	switch {
	case misses >= 5:
		_ = session.Socket.Close(4000, "heartbeat_timeout")
		e.pool.Remove(connectionID)
		return
	case misses >= 3:
		health = pool.HealthUnhealthy
	case misses == 2:
		health = pool.HealthDegraded
	default:
		return
	}

	_ = e.pool.Update(connectionID, pool.Patch{Health: &health})
}

// Forget releases any watchdog state held for a closed session. The
// dashboard disconnect path (Router.HandleDashboardDisconnect) calls it; the
// agent disconnect path does not.
func (e *Engine) Forget(connectionID string) {
	e.clearWatchdog(connectionID)
}
