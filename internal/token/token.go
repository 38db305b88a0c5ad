// Package token implements the TokenManager: periodic in-channel credential
// rotation for long-lived sessions.
package token

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/agent-broker/internal/authn"
	"github.com/adred-codev/agent-broker/internal/metrics"
	"github.com/adred-codev/agent-broker/internal/pool"
	"github.com/adred-codev/agent-broker/internal/wire"
)

const closeTokenRefreshFailed = int(wire.CloseTokenRefreshFailed)

// Record is one tracked credential, keyed by connectionId.
type Record struct {
	ConnectionID    string
	Token           string
	RefreshToken    string
	ExpiresAtMs     int64
	UserID          string
	AgentID         string
	refreshAttempts int
}

// Config bounds the refresh scan.
type Config struct {
	RefreshInterval    time.Duration // default 60s
	RefreshThreshold   time.Duration // default 5m
	MaxRefreshAttempts int           // default 3
}

func (c Config) withDefaults() Config {
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 60 * time.Second
	}
	if c.RefreshThreshold <= 0 {
		c.RefreshThreshold = 5 * time.Minute
	}
	if c.MaxRefreshAttempts <= 0 {
		c.MaxRefreshAttempts = 3
	}
	return c
}

// Manager tracks one Record per live connection and rotates credentials
// ahead of expiry by calling out to the external TokenValidator.
type Manager struct {
	cfg       Config
	validator authn.TokenValidator
	pool      *pool.Pool
	logger    zerolog.Logger

	mu      sync.Mutex
	records map[string]*Record

	stop chan struct{}
	once sync.Once
}

// New builds a token manager bound to validator and p.
func New(validator authn.TokenValidator, p *pool.Pool, cfg Config, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:       cfg.withDefaults(),
		validator: validator,
		pool:      p,
		logger:    logger,
		records:   make(map[string]*Record),
		stop:      make(chan struct{}),
	}
}

// Register records a freshly-authenticated session's credential. Called by
// the session handlers at DASHBOARD_INIT / AGENT_CONNECT time.
func (m *Manager) Register(rec Record) {
	m.mu.Lock()
	m.records[rec.ConnectionID] = &rec
	m.mu.Unlock()
}

// Unregister drops tracking for a closed session.
func (m *Manager) Unregister(connectionID string) {
	m.mu.Lock()
	delete(m.records, connectionID)
	m.mu.Unlock()
}

// Start runs the periodic refresh scan until Stop is called.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.scan(ctx)
			}
		}
	}()
}

// Stop halts the refresh scan loop.
func (m *Manager) Stop() {
	m.once.Do(func() { close(m.stop) })
}

func (m *Manager) dueRecords() []*Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	nowMs := time.Now().UnixMilli()
	thresholdMs := m.cfg.RefreshThreshold.Milliseconds()

	due := make([]*Record, 0)
	for _, rec := range m.records {
		if rec.ExpiresAtMs-nowMs <= thresholdMs {
			due = append(due, rec)
		}
	}
	return due
}

func (m *Manager) scan(ctx context.Context) {
	for _, rec := range m.dueRecords() {
		m.refreshOne(ctx, rec)
	}
}

func (m *Manager) refreshOne(ctx context.Context, rec *Record) {
	newToken, newRefresh, expiresAtMs, err := m.validator.Refresh(ctx, rec.RefreshToken)
	if err != nil {
		m.onRefreshFailure(rec, err)
		return
	}

	m.mu.Lock()
	if current, ok := m.records[rec.ConnectionID]; ok {
		current.Token = newToken
		current.RefreshToken = newRefresh
		current.ExpiresAtMs = expiresAtMs
		current.refreshAttempts = 0
	}
	m.mu.Unlock()

	metrics.TokensRefreshed.Inc()

	env, err := wire.NewEnvelope(wire.TokenRefresh, wire.TokenRefreshPayload{
		Token:        newToken,
		ExpiresAtMs:  expiresAtMs,
		RefreshToken: newRefresh,
	})
	if err != nil {
		m.logger.Error().Str("connection_id", rec.ConnectionID).Err(err).Msg("failed to build token refresh envelope")
		return
	}
	frame, err := env.Serialize()
	if err != nil {
		m.logger.Error().Str("connection_id", rec.ConnectionID).Err(err).Msg("failed to serialize token refresh envelope")
		return
	}
	if err := m.pool.SendTo(rec.ConnectionID, frame); err != nil {
		m.logger.Debug().Str("connection_id", rec.ConnectionID).Err(err).Msg("failed to push refreshed token")
	}
}

func (m *Manager) onRefreshFailure(rec *Record, cause error) {
	metrics.TokenRefreshFailures.Inc()

	m.mu.Lock()
	current, ok := m.records[rec.ConnectionID]
	if ok {
		current.refreshAttempts++
	}
	attempts := 0
	if ok {
		attempts = current.refreshAttempts
	}
	m.mu.Unlock()

	m.logger.Warn().Str("connection_id", rec.ConnectionID).Int("attempts", attempts).Err(cause).Msg("token refresh failed")

	if attempts >= m.cfg.MaxRefreshAttempts {
		if session, ok := m.pool.Get(rec.ConnectionID); ok {
			_ = session.Socket.Close(closeTokenRefreshFailed, "token_refresh_failed")
		}
		m.pool.Remove(rec.ConnectionID)
		m.Unregister(rec.ConnectionID)
	}
}
