// Package ratelimit provides token-bucket rate limiting for connection
// admission and per-session inbound message rates.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ConnectionLimiterConfig configures per-IP and global admission limits.
type ConnectionLimiterConfig struct {
	IPBurst     int
	IPRate      float64
	IPTTL       time.Duration
	GlobalBurst int
	GlobalRate  float64
}

type ipEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// ConnectionLimiter rate-limits WebSocket upgrade attempts, per source IP
// and globally, ahead of the handshake.
type ConnectionLimiter struct {
	cfg ConnectionLimiterConfig

	mu  sync.Mutex
	ips map[string]*ipEntry

	global *rate.Limiter

	stop chan struct{}
	once sync.Once
}

// NewConnectionLimiter builds a limiter from cfg, applying sane defaults for
// any zero field.
func NewConnectionLimiter(cfg ConnectionLimiterConfig) *ConnectionLimiter {
	if cfg.IPBurst == 0 {
		cfg.IPBurst = 10
	}
	if cfg.IPRate == 0 {
		cfg.IPRate = 1.0
	}
	if cfg.IPTTL == 0 {
		cfg.IPTTL = 5 * time.Minute
	}
	if cfg.GlobalBurst == 0 {
		cfg.GlobalBurst = 300
	}
	if cfg.GlobalRate == 0 {
		cfg.GlobalRate = 50.0
	}

	l := &ConnectionLimiter{
		cfg:    cfg,
		ips:    make(map[string]*ipEntry),
		global: rate.NewLimiter(rate.Limit(cfg.GlobalRate), cfg.GlobalBurst),
		stop:   make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether a new connection attempt from ip should be admitted.
func (l *ConnectionLimiter) Allow(ip string) bool {
	if !l.global.Allow() {
		return false
	}

	l.mu.Lock()
	entry, ok := l.ips[ip]
	if !ok {
		entry = &ipEntry{limiter: rate.NewLimiter(rate.Limit(l.cfg.IPRate), l.cfg.IPBurst)}
		l.ips[ip] = entry
	}
	entry.lastAccess = time.Now()
	limiter := entry.limiter
	l.mu.Unlock()

	return limiter.Allow()
}

func (l *ConnectionLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.cfg.IPTTL)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-l.cfg.IPTTL)
			l.mu.Lock()
			for ip, entry := range l.ips {
				if entry.lastAccess.Before(cutoff) {
					delete(l.ips, ip)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Stop halts the background cleanup goroutine.
func (l *ConnectionLimiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// MessageLimiter rate-limits inbound application messages per session,
// isolating one noisy or buggy peer from the rest of the pool.
type MessageLimiter struct {
	burst   int
	perSec  float64
	mu      sync.Mutex
	byConn  map[string]*rate.Limiter
}

// NewMessageLimiter creates a per-session inbound message limiter.
func NewMessageLimiter(burst int, perSec float64) *MessageLimiter {
	if burst <= 0 {
		burst = 100
	}
	if perSec <= 0 {
		perSec = 10
	}
	return &MessageLimiter{burst: burst, perSec: perSec, byConn: make(map[string]*rate.Limiter)}
}

// Allow reports whether connectionID may send another message right now.
func (m *MessageLimiter) Allow(connectionID string) bool {
	m.mu.Lock()
	limiter, ok := m.byConn[connectionID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(m.perSec), m.burst)
		m.byConn[connectionID] = limiter
	}
	m.mu.Unlock()
	return limiter.Allow()
}

// Forget releases the limiter state for a closed session.
func (m *MessageLimiter) Forget(connectionID string) {
	m.mu.Lock()
	delete(m.byConn, connectionID)
	m.mu.Unlock()
}
