// Package transport owns the broker's HTTP surface: the WebSocket upgrade
// endpoints for agents and dashboards, health/metrics, and each connection's
// read loop — the per-connection state machine, built directly atop a
// per-connection read-loop/write-pump goroutine pair.
package transport

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"

	"github.com/adred-codev/agent-broker/internal/config"
	"github.com/adred-codev/agent-broker/internal/metrics"
	"github.com/adred-codev/agent-broker/internal/platform"
	"github.com/adred-codev/agent-broker/internal/pool"
	"github.com/adred-codev/agent-broker/internal/ratelimit"
	"github.com/adred-codev/agent-broker/internal/router"
	"github.com/adred-codev/agent-broker/internal/wire"
)

const sendBufferSize = 256

// Server is the broker's HTTP/WebSocket listener.
type Server struct {
	cfg         *config.Config
	pool        *pool.Pool
	router      *router.Router
	connLimiter *ratelimit.ConnectionLimiter
	msgLimiter  *ratelimit.MessageLimiter
	cpuSampler  *platform.CPUSampler
	logger      zerolog.Logger

	httpServer   *http.Server
	stopSampling chan struct{}
}

// New builds a transport server; call Start to begin listening.
func New(cfg *config.Config, p *pool.Pool, r *router.Router, connLimiter *ratelimit.ConnectionLimiter, msgLimiter *ratelimit.MessageLimiter, cpuSampler *platform.CPUSampler, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:         cfg,
		pool:        p,
		router:      r,
		connLimiter:  connLimiter,
		msgLimiter:   msgLimiter,
		cpuSampler:   cpuSampler,
		logger:       logger,
		stopSampling: make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/agent", s.handleAgentUpgrade)
	mux.HandleFunc("/ws/dashboard", s.handleDashboardUpgrade)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	s.httpServer = &http.Server{Addr: cfg.Addr, Handler: mux}
	return s
}

// Start begins serving; it blocks until the listener stops.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.cfg.Addr).Msg("broker listening")
	go s.sampleBufferSaturation()
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully drains HTTP listeners then closes every live session.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.stopSampling)
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	s.pool.CloseAll(int(wire.CloseNormal), "server_shutdown")
	return nil
}

// saturatedSocket is implemented by sockets that can report outbound queue
// occupancy; sampleBufferSaturation feeds it into a Prometheus histogram
// alongside the terminal mux's flush-latency observations.
type saturatedSocket interface {
	SaturationRatio() float64
}

// ponger is implemented by sockets that can queue a pong control frame
// through their single write path, in reply to a client-initiated ping.
type ponger interface {
	Pong() error
}

func (s *Server) sampleBufferSaturation() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopSampling:
			return
		case <-ticker.C:
			for _, snap := range s.pool.List(nil) {
				session, ok := s.pool.Get(snap.ConnectionID)
				if !ok {
					continue
				}
				if sock, ok := session.Socket.(saturatedSocket); ok {
					metrics.SendBufferSaturation.Observe(sock.SaturationRatio())
				}
			}
		}
	}
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (s *Server) admit(w http.ResponseWriter, r *http.Request) bool {
	ip := clientIP(r)
	if s.connLimiter != nil && !s.connLimiter.Allow(ip) {
		metrics.ConnectionsRejected.WithLabelValues("rate_limited").Inc()
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return false
	}
	if s.cpuSampler != nil && s.cpuSampler.Percent() >= s.cfg.CPURejectThreshold {
		metrics.ConnectionsRejected.WithLabelValues("cpu_overload").Inc()
		http.Error(w, "server overloaded", http.StatusServiceUnavailable)
		return false
	}
	return true
}

func (s *Server) handleAgentUpgrade(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r) {
		return
	}
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		metrics.ConnectionsRejected.WithLabelValues("upgrade_failed").Inc()
		return
	}
	s.serve(conn, pool.KindAgent, s.cfg.AgentConnectionTimeout())
}

func (s *Server) handleDashboardUpgrade(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r) {
		return
	}
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		metrics.ConnectionsRejected.WithLabelValues("upgrade_failed").Inc()
		return
	}
	s.serve(conn, pool.KindDashboard, s.cfg.DashboardConnectionTimeout())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// serve registers the new connection and runs its read loop until the socket
// closes, implementing the UNAUTH -> AUTH -> GONE state machine.
func (s *Server) serve(conn net.Conn, kind pool.Kind, idleTimeout time.Duration) {
	sock := newSocket(conn, sendBufferSize, s.logger)
	session, err := s.pool.Add(connectionID(), kind, sock)
	if err != nil {
		_ = conn.Close()
		return
	}
	go sock.writeLoop()

	authDeadline := time.AfterFunc(s.cfg.AuthTimeout(), func() {
		if !session.Authenticated() {
			s.sendAuthTimeout(session)
			_ = session.Socket.Close(int(wire.CloseAuthTimeout), "auth_timeout")
			s.teardown(session, "auth_timeout", "server")
		}
	})
	defer authDeadline.Stop()

	reason := s.readLoop(conn, session, idleTimeout)
	authDeadline.Stop()
	s.teardown(session, reason, "client")
}

func (s *Server) sendAuthTimeout(session *pool.Session) {
	env, err := wire.NewEnvelope(wire.ErrorType, wire.ErrorPayload{Code: wire.ErrAuthTimeout, Message: "authentication not completed in time"})
	if err != nil {
		return
	}
	frame, err := env.Serialize()
	if err != nil {
		return
	}
	_ = s.pool.SendTo(session.ConnectionID, frame)
}

func (s *Server) teardown(session *pool.Session, reason, initiatedBy string) {
	_, stillLive := s.pool.Get(session.ConnectionID)
	if !stillLive {
		return
	}
	_ = session.Socket.Close(int(wire.CloseNormal), "connection_closed")
	s.pool.Remove(session.ConnectionID)
	metrics.DisconnectsTotal.WithLabelValues(reason, initiatedBy).Inc()

	if session.Kind == pool.KindAgent {
		if agentID, ok := session.AgentID(); ok {
			s.router.HandleAgentDisconnect(agentID)
		}
	} else {
		s.router.HandleDashboardDisconnect(session.ConnectionID)
	}
	if s.msgLimiter != nil {
		s.msgLimiter.Forget(session.ConnectionID)
	}
}

// readLoop blocks until the connection ends, returning the reason it did:
// "client_close" for a clean WebSocket close, "read_error" for a transport
// error (which also covers idle-timeout read deadlines expiring).
func (s *Server) readLoop(conn net.Conn, session *pool.Session, idleTimeout time.Duration) string {
	ctx := context.Background()
	for {
		if idleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
		}
		data, op, err := wsutil.ReadClientData(conn)
		if err != nil {
			return "read_error"
		}
		session.RecordActivity()

		switch op {
		case ws.OpClose:
			return "client_close"
		case ws.OpPing:
			if p, ok := session.Socket.(ponger); ok {
				_ = p.Pong()
			}
			continue
		case ws.OpPong:
			continue
		case ws.OpText:
			s.dispatch(ctx, session, data)
		}
	}
}

func (s *Server) dispatch(ctx context.Context, session *pool.Session, raw []byte) {
	if s.msgLimiter != nil && !s.msgLimiter.Allow(session.ConnectionID) {
		metrics.MessagesRouted.WithLabelValues("unknown", "rate_limited").Inc()
		return
	}

	env, errEnv := router.Decode(raw)
	if env == nil {
		if frame, err := errEnv.Serialize(); err == nil {
			_ = s.pool.SendTo(session.ConnectionID, frame)
		}
		return
	}

	if session.Kind == pool.KindDashboard {
		s.router.RouteDashboard(ctx, session, env)
	} else {
		s.router.RouteAgent(ctx, session, env)
	}
}
