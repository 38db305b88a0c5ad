// Package router implements the MessageRouter: envelope validation,
// per-kind authorization, and the dashboard/agent dispatch tables.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/agent-broker/internal/affinity"
	"github.com/adred-codev/agent-broker/internal/authn"
	"github.com/adred-codev/agent-broker/internal/heartbeat"
	"github.com/adred-codev/agent-broker/internal/metrics"
	"github.com/adred-codev/agent-broker/internal/pool"
	"github.com/adred-codev/agent-broker/internal/services"
	"github.com/adred-codev/agent-broker/internal/token"
	"github.com/adred-codev/agent-broker/internal/wire"
)

// TerminalSink receives agent-originated terminal/trace frames for
// coalescing and fan-out. Implemented by internal/termmux.Mux; declared here
// to avoid an import cycle between router and termmux.
type TerminalSink interface {
	IngestTerminal(payload wire.TerminalStreamPayload)
	IngestTrace(payload wire.TraceStreamPayload)
}

// Defaults for COMMAND_REQUEST normalization.
const (
	defaultPriority    = 5
	defaultMaxRetries  = 1
	defaultTimeLimitMs = 300_000
)

// Router is the broker's single message dispatch point.
type Router struct {
	pool      *pool.Pool
	affinity  *affinity.Table
	validator authn.TokenValidator
	tokens    *token.Manager
	heartbeat *heartbeat.Engine
	terminal  TerminalSink
	agents    services.AgentService
	commands  services.CommandService
	audit     services.AuditService
	logger    zerolog.Logger
}

// New builds a router wired to its collaborators. p, aff and validator are
// required; every other collaborator may be nil, in which case the step that
// uses it (token registration, heartbeat pong recording, terminal/trace
// forwarding, agent listing, command records, audit) is skipped.
func New(
	p *pool.Pool,
	aff *affinity.Table,
	validator authn.TokenValidator,
	tokens *token.Manager,
	hb *heartbeat.Engine,
	terminal TerminalSink,
	agents services.AgentService,
	commands services.CommandService,
	audit services.AuditService,
	logger zerolog.Logger,
) *Router {
	return &Router{
		pool:      p,
		affinity:  aff,
		validator: validator,
		tokens:    tokens,
		heartbeat: hb,
		terminal:  terminal,
		agents:    agents,
		commands:  commands,
		audit:     audit,
		logger:    logger,
	}
}

// Decode validates the raw inbound frame and returns its envelope, or an
// already-built ERROR envelope to relay to the sender when validation fails.
func Decode(raw []byte) (*wire.Envelope, *wire.Envelope) {
	var env wire.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, mustError(wire.ErrInvalidMessage, "malformed envelope: "+err.Error())
	}
	if err := env.Validate(); err != nil {
		return nil, mustError(wire.ErrInvalidMessage, err.Error())
	}
	return &env, nil
}

// RouteDashboard dispatches one validated envelope from a dashboard session.
// It sends any response frames itself via the pool and never returns an
// error the caller must relay — failures are reported to the originator as
// ERROR frames.
func (r *Router) RouteDashboard(ctx context.Context, session *pool.Session, env *wire.Envelope) {
	if !wire.IsHeartbeat(env.Type) && !wire.DashboardAllowedTypes[env.Type] {
		r.sendError(session.ConnectionID, env.ID, wire.ErrInvalidMessageType, "type not permitted for dashboard sessions")
		metrics.MessagesRouted.WithLabelValues(string(env.Type), "rejected").Inc()
		return
	}

	var outcome string
	switch env.Type {
	case wire.DashboardInit:
		outcome = r.handleDashboardInit(ctx, session, env)
	case wire.DashboardSubscribe:
		outcome = r.handleSubscribe(ctx, session, env, true)
	case wire.DashboardUnsubscribe:
		outcome = r.handleSubscribe(ctx, session, env, false)
	case wire.CommandRequest:
		outcome = r.handleCommandRequest(session, env)
	case wire.CommandCancel:
		outcome = r.handleCommandCancel(session, env)
	case wire.AgentControl:
		outcome = r.handleAgentControl(session, env)
	case wire.EmergencyStop:
		outcome = r.handleEmergencyStop(ctx, session, env)
	case wire.Ping:
		outcome = r.handlePing(session, env)
	case wire.Pong:
		outcome = r.handlePong(session)
	default:
		r.sendError(session.ConnectionID, env.ID, wire.ErrInvalidMessageType, "unhandled dashboard message type")
		outcome = "unhandled"
	}
	metrics.MessagesRouted.WithLabelValues(string(env.Type), outcome).Inc()
}

// RouteAgent dispatches one validated envelope from an agent session,
// forwarding status/stream frames to the appropriate broadcast method.
func (r *Router) RouteAgent(ctx context.Context, session *pool.Session, env *wire.Envelope) {
	if !wire.IsHeartbeat(env.Type) && !wire.AgentAllowedTypes[env.Type] {
		r.sendError(session.ConnectionID, env.ID, wire.ErrInvalidMessageType, "type not permitted for agent sessions")
		metrics.MessagesRouted.WithLabelValues(string(env.Type), "rejected").Inc()
		return
	}

	var outcome string
	switch env.Type {
	case wire.AgentConnect:
		outcome = r.handleAgentConnect(ctx, session, env)
	case wire.AgentStatus:
		outcome = r.forwardAgentStatus(session, env)
	case wire.AgentHeartbeat:
		session.RecordActivity()
		outcome = "ok"
	case wire.CommandStatus:
		outcome = r.forwardCommandStatus(session, env)
	case wire.CommandProgress:
		outcome = r.forwardCommandProgress(session, env)
	case wire.CommandResult, wire.CommandComplete:
		outcome = r.forwardCommandResult(session, env)
	case wire.TerminalStream:
		outcome = r.forwardTerminalStream(session, env)
	case wire.TraceStream:
		outcome = r.forwardTraceStream(session, env)
	case wire.Ping:
		outcome = r.handlePing(session, env)
	case wire.Pong:
		outcome = r.handlePong(session)
	default:
		r.sendError(session.ConnectionID, env.ID, wire.ErrInvalidMessageType, "unhandled agent message type")
		outcome = "unhandled"
	}
	metrics.MessagesRouted.WithLabelValues(string(env.Type), outcome).Inc()
}

func (r *Router) handlePing(session *pool.Session, env *wire.Envelope) string {
	var in wire.PingPayload
	_ = env.Decode(&in)
	out, err := wire.NewEnvelope(wire.Pong, wire.PongPayload{
		Timestamp: in.Timestamp,
		LatencyMs: time.Now().UnixMilli() - in.Timestamp,
	})
	if err != nil {
		return "error"
	}
	r.send(session.ConnectionID, out)
	return "ok"
}

func (r *Router) handlePong(session *pool.Session) string {
	if r.heartbeat != nil {
		r.heartbeat.OnPong(session.ConnectionID)
	}
	return "ok"
}

// handleDashboardInit authenticates, applies initial subscriptions, and
// sends the connected snapshot.
func (r *Router) handleDashboardInit(ctx context.Context, session *pool.Session, env *wire.Envelope) string {
	var in wire.DashboardInitPayload
	if err := env.Decode(&in); err != nil {
		r.sendError(session.ConnectionID, env.ID, wire.ErrInvalidMessage, "malformed DASHBOARD_INIT payload")
		return "rejected"
	}

	identity, err := r.validator.Validate(ctx, in.Token)
	if err != nil {
		r.sendError(session.ConnectionID, env.ID, wire.ErrUnauthorized, "token validation failed")
		_ = session.Socket.Close(int(wire.CloseAuthTimeout), "unauthorized")
		r.pool.Remove(session.ConnectionID)
		return "unauthorized"
	}

	userID := in.UserID
	if userID == "" {
		userID = identity.UserID
	}
	authed := true
	if err := r.pool.Update(session.ConnectionID, pool.Patch{Authenticated: &authed, UserID: &userID}); err != nil {
		r.sendError(session.ConnectionID, env.ID, wire.ErrInitFailed, "session no longer live")
		return "error"
	}

	if in.Subscriptions != nil {
		subs := session.Subscriptions()
		r.applyInitialSubscriptions(ctx, subs, *in.Subscriptions)
	}

	if r.tokens != nil {
		r.tokens.Register(token.Record{
			ConnectionID: session.ConnectionID,
			Token:        in.Token,
			UserID:       userID,
			ExpiresAtMs:  identity.ExpiresAtMs,
		})
	}
	if r.heartbeat != nil {
		// The engine probes every authenticated session on its own ticker;
		// nothing further to arm here.
	}

	agents := r.snapshotAgents(ctx)
	connected, err := wire.NewEnvelope(wire.DashboardConnected, wire.DashboardConnectedPayload{
		ConnectionID: session.ConnectionID,
		Agents:       agents,
	})
	if err == nil {
		r.send(session.ConnectionID, connected)
	}

	ack, err := wire.NewEnvelope(wire.Ack, wire.AckPayload{MessageID: env.ID, Success: true})
	if err == nil {
		r.send(session.ConnectionID, ack)
	}
	return "ok"
}

// handleAgentConnect authenticates an agent session, sets its agentId, and
// announces it to subscribed dashboards.
func (r *Router) handleAgentConnect(ctx context.Context, session *pool.Session, env *wire.Envelope) string {
	var in wire.AgentConnectPayload
	if err := env.Decode(&in); err != nil {
		r.sendError(session.ConnectionID, env.ID, wire.ErrInvalidMessage, "malformed AGENT_CONNECT payload")
		return "rejected"
	}

	identity, err := r.validator.Validate(ctx, in.Token)
	if err != nil {
		r.sendError(session.ConnectionID, env.ID, wire.ErrUnauthorized, "token validation failed")
		_ = session.Socket.Close(int(wire.CloseAuthTimeout), "unauthorized")
		r.pool.Remove(session.ConnectionID)
		return "unauthorized"
	}

	agentID := in.AgentID
	if agentID == "" {
		agentID = identity.AgentID
	}
	if !session.SetAgentID(agentID) {
		r.sendError(session.ConnectionID, env.ID, wire.ErrInitFailed, "agent identity already set")
		return "error"
	}
	authed := true
	if err := r.pool.Update(session.ConnectionID, pool.Patch{Authenticated: &authed}); err != nil {
		r.sendError(session.ConnectionID, env.ID, wire.ErrInitFailed, "session no longer live")
		return "error"
	}

	if r.tokens != nil {
		r.tokens.Register(token.Record{
			ConnectionID: session.ConnectionID,
			Token:        in.Token,
			AgentID:      agentID,
			ExpiresAtMs:  identity.ExpiresAtMs,
		})
	}

	status, err := wire.NewEnvelope(wire.AgentStatus, wire.AgentStatusPayload{AgentID: agentID, Status: "connected"})
	if err == nil {
		frame, err := status.Serialize()
		if err == nil {
			r.pool.Broadcast(frame, func(s pool.Snapshot) bool {
				return s.Kind == pool.KindDashboard && s.Subscriptions != nil && s.Subscriptions.MatchesAgent(agentID)
			})
		}
	}

	ack, err := wire.NewEnvelope(wire.Ack, wire.AckPayload{MessageID: env.ID, Success: true})
	if err == nil {
		r.send(session.ConnectionID, ack)
	}
	return "ok"
}

func (r *Router) snapshotAgents(ctx context.Context) []wire.AgentRecord {
	if r.agents == nil {
		return nil
	}
	records, err := r.agents.ListAgents(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("failed to list agents for dashboard snapshot")
		return nil
	}
	out := make([]wire.AgentRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, wire.AgentRecord{AgentID: rec.AgentID, Type: strings.ToUpper(rec.Type), Status: strings.ToUpper(rec.Status)})
	}
	return out
}

func (r *Router) applyInitialSubscriptions(ctx context.Context, subs *pool.DashboardSubscriptions, in wire.InitialSubscriptions) {
	if in.Agents != nil {
		subs.AddAgents(in.Agents)
	}
	if in.Commands != nil {
		subs.AddCommands(in.Commands)
	}
	subs.SetTraces(in.Traces)
	subs.SetTerminals(in.Terminals)
}

func (r *Router) handleSubscribe(ctx context.Context, session *pool.Session, env *wire.Envelope, subscribe bool) string {
	var in wire.SubscribePayload
	if err := env.Decode(&in); err != nil {
		r.sendError(session.ConnectionID, env.ID, wire.ErrInvalidMessage, "malformed subscription payload")
		return "rejected"
	}

	subs := session.Subscriptions()
	if subs == nil {
		r.sendError(session.ConnectionID, env.ID, wire.ErrSubscriptionFailed, "not a dashboard session")
		return "error"
	}

	if subscribe {
		if in.Agents != nil && len(in.Agents) == 0 && r.agents != nil {
			if all := r.snapshotAgents(ctx); len(all) > 0 {
				ids := make([]string, 0, len(all))
				for _, a := range all {
					ids = append(ids, a.AgentID)
				}
				subs.AddAgents(ids)
			} else {
				subs.AddAgents(in.Agents)
			}
		} else if in.Agents != nil {
			subs.AddAgents(in.Agents)
		}
		if in.Commands != nil {
			subs.AddCommands(in.Commands)
		}
		if in.Traces != nil {
			subs.SetTraces(*in.Traces)
		}
		if in.Terminals != nil {
			subs.SetTerminals(*in.Terminals)
		}
	} else {
		subs.RemoveAgents(in.Agents)
		subs.RemoveCommands(in.Commands)
		if in.Traces != nil && *in.Traces {
			subs.SetTraces(false)
		}
		if in.Terminals != nil && *in.Terminals {
			subs.SetTerminals(false)
		}
	}

	ack, err := wire.NewEnvelope(wire.Ack, wire.AckPayload{MessageID: env.ID, Success: true})
	if err == nil {
		r.send(session.ConnectionID, ack)
	}
	return "ok"
}

func (r *Router) handleCommandRequest(session *pool.Session, env *wire.Envelope) string {
	var in wire.CommandRequestInbound
	if err := env.Decode(&in); err != nil {
		r.sendError(session.ConnectionID, env.ID, wire.ErrInvalidMessage, "malformed COMMAND_REQUEST payload")
		return "rejected"
	}

	target, ok := r.pool.ByAgentID(in.AgentID)
	if !ok {
		r.sendError(session.ConnectionID, env.ID, wire.ErrRoutingFailed, "target agent not connected")
		return "routing_failed"
	}

	r.affinity.Create(in.CommandID, session.ConnectionID, in.AgentID)
	session.Subscriptions().AddCommands([]string{in.CommandID})

	userID := session.UserID()
	outbound, err := wire.NewEnvelope(wire.CommandRequest, wire.CommandRequestOutbound{
		CommandID: in.CommandID,
		Content:   in.Command,
		Command:   in.Command,
		Type:      "NATURAL",
		Priority:  defaultPriority,
		Args:      in.Args,
		ExecutionConstraints: wire.ExecutionConstraints{
			TimeLimitMs: defaultTimeLimitMs,
			MaxRetries:  defaultMaxRetries,
		},
		DashboardID: session.ConnectionID,
		UserID:      userID,
	})
	if err != nil {
		r.affinity.Clear(in.CommandID)
		r.sendError(session.ConnectionID, env.ID, wire.ErrInternal, "failed to build outbound command")
		return "error"
	}

	if err := r.sendRaw(target.ConnectionID, outbound); err != nil {
		r.affinity.Clear(in.CommandID)
		r.sendError(session.ConnectionID, env.ID, wire.ErrRoutingFailed, "failed to deliver command to agent")
		return "routing_failed"
	}

	if r.commands != nil {
		_ = r.commands.RecordCommand(context.Background(), services.CommandRecord{
			CommandID: in.CommandID,
			AgentID:   in.AgentID,
			Status:    "dispatched",
		})
	}

	ack, err := wire.NewEnvelope(wire.Ack, wire.AckPayload{MessageID: env.ID, Success: true, CommandID: in.CommandID})
	if err == nil {
		r.send(session.ConnectionID, ack)
	}
	return "ok"
}

func (r *Router) handleCommandCancel(session *pool.Session, env *wire.Envelope) string {
	var in wire.CommandCancelPayload
	if err := env.Decode(&in); err != nil {
		r.sendError(session.ConnectionID, env.ID, wire.ErrInvalidMessage, "malformed COMMAND_CANCEL payload")
		return "rejected"
	}

	if !r.affinity.IsOwner(in.CommandID, session.ConnectionID) {
		r.sendError(session.ConnectionID, env.ID, wire.ErrForbidden, "command not owned by this dashboard")
		return "forbidden"
	}

	target, ok := r.pool.ByAgentID(in.AgentID)
	if !ok {
		r.sendError(session.ConnectionID, env.ID, wire.ErrRoutingFailed, "target agent not connected")
		return "routing_failed"
	}

	outbound, err := wire.NewEnvelope(wire.CommandCancel, in)
	if err != nil || r.sendRaw(target.ConnectionID, outbound) != nil {
		r.sendError(session.ConnectionID, env.ID, wire.ErrRoutingFailed, "failed to deliver cancel to agent")
		return "routing_failed"
	}

	ack, err := wire.NewEnvelope(wire.Ack, wire.AckPayload{MessageID: env.ID, Success: true, CommandID: in.CommandID})
	if err == nil {
		r.send(session.ConnectionID, ack)
	}
	return "ok"
}

func (r *Router) handleAgentControl(session *pool.Session, env *wire.Envelope) string {
	var in wire.AgentControlPayload
	if err := env.Decode(&in); err != nil {
		r.sendError(session.ConnectionID, env.ID, wire.ErrInvalidMessage, "malformed AGENT_CONTROL payload")
		return "rejected"
	}

	target, ok := r.pool.ByAgentID(in.AgentID)
	if !ok {
		r.sendError(session.ConnectionID, env.ID, wire.ErrRoutingFailed, "target agent not connected")
		return "routing_failed"
	}

	outbound, err := wire.NewEnvelope(wire.AgentControl, in)
	if err != nil || r.sendRaw(target.ConnectionID, outbound) != nil {
		r.sendError(session.ConnectionID, env.ID, wire.ErrRoutingFailed, "failed to deliver control to agent")
		return "routing_failed"
	}

	ack, err := wire.NewEnvelope(wire.Ack, wire.AckPayload{MessageID: env.ID, Success: true})
	if err == nil {
		r.send(session.ConnectionID, ack)
	}
	return "ok"
}

func (r *Router) handleEmergencyStop(ctx context.Context, session *pool.Session, env *wire.Envelope) string {
	outbound, err := wire.NewEnvelope(wire.AgentControl, wire.AgentControlPayload{Action: "stop"})
	if err != nil {
		r.sendError(session.ConnectionID, env.ID, wire.ErrInternal, "failed to build stop command")
		return "error"
	}
	frame, err := outbound.Serialize()
	if err != nil {
		r.sendError(session.ConnectionID, env.ID, wire.ErrInternal, "failed to serialize stop command")
		return "error"
	}
	sent := r.pool.Broadcast(frame, func(s pool.Snapshot) bool { return s.Kind == pool.KindAgent })

	if r.audit != nil {
		_ = r.audit.Record(ctx, services.AuditEvent{
			Name:        "emergency_stop",
			Message:     fmt.Sprintf("emergency stop broadcast to %d agents", sent),
			TimestampMs: time.Now().UnixMilli(),
			Metadata:    map[string]any{"connectionId": session.ConnectionID, "recipients": sent},
		})
	}

	ack, err := wire.NewEnvelope(wire.Ack, wire.AckPayload{MessageID: env.ID, Success: true})
	if err == nil {
		r.send(session.ConnectionID, ack)
	}
	return "ok"
}

func (r *Router) forwardAgentStatus(session *pool.Session, env *wire.Envelope) string {
	return broadcastToSubscribers(r, env, func(subs *pool.DashboardSubscriptions, p wire.AgentStatusPayload) bool {
		return subs.MatchesAgent(p.AgentID)
	})
}

func (r *Router) forwardCommandStatus(session *pool.Session, env *wire.Envelope) string {
	var in wire.CommandStatusPayload
	if err := env.Decode(&in); err != nil {
		return "rejected"
	}
	outcome := broadcastToSubscribers(r, env, func(subs *pool.DashboardSubscriptions, p wire.CommandStatusPayload) bool {
		return subs.MatchesCommand(p.CommandID)
	})
	if in.Status == "completed" || in.Status == "failed" || in.Status == "cancelled" {
		r.affinity.Clear(in.CommandID)
	}
	return outcome
}

func (r *Router) forwardCommandProgress(session *pool.Session, env *wire.Envelope) string {
	return broadcastToSubscribers(r, env, func(subs *pool.DashboardSubscriptions, p wire.CommandProgressPayload) bool {
		return subs.MatchesCommand(p.CommandID)
	})
}

func (r *Router) forwardCommandResult(session *pool.Session, env *wire.Envelope) string {
	var in wire.CommandResultPayload
	if err := env.Decode(&in); err != nil {
		return "rejected"
	}
	canonical, err := wire.NewEnvelope(wire.CommandResult, in)
	if err != nil {
		return "error"
	}
	outcome := r.broadcastEnvelopeToSubscribers(canonical, func(subs *pool.DashboardSubscriptions) bool {
		return subs.MatchesCommand(in.CommandID)
	})
	r.affinity.Clear(in.CommandID)
	return outcome
}

func (r *Router) forwardTerminalStream(session *pool.Session, env *wire.Envelope) string {
	var in wire.TerminalStreamPayload
	if err := env.Decode(&in); err != nil {
		return "rejected"
	}
	if r.terminal != nil {
		r.terminal.IngestTerminal(in)
	}
	return "ok"
}

func (r *Router) forwardTraceStream(session *pool.Session, env *wire.Envelope) string {
	var in wire.TraceStreamPayload
	if err := env.Decode(&in); err != nil {
		return "rejected"
	}
	if r.terminal != nil {
		r.terminal.IngestTrace(in)
	}
	return "ok"
}

// broadcastToSubscribers decodes env's payload into a T, then broadcasts the
// envelope unchanged to every authenticated dashboard session whose
// subscriptions the match predicate accepts.
func broadcastToSubscribers[T any](r *Router, env *wire.Envelope, match func(*pool.DashboardSubscriptions, T) bool) string {
	var payload T
	if err := env.Decode(&payload); err != nil {
		return "rejected"
	}
	return r.broadcastEnvelopeToSubscribers(env, func(subs *pool.DashboardSubscriptions) bool {
		return match(subs, payload)
	})
}

func (r *Router) broadcastEnvelopeToSubscribers(env *wire.Envelope, match func(*pool.DashboardSubscriptions) bool) string {
	frame, err := env.Serialize()
	if err != nil {
		return "error"
	}
	r.pool.Broadcast(frame, func(s pool.Snapshot) bool {
		return s.Kind == pool.KindDashboard && s.Subscriptions != nil && match(s.Subscriptions)
	})
	return "ok"
}

// HandleAgentDisconnect runs the agent disconnect path:
// announce the loss to subscribed dashboards and fail every command
// currently attributed to this agent to its owning dashboard.
func (r *Router) HandleAgentDisconnect(agentID string) {
	if agentID == "" {
		return
	}

	status, err := wire.NewEnvelope(wire.AgentDisconnect, wire.AgentStatusPayload{AgentID: agentID, Status: "disconnected"})
	if err == nil {
		if frame, err := status.Serialize(); err == nil {
			r.pool.Broadcast(frame, func(s pool.Snapshot) bool {
				return s.Kind == pool.KindDashboard && s.Subscriptions != nil && s.Subscriptions.MatchesAgent(agentID)
			})
		}
	}

	for _, cleared := range r.affinity.ClearByAgent(agentID) {
		env, err := wire.NewEnvelope(wire.CommandStatus, wire.CommandStatusPayload{
			CommandID: cleared.CommandID,
			AgentID:   agentID,
			Status:    "failed",
			Reason:    "agent_disconnected",
		})
		if err == nil {
			r.send(cleared.ConnectionID, env)
		}
	}
}

// HandleDashboardDisconnect runs the dashboard disconnect
// path: clear every affinity the dashboard owned, unregister its token, and
// release its heartbeat watchdog.
func (r *Router) HandleDashboardDisconnect(connectionID string) {
	r.affinity.ClearByConnection(connectionID)
	if r.tokens != nil {
		r.tokens.Unregister(connectionID)
	}
	if r.heartbeat != nil {
		r.heartbeat.Forget(connectionID)
	}
}

func (r *Router) send(connectionID string, env *wire.Envelope) {
	if err := r.sendRaw(connectionID, env); err != nil {
		r.logger.Debug().Str("connection_id", connectionID).Err(err).Msg("failed to deliver frame")
	}
}

func (r *Router) sendRaw(connectionID string, env *wire.Envelope) error {
	frame, err := env.Serialize()
	if err != nil {
		return err
	}
	return r.pool.SendTo(connectionID, frame)
}

func (r *Router) sendError(connectionID, inReplyTo string, code wire.ErrorCode, message string) {
	env, err := wire.NewEnvelope(wire.ErrorType, wire.ErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	_ = inReplyTo
	r.send(connectionID, env)
}

func mustError(code wire.ErrorCode, message string) *wire.Envelope {
	env, err := wire.NewEnvelope(wire.ErrorType, wire.ErrorPayload{Code: code, Message: message})
	if err != nil {
		panic(err)
	}
	return env
}
