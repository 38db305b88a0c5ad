package router

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"github.com/adred-codev/agent-broker/internal/affinity"
	"github.com/adred-codev/agent-broker/internal/authn"
	"github.com/adred-codev/agent-broker/internal/pool"
	"github.com/adred-codev/agent-broker/internal/wire"
)

type fakeSocket struct {
	frames [][]byte
	closed bool
	code   int
	reason string
}

func (f *fakeSocket) Send(data []byte) error {
	f.frames = append(f.frames, data)
	return nil
}
func (f *fakeSocket) Close(code int, reason string) error {
	f.closed = true
	f.code = code
	f.reason = reason
	return nil
}
func (f *fakeSocket) RemoteAddr() string { return "127.0.0.1:1234" }

func (f *fakeSocket) lastEnvelope(t *testing.T) wire.Envelope {
	t.Helper()
	if len(f.frames) == 0 {
		t.Fatalf("expected at least one frame sent, got none")
	}
	var env wire.Envelope
	if err := json.Unmarshal(f.frames[len(f.frames)-1], &env); err != nil {
		t.Fatalf("failed to decode frame: %v", err)
	}
	return env
}

type fakeValidator struct {
	identity authn.Identity
	err      error
}

func (v *fakeValidator) Validate(context.Context, string) (authn.Identity, error) {
	return v.identity, v.err
}

func (v *fakeValidator) Refresh(context.Context, string) (string, string, int64, error) {
	return "", "", 0, nil
}

func newTestRouter(t *testing.T) (*Router, *pool.Pool) {
	t.Helper()
	p := pool.New(10, zerolog.Nop())
	aff := affinity.New()
	validator := &fakeValidator{identity: authn.Identity{UserID: "user-1", AgentID: "agent-1"}}
	r := New(p, aff, validator, nil, nil, nil, nil, nil, nil, zerolog.Nop())
	return r, p
}

func addSession(t *testing.T, p *pool.Pool, connectionID string, kind pool.Kind) (*pool.Session, *fakeSocket) {
	t.Helper()
	sock := &fakeSocket{}
	session, err := p.Add(connectionID, kind, sock)
	if err != nil {
		t.Fatalf("failed to add session: %v", err)
	}
	return session, sock
}

func authenticate(t *testing.T, p *pool.Pool, connectionID string) {
	t.Helper()
	authed := true
	if err := p.Update(connectionID, pool.Patch{Authenticated: &authed}); err != nil {
		t.Fatalf("failed to authenticate session: %v", err)
	}
}

func TestCommandRequestRoutesToAgentAndAcksDashboard(t *testing.T) {
	r, p := newTestRouter(t)
	dashboard, dashSock := addSession(t, p, "dash-1", pool.KindDashboard)
	authenticate(t, p, "dash-1")
	agent, agentSock := addSession(t, p, "agent-1", pool.KindAgent)
	authenticate(t, p, "agent-1")
	if !agent.SetAgentID("agent-1") {
		t.Fatalf("expected to set agent id")
	}

	env, err := wire.NewEnvelope(wire.CommandRequest, wire.CommandRequestInbound{
		AgentID:   "agent-1",
		CommandID: "cmd-1",
		Command:   "ls -la",
	})
	if err != nil {
		t.Fatalf("failed to build envelope: %v", err)
	}

	r.RouteDashboard(context.Background(), dashboard, env)

	if len(agentSock.frames) != 1 {
		t.Fatalf("expected agent to receive 1 frame, got %d", len(agentSock.frames))
	}
	outbound := agentSock.lastEnvelope(t)
	if outbound.Type != wire.CommandRequest {
		t.Fatalf("expected agent frame type COMMAND_REQUEST, got %s", outbound.Type)
	}

	ack := dashSock.lastEnvelope(t)
	if ack.Type != wire.Ack {
		t.Fatalf("expected dashboard ACK, got %s", ack.Type)
	}
	var ackPayload wire.AckPayload
	if err := ack.Decode(&ackPayload); err != nil {
		t.Fatalf("failed to decode ack: %v", err)
	}
	if !ackPayload.Success || ackPayload.CommandID != "cmd-1" {
		t.Fatalf("unexpected ack payload: %+v", ackPayload)
	}

	if owner, ok := r.affinity.Owner("cmd-1"); !ok || owner != "dash-1" {
		t.Fatalf("expected cmd-1 owned by dash-1, got %q (ok=%v)", owner, ok)
	}
}

func TestCommandCancelRejectedForNonOwningDashboard(t *testing.T) {
	r, p := newTestRouter(t)
	owner, _ := addSession(t, p, "dash-owner", pool.KindDashboard)
	authenticate(t, p, "dash-owner")
	intruder, intruderSock := addSession(t, p, "dash-intruder", pool.KindDashboard)
	authenticate(t, p, "dash-intruder")
	agent, _ := addSession(t, p, "agent-1", pool.KindAgent)
	authenticate(t, p, "agent-1")
	agent.SetAgentID("agent-1")

	requestEnv, _ := wire.NewEnvelope(wire.CommandRequest, wire.CommandRequestInbound{
		AgentID: "agent-1", CommandID: "cmd-1", Command: "ls",
	})
	r.RouteDashboard(context.Background(), owner, requestEnv)

	cancelEnv, _ := wire.NewEnvelope(wire.CommandCancel, wire.CommandCancelPayload{
		AgentID: "agent-1", CommandID: "cmd-1",
	})
	r.RouteDashboard(context.Background(), intruder, cancelEnv)

	errEnv := intruderSock.lastEnvelope(t)
	if errEnv.Type != wire.ErrorType {
		t.Fatalf("expected intruder to receive ERROR, got %s", errEnv.Type)
	}
	var payload wire.ErrorPayload
	if err := errEnv.Decode(&payload); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	if payload.Code != wire.ErrForbidden {
		t.Fatalf("expected FORBIDDEN, got %s", payload.Code)
	}
}

func TestAgentConnectSetsIdentityAndBroadcastsStatusToSubscriber(t *testing.T) {
	r, p := newTestRouter(t)
	dashboard, dashSock := addSession(t, p, "dash-1", pool.KindDashboard)
	authenticate(t, p, "dash-1")
	dashboard.Subscriptions().AddAgents([]string{"agent-1"})

	agentSession, agentSock := addSession(t, p, "agent-1", pool.KindAgent)

	env, err := wire.NewEnvelope(wire.AgentConnect, wire.AgentConnectPayload{AgentID: "agent-1", Token: "tok"})
	if err != nil {
		t.Fatalf("failed to build envelope: %v", err)
	}
	r.RouteAgent(context.Background(), agentSession, env)

	if id, ok := agentSession.AgentID(); !ok || id != "agent-1" {
		t.Fatalf("expected agent id set to agent-1, got %q (ok=%v)", id, ok)
	}
	if !agentSession.Authenticated() {
		t.Fatalf("expected agent session authenticated after AGENT_CONNECT")
	}

	ack := agentSock.lastEnvelope(t)
	if ack.Type != wire.Ack {
		t.Fatalf("expected agent ACK, got %s", ack.Type)
	}

	statusEnv := dashSock.lastEnvelope(t)
	if statusEnv.Type != wire.AgentStatus {
		t.Fatalf("expected dashboard to receive AGENT_STATUS, got %s", statusEnv.Type)
	}
	var status wire.AgentStatusPayload
	if err := statusEnv.Decode(&status); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	if status.AgentID != "agent-1" || status.Status != "connected" {
		t.Fatalf("unexpected status payload: %+v", status)
	}
}

func TestHandleAgentDisconnectFailsOwnedCommands(t *testing.T) {
	r, p := newTestRouter(t)
	dashboard, dashSock := addSession(t, p, "dash-1", pool.KindDashboard)
	authenticate(t, p, "dash-1")
	agent, _ := addSession(t, p, "agent-1", pool.KindAgent)
	authenticate(t, p, "agent-1")
	agent.SetAgentID("agent-1")
	dashboard.Subscriptions().AddAgents([]string{"agent-1"})

	requestEnv, _ := wire.NewEnvelope(wire.CommandRequest, wire.CommandRequestInbound{
		AgentID: "agent-1", CommandID: "cmd-1", Command: "ls",
	})
	r.RouteDashboard(context.Background(), dashboard, requestEnv)

	r.HandleAgentDisconnect("agent-1")

	last := dashSock.lastEnvelope(t)
	if last.Type != wire.CommandStatus {
		t.Fatalf("expected dashboard's last frame to be COMMAND_STATUS, got %s", last.Type)
	}
	var status wire.CommandStatusPayload
	if err := last.Decode(&status); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	if status.Status != "failed" || status.Reason != "agent_disconnected" {
		t.Fatalf("unexpected command status: %+v", status)
	}
	if _, ok := r.affinity.Owner("cmd-1"); ok {
		t.Fatalf("expected affinity for cmd-1 to be cleared")
	}
}

func TestHandleAgentDisconnectLeavesOtherAgentsCommandsIntact(t *testing.T) {
	r, p := newTestRouter(t)
	dashboard, dashSock := addSession(t, p, "dash-1", pool.KindDashboard)
	authenticate(t, p, "dash-1")
	agentA, _ := addSession(t, p, "agent-a", pool.KindAgent)
	authenticate(t, p, "agent-a")
	agentA.SetAgentID("agent-a")
	agentB, _ := addSession(t, p, "agent-b", pool.KindAgent)
	authenticate(t, p, "agent-b")
	agentB.SetAgentID("agent-b")
	dashboard.Subscriptions().AddAgents([]string{"agent-a", "agent-b"})

	reqA, _ := wire.NewEnvelope(wire.CommandRequest, wire.CommandRequestInbound{
		AgentID: "agent-a", CommandID: "cmd-a", Command: "ls",
	})
	r.RouteDashboard(context.Background(), dashboard, reqA)
	reqB, _ := wire.NewEnvelope(wire.CommandRequest, wire.CommandRequestInbound{
		AgentID: "agent-b", CommandID: "cmd-b", Command: "ls",
	})
	r.RouteDashboard(context.Background(), dashboard, reqB)

	framesBefore := len(dashSock.frames)
	r.HandleAgentDisconnect("agent-a")

	if _, ok := r.affinity.Owner("cmd-a"); ok {
		t.Fatalf("expected affinity for cmd-a to be cleared")
	}
	if owner, ok := r.affinity.Owner("cmd-b"); !ok || owner != "dash-1" {
		t.Fatalf("expected cmd-b (agent-b) to remain owned by dash-1, got %q (ok=%v)", owner, ok)
	}
	if len(dashSock.frames) != framesBefore+2 {
		t.Fatalf("expected exactly 2 new frames (AGENT_DISCONNECT + cmd-a failure), got %d", len(dashSock.frames)-framesBefore)
	}
	last := dashSock.lastEnvelope(t)
	var status wire.CommandStatusPayload
	if err := last.Decode(&status); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	if status.CommandID != "cmd-a" {
		t.Fatalf("expected failure notice for cmd-a, got %s", status.CommandID)
	}
}
