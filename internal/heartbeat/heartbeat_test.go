package heartbeat

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/agent-broker/internal/pool"
)

type fakeSocket struct {
	pings  int
	closed bool
	code   int
	reason string
}

func (f *fakeSocket) Send([]byte) error        { return nil }
func (f *fakeSocket) Close(code int, reason string) error {
	f.closed = true
	f.code = code
	f.reason = reason
	return nil
}
func (f *fakeSocket) RemoteAddr() string { return "127.0.0.1:1234" }
func (f *fakeSocket) Ping() error        { f.pings++; return nil }

func newTestPool() *pool.Pool {
	return pool.New(10, zerolog.Nop())
}

func TestProbeSendsPingAndArmsWatchdog(t *testing.T) {
	p := newTestPool()
	sock := &fakeSocket{}
	session, err := p.Add("c1", pool.KindAgent, sock)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	authed := true
	if err := p.Update("c1", pool.Patch{Authenticated: &authed}); err != nil {
		t.Fatalf("update: %v", err)
	}

	e := New(p, Config{PingInterval: time.Hour, PongTimeout: time.Hour}, zerolog.Nop())
	e.probe("c1")

	if sock.pings != 1 {
		t.Fatalf("expected 1 ping sent, got %d", sock.pings)
	}
	if session.LastPingSentAt().IsZero() {
		t.Fatalf("expected lastPingSentAt to be recorded")
	}
	if _, armed := e.watchdogs["c1"]; !armed {
		t.Fatalf("expected watchdog to be armed")
	}
}

func TestOnPongClassifiesHealthyAndClearsWatchdog(t *testing.T) {
	p := newTestPool()
	sock := &fakeSocket{}
	p.Add("c1", pool.KindAgent, sock)
	authed := true
	p.Update("c1", pool.Patch{Authenticated: &authed})

	e := New(p, Config{PingInterval: time.Hour, PongTimeout: time.Hour}, zerolog.Nop())
	e.probe("c1")
	e.OnPong("c1")

	snap, _ := p.Snapshot("c1")
	if snap.Health != pool.HealthHealthy {
		t.Fatalf("expected healthy, got %s", snap.Health)
	}
	if snap.MissedPings != 0 {
		t.Fatalf("expected missed pings reset, got %d", snap.MissedPings)
	}
	if _, armed := e.watchdogs["c1"]; armed {
		t.Fatalf("expected watchdog cleared after pong")
	}
}

func TestWatchdogFireEscalatesAndClosesAtFiveMisses(t *testing.T) {
	p := newTestPool()
	sock := &fakeSocket{}
	p.Add("c1", pool.KindAgent, sock)
	authed := true
	p.Update("c1", pool.Patch{Authenticated: &authed})

	e := New(p, Config{PingInterval: time.Hour, PongTimeout: time.Hour}, zerolog.Nop())

	for i := 1; i <= 4; i++ {
		e.onWatchdogFire("c1")
	}
	snap, ok := p.Snapshot("c1")
	if !ok {
		t.Fatalf("session should still be live after 4 misses")
	}
	if snap.Health != pool.HealthUnhealthy {
		t.Fatalf("expected unhealthy at 4 misses, got %s", snap.Health)
	}

	e.onWatchdogFire("c1")
	if !sock.closed {
		t.Fatalf("expected socket closed at 5th miss")
	}
	if _, ok := p.Snapshot("c1"); ok {
		t.Fatalf("expected session removed from pool after 5th miss")
	}
}
