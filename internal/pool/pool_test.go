package pool

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeSocket struct {
	sent   [][]byte
	closed bool
	code   int
	reason string
	sendErr error
}

func (f *fakeSocket) Send(data []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, data)
	return nil
}
func (f *fakeSocket) Close(code int, reason string) error {
	f.closed = true
	f.code = code
	f.reason = reason
	return nil
}
func (f *fakeSocket) RemoteAddr() string { return "127.0.0.1:1234" }

func TestAddRejectsOnceAtCapacity(t *testing.T) {
	p := New(1, zerolog.Nop())
	if _, err := p.Add("a", KindAgent, &fakeSocket{}); err != nil {
		t.Fatalf("expected first Add to succeed, got %v", err)
	}
	if _, err := p.Add("b", KindAgent, &fakeSocket{}); err != ErrCapacityExceeded {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	if p.Count() != 1 {
		t.Fatalf("expected count 1, got %d", p.Count())
	}
}

func TestUpdateEmitsHealthChangedOnlyOnTransition(t *testing.T) {
	p := New(10, zerolog.Nop())
	p.Add("a", KindAgent, &fakeSocket{})

	var events []Event
	p.Subscribe(func(e Event) { events = append(events, e) })

	healthy := HealthHealthy
	if err := p.Update("a", Patch{Health: &healthy}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	// session starts HealthHealthy already, so this update should not
	// report a health change even though EventUpdated still fires.
	for _, e := range events {
		if e.Kind == EventHealthChanged {
			t.Fatalf("did not expect a health change when health did not transition")
		}
	}

	degraded := HealthDegraded
	if err := p.Update("a", Patch{Health: &degraded}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	found := false
	for _, e := range events {
		if e.Kind == EventHealthChanged && e.Session.Health == HealthDegraded && e.PrevHealth == HealthHealthy {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a health_changed event healthy->degraded, got %+v", events)
	}
}

func TestBroadcastSkipsUnauthenticatedAndFailingSockets(t *testing.T) {
	p := New(10, zerolog.Nop())

	okSock := &fakeSocket{}
	p.Add("authed", KindDashboard, okSock)
	authed := true
	p.Update("authed", Patch{Authenticated: &authed})

	p.Add("unauthed", KindDashboard, &fakeSocket{})

	failingSock := &fakeSocket{sendErr: errClosedForTest}
	p.Add("failing", KindDashboard, failingSock)
	p.Update("failing", Patch{Authenticated: &authed})

	sent := p.Broadcast([]byte("frame"), nil)
	if sent != 1 {
		t.Fatalf("expected exactly 1 successful delivery, got %d", sent)
	}
	if len(okSock.sent) != 1 {
		t.Fatalf("expected the authenticated healthy socket to receive the frame")
	}
}

var errClosedForTest = &closedErr{}

type closedErr struct{}

func (*closedErr) Error() string { return "socket closed" }

func TestSweepEvictsUnauthenticatedSessionPastMaxAge(t *testing.T) {
	p := New(10, zerolog.Nop())
	sock := &fakeSocket{}
	session, _ := p.Add("stale", KindDashboard, sock)
	_ = session

	p.sweep(CleanupConfig{UnauthenticatedMaxAge: -time.Second, UnhealthyMissThreshold: 5})

	if !sock.closed {
		t.Fatalf("expected stale unauthenticated session to be closed")
	}
	if sock.code != 4003 {
		t.Fatalf("expected close code 4003 (auth_timeout), got %d", sock.code)
	}
	if _, ok := p.Get("stale"); ok {
		t.Fatalf("expected session removed from pool after eviction")
	}
}

func TestSweepEvictsUnhealthySessionPastMissThreshold(t *testing.T) {
	p := New(10, zerolog.Nop())
	sock := &fakeSocket{}
	p.Add("unhealthy", KindAgent, sock)
	authed := true
	p.Update("unhealthy", Patch{Authenticated: &authed})
	unhealthy := HealthUnhealthy
	p.Update("unhealthy", Patch{Health: &unhealthy})
	session, _ := p.Get("unhealthy")
	for i := 0; i < 5; i++ {
		session.IncMissedPings()
	}

	p.sweep(CleanupConfig{UnauthenticatedMaxAge: time.Hour, UnhealthyMissThreshold: 5})

	if !sock.closed || sock.code != 4000 {
		t.Fatalf("expected unhealthy session closed with code 4000, got closed=%v code=%d", sock.closed, sock.code)
	}
}
