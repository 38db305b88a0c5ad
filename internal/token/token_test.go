package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/agent-broker/internal/authn"
	"github.com/adred-codev/agent-broker/internal/pool"
)

type fakeSocket struct {
	sent       [][]byte
	closed     bool
	closeCode  int
	closeCause string
}

func (f *fakeSocket) Send(data []byte) error {
	f.sent = append(f.sent, data)
	return nil
}
func (f *fakeSocket) Close(code int, reason string) error {
	f.closed = true
	f.closeCode = code
	f.closeCause = reason
	return nil
}
func (f *fakeSocket) RemoteAddr() string { return "10.0.0.1:9" }

type fakeValidator struct {
	failUntil int
	calls     int
}

func (v *fakeValidator) Validate(context.Context, string) (authn.Identity, error) {
	return authn.Identity{}, nil
}

func (v *fakeValidator) Refresh(_ context.Context, refreshToken string) (string, string, int64, error) {
	v.calls++
	if v.calls <= v.failUntil {
		return "", "", 0, errors.New("upstream unavailable")
	}
	return "new-token", "new-refresh", time.Now().Add(time.Hour).UnixMilli(), nil
}

func TestScanRefreshesDueRecordAndPushesFrame(t *testing.T) {
	p := pool.New(10, zerolog.Nop())
	sock := &fakeSocket{}
	p.Add("c1", pool.KindAgent, sock)

	v := &fakeValidator{}
	m := New(v, p, Config{}, zerolog.Nop())
	m.Register(Record{
		ConnectionID: "c1",
		Token:        "old",
		RefreshToken: "refresh-1",
		ExpiresAtMs:  time.Now().Add(time.Minute).UnixMilli(),
	})

	m.scan(context.Background())

	if len(sock.sent) != 1 {
		t.Fatalf("expected one pushed frame, got %d", len(sock.sent))
	}
	m.mu.Lock()
	rec := m.records["c1"]
	m.mu.Unlock()
	if rec.Token != "new-token" {
		t.Fatalf("expected token rotated, got %q", rec.Token)
	}
}

func TestScanClosesSessionAfterMaxFailures(t *testing.T) {
	p := pool.New(10, zerolog.Nop())
	sock := &fakeSocket{}
	p.Add("c1", pool.KindAgent, sock)

	v := &fakeValidator{failUntil: 10}
	m := New(v, p, Config{MaxRefreshAttempts: 3}, zerolog.Nop())
	m.Register(Record{
		ConnectionID: "c1",
		RefreshToken: "refresh-1",
		ExpiresAtMs:  time.Now().UnixMilli(),
	})

	for i := 0; i < 3; i++ {
		m.scan(context.Background())
	}

	if !sock.closed {
		t.Fatalf("expected session closed after max refresh attempts")
	}
	if sock.closeCode != 4002 {
		t.Fatalf("expected close code 4002 (token refresh failed), got %d", sock.closeCode)
	}
	if _, ok := p.Snapshot("c1"); ok {
		t.Fatalf("expected session removed from pool")
	}
}
