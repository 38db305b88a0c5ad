package wire

import "testing"

func TestNewEnvelopeRoundTripsThroughSerialize(t *testing.T) {
	env, err := NewEnvelope(Ping, PingPayload{Timestamp: 123})
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	if env.ID == "" {
		t.Fatalf("expected a generated id")
	}
	if env.Timestamp == 0 {
		t.Fatalf("expected a non-zero timestamp")
	}

	if _, err := env.Serialize(); err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	var payload PingPayload
	if err := env.Decode(&payload); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if payload.Timestamp != 123 {
		t.Fatalf("expected timestamp 123, got %d", payload.Timestamp)
	}
}

func TestValidateRejectsMissingFields(t *testing.T) {
	cases := []struct {
		name string
		env  Envelope
	}{
		{"empty type", Envelope{ID: "x", Timestamp: 1}},
		{"empty id", Envelope{Type: Ping, Timestamp: 1}},
		{"zero timestamp", Envelope{Type: Ping, ID: "x"}},
		{"non-object payload", Envelope{Type: Ping, ID: "x", Timestamp: 1, Payload: []byte("42")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.env.Validate(); err == nil {
				t.Fatalf("expected validation error for %s", tc.name)
			}
		})
	}
}

func TestValidateAcceptsWellFormedEnvelope(t *testing.T) {
	env, err := NewEnvelope(Pong, PongPayload{Timestamp: 1, LatencyMs: 2})
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	if err := env.Validate(); err != nil {
		t.Fatalf("expected valid envelope, got %v", err)
	}
}

func TestCanonicalTypeResolvesCommandCompleteAlias(t *testing.T) {
	if got := CanonicalType(CommandComplete); got != CommandResult {
		t.Fatalf("expected COMMAND_COMPLETE to canonicalize to COMMAND_RESULT, got %s", got)
	}
	if got := CanonicalType(CommandResult); got != CommandResult {
		t.Fatalf("expected COMMAND_RESULT to remain unchanged, got %s", got)
	}
}

func TestIsHeartbeatOnlyMatchesPingPong(t *testing.T) {
	if !IsHeartbeat(Ping) || !IsHeartbeat(Pong) {
		t.Fatalf("expected PING/PONG to be heartbeat types")
	}
	if IsHeartbeat(CommandRequest) {
		t.Fatalf("did not expect COMMAND_REQUEST to be a heartbeat type")
	}
}
