package authn

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"
)

func TestJWTValidatorGenerateAndValidateRoundTrip(t *testing.T) {
	v := NewJWTValidator("test-secret", time.Hour)

	token, err := v.Generate("user-1", "agent-1")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	identity, err := v.Validate(context.Background(), token)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if identity.UserID != "user-1" || identity.AgentID != "agent-1" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
	if identity.ExpiresAtMs == 0 {
		t.Fatalf("expected a non-zero expiry")
	}
}

func TestJWTValidatorRejectsTokenFromDifferentSecret(t *testing.T) {
	issuer := NewJWTValidator("secret-a", time.Hour)
	verifier := NewJWTValidator("secret-b", time.Hour)

	token, err := issuer.Generate("user-1", "")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if _, err := verifier.Validate(context.Background(), token); err == nil {
		t.Fatalf("expected validation to fail against a different secret")
	}
}

func TestJWTValidatorRefreshIssuesNewToken(t *testing.T) {
	v := NewJWTValidator("test-secret", time.Hour)
	refreshToken, err := v.Generate("user-1", "agent-1")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	newToken, newRefresh, expiresAtMs, err := v.Refresh(context.Background(), refreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if newToken == "" || newRefresh != refreshToken || expiresAtMs == 0 {
		t.Fatalf("unexpected refresh result: token=%q refresh=%q expiresAtMs=%d", newToken, newRefresh, expiresAtMs)
	}

	identity, err := v.Validate(context.Background(), newToken)
	if err != nil {
		t.Fatalf("Validate on refreshed token failed: %v", err)
	}
	if identity.UserID != "user-1" || identity.AgentID != "agent-1" {
		t.Fatalf("unexpected identity after refresh: %+v", identity)
	}
}

func TestExtractBearerPrefersAuthorizationHeader(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "/ws/agent?token=from-query", nil)
	req.Header.Set("Authorization", "Bearer from-header")

	token, err := ExtractBearer(req)
	if err != nil {
		t.Fatalf("ExtractBearer failed: %v", err)
	}
	if token != "from-header" {
		t.Fatalf("expected header token to win, got %q", token)
	}
}

func TestExtractBearerFallsBackToQueryParam(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "/ws/agent?token=from-query", nil)

	token, err := ExtractBearer(req)
	if err != nil {
		t.Fatalf("ExtractBearer failed: %v", err)
	}
	if token != "from-query" {
		t.Fatalf("expected query token, got %q", token)
	}
}

func TestExtractBearerRejectsMalformedHeader(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "/ws/agent", nil)
	req.Header.Set("Authorization", "Basic "+url.QueryEscape("not-bearer"))

	if _, err := ExtractBearer(req); err == nil {
		t.Fatalf("expected malformed Authorization header to be rejected")
	}
}
