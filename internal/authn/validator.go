// Package authn defines the broker's boundary with the external
// authentication provider and ships a
// JWT-backed default implementation suitable for local/dev use.
package authn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized is returned by Validate/Refresh when a credential is
// missing, malformed, or rejected by the provider.
var ErrUnauthorized = errors.New("authn: unauthorized")

// Identity is the result of a successful token verification.
type Identity struct {
	UserID      string
	AgentID     string // set only when the caller authenticated as an agent
	ExpiresAtMs int64
}

// TokenValidator is the external collaborator contract: it verifies bearer
// tokens and refreshes them. The broker never stores credentials beyond the
// current TokenRecord; it only calls through this interface.
type TokenValidator interface {
	// Validate verifies token and returns the identity it grants.
	Validate(ctx context.Context, token string) (Identity, error)
	// Refresh exchanges a refresh token for a new (token, refreshToken, expiresAtMs).
	Refresh(ctx context.Context, refreshToken string) (token string, newRefreshToken string, expiresAtMs int64, err error)
}

// ExtractBearer pulls a bearer token from the Authorization header, falling
// back to the "token" query parameter — the two placements
// allows for both /ws/agent and /ws/dashboard.
func ExtractBearer(r *http.Request) (string, error) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		const prefix = "Bearer "
		if strings.HasPrefix(auth, prefix) {
			return strings.TrimPrefix(auth, prefix), nil
		}
		return "", fmt.Errorf("authn: malformed Authorization header")
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", fmt.Errorf("authn: no bearer token in header or query")
}

// JWTValidator is the default TokenValidator: HMAC-signed JWTs verified
// against a shared secret. Production deployments inject a different
// TokenValidator (e.g. backed by an OIDC provider) behind the same interface.
type JWTValidator struct {
	secret        []byte
	tokenDuration time.Duration
}

// Claims is the JWT claim set issued and verified by JWTValidator.
type Claims struct {
	UserID  string `json:"userId"`
	AgentID string `json:"agentId,omitempty"`
	jwt.RegisteredClaims
}

// NewJWTValidator builds a validator keyed by secret, issuing tokens valid
// for tokenDuration.
func NewJWTValidator(secret string, tokenDuration time.Duration) *JWTValidator {
	if tokenDuration <= 0 {
		tokenDuration = time.Hour
	}
	return &JWTValidator{secret: []byte(secret), tokenDuration: tokenDuration}
}

// Generate issues a signed token for userID (and optionally agentID) —
// used by tests and local tooling, not by the broker's own request path.
func (v *JWTValidator) Generate(userID, agentID string) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:  userID,
		AgentID: agentID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.tokenDuration)),
			Issuer:    "agent-broker",
			Subject:   userID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// Validate implements TokenValidator.
func (v *JWTValidator) Validate(_ context.Context, token string) (Identity, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("authn: unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Identity{}, ErrUnauthorized
	}
	var expMs int64
	if claims.ExpiresAt != nil {
		expMs = claims.ExpiresAt.UnixMilli()
	}
	return Identity{UserID: claims.UserID, AgentID: claims.AgentID, ExpiresAtMs: expMs}, nil
}

// Refresh re-signs a fresh token for the subject carried in refreshToken,
// treating the refresh token itself as a long-lived JWT (dev-only scheme;
// production TokenValidator implementations normally hold an opaque
// refresh token against a persistent store instead).
func (v *JWTValidator) Refresh(ctx context.Context, refreshToken string) (string, string, int64, error) {
	identity, err := v.Validate(ctx, refreshToken)
	if err != nil {
		return "", "", 0, err
	}
	newToken, err := v.Generate(identity.UserID, identity.AgentID)
	if err != nil {
		return "", "", 0, err
	}
	return newToken, refreshToken, time.Now().Add(v.tokenDuration).UnixMilli(), nil
}
