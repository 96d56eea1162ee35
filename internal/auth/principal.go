// ABOUTME: Principal type and the verifier contract shared by every identity provider
// ABOUTME: Defines the auth error taxonomy surfaced to HTTP handlers and the proxy

package auth

import (
	"context"
	"errors"
	"time"
)

// Auth errors
var (
	// ErrNotAuthorized covers bad credentials and invalid, missing or expired tokens.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrNotConfigured is returned when the requested provider or feature is disabled.
	ErrNotConfigured = errors.New("not configured")
	// ErrUpstreamVerification means the identity provider was unreachable or rejected the token.
	ErrUpstreamVerification = errors.New("upstream verification failed")
	// ErrInvalidToken is returned by verifiers for malformed or badly signed tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned by verifiers for tokens past their expiry.
	ErrExpiredToken = errors.New("token expired")
	// ErrMissingClaim is returned when a required claim is absent.
	ErrMissingClaim = errors.New("missing required claim")
	// ErrInvalidCredentials is returned by authenticators for a failed login.
	ErrInvalidCredentials = errors.New("invalid username/password combo")
	// ErrUnknownAccount is returned when the user has no system account.
	ErrUnknownAccount = errors.New("user does not exist")
)

// Principal is the identity a verifier derives from a token. It is never persisted.
type Principal struct {
	Subject   string         // username as seen by the identity provider
	Issuer    string         // the token's iss claim
	Claims    map[string]any // raw claims, for diagnostics
	ExpiresAt time.Time
	Refresh   bool // token carries the refreshToken purpose flag
}

// TokenVerifier validates a token string and returns the principal it names.
// Implementations re-check signature, algorithm and issuer on their own.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Principal, error)
}

// TokenVerifierFunc adapts a function to TokenVerifier.
type TokenVerifierFunc func(ctx context.Context, token string) (*Principal, error)

// Verify calls f(ctx, token).
func (f TokenVerifierFunc) Verify(ctx context.Context, token string) (*Principal, error) {
	return f(ctx, token)
}

// stringClaim returns claims[name] when it is a non-empty string.
func stringClaim(claims map[string]any, name string) (string, bool) {
	if name == "" {
		return "", false
	}
	s, ok := claims[name].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
