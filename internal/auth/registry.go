// ABOUTME: Issuer-keyed registry of token verifiers
// ABOUTME: Peeks the unverified iss claim and dispatches to the verifier registered for it

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// Registry maps issuer strings to verifiers. Verifiers are registered at startup;
// one verifier may be bound under several issuer aliases.
type Registry struct {
	mu        sync.RWMutex
	verifiers map[string]TokenVerifier
	logger    *slog.Logger
	metrics   *Metrics
}

// NewRegistry creates an empty registry. metrics may be nil.
func NewRegistry(logger *slog.Logger, metrics *Metrics) *Registry {
	return &Registry{
		verifiers: make(map[string]TokenVerifier),
		logger:    logger,
		metrics:   metrics,
	}
}

// Register binds a verifier to an issuer, replacing any previous binding.
func (r *Registry) Register(issuer string, v TokenVerifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verifiers[issuer] = v
}

// Len returns the number of registered issuers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.verifiers)
}

// Issuers returns the registered issuer strings in sorted order.
func (r *Registry) Issuers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.verifiers))
	for iss := range r.verifiers {
		out = append(out, iss)
	}
	sort.Strings(out)
	return out
}

// Verify dispatches the token to the verifier registered for its issuer.
// Every failure is reported as ErrNotAuthorized, wrapping the underlying cause.
func (r *Registry) Verify(ctx context.Context, token string) (*Principal, error) {
	issuer, err := PeekIssuer(token)
	if err != nil {
		r.metrics.observeVerification(resultRejected)
		return nil, fmt.Errorf("%w: %w", ErrNotAuthorized, err)
	}

	r.mu.RLock()
	v, ok := r.verifiers[issuer]
	r.mu.RUnlock()
	if !ok {
		r.metrics.observeVerification(resultUnknownIssuer)
		return nil, fmt.Errorf("%w: no verifier for issuer %q", ErrNotAuthorized, issuer)
	}

	p, err := v.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, ErrUpstreamVerification) {
			r.logger.Warn("identity provider rejected token", "issuer", issuer, "error", err)
			r.metrics.observeVerification(resultUpstreamError)
		} else {
			r.metrics.observeVerification(resultRejected)
		}
		return nil, fmt.Errorf("%w: %w", ErrNotAuthorized, err)
	}
	if p == nil || p.Subject == "" {
		r.metrics.observeVerification(resultRejected)
		return nil, fmt.Errorf("%w: %w: username", ErrNotAuthorized, ErrMissingClaim)
	}

	r.metrics.observeVerification(resultAccepted)
	return p, nil
}

// PeekIssuer decodes the token without verifying its signature and returns the iss claim.
func PeekIssuer(token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	iss, ok := stringClaim(claims, "iss")
	if !ok {
		return "", fmt.Errorf("%w: iss", ErrMissingClaim)
	}
	return iss, nil
}
