// ABOUTME: HTTP middleware for bearer token authentication on API endpoints
// ABOUTME: Verifies the token, resolves the execution identity and adds it to context

package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// AccessTokenQueryParam is the query parameter accepted in place of an Authorization header.
const AccessTokenQueryParam = "access_token"

// ErrorWriter renders an error response. The gateway supplies its JSON envelope writer.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// RequestToken returns the bearer token of r, from the Authorization header or
// the access_token query parameter.
func RequestToken(r *http.Request) (string, error) {
	token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
	if errMsg == "" {
		return token, nil
	}
	if q := r.URL.Query().Get(AccessTokenQueryParam); q != "" {
		return q, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotAuthorized, errMsg)
}

// Authenticate verifies an access token and resolves the execution identity it maps to.
func Authenticate(ctx context.Context, verifier TokenVerifier, mapper *IdentityMapper, token string) (*AuthContext, error) {
	p, err := VerifyAccess(ctx, verifier, token)
	if err != nil {
		if !errors.Is(err, ErrNotAuthorized) {
			err = fmt.Errorf("%w: %w", ErrNotAuthorized, err)
		}
		return nil, err
	}
	username, ok := mapper.Resolve(p.Subject, p.Issuer)
	if !ok {
		return nil, fmt.Errorf("%w: no user mapping for %q", ErrNotAuthorized, p.Subject)
	}
	return &AuthContext{Username: username, Principal: p}, nil
}

// RequireUser creates an HTTP middleware that rejects requests without a valid access token.
// Failures are rendered by writeErr with an ErrNotAuthorized error.
func RequireUser(verifier TokenVerifier, mapper *IdentityMapper, writeErr ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := RequestToken(r)
			if err != nil {
				writeErr(w, r, err)
				return
			}

			authCtx, err := Authenticate(r.Context(), verifier, mapper, token)
			if err != nil {
				writeErr(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}
