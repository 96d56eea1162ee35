// ABOUTME: JWT verification against a known public key and local token issuing
// ABOUTME: Covers locally signed, LDAP-signed and externally signed issuers

package auth

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claim names used by locally issued tokens.
const (
	ClaimUsername     = "username"
	ClaimRefreshToken = "refreshToken"
)

// SignedVerifier verifies tokens signed with a fixed public key.
// The issuer claim must be one of the configured issuers.
type SignedVerifier struct {
	issuers     []string
	key         crypto.PublicKey
	parser      *jwt.Parser
	uniqueField string
}

// NewLocalVerifier verifies tokens issued by this gateway (dummy or LDAP login).
// Local tokens always carry exp.
func NewLocalVerifier(issuer string, method jwt.SigningMethod, key crypto.PublicKey) *SignedVerifier {
	return newSignedVerifier([]string{issuer}, method, key, "", jwt.WithExpirationRequired())
}

// NewExternalVerifier verifies tokens from a third-party issuer. When uniqueField is set,
// that claim becomes the principal's subject. An exp claim is checked when present.
func NewExternalVerifier(issuers []string, method jwt.SigningMethod, key crypto.PublicKey, uniqueField string) *SignedVerifier {
	return newSignedVerifier(issuers, method, key, uniqueField)
}

func newSignedVerifier(issuers []string, method jwt.SigningMethod, key crypto.PublicKey, uniqueField string, opts ...jwt.ParserOption) *SignedVerifier {
	opts = append([]jwt.ParserOption{jwt.WithValidMethods([]string{method.Alg()})}, opts...)
	return &SignedVerifier{
		issuers:     slices.Clone(issuers),
		key:         key,
		uniqueField: uniqueField,
		parser:      jwt.NewParser(opts...),
	}
}

// Verify checks signature, algorithm, expiry and issuer membership.
func (v *SignedVerifier) Verify(_ context.Context, tokenString string) (*Principal, error) {
	claims := jwt.MapClaims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	iss, _ := stringClaim(claims, "iss")
	if !slices.Contains(v.issuers, iss) {
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidToken, iss)
	}

	subject, ok := stringClaim(claims, v.uniqueField)
	if !ok {
		subject, ok = stringClaim(claims, ClaimUsername)
	}
	if !ok {
		subject, ok = stringClaim(claims, "sub")
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingClaim, ClaimUsername)
	}

	p := &Principal{
		Subject: subject,
		Issuer:  iss,
		Claims:  claims,
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		p.ExpiresAt = exp.Time
	}
	if refresh, ok := claims[ClaimRefreshToken].(bool); ok {
		p.Refresh = refresh
	}
	return p, nil
}

// VerifyAccess verifies token with v and rejects refresh tokens presented as access tokens.
func VerifyAccess(ctx context.Context, v TokenVerifier, token string) (*Principal, error) {
	p, err := v.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	if p.Refresh {
		return nil, fmt.Errorf("%w: refresh token used as access token", ErrNotAuthorized)
	}
	return p, nil
}

// TokenIssuer signs access and refresh tokens for password logins.
type TokenIssuer struct {
	issuer     string
	method     jwt.SigningMethod
	key        crypto.PrivateKey
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenIssuer creates an issuer that signs with key under the given issuer name.
func NewTokenIssuer(issuer string, method jwt.SigningMethod, key crypto.PrivateKey, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		issuer:     issuer,
		method:     method,
		key:        key,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// Issuer returns the iss claim stamped on issued tokens.
func (i *TokenIssuer) Issuer() string { return i.issuer }

// AccessTTL returns the access token lifetime.
func (i *TokenIssuer) AccessTTL() time.Duration { return i.accessTTL }

// RefreshTTL returns the refresh token lifetime.
func (i *TokenIssuer) RefreshTTL() time.Duration { return i.refreshTTL }

// IssueAccess signs a short-lived access token for username.
func (i *TokenIssuer) IssueAccess(username string) (string, time.Time, error) {
	return i.sign(username, i.accessTTL, false)
}

// IssueRefresh signs a refresh token for username carrying the refreshToken flag.
func (i *TokenIssuer) IssueRefresh(username string) (string, time.Time, error) {
	return i.sign(username, i.refreshTTL, true)
}

func (i *TokenIssuer) sign(username string, ttl time.Duration, refresh bool) (string, time.Time, error) {
	now := i.now()
	expires := now.Add(ttl)
	claims := jwt.MapClaims{
		"iss":         i.issuer,
		ClaimUsername: username,
		"iat":         now.Unix(),
		"exp":         expires.Unix(),
	}
	if refresh {
		claims[ClaimRefreshToken] = true
	}

	signed, err := jwt.NewWithClaims(i.method, claims).SignedString(i.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, expires, nil
}
