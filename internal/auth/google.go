// ABOUTME: Google ID token verification through the zitadel OIDC relying-party verifier
// ABOUTME: Enforces audience, verified email and an optional hosted domain

package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	"github.com/zitadel/oidc/v3/pkg/client/rp"
	"github.com/zitadel/oidc/v3/pkg/oidc"
)

// Google endpoints
const (
	GoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"
)

// GoogleIssuers are the iss values Google stamps on ID tokens.
var GoogleIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

// GoogleOptions configures a GoogleVerifier.
type GoogleOptions struct {
	ClientID     string
	ValidDomain  string
	UseEmailAsID bool
	Issuers      []string     // defaults to GoogleIssuers
	JWKSURL      string       // defaults to GoogleJWKSURL
	HTTPClient   *http.Client // defaults to http.DefaultClient
}

// GoogleVerifier verifies Google-issued ID tokens. It holds one relying-party verifier
// per accepted issuer alias, all sharing a single remote key set.
type GoogleVerifier struct {
	opts      GoogleOptions
	verifiers map[string]*rp.IDTokenVerifier
}

type nonceKey struct{}

// NewGoogleVerifier creates a verifier for opts.ClientID.
func NewGoogleVerifier(opts GoogleOptions) *GoogleVerifier {
	if len(opts.Issuers) == 0 {
		opts.Issuers = GoogleIssuers
	}
	if opts.JWKSURL == "" {
		opts.JWKSURL = GoogleJWKSURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	keySet := rp.NewRemoteKeySet(opts.HTTPClient, opts.JWKSURL)
	// Nonces belong to the browser sign-in flow; whatever the token carries is accepted.
	nonce := rp.WithNonce(func(ctx context.Context) string {
		n, _ := ctx.Value(nonceKey{}).(string)
		return n
	})

	verifiers := make(map[string]*rp.IDTokenVerifier, len(opts.Issuers))
	for _, iss := range opts.Issuers {
		verifiers[iss] = rp.NewIDTokenVerifier(iss, opts.ClientID, keySet, nonce)
	}
	return &GoogleVerifier{opts: opts, verifiers: verifiers}
}

// Issuers returns the issuer aliases this verifier accepts.
func (g *GoogleVerifier) Issuers() []string { return g.opts.Issuers }

// Verify delegates signature and audience checks to the provider's keys, then applies
// the email verification and domain policy.
func (g *GoogleVerifier) Verify(ctx context.Context, token string) (*Principal, error) {
	unverified := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, unverified); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	iss, _ := stringClaim(unverified, "iss")
	v, ok := g.verifiers[iss]
	if !ok {
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidToken, iss)
	}
	if n, ok := stringClaim(unverified, "nonce"); ok {
		ctx = context.WithValue(ctx, nonceKey{}, n)
	}

	claims, err := rp.VerifyIDToken[*oidc.IDTokenClaims](ctx, token, v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamVerification, err)
	}

	if claims.Subject == "" || !bool(claims.EmailVerified) {
		return nil, fmt.Errorf("%w: missing unique id or unverified email", ErrInvalidToken)
	}
	if g.opts.ValidDomain != "" {
		hd, _ := stringClaim(claims.Claims, "hd")
		if hd != g.opts.ValidDomain {
			return nil, fmt.Errorf("%w: incorrect domain %q", ErrInvalidToken, hd)
		}
	}

	subject := claims.Subject
	if g.opts.UseEmailAsID {
		if claims.Email == "" {
			return nil, fmt.Errorf("%w: email", ErrMissingClaim)
		}
		subject = claims.Email
	}

	return &Principal{
		Subject:   subject,
		Issuer:    claims.Issuer,
		Claims:    claims.Claims,
		ExpiresAt: claims.GetExpiration(),
	}, nil
}
