// ABOUTME: Tests for issuer-keyed verifier dispatch
// ABOUTME: Covers unknown issuers, aliases, and error collapsing to ErrNotAuthorized

package auth

import (
	"context"
	"fmt"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_DispatchesByIssuer(t *testing.T) {
	kp := newTestKeyPair(t)
	reg := NewRegistry(testLogger(), nil)
	reg.Register("warden", kp.localVerifier("warden"))

	p, err := reg.Verify(context.Background(), kp.sign(t, validClaims("warden", "alice")))
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Subject)
	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, []string{"warden"}, reg.Issuers())
}

func TestRegistry_UnknownIssuerNotAuthorized(t *testing.T) {
	kp := newTestKeyPair(t)
	reg := NewRegistry(testLogger(), nil)
	reg.Register("warden", kp.localVerifier("warden"))

	// A perfectly signed token from an unregistered issuer is never accepted.
	_, err := reg.Verify(context.Background(), kp.sign(t, validClaims("unknown", "alice")))
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestRegistry_Failures(t *testing.T) {
	kp := newTestKeyPair(t)
	reg := NewRegistry(testLogger(), nil)
	reg.Register("warden", kp.localVerifier("warden"))

	noIss := validClaims("warden", "alice")
	delete(noIss, "iss")

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"not a jwt", "abc.def"},
		{"missing issuer", kp.sign(t, noIss)},
		{"bad signature", newTestKeyPair(t).sign(t, validClaims("warden", "alice"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Verify(context.Background(), tt.token)
			assert.ErrorIs(t, err, ErrNotAuthorized)
		})
	}
}

func TestRegistry_AliasesShareVerifier(t *testing.T) {
	calls := 0
	v := TokenVerifierFunc(func(_ context.Context, token string) (*Principal, error) {
		calls++
		iss, err := PeekIssuer(token)
		if err != nil {
			return nil, err
		}
		return &Principal{Subject: "alice", Issuer: iss}, nil
	})

	reg := NewRegistry(testLogger(), nil)
	for _, iss := range GoogleIssuers {
		reg.Register(iss, v)
	}

	for _, iss := range GoogleIssuers {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"iss": iss}).SignedString([]byte("x"))
		require.NoError(t, err)
		p, err := reg.Verify(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, iss, p.Issuer)
	}
	assert.Equal(t, 2, calls)
}

func TestRegistry_UpstreamFailureCollapses(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	reg := NewRegistry(testLogger(), metrics)
	reg.Register("idp2", TokenVerifierFunc(func(context.Context, string) (*Principal, error) {
		return nil, fmt.Errorf("%w: connection refused", ErrUpstreamVerification)
	}))

	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"iss": "idp2"}).SignedString([]byte("x"))
	_, err := reg.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrNotAuthorized)
	assert.ErrorIs(t, err, ErrUpstreamVerification)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.verifications.WithLabelValues(resultUpstreamError)))
}

func TestRegistry_EmptySubjectRejected(t *testing.T) {
	reg := NewRegistry(testLogger(), nil)
	reg.Register("idp", TokenVerifierFunc(func(context.Context, string) (*Principal, error) {
		return &Principal{Issuer: "idp"}, nil
	}))
	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"iss": "idp"}).SignedString([]byte("x"))

	_, err := reg.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrNotAuthorized)
}
