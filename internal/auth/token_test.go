// ABOUTME: Unit tests for signed token verification and token issuing
// ABOUTME: Tests valid tokens, invalid tokens, expired tokens and the refresh flag

package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestLocalVerifier_ValidToken(t *testing.T) {
	kp := newTestKeyPair(t)
	verifier := kp.localVerifier("warden")

	p, err := verifier.Verify(context.Background(), kp.sign(t, validClaims("warden", "alice")))
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if p.Subject != "alice" {
		t.Errorf("Subject = %q, want %q", p.Subject, "alice")
	}
	if p.Issuer != "warden" {
		t.Errorf("Issuer = %q, want %q", p.Issuer, "warden")
	}
	if p.ExpiresAt.IsZero() {
		t.Error("ExpiresAt should be set from exp")
	}
	if p.Refresh {
		t.Error("Refresh should be false for an access token")
	}
}

func TestLocalVerifier_InvalidToken(t *testing.T) {
	kp := newTestKeyPair(t)
	other := newTestKeyPair(t)
	verifier := kp.localVerifier("warden")

	noExp := validClaims("warden", "alice")
	delete(noExp, "exp")
	noUser := validClaims("warden", "alice")
	delete(noUser, "username")

	tests := []struct {
		name  string
		token string
	}{
		{
			name:  "empty token",
			token: "",
		},
		{
			name:  "garbage token",
			token: "not-a-jwt-token",
		},
		{
			name:  "wrong key",
			token: other.sign(t, validClaims("warden", "alice")),
		},
		{
			name:  "wrong issuer",
			token: kp.sign(t, validClaims("someone-else", "alice")),
		},
		{
			name: "symmetric algorithm",
			token: func() string {
				token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims("warden", "alice")).
					SignedString([]byte("shared-secret"))
				return token
			}(),
		},
		{
			name:  "missing exp",
			token: kp.sign(t, noExp),
		},
		{
			name:  "missing username",
			token: kp.sign(t, noUser),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := verifier.Verify(context.Background(), tt.token); err == nil {
				t.Error("Verify() should have failed")
			}
		})
	}
}

func TestLocalVerifier_ExpiredToken(t *testing.T) {
	kp := newTestKeyPair(t)
	claims := validClaims("warden", "alice")
	claims["exp"] = time.Now().Add(-time.Minute).Unix()

	_, err := kp.localVerifier("warden").Verify(context.Background(), kp.sign(t, claims))
	if !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() error = %v, want ErrExpiredToken", err)
	}
}

func TestExternalVerifier_UniqueField(t *testing.T) {
	kp := newTestKeyPair(t)
	verifier := NewExternalVerifier([]string{"https://a.example.org", "https://b.example.org"},
		jwt.SigningMethodES256, &kp.private.PublicKey, "preferred_username")

	claims := validClaims("https://b.example.org", "ignored")
	claims["preferred_username"] = "bob"

	p, err := verifier.Verify(context.Background(), kp.sign(t, claims))
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if p.Subject != "bob" {
		t.Errorf("Subject = %q, want unique field value %q", p.Subject, "bob")
	}

	if _, err := verifier.Verify(context.Background(), kp.sign(t, validClaims("https://c.example.org", "bob"))); err == nil {
		t.Error("Verify() should reject an issuer outside the configured list")
	}
}

func TestExternalVerifier_OptionalExpiry(t *testing.T) {
	kp := newTestKeyPair(t)
	verifier := NewExternalVerifier([]string{"https://a.example.org"}, jwt.SigningMethodES256, &kp.private.PublicKey, "")

	noExp := validClaims("https://a.example.org", "bob")
	delete(noExp, "exp")
	p, err := verifier.Verify(context.Background(), kp.sign(t, noExp))
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !p.ExpiresAt.IsZero() {
		t.Errorf("ExpiresAt = %v, want zero without exp", p.ExpiresAt)
	}

	expired := validClaims("https://a.example.org", "bob")
	expired["exp"] = time.Now().Add(-time.Minute).Unix()
	if _, err := verifier.Verify(context.Background(), kp.sign(t, expired)); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() error = %v, want ErrExpiredToken", err)
	}
}

func TestTokenIssuer_RoundTrip(t *testing.T) {
	kp := newTestKeyPair(t)
	issuer := kp.issuer("warden")
	verifier := kp.localVerifier("warden")

	access, accessExp, err := issuer.IssueAccess("alice")
	if err != nil {
		t.Fatalf("IssueAccess() error = %v", err)
	}
	refresh, refreshExp, err := issuer.IssueRefresh("alice")
	if err != nil {
		t.Fatalf("IssueRefresh() error = %v", err)
	}
	if !refreshExp.After(accessExp) {
		t.Errorf("refresh expiry %v should be after access expiry %v", refreshExp, accessExp)
	}

	p, err := VerifyAccess(context.Background(), verifier, access)
	if err != nil {
		t.Fatalf("VerifyAccess(access) error = %v", err)
	}
	if p.Subject != "alice" {
		t.Errorf("Subject = %q, want %q", p.Subject, "alice")
	}

	rp, err := verifier.Verify(context.Background(), refresh)
	if err != nil {
		t.Fatalf("Verify(refresh) error = %v", err)
	}
	if !rp.Refresh {
		t.Error("refresh token should carry the refreshToken flag")
	}

	if _, err := VerifyAccess(context.Background(), verifier, refresh); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("VerifyAccess(refresh) error = %v, want ErrNotAuthorized", err)
	}
}
