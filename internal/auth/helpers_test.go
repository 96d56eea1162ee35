// ABOUTME: Shared test fixtures for the auth package
// ABOUTME: Generates throwaway signing keys and PEM files

package auth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testKeyPair struct {
	private     *ecdsa.PrivateKey
	publicPEM   []byte
	privatePEM  []byte
	publicPath  string
	privatePath string
}

// newTestKeyPair creates an ES256 key pair and writes both halves as PEM files.
func newTestKeyPair(t *testing.T) *testKeyPair {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey() error = %v", err)
	}
	privDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("MarshalECPrivateKey() error = %v", err)
	}

	kp := &testKeyPair{
		private:    key,
		publicPEM:  pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}),
		privatePEM: pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: privDER}),
	}
	dir := t.TempDir()
	kp.publicPath = filepath.Join(dir, "public.pem")
	kp.privatePath = filepath.Join(dir, "private.pem")
	if err := os.WriteFile(kp.publicPath, kp.publicPEM, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(kp.privatePath, kp.privatePEM, 0o600); err != nil {
		t.Fatal(err)
	}
	return kp
}

// sign creates an ES256 token with the given claims.
func (kp *testKeyPair) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(kp.private)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return token
}

func (kp *testKeyPair) localVerifier(issuer string) *SignedVerifier {
	return NewLocalVerifier(issuer, jwt.SigningMethodES256, &kp.private.PublicKey)
}

func (kp *testKeyPair) issuer(issuer string) *TokenIssuer {
	return NewTokenIssuer(issuer, jwt.SigningMethodES256, kp.private, 15*time.Minute, 7*24*time.Hour)
}

func validClaims(issuer, username string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":      issuer,
		"username": username,
		"iat":      now.Unix(),
		"exp":      now.Add(time.Hour).Unix(),
	}
}
