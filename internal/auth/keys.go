// ABOUTME: PEM key loading for asymmetric JWT signing and verification
// ABOUTME: Picks RSA, ECDSA or Ed25519 parsing from the configured algorithm name

package auth

import (
	"crypto"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type keyFamily int

const (
	familyRSA keyFamily = iota
	familyECDSA
	familyEd25519
)

// signingMethod resolves alg to a jwt signing method and its key family.
// Symmetric HS* algorithms are rejected: every issuer here publishes a public key.
func signingMethod(alg string) (jwt.SigningMethod, keyFamily, error) {
	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return nil, 0, fmt.Errorf("unsupported key algorithm %q", alg)
	}
	switch {
	case strings.HasPrefix(alg, "RS"), strings.HasPrefix(alg, "PS"):
		return method, familyRSA, nil
	case strings.HasPrefix(alg, "ES"):
		return method, familyECDSA, nil
	case alg == "EdDSA":
		return method, familyEd25519, nil
	default:
		return nil, 0, fmt.Errorf("key algorithm %q is not asymmetric", alg)
	}
}

// ParsePublicKey decodes a PEM public key (or certificate) for alg.
func ParsePublicKey(data []byte, alg string) (jwt.SigningMethod, crypto.PublicKey, error) {
	method, family, err := signingMethod(alg)
	if err != nil {
		return nil, nil, err
	}

	var key crypto.PublicKey
	switch family {
	case familyRSA:
		key, err = jwt.ParseRSAPublicKeyFromPEM(data)
	case familyECDSA:
		key, err = jwt.ParseECPublicKeyFromPEM(data)
	case familyEd25519:
		key, err = jwt.ParseEdPublicKeyFromPEM(data)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("parsing %s public key: %w", alg, err)
	}
	return method, key, nil
}

// ParsePrivateKey decodes a PEM private key for alg.
func ParsePrivateKey(data []byte, alg string) (jwt.SigningMethod, crypto.PrivateKey, error) {
	method, family, err := signingMethod(alg)
	if err != nil {
		return nil, nil, err
	}

	var key crypto.PrivateKey
	switch family {
	case familyRSA:
		key, err = jwt.ParseRSAPrivateKeyFromPEM(data)
	case familyECDSA:
		key, err = jwt.ParseECPrivateKeyFromPEM(data)
	case familyEd25519:
		key, err = jwt.ParseEdPrivateKeyFromPEM(data)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("parsing %s private key: %w", alg, err)
	}
	return method, key, nil
}

// LoadPublicKey reads and parses a PEM public key file.
func LoadPublicKey(path, alg string) (jwt.SigningMethod, crypto.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading public key: %w", err)
	}
	return ParsePublicKey(data, alg)
}

// LoadPrivateKey reads and parses a PEM private key file.
func LoadPrivateKey(path, alg string) (jwt.SigningMethod, crypto.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading private key: %w", err)
	}
	return ParsePrivateKey(data, alg)
}
