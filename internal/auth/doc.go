// Package auth provides token verification, identity mapping and password login for warden-gateway.
//
// # Token Verification
//
// Every bearer token is routed by its unverified iss claim to the verifier
// registered for that issuer:
//
//	registry := NewRegistry(logger, metrics)
//	registry.Register("warden-dummy", NewLocalVerifier(iss, method, publicKey))
//	principal, err := registry.Verify(ctx, token)
//
// The selected verifier re-checks signature, algorithm and issuer. Tokens whose
// issuer has no verifier are rejected with ErrNotAuthorized, as is every other failure.
//
// Verifier variants:
//
//   - Local (dummy and LDAP logins): tokens signed by this gateway, username claim.
//   - External: third-party tokens verified with a configured public key; an
//     optional unique field claim becomes the username.
//   - Google: ID tokens verified against Google's published keys, requiring a
//     verified email and optionally a hosted domain. Results are cached.
//
// # Identity Mapping
//
// IdentityMapper turns a principal into the system account its backend runs as.
// Issuers without a user lookup table pass the subject through. With a table,
// only listed subjects resolve. Tables reload on file change and are swapped in whole.
//
// # Login
//
// Password logins go through an Authenticator (DummyAuthenticator or LDAPAuthenticator)
// and receive tokens from TokenIssuer: a short-lived access token and a refresh
// token carrying the refreshToken flag.
package auth
