// ABOUTME: Tests for dummy and LDAP password authenticators
// ABOUTME: LDAP is exercised through a scripted fake connection

package auth

import (
	"context"
	"crypto/tls"
	"errors"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func knownAccounts(names ...string) AccountLookup {
	return func(username string) error {
		for _, n := range names {
			if n == username {
				return nil
			}
		}
		return ErrUnknownAccount
	}
}

func TestDummyAuthenticator(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hashed-secret"), bcrypt.MinCost)
	require.NoError(t, err)

	plain := NewDummyAuthenticator("secret", "", knownAccounts("alice"))
	hashed := NewDummyAuthenticator("", string(hash), knownAccounts("alice"))

	tests := []struct {
		name     string
		auth     *DummyAuthenticator
		username string
		password string
		wantErr  error
	}{
		{"plain ok", plain, "alice", "secret", nil},
		{"plain wrong password", plain, "alice", "nope", ErrInvalidCredentials},
		{"plain unknown account", plain, "mallory", "secret", ErrUnknownAccount},
		{"hash ok", hashed, "alice", "hashed-secret", nil},
		{"hash wrong password", hashed, "alice", "secret", ErrInvalidCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.auth.Authenticate(context.Background(), tt.username, tt.password)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

type fakeLDAPConn struct {
	binds    map[string]string // dn -> password
	entries  []*ldap.Entry
	searches []*ldap.SearchRequest
	tls      bool
	closed   bool
}

func (f *fakeLDAPConn) StartTLS(*tls.Config) error {
	f.tls = true
	return nil
}

func (f *fakeLDAPConn) Bind(dn, password string) error {
	if pw, ok := f.binds[dn]; ok && pw == password {
		return nil
	}
	return ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("invalid credentials"))
}

func (f *fakeLDAPConn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	f.searches = append(f.searches, req)
	return &ldap.SearchResult{Entries: f.entries}, nil
}

func (f *fakeLDAPConn) Close() error {
	f.closed = true
	return nil
}

func newFakeLDAP(conn *fakeLDAPConn, opts LDAPOptions) *LDAPAuthenticator {
	a := NewLDAPAuthenticator(opts, knownAccounts("alice"))
	a.dial = func(string) (ldapConn, error) { return conn, nil }
	return a
}

func TestLDAPAuthenticator_Success(t *testing.T) {
	conn := &fakeLDAPConn{
		binds: map[string]string{
			"cn=service,dc=example,dc=org":   "service-pw",
			"uid=alice,ou=people,dc=example": "alice-pw",
		},
		entries: []*ldap.Entry{ldap.NewEntry("uid=alice,ou=people,dc=example", map[string][]string{"uid": {"alice"}})},
	}
	a := newFakeLDAP(conn, LDAPOptions{
		URL:             "ldap://ldap.example.org",
		SearchBase:      "ou=people,dc=example",
		SearchFilter:    "(uid={{username}})",
		BindDN:          "cn=service,dc=example,dc=org",
		BindCredentials: "service-pw",
		StartTLS:        true,
	})

	require.NoError(t, a.Authenticate(context.Background(), "alice", "alice-pw"))
	assert.True(t, conn.tls)
	assert.True(t, conn.closed)
	require.Len(t, conn.searches, 1)
	assert.Equal(t, "(uid=alice)", conn.searches[0].Filter)
}

func TestLDAPAuthenticator_Failures(t *testing.T) {
	entry := ldap.NewEntry("uid=alice,ou=people,dc=example", map[string][]string{"uid": {"alice"}})
	opts := LDAPOptions{SearchBase: "ou=people,dc=example", SearchFilter: "(uid={{username}})"}

	tests := []struct {
		name     string
		conn     *fakeLDAPConn
		username string
		password string
	}{
		{
			name:     "wrong password",
			conn:     &fakeLDAPConn{binds: map[string]string{entry.DN: "alice-pw"}, entries: []*ldap.Entry{entry}},
			username: "alice",
			password: "wrong",
		},
		{
			name:     "no entry",
			conn:     &fakeLDAPConn{binds: map[string]string{entry.DN: "alice-pw"}},
			username: "alice",
			password: "alice-pw",
		},
		{
			name:     "uid mismatch",
			conn:     &fakeLDAPConn{binds: map[string]string{entry.DN: "alice-pw"}, entries: []*ldap.Entry{entry}},
			username: "alice*",
			password: "alice-pw",
		},
		{
			name:     "empty password",
			conn:     &fakeLDAPConn{binds: map[string]string{entry.DN: ""}, entries: []*ldap.Entry{entry}},
			username: "alice",
			password: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := newFakeLDAP(tt.conn, opts).Authenticate(context.Background(), tt.username, tt.password)
			assert.ErrorIs(t, err, ErrInvalidCredentials)
		})
	}
}

func TestLDAPAuthenticator_FilterEscaping(t *testing.T) {
	conn := &fakeLDAPConn{}
	a := newFakeLDAP(conn, LDAPOptions{SearchFilter: "(uid={{username}})"})

	_ = a.Authenticate(context.Background(), "a*)(uid=*", "pw")
	require.Len(t, conn.searches, 1)
	assert.Equal(t, `(uid=a\2a\29\28uid=\2a)`, conn.searches[0].Filter)
}

func TestLDAPAuthenticator_ServiceBindFailure(t *testing.T) {
	conn := &fakeLDAPConn{}
	a := newFakeLDAP(conn, LDAPOptions{BindDN: "cn=service", BindCredentials: "bad"})

	err := a.Authenticate(context.Background(), "alice", "pw")
	assert.ErrorIs(t, err, ErrUpstreamVerification)
}
