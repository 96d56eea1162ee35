// ABOUTME: Password authenticators backing the login endpoint
// ABOUTME: Dummy shared-password login and LDAP bind login, both requiring a system account

package auth

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os/user"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"golang.org/x/crypto/bcrypt"
)

// Authenticator checks a username and password pair.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) error
}

// AccountLookup reports whether username exists as a system account.
type AccountLookup func(username string) error

// SystemAccountLookup checks the local user database.
func SystemAccountLookup(username string) error {
	if _, err := user.Lookup(username); err != nil {
		var unknown user.UnknownUserError
		if errors.As(err, &unknown) {
			return ErrUnknownAccount
		}
		return fmt.Errorf("%w: %v", ErrUnknownAccount, err)
	}
	return nil
}

// DummyAuthenticator accepts any existing system account with a shared password.
type DummyAuthenticator struct {
	password     string
	passwordHash []byte
	lookup       AccountLookup
}

// NewDummyAuthenticator creates a dummy authenticator. passwordHash (bcrypt) wins over password.
func NewDummyAuthenticator(password, passwordHash string, lookup AccountLookup) *DummyAuthenticator {
	if lookup == nil {
		lookup = SystemAccountLookup
	}
	d := &DummyAuthenticator{password: password, lookup: lookup}
	if passwordHash != "" {
		d.passwordHash = []byte(passwordHash)
	}
	return d
}

// Authenticate checks the shared password, then the system account.
func (d *DummyAuthenticator) Authenticate(_ context.Context, username, password string) error {
	if d.passwordHash != nil {
		if err := bcrypt.CompareHashAndPassword(d.passwordHash, []byte(password)); err != nil {
			return ErrInvalidCredentials
		}
	} else if subtle.ConstantTimeCompare([]byte(d.password), []byte(password)) != 1 {
		return ErrInvalidCredentials
	}
	return d.lookup(username)
}

// ldapConn is the subset of *ldap.Conn used for login.
type ldapConn interface {
	StartTLS(config *tls.Config) error
	Bind(username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Close() error
}

// LDAPOptions configures an LDAPAuthenticator.
type LDAPOptions struct {
	URL             string
	SearchBase      string
	SearchFilter    string // {{username}} is replaced by the escaped username
	BindDN          string
	BindCredentials string
	StartTLS        bool
}

// LDAPAuthenticator logs users in with a search followed by a bind as the found entry.
type LDAPAuthenticator struct {
	opts   LDAPOptions
	dial   func(rawURL string) (ldapConn, error)
	lookup AccountLookup
}

// NewLDAPAuthenticator creates an authenticator that dials opts.URL per login.
func NewLDAPAuthenticator(opts LDAPOptions, lookup AccountLookup) *LDAPAuthenticator {
	if lookup == nil {
		lookup = SystemAccountLookup
	}
	return &LDAPAuthenticator{opts: opts, dial: dialLDAP, lookup: lookup}
}

func dialLDAP(rawURL string) (ldapConn, error) {
	dialer := &net.Dialer{Timeout: 8 * time.Second}
	conn, err := ldap.DialURL(rawURL, ldap.DialWithDialer(dialer))
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Authenticate binds as the service account, finds the user's entry, then binds as the user.
// The entry's uid must equal username.
func (l *LDAPAuthenticator) Authenticate(_ context.Context, username, password string) error {
	if username == "" || password == "" {
		return ErrInvalidCredentials
	}

	conn, err := l.dial(l.opts.URL)
	if err != nil {
		return fmt.Errorf("%w: ldap dial: %v", ErrUpstreamVerification, err)
	}
	defer conn.Close()

	if l.opts.StartTLS {
		tlsCfg := &tls.Config{}
		if parsed, err := url.Parse(l.opts.URL); err == nil {
			tlsCfg.ServerName = parsed.Hostname()
		}
		if err := conn.StartTLS(tlsCfg); err != nil {
			return fmt.Errorf("%w: ldap starttls: %v", ErrUpstreamVerification, err)
		}
	}

	if l.opts.BindDN != "" {
		if err := conn.Bind(l.opts.BindDN, l.opts.BindCredentials); err != nil {
			return fmt.Errorf("%w: ldap service bind: %v", ErrUpstreamVerification, err)
		}
	}

	filter := strings.ReplaceAll(l.opts.SearchFilter, "{{username}}", ldap.EscapeFilter(username))
	req := ldap.NewSearchRequest(
		l.opts.SearchBase,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		2,
		0,
		false,
		filter,
		[]string{"dn", "uid"},
		nil,
	)
	sr, err := conn.Search(req)
	if err != nil {
		return fmt.Errorf("%w: ldap search: %v", ErrUpstreamVerification, err)
	}
	if len(sr.Entries) != 1 {
		return ErrInvalidCredentials
	}
	entry := sr.Entries[0]

	if err := conn.Bind(entry.DN, password); err != nil {
		return ErrInvalidCredentials
	}
	if entry.GetAttributeValue("uid") != username {
		return ErrInvalidCredentials
	}

	return l.lookup(username)
}
