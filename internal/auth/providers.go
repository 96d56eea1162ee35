// ABOUTME: Builds the verifier registry, identity mapper, issuer and login from config
// ABOUTME: Zero configured verifiers is a fatal startup error

package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/warden-gateway/internal/config"
)

// Providers bundles everything the gateway needs from the configured identity providers.
type Providers struct {
	Registry *Registry
	Mapper   *IdentityMapper

	// Issuer and Login are nil unless a password provider (LDAP or dummy) is configured.
	Issuer *TokenIssuer
	Login  Authenticator

	// Accounts re-checks the system account before a refresh issues a new access token.
	Accounts AccountLookup
}

// NewProviders wires every configured provider. LDAP takes precedence over dummy for logins.
// User lookup tables are loaded once here; call WatchTables to keep them current.
func NewProviders(cfg config.AuthConfig, logger *slog.Logger, metrics *Metrics) (*Providers, error) {
	p := &Providers{
		Registry: NewRegistry(logger, metrics),
		Mapper:   NewIdentityMapper(),
		Accounts: SystemAccountLookup,
	}

	if cfg.Dummy != nil {
		if err := p.addLocal(&cfg.Dummy.SigningConfig, logger); err != nil {
			return nil, fmt.Errorf("dummy provider: %w", err)
		}
		p.Login = NewDummyAuthenticator(cfg.Dummy.Password, cfg.Dummy.PasswordHash, p.Accounts)
	}

	if l := cfg.LDAP; l != nil {
		if err := p.addLocal(&l.SigningConfig, logger); err != nil {
			return nil, fmt.Errorf("ldap provider: %w", err)
		}
		p.Login = NewLDAPAuthenticator(LDAPOptions{
			URL:             l.URL,
			SearchBase:      l.SearchBase,
			SearchFilter:    l.SearchFilter,
			BindDN:          l.BindDN,
			BindCredentials: l.BindCredentials,
			StartTLS:        l.StartTLS,
		}, p.Accounts)
	}

	if g := cfg.Google; g != nil {
		google := NewGoogleVerifier(GoogleOptions{
			ClientID:     g.ClientID,
			ValidDomain:  g.ValidDomain,
			UseEmailAsID: g.UseEmailAsID,
		})
		var v TokenVerifier = google
		if g.CacheSize > 0 {
			v = NewCachingVerifier(google, g.CacheSize, g.CacheTTL)
		}
		p.register(google.Issuers(), v, g.UserLookupTable, logger)
	}

	if e := cfg.External; e != nil {
		method, key, err := LoadPublicKey(e.PublicKeyPath, e.KeyAlgorithm)
		if err != nil {
			return nil, fmt.Errorf("external provider: %w", err)
		}
		v := NewExternalVerifier(e.Issuers, method, key, e.UniqueField)
		p.register(e.Issuers, v, e.UserLookupTable, logger)
	}

	if p.Registry.Len() == 0 {
		return nil, config.ErrNoVerifiers
	}
	return p, nil
}

func (p *Providers) addLocal(sc *config.SigningConfig, logger *slog.Logger) error {
	method, pub, err := LoadPublicKey(sc.PublicKeyPath, sc.KeyAlgorithm)
	if err != nil {
		return err
	}
	_, priv, err := LoadPrivateKey(sc.PrivateKeyPath, sc.KeyAlgorithm)
	if err != nil {
		return err
	}
	p.register([]string{sc.Issuer}, NewLocalVerifier(sc.Issuer, method, pub), "", logger)
	p.Issuer = NewTokenIssuer(sc.Issuer, method, priv, sc.AccessTokenAge, sc.RefreshTokenAge)
	return nil
}

func (p *Providers) register(issuers []string, v TokenVerifier, tablePath string, logger *slog.Logger) {
	var table *UserTable
	if tablePath != "" {
		table = NewUserTable(tablePath, logger)
		_ = table.Load()
	}
	for _, iss := range issuers {
		p.Registry.Register(iss, v)
		if table != nil {
			p.Mapper.Bind(iss, table)
		}
	}
}

// WatchTables watches every user lookup table until ctx is done.
func (p *Providers) WatchTables(ctx context.Context, logger *slog.Logger) {
	var wg sync.WaitGroup
	for _, t := range p.Mapper.Tables() {
		wg.Add(1)
		go func(t *UserTable) {
			defer wg.Done()
			if err := t.Watch(ctx); err != nil {
				logger.Error("user table watcher stopped", "table", t.Path(), "error", err)
			}
		}(t)
	}
	wg.Wait()
}
