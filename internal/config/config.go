// ABOUTME: Configuration loading and parsing for warden-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Token source strategies for the upgrade proxy
const (
	TokenSourceCookie = "cookie"
	TokenSourceQuery  = "query"
)

// Defaults applied when the corresponding field is left empty
const (
	DefaultStartDelay      = time.Second
	DefaultKillGrace       = 10 * time.Millisecond
	DefaultLogCapacity     = 1000
	DefaultAccessTokenAge  = 15 * time.Minute
	DefaultRefreshTokenAge = 7 * 24 * time.Hour
	DefaultTokenCookie     = "Warden-Authorization"
	DefaultTokenQuery      = "token"
	DefaultAuthTokenHeader = "X-Backend-Auth-Token"
	DefaultAuthTokenEnv    = "WARDEN_BACKEND_AUTH_TOKEN"
	DefaultMetricsPath     = "/metrics"
	DefaultDialTimeout     = 5 * time.Second
	DefaultGoogleCacheSize = 1024
	DefaultGoogleCacheTTL  = 5 * time.Minute
)

// Config represents the complete warden-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Backend   BackendConfig   `yaml:"backend" toml:"backend"`
	Proxy     ProxyConfig     `yaml:"proxy" toml:"proxy"`
	CORS      CORSConfig      `yaml:"cors" toml:"cors"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
	Dashboard DashboardConfig `yaml:"dashboard" toml:"dashboard"`
}

// ServerConfig holds the public HTTP listener and addresses advertised to the dashboard
type ServerConfig struct {
	HTTPAddr         string `yaml:"http_addr" toml:"http_addr"`
	ServerAddress    string `yaml:"server_address" toml:"server_address"`
	DashboardAddress string `yaml:"dashboard_address" toml:"dashboard_address"`
	APIAddress       string `yaml:"api_address" toml:"api_address"`
	FrontendPath     string `yaml:"frontend_path" toml:"frontend_path"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // Serve HTTPS with Tailscale-provisioned certs
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// DatabaseConfig holds database configuration. An empty path disables document storage.
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds the identity providers. At least one verifier must be configured.
type AuthConfig struct {
	Dummy    *DummyAuthConfig    `yaml:"dummy" toml:"dummy"`
	LDAP     *LDAPAuthConfig     `yaml:"ldap" toml:"ldap"`
	Google   *GoogleAuthConfig   `yaml:"google" toml:"google"`
	External *ExternalAuthConfig `yaml:"external" toml:"external"`
}

// SigningConfig describes a locally signed token issuer
type SigningConfig struct {
	Issuer          string        `yaml:"issuer" toml:"issuer" validate:"required"`
	KeyAlgorithm    string        `yaml:"key_algorithm" toml:"key_algorithm" validate:"required"`
	PublicKeyPath   string        `yaml:"public_key" toml:"public_key" validate:"required"`
	PrivateKeyPath  string        `yaml:"private_key" toml:"private_key" validate:"required"`
	AccessTokenAge  time.Duration `yaml:"-" toml:"-"`
	RefreshTokenAge time.Duration `yaml:"-" toml:"-"`

	// Raw string values for YAML unmarshaling
	AccessTokenAgeRaw  string `yaml:"access_token_age" toml:"access_token_age"`
	RefreshTokenAgeRaw string `yaml:"refresh_token_age" toml:"refresh_token_age"`
}

// DummyAuthConfig accepts any existing system account with a shared password
type DummyAuthConfig struct {
	SigningConfig `yaml:",inline"`
	Password      string `yaml:"password" toml:"password"`
	PasswordHash  string `yaml:"password_hash" toml:"password_hash"` // bcrypt, see `warden-gateway hash-password`
}

// LDAPAuthConfig authenticates users with an LDAP bind
type LDAPAuthConfig struct {
	SigningConfig   `yaml:",inline"`
	URL             string `yaml:"url" toml:"url" validate:"required"`
	SearchBase      string `yaml:"search_base" toml:"search_base" validate:"required"`
	SearchFilter    string `yaml:"search_filter" toml:"search_filter" validate:"required"`
	BindDN          string `yaml:"bind_dn" toml:"bind_dn"`
	BindCredentials string `yaml:"bind_credentials" toml:"bind_credentials"`
	StartTLS        bool   `yaml:"starttls" toml:"starttls"`
}

// GoogleAuthConfig verifies Google-issued ID tokens
type GoogleAuthConfig struct {
	ClientID        string        `yaml:"client_id" toml:"client_id" validate:"required"`
	ValidDomain     string        `yaml:"valid_domain" toml:"valid_domain"`
	UseEmailAsID    bool          `yaml:"use_email_as_id" toml:"use_email_as_id"`
	UserLookupTable string        `yaml:"user_lookup_table" toml:"user_lookup_table"`
	CacheSize       int           `yaml:"cache_size" toml:"cache_size" validate:"gte=0"`
	CacheTTL        time.Duration `yaml:"-" toml:"-"`
	CacheTTLRaw     string        `yaml:"cache_ttl" toml:"cache_ttl"`
}

// ExternalAuthConfig verifies tokens issued by a third party with a known public key
type ExternalAuthConfig struct {
	Issuers             []string `yaml:"issuers" toml:"issuers" validate:"required,min=1,dive,required"`
	PublicKeyPath       string   `yaml:"public_key" toml:"public_key" validate:"required"`
	KeyAlgorithm        string   `yaml:"key_algorithm" toml:"key_algorithm" validate:"required"`
	UniqueField         string   `yaml:"unique_field" toml:"unique_field"`
	UserLookupTable     string   `yaml:"user_lookup_table" toml:"user_lookup_table"`
	TokenRefreshAddress string   `yaml:"token_refresh_address" toml:"token_refresh_address"`
	LogoutAddress       string   `yaml:"logout_address" toml:"logout_address"`
}

// PortRange is the half-open range [Min, Max) used for backend processes
type PortRange struct {
	Min int `yaml:"min" toml:"min" validate:"gt=0,lt=65536"`
	Max int `yaml:"max" toml:"max" validate:"gtfield=Min,lte=65536"`
}

// BackendConfig describes how per-user backend processes are launched
type BackendConfig struct {
	Ports              PortRange `yaml:"ports" toml:"ports"`
	ProbePorts         bool      `yaml:"probe_ports" toml:"probe_ports"`
	ProcessCommand     string    `yaml:"process_command" toml:"process_command" validate:"required"`
	SudoCommand        string    `yaml:"sudo_command" toml:"sudo_command"` // empty runs without a privilege switch
	KillCommand        string    `yaml:"kill_command" toml:"kill_command" validate:"required"`
	RootFolderTemplate string    `yaml:"root_folder_template" toml:"root_folder_template"`
	BaseFolderTemplate string    `yaml:"base_folder_template" toml:"base_folder_template"`
	LogFileTemplate    string    `yaml:"log_file_template" toml:"log_file_template"`
	AdditionalArgs     []string  `yaml:"additional_args" toml:"additional_args"`
	LogCapacity        int       `yaml:"log_capacity" toml:"log_capacity" validate:"gte=0"`
	AuthTokenHeader    string    `yaml:"auth_token_header" toml:"auth_token_header"`
	AuthTokenEnv       string    `yaml:"auth_token_env" toml:"auth_token_env"`

	StartDelay time.Duration `yaml:"-" toml:"-"`
	KillGrace  time.Duration `yaml:"-" toml:"-"`

	// Raw string values for YAML unmarshaling
	StartDelayRaw string `yaml:"start_delay" toml:"start_delay"`
	KillGraceRaw  string `yaml:"kill_grace" toml:"kill_grace"`
}

// ProxyConfig controls how upgrade requests carry their bearer token
type ProxyConfig struct {
	TokenSource    string        `yaml:"token_source" toml:"token_source" validate:"omitempty,oneof=cookie query"`
	TokenCookie    string        `yaml:"token_cookie" toml:"token_cookie"`
	TokenQuery     string        `yaml:"token_query" toml:"token_query"`
	DialTimeout    time.Duration `yaml:"-" toml:"-"`
	DialTimeoutRaw string        `yaml:"dial_timeout" toml:"dial_timeout"`
}

// CORSConfig holds allowed origins for the JSON API
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// DashboardConfig holds dashboard appearance. Text fields are markdown.
type DashboardConfig struct {
	BackgroundColor string `yaml:"background_color" toml:"background_color"`
	BannerColor     string `yaml:"banner_color" toml:"banner_color"`
	BannerImage     string `yaml:"banner_image" toml:"banner_image"`
	InfoText        string `yaml:"info_text" toml:"info_text"`
	LoginText       string `yaml:"login_text" toml:"login_text"`
	FooterText      string `yaml:"footer_text" toml:"footer_text"`
}

// ErrNoVerifiers is returned when no identity provider is configured
var ErrNoVerifiers = errors.New("no valid token verifiers specified")

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Files ending in .toml are decoded as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.NewDecoder(bytes.NewReader([]byte(expandedData))).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// LoginSigning returns the signing config of the provider that handles password logins.
// LDAP takes precedence over the dummy provider. Returns nil when neither is configured.
func (c *Config) LoginSigning() *SigningConfig {
	switch {
	case c.Auth.LDAP != nil:
		return &c.Auth.LDAP.SigningConfig
	case c.Auth.Dummy != nil:
		return &c.Auth.Dummy.SigningConfig
	default:
		return nil
	}
}

func (c *Config) applyDefaults() {
	for _, s := range []*SigningConfig{signingOf(c.Auth.Dummy), ldapSigningOf(c.Auth.LDAP)} {
		if s == nil {
			continue
		}
		if s.AccessTokenAge == 0 {
			s.AccessTokenAge = DefaultAccessTokenAge
		}
		if s.RefreshTokenAge == 0 {
			s.RefreshTokenAge = DefaultRefreshTokenAge
		}
	}
	if g := c.Auth.Google; g != nil {
		if g.CacheSize == 0 {
			g.CacheSize = DefaultGoogleCacheSize
		}
		if g.CacheTTL == 0 {
			g.CacheTTL = DefaultGoogleCacheTTL
		}
	}

	b := &c.Backend
	if b.StartDelay == 0 {
		b.StartDelay = DefaultStartDelay
	}
	if b.KillGrace == 0 {
		b.KillGrace = DefaultKillGrace
	}
	if b.LogCapacity == 0 {
		b.LogCapacity = DefaultLogCapacity
	}
	if b.AuthTokenHeader == "" {
		b.AuthTokenHeader = DefaultAuthTokenHeader
	}
	if b.AuthTokenEnv == "" {
		b.AuthTokenEnv = DefaultAuthTokenEnv
	}

	p := &c.Proxy
	if p.TokenSource == "" {
		p.TokenSource = TokenSourceCookie
	}
	if p.TokenCookie == "" {
		p.TokenCookie = DefaultTokenCookie
	}
	if p.TokenQuery == "" {
		p.TokenQuery = DefaultTokenQuery
	}
	if p.DialTimeout == 0 {
		p.DialTimeout = DefaultDialTimeout
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func signingOf(d *DummyAuthConfig) *SigningConfig {
	if d == nil {
		return nil
	}
	return &d.SigningConfig
}

func ldapSigningOf(l *LDAPAuthConfig) *SigningConfig {
	if l == nil {
		return nil
	}
	return &l.SigningConfig
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	a := c.Auth
	if a.Dummy == nil && a.LDAP == nil && a.Google == nil && a.External == nil {
		return ErrNoVerifiers
	}
	if a.Dummy != nil && a.Dummy.Password == "" && a.Dummy.PasswordHash == "" {
		return fmt.Errorf("auth.dummy requires password or password_hash")
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return describeValidation(err)
	}

	return nil
}

// describeValidation flattens validator errors into a single readable error.
func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	return fmt.Errorf("%s failed %q check", strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag())
}

// durationField pairs a raw duration string with its destination
type durationField struct {
	name string
	raw  string
	dst  *time.Duration
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []durationField{
		{"backend.start_delay", cfg.Backend.StartDelayRaw, &cfg.Backend.StartDelay},
		{"backend.kill_grace", cfg.Backend.KillGraceRaw, &cfg.Backend.KillGrace},
		{"proxy.dial_timeout", cfg.Proxy.DialTimeoutRaw, &cfg.Proxy.DialTimeout},
	}
	if s := signingOf(cfg.Auth.Dummy); s != nil {
		fields = append(fields,
			durationField{"auth.dummy.access_token_age", s.AccessTokenAgeRaw, &s.AccessTokenAge},
			durationField{"auth.dummy.refresh_token_age", s.RefreshTokenAgeRaw, &s.RefreshTokenAge},
		)
	}
	if s := ldapSigningOf(cfg.Auth.LDAP); s != nil {
		fields = append(fields,
			durationField{"auth.ldap.access_token_age", s.AccessTokenAgeRaw, &s.AccessTokenAge},
			durationField{"auth.ldap.refresh_token_age", s.RefreshTokenAgeRaw, &s.RefreshTokenAge},
		)
	}
	if g := cfg.Auth.Google; g != nil {
		fields = append(fields, durationField{"auth.google.cache_ttl", g.CacheTTLRaw, &g.CacheTTL})
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := parseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// parseDuration accepts Go durations plus a trailing "d" for whole days.
func parseDuration(raw string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		d, err := time.ParseDuration(days + "h")
		if err != nil {
			return 0, err
		}
		return d * 24, nil
	}
	return time.ParseDuration(raw)
}
