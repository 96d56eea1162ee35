// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML/TOML loading, env var expansion, defaults, and validation

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
server:
  http_addr: "0.0.0.0:3002"
  server_address: "https://gateway.example.org"

database:
  path: "./test.db"

auth:
  dummy:
    issuer: "warden-dummy"
    key_algorithm: "ES256"
    public_key: "/etc/warden/public.pem"
    private_key: "/etc/warden/private.pem"
    password: "${WARDEN_TEST_PASSWORD}"
    access_token_age: "10m"
    refresh_token_age: "2d"

backend:
  ports:
    min: 3003
    max: 3010
  process_command: "/usr/bin/backend"
  kill_command: "/usr/local/bin/kill-script"
  root_folder_template: "/home/{username}"
  base_folder_template: "/home/{username}/data"
  additional_args: ["--verbose", "2"]
  start_delay: "250ms"

proxy:
  token_source: "query"

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	t.Setenv("WARDEN_TEST_PASSWORD", "hunter2")

	cfg, err := Load(writeConfig(t, "config.yaml", validYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:3002" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:3002")
	}
	if cfg.Auth.Dummy == nil {
		t.Fatal("Auth.Dummy = nil, want configured")
	}
	if cfg.Auth.Dummy.Password != "hunter2" {
		t.Errorf("Auth.Dummy.Password = %q, want expanded env var", cfg.Auth.Dummy.Password)
	}
	if cfg.Auth.Dummy.Issuer != "warden-dummy" {
		t.Errorf("Auth.Dummy.Issuer = %q, want %q", cfg.Auth.Dummy.Issuer, "warden-dummy")
	}
	if cfg.Auth.Dummy.AccessTokenAge != 10*time.Minute {
		t.Errorf("AccessTokenAge = %v, want %v", cfg.Auth.Dummy.AccessTokenAge, 10*time.Minute)
	}
	if cfg.Auth.Dummy.RefreshTokenAge != 48*time.Hour {
		t.Errorf("RefreshTokenAge = %v, want %v", cfg.Auth.Dummy.RefreshTokenAge, 48*time.Hour)
	}
	if cfg.Backend.Ports.Min != 3003 || cfg.Backend.Ports.Max != 3010 {
		t.Errorf("Backend.Ports = %+v, want [3003, 3010)", cfg.Backend.Ports)
	}
	if cfg.Backend.StartDelay != 250*time.Millisecond {
		t.Errorf("Backend.StartDelay = %v, want 250ms", cfg.Backend.StartDelay)
	}
	if len(cfg.Backend.AdditionalArgs) != 2 {
		t.Errorf("Backend.AdditionalArgs len = %d, want 2", len(cfg.Backend.AdditionalArgs))
	}
	if cfg.Proxy.TokenSource != TokenSourceQuery {
		t.Errorf("Proxy.TokenSource = %q, want %q", cfg.Proxy.TokenSource, TokenSourceQuery)
	}
	if cfg.LoginSigning() != &cfg.Auth.Dummy.SigningConfig {
		t.Error("LoginSigning() should return the dummy signing config")
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	t.Setenv("WARDEN_TEST_PASSWORD", "hunter2")
	content := strings.Replace(validYAML, `  start_delay: "250ms"`, "", 1)
	content = strings.Replace(content, `  token_source: "query"`, "", 1)

	cfg, err := Load(writeConfig(t, "config.yaml", content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"start delay", cfg.Backend.StartDelay, DefaultStartDelay},
		{"kill grace", cfg.Backend.KillGrace, DefaultKillGrace},
		{"log capacity", cfg.Backend.LogCapacity, DefaultLogCapacity},
		{"auth token header", cfg.Backend.AuthTokenHeader, DefaultAuthTokenHeader},
		{"token source", cfg.Proxy.TokenSource, TokenSourceCookie},
		{"token cookie", cfg.Proxy.TokenCookie, DefaultTokenCookie},
		{"dial timeout", cfg.Proxy.DialTimeout, DefaultDialTimeout},
		{"metrics path", cfg.Metrics.Path, DefaultMetricsPath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestLoad_TOML(t *testing.T) {
	content := `
[server]
http_addr = "127.0.0.1:3002"

[auth.external]
issuers = ["https://idp.example.org"]
public_key = "/etc/warden/idp.pem"
key_algorithm = "RS256"
unique_field = "preferred_username"

[backend]
process_command = "/usr/bin/backend"
kill_command = "/usr/bin/kill-script"
start_delay = "2s"

[backend.ports]
min = 4000
max = 4100
`
	cfg, err := Load(writeConfig(t, "config.toml", content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.External == nil || cfg.Auth.External.UniqueField != "preferred_username" {
		t.Fatalf("Auth.External = %+v, want unique_field preferred_username", cfg.Auth.External)
	}
	if cfg.Backend.StartDelay != 2*time.Second {
		t.Errorf("Backend.StartDelay = %v, want 2s", cfg.Backend.StartDelay)
	}
	if cfg.LoginSigning() != nil {
		t.Error("LoginSigning() should be nil without dummy or ldap providers")
	}
}

func TestLoad_NoVerifiers(t *testing.T) {
	content := `
server:
  http_addr: "0.0.0.0:3002"
backend:
  ports: {min: 3003, max: 3010}
  process_command: "/usr/bin/backend"
  kill_command: "/usr/bin/kill-script"
`
	_, err := Load(writeConfig(t, "config.yaml", content))
	if !errors.Is(err, ErrNoVerifiers) {
		t.Fatalf("Load() error = %v, want ErrNoVerifiers", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{
			name:    "missing http addr",
			mutate:  func(s string) string { return strings.Replace(s, `http_addr: "0.0.0.0:3002"`, "", 1) },
			wantErr: "server.http_addr is required",
		},
		{
			name:    "inverted port range",
			mutate:  func(s string) string { return strings.Replace(s, "max: 3010", "max: 3000", 1) },
			wantErr: "Backend.Ports.Max",
		},
		{
			name:    "missing process command",
			mutate:  func(s string) string { return strings.Replace(s, `process_command: "/usr/bin/backend"`, "", 1) },
			wantErr: "Backend.ProcessCommand",
		},
		{
			name:    "bad token source",
			mutate:  func(s string) string { return strings.Replace(s, `token_source: "query"`, `token_source: "header"`, 1) },
			wantErr: "Proxy.TokenSource",
		},
		{
			name:    "dummy without password",
			mutate:  func(s string) string { return strings.Replace(s, `password: "${WARDEN_TEST_PASSWORD}"`, "", 1) },
			wantErr: "auth.dummy requires password",
		},
		{
			name:    "bad duration",
			mutate:  func(s string) string { return strings.Replace(s, `"250ms"`, `"soon"`, 1) },
			wantErr: "backend.start_delay",
		},
	}

	t.Setenv("WARDEN_TEST_PASSWORD", "hunter2")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "config.yaml", tt.mutate(validYAML)))
			if err == nil {
				t.Fatal("Load() should have returned an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestExpandEnvVars_UnsetBecomesEmpty(t *testing.T) {
	got := expandEnvVars("key: ${WARDEN_DEFINITELY_UNSET_VAR}")
	if got != "key: " {
		t.Errorf("expandEnvVars() = %q, want %q", got, "key: ")
	}
}

func TestParseDuration_Days(t *testing.T) {
	d, err := parseDuration("3d")
	if err != nil {
		t.Fatalf("parseDuration() error = %v", err)
	}
	if d != 72*time.Hour {
		t.Errorf("parseDuration(3d) = %v, want 72h", d)
	}
}
