// ABOUTME: Tests for HTTP authentication middleware
// ABOUTME: Covers token extraction, verification, identity mapping and error rendering

package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func recordingErrorWriter(got *error) ErrorWriter {
	return func(w http.ResponseWriter, _ *http.Request, err error) {
		*got = err
		w.WriteHeader(http.StatusForbidden)
	}
}

func TestRequireUser_ValidToken(t *testing.T) {
	kp := newTestKeyPair(t)
	reg := NewRegistry(testLogger(), nil)
	reg.Register("warden", kp.localVerifier("warden"))
	token, _, err := kp.issuer("warden").IssueAccess("alice")
	if err != nil {
		t.Fatalf("IssueAccess() error = %v", err)
	}

	tests := []struct {
		name  string
		setup func(r *http.Request)
		path  string
	}{
		{
			name:  "authorization header",
			setup: func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) },
			path:  "/api/server/status",
		},
		{
			name:  "query parameter",
			setup: func(*http.Request) {},
			path:  "/api/server/status?access_token=" + token,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotErr error
			var gotAuth *AuthContext
			handler := RequireUser(reg, NewIdentityMapper(), recordingErrorWriter(&gotErr))(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					gotAuth = FromContext(r.Context())
				}))

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if gotErr != nil {
				t.Fatalf("unexpected error: %v", gotErr)
			}
			if gotAuth == nil {
				t.Fatal("expected AuthContext in context")
			}
			if gotAuth.Username != "alice" {
				t.Errorf("Username = %q, want %q", gotAuth.Username, "alice")
			}
		})
	}
}

func TestRequireUser_Rejections(t *testing.T) {
	kp := newTestKeyPair(t)
	reg := NewRegistry(testLogger(), nil)
	reg.Register("warden", kp.localVerifier("warden"))
	issuer := kp.issuer("warden")
	access, _, _ := issuer.IssueAccess("mallory")
	refresh, _, _ := issuer.IssueRefresh("alice")

	path := filepath.Join(t.TempDir(), "users.txt")
	if err := os.WriteFile(path, []byte("alice alice\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	table := NewUserTable(path, testLogger())
	if err := table.Load(); err != nil {
		t.Fatal(err)
	}
	mapper := NewIdentityMapper()
	mapper.Bind("warden", table)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic abc"},
		{"garbage token", "Bearer garbage"},
		{"refresh token", "Bearer " + refresh},
		{"unmapped user", "Bearer " + access},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotErr error
			called := false
			handler := RequireUser(reg, mapper, recordingErrorWriter(&gotErr))(
				http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

			req := httptest.NewRequest(http.MethodGet, "/api/auth/status", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if called {
				t.Error("handler should not be called")
			}
			if !errors.Is(gotErr, ErrNotAuthorized) {
				t.Errorf("error = %v, want ErrNotAuthorized", gotErr)
			}
		})
	}
}
