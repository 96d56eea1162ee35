// ABOUTME: JSON response helpers and the error to HTTP status mapping
// ABOUTME: Every failure renders as {"status":"error","message":...}

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/2389/warden-gateway/internal/auth"
	"github.com/2389/warden-gateway/internal/backend"
	"github.com/2389/warden-gateway/internal/store"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// ErrMalformedRequest is returned for request bodies that fail to parse or validate.
var ErrMalformedRequest = errors.New("malformed request")

var errEmptyBody = errors.New("empty body")

var (
	errDatabaseNotConfigured = &httpError{status: http.StatusNotImplemented, msg: "Database not configured"}
	errLoginNotImplemented   = &httpError{status: http.StatusNotImplemented, msg: "Login not implemented"}
	errRefreshNotImplemented = &httpError{status: http.StatusNotImplemented, msg: "Token refresh not implemented"}
)

// httpError carries the status and client message for a failure.
type httpError struct {
	status int
	msg    string
	err    error
}

func (e *httpError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *httpError) Unwrap() error { return e.err }

// malformed wraps ErrMalformedRequest with a 400 client message.
func malformed(msg string) error {
	return &httpError{status: http.StatusBadRequest, msg: msg, err: ErrMalformedRequest}
}

// statusFor maps err to a status code and client-facing message.
func statusFor(err error) (int, string) {
	var he *httpError
	if errors.As(err, &he) {
		return he.status, he.msg
	}

	switch {
	case errors.Is(err, ErrMalformedRequest), errors.Is(err, store.ErrInvalidDocument):
		return http.StatusBadRequest, "Malformed request"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusForbidden, "Invalid username/password combo"
	case errors.Is(err, auth.ErrUnknownAccount):
		return http.StatusForbidden, "User does not exist"
	case errors.Is(err, auth.ErrNotAuthorized), errors.Is(err, auth.ErrUpstreamVerification):
		return http.StatusForbidden, "Not authorized"
	case errors.Is(err, auth.ErrNotConfigured):
		return http.StatusNotImplemented, "Not configured"
	case errors.Is(err, backend.ErrNoCapacity):
		return http.StatusServiceUnavailable, "No available ports for the backend process"
	case errors.Is(err, backend.ErrProcessStart):
		return http.StatusInternalServerError, "Backend process failed to start"
	case errors.Is(err, backend.ErrProcessKill):
		return http.StatusInternalServerError, "Problem killing existing process"
	case errors.Is(err, backend.ErrInvalidUser):
		return http.StatusBadRequest, "Invalid username"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// writeError logs err and renders the error envelope. Server errors log at error level.
func (g *Gateway) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)

	attrs := []any{
		"request_id", middleware.GetReqID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"error", err,
	}
	if ac := auth.FromContext(r.Context()); ac != nil {
		attrs = append(attrs, "user", ac.Username)
	}
	if status >= http.StatusInternalServerError && status != http.StatusNotImplemented {
		g.logger.Error("request failed", attrs...)
	} else {
		g.logger.Debug("request rejected", attrs...)
	}

	writeJSON(w, status, map[string]any{"status": "error", "message": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a single JSON value from r's body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %w", ErrMalformedRequest, errEmptyBody)
		}
		return fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	return nil
}
