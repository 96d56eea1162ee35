// ABOUTME: Login, refresh, logout and status endpoints for password-based identity providers
// ABOUTME: Refresh tokens travel only in a path-scoped, http-only, strict same-site cookie

package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/2389/warden-gateway/internal/auth"
)

// RefreshCookieName is the cookie carrying the refresh token.
const RefreshCookieName = "Refresh-Token"

// refreshCookiePath scopes the refresh cookie to the refresh endpoint.
const refreshCookiePath = "/api/auth/refresh"

// LoginRequest is the JSON body for POST /api/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse is returned by login and refresh.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Username    string `json:"username,omitempty"`
	ExpiresIn   int64  `json:"expires_in"`
}

func expiresIn(at time.Time) int64 {
	secs := int64(time.Until(at).Seconds())
	if secs < 0 {
		return 0
	}
	return secs
}

func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	p := g.providers
	if p.Login == nil || p.Issuer == nil {
		g.writeError(w, r, errLoginNotImplemented)
		return
	}

	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Username == "" || req.Password == "" {
		g.writeError(w, r, malformed("Malformed login request"))
		return
	}

	if err := p.Login.Authenticate(r.Context(), req.Username, req.Password); err != nil {
		g.authMetrics.ObserveLogin(false)
		g.writeError(w, r, err)
		return
	}
	g.authMetrics.ObserveLogin(true)

	access, accessExp, err := p.Issuer.IssueAccess(req.Username)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	refresh, _, err := p.Issuer.IssueRefresh(req.Username)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    refresh,
		Path:     refreshCookiePath,
		MaxAge:   int(p.Issuer.RefreshTTL().Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})

	g.logger.Info("user logged in", "user", req.Username)
	writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken: access,
		TokenType:   "bearer",
		ExpiresIn:   expiresIn(accessExp),
	})
}

func (g *Gateway) handleRefresh(w http.ResponseWriter, r *http.Request) {
	p := g.providers
	if p.Issuer == nil {
		g.writeError(w, r, errRefreshNotImplemented)
		return
	}

	cookie, err := r.Cookie(RefreshCookieName)
	if err != nil || cookie.Value == "" {
		g.writeError(w, r, malformed("Missing refresh token"))
		return
	}

	principal, err := p.Registry.Verify(r.Context(), cookie.Value)
	if err != nil || principal.Issuer != p.Issuer.Issuer() {
		if err == nil {
			err = errors.New("refresh token from foreign issuer")
		}
		g.writeError(w, r, &httpError{status: http.StatusBadRequest, msg: "Invalid refresh token", err: err})
		return
	}
	if !principal.Refresh {
		g.writeError(w, r, auth.ErrNotAuthorized)
		return
	}
	if p.Accounts != nil {
		if err := p.Accounts(principal.Subject); err != nil {
			g.writeError(w, r, &httpError{status: http.StatusBadRequest, msg: "User does not exist", err: err})
			return
		}
	}

	access, accessExp, err := p.Issuer.IssueAccess(principal.Subject)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken: access,
		TokenType:   "bearer",
		Username:    principal.Subject,
		ExpiresIn:   expiresIn(accessExp),
	})
}

func (g *Gateway) handleLogout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (g *Gateway) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "username": ac.Username})
}
