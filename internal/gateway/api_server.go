// ABOUTME: Backend process endpoints: start, stop, status and log for the calling user
// ABOUTME: The caller's execution identity always selects the process; no username parameter is accepted

package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/2389/warden-gateway/internal/auth"
	"github.com/2389/warden-gateway/internal/backend"
)

// StartRequest is the optional JSON body for POST /api/server/start.
type StartRequest struct {
	ForceRestart bool `json:"forceRestart"`
}

func (g *Gateway) handleStartServer(w http.ResponseWriter, r *http.Request) {
	username := auth.MustFromContext(r.Context()).Username

	var req StartRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		g.writeError(w, r, malformed("Malformed start request"))
		return
	}

	result, err := g.backends.Start(r.Context(), username, req.ForceRestart)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	resp := map[string]any{"success": true}
	if result == backend.AlreadyRunning {
		resp["existing"] = true
	}
	writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) handleStopServer(w http.ResponseWriter, r *http.Request) {
	username := auth.MustFromContext(r.Context()).Username

	err := g.backends.Stop(r.Context(), username)
	if errors.Is(err, backend.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"message": fmt.Sprintf("No existing process belonging to user %s", username),
		})
		return
	}
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (g *Gateway) handleCheckServer(w http.ResponseWriter, r *http.Request) {
	username := auth.MustFromContext(r.Context()).Username
	st := g.backends.Status(username)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "running": st.Running})
}

func (g *Gateway) handleServerLog(w http.ResponseWriter, r *http.Request) {
	username := auth.MustFromContext(r.Context()).Username
	lines, ok := g.backends.Log(username)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"success": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "log": strings.Join(lines, "\n")})
}
