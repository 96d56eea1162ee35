// ABOUTME: Per-user preference and layout document endpoints backed by the store
// ABOUTME: Documents are opaque JSON apart from the few fields validated here

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/2389/warden-gateway/internal/auth"
	"github.com/2389/warden-gateway/internal/store"
)

const (
	preferencesVersion = 1
	layoutVersion      = 2
)

// reservedPreferenceKeys may not be set by clients.
var reservedPreferenceKeys = []string{"username", "_id"}

// KeyListRequest is the JSON body for DELETE /api/database/preferences.
type KeyListRequest struct {
	Keys []string `json:"keys"`
}

// LayoutRequest is the JSON body for PUT and DELETE /api/database/layout.
type LayoutRequest struct {
	LayoutName string          `json:"layoutName"`
	Layout     json.RawMessage `json:"layout,omitempty"`
}

func (g *Gateway) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	username := auth.MustFromContext(r.Context()).Username

	prefs, err := g.store.GetPreferences(r.Context(), username)
	if errors.Is(err, store.ErrNotFound) {
		prefs = map[string]json.RawMessage{}
	} else if err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "preferences": prefs})
}

func (g *Gateway) handleSetPreferences(w http.ResponseWriter, r *http.Request) {
	username := auth.MustFromContext(r.Context()).Username

	var update map[string]json.RawMessage
	if err := decodeJSON(w, r, &update); err != nil || len(update) == 0 {
		g.writeError(w, r, malformed("Malformed preference update"))
		return
	}
	for _, k := range reservedPreferenceKeys {
		if _, ok := update[k]; ok {
			g.writeError(w, r, malformed("Malformed preference update"))
			return
		}
	}
	update["version"] = json.RawMessage(strconv.Itoa(preferencesVersion))

	if err := g.store.SetPreferences(r.Context(), username, update); err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (g *Gateway) handleClearPreferences(w http.ResponseWriter, r *http.Request) {
	username := auth.MustFromContext(r.Context()).Username

	var req KeyListRequest
	if err := decodeJSON(w, r, &req); err != nil || len(req.Keys) == 0 {
		g.writeError(w, r, malformed("Malformed key list"))
		return
	}

	if err := g.store.ClearPreferences(r.Context(), username, req.Keys); err != nil && !errors.Is(err, store.ErrNotFound) {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (g *Gateway) handleListLayouts(w http.ResponseWriter, r *http.Request) {
	username := auth.MustFromContext(r.Context()).Username

	layouts, err := g.store.ListLayouts(r.Context(), username)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	if layouts == nil {
		layouts = map[string]json.RawMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "layouts": layouts})
}

func (g *Gateway) handlePutLayout(w http.ResponseWriter, r *http.Request) {
	username := auth.MustFromContext(r.Context()).Username

	var req LayoutRequest
	if err := decodeJSON(w, r, &req); err != nil || req.LayoutName == "" || !validLayout(req.Layout) {
		g.writeError(w, r, malformed("Malformed layout update"))
		return
	}

	if err := g.store.PutLayout(r.Context(), username, req.LayoutName, req.Layout); err != nil {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (g *Gateway) handleDeleteLayout(w http.ResponseWriter, r *http.Request) {
	username := auth.MustFromContext(r.Context()).Username

	var req LayoutRequest
	if err := decodeJSON(w, r, &req); err != nil || req.LayoutName == "" {
		g.writeError(w, r, malformed("Malformed layout name"))
		return
	}

	err := g.store.DeleteLayout(r.Context(), username, req.LayoutName)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		g.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// validLayout reports whether raw is a JSON object with the current layoutVersion.
func validLayout(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var head struct {
		LayoutVersion int `json:"layoutVersion"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return false
	}
	return head.LayoutVersion == layoutVersion
}
