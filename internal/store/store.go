// ABOUTME: Store interfaces and data types for warden-gateway persistence
// ABOUTME: Defines per-user document storage and the backend lifecycle history

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/2389/warden-gateway/internal/backend"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrInvalidDocument is returned when a document is not a JSON object
var ErrInvalidDocument = errors.New("document must be a JSON object")

// BackendEvent is one row of the backend lifecycle history
type BackendEvent struct {
	ID        string
	Username  string
	PID       int
	Port      int
	Kind      string // started, start_failed, exited, stopped, killed
	Detail    string
	CreatedAt time.Time
}

// PreferenceStore keeps one preference document per user.
// Documents are JSON objects whose top-level keys are set and cleared independently.
type PreferenceStore interface {
	GetPreferences(ctx context.Context, username string) (map[string]json.RawMessage, error)
	SetPreferences(ctx context.Context, username string, update map[string]json.RawMessage) error
	ClearPreferences(ctx context.Context, username string, keys []string) error
}

// LayoutStore keeps named layout documents per user.
type LayoutStore interface {
	ListLayouts(ctx context.Context, username string) (map[string]json.RawMessage, error)
	PutLayout(ctx context.Context, username, name string, layout json.RawMessage) error
	DeleteLayout(ctx context.Context, username, name string) error
}

// HistoryStore records and lists backend lifecycle events.
type HistoryStore interface {
	backend.EventRecorder
	ListBackendEvents(ctx context.Context, username string, limit int) ([]BackendEvent, error)
}

// Store is everything the gateway persists.
type Store interface {
	PreferenceStore
	LayoutStore
	HistoryStore
	Close() error
}

var _ Store = (*SQLiteStore)(nil)
