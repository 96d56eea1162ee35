// ABOUTME: Backend lifecycle history: one row per start, failure, exit, stop or kill
// ABOUTME: Implements backend.EventRecorder so the orchestrator writes here directly

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/2389/warden-gateway/internal/backend"
)

// ErrInvalidEvent is returned for an event kind the history does not know
var ErrInvalidEvent = errors.New("invalid backend event")

// eventTimeLayout is fixed width so created_at sorts as text.
const eventTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Limits for ListBackendEvents
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// RecordBackendEvent appends a lifecycle event to the history.
func (s *SQLiteStore) RecordBackendEvent(ctx context.Context, e backend.Event) error {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backend_events (id, username, pid, port, event, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), e.Username, e.PID, e.Port, e.Kind, e.Detail, at.UTC().Format(eventTimeLayout))
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("%w: %q", ErrInvalidEvent, e.Kind)
		}
		return fmt.Errorf("inserting backend event: %w", err)
	}
	return nil
}

// ListBackendEvents returns the most recent events for username, newest first.
// A limit outside 1..MaxHistoryLimit falls back to DefaultHistoryLimit or MaxHistoryLimit.
func (s *SQLiteStore) ListBackendEvents(ctx context.Context, username string, limit int) ([]BackendEvent, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, pid, port, event, detail, created_at
		FROM backend_events
		WHERE username = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, username, limit)
	if err != nil {
		return nil, fmt.Errorf("querying backend events: %w", err)
	}
	defer rows.Close()

	var events []BackendEvent
	for rows.Next() {
		var ev BackendEvent
		var created string
		if err := rows.Scan(&ev.ID, &ev.Username, &ev.PID, &ev.Port, &ev.Kind, &ev.Detail, &created); err != nil {
			return nil, fmt.Errorf("scanning backend event: %w", err)
		}
		ev.CreatedAt, err = time.Parse(eventTimeLayout, created)
		if err != nil {
			return nil, fmt.Errorf("parsing event time: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating backend events: %w", err)
	}
	return events, nil
}
