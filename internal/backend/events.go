// ABOUTME: Backend lifecycle events handed to an external recorder
// ABOUTME: The gateway persists them in the store for the history command

package backend

import (
	"context"
	"time"
)

// Lifecycle event kinds
const (
	EventStarted     = "started"
	EventStartFailed = "start_failed"
	EventExited      = "exited"
	EventStopped     = "stopped"
	EventKilled      = "killed"
)

// Event describes one lifecycle transition of a backend process.
type Event struct {
	Username string
	PID      int
	Port     int
	Kind     string
	Detail   string
	At       time.Time
}

// EventRecorder persists lifecycle events.
type EventRecorder interface {
	RecordBackendEvent(ctx context.Context, e Event) error
}

// EventRecorderFunc adapts a function to EventRecorder.
type EventRecorderFunc func(ctx context.Context, e Event) error

// RecordBackendEvent calls f(ctx, e).
func (f EventRecorderFunc) RecordBackendEvent(ctx context.Context, e Event) error {
	return f(ctx, e)
}
