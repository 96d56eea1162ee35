// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers opening, schema bootstrap and reopening

package store

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath, testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	// Verify the database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath, testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestNewSQLiteStore_ReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := t.Context()

	store, err := NewSQLiteStore(dbPath, testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	if err := store.PutLayout(ctx, "alice", "default", []byte(`{"layoutVersion":2}`)); err != nil {
		t.Fatalf("PutLayout failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	store, err = NewSQLiteStore(dbPath, testLogger())
	if err != nil {
		t.Fatalf("reopening failed: %v", err)
	}
	defer store.Close()

	layouts, err := store.ListLayouts(ctx, "alice")
	if err != nil {
		t.Fatalf("ListLayouts failed: %v", err)
	}
	if _, ok := layouts["default"]; !ok {
		t.Errorf("layout lost after reopen: %v", layouts)
	}
}

func TestNewSQLiteStore_BackendEventsSchema(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	rows, err := store.db.Query(`SELECT name FROM pragma_table_info('backend_events')`)
	if err != nil {
		t.Fatalf("pragma query failed: %v", err)
	}
	defer rows.Close()

	columns := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan failed: %v", err)
		}
		columns[name] = true
	}
	for _, want := range []string{"id", "username", "pid", "port", "event", "detail", "created_at"} {
		if !columns[want] {
			t.Errorf("backend_events missing column %q", want)
		}
	}
}

// Helper to create a test store
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath, testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}

	return store
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
