// ABOUTME: Per-user preference and layout documents stored as JSON text
// ABOUTME: Preferences merge by top-level key; layouts are whole documents keyed by name

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// GetPreferences returns the user's preference document.
// Returns ErrNotFound if the user has never stored preferences.
func (s *SQLiteStore) GetPreferences(ctx context.Context, username string) (map[string]json.RawMessage, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM preferences WHERE username = ?`, username).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying preferences: %w", err)
	}

	doc := make(map[string]json.RawMessage)
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decoding preferences: %w", err)
	}
	return doc, nil
}

// SetPreferences merges update into the user's preference document, creating it if needed.
func (s *SQLiteStore) SetPreferences(ctx context.Context, username string, update map[string]json.RawMessage) error {
	if len(update) == 0 {
		return ErrInvalidDocument
	}
	return s.modifyPreferences(ctx, username, func(doc map[string]json.RawMessage) {
		for k, v := range update {
			doc[k] = v
		}
	})
}

// ClearPreferences removes keys from the user's preference document.
// Clearing keys of a user without preferences is not an error.
func (s *SQLiteStore) ClearPreferences(ctx context.Context, username string, keys []string) error {
	return s.modifyPreferences(ctx, username, func(doc map[string]json.RawMessage) {
		for _, k := range keys {
			delete(doc, k)
		}
	})
}

// modifyPreferences applies fn to the stored document inside one transaction.
func (s *SQLiteStore) modifyPreferences(ctx context.Context, username string, fn func(map[string]json.RawMessage)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	doc := make(map[string]json.RawMessage)
	var raw string
	err = tx.QueryRowContext(ctx, `SELECT doc FROM preferences WHERE username = ?`, username).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("querying preferences: %w", err)
	default:
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return fmt.Errorf("decoding preferences: %w", err)
		}
	}

	fn(doc)

	encoded, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding preferences: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO preferences (username, doc, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at
	`, username, string(encoded), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving preferences: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing preferences: %w", err)
	}
	s.logger.Debug("updated preferences", "user", username)
	return nil
}

// ListLayouts returns the user's layouts keyed by name.
func (s *SQLiteStore) ListLayouts(ctx context.Context, username string) (map[string]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, doc FROM layouts WHERE username = ? ORDER BY name`, username)
	if err != nil {
		return nil, fmt.Errorf("querying layouts: %w", err)
	}
	defer rows.Close()

	layouts := make(map[string]json.RawMessage)
	for rows.Next() {
		var name, doc string
		if err := rows.Scan(&name, &doc); err != nil {
			return nil, fmt.Errorf("scanning layout: %w", err)
		}
		layouts[name] = json.RawMessage(doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating layouts: %w", err)
	}
	return layouts, nil
}

// PutLayout stores a layout under name, replacing any previous layout with that name.
func (s *SQLiteStore) PutLayout(ctx context.Context, username, name string, layout json.RawMessage) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(layout, &obj); err != nil || obj == nil {
		return ErrInvalidDocument
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO layouts (username, name, doc, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(username, name) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at
	`, username, name, string(layout), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving layout: %w", err)
	}
	s.logger.Debug("saved layout", "user", username, "name", name)
	return nil
}

// DeleteLayout removes a named layout. Returns ErrNotFound if it does not exist.
func (s *SQLiteStore) DeleteLayout(ctx context.Context, username, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM layouts WHERE username = ? AND name = ?`, username, name)
	if err != nil {
		return fmt.Errorf("deleting layout: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
