// ABOUTME: Hot-reloaded user lookup tables mapping token subjects to system accounts
// ABOUTME: Tables are rebuilt whole on file change and swapped in atomically

package auth

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// UserTable is a subject to system user map loaded from a text file with one
// "<subject> <systemUser>" pair per line. Lines starting with # are comments.
type UserTable struct {
	path    string
	logger  *slog.Logger
	entries atomic.Pointer[map[string]string]
}

// NewUserTable creates a table for path. The table is empty until Load succeeds.
func NewUserTable(path string, logger *slog.Logger) *UserTable {
	t := &UserTable{
		path:   filepath.Clean(path),
		logger: logger.With("table", path),
	}
	empty := map[string]string{}
	t.entries.Store(&empty)
	return t
}

// Path returns the watched file.
func (t *UserTable) Path() string { return t.path }

// Load reads the file and replaces the active map. On error the previous map stays active.
func (t *UserTable) Load() error {
	f, err := os.Open(t.path)
	if err != nil {
		t.logger.Error("reading user table", "error", err)
		return fmt.Errorf("reading user table: %w", err)
	}
	defer f.Close()

	entries, err := parseUserTable(f, t.logger)
	if err != nil {
		t.logger.Error("reading user table", "error", err)
		return fmt.Errorf("reading user table: %w", err)
	}
	t.entries.Store(&entries)
	t.logger.Info("updated user table", "entries", len(entries))
	return nil
}

// Lookup returns the system user for subject.
func (t *UserTable) Lookup(subject string) (string, bool) {
	user, ok := (*t.entries.Load())[subject]
	return user, ok
}

// Len returns the number of active entries.
func (t *UserTable) Len() int {
	return len(*t.entries.Load())
}

// Watch reloads the table whenever the file is written or recreated, until ctx is done.
// The parent directory is watched so editors that replace the file by rename still trigger a reload.
func (t *UserTable) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(t.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", t.path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if filepath.Clean(event.Name) != t.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			t.logger.Debug("user table changed", "op", event.Op.String())
			_ = t.Load()

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			t.logger.Error("watcher error", "error", err)
		}
	}
}

func parseUserTable(r io.Reader, logger *slog.Logger) (map[string]string, error) {
	entries := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			logger.Warn("ignoring malformed user table line", "line", line)
			continue
		}
		entries[fields[0]] = fields[1]
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// IdentityMapper resolves (subject, issuer) to the system account a backend runs as.
type IdentityMapper struct {
	mu     sync.RWMutex
	tables map[string]*UserTable
}

// NewIdentityMapper creates a mapper with no tables; every issuer passes subjects through.
func NewIdentityMapper() *IdentityMapper {
	return &IdentityMapper{tables: make(map[string]*UserTable)}
}

// Bind attaches table to issuer. One table may be bound to several issuer aliases.
func (m *IdentityMapper) Bind(issuer string, table *UserTable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[issuer] = table
}

// Resolve returns the execution identity for subject. Issuers without a table pass the
// subject through unchanged; with a table, unmapped subjects do not resolve.
func (m *IdentityMapper) Resolve(subject, issuer string) (string, bool) {
	m.mu.RLock()
	table, ok := m.tables[issuer]
	m.mu.RUnlock()
	if !ok {
		return subject, subject != ""
	}
	return table.Lookup(subject)
}

// Tables returns the distinct tables bound to any issuer.
func (m *IdentityMapper) Tables() []*UserTable {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[*UserTable]struct{}, len(m.tables))
	var out []*UserTable
	for _, t := range m.tables {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
