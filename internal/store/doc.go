// Package store provides persistent storage for the gateway using SQLite.
//
// # Architecture
//
// The store package uses small interfaces, each implemented by SQLiteStore:
//
//   - PreferenceStore: one JSON preference document per user
//   - LayoutStore: named JSON layout documents per user
//   - HistoryStore: backend lifecycle events, written by the orchestrator
//
// Store composes all three so the gateway holds a single value.
//
// # Documents
//
// Documents are stored as JSON text and never interpreted beyond being JSON
// objects. Preference updates merge by top-level key; clearing removes keys.
//
// # Database
//
// The database runs in WAL mode with a busy timeout. The schema is created on
// open.
package store
