// Package cache provides the per-user local task snapshot store.
// The cache exists so the UI can paint instantly before the remote
// fetch completes; it is an optimization, never a source of truth, and
// every failure here is non-fatal.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "modernc.org/sqlite"

	"taskflow/gateway"
)

// Store is a key-value snapshot store backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open creates a Store at the given path and initializes the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &gateway.CacheError{Op: "open", Err: err}
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, &gateway.CacheError{Op: "open", Err: err}
	}

	return s, nil
}

// initSchema creates the snapshot table if it doesn't exist.
func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS snapshots (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			saved_at TEXT NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Key returns the cache key for one user's task list.
func Key(userID string) string {
	return "tasks:" + userID
}

// Load returns the cached task list for a user, or nil if there is no
// usable snapshot. A corrupt payload is reported as a CacheError so the
// caller can warn, but is otherwise equivalent to an empty cache.
func (s *Store) Load(ctx context.Context, userID string) ([]gateway.Task, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM snapshots WHERE key = ?", Key(userID),
	).Scan(&value)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &gateway.CacheError{Op: "load", Err: err}
	}

	var tasks []gateway.Task
	if err := json.Unmarshal([]byte(value), &tasks); err != nil {
		return nil, &gateway.CacheError{Op: "load", Err: err}
	}
	return tasks, nil
}

// Save replaces the cached task list for a user.
func (s *Store) Save(ctx context.Context, userID string, tasks []gateway.Task) error {
	if tasks == nil {
		tasks = []gateway.Task{}
	}
	value, err := json.Marshal(tasks)
	if err != nil {
		return &gateway.CacheError{Op: "save", Err: err}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (key, value, saved_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, saved_at = excluded.saved_at`,
		Key(userID), string(value), now,
	)
	if err != nil {
		return &gateway.CacheError{Op: "save", Err: err}
	}
	return nil
}

// Clear removes the cached task list for a user.
func (s *Store) Clear(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM snapshots WHERE key = ?", Key(userID))
	if err != nil {
		return &gateway.CacheError{Op: "clear", Err: err}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
