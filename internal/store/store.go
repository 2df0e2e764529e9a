// Package store persists persons, items and timers in SQLite.
//
// Sensitive columns (item text, person names) are sealed through
// internal/secrets before insertion, so the database file holds only
// ciphertext. Every operation is a single-statement write: the store
// offers no cross-operation locking beyond per-row atomicity.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"tally/internal/secrets"
)

const schema = `
CREATE TABLE IF NOT EXISTS persons (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	provider TEXT NOT NULL,
	verified INTEGER NOT NULL DEFAULT 0,
	created_at_unixms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	owner_id INTEGER REFERENCES persons(id),
	text TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	created_at_unixms INTEGER NOT NULL,
	updated_at_unixms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS timers (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	item_id INTEGER NOT NULL REFERENCES items(id),
	start_unixms INTEGER NOT NULL,
	stop_unixms INTEGER
);

CREATE INDEX IF NOT EXISTS idx_items_owner ON items(owner_id);
CREATE INDEX IF NOT EXISTS idx_items_status ON items(status);
CREATE INDEX IF NOT EXISTS idx_timers_item ON timers(item_id);
`

// Store wraps the SQLite handle plus the field-encryption box.
type Store struct {
	db   *sql.DB
	box  *secrets.Box
	path string
	now  func() time.Time
}

// DefaultPath returns ~/.tally/tally.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".tally", "tally.db"), nil
}

// Open opens or creates the database at path and applies the schema.
// The field-encryption key lives next to the db as secret.key and is
// generated on first use.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	box, err := secrets.LoadOrInit(filepath.Join(dir, "secret.key"))
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db, box: box, path: path, now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Path is the location of the database file the store was opened with.
func (s *Store) Path() string { return s.path }

func (s *Store) exists(ctx context.Context, table string, id int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM `+table+` WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func timeToMs(t time.Time) int64 { return t.UTC().UnixMilli() }

func msToTime(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
