package pointer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// SQLite stores pointers in a preferences table of a local database file.
type SQLite struct {
	db  *sql.DB
	key string
}

// OpenSQLite opens (creating when needed) the database at path. An empty
// path selects state.db under StateDir.
func OpenSQLite(ctx context.Context, path, key string) (*SQLite, error) {
	if path == "" {
		path = filepath.Join(StateDir(), "state.db")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	store, err := NewSQLite(ctx, db, key)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLite uses an existing handle and creates the preferences table.
func NewSQLite(ctx context.Context, db *sql.DB, key string) (*SQLite, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite handle is required")
	}
	if key == "" {
		key = DefaultKey
	}
	const schema = `CREATE TABLE IF NOT EXISTS preferences (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("create preferences table: %w", err)
	}
	return &SQLite{db: db, key: key}, nil
}

// Load implements Store.
func (s *SQLite) Load(ctx context.Context) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, s.key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load pointer: %w", err)
	}
	return value, nil
}

// Save implements Store.
func (s *SQLite) Save(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO preferences (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		s.key, path)
	if err != nil {
		return fmt.Errorf("save pointer: %w", err)
	}
	return nil
}

// Clear implements Store.
func (s *SQLite) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM preferences WHERE key = ?`, s.key); err != nil {
		return fmt.Errorf("clear pointer: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}
