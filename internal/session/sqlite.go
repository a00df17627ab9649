// ABOUTME: SQLite session backend using modernc.org/sqlite
// ABOUTME: One row per session key with automatic schema creation

package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type sqliteBlob struct {
	db  *sql.DB
	key string
}

// NewSQLiteStore returns a Store that persists records in a SQLite database.
// The key selects the row, so one database can hold records for several
// customers (e.g. a shared kiosk host). The schema is created automatically
// and parent directories are created if needed.
func NewSQLiteStore(path, key string) (Store, error) {
	if key == "" {
		key = "default"
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			key        TEXT PRIMARY KEY,
			record     TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return newBlobStore(&sqliteBlob{db: db, key: key}, "session"), nil
}

func (s *sqliteBlob) load(ctx context.Context) ([]byte, error) {
	var record string
	err := s.db.QueryRowContext(ctx,
		"SELECT record FROM sessions WHERE key = ?", s.key).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(record), nil
}

func (s *sqliteBlob) store(ctx context.Context, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (key, record, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at
	`, s.key, string(data), time.Now().UTC())
	return err
}

func (s *sqliteBlob) close() error {
	return s.db.Close()
}
