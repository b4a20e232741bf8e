package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteBackend keeps step metadata in a SQLite journal, keyed by the
// metadata path. Useful when checkpoint storage is an object store and a
// local, queryable record of every save attempt is wanted.
type SQLiteBackend struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// Compile-time interface check.
var _ Backend = (*SQLiteBackend)(nil)

// NewSQLiteBackend opens (creating if needed) a SQLite journal.
// The path should be a file path or ":memory:" for testing.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS step_metadata (
			path TEXT NOT NULL PRIMARY KEY,
			updated TEXT NOT NULL,
			data BLOB NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteBackend{db: db}, nil
}

// Put implements Backend.
func (s *SQLiteBackend) Put(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO step_metadata (path, updated, data)
		VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			updated = excluded.updated,
			data = excluded.data
	`, key, time.Now().UTC().Format(time.RFC3339Nano), data)
	if err != nil {
		return fmt.Errorf("save step metadata: %w", err)
	}
	return nil
}

// Get implements Backend.
func (s *SQLiteBackend) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM step_metadata WHERE path = ?
	`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load step metadata: %w", err)
	}
	return data, nil
}

// Entry is one journal row.
type Entry struct {
	Path     string
	Updated  time.Time
	Metadata StepMetadata
}

// List returns all journal rows whose path starts with prefix, ordered by
// path.
func (s *SQLiteBackend) List(ctx context.Context, prefix string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT path, updated, data FROM step_metadata
		WHERE substr(path, 1, length(?)) = ?
		ORDER BY path
	`, prefix, prefix)
	if err != nil {
		return nil, fmt.Errorf("list step metadata: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var updated string
		var data []byte
		if err := rows.Scan(&e.Path, &updated, &data); err != nil {
			return nil, fmt.Errorf("scan step metadata: %w", err)
		}
		e.Updated, _ = time.Parse(time.RFC3339Nano, updated)
		if e.Metadata, err = Unmarshal(data); err != nil {
			return nil, fmt.Errorf("%s: %w", e.Path, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate step metadata: %w", err)
	}
	return entries, nil
}

// Close implements Backend. Close is idempotent.
func (s *SQLiteBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}
