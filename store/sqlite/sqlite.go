// Package sqlite implements store.Store on a single SQLite database file.
//
// The database lives at a fixed name inside a caller-supplied directory and
// is created on first open. WAL mode plus a bounded busy timeout make the
// conditional update safe across threads and OS processes sharing the file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-sqlite3"

	"github.com/unkn0wn-root/duraref/store"
)

// FileName is the database file created inside the store directory.
const FileName = "refs.db"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS refs (
	key     TEXT PRIMARY KEY,
	value   TEXT    NOT NULL,
	version INTEGER NOT NULL DEFAULT 1
)`

// Store provides durable storage for duraref records.
// Uses SQLite with WAL mode for concurrent cross-process access.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open creates or opens the reference database inside dir, creating the
// directory if needed. Idempotent - safe to call multiple times, including
// from different processes.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - bounded mmap and WAL size, small page cache
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("sqlite: store directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sqlite: create store directory: %w", err)
	}

	path := filepath.Join(dir, FileName)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: connect to database: %w", err)
	}

	// SQLite supports one writer at a time; a single connection per process
	// avoids needless in-process SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Load(ctx context.Context, key string) (string, int64, bool, error) {
	var (
		value   string
		version int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT value, version FROM refs WHERE key = ?", key,
	).Scan(&value, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, classify(err)
	}
	return value, version, true, nil
}

func (s *Store) Version(ctx context.Context, key string) (int64, bool, error) {
	var version int64
	err := s.db.QueryRowContext(ctx,
		"SELECT version FROM refs WHERE key = ?", key,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, classify(err)
	}
	return version, true, nil
}

func (s *Store) InsertIfAbsent(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO refs (key, value) VALUES (?, ?) ON CONFLICT(key) DO NOTHING",
		key, value,
	)
	return classify(err)
}

// UpdateIf is the conditional-write primitive: one UPDATE statement gated on
// the expected version, so the version check and the write are a single
// atomic step even with uncoordinated writers in other processes.
func (s *Store) UpdateIf(ctx context.Context, key, value string, expected int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE refs SET value = ?, version = version + 1 WHERE key = ? AND version = ?",
		value, key, expected,
	)
	if err != nil {
		return false, classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM refs")
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *Store) Remove(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM refs WHERE key = ?", key)
	return classify(err)
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA cache_size = -2000",            // 2 MiB page cache
		"PRAGMA mmap_size = 134217728",         // 128 MiB
		"PRAGMA journal_size_limit = 67108864", // 64 MiB WAL cap
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// classify maps driver-level lock contention onto store.ErrBusy so callers
// can distinguish a transient busy failure from a broken store.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %v", store.ErrBusy, err)
	}
	return err
}
