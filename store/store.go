// Package store defines the durable backend abstraction used by duraref.
//
// A Store keeps one record per key: (key, value, version). Versions start at
// 1 and increase by exactly 1 on every successful conditional update; they
// never decrease and never skip. UpdateIf MUST be atomic across all threads
// and processes sharing the store - a single conditional statement, never an
// application-level read-then-write.
//
// Implementations MUST be value-transparent: Load must return exactly the
// string previously written for a key (no re-encoding, no mutation).
package store

import (
	"context"
	"errors"
)

// ErrBusy is wrapped by implementations when write-lock contention exceeds
// the configured bounded wait. Callers treat it as transient and may retry
// the whole operation.
var ErrBusy = errors.New("store: busy")

// Store is a minimal versioned record store.
// Must be safe for concurrent use from multiple goroutines; SQLite-style
// implementations additionally make UpdateIf safe across OS processes.
type Store interface {
	// Load returns (value, version, true, nil) when the key has a record,
	// (_, _, false, nil) when it does not.
	Load(ctx context.Context, key string) (value string, version int64, ok bool, err error)

	// Version returns the current version only, without fetching the value.
	Version(ctx context.Context, key string) (version int64, ok bool, err error)

	// InsertIfAbsent creates the record at version 1. No-op when the key
	// already has a record.
	InsertIfAbsent(ctx context.Context, key, value string) error

	// UpdateIf atomically sets value and increments version iff the stored
	// version equals expected. Returns false (and no error) when another
	// writer got there first.
	UpdateIf(ctx context.Context, key, value string, expected int64) (bool, error)

	// List returns all currently persisted keys, order unspecified.
	List(ctx context.Context) ([]string, error)

	// Remove deletes the record. Idempotent; removing an absent key is not
	// an error. Handles discover removal lazily, on their next access.
	Remove(ctx context.Context, key string) error

	// Close releases resources.
	Close() error
}
