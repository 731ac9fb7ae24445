// ABOUTME: KV interface and shared errors for clonepilot persistence
// ABOUTME: Session state is stored as opaque values under string keys

package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested key does not exist
var ErrNotFound = errors.New("not found")

// ErrClosed is returned by operations on a store that has been closed
var ErrClosed = errors.New("store closed")

// KV is the key/value capability the session layer is built on.
// Implementations must be safe for concurrent use across distinct keys.
// Values handed to Set are copied; values returned by Get are owned by the caller.
type KV interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set creates or replaces the value stored under key.
	Set(ctx context.Context, key string, value []byte) error

	// Close releases any resources held by the store.
	Close() error
}

// Open returns the store selected by path: an in-memory store for an empty
// path or ":memory:", otherwise a SQLite database at path.
func Open(path string) (KV, error) {
	if path == "" || path == ":memory:" {
		return NewMemoryStore(), nil
	}
	return NewSQLiteStore(path)
}
