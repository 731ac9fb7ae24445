// Package store provides the key/value persistence clonepilot keeps session
// state in.
//
// # Architecture
//
// The session layer depends only on the small KV interface:
//
//   - Get(ctx, key) returns the value or ErrNotFound
//   - Set(ctx, key, value) creates or replaces the value
//   - Close() releases resources
//
// Two implementations exist:
//
//   - MemoryStore: map guarded by a RWMutex, the default
//   - SQLiteStore: modernc.org/sqlite in WAL mode, one "kv" table
//
// Open(path) picks between them: an empty path or ":memory:" gives a
// MemoryStore, anything else is treated as a SQLite file path.
//
// # Concurrency
//
// Both implementations are safe for concurrent use. Callers that need
// read-modify-write atomicity for a single key must serialize themselves;
// the conversation layer does this with a per-contact lock.
package store
