// Package engine defines the contract every storage backend satisfies and
// the error taxonomy shared across backends. The log-structured store in
// internal/store is the primary implementation; Bolt is a thin adapter over
// an embedded B+tree store.
package engine

import "errors"

var (
	// ErrInvalidPath is returned by Open when the data path is not an
	// existing directory.
	ErrInvalidPath = errors.New("path is not a directory")

	// ErrKeyNotFound is returned by Remove when the key has no live entry.
	ErrKeyNotFound = errors.New("key not found")

	// ErrIndexDesynced means the in-memory index pointed at a record that is
	// not a live Set entry. The on-disk log and the index disagree.
	ErrIndexDesynced = errors.New("index is desynced")

	// ErrCorruptLog means a log record could not be decoded: truncated
	// frame, checksum mismatch, or malformed body.
	ErrCorruptLog = errors.New("log record corrupted")
)

// Engine is the storage contract the server dispatches requests against.
//
// Implementations are not required to be safe for concurrent mutation; the
// server serialises all calls on a single goroutine.
type Engine interface {
	// Set stores value under key, replacing any previous value. The write
	// is durable before Set returns.
	Set(key, value string) error

	// Get returns the value for key. The second return is false when the
	// key has no live entry; that is not an error.
	Get(key string) (string, bool, error)

	// Remove deletes key. Returns ErrKeyNotFound (possibly wrapped) when
	// the key has no live entry; nothing is written in that case.
	Remove(key string) error

	// Close flushes and releases the backing resources.
	Close() error
}
