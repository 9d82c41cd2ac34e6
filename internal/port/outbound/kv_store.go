// Package outbound defines the outbound port interfaces for persisting
// client session state outside the process.
package outbound

import (
	"context"
	"errors"
)

// ErrWatchUnsupported is returned by Watch on stores that cannot observe
// changes made by other processes.
var ErrWatchUnsupported = errors.New("watch not supported by store")

// KeyValueStore is the outbound port for string-keyed persistence that
// survives process restarts. Adapters: JSON file, SQLite, in-memory.
type KeyValueStore interface {
	// Get returns the value stored under key. The bool is false when the
	// key is absent.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// Close releases resources held by the store.
	Close() error
}

// WatchableStore is implemented by stores that can report changes.
type WatchableStore interface {
	KeyValueStore

	// Watch calls fn with the key of every value that changes until ctx is
	// cancelled. Returns ErrWatchUnsupported when the backend cannot watch.
	Watch(ctx context.Context, fn func(key string)) error
}
