// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"sync"

	"github.com/projectm/lms-session/internal/port/outbound"
)

// KVStore implements outbound.WatchableStore with an in-memory map.
// Thread-safe for concurrent access. State is lost on exit, so it is meant
// for tests and for `storage.driver: memory`.
type KVStore struct {
	mu       sync.RWMutex
	values   map[string]string
	watchers map[int]func(key string)
	nextID   int
}

// NewKVStore creates an empty in-memory store.
func NewKVStore() *KVStore {
	return &KVStore{
		values:   make(map[string]string),
		watchers: make(map[int]func(key string)),
	}
}

// Get returns the value stored under key.
func (s *KVStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	return v, ok, nil
}

// Set stores value under key and notifies watchers when the value changed.
func (s *KVStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	old, existed := s.values[key]
	s.values[key] = value
	watchers := s.snapshotWatchers()
	s.mu.Unlock()

	if !existed || old != value {
		notify(watchers, key)
	}
	return nil
}

// Delete removes keys and notifies watchers for each key that existed.
func (s *KVStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	var removed []string
	for _, k := range keys {
		if _, ok := s.values[k]; ok {
			delete(s.values, k)
			removed = append(removed, k)
		}
	}
	watchers := s.snapshotWatchers()
	s.mu.Unlock()

	for _, k := range removed {
		notify(watchers, k)
	}
	return nil
}

// Watch registers fn until ctx is cancelled. Callbacks run synchronously on
// the goroutine that performed the write.
func (s *KVStore) Watch(ctx context.Context, fn func(key string)) error {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}()
	return nil
}

// Len returns the number of stored keys.
// Useful for testing cleanup behavior.
func (s *KVStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Close is a no-op for the in-memory store.
func (s *KVStore) Close() error {
	return nil
}

// snapshotWatchers copies the watcher set. Caller holds s.mu.
func (s *KVStore) snapshotWatchers() []func(string) {
	out := make([]func(string), 0, len(s.watchers))
	for _, fn := range s.watchers {
		out = append(out, fn)
	}
	return out
}

func notify(watchers []func(string), key string) {
	for _, fn := range watchers {
		fn(key)
	}
}

// Compile-time interface verification.
var _ outbound.WatchableStore = (*KVStore)(nil)
