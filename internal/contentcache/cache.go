// Package contentcache provides a small content-addressed memo cache:
// callers derive a SHA-256 key from the content that determines a result,
// and the cache maps that key to the result through a pluggable store.
package contentcache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
)

// Key hashes the given parts into a hex-encoded SHA-256 digest. Parts are
// joined with a separator so ("ab","c") and ("a","bc") never collide.
func Key(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// Store is the backing storage for a Cache. Implementations must be safe for
// concurrent use.
type Store[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
}

// Cache memoizes results by content hash.
type Cache[T any] struct {
	store Store[T]
}

// New creates a cache over the given store. A nil store gets an in-memory one.
func New[T any](store Store[T]) *Cache[T] {
	if store == nil {
		store = NewMemoryStore[T]()
	}
	return &Cache[T]{store: store}
}

// Get returns the cached value for key, if any.
func (c *Cache[T]) Get(key string) (T, bool) {
	return c.store.Get(key)
}

// Put stores value under key.
func (c *Cache[T]) Put(key string, value T) {
	c.store.Set(key, value)
}

// MemoryStore is a mutex-guarded map store.
type MemoryStore[T any] struct {
	mu sync.RWMutex
	m  map[string]T
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore[T any]() *MemoryStore[T] {
	return &MemoryStore[T]{m: make(map[string]T)}
}

// Get returns the value for key, if present.
func (s *MemoryStore[T]) Get(key string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok
}

// Set stores value under key.
func (s *MemoryStore[T]) Set(key string, value T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
}

// Len reports how many entries the store holds.
func (s *MemoryStore[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}
