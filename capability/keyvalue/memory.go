package keyvalue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/futureforging/omnia/capability"
)

// Memory returns a factory for the in-process store. The default backend:
// no external service, TTL enforced against the wall clock.
func Memory() capability.Factory {
	return func(ctx context.Context, logger zerolog.Logger) (capability.Capability, error) {
		return New(NewMemoryStore(), logger), nil
	}
}

// MemoryStore is a thread-safe in-memory key-value store with lazy TTL
// expiry. Useful as the default backend and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[string]*memoryBucket
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*memoryBucket)}
}

// Open returns the named bucket, creating it on first use. All instances
// opening the same name share one bucket: consistency across concurrent
// instances is the backend's (here: last-write-wins under a mutex).
func (s *MemoryStore) Open(ctx context.Context, name string) (Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[name]
	if !ok {
		b = &memoryBucket{entries: make(map[string]memoryEntry)}
		s.buckets[name] = b
	}
	return b, nil
}

// Close implements Store.
func (s *MemoryStore) Close(ctx context.Context) error { return nil }

type memoryEntry struct {
	value   []byte
	expires time.Time // zero means no expiry
}

type memoryBucket struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

func (b *memoryBucket) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b.mu.RLock()
	e, ok := b.entries[key]
	b.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		b.mu.Lock()
		// Re-check under the write lock; a Set may have raced the expiry.
		if cur, ok := b.entries[key]; ok && !cur.expires.IsZero() && time.Now().After(cur.expires) {
			delete(b.entries, key)
		}
		b.mu.Unlock()
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (b *memoryBucket) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	b.mu.Lock()
	b.entries[key] = e
	b.mu.Unlock()
	return nil
}

func (b *memoryBucket) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	delete(b.entries, key)
	b.mu.Unlock()
	return nil
}
