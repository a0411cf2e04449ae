package blobstore

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/futureforging/omnia/capability"
)

// Memory returns a factory for the in-process blobstore, used in tests and
// throwaway deployments.
func Memory() capability.Factory {
	return func(ctx context.Context, logger zerolog.Logger) (capability.Capability, error) {
		return New(NewMemoryStore(), logger), nil
	}
}

// MemoryStore keeps containers and blobs in process memory.
type MemoryStore struct {
	mu         sync.Mutex
	containers map[string]*memoryContainer
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{containers: make(map[string]*memoryContainer)}
}

// Container implements Blobstore.
func (s *MemoryStore) Container(ctx context.Context, name string) (Container, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.containers[name]
	if !ok {
		c = &memoryContainer{blobs: make(map[string][]byte)}
		s.containers[name] = c
	}
	return c, nil
}

// Close implements Blobstore.
func (s *MemoryStore) Close(ctx context.Context) error { return nil }

type memoryContainer struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func (c *memoryContainer) Put(ctx context.Context, key string, data []byte) error {
	c.mu.Lock()
	c.blobs[key] = append([]byte(nil), data...)
	c.mu.Unlock()
	return nil
}

func (c *memoryContainer) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.blobs[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

func (c *memoryContainer) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.blobs, key)
	c.mu.Unlock()
	return nil
}

func (c *memoryContainer) List(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.blobs))
	for k := range c.blobs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
