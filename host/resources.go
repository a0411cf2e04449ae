package host

import (
	"context"
	"io"
	"sync"
)

// ResourceTable is the per-instance registry of opaque handles to host-side
// resources (open buckets, cursors, spans). Handles are instance-scoped
// integers: a handle minted by one instance is invalid in every other, even
// if the integer value repeats after the owner is torn down.
//
// The table is owned and mutated by a single instance; the mutex only
// guards against a teardown racing a late capability call.
type ResourceTable struct {
	mu       sync.Mutex
	next     uint32
	entries  map[uint32]any
	order    []uint32
	released bool
}

// NewResourceTable creates an empty table. Handles start at 1 so the zero
// value can signal "no handle" across the ABI.
func NewResourceTable() *ResourceTable {
	return &ResourceTable{next: 1, entries: make(map[uint32]any)}
}

// Put registers a resource and returns its handle. Returns 0 if the table
// has already been released.
func (t *ResourceTable) Put(res any) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		return 0
	}
	id := t.next
	t.next++
	t.entries[id] = res
	t.order = append(t.order, id)
	return id
}

// Get looks up a resource by handle.
func (t *ResourceTable) Get(id uint32) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	res, ok := t.entries[id]
	return res, ok
}

// Remove deletes a resource by handle without closing it, returning the
// resource for the caller to dispose.
func (t *ResourceTable) Remove(id uint32) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	res, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	return res, ok
}

// Len returns the number of live entries.
func (t *ResourceTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Release closes every entry in reverse insertion order and invalidates the
// table. Safe to call more than once; only the first call closes anything.
// Entries implementing io.Closer or Close(context.Context) error are closed;
// close errors do not stop the sweep.
func (t *ResourceTable) Release(ctx context.Context) {
	t.mu.Lock()
	if t.released {
		t.mu.Unlock()
		return
	}
	t.released = true
	entries := t.entries
	order := t.order
	t.entries = map[uint32]any{}
	t.order = nil
	t.mu.Unlock()

	for i := len(order) - 1; i >= 0; i-- {
		res, ok := entries[order[i]]
		if !ok {
			continue
		}
		switch c := res.(type) {
		case interface{ Close(context.Context) error }:
			_ = c.Close(ctx)
		case io.Closer:
			_ = c.Close()
		}
	}
}

// ResourceAs looks up a handle and asserts its concrete type. The second
// return is false when the handle is absent or holds a different type.
func ResourceAs[T any](t *ResourceTable, id uint32) (T, bool) {
	res, ok := t.Get(id)
	if !ok {
		var zero T
		return zero, false
	}
	typed, ok := res.(T)
	return typed, ok
}
