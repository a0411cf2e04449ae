package blobstore

import (
	"context"
	"sort"
	"testing"
)

// exerciseStore runs the contract shared by every backend.
func exerciseStore(t *testing.T, store Blobstore) {
	t.Helper()
	ctx := context.Background()

	c, err := store.Container(ctx, "uploads")
	if err != nil {
		t.Fatalf("Container: %v", err)
	}

	if _, found, _ := c.Get(ctx, "missing"); found {
		t.Fatal("expected miss for unknown key")
	}

	if err := c.Put(ctx, "a.txt", []byte("alpha")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.Put(ctx, "b/nested.txt", []byte("beta")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, found, err := c.Get(ctx, "a.txt")
	if err != nil || !found || string(got) != "alpha" {
		t.Fatalf("Get = %q, %v, %v", got, found, err)
	}

	// Keys with path separators come back verbatim.
	got, found, _ = c.Get(ctx, "b/nested.txt")
	if !found || string(got) != "beta" {
		t.Fatalf("expected nested key round trip, got %q, %v", got, found)
	}

	keys, err := c.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "a.txt" || keys[1] != "b/nested.txt" {
		t.Fatalf("unexpected keys: %v", keys)
	}

	if err := c.Delete(ctx, "a.txt"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, found, _ := c.Get(ctx, "a.txt"); found {
		t.Fatal("expected miss after delete")
	}
	// Deleting a missing key is not an error.
	if err := c.Delete(ctx, "a.txt"); err != nil {
		t.Fatalf("double delete: %v", err)
	}

	// Containers are isolated.
	other, _ := store.Container(ctx, "other")
	if _, found, _ := other.Get(ctx, "b/nested.txt"); found {
		t.Fatal("expected containers to be isolated")
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestFilesystemStore(t *testing.T) {
	store, err := OpenFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("OpenFilesystem: %v", err)
	}
	exerciseStore(t, store)
}

func TestFilesystemOverwrite(t *testing.T) {
	ctx := context.Background()
	store, err := OpenFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("OpenFilesystem: %v", err)
	}
	c, _ := store.Container(ctx, "uploads")

	_ = c.Put(ctx, "k", []byte("v1"))
	if err := c.Put(ctx, "k", []byte("v2")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _, _ := c.Get(ctx, "k")
	if string(got) != "v2" {
		t.Fatalf("expected overwrite, got %q", got)
	}
	keys, _ := c.List(ctx)
	if len(keys) != 1 {
		t.Fatalf("expected single key after overwrite, got %v", keys)
	}
}
