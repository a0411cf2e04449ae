package host

import (
	"context"
	"testing"
)

type closeRecorder struct {
	name  string
	order *[]string
}

func (c *closeRecorder) Close(ctx context.Context) error {
	*c.order = append(*c.order, c.name)
	return nil
}

func TestResourceTableHandles(t *testing.T) {
	tbl := NewResourceTable()

	a := tbl.Put("a")
	b := tbl.Put("b")
	if a == 0 || b == 0 || a == b {
		t.Fatalf("expected distinct non-zero handles, got %d and %d", a, b)
	}

	got, ok := tbl.Get(a)
	if !ok || got != "a" {
		t.Fatalf("Get(%d) = %v, %v", a, got, ok)
	}

	if _, ok := tbl.Get(999); ok {
		t.Fatal("expected lookup of unknown handle to fail")
	}

	res, ok := tbl.Remove(a)
	if !ok || res != "a" {
		t.Fatalf("Remove(%d) = %v, %v", a, res, ok)
	}
	if _, ok := tbl.Get(a); ok {
		t.Fatal("expected removed handle to be gone")
	}
	if tbl.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", tbl.Len())
	}
}

func TestResourceTableReleaseReverseOrder(t *testing.T) {
	tbl := NewResourceTable()
	var order []string
	tbl.Put(&closeRecorder{name: "first", order: &order})
	tbl.Put(&closeRecorder{name: "second", order: &order})
	tbl.Put(&closeRecorder{name: "third", order: &order})

	tbl.Release(context.Background())

	if len(order) != 3 || order[0] != "third" || order[1] != "second" || order[2] != "first" {
		t.Fatalf("expected reverse insertion order, got %v", order)
	}

	// A second release is a no-op.
	tbl.Release(context.Background())
	if len(order) != 3 {
		t.Fatalf("second release closed again: %v", order)
	}

	// And the table is dead: no new handles.
	if id := tbl.Put("late"); id != 0 {
		t.Fatalf("expected Put after release to return 0, got %d", id)
	}
}

func TestResourceAs(t *testing.T) {
	tbl := NewResourceTable()
	id := tbl.Put(&closeRecorder{name: "x"})

	if _, ok := ResourceAs[*closeRecorder](tbl, id); !ok {
		t.Fatal("expected typed lookup to succeed")
	}
	if _, ok := ResourceAs[string](tbl, id); ok {
		t.Fatal("expected wrong-type lookup to fail")
	}
	if _, ok := ResourceAs[*closeRecorder](tbl, 999); ok {
		t.Fatal("expected unknown-handle lookup to fail")
	}
}
