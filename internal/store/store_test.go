package store

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := uuid.NewString()
	rec, err := s.Insert(ctx, id, []byte(`{"name":"a"}`))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if rec.Version != 1 {
		t.Errorf("expected version 1, got %d", rec.Version)
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != id || got.Version != 1 || string(got.Data) != `{"name":"a"}` {
		t.Errorf("unexpected record %+v", got)
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInsertDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Insert(ctx, "dup", []byte("a")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if _, err := s.Insert(ctx, "dup", []byte("b")); err == nil {
		t.Fatal("expected error inserting duplicate id")
	}
}

func TestCompareAndSwap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Insert(ctx, "rec", []byte("v1")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	swapped, err := s.CompareAndSwap(ctx, "rec", 1, []byte("v2"))
	if err != nil {
		t.Fatalf("CompareAndSwap failed: %v", err)
	}
	if !swapped {
		t.Fatal("expected swap to succeed at matching version")
	}

	got, err := s.Get(ctx, "rec")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Version != 2 || string(got.Data) != "v2" {
		t.Errorf("unexpected record after swap: %+v", got)
	}

	// A stale version does not write.
	swapped, err = s.CompareAndSwap(ctx, "rec", 1, []byte("v3"))
	if err != nil {
		t.Fatalf("CompareAndSwap failed: %v", err)
	}
	if swapped {
		t.Fatal("expected swap to fail at stale version")
	}
	got, _ = s.Get(ctx, "rec")
	if got.Version != 2 || string(got.Data) != "v2" {
		t.Errorf("stale swap mutated record: %+v", got)
	}

	// A missing record behaves like a version miss.
	swapped, err = s.CompareAndSwap(ctx, "missing", 1, []byte("x"))
	if err != nil {
		t.Fatalf("CompareAndSwap failed: %v", err)
	}
	if swapped {
		t.Fatal("expected swap to fail for missing record")
	}
}

func TestForceUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Insert(ctx, "rec", []byte("v1")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	version, err := s.ForceUpdate(ctx, "rec", []byte("v2"))
	if err != nil {
		t.Fatalf("ForceUpdate failed: %v", err)
	}
	if version != 2 {
		t.Errorf("expected version 2, got %d", version)
	}

	if _, err := s.ForceUpdate(ctx, "missing", []byte("x")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Insert(ctx, "rec", []byte("v1")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := s.Delete(ctx, "rec"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "rec"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.Delete(ctx, "rec"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestCompareAndSwapAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if _, err := s.Insert(ctx, id, []byte("v1")); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	// All versions match: the whole batch commits.
	idx, err := s.CompareAndSwapAll(ctx, []SwapRequest{
		{ID: "a", Expected: 1, Data: []byte("v2")},
		{ID: "b", Expected: 1, Data: []byte("v2")},
	})
	if err != nil {
		t.Fatalf("CompareAndSwapAll failed: %v", err)
	}
	if idx != -1 {
		t.Fatalf("expected full batch success, got conflict at %d", idx)
	}

	// One stale version: nothing from the batch sticks.
	idx, err = s.CompareAndSwapAll(ctx, []SwapRequest{
		{ID: "c", Expected: 1, Data: []byte("v2")},
		{ID: "a", Expected: 1, Data: []byte("v3")}, // now at version 2
	})
	if err != nil {
		t.Fatalf("CompareAndSwapAll failed: %v", err)
	}
	if idx != 1 {
		t.Fatalf("expected conflict at index 1, got %d", idx)
	}

	got, err := s.Get(ctx, "c")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Version != 1 || string(got.Data) != "v1" {
		t.Errorf("aborted batch leaked a write: %+v", got)
	}
}
