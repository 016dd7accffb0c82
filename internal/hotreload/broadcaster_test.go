package hotreload

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/occkit/occkit/internal/settings"
)

func TestNewBroadcaster(t *testing.T) {
	b := NewBroadcaster()
	if b == nil {
		t.Fatal("NewBroadcaster returned nil")
	}
	if b.ListenerCount() != 0 {
		t.Errorf("expected 0 listeners, got %d", b.ListenerCount())
	}
}

func TestBroadcasterAddListener(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	listener := func(ctx context.Context, change settings.Change) error { return nil }

	if err := b.AddListener("test1", listener); err != nil {
		t.Fatalf("failed to add listener: %v", err)
	}
	if !b.HasListener("test1") {
		t.Error("expected listener test1 to exist")
	}
	if b.ListenerCount() != 1 {
		t.Errorf("expected 1 listener, got %d", b.ListenerCount())
	}

	if err := b.AddListener("test1", listener); err == nil {
		t.Fatal("expected error when adding listener with duplicate name")
	}
}

func TestBroadcasterRemoveListener(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	listener := func(ctx context.Context, change settings.Change) error { return nil }
	if err := b.AddListener("test1", listener); err != nil {
		t.Fatalf("AddListener failed: %v", err)
	}

	b.RemoveListener("test1")
	if b.HasListener("test1") {
		t.Error("expected listener test1 to be removed")
	}

	// Removing a missing listener is a no-op.
	b.RemoveListener("missing")
}

func TestBroadcasterBroadcast(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	var delivered atomic.Int64
	var gotKey atomic.Value
	listener := func(ctx context.Context, change settings.Change) error {
		delivered.Add(1)
		gotKey.Store(change.Key)
		return nil
	}

	if err := b.AddListener("a", listener); err != nil {
		t.Fatalf("AddListener failed: %v", err)
	}
	if err := b.AddListener("b", listener); err != nil {
		t.Fatalf("AddListener failed: %v", err)
	}

	change := settings.Change{Key: "CONCURRENCY_POLICY", Value: "silent|raise"}
	if err := b.Broadcast(context.Background(), change); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	if delivered.Load() != 2 {
		t.Errorf("expected 2 deliveries, got %d", delivered.Load())
	}
	if gotKey.Load() != "CONCURRENCY_POLICY" {
		t.Errorf("unexpected delivered key %v", gotKey.Load())
	}
}

func TestBroadcasterBroadcastErrors(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	failErr := errors.New("rejected")
	if err := b.AddListener("failing", func(ctx context.Context, change settings.Change) error {
		return failErr
	}); err != nil {
		t.Fatalf("AddListener failed: %v", err)
	}

	var delivered atomic.Int64
	if err := b.AddListener("healthy", func(ctx context.Context, change settings.Change) error {
		delivered.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("AddListener failed: %v", err)
	}

	err := b.Broadcast(context.Background(), settings.Change{Key: "CONCURRENCY_ENABLED", Value: "nope"})
	if err == nil {
		t.Fatal("expected broadcast error from failing listener")
	}
	if !errors.Is(err, failErr) {
		t.Errorf("expected wrapped listener error, got %v", err)
	}
	if delivered.Load() != 1 {
		t.Error("healthy listener should still receive the change")
	}
}

func TestBroadcasterEmptyBroadcast(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	if err := b.Broadcast(context.Background(), settings.Change{Key: "X"}); err != nil {
		t.Fatalf("broadcast with no listeners should be a no-op, got %v", err)
	}
}
