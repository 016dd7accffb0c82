package hotreload

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/occkit/occkit/internal/settings"
)

// Listener receives one setting change at a time. The settings object's
// HandleChange method satisfies this signature.
type Listener func(ctx context.Context, change settings.Change) error

// Broadcaster fans out setting changes to named listeners.
type Broadcaster struct {
	listeners map[string]Listener
	mu        sync.RWMutex
}

// NewBroadcaster creates a new change broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		listeners: make(map[string]Listener),
	}
}

// AddListener adds a listener with a unique name.
func (b *Broadcaster) AddListener(name string, listener Listener) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.listeners[name]; exists {
		return fmt.Errorf("listener %s already exists", name)
	}

	b.listeners[name] = listener
	slog.Debug("Added change listener", "name", name)
	return nil
}

// RemoveListener removes a listener by name.
func (b *Broadcaster) RemoveListener(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.listeners, name)
	slog.Debug("Removed change listener", "name", name)
}

// Broadcast delivers a change to every registered listener. Listener
// errors are collected; one failing listener does not stop the others.
func (b *Broadcaster) Broadcast(ctx context.Context, change settings.Change) error {
	b.mu.RLock()
	listeners := make(map[string]Listener, len(b.listeners))
	for name, listener := range b.listeners {
		listeners[name] = listener
	}
	b.mu.RUnlock()

	if len(listeners) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(listeners))

	for name, listener := range listeners {
		wg.Add(1)
		go func(n string, l Listener) {
			defer wg.Done()
			if err := l(ctx, change); err != nil {
				errs <- fmt.Errorf("listener %s: %w", n, err)
			}
		}(name, listener)
	}

	wg.Wait()
	close(errs)

	var failed []error
	for err := range errs {
		failed = append(failed, err)
	}
	if len(failed) > 0 {
		return fmt.Errorf("broadcast of %s failed with %d errors: %w", change.Key, len(failed), failed[0])
	}
	return nil
}

// Close removes all listeners.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.listeners = make(map[string]Listener)
	slog.Debug("Change broadcaster closed")
}

// ListenerCount returns the number of registered listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// HasListener checks if a listener with the given name exists.
func (b *Broadcaster) HasListener(name string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, exists := b.listeners[name]
	return exists
}
