package settings

import (
	"context"
	"fmt"
	"net/http"
	"sync"
)

// Conflict describes a detected write conflict on a single record.
type Conflict struct {
	RecordID string
	Expected int64
	Actual   int64
}

// ConflictFunc handles a conflict when the callback policy is active.
type ConflictFunc func(ctx context.Context, conflict Conflict) error

// Signer signs and verifies version tokens handed to clients.
type Signer interface {
	Sign(value string) string
	Verify(signed string) (string, error)
}

// ConflictHandler writes the HTTP response for a conflicted save.
type ConflictHandler func(w http.ResponseWriter, r *http.Request, conflict Conflict)

// registry is a process-wide name -> value table. Go cannot resolve a
// callable from an import path string the way a dynamic runtime can, so
// configuration refers to callables by registered name instead.
type registry[T any] struct {
	mu      sync.RWMutex
	entries map[string]T
}

func newRegistry[T any]() *registry[T] {
	return &registry[T]{entries: make(map[string]T)}
}

func (r *registry[T]) register(kind, name string, value T) error {
	if name == "" {
		return fmt.Errorf("%s name cannot be empty", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("%s %q already registered", kind, name)
	}
	r.entries[name] = value
	return nil
}

func (r *registry[T]) resolve(kind, name string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	value, ok := r.entries[name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%s %q is not registered", kind, name)
	}
	return value, nil
}

var (
	callbacks = newRegistry[ConflictFunc]()
	signers   = newRegistry[Signer]()
	handlers  = newRegistry[ConflictHandler]()
)

// RegisterCallback makes a conflict callback resolvable by name.
func RegisterCallback(name string, fn ConflictFunc) error {
	if fn == nil {
		return fmt.Errorf("callback %q cannot be nil", name)
	}
	return callbacks.register("callback", name, fn)
}

// ResolveCallback looks up a previously registered conflict callback.
func ResolveCallback(name string) (ConflictFunc, error) {
	return callbacks.resolve("callback", name)
}

// RegisterSigner makes a version-field signer resolvable by name.
func RegisterSigner(name string, s Signer) error {
	if s == nil {
		return fmt.Errorf("signer %q cannot be nil", name)
	}
	return signers.register("signer", name, s)
}

// ResolveSigner looks up a previously registered signer.
func ResolveSigner(name string) (Signer, error) {
	return signers.resolve("signer", name)
}

// RegisterHandler409 makes a conflict response handler resolvable by name.
func RegisterHandler409(name string, h ConflictHandler) error {
	if h == nil {
		return fmt.Errorf("handler %q cannot be nil", name)
	}
	return handlers.register("handler", name, h)
}

// ResolveHandler409 looks up a previously registered conflict handler.
func ResolveHandler409(name string) (ConflictHandler, error) {
	return handlers.resolve("handler", name)
}
