package settings

import (
	"context"
	"net/http"
	"testing"
)

func TestRegistryDuplicates(t *testing.T) {
	fn := func(ctx context.Context, c Conflict) error { return nil }

	if err := RegisterCallback("dup-cb", fn); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}
	if err := RegisterCallback("dup-cb", fn); err == nil {
		t.Fatal("expected error registering duplicate callback name")
	}
}

func TestRegistryEmptyName(t *testing.T) {
	if err := RegisterCallback("", func(ctx context.Context, c Conflict) error { return nil }); err == nil {
		t.Fatal("expected error for empty callback name")
	}
	if err := RegisterSigner("", NewHMACSigner([]byte("k"))); err == nil {
		t.Fatal("expected error for empty signer name")
	}
	if err := RegisterHandler409("", func(w http.ResponseWriter, r *http.Request, c Conflict) {}); err == nil {
		t.Fatal("expected error for empty handler name")
	}
}

func TestRegistryNilValues(t *testing.T) {
	if err := RegisterCallback("nil-cb", nil); err == nil {
		t.Fatal("expected error for nil callback")
	}
	if err := RegisterSigner("nil-signer", nil); err == nil {
		t.Fatal("expected error for nil signer")
	}
	if err := RegisterHandler409("nil-handler", nil); err == nil {
		t.Fatal("expected error for nil handler")
	}
}

func TestRegistryResolveMissing(t *testing.T) {
	if _, err := ResolveCallback("missing"); err == nil {
		t.Fatal("expected error resolving missing callback")
	}
	if _, err := ResolveSigner("missing"); err == nil {
		t.Fatal("expected error resolving missing signer")
	}
	if _, err := ResolveHandler409("missing"); err == nil {
		t.Fatal("expected error resolving missing handler")
	}
}

func TestHMACSigner(t *testing.T) {
	signer := NewHMACSigner([]byte("test-key"))

	signed := signer.Sign("rec-1:7")
	value, err := signer.Verify(signed)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if value != "rec-1:7" {
		t.Errorf("expected rec-1:7, got %q", value)
	}

	// A tampered payload fails verification.
	if _, err := signer.Verify("rec-1:8" + signed[len("rec-1:7"):]); err == nil {
		t.Error("expected verification failure for tampered value")
	}

	// A different key fails verification.
	other := NewHMACSigner([]byte("other-key"))
	if _, err := other.Verify(signed); err == nil {
		t.Error("expected verification failure with wrong key")
	}

	// Garbage input fails.
	if _, err := signer.Verify("no-separator"); err == nil {
		t.Error("expected verification failure for malformed input")
	}
}
