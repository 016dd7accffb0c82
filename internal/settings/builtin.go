package settings

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"
)

// Built-in registry entries. The defaults in Load resolve against these,
// so a zero-configuration deployment works out of the box.
func init() {
	if err := RegisterCallback("log", logConflict); err != nil {
		panic(err)
	}
	if err := RegisterSigner("hmac", NewHMACSigner(signingKeyFromEnv())); err != nil {
		panic(err)
	}
	if err := RegisterHandler409("conflict", writeConflict); err != nil {
		panic(err)
	}
}

const envSigningKey = "OCCKIT_SIGNING_KEY"

func signingKeyFromEnv() []byte {
	if key := os.Getenv(envSigningKey); key != "" {
		return []byte(key)
	}
	// Development fallback. Production deployments set OCCKIT_SIGNING_KEY.
	return []byte("occkit-insecure-dev-key")
}

func logConflict(ctx context.Context, conflict Conflict) error {
	zap.L().Warn("write conflict",
		zap.String("record_id", conflict.RecordID),
		zap.Int64("expected_version", conflict.Expected),
		zap.Int64("actual_version", conflict.Actual),
	)
	return nil
}

// writeConflict is the default HANDLER409: a JSON 409 body carrying both
// versions so clients can refetch and retry.
func writeConflict(w http.ResponseWriter, r *http.Request, conflict Conflict) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusConflict)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":            "conflict",
		"record_id":        conflict.RecordID,
		"expected_version": conflict.Expected,
		"actual_version":   conflict.Actual,
	})
}

// HMACSigner signs values with HMAC-SHA256. Output format is
// "<value>:<base64url mac>".
type HMACSigner struct {
	key []byte
}

// NewHMACSigner creates a signer keyed with key.
func NewHMACSigner(key []byte) *HMACSigner {
	return &HMACSigner{key: key}
}

func (s *HMACSigner) mac(value string) string {
	m := hmac.New(sha256.New, s.key)
	m.Write([]byte(value))
	return base64.RawURLEncoding.EncodeToString(m.Sum(nil))
}

// Sign returns value with its MAC appended.
func (s *HMACSigner) Sign(value string) string {
	return value + ":" + s.mac(value)
}

// Verify checks the MAC and returns the original value.
func (s *HMACSigner) Verify(signed string) (string, error) {
	idx := strings.LastIndex(signed, ":")
	if idx < 0 {
		return "", fmt.Errorf("malformed signed value")
	}
	value, mac := signed[:idx], signed[idx+1:]
	if !hmac.Equal([]byte(mac), []byte(s.mac(value))) {
		return "", fmt.Errorf("signature mismatch")
	}
	return value, nil
}
