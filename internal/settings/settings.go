// Package settings resolves the namespaced runtime configuration of the
// concurrency subsystem. Values come from prefixed environment variables,
// an explicit value map (usually the concurrency section of the config
// file) and built-in defaults, in that order of precedence. Callable
// values (conflict callback, version signer, 409 handler) are resolved
// through process-wide name registries. A loaded Settings stays live: it
// implements the hot reload listener contract and re-applies any changed
// key carrying its prefix.
package settings

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Setting keys, looked up as <PREFIX>_<KEY>.
const (
	KeyEnabled     = "ENABLED"
	KeySanityCheck = "SANITY_CHECK"
	KeyFieldSigner = "FIELD_SIGNER"
	KeyPolicy      = "POLICY"
	KeyCallback    = "CALLBACK"
	KeyHandler409  = "HANDLER409"
)

// keyOrder fixes resolution and announce order.
var keyOrder = []string{
	KeyEnabled,
	KeySanityCheck,
	KeyFieldSigner,
	KeyPolicy,
	KeyCallback,
	KeyHandler409,
}

// Defaults returns the built-in value for every known key.
func Defaults() map[string]any {
	return map[string]any{
		KeyEnabled:     true,
		KeySanityCheck: true,
		KeyFieldSigner: "hmac",
		KeyPolicy:      PolicyListEditableSilent | PolicyConflictRaise,
		KeyCallback:    "log",
		KeyHandler409:  "conflict",
	}
}

// Change is a single setting update. Key carries the full prefixed name.
type Change struct {
	Key   string
	Value any
}

// Option configures Load.
type Option func(*loadOptions)

type loadOptions struct {
	values   map[string]any
	announce func(Change)
	logger   *zap.Logger
}

// WithValues supplies explicit values, typically decoded from a config
// file section. Keys are matched case-insensitively; dashes become
// underscores.
func WithValues(values map[string]any) Option {
	return func(o *loadOptions) {
		for k, v := range values {
			o.values[normalizeKey(k)] = v
		}
	}
}

// WithAnnounce registers a sink that receives one Change per resolved key
// once loading succeeds, mirroring the traffic subscribers see for
// runtime changes.
func WithAnnounce(fn func(Change)) Option {
	return func(o *loadOptions) { o.announce = fn }
}

// WithLogger sets the logger used for ignored keys and live updates.
func WithLogger(logger *zap.Logger) Option {
	return func(o *loadOptions) { o.logger = logger }
}

func normalizeKey(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// Settings holds the resolved concurrency configuration. Safe for
// concurrent use; reads never observe a partially applied update.
type Settings struct {
	mu     sync.RWMutex
	prefix string
	logger *zap.Logger

	enabled     bool
	sanityCheck bool
	policy      Policy

	signerName   string
	signer       Signer
	callbackName string
	callback     ConflictFunc
	handlerName  string
	handler      ConflictHandler
}

// Load resolves every known key under prefix. Precedence per key:
// environment variable, explicit value, default. Resolution failures
// (bad type, unregistered callable name, invalid policy combination)
// fail the whole load.
func Load(prefix string, opts ...Option) (*Settings, error) {
	if strings.TrimSpace(prefix) == "" {
		return nil, fmt.Errorf("settings prefix cannot be empty")
	}
	prefix = normalizeKey(strings.TrimSpace(prefix))

	o := &loadOptions{values: make(map[string]any)}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	s := &Settings{prefix: prefix, logger: o.logger}
	defaults := Defaults()

	resolved := make([]Change, 0, len(keyOrder))
	for _, key := range keyOrder {
		value := defaults[key]
		if v, ok := o.values[key]; ok {
			value = v
		}
		if env := os.Getenv(prefix + "_" + key); env != "" {
			value = env
		}
		if err := s.apply(key, value); err != nil {
			return nil, err
		}
		resolved = append(resolved, Change{Key: prefix + "_" + key, Value: value})
	}

	if err := s.policy.Validate(); err != nil {
		return nil, err
	}

	if o.announce != nil {
		for _, change := range resolved {
			o.announce(change)
		}
	}
	return s, nil
}

// HandleChange applies a runtime setting change. Changes without this
// settings object's prefix are ignored. An invalid value rejects the
// change and keeps the previous one. Matches the hot reload listener
// signature.
func (s *Settings) HandleChange(ctx context.Context, change Change) error {
	prefix := s.prefix + "_"
	if !strings.HasPrefix(change.Key, prefix) {
		return nil
	}
	key := strings.TrimPrefix(change.Key, prefix)

	value := change.Value
	if value == nil {
		// A deleted setting reverts to its default.
		def, known := Defaults()[key]
		if !known {
			return nil
		}
		value = def
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	oldPolicy := s.policy
	if err := s.apply(key, value); err != nil {
		return fmt.Errorf("setting %s: %w", change.Key, err)
	}
	if key == KeyPolicy {
		if err := s.policy.Validate(); err != nil {
			s.policy = oldPolicy
			return err
		}
	}
	s.logger.Info("setting updated", zap.String("key", change.Key))
	return nil
}

// apply assigns one key. Callable keys re-resolve through the
// registries, so a changed name swaps the callable atomically with the
// name. Callers must hold the write lock when the Settings is shared.
func (s *Settings) apply(key string, value any) error {
	switch key {
	case KeyEnabled:
		b, err := coerceBool(key, value)
		if err != nil {
			return err
		}
		s.enabled = b
	case KeySanityCheck:
		b, err := coerceBool(key, value)
		if err != nil {
			return err
		}
		s.sanityCheck = b
	case KeyPolicy:
		p, err := ParsePolicy(value)
		if err != nil {
			return err
		}
		s.policy = p
	case KeyFieldSigner:
		switch v := value.(type) {
		case Signer:
			s.signer, s.signerName = v, fmt.Sprintf("%T", v)
		case string:
			signer, err := ResolveSigner(v)
			if err != nil {
				return err
			}
			s.signer, s.signerName = signer, v
		default:
			return fmt.Errorf("%s must be a Signer or a registered name, got %T", KeyFieldSigner, value)
		}
	case KeyCallback:
		switch v := value.(type) {
		case ConflictFunc:
			s.callback, s.callbackName = v, "<func>"
		case func(context.Context, Conflict) error:
			s.callback, s.callbackName = v, "<func>"
		case string:
			fn, err := ResolveCallback(v)
			if err != nil {
				return err
			}
			s.callback, s.callbackName = fn, v
		default:
			return fmt.Errorf("%s must be a callback func or a registered name, got %T", KeyCallback, value)
		}
	case KeyHandler409:
		switch v := value.(type) {
		case ConflictHandler:
			s.handler, s.handlerName = v, "<func>"
		case func(http.ResponseWriter, *http.Request, Conflict):
			s.handler, s.handlerName = v, "<func>"
		case string:
			h, err := ResolveHandler409(v)
			if err != nil {
				return err
			}
			s.handler, s.handlerName = h, v
		default:
			return fmt.Errorf("%s must be a handler func or a registered name, got %T", KeyHandler409, value)
		}
	default:
		s.logger.Debug("ignoring unknown setting", zap.String("key", key))
	}
	return nil
}

func coerceBool(key string, value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, fmt.Errorf("%s must be a boolean, got %q", key, v)
		}
		return b, nil
	default:
		return false, fmt.Errorf("%s must be a boolean, got %T", key, value)
	}
}

// Prefix returns the normalized settings prefix.
func (s *Settings) Prefix() string {
	return s.prefix
}

// Enabled reports whether concurrency checking is active.
func (s *Settings) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// SanityCheck reports whether saves reject unloaded (zero-version) records.
func (s *Settings) SanityCheck() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sanityCheck
}

// Policy returns the active policy bitmask.
func (s *Settings) Policy() Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

// Callback returns the resolved conflict callback.
func (s *Settings) Callback() ConflictFunc {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.callback
}

// CallbackName returns the name the callback resolved from, or "<func>".
func (s *Settings) CallbackName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.callbackName
}

// Signer returns the resolved version-field signer.
func (s *Settings) Signer() Signer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.signer
}

// Handler409 returns the resolved conflict response handler.
func (s *Settings) Handler409() ConflictHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handler
}
