// Package occ implements optimistic concurrency control for record
// saves. Every record carries a version; a save only succeeds when the
// stored version still matches the one the caller loaded, and what
// happens on a mismatch is governed by the resolved policy settings.
package occ

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/occkit/occkit/internal/constants"
	"github.com/occkit/occkit/internal/observability"
	"github.com/occkit/occkit/internal/settings"
	"github.com/occkit/occkit/internal/store"
)

// BulkResult reports the outcome of SaveAll under the silent policy.
type BulkResult struct {
	Saved     []*store.Record
	Conflicts []*ConflictError
}

// Engine performs versioned saves against the store, enforcing the
// policies resolved by the settings object. The settings stay live, so a
// runtime policy change affects the next save without restarting.
type Engine struct {
	settings *settings.Settings
	store    *store.Store
	logger   *zap.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer

	// limiter damps conflict callback storms; versions is an advisory
	// cache of last-seen versions, a hint only, never a verdict.
	limiter  *rate.Limiter
	versions *cache.Cache
}

// Option configures an Engine.
type Option func(*Engine)

// WithCallbackLimiter replaces the default conflict-callback rate limiter.
func WithCallbackLimiter(l *rate.Limiter) Option {
	return func(e *Engine) { e.limiter = l }
}

// New creates an engine. logger, metrics and tracer may not be nil.
func New(st *settings.Settings, db *store.Store, logger *zap.Logger, metrics *observability.Metrics, tracer *observability.Tracer, opts ...Option) *Engine {
	e := &Engine{
		settings: st,
		store:    db,
		logger:   logger,
		metrics:  metrics,
		tracer:   tracer,
		limiter:  rate.NewLimiter(rate.Limit(constants.CallbackRatePerSecond), constants.CallbackBurst),
		versions: cache.New(constants.VersionCacheTTL, constants.VersionCacheCleanupInterval),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Settings exposes the live settings the engine runs under.
func (e *Engine) Settings() *settings.Settings {
	return e.settings
}

// Create inserts a new record at version 1 with a generated id.
func (e *Engine) Create(ctx context.Context, data []byte) (*store.Record, error) {
	rec, err := e.store.Insert(ctx, uuid.NewString(), data)
	if err != nil {
		return nil, err
	}
	e.versions.Set(rec.ID, rec.Version, cache.DefaultExpiration)
	return rec, nil
}

// Get fetches a record.
func (e *Engine) Get(ctx context.Context, id string) (*store.Record, error) {
	rec, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	e.versions.Set(rec.ID, rec.Version, cache.DefaultExpiration)
	return rec, nil
}

// Delete removes a record.
func (e *Engine) Delete(ctx context.Context, id string) error {
	if err := e.store.Delete(ctx, id); err != nil {
		return err
	}
	e.versions.Delete(id)
	return nil
}

// Save writes rec.Data at rec.Version. On success the record's version is
// bumped in place. On a version mismatch the conflict policy decides:
// raise returns a *ConflictError, callback invokes the configured
// callback and returns its error (or the conflict if the callback
// returns nil, so callers always learn the save did not happen).
func (e *Engine) Save(ctx context.Context, rec *store.Record) error {
	ctx, span := e.tracer.StartSpan(ctx, "occ.save",
		attribute.String("record.id", rec.ID),
		attribute.Int64("record.version", rec.Version),
	)
	defer span.End()

	start := time.Now()
	err := e.save(ctx, rec)
	switch err.(type) {
	case nil:
		e.metrics.RecordSave("ok", time.Since(start))
	case *ConflictError:
		e.metrics.RecordSave("conflict", time.Since(start))
	default:
		e.metrics.RecordSave("error", time.Since(start))
	}
	return err
}

func (e *Engine) save(ctx context.Context, rec *store.Record) error {
	if !e.settings.Enabled() {
		version, err := e.store.ForceUpdate(ctx, rec.ID, rec.Data)
		if err != nil {
			return err
		}
		rec.Version = version
		e.versions.Set(rec.ID, version, cache.DefaultExpiration)
		return nil
	}

	if e.settings.SanityCheck() && rec.Version <= 0 {
		return &VersionError{RecordID: rec.ID, Version: rec.Version}
	}

	// The cache is advisory only: a mismatch hints the write is stale,
	// but the cache can lag the store (concurrent saves, a second engine
	// on the same database), so only the store CAS below gets a verdict.
	if cached, ok := e.versions.Get(rec.ID); ok {
		if hint := cached.(int64); hint != rec.Version {
			e.logger.Debug("version cache suggests stale save",
				zap.String("record_id", rec.ID),
				zap.Int64("cached", hint),
				zap.Int64("attempted", rec.Version))
		}
	}

	swapped, err := e.store.CompareAndSwap(ctx, rec.ID, rec.Version, rec.Data)
	if err != nil {
		return err
	}
	if !swapped {
		current, err := e.store.Get(ctx, rec.ID)
		if err != nil {
			return err
		}
		e.versions.Set(rec.ID, current.Version, cache.DefaultExpiration)
		return e.resolveConflict(ctx, &ConflictError{
			RecordID: rec.ID,
			Expected: rec.Version,
			Actual:   current.Version,
		})
	}

	rec.Version++
	e.versions.Set(rec.ID, rec.Version, cache.DefaultExpiration)
	return nil
}

// resolveConflict applies the conflict half of the policy bitmask.
func (e *Engine) resolveConflict(ctx context.Context, conflict *ConflictError) error {
	policy := e.settings.Policy()

	if policy.Has(settings.PolicyConflictCallback) {
		e.metrics.RecordConflict("callback")
		if !e.limiter.Allow() {
			e.metrics.CallbackDropped.Inc()
			e.logger.Warn("conflict callback suppressed by rate limiter",
				zap.String("record_id", conflict.RecordID))
			return conflict
		}
		e.metrics.CallbackInvocations.Inc()
		if err := e.settings.Callback()(ctx, conflict.Conflict()); err != nil {
			return fmt.Errorf("conflict callback: %w", err)
		}
		return conflict
	}

	e.metrics.RecordConflict("raised")
	e.logger.Debug("write conflict",
		zap.String("record_id", conflict.RecordID),
		zap.Int64("expected", conflict.Expected),
		zap.Int64("actual", conflict.Actual))
	return conflict
}

// SaveAll writes a batch under the list-editable half of the policy.
// Silent saves every record it can and reports the conflicted rest in
// the result; abort-all runs the batch in one transaction and returns
// the first conflict with nothing written.
func (e *Engine) SaveAll(ctx context.Context, recs []*store.Record) (*BulkResult, error) {
	ctx, span := e.tracer.StartSpan(ctx, "occ.save_all",
		attribute.Int("batch.size", len(recs)),
	)
	defer span.End()

	if !e.settings.Enabled() {
		result := &BulkResult{}
		for _, rec := range recs {
			version, err := e.store.ForceUpdate(ctx, rec.ID, rec.Data)
			if err != nil {
				return nil, err
			}
			rec.Version = version
			result.Saved = append(result.Saved, rec)
		}
		return result, nil
	}

	if e.settings.Policy().Has(settings.PolicyListEditableAbortAll) {
		return e.saveAllOrAbort(ctx, recs)
	}
	return e.saveAllSilent(ctx, recs)
}

func (e *Engine) saveAllSilent(ctx context.Context, recs []*store.Record) (*BulkResult, error) {
	result := &BulkResult{}
	for _, rec := range recs {
		if e.settings.SanityCheck() && rec.Version <= 0 {
			return nil, &VersionError{RecordID: rec.ID, Version: rec.Version}
		}

		swapped, err := e.store.CompareAndSwap(ctx, rec.ID, rec.Version, rec.Data)
		if err != nil {
			return nil, err
		}
		if !swapped {
			current, err := e.store.Get(ctx, rec.ID)
			if err != nil {
				return nil, err
			}
			e.versions.Set(rec.ID, current.Version, cache.DefaultExpiration)
			e.metrics.RecordConflict("skipped")
			result.Conflicts = append(result.Conflicts, &ConflictError{
				RecordID: rec.ID,
				Expected: rec.Version,
				Actual:   current.Version,
			})
			continue
		}

		rec.Version++
		e.versions.Set(rec.ID, rec.Version, cache.DefaultExpiration)
		result.Saved = append(result.Saved, rec)
	}
	return result, nil
}

func (e *Engine) saveAllOrAbort(ctx context.Context, recs []*store.Record) (*BulkResult, error) {
	reqs := make([]store.SwapRequest, len(recs))
	for i, rec := range recs {
		if e.settings.SanityCheck() && rec.Version <= 0 {
			return nil, &VersionError{RecordID: rec.ID, Version: rec.Version}
		}
		reqs[i] = store.SwapRequest{ID: rec.ID, Expected: rec.Version, Data: rec.Data}
	}

	idx, err := e.store.CompareAndSwapAll(ctx, reqs)
	if err != nil {
		return nil, err
	}
	if idx >= 0 {
		e.metrics.RecordConflict("aborted")
		conflict := &ConflictError{RecordID: recs[idx].ID, Expected: recs[idx].Version}
		if current, err := e.store.Get(ctx, recs[idx].ID); err == nil {
			conflict.Actual = current.Version
			e.versions.Set(current.ID, current.Version, cache.DefaultExpiration)
		}
		return nil, conflict
	}

	result := &BulkResult{Saved: recs}
	for _, rec := range recs {
		rec.Version++
		e.versions.Set(rec.ID, rec.Version, cache.DefaultExpiration)
	}
	return result, nil
}

// VersionToken returns a signed token binding a record id to a version.
// Clients echo it back on save; tampering is detected by the signer.
func (e *Engine) VersionToken(rec *store.Record) string {
	return e.settings.Signer().Sign(fmt.Sprintf("%s:%d", rec.ID, rec.Version))
}

// ParseVersionToken verifies a token and extracts the version it binds
// to id.
func (e *Engine) ParseVersionToken(id, token string) (int64, error) {
	value, err := e.settings.Signer().Verify(token)
	if err != nil {
		return 0, &TokenError{RecordID: id, Reason: err.Error()}
	}

	idx := strings.LastIndex(value, ":")
	if idx < 0 {
		return 0, &TokenError{RecordID: id, Reason: "malformed payload"}
	}
	tokenID, versionStr := value[:idx], value[idx+1:]
	if tokenID != id {
		return 0, &TokenError{RecordID: id, Reason: "token belongs to another record"}
	}

	version, err := strconv.ParseInt(versionStr, 10, 64)
	if err != nil {
		return 0, &TokenError{RecordID: id, Reason: "malformed version"}
	}
	return version, nil
}
