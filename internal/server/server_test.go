package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/occkit/occkit/internal/config"
	"github.com/occkit/occkit/internal/constants"
	"github.com/occkit/occkit/internal/observability"
	"github.com/occkit/occkit/internal/occ"
	"github.com/occkit/occkit/internal/settings"
	"github.com/occkit/occkit/internal/store"
)

func newTestServer(t *testing.T, values map[string]any) *Server {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Database.Path = ":memory:"

	st, err := settings.Load(constants.SettingsPrefix, settings.WithValues(values))
	require.NoError(t, err)

	db, err := store.Open(cfg.Database.Path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger, err := observability.NewLogger(config.LoggingConfig{Level: "error", Format: "console"})
	require.NoError(t, err)
	metrics := observability.NewMetrics()
	tracer, err := observability.NewTracer(config.TracingConfig{Enabled: false})
	require.NoError(t, err)

	engine := occ.New(st, db, logger.Logger, metrics, tracer)

	srv, err := New(cfg, engine, logger, metrics, tracer)
	require.NoError(t, err)
	return srv
}

func doJSON(t *testing.T, handler http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set(constants.HeaderRecordVersion, token)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestRecordLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)
	handler := srv.Handler()

	// Create.
	w := doJSON(t, handler, "POST", "/records", `{"title":"one"}`, "")
	require.Equal(t, http.StatusCreated, w.Code)

	var created recordResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, int64(1), created.Version)

	token := w.Header().Get(constants.HeaderRecordVersion)
	require.NotEmpty(t, token)

	// Read.
	w = doJSON(t, handler, "GET", "/records/"+created.ID, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, token, w.Header().Get(constants.HeaderRecordVersion))

	// Update with the current token.
	w = doJSON(t, handler, "PUT", "/records/"+created.ID, `{"title":"two"}`, token)
	require.Equal(t, http.StatusOK, w.Code)

	var updated recordResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, int64(2), updated.Version)

	// Delete.
	w = doJSON(t, handler, "DELETE", "/records/"+created.ID, "", "")
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, handler, "GET", "/records/"+created.ID, "", "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateConflictUsesResolvedHandler(t *testing.T) {
	srv := newTestServer(t, nil)
	handler := srv.Handler()

	w := doJSON(t, handler, "POST", "/records", `{"n":1}`, "")
	require.Equal(t, http.StatusCreated, w.Code)
	var created recordResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	staleToken := w.Header().Get(constants.HeaderRecordVersion)

	// First writer wins.
	w = doJSON(t, handler, "PUT", "/records/"+created.ID, `{"n":2}`, staleToken)
	require.Equal(t, http.StatusOK, w.Code)

	// Second writer carries the stale token and hits the default 409
	// handler resolved from the settings.
	w = doJSON(t, handler, "PUT", "/records/"+created.ID, `{"n":3}`, staleToken)
	require.Equal(t, http.StatusConflict, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "conflict", body["error"])
	assert.Equal(t, created.ID, body["record_id"])
	assert.Equal(t, float64(1), body["expected_version"])
	assert.Equal(t, float64(2), body["actual_version"])
}

func TestUpdateTokenValidation(t *testing.T) {
	srv := newTestServer(t, nil)
	handler := srv.Handler()

	w := doJSON(t, handler, "POST", "/records", `{"n":1}`, "")
	require.Equal(t, http.StatusCreated, w.Code)
	var created recordResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	token := w.Header().Get(constants.HeaderRecordVersion)

	// Missing token.
	w = doJSON(t, handler, "PUT", "/records/"+created.ID, `{"n":2}`, "")
	assert.Equal(t, http.StatusPreconditionRequired, w.Code)

	// Tampered token.
	w = doJSON(t, handler, "PUT", "/records/"+created.ID, `{"n":2}`, "x"+token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Token minted for another record.
	w = doJSON(t, handler, "POST", "/records", `{"n":9}`, "")
	require.Equal(t, http.StatusCreated, w.Code)
	otherToken := w.Header().Get(constants.HeaderRecordVersion)

	w = doJSON(t, handler, "PUT", "/records/"+created.ID, `{"n":2}`, otherToken)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateRejectsInvalidJSON(t *testing.T) {
	srv := newTestServer(t, nil)
	w := doJSON(t, srv.Handler(), "POST", "/records", `{"broken":`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t, nil)
	handler := srv.Handler()

	w := doJSON(t, handler, "GET", "/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var health observability.HealthStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.True(t, health.Checks["concurrency_enabled"])

	w = doJSON(t, handler, "GET", "/ready", "", "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestDisabledConcurrencySkipsTokenCheck(t *testing.T) {
	srv := newTestServer(t, map[string]any{"enabled": false})
	handler := srv.Handler()

	w := doJSON(t, handler, "POST", "/records", `{"n":1}`, "")
	require.Equal(t, http.StatusCreated, w.Code)
	var created recordResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	staleToken := w.Header().Get(constants.HeaderRecordVersion)

	// Both writes succeed when checking is disabled, stale token or not.
	w = doJSON(t, handler, "PUT", "/records/"+created.ID, `{"n":2}`, staleToken)
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, handler, "PUT", "/records/"+created.ID, `{"n":3}`, staleToken)
	require.Equal(t, http.StatusOK, w.Code)
}
