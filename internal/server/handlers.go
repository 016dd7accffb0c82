package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/occkit/occkit/internal/constants"
	"github.com/occkit/occkit/internal/observability"
	"github.com/occkit/occkit/internal/occ"
	"github.com/occkit/occkit/internal/store"
)

const maxBodySize = 10 * 1024 * 1024 // 10MB

type recordResponse struct {
	ID        string          `json:"id"`
	Version   int64           `json:"version"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (s *Server) writeRecord(w http.ResponseWriter, status int, rec *store.Record) {
	// The token header is the client's handle on the version it loaded.
	w.Header().Set(constants.HeaderRecordVersion, s.engine.VersionToken(rec))
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(recordResponse{
		ID:        rec.ID,
		Version:   rec.Version,
		Data:      json.RawMessage(rec.Data),
		UpdatedAt: rec.UpdatedAt,
	})
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	if !json.Valid(body) {
		s.writeError(w, http.StatusBadRequest, "request body must be valid JSON")
		return nil, false
	}
	return body, true
}

func (s *Server) createRecordHandler(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	rec, err := s.engine.Create(r.Context(), body)
	if err != nil {
		s.logger.Error("create failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to create record")
		return
	}
	s.writeRecord(w, http.StatusCreated, rec)
}

func (s *Server) getRecordHandler(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "record not found")
			return
		}
		s.logger.Error("get failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load record")
		return
	}
	s.writeRecord(w, http.StatusOK, rec)
}

func (s *Server) updateRecordHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	token := r.Header.Get(constants.HeaderRecordVersion)
	if token == "" {
		s.writeError(w, http.StatusPreconditionRequired,
			constants.HeaderRecordVersion+" header is required")
		return
	}

	version, err := s.engine.ParseVersionToken(id, token)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	rec := &store.Record{ID: id, Version: version, Data: body}
	if err := s.engine.Save(r.Context(), rec); err != nil {
		s.handleSaveError(w, r, err)
		return
	}
	s.writeRecord(w, http.StatusOK, rec)
}

// handleSaveError maps engine errors onto HTTP responses. Conflicts go
// through the handler resolved from the live settings, so deployments
// can swap the 409 body without touching this code.
func (s *Server) handleSaveError(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *occ.ConflictError
	if errors.As(err, &conflict) {
		s.engine.Settings().Handler409()(w, r, conflict.Conflict())
		return
	}

	var verr *occ.VersionError
	if errors.As(err, &verr) {
		s.writeError(w, http.StatusBadRequest, verr.Error())
		return
	}

	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "record not found")
		return
	}

	s.logger.Error("save failed", zap.Error(err))
	s.writeError(w, http.StatusInternalServerError, "failed to save record")
}

func (s *Server) deleteRecordHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Delete(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "record not found")
			return
		}
		s.logger.Error("delete failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to delete record")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := observability.HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   s.config.Observability.Tracing.Version,
		Uptime:    time.Since(s.startTime).String(),
		Checks: map[string]bool{
			"concurrency_enabled": s.engine.Settings().Enabled(),
		},
	}
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	_ = json.NewEncoder(w).Encode(status)
}

func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}
