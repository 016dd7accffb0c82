package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/occkit/occkit/internal/config"
	"github.com/occkit/occkit/internal/constants"
	"github.com/occkit/occkit/internal/observability"
	"github.com/occkit/occkit/internal/occ"
)

// Server exposes the record API over HTTP, with a second listener for
// metrics. Conflicted saves are answered by the 409 handler resolved
// from the live settings.
type Server struct {
	config *config.Config
	engine *occ.Engine

	server        *http.Server
	metricsServer *http.Server

	logger    *observability.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	startTime time.Time
}

func New(cfg *config.Config, engine *occ.Engine, logger *observability.Logger, metrics *observability.Metrics, tracer *observability.Tracer) (*Server, error) {
	if err := metrics.Register(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return &Server{
		config:    cfg,
		engine:    engine,
		logger:    logger,
		metrics:   metrics,
		tracer:    tracer,
		startTime: time.Now(),
	}, nil
}

// Handler builds the API handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /records", s.createRecordHandler)
	mux.HandleFunc("GET /records/{id}", s.getRecordHandler)
	mux.HandleFunc("PUT /records/{id}", s.updateRecordHandler)
	mux.HandleFunc("DELETE /records/{id}", s.deleteRecordHandler)

	mux.HandleFunc(constants.PathHealth, s.healthHandler)
	mux.HandleFunc(constants.PathReady, s.readinessHandler)

	return s.applyMiddleware(mux)
}

// Start runs both listeners until SIGINT/SIGTERM, then shuts down
// gracefully within the configured timeout.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.config.GetServerAddress(),
		Handler:      s.Handler(),
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	errCh := make(chan error, 2)

	go func() {
		s.logger.Info("API server listening", zap.String("addr", s.server.Addr))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if s.config.Observability.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(s.config.Observability.Metrics.Path, s.metrics.Handler())
		s.metricsServer = &http.Server{
			Addr:         s.config.GetMetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  s.config.Server.ReadTimeout,
			WriteTimeout: s.config.Server.WriteTimeout,
		}
		go func() {
			s.logger.Info("Metrics server listening", zap.String("addr", s.metricsServer.Addr))
			if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	s.metrics.SetHealthStatus(true)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		s.logger.Info("Shutting down", zap.String("signal", sig.String()))
	}

	return s.Shutdown()
}

// Shutdown stops both listeners.
func (s *Server) Shutdown() error {
	s.metrics.SetHealthStatus(false)

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("api server shutdown: %w", err))
		}
	}
	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}
