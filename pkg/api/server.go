package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vtagger/vtagger/pkg/dimensions"
	"github.com/vtagger/vtagger/pkg/engine"
	"github.com/vtagger/vtagger/pkg/stores"
	"github.com/vtagger/vtagger/pkg/sync"
)

// SyncController is the orchestrator surface the API exposes.
type SyncController interface {
	Start(ctx context.Context, scope sync.Scope) (sync.Job, error)
	Cancel(ctx context.Context) (sync.Job, error)
	Reset(ctx context.Context) (sync.Job, error)
	Snapshot(ctx context.Context) (sync.Job, error)
	Subscribe() (<-chan sync.Job, func())
}

// HistoryStore is the read-side persistence surface the API exposes.
type HistoryStore interface {
	ListSyncRecords(ctx context.Context, limit int) ([]*stores.SyncRecord, error)
	GetSyncRecord(ctx context.Context, id string) (*stores.SyncRecord, error)
	ListUploadRecords(ctx context.Context, limit int) ([]*stores.UploadRecord, error)
	ListDiscoveredTags(ctx context.Context) ([]stores.DiscoveredTag, error)
	GetDailyStats(ctx context.Context, day string) (*stores.DailyStats, error)
	GetResourceVTags(ctx context.Context, resourceID string) (map[string]string, error)
}

// DimensionService supplies and validates dimension documents.
type DimensionService interface {
	LoadAll() ([]engine.Dimension, error)
	Parse(name string, content []byte) (engine.Dimension, []dimensions.ValidationError)
}

// Options configures the HTTP server.
type Options struct {
	ListenAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server serves the HTTP API.
type Server struct {
	opts       Options
	controller SyncController
	store      HistoryStore
	dims       DimensionService
	compiler   *engine.Compiler
	metrics    http.Handler
	logger     zerolog.Logger
	mux        *http.ServeMux
}

// NewServer wires the API routes. metricsHandler may be nil, in which
// case /metrics is not registered.
func NewServer(
	opts Options,
	controller SyncController,
	store HistoryStore,
	dims DimensionService,
	metricsHandler http.Handler,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		opts:       opts,
		controller: controller,
		store:      store,
		dims:       dims,
		compiler:   engine.NewCompiler(),
		metrics:    metricsHandler,
		logger:     logger.With().Str("component", "api").Logger(),
		mux:        http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}

	s.mux.HandleFunc("POST /api/sync/start", s.handleSyncStart)
	s.mux.HandleFunc("POST /api/sync/cancel", s.handleSyncCancel)
	s.mux.HandleFunc("POST /api/sync/reset", s.handleSyncReset)
	s.mux.HandleFunc("GET /api/sync/progress", s.handleSyncProgress)
	s.mux.HandleFunc("GET /api/sync/stream", s.handleSyncStream)
	s.mux.HandleFunc("GET /api/sync/history", s.handleSyncHistory)
	s.mux.HandleFunc("GET /api/sync/history/{id}", s.handleSyncHistoryItem)
	s.mux.HandleFunc("GET /api/uploads", s.handleUploads)
	s.mux.HandleFunc("GET /api/dimensions", s.handleDimensions)
	s.mux.HandleFunc("POST /api/dimensions/validate", s.handleDimensionValidate)
	s.mux.HandleFunc("POST /api/resolve", s.handleResolve)
	s.mux.HandleFunc("GET /api/resources/vtags", s.handleResourceVTags)
	s.mux.HandleFunc("GET /api/tags/discovered", s.handleDiscoveredTags)
	s.mux.HandleFunc("GET /api/stats/daily/{day}", s.handleDailyStats)
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

// Run serves until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.opts.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.ListenAddr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info().Msg("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var engErr *engine.EngineError
	switch {
	case errors.Is(err, sync.ErrSyncInProgress), errors.Is(err, sync.ErrNoSyncInProgress):
		status = http.StatusConflict
	case errors.Is(err, stores.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &engErr) && engErr.Code == engine.ErrCodeValidation:
		status = http.StatusBadRequest
	}

	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
