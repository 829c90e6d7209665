// Package server exposes the worker's admin HTTP endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/decentraland/profile-images/internal/contracts"
)

// StatusReporter reports the status of the consumed queues
type StatusReporter interface {
	Status(ctx context.Context) (contracts.WorkerStatus, error)
}

// Server serves /health, /status and, when a metrics handler is given, /metrics
type Server struct {
	srv    *http.Server
	logger zerolog.Logger
}

// NewRouter constructs a ServeMux with the admin routes registered.
// metricsHandler may be nil.
func NewRouter(status StatusReporter, metricsHandler http.Handler, logger zerolog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", handleHealth)
	mux.HandleFunc("/status", handleStatus(status, logger))
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	return mux
}

// New creates a server listening on addr
func New(addr string, status StatusReporter, metricsHandler http.Handler, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "server").Logger()
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(status, metricsHandler, logger),
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.srv.Addr).Msg("Admin server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info().Msg("Admin server stopped")
	return nil
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleStatus(status StatusReporter, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		report, err := status.Status(r.Context())
		if err != nil {
			logger.Error().Err(err).Msg("Failed to read queue status")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
