package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/stategc/internal/logger"
)

// DefaultShutdownTimeout bounds Stop when Start's context is cancelled.
const DefaultShutdownTimeout = 5 * time.Second

// Server serves /metrics for a registry.
type Server struct {
	server       *http.Server
	port         int
	shutdownOnce sync.Once
}

// NewServer creates a metrics server on port for reg.
func NewServer(port int, reg *prometheus.Registry) *Server {
	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           Handler(reg),
			ReadHeaderTimeout: 10 * time.Second,
		},
		port: port,
	}
}

// Handler returns the HTTP handler serving /metrics for reg.
func Handler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("Metrics server listening", "port", s.port)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// ctx is already cancelled; shut down on a fresh deadline
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("metrics server failed: %w", err)
	}
}

// Stop shuts the server down. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("metrics server shutdown error: %w", err)
			return
		}
		logger.Info("Metrics server stopped")
	})
	return shutdownErr
}
