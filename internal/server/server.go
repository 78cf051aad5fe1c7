// Package server wires the queue daemon's HTTP surface: client and
// worker endpoints plus the metrics endpoint.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/numerus/internal/common"
	"github.com/ternarybob/numerus/internal/handlers"
	"github.com/ternarybob/numerus/internal/queue"
)

// Server manages the queue daemon's HTTP server and routes.
type Server struct {
	config *common.Config
	state  *queue.State
	logger arbor.ILogger
	server *http.Server
}

// New creates the HTTP server for the given queue state.
func New(config *common.Config, state *queue.State, logger arbor.ILogger) *Server {
	s := &Server{
		config: config,
		state:  state,
		logger: logger,
	}

	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.withMiddleware(s.setupRoutes()),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	secret := s.config.Queue.Secret
	client := handlers.NewClientHandler(s.state, secret, s.logger)
	worker := handlers.NewWorkerHandler(s.state, secret, s.logger)

	// Client endpoints (called by the web frontend)
	mux.HandleFunc("/client_model_create", client.ModelCreateHandler)
	mux.HandleFunc("/client_confirm/{code}", client.ConfirmHandler)
	mux.HandleFunc("/client_queue_has_workers", client.QueueHasWorkersHandler)

	// Worker endpoints
	mux.HandleFunc("/worker_info", worker.InfoHandler)
	mux.HandleFunc("/worker_work_task", worker.WorkTaskHandler)
	mux.HandleFunc("/worker_keep_alive_task/{id}", worker.KeepAliveHandler)
	mux.HandleFunc("/worker_succeed_task/{id}", worker.SucceedTaskHandler)
	mux.HandleFunc("/worker_failed_task/{id}", worker.FailedTaskHandler)
	mux.HandleFunc("/worker_has_task/{id}", worker.HasTaskHandler)

	// Observability
	mux.Handle("/metrics", s.state.Metrics().Handler())

	return mux
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start() error {
	s.logger.Info().
		Str("address", s.server.Addr).
		Msg("Queue HTTP server starting")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down queue HTTP server...")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info().Msg("Queue HTTP server stopped")
	return nil
}
