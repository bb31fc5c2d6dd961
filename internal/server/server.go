// Package server exposes the trending pipeline over a small HTTP API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"trender/internal/config"
	"trender/internal/core"
	"trender/internal/logger"
)

// Runner is the subset of the orchestrator the server needs.
type Runner interface {
	RunTrending(ctx context.Context, windowHours, kGlobal int) (core.Selection, error)
	RunTopics(ctx context.Context, windowHours int) (map[string]core.Selection, error)
}

// Server represents the HTTP server
type Server struct {
	mux        *http.ServeMux
	httpServer *http.Server
	runner     Runner
	cfg        config.Server
	log        zerolog.Logger
}

// New creates a new HTTP server instance
func New(runner Runner, cfg config.Server) *Server {
	s := &Server{
		mux:    http.NewServeMux(),
		runner: runner,
		cfg:    cfg,
		log:    logger.Get(),
	}

	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.logRequests(s.mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("POST /api/v1/trending", s.handleTrending)
	s.mux.HandleFunc("POST /api/v1/topics", s.handleTopics)
}

// Start begins serving requests and blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("Starting HTTP server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the underlying handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("Request handled")
	})
}
