// Package api exposes the conversation store over HTTP.
//
// Endpoints:
//
//	POST   /api/chat                    run one chat turn
//	POST   /api/sessions                create a session
//	GET    /api/sessions                list recent sessions
//	GET    /api/sessions/{id}           read one session
//	GET    /api/sessions/{id}/messages  list a session's history
//	GET    /api/sessions/{id}/stats     per-session counters
//	DELETE /api/sessions/{id}           delete a session everywhere
//	GET    /api/health                  dependency probes + config summary
//	GET    /health                      liveness probe
//	GET    /ready                       readiness probe
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: HTTP middleware (logging, recovery)
//   - health.go: health and readiness endpoints
//   - session.go: session management endpoints
//   - chat.go: chat turn endpoint
//   - response.go: JSON response helpers and error mapping
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = "127.0.0.1:3400"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout is the timeout for reading request headers.
	// This prevents Slowloris attacks (CWE-400).
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration for writing the response.
	// Chat turns block on the LLM, so this is generous.
	WriteTimeout = 120 * time.Second

	// IdleTimeout is the maximum time to wait for the next request on keep-alive connections.
	IdleTimeout = 120 * time.Second
)

// Server is the HTTP server for the REST API.
type Server struct {
	mux    *http.ServeMux
	logger *slog.Logger

	health  *HealthHandler
	session *SessionHandler
	chat    *ChatHandler
}

// NewServer creates a new HTTP server with all routes registered.
func NewServer(health *HealthHandler, session *SessionHandler, chat *ChatHandler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	s := &Server{
		mux:     mux,
		logger:  logger,
		health:  health,
		session: session,
		chat:    chat,
	}

	s.health.RegisterRoutes(mux)
	s.session.RegisterRoutes(mux)
	s.chat.RegisterRoutes(mux)

	return s
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery → logging → handler
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		loggingMiddleware(s.logger))
}

// Run starts the HTTP server and blocks until the context is cancelled.
// It handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
