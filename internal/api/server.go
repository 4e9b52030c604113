// Package api provides the read-only HTTP surface over the monitor's
// presence state.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/corvase/sinfarwatch/internal/roster"
)

// Presence is the read-only view of the monitor the handlers consume.
// There is no mutation path from the HTTP surface.
type Presence interface {
	Players() map[string]roster.Player
	Characters() map[string]roster.Character
	OnlinePlayers() map[string]roster.OnlinePlayer
	OnlineCharacters() map[string]roster.OnlineCharacter
}

// Server represents the HTTP API server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux

	presence Presence
	log      logrus.FieldLogger

	limiter   *RateLimiter
	startTime time.Time
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithRateLimiter sets the per-IP rate limiter.
func WithRateLimiter(rl *RateLimiter) ServerOption {
	return func(s *Server) { s.limiter = rl }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) ServerOption {
	return func(s *Server) { s.log = l }
}

// WithTimeouts sets the HTTP server timeouts.
func WithTimeouts(read, write time.Duration) ServerOption {
	return func(s *Server) {
		s.httpServer.ReadTimeout = read
		s.httpServer.WriteTimeout = write
	}
}

// NewServer creates a new API server over the given presence view.
func NewServer(addr string, presence Presence, opts ...ServerOption) *Server {
	mux := http.NewServeMux()
	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		mux:       mux,
		presence:  presence,
		log:       logrus.StandardLogger(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()

	var handler http.Handler = mux
	if s.limiter != nil {
		handler = s.limiter.Middleware(handler)
	}
	handler = requestIDMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	s.httpServer.Handler = handler
	return s
}

// registerRoutes sets up the API routes.
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /pdata", s.handlePlayerDump)
	s.mux.HandleFunc("GET /cdata", s.handleCharacterDump)
	s.mux.HandleFunc("GET /players", s.handleOnlinePlayerDump)
	s.mux.HandleFunc("GET /characters", s.handleOnlineCharacterDump)
	s.mux.HandleFunc("GET /online", s.handleOnline)
	s.mux.HandleFunc("GET /up", s.handleUptime)
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the full middleware-wrapped handler, for serving
// through a test listener.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
