// Package httpapi exposes the provisioning session protocol over HTTP: a
// pollable, status-code-driven surface where 200 means done, 202 means a
// one-time code is required, and 203 means a visual challenge blocks the
// flow.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/storeforge/storeforge/internal/metrics"
	"github.com/storeforge/storeforge/pkg/provision"
)

// Server is the provisioning HTTP server.
type Server struct {
	opts        ServerOptions
	orch        *provision.Orchestrator
	history     HistoryReader
	metrics     *metrics.Metrics
	rateLimiter *RateLimiter
	upgrader    websocket.Upgrader
	server      *http.Server
	logger      zerolog.Logger
	startTime   time.Time
}

// NewServer creates the HTTP server. history and m may be nil.
func NewServer(opts ServerOptions, orch *provision.Orchestrator, hist HistoryReader, m *metrics.Metrics, logger zerolog.Logger) (*Server, error) {
	if orch == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}

	if opts.Port == 0 {
		opts.Port = 3001
	}
	if opts.Host == "" {
		opts.Host = "0.0.0.0"
	}
	if opts.RateLimitPerMinute == 0 {
		opts.RateLimitPerMinute = 100
	}
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	return &Server{
		opts:        opts,
		orch:        orch,
		history:     hist,
		metrics:     m,
		rateLimiter: NewRateLimiter(opts.RateLimitPerMinute),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			// The live view is an operator tool; origin policy is left to
			// the deployment's proxy.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:    logger.With().Str("component", "httpapi").Logger(),
		startTime: time.Now(),
	}, nil
}

// Router builds the route table. Exposed for handler tests.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestLogger)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	p := r.PathPrefix("/provision").Subrouter()
	p.Use(s.rateLimit)
	p.HandleFunc("/challenge/{sessionId}", s.handleChallengeAck).Methods(http.MethodPost)
	p.HandleFunc("/code/{sessionId}", s.handleCode).Methods(http.MethodPost)
	p.HandleFunc("/cancel/{sessionId}", s.handleCancel).Methods(http.MethodPost)
	p.HandleFunc("/session/{sessionId}", s.handleGetSession).Methods(http.MethodGet)
	p.HandleFunc("/live/{sessionId}", s.handleLive).Methods(http.MethodGet)
	p.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	p.HandleFunc("/{targetId}", s.handleProvision).Methods(http.MethodPost)

	return r
}

// Start runs the server until Stop is called. It blocks.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port),
		Handler: s.Router(),
	}

	s.logger.Info().
		Str("host", s.opts.Host).
		Int("port", s.opts.Port).
		Msg("Starting provisioning server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start provisioning server: %w", err)
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Shutting down provisioning server")

	s.rateLimiter.Stop()

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown provisioning server: %w", err)
	}

	s.logger.Info().Msg("Provisioning server stopped")
	return nil
}
