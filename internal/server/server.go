// Package server exposes the memory tool operations over HTTP. Tool calls
// are POSTed to /tools/<name>; operational endpoints live at the root.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/mnemohq/mnemo/internal/observability"
	"github.com/mnemohq/mnemo/pkg/memory"
)

// Config holds HTTP server settings.
type Config struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server is the HTTP front for the memory service.
type Server struct {
	cfg    Config
	svc    *memory.Service
	hub    *EventHub
	logger zerolog.Logger
	http   *http.Server
}

// New constructs the server and wires the event hub into the service.
func New(cfg Config, svc *memory.Service, logger zerolog.Logger) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 60 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		cfg:    cfg,
		svc:    svc,
		hub:    NewEventHub(logger),
		logger: logger.With().Str("component", "server").Logger(),
	}
	svc.SetNotifier(s.hub)
	return s, nil
}

// Router builds the chi router. Exposed for handler tests.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoveryMiddleware(s.logger))

	r.Route("/tools", func(r chi.Router) {
		r.Post("/memory.write", s.handleWrite)
		r.Post("/memory.search", s.handleSearch)
		r.Post("/memory.get", s.handleGet)
		r.Post("/memory.link", s.handleLink)
		r.Post("/memory.summarize_scope", s.handleSummarize)
		r.Post("/memory.attach_blob", s.handleAttachBlob)
		r.Post("/memory.fetch_blob", s.handleFetchBlob)
		r.Post("/memory.preflight", s.handlePreflight)
	})

	r.Get("/health", s.handleHealth)
	r.Get("/stats/{tenantID}", s.handleStats)
	r.Method(http.MethodGet, "/metrics", observability.MetricsHandler())
	r.Get("/ws", s.hub.HandleWS)

	return r
}

// Start begins serving. Non-blocking.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.logger.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()
	return nil
}

// Stop drains in-flight requests and closes websocket subscribers.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Shutting down HTTP server")
	s.hub.Close()
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
