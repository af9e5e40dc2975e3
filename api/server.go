// Package api exposes a small read-mostly HTTP surface over the store and
// lets operators trigger a cycle on demand.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

func NewServer(addr string, h *Handlers, logger *slog.Logger) *Server {
	logger = logger.With("component", "api")
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(h, logger),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

func NewRouter(h *Handlers, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(LoggerMiddleware(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.HandleHealth)
	r.Get("/stats", h.HandleStats)
	r.Route("/listings", func(r chi.Router) {
		r.Get("/recent", h.HandleRecentListings)
	})
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/recent", h.HandleRecentSessions)
	})
	r.Post("/cycles", h.HandleTriggerCycle)
	r.Post("/sweeps", h.HandleTriggerSweep)
	return r
}

// Start blocks until the server stops. A clean Shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info("starting http server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping http server")
	return s.httpServer.Shutdown(ctx)
}
