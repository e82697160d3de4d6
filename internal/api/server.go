// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

// Package api is the internal admin and operations surface: failed-event
// inspection and retry, pending-conflict review, sync state and manual
// trigger, health and metrics. It is not exposed to guests or channel
// managers.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stayward/channelsync/internal/logging"
)

// Config holds the HTTP server settings.
type Config struct {
	Host            string
	Port            int
	Timeout         time.Duration
	RateLimitReqs   int
	RateLimitWindow time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8471,
		Timeout:         30 * time.Second,
		RateLimitReqs:   100,
		RateLimitWindow: time.Minute,
	}
}

// Server is the admin HTTP server.
type Server struct {
	cfg     Config
	handler *Handler
	srv     *http.Server
}

// NewServer builds the server and its route tree.
func NewServer(cfg Config, handler *Handler) *Server {
	s := &Server{cfg: cfg, handler: handler}
	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Timeout,
		WriteTimeout:      cfg.Timeout,
		IdleTimeout:       2 * cfg.Timeout,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestMetrics)

	r.Get("/healthz", s.handler.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.cfg.RateLimitReqs > 0 {
			r.Use(httprate.Limit(
				s.cfg.RateLimitReqs,
				s.cfg.RateLimitWindow,
				httprate.WithKeyFuncs(httprate.KeyByIP),
			))
		}

		r.Route("/events", func(r chi.Router) {
			r.Get("/failed", s.handler.FailedEvents)
			r.Post("/{id}/retry", s.handler.RetryEvent)
		})

		r.Route("/conflicts", func(r chi.Router) {
			r.Get("/pending", s.handler.PendingConflicts)
			r.Post("/{id}/resolve", s.handler.ResolveConflict)
		})

		r.Route("/sync", func(r chi.Router) {
			r.Get("/state", s.handler.SyncState)
			r.Post("/full", s.handler.TriggerFullSync)
		})
	})

	return r
}

// Routes exposes the handler tree for tests.
func (s *Server) Routes() http.Handler { return s.srv.Handler }

// Serve runs the server until the context is cancelled. Suture-compatible.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.srv.Addr).Msg("Admin API listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("admin API shutdown: %w", err)
		}
		return ctx.Err()
	}
}

func (s *Server) String() string { return "admin-api" }
