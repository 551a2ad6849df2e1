// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lumeo-analytics/lumeo/internal/config"
	"github.com/lumeo-analytics/lumeo/internal/database"
	"github.com/lumeo-analytics/lumeo/internal/logging"
	"github.com/lumeo-analytics/lumeo/internal/reports/scheduler"
	"github.com/lumeo-analytics/lumeo/internal/sharelink"
)

// Handlers carries the dependencies shared by all HTTP handlers.
type Handlers struct {
	db         *database.DB
	scheduler  *scheduler.Scheduler
	shareLinks *sharelink.Manager
	cfg        *config.Config
	logger     zerolog.Logger
}

// NewHandlers creates the handler set. scheduler and shareLinks may be nil
// when the corresponding subsystem is disabled; the affected endpoints then
// return 503.
func NewHandlers(db *database.DB, sched *scheduler.Scheduler, links *sharelink.Manager, cfg *config.Config) *Handlers {
	return &Handlers{
		db:         db,
		scheduler:  sched,
		shareLinks: links,
		cfg:        cfg,
		logger:     logging.With().Str("component", "api").Logger(),
	}
}

// NewRouter wires all routes. Collection and health endpoints get a
// permissive rate limit; everything else shares the configured limit.
func NewRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.Security.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(PrometheusMetrics)

		r.Get("/health", h.Health)

		// The collect endpoint is hit once per pageview so it carries a
		// limit an order of magnitude above the API-wide one.
		r.With(httprate.LimitByIP(h.cfg.Security.RateLimitRequests*10, h.cfg.Security.RateLimitWindow)).
			Post("/collect", h.Collect)

		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(h.cfg.Security.RateLimitRequests, h.cfg.Security.RateLimitWindow))

			r.Post("/query", h.Query)

			r.Get("/reports", h.ListReports)
			r.Get("/reports/{id}", h.GetReport)
			r.Post("/reports", h.CreateReport)
			r.Put("/reports/{id}", h.UpdateReport)
			r.Delete("/reports/{id}", h.DeleteReport)
			r.Post("/reports/{id}/duplicate", h.DuplicateReport)
			r.Post("/reports/{id}/test-send", h.TestSendReport)

			r.Get("/logs", h.Logs)

			r.Post("/sharelinks", h.CreateShareLink)
			r.Get("/reports/{id}/sharelinks", h.ListShareLinks)
			r.Post("/sharelinks/revoke", h.RevokeShareLink)
			r.Post("/shared/view", h.ViewShared)
		})
	})

	return r
}
