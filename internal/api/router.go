// Rolegate - Role Resolution and Fail-Closed Access Enforcement
// Copyright 2026 T. Fedor (tfedor)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tfedor/rolegate

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tfedor/rolegate/internal/authz"
	"github.com/tfedor/rolegate/internal/models"
)

// RouterConfig holds router tuning.
type RouterConfig struct {
	// AdminRateLimit caps admin endpoint requests per minute per IP.
	AdminRateLimit int

	// CORSAllowedOrigins lists origins allowed to call the API from a
	// browser. Empty disables CORS entirely, which is the default for
	// a service-to-service deployment.
	CORSAllowedOrigins []string
}

// NewRouter assembles the HTTP surface. Every /api/v1 endpoint passes
// through identity extraction and a role guard; which tier each
// endpoint demands is visible right here and nowhere else.
func NewRouter(cfg RouterConfig, identity *Identity, guard *authz.Guard, refresh *authz.RefreshController, h *Handlers) http.Handler {
	if cfg.AdminRateLimit <= 0 {
		cfg.AdminRateLimit = 30
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	// Operational endpoints, unguarded.
	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(identity.Middleware)

		r.Get("/me", guard.Require(models.RoleViewer, "me", h.Me))

		if h.store != nil {
			r.Get("/audit/recent", guard.Require(models.RoleCoordinator, "audit.recent", h.AuditRecent))
			r.Get("/audit/summary", guard.Require(models.RoleAdmin, "audit.summary", h.AuditSummary))
		}

		r.Route("/admin", func(r chi.Router) {
			r.Use(httprate.LimitByIP(cfg.AdminRateLimit, time.Minute))
			r.Post("/cache/refresh", guard.Require(models.RoleAdmin, "cache.refresh", refresh.Handler()))
		})
	})

	return r
}
