// Rolegate - Role Resolution and Fail-Closed Access Enforcement
// Copyright 2026 T. Fedor (tfedor)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tfedor/rolegate

// Command server runs the rolegate authorization service: it mirrors
// role records from the external access-control source into a
// process-wide cache and enforces them uniformly over the HTTP API.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tfedor/rolegate/internal/api"
	"github.com/tfedor/rolegate/internal/audit"
	"github.com/tfedor/rolegate/internal/authz"
	"github.com/tfedor/rolegate/internal/config"
	"github.com/tfedor/rolegate/internal/logging"
	"github.com/tfedor/rolegate/internal/source"
	"github.com/tfedor/rolegate/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Timestamp: true,
	})

	if err := run(cfg); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("Service exited with error")
	}
	logging.Info().Msg("Service stopped")
}

func run(cfg *config.Config) error {
	// Record source.
	var (
		recordSource authz.RecordSource
		breaker      api.BreakerStater
	)
	switch cfg.Source.Mode {
	case config.SourceModeHTTP:
		httpSource, err := source.NewHTTPSource(&source.HTTPSourceConfig{
			BaseURL:                 cfg.Source.BaseURL,
			Token:                   cfg.Source.Token,
			BreakerFailureThreshold: cfg.Source.BreakerFailureThreshold,
			BreakerTimeout:          cfg.Source.BreakerTimeout,
		}, nil)
		if err != nil {
			return err
		}
		recordSource = httpSource
		breaker = httpSource
	case config.SourceModeMemory:
		logging.Warn().Msg("Using in-memory record source; every user resolves to none")
		recordSource = source.NewMemorySource()
	}

	// Authorization core.
	cache := authz.NewRoleCache(cfg.Cache.CleanupInterval)
	defer cache.Stop()

	resolver := authz.NewResolver(recordSource, cfg.Source.Timeout)

	var (
		sink       authz.EventSink
		auditStore *audit.BadgerStore
	)
	if cfg.Audit.Persist {
		store, err := audit.NewBadgerStore(&audit.StoreConfig{
			Path:      cfg.Audit.Path,
			Retention: cfg.Audit.Retention,
		})
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck
		sink = store
		auditStore = store
	}

	auditLogger := authz.NewAuditLogger(&authz.AuditLoggerConfig{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
	}, sink)
	defer auditLogger.Close()

	guard, err := authz.NewGuard(cache, resolver, auditLogger, &authz.GuardConfig{
		TTL:         cfg.Cache.TTL,
		GraceWindow: cfg.Cache.GraceWindow,
	})
	if err != nil {
		return err
	}

	if cfg.Cache.WarmStart {
		warmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if _, err := guard.WarmStart(warmCtx); err != nil {
			// Warm start is an optimization; the guard is correct
			// with an empty cache.
			logging.Warn().Err(err).Msg("Warm start failed, continuing with empty cache")
		}
		cancel()
	}

	// HTTP surface.
	identity := api.NewIdentity(cfg.Auth.TokenSecret)
	refresh := authz.NewRefreshController(cache)
	handlers := api.NewHandlers(cache, auditStore, breaker)
	router := api.NewRouter(api.RouterConfig{
		AdminRateLimit:     cfg.Server.AdminRateLimit,
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
	}, identity, guard, refresh, handlers)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Supervision.
	slogger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	tree := supervisor.NewTree(supervisor.DefaultTreeConfig(), slogger)
	tree.Add(supervisor.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info().
		Str("addr", cfg.Server.Addr).
		Str("source_mode", cfg.Source.Mode).
		Dur("cache_ttl", cfg.Cache.TTL).
		Msg("Server starting")

	return tree.Serve(ctx)
}
