// Lumeo - Privacy-first Web Analytics and Scheduled Email Reporting
// Copyright 2026 Lumeo Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lumeo-analytics/lumeo

// Package main is the entry point for the Lumeo server.
//
// Lumeo is a self-hosted, privacy-first web analytics service with
// scheduled email reporting. It records pageviews and goal conversions in
// an embedded DuckDB database, answers allowlist-governed analytics
// queries over HTTP, and sends periodic report emails assembled from
// configurable content blocks.
//
// # Startup Order
//
//  1. Configuration: layered Koanf v2 load (defaults, config.yaml, env)
//  2. Logging: zerolog, json or console
//  3. Database: DuckDB with schema migration and checkpoint
//  4. Lock store: BadgerDB advisory leases (optional)
//  5. Share links: JWT manager (optional, needs LUMEO_SHARE_LINK_SECRET)
//  6. Report scheduler: SMTP delivery with circuit breaker (optional)
//  7. Supervision tree: reports layer and API layer under suture
//
// The scheduler and share links are optional; the analytics API works
// without them. SIGINT and SIGTERM trigger graceful shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lumeo-analytics/lumeo/internal/api"
	"github.com/lumeo-analytics/lumeo/internal/config"
	"github.com/lumeo-analytics/lumeo/internal/database"
	"github.com/lumeo-analytics/lumeo/internal/locks"
	"github.com/lumeo-analytics/lumeo/internal/logging"
	"github.com/lumeo-analytics/lumeo/internal/reports/delivery"
	"github.com/lumeo-analytics/lumeo/internal/reports/render"
	"github.com/lumeo-analytics/lumeo/internal/reports/scheduler"
	"github.com/lumeo-analytics/lumeo/internal/sharelink"
	"github.com/lumeo-analytics/lumeo/internal/supervisor"
	"github.com/lumeo-analytics/lumeo/internal/supervisor/services"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})
	logging.Info().Str("version", version).Msg("Starting Lumeo")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	logging.Info().Str("path", db.GetDatabasePath()).Msg("Database initialized")

	var lockStore *locks.Store
	if cfg.Locks.Path != "" {
		lockStore, err = locks.Open(cfg.Locks.Path)
		if err != nil {
			// Advisory locks are best effort; the occurrence check still
			// prevents duplicate sends on a single instance.
			logging.Warn().Err(err).Msg("Lock store unavailable, continuing without advisory locks")
		} else {
			logging.Info().Str("path", cfg.Locks.Path).Msg("Lock store opened")
		}
	}

	var shareLinks *sharelink.Manager
	if cfg.ShareLink.Secret != "" {
		shareLinks, err = sharelink.NewManager(db, &cfg.ShareLink)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize share links")
		}
		logging.Info().Msg("Share links enabled")
	} else {
		logging.Info().Msg("Share links disabled (no secret configured)")
	}

	logger := logging.Logger()

	var sched *scheduler.Scheduler
	if cfg.Reports.Enabled {
		sender := delivery.NewSMTPSender(&cfg.SMTP)

		managerCfg := delivery.DefaultManagerConfig()
		if cfg.Reports.BatchSize > 0 {
			managerCfg.BatchSize = cfg.Reports.BatchSize
		}
		if cfg.Reports.MaxConcurrentSends > 0 {
			managerCfg.Parallelism = cfg.Reports.MaxConcurrentSends
		}
		deliveryManager := delivery.NewManager(sender, &logger, managerCfg)

		renderer := render.NewRenderer(db, &logger, cfg.Server.BaseURL)

		var schedLocks scheduler.LockStore
		if lockStore != nil {
			schedLocks = lockStore
		}

		sched = scheduler.NewScheduler(db, schedLocks, renderer, deliveryManager, &logger, scheduler.Config{
			CheckInterval:      cfg.Reports.CheckInterval,
			MaxConcurrentSends: cfg.Reports.MaxConcurrentSends,
			ExecutionTimeout:   cfg.Reports.ExecutionTimeout,
			Enabled:            true,
		})
		logging.Info().
			Dur("check_interval", cfg.Reports.CheckInterval).
			Str("smtp_host", cfg.SMTP.Host).
			Msg("Report scheduler configured")
	} else {
		logging.Info().Msg("Report scheduler disabled")
	}

	handlers := api.NewHandlers(db, sched, shareLinks, cfg)
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           api.NewRouter(handlers),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	if sched != nil {
		tree.AddReportsService(services.NewSchedulerService(sched))
	}

	var lockGC services.LockGC
	if lockStore != nil {
		lockGC = lockStore
	}
	tree.AddReportsService(services.NewMaintenanceService(db, lockGC, time.Hour, logger))

	tree.AddAPIService(services.NewHTTPService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	if lockStore != nil {
		if err := lockStore.Close(); err != nil {
			logging.Warn().Err(err).Msg("Lock store close failed")
		}
	}
	if err := db.Close(); err != nil {
		logging.Warn().Err(err).Msg("Database close failed")
	}

	logging.Info().Msg("Stopped gracefully")
}
