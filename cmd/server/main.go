// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

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

	"github.com/Devanshjoshi2804/mentornet/internal/api"
	"github.com/Devanshjoshi2804/mentornet/internal/auth"
	"github.com/Devanshjoshi2804/mentornet/internal/config"
	"github.com/Devanshjoshi2804/mentornet/internal/idempotency"
	"github.com/Devanshjoshi2804/mentornet/internal/ledger"
	"github.com/Devanshjoshi2804/mentornet/internal/logging"
	"github.com/Devanshjoshi2804/mentornet/internal/supervisor"
	"github.com/Devanshjoshi2804/mentornet/internal/supervisor/services"
	ws "github.com/Devanshjoshi2804/mentornet/internal/websocket"
)

func main() {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	if err := run(cfg); err != nil {
		logging.Fatal().Err(err).Msg("Server failed")
	}
	logging.Info().Msg("Application stopped gracefully")
}

func run(cfg *config.Config) error {
	logging.Info().
		Str("store", cfg.Ledger.Store).
		Str("idempotency", cfg.Idempotency.Backend).
		Bool("nats", cfg.NATS.Enabled).
		Str("environment", cfg.Server.Environment).
		Msg("Starting Mentornet ledger server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(ctx, cfg.Ledger)
	if err != nil {
		return fmt.Errorf("open ledger store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing ledger store")
		}
	}()
	logging.Info().Str("store", store.Name()).Msg("Ledger store opened")

	idem, err := openIdempotency(ctx, cfg.Idempotency)
	if err != nil {
		return fmt.Errorf("open idempotency store: %w", err)
	}
	defer func() {
		if err := idem.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing idempotency store")
		}
	}()

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}

	if mem, ok := idem.(*idempotency.MemoryStore); ok {
		tree.AddDataService(services.NewPeriodicService("idempotency-cleanup", 10*time.Minute,
			func(context.Context) error {
				if n := mem.CleanupExpired(); n > 0 {
					logging.Debug().Int("removed", n).Msg("Expired idempotency entries removed")
				}
				return nil
			}))
	}

	hub := ws.NewHub()
	tree.AddMessagingService(hub)

	publisher, err := initEvents(ctx, cfg.NATS, hub, tree)
	if err != nil {
		return err
	}

	svc := ledger.NewService(store,
		ledger.WithPublisher(publisher),
		ledger.WithDefaultThreshold(cfg.Completion.DefaultThreshold),
	)

	jwtManager, err := auth.NewJWTManager(&cfg.Security)
	if err != nil {
		return fmt.Errorf("create JWT manager: %w", err)
	}

	handler := api.NewHandler(svc, idem, cfg.Idempotency.TTL, readinessChecks(store, idem)...)
	router := api.NewRouter(handler, jwtManager, &api.ChiMiddlewareConfig{
		CORSAllowedOrigins: cfg.Security.CORSOrigins,
		CORSMaxAge:         86400,
		RateLimitRequests:  cfg.Security.RateLimitReqs,
		RateLimitWindow:    cfg.Security.RateLimitWindow,
		RateLimitDisabled:  cfg.Security.RateLimitDisabled,
	}, ws.NewHandler(hub, cfg.Security.CORSOrigins))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.SetupChi(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	var treeErr error
	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
		treeErr = <-errCh
	case treeErr = <-errCh:
	}
	if treeErr != nil && !errors.Is(treeErr, context.Canceled) {
		logging.Error().Err(treeErr).Msg("Supervisor tree error")
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, s := range unstopped {
		logging.Warn().Str("service", s.Name).Msg("Service failed to stop")
	}
	return nil
}
