// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

package main

import (
	"context"
	"fmt"

	"github.com/Devanshjoshi2804/mentornet/internal/api"
	"github.com/Devanshjoshi2804/mentornet/internal/config"
	"github.com/Devanshjoshi2804/mentornet/internal/idempotency"
	"github.com/Devanshjoshi2804/mentornet/internal/ledger"
	"github.com/Devanshjoshi2804/mentornet/internal/logging"
)

// idempotencyCapacity bounds the in-memory idempotency store.
const idempotencyCapacity = 100_000

type pinger interface {
	Ping(ctx context.Context) error
}

// openStore opens the configured progress record store.
func openStore(ctx context.Context, cfg config.LedgerConfig) (ledger.Store, error) {
	switch cfg.Store {
	case "", "memory":
		logging.Warn().Msg("Using in-memory ledger store; progress is lost on restart")
		return ledger.NewMemoryStore(), nil
	case "duckdb":
		store, err := ledger.OpenDuckDB(ctx, ledger.DuckDBConfig{Path: cfg.DuckDBPath})
		if err != nil {
			return nil, err
		}
		return store, nil
	case "postgres":
		store, err := ledger.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown ledger store %q", cfg.Store)
	}
}

// openIdempotency opens the configured Idempotency-Key store.
func openIdempotency(ctx context.Context, cfg config.IdempotencyConfig) (idempotency.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return idempotency.NewMemoryStore(idempotencyCapacity), nil
	case "redis":
		store, err := idempotency.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown idempotency backend %q", cfg.Backend)
	}
}

// readinessChecks builds a check for every store that can be pinged.
func readinessChecks(store ledger.Store, idem idempotency.Store) []api.ReadinessCheck {
	var checks []api.ReadinessCheck
	if p, ok := store.(pinger); ok {
		checks = append(checks, api.ReadinessCheck{Name: "ledger_" + store.Name(), Check: p.Ping})
	}
	if p, ok := idem.(pinger); ok {
		checks = append(checks, api.ReadinessCheck{Name: "idempotency_" + idem.Name(), Check: p.Ping})
	}
	return checks
}
