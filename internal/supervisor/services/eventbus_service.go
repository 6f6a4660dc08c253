// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Devanshjoshi2804/mentornet/internal/logging"
)

// EventBus is a started event bus. Satisfied by *eventprocessor.Components.
type EventBus interface {
	Check(ctx context.Context) error
	Shutdown(ctx context.Context)
}

// EventBusService keeps an event bus under supervision. The bus is started
// before the tree because the ledger service publishes through it; this
// service checks its health while running and shuts it down with the tree.
type EventBusService struct {
	bus             EventBus
	checkInterval   time.Duration
	shutdownTimeout time.Duration
	logger          zerolog.Logger
}

// NewEventBusService wraps bus. Non-positive durations select 30s between
// checks and a 10s shutdown.
func NewEventBusService(bus EventBus, checkInterval, shutdownTimeout time.Duration) *EventBusService {
	if checkInterval <= 0 {
		checkInterval = 30 * time.Second
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &EventBusService{
		bus:             bus,
		checkInterval:   checkInterval,
		shutdownTimeout: shutdownTimeout,
		logger:          logging.WithComponent("event-bus"),
	}
}

// Serve implements suture.Service.
func (s *EventBusService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	healthy := true
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
			defer cancel()
			s.bus.Shutdown(shutdownCtx)
			return ctx.Err()

		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, s.checkInterval)
			err := s.bus.Check(checkCtx)
			cancel()
			switch {
			case err != nil && healthy:
				s.logger.Warn().Err(err).Msg("Event bus unhealthy")
			case err == nil && !healthy:
				s.logger.Info().Msg("Event bus recovered")
			}
			healthy = err == nil
		}
	}
}

func (s *EventBusService) String() string { return "event-bus" }
