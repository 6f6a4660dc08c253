// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

package services

import (
	"context"
	"time"

	"github.com/Devanshjoshi2804/mentornet/internal/logging"
)

// PeriodicService runs a maintenance task on a fixed interval: expiring
// idempotency entries, reclaiming outbox space. A failing task is logged
// and retried on the next tick; it never fails the service.
type PeriodicService struct {
	name     string
	interval time.Duration
	task     func(ctx context.Context) error
}

// NewPeriodicService creates a service named name. A non-positive interval
// selects one minute.
func NewPeriodicService(name string, interval time.Duration, task func(ctx context.Context) error) *PeriodicService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &PeriodicService{name: name, interval: interval, task: task}
}

// Serve implements suture.Service.
func (p *PeriodicService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			if err := p.task(ctx); err != nil && ctx.Err() == nil {
				logging.Warn().Err(err).Str("service", p.name).Msg("Periodic task failed")
				continue
			}
			logging.Debug().
				Str("service", p.name).
				Dur("duration", time.Since(start)).
				Msg("Periodic task completed")
		}
	}
}

func (p *PeriodicService) String() string { return p.name }
