// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

package outbox

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/Devanshjoshi2804/mentornet/internal/ledger"
	"github.com/Devanshjoshi2804/mentornet/internal/logging"
	"github.com/Devanshjoshi2804/mentornet/internal/metrics"
)

// Deliverer writes one entry to the ledger.
type Deliverer interface {
	Deliver(ctx context.Context, e Entry) error
}

// LedgerDeliverer replays an entry's writes against a Ledger. Writes the
// ledger rejects are skipped; the first transient failure aborts the
// delivery so the whole entry is retried later. Replaying writes that did
// land is harmless because the ledger merge is idempotent.
type LedgerDeliverer struct {
	Ledger ledger.Ledger
}

func (d LedgerDeliverer) Deliver(ctx context.Context, e Entry) error {
	for _, w := range e.Writes {
		_, err := d.Ledger.TrackProgress(ctx, w)
		if err == nil {
			continue
		}
		if errors.Is(err, ledger.ErrRejected) {
			logging.Warn().Err(err).Str("entry_id", e.ID).Msg("Outbox write rejected by ledger, skipping")
			continue
		}
		return err
	}
	return nil
}

// Result counts the outcome of one retry pass.
type Result struct {
	Delivered int
	Failed    int
	Abandoned int
	Skipped   int
}

// RetryLoop periodically delivers pending entries. It implements
// suture.Service.
type RetryLoop struct {
	outbox    *Outbox
	deliverer Deliverer
	config    Config
	now       func() time.Time
	logger    zerolog.Logger
}

// NewRetryLoop creates a retry loop over o.
func NewRetryLoop(o *Outbox, d Deliverer) *RetryLoop {
	return &RetryLoop{
		outbox:    o,
		deliverer: d,
		config:    o.Config(),
		now:       time.Now,
		logger:    logging.WithComponent("outbox"),
	}
}

// Serve runs until ctx is canceled. A pass runs immediately so entries left
// by a previous process are delivered on startup.
func (r *RetryLoop) Serve(ctx context.Context) error {
	r.logger.Info().
		Dur("interval", r.config.RetryInterval).
		Int("max_retries", r.config.MaxRetries).
		Msg("Outbox retry loop started")

	r.RunOnce(ctx)

	ticker := time.NewTicker(r.config.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Outbox retry loop stopped")
			return ctx.Err()
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

func (r *RetryLoop) String() string { return "outbox-retry" }

// RunOnce performs a single pass over pending entries.
func (r *RetryLoop) RunOnce(ctx context.Context) Result {
	var res Result
	entries, err := r.outbox.Pending(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("Outbox retry: failed to list pending entries")
		return res
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		switch {
		case e.Attempts >= r.config.MaxRetries:
			r.abandon(ctx, e)
			res.Abandoned++
		case !r.readyForRetry(e):
			res.Skipped++
		case r.deliver(ctx, e):
			res.Delivered++
		default:
			res.Failed++
		}
	}

	if res.Delivered > 0 || res.Failed > 0 || res.Abandoned > 0 {
		r.logger.Info().
			Int("delivered", res.Delivered).
			Int("failed", res.Failed).
			Int("abandoned", res.Abandoned).
			Int("skipped", res.Skipped).
			Msg("Outbox retry complete")
	}
	return res
}

func (r *RetryLoop) deliver(ctx context.Context, e Entry) bool {
	err := r.deliverer.Deliver(ctx, e)
	if err != nil {
		r.logger.Warn().
			Err(err).
			Str("entry_id", e.ID).
			Int("attempt", e.Attempts+1).
			Msg("Outbox retry: delivery failed")
		if uerr := r.outbox.UpdateAttempt(ctx, e.ID, err.Error()); uerr != nil {
			r.logger.Error().Err(uerr).Str("entry_id", e.ID).Msg("Outbox retry: failed to record attempt")
		}
		metrics.OutboxDeliveries.WithLabelValues("failed").Inc()
		return false
	}

	r.remove(ctx, e, "delivered")
	metrics.OutboxDeliveries.WithLabelValues("delivered").Inc()
	return true
}

func (r *RetryLoop) abandon(ctx context.Context, e Entry) {
	r.logger.Warn().
		Str("entry_id", e.ID).
		Int("attempts", e.Attempts).
		Str("last_error", e.LastError).
		Msg("Outbox retry: entry exceeded max retries, removing")
	r.remove(ctx, e, "abandoned")
	metrics.OutboxDeliveries.WithLabelValues("abandoned").Inc()
}

// remove deletes e unless a live session stored a newer snapshot under the
// same id while e was being handled.
func (r *RetryLoop) remove(ctx context.Context, e Entry, outcome string) {
	deleted, err := r.outbox.DeleteRevision(ctx, e.ID, e.Revision)
	if err != nil {
		r.logger.Error().Err(err).Str("entry_id", e.ID).Str("outcome", outcome).Msg("Outbox retry: failed to delete entry")
		return
	}
	if !deleted {
		r.logger.Debug().Str("entry_id", e.ID).Msg("Outbox retry: entry replaced meanwhile, keeping newer snapshot")
	}
}

func (r *RetryLoop) readyForRetry(e Entry) bool {
	if e.LastAttemptAt.IsZero() {
		return true
	}
	return r.now().Sub(e.LastAttemptAt) >= Backoff(r.config.RetryBackoff, r.config.MaxBackoff, e.Attempts)
}

// Backoff returns base * 2^attempts capped at maxBackoff.
func Backoff(base, maxBackoff time.Duration, attempts int) time.Duration {
	if attempts > 50 {
		return maxBackoff
	}
	backoff := time.Duration(float64(base) * math.Pow(2, float64(attempts)))
	if backoff < 0 || backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}
