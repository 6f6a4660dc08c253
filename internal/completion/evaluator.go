// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

// Package completion decides when a module is finished and records it in
// the ledger exactly once per learner.
package completion

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Devanshjoshi2804/mentornet/internal/config"
	"github.com/Devanshjoshi2804/mentornet/internal/ledger"
	"github.com/Devanshjoshi2804/mentornet/internal/logging"
	"github.com/Devanshjoshi2804/mentornet/internal/metrics"
	"github.com/Devanshjoshi2804/mentornet/internal/progress"
)

// State is the completion state of one module session.
type State int

const (
	NotCompleted State = iota
	PendingCompletion
	Completed
)

func (s State) String() string {
	switch s {
	case NotCompleted:
		return "not_completed"
	case PendingCompletion:
		return "pending_completion"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// Outcomes recorded on the completion_attempts_total metric.
const (
	OutcomeCompleted        = "completed"
	OutcomeAlreadyCompleted = "already_completed"
	OutcomeDeferred         = "deferred"
	OutcomeFailed           = "failed"
)

// Flusher writes pending progress before completion is requested.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Config holds evaluation parameters.
type Config struct {
	// Threshold is the watch percentage that makes a module eligible.
	Threshold int

	// RetryBackoff is the pause before a failed or deferred attempt may be
	// retried.
	RetryBackoff time.Duration

	// AttemptTimeout bounds one asynchronous attempt.
	AttemptTimeout time.Duration
}

// ConfigFromCompletion builds a Config from the completion section. A
// module's own threshold, when known, replaces the default.
func ConfigFromCompletion(c config.CompletionConfig, moduleThreshold int) Config {
	threshold := moduleThreshold
	if threshold <= 0 {
		threshold = c.DefaultThreshold
	}
	return Config{Threshold: threshold, RetryBackoff: c.RetryBackoff}
}

func (c *Config) applyDefaults() {
	if c.Threshold <= 0 || c.Threshold > 100 {
		c.Threshold = ledger.DefaultCompletionThreshold
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 5 * time.Second
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 30 * time.Second
	}
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithOnCompleted registers the hook fired once the module is completed.
// It runs on the attempt goroutine.
func WithOnCompleted(fn func(ledger.Key)) Option {
	return func(e *Evaluator) { e.onCompleted = fn }
}

// WithClock overrides the clock used for retry scheduling.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// WithLogger sets the evaluator's logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func WithLogger(l zerolog.Logger) Option {
	return func(e *Evaluator) { e.logger = l }
}

// Evaluator drives NotCompleted -> PendingCompletion -> Completed for one
// module session. At most one attempt is in flight and CompleteModule is
// never issued once Completed.
type Evaluator struct {
	key         ledger.Key
	ledger      ledger.Ledger
	flusher     Flusher
	cfg         Config
	onCompleted func(ledger.Key)
	now         func() time.Time
	logger      zerolog.Logger

	mu      sync.Mutex
	state   State
	retryAt time.Time
	wg      sync.WaitGroup
}

// New creates an evaluator. flusher may be nil when nothing is buffered.
func New(l ledger.Ledger, key ledger.Key, flusher Flusher, cfg Config, opts ...Option) *Evaluator {
	cfg.applyDefaults()
	e := &Evaluator{
		key:     key,
		ledger:  l,
		flusher: flusher,
		cfg:     cfg,
		now:     time.Now,
		logger:  logging.WithSession("completion", key.LearnerID, key.CourseID, key.ModuleID),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the current state.
func (e *Evaluator) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Threshold returns the watch percentage required.
func (e *Evaluator) Threshold() int { return e.cfg.Threshold }

// Restore marks the module as completed without writing, for sessions that
// resume a module the ledger already reports as completed.
func (e *Evaluator) Restore(completed bool) {
	if !completed {
		return
	}
	e.mu.Lock()
	e.state = Completed
	e.mu.Unlock()
}

// Evaluate checks snap against the threshold and starts an asynchronous
// attempt when the module became eligible. It reports whether an attempt
// was started.
func (e *Evaluator) Evaluate(ctx context.Context, snap progress.Snapshot) bool {
	if !e.begin(snap) {
		return false
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
		defer cancel()
		e.finish(e.attempt(attemptCtx))
	}()
	return true
}

// Settle runs a final synchronous evaluation when a session ends. It waits
// for an attempt already in flight and ignores the retry backoff.
func (e *Evaluator) Settle(ctx context.Context, snap progress.Snapshot) State {
	e.Wait()
	e.mu.Lock()
	e.retryAt = time.Time{}
	e.mu.Unlock()
	if e.begin(snap) {
		e.finish(e.attempt(ctx))
	}
	return e.State()
}

// Wait blocks until no attempt is in flight.
func (e *Evaluator) Wait() { e.wg.Wait() }

// Reset prepares for a fresh pass over the module. Completed is one way and
// survives; a pending retry backoff is cleared.
func (e *Evaluator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.retryAt = time.Time{}
}

func (e *Evaluator) begin(snap progress.Snapshot) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != NotCompleted || snap.Percentage < e.cfg.Threshold {
		return false
	}
	if !e.retryAt.IsZero() && e.now().Before(e.retryAt) {
		return false
	}
	e.state = PendingCompletion
	e.logger.Debug().
		Int("watch_percentage", snap.Percentage).
		Int("threshold", e.cfg.Threshold).
		Msg("Completion threshold reached")
	return true
}

// attempt performs read-before-write: an already completed module is never
// completed again.
func (e *Evaluator) attempt(ctx context.Context) (string, error) {
	done, err := e.ledger.IsModuleCompleted(ctx, e.key)
	if err != nil {
		return OutcomeFailed, err
	}
	if done {
		return OutcomeAlreadyCompleted, nil
	}

	if e.flusher != nil {
		if err := e.flusher.Flush(ctx); err != nil && !errors.Is(err, ledger.ErrRejected) {
			return OutcomeFailed, err
		}
	}

	err = e.ledger.CompleteModule(ctx, e.key)
	switch {
	case err == nil:
		return OutcomeCompleted, nil
	case errors.Is(err, ledger.ErrThresholdNotMet):
		return OutcomeDeferred, err
	default:
		return OutcomeFailed, err
	}
}

func (e *Evaluator) finish(outcome string, err error) {
	metrics.CompletionAttempts.WithLabelValues(outcome).Inc()

	e.mu.Lock()
	if err != nil {
		e.state = NotCompleted
		e.retryAt = e.now().Add(e.cfg.RetryBackoff)
		e.mu.Unlock()
		e.logger.Warn().
			Err(err).
			Str("outcome", outcome).
			Dur("retry_in", e.cfg.RetryBackoff).
			Msg("Module completion not recorded")
		return
	}
	e.state = Completed
	e.mu.Unlock()

	e.logger.Info().Str("outcome", outcome).Msg("Module completed")
	if e.onCompleted != nil {
		e.onCompleted(e.key)
	}
}
