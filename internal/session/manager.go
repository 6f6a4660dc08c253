// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

// Package session runs playback sessions: each one wires a sampler, a
// segment reducer and a progress accumulator to its own sync client and
// completion evaluator.
//
// Sessions share nothing but the ledger. Two sessions on the same module
// (two tabs, say) keep separate sync state and converge through the
// ledger's monotone merge.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Devanshjoshi2804/mentornet/internal/completion"
	"github.com/Devanshjoshi2804/mentornet/internal/config"
	"github.com/Devanshjoshi2804/mentornet/internal/ledger"
	"github.com/Devanshjoshi2804/mentornet/internal/logging"
	"github.com/Devanshjoshi2804/mentornet/internal/metrics"
	"github.com/Devanshjoshi2804/mentornet/internal/playback"
	"github.com/Devanshjoshi2804/mentornet/internal/progress"
	"github.com/Devanshjoshi2804/mentornet/internal/segment"
	"github.com/Devanshjoshi2804/mentornet/internal/syncclient"
)

// ErrManagerStopped is returned by Start once the manager is shutting down.
var ErrManagerStopped = errors.New("session: manager stopped")

// Catalog resolves module durations and completion thresholds.
type Catalog interface {
	Modules(ctx context.Context, courseID string) ([]ledger.Module, error)
}

// Config groups the settings a session needs.
type Config struct {
	Sync       config.SyncConfig
	Completion config.CompletionConfig
}

// Option configures a Manager.
type Option func(*Manager)

// WithCatalog looks up module metadata when sessions start.
func WithCatalog(c Catalog) Option {
	return func(m *Manager) { m.catalog = c }
}

// WithOutbox hands undelivered session state to o.
func WithOutbox(o syncclient.Outbox) Option {
	return func(m *Manager) { m.outbox = o }
}

// WithOnCompleted registers a hook fired when a session completes its
// module.
func WithOnCompleted(fn func(ledger.Key)) Option {
	return func(m *Manager) { m.onCompleted = fn }
}

// WithObserver receives every projection update of every session.
func WithObserver(fn func(Projection)) Option {
	return func(m *Manager) { m.observer = fn }
}

// Manager runs independent sessions concurrently.
type Manager struct {
	ledger      ledger.Ledger
	catalog     Catalog
	outbox      syncclient.Outbox
	cfg         Config
	onCompleted func(ledger.Key)
	observer    func(Projection)
	logger      zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	stopped  bool
	wg       sync.WaitGroup
}

// NewManager creates a session manager writing to l.
func NewManager(l ledger.Ledger, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		ledger:   l,
		cfg:      cfg,
		logger:   logging.WithComponent("session"),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins a session for key on player. The ledger's current record
// seeds the accumulator and the sync client so a reload converges without
// double counting. The session runs until the player ends or goes away, or
// until Stop or ctx cancellation.
func (m *Manager) Start(ctx context.Context, key ledger.Key, player playback.Player) (*Session, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	stopped := m.stopped
	m.mu.Unlock()
	if stopped {
		return nil, ErrManagerStopped
	}

	s, rec, err := m.build(ctx, key, player)
	if err != nil {
		return nil, err
	}
	if m.observer != nil {
		s.observer = m.observer
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		s.cancel()
		_ = s.sync.Close(ctx)
		return nil, ErrManagerStopped
	}
	m.sessions[s.id] = s
	m.wg.Add(1)
	m.mu.Unlock()
	metrics.ActiveSessions.Inc()

	// Cancellation of the caller's ctx stops the session; the final flush
	// runs regardless.
	go func() {
		select {
		case <-ctx.Done():
			s.cancel()
		case <-s.done:
		}
	}()
	go s.run(s.runCtx, func() { m.remove(s.id) })

	s.logger.Info().
		Int("baseline_percentage", rec.WatchPercentage).
		Int("baseline_seek_count", rec.SeekCount).
		Bool("completed", rec.Completed).
		Msg("Playback session started")
	return s, nil
}

// build loads the ledger baseline for key and assembles a session that is
// ready to run but not yet started.
func (m *Manager) build(ctx context.Context, key ledger.Key, player playback.Player) (*Session, ledger.ProgressRecord, error) {
	logger := logging.WithSession("session", key.LearnerID, key.CourseID, key.ModuleID)

	rec, err := m.ledger.GetProgress(ctx, key)
	switch {
	case err == nil:
	case ledger.IsRetryable(err):
		// Start from nothing; the ledger's max-merge keeps the record intact.
		logger.Warn().Err(err).Msg("Ledger unavailable, starting session without baseline")
		rec = ledger.ProgressRecord{Key: key}
	default:
		return nil, rec, fmt.Errorf("load progress: %w", err)
	}

	mod := m.lookupModule(ctx, key, logger)
	duration := mod.Duration
	if d, derr := player.Duration(); derr == nil && d > 0 {
		duration = d
	} else if rec.ModuleDuration > 0 && duration <= 0 {
		duration = rec.ModuleDuration
	}

	id := uuid.NewString()
	acc := progress.NewAccumulator(duration)
	acc.Seed(rec.Intervals, rec.SeekCount)

	syncOpts := []syncclient.Option{syncclient.WithLogger(logger)}
	if m.outbox != nil {
		syncOpts = append(syncOpts, syncclient.WithOutbox(m.outbox, id))
	}
	sc := syncclient.New(m.ledger, key, syncclient.ConfigFromSync(m.cfg.Sync), syncOpts...)
	sc.Baseline(rec)

	evalOpts := []completion.Option{completion.WithLogger(logger)}
	if m.onCompleted != nil {
		evalOpts = append(evalOpts, completion.WithOnCompleted(m.onCompleted))
	}
	eval := completion.New(m.ledger, key, sc,
		completion.ConfigFromCompletion(m.cfg.Completion, mod.CompletionThreshold), evalOpts...)
	eval.Restore(rec.Completed)

	flushWait := m.cfg.Sync.FinalFlushTimeout
	if flushWait <= 0 {
		flushWait = 5 * time.Second
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		id:     id,
		key:    key,
		player: player,
		sampler: playback.NewSampler(player, m.cfg.Sync.SampleInterval,
			playback.WithLogger(logger)),
		reducer: segment.NewReducer(segment.Config{
			ExpectedInterval: m.cfg.Sync.SampleInterval,
			Slack:            m.cfg.Sync.SkipSlack,
			MaxCatchUp:       m.cfg.Sync.MaxCatchUp,
		}),
		acc:       acc,
		sync:      sc,
		eval:      eval,
		flushWait: flushWait,
		logger:    logger.With().Str("session_id", id).Logger(),
		runCtx:    runCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	s.view = Projection{ID: id, Key: key, Threshold: eval.Threshold(), StartedAt: time.Now().UTC()}
	s.project(0, acc.Snapshot())
	return s, rec, nil
}

func (m *Manager) lookupModule(ctx context.Context, key ledger.Key, logger zerolog.Logger) ledger.Module {
	mod := ledger.Module{CourseID: key.CourseID, ModuleID: key.ModuleID}
	if m.catalog == nil {
		return mod
	}
	mods, err := m.catalog.Modules(ctx, key.CourseID)
	if err != nil {
		logger.Warn().Err(err).Msg("Module catalog unavailable, using default threshold")
		return mod
	}
	for _, cm := range mods {
		if cm.ModuleID == key.ModuleID {
			return cm
		}
	}
	return mod
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	metrics.ActiveSessions.Dec()
	m.wg.Done()
}

// Get returns a running session.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Sessions returns projections of the running sessions ordered by start
// time.
func (m *Manager) Sessions() []Projection {
	m.mu.Lock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.Unlock()

	out := make([]Projection, 0, len(list))
	for _, s := range list {
		out = append(out, s.Projection())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// StopAll stops every session and waits for their final flushes or ctx.
// No new sessions are accepted afterwards.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	m.stopped = true
	for _, s := range m.sessions {
		s.cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Serve implements suture.Service. It holds the manager open until ctx is
// canceled and then stops all sessions within the final flush timeout.
func (m *Manager) Serve(ctx context.Context) error {
	<-ctx.Done()
	wait := m.cfg.Sync.FinalFlushTimeout
	if wait <= 0 {
		wait = 5 * time.Second
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	if err := m.StopAll(stopCtx); err != nil {
		m.logger.Warn().Err(err).Msg("Sessions did not flush before shutdown deadline")
	}
	return ctx.Err()
}

func (m *Manager) String() string { return "session-manager" }
