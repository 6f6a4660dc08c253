// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Devanshjoshi2804/mentornet/internal/completion"
	"github.com/Devanshjoshi2804/mentornet/internal/ledger"
	"github.com/Devanshjoshi2804/mentornet/internal/playback"
	"github.com/Devanshjoshi2804/mentornet/internal/progress"
	"github.com/Devanshjoshi2804/mentornet/internal/segment"
	"github.com/Devanshjoshi2804/mentornet/internal/syncclient"
)

const observationBuffer = 16

// Projection is the read-only view of a session for UI consumers.
type Projection struct {
	ID               string              `json:"id"`
	Key              ledger.Key          `json:"key"`
	Position         time.Duration       `json:"position"`
	Watched          time.Duration       `json:"watched"`
	Duration         time.Duration       `json:"duration"`
	Percentage       int                 `json:"percentage"`
	SeekCount        int                 `json:"seek_count"`
	Threshold        int                 `json:"threshold"`
	Completion       string              `json:"completion"`
	PendingIntervals int                 `json:"pending_intervals"`
	LastCommit       time.Time           `json:"last_commit,omitzero"`
	Rejected         int                 `json:"rejected"`
	Dropped          int                 `json:"dropped_observations"`
	StartedAt        time.Time           `json:"started_at"`
	EndedAt          time.Time           `json:"ended_at,omitzero"`
	Err              string              `json:"error,omitempty"`
	Intervals        []progress.Interval `json:"intervals,omitempty"`
}

// Session is one playback of one module. Its pipeline goroutine owns the
// reducer and the accumulator.
type Session struct {
	id        string
	key       ledger.Key
	player    playback.Player
	sampler   *playback.Sampler
	reducer   *segment.Reducer
	acc       *progress.Accumulator
	sync      *syncclient.Client
	eval      *completion.Evaluator
	flushWait time.Duration
	observer  func(Projection)
	logger    zerolog.Logger

	runCtx context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	view Projection
	err  error
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Key returns the module key being watched.
func (s *Session) Key() ledger.Key { return s.key }

// Done is closed once the session has flushed its final state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns why the session ended. A player that ended normally or went
// away yields nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Projection returns the current view.
func (s *Session) Projection() Projection {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.view
	p.Intervals = append([]progress.Interval(nil), s.view.Intervals...)
	return p
}

// Stop ends the session and waits for the final flush or ctx.
func (s *Session) Stop(ctx context.Context) error {
	s.cancel()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the pipeline: sampler -> reducer -> accumulator -> sync client and
// completion evaluator.
func (s *Session) run(ctx context.Context, onExit func()) {
	defer close(s.done)
	defer onExit()
	defer s.cancel()

	obs := make(chan playback.Observation, observationBuffer)
	samplerDone := make(chan error, 1)
	go func() { samplerDone <- s.sampler.Run(ctx, obs) }()

	notices := s.sync.Notices()
	var runErr error
loop:
	for {
		select {
		case o := <-obs:
			s.observe(ctx, o)
		case n := <-notices:
			s.rejected(n)
		case err := <-samplerDone:
			s.drain(ctx, obs)
			runErr = err
			break loop
		}
	}

	s.finish(ctx, runErr)
}

// drain consumes observations the sampler queued before it returned.
func (s *Session) drain(ctx context.Context, obs <-chan playback.Observation) {
	for {
		select {
		case o := <-obs:
			s.observe(ctx, o)
		default:
			return
		}
	}
}

func (s *Session) observe(ctx context.Context, o playback.Observation) {
	if s.acc.Snapshot().Duration <= 0 {
		if d, err := s.player.Duration(); err == nil && d > 0 {
			s.acc.SetDuration(d)
		}
	}

	for _, seg := range s.reducer.Observe(o) {
		s.apply(seg)
	}
	// The open segment is credited as it grows; the union makes the
	// repeated credit idempotent.
	if seg, ok := s.reducer.Open(); ok {
		s.apply(seg)
	}
	if o.Kind != playback.KindUnavailable {
		s.sync.UpdatePosition(o.Position)
	}

	snap := s.acc.Snapshot()
	s.eval.Evaluate(ctx, snap)
	s.project(o.Position, snap)
}

func (s *Session) apply(seg segment.Segment) {
	if seg.IsSkip {
		s.acc.Add(seg)
		s.sync.Record(seg)
		return
	}
	iv, _ := s.acc.Add(seg)
	if iv.Empty() {
		return
	}
	s.sync.Record(segment.Segment{Start: iv.Start, End: iv.End})
}

func (s *Session) rejected(n syncclient.Notice) {
	s.logger.Warn().
		Err(n.Err).
		Int("writes", len(n.Writes)).
		Msg("Progress write rejected by ledger")
	s.mu.Lock()
	s.view.Rejected++
	s.mu.Unlock()
}

// finish closes the open segment, settles completion and performs the
// final flush within the flush deadline, even when ctx is already done.
func (s *Session) finish(ctx context.Context, runErr error) {
	for _, seg := range s.reducer.Flush() {
		s.apply(seg)
	}
	snap := s.acc.Snapshot()

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.flushWait)
	defer cancel()

	s.eval.Settle(flushCtx, snap)
	if err := s.sync.Close(flushCtx); err != nil {
		s.logger.Warn().Err(err).Msg("Final progress flush incomplete")
	}

	if errors.Is(runErr, playback.ErrPlayerUnavailable) || errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	s.mu.Lock()
	s.err = runErr
	if runErr != nil {
		s.view.Err = runErr.Error()
	}
	s.view.EndedAt = time.Now().UTC()
	pos := s.view.Position
	s.mu.Unlock()
	s.project(pos, snap)

	s.logger.Info().
		Int("percentage", snap.Percentage).
		Int("seek_count", snap.SeekCount).
		Str("completion", s.eval.State().String()).
		Msg("Playback session ended")
}

func (s *Session) project(pos time.Duration, snap progress.Snapshot) {
	st := s.sync.State()
	state := s.eval.State().String()

	s.mu.Lock()
	s.view.Position = pos
	s.view.Watched = snap.Watched
	s.view.Duration = snap.Duration
	s.view.Percentage = snap.Percentage
	s.view.SeekCount = snap.SeekCount
	s.view.Completion = state
	s.view.PendingIntervals = len(st.Pending)
	s.view.LastCommit = st.LastCommit
	s.view.Dropped = s.reducer.Dropped()
	s.view.Intervals = s.acc.Intervals()
	view := s.view
	s.mu.Unlock()

	if s.observer != nil {
		s.observer(view)
	}
}
