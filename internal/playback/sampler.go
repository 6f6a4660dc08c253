// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

package playback

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/Devanshjoshi2804/mentornet/internal/logging"
)

// DefaultSampleInterval is the sampling cadence while the player is playing.
const DefaultSampleInterval = time.Second

// Sampler polls a Player at a fixed cadence while it is playing and emits
// one observation per tick, plus one per state change.
type Sampler struct {
	player   Player
	interval time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

// SamplerOption configures a Sampler.
type SamplerOption func(*Sampler)

// WithClock overrides the wall clock used to stamp observations.
func WithClock(now func() time.Time) SamplerOption {
	return func(s *Sampler) { s.now = now }
}

// WithLogger sets the sampler's logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func WithLogger(l zerolog.Logger) SamplerOption {
	return func(s *Sampler) { s.logger = l }
}

// NewSampler creates a sampler for player. A non-positive interval selects
// DefaultSampleInterval.
func NewSampler(player Player, interval time.Duration, opts ...SamplerOption) *Sampler {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	s := &Sampler{
		player:   player,
		interval: interval,
		now:      time.Now,
		logger:   logging.WithComponent("sampler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run samples until the player ends, becomes unavailable, or ctx is done.
//
// An ended player yields a final KindEnded observation and a nil error. A
// destroyed player yields a KindUnavailable observation and
// ErrPlayerUnavailable. Buffering and paused states suppress tick sampling.
func (s *Sampler) Run(ctx context.Context, out chan<- Observation) error {
	states := make(chan Kind, 32)
	done := make(chan struct{})
	unsubscribe := s.player.Subscribe(func(k Kind) {
		select {
		case states <- k:
		case <-done:
		}
	})
	defer unsubscribe()
	defer close(done)

	state := s.player.State()
	if state == KindPlaying {
		if err := s.emit(ctx, out, KindPlaying); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case next := <-states:
			if next == state && next != KindPlaying {
				continue
			}
			state = next
			if err := s.emit(ctx, out, state); err != nil {
				return err
			}
			if state == KindEnded {
				return nil
			}
		case <-ticker.C:
			if state != KindPlaying {
				continue
			}
			if err := s.emit(ctx, out, KindPlaying); err != nil {
				return err
			}
		}
	}
}

// emit reads the current position and sends one observation. A position
// read failure is converted into the terminal KindUnavailable observation.
func (s *Sampler) emit(ctx context.Context, out chan<- Observation, kind Kind) error {
	pos, err := s.player.CurrentTime()
	if err != nil {
		s.logger.Debug().Err(err).Msg("Player stopped reporting position")
		obs := Observation{WallClock: s.now(), Kind: KindUnavailable}
		if sendErr := send(ctx, out, obs); sendErr != nil {
			return sendErr
		}
		if errors.Is(err, ErrPlayerUnavailable) {
			return err
		}
		return errors.Join(ErrPlayerUnavailable, err)
	}
	return send(ctx, out, Observation{WallClock: s.now(), Position: pos, Kind: kind})
}

func send(ctx context.Context, out chan<- Observation, obs Observation) error {
	select {
	case out <- obs:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
