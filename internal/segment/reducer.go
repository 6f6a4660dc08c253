// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

// Package segment reduces a stream of playback observations into contiguous
// play segments and skip markers.
package segment

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/Devanshjoshi2804/mentornet/internal/logging"
	"github.com/Devanshjoshi2804/mentornet/internal/metrics"
	"github.com/Devanshjoshi2804/mentornet/internal/playback"
)

// Segment is a span of media time. Play segments were watched contiguously;
// skip markers cover the gap jumped over by a seek (Start < End for both
// seek directions).
type Segment struct {
	Start  time.Duration
	End    time.Duration
	IsSkip bool
}

// Len returns End - Start.
func (s Segment) Len() time.Duration { return s.End - s.Start }

// Config holds the classification parameters.
type Config struct {
	// ExpectedInterval is the nominal forward movement between two samples.
	ExpectedInterval time.Duration

	// Slack is the tolerance on either side of the expected movement.
	Slack time.Duration

	// MaxCatchUp caps the expected movement when the wall-clock gap between
	// two observations is longer than ExpectedInterval (missed ticks).
	MaxCatchUp time.Duration
}

// DefaultConfig returns the one-second cadence configuration.
func DefaultConfig() Config {
	return Config{
		ExpectedInterval: time.Second,
		Slack:            time.Second,
		MaxCatchUp:       4 * time.Second,
	}
}

// Reducer classifies consecutive observations. It is single-threaded and
// owned by one session pipeline.
type Reducer struct {
	cfg    Config
	logger zerolog.Logger

	hasPrev  bool
	prevWall time.Time
	prevPos  time.Duration
	prevKind playback.Kind

	// hasPos is false before the first position and after ended, so the
	// next play starts fresh instead of looking like a seek.
	hasPos  bool
	lastPos time.Duration

	open      bool
	openStart time.Duration
	openEnd   time.Duration

	terminated bool
	dropped    int
}

// NewReducer creates a reducer. Zero config fields take DefaultConfig values.
func NewReducer(cfg Config) *Reducer {
	def := DefaultConfig()
	if cfg.ExpectedInterval <= 0 {
		cfg.ExpectedInterval = def.ExpectedInterval
	}
	if cfg.Slack < 0 {
		cfg.Slack = 0
	}
	if cfg.MaxCatchUp < cfg.ExpectedInterval {
		cfg.MaxCatchUp = cfg.ExpectedInterval
	}
	return &Reducer{cfg: cfg, logger: logging.WithComponent("segment")}
}

// Observe consumes one observation and returns the segments it closes, in
// order. Malformed observations are dropped.
func (r *Reducer) Observe(obs playback.Observation) []Segment {
	if r.terminated {
		return nil
	}
	if !r.accept(obs) {
		return nil
	}

	var out []Segment
	switch obs.Kind {
	case playback.KindUnstarted:
		// Nothing has played yet.
	case playback.KindPlaying, playback.KindBuffering:
		out = r.advance(obs, out)
	case playback.KindPaused:
		out = r.advance(obs, out)
		out = r.close(out)
	case playback.KindEnded:
		out = r.advance(obs, out)
		out = r.close(out)
		r.hasPos = false
	case playback.KindUnavailable:
		out = r.close(out)
		r.terminated = true
	}

	r.hasPrev = true
	r.prevWall = obs.WallClock
	r.prevPos = obs.Position
	r.prevKind = obs.Kind
	r.count(out)
	return out
}

// Open returns the segment currently being extended, if any. It is a
// provisional view; the final segment is returned by Observe or Flush.
func (r *Reducer) Open() (Segment, bool) {
	if !r.open || r.openEnd <= r.openStart {
		return Segment{}, false
	}
	return Segment{Start: r.openStart, End: r.openEnd}, true
}

// Flush closes the open segment at the last known position.
func (r *Reducer) Flush() []Segment {
	out := r.close(nil)
	r.count(out)
	return out
}

// Dropped returns the number of observations discarded as malformed.
func (r *Reducer) Dropped() int { return r.dropped }

// accept validates an observation against the previous one.
func (r *Reducer) accept(obs playback.Observation) bool {
	if obs.Kind != playback.KindUnavailable && obs.Position < 0 {
		r.drop("negative_position", obs)
		return false
	}
	if !r.hasPrev {
		return true
	}
	if obs.WallClock.Before(r.prevWall) {
		r.drop("out_of_order", obs)
		return false
	}
	if obs.WallClock.Equal(r.prevWall) && obs.Position == r.prevPos && obs.Kind == r.prevKind {
		r.drop("duplicate", obs)
		return false
	}
	return true
}

func (r *Reducer) drop(reason string, obs playback.Observation) {
	r.dropped++
	metrics.ObservationsDropped.WithLabelValues(reason).Inc()
	r.logger.Debug().
		Str("reason", reason).
		Dur("position", obs.Position).
		Str("kind", obs.Kind.String()).
		Msg("Dropped observation")
}

// advance applies a position-bearing observation.
func (r *Reducer) advance(obs playback.Observation, out []Segment) []Segment {
	pos := obs.Position
	if !r.hasPos {
		r.openAt(pos)
		return out
	}

	delta := pos - r.lastPos
	lo := -r.cfg.Slack
	hi := r.expected(obs) + r.cfg.Slack
	if !r.open {
		// Resuming after a pause: the position should not have moved.
		hi = r.cfg.Slack
	}

	if delta < lo || delta > hi {
		out = r.close(out)
		out = append(out, skipMarker(r.lastPos, pos))
		r.openAt(pos)
		return out
	}

	if !r.open {
		r.openAt(pos)
		return out
	}
	r.openEnd = max(r.openEnd, pos)
	r.lastPos = pos
	return out
}

// expected returns the forward movement expected since the previous
// observation, widened by the wall-clock gap up to MaxCatchUp.
func (r *Reducer) expected(obs playback.Observation) time.Duration {
	exp := r.cfg.ExpectedInterval
	if r.hasPrev && r.prevKind == playback.KindPlaying {
		if gap := obs.WallClock.Sub(r.prevWall); gap > exp {
			exp = min(gap, r.cfg.MaxCatchUp)
		}
	}
	return exp
}

func (r *Reducer) openAt(pos time.Duration) {
	r.open = true
	r.openStart = pos
	r.openEnd = pos
	r.hasPos = true
	r.lastPos = pos
}

func (r *Reducer) close(out []Segment) []Segment {
	if !r.open {
		return out
	}
	r.open = false
	if r.openEnd > r.openStart {
		out = append(out, Segment{Start: r.openStart, End: r.openEnd})
	}
	return out
}

func (r *Reducer) count(out []Segment) {
	for _, s := range out {
		kind := "play"
		if s.IsSkip {
			kind = "skip"
		}
		metrics.SegmentsEmitted.WithLabelValues(kind).Inc()
	}
}

func skipMarker(from, to time.Duration) Segment {
	return Segment{Start: min(from, to), End: max(from, to), IsSkip: true}
}
