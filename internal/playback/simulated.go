// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

package playback

import (
	"sync"
	"time"
)

// SimulatedPlayer is a deterministic Player whose position advances with an
// injectable clock while playing. It backs cmd/replay and the pipeline tests.
type SimulatedPlayer struct {
	mu         sync.Mutex
	now        func() time.Time
	duration   time.Duration
	position   time.Duration
	state      Kind
	lastUpdate time.Time
	destroyed  bool

	nextSub int
	subs    map[int]func(Kind)
}

// NewSimulatedPlayer creates a player for media of the given duration. A nil
// clock selects time.Now.
func NewSimulatedPlayer(duration time.Duration, now func() time.Time) *SimulatedPlayer {
	if now == nil {
		now = time.Now
	}
	return &SimulatedPlayer{
		now:        now,
		duration:   duration,
		state:      KindUnstarted,
		lastUpdate: now(),
		subs:       make(map[int]func(Kind)),
	}
}

// CurrentTime returns the playback position, advancing it by the wall-clock
// time elapsed since the last read when playing.
func (p *SimulatedPlayer) CurrentTime() (time.Duration, error) {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return 0, ErrPlayerUnavailable
	}
	notify := p.advanceLocked()
	pos := p.position
	p.mu.Unlock()
	notify()
	return pos, nil
}

// Duration returns the media duration.
func (p *SimulatedPlayer) Duration() (time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return 0, ErrPlayerUnavailable
	}
	return p.duration, nil
}

// State returns the current player state.
func (p *SimulatedPlayer) State() Kind {
	p.mu.Lock()
	notify := p.advanceLocked()
	st := p.state
	if p.destroyed {
		st = KindUnavailable
	}
	p.mu.Unlock()
	notify()
	return st
}

// SeekTo moves the position, clamped to [0, duration].
func (p *SimulatedPlayer) SeekTo(position time.Duration) error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return ErrPlayerUnavailable
	}
	notify := p.advanceLocked()
	p.position = min(max(position, 0), p.duration)
	p.mu.Unlock()
	notify()
	return nil
}

// Play starts or resumes playback.
func (p *SimulatedPlayer) Play() error { return p.transition(KindPlaying) }

// Pause pauses playback.
func (p *SimulatedPlayer) Pause() error { return p.transition(KindPaused) }

// Buffer simulates a stall; the position stops advancing until Play.
func (p *SimulatedPlayer) Buffer() error { return p.transition(KindBuffering) }

// End jumps to the end of the media and raises KindEnded.
func (p *SimulatedPlayer) End() error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return ErrPlayerUnavailable
	}
	notify := p.advanceLocked()
	p.position = p.duration
	notifyState := p.setStateLocked(KindEnded)
	p.mu.Unlock()
	notify()
	notifyState()
	return nil
}

// Destroy makes every subsequent call fail with ErrPlayerUnavailable.
func (p *SimulatedPlayer) Destroy() {
	p.mu.Lock()
	p.destroyed = true
	p.mu.Unlock()
}

// Subscribe registers fn for state changes.
func (p *SimulatedPlayer) Subscribe(fn func(Kind)) func() {
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

func (p *SimulatedPlayer) transition(to Kind) error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return ErrPlayerUnavailable
	}
	notify := p.advanceLocked()
	if to == KindPlaying && p.state == KindEnded && p.position >= p.duration {
		p.position = 0
	}
	notifyState := p.setStateLocked(to)
	p.mu.Unlock()
	notify()
	notifyState()
	return nil
}

// advanceLocked moves the position forward while playing and returns the
// notifications to deliver after the lock is released.
func (p *SimulatedPlayer) advanceLocked() func() {
	now := p.now()
	elapsed := now.Sub(p.lastUpdate)
	p.lastUpdate = now
	if p.state != KindPlaying || elapsed <= 0 {
		return func() {}
	}
	p.position += elapsed
	if p.position < p.duration {
		return func() {}
	}
	p.position = p.duration
	return p.setStateLocked(KindEnded)
}

func (p *SimulatedPlayer) setStateLocked(to Kind) func() {
	if p.state == to {
		return func() {}
	}
	p.state = to
	subs := make([]func(Kind), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	return func() {
		for _, fn := range subs {
			fn(to)
		}
	}
}
