// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

/*
Package syncclient keeps the ledger converged with one playback session.

The session pipeline hands every position and every reducer segment to the
Client without blocking. The Client keeps the unconfirmed state (dirty
intervals and the local seek count) and a single writer goroutine turns
that state into TrackProgress calls. Payloads are always computed from the
current state, so a newer payload simply replaces an older one waiting in
the one-slot mailbox and a retry always carries the latest values.

Write outcomes:

  - confirmed: the written spans leave the dirty set and the ledger seek
    count is recorded
  - transient (ledger.ErrUnavailable): retried with exponential backoff
    while state keeps accumulating, bounded by MaxPendingIntervals
  - rejected (ledger.ErrRejected): logged, reported once on Notices and
    dropped

Close performs a final unthrottled write. Whatever the ledger did not
confirm by then is handed to the outbox, when one is configured.
*/
package syncclient

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
	"github.com/Devanshjoshi2804/mentornet/internal/outbox"
	"github.com/Devanshjoshi2804/mentornet/internal/progress"
	"github.com/Devanshjoshi2804/mentornet/internal/segment"
)

// ErrClosed is returned by Flush after Close.
var ErrClosed = errors.New("syncclient: client closed")

const noticeBuffer = 16

// Config holds the write scheduling parameters.
type Config struct {
	ThrottleGate        time.Duration
	RetryBackoff        time.Duration
	MaxBackoff          time.Duration
	WriteTimeout        time.Duration
	MaxPendingIntervals int
}

// ConfigFromSync extracts the client parameters from the sync section.
func ConfigFromSync(c config.SyncConfig) Config {
	return Config{
		ThrottleGate:        c.ThrottleGate,
		RetryBackoff:        c.RetryBackoff,
		MaxBackoff:          c.MaxBackoff,
		WriteTimeout:        c.WriteTimeout,
		MaxPendingIntervals: c.MaxPendingIntervals,
	}
}

func (c *Config) applyDefaults() {
	if c.ThrottleGate <= 0 {
		c.ThrottleGate = time.Second
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff < c.RetryBackoff {
		c.MaxBackoff = max(30*time.Second, c.RetryBackoff)
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.MaxPendingIntervals <= 0 {
		c.MaxPendingIntervals = 256
	}
}

// Outbox persists undelivered session state.
type Outbox interface {
	Put(ctx context.Context, e outbox.Entry) error
	Delete(ctx context.Context, id string) error
}

// Notice reports writes the ledger rejected.
type Notice struct {
	Key    ledger.Key
	Writes []ledger.TrackRequest
	Err    error
	At     time.Time
}

// State is a copy of the client's sync state.
type State struct {
	LastPosition       time.Duration
	LastIssuedPosition time.Duration
	LastCommit         time.Time
	Pending            []progress.Interval
	SkipPending        bool
	LocalSeekCount     int
	LedgerSeekCount    int
	Version            uint64
	InFlight           bool
}

// Option configures a Client.
type Option func(*Client)

// WithOutbox hands undelivered state to o under the given session id.
func WithOutbox(o Outbox, sessionID string) Option {
	return func(c *Client) {
		c.outbox = o
		c.sessionID = sessionID
	}
}

// WithClock overrides the clock used for request timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithLogger sets the client's logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

type payload struct {
	version  uint64
	position time.Duration
	writes   []ledger.TrackRequest
	replies  []chan error
}

// Client synchronizes one session's progress with the ledger.
type Client struct {
	key       ledger.Key
	ledger    ledger.Ledger
	cfg       Config
	outbox    Outbox
	sessionID string
	now       func() time.Time
	logger    zerolog.Logger

	mu          sync.Mutex
	lastPos     time.Duration
	lastIssued  time.Duration
	lastCommit  time.Time
	dirty       progress.IntervalSet
	skip        progress.Interval
	localSeeks  int
	ledgerSeeks int
	version     uint64
	inFlight    bool
	closed      bool
	persisted   bool

	mailbox   chan *payload
	confirmed chan struct{}
	notices   chan Notice
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a client for key and starts its writer goroutine. Close must
// be called to stop it.
func New(l ledger.Ledger, key ledger.Key, cfg Config, opts ...Option) *Client {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		key:       key,
		ledger:    l,
		cfg:       cfg,
		now:       time.Now,
		logger:    logging.WithSession("syncclient", key.LearnerID, key.CourseID, key.ModuleID),
		mailbox:   make(chan *payload, 1),
		confirmed: make(chan struct{}, 1),
		notices:   make(chan Notice, noticeBuffer),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.run()
	return c
}

// Notices reports rejected writes. The channel is closed by Close.
func (c *Client) Notices() <-chan Notice { return c.notices }

// Baseline seeds the client with the ledger's state so nothing lower is
// ever transmitted and already recorded spans are not resent.
func (c *Client) Baseline(rec ledger.ProgressRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ledgerSeeks = max(c.ledgerSeeks, rec.SeekCount)
	c.localSeeks = max(c.localSeeks, rec.SeekCount)
	for _, iv := range rec.Intervals {
		c.dirty.Subtract(iv)
	}
}

// UpdatePosition records the latest playback position and schedules a
// write once the position has moved ThrottleGate away from the position of
// the last confirmed write.
func (c *Client) UpdatePosition(pos time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.lastPos = pos
	if absDuration(pos-c.lastIssued) >= c.cfg.ThrottleGate {
		c.scheduleLocked(false)
	}
}

// Record adds a credited play interval or a skip marker to the unconfirmed
// state. Play segments must already be clipped to the media.
func (c *Client) Record(seg segment.Segment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if seg.IsSkip {
		c.localSeeks++
		c.skip = progress.Interval{Start: seg.Start, End: seg.End}
		return
	}
	c.dirty.Add(progress.Interval{Start: seg.Start, End: seg.End})
	if c.dirty.Len() > c.cfg.MaxPendingIntervals {
		n := c.dirty.Len() - c.cfg.MaxPendingIntervals
		lost := c.dirty.DropShortest(c.cfg.MaxPendingIntervals)
		metrics.SyncPendingIntervalsDropped.Add(float64(n))
		c.logger.Warn().
			Int("dropped", n).
			Dur("media_time", lost).
			Msg("Pending interval buffer full, dropping shortest unconfirmed intervals")
	}
}

// Reset prepares the client for a fresh pass over the same module. Unconfirmed
// intervals and seek counts are kept; only position tracking starts over.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastPos = 0
	c.lastIssued = 0
}

// Flush writes the current state without throttling and waits for the
// outcome of the first attempt.
func (c *Client) Flush(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	reply := c.scheduleLocked(true)
	c.mu.Unlock()
	if reply == nil {
		return nil
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close forces a final write and waits for the ledger to confirm the
// remaining state until ctx expires. Unconfirmed state is then handed to
// the outbox. Close is idempotent.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	reply := c.scheduleLocked(true)
	c.mu.Unlock()

	var err error
	if reply != nil {
		select {
		case err = <-reply:
		case <-ctx.Done():
			err = ctx.Err()
		}
		if err != nil && !errors.Is(err, ledger.ErrRejected) {
			err = c.waitDrained(ctx)
		}
	}

	c.cancel()
	<-c.done
	close(c.notices)

	c.handoff(context.WithoutCancel(ctx))
	return err
}

// State returns a copy of the sync state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		LastPosition:       c.lastPos,
		LastIssuedPosition: c.lastIssued,
		LastCommit:         c.lastCommit,
		Pending:            c.dirty.Intervals(),
		SkipPending:        c.localSeeks > c.ledgerSeeks,
		LocalSeekCount:     c.localSeeks,
		LedgerSeekCount:    c.ledgerSeeks,
		Version:            c.version,
		InFlight:           c.inFlight,
	}
}

// waitDrained blocks until nothing is left unconfirmed or ctx is done.
func (c *Client) waitDrained(ctx context.Context) error {
	for {
		c.mu.Lock()
		idle := !c.hasPendingLocked()
		c.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-c.confirmed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// scheduleLocked builds a payload from the current state and places it in
// the mailbox, replacing any payload not yet picked up. With wait set the
// returned channel receives the outcome of the first attempt.
func (c *Client) scheduleLocked(wait bool) chan error {
	p := c.buildLocked()
	if p == nil {
		return nil
	}

	var reply chan error
	if wait {
		reply = make(chan error, 1)
		p.replies = append(p.replies, reply)
	}
	select {
	case old := <-c.mailbox:
		p.replies = append(old.replies, p.replies...)
	default:
	}
	// Senders hold c.mu and the slot was just emptied.
	c.mailbox <- p
	return reply
}

func (c *Client) buildLocked() *payload {
	writes := c.writesLocked()
	if len(writes) == 0 {
		return nil
	}
	c.version++
	return &payload{version: c.version, position: c.lastPos, writes: writes}
}

// writesLocked turns the unconfirmed state into TrackProgress requests: one
// per dirty interval, or a single skip write when only the seek count moved.
func (c *Client) writesLocked() []ledger.TrackRequest {
	seeks := max(c.localSeeks, c.ledgerSeeks)
	ts := c.now().UTC()

	var writes []ledger.TrackRequest
	for _, iv := range c.dirty.Intervals() {
		writes = append(writes, ledger.TrackRequest{
			Key:          c.key,
			Timestamp:    ts,
			SegmentStart: iv.Start,
			SegmentEnd:   iv.End,
			SeekCount:    seeks,
		})
	}
	if len(writes) == 0 && c.localSeeks > c.ledgerSeeks && !c.skip.Empty() {
		writes = append(writes, ledger.TrackRequest{
			Key:          c.key,
			Timestamp:    ts,
			SegmentStart: c.skip.Start,
			SegmentEnd:   c.skip.End,
			IsSkip:       true,
			SeekCount:    seeks,
		})
	}
	return writes
}

func (c *Client) hasPendingLocked() bool {
	return c.dirty.Len() > 0 || (c.localSeeks > c.ledgerSeeks && !c.skip.Empty())
}

// handoff persists whatever is still unconfirmed, or clears an earlier
// outbox entry once everything was confirmed.
func (c *Client) handoff(ctx context.Context) {
	if c.outbox == nil {
		return
	}
	c.mu.Lock()
	writes := c.writesLocked()
	persisted := c.persisted
	c.mu.Unlock()

	id := outbox.EntryID(c.key, c.sessionID)
	if len(writes) == 0 {
		if persisted {
			if err := c.outbox.Delete(ctx, id); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to clear outbox entry")
			}
		}
		return
	}
	err := c.outbox.Put(ctx, outbox.Entry{ID: id, Key: c.key, SessionID: c.sessionID, Writes: writes})
	if err != nil {
		c.logger.Error().Err(err).Int("writes", len(writes)).Msg("Failed to hand final state to outbox")
		return
	}
	c.logger.Info().Int("writes", len(writes)).Msg("Final state handed to outbox")
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
