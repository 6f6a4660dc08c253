// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

package syncclient

import (
	"context"
	"errors"
	"time"

	"github.com/Devanshjoshi2804/mentornet/internal/ledger"
	"github.com/Devanshjoshi2804/mentornet/internal/metrics"
	"github.com/Devanshjoshi2804/mentornet/internal/outbox"
	"github.com/Devanshjoshi2804/mentornet/internal/progress"
)

// run is the single writer of the session.
func (c *Client) run() {
	defer close(c.done)
	for {
		select {
		case <-c.ctx.Done():
			return
		case p := <-c.mailbox:
			c.deliver(p)
		}
	}
}

// deliver writes p and keeps retrying transient failures with the newest
// state until it is confirmed, rejected, or the client shuts down.
func (c *Client) deliver(p *payload) {
	for attempt := 0; p != nil; attempt++ {
		c.setInFlight(true)
		err := c.send(p)
		c.setInFlight(false)
		reply(p, err)

		if err == nil || errors.Is(err, ledger.ErrRejected) || c.ctx.Err() != nil {
			if err == nil {
				c.markIssued(p.position)
				c.clearOutbox()
			}
			return
		}

		metrics.SyncRetries.Inc()
		c.persist()
		delay := outbox.Backoff(c.cfg.RetryBackoff, c.cfg.MaxBackoff, attempt)
		c.logger.Warn().
			Err(err).
			Uint64("version", p.version).
			Int("attempt", attempt+1).
			Dur("retry_in", delay).
			Msg("Ledger unavailable, will retry progress write")

		p = c.awaitRetry(delay)
	}
}

// awaitRetry waits out the backoff and returns the payload to retry. A
// payload someone is waiting on (Flush, Close) cuts the wait short.
func (c *Client) awaitRetry(delay time.Duration) *payload {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	var next *payload
	for {
		select {
		case <-c.ctx.Done():
			if next != nil {
				reply(next, c.ctx.Err())
			}
			return nil
		case p := <-c.mailbox:
			if next != nil {
				p.replies = append(next.replies, p.replies...)
			}
			next = p
			if len(next.replies) > 0 {
				return next
			}
		case <-timer.C:
			if next != nil {
				return next
			}
			c.mu.Lock()
			defer c.mu.Unlock()
			return c.buildLocked()
		}
	}
}

// send issues the writes of p in order. Confirmed and rejected writes
// settle immediately; the first transient failure stops the pass.
func (c *Client) send(p *payload) error {
	var (
		rejected []ledger.TrackRequest
		rejErr   error
	)
	for _, w := range p.writes {
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.WriteTimeout)
		rec, err := c.ledger.TrackProgress(ctx, w)
		cancel()

		switch {
		case err == nil:
			metrics.SyncWrites.WithLabelValues("confirmed").Inc()
			c.confirm(w, rec)
		case errors.Is(err, ledger.ErrRejected):
			metrics.SyncWrites.WithLabelValues("rejected").Inc()
			c.drop(w)
			rejected = append(rejected, w)
			if rejErr == nil {
				rejErr = err
			}
		default:
			metrics.SyncWrites.WithLabelValues("transient").Inc()
			c.notifyRejected(rejected, rejErr)
			return err
		}
	}
	c.notifyRejected(rejected, rejErr)
	return rejErr
}

func (c *Client) confirm(w ledger.TrackRequest, rec ledger.ProgressRecord) {
	c.mu.Lock()
	if !w.IsSkip {
		c.dirty.Subtract(progress.Interval{Start: w.SegmentStart, End: w.SegmentEnd})
	}
	c.ledgerSeeks = max(c.ledgerSeeks, w.SeekCount, rec.SeekCount)
	c.localSeeks = max(c.localSeeks, c.ledgerSeeks)
	c.lastCommit = c.now()
	c.mu.Unlock()

	select {
	case c.confirmed <- struct{}{}:
	default:
	}
}

// markIssued moves the throttle reference to the position a fully
// confirmed payload was built at.
func (c *Client) markIssued(pos time.Duration) {
	c.mu.Lock()
	c.lastIssued = pos
	c.mu.Unlock()
}

// drop discards a rejected write. Its seek count is treated as settled so
// the skip marker is not resent.
func (c *Client) drop(w ledger.TrackRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !w.IsSkip {
		c.dirty.Subtract(progress.Interval{Start: w.SegmentStart, End: w.SegmentEnd})
	}
	c.ledgerSeeks = max(c.ledgerSeeks, w.SeekCount)
}

func (c *Client) notifyRejected(writes []ledger.TrackRequest, err error) {
	if len(writes) == 0 {
		return
	}
	c.logger.Error().
		Err(err).
		Int("writes", len(writes)).
		Msg("Ledger rejected progress write, dropping it")

	n := Notice{Key: c.key, Writes: writes, Err: err, At: c.now()}
	select {
	case c.notices <- n:
	default:
		c.logger.Warn().Msg("Notice buffer full, rejection not surfaced")
	}
}

// persist stores the latest unconfirmed state in the outbox.
func (c *Client) persist() {
	if c.outbox == nil {
		return
	}
	c.mu.Lock()
	writes := c.writesLocked()
	c.mu.Unlock()
	if len(writes) == 0 {
		return
	}

	id := outbox.EntryID(c.key, c.sessionID)
	err := c.outbox.Put(c.ctx, outbox.Entry{ID: id, Key: c.key, SessionID: c.sessionID, Writes: writes})
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to persist pending progress to outbox")
		return
	}
	c.mu.Lock()
	c.persisted = true
	c.mu.Unlock()
}

// clearOutbox removes the persisted entry once nothing is left pending.
func (c *Client) clearOutbox() {
	if c.outbox == nil {
		return
	}
	c.mu.Lock()
	drained := c.persisted && !c.hasPendingLocked()
	if drained {
		c.persisted = false
	}
	c.mu.Unlock()
	if !drained {
		return
	}
	if err := c.outbox.Delete(c.ctx, outbox.EntryID(c.key, c.sessionID)); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to clear outbox entry")
	}
}

func (c *Client) setInFlight(v bool) {
	c.mu.Lock()
	c.inFlight = v
	c.mu.Unlock()
}

// reply delivers err to everyone waiting on p. Each waiter learns only the
// first outcome.
func reply(p *payload, err error) {
	for _, ch := range p.replies {
		select {
		case ch <- err:
		default:
		}
	}
	p.replies = nil
}
