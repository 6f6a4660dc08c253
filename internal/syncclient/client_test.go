// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

package syncclient

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Devanshjoshi2804/mentornet/internal/ledger"
	"github.com/Devanshjoshi2804/mentornet/internal/outbox"
	"github.com/Devanshjoshi2804/mentornet/internal/progress"
	"github.com/Devanshjoshi2804/mentornet/internal/segment"
)

var testKey = ledger.Key{LearnerID: "l1", CourseID: "c1", ModuleID: "m1"}

// fakeLedger records writes. The first failures calls return err; a nil
// err with failures left is ignored.
type fakeLedger struct {
	ledger.Ledger

	mu       sync.Mutex
	writes   []ledger.TrackRequest
	calls    int
	failures int
	err      error
	seeks    int
}

func (f *fakeLedger) TrackProgress(_ context.Context, req ledger.TrackRequest) (ledger.ProgressRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil && (f.failures < 0 || f.calls <= f.failures) {
		return ledger.ProgressRecord{}, f.err
	}
	f.writes = append(f.writes, req)
	f.seeks = max(f.seeks, req.SeekCount)
	return ledger.ProgressRecord{Key: req.Key, Registered: true, SeekCount: f.seeks}, nil
}

func (f *fakeLedger) snapshot() ([]ledger.TrackRequest, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ledger.TrackRequest(nil), f.writes...), f.calls
}

type fakeOutbox struct {
	mu      sync.Mutex
	entries map[string]outbox.Entry
	deletes int
}

func newFakeOutbox() *fakeOutbox {
	return &fakeOutbox{entries: make(map[string]outbox.Entry)}
}

func (o *fakeOutbox) Put(_ context.Context, e outbox.Entry) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries[e.ID] = e
	return nil
}

func (o *fakeOutbox) Delete(_ context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.entries, id)
	o.deletes++
	return nil
}

func (o *fakeOutbox) get(id string) (outbox.Entry, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[id]
	return e, ok
}

func testConfig() Config {
	return Config{
		ThrottleGate:        time.Second,
		RetryBackoff:        time.Millisecond,
		MaxBackoff:          5 * time.Millisecond,
		WriteTimeout:        time.Second,
		MaxPendingIntervals: 16,
	}
}

func newTestClient(t *testing.T, l ledger.Ledger, cfg Config, opts ...Option) *Client {
	t.Helper()
	c := New(l, testKey, cfg, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		_ = c.Close(ctx)
	})
	return c
}

func play(start, end time.Duration) segment.Segment {
	return segment.Segment{Start: start, End: end}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestThrottleGate(t *testing.T) {
	l := &fakeLedger{}
	c := newTestClient(t, l, testConfig())

	c.Record(play(0, 500*time.Millisecond))
	c.UpdatePosition(500 * time.Millisecond)
	if v := c.State().Version; v != 0 {
		t.Fatalf("write scheduled below the gate (version %d)", v)
	}

	c.Record(play(500*time.Millisecond, time.Second))
	c.UpdatePosition(time.Second)
	if st := c.State(); st.Version != 1 {
		t.Fatalf("state after crossing gate = %+v", st)
	}

	waitFor(t, "confirmed write", func() bool {
		st := c.State()
		return len(st.Pending) == 0 && st.LastIssuedPosition == time.Second
	})
	writes, _ := l.snapshot()
	if len(writes) != 1 || writes[0].SegmentStart != 0 || writes[0].SegmentEnd != time.Second {
		t.Fatalf("writes = %+v", writes)
	}

	// Seeking back to the start moves a full gate away.
	c.Record(play(0, 200*time.Millisecond))
	c.UpdatePosition(0)
	if v := c.State().Version; v != 2 {
		t.Fatalf("version after backward move = %d, want 2", v)
	}
}

// stallingLedger holds its first write until release is closed.
type stallingLedger struct {
	fakeLedger
	started atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (s *stallingLedger) TrackProgress(ctx context.Context, req ledger.TrackRequest) (ledger.ProgressRecord, error) {
	if s.started.CompareAndSwap(false, true) {
		close(s.entered)
		select {
		case <-s.release:
		case <-ctx.Done():
			return ledger.ProgressRecord{}, ctx.Err()
		}
	}
	return s.fakeLedger.TrackProgress(ctx, req)
}

func TestThrottleGateFollowsConfirmedWrites(t *testing.T) {
	l := &stallingLedger{entered: make(chan struct{}), release: make(chan struct{})}
	c := newTestClient(t, l, testConfig())

	c.Record(play(0, time.Second))
	c.UpdatePosition(time.Second)
	select {
	case <-l.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first write never reached the ledger")
	}
	if st := c.State(); st.LastIssuedPosition != 0 {
		t.Fatalf("gate moved before the write was confirmed: %+v", st)
	}

	// Half a gate past the unconfirmed write is a full gate past the last
	// confirmed one.
	c.Record(play(time.Second, 1500*time.Millisecond))
	c.UpdatePosition(1500 * time.Millisecond)
	if v := c.State().Version; v != 2 {
		t.Fatalf("version = %d, want 2", v)
	}

	close(l.release)
	waitFor(t, "second write confirmed", func() bool {
		st := c.State()
		return len(st.Pending) == 0 && st.LastIssuedPosition == 1500*time.Millisecond
	})
	writes, _ := l.snapshot()
	if len(writes) == 0 || writes[len(writes)-1].SegmentEnd != 1500*time.Millisecond {
		t.Fatalf("writes = %+v", writes)
	}
}

func TestFlushWritesEachDirtyInterval(t *testing.T) {
	l := &fakeLedger{}
	c := newTestClient(t, l, testConfig())

	c.Record(play(0, 10*time.Second))
	c.Record(play(20*time.Second, 30*time.Second))
	c.Record(play(5*time.Second, 12*time.Second))

	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	writes, _ := l.snapshot()
	var got []progress.Interval
	for _, w := range writes {
		got = append(got, progress.Interval{Start: w.SegmentStart, End: w.SegmentEnd})
		if w.Key != testKey || w.IsSkip {
			t.Fatalf("unexpected write %+v", w)
		}
	}
	want := []progress.Interval{{Start: 0, End: 12 * time.Second}, {Start: 20 * time.Second, End: 30 * time.Second}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("written intervals = %v, want %v", got, want)
	}
	st := c.State()
	if len(st.Pending) != 0 || st.LastCommit.IsZero() {
		t.Fatalf("state after flush = %+v", st)
	}

	// Nothing left to send.
	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("second Flush: %v", err)
	}
	if _, calls := l.snapshot(); calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestSeekCountNeverBelowLedger(t *testing.T) {
	l := &fakeLedger{}
	c := newTestClient(t, l, testConfig())

	c.Baseline(ledger.ProgressRecord{Key: testKey, Registered: true, SeekCount: 5})
	c.Record(segment.Segment{Start: 10 * time.Second, End: 40 * time.Second, IsSkip: true})

	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	writes, _ := l.snapshot()
	if len(writes) != 1 {
		t.Fatalf("writes = %+v", writes)
	}
	w := writes[0]
	if !w.IsSkip || w.SeekCount != 6 || w.SegmentStart != 10*time.Second || w.SegmentEnd != 40*time.Second {
		t.Fatalf("skip write = %+v", w)
	}

	c.Record(play(40*time.Second, 45*time.Second))
	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	writes, _ = l.snapshot()
	if last := writes[len(writes)-1]; last.IsSkip || last.SeekCount != 6 {
		t.Fatalf("play write = %+v", last)
	}
	if st := c.State(); st.SkipPending || st.LedgerSeekCount != 6 {
		t.Fatalf("state = %+v", st)
	}
}

func TestBaselineSkipsRecordedSpans(t *testing.T) {
	l := &fakeLedger{}
	c := newTestClient(t, l, testConfig())

	c.Record(play(0, 10*time.Second))
	c.Baseline(ledger.ProgressRecord{
		Key:        testKey,
		Registered: true,
		Intervals:  []progress.Interval{{Start: 0, End: 8 * time.Second}},
	})
	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	writes, _ := l.snapshot()
	if len(writes) != 1 || writes[0].SegmentStart != 8*time.Second {
		t.Fatalf("writes = %+v", writes)
	}
}

func TestTransientFailuresRetry(t *testing.T) {
	l := &fakeLedger{err: fmt.Errorf("%w: 503", ledger.ErrUnavailable), failures: 2}
	ob := newFakeOutbox()
	c := newTestClient(t, l, testConfig(), WithOutbox(ob, "s1"))

	c.Record(play(0, 3*time.Second))
	if err := c.Flush(context.Background()); !errors.Is(err, ledger.ErrUnavailable) {
		t.Fatalf("Flush err = %v, want ErrUnavailable", err)
	}

	waitFor(t, "retried write", func() bool { return len(c.State().Pending) == 0 })
	writes, calls := l.snapshot()
	if calls != 3 || len(writes) != 1 {
		t.Fatalf("calls = %d writes = %+v", calls, writes)
	}
	waitFor(t, "outbox cleared", func() bool {
		ob.mu.Lock()
		defer ob.mu.Unlock()
		return ob.deletes == 1 && len(ob.entries) == 0
	})
}

func TestRejectedWriteSurfacedOnce(t *testing.T) {
	l := &fakeLedger{err: fmt.Errorf("%w: bad segment", ledger.ErrInvalidRequest), failures: -1}
	c := newTestClient(t, l, testConfig())

	c.Record(play(0, 3*time.Second))
	if err := c.Flush(context.Background()); !errors.Is(err, ledger.ErrRejected) {
		t.Fatalf("Flush err = %v, want ErrRejected", err)
	}

	select {
	case n := <-c.Notices():
		if n.Key != testKey || len(n.Writes) != 1 || !errors.Is(n.Err, ledger.ErrInvalidRequest) {
			t.Fatalf("notice = %+v", n)
		}
	case <-time.After(time.Second):
		t.Fatal("no notice for rejected write")
	}

	if len(c.State().Pending) != 0 {
		t.Fatal("rejected interval still pending")
	}
	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("Flush after rejection: %v", err)
	}
	if _, calls := l.snapshot(); calls != 1 {
		t.Fatalf("rejected write was resent (%d calls)", calls)
	}
}

func TestPendingIntervalsBounded(t *testing.T) {
	l := &fakeLedger{}
	cfg := testConfig()
	cfg.MaxPendingIntervals = 2
	c := newTestClient(t, l, cfg)

	c.Record(play(0, 5*time.Second))
	c.Record(play(10*time.Second, 11*time.Second))
	c.Record(play(20*time.Second, 23*time.Second))

	want := []progress.Interval{
		{Start: 0, End: 5 * time.Second},
		{Start: 20 * time.Second, End: 23 * time.Second},
	}
	if got := c.State().Pending; !reflect.DeepEqual(got, want) {
		t.Fatalf("pending = %v, want %v", got, want)
	}
}

func TestCloseConfirmsFinalState(t *testing.T) {
	l := &fakeLedger{}
	ob := newFakeOutbox()
	c := New(l, testKey, testConfig(), WithOutbox(ob, "s1"))

	c.Record(play(0, 400*time.Millisecond))
	c.UpdatePosition(400 * time.Millisecond)
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	writes, _ := l.snapshot()
	if len(writes) != 1 || writes[0].SegmentEnd != 400*time.Millisecond {
		t.Fatalf("final writes = %+v", writes)
	}
	if _, ok := ob.get(outbox.EntryID(testKey, "s1")); ok {
		t.Fatal("confirmed state handed to outbox")
	}
	if _, open := <-c.Notices(); open {
		t.Fatal("notices channel still open")
	}
	if err := c.Flush(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Flush after Close err = %v", err)
	}
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestCloseHandsOffToOutbox(t *testing.T) {
	l := &fakeLedger{err: ledger.ErrUnavailable, failures: -1}
	ob := newFakeOutbox()
	c := New(l, testKey, testConfig(), WithOutbox(ob, "s1"))

	c.Record(segment.Segment{Start: 0, End: 30 * time.Second, IsSkip: true})
	c.Record(play(30*time.Second, 42*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := c.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Close err = %v, want DeadlineExceeded", err)
	}

	e, ok := ob.get(outbox.EntryID(testKey, "s1"))
	if !ok {
		t.Fatal("undelivered state not handed to outbox")
	}
	if e.Key != testKey || e.SessionID != "s1" || len(e.Writes) != 1 {
		t.Fatalf("entry = %+v", e)
	}
	w := e.Writes[0]
	if w.SegmentStart != 30*time.Second || w.SegmentEnd != 42*time.Second || w.SeekCount != 1 {
		t.Fatalf("handed off write = %+v", w)
	}
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()
	if cfg.ThrottleGate != time.Second || cfg.MaxPendingIntervals <= 0 || cfg.MaxBackoff < cfg.RetryBackoff {
		t.Fatalf("defaults = %+v", cfg)
	}
}
