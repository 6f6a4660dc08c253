// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Devanshjoshi2804/mentornet/internal/progress"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *eventRecorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *eventRecorder) Name() string { return "recorder" }

func (r *eventRecorder) count(typ EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func newTestService(t *testing.T, store Store) (*Service, *eventRecorder) {
	t.Helper()
	rec := &eventRecorder{}
	svc := NewService(store, WithPublisher(rec), WithClock(func() time.Time { return testNow }))
	ctx := context.Background()
	for _, m := range []Module{
		{CourseID: "go-101", ModuleID: "m1", Duration: 100 * time.Second, CompletionThreshold: 90},
		{CourseID: "go-101", ModuleID: "m2", Duration: 60 * time.Second},
	} {
		if _, err := svc.RegisterModule(ctx, m); err != nil {
			t.Fatalf("RegisterModule(%s): %v", m.ModuleID, err)
		}
	}
	return svc, rec
}

var key1 = Key{LearnerID: "alice", CourseID: "go-101", ModuleID: "m1"}

func track(t *testing.T, svc *Service, key Key, start, end int, skip bool, seeks int) ProgressRecord {
	t.Helper()
	rec, err := svc.TrackProgress(context.Background(), TrackRequest{
		Key:          key,
		SegmentStart: time.Duration(start) * time.Second,
		SegmentEnd:   time.Duration(end) * time.Second,
		IsSkip:       skip,
		SeekCount:    seeks,
	})
	if err != nil {
		t.Fatalf("TrackProgress([%d,%d)): %v", start, end, err)
	}
	return rec
}

func TestTrackProgressMergesOverlappingSegments(t *testing.T) {
	svc, events := newTestService(t, NewMemoryStore())

	track(t, svc, key1, 0, 30, false, 0)
	rec := track(t, svc, key1, 20, 50, false, 0)

	if rec.WatchedDuration != 50*time.Second {
		t.Fatalf("watched = %v, want 50s", rec.WatchedDuration)
	}
	if rec.WatchPercentage != 50 {
		t.Fatalf("percentage = %d, want 50", rec.WatchPercentage)
	}
	if len(rec.Intervals) != 1 || rec.Intervals[0] != (progress.Interval{Start: 0, End: 50 * time.Second}) {
		t.Fatalf("intervals = %v", rec.Intervals)
	}
	if !rec.Registered || rec.ModuleDuration != 100*time.Second {
		t.Fatalf("record = %+v", rec)
	}
	if got := events.count(EventProgressUpdated); got != 2 {
		t.Fatalf("ProgressUpdated events = %d, want 2", got)
	}
}

func TestTrackProgressIsIdempotentAndMonotonic(t *testing.T) {
	svc, events := newTestService(t, NewMemoryStore())

	track(t, svc, key1, 0, 40, false, 2)
	// Duplicate delivery and an older, smaller state arriving late.
	track(t, svc, key1, 0, 40, false, 2)
	rec := track(t, svc, key1, 10, 20, false, 1)

	if rec.WatchedDuration != 40*time.Second || rec.SeekCount != 2 {
		t.Fatalf("record regressed: watched=%v seeks=%d", rec.WatchedDuration, rec.SeekCount)
	}
	if got := events.count(EventProgressUpdated); got != 1 {
		t.Fatalf("ProgressUpdated events = %d, want 1", got)
	}
}

func TestTrackProgressSkipCreditsNoTime(t *testing.T) {
	svc, _ := newTestService(t, NewMemoryStore())

	track(t, svc, key1, 0, 10, false, 0)
	rec := track(t, svc, key1, 10, 80, true, 1)
	if rec.WatchedDuration != 10*time.Second {
		t.Fatalf("watched = %v, want 10s", rec.WatchedDuration)
	}
	if rec.SeekCount != 1 {
		t.Fatalf("seek count = %d, want 1", rec.SeekCount)
	}
}

func TestTrackProgressClipsToModuleDuration(t *testing.T) {
	svc, _ := newTestService(t, NewMemoryStore())

	rec := track(t, svc, key1, 90, 150, false, 0)
	if rec.WatchedDuration != 10*time.Second {
		t.Fatalf("watched = %v, want 10s", rec.WatchedDuration)
	}
}

func TestTrackProgressRejections(t *testing.T) {
	svc, _ := newTestService(t, NewMemoryStore())
	ctx := context.Background()

	tests := []struct {
		name string
		req  TrackRequest
		want error
	}{
		{"unknown module", TrackRequest{Key: Key{"alice", "go-101", "nope"}, SegmentEnd: time.Second}, ErrUnknownModule},
		{"missing learner", TrackRequest{Key: Key{"", "go-101", "m1"}, SegmentEnd: time.Second}, ErrInvalidRequest},
		{"empty segment", TrackRequest{Key: key1, SegmentStart: 5 * time.Second, SegmentEnd: 5 * time.Second}, ErrInvalidRequest},
		{"negative start", TrackRequest{Key: key1, SegmentStart: -time.Second, SegmentEnd: time.Second}, ErrInvalidRequest},
		{"negative seeks", TrackRequest{Key: key1, SegmentEnd: time.Second, SeekCount: -1}, ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.TrackProgress(ctx, tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if !errors.Is(err, ErrRejected) {
				t.Fatalf("err = %v, want it to be a rejection", err)
			}
			if IsRetryable(err) {
				t.Fatal("rejections must not be retryable")
			}
		})
	}
}

func TestCompleteModuleAtMostOnce(t *testing.T) {
	svc, events := newTestService(t, NewMemoryStore())
	ctx := context.Background()

	track(t, svc, key1, 0, 80, false, 0)
	if err := svc.CompleteModule(ctx, key1); !errors.Is(err, ErrThresholdNotMet) {
		t.Fatalf("CompleteModule below threshold err = %v", err)
	}
	if done, _ := svc.IsModuleCompleted(ctx, key1); done {
		t.Fatal("module completed below threshold")
	}

	track(t, svc, key1, 80, 95, false, 0)
	for i := 0; i < 3; i++ {
		if err := svc.CompleteModule(ctx, key1); err != nil {
			t.Fatalf("CompleteModule #%d: %v", i, err)
		}
	}
	if got := events.count(EventModuleCompleted); got != 1 {
		t.Fatalf("ModuleCompleted events = %d, want 1", got)
	}

	rec, err := svc.GetProgress(ctx, key1)
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if !rec.Completed || !rec.CompletedAt.Equal(testNow) {
		t.Fatalf("record = %+v", rec)
	}

	// Further progress never clears completion.
	track(t, svc, key1, 95, 100, false, 3)
	if done, _ := svc.IsModuleCompleted(ctx, key1); !done {
		t.Fatal("completion flag regressed")
	}
}

func TestCourseCompletedEmittedOnce(t *testing.T) {
	svc, events := newTestService(t, NewMemoryStore())
	ctx := context.Background()
	key2 := Key{LearnerID: "alice", CourseID: "go-101", ModuleID: "m2"}

	track(t, svc, key1, 0, 100, false, 0)
	if err := svc.CompleteModule(ctx, key1); err != nil {
		t.Fatal(err)
	}
	if got := events.count(EventCourseCompleted); got != 0 {
		t.Fatalf("CourseCompleted emitted with a module outstanding")
	}

	track(t, svc, key2, 0, 60, false, 0)
	if err := svc.CompleteModule(ctx, key2); err != nil {
		t.Fatal(err)
	}
	if err := svc.CompleteModule(ctx, key2); err != nil {
		t.Fatal(err)
	}
	if got := events.count(EventCourseCompleted); got != 1 {
		t.Fatalf("CourseCompleted events = %d, want 1", got)
	}
}

func TestGetProgressUnregistered(t *testing.T) {
	svc, _ := newTestService(t, NewMemoryStore())

	rec, err := svc.GetProgress(context.Background(), key1)
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if rec.Registered || rec.WatchedDuration != 0 || rec.ModuleDuration != 100*time.Second {
		t.Fatalf("record = %+v", rec)
	}
}

func TestRegisterModuleValidation(t *testing.T) {
	svc := NewService(NewMemoryStore(), WithDefaultThreshold(75))
	ctx := context.Background()

	m, err := svc.RegisterModule(ctx, Module{CourseID: "c", ModuleID: "m", Duration: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	if m.CompletionThreshold != 75 {
		t.Fatalf("threshold = %d, want default 75", m.CompletionThreshold)
	}

	bad := []Module{
		{CourseID: "c", ModuleID: "m"},
		{CourseID: "", ModuleID: "m", Duration: time.Minute},
		{CourseID: "c", ModuleID: "m", Duration: time.Minute, CompletionThreshold: 101},
	}
	for _, m := range bad {
		if _, err := svc.RegisterModule(ctx, m); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("RegisterModule(%+v) err = %v, want ErrInvalidRequest", m, err)
		}
	}
}

// brokenStore fails every record operation.
type brokenStore struct {
	*MemoryStore
}

var errDiskGone = errors.New("disk gone")

func (b brokenStore) UpdateRecord(context.Context, Key, UpdateFunc) (ProgressRecord, bool, error) {
	return ProgressRecord{}, false, errDiskGone
}

func (b brokenStore) GetRecord(context.Context, Key) (ProgressRecord, error) {
	return ProgressRecord{}, errDiskGone
}

func TestStoreFailuresAreUnavailable(t *testing.T) {
	svc, _ := newTestService(t, brokenStore{NewMemoryStore()})
	ctx := context.Background()

	_, err := svc.TrackProgress(ctx, TrackRequest{Key: key1, SegmentEnd: time.Second})
	if !errors.Is(err, ErrUnavailable) || !errors.Is(err, errDiskGone) {
		t.Fatalf("TrackProgress err = %v", err)
	}
	if !IsRetryable(err) {
		t.Fatal("store failure should be retryable")
	}
	if _, err := svc.IsModuleCompleted(ctx, key1); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("IsModuleCompleted err = %v", err)
	}
}

func TestPublishFailureDoesNotFailWrite(t *testing.T) {
	svc, events := newTestService(t, NewMemoryStore())
	events.err = errors.New("broker down")

	rec := track(t, svc, key1, 0, 10, false, 0)
	if rec.WatchedDuration != 10*time.Second {
		t.Fatalf("watched = %v", rec.WatchedDuration)
	}
}

func TestMultiPublisherJoinsErrors(t *testing.T) {
	ok := &eventRecorder{}
	failing := &eventRecorder{err: errors.New("nope")}
	m := NewMultiPublisher(ok, nil)
	m.Add(failing)

	err := m.Publish(context.Background(), Event{Type: EventProgressUpdated})
	var pe *PublishError
	if !errors.As(err, &pe) || pe.Sink != "recorder" {
		t.Fatalf("err = %v", err)
	}
	if ok.count(EventProgressUpdated) != 1 || failing.count(EventProgressUpdated) != 1 {
		t.Fatal("every sink should receive the event")
	}
}

func TestEventSubject(t *testing.T) {
	tests := map[EventType]string{
		EventProgressUpdated: "ledger.progress_updated",
		EventModuleCompleted: "ledger.module_completed",
		EventCourseCompleted: "ledger.course_completed",
		EventType("other"):   "ledger.unknown",
	}
	for typ, want := range tests {
		if got := (Event{Type: typ}).Subject(); got != want {
			t.Errorf("Subject(%s) = %q, want %q", typ, got, want)
		}
	}
}
