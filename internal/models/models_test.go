// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

package models

import (
	"reflect"
	"testing"
	"time"

	"github.com/Devanshjoshi2804/mentornet/internal/ledger"
	"github.com/Devanshjoshi2804/mentornet/internal/playback"
	"github.com/Devanshjoshi2804/mentornet/internal/progress"
	"github.com/Devanshjoshi2804/mentornet/internal/segment"
	"github.com/Devanshjoshi2804/mentornet/internal/validation"
)

func TestTrackProgressRequest_Conversion(t *testing.T) {
	ts := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	in := ledger.TrackRequest{
		Key:          ledger.Key{LearnerID: "l1", CourseID: "c1", ModuleID: "m1"},
		Timestamp:    ts,
		SegmentStart: 1500 * time.Millisecond,
		SegmentEnd:   4 * time.Second,
		IsSkip:       true,
		SeekCount:    3,
	}

	wire := NewTrackProgressRequest(in)
	if wire.SegmentStartMS != 1500 || wire.SegmentEndMS != 4000 {
		t.Fatalf("wire offsets = %d..%d", wire.SegmentStartMS, wire.SegmentEndMS)
	}
	if got := wire.TrackRequest("l1"); got != in {
		t.Fatalf("TrackRequest() = %+v, want %+v", got, in)
	}
}

func TestTrackProgressRequest_SubMillisecondSpan(t *testing.T) {
	// Pausing right after a resume yields a span shorter than a millisecond.
	r := segment.NewReducer(segment.DefaultConfig())
	start := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	r.Observe(playback.Observation{WallClock: start, Position: 10*time.Second + 200*time.Microsecond, Kind: playback.KindPlaying})
	segs := r.Observe(playback.Observation{WallClock: start.Add(time.Millisecond), Position: 10*time.Second + 700*time.Microsecond, Kind: playback.KindPaused})
	if len(segs) != 1 || segs[0].IsSkip {
		t.Fatalf("segments = %+v", segs)
	}

	in := ledger.TrackRequest{
		Key:          ledger.Key{LearnerID: "l1", CourseID: "c1", ModuleID: "m1"},
		Timestamp:    start,
		SegmentStart: segs[0].Start,
		SegmentEnd:   segs[0].End,
	}
	if err := in.Validate(); err != nil {
		t.Fatalf("local Validate: %v", err)
	}
	wire := NewTrackProgressRequest(in)
	if wire.SegmentStartMS != 10000 || wire.SegmentEndMS != 10001 {
		t.Fatalf("wire offsets = %d..%d, want 10000..10001", wire.SegmentStartMS, wire.SegmentEndMS)
	}
	if err := validation.ValidateStruct(&wire); err != nil {
		t.Fatalf("wire form rejected: %v", err)
	}
}

func TestTrackProgressRequest_Validation(t *testing.T) {
	tests := []struct {
		name    string
		req     TrackProgressRequest
		wantErr bool
	}{
		{"valid", TrackProgressRequest{CourseID: "c", ModuleID: "m", SegmentEndMS: 1000}, false},
		{"valid skip", TrackProgressRequest{CourseID: "c", ModuleID: "m", SegmentStartMS: 10, SegmentEndMS: 90, IsSkip: true, SeekCount: 1}, false},
		{"missing module", TrackProgressRequest{CourseID: "c", SegmentEndMS: 1000}, true},
		{"empty segment", TrackProgressRequest{CourseID: "c", ModuleID: "m", SegmentStartMS: 5, SegmentEndMS: 5}, true},
		{"negative start", TrackProgressRequest{CourseID: "c", ModuleID: "m", SegmentStartMS: -1, SegmentEndMS: 5}, true},
		{"negative seeks", TrackProgressRequest{CourseID: "c", ModuleID: "m", SegmentEndMS: 5, SeekCount: -1}, true},
		{"bad learner", TrackProgressRequest{CourseID: "c", ModuleID: "m", LearnerID: "a b", SegmentEndMS: 5}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validation.ValidateStruct(&tt.req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateStruct() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestProgressResponse_Record(t *testing.T) {
	done := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := ledger.ProgressRecord{
		Key:             ledger.Key{LearnerID: "l1", CourseID: "c1", ModuleID: "m1"},
		Registered:      true,
		Intervals:       []progress.Interval{{Start: 0, End: 30 * time.Second}, {Start: 40 * time.Second, End: time.Minute}},
		WatchedDuration: 50 * time.Second,
		SeekCount:       2,
		WatchPercentage: 83,
		ModuleDuration:  time.Minute,
		Completed:       false,
		UpdatedAt:       done,
	}

	resp := NewProgressResponse(rec)
	if resp.WatchedMS != 50000 || resp.CompletedAt != nil || resp.UpdatedAt == nil {
		t.Fatalf("response = %+v", resp)
	}
	if back := resp.Record(); !reflect.DeepEqual(back, rec) {
		t.Fatalf("Record() = %+v, want %+v", back, rec)
	}

	empty := NewProgressResponse(ledger.ProgressRecord{Key: rec.Key})
	if empty.Intervals == nil || len(empty.Intervals) != 0 {
		t.Fatalf("unwritten record intervals = %#v, want empty slice", empty.Intervals)
	}
	if back := empty.Record(); back.Intervals != nil || back.Registered {
		t.Fatalf("unwritten record round trip = %+v", back)
	}
}

func TestModuleRequest_Validation(t *testing.T) {
	for _, tc := range []struct {
		req     ModuleRequest
		wantErr bool
	}{
		{ModuleRequest{DurationMS: 60000}, false},
		{ModuleRequest{DurationMS: 60000, CompletionThreshold: 100}, false},
		{ModuleRequest{DurationMS: 0}, true},
		{ModuleRequest{DurationMS: 1, CompletionThreshold: 101}, true},
	} {
		if err := validation.ValidateStruct(&tc.req); (err != nil) != tc.wantErr {
			t.Errorf("ValidateStruct(%+v) = %v, wantErr %v", tc.req, err, tc.wantErr)
		}
	}
}
