// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

package models

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/Devanshjoshi2804/mentornet/internal/ledger"
	"github.com/Devanshjoshi2804/mentornet/internal/progress"
)

// RawResponse is APIResponse with the payload left undecoded, used by
// clients that know the concrete data type of the endpoint they called.
type RawResponse struct {
	Status   string          `json:"status"`
	Data     json.RawMessage `json:"data"`
	Metadata Metadata        `json:"metadata"`
	Error    *APIError       `json:"error,omitempty"`
}

// TrackProgressRequest is the body of POST /api/v1/ledger/progress.
// Offsets are milliseconds of media time. LearnerID is optional; when set
// it must equal the authenticated learner.
type TrackProgressRequest struct {
	CourseID       string    `json:"course_id" validate:"required,ident"`
	ModuleID       string    `json:"module_id" validate:"required,ident"`
	LearnerID      string    `json:"learner_id,omitempty" validate:"omitempty,ident"`
	Timestamp      time.Time `json:"timestamp"`
	SegmentStartMS int64     `json:"segment_start_ms" validate:"gte=0"`
	SegmentEndMS   int64     `json:"segment_end_ms" validate:"gtfield=SegmentStartMS"`
	IsSkip         bool      `json:"is_skip"`
	SeekCount      int       `json:"seek_count" validate:"gte=0"`
}

// NewTrackProgressRequest converts a ledger write into its wire form. The
// span is widened to whole milliseconds (start down, end up) so a span
// shorter than a millisecond stays non-empty on the wire.
func NewTrackProgressRequest(req ledger.TrackRequest) TrackProgressRequest {
	return TrackProgressRequest{
		CourseID:       req.CourseID,
		ModuleID:       req.ModuleID,
		LearnerID:      req.LearnerID,
		Timestamp:      req.Timestamp,
		SegmentStartMS: req.SegmentStart.Milliseconds(),
		SegmentEndMS:   ceilMillis(req.SegmentEnd),
		IsSkip:         req.IsSkip,
		SeekCount:      req.SeekCount,
	}
}

func ceilMillis(d time.Duration) int64 {
	ms := d.Milliseconds()
	if d > 0 && d%time.Millisecond != 0 {
		ms++
	}
	return ms
}

// TrackRequest converts the body into a ledger write for learnerID.
func (r TrackProgressRequest) TrackRequest(learnerID string) ledger.TrackRequest {
	return ledger.TrackRequest{
		Key:          ledger.Key{LearnerID: learnerID, CourseID: r.CourseID, ModuleID: r.ModuleID},
		Timestamp:    r.Timestamp,
		SegmentStart: time.Duration(r.SegmentStartMS) * time.Millisecond,
		SegmentEnd:   time.Duration(r.SegmentEndMS) * time.Millisecond,
		IsSkip:       r.IsSkip,
		SeekCount:    r.SeekCount,
	}
}

// CompleteModuleRequest is the body of POST /api/v1/ledger/completions.
type CompleteModuleRequest struct {
	CourseID  string `json:"course_id" validate:"required,ident"`
	ModuleID  string `json:"module_id" validate:"required,ident"`
	LearnerID string `json:"learner_id,omitempty" validate:"omitempty,ident"`
}

// IntervalMS is a covered span in milliseconds of media time.
type IntervalMS struct {
	StartMS int64 `json:"start_ms"`
	EndMS   int64 `json:"end_ms"`
}

// ProgressResponse is the wire form of ledger.ProgressRecord.
type ProgressResponse struct {
	LearnerID        string       `json:"learner_id"`
	CourseID         string       `json:"course_id"`
	ModuleID         string       `json:"module_id"`
	Registered       bool         `json:"registered"`
	Intervals        []IntervalMS `json:"intervals"`
	WatchedMS        int64        `json:"watched_ms"`
	SeekCount        int          `json:"seek_count"`
	WatchPercentage  int          `json:"watch_percentage"`
	ModuleDurationMS int64        `json:"module_duration_ms"`
	Completed        bool         `json:"completed"`
	CompletedAt      *time.Time   `json:"completed_at,omitempty"`
	LastTimestamp    *time.Time   `json:"last_timestamp,omitempty"`
	UpdatedAt        *time.Time   `json:"updated_at,omitempty"`
}

// NewProgressResponse converts a record into its wire form.
func NewProgressResponse(rec ledger.ProgressRecord) ProgressResponse {
	ivs := make([]IntervalMS, len(rec.Intervals))
	for i, iv := range rec.Intervals {
		ivs[i] = IntervalMS{StartMS: iv.Start.Milliseconds(), EndMS: iv.End.Milliseconds()}
	}
	return ProgressResponse{
		LearnerID:        rec.LearnerID,
		CourseID:         rec.CourseID,
		ModuleID:         rec.ModuleID,
		Registered:       rec.Registered,
		Intervals:        ivs,
		WatchedMS:        rec.WatchedDuration.Milliseconds(),
		SeekCount:        rec.SeekCount,
		WatchPercentage:  rec.WatchPercentage,
		ModuleDurationMS: rec.ModuleDuration.Milliseconds(),
		Completed:        rec.Completed,
		CompletedAt:      optionalTime(rec.CompletedAt),
		LastTimestamp:    optionalTime(rec.LastTimestamp),
		UpdatedAt:        optionalTime(rec.UpdatedAt),
	}
}

// Record converts the response back into a ledger record.
func (p ProgressResponse) Record() ledger.ProgressRecord {
	var ivs []progress.Interval
	if len(p.Intervals) > 0 {
		ivs = make([]progress.Interval, len(p.Intervals))
		for i, iv := range p.Intervals {
			ivs[i] = progress.Interval{Start: ms(iv.StartMS), End: ms(iv.EndMS)}
		}
	}
	return ledger.ProgressRecord{
		Key:             ledger.Key{LearnerID: p.LearnerID, CourseID: p.CourseID, ModuleID: p.ModuleID},
		Registered:      p.Registered,
		Intervals:       ivs,
		WatchedDuration: ms(p.WatchedMS),
		SeekCount:       p.SeekCount,
		WatchPercentage: p.WatchPercentage,
		ModuleDuration:  ms(p.ModuleDurationMS),
		Completed:       p.Completed,
		CompletedAt:     derefTime(p.CompletedAt),
		LastTimestamp:   derefTime(p.LastTimestamp),
		UpdatedAt:       derefTime(p.UpdatedAt),
	}
}

// CompletionStatusResponse answers isModuleCompleted.
type CompletionStatusResponse struct {
	Completed bool `json:"completed"`
}

// ModuleRequest is the body of PUT /api/v1/catalog/courses/{courseID}/modules/{moduleID}.
// A zero threshold selects the server default.
type ModuleRequest struct {
	DurationMS          int64 `json:"duration_ms" validate:"gt=0"`
	CompletionThreshold int   `json:"completion_threshold" validate:"gte=0,lte=100"`
}

// ModuleResponse is the wire form of ledger.Module.
type ModuleResponse struct {
	CourseID            string `json:"course_id"`
	ModuleID            string `json:"module_id"`
	DurationMS          int64  `json:"duration_ms"`
	CompletionThreshold int    `json:"completion_threshold"`
}

// NewModuleResponse converts a catalog entry into its wire form.
func NewModuleResponse(m ledger.Module) ModuleResponse {
	return ModuleResponse{
		CourseID:            m.CourseID,
		ModuleID:            m.ModuleID,
		DurationMS:          m.Duration.Milliseconds(),
		CompletionThreshold: m.CompletionThreshold,
	}
}

// HealthResponse is returned by the health endpoints.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func ms(v int64) time.Duration { return time.Duration(v) * time.Millisecond }

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
