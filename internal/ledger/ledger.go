// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

// Package ledger holds the authoritative per-learner module progress.
//
// Every write is a monotone merge: covered intervals are unioned, seek
// counts only increase and completion is one-way. Replaying or reordering
// writes therefore never regresses a record.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Devanshjoshi2804/mentornet/internal/progress"
)

// Error taxonomy. Callers classify with errors.Is.
var (
	// ErrRejected marks a non-retryable write: malformed input, identity
	// mismatch or an unknown module.
	ErrRejected = errors.New("ledger: rejected")

	// ErrUnavailable marks a transient failure; the caller may retry.
	ErrUnavailable = errors.New("ledger: unavailable")

	// ErrThresholdNotMet is returned by CompleteModule when the recorded
	// watch percentage is below the module threshold.
	ErrThresholdNotMet = errors.New("ledger: completion threshold not met")

	ErrInvalidRequest   = fmt.Errorf("%w: invalid request", ErrRejected)
	ErrIdentityMismatch = fmt.Errorf("%w: learner identity mismatch", ErrRejected)
	ErrUnknownModule    = fmt.Errorf("%w: unknown module", ErrRejected)

	// ErrNotFound is returned by stores for absent rows.
	ErrNotFound = errors.New("ledger: not found")
)

// DefaultCompletionThreshold is the watch percentage required to complete
// a module that does not declare its own threshold.
const DefaultCompletionThreshold = 90

// Key identifies one progress record.
type Key struct {
	LearnerID string `json:"learner_id"`
	CourseID  string `json:"course_id"`
	ModuleID  string `json:"module_id"`
}

func (k Key) String() string {
	return k.LearnerID + "/" + k.CourseID + "/" + k.ModuleID
}

// Validate rejects keys with empty components.
func (k Key) Validate() error {
	if k.LearnerID == "" || k.CourseID == "" || k.ModuleID == "" {
		return fmt.Errorf("%w: learner, course and module ids are required", ErrInvalidRequest)
	}
	return nil
}

// Module is a catalog entry.
type Module struct {
	CourseID            string        `json:"course_id"`
	ModuleID            string        `json:"module_id"`
	Duration            time.Duration `json:"duration"`
	CompletionThreshold int           `json:"completion_threshold"`
}

// ProgressRecord is the ledger state for one Key.
type ProgressRecord struct {
	Key

	// Registered is false for a record that has never been written.
	Registered bool `json:"registered"`

	Intervals       []progress.Interval `json:"intervals"`
	WatchedDuration time.Duration       `json:"watched_duration"`
	SeekCount       int                 `json:"seek_count"`
	WatchPercentage int                 `json:"watch_percentage"`
	ModuleDuration  time.Duration       `json:"module_duration"`
	Completed       bool                `json:"completed"`
	CompletedAt     time.Time           `json:"completed_at,omitzero"`
	LastTimestamp   time.Time           `json:"last_timestamp,omitzero"`
	UpdatedAt       time.Time           `json:"updated_at,omitzero"`
}

// Clone returns a copy that shares no slices with r.
func (r ProgressRecord) Clone() ProgressRecord {
	if r.Intervals != nil {
		r.Intervals = append([]progress.Interval(nil), r.Intervals...)
	}
	return r
}

// TrackRequest is one trackProgress write.
//
// SeekCount is the caller's absolute seek count; the ledger keeps the
// maximum it has seen. A skip request carries the gap it jumped over and
// credits no watched time.
type TrackRequest struct {
	Key
	Timestamp    time.Time     `json:"timestamp"`
	SegmentStart time.Duration `json:"segment_start"`
	SegmentEnd   time.Duration `json:"segment_end"`
	IsSkip       bool          `json:"is_skip"`
	SeekCount    int           `json:"seek_count"`
}

// Validate checks the request shape.
func (r TrackRequest) Validate() error {
	if err := r.Key.Validate(); err != nil {
		return err
	}
	if r.SegmentStart < 0 || r.SegmentEnd <= r.SegmentStart {
		return fmt.Errorf("%w: segment must satisfy 0 <= start < end", ErrInvalidRequest)
	}
	if r.SeekCount < 0 {
		return fmt.Errorf("%w: seek count must not be negative", ErrInvalidRequest)
	}
	return nil
}

// Ledger is the progress ledger contract shared by the authoritative
// service and its remote clients.
type Ledger interface {
	// TrackProgress merges one segment into the record and returns the
	// merged state.
	TrackProgress(ctx context.Context, req TrackRequest) (ProgressRecord, error)

	// CompleteModule marks the module completed. Completing an already
	// completed module is a no-op.
	CompleteModule(ctx context.Context, key Key) error

	// GetProgress returns the record, or a zero record with Registered
	// false if nothing has been written yet.
	GetProgress(ctx context.Context, key Key) (ProgressRecord, error)

	IsModuleCompleted(ctx context.Context, key Key) (bool, error)
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded)
}
