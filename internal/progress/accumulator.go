// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

package progress

import (
	"time"

	"github.com/Devanshjoshi2804/mentornet/internal/segment"
)

// Snapshot is the accumulator state at one point in time.
type Snapshot struct {
	Watched    time.Duration
	Duration   time.Duration
	SeekCount  int
	Percentage int
}

// Percentage returns floor(100 * watched / duration) capped at 100. An
// unknown (non-positive) duration yields zero.
func Percentage(watched, duration time.Duration) int {
	if duration <= 0 || watched <= 0 {
		return 0
	}
	if watched >= duration {
		return 100
	}
	return int(int64(watched) * 100 / int64(duration))
}

// Accumulator folds segments into de-duplicated watched time for one
// module session. It is owned by the session pipeline goroutine.
type Accumulator struct {
	duration  time.Duration
	covered   IntervalSet
	seekCount int
}

// NewAccumulator creates an accumulator for media of the given duration.
// A zero duration disables the upper clip until SetDuration is called.
func NewAccumulator(duration time.Duration) *Accumulator {
	return &Accumulator{duration: duration}
}

// SetDuration records the media duration once the player reports it and
// clips already covered intervals to it.
func (a *Accumulator) SetDuration(d time.Duration) {
	if d <= 0 {
		return
	}
	a.duration = d
	a.covered.Clip(0, d)
}

// Seed loads state already held by the ledger so a resumed session does
// not double count it. Seek counts only move upward.
func (a *Accumulator) Seed(intervals []Interval, seekCount int) {
	for _, iv := range intervals {
		a.covered.Add(a.clip(iv))
	}
	a.seekCount = max(a.seekCount, seekCount)
}

// Add folds one segment in. Skip markers only increment the seek count.
// For play segments it returns the clipped interval that was credited and
// whether it grew watched time.
func (a *Accumulator) Add(seg segment.Segment) (Interval, bool) {
	if seg.IsSkip {
		a.seekCount++
		return Interval{}, false
	}
	iv := a.clip(Interval{Start: seg.Start, End: seg.End})
	if iv.Empty() {
		return iv, false
	}
	return iv, a.covered.Add(iv) > 0
}

func (a *Accumulator) clip(iv Interval) Interval {
	iv.Start = max(iv.Start, 0)
	if a.duration > 0 {
		iv.End = min(iv.End, a.duration)
	}
	return iv
}

// Snapshot returns the current watched time, seek count and percentage.
func (a *Accumulator) Snapshot() Snapshot {
	watched := a.covered.Total()
	return Snapshot{
		Watched:    watched,
		Duration:   a.duration,
		SeekCount:  a.seekCount,
		Percentage: Percentage(watched, a.duration),
	}
}

// Intervals returns the covered intervals.
func (a *Accumulator) Intervals() []Interval {
	return a.covered.Intervals()
}

// Reset clears all accumulated state while keeping the duration.
func (a *Accumulator) Reset() {
	a.covered = IntervalSet{}
	a.seekCount = 0
}
