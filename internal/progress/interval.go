// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

// Package progress computes de-duplicated watched time from playback
// segments. The same interval arithmetic runs in the client accumulator and
// in the ledger's server-side merge.
package progress

import (
	"slices"
	"time"
)

// Interval is a covered span of media time, [Start, End).
type Interval struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
}

// Len returns the length of the interval, or zero if it is empty.
func (iv Interval) Len() time.Duration {
	if iv.End <= iv.Start {
		return 0
	}
	return iv.End - iv.Start
}

// Empty reports whether the interval covers nothing.
func (iv Interval) Empty() bool { return iv.End <= iv.Start }

// IntervalSet is a sorted union of disjoint, non-abutting intervals.
// The zero value is an empty set ready to use. It is not safe for
// concurrent use.
type IntervalSet struct {
	ivs []Interval
}

// NewIntervalSet builds a set from possibly overlapping intervals.
func NewIntervalSet(ivs ...Interval) *IntervalSet {
	s := &IntervalSet{}
	for _, iv := range ivs {
		s.Add(iv)
	}
	return s
}

// Add merges iv into the set and returns the media time newly covered.
// Overlapping and abutting intervals are coalesced.
func (s *IntervalSet) Add(iv Interval) time.Duration {
	if iv.Empty() {
		return 0
	}
	before := s.Total()

	out := make([]Interval, 0, len(s.ivs)+1)
	i := 0
	for ; i < len(s.ivs) && s.ivs[i].End < iv.Start; i++ {
		out = append(out, s.ivs[i])
	}
	for ; i < len(s.ivs) && s.ivs[i].Start <= iv.End; i++ {
		iv.Start = min(iv.Start, s.ivs[i].Start)
		iv.End = max(iv.End, s.ivs[i].End)
	}
	out = append(out, iv)
	out = append(out, s.ivs[i:]...)
	s.ivs = out

	return s.Total() - before
}

// AddSet merges every interval of other into s and returns the media time
// newly covered.
func (s *IntervalSet) AddSet(other *IntervalSet) time.Duration {
	var gained time.Duration
	for _, iv := range other.ivs {
		gained += s.Add(iv)
	}
	return gained
}

// Subtract removes iv from the set, splitting intervals where needed.
func (s *IntervalSet) Subtract(iv Interval) {
	if iv.Empty() || len(s.ivs) == 0 {
		return
	}
	out := make([]Interval, 0, len(s.ivs)+1)
	for _, cur := range s.ivs {
		if cur.End <= iv.Start || cur.Start >= iv.End {
			out = append(out, cur)
			continue
		}
		if cur.Start < iv.Start {
			out = append(out, Interval{Start: cur.Start, End: iv.Start})
		}
		if cur.End > iv.End {
			out = append(out, Interval{Start: iv.End, End: cur.End})
		}
	}
	s.ivs = out
}

// Clip restricts the set to [lo, hi].
func (s *IntervalSet) Clip(lo, hi time.Duration) {
	out := s.ivs[:0]
	for _, cur := range s.ivs {
		cur.Start = max(cur.Start, lo)
		cur.End = min(cur.End, hi)
		if !cur.Empty() {
			out = append(out, cur)
		}
	}
	s.ivs = out
}

// Contains reports whether iv is fully covered by the set.
func (s *IntervalSet) Contains(iv Interval) bool {
	if iv.Empty() {
		return true
	}
	for _, cur := range s.ivs {
		if cur.Start <= iv.Start && cur.End >= iv.End {
			return true
		}
	}
	return false
}

// Total returns the summed length of all intervals.
func (s *IntervalSet) Total() time.Duration {
	var total time.Duration
	for _, iv := range s.ivs {
		total += iv.Len()
	}
	return total
}

// Len returns the number of disjoint intervals.
func (s *IntervalSet) Len() int { return len(s.ivs) }

// Intervals returns a copy of the intervals in ascending order.
func (s *IntervalSet) Intervals() []Interval {
	return slices.Clone(s.ivs)
}

// Clone returns an independent copy of the set.
func (s *IntervalSet) Clone() *IntervalSet {
	return &IntervalSet{ivs: slices.Clone(s.ivs)}
}

// DropShortest removes the shortest intervals until at most n remain and
// returns the media time removed.
func (s *IntervalSet) DropShortest(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	var dropped time.Duration
	for len(s.ivs) > n {
		idx := 0
		for i, iv := range s.ivs {
			if iv.Len() < s.ivs[idx].Len() {
				idx = i
			}
		}
		dropped += s.ivs[idx].Len()
		s.ivs = slices.Delete(s.ivs, idx, idx+1)
	}
	return dropped
}
