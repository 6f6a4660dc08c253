// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

package ledger

// Projection is the read model UI consumers receive. It never exposes raw
// samples or intervals.
type Projection struct {
	Key
	Progress     int  `json:"progress"`
	SeekCount    int  `json:"seek_count"`
	IsCompleted  bool `json:"is_completed"`
	IsRegistered bool `json:"is_registered"`
}

// Projection derives the UI read model from a record.
func (r ProgressRecord) Projection() Projection {
	return Projection{
		Key:          r.Key,
		Progress:     r.WatchPercentage,
		SeekCount:    r.SeekCount,
		IsCompleted:  r.Completed,
		IsRegistered: r.Registered,
	}
}
