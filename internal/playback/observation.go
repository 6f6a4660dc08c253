// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

// Package playback observes a media player and turns its playback into a
// stream of timestamped position observations.
package playback

import (
	"errors"
	"time"
)

// ErrPlayerUnavailable is returned when the player has been destroyed or
// can no longer report its position. It is a normal teardown signal.
var ErrPlayerUnavailable = errors.New("playback: player unavailable")

// Kind is the player event or state attached to an observation.
type Kind int

const (
	KindUnstarted Kind = iota
	KindPlaying
	KindPaused
	KindBuffering
	KindEnded

	// KindUnavailable is the terminal signal raised when the player goes away.
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindUnstarted:
		return "unstarted"
	case KindPlaying:
		return "playing"
	case KindPaused:
		return "paused"
	case KindBuffering:
		return "buffering"
	case KindEnded:
		return "ended"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// ParseKind converts a lowercase kind name back into a Kind.
func ParseKind(s string) (Kind, bool) {
	for k := KindUnstarted; k <= KindUnavailable; k++ {
		if k.String() == s {
			return k, true
		}
	}
	return KindUnstarted, false
}

// Observation is one sampled playback position.
type Observation struct {
	WallClock time.Time
	Position  time.Duration
	Kind      Kind
}
