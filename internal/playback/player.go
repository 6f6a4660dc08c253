// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

package playback

import "time"

// Player is the media player surface the sampler consumes.
//
// Implementations must be safe for concurrent use; state-change callbacks
// may be invoked from any goroutine.
type Player interface {
	CurrentTime() (time.Duration, error)
	Duration() (time.Duration, error)
	State() Kind
	SeekTo(position time.Duration) error
	Play() error
	Pause() error

	// Subscribe registers fn for state changes and returns a function that
	// removes the subscription.
	Subscribe(fn func(Kind)) (unsubscribe func())
}
