// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

package playback

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Step is one scripted learner action against a SimulatedPlayer.
//
// After is measured from the previous step. Seek uses Position.
type Step struct {
	After    Duration `json:"after"`
	Action   string   `json:"action"` // play, pause, seek, buffer, end, destroy
	Position Duration `json:"position,omitempty"`
}

// Script is an ordered list of learner actions.
type Script struct {
	MediaDuration Duration `json:"media_duration"`
	Steps         []Step   `json:"steps"`
}

// Duration is a time.Duration that decodes from Go duration strings ("90s")
// in JSON scripts.
type Duration time.Duration

// UnmarshalJSON accepts a duration string or a number of seconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("playback: invalid duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("playback: duration must be a string or seconds: %w", err)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// ParseScript decodes a JSON script and validates its actions.
func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("playback: decode script: %w", err)
	}
	if s.MediaDuration <= 0 {
		return nil, fmt.Errorf("playback: script media_duration must be positive")
	}
	for i, st := range s.Steps {
		switch st.Action {
		case "play", "pause", "seek", "buffer", "end", "destroy":
		default:
			return nil, fmt.Errorf("playback: step %d: unknown action %q", i, st.Action)
		}
		if st.After < 0 {
			return nil, fmt.Errorf("playback: step %d: negative delay", i)
		}
	}
	return &s, nil
}

// Play drives p through the script, sleeping between steps with sleep
// (time.Sleep-like, but cancellable).
func (s *Script) Play(ctx context.Context, p *SimulatedPlayer, sleep func(context.Context, time.Duration) error) error {
	for i, st := range s.Steps {
		if err := sleep(ctx, time.Duration(st.After)); err != nil {
			return err
		}
		var err error
		switch st.Action {
		case "play":
			err = p.Play()
		case "pause":
			err = p.Pause()
		case "seek":
			err = p.SeekTo(time.Duration(st.Position))
		case "buffer":
			err = p.Buffer()
		case "end":
			err = p.End()
		case "destroy":
			p.Destroy()
		}
		if err != nil {
			return fmt.Errorf("playback: step %d (%s): %w", i, st.Action, err)
		}
	}
	return nil
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
