// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Devanshjoshi2804/mentornet/internal/ledger"
	"github.com/Devanshjoshi2804/mentornet/internal/logging"
	"github.com/Devanshjoshi2804/mentornet/internal/playback"
	"github.com/Devanshjoshi2804/mentornet/internal/session"
)

// runScript plays script on a fresh simulated player under a session for
// key and returns the session's final projection.
//
// When the last step leaves the player playing, the session runs on until
// the media ends. Otherwise the session is stopped after the last step,
// which flushes what was watched; stopTimeout bounds that final flush.
func runScript(ctx context.Context, m *session.Manager, key ledger.Key, script *playback.Script, stopTimeout time.Duration) (session.Projection, error) {
	player := playback.NewSimulatedPlayer(time.Duration(script.MediaDuration), nil)

	s, err := m.Start(ctx, key, player)
	if err != nil {
		return session.Projection{}, fmt.Errorf("start session: %w", err)
	}
	logging.Info().Str("session_id", s.ID()).Int("steps", len(script.Steps)).Msg("Replaying script")

	playErr := make(chan error, 1)
	go func() { playErr <- script.Play(ctx, player, playback.SleepContext) }()

	select {
	case <-s.Done():
	case err := <-playErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Warn().Err(err).Msg("Script step failed, stopping session")
		}
		if err == nil && player.State() == playback.KindPlaying {
			select {
			case <-s.Done():
				return s.Projection(), s.Err()
			case <-ctx.Done():
			}
		}
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
		defer cancel()
		if err := s.Stop(stopCtx); err != nil {
			return s.Projection(), fmt.Errorf("stop session: %w", err)
		}
	}
	return s.Projection(), s.Err()
}
