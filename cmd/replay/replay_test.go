// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

package main

import (
	"context"
	"testing"
	"time"

	"github.com/Devanshjoshi2804/mentornet/internal/config"
	"github.com/Devanshjoshi2804/mentornet/internal/ledger"
	"github.com/Devanshjoshi2804/mentornet/internal/playback"
	"github.com/Devanshjoshi2804/mentornet/internal/session"
)

func newReplayManager(t *testing.T, d time.Duration) (*ledger.Service, *session.Manager) {
	t.Helper()
	svc := ledger.NewService(ledger.NewMemoryStore())
	_, err := svc.RegisterModule(context.Background(), ledger.Module{
		CourseID: "c1", ModuleID: "m1", Duration: d, CompletionThreshold: 90,
	})
	if err != nil {
		t.Fatalf("RegisterModule: %v", err)
	}
	cfg := session.Config{
		Sync: config.SyncConfig{
			SampleInterval:      10 * time.Millisecond,
			SkipSlack:           40 * time.Millisecond,
			MaxCatchUp:          time.Second,
			ThrottleGate:        20 * time.Millisecond,
			RetryBackoff:        5 * time.Millisecond,
			MaxBackoff:          20 * time.Millisecond,
			WriteTimeout:        time.Second,
			FinalFlushTimeout:   2 * time.Second,
			MaxPendingIntervals: 64,
		},
		Completion: config.CompletionConfig{DefaultThreshold: 90, RetryBackoff: 10 * time.Millisecond},
	}
	return svc, session.NewManager(svc, cfg, session.WithCatalog(svc))
}

func mustScript(t *testing.T, src string) *playback.Script {
	t.Helper()
	s, err := playback.ParseScript([]byte(src))
	if err != nil {
		t.Fatalf("ParseScript: %v", err)
	}
	return s
}

func TestRunScriptPlaysToEnd(t *testing.T) {
	svc, m := newReplayManager(t, 200*time.Millisecond)
	key := ledger.Key{LearnerID: "l1", CourseID: "c1", ModuleID: "m1"}
	script := mustScript(t, `{"media_duration": "200ms", "steps": [{"after": "0s", "action": "play"}]}`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	proj, err := runScript(ctx, m, key, script, 3*time.Second)
	if err != nil {
		t.Fatalf("runScript: %v", err)
	}
	if proj.Completion != "completed" || proj.Percentage < 90 {
		t.Fatalf("projection = %+v", proj)
	}
	done, err := svc.IsModuleCompleted(ctx, key)
	if err != nil || !done {
		t.Fatalf("IsModuleCompleted = %v, %v", done, err)
	}
}

func TestRunScriptStopsAfterPause(t *testing.T) {
	svc, m := newReplayManager(t, 10*time.Second)
	key := ledger.Key{LearnerID: "l1", CourseID: "c1", ModuleID: "m1"}
	script := mustScript(t, `{"media_duration": "10s", "steps": [
		{"after": "0s", "action": "play"},
		{"after": "150ms", "action": "pause"}]}`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	proj, err := runScript(ctx, m, key, script, 3*time.Second)
	if err != nil {
		t.Fatalf("runScript: %v", err)
	}
	if proj.Completion != "not_completed" || proj.EndedAt.IsZero() {
		t.Fatalf("projection = %+v", proj)
	}
	rec, err := svc.GetProgress(ctx, key)
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if rec.WatchedDuration < 50*time.Millisecond || rec.Completed {
		t.Fatalf("record = %+v", rec)
	}
}

func TestRunScriptRejectsInvalidKey(t *testing.T) {
	_, m := newReplayManager(t, time.Second)
	script := mustScript(t, `{"media_duration": "1s", "steps": []}`)
	if _, err := runScript(context.Background(), m, ledger.Key{}, script, time.Second); err == nil {
		t.Fatal("expected error for empty key")
	}
}
