// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

package eventprocessor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/Devanshjoshi2804/mentornet/internal/ledger"
)

type chanSource struct {
	ch    chan *message.Message
	topic string
}

func (s *chanSource) Subscribe(_ context.Context, topic string) (<-chan *message.Message, error) {
	s.topic = topic
	return s.ch, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []ledger.Event
	err    error
}

func (s *recordingSink) Publish(_ context.Context, e ledger.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func waitAcked(t *testing.T, msg *message.Message) {
	t.Helper()
	select {
	case <-msg.Acked():
	case <-time.After(2 * time.Second):
		t.Fatalf("message %s was not acked", msg.UUID)
	}
}

func TestForwarderDeliversAndAcks(t *testing.T) {
	src := &chanSource{ch: make(chan *message.Message)}
	sink := &recordingSink{err: errors.New("hub full")}
	fwd, err := NewForwarder(src, sink)
	if err != nil {
		t.Fatalf("NewForwarder: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fwd.Serve(ctx) }()

	good, err := EncodeEvent(ledger.Event{ID: "e1", Type: ledger.EventModuleCompleted, LearnerID: "l1", CourseID: "c1", ModuleID: "m1"})
	if err != nil {
		t.Fatal(err)
	}
	bad := message.NewMessage("e2", []byte("garbage"))

	src.ch <- good
	waitAcked(t, good)
	src.ch <- bad
	waitAcked(t, bad)

	if src.topic != AllSubjects {
		t.Fatalf("subscribed topic = %q", src.topic)
	}
	if sink.len() != 1 {
		t.Fatalf("sink received %d events, want 1", sink.len())
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestForwarderSourceClosed(t *testing.T) {
	src := &chanSource{ch: make(chan *message.Message)}
	close(src.ch)
	fwd, _ := NewForwarder(src, &recordingSink{})
	if err := fwd.Serve(context.Background()); err == nil {
		t.Fatal("expected error when the subscription closes")
	}
}

func TestNewForwarderValidation(t *testing.T) {
	if _, err := NewForwarder(nil, &recordingSink{}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("nil source err = %v", err)
	}
	if _, err := NewForwarder(&chanSource{}, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("nil sink err = %v", err)
	}
}
