// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

package eventprocessor

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/Devanshjoshi2804/mentornet/internal/ledger"
)

func startEmbedded(t *testing.T) *Components {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Server.Port = -1
	cfg.Server.StoreDir = t.TempDir()
	cfg.Stream.MaxAge = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	c, err := Start(ctx, cfg)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		c.Shutdown(shutdownCtx)
	})
	return c
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	c := startEmbedded(t)
	if err := c.Check(context.Background()); err != nil {
		t.Fatalf("Check: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	messages, err := c.Subscriber.Subscribe(ctx, AllSubjects)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	events := []ledger.Event{
		{ID: "e1", Type: ledger.EventProgressUpdated, LearnerID: "l1", CourseID: "c1", ModuleID: "m1", OccurredAt: time.Now().UTC()},
		{ID: "e2", Type: ledger.EventModuleCompleted, LearnerID: "l1", CourseID: "c1", ModuleID: "m1", OccurredAt: time.Now().UTC()},
		{ID: "e3", Type: ledger.EventCourseCompleted, LearnerID: "l1", CourseID: "c1", OccurredAt: time.Now().UTC()},
	}
	for _, e := range events {
		if err := c.Publisher.Publish(ctx, e); err != nil {
			t.Fatalf("Publish %s: %v", e.ID, err)
		}
	}
	// Same event ID inside the duplicate window is stored once.
	if err := c.Publisher.Publish(ctx, events[0]); err != nil {
		t.Fatalf("republish: %v", err)
	}

	seen := map[string]int{}
	for len(seen) < len(events) {
		select {
		case msg := <-messages:
			e, err := DecodeEvent(msg)
			msg.Ack()
			if err != nil {
				t.Fatalf("DecodeEvent: %v", err)
			}
			seen[e.ID]++
		case <-ctx.Done():
			t.Fatalf("timed out, received %v", seen)
		}
	}

	select {
	case msg := <-messages:
		msg.Ack()
		t.Fatalf("unexpected extra message %s", msg.UUID)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestPublisherClosed(t *testing.T) {
	c := startEmbedded(t)
	if err := c.Publisher.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	err := c.Publisher.Publish(context.Background(), ledger.Event{ID: "x", Type: ledger.EventProgressUpdated, LearnerID: "l"})
	if err != ErrPublisherClosed {
		t.Fatalf("Publish after close = %v", err)
	}
}

func TestSubscribersEachReceiveEvents(t *testing.T) {
	c := startEmbedded(t)

	clientCfg := DefaultConfig().Client
	clientCfg.URL = c.Server.ClientURL()
	second, err := NewSubscriber(clientCfg, "", nil)
	if err != nil {
		t.Fatalf("NewSubscriber: %v", err)
	}
	defer second.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	first, err := c.Subscriber.Subscribe(ctx, AllSubjects)
	if err != nil {
		t.Fatalf("Subscribe first: %v", err)
	}
	other, err := second.Subscribe(ctx, AllSubjects)
	if err != nil {
		t.Fatalf("Subscribe second: %v", err)
	}

	event := ledger.Event{ID: "fan-1", Type: ledger.EventModuleCompleted, LearnerID: "l1", CourseID: "c1", ModuleID: "m1", OccurredAt: time.Now().UTC()}
	if err := c.Publisher.Publish(ctx, event); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for name, ch := range map[string]<-chan *message.Message{"first": first, "second": other} {
		select {
		case msg := <-ch:
			e, err := DecodeEvent(msg)
			msg.Ack()
			if err != nil || e.ID != "fan-1" {
				t.Fatalf("%s subscriber got %+v, %v", name, e, err)
			}
		case <-ctx.Done():
			t.Fatalf("%s subscriber received nothing", name)
		}
	}
}
