// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType names a ledger event.
type EventType string

const (
	EventProgressUpdated EventType = "ProgressUpdated"
	EventModuleCompleted EventType = "ModuleCompleted"
	EventCourseCompleted EventType = "CourseCompleted"
)

// Event is emitted after a committed ledger change. ModuleID is empty for
// CourseCompleted. Record is set for module events.
type Event struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	LearnerID  string          `json:"learner_id"`
	CourseID   string          `json:"course_id"`
	ModuleID   string          `json:"module_id,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Record     *ProgressRecord `json:"record,omitempty"`
}

// Subject returns the routing subject, e.g. "ledger.module_completed".
func (e Event) Subject() string {
	switch e.Type {
	case EventProgressUpdated:
		return "ledger.progress_updated"
	case EventModuleCompleted:
		return "ledger.module_completed"
	case EventCourseCompleted:
		return "ledger.course_completed"
	default:
		return "ledger.unknown"
	}
}

func newEvent(typ EventType, learnerID, courseID, moduleID string, at time.Time, rec *ProgressRecord) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		LearnerID:  learnerID,
		CourseID:   courseID,
		ModuleID:   moduleID,
		OccurredAt: at.UTC(),
		Record:     rec,
	}
}

// Publisher receives committed ledger events. Publish errors never undo a
// committed write; the service logs and counts them.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Name() string
}

// MultiPublisher fans an event out to several sinks and joins their errors.
type MultiPublisher struct {
	mu    sync.RWMutex
	sinks []Publisher
}

// NewMultiPublisher creates a fan-out publisher.
func NewMultiPublisher(sinks ...Publisher) *MultiPublisher {
	m := &MultiPublisher{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Add registers another sink.
func (m *MultiPublisher) Add(p Publisher) {
	if p == nil {
		return
	}
	m.mu.Lock()
	m.sinks = append(m.sinks, p)
	m.mu.Unlock()
}

// Publish implements Publisher.
func (m *MultiPublisher) Publish(ctx context.Context, e Event) error {
	m.mu.RLock()
	sinks := append([]Publisher(nil), m.sinks...)
	m.mu.RUnlock()

	var errs []error
	for _, s := range sinks {
		if err := s.Publish(ctx, e); err != nil {
			errs = append(errs, &PublishError{Sink: s.Name(), Err: err})
		}
	}
	return errors.Join(errs...)
}

// Name implements Publisher.
func (m *MultiPublisher) Name() string { return "multi" }

// PublishError records which sink failed.
type PublishError struct {
	Sink string
	Err  error
}

func (e *PublishError) Error() string { return "publish to " + e.Sink + ": " + e.Err.Error() }

func (e *PublishError) Unwrap() error { return e.Err }

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, e Event) error

func (f PublisherFunc) Publish(ctx context.Context, e Event) error { return f(ctx, e) }

func (f PublisherFunc) Name() string { return "func" }
