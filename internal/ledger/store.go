// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// UpdateFunc mutates a record inside a store transaction. It reports whether
// the record changed; unchanged records are not written back. rec.Registered
// is false when no row existed.
type UpdateFunc func(rec *ProgressRecord) (changed bool, err error)

// Store persists the catalog and progress records. UpdateRecord must run fn
// atomically with respect to other writers of the same key.
type Store interface {
	PutModule(ctx context.Context, m Module) error
	GetModule(ctx context.Context, courseID, moduleID string) (Module, error)
	ListModules(ctx context.Context, courseID string) ([]Module, error)

	GetRecord(ctx context.Context, key Key) (ProgressRecord, error)
	UpdateRecord(ctx context.Context, key Key, fn UpdateFunc) (ProgressRecord, bool, error)
	ListCompleted(ctx context.Context, learnerID, courseID string) ([]string, error)

	// MarkCourseCompleted records the course completion and reports whether
	// this call was the first to do so.
	MarkCourseCompleted(ctx context.Context, learnerID, courseID string, at time.Time) (bool, error)

	Name() string
	Close() error
}

type courseKey struct{ learner, course string }

// MemoryStore is an in-process Store. A single mutex serializes every
// transaction.
type MemoryStore struct {
	mu       sync.Mutex
	modules  map[string]map[string]Module
	records  map[Key]ProgressRecord
	finished map[courseKey]time.Time
	closed   bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		modules:  make(map[string]map[string]Module),
		records:  make(map[Key]ProgressRecord),
		finished: make(map[courseKey]time.Time),
	}
}

func (s *MemoryStore) Name() string { return "memory" }

func (s *MemoryStore) check() error {
	if s.closed {
		return fmt.Errorf("memory store closed")
	}
	return nil
}

func (s *MemoryStore) PutModule(_ context.Context, m Module) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	course, ok := s.modules[m.CourseID]
	if !ok {
		course = make(map[string]Module)
		s.modules[m.CourseID] = course
	}
	course[m.ModuleID] = m
	return nil
}

func (s *MemoryStore) GetModule(_ context.Context, courseID, moduleID string) (Module, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return Module{}, err
	}
	m, ok := s.modules[courseID][moduleID]
	if !ok {
		return Module{}, ErrNotFound
	}
	return m, nil
}

func (s *MemoryStore) ListModules(_ context.Context, courseID string) ([]Module, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	out := make([]Module, 0, len(s.modules[courseID]))
	for _, m := range s.modules[courseID] {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModuleID < out[j].ModuleID })
	return out, nil
}

func (s *MemoryStore) GetRecord(_ context.Context, key Key) (ProgressRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return ProgressRecord{}, err
	}
	rec, ok := s.records[key]
	if !ok {
		return ProgressRecord{}, ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) UpdateRecord(_ context.Context, key Key, fn UpdateFunc) (ProgressRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return ProgressRecord{}, false, err
	}

	rec, ok := s.records[key]
	if ok {
		rec = rec.Clone()
	} else {
		rec = ProgressRecord{Key: key}
	}
	changed, err := fn(&rec)
	if err != nil {
		return ProgressRecord{}, false, err
	}
	if changed {
		rec.Registered = true
		s.records[key] = rec.Clone()
	}
	return rec, changed, nil
}

func (s *MemoryStore) ListCompleted(_ context.Context, learnerID, courseID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	var out []string
	for k, rec := range s.records {
		if k.LearnerID == learnerID && k.CourseID == courseID && rec.Completed {
			out = append(out, k.ModuleID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) MarkCourseCompleted(_ context.Context, learnerID, courseID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return false, err
	}
	ck := courseKey{learnerID, courseID}
	if _, done := s.finished[ck]; done {
		return false, nil
	}
	s.finished[ck] = at
	return true, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
