// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

package idempotency

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	key       string
	entry     Entry
	expiresAt time.Time
	prev      *memoryEntry
	next      *memoryEntry
}

// MemoryStore is a bounded LRU with per-entry expiry. Lookups, inserts and
// evictions are O(1) via a hashmap over a doubly-linked list.
type MemoryStore struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*memoryEntry

	// head.next is the most recently used entry, tail.prev the least.
	head *memoryEntry
	tail *memoryEntry

	now    func() time.Time
	closed bool
}

// NewMemoryStore creates a store holding at most capacity entries.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 10000
	}
	s := &MemoryStore{
		capacity: capacity,
		items:    make(map[string]*memoryEntry, capacity),
		head:     &memoryEntry{},
		tail:     &memoryEntry{},
		now:      time.Now,
	}
	s.head.next = s.tail
	s.tail.prev = s.head
	return s
}

func (s *MemoryStore) Name() string { return "memory" }

func (s *MemoryStore) Get(_ context.Context, key string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Entry{}, ErrStoreClosed
	}

	e, ok := s.items[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	if s.now().After(e.expiresAt) {
		s.remove(e)
		return Entry{}, ErrNotFound
	}
	s.moveToFront(e)
	return e.entry, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, entry Entry, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrStoreClosed
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := s.now()
	if e, ok := s.items[key]; ok {
		if !now.After(e.expiresAt) {
			return false, nil
		}
		s.remove(e)
	}

	e := &memoryEntry{key: key, entry: entry, expiresAt: now.Add(ttl)}
	s.addToFront(e)
	s.items[key] = e
	for len(s.items) > s.capacity {
		s.remove(s.tail.prev)
	}
	return true, nil
}

// Len returns the number of stored entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// CleanupExpired drops expired entries and returns how many were removed.
func (s *MemoryStore) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for e := s.tail.prev; e != s.head; {
		prev := e.prev
		if now.After(e.expiresAt) {
			s.remove(e)
			removed++
		}
		e = prev
	}
	return removed
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.items = nil
	return nil
}

// List helpers; callers hold mu.

func (s *MemoryStore) addToFront(e *memoryEntry) {
	e.prev = s.head
	e.next = s.head.next
	s.head.next.prev = e
	s.head.next = e
}

func (s *MemoryStore) moveToFront(e *memoryEntry) {
	e.prev.next = e.next
	e.next.prev = e.prev
	s.addToFront(e)
}

func (s *MemoryStore) remove(e *memoryEntry) {
	e.prev.next = e.next
	e.next.prev = e.prev
	delete(s.items, e.key)
}
