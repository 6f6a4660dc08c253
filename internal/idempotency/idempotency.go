// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

// Package idempotency stores the outcome of ledger write requests under
// their client-supplied Idempotency-Key so a retried request is answered
// from the stored outcome instead of running again.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get for unknown or expired keys.
	ErrNotFound = errors.New("idempotency: key not found")

	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = errors.New("idempotency: store closed")
)

// DefaultTTL is how long outcomes are kept when no TTL is configured.
const DefaultTTL = 24 * time.Hour

// Entry is a stored response.
type Entry struct {
	// Fingerprint identifies the request that produced the entry; a key
	// reused with a different payload does not match.
	Fingerprint string    `json:"fingerprint"`
	StatusCode  int       `json:"status_code"`
	Body        []byte    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store keeps entries for a bounded time.
type Store interface {
	Get(ctx context.Context, key string) (Entry, error)

	// Put stores e unless key is already present. It reports whether this
	// call stored it; the first stored outcome wins.
	Put(ctx context.Context, key string, e Entry, ttl time.Duration) (bool, error)

	Name() string
	Close() error
}

// ScopedKey namespaces a client key by learner so two learners can never
// collide on the same key.
func ScopedKey(learnerID, key string) string {
	return "idem:" + learnerID + ":" + key
}

// Fingerprint hashes the parts that make up a request.
func Fingerprint(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
