// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

// Package outbox persists sync payloads that could not be delivered to the
// ledger so they survive a process restart. Each playback session keeps at
// most one entry: a newer snapshot replaces the older one.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/goccy/go-json"

	"github.com/Devanshjoshi2804/mentornet/internal/ledger"
	"github.com/Devanshjoshi2804/mentornet/internal/logging"
	"github.com/Devanshjoshi2804/mentornet/internal/metrics"
)

var (
	ErrOutboxClosed = errors.New("outbox: closed")
	ErrOutboxFull   = errors.New("outbox: full")
	ErrNotFound     = errors.New("outbox: entry not found")
	ErrEmptyEntry   = errors.New("outbox: entry has no writes")
)

const prefixPending = "pending:"

// Entry is the latest undelivered state of one session.
type Entry struct {
	ID            string                `json:"id"`
	Key           ledger.Key            `json:"key"`
	SessionID     string                `json:"session_id"`
	Writes        []ledger.TrackRequest `json:"writes"`
	Revision      uint64                `json:"revision"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
	Attempts      int                   `json:"attempts"`
	LastAttemptAt time.Time             `json:"last_attempt_at,omitzero"`
	LastError     string                `json:"last_error,omitempty"`
}

// EntryID derives the storage id of a session snapshot.
func EntryID(key ledger.Key, sessionID string) string {
	return key.String() + "#" + sessionID
}

// Config configures the badger-backed outbox.
type Config struct {
	// Path is the badger directory. Empty with InMemory set keeps
	// everything in memory.
	Path          string
	InMemory      bool
	SyncWrites    bool
	MaxEntries    int
	RetryInterval time.Duration
	RetryBackoff  time.Duration
	MaxBackoff    time.Duration
	MaxRetries    int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Path:          "/data/outbox",
		SyncWrites:    true,
		MaxEntries:    1024,
		RetryInterval: 30 * time.Second,
		RetryBackoff:  time.Second,
		MaxBackoff:    5 * time.Minute,
		MaxRetries:    100,
	}
}

// Outbox stores Entries in badger.
type Outbox struct {
	db     *badger.DB
	config Config

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) the outbox.
func Open(cfg Config) (*Outbox, error) {
	def := DefaultConfig()
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("outbox path is required")
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = cfg.SyncWrites
	opts.Compression = options.Snappy
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	o := &Outbox{db: db, config: cfg}
	if n, err := o.Len(context.Background()); err == nil {
		metrics.OutboxPending.Set(float64(n))
	}
	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Bool("sync_writes", cfg.SyncWrites).
		Msg("Outbox opened")
	return o, nil
}

// Config returns the effective configuration.
func (o *Outbox) Config() Config { return o.config }

func (o *Outbox) checkOpen() error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return ErrOutboxClosed
	}
	return nil
}

// Put stores e, replacing any earlier snapshot of the same session. The
// attempt counter of a replaced entry is kept and its revision advanced.
func (o *Outbox) Put(ctx context.Context, e Entry) error {
	if err := o.checkOpen(); err != nil {
		return err
	}
	if len(e.Writes) == 0 {
		return ErrEmptyEntry
	}
	if e.ID == "" {
		e.ID = EntryID(e.Key, e.SessionID)
	}
	now := time.Now().UTC()
	e.UpdatedAt = now
	e.Revision = 1

	key := []byte(prefixPending + e.ID)
	err := o.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		switch {
		case err == nil:
			var prev Entry
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &prev) }); err == nil {
				e.CreatedAt = prev.CreatedAt
				e.Revision = prev.Revision + 1
				e.Attempts = prev.Attempts
				e.LastAttemptAt = prev.LastAttemptAt
			}
		case errors.Is(err, badger.ErrKeyNotFound):
			n, err := countPending(txn)
			if err != nil {
				return err
			}
			if n >= o.config.MaxEntries {
				return ErrOutboxFull
			}
			e.CreatedAt = now
		default:
			return err
		}

		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}
		return txn.Set(key, data)
	})
	if err != nil {
		if errors.Is(err, ErrOutboxFull) {
			return err
		}
		return fmt.Errorf("write to BadgerDB: %w", err)
	}
	o.refreshGauge(ctx)
	return nil
}

// Get returns one entry.
func (o *Outbox) Get(_ context.Context, id string) (Entry, error) {
	if err := o.checkOpen(); err != nil {
		return Entry{}, err
	}
	var e Entry
	err := o.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixPending + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return json.Unmarshal(val, &e) })
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("read entry: %w", err)
	}
	return e, nil
}

// Pending returns all stored entries in key order.
func (o *Outbox) Pending(ctx context.Context) ([]Entry, error) {
	if err := o.checkOpen(); err != nil {
		return nil, err
	}

	var entries []Entry
	err := o.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixPending)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			item := it.Item()
			var e Entry
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &e) }); err != nil {
				logging.Warn().Err(err).Str("key", string(item.Key())).Msg("Outbox failed to unmarshal entry")
				continue
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate pending entries: %w", err)
	}
	return entries, nil
}

// Delete removes an entry. Deleting a missing entry is not an error.
func (o *Outbox) Delete(ctx context.Context, id string) error {
	if err := o.checkOpen(); err != nil {
		return err
	}
	err := o.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(prefixPending + id))
	})
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	o.refreshGauge(ctx)
	return nil
}

// DeleteRevision removes entry id only if it is still at revision. It
// reports false when the entry is gone or was replaced by a newer Put.
func (o *Outbox) DeleteRevision(ctx context.Context, id string, revision uint64) (bool, error) {
	if err := o.checkOpen(); err != nil {
		return false, err
	}
	key := []byte(prefixPending + id)
	deleted := false
	err := o.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		var cur Entry
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &cur) }); err != nil {
			return err
		}
		if cur.Revision != revision {
			return nil
		}
		deleted = true
		return txn.Delete(key)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete entry: %w", err)
	}
	if deleted {
		o.refreshGauge(ctx)
	}
	return deleted, nil
}

// UpdateAttempt records a failed delivery.
func (o *Outbox) UpdateAttempt(_ context.Context, id, lastError string) error {
	if err := o.checkOpen(); err != nil {
		return err
	}
	key := []byte(prefixPending + id)
	err := o.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		var e Entry
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &e) }); err != nil {
			return err
		}
		e.Attempts++
		e.LastAttemptAt = time.Now().UTC()
		e.LastError = lastError
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update attempt: %w", err)
	}
	return nil
}

// Len returns the number of stored entries.
func (o *Outbox) Len(_ context.Context) (int, error) {
	if err := o.checkOpen(); err != nil {
		return 0, err
	}
	var n int
	err := o.db.View(func(txn *badger.Txn) error {
		var err error
		n, err = countPending(txn)
		return err
	})
	return n, err
}

func countPending(txn *badger.Txn) (int, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	n := 0
	prefix := []byte(prefixPending)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		n++
	}
	return n, nil
}

func (o *Outbox) refreshGauge(ctx context.Context) {
	if n, err := o.Len(ctx); err == nil {
		metrics.OutboxPending.Set(float64(n))
	}
}

// RunGC reclaims value-log space until badger reports nothing to rewrite.
func (o *Outbox) RunGC() error {
	if err := o.checkOpen(); err != nil {
		return err
	}
	if o.config.InMemory {
		return nil
	}
	for {
		err := o.db.RunValueLogGC(0.5)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("value log gc: %w", err)
		}
	}
}

// Close closes the database.
func (o *Outbox) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	if err := o.db.Close(); err != nil {
		return fmt.Errorf("close BadgerDB: %w", err)
	}
	logging.Info().Msg("Outbox closed")
	return nil
}
