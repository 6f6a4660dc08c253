// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS ledger_modules (
	course_id            TEXT NOT NULL,
	module_id            TEXT NOT NULL,
	duration_ms          BIGINT NOT NULL,
	completion_threshold INTEGER NOT NULL,
	PRIMARY KEY (course_id, module_id)
);
CREATE TABLE IF NOT EXISTS ledger_progress (
	learner_id         TEXT NOT NULL,
	course_id          TEXT NOT NULL,
	module_id          TEXT NOT NULL,
	intervals          JSONB NOT NULL,
	watched_ms         BIGINT NOT NULL,
	seek_count         INTEGER NOT NULL,
	watch_percentage   INTEGER NOT NULL,
	module_duration_ms BIGINT NOT NULL,
	completed          BOOLEAN NOT NULL,
	completed_at       TIMESTAMPTZ,
	last_timestamp     TIMESTAMPTZ,
	updated_at         TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (learner_id, course_id, module_id)
);
CREATE TABLE IF NOT EXISTS ledger_course_completions (
	learner_id   TEXT NOT NULL,
	course_id    TEXT NOT NULL,
	completed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (learner_id, course_id)
);
`

// PostgresStore keeps the ledger in PostgreSQL. Writers of the same key are
// serialized with a transaction-scoped advisory lock, which also covers the
// first write when no row exists yet to lock FOR UPDATE.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Name() string { return "postgres" }

// Ping checks the pool.
func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) PutModule(ctx context.Context, m Module) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ledger_modules (course_id, module_id, duration_ms, completion_threshold)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (course_id, module_id) DO UPDATE SET
			duration_ms = EXCLUDED.duration_ms,
			completion_threshold = EXCLUDED.completion_threshold`,
		m.CourseID, m.ModuleID, m.Duration.Milliseconds(), m.CompletionThreshold)
	if err != nil {
		return fmt.Errorf("upsert module: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetModule(ctx context.Context, courseID, moduleID string) (Module, error) {
	m := Module{CourseID: courseID, ModuleID: moduleID}
	var durationMS int64
	err := s.pool.QueryRow(ctx,
		`SELECT duration_ms, completion_threshold FROM ledger_modules WHERE course_id = $1 AND module_id = $2`,
		courseID, moduleID).Scan(&durationMS, &m.CompletionThreshold)
	if errors.Is(err, pgx.ErrNoRows) {
		return Module{}, ErrNotFound
	}
	if err != nil {
		return Module{}, fmt.Errorf("query module: %w", err)
	}
	m.Duration = time.Duration(durationMS) * time.Millisecond
	return m, nil
}

func (s *PostgresStore) ListModules(ctx context.Context, courseID string) ([]Module, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT module_id, duration_ms, completion_threshold FROM ledger_modules WHERE course_id = $1 ORDER BY module_id`,
		courseID)
	if err != nil {
		return nil, fmt.Errorf("query modules: %w", err)
	}
	defer rows.Close()

	var out []Module
	for rows.Next() {
		m := Module{CourseID: courseID}
		var durationMS int64
		if err := rows.Scan(&m.ModuleID, &durationMS, &m.CompletionThreshold); err != nil {
			return nil, fmt.Errorf("scan module: %w", err)
		}
		m.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, m)
	}
	return out, rows.Err()
}

const pgSelectRecord = `
	SELECT intervals::text, watched_ms, seek_count, watch_percentage, module_duration_ms,
	       completed, completed_at, last_timestamp, updated_at
	FROM ledger_progress
	WHERE learner_id = $1 AND course_id = $2 AND module_id = $3`

func pgScanRecord(row pgx.Row, key Key) (ProgressRecord, error) {
	rec := ProgressRecord{Key: key, Registered: true}
	var (
		intervals                      string
		watchedMS, durationMS          int64
		completedAt, lastTS, updatedAt *time.Time
	)
	err := row.Scan(&intervals, &watchedMS, &rec.SeekCount, &rec.WatchPercentage, &durationMS,
		&rec.Completed, &completedAt, &lastTS, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ProgressRecord{}, ErrNotFound
	}
	if err != nil {
		return ProgressRecord{}, fmt.Errorf("scan progress record: %w", err)
	}
	if err := json.Unmarshal([]byte(intervals), &rec.Intervals); err != nil {
		return ProgressRecord{}, fmt.Errorf("decode intervals: %w", err)
	}
	rec.WatchedDuration = time.Duration(watchedMS) * time.Millisecond
	rec.ModuleDuration = time.Duration(durationMS) * time.Millisecond
	rec.CompletedAt = derefTime(completedAt)
	rec.LastTimestamp = derefTime(lastTS)
	rec.UpdatedAt = derefTime(updatedAt)
	return rec, nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, key Key) (ProgressRecord, error) {
	return pgScanRecord(s.pool.QueryRow(ctx, pgSelectRecord, key.LearnerID, key.CourseID, key.ModuleID), key)
}

func (s *PostgresStore) UpdateRecord(ctx context.Context, key Key, fn UpdateFunc) (ProgressRecord, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ProgressRecord{}, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key.String()); err != nil {
		return ProgressRecord{}, false, fmt.Errorf("lock record: %w", err)
	}

	rec, err := pgScanRecord(tx.QueryRow(ctx, pgSelectRecord+" FOR UPDATE", key.LearnerID, key.CourseID, key.ModuleID), key)
	if errors.Is(err, ErrNotFound) {
		rec = ProgressRecord{Key: key}
	} else if err != nil {
		return ProgressRecord{}, false, err
	}

	changed, err := fn(&rec)
	if err != nil {
		return ProgressRecord{}, false, err
	}
	if !changed {
		return rec, false, nil
	}
	rec.Registered = true

	intervals, err := encodeIntervals(rec.Intervals)
	if err != nil {
		return ProgressRecord{}, false, err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO ledger_progress (learner_id, course_id, module_id, intervals, watched_ms, seek_count,
			watch_percentage, module_duration_ms, completed, completed_at, last_timestamp, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (learner_id, course_id, module_id) DO UPDATE SET
			intervals = EXCLUDED.intervals,
			watched_ms = EXCLUDED.watched_ms,
			seek_count = EXCLUDED.seek_count,
			watch_percentage = EXCLUDED.watch_percentage,
			module_duration_ms = EXCLUDED.module_duration_ms,
			completed = EXCLUDED.completed,
			completed_at = EXCLUDED.completed_at,
			last_timestamp = EXCLUDED.last_timestamp,
			updated_at = EXCLUDED.updated_at`,
		key.LearnerID, key.CourseID, key.ModuleID, intervals,
		rec.WatchedDuration.Milliseconds(), rec.SeekCount, rec.WatchPercentage,
		rec.ModuleDuration.Milliseconds(), rec.Completed,
		timePtr(rec.CompletedAt), timePtr(rec.LastTimestamp), rec.UpdatedAt.UTC())
	if err != nil {
		return ProgressRecord{}, false, fmt.Errorf("upsert progress record: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return ProgressRecord{}, false, fmt.Errorf("commit: %w", err)
	}
	return rec, true, nil
}

func (s *PostgresStore) ListCompleted(ctx context.Context, learnerID, courseID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT module_id FROM ledger_progress
		WHERE learner_id = $1 AND course_id = $2 AND completed
		ORDER BY module_id`, learnerID, courseID)
	if err != nil {
		return nil, fmt.Errorf("query completed modules: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan completed modules: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) MarkCourseCompleted(ctx context.Context, learnerID, courseID string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO ledger_course_completions (learner_id, course_id, completed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (learner_id, course_id) DO NOTHING`, learnerID, courseID, at.UTC())
	if err != nil {
		return false, fmt.Errorf("insert course completion: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
