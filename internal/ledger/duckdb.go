// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/goccy/go-json"

	"github.com/Devanshjoshi2804/mentornet/internal/progress"
)

const duckdbSchema = `
CREATE TABLE IF NOT EXISTS modules (
	course_id            VARCHAR NOT NULL,
	module_id            VARCHAR NOT NULL,
	duration_ms          BIGINT NOT NULL,
	completion_threshold INTEGER NOT NULL,
	PRIMARY KEY (course_id, module_id)
);
CREATE TABLE IF NOT EXISTS progress_records (
	learner_id         VARCHAR NOT NULL,
	course_id          VARCHAR NOT NULL,
	module_id          VARCHAR NOT NULL,
	intervals          VARCHAR NOT NULL,
	watched_ms         BIGINT NOT NULL,
	seek_count         INTEGER NOT NULL,
	watch_percentage   INTEGER NOT NULL,
	module_duration_ms BIGINT NOT NULL,
	completed          BOOLEAN NOT NULL,
	completed_at       TIMESTAMP,
	last_timestamp     TIMESTAMP,
	updated_at         TIMESTAMP NOT NULL,
	PRIMARY KEY (learner_id, course_id, module_id)
);
CREATE TABLE IF NOT EXISTS course_completions (
	learner_id   VARCHAR NOT NULL,
	course_id    VARCHAR NOT NULL,
	completed_at TIMESTAMP NOT NULL,
	PRIMARY KEY (learner_id, course_id)
);
`

// DuckDBStore persists the ledger in an embedded DuckDB file. Record
// updates run in a transaction serialized by writeMu because DuckDB uses
// optimistic concurrency and would abort conflicting writers.
type DuckDBStore struct {
	db      *sql.DB
	path    string
	writeMu sync.Mutex
}

// DuckDBConfig configures the embedded store.
type DuckDBConfig struct {
	Path    string
	Threads int
}

// OpenDuckDB opens (creating if needed) the database at cfg.Path. The
// special path ":memory:" keeps everything in process memory.
func OpenDuckDB(ctx context.Context, cfg DuckDBConfig) (*DuckDBStore, error) {
	var connStr string
	if cfg.Path == "" || cfg.Path == ":memory:" {
		connStr = ":memory:?autoinstall_known_extensions=false&autoload_known_extensions=false"
	} else {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		threads := cfg.Threads
		if threads <= 0 {
			threads = 2
		}
		connStr = fmt.Sprintf("%s?access_mode=read_write&threads=%d&autoinstall_known_extensions=false&autoload_known_extensions=false",
			cfg.Path, threads)
	}

	db, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		closeQuietly(db)
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	if _, err := db.ExecContext(ctx, duckdbSchema); err != nil {
		closeQuietly(db)
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &DuckDBStore{db: db, path: cfg.Path}, nil
}

func (s *DuckDBStore) Name() string { return "duckdb" }

// Ping checks the connection.
func (s *DuckDBStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *DuckDBStore) Close() error { return s.db.Close() }

func (s *DuckDBStore) PutModule(ctx context.Context, m Module) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO modules (course_id, module_id, duration_ms, completion_threshold)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (course_id, module_id) DO UPDATE SET
			duration_ms = EXCLUDED.duration_ms,
			completion_threshold = EXCLUDED.completion_threshold`,
		m.CourseID, m.ModuleID, m.Duration.Milliseconds(), m.CompletionThreshold)
	if err != nil {
		return fmt.Errorf("upsert module: %w", err)
	}
	return nil
}

func (s *DuckDBStore) GetModule(ctx context.Context, courseID, moduleID string) (Module, error) {
	m := Module{CourseID: courseID, ModuleID: moduleID}
	var durationMS int64
	err := s.db.QueryRowContext(ctx,
		`SELECT duration_ms, completion_threshold FROM modules WHERE course_id = ? AND module_id = ?`,
		courseID, moduleID).Scan(&durationMS, &m.CompletionThreshold)
	if errors.Is(err, sql.ErrNoRows) {
		return Module{}, ErrNotFound
	}
	if err != nil {
		return Module{}, fmt.Errorf("query module: %w", err)
	}
	m.Duration = time.Duration(durationMS) * time.Millisecond
	return m, nil
}

func (s *DuckDBStore) ListModules(ctx context.Context, courseID string) ([]Module, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT module_id, duration_ms, completion_threshold FROM modules WHERE course_id = ? ORDER BY module_id`,
		courseID)
	if err != nil {
		return nil, fmt.Errorf("query modules: %w", err)
	}
	defer closeQuietly(rows)

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

const selectRecord = `
	SELECT intervals, watched_ms, seek_count, watch_percentage, module_duration_ms,
	       completed, completed_at, last_timestamp, updated_at
	FROM progress_records
	WHERE learner_id = ? AND course_id = ? AND module_id = ?`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner, key Key) (ProgressRecord, error) {
	rec := ProgressRecord{Key: key, Registered: true}
	var (
		intervals                      string
		watchedMS, durationMS          int64
		completedAt, lastTS, updatedAt sql.NullTime
	)
	err := row.Scan(&intervals, &watchedMS, &rec.SeekCount, &rec.WatchPercentage, &durationMS,
		&rec.Completed, &completedAt, &lastTS, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
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
	rec.CompletedAt = nullTime(completedAt)
	rec.LastTimestamp = nullTime(lastTS)
	rec.UpdatedAt = nullTime(updatedAt)
	return rec, nil
}

func (s *DuckDBStore) GetRecord(ctx context.Context, key Key) (ProgressRecord, error) {
	return scanRecord(s.db.QueryRowContext(ctx, selectRecord, key.LearnerID, key.CourseID, key.ModuleID), key)
}

func (s *DuckDBStore) UpdateRecord(ctx context.Context, key Key, fn UpdateFunc) (ProgressRecord, bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ProgressRecord{}, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := scanRecord(tx.QueryRowContext(ctx, selectRecord, key.LearnerID, key.CourseID, key.ModuleID), key)
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
	_, err = tx.ExecContext(ctx, `
		INSERT INTO progress_records (learner_id, course_id, module_id, intervals, watched_ms, seek_count,
			watch_percentage, module_duration_ms, completed, completed_at, last_timestamp, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
		toNullTime(rec.CompletedAt), toNullTime(rec.LastTimestamp), rec.UpdatedAt.UTC())
	if err != nil {
		return ProgressRecord{}, false, fmt.Errorf("upsert progress record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return ProgressRecord{}, false, fmt.Errorf("commit: %w", err)
	}
	return rec, true, nil
}

func (s *DuckDBStore) ListCompleted(ctx context.Context, learnerID, courseID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT module_id FROM progress_records
		WHERE learner_id = ? AND course_id = ? AND completed
		ORDER BY module_id`, learnerID, courseID)
	if err != nil {
		return nil, fmt.Errorf("query completed modules: %w", err)
	}
	defer closeQuietly(rows)
	return scanStrings(rows)
}

func (s *DuckDBStore) MarkCourseCompleted(ctx context.Context, learnerID, courseID string, at time.Time) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO course_completions (learner_id, course_id, completed_at)
		VALUES (?, ?, ?)
		ON CONFLICT (learner_id, course_id) DO NOTHING`, learnerID, courseID, at.UTC())
	if err != nil {
		return false, fmt.Errorf("insert course completion: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("course completion rows: %w", err)
	}
	return n == 1, nil
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func encodeIntervals(ivs []progress.Interval) (string, error) {
	if ivs == nil {
		ivs = []progress.Interval{}
	}
	b, err := json.Marshal(ivs)
	if err != nil {
		return "", fmt.Errorf("encode intervals: %w", err)
	}
	return string(b), nil
}

func nullTime(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
