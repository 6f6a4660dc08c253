// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/Devanshjoshi2804/mentornet/internal/auth"
	"github.com/Devanshjoshi2804/mentornet/internal/config"
	"github.com/Devanshjoshi2804/mentornet/internal/idempotency"
	"github.com/Devanshjoshi2804/mentornet/internal/ledger"
	"github.com/Devanshjoshi2804/mentornet/internal/models"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []ledger.Event
}

func (r *eventRecorder) Publish(_ context.Context, e ledger.Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *eventRecorder) Name() string { return "recorder" }

func (r *eventRecorder) count(typ ledger.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

type testServer struct {
	*httptest.Server
	jwt    *auth.JWTManager
	svc    *ledger.Service
	events *eventRecorder
}

func newTestServer(t *testing.T, l Ledger, checks ...ReadinessCheck) *testServer {
	t.Helper()
	jwtManager, err := auth.NewJWTManager(&config.SecurityConfig{JWTSecret: "test-secret-that-is-long-enough-for-hs256"})
	if err != nil {
		t.Fatalf("NewJWTManager: %v", err)
	}
	ts := &testServer{jwt: jwtManager, events: &eventRecorder{}}
	if l == nil {
		ts.svc = ledger.NewService(ledger.NewMemoryStore(), ledger.WithPublisher(ts.events))
		l = ts.svc
	}
	handler := NewHandler(l, idempotency.NewMemoryStore(100), time.Hour, checks...)
	cfg := DefaultChiMiddlewareConfig()
	cfg.RateLimitDisabled = true
	ts.Server = httptest.NewServer(NewRouter(handler, jwtManager, cfg, nil).SetupChi())
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) token(t *testing.T, learner, role string) string {
	t.Helper()
	tok, err := ts.jwt.GenerateToken(learner, role)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return tok
}

func (ts *testServer) do(t *testing.T, method, path, token string, body interface{}, headers ...string) (*http.Response, models.RawResponse) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rdr = bytes.NewBufferString(b)
		default:
			data, err := json.Marshal(b)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			rdr = bytes.NewReader(data)
		}
	}
	req, err := http.NewRequest(method, ts.URL+path, rdr)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out models.RawResponse
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, path, err, raw)
		}
	}
	return resp, out
}

func (ts *testServer) registerModule(t *testing.T, course, module string, duration time.Duration) {
	t.Helper()
	admin := ts.token(t, "admin", auth.RoleAdmin)
	resp, _ := ts.do(t, http.MethodPut, fmt.Sprintf("/api/v1/catalog/courses/%s/modules/%s", course, module), admin,
		models.ModuleRequest{DurationMS: duration.Milliseconds()})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register module status = %d", resp.StatusCode)
	}
}

func track(course, module string, startMS, endMS int64, seeks int) models.TrackProgressRequest {
	return models.TrackProgressRequest{
		CourseID:       course,
		ModuleID:       module,
		Timestamp:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		SegmentStartMS: startMS,
		SegmentEndMS:   endMS,
		SeekCount:      seeks,
	}
}

func decodeData(t *testing.T, raw models.RawResponse, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(raw.Data, v); err != nil {
		t.Fatalf("decode data: %v (%s)", err, raw.Data)
	}
}

func TestTrackAndGetProgress(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.registerModule(t, "go101", "intro", time.Minute)
	tok := ts.token(t, "alice", "")

	resp, raw := ts.do(t, http.MethodPost, "/api/v1/ledger/progress", tok, track("go101", "intro", 0, 30000, 1))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("track status = %d, error = %+v", resp.StatusCode, raw.Error)
	}
	var got models.ProgressResponse
	decodeData(t, raw, &got)
	if got.LearnerID != "alice" || got.WatchedMS != 30000 || got.WatchPercentage != 50 || got.SeekCount != 1 {
		t.Fatalf("track response = %+v", got)
	}

	// Overlapping segment extends coverage without double counting.
	ts.do(t, http.MethodPost, "/api/v1/ledger/progress", tok, track("go101", "intro", 20000, 40000, 0))

	resp, raw = ts.do(t, http.MethodGet, "/api/v1/ledger/progress/go101/intro", tok, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	decodeData(t, raw, &got)
	if got.WatchedMS != 40000 || got.SeekCount != 1 || !got.Registered {
		t.Fatalf("progress = %+v", got)
	}
	if len(got.Intervals) != 1 || got.Intervals[0] != (models.IntervalMS{StartMS: 0, EndMS: 40000}) {
		t.Fatalf("intervals = %+v", got.Intervals)
	}
}

func TestGetProgressUnregistered(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.registerModule(t, "go101", "intro", time.Minute)

	resp, raw := ts.do(t, http.MethodGet, "/api/v1/ledger/progress/go101/intro", ts.token(t, "bob", ""), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got models.ProgressResponse
	decodeData(t, raw, &got)
	if got.Registered || got.WatchedMS != 0 || len(got.Intervals) != 0 {
		t.Fatalf("unregistered progress = %+v", got)
	}
}

func TestCompleteModule(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.registerModule(t, "go101", "intro", time.Minute)
	tok := ts.token(t, "alice", "")
	body := models.CompleteModuleRequest{CourseID: "go101", ModuleID: "intro"}

	resp, raw := ts.do(t, http.MethodPost, "/api/v1/ledger/completions", tok, body)
	if resp.StatusCode != http.StatusConflict || raw.Error == nil || raw.Error.Code != models.CodeThresholdNotMet {
		t.Fatalf("early completion = %d %+v", resp.StatusCode, raw.Error)
	}

	ts.do(t, http.MethodPost, "/api/v1/ledger/progress", tok, track("go101", "intro", 0, 60000, 0))
	for i := 0; i < 2; i++ {
		resp, raw = ts.do(t, http.MethodPost, "/api/v1/ledger/completions", tok, body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("completion #%d status = %d %+v", i, resp.StatusCode, raw.Error)
		}
	}
	if n := ts.events.count(ledger.EventModuleCompleted); n != 1 {
		t.Fatalf("ModuleCompleted events = %d, want 1", n)
	}
	if n := ts.events.count(ledger.EventCourseCompleted); n != 1 {
		t.Fatalf("CourseCompleted events = %d, want 1", n)
	}

	_, raw = ts.do(t, http.MethodGet, "/api/v1/ledger/progress/go101/intro/completed", tok, nil)
	var status models.CompletionStatusResponse
	decodeData(t, raw, &status)
	if !status.Completed {
		t.Fatal("module should report completed")
	}
}

func TestIdentityAndAuthorization(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.registerModule(t, "go101", "intro", time.Minute)
	alice := ts.token(t, "alice", "")

	mismatch := track("go101", "intro", 0, 1000, 0)
	mismatch.LearnerID = "mallory"

	tests := []struct {
		name       string
		method     string
		path       string
		token      string
		body       interface{}
		wantStatus int
		wantCode   string
	}{
		{"no token", http.MethodGet, "/api/v1/ledger/progress/go101/intro", "", nil, http.StatusUnauthorized, models.CodeUnauthorized},
		{"bad token", http.MethodGet, "/api/v1/ledger/progress/go101/intro", "garbage", nil, http.StatusUnauthorized, models.CodeUnauthorized},
		{"body learner mismatch", http.MethodPost, "/api/v1/ledger/progress", alice, mismatch, http.StatusForbidden, models.CodeRejected},
		{"other learner query", http.MethodGet, "/api/v1/ledger/progress/go101/intro?learner_id=bob", alice, nil, http.StatusForbidden, models.CodeRejected},
		{"learner registers module", http.MethodPut, "/api/v1/catalog/courses/go101/modules/x", alice, models.ModuleRequest{DurationMS: 1000}, http.StatusForbidden, models.CodeForbidden},
		{"unknown module", http.MethodPost, "/api/v1/ledger/progress", alice, track("go101", "nope", 0, 1000, 0), http.StatusNotFound, models.CodeNotFound},
		{"invalid segment", http.MethodPost, "/api/v1/ledger/progress", alice, track("go101", "intro", 5000, 1000, 0), http.StatusBadRequest, models.CodeValidation},
		{"invalid json", http.MethodPost, "/api/v1/ledger/progress", alice, "{not json", http.StatusBadRequest, models.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, raw := ts.do(t, tt.method, tt.path, tt.token, tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%+v)", resp.StatusCode, tt.wantStatus, raw.Error)
			}
			if raw.Error == nil || raw.Error.Code != tt.wantCode {
				t.Fatalf("error = %+v, want code %s", raw.Error, tt.wantCode)
			}
		})
	}
}

func TestAdminReadsOtherLearner(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.registerModule(t, "go101", "intro", time.Minute)
	ts.do(t, http.MethodPost, "/api/v1/ledger/progress", ts.token(t, "bob", ""), track("go101", "intro", 0, 6000, 0))

	resp, raw := ts.do(t, http.MethodGet, "/api/v1/ledger/progress/go101/intro?learner_id=bob", ts.token(t, "root", auth.RoleAdmin), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got models.ProgressResponse
	decodeData(t, raw, &got)
	if got.LearnerID != "bob" || got.WatchPercentage != 10 {
		t.Fatalf("progress = %+v", got)
	}
}

func TestListModules(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.registerModule(t, "go101", "b", time.Minute)
	ts.registerModule(t, "go101", "a", 2*time.Minute)

	resp, raw := ts.do(t, http.MethodGet, "/api/v1/catalog/courses/go101/modules", ts.token(t, "alice", ""), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var mods []models.ModuleResponse
	decodeData(t, raw, &mods)
	if len(mods) != 2 || mods[0].ModuleID != "a" || mods[0].CompletionThreshold != ledger.DefaultCompletionThreshold {
		t.Fatalf("modules = %+v", mods)
	}
}

func TestIdempotentReplay(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.registerModule(t, "go101", "intro", time.Minute)
	tok := ts.token(t, "alice", "")
	body := track("go101", "intro", 0, 10000, 0)

	first, raw1 := ts.do(t, http.MethodPost, "/api/v1/ledger/progress", tok, body, IdempotencyKeyHeader, "k-1")
	if first.StatusCode != http.StatusOK || first.Header.Get(IdempotentReplayHeader) != "" {
		t.Fatalf("first write = %d replay=%q", first.StatusCode, first.Header.Get(IdempotentReplayHeader))
	}
	second, raw2 := ts.do(t, http.MethodPost, "/api/v1/ledger/progress", tok, body, IdempotencyKeyHeader, "k-1")
	if second.StatusCode != http.StatusOK || second.Header.Get(IdempotentReplayHeader) != "true" {
		t.Fatalf("replay = %d replay=%q", second.StatusCode, second.Header.Get(IdempotentReplayHeader))
	}
	if !bytes.Equal(raw1.Data, raw2.Data) {
		t.Fatalf("replayed data differs:\n%s\n%s", raw1.Data, raw2.Data)
	}
	if n := ts.events.count(ledger.EventProgressUpdated); n != 1 {
		t.Fatalf("ProgressUpdated events = %d, want 1", n)
	}

	// Same key, different body.
	other := track("go101", "intro", 10000, 20000, 0)
	resp, raw := ts.do(t, http.MethodPost, "/api/v1/ledger/progress", tok, other, IdempotencyKeyHeader, "k-1")
	if resp.StatusCode != http.StatusUnprocessableEntity || raw.Error == nil || raw.Error.Code != models.CodeIdempotencyReuse {
		t.Fatalf("key reuse = %d %+v", resp.StatusCode, raw.Error)
	}

	// Keys are scoped per learner.
	resp, _ = ts.do(t, http.MethodPost, "/api/v1/ledger/progress", ts.token(t, "bob", ""), body, IdempotencyKeyHeader, "k-1")
	if resp.StatusCode != http.StatusOK || resp.Header.Get(IdempotentReplayHeader) != "" {
		t.Fatalf("other learner with same key = %d replay=%q", resp.StatusCode, resp.Header.Get(IdempotentReplayHeader))
	}
}

type failingLedger struct {
	Ledger
	err error
}

func (f failingLedger) TrackProgress(context.Context, ledger.TrackRequest) (ledger.ProgressRecord, error) {
	return ledger.ProgressRecord{}, f.err
}

func TestLedgerErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"unavailable", fmt.Errorf("%w: db down", ledger.ErrUnavailable), http.StatusServiceUnavailable, models.CodeUnavailable},
		{"deadline", context.DeadlineExceeded, http.StatusServiceUnavailable, models.CodeUnavailable},
		{"rejected", ledger.ErrRejected, http.StatusUnprocessableEntity, models.CodeRejected},
		{"invalid", ledger.ErrInvalidRequest, http.StatusBadRequest, models.CodeValidation},
		{"unknown module", ledger.ErrUnknownModule, http.StatusNotFound, models.CodeNotFound},
		{"other", errors.New("boom"), http.StatusInternalServerError, models.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, failingLedger{err: tt.err})
			resp, raw := ts.do(t, http.MethodPost, "/api/v1/ledger/progress", ts.token(t, "alice", ""),
				track("go101", "intro", 0, 1000, 0), IdempotencyKeyHeader, "k")
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if raw.Error == nil || raw.Error.Code != tt.wantCode {
				t.Fatalf("error = %+v, want %s", raw.Error, tt.wantCode)
			}
			if tt.wantStatus == http.StatusServiceUnavailable && resp.Header.Get("Retry-After") == "" {
				t.Fatal("missing Retry-After on 503")
			}
		})
	}
}

func TestHealth(t *testing.T) {
	var fail atomic.Bool
	ts := newTestServer(t, nil, ReadinessCheck{Name: "store", Check: func(context.Context) error {
		if fail.Load() {
			return errors.New("down")
		}
		return nil
	}})

	resp, _ := ts.do(t, http.MethodGet, "/api/v1/health/live", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("live = %d", resp.StatusCode)
	}
	resp, raw := ts.do(t, http.MethodGet, "/api/v1/health/ready", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ready = %d", resp.StatusCode)
	}
	var health models.HealthResponse
	decodeData(t, raw, &health)
	if health.Checks["store"] != "ok" {
		t.Fatalf("checks = %+v", health.Checks)
	}

	fail.Store(true)
	resp, raw = ts.do(t, http.MethodGet, "/api/v1/health/ready", "", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("ready while failing = %d", resp.StatusCode)
	}
	decodeData(t, raw, &health)
	if health.Status != "not_ready" || health.Checks["store"] != "down" {
		t.Fatalf("health = %+v", health)
	}
}

func TestStorable(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusOK, true},
		{http.StatusBadRequest, true},
		{http.StatusNotFound, true},
		{http.StatusConflict, false},
		{http.StatusTooManyRequests, false},
		{http.StatusServiceUnavailable, false},
	}
	for _, tt := range tests {
		if got := storable(tt.status); got != tt.want {
			t.Errorf("storable(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}
