// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

// Package ledgerclient talks to the ledger HTTP API and implements
// ledger.Ledger for the playback sync pipeline.
//
// Every call passes a client-side rate limiter and a circuit breaker.
// Transport failures, 5xx and 429 answers map to ledger.ErrUnavailable;
// 4xx answers map back onto the ledger rejection taxonomy so callers can
// classify them with errors.Is exactly as if they held the service.
package ledgerclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/Devanshjoshi2804/mentornet/internal/config"
	"github.com/Devanshjoshi2804/mentornet/internal/ledger"
	"github.com/Devanshjoshi2804/mentornet/internal/logging"
	"github.com/Devanshjoshi2804/mentornet/internal/models"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	maxResponseBytes     = 1 << 20
)

// Client is an HTTP ledger.Ledger.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  zerolog.Logger
}

var _ ledger.Ledger = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithToken overrides the bearer token from the configuration.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// New creates a client for cfg.LedgerURL. Breaker and rate settings come
// from the sync section.
func New(cfg config.ClientConfig, syncCfg config.SyncConfig, opts ...Option) (*Client, error) {
	base, err := url.Parse(cfg.LedgerURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid ledger url %q", cfg.LedgerURL)
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	limit := rate.Inf
	if syncCfg.RateLimit > 0 {
		limit = rate.Limit(syncCfg.RateLimit)
	}
	burst := syncCfg.RateBurst
	if burst < 1 {
		burst = 1
	}

	c := &Client{
		baseURL: strings.TrimRight(base.String(), "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		breaker: newCircuitBreaker(syncCfg),
		logger:  logging.WithComponent("ledger-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type idempotencyKeyCtx struct{}

// WithIdempotencyKey makes the next write issued with ctx carry key
// instead of the key derived from its body.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKeyCtx{}, key)
}

func idempotencyKey(ctx context.Context, path string, body []byte) string {
	if key, ok := ctx.Value(idempotencyKeyCtx{}).(string); ok && key != "" {
		return key
	}
	// Identical writes get identical keys, so a retry of a write whose
	// response was lost is answered from the server's idempotency store.
	return uuid.NewSHA1(uuid.NameSpaceURL, append([]byte(path+"\n"), body...)).String()
}

// TrackProgress implements ledger.Ledger.
func (c *Client) TrackProgress(ctx context.Context, req ledger.TrackRequest) (ledger.ProgressRecord, error) {
	var resp models.ProgressResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/ledger/progress", models.NewTrackProgressRequest(req), &resp); err != nil {
		return ledger.ProgressRecord{}, err
	}
	return resp.Record(), nil
}

// CompleteModule implements ledger.Ledger.
func (c *Client) CompleteModule(ctx context.Context, key ledger.Key) error {
	body := models.CompleteModuleRequest{CourseID: key.CourseID, ModuleID: key.ModuleID, LearnerID: key.LearnerID}
	return c.do(ctx, http.MethodPost, "/api/v1/ledger/completions", body, nil)
}

// GetProgress implements ledger.Ledger.
func (c *Client) GetProgress(ctx context.Context, key ledger.Key) (ledger.ProgressRecord, error) {
	var resp models.ProgressResponse
	if err := c.do(ctx, http.MethodGet, progressPath(key)+learnerQuery(key), nil, &resp); err != nil {
		return ledger.ProgressRecord{}, err
	}
	return resp.Record(), nil
}

// IsModuleCompleted implements ledger.Ledger.
func (c *Client) IsModuleCompleted(ctx context.Context, key ledger.Key) (bool, error) {
	var resp models.CompletionStatusResponse
	if err := c.do(ctx, http.MethodGet, progressPath(key)+"/completed"+learnerQuery(key), nil, &resp); err != nil {
		return false, err
	}
	return resp.Completed, nil
}

// RegisterModule adds or replaces a catalog entry. It needs an admin token.
func (c *Client) RegisterModule(ctx context.Context, m ledger.Module) (ledger.Module, error) {
	path := "/api/v1/catalog/courses/" + url.PathEscape(m.CourseID) + "/modules/" + url.PathEscape(m.ModuleID)
	body := models.ModuleRequest{DurationMS: m.Duration.Milliseconds(), CompletionThreshold: m.CompletionThreshold}
	var resp models.ModuleResponse
	if err := c.do(ctx, http.MethodPut, path, body, &resp); err != nil {
		return ledger.Module{}, err
	}
	return moduleFromResponse(resp), nil
}

// Modules lists the catalog entries of a course.
func (c *Client) Modules(ctx context.Context, courseID string) ([]ledger.Module, error) {
	var resp []models.ModuleResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/catalog/courses/"+url.PathEscape(courseID)+"/modules", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]ledger.Module, len(resp))
	for i, m := range resp {
		out[i] = moduleFromResponse(m)
	}
	return out, nil
}

func moduleFromResponse(m models.ModuleResponse) ledger.Module {
	return ledger.Module{
		CourseID:            m.CourseID,
		ModuleID:            m.ModuleID,
		Duration:            time.Duration(m.DurationMS) * time.Millisecond,
		CompletionThreshold: m.CompletionThreshold,
	}
}

func progressPath(key ledger.Key) string {
	return "/api/v1/ledger/progress/" + url.PathEscape(key.CourseID) + "/" + url.PathEscape(key.ModuleID)
}

func learnerQuery(key ledger.Key) string {
	if key.LearnerID == "" {
		return ""
	}
	return "?learner_id=" + url.QueryEscape(key.LearnerID)
}

// do runs one request through the limiter and breaker and decodes the data
// field of the response envelope into out.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("%w: encode request: %w", ledger.ErrInvalidRequest, err)
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %w", ledger.ErrUnavailable, err)
	}

	data, err := c.breaker.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, method, path, payload)
	})
	recordBreakerResult(err)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ledger.ErrUnavailable, err)
	}
	if err != nil {
		return err
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode %s response: %w", ledger.ErrUnavailable, path, err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ledger.ErrInvalidRequest, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPost {
		req.Header.Set(idempotencyKeyHeader, idempotencyKey(ctx, path, payload))
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if id := logging.RequestIDFromContext(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ledger.ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ledger.ErrUnavailable, err)
	}

	var envelope models.RawResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &envelope); err != nil && resp.StatusCode < 300 {
			return nil, fmt.Errorf("%w: decode response envelope: %w", ledger.ErrUnavailable, err)
		}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return envelope.Data, nil
	}

	err = statusError(resp.StatusCode, envelope.Error)
	c.logger.Debug().
		Err(err).
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Msg("Ledger request failed")
	return nil, err
}

// statusError maps an HTTP failure onto the ledger error taxonomy.
func statusError(status int, apiErr *models.APIError) error {
	msg := http.StatusText(status)
	code := ""
	if apiErr != nil {
		code = apiErr.Code
		if apiErr.Message != "" {
			msg = apiErr.Message
		}
	}

	var sentinel error
	switch {
	case status == http.StatusTooManyRequests, status >= 500:
		sentinel = ledger.ErrUnavailable
	case status == http.StatusBadRequest:
		sentinel = ledger.ErrInvalidRequest
	case status == http.StatusForbidden && code == models.CodeRejected:
		sentinel = ledger.ErrIdentityMismatch
	case status == http.StatusNotFound && code == models.CodeNotFound:
		sentinel = ledger.ErrUnknownModule
	case status == http.StatusConflict && code == models.CodeThresholdNotMet:
		sentinel = ledger.ErrThresholdNotMet
	default:
		sentinel = ledger.ErrRejected
	}
	return &StatusError{StatusCode: status, Code: code, Message: msg, err: sentinel}
}

// StatusError is a non-2xx answer from the ledger API.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
	err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: HTTP %d %s: %s", e.err, e.StatusCode, e.Code, e.Message)
}

func (e *StatusError) Unwrap() error { return e.err }
