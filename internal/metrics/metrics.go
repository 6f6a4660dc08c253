// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

// Package metrics holds the Prometheus instruments shared by the ledger
// server and the playback sync client.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ledger service metrics (server side)
	LedgerOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Total number of ledger operations by result",
		},
		[]string{"operation", "result"}, // result: "ok", "noop", "rejected", "error"
	)

	LedgerOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_operation_duration_seconds",
			Help:    "Duration of ledger operations including the store transaction",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "store"},
	)

	LedgerEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_events_published_total",
			Help: "Total number of ledger events published",
		},
		[]string{"type", "sink"},
	)

	LedgerEventPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_event_publish_errors_total",
			Help: "Total number of ledger event publish failures",
		},
		[]string{"type", "sink"},
	)

	IdempotentReplays = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_idempotent_replays_total",
			Help: "Write requests short-circuited by a repeated Idempotency-Key",
		},
	)

	// Playback pipeline metrics (client side)
	ObservationsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_observations_dropped_total",
			Help: "Observations discarded by the segment reducer",
		},
		[]string{"reason"}, // "negative_position", "out_of_order"
	)

	SegmentsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_segments_emitted_total",
			Help: "Segments emitted by the segment reducer",
		},
		[]string{"kind"}, // "play", "skip"
	)

	SyncWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_writes_total",
			Help: "Ledger writes issued by the sync client by result",
		},
		[]string{"result"}, // "confirmed", "transient", "rejected"
	)

	SyncRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_retries_total",
			Help: "Ledger write retries scheduled after transient failures",
		},
	)

	SyncPendingIntervalsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_pending_intervals_dropped_total",
			Help: "Unconfirmed intervals dropped because the pending buffer was full",
		},
	)

	CompletionAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "completion_attempts_total",
			Help: "Completion evaluator attempts by outcome",
		},
		[]string{"outcome"}, // "completed", "already_completed", "deferred", "failed"
	)

	OutboxPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Undelivered sync payloads held in the durable outbox",
		},
	)

	OutboxDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_deliveries_total",
			Help: "Outbox delivery attempts by result",
		},
		[]string{"result"}, // "delivered", "failed", "abandoned"
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "playback_active_sessions",
			Help: "Playback sessions currently running in this process",
		},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// HTTP and websocket metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
		},
		[]string{"method", "endpoint"},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)

	WebSocketMessagesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_dropped_total",
			Help: "Messages dropped because a client send buffer was full",
		},
	)
)

// RecordLedgerOperation records the result and latency of one ledger operation.
func RecordLedgerOperation(operation, store, result string, duration time.Duration) {
	LedgerOperations.WithLabelValues(operation, result).Inc()
	LedgerOperationDuration.WithLabelValues(operation, store).Observe(duration.Seconds())
}

// RecordAPIRequest records an HTTP request.
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
