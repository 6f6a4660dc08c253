// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/Devanshjoshi2804/mentornet/internal/auth"
	"github.com/Devanshjoshi2804/mentornet/internal/idempotency"
	"github.com/Devanshjoshi2804/mentornet/internal/logging"
	"github.com/Devanshjoshi2804/mentornet/internal/metrics"
	"github.com/Devanshjoshi2804/mentornet/internal/models"
)

const (
	// IdempotencyKeyHeader names the client-chosen key of a write.
	IdempotencyKeyHeader = "Idempotency-Key"

	// IdempotentReplayHeader is set on responses served from the store.
	IdempotentReplayHeader = "Idempotent-Replayed"

	maxIdempotencyKeyLen = 255
)

// Idempotent replays the stored response of a write whose Idempotency-Key
// was already processed for the same learner. Reusing a key with a
// different body is rejected. Only final outcomes are stored: 5xx, 409
// and 429 responses may change on retry and are not remembered. When the
// store fails the request is processed normally; the ledger merge is
// idempotent on its own, the key only suppresses duplicate events.
func (h *Handler) Idempotent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(IdempotencyKeyHeader)
		if key == "" || h.idem == nil {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > maxIdempotencyKeyLen {
			respondError(w, http.StatusBadRequest, models.CodeValidation, "Idempotency-Key is too long", nil)
			return
		}
		claims, ok := auth.ClaimsFromContext(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
		if err != nil {
			respondError(w, http.StatusBadRequest, models.CodeValidation, "Unable to read request body", err)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		scoped := idempotency.ScopedKey(claims.LearnerID(), key)
		fingerprint := idempotency.Fingerprint([]byte(r.Method), []byte(r.URL.Path), body)
		log := logging.Ctx(r.Context())

		entry, err := h.idem.Get(r.Context(), scoped)
		switch {
		case err == nil:
			if entry.Fingerprint != fingerprint {
				respondError(w, http.StatusUnprocessableEntity, models.CodeIdempotencyReuse,
					"Idempotency-Key was already used with a different request", nil)
				return
			}
			metrics.IdempotentReplays.Inc()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(IdempotentReplayHeader, "true")
			w.WriteHeader(entry.StatusCode)
			_, _ = w.Write(entry.Body)
			return
		case !errors.Is(err, idempotency.ErrNotFound):
			log.Warn().Err(err).Str("store", h.idem.Name()).Msg("Idempotency lookup failed, processing request")
		}

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		var captured bytes.Buffer
		ww.Tee(&captured)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if !storable(status) {
			return
		}
		stored, err := h.idem.Put(r.Context(), scoped, idempotency.Entry{
			Fingerprint: fingerprint,
			StatusCode:  status,
			Body:        captured.Bytes(),
			CreatedAt:   time.Now().UTC(),
		}, h.idemTTL)
		if err != nil {
			log.Warn().Err(err).Str("store", h.idem.Name()).Msg("Idempotency store write failed")
			return
		}
		if !stored {
			log.Debug().Msg("Concurrent request stored the idempotent response first")
		}
	})
}

func storable(status int) bool {
	switch {
	case status >= 500:
		return false
	case status == http.StatusConflict, status == http.StatusTooManyRequests:
		return false
	default:
		return true
	}
}
