// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

// Package api exposes the progress ledger over HTTP with chi.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Devanshjoshi2804/mentornet/internal/auth"
	"github.com/Devanshjoshi2804/mentornet/internal/idempotency"
	"github.com/Devanshjoshi2804/mentornet/internal/ledger"
	"github.com/Devanshjoshi2804/mentornet/internal/logging"
	"github.com/Devanshjoshi2804/mentornet/internal/models"
)

// Ledger is the server-side ledger surface the handlers need.
type Ledger interface {
	ledger.Ledger
	RegisterModule(ctx context.Context, m ledger.Module) (ledger.Module, error)
	Modules(ctx context.Context, courseID string) ([]ledger.Module, error)
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler serves the ledger endpoints.
type Handler struct {
	ledger    Ledger
	idem      idempotency.Store
	idemTTL   time.Duration
	checks    []ReadinessCheck
	startTime time.Time
}

// NewHandler creates a handler. idem may be nil to disable Idempotency-Key
// handling.
func NewHandler(l Ledger, idem idempotency.Store, idemTTL time.Duration, checks ...ReadinessCheck) *Handler {
	if idemTTL <= 0 {
		idemTTL = idempotency.DefaultTTL
	}
	return &Handler{
		ledger:    l,
		idem:      idem,
		idemTTL:   idemTTL,
		checks:    checks,
		startTime: time.Now(),
	}
}

// learnerFor resolves the learner a request acts for. A body learner ID
// that differs from the token subject is an identity mismatch.
func learnerFor(r *http.Request, bodyLearner string) (string, error) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		return "", fmt.Errorf("%w: unauthenticated", ledger.ErrIdentityMismatch)
	}
	if bodyLearner != "" && bodyLearner != claims.LearnerID() {
		return "", ledger.ErrIdentityMismatch
	}
	return claims.LearnerID(), nil
}

// TrackProgress handles POST /api/v1/ledger/progress.
func (h *Handler) TrackProgress(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req models.TrackProgressRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	learnerID, err := learnerFor(r, req.LearnerID)
	if err != nil {
		respondLedgerError(w, err)
		return
	}

	rec, err := h.ledger.TrackProgress(r.Context(), req.TrackRequest(learnerID))
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	respondData(w, http.StatusOK, models.NewProgressResponse(rec), start)
}

// CompleteModule handles POST /api/v1/ledger/completions.
func (h *Handler) CompleteModule(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req models.CompleteModuleRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	learnerID, err := learnerFor(r, req.LearnerID)
	if err != nil {
		respondLedgerError(w, err)
		return
	}

	key := ledger.Key{LearnerID: learnerID, CourseID: req.CourseID, ModuleID: req.ModuleID}
	if err := h.ledger.CompleteModule(r.Context(), key); err != nil {
		respondLedgerError(w, err)
		return
	}
	logging.Ctx(r.Context()).Debug().Str("key", key.String()).Msg("Module completion accepted")
	respondData(w, http.StatusOK, models.CompletionStatusResponse{Completed: true}, start)
}

// progressKey builds the record key from the URL. Admins may read another
// learner's record with ?learner_id=.
func progressKey(r *http.Request) (ledger.Key, error) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		return ledger.Key{}, fmt.Errorf("%w: unauthenticated", ledger.ErrIdentityMismatch)
	}
	learnerID := claims.LearnerID()
	if q := r.URL.Query().Get("learner_id"); q != "" && q != learnerID {
		if !claims.IsAdmin() {
			return ledger.Key{}, ledger.ErrIdentityMismatch
		}
		learnerID = q
	}
	return ledger.Key{
		LearnerID: learnerID,
		CourseID:  chi.URLParam(r, "courseID"),
		ModuleID:  chi.URLParam(r, "moduleID"),
	}, nil
}

// GetProgress handles GET /api/v1/ledger/progress/{courseID}/{moduleID}.
func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	key, err := progressKey(r)
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	rec, err := h.ledger.GetProgress(r.Context(), key)
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	respondData(w, http.StatusOK, models.NewProgressResponse(rec), start)
}

// IsModuleCompleted handles GET /api/v1/ledger/progress/{courseID}/{moduleID}/completed.
func (h *Handler) IsModuleCompleted(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	key, err := progressKey(r)
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	done, err := h.ledger.IsModuleCompleted(r.Context(), key)
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	respondData(w, http.StatusOK, models.CompletionStatusResponse{Completed: done}, start)
}

// PutModule handles PUT /api/v1/catalog/courses/{courseID}/modules/{moduleID}.
func (h *Handler) PutModule(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req models.ModuleRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	m, err := h.ledger.RegisterModule(r.Context(), ledger.Module{
		CourseID:            chi.URLParam(r, "courseID"),
		ModuleID:            chi.URLParam(r, "moduleID"),
		Duration:            time.Duration(req.DurationMS) * time.Millisecond,
		CompletionThreshold: req.CompletionThreshold,
	})
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	respondData(w, http.StatusOK, models.NewModuleResponse(m), start)
}

// ListModules handles GET /api/v1/catalog/courses/{courseID}/modules.
func (h *Handler) ListModules(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	mods, err := h.ledger.Modules(r.Context(), chi.URLParam(r, "courseID"))
	if err != nil {
		respondLedgerError(w, err)
		return
	}
	out := make([]models.ModuleResponse, len(mods))
	for i, m := range mods {
		out[i] = models.NewModuleResponse(m)
	}
	respondData(w, http.StatusOK, out, start)
}
