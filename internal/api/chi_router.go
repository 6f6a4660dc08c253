// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Devanshjoshi2804/mentornet/internal/auth"
	"github.com/Devanshjoshi2804/mentornet/internal/middleware"
	"github.com/Devanshjoshi2804/mentornet/internal/models"
)

// Router wires handlers and middleware into a chi mux.
type Router struct {
	handler       *Handler
	auth          *auth.Middleware
	chiMiddleware *ChiMiddleware
	websocket     http.Handler
}

// NewRouter creates a router. ws may be nil to disable the websocket
// endpoint.
func NewRouter(handler *Handler, jwt *auth.JWTManager, cfg *ChiMiddlewareConfig, ws http.Handler) *Router {
	return &Router{
		handler:       handler,
		auth:          auth.NewMiddleware(jwt, authErrorWriter),
		chiMiddleware: NewChiMiddleware(cfg),
		websocket:     ws,
	}
}

func authErrorWriter(w http.ResponseWriter, status int, code, message string) {
	respondError(w, status, code, message, nil)
}

// SetupChi configures all HTTP routes.
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS())
	r.Use(middleware.PrometheusMetrics)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, models.CodeNotFound, "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(APISecurityHeaders())
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(APISecurityHeaders())
		r.Use(router.auth.Authenticate)
		r.Use(router.chiMiddleware.RateLimit())

		r.Route("/ledger", func(r chi.Router) {
			r.With(router.handler.Idempotent).Post("/progress", router.handler.TrackProgress)
			r.With(router.handler.Idempotent).Post("/completions", router.handler.CompleteModule)
			r.Get("/progress/{courseID}/{moduleID}", router.handler.GetProgress)
			r.Get("/progress/{courseID}/{moduleID}/completed", router.handler.IsModuleCompleted)
		})

		r.Route("/catalog/courses/{courseID}/modules", func(r chi.Router) {
			r.Get("/", router.handler.ListModules)
			r.With(router.auth.RequireAdmin).Put("/{moduleID}", router.handler.PutModule)
		})

		if router.websocket != nil {
			r.Get("/ws", router.websocket.ServeHTTP)
		}
	})

	return r
}
