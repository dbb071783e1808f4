// Haven Relay - Real-time Presence and Alert Relay for the Haven Safety App
// Copyright 2026 Haven Safety
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/haven-safety/haven-relay

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haven-safety/haven-relay/internal/config"
)

// Router assembles the HTTP mux over the handlers and middleware.
type Router struct {
	handler    *Handler
	middleware *Middleware
}

// NewRouter creates a Router for the given handler and security config.
func NewRouter(handler *Handler, cfg config.SecurityConfig) *Router {
	mwConfig := DefaultMiddlewareConfig()
	mwConfig.CORSAllowedOrigins = cfg.CORSOrigins
	mwConfig.RateLimitRequests = cfg.RateLimitReqs
	mwConfig.RateLimitWindow = cfg.RateLimitWindow

	return &Router{
		handler:    handler,
		middleware: NewMiddleware(mwConfig),
	}
}

// Setup builds the chi mux.
//
// The WebSocket endpoint bypasses the metrics wrapper because the
// recorder would hide the http.Hijacker the upgrade needs.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.middleware.RequestID())
	r.Use(router.middleware.CORS())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.middleware.RateLimit())

		r.With(router.middleware.Observe("/api/v1/health")).
			Get("/health", router.handler.HandleHealth)
		r.With(router.middleware.Observe("/api/v1/health/live")).
			Get("/health/live", router.handler.HandleLiveness)
		r.With(router.middleware.Observe("/api/v1/health/ready")).
			Get("/health/ready", router.handler.HandleReadiness)
		r.With(router.middleware.Observe("/api/v1/presence")).
			Get("/presence", router.handler.HandlePresence)
	})

	r.Get("/ws", router.handler.HandleWebSocket)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
