// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/carelink/internal/auth"
	"github.com/tomtom215/carelink/internal/gateway"
	"github.com/tomtom215/carelink/internal/middleware"
	"github.com/tomtom215/carelink/internal/models"
)

// Router builds the HTTP handler tree.
type Router struct {
	handler       *Handler
	gateway       *gateway.Middleware
	chiMiddleware *ChiMiddleware
	trustProxy    bool
}

// NewRouter creates a Router. trustProxy enables chi's RealIP so client
// addresses come from X-Forwarded-For; leave it off unless a proxy you
// control strips that header.
func NewRouter(handler *Handler, gw *gateway.Middleware, chiMW *ChiMiddleware, trustProxy bool) *Router {
	if chiMW == nil {
		chiMW = NewChiMiddleware(nil)
	}
	return &Router{
		handler:       handler,
		gateway:       gw,
		chiMiddleware: chiMW,
		trustProxy:    trustProxy,
	}
}

// Setup configures all HTTP routes.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if router.trustProxy {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS())
	r.Use(middleware.PrometheusMetrics)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		gateway.WriteAPIError(w, r, http.StatusNotFound, &models.APIError{Code: "NOT_FOUND", Message: "route not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		gateway.WriteAPIError(w, r, http.StatusMethodNotAllowed, &models.APIError{Code: "METHOD_NOT_ALLOWED", Message: "method not allowed"})
	})

	r.Get("/health/live", router.handler.HealthLive)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.SecurityHeaders)
		r.Get("/api/v1/status/auth", router.handler.AuthStatus)
	})

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(middleware.SecurityHeaders)
		r.Use(router.chiMiddleware.RateLimitAuth())
		r.Use(router.gateway.Authenticate)

		r.Post("/session", router.handler.Session)
		r.Get("/session", router.handler.Session)
		r.Get("/sessions", router.handler.Sessions)
		r.Post("/logout", router.handler.Logout)
		r.Post("/logout-all", router.handler.LogoutAll)
	})

	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Use(middleware.SecurityHeaders)
		r.Use(router.chiMiddleware.RateLimitAuth())
		r.Use(router.gateway.Authenticate)
		r.Use(router.gateway.RequireRole(auth.RoleAdmin))

		r.Post("/sessions/revoke", router.handler.RevokeSession)
		r.Delete("/users/{userID}/sessions", router.handler.DestroyUserSessions)
	})

	return r
}
