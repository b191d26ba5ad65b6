// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

/*
Package middleware provides infrastructure HTTP middleware shared by every
route: request IDs, Prometheus instrumentation and security headers.

All middleware has the chi signature func(http.Handler) http.Handler:

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.PrometheusMetrics)
	r.Use(middleware.SecurityHeaders)

RequestID runs first so the logging context carries request_id and
correlation_id for everything downstream, including audit events.
Authentication middleware lives in internal/gateway.
*/
package middleware
