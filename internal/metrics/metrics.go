// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

// Package metrics defines the Prometheus instruments exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carelink_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "carelink_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "carelink_api_active_requests",
			Help: "Current number of in-flight API requests",
		},
	)

	// Authentication Metrics
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carelink_auth_attempts_total",
			Help: "Authentication attempts by method and result",
		},
		[]string{"method", "result"}, // method: primary, secondary, demo, emergency; result: success or an error kind
	)

	AuthFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carelink_auth_fallbacks_total",
			Help: "Times the local token verifier was tried after the managed provider failed",
		},
		[]string{"reason"},
	)

	ManagedVerifyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "carelink_managed_verify_duration_seconds",
			Help:    "Latency of managed identity provider calls",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	EmergencyAccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carelink_emergency_access_total",
			Help: "Emergency access attempts by result",
		},
		[]string{"result"}, // granted, denied, rate_limited, missing_reason
	)

	DemoTokensAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "carelink_demo_tokens_accepted_total",
			Help: "Unverified demo tokens accepted",
		},
	)

	SecretReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carelink_local_secret_reloads_total",
			Help: "Local signing secret reloads by result",
		},
		[]string{"result"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "carelink_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carelink_circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: success, failure, rejected
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "carelink_circuit_breaker_consecutive_failures",
			Help: "Current number of consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carelink_circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Session Metrics
	SessionOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carelink_session_operations_total",
			Help: "Session lifecycle operations",
		},
		[]string{"operation"}, // created, validated, renewed, evicted, expired, inactive, destroyed, swept
	)

	SessionSecurityFlags = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carelink_session_security_flags_total",
			Help: "Security flags raised on sessions",
		},
		[]string{"flag"},
	)

	SessionsLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "carelink_sessions_live",
			Help: "Sessions left in the store after the last sweep",
		},
	)

	SessionStoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carelink_session_store_errors_total",
			Help: "Session store errors by operation",
		},
		[]string{"store", "operation"},
	)

	// Audit Metrics
	AuditEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "carelink_audit_events_dropped_total",
			Help: "Audit events dropped because the write buffer was full",
		},
	)

	// Health Metrics
	AuthHealthStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "carelink_auth_health_status",
			Help: "Overall authentication health (0=healthy, 1=degraded, 2=critical)",
		},
	)
)

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest increments or decrements the in-flight gauge.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordAuthAttempt records one authentication outcome.
func RecordAuthAttempt(method, result string) {
	AuthAttempts.WithLabelValues(method, result).Inc()
}

// RecordSessionOp records a session lifecycle operation.
func RecordSessionOp(operation string) {
	SessionOperations.WithLabelValues(operation).Inc()
}

// RecordBreakerState publishes the numeric state and failure count.
func RecordBreakerState(name string, state float64, consecutiveFailures uint32) {
	CircuitBreakerState.WithLabelValues(name).Set(state)
	CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(float64(consecutiveFailures))
}
