// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

// Package health reports whether the authentication paths can serve
// requests. It only reads breaker and secret state.
package health

import (
	"net/http"
	"time"

	"github.com/tomtom215/carelink/internal/auth"
	"github.com/tomtom215/carelink/internal/breaker"
	"github.com/tomtom215/carelink/internal/metrics"
)

// Overall is the aggregate authentication health.
type Overall string

const (
	// Healthy: the managed provider is closed (or not used) and the local
	// path is usable or disabled.
	Healthy Overall = "healthy"
	// Degraded: the managed provider is failing but local tokens work, or
	// the local secret failed to reload and the last good key is in use.
	Degraded Overall = "degraded"
	// Critical: no verification path works.
	Critical Overall = "critical"
)

// Backend statuses beyond the breaker states.
const (
	StatusDisabled      = "disabled"
	StatusNotConfigured = "not_configured"
)

// BackendStatus describes one verification path.
type BackendStatus struct {
	Name                string     `json:"name"`
	Status              string     `json:"status"`
	ConsecutiveFailures uint32     `json:"consecutive_failures"`
	LastTransitionAt    *time.Time `json:"last_transition_at,omitempty"`
	LastResponseTimeMs  *int64     `json:"last_response_time_ms,omitempty"`
	Error               string     `json:"error,omitempty"`
}

// Status is the reporter's answer.
type Status struct {
	Overall         Overall                  `json:"overall"`
	Backends        map[string]BackendStatus `json:"backends"`
	FallbackEnabled bool                     `json:"fallback_enabled"`
	CheckedAt       time.Time                `json:"checked_at"`
}

// BreakerSource exposes a breaker snapshot.
type BreakerSource interface {
	Snapshot() breaker.State
}

// Config wires the reporter. A nil Managed means no managed provider is
// configured; a nil Local means local tokens are not configured.
type Config struct {
	Managed         BreakerSource
	Local           auth.SecretProvider
	FallbackEnabled bool
	Now             func() time.Time
}

// Reporter computes Status on demand.
type Reporter struct {
	managed  BreakerSource
	local    auth.SecretProvider
	fallback bool
	now      func() time.Time
}

// NewReporter creates a reporter.
func NewReporter(cfg Config) *Reporter {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Reporter{
		managed:  cfg.Managed,
		local:    cfg.Local,
		fallback: cfg.FallbackEnabled || cfg.Managed == nil,
		now:      now,
	}
}

// GetStatus evaluates every backend and publishes the overall gauge.
func (r *Reporter) GetStatus() Status {
	managed := r.managedStatus()
	local := r.localStatus()

	overall := evaluate(managed.Status, local.Status)
	if overall == Healthy && local.Error != "" {
		// still serving the last good key, but it can no longer rotate
		overall = Degraded
	}

	st := Status{
		Overall: overall,
		Backends: map[string]BackendStatus{
			managed.Name: managed,
			local.Name:   local,
		},
		FallbackEnabled: r.fallback && r.local != nil,
		CheckedAt:       r.now(),
	}

	switch st.Overall {
	case Healthy:
		metrics.AuthHealthStatus.Set(0)
	case Degraded:
		metrics.AuthHealthStatus.Set(1)
	default:
		metrics.AuthHealthStatus.Set(2)
	}
	return st
}

func (r *Reporter) managedStatus() BackendStatus {
	if r.managed == nil {
		return BackendStatus{Name: auth.ManagedBackendName, Status: StatusNotConfigured}
	}
	snap := r.managed.Snapshot()
	bs := BackendStatus{
		Name:                auth.ManagedBackendName,
		Status:              string(snap.Status),
		ConsecutiveFailures: snap.ConsecutiveFailures,
		LastResponseTimeMs:  snap.LastResponseTimeMs,
	}
	if !snap.LastTransitionAt.IsZero() {
		t := snap.LastTransitionAt
		bs.LastTransitionAt = &t
	}
	return bs
}

func (r *Reporter) localStatus() BackendStatus {
	bs := BackendStatus{Name: auth.LocalBackendName}
	switch {
	case r.local == nil:
		bs.Status = StatusNotConfigured
	case !r.fallback:
		bs.Status = StatusDisabled
	default:
		bs.Status = string(breaker.StatusClosed)
		if err := r.local.Health(); err != nil {
			bs.Error = err.Error()
		}
		if !hasKey(r.local.Keys()) {
			bs.Status = string(breaker.StatusOpen)
			if bs.Error == "" {
				bs.Error = "no local token secret loaded"
			}
		}
	}
	return bs
}

func hasKey(keys [][]byte) bool {
	for _, k := range keys {
		if len(k) > 0 {
			return true
		}
	}
	return false
}

func evaluate(managed, local string) Overall {
	managedOK := managed == string(breaker.StatusClosed) || managed == StatusNotConfigured
	localUsable := local == string(breaker.StatusClosed)

	switch {
	case local == string(breaker.StatusOpen):
		return Critical
	case managed == StatusNotConfigured && !localUsable:
		return Critical
	case !managedOK && !localUsable:
		// managed failing with fallback disabled
		return Critical
	case !managedOK:
		return Degraded
	default:
		return Healthy
	}
}

// HTTPStatus maps the overall status to a response code.
func (o Overall) HTTPStatus() int {
	if o == Critical {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}
