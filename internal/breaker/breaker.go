// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

// Package breaker guards calls to a remote backend with a consecutive-failure
// circuit breaker built on sony/gobreaker.
//
// A breaker opens once MaxConsecutiveFailures calls in a row have failed.
// While open, Call returns ErrOpen without running the operation. After
// Timeout exactly one probe call is let through (half-open): success closes
// the breaker and resets the failure count, failure reopens it and restarts
// the cool-down.
//
// Only errors classified by Config.IsFailure count against the backend.
// An identity provider that answers "invalid token" is healthy, so the
// managed verifier classifies only unavailability as a failure.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/carelink/internal/audit"
	"github.com/tomtom215/carelink/internal/logging"
	"github.com/tomtom215/carelink/internal/metrics"
)

// ErrOpen is returned when the breaker short-circuits a call.
var ErrOpen = errors.New("circuit breaker is open")

// Status is the externally reported breaker state.
type Status string

const (
	StatusClosed   Status = "closed"
	StatusHalfOpen Status = "half-open"
	StatusOpen     Status = "open"
)

// State is a point-in-time view of a breaker.
type State struct {
	Name                string    `json:"name"`
	Status              Status    `json:"status"`
	ConsecutiveFailures uint32    `json:"consecutive_failures"`
	LastTransitionAt    time.Time `json:"last_transition_at"`
	LastResponseTimeMs  *int64    `json:"last_response_time_ms,omitempty"`
}

// Config configures a Breaker.
type Config struct {
	// Name identifies the guarded backend in logs and metrics.
	Name                   string
	MaxConsecutiveFailures uint32
	// Timeout is the open-state cool-down before a probe is allowed.
	Timeout time.Duration
	// IsFailure reports whether an operation error counts against the
	// backend. Nil counts every error.
	IsFailure func(error) bool
	// Store shares breaker state across instances when set.
	Store gobreaker.SharedDataStore
	// Audit receives state transitions. Optional.
	Audit audit.Sink
}

// Breaker guards operations returning T.
type Breaker[T any] struct {
	name      string
	timeout   time.Duration
	execute   func(func() (T, error)) (T, error)
	store     gobreaker.SharedDataStore
	isFailure func(error) bool
	sink      audit.Sink

	mu                  sync.Mutex
	state               gobreaker.State
	consecutiveFailures uint32
	lastTransitionAt    time.Time
	lastResponseMs      *int64
}

// New creates a breaker. With cfg.Store set the breaker state is shared
// through the store; creation fails if the store is unreachable.
func New[T any](cfg Config) (*Breaker[T], error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("breaker name is required")
	}
	if cfg.MaxConsecutiveFailures == 0 {
		cfg.MaxConsecutiveFailures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	isFailure := cfg.IsFailure
	if isFailure == nil {
		isFailure = func(err error) bool { return err != nil }
	}
	sink := cfg.Audit
	if sink == nil {
		sink = audit.Discard
	}

	b := &Breaker[T]{
		name:             cfg.Name,
		timeout:          cfg.Timeout,
		store:            cfg.Store,
		isFailure:        isFailure,
		sink:             sink,
		lastTransitionAt: time.Now(),
	}

	threshold := cfg.MaxConsecutiveFailures
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isFailure(err)
		},
		OnStateChange: b.onStateChange,
	}

	if cfg.Store != nil {
		dcb, err := gobreaker.NewDistributedCircuitBreaker[T](cfg.Store, settings)
		if err != nil {
			return nil, fmt.Errorf("create distributed breaker %s: %w", cfg.Name, err)
		}
		b.execute = dcb.Execute
	} else {
		b.execute = gobreaker.NewCircuitBreaker[T](settings).Execute
	}

	metrics.RecordBreakerState(cfg.Name, 0, 0)
	return b, nil
}

// Name returns the breaker name.
func (b *Breaker[T]) Name() string {
	return b.name
}

// Call runs op unless the breaker is open. A rejected call returns an
// error wrapping ErrOpen and op is never invoked.
func (b *Breaker[T]) Call(ctx context.Context, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	ran := false
	result, err := b.execute(func() (T, error) {
		ran = true
		start := time.Now()
		v, opErr := op(ctx)
		b.recordResponseTime(time.Since(start))
		return v, opErr
	})

	switch {
	case !ran && (errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)):
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
		logging.Debug().Str("breaker", b.name).Msg("[CIRCUIT BREAKER] Request rejected")
		return zero, fmt.Errorf("%w: %s", ErrOpen, b.name)
	case !ran && err != nil:
		// shared state store failure; the backend was never reached
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
		logging.Warn().Err(err).Str("breaker", b.name).Msg("[CIRCUIT BREAKER] Shared state unavailable")
		return zero, fmt.Errorf("%w: %s: %v", ErrOpen, b.name, err)
	case err != nil && b.isFailure(err):
		b.recordFailure()
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
		return result, err
	default:
		b.recordSuccess()
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
		return result, err
	}
}

func (b *Breaker[T]) recordSuccess() {
	b.mu.Lock()
	b.consecutiveFailures = 0
	b.mu.Unlock()
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(b.name).Set(0)
}

func (b *Breaker[T]) recordFailure() {
	b.mu.Lock()
	b.consecutiveFailures++
	n := b.consecutiveFailures
	b.mu.Unlock()
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(b.name).Set(float64(n))
}

func (b *Breaker[T]) recordResponseTime(d time.Duration) {
	ms := d.Milliseconds()
	b.mu.Lock()
	b.lastResponseMs = &ms
	b.mu.Unlock()
}

// onStateChange runs with the gobreaker mutex held and must not call back
// into the circuit breaker.
func (b *Breaker[T]) onStateChange(name string, from, to gobreaker.State) {
	now := time.Now()
	b.mu.Lock()
	b.state = to
	b.lastTransitionAt = now
	failures := b.consecutiveFailures
	b.mu.Unlock()

	fromStr, toStr := toStatus(from), toStatus(to)
	metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
	metrics.CircuitBreakerTransitions.WithLabelValues(name, string(fromStr), string(toStr)).Inc()

	ev := logging.Info()
	severity := audit.SeverityInfo
	if to == gobreaker.StateOpen {
		ev = logging.Warn()
		severity = audit.SeverityWarning
	}
	ev.Str("breaker", name).
		Str("from", string(fromStr)).
		Str("to", string(toStr)).
		Uint32("consecutive_failures", failures).
		Msg("[CIRCUIT BREAKER] State transition")

	b.sink.Log(&audit.Event{
		Type:        audit.EventTypeBreakerTransition,
		Severity:    severity,
		Outcome:     audit.OutcomeSuccess,
		Actor:       audit.SystemActor(),
		Target:      &audit.Target{ID: name, Type: "backend"},
		Action:      "transition",
		Description: fmt.Sprintf("circuit %s -> %s", fromStr, toStr),
		Timestamp:   now,
	})
}

// Snapshot returns the current breaker state without changing it. An open
// breaker whose cool-down has elapsed is reported half-open; the
// transition itself happens on the next call.
func (b *Breaker[T]) Snapshot() State {
	status, err := b.status(time.Now())
	if err != nil {
		logging.Warn().Err(err).Str("breaker", b.name).Msg("[CIRCUIT BREAKER] Could not read shared state")
		status = StatusOpen
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	s := State{
		Name:                b.name,
		Status:              status,
		ConsecutiveFailures: b.consecutiveFailures,
		LastTransitionAt:    b.lastTransitionAt,
	}
	if b.lastResponseMs != nil {
		ms := *b.lastResponseMs
		s.LastResponseTimeMs = &ms
	}
	return s
}

func (b *Breaker[T]) status(now time.Time) (Status, error) {
	if b.store != nil {
		return b.sharedStatus(now)
	}
	b.mu.Lock()
	st, since := b.state, b.lastTransitionAt
	b.mu.Unlock()
	return effectiveStatus(st, since.Add(b.timeout), now), nil
}

// sharedStatus reads the distributed state directly from the store.
// gobreaker's own State() takes the shared lock and writes back any
// open to half-open move, which a read must not do.
func (b *Breaker[T]) sharedStatus(now time.Time) (Status, error) {
	data, err := b.store.GetData(sharedStateKey(b.name))
	if err != nil {
		return StatusOpen, err
	}
	if len(data) == 0 {
		return StatusClosed, nil
	}
	var shared gobreaker.SharedState
	if err := json.Unmarshal(data, &shared); err != nil {
		return StatusOpen, fmt.Errorf("decode shared state: %w", err)
	}
	return effectiveStatus(shared.State, shared.Expiry, now), nil
}

// sharedStateKey matches the key gobreaker's distributed breaker uses.
func sharedStateKey(name string) string {
	return "gobreaker:state:" + name
}

func effectiveStatus(st gobreaker.State, openUntil, now time.Time) Status {
	if st == gobreaker.StateOpen && !now.Before(openUntil) {
		return StatusHalfOpen
	}
	return toStatus(st)
}

// IsOpen reports whether calls would currently be short-circuited.
func (b *Breaker[T]) IsOpen() bool {
	return b.Snapshot().Status == StatusOpen
}

func toStatus(s gobreaker.State) Status {
	switch s {
	case gobreaker.StateHalfOpen:
		return StatusHalfOpen
	case gobreaker.StateOpen:
		return StatusOpen
	default:
		return StatusClosed
	}
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
