// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package breaker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/carelink/internal/audit"
)

var (
	errUnavailable = errors.New("backend unavailable")
	errRejected    = errors.New("token rejected")
)

const testCoolDown = 50 * time.Millisecond

func newTestBreaker(t *testing.T, threshold uint32, sink audit.Sink) *Breaker[string] {
	t.Helper()
	b, err := New[string](Config{
		Name:                   "test-" + t.Name(),
		MaxConsecutiveFailures: threshold,
		Timeout:                testCoolDown,
		IsFailure:              func(err error) bool { return errors.Is(err, errUnavailable) },
		Audit:                  sink,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return b
}

func fail(context.Context) (string, error)    { return "", errUnavailable }
func succeed(context.Context) (string, error) { return "ok", nil }

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	b := newTestBreaker(t, 3, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := b.Call(ctx, fail); !errors.Is(err, errUnavailable) {
			t.Fatalf("call %d: err = %v, want errUnavailable", i, err)
		}
	}

	var invoked atomic.Bool
	_, err := b.Call(ctx, func(context.Context) (string, error) {
		invoked.Store(true)
		return "ok", nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("err = %v, want ErrOpen", err)
	}
	if invoked.Load() {
		t.Error("operation ran while breaker was open")
	}

	s := b.Snapshot()
	if s.Status != StatusOpen {
		t.Errorf("Status = %s, want open", s.Status)
	}
	if s.ConsecutiveFailures != 3 {
		t.Errorf("ConsecutiveFailures = %d, want 3", s.ConsecutiveFailures)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()
	b := newTestBreaker(t, 3, nil)
	ctx := context.Background()

	_, _ = b.Call(ctx, fail)
	_, _ = b.Call(ctx, fail)
	if _, err := b.Call(ctx, succeed); err != nil {
		t.Fatalf("err = %v", err)
	}
	_, _ = b.Call(ctx, fail)
	_, _ = b.Call(ctx, fail)

	if s := b.Snapshot(); s.Status != StatusClosed || s.ConsecutiveFailures != 2 {
		t.Errorf("Snapshot = %+v, want closed with 2 failures", s)
	}
}

func TestBreaker_NonFailureErrorsDoNotCount(t *testing.T) {
	t.Parallel()
	b := newTestBreaker(t, 2, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := b.Call(ctx, func(context.Context) (string, error) { return "", errRejected })
		if !errors.Is(err, errRejected) {
			t.Fatalf("err = %v, want errRejected", err)
		}
	}
	if s := b.Snapshot(); s.Status != StatusClosed || s.ConsecutiveFailures != 0 {
		t.Errorf("Snapshot = %+v, want closed with 0 failures", s)
	}
}

func TestBreaker_HalfOpenAllowsSingleProbe(t *testing.T) {
	t.Parallel()
	b := newTestBreaker(t, 1, nil)
	ctx := context.Background()

	_, _ = b.Call(ctx, fail)
	time.Sleep(testCoolDown + 20*time.Millisecond)

	if s := b.Snapshot(); s.Status != StatusHalfOpen {
		t.Fatalf("Status = %s, want half-open", s.Status)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := b.Call(ctx, func(context.Context) (string, error) {
			close(started)
			<-release
			return "ok", nil
		})
		done <- err
	}()
	<-started

	var invoked atomic.Bool
	_, err := b.Call(ctx, func(context.Context) (string, error) {
		invoked.Store(true)
		return "ok", nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Errorf("second probe err = %v, want ErrOpen", err)
	}
	if invoked.Load() {
		t.Error("second probe ran while first was in flight")
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe err = %v", err)
	}
	if s := b.Snapshot(); s.Status != StatusClosed || s.ConsecutiveFailures != 0 {
		t.Errorf("Snapshot = %+v, want closed with 0 failures", s)
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()
	b := newTestBreaker(t, 1, nil)
	ctx := context.Background()

	_, _ = b.Call(ctx, fail)
	time.Sleep(testCoolDown + 20*time.Millisecond)

	if _, err := b.Call(ctx, fail); !errors.Is(err, errUnavailable) {
		t.Fatalf("probe err = %v, want errUnavailable", err)
	}
	if s := b.Snapshot(); s.Status != StatusOpen {
		t.Errorf("Status = %s, want open", s.Status)
	}
	if _, err := b.Call(ctx, succeed); !errors.Is(err, ErrOpen) {
		t.Errorf("err = %v, want ErrOpen right after reopening", err)
	}
}

func TestBreaker_AuditsTransitions(t *testing.T) {
	t.Parallel()
	rec := &audit.Recorder{}
	b := newTestBreaker(t, 1, rec)
	ctx := context.Background()

	_, _ = b.Call(ctx, fail)
	time.Sleep(testCoolDown + 20*time.Millisecond)
	_, _ = b.Call(ctx, succeed)

	events := rec.OfType(audit.EventTypeBreakerTransition)
	want := []string{"circuit closed -> open", "circuit open -> half-open", "circuit half-open -> closed"}
	if len(events) != len(want) {
		t.Fatalf("got %d transition events, want %d", len(events), len(want))
	}
	for i, e := range events {
		if e.Description != want[i] {
			t.Errorf("event %d = %q, want %q", i, e.Description, want[i])
		}
	}
	if events[0].Severity != audit.SeverityWarning {
		t.Errorf("open transition severity = %s, want warning", events[0].Severity)
	}
}

func TestBreaker_SnapshotIsReadOnly(t *testing.T) {
	t.Parallel()
	rec := &audit.Recorder{}
	b := newTestBreaker(t, 1, rec)
	ctx := context.Background()

	_, _ = b.Call(ctx, fail)
	if s := b.Snapshot(); s.Status != StatusOpen {
		t.Fatalf("Status = %s, want open", s.Status)
	}
	time.Sleep(testCoolDown + 20*time.Millisecond)

	for i := 0; i < 3; i++ {
		if s := b.Snapshot(); s.Status != StatusHalfOpen {
			t.Fatalf("Status = %s, want half-open", s.Status)
		}
	}
	if got := len(rec.OfType(audit.EventTypeBreakerTransition)); got != 1 {
		t.Fatalf("transition events after polling = %d, want only closed -> open", got)
	}

	if _, err := b.Call(ctx, succeed); err != nil {
		t.Fatalf("probe err = %v", err)
	}
	if got := len(rec.OfType(audit.EventTypeBreakerTransition)); got != 3 {
		t.Errorf("transition events after probe = %d, want 3", got)
	}
}

func TestBreaker_SnapshotRecordsResponseTime(t *testing.T) {
	t.Parallel()
	b := newTestBreaker(t, 3, nil)

	if s := b.Snapshot(); s.LastResponseTimeMs != nil {
		t.Errorf("LastResponseTimeMs = %v before any call, want nil", *s.LastResponseTimeMs)
	}
	_, _ = b.Call(context.Background(), func(context.Context) (string, error) {
		time.Sleep(5 * time.Millisecond)
		return "ok", nil
	})
	s := b.Snapshot()
	if s.LastResponseTimeMs == nil || *s.LastResponseTimeMs < 5 {
		t.Errorf("LastResponseTimeMs = %v, want >= 5", s.LastResponseTimeMs)
	}
	if s.Name != b.Name() {
		t.Errorf("Name = %q, want %q", s.Name, b.Name())
	}
}

func TestBreaker_CanceledContext(t *testing.T) {
	t.Parallel()
	b := newTestBreaker(t, 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := b.Call(ctx, succeed); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if b.IsOpen() {
		t.Error("canceled call should not affect breaker state")
	}
}

func TestNew_RequiresName(t *testing.T) {
	t.Parallel()
	if _, err := New[string](Config{}); err == nil {
		t.Error("New() with empty name should fail")
	}
}
