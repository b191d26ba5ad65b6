// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package auth

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/carelink/internal/audit"
	"github.com/tomtom215/carelink/internal/breaker"
)

// fakeIdentityClient returns err when set, otherwise an identity for the
// token. calls counts network round trips.
type fakeIdentityClient struct {
	err   atomic.Value // error wrapper
	calls atomic.Int32
}

type errBox struct{ err error }

func (f *fakeIdentityClient) setErr(err error) { f.err.Store(errBox{err}) }

func (f *fakeIdentityClient) VerifyToken(_ context.Context, token string) (*Identity, error) {
	f.calls.Add(1)
	if b, ok := f.err.Load().(errBox); ok && b.err != nil {
		return nil, b.err
	}
	return &Identity{ID: "managed-" + token[:4], Email: "m@example.org", Role: "admin", Verified: true}, nil
}

type managedFixture struct {
	client   *fakeIdentityClient
	verifier *ManagedVerifier
}

func newManagedFixture(t *testing.T, threshold uint32) *managedFixture {
	t.Helper()
	cb, err := breaker.New[*Identity](breaker.Config{
		Name:                   "managed-" + t.Name(),
		MaxConsecutiveFailures: threshold,
		Timeout:                time.Minute,
		IsFailure:              IsBackendFailure,
	})
	if err != nil {
		t.Fatal(err)
	}
	client := &fakeIdentityClient{}
	return &managedFixture{client: client, verifier: NewManagedVerifier(client, cb, time.Second)}
}

func newOrchestrator(t *testing.T, cfg OrchestratorConfig) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(cfg)
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}
	return o
}

func validLocalToken(t *testing.T) string {
	t.Helper()
	return tokenExpiringAt(t, testSecret, testNow.Add(time.Hour))
}

func TestManagedVerifier_ErrorMapping(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		err        error
		want       Kind
		wantReason string
	}{
		{"unavailable", fmt.Errorf("%w: dial tcp", ErrBackendUnavailable), KindBackendUnavailable, ""},
		{"no user", ErrNoUser, KindInvalidToken, ReasonNoUser},
		{"expired", ErrTokenExpired, KindTokenExpired, ""},
		{"rejected", ErrTokenRejected, KindInvalidToken, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newManagedFixture(t, 5)
			f.client.setErr(tt.err)
			_, err := f.verifier.Verify(context.Background(), "token-value")
			var ae *Error
			if !errors.As(err, &ae) {
				t.Fatalf("err = %v, want *Error", err)
			}
			if ae.Kind != tt.want || ae.Reason != tt.wantReason {
				t.Errorf("got %s/%q, want %s/%q", ae.Kind, ae.Reason, tt.want, tt.wantReason)
			}
			if !errors.Is(err, tt.err) {
				t.Error("upstream cause should stay reachable through Unwrap")
			}
		})
	}
}

func TestManagedVerifier_BreakerOpensAndSkipsNetwork(t *testing.T) {
	t.Parallel()
	f := newManagedFixture(t, 3)
	f.client.setErr(ErrBackendUnavailable)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := f.verifier.Verify(ctx, "token-value"); KindOf(err) != KindBackendUnavailable {
			t.Fatalf("call %d kind = %s", i, KindOf(err))
		}
	}
	_, err := f.verifier.Verify(ctx, "token-value")
	if KindOf(err) != KindCircuitOpen {
		t.Errorf("kind = %s, want CIRCUIT_OPEN", KindOf(err))
	}
	if got := f.client.calls.Load(); got != 3 {
		t.Errorf("network calls = %d, want 3", got)
	}
}

func TestManagedVerifier_RejectionsDoNotTripBreaker(t *testing.T) {
	t.Parallel()
	f := newManagedFixture(t, 2)
	f.client.setErr(ErrNoUser)
	for i := 0; i < 5; i++ {
		_, _ = f.verifier.Verify(context.Background(), "token-value")
	}
	if f.verifier.Breaker().IsOpen() {
		t.Error("credential rejections opened the breaker")
	}
}

func TestOrchestrator_NoToken(t *testing.T) {
	t.Parallel()
	f := newManagedFixture(t, 5)
	o := newOrchestrator(t, OrchestratorConfig{Managed: f.verifier, Local: newTestLocalVerifier(t, mustStatic(t, testSecret), time.Minute), FallbackEnabled: true})

	_, err := o.Authenticate(context.Background(), Credentials{})
	if KindOf(err) != KindAuthRequired {
		t.Errorf("kind = %s, want AUTH_REQUIRED", KindOf(err))
	}
	if f.client.calls.Load() != 0 {
		t.Error("managed provider called without a token")
	}
}

func TestOrchestrator_ManagedSuccessIsPrimary(t *testing.T) {
	t.Parallel()
	f := newManagedFixture(t, 5)
	rec := &audit.Recorder{}
	o := newOrchestrator(t, OrchestratorConfig{Managed: f.verifier, Local: newTestLocalVerifier(t, mustStatic(t, testSecret), time.Minute), FallbackEnabled: true, Audit: rec})

	p, err := o.Authenticate(context.Background(), Credentials{Token: "opaque-managed-token"})
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if p.AuthMethod != MethodPrimary || p.Role != RoleAdmin {
		t.Errorf("principal = %+v", p)
	}
	if len(rec.OfType(audit.EventTypeAuthSuccess)) != 1 {
		t.Error("expected one auth.success audit event")
	}
}

func TestOrchestrator_FallbackWhenManagedDown(t *testing.T) {
	t.Parallel()
	f := newManagedFixture(t, 2)
	f.client.setErr(ErrBackendUnavailable)
	rec := &audit.Recorder{}
	o := newOrchestrator(t, OrchestratorConfig{
		Managed:         f.verifier,
		Local:           newTestLocalVerifier(t, mustStatic(t, testSecret), time.Minute),
		FallbackEnabled: true,
		Audit:           rec,
	})
	token := validLocalToken(t)

	// enough calls to open the breaker; every one must succeed via fallback
	for i := 0; i < 4; i++ {
		p, err := o.Authenticate(context.Background(), Credentials{Token: token})
		if err != nil {
			t.Fatalf("call %d: err = %v, CIRCUIT_OPEN must not surface while fallback works", i, err)
		}
		if p.AuthMethod != MethodSecondary {
			t.Errorf("call %d: AuthMethod = %s, want secondary", i, p.AuthMethod)
		}
	}
	if !f.verifier.Breaker().IsOpen() {
		t.Error("breaker should be open")
	}
	if f.client.calls.Load() != 2 {
		t.Errorf("network calls = %d, want 2", f.client.calls.Load())
	}
	if len(rec.OfType(audit.EventTypeAuthFallback)) != 4 {
		t.Errorf("fallback events = %d, want 4", len(rec.OfType(audit.EventTypeAuthFallback)))
	}
}

// hangingIdentityClient never answers on its own. It returns when the
// call's context ends, along with a half-built identity.
type hangingIdentityClient struct {
	calls atomic.Int32
}

func (h *hangingIdentityClient) VerifyToken(ctx context.Context, _ string) (*Identity, error) {
	h.calls.Add(1)
	<-ctx.Done()
	return &Identity{ID: "partial"}, ctx.Err()
}

func TestOrchestrator_ManagedTimeoutCountsAndFallsBack(t *testing.T) {
	t.Parallel()
	cb, err := breaker.New[*Identity](breaker.Config{
		Name:                   "managed-" + t.Name(),
		MaxConsecutiveFailures: 2,
		Timeout:                time.Minute,
		IsFailure:              IsBackendFailure,
	})
	if err != nil {
		t.Fatal(err)
	}
	client := &hangingIdentityClient{}
	managed := NewManagedVerifier(client, cb, 20*time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	p, err := managed.Verify(ctx, "token-value")
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Verify took %v, want it bounded by the call timeout", elapsed)
	}
	if p != nil {
		t.Errorf("principal = %+v, want nil on timeout", p)
	}
	if KindOf(err) != KindBackendUnavailable {
		t.Fatalf("kind = %s, want BACKEND_UNAVAILABLE", KindOf(err))
	}
	if got := cb.Snapshot().ConsecutiveFailures; got != 1 {
		t.Errorf("breaker failures = %d, want 1", got)
	}

	rec := &audit.Recorder{}
	o := newOrchestrator(t, OrchestratorConfig{
		Managed:         managed,
		Local:           newTestLocalVerifier(t, mustStatic(t, testSecret), time.Minute),
		FallbackEnabled: true,
		Audit:           rec,
	})
	p, err = o.Authenticate(ctx, Credentials{Token: validLocalToken(t)})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.AuthMethod != MethodSecondary || p.ID == "partial" {
		t.Errorf("principal = %+v, want the local token's secondary principal", p)
	}
	if len(rec.OfType(audit.EventTypeAuthFallback)) != 1 {
		t.Error("missing auth fallback audit event")
	}

	// the second timeout tripped the breaker
	if !cb.IsOpen() {
		t.Fatal("breaker should be open after two timeouts")
	}
	if _, err := managed.Verify(ctx, "token-value"); KindOf(err) != KindCircuitOpen {
		t.Errorf("kind = %s, want CIRCUIT_OPEN", KindOf(err))
	}
	if got := client.calls.Load(); got != 2 {
		t.Errorf("provider calls = %d, want 2", got)
	}
}

func TestOrchestrator_BothFailReturnsLocalError(t *testing.T) {
	t.Parallel()
	f := newManagedFixture(t, 5)
	f.client.setErr(ErrBackendUnavailable)
	o := newOrchestrator(t, OrchestratorConfig{
		Managed:         f.verifier,
		Local:           newTestLocalVerifier(t, mustStatic(t, testSecret), time.Minute),
		FallbackEnabled: true,
	})

	expired := tokenExpiringAt(t, testSecret, testNow.Add(-time.Hour))
	_, err := o.Authenticate(context.Background(), Credentials{Token: expired})
	if KindOf(err) != KindTokenExpired {
		t.Errorf("kind = %s, want local TOKEN_EXPIRED", KindOf(err))
	}
}

func TestOrchestrator_FallbackDisabledReturnsManagedError(t *testing.T) {
	t.Parallel()
	f := newManagedFixture(t, 5)
	f.client.setErr(ErrNoUser)
	o := newOrchestrator(t, OrchestratorConfig{
		Managed:         f.verifier,
		Local:           newTestLocalVerifier(t, mustStatic(t, testSecret), time.Minute),
		FallbackEnabled: false,
	})

	_, err := o.Authenticate(context.Background(), Credentials{Token: validLocalToken(t)})
	if !errors.Is(err, ErrNoUser) {
		t.Fatalf("err = %v, want ErrNoUser in chain", err)
	}
	var ae *Error
	if !errors.As(err, &ae) || ae.Reason != ReasonNoUser {
		t.Errorf("err = %v, want reason no_user", err)
	}
}

func TestOrchestrator_FallbackDisabledSurfacesCircuitOpen(t *testing.T) {
	t.Parallel()
	f := newManagedFixture(t, 1)
	f.client.setErr(ErrBackendUnavailable)
	o := newOrchestrator(t, OrchestratorConfig{Managed: f.verifier, FallbackEnabled: false})

	_, _ = o.Authenticate(context.Background(), Credentials{Token: "opaque-token"})
	_, err := o.Authenticate(context.Background(), Credentials{Token: "opaque-token"})
	if KindOf(err) != KindCircuitOpen {
		t.Errorf("kind = %s, want CIRCUIT_OPEN", KindOf(err))
	}
}

func TestOrchestrator_LocalOnly(t *testing.T) {
	t.Parallel()
	o := newOrchestrator(t, OrchestratorConfig{Local: newTestLocalVerifier(t, mustStatic(t, testSecret), time.Minute)})
	if !o.FallbackEnabled() || o.ManagedConfigured() {
		t.Error("local-only orchestrator should report local path enabled and no managed provider")
	}
	p, err := o.Authenticate(context.Background(), Credentials{Token: validLocalToken(t)})
	if err != nil || p.AuthMethod != MethodSecondary {
		t.Errorf("Authenticate() = %+v, %v", p, err)
	}
}

func TestOrchestrator_EmergencyDisabledIgnoresHeader(t *testing.T) {
	t.Parallel()
	o := newOrchestrator(t, OrchestratorConfig{Local: newTestLocalVerifier(t, mustStatic(t, testSecret), time.Minute)})

	_, err := o.Authenticate(context.Background(), Credentials{EmergencyKey: "anything", EmergencyReason: "code blue"})
	if KindOf(err) != KindAuthRequired {
		t.Errorf("kind = %s, want AUTH_REQUIRED (bypass header must have no effect)", KindOf(err))
	}

	p, err := o.Authenticate(context.Background(), Credentials{Token: validLocalToken(t), EmergencyKey: "anything"})
	if err != nil || p.AuthMethod != MethodSecondary {
		t.Errorf("normal verification should proceed: %+v, %v", p, err)
	}
}

func TestOrchestrator_BypassOrder(t *testing.T) {
	t.Parallel()
	emergency, err := NewEmergencyStrategy(EmergencyConfig{Secret: testSecret})
	if err != nil {
		t.Fatal(err)
	}
	demo := NewDemoStrategy(DemoConfig{})
	f := newManagedFixture(t, 5)
	o := newOrchestrator(t, OrchestratorConfig{
		Bypass:          []BypassStrategy{emergency, demo},
		Managed:         f.verifier,
		Local:           newTestLocalVerifier(t, mustStatic(t, testSecret), time.Minute),
		FallbackEnabled: true,
	})

	p, err := o.Authenticate(context.Background(), Credentials{EmergencyKey: testSecret, EmergencyReason: "ICU downtime", IPAddress: "10.0.0.1"})
	if err != nil || p.AuthMethod != MethodEmergency {
		t.Fatalf("emergency: %+v, %v", p, err)
	}

	p, err = o.Authenticate(context.Background(), Credentials{Token: demoToken(t, "demo-patient"), IPAddress: "10.0.0.1"})
	if err != nil || p.AuthMethod != MethodDemo {
		t.Fatalf("demo: %+v, %v", p, err)
	}
	if f.client.calls.Load() != 0 {
		t.Error("demo token reached the managed provider")
	}

	p, err = o.Authenticate(context.Background(), Credentials{Token: "opaque-managed-token"})
	if err != nil || p.AuthMethod != MethodPrimary {
		t.Fatalf("non-demo token should use normal verification: %+v, %v", p, err)
	}
}
