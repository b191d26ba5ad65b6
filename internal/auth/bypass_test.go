// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/tomtom215/carelink/internal/audit"
)

// demoToken is signed with a throwaway key; demo mode never checks it.
func demoToken(t *testing.T, id string) string {
	t.Helper()
	return signClaims(t, "not-the-server-secret-not-the-server", &LocalClaims{
		UserID: id,
		Email:  "demo@example.org",
		Role:   "patient",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(testNow.Add(time.Hour)),
		},
	})
}

func TestEmergencyStrategy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		creds       Credentials
		wantHandled bool
		wantKind    Kind
	}{
		{"no header", Credentials{Token: "x"}, false, ""},
		{"granted", Credentials{EmergencyKey: testSecret, EmergencyReason: "EHR outage", IPAddress: "10.0.0.1"}, true, ""},
		{"wrong key", Credentials{EmergencyKey: "wrong", EmergencyReason: "EHR outage", IPAddress: "10.0.0.2"}, true, KindForbidden},
		{"missing reason", Credentials{EmergencyKey: testSecret, IPAddress: "10.0.0.3"}, true, KindForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &audit.Recorder{}
			s, err := NewEmergencyStrategy(EmergencyConfig{Secret: testSecret, Audit: rec, Now: fixedClock(testNow)})
			if err != nil {
				t.Fatal(err)
			}
			p, handled, err := s.Attempt(context.Background(), tt.creds)
			if handled != tt.wantHandled {
				t.Fatalf("handled = %v, want %v", handled, tt.wantHandled)
			}
			if !handled {
				if len(rec.Events()) != 0 {
					t.Error("declined attempt should not be audited")
				}
				return
			}
			if got := KindOf(err); got != tt.wantKind {
				t.Fatalf("kind = %q, want %q", got, tt.wantKind)
			}
			events := rec.Events()
			if len(events) != 1 || events[0].Severity != audit.SeverityCritical {
				t.Fatalf("want one critical audit event, got %d", len(events))
			}
			if tt.wantKind == "" {
				if p.ID != EmergencyPrincipalID || p.Role != RoleAdmin || p.AuthMethod != MethodEmergency {
					t.Errorf("principal = %+v", p)
				}
				if events[0].Type != audit.EventTypeEmergencyAccess {
					t.Errorf("event type = %s", events[0].Type)
				}
			} else if events[0].Type != audit.EventTypeEmergencyDenied {
				t.Errorf("event type = %s", events[0].Type)
			}
		})
	}
}

func TestEmergencyStrategy_BcryptHash(t *testing.T) {
	t.Parallel()
	hash, err := bcrypt.GenerateFromPassword([]byte("break-glass-phrase"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	s, err := NewEmergencyStrategy(EmergencyConfig{SecretHash: string(hash)})
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := s.Attempt(context.Background(), Credentials{EmergencyKey: "break-glass-phrase", EmergencyReason: "r"}); err != nil {
		t.Errorf("matching key: err = %v", err)
	}
	if _, _, err := s.Attempt(context.Background(), Credentials{EmergencyKey: "guess", EmergencyReason: "r"}); KindOf(err) != KindForbidden {
		t.Errorf("wrong key kind = %s, want FORBIDDEN", KindOf(err))
	}

	if _, err := NewEmergencyStrategy(EmergencyConfig{SecretHash: "plaintext"}); err == nil {
		t.Error("invalid bcrypt hash should be rejected")
	}
	if _, err := NewEmergencyStrategy(EmergencyConfig{}); err == nil {
		t.Error("missing secret should be rejected")
	}
}

func TestEmergencyStrategy_RateLimitPerIP(t *testing.T) {
	t.Parallel()
	s, err := NewEmergencyStrategy(EmergencyConfig{Secret: testSecret, MaxPerHour: 2})
	if err != nil {
		t.Fatal(err)
	}
	creds := Credentials{EmergencyKey: "wrong", EmergencyReason: "r", IPAddress: "10.1.1.1"}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, _, err := s.Attempt(ctx, creds); KindOf(err) != KindForbidden {
			t.Fatalf("attempt %d kind = %s", i, KindOf(err))
		}
	}
	// limit exhausted: even the right key is refused from this address
	creds.EmergencyKey = testSecret
	_, _, err = s.Attempt(ctx, creds)
	if err == nil {
		t.Fatal("third attempt within the hour should be rate limited")
	}

	creds.IPAddress = "10.1.1.2"
	if _, _, err := s.Attempt(ctx, creds); err != nil {
		t.Errorf("other address should not be limited: %v", err)
	}
}

func TestEmergencyStrategy_RateLimitFollowsClock(t *testing.T) {
	t.Parallel()
	now := testNow
	s, err := NewEmergencyStrategy(EmergencyConfig{
		Secret:     testSecret,
		MaxPerHour: 2,
		Now:        func() time.Time { return now },
	})
	if err != nil {
		t.Fatal(err)
	}
	creds := Credentials{EmergencyKey: testSecret, EmergencyReason: "stroke alert", IPAddress: "10.1.1.1"}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, _, err := s.Attempt(ctx, creds); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if _, _, err := s.Attempt(ctx, creds); KindOf(err) != KindForbidden {
		t.Fatalf("third attempt kind = %s, want FORBIDDEN", KindOf(err))
	}

	// one token refills every 30m at two per hour
	now = now.Add(31 * time.Minute)
	if _, _, err := s.Attempt(ctx, creds); err != nil {
		t.Fatalf("attempt after refill: %v", err)
	}
	if _, _, err := s.Attempt(ctx, creds); KindOf(err) != KindForbidden {
		t.Errorf("second attempt after refill kind = %s, want FORBIDDEN", KindOf(err))
	}

	// idle entries are dropped on the next cleanup pass
	now = now.Add(3 * time.Hour)
	if !s.limiter.Allow("10.9.9.9") {
		t.Fatal("fresh address was limited")
	}
	s.limiter.mu.Lock()
	_, kept := s.limiter.limiters["10.1.1.1"]
	s.limiter.mu.Unlock()
	if kept {
		t.Error("idle limiter entry survived cleanup")
	}
}

func TestDemoStrategy(t *testing.T) {
	t.Parallel()
	rec := &audit.Recorder{}
	s := NewDemoStrategy(DemoConfig{Audit: rec, Now: fixedClock(testNow)})
	ctx := context.Background()

	p, handled, err := s.Attempt(ctx, Credentials{Token: demoToken(t, "demo-alice")})
	if !handled || err != nil {
		t.Fatalf("Attempt() = %v, %v", handled, err)
	}
	if p.ID != "demo-alice" || p.AuthMethod != MethodDemo || p.Verified {
		t.Errorf("principal = %+v", p)
	}
	if ev := rec.OfType(audit.EventTypeDemoToken); len(ev) != 1 || ev[0].Severity != audit.SeverityWarning {
		t.Errorf("want one warning demo audit event, got %d", len(ev))
	}

	declined := []string{
		"",
		"garbage",
		demoToken(t, "alice"),
		tokenExpiringAt(t, testSecret, testNow.Add(time.Hour)),
	}
	for _, tok := range declined {
		if _, handled, _ := s.Attempt(ctx, Credentials{Token: tok}); handled {
			t.Errorf("token %q should be declined", tok)
		}
	}
}
