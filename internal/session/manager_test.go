// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/carelink/internal/audit"
	"github.com/tomtom215/carelink/internal/auth"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var (
	alice = &auth.Principal{ID: "user-alice", Email: "alice@clinic.test", Role: auth.RolePatient, AuthMethod: auth.MethodPrimary}
	bob   = &auth.Principal{ID: "user-bob", Email: "bob@clinic.test", Role: auth.RoleProvider, AuthMethod: auth.MethodSecondary}
	admin = &auth.Principal{ID: "user-admin", Email: "admin@clinic.test", Role: auth.RoleAdmin, AuthMethod: auth.MethodPrimary}

	laptop = RequestInfo{IPAddress: "203.0.113.10", UserAgent: "Mozilla/5.0 (laptop)"}
)

func newTestManager(t *testing.T, store Store, mutate func(*Config)) (*Manager, *testClock, *audit.Recorder) {
	t.Helper()
	clock := newTestClock()
	rec := &audit.Recorder{}
	cfg := DefaultConfig()
	cfg.Now = clock.Now
	cfg.Audit = rec
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := NewManager(store, cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m, clock, rec
}

func wantKind(t *testing.T, err error, kind auth.Kind) {
	t.Helper()
	if !auth.IsKind(err, kind) {
		t.Fatalf("error = %v, want kind %s", err, kind)
	}
}

func TestNewManager_Validation(t *testing.T) {
	tests := []struct {
		name  string
		store Store
		cfg   Config
	}{
		{"nil store", nil, DefaultConfig()},
		{"zero timeout", NewMemoryStore(), Config{MaxConcurrent: 1}},
		{"zero cap", NewMemoryStore(), Config{Timeout: time.Minute}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewManager(tt.store, tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestManager_CreateAndValidate(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			m, clock, rec := newTestManager(t, store, nil)
			start := clock.Now()

			s, outcome, err := m.EstablishOrValidate(ctx, alice, "", laptop)
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			if outcome != OutcomeCreated {
				t.Errorf("outcome = %v, want created", outcome)
			}
			if !ValidID(s.ID) {
				t.Errorf("session ID %q is not 64 hex chars", s.ID)
			}
			if s.AccessCount != 1 || !s.ExpiresAt.Equal(start.Add(30*time.Minute)) {
				t.Errorf("new session = %+v", s)
			}
			if s.Principal == nil || s.Principal.Email != alice.Email {
				t.Errorf("principal snapshot = %+v", s.Principal)
			}

			clock.Advance(time.Minute)
			v, outcome, err := m.EstablishOrValidate(ctx, alice, s.ID, laptop)
			if err != nil {
				t.Fatalf("validate: %v", err)
			}
			if outcome != OutcomeValidated || outcome.NewDeadline() {
				t.Errorf("outcome = %v, want validated", outcome)
			}
			if v.AccessCount != 2 {
				t.Errorf("AccessCount = %d, want 2", v.AccessCount)
			}
			if !v.LastActivityAt.Equal(clock.Now()) {
				t.Errorf("LastActivityAt = %v, want %v", v.LastActivityAt, clock.Now())
			}
			if !v.ExpiresAt.Equal(s.ExpiresAt) {
				t.Error("ExpiresAt changed outside the renew window")
			}
			if len(rec.OfType(audit.EventTypeSessionCreated)) != 1 {
				t.Error("missing session.created audit event")
			}
		})
	}
}

func TestManager_RenewalExtendsExpiry(t *testing.T) {
	ctx := context.Background()
	m, clock, rec := newTestManager(t, NewMemoryStore(), nil)

	s, err := m.Create(ctx, alice, laptop)
	if err != nil {
		t.Fatal(err)
	}
	before := s.ExpiresAt

	clock.Advance(26 * time.Minute) // 4m left, inside the 5m window
	v, outcome, err := m.EstablishOrValidate(ctx, alice, s.ID, laptop)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if outcome != OutcomeRenewed || !outcome.NewDeadline() {
		t.Errorf("outcome = %v, want renewed", outcome)
	}
	if !v.ExpiresAt.After(before) {
		t.Fatalf("ExpiresAt %v not after %v", v.ExpiresAt, before)
	}
	if !v.ExpiresAt.Equal(v.LastActivityAt.Add(30 * time.Minute)) {
		t.Errorf("ExpiresAt = %v, want LastActivityAt + timeout", v.ExpiresAt)
	}
	if v.RenewalCount != 1 {
		t.Errorf("RenewalCount = %d, want 1", v.RenewalCount)
	}
	if len(rec.OfType(audit.EventTypeSessionRenewed)) != 1 {
		t.Error("missing session.renewed audit event")
	}
}

func TestManager_RenewalLimit(t *testing.T) {
	ctx := context.Background()
	m, clock, _ := newTestManager(t, NewMemoryStore(), func(c *Config) { c.MaxRenewals = 1 })

	s, err := m.Create(ctx, alice, laptop)
	if err != nil {
		t.Fatal(err)
	}
	clock.Advance(26 * time.Minute)
	if s, err = m.Validate(ctx, s.ID, alice.ID, laptop); err != nil {
		t.Fatal(err)
	}

	clock.Advance(26 * time.Minute)
	v, err := m.Validate(ctx, s.ID, alice.ID, laptop)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !v.ExpiresAt.Equal(s.ExpiresAt) {
		t.Error("session renewed past the renewal limit")
	}
	if !v.HasFlag(FlagRequiresRenewal) {
		t.Error("requiresRenewal flag not set")
	}
	if w := m.ExpiryWarning(v); w != WarningRenewalRequired {
		t.Errorf("ExpiryWarning = %q, want %q", w, WarningRenewalRequired)
	}

	clock.Advance(5 * time.Minute)
	_, err = m.Validate(ctx, s.ID, alice.ID, laptop)
	wantKind(t, err, auth.KindSessionExpired)
}

func TestManager_InactivityBeforeExpiry(t *testing.T) {
	ctx := context.Background()
	m, clock, rec := newTestManager(t, NewMemoryStore(), func(c *Config) { c.InactivityTimeout = 10 * time.Minute })

	s, err := m.Create(ctx, alice, laptop)
	if err != nil {
		t.Fatal(err)
	}
	clock.Advance(11 * time.Minute)
	if !clock.Now().Before(s.ExpiresAt) {
		t.Fatal("test setup: session already expired")
	}

	_, err = m.Validate(ctx, s.ID, alice.ID, laptop)
	wantKind(t, err, auth.KindSessionInactive)
	if len(rec.OfType(audit.EventTypeSessionInactive)) != 1 {
		t.Error("missing session.inactive audit event")
	}

	_, err = m.Validate(ctx, s.ID, alice.ID, laptop)
	wantKind(t, err, auth.KindSessionNotFound)
}

func TestManager_Expired(t *testing.T) {
	ctx := context.Background()
	m, clock, _ := newTestManager(t, NewMemoryStore(), func(c *Config) { c.InactivityTimeout = time.Hour })

	s, err := m.Create(ctx, alice, laptop)
	if err != nil {
		t.Fatal(err)
	}
	clock.Advance(31 * time.Minute)

	_, err = m.Validate(ctx, s.ID, alice.ID, laptop)
	wantKind(t, err, auth.KindSessionExpired)
	if !auth.KindSessionExpired.ClearsSession() {
		t.Error("expired sessions must clear the client credential")
	}
}

func TestManager_ValidateNotFound(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t, NewMemoryStore(), nil)

	s, err := m.Create(ctx, alice, laptop)
	if err != nil {
		t.Fatal(err)
	}
	unknown, _ := newSessionID()

	tests := []struct {
		name   string
		id     string
		userID string
	}{
		{"malformed id", "not-a-session", alice.ID},
		{"unknown id", unknown, alice.ID},
		{"another user's session", s.ID, bob.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Validate(ctx, tt.id, tt.userID, laptop)
			wantKind(t, err, auth.KindSessionNotFound)
		})
	}

	// the owner can still use it
	if _, err := m.Validate(ctx, s.ID, alice.ID, laptop); err != nil {
		t.Errorf("owner validation after mismatch: %v", err)
	}
}

func TestManager_FlagsAreFailOpen(t *testing.T) {
	ctx := context.Background()
	m, _, rec := newTestManager(t, NewMemoryStore(), nil)

	s, err := m.Create(ctx, alice, laptop)
	if err != nil {
		t.Fatal(err)
	}

	phone := RequestInfo{IPAddress: "198.51.100.7", UserAgent: "CareLinkApp/2.1 (iOS)"}
	v, err := m.Validate(ctx, s.ID, alice.ID, phone)
	if err != nil {
		t.Fatalf("mismatch must not reject: %v", err)
	}
	if !v.HasFlag(FlagMultipleLocations) || !v.HasFlag(FlagSuspiciousActivity) {
		t.Errorf("flags = %v", v.SecurityFlags)
	}

	// flags persist and are audited once
	v, err = m.Validate(ctx, s.ID, alice.ID, phone)
	if err != nil {
		t.Fatal(err)
	}
	if len(v.SecurityFlags) != 2 {
		t.Errorf("flags = %v, want 2", v.SecurityFlags)
	}
	flagged := rec.OfType(audit.EventTypeSessionFlagged)
	if len(flagged) != 2 {
		t.Fatalf("flag audit events = %d, want 2", len(flagged))
	}
	if flagged[0].Severity != audit.SeverityWarning || flagged[0].Source.IPAddress != phone.IPAddress {
		t.Errorf("flag event = %+v", flagged[0])
	}
}

func TestManager_ConcurrentCreatesAtCapMinusOne(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			m, clock, rec := newTestManager(t, store, func(c *Config) { c.MaxConcurrent = 3 })

			first, err := m.Create(ctx, alice, laptop)
			if err != nil {
				t.Fatal(err)
			}
			clock.Advance(time.Second)
			if _, err := m.Create(ctx, alice, laptop); err != nil {
				t.Fatal(err)
			}
			clock.Advance(time.Second)

			var wg sync.WaitGroup
			for i := 0; i < 2; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := m.Create(ctx, alice, laptop); err != nil {
						t.Errorf("concurrent Create: %v", err)
					}
				}()
			}
			wg.Wait()

			live, err := m.ListForUser(ctx, alice.ID)
			if err != nil {
				t.Fatal(err)
			}
			if len(live) != 3 {
				t.Errorf("live sessions = %d, want 3", len(live))
			}
			evicted := rec.OfType(audit.EventTypeSessionEvicted)
			if len(evicted) != 1 {
				t.Fatalf("evictions = %d, want exactly 1", len(evicted))
			}
			if evicted[0].Target.ID != first.ID {
				t.Error("eviction did not pick the oldest session")
			}
		})
	}
}

func TestManager_CreateAtCapEvictsOne(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			m, clock, rec := newTestManager(t, store, func(c *Config) { c.MaxConcurrent = 2 })

			var ids []string
			for i := 0; i < 5; i++ {
				s, err := m.Create(ctx, alice, laptop)
				if err != nil {
					t.Fatal(err)
				}
				ids = append(ids, s.ID)
				clock.Advance(time.Second)

				wantEvicted := i - 1
				if wantEvicted < 0 {
					wantEvicted = 0
				}
				if got := len(rec.OfType(audit.EventTypeSessionEvicted)); got != wantEvicted {
					t.Fatalf("after create %d: evictions = %d, want %d", i+1, got, wantEvicted)
				}
			}

			live, err := m.ListForUser(ctx, alice.ID)
			if err != nil {
				t.Fatal(err)
			}
			if len(live) != 2 || live[0].ID != ids[3] || live[1].ID != ids[4] {
				t.Errorf("live = %v, want the two newest", live)
			}
			_, err = m.Validate(ctx, ids[0], alice.ID, laptop)
			wantKind(t, err, auth.KindSessionNotFound)
		})
	}
}

func TestManager_CreateSameInstantKeepsNewSession(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			// the clock never moves, so every session shares CreatedAt and
			// index order falls back to the random session ID
			m, _, rec := newTestManager(t, store, func(c *Config) { c.MaxConcurrent = 1 })

			for i := 0; i < 20; i++ {
				p := &auth.Principal{ID: fmt.Sprintf("user-%02d", i), Role: auth.RolePatient, AuthMethod: auth.MethodPrimary}
				first, err := m.Create(ctx, p, laptop)
				if err != nil {
					t.Fatal(err)
				}
				second, err := m.Create(ctx, p, laptop)
				if err != nil {
					t.Fatal(err)
				}
				if _, err := m.Validate(ctx, second.ID, p.ID, laptop); err != nil {
					t.Fatalf("%s: returned session was evicted: %v", p.ID, err)
				}
				_, err = m.Validate(ctx, first.ID, p.ID, laptop)
				wantKind(t, err, auth.KindSessionNotFound)
			}
			if got := len(rec.OfType(audit.EventTypeSessionEvicted)); got != 20 {
				t.Errorf("evictions = %d, want 20", got)
			}
		})
	}
}

func TestManager_CapWithOverlappingUserIDs(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			m, clock, _ := newTestManager(t, store, func(c *Config) { c.MaxConcurrent = 1 })
			org := &auth.Principal{ID: "org", Role: auth.RoleProvider, AuthMethod: auth.MethodPrimary}
			member := &auth.Principal{ID: "org:alice", Role: auth.RolePatient, AuthMethod: auth.MethodPrimary}

			old, err := m.Create(ctx, member, laptop)
			if err != nil {
				t.Fatal(err)
			}
			clock.Advance(time.Second)
			if _, err := m.Create(ctx, org, laptop); err != nil {
				t.Fatal(err)
			}
			clock.Advance(time.Second)
			current, err := m.Create(ctx, member, laptop)
			if err != nil {
				t.Fatal(err)
			}

			_, err = m.Validate(ctx, old.ID, member.ID, laptop)
			wantKind(t, err, auth.KindSessionNotFound)
			if _, err := m.Validate(ctx, current.ID, member.ID, laptop); err != nil {
				t.Fatalf("current session: %v", err)
			}
			for _, p := range []*auth.Principal{org, member} {
				live, err := m.ListForUser(ctx, p.ID)
				if err != nil {
					t.Fatal(err)
				}
				if len(live) != 1 {
					t.Errorf("%s holds %d live sessions, want 1", p.ID, len(live))
				}
			}
		})
	}
}

func TestManager_ManageConcurrentPrunesDeadEntries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m, clock, rec := newTestManager(t, store, func(c *Config) {
		c.MaxConcurrent = 2
		c.InactivityTimeout = 10 * time.Minute
	})

	idle, err := m.Create(ctx, alice, laptop)
	if err != nil {
		t.Fatal(err)
	}
	clock.Advance(11 * time.Minute)

	// the idle session does not count toward the cap
	for i := 0; i < 2; i++ {
		if _, err := m.Create(ctx, alice, laptop); err != nil {
			t.Fatal(err)
		}
	}
	if n := len(rec.OfType(audit.EventTypeSessionEvicted)); n != 0 {
		t.Errorf("evictions = %d, want 0", n)
	}

	// drop the record but leave its index entry dangling
	store.mu.Lock()
	delete(store.sessions, idle.ID)
	store.mu.Unlock()

	n, err := m.ManageConcurrentSessions(ctx, alice.ID)
	if err != nil || n != 0 {
		t.Fatalf("ManageConcurrentSessions = %d, %v", n, err)
	}
	entries, _ := store.ListIndex(ctx, alice.ID)
	if len(entries) != 2 {
		t.Errorf("index entries = %d, want 2", len(entries))
	}
}

func TestManager_DestroyAndRevoke(t *testing.T) {
	ctx := context.Background()
	m, _, rec := newTestManager(t, NewMemoryStore(), nil)

	s1, _ := m.Create(ctx, alice, laptop)
	s2, _ := m.Create(ctx, alice, laptop)
	s3, _ := m.Create(ctx, bob, laptop)

	if err := m.Destroy(ctx, s1.ID); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if err := m.Destroy(ctx, s1.ID); err != nil {
		t.Errorf("Destroy of a missing session: %v", err)
	}
	_, err := m.Validate(ctx, s1.ID, alice.ID, laptop)
	wantKind(t, err, auth.KindSessionNotFound)

	if err := m.Revoke(ctx, admin, s3.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	wantKind(t, m.Revoke(ctx, admin, s3.ID), auth.KindSessionNotFound)
	revoked := rec.OfType(audit.EventTypeSessionRevoked)
	if len(revoked) != 1 || revoked[0].Actor.ID != admin.ID || revoked[0].Target.ID != s3.ID {
		t.Errorf("revoke events = %+v", revoked)
	}

	n, err := m.DestroyAllForUser(ctx, nil, alice.ID)
	if err != nil || n != 1 {
		t.Fatalf("DestroyAllForUser = %d, %v; want 1", n, err)
	}
	_, err = m.Validate(ctx, s2.ID, alice.ID, laptop)
	wantKind(t, err, auth.KindSessionNotFound)
	if live, _ := m.ListForUser(ctx, alice.ID); len(live) != 0 {
		t.Errorf("sessions left after logout everywhere: %d", len(live))
	}
}

func TestManager_Sweep(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			m, clock, _ := newTestManager(t, store, nil)

			old, err := m.Create(ctx, alice, laptop)
			if err != nil {
				t.Fatal(err)
			}
			clock.Advance(35 * time.Minute) // expired, still within retention
			if n, _ := m.Sweep(ctx); n != 0 {
				t.Errorf("Sweep inside retention removed %d", n)
			}

			fresh, err := m.Create(ctx, bob, laptop)
			if err != nil {
				t.Fatal(err)
			}
			clock.Advance(10 * time.Minute) // old is past retention, fresh is live
			n, err := m.Sweep(ctx)
			if err != nil {
				t.Fatalf("Sweep: %v", err)
			}
			if n != 1 {
				t.Errorf("Sweep removed %d, want 1", n)
			}
			if _, err := store.Get(ctx, old.ID); !errors.Is(err, ErrNotFound) {
				t.Errorf("old session still stored: %v", err)
			}
			if _, err := store.Get(ctx, fresh.ID); err != nil {
				t.Errorf("fresh session swept: %v", err)
			}
		})
	}
}

func TestManager_ExpiryWarning(t *testing.T) {
	m, clock, _ := newTestManager(t, NewMemoryStore(), nil)
	now := clock.Now()

	tests := []struct {
		name string
		s    *Session
		want Warning
	}{
		{"plenty of time", &Session{ExpiresAt: now.Add(20 * time.Minute)}, WarningNone},
		{"expiring soon", &Session{ExpiresAt: now.Add(2 * time.Minute)}, WarningExpiringSoon},
		{"renewal required", &Session{ExpiresAt: now.Add(20 * time.Minute), SecurityFlags: []Flag{FlagRequiresRenewal}}, WarningRenewalRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.ExpiryWarning(tt.s); got != tt.want {
				t.Errorf("ExpiryWarning = %q, want %q", got, tt.want)
			}
		})
	}
}

// vanishingStore deletes the session between Get and Update, as a
// concurrent eviction would.
type vanishingStore struct {
	*MemoryStore
}

func (v vanishingStore) Get(ctx context.Context, id string) (*Session, error) {
	s, err := v.MemoryStore.Get(ctx, id)
	if err == nil {
		_ = v.MemoryStore.Delete(ctx, s.UserID, id)
	}
	return s, err
}

func TestManager_ValidateDoesNotResurrect(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	creator, _, _ := newTestManager(t, mem, nil)
	s, err := creator.Create(ctx, alice, laptop)
	if err != nil {
		t.Fatal(err)
	}

	m, _, _ := newTestManager(t, vanishingStore{mem}, nil)
	_, err = m.Validate(ctx, s.ID, alice.ID, laptop)
	wantKind(t, err, auth.KindSessionNotFound)
	if mem.Len() != 0 {
		t.Error("validated session was written back after deletion")
	}
}
