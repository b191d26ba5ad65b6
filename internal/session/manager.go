// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/tomtom215/carelink/internal/audit"
	"github.com/tomtom215/carelink/internal/auth"
	"github.com/tomtom215/carelink/internal/logging"
	"github.com/tomtom215/carelink/internal/metrics"
)

// Config holds session lifetime settings.
type Config struct {
	// Timeout is the session lifetime granted at creation and on renewal.
	Timeout time.Duration
	// InactivityTimeout ends a session that has been idle this long.
	// Defaults to Timeout.
	InactivityTimeout time.Duration
	// RenewThreshold: validation renews a session expiring within it.
	RenewThreshold time.Duration
	// WarningThreshold: sessions expiring within it get an expiry warning.
	WarningThreshold time.Duration
	// ExpiredRetention keeps expired sessions in the store long enough to
	// be reported as expired instead of not found.
	ExpiredRetention time.Duration
	// MaxConcurrent caps live sessions per user.
	MaxConcurrent int
	// MaxRenewals caps renewals per session. Zero means unlimited.
	MaxRenewals int

	Audit audit.Sink
	Now   func() time.Time
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:          30 * time.Minute,
		RenewThreshold:   5 * time.Minute,
		WarningThreshold: 5 * time.Minute,
		ExpiredRetention: 10 * time.Minute,
		MaxConcurrent:    3,
	}
}

// Warning is an expiry warning surfaced to clients.
type Warning string

const (
	WarningNone            Warning = ""
	WarningRenewalRequired Warning = "renewal-required"
	WarningExpiringSoon    Warning = "expiring-soon"
)

// Manager owns the session lifecycle. It is the only writer to its Store.
type Manager struct {
	store    Store
	cfg      Config
	sink     audit.Sink
	security *logging.SecurityLogger
	now      func() time.Time
}

// NewManager creates a manager over store.
func NewManager(store Store, cfg Config) (*Manager, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.Timeout <= 0 {
		return nil, errors.New("session timeout must be positive")
	}
	if cfg.MaxConcurrent < 1 {
		return nil, errors.New("max concurrent sessions must be at least 1")
	}
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = cfg.Timeout
	}
	sink := cfg.Audit
	if sink == nil {
		sink = audit.Discard
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		store:    store,
		cfg:      cfg,
		sink:     sink,
		security: logging.NewSecurityLogger(),
		now:      now,
	}, nil
}

// Store returns the backing store.
func (m *Manager) Store() Store { return m.store }

// Timeout returns the configured session lifetime.
func (m *Manager) Timeout() time.Duration { return m.cfg.Timeout }

// Outcome reports what EstablishOrValidate did. Created and Renewed
// sessions have a new deadline the client must learn about.
type Outcome int

const (
	OutcomeValidated Outcome = iota
	OutcomeCreated
	OutcomeRenewed
)

// NewDeadline reports whether the session's ExpiresAt was (re)set.
func (o Outcome) NewDeadline() bool {
	return o == OutcomeCreated || o == OutcomeRenewed
}

// EstablishOrValidate validates the presented session, or creates one when
// none is presented.
func (m *Manager) EstablishOrValidate(ctx context.Context, p *auth.Principal, sessionID string, info RequestInfo) (*Session, Outcome, error) {
	if sessionID == "" {
		s, err := m.Create(ctx, p, info)
		return s, OutcomeCreated, err
	}
	s, renewed, err := m.validate(ctx, sessionID, p.ID, info)
	if renewed {
		return s, OutcomeRenewed, err
	}
	return s, OutcomeValidated, err
}

// Create starts a session for p and enforces the per-user cap in the same
// critical section.
func (m *Manager) Create(ctx context.Context, p *auth.Principal, info RequestInfo) (*Session, error) {
	if p == nil || p.ID == "" {
		return nil, auth.NewError(auth.KindAuthRequired, "authentication required")
	}
	id, err := newSessionID()
	if err != nil {
		return nil, auth.WrapError(auth.KindInternal, "could not create session", err)
	}

	unlock, err := m.store.Lock(ctx, userLockKey(p.ID))
	if err != nil {
		return nil, m.storeError("lock", err)
	}
	defer unlock()

	now := m.now()
	snapshot := *p
	s := &Session{
		ID:             id,
		UserID:         p.ID,
		Role:           p.Role,
		Email:          p.Email,
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(m.cfg.Timeout),
		IPAddress:      info.IPAddress,
		UserAgent:      info.UserAgent,
		AuthMethod:     p.AuthMethod,
		AccessCount:    1,
		Principal:      &snapshot,
	}
	s = s.Clone()

	if err := m.store.Save(ctx, s, m.storeTTL(s, now)); err != nil {
		return nil, m.storeError("save", err)
	}
	metrics.RecordSessionOp("created")
	m.security.LogEvent(ctx, &logging.SecurityEvent{
		Event:      "session_created",
		UserID:     s.UserID,
		SessionID:  s.ID,
		AuthMethod: string(s.AuthMethod),
		IPAddress:  s.IPAddress,
		UserAgent:  s.UserAgent,
		Success:    true,
	})
	m.audit(ctx, s, audit.EventTypeSessionCreated, audit.SeverityInfo, "create", "")

	if _, err := m.manageConcurrentLocked(ctx, p.ID, s.ID, now); err != nil {
		// the cap could not be enforced; do not leave an extra session behind
		_ = m.store.Delete(context.WithoutCancel(ctx), s.UserID, s.ID)
		return nil, err
	}
	return s, nil
}

// Validate checks session id for userID, renews it inside the renew
// window and records the access. An empty userID skips the owner check.
func (m *Manager) Validate(ctx context.Context, id, userID string, info RequestInfo) (*Session, error) {
	s, _, err := m.validate(ctx, id, userID, info)
	return s, err
}

func (m *Manager) validate(ctx context.Context, id, userID string, info RequestInfo) (_ *Session, renewed bool, _ error) {
	if !ValidID(id) {
		return nil, false, auth.NewError(auth.KindSessionNotFound, "session not found")
	}

	unlock, err := m.store.Lock(ctx, sessionLockKey(id))
	if err != nil {
		return nil, false, m.storeError("lock", err)
	}
	defer unlock()

	s, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, false, auth.NewError(auth.KindSessionNotFound, "session not found")
	}
	if err != nil {
		return nil, false, m.storeError("get", err)
	}
	if userID != "" && s.UserID != userID {
		m.security.LogEvent(ctx, &logging.SecurityEvent{
			Event:     "session_owner_mismatch",
			UserID:    userID,
			SessionID: id,
			IPAddress: info.IPAddress,
			Success:   false,
			Error:     "session belongs to another user",
		})
		return nil, false, auth.NewError(auth.KindSessionNotFound, "session not found")
	}

	now := m.now()
	if now.After(s.ExpiresAt) {
		m.end(ctx, s, "expired", audit.EventTypeSessionExpired, "session expired")
		return nil, false, auth.NewError(auth.KindSessionExpired, "session expired")
	}
	if now.Sub(s.LastActivityAt) > m.cfg.InactivityTimeout {
		m.end(ctx, s, "inactive", audit.EventTypeSessionInactive, "session inactive")
		return nil, false, auth.NewError(auth.KindSessionInactive, "session ended after inactivity")
	}

	if info.IPAddress != "" && s.IPAddress != "" && info.IPAddress != s.IPAddress {
		m.flag(ctx, s, FlagMultipleLocations, info, "client IP changed")
	}
	if info.UserAgent != "" && s.UserAgent != "" && info.UserAgent != s.UserAgent {
		m.flag(ctx, s, FlagSuspiciousActivity, info, "user agent changed")
	}

	if s.ExpiresAt.Sub(now) <= m.cfg.RenewThreshold {
		if m.cfg.MaxRenewals == 0 || s.RenewalCount < m.cfg.MaxRenewals {
			s.ExpiresAt = now.Add(m.cfg.Timeout)
			s.RenewalCount++
			renewed = true
			s.ClearFlag(FlagRequiresRenewal)
			metrics.RecordSessionOp("renewed")
			m.audit(ctx, s, audit.EventTypeSessionRenewed, audit.SeverityInfo, "renew",
				"renewal "+strconv.Itoa(s.RenewalCount))
		} else if s.SetFlag(FlagRequiresRenewal) {
			metrics.SessionSecurityFlags.WithLabelValues(string(FlagRequiresRenewal)).Inc()
			logging.Ctx(ctx).Info().
				Str("session_id", logging.SanitizeSessionID(s.ID)).
				Int("renewals", s.RenewalCount).
				Msg("Session renewal limit reached")
		}
	}

	s.LastActivityAt = now
	s.AccessCount++

	if err := m.store.Update(ctx, s, m.storeTTL(s, now)); err != nil {
		if errors.Is(err, ErrNotFound) {
			// evicted or destroyed while we held the session lock
			return nil, false, auth.NewError(auth.KindSessionNotFound, "session not found")
		}
		return nil, false, m.storeError("update", err)
	}
	metrics.RecordSessionOp("validated")
	return s, renewed, nil
}

// ManageConcurrentSessions prunes userID's index and evicts the oldest
// live sessions until at most MaxConcurrent remain. It returns the number
// evicted.
func (m *Manager) ManageConcurrentSessions(ctx context.Context, userID string) (int, error) {
	unlock, err := m.store.Lock(ctx, userLockKey(userID))
	if err != nil {
		return 0, m.storeError("lock", err)
	}
	defer unlock()
	return m.manageConcurrentLocked(ctx, userID, "", m.now())
}

// manageConcurrentLocked requires the user lock. keep, when set, is the
// session just created for the user; it is never evicted.
func (m *Manager) manageConcurrentLocked(ctx context.Context, userID, keep string, now time.Time) (int, error) {
	entries, err := m.store.ListIndex(ctx, userID)
	if err != nil {
		return 0, m.storeError("list", err)
	}

	live := make([]*Session, 0, len(entries))
	for _, e := range entries {
		s, err := m.store.Get(ctx, e.SessionID)
		if errors.Is(err, ErrNotFound) {
			if err := m.store.RemoveFromIndex(ctx, userID, e.SessionID); err != nil {
				return 0, m.storeError("prune", err)
			}
			continue
		}
		if err != nil {
			return 0, m.storeError("get", err)
		}
		if s.UserID != userID {
			if err := m.store.RemoveFromIndex(ctx, userID, e.SessionID); err != nil {
				return 0, m.storeError("prune", err)
			}
			continue
		}
		if !m.isLive(s, now) {
			// left for Validate or the sweeper to report; not counted
			continue
		}
		live = append(live, s)
	}

	// oldest first; the kept session only counts toward the cap
	candidates := make([]*Session, 0, len(live))
	for _, s := range live {
		if s.ID != keep {
			candidates = append(candidates, s)
		}
	}
	evicted := 0
	for remaining := len(live); remaining > m.cfg.MaxConcurrent && len(candidates) > 0; remaining-- {
		oldest := candidates[0]
		candidates = candidates[1:]
		if err := m.store.Delete(ctx, oldest.UserID, oldest.ID); err != nil {
			return evicted, m.storeError("evict", err)
		}
		evicted++
		metrics.RecordSessionOp("evicted")
		m.security.LogEvent(ctx, &logging.SecurityEvent{
			Event:     "session_evicted",
			UserID:    oldest.UserID,
			SessionID: oldest.ID,
			Success:   true,
			Details:   map[string]string{"max_concurrent": strconv.Itoa(m.cfg.MaxConcurrent)},
		})
		m.audit(ctx, oldest, audit.EventTypeSessionEvicted, audit.SeverityInfo, "evict",
			"concurrent session limit reached")
	}
	return evicted, nil
}

// Destroy ends session id (logout). A missing session is not an error.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	if !ValidID(id) {
		return nil
	}
	unlock, err := m.store.Lock(ctx, sessionLockKey(id))
	if err != nil {
		return m.storeError("lock", err)
	}
	defer unlock()

	s, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return m.storeError("get", err)
	}
	if err := m.store.Delete(ctx, s.UserID, s.ID); err != nil {
		return m.storeError("delete", err)
	}
	metrics.RecordSessionOp("destroyed")
	m.security.LogEvent(ctx, &logging.SecurityEvent{
		Event:     "session_destroyed",
		UserID:    s.UserID,
		SessionID: s.ID,
		Success:   true,
	})
	m.audit(ctx, s, audit.EventTypeSessionDestroyed, audit.SeverityInfo, "logout", "")
	return nil
}

// Revoke ends session id on behalf of an administrator. It returns a
// SESSION_NOT_FOUND error when the session does not exist.
func (m *Manager) Revoke(ctx context.Context, admin *auth.Principal, id string) error {
	if !ValidID(id) {
		return auth.NewError(auth.KindSessionNotFound, "session not found")
	}
	unlock, err := m.store.Lock(ctx, sessionLockKey(id))
	if err != nil {
		return m.storeError("lock", err)
	}
	defer unlock()

	s, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return auth.NewError(auth.KindSessionNotFound, "session not found")
	}
	if err != nil {
		return m.storeError("get", err)
	}
	if err := m.store.Delete(ctx, s.UserID, s.ID); err != nil {
		return m.storeError("delete", err)
	}
	metrics.RecordSessionOp("revoked")
	m.revoked(ctx, admin, s)
	return nil
}

// DestroyAllForUser ends every session of userID and returns how many
// existed. admin is nil when users log themselves out everywhere.
func (m *Manager) DestroyAllForUser(ctx context.Context, admin *auth.Principal, userID string) (int, error) {
	unlock, err := m.store.Lock(ctx, userLockKey(userID))
	if err != nil {
		return 0, m.storeError("lock", err)
	}
	defer unlock()

	entries, err := m.store.ListIndex(ctx, userID)
	if err != nil {
		return 0, m.storeError("list", err)
	}
	n := 0
	for _, e := range entries {
		s, err := m.store.Get(ctx, e.SessionID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return n, m.storeError("get", err)
		}
		if err := m.store.Delete(ctx, userID, e.SessionID); err != nil {
			return n, m.storeError("delete", err)
		}
		if s == nil {
			continue
		}
		n++
		if admin != nil {
			metrics.RecordSessionOp("revoked")
			m.revoked(ctx, admin, s)
			continue
		}
		metrics.RecordSessionOp("destroyed")
		m.audit(ctx, s, audit.EventTypeSessionDestroyed, audit.SeverityInfo, "logout_all", "")
	}
	logging.Ctx(ctx).Info().
		Str("user_id", logging.SanitizeUserID(userID)).
		Int("sessions", n).
		Bool("admin", admin != nil).
		Msg("Destroyed all sessions for user")
	return n, nil
}

// ListForUser returns userID's live sessions, oldest first.
func (m *Manager) ListForUser(ctx context.Context, userID string) ([]*Session, error) {
	entries, err := m.store.ListIndex(ctx, userID)
	if err != nil {
		return nil, m.storeError("list", err)
	}
	now := m.now()
	out := make([]*Session, 0, len(entries))
	for _, e := range entries {
		s, err := m.store.Get(ctx, e.SessionID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, m.storeError("get", err)
		}
		if s.UserID == userID && m.isLive(s, now) {
			out = append(out, s)
		}
	}
	return out, nil
}

// Sweep removes sessions that ended more than ExpiredRetention ago and
// returns how many it removed.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	now := m.now()
	kept := 0
	n, err := m.store.Sweep(ctx, func(s *Session) bool {
		if m.isStale(s, now) {
			return true
		}
		kept++
		return false
	})
	if err != nil {
		metrics.SessionStoreErrors.WithLabelValues(m.store.Name(), "sweep").Inc()
		return n, fmt.Errorf("sweep sessions: %w", err)
	}
	if n > 0 {
		metrics.SessionOperations.WithLabelValues("swept").Add(float64(n))
	}
	metrics.SessionsLive.Set(float64(kept))
	return n, nil
}

// ExpiryWarning reports whether s should carry an expiry warning.
func (m *Manager) ExpiryWarning(s *Session) Warning {
	if s.HasFlag(FlagRequiresRenewal) {
		return WarningRenewalRequired
	}
	if s.ExpiresAt.Sub(m.now()) <= m.cfg.WarningThreshold {
		return WarningExpiringSoon
	}
	return WarningNone
}

func (m *Manager) isLive(s *Session, now time.Time) bool {
	return !now.After(s.ExpiresAt) && now.Sub(s.LastActivityAt) <= m.cfg.InactivityTimeout
}

// isStale reports whether s ended more than ExpiredRetention ago.
func (m *Manager) isStale(s *Session, now time.Time) bool {
	end := s.ExpiresAt
	if idle := s.LastActivityAt.Add(m.cfg.InactivityTimeout); idle.Before(end) {
		end = idle
	}
	return now.Sub(end) > m.cfg.ExpiredRetention
}

// storeTTL keeps the record until ExpiredRetention after expiry.
func (m *Manager) storeTTL(s *Session, now time.Time) time.Duration {
	ttl := s.ExpiresAt.Sub(now) + m.cfg.ExpiredRetention
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

// end deletes a session that failed validation.
func (m *Manager) end(ctx context.Context, s *Session, op string, t audit.EventType, desc string) {
	if err := m.store.Delete(ctx, s.UserID, s.ID); err != nil {
		metrics.SessionStoreErrors.WithLabelValues(m.store.Name(), "delete").Inc()
		logging.Ctx(ctx).Warn().Err(err).
			Str("session_id", logging.SanitizeSessionID(s.ID)).
			Msg("Failed to delete ended session")
	}
	metrics.RecordSessionOp(op)
	m.security.LogEvent(ctx, &logging.SecurityEvent{
		Event:     "session_" + op,
		UserID:    s.UserID,
		SessionID: s.ID,
		Success:   false,
		Error:     desc,
	})
	m.audit(ctx, s, t, audit.SeverityInfo, op, desc)
}

// flag records a fail-open anomaly. The session stays valid.
func (m *Manager) flag(ctx context.Context, s *Session, f Flag, info RequestInfo, desc string) {
	if !s.SetFlag(f) {
		return
	}
	metrics.SessionSecurityFlags.WithLabelValues(string(f)).Inc()
	m.security.LogEvent(ctx, &logging.SecurityEvent{
		Event:     "session_flagged",
		UserID:    s.UserID,
		SessionID: s.ID,
		IPAddress: info.IPAddress,
		UserAgent: info.UserAgent,
		Success:   false,
		Error:     desc,
		Details:   map[string]string{"flag": string(f)},
	})
	e := m.event(ctx, s, audit.EventTypeSessionFlagged, audit.SeverityWarning, "flag", desc)
	e.Source = audit.Source{IPAddress: info.IPAddress, UserAgent: info.UserAgent}
	m.sink.Log(e)
}

func (m *Manager) revoked(ctx context.Context, admin *auth.Principal, s *Session) {
	actor := audit.Actor{ID: "system", Type: "system"}
	if admin != nil {
		actor = audit.Actor{ID: admin.ID, Type: "user", Role: string(admin.Role), AuthMethod: string(admin.AuthMethod)}
	}
	m.security.LogEvent(ctx, &logging.SecurityEvent{
		Event:     "session_revoked",
		UserID:    s.UserID,
		SessionID: s.ID,
		Success:   true,
		Details:   map[string]string{"revoked_by": actor.ID},
	})
	e := m.event(ctx, s, audit.EventTypeSessionRevoked, audit.SeverityWarning, "revoke", "revoked by administrator")
	e.Actor = actor
	m.sink.Log(e)
}

func (m *Manager) audit(ctx context.Context, s *Session, t audit.EventType, sev audit.Severity, action, desc string) {
	m.sink.Log(m.event(ctx, s, t, sev, action, desc))
}

func (m *Manager) event(ctx context.Context, s *Session, t audit.EventType, sev audit.Severity, action, desc string) *audit.Event {
	return &audit.Event{
		Type:     t,
		Severity: sev,
		Outcome:  audit.OutcomeSuccess,
		Actor: audit.Actor{
			ID:         s.UserID,
			Type:       "user",
			Role:       string(s.Role),
			SessionID:  s.ID,
			AuthMethod: string(s.AuthMethod),
		},
		Target:      &audit.Target{ID: s.ID, Type: "session"},
		Source:      audit.Source{IPAddress: s.IPAddress, UserAgent: s.UserAgent},
		Action:      action,
		Description: desc,
		RequestID:   logging.RequestIDFromContext(ctx),
	}
}

func (m *Manager) storeError(op string, err error) error {
	metrics.SessionStoreErrors.WithLabelValues(m.store.Name(), op).Inc()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return auth.WrapError(auth.KindInternal, "request canceled", err)
	}
	return auth.WrapError(auth.KindInternal, "session store unavailable", err)
}

func userLockKey(userID string) string { return "user:" + userID }
func sessionLockKey(id string) string { return "session:" + id }
