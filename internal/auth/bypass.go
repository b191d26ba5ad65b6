// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/tomtom215/carelink/internal/audit"
	"github.com/tomtom215/carelink/internal/logging"
	"github.com/tomtom215/carelink/internal/metrics"
)

// BypassStrategy is an alternative authentication path that runs before
// normal verification. Only enabled strategies are constructed.
//
// Attempt returns handled=false when the strategy does not apply to the
// credentials, letting the orchestrator continue. When handled is true the
// result (principal or error) is final.
type BypassStrategy interface {
	Name() string
	Attempt(ctx context.Context, creds Credentials) (p *Principal, handled bool, err error)
}

// EmergencyPrincipalID is the principal ID granted by emergency access.
const EmergencyPrincipalID = "emergency-access"

// EmergencyConfig configures EmergencyStrategy.
type EmergencyConfig struct {
	// Secret is compared in constant time. Ignored when SecretHash is set.
	Secret string
	// SecretHash is a bcrypt hash of the secret.
	SecretHash string
	// MaxPerHour limits attempts per client IP.
	MaxPerHour int
	Audit      audit.Sink
	Now        func() time.Time
}

// EmergencyStrategy grants an administrative principal to callers that
// present the server-held emergency secret and a reason. Every attempt is
// logged at error level and audited at critical severity.
type EmergencyStrategy struct {
	secret     []byte
	secretHash []byte
	limiter    *ipLimiter
	sink       audit.Sink
	security   *logging.SecurityLogger
	now        func() time.Time
}

// NewEmergencyStrategy creates the emergency access strategy.
func NewEmergencyStrategy(cfg EmergencyConfig) (*EmergencyStrategy, error) {
	if cfg.Secret == "" && cfg.SecretHash == "" {
		return nil, fmt.Errorf("emergency access requires a secret or secret hash")
	}
	if cfg.SecretHash != "" {
		if _, err := bcrypt.Cost([]byte(cfg.SecretHash)); err != nil {
			return nil, fmt.Errorf("invalid emergency secret hash: %w", err)
		}
	}
	if cfg.MaxPerHour <= 0 {
		cfg.MaxPerHour = 10
	}
	sink := cfg.Audit
	if sink == nil {
		sink = audit.Discard
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	s := &EmergencyStrategy{
		limiter:  newIPLimiter(cfg.MaxPerHour, time.Hour, now),
		sink:     sink,
		security: logging.NewSecurityLogger(),
		now:      now,
	}
	if cfg.SecretHash != "" {
		s.secretHash = []byte(cfg.SecretHash)
	} else {
		s.secret = []byte(cfg.Secret)
	}
	return s, nil
}

func (s *EmergencyStrategy) Name() string { return string(MethodEmergency) }

// Attempt implements BypassStrategy.
func (s *EmergencyStrategy) Attempt(ctx context.Context, creds Credentials) (*Principal, bool, error) {
	if creds.EmergencyKey == "" {
		return nil, false, nil
	}

	if !s.limiter.Allow(creds.IPAddress) {
		s.deny(ctx, creds, "rate_limited")
		return nil, true, NewError(KindForbidden, "emergency access rate limit exceeded")
	}
	if !s.matches(creds.EmergencyKey) {
		s.deny(ctx, creds, "denied")
		return nil, true, NewError(KindForbidden, "emergency access denied")
	}
	if strings.TrimSpace(creds.EmergencyReason) == "" {
		s.deny(ctx, creds, "missing_reason")
		return nil, true, NewError(KindForbidden, "emergency access requires a reason")
	}

	metrics.EmergencyAccess.WithLabelValues("granted").Inc()
	s.security.LogCritical(ctx, &logging.SecurityEvent{
		Event:      "emergency_access_granted",
		UserID:     EmergencyPrincipalID,
		AuthMethod: string(MethodEmergency),
		IPAddress:  creds.IPAddress,
		UserAgent:  creds.UserAgent,
		Success:    true,
		Details:    map[string]string{"reason": truncateReason(creds.EmergencyReason)},
	})
	s.sink.Log(&audit.Event{
		Type:        audit.EventTypeEmergencyAccess,
		Severity:    audit.SeverityCritical,
		Outcome:     audit.OutcomeSuccess,
		Actor:       audit.Actor{ID: EmergencyPrincipalID, Type: "user", Role: string(RoleAdmin), AuthMethod: string(MethodEmergency)},
		Source:      audit.Source{IPAddress: creds.IPAddress, UserAgent: creds.UserAgent},
		Action:      "emergency_access",
		Description: "emergency access granted",
		Metadata:    audit.MustJSON(map[string]string{"reason": truncateReason(creds.EmergencyReason)}),
		RequestID:   logging.RequestIDFromContext(ctx),
	})

	return &Principal{
		ID:         EmergencyPrincipalID,
		Email:      "",
		Role:       RoleAdmin,
		Metadata:   map[string]string{"reason": truncateReason(creds.EmergencyReason)},
		Verified:   false,
		CreatedAt:  s.now(),
		AuthMethod: MethodEmergency,
	}, true, nil
}

func (s *EmergencyStrategy) matches(key string) bool {
	if s.secretHash != nil {
		return bcrypt.CompareHashAndPassword(s.secretHash, []byte(key)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(key), s.secret) == 1
}

func (s *EmergencyStrategy) deny(ctx context.Context, creds Credentials, result string) {
	metrics.EmergencyAccess.WithLabelValues(result).Inc()
	s.security.LogCritical(ctx, &logging.SecurityEvent{
		Event:      "emergency_access_denied",
		AuthMethod: string(MethodEmergency),
		IPAddress:  creds.IPAddress,
		UserAgent:  creds.UserAgent,
		Success:    false,
		Error:      result,
	})
	s.sink.Log(&audit.Event{
		Type:        audit.EventTypeEmergencyDenied,
		Severity:    audit.SeverityCritical,
		Outcome:     audit.OutcomeFailure,
		Actor:       audit.Actor{ID: "anonymous", Type: "user"},
		Source:      audit.Source{IPAddress: creds.IPAddress, UserAgent: creds.UserAgent},
		Action:      "emergency_access",
		Description: "emergency access " + result,
		RequestID:   logging.RequestIDFromContext(ctx),
	})
}

func truncateReason(reason string) string {
	reason = strings.TrimSpace(reason)
	if len(reason) > 256 {
		return reason[:256]
	}
	return reason
}

// ipLimiter is a per-client-IP token bucket. Idle entries are dropped.
type ipLimiter struct {
	mu          sync.Mutex
	limiters    map[string]*ipLimiterEntry
	limit       rate.Limit
	burst       int
	lastCleanup time.Time
	now         func() time.Time
}

type ipLimiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

func newIPLimiter(perWindow int, window time.Duration, now func() time.Time) *ipLimiter {
	return &ipLimiter{
		limiters:    make(map[string]*ipLimiterEntry),
		limit:       rate.Every(window / time.Duration(perWindow)),
		burst:       perWindow,
		lastCleanup: now(),
		now:         now,
	}
}

func (l *ipLimiter) Allow(ip string) bool {
	now := l.now()
	l.mu.Lock()
	if now.Sub(l.lastCleanup) > 10*time.Minute {
		for k, e := range l.limiters {
			if now.Sub(e.lastAccess) > 2*time.Hour {
				delete(l.limiters, k)
			}
		}
		l.lastCleanup = now
	}
	entry, ok := l.limiters[ip]
	if !ok {
		entry = &ipLimiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastAccess = now
	limiter := entry.limiter
	l.mu.Unlock()
	return limiter.AllowN(now, 1)
}

// DemoConfig configures DemoStrategy.
type DemoConfig struct {
	// IDPrefix marks demo identities, e.g. "demo-".
	IDPrefix string
	Audit    audit.Sink
	Now      func() time.Time
}

// DemoStrategy accepts tokens WITHOUT verifying their signature when the
// embedded id carries the demo prefix. Development only.
type DemoStrategy struct {
	prefix string
	parser *jwt.Parser
	sink   audit.Sink
	now    func() time.Time
}

// NewDemoStrategy creates the demo token strategy.
func NewDemoStrategy(cfg DemoConfig) *DemoStrategy {
	prefix := cfg.IDPrefix
	if prefix == "" {
		prefix = "demo-"
	}
	sink := cfg.Audit
	if sink == nil {
		sink = audit.Discard
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &DemoStrategy{prefix: prefix, parser: jwt.NewParser(), sink: sink, now: now}
}

func (s *DemoStrategy) Name() string { return string(MethodDemo) }

// Attempt implements BypassStrategy. Tokens that are not demo tokens are
// declined so normal verification continues.
func (s *DemoStrategy) Attempt(ctx context.Context, creds Credentials) (*Principal, bool, error) {
	if creds.Token == "" {
		return nil, false, nil
	}
	claims := &LocalClaims{}
	if _, _, err := s.parser.ParseUnverified(creds.Token, claims); err != nil {
		return nil, false, nil
	}
	if !strings.HasPrefix(claims.UserID, s.prefix) || claims.Email == "" {
		return nil, false, nil
	}

	metrics.DemoTokensAccepted.Inc()
	logging.Warn().
		Str("user_id", logging.SanitizeUserID(claims.UserID)).
		Str("ip", creds.IPAddress).
		Msg("[DEMO MODE] Accepted unverified demo token")
	s.sink.Log(&audit.Event{
		Type:        audit.EventTypeDemoToken,
		Severity:    audit.SeverityWarning,
		Outcome:     audit.OutcomeSuccess,
		Actor:       audit.Actor{ID: claims.UserID, Type: "user", Role: claims.Role, AuthMethod: string(MethodDemo)},
		Source:      audit.Source{IPAddress: creds.IPAddress, UserAgent: creds.UserAgent},
		Action:      "authenticate",
		Description: "unverified demo token accepted",
		RequestID:   logging.RequestIDFromContext(ctx),
	})

	p := &Principal{
		ID:         claims.UserID,
		Email:      claims.Email,
		Role:       ParseRole(claims.Role),
		Metadata:   claims.Metadata,
		Verified:   false,
		CreatedAt:  s.now(),
		AuthMethod: MethodDemo,
	}
	if claims.ExpiresAt != nil {
		p.TokenExpiresAt = claims.ExpiresAt.Time
	}
	return p, true, nil
}
