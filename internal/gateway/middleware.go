// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package gateway

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/tomtom215/carelink/internal/audit"
	"github.com/tomtom215/carelink/internal/auth"
	"github.com/tomtom215/carelink/internal/logging"
	"github.com/tomtom215/carelink/internal/session"
)

// Default emergency access headers.
const (
	DefaultEmergencyKeyHeader    = "X-Emergency-Access"
	DefaultEmergencyReasonHeader = "X-Emergency-Reason"
)

// Config configures Middleware.
type Config struct {
	Pipeline *Pipeline
	Cookie   session.CookieConfig

	EmergencyKeyHeader    string
	EmergencyReasonHeader string

	Audit audit.Sink
	// Now dates cookie lifetimes. Defaults to time.Now.
	Now func() time.Time
}

// Middleware adapts the pipeline to chi.
type Middleware struct {
	pipeline     *Pipeline
	cookie       session.CookieConfig
	keyHeader    string
	reasonHeader string
	sink         audit.Sink
	security     *logging.SecurityLogger
	now          func() time.Time
}

// NewMiddleware creates a Middleware.
func NewMiddleware(cfg Config) *Middleware {
	if cfg.EmergencyKeyHeader == "" {
		cfg.EmergencyKeyHeader = DefaultEmergencyKeyHeader
	}
	if cfg.EmergencyReasonHeader == "" {
		cfg.EmergencyReasonHeader = DefaultEmergencyReasonHeader
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.Discard
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Middleware{
		pipeline:     cfg.Pipeline,
		cookie:       cfg.Cookie,
		keyHeader:    cfg.EmergencyKeyHeader,
		reasonHeader: cfg.EmergencyReasonHeader,
		sink:         cfg.Audit,
		security:     logging.NewSecurityLogger(),
		now:          cfg.Now,
	}
}

// Cookie returns the session cookie contract.
func (m *Middleware) Cookie() session.CookieConfig {
	return m.cookie
}

// Authenticate runs the pipeline and attaches the principal and session
// to the request context. Failures are rendered and stop the chain.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, err := m.pipeline.Run(r.Context(), m.extract(r))
		if err != nil {
			if auth.KindOf(err).ClearsSession() {
				m.cookie.Clear(w)
				w.Header().Set(HeaderClearSession, "true")
			}
			WriteError(w, r, err)
			return
		}

		for k, v := range res.Header {
			w.Header()[k] = v
		}
		// the cookie must outlive the session's current deadline, so it is
		// reissued whenever that deadline moves
		if res.SessionCreated || res.SessionRenewed {
			m.cookie.SetFor(w, res.Session.ID, res.Session.ExpiresAt.Sub(m.now()))
		}
		if res.SessionCreated {
			w.Header().Set(m.sessionHeader(), res.Session.ID)
		}

		ctx := WithPrincipal(r.Context(), res.Principal)
		if res.Session != nil {
			ctx = WithSession(ctx, res.Session)
			ctx = context.WithValue(ctx, createdKey, res.SessionCreated)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole rejects principals whose role is not in roles. Denials are
// audited through the middleware's sink.
func (m *Middleware) RequireRole(roles ...auth.Role) func(http.Handler) http.Handler {
	return RequireRole(m.sink, roles...)
}

// RequireRole must run after Authenticate. A missing principal is
// AUTH_REQUIRED; a principal outside roles is FORBIDDEN.
func RequireRole(sink audit.Sink, roles ...auth.Role) func(http.Handler) http.Handler {
	if sink == nil {
		sink = audit.Discard
	}
	security := logging.NewSecurityLogger()
	allowed := make([]string, len(roles))
	for i, r := range roles {
		allowed[i] = string(r)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromContext(r.Context())
			if p == nil {
				WriteError(w, r, auth.NewError(auth.KindAuthRequired, "authentication required"))
				return
			}
			if p.HasRole(roles...) {
				next.ServeHTTP(w, r)
				return
			}

			ip := clientIP(r)
			security.LogEvent(r.Context(), &logging.SecurityEvent{
				Event:      "authz_denied",
				UserID:     p.ID,
				AuthMethod: string(p.AuthMethod),
				IPAddress:  ip,
				Success:    false,
				Details: map[string]string{
					"role":     string(p.Role),
					"required": strings.Join(allowed, ","),
					"path":     r.URL.Path,
				},
			})
			sink.Log(&audit.Event{
				Type:     audit.EventTypeAuthzDenied,
				Severity: audit.SeverityWarning,
				Outcome:  audit.OutcomeFailure,
				Actor: audit.Actor{
					ID:         p.ID,
					Type:       "user",
					Role:       string(p.Role),
					AuthMethod: string(p.AuthMethod),
				},
				Target:      &audit.Target{ID: r.URL.Path, Type: "route"},
				Source:      audit.Source{IPAddress: ip, UserAgent: r.UserAgent()},
				Action:      r.Method,
				Description: "role " + string(p.Role) + " not in " + strings.Join(allowed, ","),
				RequestID:   logging.RequestIDFromContext(r.Context()),
			})
			WriteError(w, r, auth.NewError(auth.KindForbidden, "insufficient role"))
		})
	}
}

func (m *Middleware) extract(r *http.Request) Request {
	return Request{
		Token:           bearerToken(r.Header.Get("Authorization")),
		EmergencyKey:    r.Header.Get(m.keyHeader),
		EmergencyReason: r.Header.Get(m.reasonHeader),
		SessionID:       m.cookie.SessionID(r),
		IPAddress:       clientIP(r),
		UserAgent:       r.UserAgent(),
	}
}

func (m *Middleware) sessionHeader() string {
	if m.cookie.HeaderName == "" {
		return session.DefaultHeaderName
	}
	return m.cookie.HeaderName
}

// bearerToken strips a case-insensitive "Bearer " prefix. Anything else
// is passed through and left for the verifiers to reject.
func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) >= 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}

// clientIP returns the host part of RemoteAddr. chi's RealIP runs first
// when the gateway sits behind a proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
