// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package gateway

import (
	"context"

	"github.com/tomtom215/carelink/internal/auth"
	"github.com/tomtom215/carelink/internal/session"
)

type contextKey string

const (
	principalKey contextKey = "principal"
	sessionKey   contextKey = "session"
	createdKey   contextKey = "session_created"
)

// WithPrincipal returns ctx carrying p.
func WithPrincipal(ctx context.Context, p *auth.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the authenticated principal, or nil.
func PrincipalFromContext(ctx context.Context) *auth.Principal {
	p, _ := ctx.Value(principalKey).(*auth.Principal)
	return p
}

// WithSession returns ctx carrying s.
func WithSession(ctx context.Context, s *session.Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// SessionFromContext returns the request's session, or nil (emergency
// access has none).
func SessionFromContext(ctx context.Context) *session.Session {
	s, _ := ctx.Value(sessionKey).(*session.Session)
	return s
}

// SessionCreatedFromContext reports whether this request created its
// session.
func SessionCreatedFromContext(ctx context.Context) bool {
	v, _ := ctx.Value(createdKey).(bool)
	return v
}
