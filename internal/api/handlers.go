// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package api

import (
	"context"
	"errors"
	"time"

	"github.com/tomtom215/carelink/internal/auth"
	"github.com/tomtom215/carelink/internal/health"
	"github.com/tomtom215/carelink/internal/session"
)

// SessionService is the part of session.Manager the handlers use.
type SessionService interface {
	ListForUser(ctx context.Context, userID string) ([]*session.Session, error)
	Destroy(ctx context.Context, id string) error
	Revoke(ctx context.Context, admin *auth.Principal, id string) error
	DestroyAllForUser(ctx context.Context, admin *auth.Principal, userID string) (int, error)
	ExpiryWarning(s *session.Session) session.Warning
}

// StatusReporter produces authentication health.
type StatusReporter interface {
	GetStatus() health.Status
}

// HandlerConfig wires a Handler.
type HandlerConfig struct {
	Sessions SessionService
	Health   StatusReporter
	Cookie   session.CookieConfig
}

// Handler serves the API routes.
type Handler struct {
	sessions  SessionService
	health    StatusReporter
	cookie    session.CookieConfig
	startTime time.Time
}

// NewHandler creates a Handler.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("session service is required")
	}
	if cfg.Health == nil {
		return nil, errors.New("health reporter is required")
	}
	return &Handler{
		sessions:  cfg.Sessions,
		health:    cfg.Health,
		cookie:    cfg.Cookie,
		startTime: time.Now(),
	}, nil
}
