// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package models

import "time"

// PrincipalView is the authenticated identity returned to clients.
type PrincipalView struct {
	ID             string            `json:"id"`
	Email          string            `json:"email"`
	Role           string            `json:"role"`
	Verified       bool              `json:"verified"`
	AuthMethod     string            `json:"auth_method"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	TokenExpiresAt *time.Time        `json:"token_expires_at,omitempty"`
}

// SessionView summarizes a session. The full ID is only included for the
// caller's current session.
type SessionView struct {
	ID             string    `json:"id,omitempty"`
	IDHint         string    `json:"id_hint"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	IPAddress      string    `json:"ip_address,omitempty"`
	UserAgent      string    `json:"user_agent,omitempty"`
	AuthMethod     string    `json:"auth_method"`
	RenewalCount   int       `json:"renewal_count"`
	AccessCount    int       `json:"access_count"`
	SecurityFlags  []string  `json:"security_flags,omitempty"`
	Current        bool      `json:"current"`
}

// AuthSessionResponse answers POST and GET /api/v1/auth/session.
type AuthSessionResponse struct {
	Principal PrincipalView `json:"principal"`
	Session   *SessionView  `json:"session,omitempty"`
	Created   bool          `json:"created"`
	Warning   string        `json:"warning,omitempty"`
}

// SessionListResponse answers GET /api/v1/auth/sessions.
type SessionListResponse struct {
	Sessions []SessionView `json:"sessions"`
	Count    int           `json:"count"`
}

// RevokeSessionRequest is the body of POST /api/v1/admin/sessions/revoke.
type RevokeSessionRequest struct {
	SessionID string `json:"session_id" validate:"required,session_id"`
}

// SessionsEndedResponse reports how many sessions an operation ended.
type SessionsEndedResponse struct {
	UserID string `json:"user_id,omitempty"`
	Ended  int    `json:"ended"`
}

// LivenessResponse answers GET /health/live.
type LivenessResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}
