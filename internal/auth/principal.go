// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package auth

import (
	"context"
	"time"
)

// Role is the caller's authorization role.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleProvider Role = "provider"
	RolePatient  Role = "patient"
	RoleGuest    Role = "guest"
)

// ParseRole converts s to a Role. Unknown or empty values become RoleGuest
// so an identity provider can never grant a role we do not know about.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleAdmin, RoleProvider, RolePatient:
		return Role(s)
	default:
		return RoleGuest
	}
}

func (r Role) String() string {
	return string(r)
}

// AuthMethod records which path authenticated the caller.
type AuthMethod string

const (
	// MethodPrimary is the managed identity provider.
	MethodPrimary AuthMethod = "primary"
	// MethodSecondary is the local signed token fallback.
	MethodSecondary AuthMethod = "secondary"
	MethodDemo      AuthMethod = "demo"
	MethodEmergency AuthMethod = "emergency"
)

func (m AuthMethod) String() string {
	return string(m)
}

// Principal is an authenticated identity. A new Principal is built on every
// successful verification.
type Principal struct {
	ID         string            `json:"id"`
	Email      string            `json:"email"`
	Role       Role              `json:"role"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Verified   bool              `json:"verified"`
	CreatedAt  time.Time         `json:"created_at"`
	AuthMethod AuthMethod        `json:"auth_method"`
	// TokenExpiresAt is the expiry claim of the presented token. It is
	// never extended by the local grace period. Zero when unknown.
	TokenExpiresAt time.Time `json:"token_expires_at,omitempty"`
}

// HasRole reports whether the principal holds one of roles.
func (p *Principal) HasRole(roles ...Role) bool {
	if p == nil {
		return false
	}
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

// Credentials is what a request presents for authentication.
type Credentials struct {
	// Token is the bearer token with any "Bearer " prefix removed.
	Token           string
	EmergencyKey    string
	EmergencyReason string
	IPAddress       string
	UserAgent       string
}

// TokenVerifier verifies a bearer token. Errors are always *Error.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Principal, error)
}
