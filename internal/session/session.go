// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/tomtom215/carelink/internal/auth"
)

// Flag is a security marker attached to a session.
type Flag string

const (
	// FlagRequiresRenewal is set when the session is close to expiry and
	// may not be renewed again.
	FlagRequiresRenewal Flag = "requiresRenewal"
	// FlagSuspiciousActivity is set when the user agent changed.
	FlagSuspiciousActivity Flag = "suspiciousActivity"
	// FlagMultipleLocations is set when the client IP changed.
	FlagMultipleLocations Flag = "multipleLocations"
)

// Session is a server-side login session.
type Session struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Role           auth.Role       `json:"role"`
	Email          string          `json:"email"`
	CreatedAt      time.Time       `json:"created_at"`
	LastActivityAt time.Time       `json:"last_activity_at"`
	ExpiresAt      time.Time       `json:"expires_at"`
	IPAddress      string          `json:"ip_address"`
	UserAgent      string          `json:"user_agent"`
	AuthMethod     auth.AuthMethod `json:"auth_method"`
	RenewalCount   int             `json:"renewal_count"`
	SecurityFlags  []Flag          `json:"security_flags,omitempty"`
	AccessCount    int             `json:"access_count"`
	Principal      *auth.Principal `json:"principal,omitempty"`
}

// RequestInfo describes the client presenting a session.
type RequestInfo struct {
	IPAddress string
	UserAgent string
}

// IndexEntry is one entry of a user's session index.
type IndexEntry struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}

// HasFlag reports whether f is set.
func (s *Session) HasFlag(f Flag) bool {
	for _, v := range s.SecurityFlags {
		if v == f {
			return true
		}
	}
	return false
}

// SetFlag adds f and reports whether it was newly added.
func (s *Session) SetFlag(f Flag) bool {
	if s.HasFlag(f) {
		return false
	}
	s.SecurityFlags = append(s.SecurityFlags, f)
	return true
}

// ClearFlag removes f.
func (s *Session) ClearFlag(f Flag) {
	out := s.SecurityFlags[:0]
	for _, v := range s.SecurityFlags {
		if v != f {
			out = append(out, v)
		}
	}
	s.SecurityFlags = out
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	c := *s
	if s.SecurityFlags != nil {
		c.SecurityFlags = append([]Flag(nil), s.SecurityFlags...)
	}
	if s.Principal != nil {
		p := *s.Principal
		if s.Principal.Metadata != nil {
			p.Metadata = make(map[string]string, len(s.Principal.Metadata))
			for k, v := range s.Principal.Metadata {
				p.Metadata[k] = v
			}
		}
		c.Principal = &p
	}
	return &c
}

// newSessionID returns 256 random bits as 64 hex characters.
func newSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// ValidID reports whether id has the shape of a session ID.
func ValidID(id string) bool {
	if len(id) != 64 {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil
}
