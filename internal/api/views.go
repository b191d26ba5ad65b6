// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package api

import (
	"github.com/tomtom215/carelink/internal/auth"
	"github.com/tomtom215/carelink/internal/logging"
	"github.com/tomtom215/carelink/internal/models"
	"github.com/tomtom215/carelink/internal/session"
)

func principalView(p *auth.Principal) models.PrincipalView {
	v := models.PrincipalView{
		ID:         p.ID,
		Email:      p.Email,
		Role:       string(p.Role),
		Verified:   p.Verified,
		AuthMethod: string(p.AuthMethod),
		Metadata:   p.Metadata,
	}
	if !p.TokenExpiresAt.IsZero() {
		t := p.TokenExpiresAt
		v.TokenExpiresAt = &t
	}
	return v
}

// sessionView hides the session ID unless it is the caller's current one.
func sessionView(s *session.Session, current bool) models.SessionView {
	v := models.SessionView{
		IDHint:         logging.SanitizeSessionID(s.ID),
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.LastActivityAt,
		ExpiresAt:      s.ExpiresAt,
		IPAddress:      s.IPAddress,
		UserAgent:      s.UserAgent,
		AuthMethod:     string(s.AuthMethod),
		RenewalCount:   s.RenewalCount,
		AccessCount:    s.AccessCount,
		Current:        current,
	}
	if current {
		v.ID = s.ID
	}
	for _, f := range s.SecurityFlags {
		v.SecurityFlags = append(v.SecurityFlags, string(f))
	}
	return v
}
