// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package logging

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

// SecurityEvent is a single authentication or session lifecycle event.
type SecurityEvent struct {
	// Event names what happened, e.g. "auth_success", "session_evicted".
	Event      string
	UserID     string
	SessionID  string
	AuthMethod string
	IPAddress  string
	UserAgent  string
	Success    bool
	Error      string
	Details    map[string]string
}

// SecurityLogger writes security events with sensitive values masked.
type SecurityLogger struct {
	logger zerolog.Logger
}

// NewSecurityLogger creates a security logger tagged component=auth.
func NewSecurityLogger() *SecurityLogger {
	return &SecurityLogger{logger: WithComponent("auth")}
}

// NewSecurityLoggerWithLogger creates a security logger over l.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewSecurityLoggerWithLogger(l zerolog.Logger) *SecurityLogger {
	return &SecurityLogger{logger: l.With().Str("component", "auth").Logger()}
}

// LogEvent logs event at info level (warn when it failed).
func (l *SecurityLogger) LogEvent(ctx context.Context, event *SecurityEvent) {
	var e *zerolog.Event
	if event.Success {
		e = l.logger.Info().Str("status", "success")
	} else {
		e = l.logger.Warn().Str("status", "failed")
	}
	l.write(ctx, e, event)
}

// LogCritical logs event at error level regardless of outcome. Used for
// the emergency access path.
func (l *SecurityLogger) LogCritical(ctx context.Context, event *SecurityEvent) {
	e := l.logger.Error().Str("severity", "critical")
	if event.Success {
		e = e.Str("status", "success")
	} else {
		e = e.Str("status", "failed")
	}
	l.write(ctx, e, event)
}

func (l *SecurityLogger) write(ctx context.Context, e *zerolog.Event, event *SecurityEvent) {
	e = e.Str("event", event.Event)
	if ctx != nil {
		if id := RequestIDFromContext(ctx); id != "" {
			e = e.Str("request_id", id)
		}
	}
	if event.UserID != "" {
		e = e.Str("user_id", SanitizeUserID(event.UserID))
	}
	if event.SessionID != "" {
		e = e.Str("session_id", SanitizeSessionID(event.SessionID))
	}
	if event.AuthMethod != "" {
		e = e.Str("auth_method", event.AuthMethod)
	}
	if event.IPAddress != "" {
		e = e.Str("ip", event.IPAddress)
	}
	if event.UserAgent != "" {
		e = e.Str("user_agent", truncateString(event.UserAgent, 100))
	}
	if event.Error != "" && !event.Success {
		e = e.Str("error", SanitizeError(event.Error))
	}
	for k, v := range event.Details {
		e = e.Str(k, SanitizeValue(k, v))
	}
	e.Msg("")
}

// SanitizeToken keeps the first and last four characters of a token.
// Example: "eyJhbGciOiJIUzI1NiJ9.e30.sig" -> "eyJh....sig"
func SanitizeToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 12 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// SanitizeSessionID masks a session ID the same way as a token.
func SanitizeSessionID(sessionID string) string {
	return SanitizeToken(sessionID)
}

// SanitizeUserID masks a user ID, keeping four characters at each end.
func SanitizeUserID(userID string) string {
	if userID == "" {
		return ""
	}
	if len(userID) <= 8 {
		return "***"
	}
	return userID[:4] + "..." + userID[len(userID)-4:]
}

// SanitizeEmail masks the local part of an e-mail address.
// Example: "jane.doe@clinic.org" -> "ja***@clinic.org"
func SanitizeEmail(email string) string {
	if email == "" {
		return ""
	}
	at := strings.Index(email, "@")
	if at <= 0 {
		return "***"
	}
	local, domain := email[:at], email[at:]
	if len(local) <= 2 {
		return "***" + domain
	}
	return local[:2] + "***" + domain
}

var sensitiveErrorWords = []string{"password", "secret", "token", "key", "bearer", "authorization", "cookie"}

// SanitizeError replaces messages that may echo credentials with a
// generic one and truncates the rest.
func SanitizeError(msg string) string {
	lower := strings.ToLower(msg)
	for _, w := range sensitiveErrorWords {
		if strings.Contains(lower, w) {
			return "authentication error"
		}
	}
	return truncateString(msg, 200)
}

var sensitiveKeys = map[string]bool{
	"token":           true,
	"access_token":    true,
	"secret":          true,
	"authorization":   true,
	"cookie":          true,
	"session_id":      true,
	"evicted_session": true,
	"emergency_key":   true,
}

// SanitizeValue masks v when key names a credential, and masks e-mail
// shaped values.
func SanitizeValue(key, v string) string {
	if sensitiveKeys[strings.ToLower(key)] {
		return SanitizeToken(v)
	}
	if strings.Contains(v, "@") && strings.Contains(v, ".") {
		return SanitizeEmail(v)
	}
	return v
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
