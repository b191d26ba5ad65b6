// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package session

import (
	"net/http"
	"strings"
	"time"
)

// Cookie and header defaults.
const (
	DefaultCookieName = "carelink_session"
	DefaultHeaderName = "X-Session-ID"
)

// CookieConfig describes how the session ID travels between client and
// gateway. Browsers use the cookie; other clients send the header.
type CookieConfig struct {
	Name       string
	HeaderName string
	Secure     bool
	Domain     string
	MaxAge     time.Duration
}

func (c CookieConfig) name() string {
	if c.Name == "" {
		return DefaultCookieName
	}
	return c.Name
}

func (c CookieConfig) header() string {
	if c.HeaderName == "" {
		return DefaultHeaderName
	}
	return c.HeaderName
}

// SessionID returns the presented session ID. The header wins over the
// cookie.
func (c CookieConfig) SessionID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(c.header())); id != "" {
		return id
	}
	if ck, err := r.Cookie(c.name()); err == nil {
		return ck.Value
	}
	return ""
}

// Set writes the session cookie with the configured MaxAge.
func (c CookieConfig) Set(w http.ResponseWriter, id string) {
	c.SetFor(w, id, c.MaxAge)
}

// SetFor writes the session cookie expiring after ttl. A ttl under one
// second is rounded up so the cookie never becomes a browser-session
// cookie.
func (c CookieConfig) SetFor(w http.ResponseWriter, id string, ttl time.Duration) {
	maxAge := int((ttl + time.Second - 1) / time.Second)
	if maxAge < 1 {
		maxAge = 1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.name(),
		Value:    id,
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// Clear instructs the client to drop the session cookie.
func (c CookieConfig) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name(),
		Value:    "",
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}
