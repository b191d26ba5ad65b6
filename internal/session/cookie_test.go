// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCookieConfig_SessionID(t *testing.T) {
	cfg := CookieConfig{}

	tests := []struct {
		name   string
		header string
		cookie string
		want   string
	}{
		{"none", "", "", ""},
		{"cookie only", "", "from-cookie", "from-cookie"},
		{"header only", "from-header", "", "from-header"},
		{"header wins", "from-header", "from-cookie", "from-header"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set(DefaultHeaderName, tt.header)
			}
			if tt.cookie != "" {
				r.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: tt.cookie})
			}
			if got := cfg.SessionID(r); got != tt.want {
				t.Errorf("SessionID = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCookieConfig_SetAndClear(t *testing.T) {
	cfg := CookieConfig{Secure: true, MaxAge: 30 * time.Minute}

	w := httptest.NewRecorder()
	cfg.Set(w, "abc")
	cookies := w.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("cookies = %d, want 1", len(cookies))
	}
	c := cookies[0]
	if c.Name != DefaultCookieName || c.Value != "abc" || c.Path != "/" {
		t.Errorf("cookie = %+v", c)
	}
	if !c.HttpOnly || !c.Secure || c.SameSite != http.SameSiteStrictMode {
		t.Errorf("cookie flags = HttpOnly:%v Secure:%v SameSite:%v", c.HttpOnly, c.Secure, c.SameSite)
	}
	if c.MaxAge != 1800 {
		t.Errorf("MaxAge = %d, want 1800", c.MaxAge)
	}

	w = httptest.NewRecorder()
	cfg.Clear(w)
	cookies = w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 || cookies[0].Value != "" {
		t.Errorf("clearing cookie = %+v", cookies)
	}
}

func TestCookieConfig_SetForRoundsUp(t *testing.T) {
	tests := []struct {
		ttl  time.Duration
		want int
	}{
		{27 * time.Minute, 1620},
		{1500 * time.Millisecond, 2},
		{0, 1},
		{-time.Minute, 1},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		CookieConfig{}.SetFor(w, "abc", tt.ttl)
		cookies := w.Result().Cookies()
		if len(cookies) != 1 || cookies[0].MaxAge != tt.want {
			t.Errorf("SetFor(%v): cookies = %+v, want MaxAge %d", tt.ttl, cookies, tt.want)
		}
	}
}
