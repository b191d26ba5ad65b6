// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/carelink/internal/auth"
	"github.com/tomtom215/carelink/internal/gateway"
	"github.com/tomtom215/carelink/internal/health"
	"github.com/tomtom215/carelink/internal/models"
	"github.com/tomtom215/carelink/internal/session"
)

type tokenAuth map[string]auth.Principal

func (a tokenAuth) Authenticate(_ context.Context, creds auth.Credentials) (*auth.Principal, error) {
	if creds.Token == "" {
		return nil, auth.NewError(auth.KindAuthRequired, "authentication required")
	}
	p, ok := a[creds.Token]
	if !ok {
		return nil, auth.NewError(auth.KindInvalidToken, "invalid token")
	}
	return &p, nil
}

type fixedHealth struct{ overall health.Overall }

func (f fixedHealth) GetStatus() health.Status {
	return health.Status{Overall: f.overall, Backends: map[string]health.BackendStatus{}, CheckedAt: time.Now()}
}

type testServer struct {
	handler http.Handler
	manager *session.Manager
}

func newTestServer(t *testing.T, overall health.Overall, limit int) *testServer {
	t.Helper()
	tokens := tokenAuth{
		"patient-token": {ID: "user-1", Email: "p@example.com", Role: auth.RolePatient, AuthMethod: auth.MethodPrimary},
		"admin-token":   {ID: "admin-1", Email: "a@example.com", Role: auth.RoleAdmin, AuthMethod: auth.MethodPrimary},
	}
	mgr, err := session.NewManager(session.NewMemoryStore(), session.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	cookie := session.CookieConfig{MaxAge: 30 * time.Minute}
	gw := gateway.NewMiddleware(gateway.Config{Pipeline: gateway.DefaultPipeline(tokens, mgr), Cookie: cookie})
	h, err := NewHandler(HandlerConfig{Sessions: mgr, Health: fixedHealth{overall}, Cookie: cookie})
	if err != nil {
		t.Fatal(err)
	}

	cfg := DefaultChiMiddlewareConfig()
	if limit > 0 {
		cfg.RateLimitRequests = limit
	} else {
		cfg.RateLimitDisabled = true
	}
	return &testServer{
		handler: NewRouter(h, gw, NewChiMiddleware(cfg), false).Setup(),
		manager: mgr,
	}
}

func (ts *testServer) do(t *testing.T, method, path, token, sessionID, body string) (*httptest.ResponseRecorder, models.APIResponse) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if sessionID != "" {
		req.AddCookie(&http.Cookie{Name: session.DefaultCookieName, Value: sessionID})
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	var resp models.APIResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return rec, resp
}

func sessionCookie(rec *httptest.ResponseRecorder) string {
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.DefaultCookieName {
			return c.Value
		}
	}
	return ""
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestServer(t, health.Healthy, 0)

	rec, resp := ts.do(t, http.MethodPost, "/api/v1/auth/session", "patient-token", "", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d, body %s", rec.Code, rec.Body.String())
	}
	sid := sessionCookie(rec)
	if !session.ValidID(sid) {
		t.Fatalf("cookie value %q is not a session id", sid)
	}
	data := resp.Data.(map[string]interface{})
	if data["created"] != true {
		t.Errorf("created = %v", data["created"])
	}
	if rec.Header().Get("Cache-Control") != "no-store" || rec.Header().Get("X-Request-ID") == "" {
		t.Errorf("headers = %v", rec.Header())
	}

	rec, resp = ts.do(t, http.MethodGet, "/api/v1/auth/session", "patient-token", sid, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("validate: status %d, body %s", rec.Code, rec.Body.String())
	}
	data = resp.Data.(map[string]interface{})
	if data["created"] != false {
		t.Errorf("validate reported created")
	}
	if sess := data["session"].(map[string]interface{}); sess["id"] != sid || sess["access_count"] != float64(2) {
		t.Errorf("session = %v", sess)
	}

	rec, resp = ts.do(t, http.MethodGet, "/api/v1/auth/sessions", "patient-token", sid, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status %d", rec.Code)
	}
	if n := resp.Data.(map[string]interface{})["count"]; n != float64(1) {
		t.Errorf("count = %v, want 1", n)
	}

	rec, _ = ts.do(t, http.MethodPost, "/api/v1/auth/logout", "patient-token", sid, "")
	if rec.Code != http.StatusOK || rec.Header().Get(gateway.HeaderClearSession) != "true" {
		t.Fatalf("logout: status %d, headers %v", rec.Code, rec.Header())
	}

	rec, resp = ts.do(t, http.MethodGet, "/api/v1/auth/session", "patient-token", sid, "")
	if rec.Code != http.StatusUnauthorized || resp.Error == nil || resp.Error.Code != "SESSION_NOT_FOUND" {
		t.Errorf("after logout: status %d, error %+v", rec.Code, resp.Error)
	}
}

func TestLogoutAll(t *testing.T) {
	ts := newTestServer(t, health.Healthy, 0)
	var ids []string
	for i := 0; i < 2; i++ {
		rec, _ := ts.do(t, http.MethodPost, "/api/v1/auth/session", "patient-token", "", "")
		ids = append(ids, sessionCookie(rec))
	}

	rec, resp := ts.do(t, http.MethodPost, "/api/v1/auth/logout-all", "patient-token", ids[0], "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if ended := resp.Data.(map[string]interface{})["ended"]; ended != float64(2) {
		t.Errorf("ended = %v, want 2", ended)
	}
	if rec, _ := ts.do(t, http.MethodGet, "/api/v1/auth/session", "patient-token", ids[1], ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("other session still valid: %d", rec.Code)
	}
}

func TestAdminRoutes(t *testing.T) {
	ts := newTestServer(t, health.Healthy, 0)
	rec, _ := ts.do(t, http.MethodPost, "/api/v1/auth/session", "patient-token", "", "")
	victim := sessionCookie(rec)

	tests := []struct {
		name       string
		token      string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"unauthenticated", "", `{"session_id":"` + victim + `"}`, http.StatusUnauthorized, "AUTH_REQUIRED"},
		{"patient", "patient-token", `{"session_id":"` + victim + `"}`, http.StatusForbidden, "FORBIDDEN"},
		{"malformed body", "admin-token", `{"session":1}`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"bad session id", "admin-token", `{"session_id":"xyz"}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown session", "admin-token", `{"session_id":"` + strings.Repeat("0", 64) + `"}`, http.StatusNotFound, "SESSION_NOT_FOUND"},
		{"revoked", "admin-token", `{"session_id":"` + victim + `"}`, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := ts.do(t, http.MethodPost, "/api/v1/admin/sessions/revoke", tt.token, "", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantCode != "" && (resp.Error == nil || resp.Error.Code != tt.wantCode) {
				t.Errorf("error = %+v, want %s", resp.Error, tt.wantCode)
			}
		})
	}

	if rec, _ := ts.do(t, http.MethodGet, "/api/v1/auth/session", "patient-token", victim, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("revoked session still valid: %d", rec.Code)
	}
}

func TestAdminDestroyUserSessions(t *testing.T) {
	ts := newTestServer(t, health.Healthy, 0)
	for i := 0; i < 2; i++ {
		ts.do(t, http.MethodPost, "/api/v1/auth/session", "patient-token", "", "")
	}

	rec, resp := ts.do(t, http.MethodDelete, "/api/v1/admin/users/user-1/sessions", "admin-token", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	data := resp.Data.(map[string]interface{})
	if data["ended"] != float64(2) || data["user_id"] != "user-1" {
		t.Errorf("data = %v", data)
	}
	left, err := ts.manager.ListForUser(context.Background(), "user-1")
	if err != nil || len(left) != 0 {
		t.Errorf("sessions left = %d, %v", len(left), err)
	}
}

func TestHealthRoutes(t *testing.T) {
	tests := []struct {
		overall    health.Overall
		wantStatus int
	}{
		{health.Healthy, http.StatusOK},
		{health.Degraded, http.StatusOK},
		{health.Critical, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(string(tt.overall), func(t *testing.T) {
			ts := newTestServer(t, tt.overall, 0)
			rec, resp := ts.do(t, http.MethodGet, "/api/v1/status/auth", "", "", "")
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := resp.Data.(map[string]interface{})["overall"]; got != string(tt.overall) {
				t.Errorf("overall = %v", got)
			}
		})
	}

	ts := newTestServer(t, health.Critical, 0)
	if rec, _ := ts.do(t, http.MethodGet, "/health/live", "", "", ""); rec.Code != http.StatusOK {
		t.Errorf("liveness must not depend on auth health: %d", rec.Code)
	}
	if rec, _ := ts.do(t, http.MethodGet, "/metrics", "", "", ""); rec.Code != http.StatusOK {
		t.Errorf("/metrics status = %d", rec.Code)
	}
}

func TestRateLimitAuth(t *testing.T) {
	ts := newTestServer(t, health.Healthy, 2)
	for i := 0; i < 2; i++ {
		if rec, _ := ts.do(t, http.MethodGet, "/api/v1/auth/session", "bad", "", ""); rec.Code != http.StatusUnauthorized {
			t.Fatalf("request %d: status %d", i, rec.Code)
		}
	}
	rec, resp := ts.do(t, http.MethodGet, "/api/v1/auth/session", "bad", "", "")
	if rec.Code != http.StatusTooManyRequests || resp.Error == nil || resp.Error.Code != "RATE_LIMITED" {
		t.Errorf("status = %d, error = %+v", rec.Code, resp.Error)
	}
}

func TestNotFound(t *testing.T) {
	ts := newTestServer(t, health.Healthy, 0)
	rec, resp := ts.do(t, http.MethodGet, "/api/v1/nope", "", "", "")
	if rec.Code != http.StatusNotFound || resp.Error == nil || resp.Error.Code != "NOT_FOUND" {
		t.Errorf("status = %d, error = %+v", rec.Code, resp.Error)
	}
}
