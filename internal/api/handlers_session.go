// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package api

import (
	"net/http"

	"github.com/tomtom215/carelink/internal/gateway"
	"github.com/tomtom215/carelink/internal/logging"
	"github.com/tomtom215/carelink/internal/models"
)

// Session answers POST and GET /api/v1/auth/session with the principal and
// session the gateway attached. A newly created session answers 201.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := gateway.PrincipalFromContext(ctx)
	resp := models.AuthSessionResponse{Principal: principalView(p)}

	status := http.StatusOK
	if s := gateway.SessionFromContext(ctx); s != nil {
		v := sessionView(s, true)
		resp.Session = &v
		resp.Created = gateway.SessionCreatedFromContext(ctx)
		resp.Warning = string(h.sessions.ExpiryWarning(s))
		if resp.Created && r.Method == http.MethodPost {
			status = http.StatusCreated
		}
	}
	gateway.WriteJSON(w, r, status, resp)
}

// Sessions lists the caller's live sessions.
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := gateway.PrincipalFromContext(ctx)

	list, err := h.sessions.ListForUser(ctx, p.ID)
	if err != nil {
		gateway.WriteError(w, r, err)
		return
	}

	currentID := ""
	if s := gateway.SessionFromContext(ctx); s != nil {
		currentID = s.ID
	}
	views := make([]models.SessionView, 0, len(list))
	for _, s := range list {
		views = append(views, sessionView(s, s.ID == currentID))
	}
	gateway.WriteJSON(w, r, http.StatusOK, models.SessionListResponse{Sessions: views, Count: len(views)})
}

// Logout ends the current session and clears the cookie.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ended := 0
	if s := gateway.SessionFromContext(ctx); s != nil {
		if err := h.sessions.Destroy(ctx, s.ID); err != nil {
			gateway.WriteError(w, r, err)
			return
		}
		ended = 1
	}
	h.cookie.Clear(w)
	w.Header().Set(gateway.HeaderClearSession, "true")
	gateway.WriteJSON(w, r, http.StatusOK, models.SessionsEndedResponse{Ended: ended})
}

// LogoutAll ends every session of the caller.
func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := gateway.PrincipalFromContext(ctx)

	n, err := h.sessions.DestroyAllForUser(ctx, nil, p.ID)
	if err != nil {
		gateway.WriteError(w, r, err)
		return
	}
	logging.Ctx(ctx).Info().
		Str("user_id", logging.SanitizeUserID(p.ID)).
		Int("sessions", n).
		Msg("User logged out everywhere")

	h.cookie.Clear(w)
	w.Header().Set(gateway.HeaderClearSession, "true")
	gateway.WriteJSON(w, r, http.StatusOK, models.SessionsEndedResponse{UserID: p.ID, Ended: n})
}
