// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/carelink/internal/auth"
	"github.com/tomtom215/carelink/internal/gateway"
	"github.com/tomtom215/carelink/internal/models"
	"github.com/tomtom215/carelink/internal/validation"
)

const maxBodyBytes = 4 << 10

// RevokeSession ends one session on behalf of an administrator.
func (h *Handler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	var req models.RevokeSessionRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		gateway.WriteAPIError(w, r, http.StatusBadRequest, &models.APIError{
			Code:    "INVALID_REQUEST",
			Message: "request body must be a JSON object with session_id",
		})
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		gateway.WriteAPIError(w, r, http.StatusBadRequest, apiErr)
		return
	}

	admin := gateway.PrincipalFromContext(r.Context())
	if err := h.sessions.Revoke(r.Context(), admin, req.SessionID); err != nil {
		if auth.IsKind(err, auth.KindSessionNotFound) {
			// the admin's own session is unaffected; no clearing hints
			gateway.WriteAPIError(w, r, http.StatusNotFound, &models.APIError{
				Code:    string(auth.KindSessionNotFound),
				Message: "session not found",
			})
			return
		}
		gateway.WriteError(w, r, err)
		return
	}
	gateway.WriteJSON(w, r, http.StatusOK, models.SessionsEndedResponse{Ended: 1})
}

// DestroyUserSessions ends every session of the user in the path.
func (h *Handler) DestroyUserSessions(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		gateway.WriteAPIError(w, r, http.StatusBadRequest, &models.APIError{
			Code:    "VALIDATION_ERROR",
			Message: "user id is required",
		})
		return
	}

	admin := gateway.PrincipalFromContext(r.Context())
	n, err := h.sessions.DestroyAllForUser(r.Context(), admin, userID)
	if err != nil {
		gateway.WriteError(w, r, err)
		return
	}
	gateway.WriteJSON(w, r, http.StatusOK, models.SessionsEndedResponse{UserID: userID, Ended: n})
}

// validateRequest runs go-playground/validator and converts failures to
// the VALIDATION_ERROR envelope.
func validateRequest(v interface{}) *models.APIError {
	verr := validation.ValidateStruct(v)
	if verr == nil {
		return nil
	}
	apiErr := verr.ToAPIError()
	return &models.APIError{
		Code:    apiErr.Code,
		Message: apiErr.Message,
		Details: apiErr.Details,
	}
}
