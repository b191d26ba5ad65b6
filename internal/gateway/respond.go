// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/carelink/internal/auth"
	"github.com/tomtom215/carelink/internal/logging"
	"github.com/tomtom215/carelink/internal/models"
)

// WriteJSON sends data in a success envelope.
func WriteJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	writeEnvelope(w, status, &models.APIResponse{
		Status:   "success",
		Data:     data,
		Metadata: metadata(r),
	})
}

// WriteAPIError sends a request-level error such as VALIDATION_ERROR.
func WriteAPIError(w http.ResponseWriter, r *http.Request, status int, apiErr *models.APIError) {
	writeEnvelope(w, status, &models.APIResponse{
		Status:   "error",
		Metadata: metadata(r),
		Error:    apiErr,
	})
}

// WriteError renders an authentication or session error. The status
// follows the error kind. Upstream causes are logged, never sent.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	kind := auth.KindOf(err)
	apiErr := &models.APIError{Code: string(kind), Message: "internal error"}

	var ae *auth.Error
	if errors.As(err, &ae) {
		apiErr.Message = ae.Message
		if ae.Reason != "" {
			apiErr.Details = map[string]interface{}{"reason": ae.Reason}
		}
	}
	if kind.ClearsSession() {
		if apiErr.Details == nil {
			apiErr.Details = make(map[string]interface{}, 2)
		}
		apiErr.Details["clear_session"] = true
		apiErr.Details["reauthenticate"] = true
	}

	status := kind.HTTPStatus()
	if status >= http.StatusInternalServerError {
		logging.Ctx(r.Context()).Error().Err(err).Str("code", string(kind)).Msg("Request failed")
	}
	WriteAPIError(w, r, status, apiErr)
}

func metadata(r *http.Request) models.Metadata {
	md := models.Metadata{Timestamp: time.Now().UTC()}
	if r != nil {
		md.RequestID = logging.RequestIDFromContext(r.Context())
	}
	return md
}

func writeEnvelope(w http.ResponseWriter, status int, resp *models.APIResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}
