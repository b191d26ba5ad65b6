// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/carelink/internal/gateway"
	"github.com/tomtom215/carelink/internal/models"
)

// HealthLive reports that the process is serving requests. It never
// looks at backends.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	gateway.WriteJSON(w, r, http.StatusOK, models.LivenessResponse{
		Status:        "alive",
		UptimeSeconds: time.Since(h.startTime).Seconds(),
	})
}

// AuthStatus returns the Health Reporter payload. Critical health answers
// 503 so load balancers stop routing to this instance.
func (h *Handler) AuthStatus(w http.ResponseWriter, r *http.Request) {
	status := h.health.GetStatus()
	gateway.WriteJSON(w, r, status.Overall.HTTPStatus(), status)
}
