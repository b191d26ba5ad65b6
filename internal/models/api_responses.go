// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package models

import (
	"time"
)

// APIResponse is the envelope of every JSON response.
//
// Status field values:
//   - "success": see Data
//   - "error": see Error
//
// Example error response:
//
//	{
//	  "status": "error",
//	  "data": null,
//	  "metadata": {"timestamp": "2026-03-14T09:30:00Z", "request_id": "…"},
//	  "error": {
//	    "code": "SESSION_EXPIRED",
//	    "message": "session expired",
//	    "details": {"clear_session": true, "reauthenticate": true}
//	  }
//	}
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata accompanies every response.
type Metadata struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// APIError is the machine-readable failure. Code is an auth error kind
// (e.g. "TOKEN_EXPIRED") or a request error such as "VALIDATION_ERROR".
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}
