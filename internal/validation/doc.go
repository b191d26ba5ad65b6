// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

/*
Package validation validates request bodies with go-playground/validator.

A single validator instance is shared by every handler; it caches struct
metadata and is safe for concurrent use. Field names in errors are the
JSON names the client sent.

Custom tags:

  - session_id: 64 hexadecimal characters

Failures convert to the VALIDATION_ERROR envelope:

	type RevokeRequest struct {
	    SessionID string `json:"session_id" validate:"required,session_id"`
	}

	if verr := validation.ValidateStruct(&req); verr != nil {
	    apiErr := verr.ToAPIError()
	    // respond 400 with apiErr.Code, apiErr.Message, apiErr.Details
	}
*/
package validation
