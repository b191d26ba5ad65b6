// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package auth

import (
	"errors"
	"net/http"
)

// Kind classifies an authentication or session failure. Kinds are stable
// strings returned to clients as error codes.
type Kind string

const (
	KindAuthRequired          Kind = "AUTH_REQUIRED"
	KindInvalidTokenStructure Kind = "INVALID_TOKEN_STRUCTURE"
	KindTokenExpired          Kind = "TOKEN_EXPIRED"
	KindInvalidToken          Kind = "INVALID_TOKEN"
	KindBackendUnavailable    Kind = "BACKEND_UNAVAILABLE"
	KindCircuitOpen           Kind = "CIRCUIT_OPEN"
	KindSessionNotFound       Kind = "SESSION_NOT_FOUND"
	KindSessionExpired        Kind = "SESSION_EXPIRED"
	KindSessionInactive       Kind = "SESSION_INACTIVE"
	KindForbidden             Kind = "FORBIDDEN"
	KindInternal              Kind = "INTERNAL_ERROR"
)

// ReasonNoUser marks an INVALID_TOKEN returned because the identity
// provider knows no user for the token.
const ReasonNoUser = "no_user"

// HTTPStatus maps the kind to a response status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindForbidden:
		return http.StatusForbidden
	case KindBackendUnavailable, KindCircuitOpen:
		return http.StatusServiceUnavailable
	case KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusUnauthorized
	}
}

// ClearsSession reports whether the client must drop its session
// credential and re-authenticate.
func (k Kind) ClearsSession() bool {
	switch k {
	case KindSessionNotFound, KindSessionExpired, KindSessionInactive:
		return true
	default:
		return false
	}
}

// Error is the typed error returned by verifiers, the orchestrator and the
// session manager. Err holds the upstream cause and is never rendered to
// clients.
type Error struct {
	Kind    Kind
	Message string
	Reason  string
	Err     error
}

// NewError creates an Error of kind k.
func NewError(k Kind, message string) *Error {
	return &Error{Kind: k, Message: message}
}

// WrapError creates an Error of kind k caused by err.
func WrapError(k Kind, message string, err error) *Error {
	return &Error{Kind: k, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithReason returns a copy of e carrying reason.
func (e *Error) WithReason(reason string) *Error {
	c := *e
	c.Reason = reason
	return &c
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindInternal for any other non-nil error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries kind k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}
