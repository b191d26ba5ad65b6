// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

/*
Package gateway is the single request entry point of CareLink.

A request passes through a linear Pipeline:

 1. AuthenticateStep resolves a Principal through the auth.Orchestrator
    (bypass strategies, managed identity provider behind the circuit
    breaker, local token fallback).
 2. SessionStep creates or validates the server-side session. Emergency
    access is stateless and skips it.
 3. ExpiryWarningStep publishes the session deadline and any renewal or
    expiry warning as response headers.

Middleware.Authenticate adapts the pipeline to chi. It extracts the bearer
token, emergency headers and presented session ID, stores the Principal
and Session in the request context, and sets the session cookie when a
session is created. Errors are rendered as JSON envelopes; session errors
also clear the cookie and carry X-Clear-Session.

RequireRole guards routes by role:

	r.With(mw.Authenticate, mw.RequireRole(auth.RoleAdmin)).Post("/revoke", h.Revoke)
*/
package gateway
