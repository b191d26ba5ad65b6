// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

/*
Package api exposes the gateway over HTTP using the chi router.

Routes:

	GET    /health/live                          liveness
	GET    /api/v1/status/auth                   authentication health (503 when critical)
	POST   /api/v1/auth/session                  authenticate and create or validate a session
	GET    /api/v1/auth/session                  current principal and session
	GET    /api/v1/auth/sessions                 caller's live sessions
	POST   /api/v1/auth/logout                   end the current session
	POST   /api/v1/auth/logout-all               end every session of the caller
	POST   /api/v1/admin/sessions/revoke         admin: end one session
	DELETE /api/v1/admin/users/{userID}/sessions admin: end every session of a user
	GET    /metrics                              Prometheus

Every /api/v1/auth and /api/v1/admin route runs gateway.Middleware.Authenticate,
so a request there always carries a Principal. Responses use the
models.APIResponse envelope.
*/
package api
