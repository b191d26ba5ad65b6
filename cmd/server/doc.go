// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

/*
Package main is the entry point for the CareLink authentication gateway.

CareLink sits in front of a telehealth platform and decides who is calling.
Bearer tokens are checked against a managed identity provider behind a
circuit breaker; when the provider is down, locally signed tokens keep
clinicians working. Authenticated callers get a server-side session with
a bounded lifetime, inactivity timeout and per-user concurrency cap.

# Process Layout

	RootSupervisor ("carelink")
	├── DataSupervisor ("data-layer")
	│   ├── session-sweeper   (expired session cleanup)
	│   ├── audit-retention   (audit purge, when audit is enabled)
	│   └── secret-watcher    (local token secret file, when configured)
	└── APISupervisor ("api-layer")
	    └── http-server

Startup order:

 1. Configuration (koanf: defaults, config.yaml, environment)
 2. Logging (zerolog)
 3. Storage: BadgerDB and/or Redis, as the session and audit stores need
 4. Audit trail
 5. Verifiers: managed provider + breaker, local tokens, bypass strategies
 6. Session manager and health reporter
 7. Chi router and HTTP server
 8. Supervisor tree

# Configuration

Environment variables override config.yaml, which overrides defaults:

	# Server
	HTTP_PORT=8443
	ENVIRONMENT=production         # development or production
	LOG_LEVEL=info
	LOG_FORMAT=json

	# Managed identity provider
	MANAGED_AUTH_ENABLED=true
	MANAGED_AUTH_MODE=oidc         # oidc or userinfo
	MANAGED_AUTH_ISSUER_URL=https://idp.example.com
	BREAKER_MAX_FAILURES=5
	BREAKER_TIMEOUT=30s

	# Local fallback tokens
	AUTH_FALLBACK_ENABLED=true
	LOCAL_TOKEN_SECRET_FILE=/run/secrets/carelink_token_key

	# Sessions
	SESSION_STORE=redis            # memory, badger or redis
	REDIS_ADDR=redis:6379
	SESSION_TIMEOUT=30m
	SESSION_MAX_CONCURRENT=3

	# Emergency access (break glass)
	EMERGENCY_ACCESS_ENABLED=false
	EMERGENCY_ACCESS_SECRET_HASH=$2a$12$...

# Signals

SIGINT and SIGTERM stop the supervisor tree; the HTTP server drains
in-flight requests for up to SHUTDOWN_TIMEOUT before the stores close.
*/
package main
