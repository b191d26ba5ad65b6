// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

/*
Package config loads and validates CareLink configuration.

Configuration is layered with koanf, later layers overriding earlier ones:

 1. Built-in defaults (defaultConfig)
 2. An optional YAML file: $CONFIG_PATH, ./config.yaml or /etc/carelink/config.yaml
 3. Environment variables, mapped explicitly in envTransformFunc

# Sections

  - server: listener, request timeout, environment
  - auth: managed identity provider, local token fallback, demo and
    emergency access strategies, circuit breaker
  - session: lifetimes, renewal, concurrent-session cap, store backend, cookie
  - badger / redis: storage backends shared by sessions, audit and breaker state
  - audit, security, logging

# Frequently Used Environment Variables

	AUTH_FALLBACK_ENABLED       local token fallback when the managed IdP fails (default: true)
	MANAGED_AUTH_USERINFO_URL   identity provider user endpoint
	MANAGED_AUTH_TIMEOUT        per-call timeout for the identity provider (default: 5s)
	LOCAL_TOKEN_SECRET          HMAC secret for local tokens (min 32 bytes)
	LOCAL_TOKEN_SECRET_FILE     file holding the secret; reloaded on change
	LOCAL_TOKEN_GRACE_PERIOD    clock-skew leeway on local token expiry (default: 60s)
	BREAKER_MAX_FAILURES        consecutive failures that open the breaker (default: 5)
	BREAKER_TIMEOUT             open-state cool-down (default: 30s)
	SESSION_TIMEOUT             session lifetime (default: 30m)
	SESSION_RENEW_THRESHOLD     renew when less than this remains (default: 5m)
	SESSION_MAX_CONCURRENT      live sessions per user (default: 3)
	SESSION_STORE               memory, badger or redis (default: memory)

Validation failures abort startup. A missing or short local secret, a
managed timeout at or above the request timeout, demo mode in production
and plaintext emergency secrets in production are all rejected.
*/
package config
