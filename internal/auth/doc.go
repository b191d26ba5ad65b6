// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

/*
Package auth verifies bearer credentials and produces a Principal.

Key Components:

  - ManagedVerifier: asks the managed identity provider through a circuit
    breaker, via an IdentityClient (HTTPIdentityClient for userinfo
    endpoints, OIDCIdentityClient for JWT providers with published keys)
  - LocalVerifier / LocalIssuer: HMAC-signed tokens checked against the
    keys of a SecretProvider, with a grace period on expiry
  - StaticSecretProvider / FileSecretProvider: signing keys; the file
    provider reloads on change and honours a rotation overlap
  - EmergencyStrategy / DemoStrategy: bypass paths, each constructed only
    when enabled in configuration
  - Orchestrator: bypass strategies, managed verification, local fallback

Authentication Flow:

	creds -> bypass strategies (emergency, demo)
	      -> no token?              AUTH_REQUIRED
	      -> managed (breaker)      success: AuthMethod=primary
	      -> local fallback         success: AuthMethod=secondary
	      -> local error, or the managed error when fallback is disabled

Errors:

Every failure is an *Error with a Kind (TOKEN_EXPIRED, CIRCUIT_OPEN, ...).
Upstream causes stay reachable with errors.Is/As but are never rendered to
clients. Only ErrBackendUnavailable counts against the breaker: a provider
that rejects a token has answered.

Usage Example:

	cb, _ := auth.NewManagedBreaker(5, 30*time.Second, nil, auditLogger)
	managed := auth.NewManagedVerifier(client, cb, 5*time.Second)
	secrets, _ := auth.NewStaticSecretProvider(cfg.Auth.Local.Secret)
	local, _ := auth.NewLocalVerifier(auth.LocalVerifierConfig{Secrets: secrets, GracePeriod: time.Minute})

	orch, _ := auth.NewOrchestrator(auth.OrchestratorConfig{
	    Managed:         managed,
	    Local:           local,
	    FallbackEnabled: true,
	    Audit:           auditLogger,
	})
	principal, err := orch.Authenticate(ctx, auth.Credentials{Token: bearer})
*/
package auth
