// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package auth

import (
	"context"
	"errors"

	"github.com/tomtom215/carelink/internal/audit"
	"github.com/tomtom215/carelink/internal/logging"
	"github.com/tomtom215/carelink/internal/metrics"
)

// OrchestratorConfig wires the verification paths. Managed and Local may
// be nil when that path is not configured; at least one must be set.
type OrchestratorConfig struct {
	// Bypass strategies run first, in order.
	Bypass          []BypassStrategy
	Managed         TokenVerifier
	Local           TokenVerifier
	FallbackEnabled bool
	Audit           audit.Sink
}

// Orchestrator authenticates a request: bypass strategies, then the
// managed identity provider, then the local token fallback.
type Orchestrator struct {
	bypass          []BypassStrategy
	managed         TokenVerifier
	local           TokenVerifier
	fallbackEnabled bool
	sink            audit.Sink
	security        *logging.SecurityLogger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Managed == nil && cfg.Local == nil {
		return nil, errors.New("at least one token verifier is required")
	}
	if cfg.Managed == nil && !cfg.FallbackEnabled {
		// local-only deployment: the local verifier is the primary path
		cfg.FallbackEnabled = true
	}
	sink := cfg.Audit
	if sink == nil {
		sink = audit.Discard
	}
	return &Orchestrator{
		bypass:          cfg.Bypass,
		managed:         cfg.Managed,
		local:           cfg.Local,
		fallbackEnabled: cfg.FallbackEnabled,
		sink:            sink,
		security:        logging.NewSecurityLogger(),
	}, nil
}

// FallbackEnabled reports whether local verification backs up the
// managed provider.
func (o *Orchestrator) FallbackEnabled() bool {
	return o.fallbackEnabled && o.local != nil
}

// ManagedConfigured reports whether a managed provider is wired.
func (o *Orchestrator) ManagedConfigured() bool {
	return o.managed != nil
}

// Authenticate returns the principal for creds or an *Error.
func (o *Orchestrator) Authenticate(ctx context.Context, creds Credentials) (*Principal, error) {
	for _, s := range o.bypass {
		p, handled, err := s.Attempt(ctx, creds)
		if !handled {
			continue
		}
		if err != nil {
			metrics.RecordAuthAttempt(s.Name(), string(KindOf(err)))
			return nil, err
		}
		metrics.RecordAuthAttempt(s.Name(), "success")
		return p, nil
	}

	if creds.Token == "" {
		metrics.RecordAuthAttempt("none", string(KindAuthRequired))
		return nil, NewError(KindAuthRequired, "authentication required")
	}

	if o.managed == nil {
		return o.finish(ctx, creds, o.local, MethodSecondary)
	}

	p, managedErr := o.managed.Verify(ctx, creds.Token)
	if managedErr == nil {
		return o.succeed(ctx, creds, p)
	}

	if !o.FallbackEnabled() {
		o.fail(ctx, creds, MethodPrimary, managedErr)
		return nil, managedErr
	}

	reason := string(KindOf(managedErr))
	metrics.AuthFallbacks.WithLabelValues(reason).Inc()
	logging.Ctx(ctx).Debug().
		Str("managed_error", reason).
		Msg("Managed verification failed, trying local token")

	p, localErr := o.local.Verify(ctx, creds.Token)
	if localErr != nil {
		o.fail(ctx, creds, MethodSecondary, localErr)
		return nil, localErr
	}
	o.sink.Log(&audit.Event{
		Type:        audit.EventTypeAuthFallback,
		Severity:    audit.SeverityWarning,
		Outcome:     audit.OutcomeSuccess,
		Actor:       actorFor(p),
		Source:      audit.Source{IPAddress: creds.IPAddress, UserAgent: creds.UserAgent},
		Action:      "authenticate",
		Description: "authenticated with local token after managed failure: " + reason,
		RequestID:   logging.RequestIDFromContext(ctx),
	})
	return o.succeed(ctx, creds, p)
}

func (o *Orchestrator) finish(ctx context.Context, creds Credentials, v TokenVerifier, method AuthMethod) (*Principal, error) {
	p, err := v.Verify(ctx, creds.Token)
	if err != nil {
		o.fail(ctx, creds, method, err)
		return nil, err
	}
	return o.succeed(ctx, creds, p)
}

func (o *Orchestrator) succeed(ctx context.Context, creds Credentials, p *Principal) (*Principal, error) {
	metrics.RecordAuthAttempt(string(p.AuthMethod), "success")
	o.security.LogEvent(ctx, &logging.SecurityEvent{
		Event:      "auth_success",
		UserID:     p.ID,
		AuthMethod: string(p.AuthMethod),
		IPAddress:  creds.IPAddress,
		UserAgent:  creds.UserAgent,
		Success:    true,
	})
	o.sink.Log(&audit.Event{
		Type:      audit.EventTypeAuthSuccess,
		Severity:  audit.SeverityInfo,
		Outcome:   audit.OutcomeSuccess,
		Actor:     actorFor(p),
		Source:    audit.Source{IPAddress: creds.IPAddress, UserAgent: creds.UserAgent},
		Action:    "authenticate",
		RequestID: logging.RequestIDFromContext(ctx),
	})
	return p, nil
}

func (o *Orchestrator) fail(ctx context.Context, creds Credentials, method AuthMethod, err error) {
	kind := KindOf(err)
	metrics.RecordAuthAttempt(string(method), string(kind))
	o.security.LogEvent(ctx, &logging.SecurityEvent{
		Event:      "auth_failure",
		AuthMethod: string(method),
		IPAddress:  creds.IPAddress,
		UserAgent:  creds.UserAgent,
		Success:    false,
		Error:      string(kind),
	})
	o.sink.Log(&audit.Event{
		Type:        audit.EventTypeAuthFailure,
		Severity:    audit.SeverityWarning,
		Outcome:     audit.OutcomeFailure,
		Actor:       audit.Actor{ID: "anonymous", Type: "user", AuthMethod: string(method)},
		Source:      audit.Source{IPAddress: creds.IPAddress, UserAgent: creds.UserAgent},
		Action:      "authenticate",
		Description: string(kind),
		RequestID:   logging.RequestIDFromContext(ctx),
	})
}

func actorFor(p *Principal) audit.Actor {
	return audit.Actor{ID: p.ID, Type: "user", Role: string(p.Role), AuthMethod: string(p.AuthMethod)}
}
