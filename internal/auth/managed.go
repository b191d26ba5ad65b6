// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/carelink/internal/audit"
	"github.com/tomtom215/carelink/internal/breaker"
	"github.com/tomtom215/carelink/internal/metrics"
)

// ManagedBackendName is the breaker name of the managed identity provider.
const ManagedBackendName = "managed-idp"

// ManagedVerifier verifies tokens with the managed identity provider
// through a circuit breaker.
type ManagedVerifier struct {
	client  IdentityClient
	breaker *breaker.Breaker[*Identity]
	timeout time.Duration
	now     func() time.Time
}

// NewManagedVerifier creates a verifier. timeout bounds each provider call.
func NewManagedVerifier(client IdentityClient, cb *breaker.Breaker[*Identity], timeout time.Duration) *ManagedVerifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ManagedVerifier{client: client, breaker: cb, timeout: timeout, now: time.Now}
}

// IsBackendFailure classifies identity client errors for the breaker.
// Rejections prove the provider answered and do not count.
func IsBackendFailure(err error) bool {
	return errors.Is(err, ErrBackendUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

// NewManagedBreaker creates the breaker guarding the managed provider.
// store is nil for a process-local breaker.
func NewManagedBreaker(maxFailures uint32, coolDown time.Duration, store gobreaker.SharedDataStore, sink audit.Sink) (*breaker.Breaker[*Identity], error) {
	return breaker.New[*Identity](breaker.Config{
		Name:                   ManagedBackendName,
		MaxConsecutiveFailures: maxFailures,
		Timeout:                coolDown,
		IsFailure:              IsBackendFailure,
		Store:                  store,
		Audit:                  sink,
	})
}

// Breaker exposes the breaker for health reporting.
func (v *ManagedVerifier) Breaker() *breaker.Breaker[*Identity] {
	return v.breaker
}

// Verify implements TokenVerifier.
func (v *ManagedVerifier) Verify(ctx context.Context, token string) (*Principal, error) {
	start := time.Now()
	ident, err := v.breaker.Call(ctx, func(ctx context.Context) (*Identity, error) {
		callCtx, cancel := context.WithTimeout(ctx, v.timeout)
		defer cancel()
		ident, err := v.client.VerifyToken(callCtx, token)
		if err != nil && callCtx.Err() == context.DeadlineExceeded && !errors.Is(err, ErrBackendUnavailable) {
			err = fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		return ident, err
	})
	if !errors.Is(err, breaker.ErrOpen) {
		metrics.ManagedVerifyDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, translateManagedError(err)
	}

	return &Principal{
		ID:             ident.ID,
		Email:          ident.Email,
		Role:           ParseRole(ident.Role),
		Metadata:       ident.Metadata,
		Verified:       ident.Verified,
		CreatedAt:      v.now(),
		AuthMethod:     MethodPrimary,
		TokenExpiresAt: ident.ExpiresAt,
	}, nil
}

func translateManagedError(err error) *Error {
	switch {
	case errors.Is(err, breaker.ErrOpen):
		return WrapError(KindCircuitOpen, "identity provider circuit is open", err)
	case errors.Is(err, ErrBackendUnavailable), errors.Is(err, context.DeadlineExceeded):
		return WrapError(KindBackendUnavailable, "identity provider unavailable", err)
	case errors.Is(err, ErrNoUser):
		return WrapError(KindInvalidToken, "no user for token", err).WithReason(ReasonNoUser)
	case errors.Is(err, ErrTokenExpired):
		return WrapError(KindTokenExpired, "token has expired", err)
	case errors.Is(err, context.Canceled):
		return WrapError(KindBackendUnavailable, "request canceled", err)
	default:
		return WrapError(KindInvalidToken, "token rejected by identity provider", err)
	}
}
