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

	"github.com/golang-jwt/jwt/v5"
)

// LocalBackendName identifies the local token verifier in health output.
const LocalBackendName = "local-token"

// LocalClaims are the claims of a locally signed token.
type LocalClaims struct {
	UserID   string            `json:"id"`
	Email    string            `json:"email"`
	Role     string            `json:"role,omitempty"`
	Verified bool              `json:"verified,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	jwt.RegisteredClaims
}

var hmacMethods = []string{
	jwt.SigningMethodHS256.Alg(),
	jwt.SigningMethodHS384.Alg(),
	jwt.SigningMethodHS512.Alg(),
}

// LocalVerifierConfig configures LocalVerifier.
type LocalVerifierConfig struct {
	Secrets SecretProvider
	// GracePeriod is the leeway applied to the exp claim.
	GracePeriod time.Duration
	Issuer      string
	Audience    string
	// Now overrides the clock in tests.
	Now func() time.Time
}

// LocalVerifier verifies HMAC-signed tokens issued by this platform. It is
// the fallback path when the managed provider is unavailable, and it makes
// no network calls.
type LocalVerifier struct {
	secrets SecretProvider
	grace   time.Duration
	now     func() time.Time
	parser  *jwt.Parser
}

// NewLocalVerifier creates a local token verifier.
func NewLocalVerifier(cfg LocalVerifierConfig) (*LocalVerifier, error) {
	if cfg.Secrets == nil {
		return nil, fmt.Errorf("secret provider is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(hmacMethods),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.GracePeriod),
		jwt.WithTimeFunc(now),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &LocalVerifier{
		secrets: cfg.Secrets,
		grace:   cfg.GracePeriod,
		now:     now,
		parser:  jwt.NewParser(opts...),
	}, nil
}

// Secrets exposes the secret provider for health reporting.
func (v *LocalVerifier) Secrets() SecretProvider {
	return v.secrets
}

// Verify implements TokenVerifier.
func (v *LocalVerifier) Verify(_ context.Context, raw string) (*Principal, error) {
	claims, err := v.checkStructure(raw)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, key := range v.secrets.Keys() {
		verified := &LocalClaims{}
		_, err := v.parser.ParseWithClaims(raw, verified, func(*jwt.Token) (interface{}, error) {
			return key, nil
		})
		if err == nil {
			claims = verified
			lastErr = nil
			break
		}
		lastErr = err
		if !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			// signature matched; claim validation failed
			break
		}
	}
	if lastErr != nil {
		return nil, classifyLocalError(lastErr)
	}

	return &Principal{
		ID:             claims.UserID,
		Email:          claims.Email,
		Role:           ParseRole(claims.Role),
		Metadata:       claims.Metadata,
		Verified:       claims.Verified,
		CreatedAt:      v.now(),
		AuthMethod:     MethodSecondary,
		TokenExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// checkStructure decodes the token without verifying it and rejects
// tokens that could never be valid here.
func (v *LocalVerifier) checkStructure(raw string) (*LocalClaims, error) {
	claims := &LocalClaims{}
	token, _, err := v.parser.ParseUnverified(raw, claims)
	if err != nil {
		return nil, WrapError(KindInvalidTokenStructure, "malformed token", err)
	}
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, NewError(KindInvalidTokenStructure, "unsupported signing algorithm")
	}
	if claims.ExpiresAt == nil {
		return nil, NewError(KindInvalidTokenStructure, "token has no expiry")
	}
	if claims.UserID == "" || claims.Email == "" {
		return nil, NewError(KindInvalidTokenStructure, "token is missing required claims")
	}
	return claims, nil
}

func classifyLocalError(err error) *Error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return WrapError(KindTokenExpired, "token has expired", err)
	case errors.Is(err, jwt.ErrTokenMalformed), errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return WrapError(KindInvalidTokenStructure, "malformed token", err)
	default:
		return WrapError(KindInvalidToken, "token verification failed", err)
	}
}

// LocalIssuer signs local tokens with the provider's current key.
type LocalIssuer struct {
	secrets  SecretProvider
	issuer   string
	audience string
	now      func() time.Time
}

// NewLocalIssuer creates an issuer. issuer and audience may be empty.
func NewLocalIssuer(secrets SecretProvider, issuer, audience string) *LocalIssuer {
	return &LocalIssuer{secrets: secrets, issuer: issuer, audience: audience, now: time.Now}
}

// Issue signs a token for p valid for ttl.
func (i *LocalIssuer) Issue(p *Principal, ttl time.Duration) (string, error) {
	if p == nil || p.ID == "" || p.Email == "" {
		return "", fmt.Errorf("principal id and email are required")
	}
	now := i.now()
	claims := &LocalClaims{
		UserID:   p.ID,
		Email:    p.Email,
		Role:     string(p.Role),
		Verified: p.Verified,
		Metadata: p.Metadata,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    i.issuer,
		},
	}
	if i.audience != "" {
		claims.Audience = jwt.ClaimStrings{i.audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secrets.SigningKey())
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
