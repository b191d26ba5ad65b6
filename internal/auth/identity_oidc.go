// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
)

// OIDCIdentityClientConfig configures OIDCIdentityClient.
type OIDCIdentityClientConfig struct {
	IssuerURL string
	// JWKSURL skips discovery and verifies against this key set.
	JWKSURL string
	// ClientID is checked against the token audience when set.
	ClientID  string
	RoleClaim string
}

// OIDCIdentityClient verifies identity provider JWTs locally against the
// provider's published keys. Discovery runs lazily on first use so the
// gateway can start while the provider is down.
type OIDCIdentityClient struct {
	cfg OIDCIdentityClientConfig

	mu       sync.Mutex
	verifier *oidc.IDTokenVerifier
}

// NewOIDCIdentityClient creates an OIDC client.
func NewOIDCIdentityClient(cfg OIDCIdentityClientConfig) (*OIDCIdentityClient, error) {
	if cfg.IssuerURL == "" {
		return nil, fmt.Errorf("issuer URL is required")
	}
	if cfg.RoleClaim == "" {
		cfg.RoleClaim = "role"
	}
	return &OIDCIdentityClient{cfg: cfg}, nil
}

func (c *OIDCIdentityClient) getVerifier(ctx context.Context) (*oidc.IDTokenVerifier, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.verifier != nil {
		return c.verifier, nil
	}

	oidcCfg := &oidc.Config{
		ClientID:          c.cfg.ClientID,
		SkipClientIDCheck: c.cfg.ClientID == "",
	}
	if c.cfg.JWKSURL != "" {
		// The key set outlives this request; it must not inherit its deadline.
		keySet := oidc.NewRemoteKeySet(context.WithoutCancel(ctx), c.cfg.JWKSURL)
		c.verifier = oidc.NewVerifier(c.cfg.IssuerURL, keySet, oidcCfg)
		return c.verifier, nil
	}

	provider, err := oidc.NewProvider(ctx, c.cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("%w: oidc discovery: %v", ErrBackendUnavailable, err)
	}
	c.verifier = provider.Verifier(oidcCfg)
	return c.verifier, nil
}

// VerifyToken implements IdentityClient.
func (c *OIDCIdentityClient) VerifyToken(ctx context.Context, token string) (*Identity, error) {
	verifier, err := c.getVerifier(ctx)
	if err != nil {
		return nil, err
	}

	idToken, err := verifier.Verify(ctx, token)
	if err != nil {
		return nil, classifyOIDCError(ctx, err)
	}
	if idToken.Subject == "" {
		return nil, ErrNoUser
	}

	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: decode claims: %v", ErrTokenRejected, err)
	}

	ident := &Identity{
		ID:        idToken.Subject,
		ExpiresAt: idToken.Expiry,
	}
	if v, ok := claims["email"].(string); ok {
		ident.Email = v
	}
	if v, ok := claims["email_verified"].(bool); ok {
		ident.Verified = v
	}
	if v, ok := claims[c.cfg.RoleClaim].(string); ok {
		ident.Role = v
	}
	if m, ok := claims["user_metadata"].(map[string]interface{}); ok {
		ident.Metadata = stringMap(m)
	}
	return ident, nil
}

func classifyOIDCError(ctx context.Context, err error) error {
	var expired *oidc.TokenExpiredError
	if errors.As(err, &expired) {
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	// go-oidc formats key fetch failures with %v, so the cause is only
	// visible in the message.
	msg := err.Error()
	if strings.Contains(msg, "fetching keys") || strings.Contains(msg, "failed to fetch") {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ErrTokenRejected, err)
}
