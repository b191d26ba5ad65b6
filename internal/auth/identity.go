// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Identity backend errors. IdentityClient implementations return these
// (possibly wrapped) so the managed verifier can classify the outcome.
var (
	// ErrNoUser means the provider answered but knows no user for the token.
	ErrNoUser = errors.New("identity provider returned no user")
	// ErrTokenRejected means the provider rejected the token.
	ErrTokenRejected = errors.New("identity provider rejected token")
	// ErrTokenExpired means the provider reported the token as expired.
	ErrTokenExpired = errors.New("token expired")
	// ErrBackendUnavailable means the provider could not be reached or
	// answered with a server error. Only this error trips the breaker.
	ErrBackendUnavailable = errors.New("identity provider unavailable")
)

// Identity is the user record returned by a managed identity provider.
type Identity struct {
	ID        string
	Email     string
	Role      string
	Verified  bool
	Metadata  map[string]string
	ExpiresAt time.Time
}

// IdentityClient verifies a token against the managed identity provider.
type IdentityClient interface {
	VerifyToken(ctx context.Context, token string) (*Identity, error)
}

// HTTPIdentityClientConfig configures HTTPIdentityClient.
type HTTPIdentityClientConfig struct {
	// UserInfoURL is fetched with the caller's bearer token.
	UserInfoURL string
	// APIKey is sent as the "apikey" header when set.
	APIKey string
	// RoleClaim names the response field holding the role. Defaults to
	// "role"; app_metadata and user_metadata are searched as well.
	RoleClaim  string
	HTTPClient *http.Client
}

// HTTPIdentityClient asks a userinfo-style endpoint who the token belongs to.
type HTTPIdentityClient struct {
	url       string
	apiKey    string
	roleClaim string
	client    *http.Client
}

// NewHTTPIdentityClient creates a userinfo client.
func NewHTTPIdentityClient(cfg HTTPIdentityClientConfig) (*HTTPIdentityClient, error) {
	if cfg.UserInfoURL == "" {
		return nil, fmt.Errorf("userinfo URL is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		// per-call deadlines come from the context
		client = &http.Client{}
	}
	roleClaim := cfg.RoleClaim
	if roleClaim == "" {
		roleClaim = "role"
	}
	return &HTTPIdentityClient{
		url:       cfg.UserInfoURL,
		apiKey:    cfg.APIKey,
		roleClaim: roleClaim,
		client:    client,
	}, nil
}

type userInfoResponse struct {
	ID             string                 `json:"id"`
	Sub            string                 `json:"sub"`
	Email          string                 `json:"email"`
	EmailConfirmed *string                `json:"email_confirmed_at"`
	EmailVerified  *bool                  `json:"email_verified"`
	AppMetadata    map[string]interface{} `json:"app_metadata"`
	UserMetadata   map[string]interface{} `json:"user_metadata"`
}

// VerifyToken implements IdentityClient.
func (c *HTTPIdentityClient) VerifyToken(ctx context.Context, token string) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrBackendUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: status %d", ErrNoUser, resp.StatusCode)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: status %d", ErrBackendUnavailable, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: status %d", ErrTokenRejected, resp.StatusCode)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode userinfo: %v", ErrBackendUnavailable, err)
	}
	var info userInfoResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("%w: decode userinfo: %v", ErrBackendUnavailable, err)
	}

	id := info.ID
	if id == "" {
		id = info.Sub
	}
	if id == "" {
		return nil, ErrNoUser
	}

	verified := info.EmailConfirmed != nil && *info.EmailConfirmed != ""
	if info.EmailVerified != nil {
		verified = *info.EmailVerified
	}

	return &Identity{
		ID:       id,
		Email:    info.Email,
		Role:     c.lookupRole(raw, info),
		Verified: verified,
		Metadata: stringMap(info.UserMetadata),
	}, nil
}

func (c *HTTPIdentityClient) lookupRole(raw map[string]interface{}, info userInfoResponse) string {
	for _, m := range []map[string]interface{}{raw, info.AppMetadata, info.UserMetadata} {
		if v, ok := m[c.roleClaim].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// stringMap keeps the string-valued entries of m.
func stringMap(m map[string]interface{}) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		switch s := v.(type) {
		case string:
			out[k] = s
		case bool, float64:
			out[k] = strings.TrimSpace(fmt.Sprint(s))
		}
	}
	return out
}
