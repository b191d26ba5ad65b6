// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package config

import (
	"fmt"
	"strings"
)

// Validate checks that the configuration is complete and consistent.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateAuth(); err != nil {
		return err
	}
	if err := c.validateSession(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateAudit(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("SERVER_TIMEOUT must be positive")
	}
	switch c.Server.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		return fmt.Errorf("ENVIRONMENT must be development, staging or production, got %q", c.Server.Environment)
	}
	return nil
}

func (c *Config) validateAuth() error {
	a := &c.Auth
	if a.Managed.Enabled {
		if err := c.validateManaged(); err != nil {
			return err
		}
	}
	if c.LocalPathEnabled() {
		if err := validateLocal(&a.Local); err != nil {
			return err
		}
	}
	if a.Demo.Enabled {
		if c.IsProduction() {
			return fmt.Errorf("DEMO_MODE_ENABLED is not allowed when ENVIRONMENT=production")
		}
		if a.Demo.IDPrefix == "" {
			return fmt.Errorf("DEMO_ID_PREFIX must not be empty when demo mode is enabled")
		}
	}
	if a.Emergency.Enabled {
		if err := c.validateEmergency(); err != nil {
			return err
		}
	}
	if a.Breaker.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("BREAKER_MAX_FAILURES must be at least 1")
	}
	if a.Breaker.Timeout <= 0 {
		return fmt.Errorf("BREAKER_TIMEOUT must be positive")
	}
	if a.Breaker.Distributed && c.Redis.Addr == "" {
		return fmt.Errorf("REDIS_ADDR is required when BREAKER_DISTRIBUTED=true")
	}
	return nil
}

func (c *Config) validateManaged() error {
	m := &c.Auth.Managed
	switch m.Mode {
	case ManagedModeUserInfo:
		if m.UserInfoURL == "" {
			return fmt.Errorf("MANAGED_AUTH_USERINFO_URL is required when MANAGED_AUTH_MODE=userinfo")
		}
		if err := validateServiceURL(m.UserInfoURL, "MANAGED_AUTH_USERINFO_URL"); err != nil {
			return err
		}
	case ManagedModeOIDC:
		if m.IssuerURL == "" {
			return fmt.Errorf("MANAGED_AUTH_ISSUER_URL is required when MANAGED_AUTH_MODE=oidc")
		}
		if err := validateServiceURL(m.IssuerURL, "MANAGED_AUTH_ISSUER_URL"); err != nil {
			return err
		}
		if m.JWKSURL != "" {
			if err := validateServiceURL(m.JWKSURL, "MANAGED_AUTH_JWKS_URL"); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("MANAGED_AUTH_MODE must be userinfo or oidc, got %q", m.Mode)
	}
	if m.Timeout <= 0 {
		return fmt.Errorf("MANAGED_AUTH_TIMEOUT must be positive")
	}
	if m.Timeout >= c.Server.Timeout {
		return fmt.Errorf("MANAGED_AUTH_TIMEOUT (%s) must be shorter than SERVER_TIMEOUT (%s)", m.Timeout, c.Server.Timeout)
	}
	return nil
}

func validateLocal(l *LocalConfig) error {
	if l.Secret == "" && l.SecretFile == "" {
		return fmt.Errorf("LOCAL_TOKEN_SECRET or LOCAL_TOKEN_SECRET_FILE is required for local token verification")
	}
	if l.Secret != "" && len(l.Secret) < MinSecretLength {
		return fmt.Errorf("LOCAL_TOKEN_SECRET must be at least %d characters", MinSecretLength)
	}
	if l.GracePeriod < 0 {
		return fmt.Errorf("LOCAL_TOKEN_GRACE_PERIOD must not be negative")
	}
	if l.RotationOverlap < 0 {
		return fmt.Errorf("LOCAL_TOKEN_ROTATION_OVERLAP must not be negative")
	}
	return nil
}

func (c *Config) validateEmergency() error {
	e := &c.Auth.Emergency
	if e.Secret == "" && e.SecretHash == "" {
		return fmt.Errorf("EMERGENCY_ACCESS_SECRET or EMERGENCY_ACCESS_SECRET_HASH is required when emergency access is enabled")
	}
	if e.Secret != "" && len(e.Secret) < MinSecretLength {
		return fmt.Errorf("EMERGENCY_ACCESS_SECRET must be at least %d characters", MinSecretLength)
	}
	if e.SecretHash != "" && !strings.HasPrefix(e.SecretHash, "$2") {
		return fmt.Errorf("EMERGENCY_ACCESS_SECRET_HASH must be a bcrypt hash")
	}
	if c.IsProduction() && e.Secret != "" {
		return fmt.Errorf("EMERGENCY_ACCESS_SECRET must not be set in production, use EMERGENCY_ACCESS_SECRET_HASH")
	}
	if e.HeaderName == "" || e.ReasonHeader == "" {
		return fmt.Errorf("EMERGENCY_ACCESS_HEADER and EMERGENCY_REASON_HEADER must not be empty")
	}
	if e.MaxPerHour < 1 {
		return fmt.Errorf("EMERGENCY_MAX_PER_HOUR must be at least 1")
	}
	return nil
}

func (c *Config) validateSession() error {
	s := &c.Session
	if s.Timeout <= 0 {
		return fmt.Errorf("SESSION_TIMEOUT must be positive")
	}
	if s.InactivityTimeout < 0 {
		return fmt.Errorf("SESSION_INACTIVITY_TIMEOUT must not be negative")
	}
	if s.RenewThreshold < 0 || s.RenewThreshold >= s.Timeout {
		return fmt.Errorf("SESSION_RENEW_THRESHOLD must be between 0 and SESSION_TIMEOUT")
	}
	if s.WarningThreshold < 0 {
		return fmt.Errorf("SESSION_WARNING_THRESHOLD must not be negative")
	}
	if s.MaxConcurrent < 1 {
		return fmt.Errorf("SESSION_MAX_CONCURRENT must be at least 1")
	}
	if s.MaxRenewals < 0 {
		return fmt.Errorf("SESSION_MAX_RENEWALS must not be negative")
	}
	if s.ExpiredRetention < 0 {
		return fmt.Errorf("SESSION_EXPIRED_RETENTION must not be negative")
	}
	if s.SweepInterval <= 0 {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL must be positive")
	}
	if s.CookieName == "" {
		return fmt.Errorf("SESSION_COOKIE_NAME must not be empty")
	}
	if c.IsProduction() && !s.CookieSecure {
		return fmt.Errorf("SESSION_COOKIE_SECURE must be true in production")
	}
	switch s.Store {
	case StoreMemory, StoreBadger, StoreRedis:
	default:
		return fmt.Errorf("SESSION_STORE must be memory, badger or redis, got %q", s.Store)
	}
	return nil
}

func (c *Config) validateStorage() error {
	needBadger := c.Session.Store == StoreBadger || (c.Audit.Enabled && c.Audit.Store == StoreBadger)
	if needBadger && !c.Badger.InMemory && c.Badger.Path == "" {
		return fmt.Errorf("BADGER_PATH is required unless BADGER_IN_MEMORY=true")
	}
	if c.Session.Store == StoreRedis {
		if c.Redis.Addr == "" {
			return fmt.Errorf("REDIS_ADDR is required when SESSION_STORE=redis")
		}
		if c.Redis.LockTTL <= 0 || c.Redis.LockWait <= 0 {
			return fmt.Errorf("REDIS_LOCK_TTL and REDIS_LOCK_WAIT must be positive")
		}
	}
	return nil
}

func (c *Config) validateAudit() error {
	if !c.Audit.Enabled {
		return nil
	}
	switch c.Audit.Store {
	case StoreMemory, StoreBadger:
	default:
		return fmt.Errorf("AUDIT_STORE must be memory or badger, got %q", c.Audit.Store)
	}
	if c.Audit.BufferSize < 1 {
		return fmt.Errorf("AUDIT_BUFFER_SIZE must be at least 1")
	}
	if c.Audit.RetentionDays < 0 {
		return fmt.Errorf("AUDIT_RETENTION_DAYS must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "disabled":
	default:
		return fmt.Errorf("LOG_LEVEL %q is not a valid level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
