// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package config

import "time"

// Environment names accepted in server.environment.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Managed identity provider client modes.
const (
	ManagedModeUserInfo = "userinfo"
	ManagedModeOIDC     = "oidc"
)

// Store backends for sessions and audit events.
const (
	StoreMemory = "memory"
	StoreBadger = "badger"
	StoreRedis  = "redis"
)

// MinSecretLength is the minimum accepted length for HMAC secrets.
const MinSecretLength = 32

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Auth     AuthConfig     `koanf:"auth"`
	Session  SessionConfig  `koanf:"session"`
	Badger   BadgerConfig   `koanf:"badger"`
	Redis    RedisConfig    `koanf:"redis"`
	Audit    AuditConfig    `koanf:"audit"`
	Security SecurityConfig `koanf:"security"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	Host            string        `koanf:"host"`
	Timeout         time.Duration `koanf:"timeout"` // whole-request budget
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	Environment     string        `koanf:"environment"`
}

// AuthConfig holds the authentication path settings.
type AuthConfig struct {
	// FallbackEnabled allows local token verification when the managed
	// identity provider rejects or cannot be reached.
	FallbackEnabled bool            `koanf:"fallback_enabled"`
	Managed         ManagedConfig   `koanf:"managed"`
	Local           LocalConfig     `koanf:"local"`
	Demo            DemoConfig      `koanf:"demo"`
	Emergency       EmergencyConfig `koanf:"emergency"`
	Breaker         BreakerConfig   `koanf:"breaker"`
}

// ManagedConfig configures the managed identity provider client.
type ManagedConfig struct {
	Enabled     bool          `koanf:"enabled"`
	Mode        string        `koanf:"mode"` // userinfo or oidc
	UserInfoURL string        `koanf:"userinfo_url"`
	APIKey      string        `koanf:"api_key"`
	IssuerURL   string        `koanf:"issuer_url"`
	JWKSURL     string        `koanf:"jwks_url"` // skips discovery when set
	ClientID    string        `koanf:"client_id"`
	Timeout     time.Duration `koanf:"timeout"`
	RoleClaim   string        `koanf:"role_claim"`
}

// LocalConfig configures locally signed fallback tokens.
type LocalConfig struct {
	Secret          string        `koanf:"secret"`
	SecretFile      string        `koanf:"secret_file"`
	RotationOverlap time.Duration `koanf:"rotation_overlap"`
	Issuer          string        `koanf:"issuer"`
	Audience        string        `koanf:"audience"`
	GracePeriod     time.Duration `koanf:"grace_period"`
}

// DemoConfig configures the unverified demo token strategy.
type DemoConfig struct {
	Enabled  bool   `koanf:"enabled"`
	IDPrefix string `koanf:"id_prefix"`
}

// EmergencyConfig configures the emergency access bypass.
type EmergencyConfig struct {
	Enabled      bool   `koanf:"enabled"`
	Secret       string `koanf:"secret"`
	SecretHash   string `koanf:"secret_hash"` // bcrypt
	HeaderName   string `koanf:"header_name"`
	ReasonHeader string `koanf:"reason_header"`
	MaxPerHour   int    `koanf:"max_per_hour"`
}

// BreakerConfig configures the managed backend circuit breaker.
type BreakerConfig struct {
	MaxConsecutiveFailures uint32        `koanf:"max_consecutive_failures"`
	Timeout                time.Duration `koanf:"timeout"`
	// Distributed shares breaker state across instances through Redis.
	Distributed bool `koanf:"distributed"`
}

// SessionConfig configures session lifetimes and storage.
type SessionConfig struct {
	Timeout time.Duration `koanf:"timeout"`
	// InactivityTimeout defaults to Timeout when zero.
	InactivityTimeout time.Duration `koanf:"inactivity_timeout"`
	RenewThreshold    time.Duration `koanf:"renew_threshold"`
	WarningThreshold  time.Duration `koanf:"warning_threshold"`
	MaxConcurrent     int           `koanf:"max_concurrent"`
	MaxRenewals       int           `koanf:"max_renewals"` // 0 = unlimited
	ExpiredRetention  time.Duration `koanf:"expired_retention"`
	SweepInterval     time.Duration `koanf:"sweep_interval"`
	Store             string        `koanf:"store"`
	CookieName        string        `koanf:"cookie_name"`
	CookieSecure      bool          `koanf:"cookie_secure"`
	CookieDomain      string        `koanf:"cookie_domain"`
	HeaderName        string        `koanf:"header_name"`
}

// EffectiveInactivityTimeout returns InactivityTimeout, or Timeout when unset.
func (s *SessionConfig) EffectiveInactivityTimeout() time.Duration {
	if s.InactivityTimeout > 0 {
		return s.InactivityTimeout
	}
	return s.Timeout
}

// BadgerConfig configures the embedded BadgerDB instance.
type BadgerConfig struct {
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`
}

// RedisConfig configures the shared Redis connection.
type RedisConfig struct {
	Addr      string        `koanf:"addr"`
	Password  string        `koanf:"password"`
	DB        int           `koanf:"db"`
	KeyPrefix string        `koanf:"key_prefix"`
	LockTTL   time.Duration `koanf:"lock_ttl"`
	LockWait  time.Duration `koanf:"lock_wait"`
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Store           string        `koanf:"store"` // memory or badger
	BufferSize      int           `koanf:"buffer_size"`
	MaxEvents       int           `koanf:"max_events"`
	RetentionDays   int           `koanf:"retention_days"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
	LogToStdout     bool          `koanf:"log_to_stdout"`
}

// SecurityConfig holds HTTP hardening settings.
type SecurityConfig struct {
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	// TrustProxy takes client IPs from X-Forwarded-For / X-Real-IP.
	TrustProxy bool `koanf:"trust_proxy"`
}

// LoggingConfig configures internal/logging.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == EnvProduction
}

// LocalPathEnabled reports whether local token verification can be used,
// either as fallback or as the only verifier.
func (c *Config) LocalPathEnabled() bool {
	return c.Auth.FallbackEnabled || !c.Auth.Managed.Enabled
}

// Load reads configuration from defaults, file and environment.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
