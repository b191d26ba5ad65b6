// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order; the first existing file wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/carelink/config.yaml",
	"/etc/carelink/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8443,
			Host:            "0.0.0.0",
			Timeout:         30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			Environment:     EnvDevelopment,
		},
		Auth: AuthConfig{
			FallbackEnabled: true,
			Managed: ManagedConfig{
				Enabled:   false,
				Mode:      ManagedModeUserInfo,
				Timeout:   5 * time.Second,
				RoleClaim: "role",
			},
			Local: LocalConfig{
				RotationOverlap: 10 * time.Minute,
				GracePeriod:     60 * time.Second,
			},
			Demo: DemoConfig{
				Enabled:  false,
				IDPrefix: "demo-",
			},
			Emergency: EmergencyConfig{
				Enabled:      false,
				HeaderName:   "X-Emergency-Access",
				ReasonHeader: "X-Emergency-Reason",
				MaxPerHour:   10,
			},
			Breaker: BreakerConfig{
				MaxConsecutiveFailures: 5,
				Timeout:                30 * time.Second,
			},
		},
		Session: SessionConfig{
			Timeout:          30 * time.Minute,
			RenewThreshold:   5 * time.Minute,
			WarningThreshold: 5 * time.Minute,
			MaxConcurrent:    3,
			ExpiredRetention: 10 * time.Minute,
			SweepInterval:    time.Minute,
			Store:            StoreMemory,
			CookieName:       "carelink_session",
			CookieSecure:     true,
			HeaderName:       "X-Session-ID",
		},
		Badger: BadgerConfig{
			Path: "/data/carelink",
		},
		Redis: RedisConfig{
			Addr:      "",
			KeyPrefix: "carelink:",
			LockTTL:   5 * time.Second,
			LockWait:  3 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:         true,
			Store:           StoreMemory,
			BufferSize:      1000,
			MaxEvents:       100000,
			RetentionDays:   90,
			CleanupInterval: 24 * time.Hour,
		},
		Security: SecurityConfig{
			CORSOrigins:     []string{},
			RateLimitReqs:   60,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadWithKoanf loads configuration in three layers (defaults, optional
// YAML file, environment) and validates the result.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var sliceConfigPaths = []string{
	"security.cors_origins",
}

// processSliceFields splits comma-separated env values for slice fields.
// Values that arrived as YAML lists are left alone.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok || s == "" {
			continue
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if err := k.Set(path, out); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lower-cased) to koanf paths.
// Variables not listed are ignored.
var envMappings = map[string]string{
	"http_port":        "server.port",
	"http_host":        "server.host",
	"server_timeout":   "server.timeout",
	"shutdown_timeout": "server.shutdown_timeout",
	"environment":      "server.environment",

	"auth_fallback_enabled":     "auth.fallback_enabled",
	"managed_auth_enabled":      "auth.managed.enabled",
	"managed_auth_mode":         "auth.managed.mode",
	"managed_auth_userinfo_url": "auth.managed.userinfo_url",
	"managed_auth_api_key":      "auth.managed.api_key",
	"managed_auth_issuer_url":   "auth.managed.issuer_url",
	"managed_auth_jwks_url":     "auth.managed.jwks_url",
	"managed_auth_client_id":    "auth.managed.client_id",
	"managed_auth_timeout":      "auth.managed.timeout",
	"managed_auth_role_claim":   "auth.managed.role_claim",

	"local_token_secret":           "auth.local.secret",
	"local_token_secret_file":      "auth.local.secret_file",
	"local_token_rotation_overlap": "auth.local.rotation_overlap",
	"local_token_issuer":           "auth.local.issuer",
	"local_token_audience":         "auth.local.audience",
	"local_token_grace_period":     "auth.local.grace_period",

	"demo_mode_enabled": "auth.demo.enabled",
	"demo_id_prefix":    "auth.demo.id_prefix",

	"emergency_access_enabled":     "auth.emergency.enabled",
	"emergency_access_secret":      "auth.emergency.secret",
	"emergency_access_secret_hash": "auth.emergency.secret_hash",
	"emergency_access_header":      "auth.emergency.header_name",
	"emergency_reason_header":      "auth.emergency.reason_header",
	"emergency_max_per_hour":       "auth.emergency.max_per_hour",

	"breaker_max_failures": "auth.breaker.max_consecutive_failures",
	"breaker_timeout":      "auth.breaker.timeout",
	"breaker_distributed":  "auth.breaker.distributed",

	"session_timeout":            "session.timeout",
	"session_inactivity_timeout": "session.inactivity_timeout",
	"session_renew_threshold":    "session.renew_threshold",
	"session_warning_threshold":  "session.warning_threshold",
	"session_max_concurrent":     "session.max_concurrent",
	"session_max_renewals":       "session.max_renewals",
	"session_expired_retention":  "session.expired_retention",
	"session_sweep_interval":     "session.sweep_interval",
	"session_store":              "session.store",
	"session_cookie_name":        "session.cookie_name",
	"session_cookie_secure":      "session.cookie_secure",
	"session_cookie_domain":      "session.cookie_domain",
	"session_header_name":        "session.header_name",

	"badger_path":      "badger.path",
	"badger_in_memory": "badger.in_memory",

	"redis_addr":       "redis.addr",
	"redis_password":   "redis.password",
	"redis_db":         "redis.db",
	"redis_key_prefix": "redis.key_prefix",
	"redis_lock_ttl":   "redis.lock_ttl",
	"redis_lock_wait":  "redis.lock_wait",

	"audit_enabled":          "audit.enabled",
	"audit_store":            "audit.store",
	"audit_buffer_size":      "audit.buffer_size",
	"audit_max_events":       "audit.max_events",
	"audit_retention_days":   "audit.retention_days",
	"audit_cleanup_interval": "audit.cleanup_interval",
	"audit_log_to_stdout":    "audit.log_to_stdout",

	"cors_origins":        "security.cors_origins",
	"rate_limit_requests": "security.rate_limit_reqs",
	"rate_limit_window":   "security.rate_limit_window",
	"disable_rate_limit":  "security.rate_limit_disabled",
	"trust_proxy":         "security.trust_proxy",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc maps an environment variable to its koanf path, or ""
// to skip it.
//
//	SESSION_TIMEOUT    -> session.timeout
//	LOCAL_TOKEN_SECRET -> auth.local.secret
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
