// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"

	"github.com/tomtom215/carelink/internal/api"
	"github.com/tomtom215/carelink/internal/audit"
	"github.com/tomtom215/carelink/internal/auth"
	"github.com/tomtom215/carelink/internal/breaker"
	"github.com/tomtom215/carelink/internal/config"
	"github.com/tomtom215/carelink/internal/gateway"
	"github.com/tomtom215/carelink/internal/health"
	"github.com/tomtom215/carelink/internal/logging"
	"github.com/tomtom215/carelink/internal/session"
	"github.com/tomtom215/carelink/internal/supervisor"
	"github.com/tomtom215/carelink/internal/supervisor/services"
)

// resources holds everything main must close on the way out.
type resources struct {
	badger *badger.DB
	redis  *redis.Client
	audit  *audit.Logger
}

func (r *resources) close() {
	if r.audit != nil {
		if err := r.audit.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing audit logger")
		}
	}
	if r.redis != nil {
		if err := r.redis.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing redis client")
		}
	}
	if r.badger != nil {
		if err := r.badger.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing badger database")
		}
	}
}

//nolint:gocyclo // sequential startup wiring
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Format = cfg.Logging.Format
	logCfg.Caller = cfg.Logging.Caller
	logging.Init(logCfg)

	logging.Info().
		Str("environment", cfg.Server.Environment).
		Bool("managed_auth", cfg.Auth.Managed.Enabled).
		Bool("fallback", cfg.Auth.FallbackEnabled).
		Str("session_store", cfg.Session.Store).
		Msg("Starting CareLink gateway")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res := &resources{}
	defer res.close()

	// === STORAGE ===

	if cfg.Session.Store == config.StoreBadger || (cfg.Audit.Enabled && cfg.Audit.Store == config.StoreBadger) {
		res.badger, err = openBadger(cfg.Badger)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to open badger database")
		}
		logging.Info().Str("path", cfg.Badger.Path).Bool("in_memory", cfg.Badger.InMemory).Msg("Badger database opened")
	}

	if cfg.Session.Store == config.StoreRedis || cfg.Auth.Breaker.Distributed {
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		res.redis, err = session.NewRedisClient(connectCtx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		cancel()
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to connect to redis")
		}
		logging.Info().Str("addr", cfg.Redis.Addr).Msg("Redis connected")
	}

	// === AUDIT ===

	var sink audit.Sink = audit.Discard
	if cfg.Audit.Enabled {
		res.audit = newAuditLogger(cfg.Audit, res.badger)
		sink = res.audit
		logging.Info().Str("store", cfg.Audit.Store).Int("retention_days", cfg.Audit.RetentionDays).Msg("Audit logging enabled")
	} else {
		logging.Warn().Msg("Audit logging is DISABLED (AUDIT_ENABLED=false)")
	}

	// === AUTHENTICATION ===

	secrets, fileSecrets, err := newSecretProvider(cfg.Auth.Local)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load local token secret")
	}

	orchCfg := auth.OrchestratorConfig{
		FallbackEnabled: cfg.Auth.FallbackEnabled,
		Audit:           sink,
	}

	if secrets != nil && cfg.LocalPathEnabled() {
		local, err := auth.NewLocalVerifier(auth.LocalVerifierConfig{
			Secrets:     secrets,
			GracePeriod: cfg.Auth.Local.GracePeriod,
			Issuer:      cfg.Auth.Local.Issuer,
			Audience:    cfg.Auth.Local.Audience,
		})
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to create local token verifier")
		}
		orchCfg.Local = local
		logging.Info().Bool("rotating", fileSecrets != nil).Msg("Local token verification enabled")
	}

	var managedBreaker health.BreakerSource
	if cfg.Auth.Managed.Enabled {
		managed, err := newManagedVerifier(cfg, res.redis, sink)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to create managed identity verifier")
		}
		orchCfg.Managed = managed
		managedBreaker = managed.Breaker()
		logging.Info().
			Str("mode", cfg.Auth.Managed.Mode).
			Uint32("max_failures", cfg.Auth.Breaker.MaxConsecutiveFailures).
			Dur("breaker_timeout", cfg.Auth.Breaker.Timeout).
			Bool("distributed", cfg.Auth.Breaker.Distributed).
			Msg("Managed identity provider enabled")
	}

	if cfg.Auth.Emergency.Enabled {
		emergency, err := auth.NewEmergencyStrategy(auth.EmergencyConfig{
			Secret:     cfg.Auth.Emergency.Secret,
			SecretHash: cfg.Auth.Emergency.SecretHash,
			MaxPerHour: cfg.Auth.Emergency.MaxPerHour,
			Audit:      sink,
		})
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to enable emergency access")
		}
		orchCfg.Bypass = append(orchCfg.Bypass, emergency)
	}

	if cfg.Auth.Demo.Enabled {
		if cfg.IsProduction() {
			logging.Fatal().Msg("Demo mode cannot be enabled in production (DEMO_MODE_ENABLED=true)")
		}
		orchCfg.Bypass = append(orchCfg.Bypass, auth.NewDemoStrategy(auth.DemoConfig{
			IDPrefix: cfg.Auth.Demo.IDPrefix,
			Audit:    sink,
		}))
	}

	orchestrator, err := auth.NewOrchestrator(orchCfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create authentication orchestrator")
	}

	// === SESSIONS ===

	store, err := session.NewStore(session.StoreOptions{
		Kind:   cfg.Session.Store,
		Badger: res.badger,
		Redis:  redisOrNil(res.redis),
		RedisConfig: session.RedisStoreConfig{
			KeyPrefix: cfg.Redis.KeyPrefix,
			LockTTL:   cfg.Redis.LockTTL,
			LockWait:  cfg.Redis.LockWait,
		},
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create session store")
	}

	sessions, err := session.NewManager(store, session.Config{
		Timeout:           cfg.Session.Timeout,
		InactivityTimeout: cfg.Session.EffectiveInactivityTimeout(),
		RenewThreshold:    cfg.Session.RenewThreshold,
		WarningThreshold:  cfg.Session.WarningThreshold,
		ExpiredRetention:  cfg.Session.ExpiredRetention,
		MaxConcurrent:     cfg.Session.MaxConcurrent,
		MaxRenewals:       cfg.Session.MaxRenewals,
		Audit:             sink,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create session manager")
	}
	logging.Info().
		Str("store", store.Name()).
		Dur("timeout", cfg.Session.Timeout).
		Int("max_concurrent", cfg.Session.MaxConcurrent).
		Msg("Session manager initialized")

	cookie := session.CookieConfig{
		Name:       cfg.Session.CookieName,
		HeaderName: cfg.Session.HeaderName,
		Secure:     cfg.Session.CookieSecure,
		Domain:     cfg.Session.CookieDomain,
		MaxAge:     cfg.Session.Timeout,
	}

	reporter := health.NewReporter(health.Config{
		Managed:         managedBreaker,
		Local:           localSecrets(orchCfg.Local, secrets),
		FallbackEnabled: cfg.Auth.FallbackEnabled,
	})

	// === HTTP ===

	gw := gateway.NewMiddleware(gateway.Config{
		Pipeline:              gateway.DefaultPipeline(orchestrator, sessions),
		Cookie:                cookie,
		EmergencyKeyHeader:    cfg.Auth.Emergency.HeaderName,
		EmergencyReasonHeader: cfg.Auth.Emergency.ReasonHeader,
		Audit:                 sink,
	})

	handler, err := api.NewHandler(api.HandlerConfig{
		Sessions: sessions,
		Health:   reporter,
		Cookie:   cookie,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create API handler")
	}

	chiCfg := api.DefaultChiMiddlewareConfig()
	chiCfg.CORSAllowedOrigins = cfg.Security.CORSOrigins
	if cookie.HeaderName != "" && cookie.HeaderName != session.DefaultHeaderName {
		chiCfg.CORSExposedHeaders = append(chiCfg.CORSExposedHeaders, cookie.HeaderName)
		chiCfg.CORSAllowedHeaders = append(chiCfg.CORSAllowedHeaders, cookie.HeaderName)
	}
	if cfg.Security.RateLimitReqs > 0 {
		chiCfg.RateLimitRequests = cfg.Security.RateLimitReqs
	}
	if cfg.Security.RateLimitWindow > 0 {
		chiCfg.RateLimitWindow = cfg.Security.RateLimitWindow
	}
	chiCfg.RateLimitDisabled = cfg.Security.RateLimitDisabled

	router := api.NewRouter(handler, gw, api.NewChiMiddleware(chiCfg), cfg.Security.TrustProxy)

	var root http.Handler = router.Setup()
	if cfg.Server.Timeout > 0 {
		root = http.TimeoutHandler(root, cfg.Server.Timeout, `{"success":false,"error":{"code":"TIMEOUT","message":"request timed out"}}`)
	}

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout + 5*time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	// === SUPERVISOR TREE ===

	treeCfg := supervisor.DefaultTreeConfig()
	if cfg.Server.ShutdownTimeout > 0 {
		treeCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout
	}
	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), treeCfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	tree.AddDataService(services.NewPeriodicService("session-sweeper", cfg.Session.SweepInterval, sessions.Sweep))

	if res.audit != nil {
		tree.AddDataService(services.NewPeriodicService("audit-retention", cfg.Audit.CleanupInterval, func(ctx context.Context) (int, error) {
			n, err := res.audit.PurgeExpired(ctx)
			return int(n), err
		}))
	}

	if fileSecrets != nil {
		tree.AddDataService(services.NewWatchService("secret-watcher", fileSecrets.Watch))
	}

	tree.AddAPIService(services.NewHTTPServerService(server, treeCfg.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	logStartupWarnings(cfg)

	// === RUN ===

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("CareLink stopped")
}

func openBadger(cfg config.BadgerConfig) (*badger.DB, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil
	return badger.Open(opts)
}

func newAuditLogger(cfg config.AuditConfig, db *badger.DB) *audit.Logger {
	var store audit.Store
	if cfg.Store == config.StoreBadger && db != nil {
		store = audit.NewBadgerStore(db)
	} else {
		store = audit.NewMemoryStore(cfg.MaxEvents)
	}
	ac := audit.DefaultConfig()
	ac.RetentionDays = cfg.RetentionDays
	ac.LogToStdout = cfg.LogToStdout
	if cfg.BufferSize > 0 {
		ac.BufferSize = cfg.BufferSize
	}
	return audit.NewLogger(store, ac)
}

// newSecretProvider returns the local signing key provider. The second
// return value is set when the key comes from a watched file.
func newSecretProvider(cfg config.LocalConfig) (auth.SecretProvider, *auth.FileSecretProvider, error) {
	switch {
	case cfg.SecretFile != "":
		p, err := auth.NewFileSecretProvider(cfg.SecretFile, cfg.RotationOverlap)
		if err != nil {
			return nil, nil, err
		}
		return p, p, nil
	case cfg.Secret != "":
		p, err := auth.NewStaticSecretProvider(cfg.Secret)
		if err != nil {
			return nil, nil, err
		}
		return p, nil, nil
	default:
		return nil, nil, nil
	}
}

func newManagedVerifier(cfg *config.Config, rdb *redis.Client, sink audit.Sink) (*auth.ManagedVerifier, error) {
	mc := cfg.Auth.Managed

	var client auth.IdentityClient
	var err error
	switch mc.Mode {
	case config.ManagedModeUserInfo:
		client, err = auth.NewHTTPIdentityClient(auth.HTTPIdentityClientConfig{
			UserInfoURL: mc.UserInfoURL,
			APIKey:      mc.APIKey,
			RoleClaim:   mc.RoleClaim,
		})
	case config.ManagedModeOIDC:
		client, err = auth.NewOIDCIdentityClient(auth.OIDCIdentityClientConfig{
			IssuerURL: mc.IssuerURL,
			JWKSURL:   mc.JWKSURL,
			ClientID:  mc.ClientID,
			RoleClaim: mc.RoleClaim,
		})
	default:
		err = fmt.Errorf("unknown managed auth mode %q", mc.Mode)
	}
	if err != nil {
		return nil, err
	}

	var shared gobreaker.SharedDataStore
	if cfg.Auth.Breaker.Distributed && rdb != nil {
		shared = breaker.NewRedisStateStore(rdb, cfg.Redis.KeyPrefix, cfg.Redis.LockTTL)
	}

	cb, err := auth.NewManagedBreaker(cfg.Auth.Breaker.MaxConsecutiveFailures, cfg.Auth.Breaker.Timeout, shared, sink)
	if err != nil {
		return nil, err
	}
	return auth.NewManagedVerifier(client, cb, mc.Timeout), nil
}

// redisOrNil avoids handing a typed nil client to the store factory.
func redisOrNil(c *redis.Client) redis.UniversalClient {
	if c == nil {
		return nil
	}
	return c
}

// localSecrets reports the local key provider to health only when the
// local path is actually wired.
func localSecrets(local auth.TokenVerifier, secrets auth.SecretProvider) auth.SecretProvider {
	if local == nil {
		return nil
	}
	return secrets
}

func logStartupWarnings(cfg *config.Config) {
	if cfg.Auth.Demo.Enabled {
		logging.Warn().Msg("============================================================")
		logging.Warn().Msg("  SECURITY WARNING: Demo mode is ENABLED (DEMO_MODE_ENABLED=true)")
		logging.Warn().Msg("  ")
		logging.Warn().Msg("  Tokens whose id starts with the demo prefix are accepted")
		logging.Warn().Msg("  WITHOUT signature verification.")
		logging.Warn().Msg("  ")
		logging.Warn().Msg("  Use only for local development and demonstrations.")
		logging.Warn().Msg("============================================================")
	}

	if cfg.Auth.Emergency.Enabled {
		logging.Warn().Msg("============================================================")
		logging.Warn().Msg("  NOTICE: Emergency access is ENABLED (EMERGENCY_ACCESS_ENABLED=true)")
		logging.Warn().Msg("  ")
		logging.Warn().Str("header", cfg.Auth.Emergency.HeaderName).Msg("  Callers presenting the emergency secret get ADMIN access.")
		logging.Warn().Msg("  Every attempt is logged and audited at critical severity.")
		logging.Warn().Msg("  Disable it once the incident is over.")
		logging.Warn().Msg("============================================================")
	}

	if !cfg.Auth.Managed.Enabled {
		logging.Warn().Msg("Managed identity provider is disabled - only local tokens are accepted")
	} else if !cfg.Auth.FallbackEnabled {
		logging.Warn().Msg("Local token fallback is disabled - authentication fails while the identity provider is down")
	}

	if cfg.Security.RateLimitDisabled {
		logging.Warn().Msg("Rate limiting is DISABLED (DISABLE_RATE_LIMIT=true)")
	}

	if cfg.IsProduction() && cfg.Session.Store == config.StoreMemory {
		logging.Warn().Msg("============================================================")
		logging.Warn().Msg("  NOTICE: Session store is set to 'memory' (SESSION_STORE=memory)")
		logging.Warn().Msg("  ")
		logging.Warn().Msg("  Sessions are lost on restart and are not shared between")
		logging.Warn().Msg("  instances. For production consider:")
		logging.Warn().Msg("    SESSION_STORE=redis")
		logging.Warn().Msg("    REDIS_ADDR=redis:6379")
		logging.Warn().Msg("============================================================")
	}

	if cfg.IsProduction() && !cfg.Session.CookieSecure {
		logging.Warn().Msg("Session cookie is not marked Secure (SESSION_COOKIE_SECURE=false)")
	}
}
