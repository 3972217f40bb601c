package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatehouse/pkg/api"
	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/middleware"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/orgs"
	"github.com/platinummonkey/gatehouse/pkg/storage"
	"github.com/platinummonkey/gatehouse/pkg/storage/memory"
	"github.com/platinummonkey/gatehouse/pkg/storage/objectstore"
	"github.com/platinummonkey/gatehouse/pkg/storage/sqlstore"
)

// store is what both services need from the persistence layer.
type store interface {
	auth.Store
	orgs.Store
}

// dependencies are the long-lived clients opened at startup. Optional ones are nil.
type dependencies struct {
	store store
	db    observability.DatabaseChecker
	redis *redis.Client
	logos orgs.LogoStore
	audit audit.Logger
	// optional health checks that degrade readiness when failing
	checks map[string]observability.DatabaseChecker
}

func openDependencies(ctx context.Context, cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics, shutdown *observability.ShutdownManager) (*dependencies, error) {
	deps := &dependencies{checks: make(map[string]observability.DatabaseChecker)}

	switch cfg.Storage.Type {
	case storage.TypeMemory:
		logger.Warn("using in-memory storage; all data is lost on restart")
		deps.store = memory.New()
	default:
		s, err := sqlstore.Open(cfg.Storage, logger)
		if err != nil {
			return nil, err
		}
		shutdown.Register("database", func(context.Context) error { return s.Close() })
		if err := s.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		conns := s.Connections()
		conns.StartHealthCheckRoutine(ctx, 30*time.Second)
		if metrics != nil {
			metrics.StartDBStatsCollector(ctx, conns, 15*time.Second)
		}
		deps.store = s
		deps.db = conns
	}

	if cfg.Storage.RedisURL != "" {
		client, err := storage.NewRedisClient(cfg.Storage)
		if err != nil {
			return nil, err
		}
		shutdown.Register("redis", func(context.Context) error { return client.Close() })
		deps.redis = client
	}

	if cfg.Storage.LogosEnabled() {
		logos, err := objectstore.NewLogoStore(ctx, cfg.Storage)
		if err != nil {
			return nil, err
		}
		deps.logos = logos
		deps.checks["logos"] = logos
		logger.WithField("bucket", cfg.Storage.S3Bucket).Info("organization logo uploads enabled")
	}

	auditLogger, err := openAudit(cfg.Audit, logger)
	if err != nil {
		return nil, err
	}
	shutdown.Register("audit", func(context.Context) error { return auditLogger.Close() })
	deps.audit = auditLogger

	return deps, nil
}

// openAudit fans audit events out to the structured log and, when a directory is
// configured, a rotating file.
func openAudit(cfg config.AuditConfig, logger *observability.Logger) (*audit.MultiLogger, error) {
	sinks := []audit.Logger{audit.NewStructuredLogger(logger)}
	if cfg.Dir != "" {
		file, err := audit.NewFileLogger(audit.FileLoggerConfig{
			Dir:      cfg.Dir,
			MaxSize:  cfg.MaxSize,
			MaxFiles: cfg.MaxFiles,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		sinks = append(sinks, file)
	}
	multi := audit.NewMultiLogger(sinks...)
	multi.SetAsync(true)
	return multi, nil
}

func cookieFor(cfg *config.Config) middleware.SessionCookie {
	return middleware.SessionCookie{Name: cfg.Auth.CookieName, Secure: cfg.Auth.CookieSecure}
}

// limitersFor builds the request limiters. With Redis every replica shares one budget.
func limitersFor(cfg *config.Config, client *redis.Client) api.Limiters {
	if !cfg.RateLimit.Enabled {
		return api.Limiters{}
	}
	if client != nil {
		return api.Limiters{
			User:       middleware.NewDistributedRateLimiter(client, middleware.PerUserRateLimitConfig(), "gatehouse:ratelimit:user"),
			Anonymous:  middleware.NewDistributedRateLimiter(client, middleware.DefaultRateLimitConfig(), "gatehouse:ratelimit:anon"),
			Credential: middleware.NewDistributedRateLimiter(client, middleware.CredentialRateLimitConfig(), "gatehouse:ratelimit:credential"),
		}
	}
	return api.Limiters{
		User:       middleware.NewRateLimiter(middleware.PerUserRateLimitConfig()),
		Anonymous:  middleware.NewRateLimiter(middleware.DefaultRateLimitConfig()),
		Credential: middleware.NewRateLimiter(middleware.CredentialRateLimitConfig()),
	}
}

// newJobLogger returns the logrus logger handed to the cron scheduler.
func newJobLogger(level observability.LogLevel) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	switch level {
	case observability.DebugLevel:
		log.SetLevel(logrus.DebugLevel)
	case observability.WarnLevel:
		log.SetLevel(logrus.WarnLevel)
	case observability.ErrorLevel:
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}
