package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/gatehouse/pkg/api"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/orgs"
	"github.com/platinummonkey/gatehouse/pkg/sso"
	"github.com/platinummonkey/gatehouse/pkg/sweeper"
)

var version = "dev"

func main() {
	migrateOnly := flag.Bool("migrate", false, "Apply database migrations and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *migrateOnly); err != nil {
		fmt.Fprintf(os.Stderr, "gatehouse: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, migrateOnly bool) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.Level(), nil)
	defer observability.RecoverPanic(logger, "main")

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)
	defer func() {
		// Cleanup gets its own deadline; ctx is already cancelled on a signal.
		if err := shutdown.Shutdown(context.Background()); err != nil {
			logger.WithError(err).Error("shutdown finished with errors")
		}
	}()

	providers, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	shutdown.Register("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	recorder := observability.Recorders{}
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
		recorder = append(recorder, metrics)
	}

	var otelMetrics *observability.OTelMetrics
	if providers != nil {
		if otelMetrics, err = observability.NewOTelMetrics(); err != nil {
			return err
		}
		recorder = append(recorder, otelMetrics)
	}

	deps, err := openDependencies(ctx, cfg, logger, metrics, shutdown)
	if err != nil {
		return err
	}
	if migrateOnly {
		logger.Info("migrations applied")
		return nil
	}

	authService := auth.NewService(deps.store, auth.ServiceConfig{
		SessionTTL: cfg.Auth.SessionTTL,
		BcryptCost: cfg.Auth.BcryptCost,
	})
	orgService := orgs.NewService(deps.store, orgs.Config{
		InvitationTTL: cfg.Auth.InvitationTTL,
		Logos:         deps.logos,
	})

	apiDeps := api.Deps{
		Auth:        authService,
		Orgs:        orgService,
		Logger:      logger,
		Metrics:     metrics,
		Audit:       deps.audit,
		Cookie:      cookieFor(cfg),
		Limiters:    limitersFor(cfg, deps.redis),
		CORSOrigins: cfg.Server.CORSOrigins,
	}
	if otelMetrics != nil {
		apiDeps.Recorder = otelMetrics
	}
	if cfg.SSO.Enabled() {
		provider, err := sso.NewProvider(ctx, cfg.SSO)
		if err != nil {
			return err
		}
		apiDeps.SSO = sso.NewHandlers(provider, authService, apiDeps.Cookie, orgService.DefaultActiveOrganization, deps.audit)
		logger.WithField("issuer", cfg.SSO.IssuerURL).Info("OIDC login enabled")
	}

	if cfg.Sweeper.Enabled {
		sw, err := sweeper.NewDefault(sweeper.Config{
			SessionSchedule:    cfg.Sweeper.SessionSchedule,
			InvitationSchedule: cfg.Sweeper.InvitationSchedule,
		}, authService, orgService, newJobLogger(cfg.Observability.Level()), recorder)
		if err != nil {
			return err
		}
		sw.Start()
		shutdown.Register("sweeper", sw.Stop)
	}

	mainServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewServer(apiDeps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	health := observability.NewHealthChecker(deps.db, deps.redis, version)
	for name, c := range deps.checks {
		health.AddOptional(name, c)
	}
	observability.RegisterHealthRoutes(healthMux, health)
	if metrics != nil {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", mainServer.Addr).Info("starting gatehouse API server")
		return serve(mainServer)
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("starting health server")
		return serve(healthServer)
	})
	if cfg.File != "" {
		g.Go(func() error { return config.WatchLogLevel(gctx, cfg.File, logger) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down servers")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return errors.Join(mainServer.Shutdown(sctx), healthServer.Shutdown(sctx))
	})

	return g.Wait()
}

// serve runs srv until it is shut down.
func serve(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server on %s: %w", srv.Addr, err)
	}
	return nil
}
