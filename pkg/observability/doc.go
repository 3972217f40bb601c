// Package observability provides structured logging, Prometheus metrics, OpenTelemetry
// setup, health checks and graceful shutdown for gatehouse.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("organization_id", orgID).Info("organization created")
//	logger.SetLevel(observability.DebugLevel) // applies to every derived logger
//
// Request handlers pick up the request-scoped logger with FromContext.
//
// # Metrics
//
// Access-control events are reported through the Recorder interface. Metrics publishes
// them to Prometheus and OTelMetrics to the global OpenTelemetry meter; Recorders fans out:
//
//	rec := observability.Recorders{promMetrics, otelMetrics}
//	rec.AuthorizationDecided(ctx, "member", "delete", false)
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(connManager, redisClient, version)
//	observability.RegisterHealthRoutes(mux, checker) // /healthz, /readyz
//
// # Shutdown
//
//	sm := observability.NewShutdownManager(logger, 30*time.Second)
//	sm.Register("database", func(context.Context) error { return store.Close() })
//	err := sm.Shutdown(ctx) // reverse order, errors aggregated
package observability
