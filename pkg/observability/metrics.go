package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder receives the access-control events worth counting. Metrics (Prometheus) and
// OTelMetrics both implement it; Recorders fans out to several.
type Recorder interface {
	SessionResolved(ctx context.Context, outcome string)
	AuthorizationDecided(ctx context.Context, resource, action string, allowed bool)
	ActiveOrganizationResolved(ctx context.Context, state string)
	LastOwnerRejected(ctx context.Context)
	InvitationTransitioned(ctx context.Context, status string)
	RateLimited(ctx context.Context, limiter string)
	SweeperRan(ctx context.Context, job string, removed int64, err error)
}

// Session resolution outcomes
const (
	OutcomeAuthenticated   = "authenticated"
	OutcomeUnauthenticated = "unauthenticated"
	OutcomeError           = "error"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Access-control metrics
	SessionResolutionsTotal    *prometheus.CounterVec
	AuthorizationDecisions     *prometheus.CounterVec
	ActiveOrgResolutionsTotal  *prometheus.CounterVec
	LastOwnerRejectionsTotal   prometheus.Counter
	InvitationTransitionsTotal *prometheus.CounterVec
	RateLimitedTotal           *prometheus.CounterVec

	// Sweeper metrics
	SweeperRunsTotal    *prometheus.CounterVec
	SweeperRemovedTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge
	DBConnectionsIdle  prometheus.Gauge
}

var _ Recorder = (*Metrics)(nil)

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatehouse_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatehouse_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "route"},
		),

		SessionResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_session_resolutions_total",
				Help: "Session token resolutions by outcome",
			},
			[]string{"outcome"},
		),
		AuthorizationDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_authorization_decisions_total",
				Help: "Permission evaluations by resource, action and decision",
			},
			[]string{"resource", "action", "decision"},
		),
		ActiveOrgResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_active_organization_resolutions_total",
				Help: "Active-organization state resolutions by resulting state",
			},
			[]string{"state"},
		),
		LastOwnerRejectionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_last_owner_rejections_total",
				Help: "Role changes or removals rejected because they would leave no owner",
			},
		),
		InvitationTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_invitation_transitions_total",
				Help: "Invitation status transitions by resulting status",
			},
			[]string{"status"},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_rate_limited_total",
				Help: "Requests rejected by a rate limiter",
			},
			[]string{"limiter"},
		),

		SweeperRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_sweeper_runs_total",
				Help: "Sweeper job runs by job and status",
			},
			[]string{"job", "status"},
		),
		SweeperRemovedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_sweeper_removed_total",
				Help: "Rows deleted or expired by sweeper jobs",
			},
			[]string{"job"},
		),

		DBConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatehouse_db_connections_open",
				Help: "Number of open database connections on the primary",
			},
		),
		DBConnectionsInUse: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatehouse_db_connections_in_use",
				Help: "Number of database connections in use on the primary",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatehouse_db_connections_idle",
				Help: "Number of idle database connections on the primary",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.SessionResolutionsTotal,
		m.AuthorizationDecisions,
		m.ActiveOrgResolutionsTotal,
		m.LastOwnerRejectionsTotal,
		m.InvitationTransitionsTotal,
		m.RateLimitedTotal,
		m.SweeperRunsTotal,
		m.SweeperRemovedTotal,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.DBConnectionsIdle,
	)

	return m
}

// SessionResolved counts a session resolution.
func (m *Metrics) SessionResolved(_ context.Context, outcome string) {
	m.SessionResolutionsTotal.WithLabelValues(outcome).Inc()
}

// AuthorizationDecided counts a permission evaluation.
func (m *Metrics) AuthorizationDecided(_ context.Context, resource, action string, allowed bool) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.AuthorizationDecisions.WithLabelValues(resource, action, decision).Inc()
}

// ActiveOrganizationResolved counts a state-machine resolution.
func (m *Metrics) ActiveOrganizationResolved(_ context.Context, state string) {
	m.ActiveOrgResolutionsTotal.WithLabelValues(state).Inc()
}

// LastOwnerRejected counts a last-owner rejection.
func (m *Metrics) LastOwnerRejected(_ context.Context) {
	m.LastOwnerRejectionsTotal.Inc()
}

// InvitationTransitioned counts an invitation entering status.
func (m *Metrics) InvitationTransitioned(_ context.Context, status string) {
	m.InvitationTransitionsTotal.WithLabelValues(status).Inc()
}

// RateLimited counts a rejected request.
func (m *Metrics) RateLimited(_ context.Context, limiter string) {
	m.RateLimitedTotal.WithLabelValues(limiter).Inc()
}

// SweeperRan counts a sweeper job run.
func (m *Metrics) SweeperRan(_ context.Context, job string, removed int64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.SweeperRunsTotal.WithLabelValues(job, status).Inc()
	if removed > 0 {
		m.SweeperRemovedTotal.WithLabelValues(job).Add(float64(removed))
	}
}

// Recorders fans events out to every recorder in the slice.
type Recorders []Recorder

var _ Recorder = Recorders(nil)

func (rs Recorders) SessionResolved(ctx context.Context, outcome string) {
	for _, r := range rs {
		r.SessionResolved(ctx, outcome)
	}
}

func (rs Recorders) AuthorizationDecided(ctx context.Context, resource, action string, allowed bool) {
	for _, r := range rs {
		r.AuthorizationDecided(ctx, resource, action, allowed)
	}
}

func (rs Recorders) ActiveOrganizationResolved(ctx context.Context, state string) {
	for _, r := range rs {
		r.ActiveOrganizationResolved(ctx, state)
	}
}

func (rs Recorders) LastOwnerRejected(ctx context.Context) {
	for _, r := range rs {
		r.LastOwnerRejected(ctx)
	}
}

func (rs Recorders) InvitationTransitioned(ctx context.Context, status string) {
	for _, r := range rs {
		r.InvitationTransitioned(ctx, status)
	}
}

func (rs Recorders) RateLimited(ctx context.Context, limiter string) {
	for _, r := range rs {
		r.RateLimited(ctx, limiter)
	}
}

func (rs Recorders) SweeperRan(ctx context.Context, job string, removed int64, err error) {
	for _, r := range rs {
		r.SweeperRan(ctx, job, removed, err)
	}
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routeLabel returns the mux route template so ids in paths do not explode label cardinality.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics. It is meant
// to be installed with mux.Router.Use so the matched route is known.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

// DBStatsSource exposes connection pool statistics; sqlstore.ConnectionManager satisfies it.
type DBStatsSource interface {
	PoolStats() (open, inUse, idle int)
}

// StartDBStatsCollector samples pool statistics every interval until ctx is done.
func (m *Metrics) StartDBStatsCollector(ctx context.Context, src DBStatsSource, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			m.recordPool(src)
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (m *Metrics) recordPool(src DBStatsSource) {
	open, inUse, idle := src.PoolStats()
	m.DBConnectionsOpen.Set(float64(open))
	m.DBConnectionsInUse.Set(float64(inUse))
	m.DBConnectionsIdle.Set(float64(idle))
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
