package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics holds OpenTelemetry metric instruments for access-control events.
// HTTP server metrics come from otelhttp.
type OTelMetrics struct {
	sessionResolutions    metric.Int64Counter
	authorizationDecision metric.Int64Counter
	activeOrgResolutions  metric.Int64Counter
	lastOwnerRejections   metric.Int64Counter
	invitationTransitions metric.Int64Counter
	rateLimited           metric.Int64Counter
	sweeperRuns           metric.Int64Counter
	sweeperRemoved        metric.Int64Counter
}

var _ Recorder = (*OTelMetrics)(nil)

// NewOTelMetrics creates the instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	return NewOTelMetricsWithMeter(otel.Meter("github.com/platinummonkey/gatehouse"))
}

// NewOTelMetricsWithMeter creates the instruments on meter
func NewOTelMetricsWithMeter(meter metric.Meter) (*OTelMetrics, error) {
	m := &OTelMetrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&m.sessionResolutions, "gatehouse.session.resolutions", "Session token resolutions by outcome", "{resolution}"},
		{&m.authorizationDecision, "gatehouse.authorization.decisions", "Permission evaluations by decision", "{decision}"},
		{&m.activeOrgResolutions, "gatehouse.active_organization.resolutions", "Active-organization state resolutions", "{resolution}"},
		{&m.lastOwnerRejections, "gatehouse.last_owner.rejections", "Changes rejected by the last-owner rule", "{rejection}"},
		{&m.invitationTransitions, "gatehouse.invitation.transitions", "Invitation status transitions", "{transition}"},
		{&m.rateLimited, "gatehouse.rate_limited", "Requests rejected by a rate limiter", "{request}"},
		{&m.sweeperRuns, "gatehouse.sweeper.runs", "Sweeper job runs", "{run}"},
		{&m.sweeperRemoved, "gatehouse.sweeper.removed", "Rows deleted or expired by sweeper jobs", "{row}"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.dst = counter
	}

	return m, nil
}

// SessionResolved records a session resolution
func (m *OTelMetrics) SessionResolved(ctx context.Context, outcome string) {
	m.sessionResolutions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// AuthorizationDecided records a permission evaluation
func (m *OTelMetrics) AuthorizationDecided(ctx context.Context, resource, action string, allowed bool) {
	m.authorizationDecision.Add(ctx, 1, metric.WithAttributes(
		attribute.String("resource", resource),
		attribute.String("action", action),
		attribute.Bool("allowed", allowed),
	))
}

// ActiveOrganizationResolved records a state-machine resolution
func (m *OTelMetrics) ActiveOrganizationResolved(ctx context.Context, state string) {
	m.activeOrgResolutions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

// LastOwnerRejected records a last-owner rejection
func (m *OTelMetrics) LastOwnerRejected(ctx context.Context) {
	m.lastOwnerRejections.Add(ctx, 1)
}

// InvitationTransitioned records an invitation transition
func (m *OTelMetrics) InvitationTransitioned(ctx context.Context, status string) {
	m.invitationTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RateLimited records a rejected request
func (m *OTelMetrics) RateLimited(ctx context.Context, limiter string) {
	m.rateLimited.Add(ctx, 1, metric.WithAttributes(attribute.String("limiter", limiter)))
}

// SweeperRan records a sweeper job run
func (m *OTelMetrics) SweeperRan(ctx context.Context, job string, removed int64, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("job", job),
		attribute.Bool("error", err != nil),
	}
	m.sweeperRuns.Add(ctx, 1, metric.WithAttributes(attrs...))
	if removed > 0 {
		m.sweeperRemoved.Add(ctx, removed, metric.WithAttributes(attribute.String("job", job)))
	}
}
