package api

import (
	"net/http"

	"github.com/platinummonkey/gatehouse/pkg/apperr"
	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/middleware"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/orgs"
)

// events records the audit trail and access-control metrics for handler outcomes.
type events struct {
	audit    audit.Logger
	recorder observability.Recorder
}

// success records a completed state change. Optional fn decorates the event.
func (e events) success(r *http.Request, eventType audit.EventType, resourceType audit.ResourceType, resourceID, orgID string, fn ...func(*audit.AuditEvent)) {
	event := audit.NewEvent(r.Context(), r, eventType, audit.EventStatusSuccess)
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	event.OrganizationID = orgID
	if session := middleware.GetSession(r); session != nil {
		event.SessionID = session.ID
		if event.UserID == "" {
			event.UserID = session.UserID
		}
	}
	for _, f := range fn {
		f(event)
	}
	e.log(r, event)
}

// failure records a rejected state change. Authorization failures are recorded as
// denials; last-owner rejections also count towards their metric.
func (e events) failure(r *http.Request, eventType audit.EventType, resourceType audit.ResourceType, orgID string, err error) {
	ctx := r.Context()
	var event *audit.AuditEvent

	switch apperr.KindOf(err) {
	case apperr.KindLastOwnerViolation:
		e.recorder.LastOwnerRejected(ctx)
		event = audit.NewEvent(ctx, r, audit.EventTypeLastOwnerRejected, audit.EventStatusDenied)
		event.Metadata["operation"] = string(eventType)
	case apperr.KindForbidden, apperr.KindNotAMember:
		event = audit.NewEvent(ctx, r, audit.EventTypeAccessDenied, audit.EventStatusDenied)
		event.Metadata["operation"] = string(eventType)
	case apperr.KindInternal:
		event = audit.NewEvent(ctx, r, eventType, audit.EventStatusFailure)
	default:
		// Validation and state errors are not audited.
		return
	}

	event.ResourceType = resourceType
	event.OrganizationID = orgID
	event.Message = apperr.Message(err)
	event.ErrorMessage = err.Error()
	e.log(r, event)
}

func (e events) log(r *http.Request, event *audit.AuditEvent) {
	if err := e.audit.Log(r.Context(), event); err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("failed to write audit event")
	}
}

// invitation counts an invitation transition.
func (e events) invitation(r *http.Request, status orgs.InvitationStatus) {
	e.recorder.InvitationTransitioned(r.Context(), string(status))
}

// writeError logs unexpected failures and writes err to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		observability.FromContext(r.Context()).WithError(err).Error("request failed")
	}
	httputil.WriteAppError(w, err)
}

// sessionOf returns the authenticated session. AuthMiddleware guarantees it on every route
// that calls this.
func sessionOf(r *http.Request) *auth.Session {
	return middleware.GetSession(r)
}

// activeOrg returns the active organization id resolved by the org guard.
func activeOrg(r *http.Request) string {
	if res := middleware.GetResolution(r); res != nil {
		return res.OrganizationID
	}
	return ""
}
