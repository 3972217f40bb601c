package middleware

import (
	"context"
	"net/http"

	"github.com/platinummonkey/gatehouse/pkg/apperr"
	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/orgs"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
)

// ActiveOrganizationResolver derives the routing state of a session. orgs.Service implements it.
type ActiveOrganizationResolver interface {
	ResolveActiveOrganization(ctx context.Context, session *auth.Session) (*orgs.Resolution, error)
}

// OrgGuard gates handlers on the session's active organization and the caller's role in it.
// It must run after AuthMiddleware.
type OrgGuard struct {
	resolver ActiveOrganizationResolver
	recorder observability.Recorder
	audit    audit.Logger
}

// NewOrgGuard creates an organization guard. recorder and auditLogger may be nil.
func NewOrgGuard(resolver ActiveOrganizationResolver, recorder observability.Recorder, auditLogger audit.Logger) *OrgGuard {
	if recorder == nil {
		recorder = observability.Recorders(nil)
	}
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	return &OrgGuard{resolver: resolver, recorder: recorder, audit: auditLogger}
}

// RequireActiveOrganization resolves the session's active organization and stores the
// resolution in the request context. Sessions without one get NoActiveOrganization with a
// redirect to organization creation or selection.
func (g *OrgGuard) RequireActiveOrganization(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		session := GetSession(r)
		if session == nil {
			httputil.WriteAppError(w, apperr.New(apperr.KindUnauthenticated, "Authentication required"))
			return
		}

		res, err := g.resolver.ResolveActiveOrganization(ctx, session)
		if err != nil {
			observability.FromContext(ctx).WithError(err).Error("active organization resolution failed")
			httputil.WriteAppError(w, err)
			return
		}
		g.recorder.ActiveOrganizationResolved(ctx, string(res.State))

		if err := res.Err(); err != nil {
			httputil.WriteAppError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(contextkeys.WithActiveOrg(ctx, res)))
	})
}

// RequirePermission rejects callers whose role in the active organization does not grant
// action on resource. It must run after RequireActiveOrganization.
func (g *OrgGuard) RequirePermission(resource rbac.Resource, action rbac.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			res := GetResolution(r)
			if res == nil {
				httputil.WriteAppError(w, apperr.Internal("middleware.RequirePermission",
					apperr.New(apperr.KindNoActiveOrganization, "permission check without an active organization")))
				return
			}

			err := rbac.Require(res.Role, resource, action)
			g.recorder.AuthorizationDecided(ctx, string(resource), string(action), err == nil)
			if err != nil {
				perm := rbac.Permission{Resource: resource, Action: action}
				if auditErr := audit.Denied(ctx, g.audit, r, res.OrganizationID, audit.ResourceType(resource), perm.String()); auditErr != nil {
					observability.FromContext(ctx).WithError(auditErr).Warn("failed to write audit event")
				}
				httputil.WriteAppError(w, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetResolution returns the active-organization resolution stored by
// RequireActiveOrganization, or nil.
func GetResolution(r *http.Request) *orgs.Resolution {
	return ResolutionFromContext(r.Context())
}

// ResolutionFromContext is GetResolution for code holding only a context.
func ResolutionFromContext(ctx context.Context) *orgs.Resolution {
	if res, ok := ctx.Value(contextkeys.ActiveOrgKey).(*orgs.Resolution); ok {
		return res
	}
	return nil
}
