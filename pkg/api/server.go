package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/middleware"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/orgs"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
)

// maxBodyBytes bounds every request body; logo uploads are the largest.
const maxBodyBytes = orgs.MaxLogoSize + 64<<10

// Limiters are the rate limiters applied by the server. Nil fields disable that limit.
type Limiters struct {
	// User and Anonymous guard every authenticated route.
	User      middleware.Limiter
	Anonymous middleware.Limiter
	// Credential guards sign-up and login, keyed by the connection's peer address.
	Credential middleware.Limiter
}

// Deps wires the server to its services.
type Deps struct {
	Auth     *auth.Service
	Orgs     *orgs.Service
	Logger   *observability.Logger
	Metrics  *observability.Metrics // optional
	Recorder observability.Recorder // optional
	Audit    audit.Logger           // optional
	Cookie   middleware.SessionCookie
	Limiters Limiters
	// SSO registers the OIDC login routes when set.
	SSO         RouteRegistrar
	CORSOrigins []string
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// Server represents our API server
type Server struct {
	router  *mux.Router
	handler http.Handler
}

// routes are the routers a handler group registers on, one per guard level.
type routes struct {
	// public needs no session.
	public *mux.Router
	// authed requires a session.
	authed *mux.Router
	// active additionally requires an active organization; it is mounted at /api/orgs/active.
	active *mux.Router
	guard  *middleware.OrgGuard
}

// perm wraps fn in a permission check against the caller's role in the active organization.
func (rs routes) perm(resource rbac.Resource, action rbac.Action, fn http.HandlerFunc) http.Handler {
	return rs.guard.RequirePermission(resource, action)(fn)
}

// NewServer creates a new API server
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if deps.Audit == nil {
		deps.Audit = audit.NopLogger{}
	}
	recorders := observability.Recorders{}
	if deps.Metrics != nil {
		recorders = append(recorders, deps.Metrics)
	}
	if deps.Recorder != nil {
		recorders = append(recorders, deps.Recorder)
	}

	s := &Server{router: mux.NewRouter()}
	if deps.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(deps.Metrics))
	}

	ev := events{audit: deps.Audit, recorder: recorders}
	authMW := middleware.NewAuthMiddleware(deps.Auth, deps.Cookie.CookieName(), recorders)
	guard := middleware.NewOrgGuard(deps.Orgs, recorders, deps.Audit)

	// SSO routes carry their full /api/auth/sso path, so they go ahead of the /api subrouter.
	if deps.SSO != nil {
		deps.SSO.RegisterRoutes(s.router)
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(jsonBodies)

	public := api.NewRoute().Subrouter()
	if deps.Limiters.Credential != nil {
		public.Use(middleware.NewRateLimitMiddleware("credential", deps.Limiters.Credential, deps.Limiters.Credential, recorders).Handler)
	}

	authed := api.NewRoute().Subrouter()
	authed.Use(authMW.Handler)
	if deps.Limiters.User != nil && deps.Limiters.Anonymous != nil {
		authed.Use(middleware.NewRateLimitMiddleware("api", deps.Limiters.User, deps.Limiters.Anonymous, recorders).Handler)
	}

	authHandlers := NewAuthHandlers(deps.Auth, deps.Orgs, deps.Cookie, ev)
	orgHandlers := NewOrgHandlers(deps.Orgs, ev)

	// Routes on /api/orgs/active that work without an active organization must be
	// registered before the guarded subrouter claims the prefix.
	authHandlers.registerRoutes(routes{public: public, authed: authed})
	orgHandlers.registerSessionRoutes(authed)

	active := authed.PathPrefix("/orgs/active").Subrouter()
	active.Use(guard.RequireActiveOrganization)
	rs := routes{public: public, authed: authed, active: active, guard: guard}
	orgHandlers.registerRoutes(rs)

	s.handler = otelhttp.NewHandler(httputil.Chain(
		httputil.RequestIDMiddleware(deps.Logger),
		httputil.LoggingMiddleware(deps.Logger),
		httputil.RecoveryMiddleware(deps.Logger),
		httputil.CORSMiddleware(deps.CORSOrigins),
		httputil.MaxBytesMiddleware(maxBodyBytes),
	)(s.router), "gatehouse")

	return s
}

// Router exposes the route table, mainly for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// jsonBodies enforces JSON request bodies everywhere except the logo upload, which
// carries the image itself.
func jsonBodies(next http.Handler) http.Handler {
	enforced := httputil.ContentTypeMiddleware(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/logo") {
			next.ServeHTTP(w, r)
			return
		}
		enforced.ServeHTTP(w, r)
	})
}
