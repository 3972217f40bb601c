// Package middleware provides the HTTP boundary for authentication, active-organization
// routing, permission checks and rate limiting.
//
// # Middleware Components
//
// AuthMiddleware: resolves the session token (Bearer header or session cookie) and stores
// the *auth.AuthContext in the request context. Missing, unknown and expired tokens all get
// the same 401.
//
//	authn := middleware.NewAuthMiddleware(authService, "gatehouse_session", metrics)
//	router.Use(authn.Handler)
//
// OrgGuard: RequireActiveOrganization answers 409 no_active_organization with a redirect to
// /create-organization or /org-select; RequirePermission answers 403 forbidden and records
// an audit event.
//
//	guard := middleware.NewOrgGuard(orgService, metrics, auditLogger)
//	active := router.PathPrefix("/api/orgs/active").Subrouter()
//	active.Use(guard.RequireActiveOrganization)
//	active.Handle("/invitations", guard.RequirePermission(rbac.ResourceInvitation, rbac.ActionCreate)(h))
//
// RateLimitMiddleware: token buckets per user or client IP, backed by an in-process LRU
// (RateLimiter) or Redis (DistributedRateLimiter). Limiter errors fail open.
//
//	limits := middleware.NewRateLimitMiddleware("api",
//		middleware.NewRateLimiter(middleware.PerUserRateLimitConfig()),
//		middleware.NewRateLimiter(middleware.DefaultRateLimitConfig()),
//		metrics)
package middleware
