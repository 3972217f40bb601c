// Package api provides the HTTP REST API of the gatehouse access-control service.
//
// # Overview
//
// The API exposes sign-up and login, the caller's session, organization management,
// membership and invitations. Every request is resolved against the session the caller
// presents, either as an Authorization: Bearer token or as the session cookie.
//
// # Route groups
//
// Routes are registered on three gorilla/mux subrouters, one per guard level:
//
//   - public: sign-up and login, rate limited per client IP
//   - authed: requires a valid session (organization list, selection, the caller's invitations)
//   - active: mounted at /api/orgs/active; additionally requires an active organization
//
// Handlers on the active router that change state are wrapped in a permission check for the
// caller's role in the active organization:
//
//	a.Handle("/members", rs.perm(rbac.ResourceMember, rbac.ActionRead, h.listMembers))
//
// # Routing hints
//
// A session with no usable active organization receives 409 with code
// "no_active_organization" and a redirect of /create-organization (no memberships) or
// /org-select (memberships exist). GET /api/orgs/state reports the same information without
// failing.
//
// # Errors
//
// Core operations return *apperr.Error values. httputil.WriteAppError maps their kind to a
// status code; internal causes are logged and never returned to the client.
//
// # Usage
//
//	server := api.NewServer(api.Deps{
//		Auth:   authService,
//		Orgs:   orgService,
//		Audit:  auditLogger,
//		Cookie: middleware.SessionCookie{Secure: true},
//	})
//	http.ListenAndServe(":8080", server)
package api
