// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteCreated(w, org)
//	httputil.WriteAppError(w, err) // status chosen from apperr.KindOf(err)
//
// Error bodies always have the shape
//
//	{"error": "<user-facing message>", "code": "<kind>", "redirect": "/org-select"}
//
// where redirect is only present for no_active_organization.
//
// # Request Parsing
//
//	var req orgs.CreateOrgRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//	id, ok := httputil.ParsePathStringOrError(w, r, "member_id")
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	)
//
// # Related Packages
//
//   - pkg/middleware: session authentication, active organization and permission checks
package httputil
