// Package auth provides user authentication and session management for gatehouse.
//
// # Overview
//
// A session is created by Login (email + password, verified with bcrypt) or LoginExternal
// (an identity asserted by an OIDC provider, see package sso). The caller receives an opaque
// bearer token exactly once:
//
//	// Token format: ghs_[base64url(32 random bytes)]
//	// Stored as SHA256 hash for security
//
// Every request resolves its token back to a Session with ResolveSession. Malformed, unknown
// and expired tokens fail identically with apperr.ErrUnauthenticated. Expiry is evaluated on
// read; CleanupExpiredSessions only reclaims storage.
//
// # Usage Example
//
//	svc := auth.NewService(store, auth.ServiceConfig{SessionTTL: 7 * 24 * time.Hour})
//	session, token, err := svc.Login(ctx, "alice@example.com", password, auth.SessionMeta{
//		IPAddress: "203.0.113.7",
//		UserAgent: "curl/8.5",
//	})
//	...
//	session, err = svc.ResolveSession(ctx, token)
//
// Sessions carry the active organization pointer; package orgs owns the rules for moving it.
package auth
