// Package sso provides OpenID Connect login.
//
// The login endpoint redirects to the issuer with a random state and nonce kept in short-lived
// cookies. The callback checks the state, exchanges the code, verifies the ID token and its
// nonce, and hands the identity to auth.Service.LoginExternal, which links or provisions the
// local user. The resulting session is delivered in the same cookie as a password login.
//
//	provider, err := sso.NewProvider(ctx, sso.Config{
//		IssuerURL:    "https://accounts.example.com",
//		ClientID:     "gatehouse",
//		ClientSecret: secret,
//		RedirectURL:  "https://gatehouse.example.com/api/auth/sso/callback",
//	})
//	handlers := sso.NewHandlers(provider, authService, cookie, afterLogin, auditLogger)
//	handlers.RegisterRoutes(router)
package sso
