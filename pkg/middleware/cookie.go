package middleware

import (
	"net/http"
	"time"
)

// SessionCookie writes and clears the session cookie read by AuthMiddleware.
type SessionCookie struct {
	Name   string
	Secure bool
}

// CookieName returns the configured name or DefaultSessionCookie.
func (c SessionCookie) CookieName() string {
	if c.Name == "" {
		return DefaultSessionCookie
	}
	return c.Name
}

// Set stores token in an HttpOnly cookie that expires with the session.
func (c SessionCookie) Set(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.CookieName(),
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear expires the cookie on the client.
func (c SessionCookie) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.CookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
