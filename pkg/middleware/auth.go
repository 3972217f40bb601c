package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/platinummonkey/gatehouse/pkg/apperr"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// DefaultSessionCookie is the cookie carrying the session token.
const DefaultSessionCookie = "gatehouse_session"

// Authenticator resolves a presented session token. auth.Service implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.AuthContext, error)
}

// AuthMiddleware resolves the session on every request
type AuthMiddleware struct {
	authenticator Authenticator
	cookieName    string
	optional      bool
	recorder      observability.Recorder
}

// NewAuthMiddleware creates a middleware that rejects requests without a live session.
func NewAuthMiddleware(authenticator Authenticator, cookieName string, recorder observability.Recorder) *AuthMiddleware {
	if cookieName == "" {
		cookieName = DefaultSessionCookie
	}
	if recorder == nil {
		recorder = observability.Recorders(nil)
	}
	return &AuthMiddleware{
		authenticator: authenticator,
		cookieName:    cookieName,
		recorder:      recorder,
	}
}

// Optional returns a copy that lets unauthenticated requests through without an auth context.
func (m *AuthMiddleware) Optional() *AuthMiddleware {
	c := *m
	c.optional = true
	return &c
}

// Handler wraps an HTTP handler with session resolution
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		token := TokenFromRequest(r, m.cookieName)
		if token == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			m.recorder.SessionResolved(ctx, observability.OutcomeUnauthenticated)
			httputil.WriteAppError(w, apperr.New(apperr.KindUnauthenticated, "Authentication required"))
			return
		}

		authCtx, err := m.authenticator.Authenticate(ctx, token)
		if err != nil {
			unauthenticated := apperr.IsKind(err, apperr.KindUnauthenticated)
			if unauthenticated {
				m.recorder.SessionResolved(ctx, observability.OutcomeUnauthenticated)
			} else {
				m.recorder.SessionResolved(ctx, observability.OutcomeError)
				observability.FromContext(ctx).WithError(err).Error("session resolution failed")
			}
			if m.optional && unauthenticated {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteAppError(w, err)
			return
		}

		m.recorder.SessionResolved(ctx, observability.OutcomeAuthenticated)
		ctx = contextkeys.WithAuth(ctx, authCtx)
		ctx = contextkeys.WithUserID(ctx, authCtx.UserID())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TokenFromRequest reads the session token from an Authorization: Bearer header, falling
// back to the session cookie.
func TokenFromRequest(r *http.Request, cookieName string) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if cookie, err := r.Cookie(cookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// GetAuthContext retrieves the auth context from the request
func GetAuthContext(r *http.Request) *auth.AuthContext {
	return AuthFromContext(r.Context())
}

// AuthFromContext retrieves the auth context set by AuthMiddleware, or nil.
func AuthFromContext(ctx context.Context) *auth.AuthContext {
	if authCtx, ok := ctx.Value(contextkeys.AuthKey).(*auth.AuthContext); ok {
		return authCtx
	}
	return nil
}

// GetSession returns the authenticated session, or nil.
func GetSession(r *http.Request) *auth.Session {
	if authCtx := GetAuthContext(r); authCtx != nil {
		return authCtx.Session
	}
	return nil
}
