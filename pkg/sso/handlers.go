package sso

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gatehouse/pkg/apperr"
	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/middleware"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

const (
	stateCookie  = "gatehouse_sso_state"
	nonceCookie  = "gatehouse_sso_nonce"
	returnCookie = "gatehouse_sso_return"

	flowCookieMaxAge = 600 // 10 minutes
)

// IdentityProvider runs the authorization code flow. *Provider implements it.
type IdentityProvider interface {
	AuthCodeURL(state, nonce string) string
	Exchange(ctx context.Context, code, nonce string) (auth.ExternalIdentity, error)
}

// SessionIssuer opens a session for a verified external identity. auth.Service implements it.
type SessionIssuer interface {
	LoginExternal(ctx context.Context, identity auth.ExternalIdentity, meta auth.SessionMeta) (*auth.Session, string, error)
}

// LoginHook runs after a session is opened, before the client is redirected.
type LoginHook func(ctx context.Context, session *auth.Session) error

// Handlers serves the SSO login and callback endpoints
type Handlers struct {
	provider   IdentityProvider
	sessions   SessionIssuer
	cookie     middleware.SessionCookie
	afterLogin LoginHook
	audit      audit.Logger
}

// NewHandlers creates SSO handlers. afterLogin and auditLogger may be nil.
func NewHandlers(provider IdentityProvider, sessions SessionIssuer, cookie middleware.SessionCookie, afterLogin LoginHook, auditLogger audit.Logger) *Handlers {
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	return &Handlers{
		provider:   provider,
		sessions:   sessions,
		cookie:     cookie,
		afterLogin: afterLogin,
		audit:      auditLogger,
	}
}

// RegisterRoutes registers SSO routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/auth/sso/login", h.initiateLogin).Methods("GET")
	router.HandleFunc("/api/auth/sso/callback", h.handleCallback).Methods("GET")
}

// initiateLogin handles GET /api/auth/sso/login
func (h *Handlers) initiateLogin(w http.ResponseWriter, r *http.Request) {
	state, err := randomToken()
	if err != nil {
		httputil.WriteAppError(w, apperr.Internal("sso.initiateLogin", err))
		return
	}
	nonce, err := randomToken()
	if err != nil {
		httputil.WriteAppError(w, apperr.Internal("sso.initiateLogin", err))
		return
	}

	h.setFlowCookie(w, stateCookie, state)
	h.setFlowCookie(w, nonceCookie, nonce)
	if returnURL := r.URL.Query().Get("return_url"); isLocalPath(returnURL) {
		h.setFlowCookie(w, returnCookie, returnURL)
	}

	http.Redirect(w, r, h.provider.AuthCodeURL(state, nonce), http.StatusFound)
}

// handleCallback handles GET /api/auth/sso/callback
func (h *Handlers) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.FromContext(ctx)

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.fail(w, r, apperr.New(apperr.KindUnauthenticated, "identity provider returned %s", errParam))
		return
	}

	state, err := r.Cookie(stateCookie)
	if err != nil || state.Value == "" || r.URL.Query().Get("state") != state.Value {
		httputil.WriteBadRequest(w, "invalid state parameter")
		return
	}
	nonce, err := r.Cookie(nonceCookie)
	if err != nil {
		httputil.WriteBadRequest(w, "missing nonce cookie")
		return
	}

	identity, err := h.provider.Exchange(ctx, r.URL.Query().Get("code"), nonce.Value)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	session, token, err := h.sessions.LoginExternal(ctx, identity, auth.SessionMeta{
		IPAddress: audit.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if h.afterLogin != nil {
		if err := h.afterLogin(ctx, session); err != nil {
			// The session is valid; the client resolves its organization on the next request.
			logger.WithError(err).Warn("post-login hook failed")
		}
	}

	event := audit.NewEvent(ctx, r, audit.EventTypeLogin, audit.EventStatusSuccess)
	event.UserID = session.UserID
	event.SessionID = session.ID
	event.ResourceType = audit.ResourceTypeSession
	event.Metadata["provider"] = identity.ProviderID
	if err := h.audit.Log(ctx, event); err != nil {
		logger.WithError(err).Warn("failed to write audit event")
	}

	h.cookie.Set(w, token, session.ExpiresAt)
	h.clearFlowCookies(w)

	returnURL := "/"
	if c, err := r.Cookie(returnCookie); err == nil && isLocalPath(c.Value) {
		returnURL = c.Value
	}
	http.Redirect(w, r, returnURL, http.StatusFound)
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	if auditErr := audit.Failure(ctx, h.audit, r, audit.EventTypeLoginFailed, "sso login failed", err); auditErr != nil {
		observability.FromContext(ctx).WithError(auditErr).Warn("failed to write audit event")
	}
	h.clearFlowCookies(w)
	httputil.WriteAppError(w, err)
}

func (h *Handlers) setFlowCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/api/auth/sso",
		MaxAge:   flowCookieMaxAge,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handlers) clearFlowCookies(w http.ResponseWriter) {
	for _, name := range []string{stateCookie, nonceCookie, returnCookie} {
		http.SetCookie(w, &http.Cookie{Name: name, Path: "/api/auth/sso", MaxAge: -1})
	}
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// isLocalPath accepts only same-origin absolute paths, so the return URL cannot send the
// client to another host.
func isLocalPath(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//") && !strings.HasPrefix(p, "/\\")
}
