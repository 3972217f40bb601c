package api

import (
	"net/http"

	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/middleware"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/orgs"
)

// AuthHandlers handles authentication-related HTTP requests
type AuthHandlers struct {
	auth   *auth.Service
	orgs   *orgs.Service
	cookie middleware.SessionCookie
	events events
}

// NewAuthHandlers creates a new auth handlers instance
func NewAuthHandlers(authService *auth.Service, orgService *orgs.Service, cookie middleware.SessionCookie, ev events) *AuthHandlers {
	return &AuthHandlers{
		auth:   authService,
		orgs:   orgService,
		cookie: cookie,
		events: ev,
	}
}

func (h *AuthHandlers) registerRoutes(rs routes) {
	rs.public.HandleFunc("/auth/sign-up", h.signUp).Methods("POST")
	rs.public.HandleFunc("/auth/login", h.login).Methods("POST")

	rs.authed.HandleFunc("/auth/logout", h.logout).Methods("POST")
	rs.authed.HandleFunc("/auth/session", h.getSession).Methods("GET")
}

// afterLogin points a fresh session at the user's only organization, if there is exactly
// one, and reports where the client should go next.
func (h *AuthHandlers) afterLogin(r *http.Request, session *auth.Session) *orgs.Resolution {
	ctx := r.Context()
	logger := observability.FromContext(ctx)

	if err := h.orgs.DefaultActiveOrganization(ctx, session); err != nil {
		// The session stays valid; routing sends the client to organization selection.
		logger.WithError(err).Warn("failed to default active organization")
	}
	res, err := h.orgs.ResolveActiveOrganization(ctx, session)
	if err != nil {
		logger.WithError(err).Warn("failed to resolve active organization")
		return nil
	}
	return res
}

// signUp handles POST /api/auth/sign-up
func (h *AuthHandlers) signUp(w http.ResponseWriter, r *http.Request) {
	var req auth.SignUpRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.auth.SignUp(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	session, token, err := h.auth.CreateSession(r.Context(), user.ID, sessionMeta(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.events.success(r, audit.EventTypeSignUp, audit.ResourceTypeUser, user.ID, "", func(e *audit.AuditEvent) {
		e.UserID = user.ID
		e.SessionID = session.ID
	})
	h.cookie.Set(w, token, session.ExpiresAt)
	httputil.WriteCreated(w, SessionResponse{
		Session: session,
		User:    user,
		Token:   token,
		State:   h.afterLogin(r, session),
	})
}

// login handles POST /api/auth/login
func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	session, token, err := h.auth.Login(r.Context(), req.Email, req.Password, sessionMeta(r))
	if err != nil {
		if auditErr := audit.Failure(r.Context(), h.events.audit, r, audit.EventTypeLoginFailed, "login failed", err); auditErr != nil {
			observability.FromContext(r.Context()).WithError(auditErr).Warn("failed to write audit event")
		}
		writeError(w, r, err)
		return
	}

	user, err := h.auth.GetUser(r.Context(), session.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.events.success(r, audit.EventTypeLogin, audit.ResourceTypeSession, session.ID, "", func(e *audit.AuditEvent) {
		e.UserID = user.ID
		e.SessionID = session.ID
		e.Metadata["provider"] = "credential"
	})
	h.cookie.Set(w, token, session.ExpiresAt)
	httputil.WriteSuccess(w, SessionResponse{
		Session: session,
		User:    user,
		Token:   token,
		State:   h.afterLogin(r, session),
	})
}

// logout handles POST /api/auth/logout
func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	token := middleware.TokenFromRequest(r, h.cookie.CookieName())
	if err := h.auth.Logout(r.Context(), token); err != nil {
		writeError(w, r, err)
		return
	}

	session := sessionOf(r)
	h.events.success(r, audit.EventTypeLogout, audit.ResourceTypeSession, session.ID, session.ActiveOrganization())
	h.cookie.Clear(w)
	httputil.WriteNoContent(w)
}

// getSession handles GET /api/auth/session. The active organization is recomputed, so a
// pointer left behind by a removal is cleared rather than reported.
func (h *AuthHandlers) getSession(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	res, err := h.orgs.ResolveActiveOrganization(r.Context(), authCtx.Session)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, SessionResponse{
		Session: authCtx.Session,
		User:    authCtx.User,
		State:   res,
	})
}

func sessionMeta(r *http.Request) auth.SessionMeta {
	return auth.SessionMeta{
		IPAddress: audit.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}
