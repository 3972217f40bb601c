package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/apperr"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

type fakeAuthenticator struct {
	sessions map[string]*auth.AuthContext
	err      error
}

func (f *fakeAuthenticator) Authenticate(_ context.Context, token string) (*auth.AuthContext, error) {
	if f.err != nil {
		return nil, f.err
	}
	if authCtx, ok := f.sessions[token]; ok {
		return authCtx, nil
	}
	return nil, apperr.ErrUnauthenticated
}

func newFakeAuthenticator() *fakeAuthenticator {
	return &fakeAuthenticator{sessions: map[string]*auth.AuthContext{
		"ghs_valid": {
			Session: &auth.Session{ID: "s1", UserID: "u1"},
			User:    &auth.User{ID: "u1", Email: "u1@example.com"},
		},
	}}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		header string
		cookie string
		want   string
	}{
		{"bearer", "Bearer ghs_abc", "", "ghs_abc"},
		{"bearer case insensitive", "bearer ghs_abc", "", "ghs_abc"},
		{"cookie", "", "ghs_cookie", "ghs_cookie"},
		{"header wins over cookie", "Bearer ghs_header", "ghs_cookie", "ghs_header"},
		{"non-bearer scheme", "Basic dXNlcjpwYXNz", "ghs_cookie", ""},
		{"nothing", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				r.AddCookie(&http.Cookie{Name: DefaultSessionCookie, Value: tt.cookie})
			}
			assert.Equal(t, tt.want, TokenFromRequest(r, DefaultSessionCookie))
		})
	}
}

func TestAuthMiddleware_Handler(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	m := NewAuthMiddleware(newFakeAuthenticator(), "", metrics)

	var seen *auth.AuthContext
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetAuthContext(r)
		assert.Equal(t, "u1", contextkeys.GetUserID(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("valid cookie", func(t *testing.T) {
		seen = nil
		r := httptest.NewRequest("GET", "/api/auth/session", nil)
		r.AddCookie(&http.Cookie{Name: DefaultSessionCookie, Value: "ghs_valid"})
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, r)

		assert.Equal(t, http.StatusNoContent, w.Code)
		require.NotNil(t, seen)
		assert.Equal(t, "s1", seen.Session.ID)
	})

	t.Run("missing token", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/orgs", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "unauthenticated", decodeError(t, w)["code"])
	})

	t.Run("unknown token", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/orgs", nil)
		r.Header.Set("Authorization", "Bearer ghs_unknown")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SessionResolutionsTotal.WithLabelValues(observability.OutcomeAuthenticated)))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.SessionResolutionsTotal.WithLabelValues(observability.OutcomeUnauthenticated)))
}

func TestAuthMiddleware_StoreFailure(t *testing.T) {
	f := &fakeAuthenticator{err: apperr.Internal("auth.Authenticate", errors.New("connection refused"))}
	handler := NewAuthMiddleware(f, "", nil).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer ghs_valid")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestAuthMiddleware_Optional(t *testing.T) {
	m := NewAuthMiddleware(newFakeAuthenticator(), "", nil).Optional()

	called := 0
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called++
		if r.Header.Get("Authorization") == "Bearer ghs_valid" {
			assert.NotNil(t, GetSession(r))
		} else {
			assert.Nil(t, GetSession(r))
		}
	}))

	for _, header := range []string{"", "Bearer ghs_unknown", "Bearer ghs_valid"} {
		r := httptest.NewRequest("GET", "/", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusOK, w.Code)
	}
	assert.Equal(t, 3, called)
}

func TestGetAuthContext_Empty(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	assert.Nil(t, GetAuthContext(r))
	assert.Nil(t, GetSession(r))
}
