package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/apperr"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteJSON(w, http.StatusOK, map[string]string{"message": "success"})

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "success")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind apperr.Kind
		want int
	}{
		{apperr.KindUnauthenticated, http.StatusUnauthorized},
		{apperr.KindNotAMember, http.StatusForbidden},
		{apperr.KindForbidden, http.StatusForbidden},
		{apperr.KindLastOwnerViolation, http.StatusConflict},
		{apperr.KindDuplicateInvitation, http.StatusConflict},
		{apperr.KindAlreadyMember, http.StatusConflict},
		{apperr.KindInvalidState, http.StatusConflict},
		{apperr.KindConflict, http.StatusConflict},
		{apperr.KindNoActiveOrganization, http.StatusConflict},
		{apperr.KindNotFound, http.StatusNotFound},
		{apperr.KindInvalid, http.StatusBadRequest},
		{apperr.KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.kind))
		})
	}
}

func TestWriteAppError(t *testing.T) {
	t.Run("forbidden names the action", func(t *testing.T) {
		w := httptest.NewRecorder()
		err := fmt.Errorf("update member: %w", apperr.New(apperr.KindForbidden, "You don't have permission to delete organization"))

		WriteAppError(w, err)

		assert.Equal(t, http.StatusForbidden, w.Code)
		body := decodeError(t, w)
		assert.Equal(t, "forbidden", body.Code)
		assert.Equal(t, "You don't have permission to delete organization", body.Error)
		assert.Empty(t, body.Redirect)
	})

	t.Run("no active organization carries redirect", func(t *testing.T) {
		w := httptest.NewRecorder()
		err := &apperr.Error{Kind: apperr.KindNoActiveOrganization, Redirect: "/org-select"}

		WriteAppError(w, err)

		assert.Equal(t, http.StatusConflict, w.Code)
		body := decodeError(t, w)
		assert.Equal(t, "no_active_organization", body.Code)
		assert.Equal(t, "/org-select", body.Redirect)
		assert.Contains(t, body.Error, "No active organization")
	})

	t.Run("plain errors are internal and hide their cause", func(t *testing.T) {
		w := httptest.NewRecorder()

		WriteAppError(w, errors.New("pq: connection refused"))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		body := decodeError(t, w)
		assert.Equal(t, "internal", body.Code)
		assert.NotContains(t, w.Body.String(), "connection refused")
	})
}

func TestWriteHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
	}{
		{"created", func(w http.ResponseWriter) { WriteCreated(w, map[string]string{"id": "o-1"}) }, http.StatusCreated},
		{"success", func(w http.ResponseWriter) { WriteSuccess(w, map[string]string{"id": "o-1"}) }, http.StatusOK},
		{"no content", WriteNoContent, http.StatusNoContent},
		{"bad request", func(w http.ResponseWriter) { WriteBadRequest(w, "bad") }, http.StatusBadRequest},
		{"too many requests", func(w http.ResponseWriter) { WriteTooManyRequests(w, "slow down") }, http.StatusTooManyRequests},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}
