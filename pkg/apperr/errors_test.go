package apperr

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIs(t *testing.T) {
	err := New(KindLastOwnerViolation, "cannot demote the last owner")
	wrapped := fmt.Errorf("update role: %w", err)

	assert.True(t, errors.Is(wrapped, ErrLastOwner))
	assert.False(t, errors.Is(wrapped, ErrForbidden))
	assert.Equal(t, KindLastOwnerViolation, KindOf(wrapped))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"plain error", errors.New("boom"), KindInternal},
		{"not found", NotFound("organization"), KindNotFound},
		{"wrapped", Wrap(KindConflict, "store.CreateOrganization", sql.ErrNoRows), KindConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestMessage(t *testing.T) {
	t.Run("explicit message", func(t *testing.T) {
		assert.Equal(t, "organization not found", Message(NotFound("organization")))
	})

	t.Run("internal hides cause", func(t *testing.T) {
		err := Internal("store.GetUser", errors.New("connection refused"))
		assert.Equal(t, "An internal error has occurred.", Message(err))
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("default by kind", func(t *testing.T) {
		assert.Contains(t, Message(ErrNoActiveOrganization), "No active organization")
	})
}

func TestErrorString(t *testing.T) {
	err := &Error{Kind: KindInvalid, Op: "orgs.CreateOrganization", Msg: "name is required"}
	assert.Equal(t, "orgs.CreateOrganization: name is required", err.Error())
	assert.Equal(t, "forbidden", ErrForbidden.Error())
}

func TestRedirectOf(t *testing.T) {
	assert.Empty(t, RedirectOf(nil))
	assert.Empty(t, RedirectOf(errors.New("plain")))

	inner := &Error{Kind: KindNoActiveOrganization, Redirect: "/org-select"}
	outer := &Error{Kind: KindNoActiveOrganization, Op: "middleware", Err: inner}
	assert.Equal(t, "/org-select", RedirectOf(outer))
}
