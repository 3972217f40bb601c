package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/apperr"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/orgs"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
)

func seed(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	s := New()

	require.NoError(t, s.CreateUser(ctx, &auth.User{ID: "u1", Name: "Alice", Email: "alice@example.com", CreatedAt: now}, nil))
	require.NoError(t, s.CreateSession(ctx, &auth.Session{ID: "s1", UserID: "u1", TokenHash: "h1", ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, s.WithTx(ctx, func(tx orgs.Tx) error {
		if err := tx.CreateOrganization(ctx, &orgs.Organization{ID: "o1", Name: "Acme", Slug: "acme", CreatedAt: now}); err != nil {
			return err
		}
		return tx.CreateMember(ctx, &orgs.Member{ID: "m1", OrganizationID: "o1", UserID: "u1", Role: rbac.RoleOwner, CreatedAt: now})
	}))
	return s
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := seed(t)
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx orgs.Tx) error {
		require.NoError(t, tx.UpdateMemberRole(ctx, "m1", rbac.RoleAdmin))
		require.NoError(t, tx.SetActiveOrganization(ctx, "s1", strPtr("o1")))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	m, err := s.GetMember(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleOwner, m.Role)

	sess, err := s.FindSessionByTokenHash(ctx, "h1")
	require.NoError(t, err)
	assert.Nil(t, sess.ActiveOrganizationID)
}

func TestReadsReturnCopies(t *testing.T) {
	ctx := context.Background()
	s := seed(t)

	m, err := s.GetMember(ctx, "m1")
	require.NoError(t, err)
	m.Role = rbac.RoleMember

	again, err := s.GetMember(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleOwner, again.Role)
}

func TestUniqueness(t *testing.T) {
	ctx := context.Background()
	s := seed(t)
	now := time.Now()

	err := s.WithTx(ctx, func(tx orgs.Tx) error {
		return tx.CreateOrganization(ctx, &orgs.Organization{ID: "o2", Name: "Acme 2", Slug: "acme", CreatedAt: now})
	})
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))

	err = s.WithTx(ctx, func(tx orgs.Tx) error {
		return tx.CreateMember(ctx, &orgs.Member{ID: "m2", OrganizationID: "o1", UserID: "u1", Role: rbac.RoleMember})
	})
	assert.True(t, apperr.IsKind(err, apperr.KindAlreadyMember))

	err = s.CreateUser(ctx, &auth.User{ID: "u2", Email: "alice@example.com"}, nil)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
}

func TestDeleteOrganizationClearsPointers(t *testing.T) {
	ctx := context.Background()
	s := seed(t)

	require.NoError(t, s.WithTx(ctx, func(tx orgs.Tx) error {
		return tx.SetActiveOrganization(ctx, "s1", strPtr("o1"))
	}))
	require.NoError(t, s.WithTx(ctx, func(tx orgs.Tx) error {
		return tx.DeleteOrganization(ctx, "o1")
	}))

	sess, err := s.FindSessionByTokenHash(ctx, "h1")
	require.NoError(t, err)
	assert.Nil(t, sess.ActiveOrganizationID)

	_, err = s.FindMembership(ctx, "o1", "u1")
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func strPtr(s string) *string { return &s }
