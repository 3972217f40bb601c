package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/apperr"
	"github.com/platinummonkey/gatehouse/pkg/orgs"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewFromDB(db, DialectPostgres), mock
}

func TestPostgres_LockOrganizationUsesRowLock(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM organizations WHERE id = $1 FOR UPDATE")).
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("org-1"))
	mock.ExpectCommit()

	err := store.WithTx(context.Background(), func(tx orgs.Tx) error {
		return tx.LockOrganization(context.Background(), "org-1")
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_LockMissingOrganization(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs("gone").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(tx orgs.Tx) error {
		return tx.LockOrganization(context.Background(), "gone")
	})
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UniqueViolations(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("member", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO members")).
			WillReturnError(&pq.Error{Code: "23505"})
		mock.ExpectRollback()

		err := store.WithTx(ctx, func(tx orgs.Tx) error {
			return tx.CreateMember(ctx, &orgs.Member{ID: "m", OrganizationID: "o", UserID: "u", Role: rbac.RoleMember, CreatedAt: now})
		})
		assert.True(t, apperr.IsKind(err, apperr.KindAlreadyMember))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invitation", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO invitations")).
			WillReturnError(&pq.Error{Code: "23505"})
		mock.ExpectRollback()

		err := store.WithTx(ctx, func(tx orgs.Tx) error {
			return tx.CreateInvitation(ctx, &orgs.Invitation{
				ID: "i", OrganizationID: "o", Email: "x@example.com", Role: rbac.RoleMember,
				Status: orgs.InvitationPending, InviterID: "u", ExpiresAt: now, CreatedAt: now,
			})
		})
		assert.True(t, apperr.IsKind(err, apperr.KindDuplicateInvitation))
	})

	t.Run("organization slug", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO organizations")).
			WillReturnError(&pq.Error{Code: "23505"})
		mock.ExpectRollback()

		err := store.WithTx(ctx, func(tx orgs.Tx) error {
			return tx.CreateOrganization(ctx, &orgs.Organization{ID: "o", Name: "Acme", Slug: "acme", CreatedAt: now, UpdatedAt: now})
		})
		assert.True(t, apperr.IsKind(err, apperr.KindConflict))
	})
}

func TestPostgres_UpdateMissingRowIsNotFound(t *testing.T) {
	ctx := context.Background()
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE members SET role = $1 WHERE id = $2")).
		WithArgs("admin", "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.WithTx(ctx, func(tx orgs.Tx) error {
		return tx.UpdateMemberRole(ctx, "missing", rbac.RoleAdmin)
	})
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ClearActiveOrganization(t *testing.T) {
	ctx := context.Background()

	t.Run("scoped to user", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET active_organization_id = $1 WHERE active_organization_id = $2 AND user_id = $3")).
			WithArgs(nil, "org-1", "user-1").
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectCommit()

		err := store.WithTx(ctx, func(tx orgs.Tx) error {
			return tx.ClearActiveOrganization(ctx, "org-1", "user-1")
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("all users", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET active_organization_id = $1 WHERE active_organization_id = $2")).
			WithArgs(nil, "org-1").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		err := store.WithTx(ctx, func(tx orgs.Tx) error {
			return tx.ClearActiveOrganization(ctx, "org-1", "")
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgres_ReadErrorsAreInternal(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM members")).WillReturnError(errors.New("connection reset"))

	_, err := store.CountOwners(context.Background(), "org-1")
	assert.True(t, apperr.IsKind(err, apperr.KindInternal))
	assert.Equal(t, "An internal error has occurred.", apperr.Message(err))
}

func TestTranslateError(t *testing.T) {
	assert.NoError(t, translateError("op", "thing", nil))
	assert.True(t, apperr.IsKind(translateError("op", "thing", sql.ErrNoRows), apperr.KindNotFound))
	assert.True(t, apperr.IsKind(translateError("op", "thing", &pq.Error{Code: "23505"}), apperr.KindConflict))
	assert.True(t, apperr.IsKind(translateError("op", "thing", &pq.Error{Code: "23503"}), apperr.KindInternal))
}
