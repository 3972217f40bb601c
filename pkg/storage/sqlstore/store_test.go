package sqlstore

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/gatehouse/pkg/apperr"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/orgs"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
	"github.com/platinummonkey/gatehouse/pkg/storage"
)

// newSQLiteStore opens a migrated store on a file in the test's temp dir. A file is used
// rather than :memory: because every pooled connection would get its own memory database.
func newSQLiteStore(t *testing.T) *Store {
	t.Helper()

	cfg := storage.DefaultConfig()
	cfg.SQLitePath = filepath.Join(t.TempDir(), "gatehouse.db")

	store, err := Open(cfg, observability.NewLogger(observability.ErrorLevel, nil))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.Migrate(context.Background()))
	return store
}

type fixture struct {
	store *Store
	auth  *auth.Service
	orgs  *orgs.Service
}

func newFixture(t *testing.T) *fixture {
	store := newSQLiteStore(t)
	return &fixture{
		store: store,
		auth:  auth.NewService(store, auth.ServiceConfig{BcryptCost: bcrypt.MinCost}),
		orgs:  orgs.NewService(store, orgs.Config{}),
	}
}

func (f *fixture) signIn(t *testing.T, name, email string) *auth.Session {
	t.Helper()
	ctx := context.Background()

	_, err := f.auth.SignUp(ctx, auth.SignUpRequest{Name: name, Email: email, Password: "correct-horse"})
	require.NoError(t, err)
	session, _, err := f.auth.Login(ctx, email, "correct-horse", auth.SessionMeta{})
	require.NoError(t, err)
	return session
}

func TestMigrate_Idempotent(t *testing.T) {
	store := newSQLiteStore(t)
	require.NoError(t, store.Migrate(context.Background()))

	var versions []int
	require.NoError(t, store.cm.Primary().Select(&versions, "SELECT version FROM schema_migrations ORDER BY version"))
	assert.Equal(t, []int{1, 2, 3, 4}, versions)
}

func TestStore_UsersAndSessions(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	user := &auth.User{ID: "u1", Name: "Alice", Email: "alice@example.com", CreatedAt: now, UpdatedAt: now}
	account := &auth.Account{
		ID: "a1", UserID: "u1", ProviderID: auth.ProviderCredential, AccountID: "alice@example.com",
		PasswordHash: "hash", CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.CreateUser(ctx, user, account))

	got, err := store.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Name)
	assert.True(t, got.CreatedAt.Equal(now))

	acct, err := store.FindAccount(ctx, auth.ProviderCredential, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "hash", acct.PasswordHash)

	t.Run("duplicate email conflicts and writes nothing", func(t *testing.T) {
		dup := &auth.User{ID: "u2", Name: "Other", Email: "alice@example.com", CreatedAt: now, UpdatedAt: now}
		dupAcct := &auth.Account{ID: "a2", UserID: "u2", ProviderID: auth.ProviderOIDC, AccountID: "sub", CreatedAt: now, UpdatedAt: now}
		err := store.CreateUser(ctx, dup, dupAcct)
		assert.True(t, apperr.IsKind(err, apperr.KindConflict))

		_, err = store.FindAccount(ctx, auth.ProviderOIDC, "sub")
		assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
	})

	t.Run("sessions", func(t *testing.T) {
		live := &auth.Session{ID: "s1", UserID: "u1", TokenHash: "h1", ExpiresAt: now.Add(time.Hour), CreatedAt: now, UpdatedAt: now}
		dead := &auth.Session{ID: "s2", UserID: "u1", TokenHash: "h2", ExpiresAt: now.Add(-time.Hour), CreatedAt: now, UpdatedAt: now}
		require.NoError(t, store.CreateSession(ctx, live))
		require.NoError(t, store.CreateSession(ctx, dead))

		found, err := store.FindSessionByTokenHash(ctx, "h1")
		require.NoError(t, err)
		assert.Equal(t, "s1", found.ID)
		assert.Nil(t, found.ActiveOrganizationID)

		n, err := store.DeleteExpiredSessions(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		_, err = store.FindSessionByTokenHash(ctx, "h2")
		assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

		require.NoError(t, store.DeleteSession(ctx, "s1"))
		_, err = store.FindSessionByTokenHash(ctx, "h1")
		assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
	})
}

func TestStore_OrganizationLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.signIn(t, "Alice", "alice@example.com")
	bob := f.signIn(t, "Bob", "bob@example.com")

	org, err := f.orgs.CreateOrganization(ctx, alice, orgs.CreateOrgRequest{
		Name:     "Acme Corp",
		Metadata: map[string]interface{}{"plan": "pro"},
	})
	require.NoError(t, err)
	assert.Equal(t, "acme-corp", org.Slug)

	stored, err := f.store.GetOrganization(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, "pro", stored.Metadata["plan"])

	sess, err := f.store.FindSessionByTokenHash(ctx, alice.TokenHash)
	require.NoError(t, err)
	assert.Equal(t, org.ID, sess.ActiveOrganization())

	inv, err := f.orgs.CreateInvitation(ctx, alice, org.ID, orgs.InviteMemberRequest{Email: "bob@example.com", Role: rbac.RoleAdmin})
	require.NoError(t, err)

	pending, err := f.orgs.ListUserInvitations(ctx, bob)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "Acme Corp", pending[0].OrganizationName)

	member, err := f.orgs.AcceptInvitation(ctx, bob, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleAdmin, member.Role)

	members, err := f.orgs.ListMembers(ctx, alice, org.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	require.NotNil(t, members[1].User)
	assert.Equal(t, "bob@example.com", members[1].User.Email)

	owners, err := f.store.CountOwners(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, owners)

	require.NoError(t, f.orgs.DeleteOrganization(ctx, alice, org.ID))

	sess, err = f.store.FindSessionByTokenHash(ctx, bob.TokenHash)
	require.NoError(t, err)
	assert.Nil(t, sess.ActiveOrganizationID, "deleting the organization clears every pointer to it")

	_, err = f.store.GetInvitation(ctx, inv.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestStore_SlugConflictRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.signIn(t, "Alice", "alice@example.com")
	bob := f.signIn(t, "Bob", "bob@example.com")

	_, err := f.orgs.CreateOrganization(ctx, alice, orgs.CreateOrgRequest{Name: "Acme", Slug: "acme"})
	require.NoError(t, err)

	_, err = f.orgs.CreateOrganization(ctx, bob, orgs.CreateOrgRequest{Name: "Other Acme", Slug: "acme"})
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))

	list, err := f.store.ListOrganizationsForUser(ctx, bob.UserID)
	require.NoError(t, err)
	assert.Empty(t, list)

	sess, err := f.store.FindSessionByTokenHash(ctx, bob.TokenHash)
	require.NoError(t, err)
	assert.Nil(t, sess.ActiveOrganizationID)
}

func TestStore_PendingInvitationIndex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.signIn(t, "Alice", "alice@example.com")

	org, err := f.orgs.CreateOrganization(ctx, alice, orgs.CreateOrgRequest{Name: "Acme"})
	require.NoError(t, err)

	now := time.Now().UTC()
	invite := func(id string) *orgs.Invitation {
		return &orgs.Invitation{
			ID: id, OrganizationID: org.ID, Email: "carol@example.com", Role: rbac.RoleMember,
			Status: orgs.InvitationPending, InviterID: alice.UserID,
			ExpiresAt: now.Add(time.Hour), CreatedAt: now,
		}
	}

	require.NoError(t, f.store.WithTx(ctx, func(tx orgs.Tx) error {
		return tx.CreateInvitation(ctx, invite("i1"))
	}))
	err = f.store.WithTx(ctx, func(tx orgs.Tx) error {
		return tx.CreateInvitation(ctx, invite("i2"))
	})
	assert.True(t, apperr.IsKind(err, apperr.KindDuplicateInvitation))

	// Once the first leaves pending a new one may be created.
	require.NoError(t, f.store.WithTx(ctx, func(tx orgs.Tx) error {
		if err := tx.UpdateInvitationStatus(ctx, "i1", orgs.InvitationDeclined); err != nil {
			return err
		}
		return tx.CreateInvitation(ctx, invite("i2"))
	}))
}

func TestStore_ExpirePendingInvitations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.signIn(t, "Alice", "alice@example.com")

	org, err := f.orgs.CreateOrganization(ctx, alice, orgs.CreateOrgRequest{Name: "Acme"})
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, f.store.WithTx(ctx, func(tx orgs.Tx) error {
		for i, exp := range []time.Time{now.Add(-time.Hour), now.Add(time.Hour)} {
			err := tx.CreateInvitation(ctx, &orgs.Invitation{
				ID: []string{"old", "new"}[i], OrganizationID: org.ID,
				Email: []string{"a@example.com", "b@example.com"}[i], Role: rbac.RoleMember,
				Status: orgs.InvitationPending, InviterID: alice.UserID, ExpiresAt: exp, CreatedAt: now,
			})
			if err != nil {
				return err
			}
		}
		return nil
	}))

	n, err := f.store.ExpirePendingInvitations(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	old, err := f.store.GetInvitation(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, orgs.InvitationExpired, old.Status)

	fresh, err := f.store.GetInvitation(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, orgs.InvitationPending, fresh.Status)
}

func TestStore_ConcurrentOwnerDemotions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.signIn(t, "Alice", "alice@example.com")
	bob := f.signIn(t, "Bob", "bob@example.com")

	org, err := f.orgs.CreateOrganization(ctx, alice, orgs.CreateOrgRequest{Name: "Acme"})
	require.NoError(t, err)
	inv, err := f.orgs.CreateInvitation(ctx, alice, org.ID, orgs.InviteMemberRequest{Email: "bob@example.com", Role: rbac.RoleOwner})
	require.NoError(t, err)
	_, err = f.orgs.AcceptInvitation(ctx, bob, inv.ID)
	require.NoError(t, err)

	aliceMember, err := f.store.FindMembership(ctx, org.ID, alice.UserID)
	require.NoError(t, err)
	bobMember, err := f.store.FindMembership(ctx, org.ID, bob.UserID)
	require.NoError(t, err)

	// Each owner demotes the other at the same time.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = f.orgs.UpdateMemberRole(ctx, alice, org.ID, bobMember.ID, rbac.RoleAdmin)
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = f.orgs.UpdateMemberRole(ctx, bob, org.ID, aliceMember.ID, rbac.RoleAdmin)
	}()
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t,
			apperr.IsKind(err, apperr.KindLastOwnerViolation) || apperr.IsKind(err, apperr.KindForbidden),
			"unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)

	owners, err := f.store.CountOwners(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, owners)
}

// attachStaleReplica snapshots the primary into a second database and registers it as the
// only replica. Nothing written to the primary afterwards reaches it.
func attachStaleReplica(t *testing.T, store *Store) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "replica.db")
	_, err := store.cm.Primary().Exec("VACUUM INTO ?", path)
	require.NoError(t, err)

	replica, err := sqlx.Open("sqlite3", SQLiteDSN(path))
	require.NoError(t, err)
	t.Cleanup(func() { replica.Close() })

	store.cm.mu.Lock()
	store.cm.replicas = []*sqlx.DB{replica}
	store.cm.mu.Unlock()
}

func TestStore_AuthorizationReadsIgnoreReplicaLag(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	alice := f.signIn(t, "Alice", "alice@example.com")
	_, err := f.auth.SignUp(ctx, auth.SignUpRequest{Name: "Bob", Email: "bob@example.com", Password: "correct-horse"})
	require.NoError(t, err)
	bob, bobToken, err := f.auth.Login(ctx, "bob@example.com", "correct-horse", auth.SessionMeta{})
	require.NoError(t, err)

	org, err := f.orgs.CreateOrganization(ctx, alice, orgs.CreateOrgRequest{Name: "Acme"})
	require.NoError(t, err)
	inv, err := f.orgs.CreateInvitation(ctx, alice, org.ID, orgs.InviteMemberRequest{Email: "bob@example.com", Role: rbac.RoleAdmin})
	require.NoError(t, err)
	bobMember, err := f.orgs.AcceptInvitation(ctx, bob, inv.ID)
	require.NoError(t, err)
	_, err = f.orgs.SelectOrganization(ctx, bob, org.ID)
	require.NoError(t, err)

	attachStaleReplica(t, f.store)

	t.Run("session created after the snapshot resolves", func(t *testing.T) {
		_, err := f.auth.SignUp(ctx, auth.SignUpRequest{Name: "Carol", Email: "carol@example.com", Password: "correct-horse"})
		require.NoError(t, err)
		_, token, err := f.auth.Login(ctx, "carol@example.com", "correct-horse", auth.SessionMeta{})
		require.NoError(t, err)

		authCtx, err := f.auth.Authenticate(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, "carol@example.com", authCtx.User.Email)
	})

	_, err = f.orgs.RemoveMember(ctx, alice, org.ID, bobMember.ID)
	require.NoError(t, err)

	t.Run("removed member has no active organization", func(t *testing.T) {
		session, err := f.auth.ResolveSession(ctx, bobToken)
		require.NoError(t, err)
		res, err := f.orgs.ResolveActiveOrganization(ctx, session)
		require.NoError(t, err)
		assert.Equal(t, orgs.StateNoOrganization, res.State)
		assert.Empty(t, res.OrganizationID)
	})

	t.Run("removed member fails the permission check", func(t *testing.T) {
		role, err := f.orgs.RequirePermission(ctx, bob, org.ID, rbac.ResourceInvitation, rbac.ActionRead)
		assert.True(t, apperr.IsKind(err, apperr.KindNotAMember), "unexpected error: %v", err)
		assert.Equal(t, rbac.RoleUnknown, role)

		owners, err := f.store.CountOwners(ctx, org.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, owners)
	})

	t.Run("listings may lag", func(t *testing.T) {
		members, err := f.store.ListMembers(ctx, org.ID)
		require.NoError(t, err)
		assert.Len(t, members, 2, "served from the snapshot")
	})
}
