//go:build integration

package sqlstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/gatehouse/pkg/apperr"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/orgs"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
	"github.com/platinummonkey/gatehouse/pkg/storage"
)

// newPostgresFixture starts a PostgreSQL container and returns a migrated fixture on it.
func newPostgresFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("gatehouse_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	cfg := storage.DefaultConfig()
	cfg.Type = storage.TypePostgres
	cfg.PostgresURL = connStr

	store, err := Open(cfg, observability.NewLogger(observability.ErrorLevel, nil))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx), "migrations are idempotent")

	return &fixture{
		store: store,
		auth:  auth.NewService(store, auth.ServiceConfig{BcryptCost: bcrypt.MinCost}),
		orgs:  orgs.NewService(store, orgs.Config{InvitationTTL: 48 * time.Hour}),
	}
}

func TestPostgresIntegration_OrganizationLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()
	f := newPostgresFixture(t)
	require.NoError(t, f.store.Connections().HealthCheck(ctx))

	alice := f.signIn(t, "Alice", "alice@example.com")
	bob := f.signIn(t, "Bob", "bob@example.com")

	org, err := f.orgs.CreateOrganization(ctx, alice, orgs.CreateOrgRequest{Name: "Acme", Metadata: map[string]interface{}{"plan": "team"}})
	require.NoError(t, err)
	assert.Equal(t, "acme", org.Slug)
	require.NotNil(t, alice.ActiveOrganizationID)
	assert.Equal(t, org.ID, *alice.ActiveOrganizationID)

	_, err = f.orgs.CreateOrganization(ctx, bob, orgs.CreateOrgRequest{Name: "Other", Slug: "acme"})
	assert.True(t, apperr.IsKind(err, apperr.KindConflict), "duplicate slug: %v", err)

	inv, err := f.orgs.CreateInvitation(ctx, alice, org.ID, orgs.InviteMemberRequest{Email: "Bob@Example.com", Role: rbac.RoleAdmin})
	require.NoError(t, err)
	_, err = f.orgs.CreateInvitation(ctx, alice, org.ID, orgs.InviteMemberRequest{Email: "bob@example.com", Role: rbac.RoleMember})
	assert.True(t, apperr.IsKind(err, apperr.KindDuplicateInvitation), "second pending invitation: %v", err)

	member, err := f.orgs.AcceptInvitation(ctx, bob, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleAdmin, member.Role)

	full, err := f.orgs.GetFullOrganization(ctx, bob, org.ID)
	require.NoError(t, err)
	assert.Len(t, full.Members, 2)
	assert.Equal(t, "team", full.Metadata["plan"])

	// The sole owner can neither demote nor remove themselves.
	aliceMember, err := f.store.FindMembership(ctx, org.ID, alice.UserID)
	require.NoError(t, err)
	_, err = f.orgs.UpdateMemberRole(ctx, alice, org.ID, aliceMember.ID, rbac.RoleMember)
	assert.True(t, apperr.IsKind(err, apperr.KindLastOwnerViolation), "self-demotion: %v", err)
	err = f.orgs.LeaveOrganization(ctx, alice, org.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindLastOwnerViolation), "leave: %v", err)

	require.NoError(t, f.orgs.TransferOwnership(ctx, alice, org.ID, bob.UserID))
	require.NoError(t, f.orgs.LeaveOrganization(ctx, alice, org.ID))

	res, err := f.orgs.ResolveActiveOrganization(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, orgs.StateNoOrganization, res.State)

	require.NoError(t, f.orgs.DeleteOrganization(ctx, bob, org.ID))
	_, err = f.store.GetOrganization(ctx, org.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestPostgresIntegration_ConcurrentOwnerRemovals(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()
	f := newPostgresFixture(t)

	alice := f.signIn(t, "Alice", "alice@example.com")
	bob := f.signIn(t, "Bob", "bob@example.com")
	org, err := f.orgs.CreateOrganization(ctx, alice, orgs.CreateOrgRequest{Name: "Acme"})
	require.NoError(t, err)
	inv, err := f.orgs.CreateInvitation(ctx, alice, org.ID, orgs.InviteMemberRequest{Email: "bob@example.com", Role: rbac.RoleOwner})
	require.NoError(t, err)
	_, err = f.orgs.AcceptInvitation(ctx, bob, inv.ID)
	require.NoError(t, err)

	// Both owners leave at once; the row lock lets exactly one through.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, s := range []*auth.Session{alice, bob} {
		wg.Add(1)
		go func(i int, s *auth.Session) {
			defer wg.Done()
			errs[i] = f.orgs.LeaveOrganization(ctx, s, org.ID)
		}(i, s)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, apperr.IsKind(err, apperr.KindLastOwnerViolation), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)

	owners, err := f.store.CountOwners(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, owners)
}
