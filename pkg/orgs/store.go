package orgs

import (
	"context"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
)

// Reader is the read side of the identity store.
// Lookups that find nothing return an error of kind apperr.KindNotFound.
type Reader interface {
	GetOrganization(ctx context.Context, id string) (*Organization, error)
	GetOrganizationBySlug(ctx context.Context, slug string) (*Organization, error)
	ListOrganizationsForUser(ctx context.Context, userID string) ([]*Organization, error)

	GetMember(ctx context.Context, memberID string) (*Member, error)
	FindMembership(ctx context.Context, orgID, userID string) (*Member, error)
	// ListMembers returns members with their User populated, oldest first.
	ListMembers(ctx context.Context, orgID string) ([]*Member, error)
	CountOwners(ctx context.Context, orgID string) (int, error)

	GetInvitation(ctx context.Context, id string) (*Invitation, error)
	// FindPendingInvitation returns the invitation stored as pending for (orgID, email),
	// whether or not it has passed its deadline.
	FindPendingInvitation(ctx context.Context, orgID, email string) (*Invitation, error)
	ListInvitations(ctx context.Context, orgID string) ([]*Invitation, error)
	// ListInvitationsForEmail returns invitations addressed to email with OrganizationName set.
	ListInvitationsForEmail(ctx context.Context, email string) ([]*Invitation, error)

	GetUser(ctx context.Context, id string) (*auth.User, error)
	GetUserByEmail(ctx context.Context, email string) (*auth.User, error)
}

// Tx is one atomic unit of work against the identity store.
type Tx interface {
	Reader

	// LockOrganization serializes role-mutating work on orgID until the transaction ends.
	LockOrganization(ctx context.Context, orgID string) error

	CreateOrganization(ctx context.Context, org *Organization) error
	UpdateOrganization(ctx context.Context, org *Organization) error
	// DeleteOrganization removes the organization with its members and invitations and
	// clears every session pointer to it.
	DeleteOrganization(ctx context.Context, orgID string) error

	CreateMember(ctx context.Context, member *Member) error
	UpdateMemberRole(ctx context.Context, memberID string, role rbac.Role) error
	DeleteMember(ctx context.Context, memberID string) error

	CreateInvitation(ctx context.Context, invitation *Invitation) error
	UpdateInvitationStatus(ctx context.Context, id string, status InvitationStatus) error

	SetActiveOrganization(ctx context.Context, sessionID string, orgID *string) error
	// ClearActiveOrganization unsets the pointer on every session of userID that points at
	// orgID. An empty userID clears it for all users.
	ClearActiveOrganization(ctx context.Context, orgID, userID string) error
}

// Store is the identity store consumed by the organization service.
type Store interface {
	Reader

	// WithTx runs fn in a transaction. Any error returned by fn rolls back every write
	// made through tx.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// ExpirePendingInvitations persists the expired status of pending invitations whose
	// deadline is before now.
	ExpirePendingInvitations(ctx context.Context, now time.Time) (int64, error)
}
