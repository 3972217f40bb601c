package memory

import (
	"context"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/apperr"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/orgs"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
)

// tx operates on a private copy of the store state. The store lock is held for its lifetime.
type tx struct {
	st *state
}

func (t *tx) GetOrganization(ctx context.Context, id string) (*orgs.Organization, error) {
	return t.st.getOrganization(id)
}

func (t *tx) GetOrganizationBySlug(ctx context.Context, slug string) (*orgs.Organization, error) {
	return t.st.getOrganizationBySlug(slug)
}

func (t *tx) ListOrganizationsForUser(ctx context.Context, userID string) ([]*orgs.Organization, error) {
	return t.st.listOrganizationsForUser(userID), nil
}

func (t *tx) GetMember(ctx context.Context, memberID string) (*orgs.Member, error) {
	return t.st.getMember(memberID)
}

func (t *tx) FindMembership(ctx context.Context, orgID, userID string) (*orgs.Member, error) {
	return t.st.findMembership(orgID, userID)
}

func (t *tx) ListMembers(ctx context.Context, orgID string) ([]*orgs.Member, error) {
	return t.st.listMembers(orgID), nil
}

func (t *tx) CountOwners(ctx context.Context, orgID string) (int, error) {
	return t.st.countOwners(orgID), nil
}

func (t *tx) GetInvitation(ctx context.Context, id string) (*orgs.Invitation, error) {
	return t.st.getInvitation(id)
}

func (t *tx) FindPendingInvitation(ctx context.Context, orgID, email string) (*orgs.Invitation, error) {
	return t.st.findPendingInvitation(orgID, email)
}

func (t *tx) ListInvitations(ctx context.Context, orgID string) ([]*orgs.Invitation, error) {
	return t.st.listInvitations(func(i *orgs.Invitation) bool { return i.OrganizationID == orgID }), nil
}

func (t *tx) ListInvitationsForEmail(ctx context.Context, email string) ([]*orgs.Invitation, error) {
	return t.st.listInvitations(func(i *orgs.Invitation) bool { return i.Email == email }), nil
}

func (t *tx) GetUser(ctx context.Context, id string) (*auth.User, error) {
	return t.st.getUser(id)
}

func (t *tx) GetUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	return t.st.getUserByEmail(email)
}

// LockOrganization only checks existence; the whole store is already held.
func (t *tx) LockOrganization(ctx context.Context, orgID string) error {
	if _, ok := t.st.orgs[orgID]; !ok {
		return apperr.NotFound("organization")
	}
	return nil
}

func (t *tx) CreateOrganization(ctx context.Context, org *orgs.Organization) error {
	if _, ok := t.st.orgs[org.ID]; ok {
		return apperr.New(apperr.KindConflict, "organization already exists")
	}
	if _, err := t.st.getOrganizationBySlug(org.Slug); err == nil {
		return apperr.New(apperr.KindConflict, "slug %q is already taken", org.Slug)
	}
	t.st.orgs[org.ID] = copyOrg(org)
	return nil
}

func (t *tx) UpdateOrganization(ctx context.Context, org *orgs.Organization) error {
	if _, ok := t.st.orgs[org.ID]; !ok {
		return apperr.NotFound("organization")
	}
	if other, err := t.st.getOrganizationBySlug(org.Slug); err == nil && other.ID != org.ID {
		return apperr.New(apperr.KindConflict, "slug %q is already taken", org.Slug)
	}
	t.st.orgs[org.ID] = copyOrg(org)
	return nil
}

func (t *tx) DeleteOrganization(ctx context.Context, orgID string) error {
	if _, ok := t.st.orgs[orgID]; !ok {
		return apperr.NotFound("organization")
	}
	for id, m := range t.st.members {
		if m.OrganizationID == orgID {
			delete(t.st.members, id)
		}
	}
	for id, inv := range t.st.invitations {
		if inv.OrganizationID == orgID {
			delete(t.st.invitations, id)
		}
	}
	t.clearPointers(orgID, "")
	delete(t.st.orgs, orgID)
	return nil
}

func (t *tx) CreateMember(ctx context.Context, member *orgs.Member) error {
	if _, ok := t.st.orgs[member.OrganizationID]; !ok {
		return apperr.NotFound("organization")
	}
	if _, ok := t.st.users[member.UserID]; !ok {
		return apperr.NotFound("user")
	}
	if _, err := t.st.findMembership(member.OrganizationID, member.UserID); err == nil {
		return apperr.New(apperr.KindAlreadyMember, "user is already a member of this organization")
	}
	m := *member
	m.User = nil
	t.st.members[m.ID] = &m
	return nil
}

func (t *tx) UpdateMemberRole(ctx context.Context, memberID string, role rbac.Role) error {
	m, ok := t.st.members[memberID]
	if !ok {
		return apperr.NotFound("member")
	}
	m.Role = role
	return nil
}

func (t *tx) DeleteMember(ctx context.Context, memberID string) error {
	if _, ok := t.st.members[memberID]; !ok {
		return apperr.NotFound("member")
	}
	delete(t.st.members, memberID)
	return nil
}

func (t *tx) CreateInvitation(ctx context.Context, invitation *orgs.Invitation) error {
	if _, ok := t.st.orgs[invitation.OrganizationID]; !ok {
		return apperr.NotFound("organization")
	}
	if invitation.Status == orgs.InvitationPending {
		if _, err := t.st.findPendingInvitation(invitation.OrganizationID, invitation.Email); err == nil {
			return apperr.New(apperr.KindDuplicateInvitation, "a pending invitation already exists for %s", invitation.Email)
		}
	}
	inv := *invitation
	inv.OrganizationName = ""
	t.st.invitations[inv.ID] = &inv
	return nil
}

func (t *tx) UpdateInvitationStatus(ctx context.Context, id string, status orgs.InvitationStatus) error {
	inv, ok := t.st.invitations[id]
	if !ok {
		return apperr.NotFound("invitation")
	}
	inv.Status = status
	return nil
}

func (t *tx) SetActiveOrganization(ctx context.Context, sessionID string, orgID *string) error {
	sess, ok := t.st.sessions[sessionID]
	if !ok {
		return apperr.NotFound("session")
	}
	if orgID == nil {
		sess.ActiveOrganizationID = nil
	} else {
		if _, ok := t.st.orgs[*orgID]; !ok {
			return apperr.NotFound("organization")
		}
		id := *orgID
		sess.ActiveOrganizationID = &id
	}
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

func (t *tx) ClearActiveOrganization(ctx context.Context, orgID, userID string) error {
	t.clearPointers(orgID, userID)
	return nil
}

func (t *tx) clearPointers(orgID, userID string) {
	for _, sess := range t.st.sessions {
		if sess.ActiveOrganizationID == nil || *sess.ActiveOrganizationID != orgID {
			continue
		}
		if userID != "" && sess.UserID != userID {
			continue
		}
		sess.ActiveOrganizationID = nil
	}
}
