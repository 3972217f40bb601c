package orgs

import (
	"context"
	"fmt"

	"github.com/platinummonkey/gatehouse/pkg/apperr"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
)

// ListMembers lists all members of an organization
func (s *Service) ListMembers(ctx context.Context, session *auth.Session, orgID string) ([]*Member, error) {
	if _, err := s.RequirePermission(ctx, session, orgID, rbac.ResourceMember, rbac.ActionRead); err != nil {
		return nil, err
	}
	members, err := s.store.ListMembers(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	return members, nil
}

// GetActiveMember returns the caller's own membership in orgID.
func (s *Service) GetActiveMember(ctx context.Context, session *auth.Session, orgID string) (*Member, error) {
	return findMember(ctx, s.store, session.UserID, orgID)
}

// UpdateMemberRole changes a member's role. The owner count and the write happen in one
// transaction under the organization lock, so concurrent demotions of the last two owners
// cannot both succeed.
func (s *Service) UpdateMemberRole(ctx context.Context, session *auth.Session, orgID, memberID string, role rbac.Role) (*Member, error) {
	if !role.Valid() {
		return nil, apperr.New(apperr.KindInvalid, "invalid role")
	}

	var updated *Member
	err := s.store.WithTx(ctx, func(tx Tx) error {
		if err := tx.LockOrganization(ctx, orgID); err != nil {
			return err
		}
		actor, err := requireInTx(ctx, tx, session.UserID, orgID, rbac.ResourceMember, rbac.ActionUpdate)
		if err != nil {
			return err
		}
		target, err := memberInOrg(ctx, tx, orgID, memberID)
		if err != nil {
			return err
		}
		if !rbac.CanManage(actor.Role, target.Role) || !rbac.CanAssign(actor.Role, role) {
			return apperr.New(apperr.KindForbidden, "You cannot assign the %s role to this member", role)
		}
		if target.Role == role {
			updated = target
			return nil
		}

		owners, err := tx.CountOwners(ctx, orgID)
		if err != nil {
			return err
		}
		if err := rbac.CheckOwnerChange(owners, target.Role, role); err != nil {
			return err
		}
		if err := tx.UpdateMemberRole(ctx, target.ID, role); err != nil {
			return err
		}
		target.Role = role
		updated = target
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update member role: %w", err)
	}
	return updated, nil
}

// RemoveMember removes a member from an organization. Members may always remove themselves;
// removing someone else requires member:delete and a role at least as high as theirs.
func (s *Service) RemoveMember(ctx context.Context, session *auth.Session, orgID, memberID string) (*Member, error) {
	var removed *Member
	err := s.store.WithTx(ctx, func(tx Tx) error {
		if err := tx.LockOrganization(ctx, orgID); err != nil {
			return err
		}
		actor, err := findMember(ctx, tx, session.UserID, orgID)
		if err != nil {
			return err
		}
		target, err := memberInOrg(ctx, tx, orgID, memberID)
		if err != nil {
			return err
		}
		if target.ID != actor.ID {
			if err := rbac.Require(actor.Role, rbac.ResourceMember, rbac.ActionDelete); err != nil {
				return err
			}
			if !rbac.CanManage(actor.Role, target.Role) {
				return apperr.New(apperr.KindForbidden, "You cannot remove a member with a higher role")
			}
		}
		if err := removeInTx(ctx, tx, orgID, target); err != nil {
			return err
		}
		removed = target
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to remove member: %w", err)
	}
	if removed.UserID == session.UserID && session.ActiveOrganization() == orgID {
		session.ActiveOrganizationID = nil
	}
	return removed, nil
}

// LeaveOrganization removes the caller's own membership.
func (s *Service) LeaveOrganization(ctx context.Context, session *auth.Session, orgID string) error {
	err := s.store.WithTx(ctx, func(tx Tx) error {
		if err := tx.LockOrganization(ctx, orgID); err != nil {
			return err
		}
		self, err := findMember(ctx, tx, session.UserID, orgID)
		if err != nil {
			return err
		}
		return removeInTx(ctx, tx, orgID, self)
	})
	if err != nil {
		return fmt.Errorf("failed to leave organization: %w", err)
	}
	if session.ActiveOrganization() == orgID {
		session.ActiveOrganizationID = nil
	}
	return nil
}

// TransferOwnership makes the target member an owner and demotes the caller to admin in one
// transaction. The target must already belong to the organization.
func (s *Service) TransferOwnership(ctx context.Context, session *auth.Session, orgID, targetUserID string) error {
	if targetUserID == session.UserID {
		return apperr.New(apperr.KindInvalid, "cannot transfer ownership to yourself")
	}

	err := s.store.WithTx(ctx, func(tx Tx) error {
		if err := tx.LockOrganization(ctx, orgID); err != nil {
			return err
		}
		actor, err := requireInTx(ctx, tx, session.UserID, orgID, rbac.ResourceOrganization, rbac.ActionTransfer)
		if err != nil {
			return err
		}
		target, err := tx.FindMembership(ctx, orgID, targetUserID)
		if err != nil {
			if apperr.IsKind(err, apperr.KindNotFound) {
				return apperr.New(apperr.KindNotAMember, "target user is not a member of this organization")
			}
			return err
		}
		if target.Role != rbac.RoleOwner {
			if err := tx.UpdateMemberRole(ctx, target.ID, rbac.RoleOwner); err != nil {
				return err
			}
		}
		return tx.UpdateMemberRole(ctx, actor.ID, rbac.RoleAdmin)
	})
	if err != nil {
		return fmt.Errorf("failed to transfer ownership: %w", err)
	}
	return nil
}

// removeInTx deletes target after the last-owner check and clears the removed user's session
// pointers to the organization. The caller holds the organization lock.
func removeInTx(ctx context.Context, tx Tx, orgID string, target *Member) error {
	owners, err := tx.CountOwners(ctx, orgID)
	if err != nil {
		return err
	}
	if err := rbac.CheckOwnerChange(owners, target.Role, rbac.RoleUnknown); err != nil {
		return err
	}
	if err := tx.DeleteMember(ctx, target.ID); err != nil {
		return err
	}
	return tx.ClearActiveOrganization(ctx, orgID, target.UserID)
}

func memberInOrg(ctx context.Context, tx Tx, orgID, memberID string) (*Member, error) {
	member, err := tx.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if member.OrganizationID != orgID {
		return nil, apperr.NotFound("member")
	}
	return member, nil
}
