package orgs

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/platinummonkey/gatehouse/pkg/apperr"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
)

// CreateInvitation invites an email address to join orgID with the requested role.
// At most one effectively pending invitation exists per (organization, email).
func (s *Service) CreateInvitation(ctx context.Context, session *auth.Session, orgID string, req InviteMemberRequest) (*Invitation, error) {
	email, err := auth.NormalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	role := req.Role
	if role == rbac.RoleUnknown {
		role = rbac.RoleMember
	}
	if !role.Valid() {
		return nil, apperr.New(apperr.KindInvalid, "invalid role")
	}

	now := s.now().UTC()
	invitation := &Invitation{
		ID:             uuid.New().String(),
		OrganizationID: orgID,
		Email:          email,
		Role:           role,
		Status:         InvitationPending,
		InviterID:      session.UserID,
		ExpiresAt:      now.Add(s.invitationTTL),
		CreatedAt:      now,
	}

	err = s.store.WithTx(ctx, func(tx Tx) error {
		if err := tx.LockOrganization(ctx, orgID); err != nil {
			return err
		}
		actor, err := requireInTx(ctx, tx, session.UserID, orgID, rbac.ResourceInvitation, rbac.ActionCreate)
		if err != nil {
			return err
		}
		if !rbac.CanAssign(actor.Role, role) {
			return apperr.New(apperr.KindForbidden, "You cannot invite a user with the %s role", role)
		}

		if user, err := tx.GetUserByEmail(ctx, email); err == nil {
			if _, err := tx.FindMembership(ctx, orgID, user.ID); err == nil {
				return apperr.New(apperr.KindAlreadyMember, "%s is already a member of this organization", email)
			} else if !apperr.IsKind(err, apperr.KindNotFound) {
				return err
			}
		} else if !apperr.IsKind(err, apperr.KindNotFound) {
			return err
		}

		existing, err := tx.FindPendingInvitation(ctx, orgID, email)
		switch {
		case err == nil:
			if existing.EffectiveStatus(now) == InvitationPending {
				return apperr.New(apperr.KindDuplicateInvitation, "%s has already been invited to this organization", email)
			}
			if err := tx.UpdateInvitationStatus(ctx, existing.ID, InvitationExpired); err != nil {
				return err
			}
		case !apperr.IsKind(err, apperr.KindNotFound):
			return err
		}

		return tx.CreateInvitation(ctx, invitation)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create invitation: %w", err)
	}
	return invitation, nil
}

// ListInvitations lists an organization's invitations with lazy expiry applied.
func (s *Service) ListInvitations(ctx context.Context, session *auth.Session, orgID string) ([]*Invitation, error) {
	if _, err := s.RequirePermission(ctx, session, orgID, rbac.ResourceInvitation, rbac.ActionRead); err != nil {
		return nil, err
	}
	invitations, err := s.store.ListInvitations(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	return s.applyExpiry(invitations), nil
}

// ListUserInvitations lists the pending invitations addressed to the caller.
func (s *Service) ListUserInvitations(ctx context.Context, session *auth.Session) ([]*Invitation, error) {
	user, err := s.store.GetUser(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	invitations, err := s.store.ListInvitationsForEmail(ctx, user.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}

	pending := make([]*Invitation, 0, len(invitations))
	for _, inv := range s.applyExpiry(invitations) {
		if inv.Status == InvitationPending {
			pending = append(pending, inv)
		}
	}
	return pending, nil
}

// GetInvitation returns an invitation to its recipient or to a member of the inviting
// organization. Anyone else sees NotFound.
func (s *Service) GetInvitation(ctx context.Context, session *auth.Session, invitationID string) (*Invitation, error) {
	inv, err := s.store.GetInvitation(ctx, invitationID)
	if err != nil {
		return nil, err
	}

	user, err := s.store.GetUser(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user.Email != inv.Email {
		if _, err := s.RequirePermission(ctx, session, inv.OrganizationID, rbac.ResourceInvitation, rbac.ActionRead); err != nil {
			return nil, apperr.NotFound("invitation")
		}
	}

	if org, err := s.store.GetOrganization(ctx, inv.OrganizationID); err == nil {
		inv.OrganizationName = org.Name
	}
	inv.Status = inv.EffectiveStatus(s.now())
	return inv, nil
}

// AcceptInvitation turns a pending invitation into a membership and makes the organization
// the caller's active one. If the caller is already a member the invitation stays pending.
func (s *Service) AcceptInvitation(ctx context.Context, session *auth.Session, invitationID string) (*Member, error) {
	var member *Member
	err := s.respondToInvitation(ctx, session, invitationID, func(tx Tx, inv *Invitation) error {
		if _, err := tx.FindMembership(ctx, inv.OrganizationID, session.UserID); err == nil {
			return apperr.New(apperr.KindAlreadyMember, "You are already a member of this organization")
		} else if !apperr.IsKind(err, apperr.KindNotFound) {
			return err
		}

		member = &Member{
			ID:             uuid.New().String(),
			OrganizationID: inv.OrganizationID,
			UserID:         session.UserID,
			Role:           inv.Role,
			CreatedAt:      s.now().UTC(),
		}
		if err := tx.CreateMember(ctx, member); err != nil {
			return err
		}
		if err := tx.UpdateInvitationStatus(ctx, inv.ID, InvitationAccepted); err != nil {
			return err
		}
		return tx.SetActiveOrganization(ctx, session.ID, &inv.OrganizationID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to accept invitation: %w", err)
	}

	session.ActiveOrganizationID = &member.OrganizationID
	return member, nil
}

// DeclineInvitation marks a pending invitation addressed to the caller as declined.
func (s *Service) DeclineInvitation(ctx context.Context, session *auth.Session, invitationID string) error {
	err := s.respondToInvitation(ctx, session, invitationID, func(tx Tx, inv *Invitation) error {
		return tx.UpdateInvitationStatus(ctx, inv.ID, InvitationDeclined)
	})
	if err != nil {
		return fmt.Errorf("failed to decline invitation: %w", err)
	}
	return nil
}

// respondToInvitation runs fn for a pending invitation addressed to the caller, holding the
// inviting organization's lock.
func (s *Service) respondToInvitation(ctx context.Context, session *auth.Session, invitationID string, fn func(tx Tx, inv *Invitation) error) error {
	user, err := s.store.GetUser(ctx, session.UserID)
	if err != nil {
		return err
	}

	return s.store.WithTx(ctx, func(tx Tx) error {
		inv, err := tx.GetInvitation(ctx, invitationID)
		if err != nil {
			return err
		}
		if err := tx.LockOrganization(ctx, inv.OrganizationID); err != nil {
			return err
		}
		// Re-read under the lock: a concurrent response may have moved it out of pending.
		if inv, err = tx.GetInvitation(ctx, invitationID); err != nil {
			return err
		}

		if inv.Email != user.Email {
			return apperr.New(apperr.KindForbidden, "You are not the recipient of the invitation")
		}
		if status := inv.EffectiveStatus(s.now()); status != InvitationPending {
			return apperr.New(apperr.KindInvalidState, "invitation is %s", status)
		}
		return fn(tx, inv)
	})
}

// CancelInvitation withdraws a pending invitation.
func (s *Service) CancelInvitation(ctx context.Context, session *auth.Session, orgID, invitationID string) error {
	err := s.store.WithTx(ctx, func(tx Tx) error {
		if err := tx.LockOrganization(ctx, orgID); err != nil {
			return err
		}
		if _, err := requireInTx(ctx, tx, session.UserID, orgID, rbac.ResourceInvitation, rbac.ActionCancel); err != nil {
			return err
		}
		inv, err := tx.GetInvitation(ctx, invitationID)
		if err != nil {
			return err
		}
		if inv.OrganizationID != orgID {
			return apperr.NotFound("invitation")
		}
		if status := inv.EffectiveStatus(s.now()); status != InvitationPending {
			return apperr.New(apperr.KindInvalidState, "invitation is %s", status)
		}
		return tx.UpdateInvitationStatus(ctx, inv.ID, InvitationCancelled)
	})
	if err != nil {
		return fmt.Errorf("failed to cancel invitation: %w", err)
	}
	return nil
}
