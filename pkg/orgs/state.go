package orgs

import (
	"context"
	"fmt"

	"github.com/platinummonkey/gatehouse/pkg/apperr"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
)

// ActiveState is the routing state of an authenticated session.
type ActiveState string

const (
	// StateNoOrganization: the user belongs to no organization.
	StateNoOrganization ActiveState = "no_organization"
	// StateOrganizationsExistNoActive: the user has memberships but none is active.
	StateOrganizationsExistNoActive ActiveState = "organizations_exist_no_active"
	// StateActiveSet: the session points at an organization the user belongs to.
	StateActiveSet ActiveState = "active_set"
)

// Routes a client is sent to for each non-active state.
const (
	RouteCreateOrganization = "/create-organization"
	RouteSelectOrganization = "/org-select"
)

// Resolution is the state derived for a session on one request.
type Resolution struct {
	State          ActiveState `json:"state"`
	OrganizationID string      `json:"organization_id,omitempty"`
	Role           rbac.Role   `json:"role,omitempty"`
	Redirect       string      `json:"redirect,omitempty"`
}

// Active reports whether the session has a usable active organization.
func (r *Resolution) Active() bool {
	return r.State == StateActiveSet
}

// Err returns the NoActiveOrganization error for a non-active resolution, or nil.
func (r *Resolution) Err() error {
	if r.Active() {
		return nil
	}
	return &apperr.Error{
		Kind:     apperr.KindNoActiveOrganization,
		Msg:      "No active organization. Please join or create an organization.",
		Redirect: r.Redirect,
	}
}

// ResolveActiveOrganization recomputes the session's state. A pointer to an organization the
// user no longer belongs to is cleared here, so callers never act on a dangling pointer.
func (s *Service) ResolveActiveOrganization(ctx context.Context, session *auth.Session) (*Resolution, error) {
	if orgID := session.ActiveOrganization(); orgID != "" {
		member, err := s.store.FindMembership(ctx, orgID, session.UserID)
		switch {
		case err == nil:
			return &Resolution{State: StateActiveSet, OrganizationID: orgID, Role: member.Role}, nil
		case !apperr.IsKind(err, apperr.KindNotFound):
			return nil, fmt.Errorf("failed to resolve active organization: %w", err)
		}

		res, err := s.clearDangling(ctx, session, orgID)
		if err != nil || res != nil {
			return res, err
		}
	}

	orgs, err := s.store.ListOrganizationsForUser(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	if len(orgs) == 0 {
		return &Resolution{State: StateNoOrganization, Redirect: RouteCreateOrganization}, nil
	}
	return &Resolution{State: StateOrganizationsExistNoActive, Redirect: RouteSelectOrganization}, nil
}

// clearDangling unsets a pointer whose membership has disappeared. If the membership
// reappeared in the meantime the pointer is kept and an active resolution is returned.
func (s *Service) clearDangling(ctx context.Context, session *auth.Session, orgID string) (*Resolution, error) {
	var res *Resolution
	err := s.store.WithTx(ctx, func(tx Tx) error {
		member, err := tx.FindMembership(ctx, orgID, session.UserID)
		if err == nil {
			res = &Resolution{State: StateActiveSet, OrganizationID: orgID, Role: member.Role}
			return nil
		}
		if !apperr.IsKind(err, apperr.KindNotFound) {
			return err
		}
		return tx.ClearActiveOrganization(ctx, orgID, session.UserID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to clear active organization: %w", err)
	}
	if res == nil {
		session.ActiveOrganizationID = nil
	}
	return res, nil
}

// SelectOrganization makes orgID the session's active organization. The caller must be a
// member; the check and the write happen under the organization lock so a concurrent
// removal cannot leave the pointer dangling.
func (s *Service) SelectOrganization(ctx context.Context, session *auth.Session, orgID string) (*Organization, error) {
	var org *Organization
	err := s.store.WithTx(ctx, func(tx Tx) error {
		var err error
		org, err = tx.GetOrganization(ctx, orgID)
		if err != nil {
			return err
		}
		if err := tx.LockOrganization(ctx, orgID); err != nil {
			return err
		}
		if _, err := findMember(ctx, tx, session.UserID, orgID); err != nil {
			return err
		}
		return tx.SetActiveOrganization(ctx, session.ID, &orgID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set active organization: %w", err)
	}

	session.ActiveOrganizationID = &org.ID
	return org, nil
}

// SwitchOrganization moves an already-active session to another organization. It has the
// same precondition as SelectOrganization.
func (s *Service) SwitchOrganization(ctx context.Context, session *auth.Session, orgID string) (*Organization, error) {
	return s.SelectOrganization(ctx, session, orgID)
}

// ClearActiveOrganization unsets the session's active organization.
func (s *Service) ClearActiveOrganization(ctx context.Context, session *auth.Session) error {
	err := s.store.WithTx(ctx, func(tx Tx) error {
		return tx.SetActiveOrganization(ctx, session.ID, nil)
	})
	if err != nil {
		return fmt.Errorf("failed to clear active organization: %w", err)
	}
	session.ActiveOrganizationID = nil
	return nil
}

// DefaultActiveOrganization points a session without an active organization at the user's
// only organization. With zero or several memberships it does nothing.
func (s *Service) DefaultActiveOrganization(ctx context.Context, session *auth.Session) error {
	if session.ActiveOrganizationID != nil {
		return nil
	}
	orgs, err := s.store.ListOrganizationsForUser(ctx, session.UserID)
	if err != nil {
		return fmt.Errorf("failed to list organizations: %w", err)
	}
	if len(orgs) != 1 {
		return nil
	}
	_, err = s.SelectOrganization(ctx, session, orgs[0].ID)
	return err
}
