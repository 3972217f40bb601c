package orgs

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/gatehouse/pkg/apperr"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
)

// DefaultInvitationTTL is how long an invitation stays acceptable when no TTL is configured.
const DefaultInvitationTTL = 48 * time.Hour

// MaxLogoSize bounds an uploaded logo image.
const MaxLogoSize = 1 << 20

// LogoStore persists logo images and returns a reference to store on the organization.
type LogoStore interface {
	PutLogo(ctx context.Context, orgID, contentType string, data []byte) (string, error)
}

// Config tunes the organization service.
type Config struct {
	InvitationTTL time.Duration
	// Logos is optional; without it SetLogo is rejected.
	Logos LogoStore
	// Clock overrides time.Now; used by tests.
	Clock func() time.Time
}

// Service implements organization management, the active-organization state machine,
// membership resolution and the invitation lifecycle on top of a Store.
type Service struct {
	store         Store
	logos         LogoStore
	invitationTTL time.Duration
	now           func() time.Time
}

// NewService creates a new organization service
func NewService(store Store, cfg Config) *Service {
	s := &Service{
		store:         store,
		logos:         cfg.Logos,
		invitationTTL: cfg.InvitationTTL,
		now:           cfg.Clock,
	}
	if s.invitationTTL <= 0 {
		s.invitationTTL = DefaultInvitationTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// CreateOrganization creates an organization, makes the caller its owner and points the
// caller's session at it. The three writes commit together or not at all.
func (s *Service) CreateOrganization(ctx context.Context, session *auth.Session, req CreateOrgRequest) (*Organization, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.New(apperr.KindInvalid, "organization name is required")
	}

	slug := strings.TrimSpace(req.Slug)
	if slug == "" {
		slug = generateSlug(name)
	}
	if err := validateSlug(slug); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	org := &Organization{
		ID:        uuid.New().String(),
		Name:      name,
		Slug:      slug,
		Logo:      req.Logo,
		Metadata:  req.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	owner := &Member{
		ID:             uuid.New().String(),
		OrganizationID: org.ID,
		UserID:         session.UserID,
		Role:           rbac.RoleOwner,
		CreatedAt:      now,
	}

	err := s.store.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.GetOrganizationBySlug(ctx, slug); err == nil {
			return slugTaken(slug)
		} else if !apperr.IsKind(err, apperr.KindNotFound) {
			return err
		}
		if err := tx.CreateOrganization(ctx, org); err != nil {
			if apperr.IsKind(err, apperr.KindConflict) {
				return slugTaken(slug)
			}
			return err
		}
		if err := tx.CreateMember(ctx, owner); err != nil {
			return err
		}
		return tx.SetActiveOrganization(ctx, session.ID, &org.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create organization: %w", err)
	}

	session.ActiveOrganizationID = &org.ID
	return org, nil
}

// CheckSlug reports whether slug is free to use.
func (s *Service) CheckSlug(ctx context.Context, slug string) (bool, error) {
	if err := validateSlug(slug); err != nil {
		return false, err
	}
	_, err := s.store.GetOrganizationBySlug(ctx, slug)
	switch {
	case err == nil:
		return false, nil
	case apperr.IsKind(err, apperr.KindNotFound):
		return true, nil
	default:
		return false, fmt.Errorf("failed to check slug: %w", err)
	}
}

// ListOrganizations returns the organizations the session's user belongs to.
func (s *Service) ListOrganizations(ctx context.Context, session *auth.Session) ([]*Organization, error) {
	orgs, err := s.store.ListOrganizationsForUser(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	return orgs, nil
}

// GetOrganization returns an organization the caller is a member of.
func (s *Service) GetOrganization(ctx context.Context, session *auth.Session, orgID string) (*Organization, error) {
	if _, err := s.RequirePermission(ctx, session, orgID, rbac.ResourceOrganization, rbac.ActionRead); err != nil {
		return nil, err
	}
	return s.store.GetOrganization(ctx, orgID)
}

// GetFullOrganization returns an organization with its members and invitations.
func (s *Service) GetFullOrganization(ctx context.Context, session *auth.Session, orgID string) (*FullOrganization, error) {
	org, err := s.GetOrganization(ctx, session, orgID)
	if err != nil {
		return nil, err
	}
	members, err := s.store.ListMembers(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	invitations, err := s.store.ListInvitations(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	return &FullOrganization{
		Organization: org,
		Members:      members,
		Invitations:  s.applyExpiry(invitations),
	}, nil
}

// UpdateOrganization changes an organization's name, slug, logo or metadata.
func (s *Service) UpdateOrganization(ctx context.Context, session *auth.Session, orgID string, req UpdateOrgRequest) (*Organization, error) {
	var updated *Organization
	err := s.store.WithTx(ctx, func(tx Tx) error {
		if err := tx.LockOrganization(ctx, orgID); err != nil {
			return err
		}
		if _, err := requireInTx(ctx, tx, session.UserID, orgID, rbac.ResourceOrganization, rbac.ActionUpdate); err != nil {
			return err
		}
		org, err := tx.GetOrganization(ctx, orgID)
		if err != nil {
			return err
		}

		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return apperr.New(apperr.KindInvalid, "organization name is required")
			}
			org.Name = name
		}
		if req.Slug != nil && *req.Slug != org.Slug {
			if err := validateSlug(*req.Slug); err != nil {
				return err
			}
			if other, err := tx.GetOrganizationBySlug(ctx, *req.Slug); err == nil && other.ID != org.ID {
				return slugTaken(*req.Slug)
			} else if err != nil && !apperr.IsKind(err, apperr.KindNotFound) {
				return err
			}
			org.Slug = *req.Slug
		}
		if req.Logo != nil {
			org.Logo = *req.Logo
		}
		if req.Metadata != nil {
			org.Metadata = req.Metadata
		}
		org.UpdatedAt = s.now().UTC()

		if err := tx.UpdateOrganization(ctx, org); err != nil {
			if apperr.IsKind(err, apperr.KindConflict) {
				return slugTaken(org.Slug)
			}
			return err
		}
		updated = org
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update organization: %w", err)
	}
	return updated, nil
}

// SetLogo uploads a logo image and records its reference on the organization.
func (s *Service) SetLogo(ctx context.Context, session *auth.Session, orgID, contentType string, data []byte) (*Organization, error) {
	if s.logos == nil {
		return nil, apperr.New(apperr.KindInvalid, "logo uploads are not enabled")
	}
	if !logoTypes[contentType] {
		return nil, apperr.New(apperr.KindInvalid, "unsupported logo content type %q", contentType)
	}
	if len(data) == 0 || len(data) > MaxLogoSize {
		return nil, apperr.New(apperr.KindInvalid, "logo must be between 1 byte and %d bytes", MaxLogoSize)
	}
	// Checked before the upload so non-admins cannot write objects.
	if _, err := s.RequirePermission(ctx, session, orgID, rbac.ResourceOrganization, rbac.ActionUpdate); err != nil {
		return nil, err
	}

	ref, err := s.logos.PutLogo(ctx, orgID, contentType, data)
	if err != nil {
		return nil, apperr.Internal("orgs.SetLogo", err)
	}
	return s.UpdateOrganization(ctx, session, orgID, UpdateOrgRequest{Logo: &ref})
}

var logoTypes = map[string]bool{
	"image/png":     true,
	"image/jpeg":    true,
	"image/gif":     true,
	"image/webp":    true,
	"image/svg+xml": true,
}

// DeleteOrganization removes an organization and everything scoped to it. Owners only.
func (s *Service) DeleteOrganization(ctx context.Context, session *auth.Session, orgID string) error {
	err := s.store.WithTx(ctx, func(tx Tx) error {
		if err := tx.LockOrganization(ctx, orgID); err != nil {
			return err
		}
		if _, err := requireInTx(ctx, tx, session.UserID, orgID, rbac.ResourceOrganization, rbac.ActionDelete); err != nil {
			return err
		}
		return tx.DeleteOrganization(ctx, orgID)
	})
	if err != nil {
		return fmt.Errorf("failed to delete organization: %w", err)
	}
	if session.ActiveOrganization() == orgID {
		session.ActiveOrganizationID = nil
	}
	return nil
}

// ResolveRole returns the user's role in the organization, or NotAMember.
func (s *Service) ResolveRole(ctx context.Context, userID, orgID string) (rbac.Role, error) {
	return resolveRole(ctx, s.store, userID, orgID)
}

// RequirePermission resolves the caller's role in orgID and authorizes action on resource.
func (s *Service) RequirePermission(ctx context.Context, session *auth.Session, orgID string, resource rbac.Resource, action rbac.Action) (rbac.Role, error) {
	role, err := s.ResolveRole(ctx, session.UserID, orgID)
	if err != nil {
		return rbac.RoleUnknown, err
	}
	if err := rbac.Require(role, resource, action); err != nil {
		return role, err
	}
	return role, nil
}

// ExpireInvitations persists the expired status of overdue pending invitations.
func (s *Service) ExpireInvitations(ctx context.Context) (int64, error) {
	n, err := s.store.ExpirePendingInvitations(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to expire invitations: %w", err)
	}
	return n, nil
}

func resolveRole(ctx context.Context, r Reader, userID, orgID string) (rbac.Role, error) {
	member, err := findMember(ctx, r, userID, orgID)
	if err != nil {
		return rbac.RoleUnknown, err
	}
	return member.Role, nil
}

func findMember(ctx context.Context, r Reader, userID, orgID string) (*Member, error) {
	member, err := r.FindMembership(ctx, orgID, userID)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return nil, apperr.New(apperr.KindNotAMember, "You are not a member of this organization")
		}
		return nil, err
	}
	return member, nil
}

// requireInTx resolves the actor's membership inside tx and authorizes the action.
func requireInTx(ctx context.Context, tx Tx, userID, orgID string, resource rbac.Resource, action rbac.Action) (*Member, error) {
	actor, err := findMember(ctx, tx, userID, orgID)
	if err != nil {
		return nil, err
	}
	if err := rbac.Require(actor.Role, resource, action); err != nil {
		return nil, err
	}
	return actor, nil
}

func (s *Service) applyExpiry(invitations []*Invitation) []*Invitation {
	now := s.now()
	for _, inv := range invitations {
		inv.Status = inv.EffectiveStatus(now)
	}
	return invitations
}

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// generateSlug generates a URL-friendly slug from a name
func generateSlug(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		if r == ' ' || r == '-' || r == '_' || r == '.' {
			return '-'
		}
		return -1
	}, slug)
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	return strings.Trim(slug, "-")
}

func validateSlug(slug string) error {
	if len(slug) == 0 || len(slug) > 64 || !slugPattern.MatchString(slug) {
		return apperr.New(apperr.KindInvalid,
			"slug %q must be 1-64 lowercase letters, digits or single hyphens", slug)
	}
	return nil
}

func slugTaken(slug string) error {
	return apperr.New(apperr.KindConflict, "organization slug %q is already taken", slug)
}
