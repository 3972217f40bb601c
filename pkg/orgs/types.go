package orgs

import (
	"time"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
)

// Organization represents a tenant
type Organization struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Slug      string                 `json:"slug"`
	Logo      string                 `json:"logo,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Member represents a user's membership in an organization
type Member struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	UserID         string     `json:"user_id"`
	Role           rbac.Role  `json:"role"`
	CreatedAt      time.Time  `json:"created_at"`
	User           *auth.User `json:"user,omitempty"`
}

// InvitationStatus is the lifecycle state of an invitation
type InvitationStatus string

const (
	InvitationPending   InvitationStatus = "pending"
	InvitationAccepted  InvitationStatus = "accepted"
	InvitationDeclined  InvitationStatus = "declined"
	InvitationCancelled InvitationStatus = "cancelled"
	InvitationExpired   InvitationStatus = "expired"
)

// Terminal reports whether no further transition is possible from s.
func (s InvitationStatus) Terminal() bool {
	return s != InvitationPending
}

// Valid reports whether s is a known status.
func (s InvitationStatus) Valid() bool {
	switch s {
	case InvitationPending, InvitationAccepted, InvitationDeclined, InvitationCancelled, InvitationExpired:
		return true
	}
	return false
}

// Invitation represents an invitation for an email address to join an organization
type Invitation struct {
	ID               string           `json:"id"`
	OrganizationID   string           `json:"organization_id"`
	OrganizationName string           `json:"organization_name,omitempty"`
	Email            string           `json:"email"`
	Role             rbac.Role        `json:"role"`
	Status           InvitationStatus `json:"status"`
	InviterID        string           `json:"inviter_id"`
	ExpiresAt        time.Time        `json:"expires_at"`
	CreatedAt        time.Time        `json:"created_at"`
}

// EffectiveStatus applies lazy expiry: a pending invitation past its deadline reads as expired.
func (i *Invitation) EffectiveStatus(now time.Time) InvitationStatus {
	if i.Status == InvitationPending && !now.Before(i.ExpiresAt) {
		return InvitationExpired
	}
	return i.Status
}

// FullOrganization is an organization with its members and invitations
type FullOrganization struct {
	*Organization
	Members     []*Member     `json:"members"`
	Invitations []*Invitation `json:"invitations"`
}

// CreateOrgRequest represents a request to create an organization
type CreateOrgRequest struct {
	Name     string                 `json:"name"`
	Slug     string                 `json:"slug,omitempty"`
	Logo     string                 `json:"logo,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// UpdateOrgRequest represents a request to update an organization
type UpdateOrgRequest struct {
	Name     *string                `json:"name,omitempty"`
	Slug     *string                `json:"slug,omitempty"`
	Logo     *string                `json:"logo,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// InviteMemberRequest represents a request to invite a member
type InviteMemberRequest struct {
	Email string    `json:"email"`
	Role  rbac.Role `json:"role"`
}

// UpdateMemberRequest represents a request to update a member's role
type UpdateMemberRequest struct {
	Role rbac.Role `json:"role"`
}

// TransferOwnershipRequest names the member who becomes owner
type TransferOwnershipRequest struct {
	UserID string `json:"user_id"`
}
