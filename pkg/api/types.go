package api

import (
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/orgs"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
)

// LoginRequest is the body of POST /api/auth/login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SessionResponse describes the caller's session. Token is only set when the session was
// just created.
type SessionResponse struct {
	Session *auth.Session    `json:"session"`
	User    *auth.User       `json:"user"`
	Token   string           `json:"token,omitempty"`
	State   *orgs.Resolution `json:"state,omitempty"`
}

// SelectOrganizationRequest is the body of POST /api/orgs/active
type SelectOrganizationRequest struct {
	OrganizationID string `json:"organization_id"`
}

// SlugAvailability answers GET /api/orgs/check-slug
type SlugAvailability struct {
	Slug      string `json:"slug"`
	Available bool   `json:"available"`
}

// PermissionsResponse lists what the caller's role allows in the active organization.
type PermissionsResponse struct {
	OrganizationID string            `json:"organization_id"`
	Role           rbac.Role         `json:"role"`
	Permissions    []rbac.Permission `json:"permissions"`
}

// HasPermissionRequest asks about several actions at once, keyed by resource:
//
//	{"permissions": {"member": ["create", "delete"], "invitation": ["create"]}}
type HasPermissionRequest struct {
	Permissions map[rbac.Resource][]rbac.Action `json:"permissions"`
}

// HasPermissionResponse reports Success only when every requested permission is granted.
type HasPermissionResponse struct {
	Success bool                          `json:"success"`
	Results []*rbac.PermissionCheckResult `json:"results"`
}
