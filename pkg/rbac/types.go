package rbac

import (
	"fmt"
	"time"
)

// Role is an organization role. Roles form a closed, ordered set:
// RoleMember < RoleAdmin < RoleOwner.
type Role int

const (
	// RoleUnknown is the zero value and is never granted anything.
	RoleUnknown Role = iota
	RoleMember
	RoleAdmin
	RoleOwner
)

var roleNames = map[Role]string{
	RoleMember: "member",
	RoleAdmin:  "admin",
	RoleOwner:  "owner",
}

// AllRoles lists the assignable roles from least to most privileged.
func AllRoles() []Role {
	return []Role{RoleMember, RoleAdmin, RoleOwner}
}

// ParseRole converts a stored or user-supplied role name to a Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "owner":
		return RoleOwner, nil
	case "admin":
		return RoleAdmin, nil
	case "member":
		return RoleMember, nil
	default:
		return RoleUnknown, fmt.Errorf("unknown role %q (must be one of %v)", s, AllRoles())
	}
}

// String returns the stored name of the role.
func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether r is one of the assignable roles.
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// AtLeast reports whether r ranks at or above other.
func (r Role) AtLeast(other Role) bool {
	return r >= other
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Resource represents a resource type guarded inside an organization
type Resource string

const (
	ResourceOrganization Resource = "organization"
	ResourceMember       Resource = "member"
	ResourceInvitation   Resource = "invitation"
)

// Action represents an action that can be performed on a resource
type Action string

const (
	ActionRead     Action = "read"
	ActionCreate   Action = "create"
	ActionUpdate   Action = "update"
	ActionDelete   Action = "delete"
	ActionCancel   Action = "cancel"
	ActionTransfer Action = "transfer"
)

// Permission represents a specific permission (resource + action)
type Permission struct {
	Resource Resource `json:"resource"`
	Action   Action   `json:"action"`
}

// String returns a string representation of the permission
func (p Permission) String() string {
	return string(p.Resource) + ":" + string(p.Action)
}

// Decision is the outcome of an authorization check.
type Decision bool

const (
	Deny  Decision = false
	Allow Decision = true
)

func (d Decision) String() string {
	if d {
		return "allow"
	}
	return "deny"
}

// PermissionCheckResult represents the result of a permission check
type PermissionCheckResult struct {
	Decision   Decision   `json:"-"`
	Allowed    bool       `json:"allowed"`
	Role       Role       `json:"role"`
	Permission Permission `json:"permission"`
	Reason     string     `json:"reason,omitempty"`
	CheckedAt  time.Time  `json:"checked_at"`
}
