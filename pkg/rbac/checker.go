package rbac

import (
	"fmt"
	"sort"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/apperr"
)

// memberPermissions are granted to every role.
var memberPermissions = []Permission{
	{ResourceOrganization, ActionRead},
	{ResourceMember, ActionRead},
	{ResourceInvitation, ActionRead},
}

// adminPermissions are granted to admins and owners on top of memberPermissions.
var adminPermissions = []Permission{
	{ResourceOrganization, ActionUpdate},
	{ResourceMember, ActionCreate},
	{ResourceMember, ActionUpdate},
	{ResourceMember, ActionDelete},
	{ResourceInvitation, ActionCreate},
	{ResourceInvitation, ActionCancel},
}

// ownerPermissions are the destructive actions reserved for owners.
var ownerPermissions = []Permission{
	{ResourceOrganization, ActionDelete},
	{ResourceOrganization, ActionTransfer},
}

// permissionTable maps each role to the set of permissions it holds. Built once; read-only.
var permissionTable = buildPermissionTable()

func buildPermissionTable() map[Role]map[Permission]struct{} {
	grant := func(sets ...[]Permission) map[Permission]struct{} {
		out := make(map[Permission]struct{})
		for _, set := range sets {
			for _, p := range set {
				out[p] = struct{}{}
			}
		}
		return out
	}
	return map[Role]map[Permission]struct{}{
		RoleMember: grant(memberPermissions),
		RoleAdmin:  grant(memberPermissions, adminPermissions),
		RoleOwner:  grant(memberPermissions, adminPermissions, ownerPermissions),
	}
}

// Authorize decides whether role may perform action on resource.
// Unknown roles, resources and actions are denied.
func Authorize(role Role, resource Resource, action Action) Decision {
	perms, ok := permissionTable[role]
	if !ok {
		return Deny
	}
	_, ok = perms[Permission{Resource: resource, Action: action}]
	return Decision(ok)
}

// Check is Authorize with an explanation, suitable for audit records and API responses.
func Check(role Role, perm Permission) *PermissionCheckResult {
	decision := Authorize(role, perm.Resource, perm.Action)
	result := &PermissionCheckResult{
		Decision:   decision,
		Allowed:    bool(decision),
		Role:       role,
		Permission: perm,
		CheckedAt:  time.Now().UTC(),
	}
	if decision == Allow {
		result.Reason = fmt.Sprintf("role %s grants %s", role, perm)
	} else {
		result.Reason = fmt.Sprintf("role %s does not grant %s", role, perm)
	}
	return result
}

// Require returns a Forbidden error unless role may perform action on resource.
func Require(role Role, resource Resource, action Action) error {
	if Authorize(role, resource, action) == Allow {
		return nil
	}
	return apperr.New(apperr.KindForbidden, "You don't have permission to %s %s", action, resource)
}

// Permissions returns every permission held by role in a stable order.
// Clients use it to gate UI from the same table the server enforces.
func Permissions(role Role) []Permission {
	perms := permissionTable[role]
	out := make([]Permission, 0, len(perms))
	for p := range perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})
	return out
}

// CanAssign reports whether an actor holding actor may grant role to someone.
// Nobody may grant a role above their own.
func CanAssign(actor, role Role) bool {
	return role.Valid() && actor.AtLeast(role)
}

// CanManage reports whether an actor holding actor may change or remove a member holding target.
// Members ranked above the actor are out of reach; only owners manage owners.
func CanManage(actor, target Role) bool {
	return actor.Valid() && actor.AtLeast(target)
}

// CheckOwnerChange enforces the last-owner invariant for a change of a member from current to
// next. A removal is expressed as next == RoleUnknown. ownerCount must be read in the same
// transaction that performs the write.
func CheckOwnerChange(ownerCount int, current, next Role) error {
	if current != RoleOwner || next == RoleOwner {
		return nil
	}
	if ownerCount <= 1 {
		return apperr.New(apperr.KindLastOwnerViolation,
			"Cannot remove or demote the last owner of an organization. Transfer ownership first.")
	}
	return nil
}
