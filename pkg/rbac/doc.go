// Package rbac evaluates organization-scoped permissions.
//
// # Roles
//
// Roles are a closed, ordered enumeration:
//
//	member < admin < owner
//
// Each role inherits every permission of the roles below it. Owners additionally hold the
// destructive organization actions (delete, transfer ownership).
//
// # Permission table
//
//	resource      member   admin                     owner
//	organization  read     read, update              read, update, delete, transfer
//	member        read     read, create, update,     same as admin
//	                       delete
//	invitation    read     read, create, cancel      same as admin
//
// # Usage
//
//	if rbac.Authorize(role, rbac.ResourceMember, rbac.ActionUpdate) == rbac.Deny {
//		return apperr.ErrForbidden
//	}
//
// The last-owner invariant is not part of the table: callers run CheckOwnerChange with an
// owner count read inside the same transaction as the write it guards.
package rbac
