// Package audit records state-changing access-control operations.
//
// # Event Types
//
// Authentication: sign_up, login, login_failed, logout
// Organization: create, update, delete, logo_update, transfer, active_set, active_clear
// Membership: role_change, remove, leave
// Invitation: create, accept, decline, cancel
// Authorization: access_denied, last_owner_rejected
//
// # Sinks
//
// FileLogger appends JSON lines to <dir>/audit.log and rotates by size. StructuredLogger
// writes through observability.Logger with audit=true. MultiLogger fans out to several.
//
//	event := audit.NewEvent(ctx, r, audit.EventTypeMemberRoleChange, audit.EventStatusSuccess)
//	event.OrganizationID = orgID
//	event.ResourceType = audit.ResourceTypeMember
//	event.ResourceID = memberID
//	event.Changes = &audit.ChangeDetails{
//		Before: map[string]interface{}{"role": "admin"},
//		After:  map[string]interface{}{"role": "owner"},
//	}
//	_ = logger.Log(ctx, event)
//
// # Related Packages
//
//   - pkg/api: emits events for every mutation
//   - pkg/middleware: emits access_denied
package audit
