// Package orgs provides multi-tenant organization management for gatehouse.
//
// # Overview
//
// This package owns the rules that gate every organization-scoped request:
//
//   - the active-organization state machine (which organization a session acts in),
//   - membership resolution (user + organization -> role),
//   - role changes under the last-owner invariant,
//   - the invitation lifecycle.
//
// Durable state lives behind the Store interface; the service decides what to read and what
// to write back, and every multi-record change runs inside one Store.WithTx call.
//
// # Active organization
//
//	NoOrganization --CreateOrganization--> ActiveSet
//	OrganizationsExistNoActive --SelectOrganization--> ActiveSet
//	ActiveSet --SwitchOrganization--> ActiveSet
//	ActiveSet --membership removed--> OrganizationsExistNoActive (cleared lazily)
//
// ResolveActiveOrganization recomputes the state on every request and returns the route a
// client should be sent to when no organization is active.
//
// # Invitations
//
//	pending -> accepted | declined | cancelled | expired
//
// Expiry is lazy: a pending invitation past its deadline reads as expired. ExpireInvitations
// persists the transition for housekeeping.
//
// # Usage Example
//
//	svc := orgs.NewService(store, orgs.Config{InvitationTTL: 48 * time.Hour})
//	org, err := svc.CreateOrganization(ctx, session, orgs.CreateOrgRequest{Name: "Acme"})
//	inv, err := svc.CreateInvitation(ctx, session, org.ID, orgs.InviteMemberRequest{
//		Email: "bob@x.com",
//		Role:  rbac.RoleMember,
//	})
package orgs
