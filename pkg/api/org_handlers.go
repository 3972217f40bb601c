package api

import (
	"io"
	"mime"
	"net/http"
	"sort"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gatehouse/pkg/apperr"
	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/middleware"
	"github.com/platinummonkey/gatehouse/pkg/orgs"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
)

// OrgHandlers handles organization, membership and invitation requests
type OrgHandlers struct {
	orgService *orgs.Service
	events     events
}

// NewOrgHandlers creates a new OrgHandlers
func NewOrgHandlers(orgService *orgs.Service, ev events) *OrgHandlers {
	return &OrgHandlers{
		orgService: orgService,
		events:     ev,
	}
}

// registerSessionRoutes registers routes that need a session but no active organization.
func (h *OrgHandlers) registerSessionRoutes(router *mux.Router) {
	router.HandleFunc("/orgs", h.listOrganizations).Methods("GET")
	router.HandleFunc("/orgs", h.createOrganization).Methods("POST")
	router.HandleFunc("/orgs/check-slug", h.checkSlug).Methods("GET")
	router.HandleFunc("/orgs/state", h.getState).Methods("GET")
	router.HandleFunc("/orgs/active", h.setActiveOrganization).Methods("POST")
	router.HandleFunc("/orgs/active", h.clearActiveOrganization).Methods("DELETE")

	// Invitations addressed to the caller
	router.HandleFunc("/invitations", h.listUserInvitations).Methods("GET")
	router.HandleFunc("/invitations/{invitation_id}", h.getInvitation).Methods("GET")
	router.HandleFunc("/invitations/{invitation_id}/accept", h.acceptInvitation).Methods("POST")
	router.HandleFunc("/invitations/{invitation_id}/decline", h.declineInvitation).Methods("POST")
}

// registerRoutes registers routes scoped to the active organization.
func (h *OrgHandlers) registerRoutes(rs routes) {
	a := rs.active

	a.Handle("", rs.perm(rbac.ResourceOrganization, rbac.ActionRead, h.getActiveOrganization)).Methods("GET")
	a.Handle("", rs.perm(rbac.ResourceOrganization, rbac.ActionUpdate, h.updateOrganization)).Methods("PATCH")
	a.Handle("/delete", rs.perm(rbac.ResourceOrganization, rbac.ActionDelete, h.deleteOrganization)).Methods("DELETE")
	a.Handle("/logo", rs.perm(rbac.ResourceOrganization, rbac.ActionUpdate, h.setLogo)).Methods("PUT")
	a.Handle("/transfer", rs.perm(rbac.ResourceOrganization, rbac.ActionTransfer, h.transferOwnership)).Methods("POST")
	a.HandleFunc("/leave", h.leaveOrganization).Methods("POST")
	a.HandleFunc("/permissions", h.getPermissions).Methods("GET")
	a.HandleFunc("/has-permission", h.hasPermission).Methods("POST")

	// Members
	a.Handle("/members", rs.perm(rbac.ResourceMember, rbac.ActionRead, h.listMembers)).Methods("GET")
	a.HandleFunc("/members/me", h.getActiveMember).Methods("GET")
	a.Handle("/members/{member_id}/role", rs.perm(rbac.ResourceMember, rbac.ActionUpdate, h.updateMemberRole)).Methods("PUT")
	// Self-removal needs no member:delete, so the service makes the call.
	a.HandleFunc("/members/{member_id}", h.removeMember).Methods("DELETE")

	// Invitations
	a.Handle("/invitations", rs.perm(rbac.ResourceInvitation, rbac.ActionRead, h.listInvitations)).Methods("GET")
	a.Handle("/invitations", rs.perm(rbac.ResourceInvitation, rbac.ActionCreate, h.createInvitation)).Methods("POST")
	a.Handle("/invitations/{invitation_id}", rs.perm(rbac.ResourceInvitation, rbac.ActionCancel, h.cancelInvitation)).Methods("DELETE")
}

// fail records a failed mutation and writes the error.
func (h *OrgHandlers) fail(w http.ResponseWriter, r *http.Request, eventType audit.EventType, resourceType audit.ResourceType, orgID string, err error) {
	h.events.failure(r, eventType, resourceType, orgID, err)
	writeError(w, r, err)
}

// listOrganizations handles GET /api/orgs
func (h *OrgHandlers) listOrganizations(w http.ResponseWriter, r *http.Request) {
	list, err := h.orgService.ListOrganizations(r.Context(), sessionOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

// createOrganization handles POST /api/orgs
func (h *OrgHandlers) createOrganization(w http.ResponseWriter, r *http.Request) {
	var req orgs.CreateOrgRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	org, err := h.orgService.CreateOrganization(r.Context(), sessionOf(r), req)
	if err != nil {
		h.fail(w, r, audit.EventTypeOrganizationCreate, audit.ResourceTypeOrganization, "", err)
		return
	}

	h.events.success(r, audit.EventTypeOrganizationCreate, audit.ResourceTypeOrganization, org.ID, org.ID, func(e *audit.AuditEvent) {
		e.Metadata["slug"] = org.Slug
	})
	h.events.success(r, audit.EventTypeActiveOrganizationSet, audit.ResourceTypeSession, sessionOf(r).ID, org.ID)
	httputil.WriteCreated(w, org)
}

// checkSlug handles GET /api/orgs/check-slug?slug=
func (h *OrgHandlers) checkSlug(w http.ResponseWriter, r *http.Request) {
	slug := httputil.ParseQueryString(r, "slug", "")
	if !httputil.RequireNonEmpty(w, slug, "slug") {
		return
	}
	available, err := h.orgService.CheckSlug(r.Context(), slug)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, SlugAvailability{Slug: slug, Available: available})
}

// getState handles GET /api/orgs/state
func (h *OrgHandlers) getState(w http.ResponseWriter, r *http.Request) {
	res, err := h.orgService.ResolveActiveOrganization(r.Context(), sessionOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.events.recorder.ActiveOrganizationResolved(r.Context(), string(res.State))
	httputil.WriteSuccess(w, res)
}

// setActiveOrganization handles POST /api/orgs/active
func (h *OrgHandlers) setActiveOrganization(w http.ResponseWriter, r *http.Request) {
	var req SelectOrganizationRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.OrganizationID, "organization_id") {
		return
	}

	session := sessionOf(r)
	var (
		org *orgs.Organization
		err error
	)
	if session.ActiveOrganizationID == nil {
		org, err = h.orgService.SelectOrganization(r.Context(), session, req.OrganizationID)
	} else {
		org, err = h.orgService.SwitchOrganization(r.Context(), session, req.OrganizationID)
	}
	if err != nil {
		h.fail(w, r, audit.EventTypeActiveOrganizationSet, audit.ResourceTypeOrganization, req.OrganizationID, err)
		return
	}

	h.events.success(r, audit.EventTypeActiveOrganizationSet, audit.ResourceTypeSession, session.ID, org.ID)
	httputil.WriteSuccess(w, org)
}

// clearActiveOrganization handles DELETE /api/orgs/active
func (h *OrgHandlers) clearActiveOrganization(w http.ResponseWriter, r *http.Request) {
	session := sessionOf(r)
	previous := session.ActiveOrganization()
	if err := h.orgService.ClearActiveOrganization(r.Context(), session); err != nil {
		writeError(w, r, err)
		return
	}
	h.events.success(r, audit.EventTypeActiveOrganizationClear, audit.ResourceTypeSession, session.ID, previous)
	httputil.WriteNoContent(w)
}

// getActiveOrganization handles GET /api/orgs/active
func (h *OrgHandlers) getActiveOrganization(w http.ResponseWriter, r *http.Request) {
	full, err := h.orgService.GetFullOrganization(r.Context(), sessionOf(r), activeOrg(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, full)
}

// updateOrganization handles PATCH /api/orgs/active
func (h *OrgHandlers) updateOrganization(w http.ResponseWriter, r *http.Request) {
	var req orgs.UpdateOrgRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	orgID := activeOrg(r)
	before, err := h.orgService.GetOrganization(r.Context(), sessionOf(r), orgID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	org, err := h.orgService.UpdateOrganization(r.Context(), sessionOf(r), orgID, req)
	if err != nil {
		h.fail(w, r, audit.EventTypeOrganizationUpdate, audit.ResourceTypeOrganization, orgID, err)
		return
	}

	h.events.success(r, audit.EventTypeOrganizationUpdate, audit.ResourceTypeOrganization, orgID, orgID, func(e *audit.AuditEvent) {
		e.Changes = &audit.ChangeDetails{
			Before: map[string]interface{}{"name": before.Name, "slug": before.Slug, "logo": before.Logo},
			After:  map[string]interface{}{"name": org.Name, "slug": org.Slug, "logo": org.Logo},
		}
	})
	httputil.WriteSuccess(w, org)
}

// deleteOrganization handles DELETE /api/orgs/active/delete
func (h *OrgHandlers) deleteOrganization(w http.ResponseWriter, r *http.Request) {
	orgID := activeOrg(r)
	if err := h.orgService.DeleteOrganization(r.Context(), sessionOf(r), orgID); err != nil {
		h.fail(w, r, audit.EventTypeOrganizationDelete, audit.ResourceTypeOrganization, orgID, err)
		return
	}
	h.events.success(r, audit.EventTypeOrganizationDelete, audit.ResourceTypeOrganization, orgID, orgID)
	httputil.WriteNoContent(w)
}

// setLogo handles PUT /api/orgs/active/logo. The body is the image itself.
func (h *OrgHandlers) setLogo(w http.ResponseWriter, r *http.Request) {
	contentType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		httputil.WriteBadRequest(w, "Content-Type must name an image type")
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, orgs.MaxLogoSize+1))
	if err != nil {
		httputil.WriteBadRequest(w, "failed to read logo")
		return
	}

	orgID := activeOrg(r)
	org, err := h.orgService.SetLogo(r.Context(), sessionOf(r), orgID, contentType, data)
	if err != nil {
		h.fail(w, r, audit.EventTypeOrganizationLogo, audit.ResourceTypeOrganization, orgID, err)
		return
	}

	h.events.success(r, audit.EventTypeOrganizationLogo, audit.ResourceTypeOrganization, orgID, orgID, func(e *audit.AuditEvent) {
		e.Metadata["logo"] = org.Logo
		e.Metadata["size"] = len(data)
	})
	httputil.WriteSuccess(w, org)
}

// transferOwnership handles POST /api/orgs/active/transfer
func (h *OrgHandlers) transferOwnership(w http.ResponseWriter, r *http.Request) {
	var req orgs.TransferOwnershipRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.UserID, "user_id") {
		return
	}

	orgID := activeOrg(r)
	if err := h.orgService.TransferOwnership(r.Context(), sessionOf(r), orgID, req.UserID); err != nil {
		h.fail(w, r, audit.EventTypeOwnershipTransfer, audit.ResourceTypeOrganization, orgID, err)
		return
	}

	h.events.success(r, audit.EventTypeOwnershipTransfer, audit.ResourceTypeOrganization, orgID, orgID, func(e *audit.AuditEvent) {
		e.Metadata["new_owner_id"] = req.UserID
	})
	httputil.WriteNoContent(w)
}

// leaveOrganization handles POST /api/orgs/active/leave
func (h *OrgHandlers) leaveOrganization(w http.ResponseWriter, r *http.Request) {
	orgID := activeOrg(r)
	if err := h.orgService.LeaveOrganization(r.Context(), sessionOf(r), orgID); err != nil {
		h.fail(w, r, audit.EventTypeMemberLeave, audit.ResourceTypeMember, orgID, err)
		return
	}
	h.events.success(r, audit.EventTypeMemberLeave, audit.ResourceTypeMember, sessionOf(r).UserID, orgID)
	httputil.WriteNoContent(w)
}

// getPermissions handles GET /api/orgs/active/permissions
func (h *OrgHandlers) getPermissions(w http.ResponseWriter, r *http.Request) {
	res := middleware.GetResolution(r)
	httputil.WriteSuccess(w, PermissionsResponse{
		OrganizationID: res.OrganizationID,
		Role:           res.Role,
		Permissions:    rbac.Permissions(res.Role),
	})
}

// hasPermission handles POST /api/orgs/active/has-permission
func (h *OrgHandlers) hasPermission(w http.ResponseWriter, r *http.Request) {
	var req HasPermissionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if len(req.Permissions) == 0 {
		writeError(w, r, apperr.New(apperr.KindInvalid, "permissions is required"))
		return
	}

	resources := make([]rbac.Resource, 0, len(req.Permissions))
	for resource, actions := range req.Permissions {
		if len(actions) == 0 {
			writeError(w, r, apperr.New(apperr.KindInvalid, "permissions for %q lists no actions", resource))
			return
		}
		resources = append(resources, resource)
	}
	sort.Slice(resources, func(i, j int) bool { return resources[i] < resources[j] })

	res := middleware.GetResolution(r)
	resp := HasPermissionResponse{Success: true}
	for _, resource := range resources {
		for _, action := range req.Permissions[resource] {
			result := rbac.Check(res.Role, rbac.Permission{Resource: resource, Action: action})
			resp.Results = append(resp.Results, result)
			resp.Success = resp.Success && result.Allowed
		}
	}
	httputil.WriteSuccess(w, resp)
}
