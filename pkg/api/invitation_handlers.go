package api

import (
	"net/http"

	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/orgs"
)

// listInvitations handles GET /api/orgs/active/invitations
func (h *OrgHandlers) listInvitations(w http.ResponseWriter, r *http.Request) {
	invitations, err := h.orgService.ListInvitations(r.Context(), sessionOf(r), activeOrg(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, invitations)
}

// createInvitation handles POST /api/orgs/active/invitations
func (h *OrgHandlers) createInvitation(w http.ResponseWriter, r *http.Request) {
	var req orgs.InviteMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	orgID := activeOrg(r)
	inv, err := h.orgService.CreateInvitation(r.Context(), sessionOf(r), orgID, req)
	if err != nil {
		h.fail(w, r, audit.EventTypeInvitationCreate, audit.ResourceTypeInvitation, orgID, err)
		return
	}

	h.events.invitation(r, orgs.InvitationPending)
	h.events.success(r, audit.EventTypeInvitationCreate, audit.ResourceTypeInvitation, inv.ID, orgID, func(e *audit.AuditEvent) {
		e.Metadata["email"] = inv.Email
		e.Metadata["role"] = inv.Role.String()
	})
	httputil.WriteCreated(w, inv)
}

// cancelInvitation handles DELETE /api/orgs/active/invitations/{invitation_id}
func (h *OrgHandlers) cancelInvitation(w http.ResponseWriter, r *http.Request) {
	invitationID, ok := httputil.ParsePathStringOrError(w, r, "invitation_id")
	if !ok {
		return
	}

	orgID := activeOrg(r)
	if err := h.orgService.CancelInvitation(r.Context(), sessionOf(r), orgID, invitationID); err != nil {
		h.fail(w, r, audit.EventTypeInvitationCancel, audit.ResourceTypeInvitation, orgID, err)
		return
	}

	h.events.invitation(r, orgs.InvitationCancelled)
	h.events.success(r, audit.EventTypeInvitationCancel, audit.ResourceTypeInvitation, invitationID, orgID)
	httputil.WriteNoContent(w)
}

// listUserInvitations handles GET /api/invitations
func (h *OrgHandlers) listUserInvitations(w http.ResponseWriter, r *http.Request) {
	invitations, err := h.orgService.ListUserInvitations(r.Context(), sessionOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, invitations)
}

// getInvitation handles GET /api/invitations/{invitation_id}
func (h *OrgHandlers) getInvitation(w http.ResponseWriter, r *http.Request) {
	invitationID, ok := httputil.ParsePathStringOrError(w, r, "invitation_id")
	if !ok {
		return
	}
	inv, err := h.orgService.GetInvitation(r.Context(), sessionOf(r), invitationID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, inv)
}

// acceptInvitation handles POST /api/invitations/{invitation_id}/accept. The new
// organization becomes the session's active one.
func (h *OrgHandlers) acceptInvitation(w http.ResponseWriter, r *http.Request) {
	invitationID, ok := httputil.ParsePathStringOrError(w, r, "invitation_id")
	if !ok {
		return
	}

	member, err := h.orgService.AcceptInvitation(r.Context(), sessionOf(r), invitationID)
	if err != nil {
		h.fail(w, r, audit.EventTypeInvitationAccept, audit.ResourceTypeInvitation, "", err)
		return
	}

	h.events.invitation(r, orgs.InvitationAccepted)
	h.events.success(r, audit.EventTypeInvitationAccept, audit.ResourceTypeInvitation, invitationID, member.OrganizationID, func(e *audit.AuditEvent) {
		e.Metadata["member_id"] = member.ID
		e.Metadata["role"] = member.Role.String()
	})
	httputil.WriteSuccess(w, member)
}

// declineInvitation handles POST /api/invitations/{invitation_id}/decline
func (h *OrgHandlers) declineInvitation(w http.ResponseWriter, r *http.Request) {
	invitationID, ok := httputil.ParsePathStringOrError(w, r, "invitation_id")
	if !ok {
		return
	}

	if err := h.orgService.DeclineInvitation(r.Context(), sessionOf(r), invitationID); err != nil {
		h.fail(w, r, audit.EventTypeInvitationDecline, audit.ResourceTypeInvitation, "", err)
		return
	}

	h.events.invitation(r, orgs.InvitationDeclined)
	h.events.success(r, audit.EventTypeInvitationDecline, audit.ResourceTypeInvitation, invitationID, "")
	httputil.WriteNoContent(w)
}
