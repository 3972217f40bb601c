package api

import (
	"net/http"

	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/orgs"
)

// listMembers handles GET /api/orgs/active/members
func (h *OrgHandlers) listMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.orgService.ListMembers(r.Context(), sessionOf(r), activeOrg(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, members)
}

// getActiveMember handles GET /api/orgs/active/members/me
func (h *OrgHandlers) getActiveMember(w http.ResponseWriter, r *http.Request) {
	member, err := h.orgService.GetActiveMember(r.Context(), sessionOf(r), activeOrg(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, member)
}

// updateMemberRole handles PUT /api/orgs/active/members/{member_id}/role
func (h *OrgHandlers) updateMemberRole(w http.ResponseWriter, r *http.Request) {
	memberID, ok := httputil.ParsePathStringOrError(w, r, "member_id")
	if !ok {
		return
	}
	var req orgs.UpdateMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	orgID := activeOrg(r)
	member, err := h.orgService.UpdateMemberRole(r.Context(), sessionOf(r), orgID, memberID, req.Role)
	if err != nil {
		h.fail(w, r, audit.EventTypeMemberRoleChange, audit.ResourceTypeMember, orgID, err)
		return
	}

	h.events.success(r, audit.EventTypeMemberRoleChange, audit.ResourceTypeMember, member.ID, orgID, func(e *audit.AuditEvent) {
		e.Metadata["target_user_id"] = member.UserID
		e.Metadata["role"] = member.Role.String()
	})
	httputil.WriteSuccess(w, member)
}

// removeMember handles DELETE /api/orgs/active/members/{member_id}
func (h *OrgHandlers) removeMember(w http.ResponseWriter, r *http.Request) {
	memberID, ok := httputil.ParsePathStringOrError(w, r, "member_id")
	if !ok {
		return
	}

	orgID := activeOrg(r)
	member, err := h.orgService.RemoveMember(r.Context(), sessionOf(r), orgID, memberID)
	if err != nil {
		h.fail(w, r, audit.EventTypeMemberRemove, audit.ResourceTypeMember, orgID, err)
		return
	}

	h.events.success(r, audit.EventTypeMemberRemove, audit.ResourceTypeMember, member.ID, orgID, func(e *audit.AuditEvent) {
		e.Metadata["target_user_id"] = member.UserID
	})
	httputil.WriteNoContent(w)
}
