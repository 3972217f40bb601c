package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/apperr"
	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/orgs"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
	"github.com/platinummonkey/gatehouse/pkg/storage/memory"
)

type fakeLogos struct {
	uploads int
	err     error
}

func (f *fakeLogos) PutLogo(_ context.Context, orgID, contentType string, data []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.uploads++
	return "https://cdn.example.com/logos/" + orgID + ".png", nil
}

func TestCreateAndListOrganizations(t *testing.T) {
	ts := newTestServer(t)
	token := ts.signUp("Alice", "alice@example.com")

	rec := ts.do("GET", "/api/orgs/check-slug?slug=acme", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var avail SlugAvailability
	decode(t, rec, &avail)
	assert.True(t, avail.Available)

	acme := ts.createOrg(token, "Acme")
	assert.Len(t, ts.audit.ofType(audit.EventTypeOrganizationCreate), 1)
	assert.Len(t, ts.audit.ofType(audit.EventTypeActiveOrganizationSet), 1)

	rec = ts.do("GET", "/api/orgs/check-slug?slug=acme", token, nil)
	decode(t, rec, &avail)
	assert.False(t, avail.Available)

	rec = ts.do("POST", "/api/orgs", token, orgs.CreateOrgRequest{Name: "Acme Two", Slug: "acme"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do("POST", "/api/orgs", token, orgs.CreateOrgRequest{Name: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do("GET", "/api/orgs/check-slug", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do("GET", "/api/orgs", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []*orgs.Organization
	decode(t, rec, &list)
	require.Len(t, list, 1)
	assert.Equal(t, acme.ID, list[0].ID)
}

func TestActiveOrganizationSelection(t *testing.T) {
	ts := newTestServer(t)
	token := ts.signUp("Alice", "alice@example.com")
	acme := ts.createOrg(token, "Acme")
	globex := ts.createOrg(token, "Globex")

	rec := ts.do("DELETE", "/api/orgs/active", token, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Len(t, ts.audit.ofType(audit.EventTypeActiveOrganizationClear), 1)

	// Several memberships and none active: the client picks one.
	rec = ts.do("GET", "/api/orgs/active", token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, orgs.RouteSelectOrganization, decodeError(t, rec).Redirect)

	rec = ts.do("POST", "/api/orgs/active", token, SelectOrganizationRequest{OrganizationID: acme.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do("POST", "/api/orgs/active", token, SelectOrganizationRequest{OrganizationID: globex.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do("GET", "/api/orgs/state", token, nil)
	var state orgs.Resolution
	decode(t, rec, &state)
	assert.Equal(t, globex.ID, state.OrganizationID)

	t.Run("foreign organization", func(t *testing.T) {
		other := ts.signUp("Mallory", "mallory@example.com")
		rec := ts.do("POST", "/api/orgs/active", other, SelectOrganizationRequest{OrganizationID: acme.ID})
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "not_a_member", decodeError(t, rec).Code)
	})

	t.Run("missing organization id", func(t *testing.T) {
		rec := ts.do("POST", "/api/orgs/active", token, SelectOrganizationRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestUpdateAndDeleteOrganization(t *testing.T) {
	ts := newTestServer(t)
	token := ts.signUp("Alice", "alice@example.com")
	ts.createOrg(token, "Acme")

	name := "Acme Corp"
	rec := ts.do("PATCH", "/api/orgs/active", token, orgs.UpdateOrgRequest{Name: &name})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var org orgs.Organization
	decode(t, rec, &org)
	assert.Equal(t, "Acme Corp", org.Name)

	events := ts.audit.ofType(audit.EventTypeOrganizationUpdate)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Changes)
	assert.Equal(t, "Acme", events[0].Changes.Before["name"])
	assert.Equal(t, "Acme Corp", events[0].Changes.After["name"])

	rec = ts.do("DELETE", "/api/orgs/active/delete", token, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do("GET", "/api/orgs/state", token, nil)
	var state orgs.Resolution
	decode(t, rec, &state)
	assert.Equal(t, orgs.StateNoOrganization, state.State)
}

func TestMemberPermissions(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.signUp("Alice", "alice@example.com")
	ts.createOrg(owner, "Acme")

	carol := ts.signUp("Carol", "carol@example.com")
	inv := ts.invite(owner, "carol@example.com", "member")
	rec := ts.do("POST", "/api/invitations/"+inv.ID+"/accept", carol, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Plain members read the organization but touch nothing else.
	rec = ts.do("GET", "/api/orgs/active", carol, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	name := "Hijacked"
	for _, tc := range []struct {
		name   string
		method string
		path   string
		body   interface{}
	}{
		{"update organization", "PATCH", "/api/orgs/active", orgs.UpdateOrgRequest{Name: &name}},
		{"delete organization", "DELETE", "/api/orgs/active/delete", nil},
		{"invite", "POST", "/api/orgs/active/invitations", map[string]string{"email": "eve@example.com"}},
		{"transfer", "POST", "/api/orgs/active/transfer", orgs.TransferOwnershipRequest{UserID: "someone"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.do(tc.method, tc.path, carol, tc.body)
			assert.Equal(t, http.StatusForbidden, rec.Code)
		})
	}

	t.Run("cannot remove the owner", func(t *testing.T) {
		ownerMember := ts.me(owner)
		rec := ts.do("DELETE", "/api/orgs/active/members/"+ownerMember.ID, carol, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("has-permission", func(t *testing.T) {
		rec := ts.do("POST", "/api/orgs/active/has-permission", carol, HasPermissionRequest{
			Permissions: map[rbac.Resource][]rbac.Action{
				rbac.ResourceOrganization: {rbac.ActionRead},
				rbac.ResourceMember:       {rbac.ActionDelete},
			},
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp HasPermissionResponse
		decode(t, rec, &resp)
		assert.False(t, resp.Success)
		require.Len(t, resp.Results, 2)
	})

	t.Run("has-permission orders results by resource", func(t *testing.T) {
		req := HasPermissionRequest{
			Permissions: map[rbac.Resource][]rbac.Action{
				rbac.ResourceOrganization: {rbac.ActionRead},
				rbac.ResourceMember:       {rbac.ActionRead, rbac.ActionDelete},
				rbac.ResourceInvitation:   {rbac.ActionRead},
			},
		}
		for i := 0; i < 5; i++ {
			rec := ts.do("POST", "/api/orgs/active/has-permission", carol, req)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			var resp HasPermissionResponse
			decode(t, rec, &resp)

			var got []string
			for _, r := range resp.Results {
				got = append(got, r.Permission.String())
			}
			assert.Equal(t, []string{"invitation:read", "member:read", "member:delete", "organization:read"}, got)
		}
	})

	t.Run("has-permission rejects empty action lists", func(t *testing.T) {
		rec := ts.do("POST", "/api/orgs/active/has-permission", carol, HasPermissionRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = ts.do("POST", "/api/orgs/active/has-permission", carol, HasPermissionRequest{
			Permissions: map[rbac.Resource][]rbac.Action{rbac.ResourceMember: {}},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, string(apperr.KindInvalid), decodeError(t, rec).Code)
	})

	t.Run("members may remove themselves", func(t *testing.T) {
		self := ts.me(carol)
		rec := ts.do("DELETE", "/api/orgs/active/members/"+self.ID, carol, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = ts.do("GET", "/api/orgs/active", carol, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestPromoteAndRemoveMember(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.signUp("Alice", "alice@example.com")
	ts.createOrg(owner, "Acme")

	dave := ts.signUp("Dave", "dave@example.com")
	inv := ts.invite(owner, "dave@example.com", "member")
	rec := ts.do("POST", "/api/invitations/"+inv.ID+"/accept", dave, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	daveMember := ts.me(dave)

	rec = ts.do("PUT", "/api/orgs/active/members/"+daveMember.ID+"/role", owner, map[string]string{"role": "admin"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated orgs.Member
	decode(t, rec, &updated)
	assert.Equal(t, rbac.RoleAdmin, updated.Role)

	events := ts.audit.ofType(audit.EventTypeMemberRoleChange)
	require.Len(t, events, 1)
	assert.Equal(t, "admin", events[0].Metadata["role"])

	rec = ts.do("PUT", "/api/orgs/active/members/"+daveMember.ID+"/role", owner, map[string]string{"role": "emperor"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do("GET", "/api/orgs/active/members", owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var members []*orgs.Member
	decode(t, rec, &members)
	assert.Len(t, members, 2)

	rec = ts.do("DELETE", "/api/orgs/active/members/"+daveMember.ID, owner, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Len(t, ts.audit.ofType(audit.EventTypeMemberRemove), 1)

	rec = ts.do("DELETE", "/api/orgs/active/members/"+daveMember.ID, owner, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvitationLifecycle(t *testing.T) {
	ts := newTestServer(t)
	owner := ts.signUp("Alice", "alice@example.com")
	ts.createOrg(owner, "Acme")
	erin := ts.signUp("Erin", "erin@example.com")

	inv := ts.invite(owner, "erin@example.com", "member")

	rec := ts.do("POST", "/api/orgs/active/invitations", owner, map[string]string{"email": "erin@example.com"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate_invitation", decodeError(t, rec).Code)

	rec = ts.do("GET", "/api/orgs/active/invitations", owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []*orgs.Invitation
	decode(t, rec, &listed)
	assert.Len(t, listed, 1)

	rec = ts.do("GET", "/api/invitations/"+inv.ID, erin, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do("POST", "/api/invitations/"+inv.ID+"/decline", erin, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Len(t, ts.audit.ofType(audit.EventTypeInvitationDecline), 1)

	// Terminal invitations cannot be accepted.
	rec = ts.do("POST", "/api/invitations/"+inv.ID+"/accept", erin, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	second := ts.invite(owner, "erin@example.com", "member")
	rec = ts.do("DELETE", "/api/orgs/active/invitations/"+second.ID, owner, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Len(t, ts.audit.ofType(audit.EventTypeInvitationCancel), 1)

	rec = ts.do("POST", "/api/invitations/"+second.ID+"/accept", erin, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	t.Run("only the invitee may respond", func(t *testing.T) {
		third := ts.invite(owner, "erin@example.com", "member")
		rec := ts.do("POST", "/api/invitations/"+third.ID+"/accept", owner, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func putLogo(ts *testServer, token, contentType string, data []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest("PUT", "/api/orgs/active/logo", bytes.NewReader(data))
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	ts.server.ServeHTTP(rec, req)
	return rec
}

func TestSetLogo(t *testing.T) {
	logos := &fakeLogos{}
	ts := newTestServer(t, func(d *Deps, store *memory.Store) {
		d.Orgs = orgs.NewService(store, orgs.Config{Logos: logos})
	})
	token := ts.signUp("Alice", "alice@example.com")
	acme := ts.createOrg(token, "Acme")

	rec := putLogo(ts, token, "image/png", []byte("\x89PNG fake image"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var org orgs.Organization
	decode(t, rec, &org)
	assert.Equal(t, "https://cdn.example.com/logos/"+acme.ID+".png", org.Logo)
	assert.Equal(t, 1, logos.uploads)
	assert.Len(t, ts.audit.ofType(audit.EventTypeOrganizationLogo), 1)

	rec = putLogo(ts, token, "text/plain", []byte("hello"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = putLogo(ts, token, "image/png", bytes.Repeat([]byte{1}, orgs.MaxLogoSize+1))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = putLogo(ts, token, "", []byte("hello"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	logos.err = errors.New("s3 down")
	rec = putLogo(ts, token, "image/png", []byte("\x89PNG fake image"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 1, logos.uploads)
}
