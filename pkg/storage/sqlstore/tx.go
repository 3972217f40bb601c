package sqlstore

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/platinummonkey/gatehouse/pkg/apperr"
	"github.com/platinummonkey/gatehouse/pkg/orgs"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
)

// tx implements orgs.Tx over a primary transaction.
type tx struct {
	reader
	tx      *sqlx.Tx
	dialect Dialect
}

func (t *tx) LockOrganization(ctx context.Context, orgID string) error {
	var id string
	b := t.sb.Select("id").From("organizations").Where(sq.Eq{"id": orgID})
	if suffix := t.dialect.lockSuffix(); suffix != "" {
		b = b.Suffix(suffix)
	}
	return t.get(ctx, &id, b, "sqlstore.LockOrganization", "organization")
}

func (t *tx) CreateOrganization(ctx context.Context, org *orgs.Organization) error {
	meta, err := encodeMetadata(org.Metadata)
	if err != nil {
		return apperr.Wrap(apperr.KindInvalid, "sqlstore.CreateOrganization", err)
	}
	b := t.sb.Insert("organizations").
		Columns("id", "name", "slug", "logo", "metadata", "created_at", "updated_at").
		Values(org.ID, org.Name, org.Slug, nullString(org.Logo), meta,
			org.CreatedAt.UTC(), org.UpdatedAt.UTC())
	if err := execOn(ctx, t.tx, b, "sqlstore.CreateOrganization", "organization"); err != nil {
		if apperr.IsKind(err, apperr.KindConflict) {
			return apperr.New(apperr.KindConflict, "slug %q is already taken", org.Slug)
		}
		return err
	}
	return nil
}

func (t *tx) UpdateOrganization(ctx context.Context, org *orgs.Organization) error {
	meta, err := encodeMetadata(org.Metadata)
	if err != nil {
		return apperr.Wrap(apperr.KindInvalid, "sqlstore.UpdateOrganization", err)
	}
	b := t.sb.Update("organizations").
		Set("name", org.Name).
		Set("slug", org.Slug).
		Set("logo", nullString(org.Logo)).
		Set("metadata", meta).
		Set("updated_at", org.UpdatedAt.UTC()).
		Where(sq.Eq{"id": org.ID})
	if err := execOne(ctx, t.tx, b, "sqlstore.UpdateOrganization", "organization"); err != nil {
		if apperr.IsKind(err, apperr.KindConflict) {
			return apperr.New(apperr.KindConflict, "slug %q is already taken", org.Slug)
		}
		return err
	}
	return nil
}

func (t *tx) DeleteOrganization(ctx context.Context, orgID string) error {
	const op = "sqlstore.DeleteOrganization"

	// Session pointers are cleared explicitly so SQLite without foreign keys behaves the same.
	unset := t.sb.Update("sessions").
		Set("active_organization_id", nil).
		Where(sq.Eq{"active_organization_id": orgID})
	if err := execOn(ctx, t.tx, unset, op, "session"); err != nil {
		return err
	}
	if err := execOn(ctx, t.tx, t.sb.Delete("invitations").Where(sq.Eq{"organization_id": orgID}), op, "invitation"); err != nil {
		return err
	}
	if err := execOn(ctx, t.tx, t.sb.Delete("members").Where(sq.Eq{"organization_id": orgID}), op, "member"); err != nil {
		return err
	}
	return execOne(ctx, t.tx, t.sb.Delete("organizations").Where(sq.Eq{"id": orgID}), op, "organization")
}

func (t *tx) CreateMember(ctx context.Context, m *orgs.Member) error {
	b := t.sb.Insert("members").
		Columns("id", "organization_id", "user_id", "role", "created_at").
		Values(m.ID, m.OrganizationID, m.UserID, m.Role.String(), m.CreatedAt.UTC())
	err := execOn(ctx, t.tx, b, "sqlstore.CreateMember", "member")
	if apperr.IsKind(err, apperr.KindConflict) {
		return apperr.New(apperr.KindAlreadyMember, "user is already a member of this organization")
	}
	return err
}

func (t *tx) UpdateMemberRole(ctx context.Context, memberID string, role rbac.Role) error {
	b := t.sb.Update("members").Set("role", role.String()).Where(sq.Eq{"id": memberID})
	return execOne(ctx, t.tx, b, "sqlstore.UpdateMemberRole", "member")
}

func (t *tx) DeleteMember(ctx context.Context, memberID string) error {
	b := t.sb.Delete("members").Where(sq.Eq{"id": memberID})
	return execOne(ctx, t.tx, b, "sqlstore.DeleteMember", "member")
}

func (t *tx) CreateInvitation(ctx context.Context, inv *orgs.Invitation) error {
	b := t.sb.Insert("invitations").
		Columns("id", "organization_id", "email", "role", "status", "inviter_id", "expires_at", "created_at").
		Values(inv.ID, inv.OrganizationID, inv.Email, inv.Role.String(), string(inv.Status),
			inv.InviterID, inv.ExpiresAt.UTC(), inv.CreatedAt.UTC())
	err := execOn(ctx, t.tx, b, "sqlstore.CreateInvitation", "invitation")
	if apperr.IsKind(err, apperr.KindConflict) {
		return apperr.New(apperr.KindDuplicateInvitation, "a pending invitation already exists for %s", inv.Email)
	}
	return err
}

func (t *tx) UpdateInvitationStatus(ctx context.Context, id string, status orgs.InvitationStatus) error {
	b := t.sb.Update("invitations").Set("status", string(status)).Where(sq.Eq{"id": id})
	return execOne(ctx, t.tx, b, "sqlstore.UpdateInvitationStatus", "invitation")
}

func (t *tx) SetActiveOrganization(ctx context.Context, sessionID string, orgID *string) error {
	var active sql.NullString
	if orgID != nil {
		active = sql.NullString{String: *orgID, Valid: true}
	}
	b := t.sb.Update("sessions").
		Set("active_organization_id", active).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": sessionID})
	return execOne(ctx, t.tx, b, "sqlstore.SetActiveOrganization", "session")
}

func (t *tx) ClearActiveOrganization(ctx context.Context, orgID, userID string) error {
	where := sq.Eq{"active_organization_id": orgID}
	if userID != "" {
		where["user_id"] = userID
	}
	b := t.sb.Update("sessions").Set("active_organization_id", nil).Where(where)
	return execOn(ctx, t.tx, b, "sqlstore.ClearActiveOrganization", "session")
}
