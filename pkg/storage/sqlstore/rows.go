package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/orgs"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
)

// Column lists, aliased so both drivers report bare names to sqlx.
func columns(table string, names ...string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = fmt.Sprintf("%s.%s AS %s", table, n, n)
	}
	return out
}

var (
	userColumns       = []string{"id", "name", "email", "email_verified", "image", "created_at", "updated_at"}
	accountColumns    = []string{"id", "user_id", "provider_id", "account_id", "password", "created_at", "updated_at"}
	sessionColumns    = []string{"id", "user_id", "token_hash", "expires_at", "ip_address", "user_agent", "active_organization_id", "created_at", "updated_at"}
	orgColumns        = []string{"id", "name", "slug", "logo", "metadata", "created_at", "updated_at"}
	memberColumns     = []string{"id", "organization_id", "user_id", "role", "created_at"}
	invitationColumns = []string{"id", "organization_id", "email", "role", "status", "inviter_id", "expires_at", "created_at"}
)

type userRow struct {
	ID            string         `db:"id"`
	Name          string         `db:"name"`
	Email         string         `db:"email"`
	EmailVerified bool           `db:"email_verified"`
	Image         sql.NullString `db:"image"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (r *userRow) toUser() *auth.User {
	return &auth.User{
		ID:            r.ID,
		Name:          r.Name,
		Email:         r.Email,
		EmailVerified: r.EmailVerified,
		Image:         r.Image.String,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}

type accountRow struct {
	ID         string         `db:"id"`
	UserID     string         `db:"user_id"`
	ProviderID string         `db:"provider_id"`
	AccountID  string         `db:"account_id"`
	Password   sql.NullString `db:"password"`
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

func (r *accountRow) toAccount() *auth.Account {
	return &auth.Account{
		ID:           r.ID,
		UserID:       r.UserID,
		ProviderID:   r.ProviderID,
		AccountID:    r.AccountID,
		PasswordHash: r.Password.String,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
}

type sessionRow struct {
	ID                   string         `db:"id"`
	UserID               string         `db:"user_id"`
	TokenHash            string         `db:"token_hash"`
	ExpiresAt            time.Time      `db:"expires_at"`
	IPAddress            sql.NullString `db:"ip_address"`
	UserAgent            sql.NullString `db:"user_agent"`
	ActiveOrganizationID sql.NullString `db:"active_organization_id"`
	CreatedAt            time.Time      `db:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at"`
}

func (r *sessionRow) toSession() *auth.Session {
	s := &auth.Session{
		ID:        r.ID,
		UserID:    r.UserID,
		TokenHash: r.TokenHash,
		ExpiresAt: r.ExpiresAt.UTC(),
		IPAddress: r.IPAddress.String,
		UserAgent: r.UserAgent.String,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	if r.ActiveOrganizationID.Valid {
		id := r.ActiveOrganizationID.String
		s.ActiveOrganizationID = &id
	}
	return s
}

type orgRow struct {
	ID        string         `db:"id"`
	Name      string         `db:"name"`
	Slug      string         `db:"slug"`
	Logo      sql.NullString `db:"logo"`
	Metadata  sql.NullString `db:"metadata"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

func (r *orgRow) toOrganization() (*orgs.Organization, error) {
	org := &orgs.Organization{
		ID:        r.ID,
		Name:      r.Name,
		Slug:      r.Slug,
		Logo:      r.Logo.String,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	if r.Metadata.Valid && r.Metadata.String != "" {
		if err := json.Unmarshal([]byte(r.Metadata.String), &org.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode organization metadata: %w", err)
		}
	}
	return org, nil
}

type memberRow struct {
	ID             string         `db:"id"`
	OrganizationID string         `db:"organization_id"`
	UserID         string         `db:"user_id"`
	Role           string         `db:"role"`
	CreatedAt      time.Time      `db:"created_at"`
	UserName       sql.NullString `db:"user_name"`
	UserEmail      sql.NullString `db:"user_email"`
	UserImage      sql.NullString `db:"user_image"`
}

func (r *memberRow) toMember() (*orgs.Member, error) {
	role, err := rbac.ParseRole(r.Role)
	if err != nil {
		return nil, err
	}
	m := &orgs.Member{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		UserID:         r.UserID,
		Role:           role,
		CreatedAt:      r.CreatedAt.UTC(),
	}
	if r.UserEmail.Valid {
		m.User = &auth.User{
			ID:    r.UserID,
			Name:  r.UserName.String,
			Email: r.UserEmail.String,
			Image: r.UserImage.String,
		}
	}
	return m, nil
}

type invitationRow struct {
	ID               string         `db:"id"`
	OrganizationID   string         `db:"organization_id"`
	OrganizationName sql.NullString `db:"organization_name"`
	Email            string         `db:"email"`
	Role             string         `db:"role"`
	Status           string         `db:"status"`
	InviterID        string         `db:"inviter_id"`
	ExpiresAt        time.Time      `db:"expires_at"`
	CreatedAt        time.Time      `db:"created_at"`
}

func (r *invitationRow) toInvitation() (*orgs.Invitation, error) {
	role, err := rbac.ParseRole(r.Role)
	if err != nil {
		return nil, err
	}
	status := orgs.InvitationStatus(r.Status)
	if !status.Valid() {
		return nil, fmt.Errorf("unknown invitation status %q", r.Status)
	}
	return &orgs.Invitation{
		ID:               r.ID,
		OrganizationID:   r.OrganizationID,
		OrganizationName: r.OrganizationName.String,
		Email:            r.Email,
		Role:             role,
		Status:           status,
		InviterID:        r.InviterID,
		ExpiresAt:        r.ExpiresAt.UTC(),
		CreatedAt:        r.CreatedAt.UTC(),
	}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func encodeMetadata(m map[string]interface{}) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode organization metadata: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
