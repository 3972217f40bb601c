package auth

import "time"

// User represents a person who can sign in.
type User struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"email_verified"`
	Image         string    `json:"image,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Provider identifiers for Account.ProviderID
const (
	ProviderCredential = "credential"
	ProviderOIDC       = "oidc"
)

// Account links a user to a way of proving their identity: a password (credential
// provider) or an external identity provider subject.
type Account struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	ProviderID   string    `json:"provider_id"`
	AccountID    string    `json:"account_id"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Session is an authenticated context tied to one user. The bearer token is never stored;
// only its SHA-256 hash is.
type Session struct {
	ID                   string    `json:"id"`
	UserID               string    `json:"user_id"`
	TokenHash            string    `json:"-"`
	ExpiresAt            time.Time `json:"expires_at"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
	IPAddress            string    `json:"ip_address,omitempty"`
	UserAgent            string    `json:"user_agent,omitempty"`
	ActiveOrganizationID *string   `json:"active_organization_id"`
}

// Expired reports whether the session is no longer valid at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// ActiveOrganization returns the active organization id, or "" when none is set.
func (s *Session) ActiveOrganization() string {
	if s.ActiveOrganizationID == nil {
		return ""
	}
	return *s.ActiveOrganizationID
}

// SessionMeta describes the client a session is created for.
type SessionMeta struct {
	IPAddress string
	UserAgent string
}

// AuthContext is the authenticated principal attached to a request.
type AuthContext struct {
	Session *Session
	User    *User
}

// UserID returns the authenticated user's id.
func (a *AuthContext) UserID() string {
	if a == nil || a.Session == nil {
		return ""
	}
	return a.Session.UserID
}

// SignUpRequest is the input for creating a password account.
type SignUpRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ExternalIdentity is a verified identity asserted by an external identity provider.
type ExternalIdentity struct {
	ProviderID    string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
}
