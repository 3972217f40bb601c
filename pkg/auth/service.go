package auth

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/gatehouse/pkg/apperr"
)

// Store is the slice of the identity store the auth service depends on.
// Lookups that find nothing return an error of kind apperr.KindNotFound.
type Store interface {
	FindSessionByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	CreateSession(ctx context.Context, session *Session) error
	DeleteSession(ctx context.Context, id string) error
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error)

	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	// CreateUser stores the user and its first account atomically.
	CreateUser(ctx context.Context, user *User, account *Account) error
	FindAccount(ctx context.Context, providerID, accountID string) (*Account, error)
	CreateAccount(ctx context.Context, account *Account) error
}

// ServiceConfig tunes session issuance.
type ServiceConfig struct {
	SessionTTL time.Duration
	BcryptCost int
	// Clock overrides time.Now; used by tests.
	Clock func() time.Time
}

// DefaultSessionTTL is used when ServiceConfig.SessionTTL is zero.
const DefaultSessionTTL = 7 * 24 * time.Hour

// Service issues, resolves and revokes sessions.
type Service struct {
	store      Store
	tokens     *TokenGenerator
	hasher     PasswordHasher
	sessionTTL time.Duration
	now        func() time.Time
	dummyHash  string
}

// NewService creates a new auth service
func NewService(store Store, cfg ServiceConfig) *Service {
	s := &Service{
		store:      store,
		tokens:     NewTokenGenerator(),
		hasher:     NewBcryptHasher(cfg.BcryptCost),
		sessionTTL: cfg.SessionTTL,
		now:        cfg.Clock,
	}
	if s.sessionTTL <= 0 {
		s.sessionTTL = DefaultSessionTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	// Compared against when the email is unknown so both failure paths cost the same.
	s.dummyHash, _ = s.hasher.Hash("gatehouse-timing-equalizer")
	return s
}

// Tokens returns the token generator used for session tokens.
func (s *Service) Tokens() *TokenGenerator {
	return s.tokens
}

// ResolveSession maps a bearer token to its session. Malformed, unknown and expired tokens
// all fail with the same Unauthenticated error.
func (s *Service) ResolveSession(ctx context.Context, token string) (*Session, error) {
	if token == "" || s.tokens.ValidateTokenFormat(token) != nil {
		return nil, apperr.ErrUnauthenticated
	}

	session, err := s.store.FindSessionByTokenHash(ctx, s.tokens.HashToken(token))
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return nil, apperr.ErrUnauthenticated
		}
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}
	if session.Expired(s.now()) {
		return nil, apperr.ErrUnauthenticated
	}
	return session, nil
}

// Authenticate resolves token and loads the session's user.
func (s *Service) Authenticate(ctx context.Context, token string) (*AuthContext, error) {
	session, err := s.ResolveSession(ctx, token)
	if err != nil {
		return nil, err
	}
	user, err := s.store.GetUser(ctx, session.UserID)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return nil, apperr.ErrUnauthenticated
		}
		return nil, fmt.Errorf("failed to load session user: %w", err)
	}
	return &AuthContext{Session: session, User: user}, nil
}

// SignUp creates a user with a password account.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (*User, error) {
	email, err := NormalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.New(apperr.KindInvalid, "name is required")
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, &apperr.Error{Kind: apperr.KindInvalid, Msg: err.Error()}
	}

	now := s.now().UTC()
	user := &User{
		ID:        uuid.New().String(),
		Name:      name,
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	account := &Account{
		ID:           uuid.New().String(),
		UserID:       user.ID,
		ProviderID:   ProviderCredential,
		AccountID:    email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.CreateUser(ctx, user, account); err != nil {
		if apperr.IsKind(err, apperr.KindConflict) {
			return nil, apperr.New(apperr.KindConflict, "a user with this email already exists")
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// Login verifies an email and password and opens a new session. The returned token is the
// only copy of the credential.
func (s *Service) Login(ctx context.Context, email, password string, meta SessionMeta) (*Session, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	account, err := s.store.FindAccount(ctx, ProviderCredential, email)
	if err != nil {
		if !apperr.IsKind(err, apperr.KindNotFound) {
			return nil, "", fmt.Errorf("failed to find account: %w", err)
		}
		_, _ = s.hasher.Verify(s.dummyHash, password)
		return nil, "", apperr.New(apperr.KindUnauthenticated, "invalid email or password")
	}

	ok, err := s.hasher.Verify(account.PasswordHash, password)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", apperr.New(apperr.KindUnauthenticated, "invalid email or password")
	}

	return s.CreateSession(ctx, account.UserID, meta)
}

// LoginExternal opens a session for an identity asserted by an external provider, linking
// or provisioning the local user as needed.
func (s *Service) LoginExternal(ctx context.Context, identity ExternalIdentity, meta SessionMeta) (*Session, string, error) {
	if identity.Subject == "" {
		return nil, "", apperr.New(apperr.KindUnauthenticated, "identity has no subject")
	}
	if identity.ProviderID == "" {
		identity.ProviderID = ProviderOIDC
	}

	userID, err := s.provisionExternal(ctx, identity)
	if err != nil {
		return nil, "", err
	}
	return s.CreateSession(ctx, userID, meta)
}

func (s *Service) provisionExternal(ctx context.Context, identity ExternalIdentity) (string, error) {
	account, err := s.store.FindAccount(ctx, identity.ProviderID, identity.Subject)
	if err == nil {
		return account.UserID, nil
	}
	if !apperr.IsKind(err, apperr.KindNotFound) {
		return "", fmt.Errorf("failed to find account: %w", err)
	}

	email, err := NormalizeEmail(identity.Email)
	if err != nil {
		return "", err
	}

	now := s.now().UTC()
	account = &Account{
		ID:         uuid.New().String(),
		ProviderID: identity.ProviderID,
		AccountID:  identity.Subject,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	existing, err := s.store.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		// Linking to an existing user requires the provider to vouch for the address.
		if !identity.EmailVerified {
			return "", apperr.New(apperr.KindUnauthenticated, "email is not verified by the identity provider")
		}
		account.UserID = existing.ID
		if err := s.store.CreateAccount(ctx, account); err != nil {
			return "", fmt.Errorf("failed to link account: %w", err)
		}
		return existing.ID, nil
	case !apperr.IsKind(err, apperr.KindNotFound):
		return "", fmt.Errorf("failed to find user: %w", err)
	}

	name := identity.Name
	if name == "" {
		name = strings.SplitN(email, "@", 2)[0]
	}
	user := &User{
		ID:            uuid.New().String(),
		Name:          name,
		Email:         email,
		EmailVerified: identity.EmailVerified,
		Image:         identity.Picture,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	account.UserID = user.ID
	if err := s.store.CreateUser(ctx, user, account); err != nil {
		return "", fmt.Errorf("failed to provision user: %w", err)
	}
	return user.ID, nil
}

// CreateSession opens a session for userID with no active organization.
func (s *Service) CreateSession(ctx context.Context, userID string, meta SessionMeta) (*Session, string, error) {
	token, tokenHash, err := s.tokens.GenerateToken()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate session token: %w", err)
	}

	now := s.now().UTC()
	session := &Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: now.Add(s.sessionTTL),
		CreatedAt: now,
		UpdatedAt: now,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, "", fmt.Errorf("failed to create session: %w", err)
	}
	return session, token, nil
}

// Logout revokes the session identified by token.
func (s *Service) Logout(ctx context.Context, token string) error {
	session, err := s.ResolveSession(ctx, token)
	if err != nil {
		return err
	}
	if err := s.store.DeleteSession(ctx, session.ID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// GetUser returns a user by id.
func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	return s.store.GetUser(ctx, id)
}

// CleanupExpiredSessions deletes sessions that expired before now.
func (s *Service) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpiredSessions(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return n, nil
}

// NormalizeEmail lower-cases and validates an email address.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", apperr.New(apperr.KindInvalid, "email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperr.New(apperr.KindInvalid, "invalid email address")
	}
	return email, nil
}
