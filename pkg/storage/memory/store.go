// Package memory implements the identity store in process memory. Transactions are
// serialized by a single lock and rolled back by restoring a snapshot.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/apperr"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/orgs"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
)

var (
	_ auth.Store = (*Store)(nil)
	_ orgs.Store = (*Store)(nil)
	_ orgs.Tx    = (*tx)(nil)
)

// Store is an in-memory identity store
type Store struct {
	mu sync.RWMutex
	st *state
}

// New creates an empty store
func New() *Store {
	return &Store{st: newState()}
}

type state struct {
	users       map[string]*auth.User
	accounts    map[string]*auth.Account
	sessions    map[string]*auth.Session
	orgs        map[string]*orgs.Organization
	members     map[string]*orgs.Member
	invitations map[string]*orgs.Invitation
}

func newState() *state {
	return &state{
		users:       make(map[string]*auth.User),
		accounts:    make(map[string]*auth.Account),
		sessions:    make(map[string]*auth.Session),
		orgs:        make(map[string]*orgs.Organization),
		members:     make(map[string]*orgs.Member),
		invitations: make(map[string]*orgs.Invitation),
	}
}

// clone copies the maps and their records, so writes to the clone never touch st.
func (st *state) clone() *state {
	c := newState()
	for k, v := range st.users {
		u := *v
		c.users[k] = &u
	}
	for k, v := range st.accounts {
		a := *v
		c.accounts[k] = &a
	}
	for k, v := range st.sessions {
		c.sessions[k] = copySession(v)
	}
	for k, v := range st.orgs {
		c.orgs[k] = copyOrg(v)
	}
	for k, v := range st.members {
		m := *v
		c.members[k] = &m
	}
	for k, v := range st.invitations {
		i := *v
		c.invitations[k] = &i
	}
	return c
}

func copySession(s *auth.Session) *auth.Session {
	c := *s
	if s.ActiveOrganizationID != nil {
		id := *s.ActiveOrganizationID
		c.ActiveOrganizationID = &id
	}
	return &c
}

func copyOrg(o *orgs.Organization) *orgs.Organization {
	c := *o
	if o.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(o.Metadata))
		for k, v := range o.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// WithTx runs fn with exclusive access to the store. If fn fails every write it made is
// discarded.
func (s *Store) WithTx(ctx context.Context, fn func(tx orgs.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&tx{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) GetOrganization(ctx context.Context, id string) (*orgs.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.getOrganization(id)
}

func (s *Store) GetOrganizationBySlug(ctx context.Context, slug string) (*orgs.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.getOrganizationBySlug(slug)
}

func (s *Store) ListOrganizationsForUser(ctx context.Context, userID string) ([]*orgs.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.listOrganizationsForUser(userID), nil
}

func (s *Store) GetMember(ctx context.Context, memberID string) (*orgs.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.getMember(memberID)
}

func (s *Store) FindMembership(ctx context.Context, orgID, userID string) (*orgs.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.findMembership(orgID, userID)
}

func (s *Store) ListMembers(ctx context.Context, orgID string) ([]*orgs.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.listMembers(orgID), nil
}

func (s *Store) CountOwners(ctx context.Context, orgID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.countOwners(orgID), nil
}

func (s *Store) GetInvitation(ctx context.Context, id string) (*orgs.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.getInvitation(id)
}

func (s *Store) FindPendingInvitation(ctx context.Context, orgID, email string) (*orgs.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.findPendingInvitation(orgID, email)
}

func (s *Store) ListInvitations(ctx context.Context, orgID string) ([]*orgs.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.listInvitations(func(i *orgs.Invitation) bool { return i.OrganizationID == orgID }), nil
}

func (s *Store) ListInvitationsForEmail(ctx context.Context, email string) ([]*orgs.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.listInvitations(func(i *orgs.Invitation) bool { return i.Email == email }), nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.getUser(id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.getUserByEmail(email)
}

func (s *Store) FindAccount(ctx context.Context, providerID, accountID string) (*auth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.st.accounts {
		if a.ProviderID == providerID && a.AccountID == accountID {
			c := *a
			return &c, nil
		}
	}
	return nil, apperr.NotFound("account")
}

func (s *Store) FindSessionByTokenHash(ctx context.Context, tokenHash string) (*auth.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.st.sessions {
		if sess.TokenHash == tokenHash {
			return copySession(sess), nil
		}
	}
	return nil, apperr.NotFound("session")
}

// Writers outside transactions.

func (s *Store) CreateSession(ctx context.Context, session *auth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.users[session.UserID]; !ok {
		return apperr.NotFound("user")
	}
	for _, existing := range s.st.sessions {
		if existing.ID == session.ID || existing.TokenHash == session.TokenHash {
			return apperr.New(apperr.KindConflict, "session already exists")
		}
	}
	s.st.sessions[session.ID] = copySession(session)
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.st.sessions, id)
	return nil
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sess := range s.st.sessions {
		if !sess.ExpiresAt.After(before) {
			delete(s.st.sessions, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) CreateUser(ctx context.Context, user *auth.User, account *auth.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.st.getUserByEmail(user.Email); err == nil {
		return apperr.New(apperr.KindConflict, "user already exists")
	}
	if account != nil {
		if err := s.st.checkAccount(account); err != nil {
			return err
		}
	}
	u := *user
	s.st.users[u.ID] = &u
	if account != nil {
		a := *account
		s.st.accounts[a.ID] = &a
	}
	return nil
}

func (s *Store) CreateAccount(ctx context.Context, account *auth.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.users[account.UserID]; !ok {
		return apperr.NotFound("user")
	}
	if err := s.st.checkAccount(account); err != nil {
		return err
	}
	a := *account
	s.st.accounts[a.ID] = &a
	return nil
}

func (s *Store) ExpirePendingInvitations(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, inv := range s.st.invitations {
		if inv.Status == orgs.InvitationPending && !now.Before(inv.ExpiresAt) {
			inv.Status = orgs.InvitationExpired
			n++
		}
	}
	return n, nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func (st *state) checkAccount(a *auth.Account) error {
	for _, existing := range st.accounts {
		if existing.ProviderID == a.ProviderID && existing.AccountID == a.AccountID {
			return apperr.New(apperr.KindConflict, "account already exists")
		}
	}
	return nil
}

func (st *state) getUser(id string) (*auth.User, error) {
	u, ok := st.users[id]
	if !ok {
		return nil, apperr.NotFound("user")
	}
	c := *u
	return &c, nil
}

func (st *state) getUserByEmail(email string) (*auth.User, error) {
	for _, u := range st.users {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, apperr.NotFound("user")
}

func (st *state) getOrganization(id string) (*orgs.Organization, error) {
	o, ok := st.orgs[id]
	if !ok {
		return nil, apperr.NotFound("organization")
	}
	return copyOrg(o), nil
}

func (st *state) getOrganizationBySlug(slug string) (*orgs.Organization, error) {
	for _, o := range st.orgs {
		if o.Slug == slug {
			return copyOrg(o), nil
		}
	}
	return nil, apperr.NotFound("organization")
}

func (st *state) listOrganizationsForUser(userID string) []*orgs.Organization {
	out := []*orgs.Organization{}
	for _, m := range st.members {
		if m.UserID != userID {
			continue
		}
		if o, ok := st.orgs[m.OrganizationID]; ok {
			out = append(out, copyOrg(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (st *state) getMember(id string) (*orgs.Member, error) {
	m, ok := st.members[id]
	if !ok {
		return nil, apperr.NotFound("member")
	}
	c := *m
	return &c, nil
}

func (st *state) findMembership(orgID, userID string) (*orgs.Member, error) {
	for _, m := range st.members {
		if m.OrganizationID == orgID && m.UserID == userID {
			c := *m
			return &c, nil
		}
	}
	return nil, apperr.NotFound("membership")
}

func (st *state) listMembers(orgID string) []*orgs.Member {
	out := []*orgs.Member{}
	for _, m := range st.members {
		if m.OrganizationID != orgID {
			continue
		}
		c := *m
		if u, ok := st.users[m.UserID]; ok {
			c.User = &auth.User{ID: u.ID, Name: u.Name, Email: u.Email, Image: u.Image}
		}
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (st *state) countOwners(orgID string) int {
	n := 0
	for _, m := range st.members {
		if m.OrganizationID == orgID && m.Role == rbac.RoleOwner {
			n++
		}
	}
	return n
}

func (st *state) getInvitation(id string) (*orgs.Invitation, error) {
	inv, ok := st.invitations[id]
	if !ok {
		return nil, apperr.NotFound("invitation")
	}
	c := *inv
	return &c, nil
}

func (st *state) findPendingInvitation(orgID, email string) (*orgs.Invitation, error) {
	for _, inv := range st.invitations {
		if inv.OrganizationID == orgID && inv.Email == email && inv.Status == orgs.InvitationPending {
			c := *inv
			return &c, nil
		}
	}
	return nil, apperr.NotFound("invitation")
}

func (st *state) listInvitations(match func(*orgs.Invitation) bool) []*orgs.Invitation {
	out := []*orgs.Invitation{}
	for _, inv := range st.invitations {
		if !match(inv) {
			continue
		}
		c := *inv
		if o, ok := st.orgs[inv.OrganizationID]; ok {
			c.OrganizationName = o.Name
		}
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
