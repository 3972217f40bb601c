package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/platinummonkey/gatehouse/pkg/apperr"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/orgs"
	"github.com/platinummonkey/gatehouse/pkg/storage"
)

var (
	_ auth.Store = (*Store)(nil)
	_ orgs.Store = (*Store)(nil)
	_ orgs.Tx    = (*tx)(nil)
)

// Store implements the identity store on PostgreSQL or SQLite.
// Session, membership and role lookups read the primary so a login or a removal is seen
// on the very next request. Only listings are served from replicas. Transactions run on
// the primary.
type Store struct {
	reader
	replicas reader
	cm       *ConnectionManager
	dialect  Dialect
	sb       sq.StatementBuilderType
	logger   *observability.Logger
}

// New creates a store over the managed connections
func New(cm *ConnectionManager, logger *observability.Logger) *Store {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	sb := cm.Dialect().builder()
	return &Store{
		reader:   reader{q: routedQueryer{conn: cm.Primary}, sb: sb},
		replicas: reader{q: routedQueryer{conn: cm.Replica}, sb: sb},
		cm:       cm,
		dialect:  cm.Dialect(),
		sb:       sb,
		logger:   logger,
	}
}

// NewFromDB creates a store over a single already-open database.
func NewFromDB(db *sql.DB, dialect Dialect) *Store {
	cm := NewConnectionManagerFromDB(sqlx.NewDb(db, dialect.DriverName()), dialect)
	return New(cm, cm.logger)
}

// Open connects to the backend selected by cfg.Type ("postgres" or "sqlite").
func Open(cfg storage.Config, logger *observability.Logger) (*Store, error) {
	cc := ConnectionConfig{
		MaxConns:    cfg.PostgresMaxConns,
		MinConns:    cfg.PostgresMinConns,
		Timeout:     cfg.PostgresTimeout,
		MaxLifetime: 30 * time.Minute,
		MaxIdleTime: 5 * time.Minute,
	}
	switch cfg.Type {
	case storage.TypePostgres:
		cc.Dialect = DialectPostgres
		cc.PrimaryURL = cfg.PostgresURL
		cc.ReplicaURLs = cfg.PostgresReplicaURLs
	case storage.TypeSQLite:
		cc.Dialect = DialectSQLite
		cc.PrimaryURL = SQLiteDSN(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("sqlstore does not support storage type %q", cfg.Type)
	}

	cm, err := NewConnectionManager(cc, logger)
	if err != nil {
		return nil, err
	}
	return New(cm, logger), nil
}

// Connections exposes the connection manager for health checks and pool stats.
func (s *Store) Connections() *ConnectionManager {
	return s.cm
}

// Close closes all database connections
func (s *Store) Close() error {
	return s.cm.Close()
}

// WithTx runs fn inside a transaction on the primary.
func (s *Store) WithTx(ctx context.Context, fn func(tx orgs.Tx) error) error {
	sqlTx, err := s.cm.Primary().BeginTxx(ctx, nil)
	if err != nil {
		return apperr.Internal("sqlstore.WithTx", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&tx{reader: reader{q: sqlTx, sb: s.sb}, tx: sqlTx, dialect: s.dialect}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return translateError("sqlstore.WithTx", "transaction", err)
	}
	return nil
}

// ExpirePendingInvitations marks overdue pending invitations as expired
func (s *Store) ExpirePendingInvitations(ctx context.Context, now time.Time) (int64, error) {
	b := s.sb.Update("invitations").
		Set("status", string(orgs.InvitationExpired)).
		Where(sq.Eq{"status": string(orgs.InvitationPending)}).
		Where(sq.LtOrEq{"expires_at": now.UTC()})
	return execAffected(ctx, s.cm.Primary(), b, "sqlstore.ExpirePendingInvitations")
}

// ListMembers reads from a replica.
func (s *Store) ListMembers(ctx context.Context, orgID string) ([]*orgs.Member, error) {
	return s.replicas.ListMembers(ctx, orgID)
}

// ListInvitations reads from a replica.
func (s *Store) ListInvitations(ctx context.Context, orgID string) ([]*orgs.Invitation, error) {
	return s.replicas.ListInvitations(ctx, orgID)
}

// ListInvitationsForEmail reads from a replica.
func (s *Store) ListInvitationsForEmail(ctx context.Context, email string) ([]*orgs.Invitation, error) {
	return s.replicas.ListInvitationsForEmail(ctx, email)
}

// routedQueryer sends each query to the connection conn picks at call time.
type routedQueryer struct {
	conn func() *sqlx.DB
}

func (r routedQueryer) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return r.conn().QueryContext(ctx, query, args...)
}

func (r routedQueryer) QueryxContext(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error) {
	return r.conn().QueryxContext(ctx, query, args...)
}

func (r routedQueryer) QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row {
	return r.conn().QueryRowxContext(ctx, query, args...)
}

// reader implements orgs.Reader and the read side of auth.Store over any queryer.
type reader struct {
	q  sqlx.QueryerContext
	sb sq.StatementBuilderType
}

func (r *reader) get(ctx context.Context, dest interface{}, b sq.Sqlizer, op, what string) error {
	query, args, err := b.ToSql()
	if err != nil {
		return apperr.Internal(op, err)
	}
	return translateError(op, what, sqlx.GetContext(ctx, r.q, dest, query, args...))
}

func (r *reader) list(ctx context.Context, dest interface{}, b sq.Sqlizer, op string) error {
	query, args, err := b.ToSql()
	if err != nil {
		return apperr.Internal(op, err)
	}
	if err := sqlx.SelectContext(ctx, r.q, dest, query, args...); err != nil {
		return apperr.Internal(op, err)
	}
	return nil
}

func (r *reader) GetUser(ctx context.Context, id string) (*auth.User, error) {
	var row userRow
	b := r.sb.Select(userColumns...).From("users").Where(sq.Eq{"id": id})
	if err := r.get(ctx, &row, b, "sqlstore.GetUser", "user"); err != nil {
		return nil, err
	}
	return row.toUser(), nil
}

func (r *reader) GetUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	var row userRow
	b := r.sb.Select(userColumns...).From("users").Where(sq.Eq{"email": email})
	if err := r.get(ctx, &row, b, "sqlstore.GetUserByEmail", "user"); err != nil {
		return nil, err
	}
	return row.toUser(), nil
}

func (r *reader) FindAccount(ctx context.Context, providerID, accountID string) (*auth.Account, error) {
	var row accountRow
	b := r.sb.Select(accountColumns...).From("accounts").
		Where(sq.Eq{"provider_id": providerID, "account_id": accountID})
	if err := r.get(ctx, &row, b, "sqlstore.FindAccount", "account"); err != nil {
		return nil, err
	}
	return row.toAccount(), nil
}

func (r *reader) FindSessionByTokenHash(ctx context.Context, tokenHash string) (*auth.Session, error) {
	var row sessionRow
	b := r.sb.Select(sessionColumns...).From("sessions").Where(sq.Eq{"token_hash": tokenHash})
	if err := r.get(ctx, &row, b, "sqlstore.FindSessionByTokenHash", "session"); err != nil {
		return nil, err
	}
	return row.toSession(), nil
}

func (r *reader) GetOrganization(ctx context.Context, id string) (*orgs.Organization, error) {
	var row orgRow
	b := r.sb.Select(orgColumns...).From("organizations").Where(sq.Eq{"id": id})
	if err := r.get(ctx, &row, b, "sqlstore.GetOrganization", "organization"); err != nil {
		return nil, err
	}
	return row.toOrganization()
}

func (r *reader) GetOrganizationBySlug(ctx context.Context, slug string) (*orgs.Organization, error) {
	var row orgRow
	b := r.sb.Select(orgColumns...).From("organizations").Where(sq.Eq{"slug": slug})
	if err := r.get(ctx, &row, b, "sqlstore.GetOrganizationBySlug", "organization"); err != nil {
		return nil, err
	}
	return row.toOrganization()
}

func (r *reader) ListOrganizationsForUser(ctx context.Context, userID string) ([]*orgs.Organization, error) {
	var rows []orgRow
	b := r.sb.Select(columns("o", orgColumns...)...).
		From("organizations o").
		Join("members m ON m.organization_id = o.id").
		Where(sq.Eq{"m.user_id": userID}).
		OrderBy("o.created_at", "o.id")
	if err := r.list(ctx, &rows, b, "sqlstore.ListOrganizationsForUser"); err != nil {
		return nil, err
	}

	out := make([]*orgs.Organization, 0, len(rows))
	for i := range rows {
		org, err := rows[i].toOrganization()
		if err != nil {
			return nil, err
		}
		out = append(out, org)
	}
	return out, nil
}

func (r *reader) GetMember(ctx context.Context, memberID string) (*orgs.Member, error) {
	var row memberRow
	b := r.sb.Select(memberColumns...).From("members").Where(sq.Eq{"id": memberID})
	if err := r.get(ctx, &row, b, "sqlstore.GetMember", "member"); err != nil {
		return nil, err
	}
	return row.toMember()
}

func (r *reader) FindMembership(ctx context.Context, orgID, userID string) (*orgs.Member, error) {
	var row memberRow
	b := r.sb.Select(memberColumns...).From("members").
		Where(sq.Eq{"organization_id": orgID, "user_id": userID})
	if err := r.get(ctx, &row, b, "sqlstore.FindMembership", "membership"); err != nil {
		return nil, err
	}
	return row.toMember()
}

func (r *reader) ListMembers(ctx context.Context, orgID string) ([]*orgs.Member, error) {
	var rows []memberRow
	cols := append(columns("m", memberColumns...),
		"u.name AS user_name", "u.email AS user_email", "u.image AS user_image")
	b := r.sb.Select(cols...).
		From("members m").
		Join("users u ON u.id = m.user_id").
		Where(sq.Eq{"m.organization_id": orgID}).
		OrderBy("m.created_at", "m.id")
	if err := r.list(ctx, &rows, b, "sqlstore.ListMembers"); err != nil {
		return nil, err
	}

	out := make([]*orgs.Member, 0, len(rows))
	for i := range rows {
		m, err := rows[i].toMember()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *reader) CountOwners(ctx context.Context, orgID string) (int, error) {
	var n int
	b := r.sb.Select("COUNT(*)").From("members").
		Where(sq.Eq{"organization_id": orgID, "role": "owner"})
	if err := r.get(ctx, &n, b, "sqlstore.CountOwners", "owner count"); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *reader) GetInvitation(ctx context.Context, id string) (*orgs.Invitation, error) {
	var row invitationRow
	b := r.sb.Select(invitationColumns...).From("invitations").Where(sq.Eq{"id": id})
	if err := r.get(ctx, &row, b, "sqlstore.GetInvitation", "invitation"); err != nil {
		return nil, err
	}
	return row.toInvitation()
}

func (r *reader) FindPendingInvitation(ctx context.Context, orgID, email string) (*orgs.Invitation, error) {
	var row invitationRow
	b := r.sb.Select(invitationColumns...).From("invitations").
		Where(sq.Eq{"organization_id": orgID, "email": email, "status": string(orgs.InvitationPending)})
	if err := r.get(ctx, &row, b, "sqlstore.FindPendingInvitation", "invitation"); err != nil {
		return nil, err
	}
	return row.toInvitation()
}

func (r *reader) ListInvitations(ctx context.Context, orgID string) ([]*orgs.Invitation, error) {
	var rows []invitationRow
	b := r.sb.Select(invitationColumns...).From("invitations").
		Where(sq.Eq{"organization_id": orgID}).
		OrderBy("created_at DESC", "id")
	if err := r.list(ctx, &rows, b, "sqlstore.ListInvitations"); err != nil {
		return nil, err
	}
	return toInvitations(rows)
}

func (r *reader) ListInvitationsForEmail(ctx context.Context, email string) ([]*orgs.Invitation, error) {
	var rows []invitationRow
	cols := append(columns("i", invitationColumns...), "o.name AS organization_name")
	b := r.sb.Select(cols...).
		From("invitations i").
		Join("organizations o ON o.id = i.organization_id").
		Where(sq.Eq{"i.email": email}).
		OrderBy("i.created_at DESC", "i.id")
	if err := r.list(ctx, &rows, b, "sqlstore.ListInvitationsForEmail"); err != nil {
		return nil, err
	}
	return toInvitations(rows)
}

func toInvitations(rows []invitationRow) ([]*orgs.Invitation, error) {
	out := make([]*orgs.Invitation, 0, len(rows))
	for i := range rows {
		inv, err := rows[i].toInvitation()
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, nil
}

func execAffected(ctx context.Context, e sqlx.ExecerContext, b sq.Sqlizer, op string) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, apperr.Internal(op, err)
	}
	res, err := e.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, apperr.Internal(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperr.Internal(op, err)
	}
	return n, nil
}

func (s *Store) exec(ctx context.Context, b sq.Sqlizer, op, what string) error {
	return execOn(ctx, s.cm.Primary(), b, op, what)
}

func execOn(ctx context.Context, e sqlx.ExecerContext, b sq.Sqlizer, op, what string) error {
	query, args, err := b.ToSql()
	if err != nil {
		return apperr.Internal(op, err)
	}
	_, err = e.ExecContext(ctx, query, args...)
	return translateError(op, what, err)
}

// execOne runs b and reports NotFound when it touched no rows.
func execOne(ctx context.Context, e sqlx.ExecerContext, b sq.Sqlizer, op, what string) error {
	query, args, err := b.ToSql()
	if err != nil {
		return apperr.Internal(op, err)
	}
	res, err := e.ExecContext(ctx, query, args...)
	if err != nil {
		return translateError(op, what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Internal(op, err)
	}
	if n == 0 {
		return apperr.NotFound(what)
	}
	return nil
}

func (s *Store) CreateSession(ctx context.Context, session *auth.Session) error {
	return s.exec(ctx, insertSession(s.sb, session), "sqlstore.CreateSession", "session")
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	b := s.sb.Delete("sessions").Where(sq.Eq{"id": id})
	return s.exec(ctx, b, "sqlstore.DeleteSession", "session")
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	b := s.sb.Delete("sessions").Where(sq.LtOrEq{"expires_at": before.UTC()})
	return execAffected(ctx, s.cm.Primary(), b, "sqlstore.DeleteExpiredSessions")
}

// CreateUser inserts the user and its first account in one transaction.
func (s *Store) CreateUser(ctx context.Context, user *auth.User, account *auth.Account) error {
	sqlTx, err := s.cm.Primary().BeginTxx(ctx, nil)
	if err != nil {
		return apperr.Internal("sqlstore.CreateUser", err)
	}
	defer sqlTx.Rollback()

	b := s.sb.Insert("users").
		Columns("id", "name", "email", "email_verified", "image", "created_at", "updated_at").
		Values(user.ID, user.Name, user.Email, user.EmailVerified, nullString(user.Image),
			user.CreatedAt.UTC(), user.UpdatedAt.UTC())
	if err := execOn(ctx, sqlTx, b, "sqlstore.CreateUser", "user"); err != nil {
		return err
	}
	if account != nil {
		if err := execOn(ctx, sqlTx, insertAccount(s.sb, account), "sqlstore.CreateUser", "account"); err != nil {
			return err
		}
	}
	if err := sqlTx.Commit(); err != nil {
		return apperr.Internal("sqlstore.CreateUser", err)
	}
	return nil
}

func (s *Store) CreateAccount(ctx context.Context, account *auth.Account) error {
	return s.exec(ctx, insertAccount(s.sb, account), "sqlstore.CreateAccount", "account")
}

func insertAccount(sb sq.StatementBuilderType, a *auth.Account) sq.InsertBuilder {
	return sb.Insert("accounts").
		Columns("id", "user_id", "provider_id", "account_id", "password", "created_at", "updated_at").
		Values(a.ID, a.UserID, a.ProviderID, a.AccountID, nullString(a.PasswordHash),
			a.CreatedAt.UTC(), a.UpdatedAt.UTC())
}

func insertSession(sb sq.StatementBuilderType, s *auth.Session) sq.InsertBuilder {
	var active sql.NullString
	if s.ActiveOrganizationID != nil {
		active = sql.NullString{String: *s.ActiveOrganizationID, Valid: true}
	}
	return sb.Insert("sessions").
		Columns("id", "user_id", "token_hash", "expires_at", "ip_address", "user_agent",
			"active_organization_id", "created_at", "updated_at").
		Values(s.ID, s.UserID, s.TokenHash, s.ExpiresAt.UTC(), nullString(s.IPAddress),
			nullString(s.UserAgent), active, s.CreatedAt.UTC(), s.UpdatedAt.UTC())
}
