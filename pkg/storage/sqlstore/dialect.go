package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/platinummonkey/gatehouse/pkg/apperr"
)

// Dialect selects driver-specific SQL.
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

// ParseDialect maps a storage type name to a Dialect.
func ParseDialect(name string) (Dialect, error) {
	switch name {
	case "postgres", "postgresql":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return 0, fmt.Errorf("unsupported sql dialect %q", name)
	}
}

func (d Dialect) String() string {
	if d == DialectSQLite {
		return "sqlite"
	}
	return "postgres"
}

// DriverName is the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	if d == DialectSQLite {
		return "sqlite3"
	}
	return "postgres"
}

// builder returns a statement builder with the dialect's placeholder format.
func (d Dialect) builder() sq.StatementBuilderType {
	if d == DialectSQLite {
		return sq.StatementBuilder.PlaceholderFormat(sq.Question)
	}
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

// lockSuffix is appended to the organization row read that serializes role changes.
// SQLite transactions are opened with BEGIN IMMEDIATE instead, which already holds the
// database write lock.
func (d Dialect) lockSuffix() string {
	if d == DialectSQLite {
		return ""
	}
	return "FOR UPDATE"
}

// timestampType is the column type used for timestamps.
func (d Dialect) timestampType() string {
	if d == DialectSQLite {
		return "TIMESTAMP"
	}
	return "TIMESTAMPTZ"
}

// SQLiteDSN turns a file path into a DSN with the options the store relies on.
func SQLiteDSN(path string) string {
	opts := "_txlock=immediate&_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL"
	if strings.Contains(path, "?") {
		return path + "&" + opts
	}
	return "file:" + path + "?" + opts
}

// isUniqueViolation reports whether err is a unique constraint failure from either driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// translateError maps driver errors onto apperr kinds. what names the record for
// not-found messages.
func translateError(op, what string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return apperr.NotFound(what)
	case isUniqueViolation(err):
		return &apperr.Error{Kind: apperr.KindConflict, Op: op, Msg: what + " already exists", Err: err}
	default:
		return apperr.Internal(op, err)
	}
}
