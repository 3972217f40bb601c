package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Migration represents a database migration. {{TIMESTAMP}} in SQL is replaced with the
// dialect's timestamp column type.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all schema migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users and accounts tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id VARCHAR(36) PRIMARY KEY,
					name TEXT NOT NULL,
					email VARCHAR(255) NOT NULL UNIQUE,
					email_verified BOOLEAN NOT NULL DEFAULT FALSE,
					image TEXT,
					created_at {{TIMESTAMP}} NOT NULL,
					updated_at {{TIMESTAMP}} NOT NULL
				);

				CREATE TABLE IF NOT EXISTS accounts (
					id VARCHAR(36) PRIMARY KEY,
					user_id VARCHAR(36) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					provider_id VARCHAR(64) NOT NULL,
					account_id VARCHAR(255) NOT NULL,
					password TEXT,
					created_at {{TIMESTAMP}} NOT NULL,
					updated_at {{TIMESTAMP}} NOT NULL,
					UNIQUE(provider_id, account_id)
				);

				CREATE INDEX IF NOT EXISTS idx_accounts_user_id ON accounts(user_id);
			`,
		},
		{
			Version:     2,
			Description: "Create organizations and members tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS organizations (
					id VARCHAR(36) PRIMARY KEY,
					name TEXT NOT NULL,
					slug VARCHAR(64) NOT NULL UNIQUE,
					logo TEXT,
					metadata TEXT,
					created_at {{TIMESTAMP}} NOT NULL,
					updated_at {{TIMESTAMP}} NOT NULL
				);

				CREATE TABLE IF NOT EXISTS members (
					id VARCHAR(36) PRIMARY KEY,
					organization_id VARCHAR(36) NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					user_id VARCHAR(36) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role VARCHAR(16) NOT NULL CHECK (role IN ('owner', 'admin', 'member')),
					created_at {{TIMESTAMP}} NOT NULL,
					UNIQUE(organization_id, user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_members_user_id ON members(user_id);
				CREATE INDEX IF NOT EXISTS idx_members_org_role ON members(organization_id, role);
			`,
		},
		{
			Version:     3,
			Description: "Create sessions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS sessions (
					id VARCHAR(36) PRIMARY KEY,
					user_id VARCHAR(36) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					token_hash VARCHAR(64) NOT NULL UNIQUE,
					expires_at {{TIMESTAMP}} NOT NULL,
					ip_address TEXT,
					user_agent TEXT,
					active_organization_id VARCHAR(36) REFERENCES organizations(id) ON DELETE SET NULL,
					created_at {{TIMESTAMP}} NOT NULL,
					updated_at {{TIMESTAMP}} NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);
				CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);
			`,
		},
		{
			Version:     4,
			Description: "Create invitations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS invitations (
					id VARCHAR(36) PRIMARY KEY,
					organization_id VARCHAR(36) NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					email VARCHAR(255) NOT NULL,
					role VARCHAR(16) NOT NULL CHECK (role IN ('owner', 'admin', 'member')),
					status VARCHAR(16) NOT NULL DEFAULT 'pending',
					inviter_id VARCHAR(36) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					expires_at {{TIMESTAMP}} NOT NULL,
					created_at {{TIMESTAMP}} NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_invitations_email ON invitations(email);
				CREATE INDEX IF NOT EXISTS idx_invitations_org ON invitations(organization_id);
				CREATE UNIQUE INDEX IF NOT EXISTS idx_invitations_one_pending
					ON invitations(organization_id, email) WHERE status = 'pending';
			`,
		},
	}
}

// Migrate executes all pending migrations, each in its own transaction
func (s *Store) Migrate(ctx context.Context) error {
	db := s.cm.Primary()
	ts := s.dialect.timestampType()

	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at %s NOT NULL
		)
	`, ts))
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var applied []int
	if err := db.SelectContext(ctx, &applied, "SELECT version FROM schema_migrations ORDER BY version"); err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}
	appliedVersions := make(map[int]bool, len(applied))
	for _, v := range applied {
		appliedVersions[v] = true
	}

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		s.logger.WithFields(map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("running migration")

		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, strings.ReplaceAll(migration.SQL, "{{TIMESTAMP}}", ts)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		query, args, err := s.sb.Insert("schema_migrations").
			Columns("version", "description", "applied_at").
			Values(migration.Version, migration.Description, time.Now().UTC()).
			ToSql()
		if err != nil {
			tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
