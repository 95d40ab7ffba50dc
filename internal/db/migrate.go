package db

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

// Statements are kept portable across Postgres and SQLite.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
    id text PRIMARY KEY,
    login text NOT NULL,
    name text NOT NULL DEFAULT '',
    email text,
    created_at timestamptz NOT NULL,
    updated_at timestamptz NOT NULL
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_login_unique ON users (login)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_email_unique ON users (email)`,

	`CREATE TABLE IF NOT EXISTS identities (
    id text PRIMARY KEY,
    user_id text NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    provider text NOT NULL,
    provider_user_id text NOT NULL,
    provider_login text NOT NULL DEFAULT '',
    created_at timestamptz NOT NULL,
    updated_at timestamptz NOT NULL,
    CONSTRAINT identities_provider_unique
        UNIQUE (provider, provider_user_id)
)`,
	`CREATE INDEX IF NOT EXISTS identities_user_id_idx ON identities (user_id)`,

	`CREATE TABLE IF NOT EXISTS email_shifts (
    id text PRIMARY KEY,
    email text NOT NULL,
    from_user_id text NOT NULL,
    to_user_id text NOT NULL,
    provider text NOT NULL,
    provider_user_id text NOT NULL,
    created_at timestamptz NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS email_shifts_email_idx ON email_shifts (email)`,

	`CREATE TABLE IF NOT EXISTS webhooks (
    key text PRIMARY KEY,
    name text NOT NULL,
    url text NOT NULL,
    organization_key text NOT NULL,
    project_key text,
    created_at timestamptz NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS webhooks_scope_idx ON webhooks (organization_key, project_key)`,
}

// Migrate creates every table the service needs. It is idempotent.
func Migrate(ctx context.Context, db *bun.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("db: migrate: %w", err)
		}
	}
	return nil
}
