package db

import (
	"context"

	"github.com/jmoiron/sqlx"
)

const schema = `
CREATE EXTENSION IF NOT EXISTS "pgcrypto";

CREATE TABLE IF NOT EXISTS users (
    id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
    first_name text NOT NULL DEFAULT '',
    last_name text NOT NULL DEFAULT '',
    email text NOT NULL,
    username text NOT NULL,
    password_hash text,
    role text NOT NULL DEFAULT 'employee'
        CHECK (role IN ('super-admin', 'admin', 'employee')),
    providers text[] NOT NULL DEFAULT '{local}'
        CHECK (cardinality(providers) > 0),
    external_subject text,
    subject_provider text,
    avatar_url text NOT NULL DEFAULT '',
    failed_login_attempts int NOT NULL DEFAULT 0,
    lock_until timestamptz,
    created_at timestamptz NOT NULL DEFAULT NOW(),
    updated_at timestamptz NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS users_email_lower_unique
ON users (LOWER(email));

CREATE UNIQUE INDEX IF NOT EXISTS users_username_lower_unique
ON users (LOWER(username));

ALTER TABLE users ADD COLUMN IF NOT EXISTS subject_provider text;

UPDATE users SET subject_provider = (
    SELECT p FROM unnest(providers) AS p WHERE p <> 'local' LIMIT 1
)
WHERE external_subject IS NOT NULL AND subject_provider IS NULL;

DROP INDEX IF EXISTS users_external_subject_unique;

CREATE UNIQUE INDEX IF NOT EXISTS users_provider_subject_unique
ON users (subject_provider, external_subject)
WHERE external_subject IS NOT NULL;

CREATE TABLE IF NOT EXISTS auth_logs (
    id text PRIMARY KEY,
    user_id uuid REFERENCES users(id) ON DELETE SET NULL,
    action text NOT NULL,
    provider text NOT NULL,
    ip text NOT NULL DEFAULT '',
    user_agent text NOT NULL DEFAULT '',
    created_at timestamptz NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS auth_logs_user_id_idx
ON auth_logs (user_id, created_at DESC);
`

// Migrate creates the users and auth_logs tables if they do not exist.
func Migrate(ctx context.Context, conn *sqlx.DB) error {
	_, err := conn.ExecContext(ctx, schema)
	return err
}
