package db

import (
	"context"
	"database/sql"
)

// DB wraps the sql handle so stores share one type.
type DB struct {
	*sql.DB
}

const bootstrapMigration = `
CREATE EXTENSION IF NOT EXISTS "pgcrypto";

CREATE TABLE IF NOT EXISTS profiles (
    id uuid PRIMARY KEY,
    email text NOT NULL,
    display_name text NOT NULL DEFAULT '',
    avatar_url text NOT NULL DEFAULT '',
    tier text NOT NULL DEFAULT 'free',
    credits integer NOT NULL DEFAULT 0,
    referral_code text,
    vault_state text NOT NULL DEFAULT 'not_started',
    created_at timestamptz NOT NULL DEFAULT NOW(),
    updated_at timestamptz NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS profiles_email_lower_unique
ON profiles (LOWER(email));

CREATE TABLE IF NOT EXISTS wallet_identities (
    address text PRIMARY KEY,
    user_id uuid NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
    created_at timestamptz NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS wallet_identities_user_id_idx
ON wallet_identities (user_id);
`

func RunBootstrapMigration(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, bootstrapMigration)
	return err
}
