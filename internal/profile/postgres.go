package profile

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"vault-auth/internal/auth"
	"vault-auth/internal/db"

	"github.com/google/uuid"
)

// PostgresStore is the canonical profile mirror.
type PostgresStore struct {
	db *db.DB
}

func NewPostgresStore(db *db.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (*Profile, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, ErrNotFound
	}

	var p Profile
	var referral sql.NullString
	err = s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, avatar_url, tier, credits,
		       referral_code, vault_state, created_at, updated_at
		FROM profiles
		WHERE id = $1
	`, uid).Scan(
		&p.ID, &p.Email, &p.DisplayName, &p.AvatarURL, &p.Tier,
		&p.Credits, &referral, &p.VaultState, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.ReferralCode = referral.String
	return &p, nil
}

func (s *PostgresStore) Create(ctx context.Context, identity auth.Identity) (*Profile, error) {
	uid, err := uuid.Parse(identity.UserID)
	if err != nil {
		return nil, err
	}

	p := Profile{
		ID:          identity.UserID,
		Email:       identity.Email,
		DisplayName: identity.DisplayName,
		AvatarURL:   identity.AvatarURL,
		Tier:        DefaultTier,
		Credits:     DefaultCredits,
		VaultState:  VaultNotStarted,
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO profiles
		    (id, email, display_name, avatar_url, tier, credits, vault_state)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`,
		uid, p.Email, p.DisplayName, p.AvatarURL, p.Tier, p.Credits, p.VaultState,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) Touch(ctx context.Context, identity auth.Identity) error {
	uid, err := uuid.Parse(identity.UserID)
	if err != nil {
		return err
	}

	// COALESCE-style update: never blank out fields the gateway did
	// not supply on this login.
	_, err = s.db.ExecContext(ctx, `
		UPDATE profiles
		SET email        = $2,
		    display_name = CASE WHEN $3 <> '' THEN $3 ELSE display_name END,
		    avatar_url   = CASE WHEN $4 <> '' THEN $4 ELSE avatar_url END,
		    updated_at   = NOW()
		WHERE id = $1
	`, uid, identity.Email, identity.DisplayName, identity.AvatarURL)
	return err
}

func (s *PostgresStore) SetReferral(ctx context.Context, userID, code string) error {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE profiles
		SET referral_code = $2, updated_at = NOW()
		WHERE id = $1
	`, uid, code)
	return err
}

func (s *PostgresStore) VaultState(ctx context.Context, userID string) (VaultState, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return VaultNotStarted, nil
	}

	var state VaultState
	err = s.db.QueryRowContext(ctx, `
		SELECT vault_state FROM profiles WHERE id = $1
	`, uid).Scan(&state)
	if err == sql.ErrNoRows {
		return VaultNotStarted, nil
	}
	if err != nil {
		return VaultNotStarted, err
	}
	return state, nil
}

func (s *PostgresStore) UserIDByWallet(ctx context.Context, address string) (string, error) {
	var userID uuid.UUID
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM wallet_identities WHERE address = $1
	`, strings.ToLower(address)).Scan(&userID)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return userID.String(), nil
}

func (s *PostgresStore) LinkWallet(ctx context.Context, address, userID string) error {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO wallet_identities (address, user_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (address) DO NOTHING
	`, strings.ToLower(address), uid, time.Now())
	return err
}
