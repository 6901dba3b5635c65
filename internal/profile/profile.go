package profile

import (
	"context"
	"errors"
	"time"

	"vault-auth/internal/auth"
)

// ErrNotFound is returned when no profile exists for the given key.
var ErrNotFound = errors.New("profile not found")

// VaultState mirrors the per-user vault initialization lifecycle. The
// auth service only reads it, to choose between onboarding and the
// dashboard after login; the vault backend owns the writes.
type VaultState string

const (
	VaultNotStarted   VaultState = "not_started"
	VaultInitializing VaultState = "initializing"
	VaultInitialized  VaultState = "initialized"
)

// DefaultTier and DefaultCredits seed a first-login profile.
const (
	DefaultTier    = "free"
	DefaultCredits = 100
)

// Profile is the local mirror of a gateway account. ID is the
// gateway's stable user id; the service never assigns ids of its own.
type Profile struct {
	ID           string
	Email        string
	DisplayName  string
	AvatarURL    string
	Tier         string
	Credits      int
	ReferralCode string
	VaultState   VaultState
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Store is the durable profile mirror plus the wallet→user index.
type Store interface {
	// Get returns the profile for a gateway user id, or ErrNotFound.
	Get(ctx context.Context, userID string) (*Profile, error)

	// Create inserts a first-login profile with default tier/credits.
	Create(ctx context.Context, identity auth.Identity) (*Profile, error)

	// Touch updates mutable identity fields on a returning login. It
	// must never recreate or reset the profile.
	Touch(ctx context.Context, identity auth.Identity) error

	// SetReferral attaches a normalized referral code. Written only
	// for verified signups; last write wins.
	SetReferral(ctx context.Context, userID, code string) error

	// VaultState reads the user's vault lifecycle position. Unknown
	// users report VaultNotStarted.
	VaultState(ctx context.Context, userID string) (VaultState, error)

	// UserIDByWallet resolves a wallet address (lower-cased hex) to a
	// user id via the keyed index, or ErrNotFound.
	UserIDByWallet(ctx context.Context, address string) (string, error)

	// LinkWallet records the address→user mapping.
	LinkWallet(ctx context.Context, address, userID string) error
}
