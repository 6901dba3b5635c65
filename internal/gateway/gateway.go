package gateway

import (
	"context"
	"time"

	"vault-auth/internal/auth"
)

// Session is a gateway-issued session. The service never mints tokens
// itself; every access/refresh pair originates here.
type Session struct {
	Identity     auth.Identity
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// User is the gateway's durable account record, as seen through the
// admin API.
type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
	Metadata  map[string]string
}

// VerifyKind selects which token family VerifyOTP checks.
type VerifyKind string

const (
	VerifyEmailOTP  VerifyKind = "email"
	VerifyMagicLink VerifyKind = "magiclink"
)

// IdentityGateway is the managed auth backend the service delegates
// OAuth, OTP, magic-link and token issuance to. It is injected so tests
// can substitute a deterministic fake. Errors returned by
// implementations are classified into the auth taxonomy
// (auth.ErrRateLimited, auth.ErrExpired, auth.ErrGatewayUnavailable, ...).
type IdentityGateway interface {
	// OAuthURL returns the gateway authorization URL for a full-page
	// redirect. State and PKCE parameters are provided by the caller.
	OAuthURL(provider, state, codeChallenge string) (string, error)

	// ExchangeCode swaps an authorization code for a session.
	ExchangeCode(ctx context.Context, code, codeVerifier string) (*Session, error)

	// SignInWithOTP asks the gateway to email a one-time code.
	SignInWithOTP(ctx context.Context, email string) error

	// SendMagicLink asks the gateway to email a single-use sign-in
	// link that lands on redirectTo.
	SendMagicLink(ctx context.Context, email, redirectTo string) error

	// VerifyOTP exchanges an emailed code or magic-link token for a
	// session.
	VerifyOTP(ctx context.Context, email, token string, kind VerifyKind) (*Session, error)

	// GetSession validates an access token and returns the session it
	// belongs to, or nil if the gateway has no session for it yet.
	GetSession(ctx context.Context, accessToken string) (*Session, error)
}

// AdminAPI is the server-side-only surface used by the wallet path to
// map addresses to virtual accounts. It must never be reachable from
// browser-facing code paths.
type AdminAPI interface {
	AdminCreateUser(ctx context.Context, email string, metadata map[string]string) (*User, error)
	AdminGetUserByEmail(ctx context.Context, email string) (*User, error)

	// AdminCreateSession mints a session for a known user out-of-band,
	// without a verification exchange.
	AdminCreateSession(ctx context.Context, userID string) (*Session, error)
}
