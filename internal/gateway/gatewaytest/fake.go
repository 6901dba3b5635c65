// Package gatewaytest provides a deterministic in-memory
// IdentityGateway for tests: fixed TTLs, scriptable failures, recorded
// calls. No network, no clocks beyond what the test injects.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vault-auth/internal/auth"
	"vault-auth/internal/gateway"
)

// Fake implements gateway.IdentityGateway and gateway.AdminAPI. Zero
// value is usable; every hook is optional. When a hook is nil the fake
// falls back to a permissive default built from its user table.
type Fake struct {
	mu sync.Mutex

	// Scriptable responses. Err* short-circuit the corresponding call.
	ErrOAuthURL    error
	ErrSignIn      error
	ErrVerify      error
	ErrExchange    error
	ErrAdminCreate error

	// GetSessionResults is consumed one element per GetSession call,
	// letting tests model "no session yet, then session" propagation.
	GetSessionResults []*gateway.Session

	// Users indexes known accounts by email.
	Users map[string]*gateway.User

	// SentOTP / SentMagicLink record the emails the gateway was asked
	// to contact, in order.
	SentOTP       []string
	SentMagicLink []string

	// Calls records method names in invocation order.
	Calls []string

	nextID int
}

var _ gateway.IdentityGateway = (*Fake)(nil)
var _ gateway.AdminAPI = (*Fake)(nil)

func (f *Fake) record(call string) {
	f.Calls = append(f.Calls, call)
}

func (f *Fake) OAuthURL(provider, state, codeChallenge string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("OAuthURL")
	if f.ErrOAuthURL != nil {
		return "", f.ErrOAuthURL
	}
	return fmt.Sprintf("https://gateway.test/authorize?provider=%s&state=%s", provider, state), nil
}

func (f *Fake) ExchangeCode(ctx context.Context, code, codeVerifier string) (*gateway.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ExchangeCode")
	if f.ErrExchange != nil {
		return nil, f.ErrExchange
	}
	return f.sessionFor("oauth-user@gateway.test"), nil
}

func (f *Fake) SignInWithOTP(ctx context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SignInWithOTP")
	if f.ErrSignIn != nil {
		return f.ErrSignIn
	}
	f.SentOTP = append(f.SentOTP, email)
	return nil
}

func (f *Fake) SendMagicLink(ctx context.Context, email, redirectTo string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SendMagicLink")
	if f.ErrSignIn != nil {
		return f.ErrSignIn
	}
	f.SentMagicLink = append(f.SentMagicLink, email)
	return nil
}

func (f *Fake) VerifyOTP(ctx context.Context, email, token string, kind gateway.VerifyKind) (*gateway.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("VerifyOTP")
	if f.ErrVerify != nil {
		return nil, f.ErrVerify
	}
	if token == "" {
		return nil, auth.ErrAuthenticationFailed
	}
	return f.sessionFor(email), nil
}

func (f *Fake) GetSession(ctx context.Context, accessToken string) (*gateway.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetSession")
	if len(f.GetSessionResults) == 0 {
		return nil, nil
	}
	next := f.GetSessionResults[0]
	f.GetSessionResults = f.GetSessionResults[1:]
	return next, nil
}

func (f *Fake) AdminCreateUser(ctx context.Context, email string, metadata map[string]string) (*gateway.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("AdminCreateUser")
	if f.ErrAdminCreate != nil {
		return nil, f.ErrAdminCreate
	}
	if f.Users == nil {
		f.Users = make(map[string]*gateway.User)
	}
	u := &gateway.User{
		ID:        f.newID(),
		Email:     email,
		CreatedAt: time.Unix(1700000000, 0),
		Metadata:  metadata,
	}
	f.Users[email] = u
	return u, nil
}

func (f *Fake) AdminGetUserByEmail(ctx context.Context, email string) (*gateway.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("AdminGetUserByEmail")
	u, ok := f.Users[email]
	if !ok {
		return nil, fmt.Errorf("gateway user not found: %s", email)
	}
	return u, nil
}

func (f *Fake) AdminCreateSession(ctx context.Context, userID string) (*gateway.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("AdminCreateSession")
	var email string
	for _, u := range f.Users {
		if u.ID == userID {
			email = u.Email
			break
		}
	}
	if email == "" {
		return nil, fmt.Errorf("gateway user not found: %s", userID)
	}
	s := f.sessionFor(email)
	s.Identity.UserID = userID
	return s, nil
}

// sessionFor builds a stable session: the same email always resolves to
// the same user id, so idempotence tests see consistent subjects.
func (f *Fake) sessionFor(email string) *gateway.Session {
	if f.Users == nil {
		f.Users = make(map[string]*gateway.User)
	}
	u, ok := f.Users[email]
	if !ok {
		u = &gateway.User{
			ID:        f.newID(),
			Email:     email,
			CreatedAt: time.Unix(1700000000, 0),
		}
		f.Users[email] = u
	}
	return &gateway.Session{
		Identity: auth.Identity{
			UserID:        u.ID,
			Email:         email,
			EmailVerified: true,
		},
		AccessToken:  "access-" + u.ID,
		RefreshToken: "refresh-" + u.ID,
		ExpiresAt:    time.Unix(1700000000, 0).Add(time.Hour),
	}
}

func (f *Fake) newID() string {
	f.nextID++
	return fmt.Sprintf("00000000-0000-4000-8000-%012d", f.nextID)
}
