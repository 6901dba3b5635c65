package session

import (
	"context"
	"time"
)

// Session is this service's browser session. It stores identity
// pointers plus the gateway token pair; auth state itself lives at the
// gateway.
type Session struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"` // absolute expiry

	// Gateway tokens, kept server-side so the browser only ever holds
	// the opaque session id.
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Store defines how sessions are stored and retrieved.
type Store interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, sessionID string) (*Session, error)
	Update(ctx context.Context, s Session) error
	Delete(ctx context.Context, sessionID string) error
}
