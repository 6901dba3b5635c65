package flow

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// NewID generates an unguessable flow identifier (192 bits).
func NewID() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("flow: failed to generate id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Store persists sign-in attempts for the duration of their TTL.
// Implementations expire records at Flow.ExpiresAt plus a grace period
// so an expired attempt can still be read for resend.
type Store interface {
	Create(ctx context.Context, f Flow) error
	Get(ctx context.Context, id string) (*Flow, error)
	Update(ctx context.Context, f Flow) error
	Delete(ctx context.Context, id string) error
}
