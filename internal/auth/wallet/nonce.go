package wallet

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNonceUnknown covers missing, already-consumed and mismatched
// nonces alike; callers surface it as a generic signature rejection.
var ErrNonceUnknown = errors.New("nonce unknown or consumed")

// NewNonce generates a 256-bit challenge nonce.
func NewNonce() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("wallet: failed to generate nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NonceStore issues and consumes challenge nonces. Consume is
// exactly-once: a second consume of the same nonce must fail.
type NonceStore interface {
	Issue(ctx context.Context, nonce, address string, ttl time.Duration) error
	Consume(ctx context.Context, nonce string) (address string, err error)
}

type RedisNonceStore struct {
	client *redis.Client
	prefix string
}

func NewRedisNonceStore(client *redis.Client) *RedisNonceStore {
	return &RedisNonceStore{
		client: client,
		prefix: "web3nonce:",
	}
}

func (r *RedisNonceStore) key(nonce string) string {
	return r.prefix + nonce
}

func (r *RedisNonceStore) Issue(ctx context.Context, nonce, address string, ttl time.Duration) error {
	if nonce == "" || address == "" {
		return fmt.Errorf("wallet: missing nonce or address")
	}
	if ttl <= 0 {
		return fmt.Errorf("wallet: ttl must be positive")
	}
	return r.client.Set(ctx, r.key(nonce), strings.ToLower(address), ttl).Err()
}

// Consume removes the nonce atomically; GETDEL makes double submission
// of the same signed message lose the race by construction.
func (r *RedisNonceStore) Consume(ctx context.Context, nonce string) (string, error) {
	val, err := r.client.GetDel(ctx, r.key(nonce)).Result()
	if err == redis.Nil {
		return "", ErrNonceUnknown
	}
	if err != nil {
		return "", err
	}
	return val, nil
}
