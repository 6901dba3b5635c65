package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// resendGrace keeps expired flows readable so the resend path can
// recover the original email instead of re-prompting.
const resendGrace = 24 * time.Hour

type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed flow store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "authflow:",
	}
}

func (r *RedisStore) key(id string) string {
	return r.prefix + id
}

func (r *RedisStore) Create(ctx context.Context, f Flow) error {
	if f.ID == "" {
		return fmt.Errorf("flow: missing id")
	}

	ttl := time.Until(f.ExpiresAt) + resendGrace
	if ttl <= 0 {
		return fmt.Errorf("flow: expires_at must be in the future")
	}

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("flow: failed to marshal: %w", err)
	}

	return r.client.Set(ctx, r.key(f.ID), data, ttl).Err()
}

func (r *RedisStore) Get(ctx context.Context, id string) (*Flow, error) {
	val, err := r.client.Get(ctx, r.key(id)).Result()
	if err == redis.Nil {
		return nil, nil // not found
	}
	if err != nil {
		return nil, err
	}

	var f Flow
	if err := json.Unmarshal([]byte(val), &f); err != nil {
		return nil, fmt.Errorf("flow: failed to unmarshal: %w", err)
	}
	return &f, nil
}

func (r *RedisStore) Update(ctx context.Context, f Flow) error {
	if f.ID == "" {
		return fmt.Errorf("flow: missing id")
	}

	ttl := time.Until(f.ExpiresAt) + resendGrace
	if ttl <= 0 {
		return r.client.Del(ctx, r.key(f.ID)).Err()
	}

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("flow: failed to marshal: %w", err)
	}

	return r.client.Set(ctx, r.key(f.ID), data, ttl).Err()
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	return r.client.Del(ctx, r.key(id)).Err()
}
