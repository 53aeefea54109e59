package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL is the default session lifetime. Each lookup refreshes the
// TTL, so the session expires only after this long of inactivity.
const DefaultTTL = 30 * time.Minute

// keyPrefix namespaces session keys in Redis.
const keyPrefix = "pulse:session:"

// Redis implements Provider backed by Redis with a sliding TTL.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a Redis-backed session provider. A zero ttl falls back
// to DefaultTTL.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

// GetOrCreate returns the session id stored for the client key, creating
// one with SETNX if none exists. Losing the create race is fine: the
// winner's id is read back, so concurrent first requests agree on one id.
func (r *Redis) GetOrCreate(ctx context.Context, clientKey string) (string, error) {
	key := keyPrefix + clientKey

	id, err := r.client.Get(ctx, key).Result()
	if err == nil {
		// Sliding expiry: an active session never times out mid-use.
		r.client.Expire(ctx, key, r.ttl)
		return id, nil
	}
	if err != redis.Nil {
		return "", fmt.Errorf("failed to read session key: %w", err)
	}

	candidate := uuid.New().String()
	created, err := r.client.SetNX(ctx, key, candidate, r.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("failed to create session key: %w", err)
	}
	if created {
		return candidate, nil
	}

	// Another request created the session first; use its id.
	id, err = r.client.Get(ctx, key).Result()
	if err != nil {
		return "", fmt.Errorf("failed to read session key after race: %w", err)
	}
	return id, nil
}
