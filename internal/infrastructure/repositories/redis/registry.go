package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"streamrelay/internal/core/domain"
)

const registryKeyPrefix = "streamrelay:registry:"

// RedisPeerRegistry stores stable -> network identity mappings as plain
// string keys so several relay instances share one registry.
type RedisPeerRegistry struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisPeerRegistry creates a registry. A zero ttl keeps entries until
// they are overwritten.
func NewRedisPeerRegistry(client *redis.Client, ttl time.Duration) *RedisPeerRegistry {
	return &RedisPeerRegistry{
		client: client,
		prefix: registryKeyPrefix,
		ttl:    ttl,
	}
}

func (r *RedisPeerRegistry) key(stableID domain.StableID) string {
	return r.prefix + string(stableID)
}

func (r *RedisPeerRegistry) Register(ctx context.Context, stableID domain.StableID, networkID domain.NetworkID) error {
	if err := r.client.Set(ctx, r.key(stableID), string(networkID), r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set registry entry in Redis: %w", err)
	}
	return nil
}

func (r *RedisPeerRegistry) Lookup(ctx context.Context, stableID domain.StableID) (domain.NetworkID, error) {
	value, err := r.client.Get(ctx, r.key(stableID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get registry entry from Redis: %w", err)
	}
	return domain.NetworkID(value), nil
}
