package monitoring

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"streamrelay/internal/core/domain"
	"streamrelay/internal/core/ports"
)

// registryProbeID is looked up by the registry check; a miss is healthy.
const registryProbeID domain.StableID = "__streamrelay_health_probe__"

// AddRedisCheck pings the shared redis client.
func (h *HealthChecker) AddRedisCheck(client *redis.Client, interval, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) (bool, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddRegistryCheck looks up a probe identity; a miss counts as healthy.
func (h *HealthChecker) AddRegistryCheck(registry ports.PeerRegistry, interval, timeout time.Duration) {
	h.AddCheck("registry", func(ctx context.Context) (bool, error) {
		_, err := registry.Lookup(ctx, registryProbeID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}
