package repositories

import (
	"context"

	"streamrelay/internal/core/ports"
	"streamrelay/internal/infrastructure/repositories/memory"
	redisrepo "streamrelay/internal/infrastructure/repositories/redis"
	"streamrelay/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory picks the registry backend. Redis is used when it is
// enabled and reachable at startup; otherwise the memory registry is.
type RepositoryFactory struct {
	cfg    *config.Config
	client *redis.Client
	logger *zap.SugaredLogger
}

func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	f := &RepositoryFactory{cfg: cfg, logger: logger}
	if !cfg.Redis.Enabled {
		return f
	}

	client, err := redisrepo.Connect(context.Background(), redisrepo.ClientOptions{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		logger.Warnw("redis unavailable, registry falls back to memory", "error", err)
		return f
	}

	logger.Infow("connected to redis",
		"address", cfg.Redis.Address,
		"db", cfg.Redis.DB,
		"pool_size", cfg.Redis.PoolSize,
	)
	f.client = client
	return f
}

func (f *RepositoryFactory) CreatePeerRegistry() ports.PeerRegistry {
	if f.client != nil {
		f.logger.Infow("using redis peer registry", "ttl", f.cfg.Registry.TTL)
		return redisrepo.NewRedisPeerRegistry(f.client, f.cfg.Registry.TTL)
	}
	f.logger.Infow("using memory peer registry",
		"register_delay", f.cfg.Registry.RegisterDelay,
		"lookup_delay", f.cfg.Registry.LookupDelay,
	)
	return memory.NewMemoryPeerRegistry(f.cfg.Registry.RegisterDelay, f.cfg.Registry.LookupDelay)
}

// RedisClient is nil when the memory backend is in use.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	return f.client
}

func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.client == nil {
		return nil
	}
	return f.client.Ping(ctx).Err()
}

func (f *RepositoryFactory) Close() error {
	if f.client == nil {
		return nil
	}
	return f.client.Close()
}
