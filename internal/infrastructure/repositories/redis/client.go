package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type ClientOptions struct {
	Address  string
	Password string
	DB       int
	PoolSize int
	// ConnectTimeout bounds the initial ping as well as each dial.
	ConnectTimeout time.Duration
}

// Connect opens a pooled client and pings it so a misconfigured address
// fails at startup rather than on the first registry call.
func Connect(ctx context.Context, opts ClientOptions) (*redis.Client, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Address,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		DialTimeout:  opts.ConnectTimeout,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s unreachable: %w", opts.Address, err)
	}
	return client, nil
}
