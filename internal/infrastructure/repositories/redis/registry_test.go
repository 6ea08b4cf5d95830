package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamrelay/internal/core/domain"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisPeerRegistry_RegisterLookup(t *testing.T) {
	mr, client := newTestClient(t)
	r := NewRedisPeerRegistry(client, 0)
	ctx := context.Background()

	_, err := r.Lookup(ctx, "0xSTREAMER_ADDRESS")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, r.Register(ctx, "0xSTREAMER_ADDRESS", "peer-1"))
	require.NoError(t, r.Register(ctx, "0xSTREAMER_ADDRESS", "peer-2"))

	got, err := r.Lookup(ctx, "0xSTREAMER_ADDRESS")
	require.NoError(t, err)
	assert.Equal(t, domain.NetworkID("peer-2"), got)

	stored, err := mr.Get("streamrelay:registry:0xSTREAMER_ADDRESS")
	require.NoError(t, err)
	assert.Equal(t, "peer-2", stored)
	assert.Equal(t, time.Duration(0), mr.TTL("streamrelay:registry:0xSTREAMER_ADDRESS"))
}

func TestRedisPeerRegistry_TTL(t *testing.T) {
	mr, client := newTestClient(t)
	r := NewRedisPeerRegistry(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "a", "n1"))
	assert.Equal(t, time.Minute, mr.TTL("streamrelay:registry:a"))

	mr.FastForward(2 * time.Minute)
	_, err := r.Lookup(ctx, "a")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRedisPeerRegistry_ServerDown(t *testing.T) {
	mr, client := newTestClient(t)
	r := NewRedisPeerRegistry(client, 0)
	mr.Close()

	_, err := r.Lookup(context.Background(), "a")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
}
