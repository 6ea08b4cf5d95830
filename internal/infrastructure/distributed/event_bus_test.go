package distributed

import (
	"context"
	"testing"
	"time"

	"streamrelay/internal/core/domain"
	"streamrelay/internal/core/ports"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ ports.EventPublisher = (*EventBus)(nil)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestEventBusDeliversToOtherInstances(t *testing.T) {
	client := newTestClient(t)
	a := NewEventBus(client, "relay-a", nil)
	b := NewEventBus(client, "relay-b", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan *Event, 4)
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Subscribe(ctx, ready, func(e *Event) { events <- e })
	}()

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription never became ready")
	}

	require.NoError(t, a.PublishPeerJoined(ctx, "stream-1", "conn-1"))
	require.NoError(t, a.PublishPeerLeft(ctx, "stream-1", "conn-1"))

	for _, want := range []EventType{EventPeerJoined, EventPeerLeft} {
		select {
		case e := <-events:
			assert.Equal(t, want, e.Type)
			assert.Equal(t, "relay-a", e.InstanceID)
			assert.Equal(t, domain.StreamID("stream-1"), e.StreamID)
			assert.Equal(t, domain.ConnectionID("conn-1"), e.ConnectionID)
			assert.False(t, e.Timestamp.IsZero())
		case <-time.After(2 * time.Second):
			t.Fatalf("did not receive %s", want)
		}
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe did not return after cancel")
	}
}

func TestEventBusSkipsOwnEvents(t *testing.T) {
	client := newTestClient(t)
	bus := NewEventBus(client, "relay-a", nil)
	other := NewEventBus(client, "relay-b", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan *Event, 4)
	ready := make(chan struct{})
	go func() { _ = bus.Subscribe(ctx, ready, func(e *Event) { events <- e }) }()
	<-ready

	require.NoError(t, bus.PublishPeerJoined(ctx, "stream-1", "own"))
	require.NoError(t, other.PublishPeerJoined(ctx, "stream-1", "foreign"))

	select {
	case e := <-events:
		assert.Equal(t, domain.ConnectionID("foreign"), e.ConnectionID)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
	assert.Empty(t, events)
}

func TestEventBusPublishFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	bus := NewEventBus(client, "relay-a", nil)
	err := bus.PublishPeerJoined(context.Background(), "stream-1", "conn-1")
	assert.Error(t, err)
}
