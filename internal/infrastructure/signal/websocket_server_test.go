package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"streamrelay/internal/core/domain"
	"streamrelay/internal/core/services"
)

type testRelay struct {
	relay  *services.Relay
	server *WebSocketServer
	http   *httptest.Server
	url    string
}

func newTestRelay(t *testing.T, opts ServerOptions, configure func(*services.Relay)) *testRelay {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()

	relay := services.NewRelay(services.NewRoomManager(), logger)
	if configure != nil {
		configure(relay)
	}
	server := NewWebSocketServer(relay, opts, logger)
	srv := httptest.NewServer(http.HandlerFunc(server.HandleWebSocket))

	tr := &testRelay{
		relay:  relay,
		server: server,
		http:   srv,
		url:    "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
		srv.Close()
	})
	return tr
}

func (tr *testRelay) connect(t *testing.T) (*Client, domain.ConnectionID) {
	t.Helper()
	c := NewClient(tr.url)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	id, err := c.Connect(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	t.Cleanup(func() { _ = c.Close() })
	return c, id
}

func send(t *testing.T, c *Client, typ domain.EventType, payload interface{}) {
	t.Helper()
	env, err := domain.NewEnvelope(typ, payload)
	require.NoError(t, err)
	require.NoError(t, c.Send(env))
}

func expectEvent(t *testing.T, c *Client, typ domain.EventType) domain.Envelope {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case env, ok := <-c.Incoming():
			require.True(t, ok, "connection closed while waiting for %s", typ)
			if env.Type == typ {
				return env
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", typ)
			return domain.Envelope{}
		}
	}
}

func expectNoEvent(t *testing.T, c *Client, wait time.Duration) {
	t.Helper()
	select {
	case env, ok := <-c.Incoming():
		if ok {
			t.Fatalf("unexpected event %s: %s", env.Type, env.Payload)
		}
	case <-time.After(wait):
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 10*time.Millisecond)
}

func joinRoom(t *testing.T, tr *testRelay, c *Client, id domain.ConnectionID, room domain.StreamID) {
	t.Helper()
	send(t, c, domain.EventJoinStream, string(room))
	waitFor(t, func() bool {
		snap, ok := tr.relay.Snapshot(room)
		if !ok {
			return false
		}
		for _, m := range snap.Members {
			if m == id {
				return true
			}
		}
		return false
	})
}

func TestWebSocketServer_AssignsDistinctIDs(t *testing.T) {
	tr := newTestRelay(t, DefaultServerOptions(), nil)

	_, id1 := tr.connect(t)
	_, id2 := tr.connect(t)

	assert.NotEqual(t, id1, id2)
	waitFor(t, func() bool { return tr.server.ConnectionCount() == 2 })
}

func TestWebSocketServer_JoinNotifiesExistingMember(t *testing.T) {
	tr := newTestRelay(t, DefaultServerOptions(), nil)
	c1, id1 := tr.connect(t)
	c2, id2 := tr.connect(t)

	joinRoom(t, tr, c1, id1, "room42")
	joinRoom(t, tr, c2, id2, "room42")

	env := expectEvent(t, c1, domain.EventPeerJoined)
	var joined string
	require.NoError(t, env.Decode(&joined))
	assert.Equal(t, string(id2), joined)

	expectNoEvent(t, c1, 100*time.Millisecond)
	expectNoEvent(t, c2, 100*time.Millisecond)
}

func TestWebSocketServer_ChatReachesOtherMember(t *testing.T) {
	tr := newTestRelay(t, DefaultServerOptions(), nil)
	c1, id1 := tr.connect(t)
	c2, id2 := tr.connect(t)
	joinRoom(t, tr, c1, id1, "room42")
	joinRoom(t, tr, c2, id2, "room42")
	expectEvent(t, c1, domain.EventPeerJoined)

	send(t, c1, domain.EventChatMessage, domain.ChatPayload{Message: "hi"})

	env := expectEvent(t, c2, domain.EventChatMessage)
	assert.JSONEq(t, `{"message":"hi"}`, string(env.Payload))
	expectNoEvent(t, c1, 100*time.Millisecond)
	expectNoEvent(t, c2, 100*time.Millisecond)
}

func TestWebSocketServer_DirectedOnlyToTarget(t *testing.T) {
	tr := newTestRelay(t, DefaultServerOptions(), nil)
	c1, id1 := tr.connect(t)
	c2, id2 := tr.connect(t)
	c3, id3 := tr.connect(t)
	for _, m := range []struct {
		c  *Client
		id domain.ConnectionID
	}{{c1, id1}, {c2, id2}, {c3, id3}} {
		joinRoom(t, tr, m.c, m.id, "room42")
	}
	// drain join notices
	expectEvent(t, c1, domain.EventPeerJoined)
	expectEvent(t, c1, domain.EventPeerJoined)
	expectEvent(t, c2, domain.EventPeerJoined)

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	send(t, c1, domain.EventSDPOffer, domain.NewDirectedPayload(domain.EventSDPOffer, id2, offer))

	env := expectEvent(t, c2, domain.EventSDPOffer)
	var relayed domain.RelayedPayload
	require.NoError(t, env.Decode(&relayed))
	assert.Equal(t, id1, relayed.SenderID)
	assert.JSONEq(t, string(offer), string(relayed.Offer))

	expectNoEvent(t, c3, 150*time.Millisecond)
}

func TestWebSocketServer_MalformedFrameKeepsConnection(t *testing.T) {
	tr := newTestRelay(t, DefaultServerOptions(), nil)
	c2, id2 := tr.connect(t)
	joinRoom(t, tr, c2, id2, "room42")

	raw, _, err := websocket.DefaultDialer.Dial(tr.url, nil)
	require.NoError(t, err)
	defer raw.Close()

	var hello domain.Envelope
	require.NoError(t, raw.ReadJSON(&hello))
	require.Equal(t, domain.EventConnected, hello.Type)

	require.NoError(t, raw.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, raw.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)))
	require.NoError(t, raw.WriteMessage(websocket.TextMessage, []byte(`{"type":"joinStream","payload":"room42"}`)))

	env := expectEvent(t, c2, domain.EventPeerJoined)
	var hello2 domain.ConnectedPayload
	require.NoError(t, hello.Decode(&hello2))
	var joined string
	require.NoError(t, env.Decode(&joined))
	assert.Equal(t, string(hello2.ConnectionID), joined)
}

func TestWebSocketServer_DisconnectLeavesRoomSilently(t *testing.T) {
	tr := newTestRelay(t, DefaultServerOptions(), nil)
	c1, id1 := tr.connect(t)
	c2, id2 := tr.connect(t)
	joinRoom(t, tr, c1, id1, "room42")
	joinRoom(t, tr, c2, id2, "room42")
	expectEvent(t, c1, domain.EventPeerJoined)

	require.NoError(t, c2.Close())

	waitFor(t, func() bool {
		snap, ok := tr.relay.Snapshot("room42")
		return ok && len(snap.Members) == 1
	})
	expectNoEvent(t, c1, 100*time.Millisecond)

	// directed message to the departed id is dropped
	send(t, c1, domain.EventSDPAnswer, domain.NewDirectedPayload(domain.EventSDPAnswer, id2, json.RawMessage(`{}`)))
	expectNoEvent(t, c1, 100*time.Millisecond)
	waitFor(t, func() bool { return tr.server.ConnectionCount() == 1 })
}

func TestWebSocketServer_DeliveryFailureNotice(t *testing.T) {
	tr := newTestRelay(t, DefaultServerOptions(), func(r *services.Relay) {
		r.SetNotifyDeliveryFailure(true)
	})
	c1, _ := tr.connect(t)

	send(t, c1, domain.EventSDPOffer, domain.NewDirectedPayload(domain.EventSDPOffer, "nobody", json.RawMessage(`{}`)))

	env := expectEvent(t, c1, domain.EventDeliveryFailed)
	var notice domain.DeliveryFailedPayload
	require.NoError(t, env.Decode(&notice))
	assert.Equal(t, domain.ConnectionID("nobody"), notice.ToID)
	assert.Equal(t, domain.EventSDPOffer, notice.Type)
}

func TestWebSocketServer_RateLimitDropsExcess(t *testing.T) {
	opts := DefaultServerOptions()
	opts.MessagesPerSecond = 0.001
	opts.Burst = 2
	tr := newTestRelay(t, opts, nil)

	c1, id1 := tr.connect(t)
	c2, id2 := tr.connect(t)
	joinRoom(t, tr, c2, id2, "room42")
	joinRoom(t, tr, c1, id1, "room42") // uses c1's first token
	expectEvent(t, c2, domain.EventPeerJoined)

	for i := 0; i < 5; i++ {
		send(t, c1, domain.EventChatMessage, domain.ChatPayload{Message: "spam"})
	}

	expectEvent(t, c2, domain.EventChatMessage)
	expectNoEvent(t, c2, 200*time.Millisecond)
}

func TestWebSocketServer_ShutdownClosesConnections(t *testing.T) {
	tr := newTestRelay(t, DefaultServerOptions(), nil)
	c1, _ := tr.connect(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, tr.server.Shutdown(ctx))

	select {
	case _, ok := <-c1.Incoming():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("client was not disconnected")
	}
	assert.Equal(t, 0, tr.server.ConnectionCount())
	assert.Equal(t, domain.RelayStats{}, tr.relay.Stats())
}

func TestConnection_SendQueueFull(t *testing.T) {
	c := newConnection("c1", nil, 1)

	env := domain.Envelope{Type: domain.EventPeerJoined}
	require.NoError(t, c.Send(env))
	assert.ErrorIs(t, c.Send(env), domain.ErrQueueFull)

	c.close()
	c.close()
	assert.ErrorIs(t, c.Send(env), domain.ErrTargetUnavailable)
}

func TestClient_ConnectErrors(t *testing.T) {
	_, err := NewClient("http://localhost:1").Connect(context.Background())
	assert.Error(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = NewClient("ws://127.0.0.1:1/ws").Connect(ctx)
	assert.Error(t, err)

	assert.Error(t, NewClient("ws://127.0.0.1:1/ws").Send(domain.Envelope{Type: domain.EventChatMessage}))
}
