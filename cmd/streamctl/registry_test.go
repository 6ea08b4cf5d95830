package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"streamrelay/internal/core/domain"
	"streamrelay/internal/core/services"
	httphandlers "streamrelay/internal/handlers/http"
	"streamrelay/internal/infrastructure/monitoring"
	"streamrelay/internal/infrastructure/repositories/memory"
	"streamrelay/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRegistryServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop().Sugar()
	router := httphandlers.NewRouter(httphandlers.RouterDeps{
		Config:   config.DefaultConfig(),
		Registry: services.NewRegistryService(memory.NewMemoryPeerRegistry(0, 0), nil, logger),
		Rooms:    services.NewRelay(services.NewRoomManager(), logger),
		Health:   monitoring.NewHealthChecker(),
		Logger:   logger,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestRegisterThenLookup(t *testing.T) {
	srv := newRegistryServer(t)

	out, err := runCLI(t, "--registry", srv.URL, "register", "alice", "peer-1")
	require.NoError(t, err)
	assert.Equal(t, "alice -> peer-1\n", out)

	out, err = runCLI(t, "--registry", srv.URL, "lookup", "alice")
	require.NoError(t, err)
	assert.Equal(t, "peer-1\n", out)
}

func TestLookupUnknown(t *testing.T) {
	srv := newRegistryServer(t)

	_, err := runCLI(t, "--registry", srv.URL, "lookup", "nobody")
	assert.EqualError(t, err, "nobody is not registered")
}

func TestRegistryDefaultsToRelayAddress(t *testing.T) {
	srv := newRegistryServer(t)
	relay := "ws" + srv.URL[len("http"):] + "/ws"

	_, err := runCLI(t, "--relay", relay, "register", "bob", "peer-9")
	require.NoError(t, err)

	out, err := runCLI(t, "--registry", srv.URL, "lookup", "bob")
	require.NoError(t, err)
	assert.Equal(t, "peer-9\n", out)
}

func TestPrintEvent(t *testing.T) {
	chat, err := domain.NewEnvelope(domain.EventChatMessage, domain.ChatPayload{Message: "hello"})
	require.NoError(t, err)
	joined, err := domain.NewEnvelope(domain.EventPeerJoined, "peer-2")
	require.NoError(t, err)
	failed, err := domain.NewEnvelope(domain.EventDeliveryFailed, domain.DeliveryFailedPayload{ToID: "peer-3", Type: domain.EventSDPOffer})
	require.NoError(t, err)
	other := domain.Envelope{Type: "unknown", Payload: json.RawMessage(`{}`)}

	var out bytes.Buffer
	for _, env := range []domain.Envelope{chat, joined, failed, other} {
		printEvent(&out, env)
	}

	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)
	assert.Contains(t, string(lines[0]), "chat: hello")
	assert.Contains(t, string(lines[1]), "peer-2 joined the stream")
	assert.Contains(t, string(lines[2]), "could not reach peer-3")
}

func TestStreamOrDefault(t *testing.T) {
	assert.Equal(t, "lobby", streamOrDefault("lobby", "alice"))
	assert.Equal(t, "alice", streamOrDefault("", "alice"))
}
