package webrtc

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLinks(t *testing.T) (*PeerLink, *PeerLink) {
	t.Helper()
	factory := NewLinkFactory(LinkConfig{})

	a, err := factory.NewLink("answerer")
	require.NoError(t, err)
	b, err := factory.NewLink("offerer")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a.(*PeerLink), b.(*PeerLink)
}

func TestPeerLink_OfferAnswer(t *testing.T) {
	offerer, answerer := newTestLinks(t)
	assert.Equal(t, "answerer", string(offerer.Remote()))

	offer, err := offerer.CreateOffer()
	require.NoError(t, err)

	var desc webrtc.SessionDescription
	require.NoError(t, json.Unmarshal(offer, &desc))
	assert.Equal(t, webrtc.SDPTypeOffer, desc.Type)
	assert.True(t, strings.Contains(desc.SDP, "m=application"))
	assert.NotNil(t, offerer.DataChannel())

	answer, err := answerer.AcceptOffer(offer)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(answer, &desc))
	assert.Equal(t, webrtc.SDPTypeAnswer, desc.Type)

	require.NoError(t, offerer.AcceptAnswer(answer))
}

func TestPeerLink_BuffersEarlyCandidates(t *testing.T) {
	offerer, answerer := newTestLinks(t)

	candidate := json.RawMessage(`{"candidate":"candidate:1 1 udp 2130706431 192.0.2.1 50000 typ host","sdpMid":"0","sdpMLineIndex":0}`)
	require.NoError(t, answerer.AddRemoteCandidate(candidate))

	answerer.mu.Lock()
	assert.Len(t, answerer.pendingCandidates, 1)
	answerer.mu.Unlock()

	offer, err := offerer.CreateOffer()
	require.NoError(t, err)
	_, err = answerer.AcceptOffer(offer)
	require.NoError(t, err)

	answerer.mu.Lock()
	assert.Empty(t, answerer.pendingCandidates)
	assert.True(t, answerer.remoteDescSet)
	answerer.mu.Unlock()
}

func TestPeerLink_RejectsWrongDescriptions(t *testing.T) {
	offerer, answerer := newTestLinks(t)

	_, err := answerer.AcceptOffer(json.RawMessage(`{"type":"answer","sdp":"v=0"}`))
	assert.Error(t, err)

	_, err = answerer.AcceptOffer(json.RawMessage(`not json`))
	assert.Error(t, err)

	assert.Error(t, offerer.AcceptAnswer(json.RawMessage(`{"type":"answer","sdp":""}`)))
	assert.Error(t, offerer.AddRemoteCandidate(json.RawMessage(`[1,2]`)))
}

func TestPeerLink_Close(t *testing.T) {
	offerer, _ := newTestLinks(t)
	_, err := offerer.CreateOffer()
	require.NoError(t, err)

	assert.NoError(t, offerer.Close())
	assert.NoError(t, offerer.Close())
}
