package webrtc

import (
	"encoding/json"
	"fmt"
	"sync"

	"streamrelay/internal/core/domain"
	"streamrelay/internal/core/ports"

	"github.com/pion/webrtc/v3"
)

// dataChannelLabel names the channel the dialing side opens so the offer
// carries an application section and ICE gathering starts.
const dataChannelLabel = "streamrelay"

type LinkConfig struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// LinkFactory creates pion-backed peer links. It implements
// ports.PeerLinkFactory.
type LinkFactory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

func NewLinkFactory(cfg LinkConfig) *LinkFactory {
	settingEngine := webrtc.SettingEngine{}
	if cfg.PortRange.Min > 0 && cfg.PortRange.Max > 0 {
		_ = settingEngine.SetEphemeralUDPPortRange(cfg.PortRange.Min, cfg.PortRange.Max)
	}

	return &LinkFactory{
		api: webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine)),
		config: webrtc.Configuration{
			ICEServers:   cfg.ICEServers,
			SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
		},
	}
}

func (f *LinkFactory) NewLink(remote domain.NetworkID) (ports.PeerLink, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	return newPeerLink(remote, pc), nil
}

// PeerLink is one pion peer connection negotiated through the relay.
type PeerLink struct {
	remote domain.NetworkID
	pc     *webrtc.PeerConnection

	mu                sync.Mutex
	remoteDescSet     bool
	pendingCandidates []webrtc.ICECandidateInit
	dataChannel       *webrtc.DataChannel

	connected     chan struct{}
	failed        chan struct{}
	connectedOnce sync.Once
	failedOnce    sync.Once
}

func newPeerLink(remote domain.NetworkID, pc *webrtc.PeerConnection) *PeerLink {
	l := &PeerLink{
		remote:    remote,
		pc:        pc,
		connected: make(chan struct{}),
		failed:    make(chan struct{}),
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateConnected:
			l.connectedOnce.Do(func() { close(l.connected) })
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			l.failedOnce.Do(func() { close(l.failed) })
		}
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		l.mu.Lock()
		if l.dataChannel == nil {
			l.dataChannel = dc
		}
		l.mu.Unlock()
	})

	return l
}

func (l *PeerLink) Remote() domain.NetworkID { return l.remote }

// CreateOffer opens the data channel and returns the local offer.
func (l *PeerLink) CreateOffer() (json.RawMessage, error) {
	dc, err := l.pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}
	l.mu.Lock()
	l.dataChannel = dc
	l.mu.Unlock()

	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	return json.Marshal(l.pc.LocalDescription())
}

// AcceptOffer applies a remote offer and returns the local answer.
func (l *PeerLink) AcceptOffer(raw json.RawMessage) (json.RawMessage, error) {
	offer, err := decodeDescription(raw, webrtc.SDPTypeOffer)
	if err != nil {
		return nil, err
	}
	if err := l.setRemoteDescription(offer); err != nil {
		return nil, err
	}

	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	return json.Marshal(l.pc.LocalDescription())
}

func (l *PeerLink) AcceptAnswer(raw json.RawMessage) error {
	answer, err := decodeDescription(raw, webrtc.SDPTypeAnswer)
	if err != nil {
		return err
	}
	return l.setRemoteDescription(answer)
}

// AddRemoteCandidate adds a candidate, holding it back until the remote
// description is known.
func (l *PeerLink) AddRemoteCandidate(raw json.RawMessage) error {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &candidate); err != nil {
		return fmt.Errorf("invalid ICE candidate: %w", err)
	}

	l.mu.Lock()
	if !l.remoteDescSet {
		l.pendingCandidates = append(l.pendingCandidates, candidate)
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	if err := l.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("failed to add ICE candidate: %w", err)
	}
	return nil
}

func (l *PeerLink) OnLocalCandidate(fn func(candidate json.RawMessage)) {
	l.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		fn(data)
	})
}

func (l *PeerLink) Connected() <-chan struct{} { return l.connected }

func (l *PeerLink) Failed() <-chan struct{} { return l.failed }

// DataChannel returns the application channel once it exists.
func (l *PeerLink) DataChannel() *webrtc.DataChannel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dataChannel
}

func (l *PeerLink) Close() error {
	return l.pc.Close()
}

func (l *PeerLink) setRemoteDescription(desc webrtc.SessionDescription) error {
	if err := l.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}

	l.mu.Lock()
	l.remoteDescSet = true
	pending := l.pendingCandidates
	l.pendingCandidates = nil
	l.mu.Unlock()

	for _, c := range pending {
		if err := l.pc.AddICECandidate(c); err != nil {
			return fmt.Errorf("failed to add ICE candidate: %w", err)
		}
	}
	return nil
}

func decodeDescription(raw json.RawMessage, want webrtc.SDPType) (webrtc.SessionDescription, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return desc, fmt.Errorf("invalid session description: %w", err)
	}
	if desc.Type != want {
		return desc, fmt.Errorf("expected %s description, got %s", want, desc.Type)
	}
	if desc.SDP == "" {
		return desc, fmt.Errorf("session description has no SDP")
	}
	return desc, nil
}
