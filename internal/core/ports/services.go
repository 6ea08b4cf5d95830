package ports

import (
	"context"
	"encoding/json"

	"streamrelay/internal/core/domain"
)

// Participant is a connected endpoint the relay delivers envelopes to.
// Send must not block; it returns domain.ErrQueueFull when the endpoint
// cannot keep up.
type Participant interface {
	ID() domain.ConnectionID
	Send(env domain.Envelope) error
}

type RelayMetrics interface {
	ConnectionOpened()
	ConnectionClosed()
	RoomCreated(streamID domain.StreamID)
	RoomRemoved(streamID domain.StreamID)
	MessageRelayed(t domain.EventType)
	MessageDropped(t domain.EventType, reason string)
}

// EventPublisher announces membership changes to other relay instances.
type EventPublisher interface {
	PublishPeerJoined(ctx context.Context, streamID domain.StreamID, connID domain.ConnectionID) error
	PublishPeerLeft(ctx context.Context, streamID domain.StreamID, connID domain.ConnectionID) error
}

// SignalTransport is a node's connection to the signaling relay.
type SignalTransport interface {
	// Connect opens the transport and returns the identity the relay assigned.
	Connect(ctx context.Context) (domain.ConnectionID, error)
	Send(env domain.Envelope) error
	// Incoming is closed when the transport goes away.
	Incoming() <-chan domain.Envelope
	Close() error
}

// PeerLink is one native peer connection being negotiated with a remote node.
type PeerLink interface {
	Remote() domain.NetworkID
	CreateOffer() (json.RawMessage, error)
	AcceptOffer(offer json.RawMessage) (json.RawMessage, error)
	AcceptAnswer(answer json.RawMessage) error
	AddRemoteCandidate(candidate json.RawMessage) error
	OnLocalCandidate(fn func(candidate json.RawMessage))
	Connected() <-chan struct{}
	Failed() <-chan struct{}
	Close() error
}

type PeerLinkFactory interface {
	NewLink(remote domain.NetworkID) (PeerLink, error)
}
