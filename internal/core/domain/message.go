package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type EventType string

const (
	// relay -> client
	EventConnected      EventType = "connected"
	EventPeerJoined     EventType = "peerJoined"
	EventDeliveryFailed EventType = "deliveryFailed"

	// client -> relay
	EventChatMessage  EventType = "chatMessage"
	EventJoinStream   EventType = "joinStream"
	EventSDPOffer     EventType = "sdpOffer"
	EventSDPAnswer    EventType = "sdpAnswer"
	EventICECandidate EventType = "iceCandidate"
)

// IsDirected reports whether messages of this type are addressed to a single
// connection rather than broadcast to a room.
func (t EventType) IsDirected() bool {
	switch t {
	case EventSDPOffer, EventSDPAnswer, EventICECandidate:
		return true
	}
	return false
}

// IsInbound reports whether clients may send messages of this type.
func (t EventType) IsInbound() bool {
	return t == EventChatMessage || t == EventJoinStream || t.IsDirected()
}

// Envelope is the frame exchanged over the signaling socket.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an envelope of the given type.
func NewEnvelope(t EventType, payload interface{}) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	return Envelope{Type: t, Payload: data}, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v interface{}) error {
	if IsAbsent(e.Payload) {
		return fmt.Errorf("%w: %s payload is missing", ErrInvalidMessage, e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrInvalidMessage, e.Type, err)
	}
	return nil
}

type ConnectedPayload struct {
	ConnectionID ConnectionID `json:"connectionId"`
}

type ChatPayload struct {
	Message string `json:"message"`
}

// DirectedPayload is what a client sends for sdpOffer, sdpAnswer and
// iceCandidate. Exactly one of Offer, Answer or Candidate is set, matching
// the envelope type.
type DirectedPayload struct {
	ToID      ConnectionID    `json:"toId"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// Body returns the opaque SDP/ICE value carried for the given type.
func (p DirectedPayload) Body(t EventType) json.RawMessage {
	switch t {
	case EventSDPOffer:
		return p.Offer
	case EventSDPAnswer:
		return p.Answer
	case EventICECandidate:
		return p.Candidate
	}
	return nil
}

// RelayedPayload is what the target of a directed message receives.
type RelayedPayload struct {
	SenderID  ConnectionID    `json:"senderId"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// Body returns the opaque SDP/ICE value carried for the given type.
func (p RelayedPayload) Body(t EventType) json.RawMessage {
	return DirectedPayload{Offer: p.Offer, Answer: p.Answer, Candidate: p.Candidate}.Body(t)
}

// NewRelayedPayload tags body with the sender id under the field that
// belongs to t.
func NewRelayedPayload(t EventType, sender ConnectionID, body json.RawMessage) RelayedPayload {
	p := RelayedPayload{SenderID: sender}
	switch t {
	case EventSDPOffer:
		p.Offer = body
	case EventSDPAnswer:
		p.Answer = body
	case EventICECandidate:
		p.Candidate = body
	}
	return p
}

// NewDirectedPayload addresses body to the given connection.
func NewDirectedPayload(t EventType, to ConnectionID, body json.RawMessage) DirectedPayload {
	r := NewRelayedPayload(t, "", body)
	return DirectedPayload{ToID: to, Offer: r.Offer, Answer: r.Answer, Candidate: r.Candidate}
}

type DeliveryFailedPayload struct {
	ToID ConnectionID `json:"toId"`
	Type EventType    `json:"type"`
}

// IsAbsent reports whether a raw JSON value is missing or null.
func IsAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
