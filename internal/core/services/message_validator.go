package services

import (
	"encoding/json"
	"fmt"

	"streamrelay/internal/core/domain"
	"streamrelay/pkg/validation"
)

// InboundMessage is a client frame that passed shape validation.
type InboundMessage struct {
	Envelope domain.Envelope
	Chat     domain.ChatPayload
	StreamID domain.StreamID
	Directed domain.DirectedPayload
}

// ParseInbound decodes a raw frame and checks it against the shape of its
// declared type. Every returned error wraps domain.ErrInvalidMessage.
func ParseInbound(raw []byte) (InboundMessage, error) {
	var msg InboundMessage

	if err := json.Unmarshal(raw, &msg.Envelope); err != nil {
		return msg, fmt.Errorf("%w: malformed envelope: %v", domain.ErrInvalidMessage, err)
	}

	env := msg.Envelope
	if env.Type == "" {
		return msg, fmt.Errorf("%w: message type is required", domain.ErrInvalidMessage)
	}

	switch env.Type {
	case domain.EventChatMessage:
		var payload struct {
			Message *string `json:"message"`
		}
		if err := env.Decode(&payload); err != nil {
			return msg, err
		}
		if payload.Message == nil {
			return msg, fmt.Errorf("%w: chatMessage requires a string message", domain.ErrInvalidMessage)
		}
		msg.Chat = domain.ChatPayload{Message: *payload.Message}

	case domain.EventJoinStream:
		var streamID string
		if err := env.Decode(&streamID); err != nil {
			return msg, err
		}
		if err := validation.ValidateStreamID(streamID); err != nil {
			return msg, fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
		}
		msg.StreamID = domain.StreamID(streamID)

	case domain.EventSDPOffer, domain.EventSDPAnswer, domain.EventICECandidate:
		var payload domain.DirectedPayload
		if err := env.Decode(&payload); err != nil {
			return msg, err
		}
		if payload.ToID == "" {
			return msg, fmt.Errorf("%w: %s requires toId", domain.ErrInvalidMessage, env.Type)
		}
		if domain.IsAbsent(payload.Body(env.Type)) {
			return msg, fmt.Errorf("%w: %s is missing its body", domain.ErrInvalidMessage, env.Type)
		}
		msg.Directed = payload

	default:
		return msg, fmt.Errorf("%w: unknown message type: %s", domain.ErrInvalidMessage, env.Type)
	}

	return msg, nil
}
