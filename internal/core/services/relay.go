package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"streamrelay/internal/core/domain"
	"streamrelay/internal/core/ports"
	"streamrelay/pkg/tracing"
)

// Drop reasons reported to RelayMetrics.MessageDropped.
const (
	DropInvalid           = "invalid"
	DropNotInRoom         = "not_in_room"
	DropTargetUnavailable = "target_unavailable"
	DropQueueFull         = "queue_full"
	DropRateLimited       = "rate_limited"
)

// Relay routes signaling messages between connected participants. It never
// inspects or rewrites SDP/ICE bodies.
//
// Lock order is Relay.mu before RoomManager.mu.
type Relay struct {
	mu           sync.RWMutex
	participants map[domain.ConnectionID]ports.Participant

	rooms   *RoomManager
	metrics ports.RelayMetrics
	events  ports.EventPublisher
	logger  *zap.SugaredLogger

	notifyDeliveryFailure bool
}

func NewRelay(rooms *RoomManager, logger *zap.SugaredLogger) *Relay {
	if rooms == nil {
		rooms = NewRoomManager()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Relay{
		participants: make(map[domain.ConnectionID]ports.Participant),
		rooms:        rooms,
		metrics:      nopRelayMetrics{},
		logger:       logger,
	}
}

// SetMetrics sets the metrics sink (optional).
func (r *Relay) SetMetrics(m ports.RelayMetrics) {
	if m == nil {
		m = nopRelayMetrics{}
	}
	r.metrics = m
}

// SetEventPublisher sets the membership event publisher (optional).
func (r *Relay) SetEventPublisher(p ports.EventPublisher) {
	r.events = p
}

// SetNotifyDeliveryFailure makes directed messages to unknown targets answer
// the sender with a deliveryFailed event instead of being dropped silently.
func (r *Relay) SetNotifyDeliveryFailure(enabled bool) {
	r.notifyDeliveryFailure = enabled
}

// Connect registers p and sends it the connected event carrying its id.
func (r *Relay) Connect(p ports.Participant) error {
	id := p.ID()

	r.mu.Lock()
	if _, exists := r.participants[id]; exists {
		r.mu.Unlock()
		return fmt.Errorf("connection %s is already registered", id)
	}
	r.participants[id] = p
	r.mu.Unlock()

	r.metrics.ConnectionOpened()
	r.logger.Infow("participant connected", "connection_id", id)

	env, err := domain.NewEnvelope(domain.EventConnected, domain.ConnectedPayload{ConnectionID: id})
	if err != nil {
		return err
	}
	r.deliver(p, env)
	return nil
}

// Disconnect removes the participant and its room membership. Remaining room
// members are not notified. Calling it more than once is a no-op.
func (r *Relay) Disconnect(ctx context.Context, id domain.ConnectionID) {
	r.mu.Lock()
	_, known := r.participants[id]
	delete(r.participants, id)
	streamID, removed, inRoom := r.rooms.Leave(id)
	r.mu.Unlock()

	if !known {
		return
	}

	r.metrics.ConnectionClosed()
	if removed {
		r.metrics.RoomRemoved(streamID)
	}
	if inRoom {
		r.publishLeft(ctx, streamID, id)
	}

	r.logger.Infow("participant disconnected", "connection_id", id, "stream_id", streamID)
}

// Join moves id into streamID and notifies the members already there.
// Rejoining the current room changes nothing.
func (r *Relay) Join(ctx context.Context, id domain.ConnectionID, streamID domain.StreamID) error {
	r.mu.RLock()
	if _, ok := r.participants[id]; !ok {
		r.mu.RUnlock()
		return fmt.Errorf("join from unknown connection %s: %w", id, domain.ErrNotFound)
	}

	res := r.rooms.Join(id, streamID)
	if res.Unchanged {
		r.mu.RUnlock()
		return nil
	}

	notice, err := domain.NewEnvelope(domain.EventPeerJoined, id)
	if err != nil {
		r.mu.RUnlock()
		return err
	}
	recipients := r.lookupLocked(res.Others)
	r.mu.RUnlock()

	for _, p := range recipients {
		r.deliver(p, notice)
	}

	if res.Previous != "" {
		if res.PreviousRemoved {
			r.metrics.RoomRemoved(res.Previous)
		}
		r.publishLeft(ctx, res.Previous, id)
	}
	if res.Created {
		r.metrics.RoomCreated(streamID)
	}
	if r.events != nil {
		if err := r.events.PublishPeerJoined(ctx, streamID, id); err != nil {
			r.logger.Warnw("failed to publish peer joined", "stream_id", streamID, "connection_id", id, "error", err)
		}
	}

	r.logger.Infow("participant joined stream",
		"connection_id", id,
		"stream_id", streamID,
		"previous_stream_id", res.Previous,
		"notified", len(recipients),
	)
	return nil
}

// Broadcast sends a chat payload, byte for byte, to every other member of the
// sender's room. Outside a room it returns domain.ErrNotInRoom and sends
// nothing.
func (r *Relay) Broadcast(from domain.ConnectionID, payload json.RawMessage) error {
	env := domain.Envelope{Type: domain.EventChatMessage, Payload: payload}

	r.mu.RLock()
	streamID, peers, err := r.rooms.Peers(from)
	if err != nil {
		r.mu.RUnlock()
		r.metrics.MessageDropped(domain.EventChatMessage, DropNotInRoom)
		return err
	}
	recipients := r.lookupLocked(peers)
	r.mu.RUnlock()

	for _, p := range recipients {
		r.deliver(p, env)
	}

	r.logger.Debugw("chat relayed", "connection_id", from, "stream_id", streamID, "recipients", len(recipients))
	return nil
}

// SendDirected forwards an offer, answer or candidate to exactly one
// connection, tagged with the sender's id. Targets do not have to share a
// room with the sender. A missing target yields domain.ErrTargetUnavailable.
func (r *Relay) SendDirected(from domain.ConnectionID, t domain.EventType, msg domain.DirectedPayload) error {
	if !t.IsDirected() {
		return fmt.Errorf("%w: %s is not a directed message", domain.ErrInvalidMessage, t)
	}

	env, err := domain.NewEnvelope(t, domain.NewRelayedPayload(t, from, msg.Body(t)))
	if err != nil {
		return err
	}

	r.mu.RLock()
	target, ok := r.participants[msg.ToID]
	sender := r.participants[from]
	r.mu.RUnlock()

	if !ok {
		r.metrics.MessageDropped(t, DropTargetUnavailable)
		r.logger.Warnw("directed message target unavailable",
			"connection_id", from,
			"target_id", msg.ToID,
			"type", t,
		)
		if r.notifyDeliveryFailure && sender != nil {
			notice, err := domain.NewEnvelope(domain.EventDeliveryFailed, domain.DeliveryFailedPayload{ToID: msg.ToID, Type: t})
			if err == nil {
				r.deliver(sender, notice)
			}
		}
		return fmt.Errorf("%s to %s: %w", t, msg.ToID, domain.ErrTargetUnavailable)
	}

	r.deliver(target, env)
	return nil
}

// Dispatch validates a raw inbound frame from a participant and routes it.
// Errors are reported to the caller for logging; none of them should end the
// connection.
func (r *Relay) Dispatch(ctx context.Context, from domain.ConnectionID, raw []byte) error {
	msg, err := ParseInbound(raw)
	if err != nil {
		t := msg.Envelope.Type
		if !t.IsInbound() {
			t = "unknown"
		}
		r.metrics.MessageDropped(t, DropInvalid)
		return err
	}

	ctx, span := tracing.TraceSignalMessage(ctx, string(msg.Envelope.Type), string(from))
	defer span.End()

	switch msg.Envelope.Type {
	case domain.EventChatMessage:
		err = r.Broadcast(from, msg.Envelope.Payload)
	case domain.EventJoinStream:
		err = r.Join(ctx, from, msg.StreamID)
	default:
		err = r.SendDirected(from, msg.Envelope.Type, msg.Directed)
	}

	if err != nil && !errors.Is(err, domain.ErrNotInRoom) && !errors.Is(err, domain.ErrTargetUnavailable) {
		tracing.RecordError(ctx, err)
	}
	return err
}

// Snapshot returns the current members of a room.
func (r *Relay) Snapshot(streamID domain.StreamID) (domain.RoomSnapshot, bool) {
	return r.rooms.Snapshot(streamID)
}

func (r *Relay) Stats() domain.RelayStats {
	r.mu.RLock()
	connections := len(r.participants)
	r.mu.RUnlock()

	return domain.RelayStats{
		Connections: connections,
		Rooms:       r.rooms.RoomCount(),
	}
}

func (r *Relay) lookupLocked(ids []domain.ConnectionID) []ports.Participant {
	out := make([]ports.Participant, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.participants[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

func (r *Relay) deliver(p ports.Participant, env domain.Envelope) {
	if err := p.Send(env); err != nil {
		reason := DropQueueFull
		if !errors.Is(err, domain.ErrQueueFull) {
			reason = "send_failed"
		}
		r.metrics.MessageDropped(env.Type, reason)
		r.logger.Warnw("failed to deliver message",
			"connection_id", p.ID(),
			"type", env.Type,
			"error", err,
		)
		return
	}
	r.metrics.MessageRelayed(env.Type)
}

func (r *Relay) publishLeft(ctx context.Context, streamID domain.StreamID, id domain.ConnectionID) {
	if r.events == nil {
		return
	}
	if err := r.events.PublishPeerLeft(ctx, streamID, id); err != nil {
		r.logger.Warnw("failed to publish peer left", "stream_id", streamID, "connection_id", id, "error", err)
	}
}

type nopRelayMetrics struct{}

func (nopRelayMetrics) ConnectionOpened()                       {}
func (nopRelayMetrics) ConnectionClosed()                       {}
func (nopRelayMetrics) RoomCreated(domain.StreamID)             {}
func (nopRelayMetrics) RoomRemoved(domain.StreamID)             {}
func (nopRelayMetrics) MessageRelayed(domain.EventType)         {}
func (nopRelayMetrics) MessageDropped(domain.EventType, string) {}
