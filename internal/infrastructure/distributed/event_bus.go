package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"streamrelay/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultChannel = "streamrelay:events"

type EventType string

const (
	EventPeerJoined EventType = "peer.joined"
	EventPeerLeft   EventType = "peer.left"
)

// Event is a membership change observed by one relay instance.
type Event struct {
	Type         EventType           `json:"type"`
	InstanceID   string              `json:"instance_id"`
	Timestamp    time.Time           `json:"timestamp"`
	StreamID     domain.StreamID     `json:"stream_id"`
	ConnectionID domain.ConnectionID `json:"connection_id"`
}

// EventBus publishes relay membership events on a redis channel. It
// implements ports.EventPublisher.
type EventBus struct {
	client     *redis.Client
	instanceID string
	channel    string
	logger     *zap.SugaredLogger
}

func NewEventBus(client *redis.Client, instanceID string, logger *zap.SugaredLogger) *EventBus {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		channel:    DefaultChannel,
		logger:     logger,
	}
}

func (eb *EventBus) InstanceID() string { return eb.instanceID }

func (eb *EventBus) Publish(ctx context.Context, event *Event) error {
	event.InstanceID = eb.instanceID
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := eb.client.Publish(ctx, eb.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event",
		"type", event.Type,
		"stream_id", event.StreamID,
		"connection_id", event.ConnectionID,
	)
	return nil
}

func (eb *EventBus) PublishPeerJoined(ctx context.Context, streamID domain.StreamID, connID domain.ConnectionID) error {
	return eb.Publish(ctx, &Event{Type: EventPeerJoined, StreamID: streamID, ConnectionID: connID})
}

func (eb *EventBus) PublishPeerLeft(ctx context.Context, streamID domain.StreamID, connID domain.ConnectionID) error {
	return eb.Publish(ctx, &Event{Type: EventPeerLeft, StreamID: streamID, ConnectionID: connID})
}

// Subscribe calls handler for every event published by other instances
// until ctx ends. ready, if not nil, is closed once the subscription is
// active.
func (eb *EventBus) Subscribe(ctx context.Context, ready chan<- struct{}, handler func(*Event)) error {
	pubsub := eb.client.Subscribe(ctx, eb.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", eb.channel, err)
	}
	if ready != nil {
		close(ready)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				eb.logger.Warnw("failed to unmarshal event", "error", err, "payload", msg.Payload)
				continue
			}
			if event.InstanceID == eb.instanceID {
				continue
			}
			handler(&event)
		}
	}
}
