package events

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/chainworker/chainworker/internal/logger"
)

const channelName = "chainworker:events"

// RedisPubSub implements Publisher over a single Redis Pub/Sub channel. A
// single channel (rather than one per EventType, as a busier task-queue
// service might use) is enough here: one worker process emits a low rate of
// lifecycle events, and the Admin Surface subscribes to all of them.
type RedisPubSub struct {
	client *redis.Client
}

// NewRedisPubSub builds a RedisPubSub over client.
func NewRedisPubSub(client *redis.Client) *RedisPubSub {
	return &RedisPubSub{client: client}
}

// Publish publishes event to the shared channel.
func (r *RedisPubSub) Publish(ctx context.Context, event *Event) error {
	data, err := event.ToJSON()
	if err != nil {
		return fmt.Errorf("events: serialize: %w", err)
	}
	if err := r.client.Publish(ctx, channelName, data).Err(); err != nil {
		return fmt.Errorf("events: publish: %w", err)
	}
	logger.Debug().Str("event_type", string(event.Type)).Msg("event published")
	return nil
}

// SubscribeAll subscribes to every lifecycle event published on the shared
// channel. The returned channel is closed when ctx is cancelled.
func (r *RedisPubSub) SubscribeAll(ctx context.Context) (<-chan *Event, error) {
	pubsub := r.client.Subscribe(ctx, channelName)
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("events: subscribe: %w", err)
	}

	out := make(chan *Event, 100)

	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				event, err := FromJSON([]byte(msg.Payload))
				if err != nil {
					logger.Error().Err(err).Msg("events: failed to parse event")
					continue
				}
				select {
				case out <- event:
				default:
					logger.Warn().Str("event_type", string(event.Type)).Msg("events: fan-out channel full, dropping event")
				}
			}
		}
	}()

	return out, nil
}

// Close is a no-op: subscriptions are closed individually when their
// context is cancelled, and the underlying client is owned by the caller.
func (r *RedisPubSub) Close() error {
	return nil
}

var _ Publisher = (*RedisPubSub)(nil)
