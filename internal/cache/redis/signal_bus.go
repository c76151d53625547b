package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/openbarter/tradecore/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	// subscribeBuffer is the per-subscription delivery buffer. When a
	// consumer falls this far behind, further messages are dropped rather
	// than stalling the fan-in goroutine; the stream carries the durable
	// copy for anyone who needs every event.
	subscribeBuffer = 64

	// streamCap is the approximate retention of the durable event stream,
	// trimmed by XADD MAXLEN ~.
	streamCap int64 = 10000
)

// Bus implements domain.SignalBus on Redis: pub/sub for live delivery to
// in-process consumers (the WebSocket hub, the notifier) and a capped
// stream as the durable tail for external pollers.
type Bus struct {
	rdb *redis.Client
}

// NewBus creates a Bus backed by the given Client.
func NewBus(c *Client) *Bus {
	return &Bus{rdb: c.raw()}
}

// Publish sends a payload to a pub/sub channel. Delivery is best effort;
// subscribers that connect later never see it.
func (b *Bus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a pub/sub subscription and returns a channel of raw
// payloads. The subscription lives until ctx is cancelled, at which point
// the returned channel is closed. A consumer that stops draining loses
// messages once the buffer fills.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	pubsub := b.rdb.Subscribe(ctx, channel)

	// The first Receive confirms the SUBSCRIBE took effect.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, subscribeBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()

		src := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-src:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
					// consumer stalled, drop
				}
			}
		}
	}()

	return out, nil
}

// StreamAppend appends a payload to the durable event stream, trimming it
// to roughly streamCap entries.
func (b *Bus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamCap,
		Approx: true,
		Values: map[string]interface{}{"event": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count entries recorded after lastID. Pass "0"
// to read from the beginning or "$" for new entries only. No pending
// entries is not an error; the result is simply empty.
func (b *Bus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	res, err := b.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   int64(count),
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}
	if len(res) == 0 {
		return nil, nil
	}

	msgs := make([]domain.StreamMessage, 0, len(res[0].Messages))
	for _, m := range res[0].Messages {
		body, ok := m.Values["event"].(string)
		if !ok {
			continue
		}
		msgs = append(msgs, domain.StreamMessage{ID: m.ID, Payload: []byte(body)})
	}
	return msgs, nil
}

// Compile-time interface check.
var _ domain.SignalBus = (*Bus)(nil)
