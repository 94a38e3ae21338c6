package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

// ChannelPrefix namespaces per-account topics.
const ChannelPrefix = "otpay:events:"

// Channel returns the pub/sub topic for an account.
func Channel(accountID string) string { return ChannelPrefix + accountID }

// RedisBroker fans events out across instances through per-account topics.
type RedisBroker struct {
	client *redis.Client
}

// NewRedisBroker wraps a go-redis client.
func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

// Publish sends the event to the account's topic.
func (b *RedisBroker) Publish(ctx context.Context, accountID string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.client.Publish(ctx, Channel(accountID), payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Relay forwards events from every account topic to the local hub.
type Relay struct {
	client *redis.Client
	hub    *Hub
	logger *slog.Logger
}

// NewRelay builds a relay feeding hub.
func NewRelay(client *redis.Client, hub *Hub, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{client: client, hub: hub, logger: logger}
}

// Run subscribes to all account topics and forwards until ctx is cancelled.
// ready, when non-nil, is closed once the subscription is confirmed.
func (r *Relay) Run(ctx context.Context, ready chan<- struct{}) error {
	pubsub := r.client.PSubscribe(ctx, ChannelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s*: %w", ChannelPrefix, err)
	}
	if ready != nil {
		close(ready)
	}

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			r.forward(ctx, msg)
		}
	}
}

func (r *Relay) forward(ctx context.Context, msg *redis.Message) {
	accountID := strings.TrimPrefix(msg.Channel, ChannelPrefix)
	var event Event
	if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
		r.logger.Warn("discarding malformed event", "channel", msg.Channel, "err", err)
		return
	}
	_ = r.hub.Publish(ctx, accountID, event)
}
