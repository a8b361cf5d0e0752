// Package backplane replicates broadcast packets to every gateway instance
// through Redis pub/sub. Delivery is ephemeral: instances that are down or
// not yet subscribed at publish time receive nothing.
package backplane

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"notifier/internal/events"
	"notifier/internal/metrics"
)

// DefaultChannel is the Redis channel carrying broadcast packets.
const DefaultChannel = "notifier.broadcast"

// Publisher is the packet emission side consumed by the ingestion adapters.
type Publisher interface {
	Publish(ctx context.Context, packet *events.BroadcastPacket) error
}

// Connect creates and pings a Redis client.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return client, nil
}

// Backplane publishes packets cluster-wide and feeds replicated packets to
// a local delivery function.
type Backplane struct {
	client  *redis.Client
	channel string
	backoff time.Duration
}

// New creates a backplane on the given Redis channel. A non-positive
// reconnect backoff falls back to 5 s.
func New(client *redis.Client, channel string, reconnectBackoff time.Duration) (*Backplane, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if channel == "" {
		channel = DefaultChannel
	}
	if reconnectBackoff <= 0 {
		reconnectBackoff = 5 * time.Second
	}
	return &Backplane{client: client, channel: channel, backoff: reconnectBackoff}, nil
}

// Publish replicates packet to every subscribed instance, this one
// included. Each call is a single Redis PUBLISH, so concurrent publishers
// within one instance never interleave mid-packet, and packets published
// sequentially by one instance are observed in publish order.
func (b *Backplane) Publish(ctx context.Context, packet *events.BroadcastPacket) error {
	payload, err := json.Marshal(packet)
	if err != nil {
		return fmt.Errorf("failed to marshal broadcast packet: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish broadcast packet: %w", err)
	}
	metrics.PacketPublished(string(packet.Channel))
	return nil
}

// Run subscribes to the broadcast channel and hands every replicated packet
// to deliver. Subscription loss is retried forever with a constant backoff;
// malformed payloads are dropped with a warning. Run returns when ctx is
// cancelled.
func (b *Backplane) Run(ctx context.Context, deliver func(*events.BroadcastPacket)) {
	retry := backoff.NewConstantBackOff(b.backoff)
	for {
		if err := b.consume(ctx, deliver); err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := retry.NextBackOff()
			slog.Warn("Backplane subscription lost, reconnecting",
				"channel", b.channel,
				"backoff", wait,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		return
	}
}

func (b *Backplane) consume(ctx context.Context, deliver func(*events.BroadcastPacket)) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	// Fail fast if the subscription could not be established.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}
	slog.Info("Subscribed to broadcast backplane", "channel", b.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("subscription channel closed")
			}
			var packet events.BroadcastPacket
			if err := json.Unmarshal([]byte(msg.Payload), &packet); err != nil {
				slog.Warn("Dropping malformed backplane packet", "error", err)
				continue
			}
			deliver(&packet)
		}
	}
}
