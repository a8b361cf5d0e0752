package backplane

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"notifier/internal/events"
)

func TestNewValidation(t *testing.T) {
	if _, err := New(nil, "ch", time.Second); err == nil {
		t.Error("New with nil client should fail")
	}

	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	b, err := New(client, "", 0)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if b.channel != DefaultChannel {
		t.Errorf("channel = %q, want default %q", b.channel, DefaultChannel)
	}
	if b.backoff != 5*time.Second {
		t.Errorf("backoff = %v, want 5s default", b.backoff)
	}
}

// TestPublishDeliverRoundTrip needs a live Redis; it verifies that a packet
// published by one backplane handle reaches a subscriber on another handle,
// the single-instance stand-in for cross-instance replication.
func TestPublishDeliverRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Connect(ctx, "localhost:6379")
	if err != nil {
		t.Skipf("Skipping test: Redis not available: %v", err)
	}
	defer client.Close()

	channel := "notifier.test." + time.Now().Format("150405.000000000")
	pub, _ := New(client, channel, time.Second)
	sub, _ := New(client, channel, time.Second)

	received := make(chan *events.BroadcastPacket, 1)
	go sub.Run(ctx, func(p *events.BroadcastPacket) {
		select {
		case received <- p:
		default:
		}
	})
	// Give the subscription a moment to establish; pub/sub has no replay.
	time.Sleep(200 * time.Millisecond)

	packet, err := events.NewPacket(events.ChannelStateUpdate, &events.TelemetryRecord{EntityID: "T-1"})
	if err != nil {
		t.Fatalf("NewPacket() error = %v", err)
	}
	if err := pub.Publish(ctx, packet); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if got.Channel != events.ChannelStateUpdate {
			t.Errorf("channel = %v, want state-update", got.Channel)
		}
		if got.Scope != events.ScopeAll {
			t.Errorf("scope = %v, want all", got.Scope)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for replicated packet")
	}
}
