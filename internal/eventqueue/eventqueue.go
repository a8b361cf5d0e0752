// Package eventqueue consumes business events from the broker's topic tree
// through its MQTT front. Every instance holds its own clean-session
// wildcard subscription, so each instance sees every event (fan-out, not a
// competing consumer group) and nothing is redelivered after a failure.
package eventqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"notifier/internal/backplane"
	"notifier/internal/events"
	"notifier/internal/metrics"
)

const (
	// Routing-key prefixes mapped to dedicated channels.
	prefixOrder = "order."
	prefixAlert = "alert."
)

// Adapter subscribes to the business-event topic tree and republishes
// events as broadcast packets.
type Adapter struct {
	brokerURL string
	user      string
	password  string
	filter    string
	publisher backplane.Publisher
	backoff   time.Duration
}

// NewAdapter creates an adapter bound to the given wildcard topic filter,
// e.g. "events/#". A non-positive reconnect backoff falls back to 5 s.
func NewAdapter(brokerURL, user, password, filter string, reconnectBackoff time.Duration, publisher backplane.Publisher) (*Adapter, error) {
	if brokerURL == "" {
		return nil, fmt.Errorf("broker URL cannot be empty")
	}
	if filter == "" {
		return nil, fmt.Errorf("topic filter cannot be empty")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher cannot be nil")
	}
	if reconnectBackoff <= 0 {
		reconnectBackoff = 5 * time.Second
	}
	return &Adapter{
		brokerURL: brokerURL,
		user:      user,
		password:  password,
		filter:    filter,
		publisher: publisher,
		backoff:   reconnectBackoff,
	}, nil
}

// clientOptions builds the MQTT options for an instance-exclusive
// connection with indefinite retry at a fixed interval. The wildcard
// subscription lives in the OnConnect handler: the session is clean, so
// the broker forgets it on every connection loss and it must be re-issued
// each time the client comes back, not only on first connect.
func (a *Adapter) clientOptions(ctx context.Context) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(a.brokerURL)
	opts.SetUsername(a.user)
	opts.SetPassword(a.password)
	// Unique client id + clean session = an ephemeral subscription the
	// broker discards when this instance goes away.
	opts.SetClientID("notifier-" + uuid.New().String())
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(a.backoff)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(a.backoff)
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		slog.Info("Connected to event broker", "broker", a.brokerURL)
		a.subscribe(ctx, client)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("Event broker connection lost, reconnecting",
			"broker", a.brokerURL,
			"backoff", a.backoff,
			"error", err,
		)
	})
	return opts
}

// subscribe binds the wildcard filter at QoS 0: at-most-once, a failed
// broadcast never causes redelivery.
func (a *Adapter) subscribe(ctx context.Context, client mqtt.Client) {
	token := client.Subscribe(a.filter, 0, func(_ mqtt.Client, msg mqtt.Message) {
		a.handle(ctx, msg.Topic(), msg.Payload())
	})
	token.Wait()
	if token.Error() != nil {
		// The next reconnect re-runs the OnConnect handler and retries.
		slog.Error("Failed to subscribe to business events",
			"filter", a.filter,
			"error", token.Error(),
		)
		return
	}
	slog.Info("Subscribed to business events", "filter", a.filter)
}

// Run connects to the broker and services the subscription until ctx is
// cancelled. Connection establishment and every later reconnect are retried
// indefinitely by the client at the configured interval; broker loss is
// never fatal.
func (a *Adapter) Run(ctx context.Context) error {
	client := mqtt.NewClient(a.clientOptions(ctx))

	token := client.Connect()
	connected := make(chan struct{})
	go func() {
		token.Wait()
		close(connected)
	}()
	select {
	case <-connected:
		// With connect-retry enabled the token only settles with an error
		// on unrecoverable options, not on a down broker.
		if token.Error() != nil {
			return fmt.Errorf("failed to connect to event broker: %w", token.Error())
		}
	case <-ctx.Done():
		client.Disconnect(250)
		return nil
	}

	<-ctx.Done()
	client.Unsubscribe(a.filter).Wait()
	client.Disconnect(250)
	slog.Info("Business event adapter stopped")
	return nil
}

// handle maps one broker message to its broadcast packets. Any failure is
// contained to this message.
func (a *Adapter) handle(ctx context.Context, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Recovered from panic handling business event", "topic", topic, "panic", r)
		}
	}()

	key := RoutingKey(a.filter, topic)
	if key == "" {
		slog.Warn("Discarding business event with empty routing key", "topic", topic)
		return
	}
	if !json.Valid(payload) {
		slog.Warn("Discarding business event with malformed payload", "routing_key", key)
		return
	}
	event := &events.BusinessEvent{RoutingKey: key, Payload: payload}

	switch {
	case strings.HasPrefix(key, prefixOrder):
		metrics.BusinessEvent("order")
		update := &events.OrderUpdate{
			Status:  strings.TrimPrefix(key, prefixOrder),
			Payload: event.Payload,
		}
		a.publish(ctx, key, events.ChannelOrderUpdate, update)
	case strings.HasPrefix(key, prefixAlert):
		metrics.BusinessEvent("alert")
		alert := &events.BusinessAlert{
			ID:         uuid.New().String(),
			Severity:   events.SeverityCritical,
			RoutingKey: key,
			Payload:    event.Payload,
		}
		a.publish(ctx, key, events.ChannelAlert, alert)
	default:
		metrics.BusinessEvent("other")
	}

	// Every event also reaches the generic notification channel.
	a.publish(ctx, key, events.ChannelNotification, event)
}

func (a *Adapter) publish(ctx context.Context, key string, channel events.Channel, payload any) {
	packet, err := events.NewPacket(channel, payload)
	if err != nil {
		slog.Error("Failed to build business packet", "routing_key", key, "channel", channel, "error", err)
		return
	}
	if err := a.publisher.Publish(ctx, packet); err != nil {
		slog.Error("Failed to publish business packet", "routing_key", key, "channel", channel, "error", err)
	}
}

// RoutingKey translates a broker topic into the dot-delimited routing key
// relative to the subscription filter: with filter "events/#", the topic
// "events/order/shipped" yields "order.shipped". A message on the filter
// root itself keeps the dotted full topic as its key so it still produces
// the generic notification.
func RoutingKey(filter, topic string) string {
	root := strings.TrimSuffix(filter, "#")
	rest := strings.Trim(strings.TrimPrefix(topic, root), "/")
	if rest == "" {
		rest = strings.Trim(topic, "/")
	}
	return strings.ReplaceAll(rest, "/", ".")
}
