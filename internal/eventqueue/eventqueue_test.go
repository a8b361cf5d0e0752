package eventqueue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"notifier/internal/backplane"
	"notifier/internal/events"
)

type fakePublisher struct {
	mu      sync.Mutex
	packets []*events.BroadcastPacket
}

func (f *fakePublisher) Publish(_ context.Context, p *events.BroadcastPacket) error {
	f.mu.Lock()
	f.packets = append(f.packets, p)
	f.mu.Unlock()
	return nil
}

func (f *fakePublisher) byChannel(ch events.Channel) []*events.BroadcastPacket {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*events.BroadcastPacket
	for _, p := range f.packets {
		if p.Channel == ch {
			out = append(out, p)
		}
	}
	return out
}

func TestRoutingKey(t *testing.T) {
	tests := []struct {
		name   string
		filter string
		topic  string
		want   string
	}{
		{"order status", "events/#", "events/order/shipped", "order.shipped"},
		{"alert", "events/#", "events/alert/manual", "alert.manual"},
		{"deep key", "events/#", "events/order/payment/failed", "order.payment.failed"},
		{"bare root keeps the dotted topic", "events/#", "events", "events"},
		{"single segment", "events/#", "events/ping", "ping"},
		{"other filter root", "biz/#", "biz/order/created", "order.created"},
		{"empty topic", "events/#", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RoutingKey(tt.filter, tt.topic); got != tt.want {
				t.Errorf("RoutingKey(%q, %q) = %q, want %q", tt.filter, tt.topic, got, tt.want)
			}
		})
	}
}

func TestHandleOrderEvent(t *testing.T) {
	pub := &fakePublisher{}
	a := &Adapter{filter: "events/#", publisher: pub}

	payload := []byte(`{"orderId":"o-42","customer":"acme"}`)
	a.handle(context.Background(), "events/order/shipped", payload)

	orders := pub.byChannel(events.ChannelOrderUpdate)
	if len(orders) != 1 {
		t.Fatalf("order-update packets = %d, want 1", len(orders))
	}
	var update events.OrderUpdate
	if err := json.Unmarshal(orders[0].Payload, &update); err != nil {
		t.Fatalf("failed to decode order-update: %v", err)
	}
	if update.Status != "shipped" {
		t.Errorf("status = %q, want shipped", update.Status)
	}
	if string(update.Payload) != string(payload) {
		t.Errorf("payload = %s, want original event payload", update.Payload)
	}

	if n := len(pub.byChannel(events.ChannelNotification)); n != 1 {
		t.Errorf("notification packets = %d, want 1", n)
	}
	if n := len(pub.byChannel(events.ChannelAlert)); n != 0 {
		t.Errorf("alert packets = %d, want 0 for an order event", n)
	}
}

func TestHandleAlertEvent(t *testing.T) {
	pub := &fakePublisher{}
	a := &Adapter{filter: "events/#", publisher: pub}

	a.handle(context.Background(), "events/alert/theft", []byte(`{"truckId":"T-9"}`))

	alerts := pub.byChannel(events.ChannelAlert)
	if len(alerts) != 1 {
		t.Fatalf("alert packets = %d, want 1", len(alerts))
	}
	var alert events.BusinessAlert
	if err := json.Unmarshal(alerts[0].Payload, &alert); err != nil {
		t.Fatalf("failed to decode alert: %v", err)
	}
	if alert.Severity != events.SeverityCritical {
		t.Errorf("severity = %v, want CRITICAL", alert.Severity)
	}
	if alert.RoutingKey != "alert.theft" {
		t.Errorf("routing key = %q, want alert.theft", alert.RoutingKey)
	}
	if alert.ID == "" {
		t.Error("alert id must be set")
	}
	if n := len(pub.byChannel(events.ChannelNotification)); n != 1 {
		t.Errorf("notification packets = %d, want 1", n)
	}
}

func TestHandleGenericEvent(t *testing.T) {
	pub := &fakePublisher{}
	a := &Adapter{filter: "events/#", publisher: pub}

	a.handle(context.Background(), "events/fleet/refueled", []byte(`{"truckId":"T-2"}`))

	if n := len(pub.packets); n != 1 {
		t.Fatalf("packets = %d, want only the generic notification", n)
	}
	var event events.BusinessEvent
	if err := json.Unmarshal(pub.packets[0].Payload, &event); err != nil {
		t.Fatalf("failed to decode notification: %v", err)
	}
	if event.RoutingKey != "fleet.refueled" {
		t.Errorf("routing key = %q, want fleet.refueled", event.RoutingKey)
	}
}

func TestHandleMalformedPayloadDropped(t *testing.T) {
	pub := &fakePublisher{}
	a := &Adapter{filter: "events/#", publisher: pub}

	a.handle(context.Background(), "events/order/shipped", []byte(`{not json`))

	if n := len(pub.packets); n != 0 {
		t.Errorf("packets = %d, want 0 for a malformed payload", n)
	}
}

func TestHandleFilterRootStillNotifies(t *testing.T) {
	pub := &fakePublisher{}
	a := &Adapter{filter: "events/#", publisher: pub}

	// A message published to the filter root itself still produces the
	// generic notification every event gets.
	a.handle(context.Background(), "events", []byte(`{"ping":true}`))

	notifications := pub.byChannel(events.ChannelNotification)
	if len(notifications) != 1 {
		t.Fatalf("notification packets = %d, want 1", len(notifications))
	}
	var event events.BusinessEvent
	if err := json.Unmarshal(notifications[0].Payload, &event); err != nil {
		t.Fatalf("failed to decode notification: %v", err)
	}
	if event.RoutingKey != "events" {
		t.Errorf("routing key = %q, want events", event.RoutingKey)
	}
	if n := len(pub.packets); n != 1 {
		t.Errorf("packets = %d, want only the notification", n)
	}
}

func TestNewAdapterValidation(t *testing.T) {
	tests := []struct {
		name      string
		brokerURL string
		filter    string
		publisher backplane.Publisher
		wantErr   bool
	}{
		{"valid", "tcp://localhost:1883", "events/#", &fakePublisher{}, false},
		{"empty broker", "", "events/#", &fakePublisher{}, true},
		{"empty filter", "tcp://localhost:1883", "", &fakePublisher{}, true},
		{"nil publisher", "tcp://localhost:1883", "events/#", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAdapter(tt.brokerURL, "", "", tt.filter, time.Second, tt.publisher)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewAdapter() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewAdapterDefaultBackoff(t *testing.T) {
	a, err := NewAdapter("tcp://localhost:1883", "", "", "events/#", 0, &fakePublisher{})
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}
	if a.backoff != 5*time.Second {
		t.Errorf("backoff = %v, want 5s default", a.backoff)
	}
}

// fakeToken settles immediately with no error.
type fakeToken struct{}

func (fakeToken) Wait() bool                     { return true }
func (fakeToken) WaitTimeout(time.Duration) bool { return true }
func (fakeToken) Error() error                   { return nil }
func (fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// fakeMQTTClient records subscriptions so tests can drive the connect
// handler the way the paho client does on initial connect and reconnect.
type fakeMQTTClient struct {
	mu         sync.Mutex
	subscribed []string
	handler    mqtt.MessageHandler
}

func (f *fakeMQTTClient) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	f.subscribed = append(f.subscribed, topic)
	f.handler = callback
	f.mu.Unlock()
	return fakeToken{}
}

func (f *fakeMQTTClient) IsConnected() bool      { return true }
func (f *fakeMQTTClient) IsConnectionOpen() bool { return true }
func (f *fakeMQTTClient) Connect() mqtt.Token    { return fakeToken{} }
func (f *fakeMQTTClient) Disconnect(uint)        {}
func (f *fakeMQTTClient) Publish(string, byte, bool, interface{}) mqtt.Token {
	return fakeToken{}
}
func (f *fakeMQTTClient) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return fakeToken{}
}
func (f *fakeMQTTClient) Unsubscribe(...string) mqtt.Token        { return fakeToken{} }
func (f *fakeMQTTClient) AddRoute(string, mqtt.MessageHandler)    {}
func (f *fakeMQTTClient) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

// The session is clean, so the broker drops the subscription on every
// connection loss: the connect handler must re-issue SUBSCRIBE each time
// it fires, not just on the first connection.
func TestSubscriptionRestoredOnReconnect(t *testing.T) {
	pub := &fakePublisher{}
	a, err := NewAdapter("tcp://localhost:1883", "", "", "events/#", time.Second, pub)
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}

	opts := a.clientOptions(context.Background())
	if !opts.CleanSession {
		t.Error("clean session must be set: the subscription is instance-exclusive and ephemeral")
	}
	if opts.OnConnect == nil {
		t.Fatal("no OnConnect handler installed")
	}

	client := &fakeMQTTClient{}
	// paho invokes OnConnect on the initial connection and again after
	// every reconnect.
	opts.OnConnect(client)
	opts.OnConnect(client)

	client.mu.Lock()
	subscribed := append([]string(nil), client.subscribed...)
	client.mu.Unlock()
	if len(subscribed) != 2 {
		t.Fatalf("Subscribe calls = %d, want one per (re)connect", len(subscribed))
	}
	for _, topic := range subscribed {
		if topic != "events/#" {
			t.Errorf("subscribed to %q, want events/#", topic)
		}
	}

	// Messages flow through the re-established subscription.
	client.mu.Lock()
	handler := client.handler
	client.mu.Unlock()
	handler(client, &fakeMessage{topic: "events/order/shipped", payload: []byte(`{"orderId":"o-1"}`)})

	if n := len(pub.byChannel(events.ChannelOrderUpdate)); n != 1 {
		t.Errorf("order-update packets = %d, want 1", n)
	}
}
