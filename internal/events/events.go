// Package events defines the domain types carried between the ingestion
// adapters, the backplane and connected clients.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Channel identifies a client-facing broadcast channel.
type Channel string

const (
	ChannelStateUpdate  Channel = "state-update"
	ChannelAlert        Channel = "alert"
	ChannelNotification Channel = "notification"
	ChannelOrderUpdate  Channel = "order-update"
	ChannelSnapshot     Channel = "snapshot"
)

// Scope selects which sessions a broadcast packet targets.
type Scope string

const (
	// ScopeAll delivers to every connected session cluster-wide.
	ScopeAll Scope = "all"
	// ScopeRoom delivers only to sessions that joined the packet's room.
	ScopeRoom Scope = "room"
)

// Severity of a classified anomaly.
type Severity string

const (
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// TelemetryRecord is one tick from a truck's sensors as produced on the
// telemetry topic. Immutable once received.
type TelemetryRecord struct {
	EntityID    string  `json:"entityId"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Temperature float64 `json:"temperature"`
	Vibration   float64 `json:"vibration"`
	Timestamp   int64   `json:"timestamp"` // unix millis
}

// Location is the position an alert fired at.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// RiskData is the payload returned by the external risk-scoring function.
type RiskData struct {
	Status        string   `json:"status"`
	Issues        []string `json:"issues"`
	EstimatedLoss float64  `json:"estimated_loss"`
	ShouldAlert   bool     `json:"should_alert"`
	AuditEngine   string   `json:"audit_engine"`
}

// AlertEvent is a debounced anomaly ready for broadcast. Immutable once
// constructed; RiskData is set only when enrichment succeeded.
type AlertEvent struct {
	ID       string    `json:"id"`
	EntityID string    `json:"entityId"`
	FiredAt  int64     `json:"firedAt"` // unix millis
	Severity Severity  `json:"severity"`
	Issues   []string  `json:"issues"`
	Location Location  `json:"location"`
	RiskData *RiskData `json:"riskData,omitempty"`
}

// NewAlertEvent builds an AlertEvent from a telemetry record and its
// classification outcome.
func NewAlertEvent(rec *TelemetryRecord, severity Severity, issues []string, now time.Time) *AlertEvent {
	return &AlertEvent{
		ID:       uuid.New().String(),
		EntityID: rec.EntityID,
		FiredAt:  now.UnixMilli(),
		Severity: severity,
		Issues:   issues,
		Location: Location{Latitude: rec.Latitude, Longitude: rec.Longitude},
	}
}

// BusinessEvent is a message from the business-event queue. RoutingKey is
// the dot-delimited key derived from the broker topic.
type BusinessEvent struct {
	RoutingKey string          `json:"routingKey"`
	Payload    json.RawMessage `json:"payload"`
}

// BusinessAlert is the payload of an alert packet raised from the business
// queue rather than from telemetry. Always CRITICAL.
type BusinessAlert struct {
	ID         string          `json:"id"`
	Severity   Severity        `json:"severity"`
	RoutingKey string          `json:"routingKey"`
	Payload    json.RawMessage `json:"payload"`
}

// OrderUpdate is the payload of an order-update packet.
type OrderUpdate struct {
	Status  string          `json:"status"`
	Payload json.RawMessage `json:"payload"`
}

// BroadcastPacket is the unit replicated across instances by the backplane.
// Room is set only when Scope is ScopeRoom.
type BroadcastPacket struct {
	Channel Channel         `json:"channel"`
	Payload json.RawMessage `json:"payload"`
	Scope   Scope           `json:"scope"`
	Room    string          `json:"room,omitempty"`
}

// NewPacket marshals payload into a scope-ALL packet on the given channel.
func NewPacket(channel Channel, payload any) (*BroadcastPacket, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &BroadcastPacket{Channel: channel, Payload: raw, Scope: ScopeAll}, nil
}

// NewRoomPacket marshals payload into a packet delivered only to sessions
// that joined room.
func NewRoomPacket(channel Channel, room string, payload any) (*BroadcastPacket, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &BroadcastPacket{Channel: channel, Payload: raw, Scope: ScopeRoom, Room: room}, nil
}
