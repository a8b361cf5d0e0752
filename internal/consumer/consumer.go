// Package consumer provides the Kafka consumer for the telemetry topic.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"notifier/internal/events"
)

const (
	maxPollWait    = 500 * time.Millisecond
	commitInterval = time.Second
)

// ErrMalformed marks records that could not be decoded; the caller logs and
// skips them without stopping ingestion.
type ErrMalformed struct {
	Offset int64
	Err    error
}

func (e *ErrMalformed) Error() string {
	return fmt.Sprintf("malformed telemetry record at offset %d: %v", e.Offset, e.Err)
}

func (e *ErrMalformed) Unwrap() error { return e.Err }

// Consumer wraps a Kafka reader and yields parsed telemetry records.
type Consumer struct {
	reader *kafka.Reader
	topic  string
}

// NewConsumer creates a consumer in the given consumer group. All gateway
// instances share the group, so partitions — and therefore trucks — are
// load-balanced across instances.
func NewConsumer(brokers, topic, groupID string) (*Consumer, error) {
	if brokers == "" {
		return nil, fmt.Errorf("brokers cannot be empty")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic cannot be empty")
	}
	if groupID == "" {
		return nil, fmt.Errorf("groupID cannot be empty")
	}

	brokerList := strings.Split(brokers, ",")
	for i := range brokerList {
		brokerList[i] = strings.TrimSpace(brokerList[i])
	}

	slog.Info("Initializing telemetry consumer",
		"brokers", brokerList,
		"topic", topic,
		"group_id", groupID,
	)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokerList,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        maxPollWait,
		CommitInterval: commitInterval,
		StartOffset:    kafka.LastOffset, // live positions only, no backfill
	})

	return &Consumer{reader: reader, topic: topic}, nil
}

// ReadRecord reads and decodes the next telemetry record. Decode failures
// return *ErrMalformed so callers can skip the message; read failures are
// returned as-is for the caller's backoff loop.
func (c *Consumer) ReadRecord(ctx context.Context) (*events.TelemetryRecord, error) {
	msg, err := c.reader.ReadMessage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read telemetry message: %w", err)
	}

	var rec events.TelemetryRecord
	if err := json.Unmarshal(msg.Value, &rec); err != nil {
		return nil, &ErrMalformed{Offset: msg.Offset, Err: err}
	}
	if rec.EntityID == "" {
		return nil, &ErrMalformed{Offset: msg.Offset, Err: fmt.Errorf("missing entityId")}
	}
	return &rec, nil
}

// Close gracefully closes the Kafka reader.
func (c *Consumer) Close() error {
	slog.Info("Closing telemetry consumer", "topic", c.topic)
	if err := c.reader.Close(); err != nil {
		slog.Error("Error closing telemetry consumer", "error", err)
		return err
	}
	return nil
}
