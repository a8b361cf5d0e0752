// Package config provides configuration parsing and validation for the
// notification gateway.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds all configuration parameters for the gateway.
type Config struct {
	KafkaBrokers    string
	TelemetryTopic  string
	ConsumerGroupID string

	MQTTBrokerURL     string
	MQTTUser          string
	MQTTPassword      string
	EventsTopicFilter string

	RedisAddr        string
	BackplaneChannel string

	ListenAddr string

	RiskScorerURL     string
	DispatchURL       string
	DispatchRecipient string

	DebounceWindow    time.Duration
	EnrichmentTimeout time.Duration
	ReconnectBackoff  time.Duration
}

// Validate checks that all required configuration fields are set and have
// valid values.
func (c *Config) Validate() error {
	if c.KafkaBrokers == "" {
		return fmt.Errorf("kafka-brokers cannot be empty")
	}
	if c.TelemetryTopic == "" {
		return fmt.Errorf("telemetry-topic cannot be empty")
	}
	if c.ConsumerGroupID == "" {
		return fmt.Errorf("consumer-group-id cannot be empty")
	}
	if c.MQTTBrokerURL == "" {
		return fmt.Errorf("mqtt-broker-url cannot be empty")
	}
	if c.EventsTopicFilter == "" {
		return fmt.Errorf("events-topic-filter cannot be empty")
	}
	if !strings.HasSuffix(c.EventsTopicFilter, "#") {
		return fmt.Errorf("events-topic-filter must be a wildcard filter ending in #")
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("redis-addr cannot be empty")
	}
	if c.BackplaneChannel == "" {
		return fmt.Errorf("backplane-channel cannot be empty")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen-addr cannot be empty")
	}
	if c.RiskScorerURL == "" {
		return fmt.Errorf("risk-scorer-url cannot be empty")
	}
	if c.DebounceWindow <= 0 {
		return fmt.Errorf("debounce-window must be > 0")
	}
	if c.EnrichmentTimeout <= 0 {
		return fmt.Errorf("enrichment-timeout must be > 0")
	}
	if c.ReconnectBackoff <= 0 {
		return fmt.Errorf("reconnect-backoff must be > 0")
	}
	return nil
}

// GetEnvOrDefault returns the environment variable value or a default if
// not set. Used for flag defaults so containers can configure the gateway
// without rebuilding command lines.
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
