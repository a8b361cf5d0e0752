// Package enrichment calls the external risk-scoring function for critical
// alerts. The call is time-boxed and guarded by a circuit breaker; failure
// degrades the alert to carry no risk data and is never retried.
package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"notifier/internal/events"
)

// DefaultTimeout bounds a single scoring call.
const DefaultTimeout = 2 * time.Second

// scoreRequest is the body posted to the risk-calculator function.
type scoreRequest struct {
	EntityID    string  `json:"entityId"`
	Temperature float64 `json:"temperature"`
	Vibration   float64 `json:"vibration"`
	Timestamp   int64   `json:"timestamp"`
}

// Client scores telemetry through the external risk-calculator function.
type Client struct {
	url        string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// NewClient creates an enrichment client for the scorer at url. A
// non-positive timeout falls back to DefaultTimeout.
func NewClient(url string, timeout time.Duration) (*Client, error) {
	if url == "" {
		return nil, fmt.Errorf("scorer URL cannot be empty")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "risk-scorer",
		Interval: 60 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Risk scorer breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
	}, nil
}

// Score posts the record's identifying fields to the scoring function and
// returns the risk payload. Any error — timeout, non-2xx, open breaker —
// means the caller broadcasts the alert without risk data.
func (c *Client) Score(ctx context.Context, rec *events.TelemetryRecord) (*events.RiskData, error) {
	res, err := c.breaker.Execute(func() (any, error) {
		return c.score(ctx, rec)
	})
	if err != nil {
		return nil, err
	}
	return res.(*events.RiskData), nil
}

func (c *Client) score(ctx context.Context, rec *events.TelemetryRecord) (*events.RiskData, error) {
	body, err := json.Marshal(scoreRequest{
		EntityID:    rec.EntityID,
		Temperature: rec.Temperature,
		Vibration:   rec.Vibration,
		Timestamp:   rec.Timestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal score request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call risk scorer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("risk scorer returned status %d", resp.StatusCode)
	}

	var risk events.RiskData
	if err := json.NewDecoder(resp.Body).Decode(&risk); err != nil {
		return nil, fmt.Errorf("failed to decode risk response: %w", err)
	}
	return &risk, nil
}
