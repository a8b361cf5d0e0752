// Package dispatch fires a best-effort notification to the external
// message-dispatch function after a critical alert is enriched. Failures
// are logged and otherwise ignored; the broadcast path never waits on it.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"notifier/internal/events"
)

const dispatchTimeout = 5 * time.Second

// notifyRequest is the body posted to the dispatch function.
type notifyRequest struct {
	TruckID   string `json:"truckId"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Message   string `json:"message"`
}

// Notifier posts alert notifications to the dispatch function.
type Notifier struct {
	url        string
	recipient  string
	httpClient *http.Client
}

// NewNotifier creates a dispatch notifier. An empty url disables dispatch.
func NewNotifier(url, recipient string) *Notifier {
	return &Notifier{
		url:        url,
		recipient:  recipient,
		httpClient: &http.Client{Timeout: dispatchTimeout},
	}
}

// Notify sends a notification for alert and logs the outcome. It is meant
// to run in its own goroutine; the returned error exists for tests only.
func (n *Notifier) Notify(ctx context.Context, alert *events.AlertEvent) error {
	if n.url == "" {
		return nil
	}

	msg := fmt.Sprintf("Truck %s reported: %s", alert.EntityID, strings.Join(alert.Issues, ", "))
	if alert.RiskData != nil {
		msg = fmt.Sprintf("%s (estimated loss %.2f)", msg, alert.RiskData.EstimatedLoss)
	}
	body, err := json.Marshal(notifyRequest{
		TruckID:   alert.EntityID,
		Recipient: n.recipient,
		Subject:   fmt.Sprintf("%s alert for truck %s", alert.Severity, alert.EntityID),
		Message:   msg,
	})
	if err != nil {
		slog.Error("Failed to marshal dispatch request", "alert_id", alert.ID, "error", err)
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		slog.Error("Failed to create dispatch request", "alert_id", alert.ID, "error", err)
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		slog.Error("Dispatch call failed", "alert_id", alert.ID, "entity_id", alert.EntityID, "error", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("dispatch returned status %d", resp.StatusCode)
		slog.Error("Dispatch call rejected", "alert_id", alert.ID, "entity_id", alert.EntityID, "error", err)
		return err
	}

	slog.Info("Dispatched alert notification",
		"alert_id", alert.ID,
		"entity_id", alert.EntityID,
		"recipient", n.recipient,
	)
	return nil
}
