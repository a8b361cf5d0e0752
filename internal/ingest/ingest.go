// Package ingest runs the telemetry ingestion pipeline: state updates,
// anomaly classification, debouncing, enrichment and alert broadcast.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"notifier/internal/backplane"
	"notifier/internal/classifier"
	"notifier/internal/consumer"
	"notifier/internal/debounce"
	"notifier/internal/events"
	"notifier/internal/metrics"
	"notifier/internal/state"
)

// defaultEnrichWorkers bounds concurrent enrichment calls so critical alert
// bursts cannot pile up unbounded goroutines.
const defaultEnrichWorkers = 16

// RecordReader yields parsed telemetry records.
type RecordReader interface {
	ReadRecord(ctx context.Context) (*events.TelemetryRecord, error)
}

// Scorer is the enrichment call for critical alerts.
type Scorer interface {
	Score(ctx context.Context, rec *events.TelemetryRecord) (*events.RiskData, error)
}

// Notifier is the fire-and-forget dispatch call.
type Notifier interface {
	Notify(ctx context.Context, alert *events.AlertEvent) error
}

// Pipeline drives the telemetry stream into the backplane.
type Pipeline struct {
	reader     RecordReader
	store      *state.Store
	ledger     *debounce.Ledger
	classifier *classifier.Classifier
	scorer     Scorer
	notifier   Notifier
	publisher  backplane.Publisher

	readBackoff time.Duration
	enrichSlots chan struct{}
	now         func() time.Time
}

// NewPipeline wires the ingestion pipeline. A non-positive readBackoff
// falls back to 5 s.
func NewPipeline(
	reader RecordReader,
	store *state.Store,
	ledger *debounce.Ledger,
	cls *classifier.Classifier,
	scorer Scorer,
	notifier Notifier,
	publisher backplane.Publisher,
	readBackoff time.Duration,
) *Pipeline {
	if readBackoff <= 0 {
		readBackoff = 5 * time.Second
	}
	return &Pipeline{
		reader:      reader,
		store:       store,
		ledger:      ledger,
		classifier:  cls,
		scorer:      scorer,
		notifier:    notifier,
		publisher:   publisher,
		readBackoff: readBackoff,
		enrichSlots: make(chan struct{}, defaultEnrichWorkers),
		now:         time.Now,
	}
}

// Run consumes telemetry until ctx is cancelled. Malformed records are
// skipped with a warning; read errors are retried forever with a constant
// backoff. No per-record error ever terminates the loop.
func (p *Pipeline) Run(ctx context.Context) {
	slog.Info("Starting telemetry ingestion loop")
	retry := backoff.NewConstantBackOff(p.readBackoff)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Telemetry ingestion loop stopped")
			return
		default:
		}

		rec, err := p.reader.ReadRecord(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("Telemetry ingestion loop stopped")
				return
			}
			var malformed *consumer.ErrMalformed
			if errors.As(err, &malformed) {
				slog.Warn("Discarding malformed telemetry record", "error", err)
				metrics.TelemetryRecord(metrics.ResultMalformed)
				continue
			}
			slog.Warn("Telemetry stream read failed, backing off",
				"backoff", p.readBackoff,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(retry.NextBackOff()):
			}
			continue
		}

		p.handle(ctx, rec)
	}
}

// handle processes one record to completion: the state store and the
// debounce ledger are only touched here, before any suspension point.
func (p *Pipeline) handle(ctx context.Context, rec *events.TelemetryRecord) {
	metrics.TelemetryRecord(metrics.ResultOK)
	p.store.Put(*rec)

	packet, err := events.NewPacket(events.ChannelStateUpdate, rec)
	if err != nil {
		slog.Error("Failed to build state-update packet", "entity_id", rec.EntityID, "error", err)
	} else if err := p.publisher.Publish(ctx, packet); err != nil {
		slog.Error("Failed to publish state-update", "entity_id", rec.EntityID, "error", err)
	}

	candidate, ok := p.classifier.Classify(rec)
	if !ok {
		// Nominal reading: the next anomaly for this truck fires
		// immediately, no matter how recently one fired.
		p.ledger.Clear(rec.EntityID)
		return
	}

	now := p.now()
	if !p.ledger.ShouldFire(rec.EntityID, candidate.Severity, now) {
		metrics.Alert(string(candidate.Severity), metrics.ResultSuppressed)
		return
	}
	metrics.Alert(string(candidate.Severity), metrics.ResultFired)

	alert := events.NewAlertEvent(rec, candidate.Severity, candidate.Issues, now)
	if alert.Severity != events.SeverityCritical {
		p.publishAlert(ctx, alert)
		return
	}

	// Enrichment is the one suspension point: it runs in a bounded slot so
	// the loop keeps draining the stream while the 2 s timeout elapses.
	recCopy := *rec
	select {
	case p.enrichSlots <- struct{}{}:
	case <-ctx.Done():
		return
	}
	go func() {
		defer func() { <-p.enrichSlots }()
		p.enrichAndPublish(ctx, &recCopy, alert)
	}()
}

func (p *Pipeline) enrichAndPublish(ctx context.Context, rec *events.TelemetryRecord, alert *events.AlertEvent) {
	risk, err := p.scorer.Score(ctx, rec)
	if err != nil {
		metrics.Enrichment(metrics.ResultError)
		slog.Warn("Risk enrichment failed, broadcasting alert without risk data",
			"alert_id", alert.ID,
			"entity_id", alert.EntityID,
			"error", err,
		)
	} else {
		metrics.Enrichment(metrics.ResultOK)
		alert.RiskData = risk
		go func() {
			// Outcome is logged inside Notify; nothing upstream waits on it.
			_ = p.notifier.Notify(context.WithoutCancel(ctx), alert)
		}()
	}

	p.publishAlert(ctx, alert)
}

func (p *Pipeline) publishAlert(ctx context.Context, alert *events.AlertEvent) {
	packet, err := events.NewPacket(events.ChannelAlert, alert)
	if err != nil {
		slog.Error("Failed to build alert packet", "alert_id", alert.ID, "error", err)
		return
	}
	if err := p.publisher.Publish(ctx, packet); err != nil {
		slog.Error("Failed to publish alert", "alert_id", alert.ID, "error", err)
		return
	}
	slog.Info("Broadcast alert",
		"alert_id", alert.ID,
		"entity_id", alert.EntityID,
		"severity", alert.Severity,
		"issues", alert.Issues,
		"enriched", alert.RiskData != nil,
	)
}
