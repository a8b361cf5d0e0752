// Package metrics registers the gateway's Prometheus instruments.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "notifier_"

const (
	ResultOK         = "ok"
	ResultMalformed  = "malformed"
	ResultError      = "error"
	ResultFired      = "fired"
	ResultSuppressed = "suppressed"
)

var (
	registerOnce sync.Once

	telemetryRecords *prometheus.CounterVec
	alerts           *prometheus.CounterVec
	enrichments      *prometheus.CounterVec
	businessEvents   *prometheus.CounterVec
	packetsPublished *prometheus.CounterVec
	packetsDelivered *prometheus.CounterVec
	sessionsActive   prometheus.Gauge
)

// Init registers all instruments exactly once.
func Init() {
	registerOnce.Do(func() {
		telemetryRecords = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "telemetry_records_total",
				Help: "Telemetry records consumed by result",
			},
			[]string{"result"},
		)
		alerts = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_total",
				Help: "Classified alerts by severity and debounce result",
			},
			[]string{"severity", "result"},
		)
		enrichments = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "enrichment_total",
				Help: "Risk-scoring calls by result",
			},
			[]string{"result"},
		)
		businessEvents = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "business_events_total",
				Help: "Business events consumed by routing-key kind",
			},
			[]string{"kind"},
		)
		packetsPublished = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "packets_published_total",
				Help: "Broadcast packets published to the backplane by channel",
			},
			[]string{"channel"},
		)
		packetsDelivered = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "packets_delivered_total",
				Help: "Broadcast packets fanned to local sessions by channel",
			},
			[]string{"channel"},
		)
		sessionsActive = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "sessions_active",
				Help: "Currently connected local sessions",
			},
		)

		prometheus.MustRegister(
			telemetryRecords,
			alerts,
			enrichments,
			businessEvents,
			packetsPublished,
			packetsDelivered,
			sessionsActive,
		)
	})
}

// TelemetryRecord counts one consumed record.
func TelemetryRecord(result string) {
	if telemetryRecords != nil {
		telemetryRecords.WithLabelValues(result).Inc()
	}
}

// Alert counts one classified alert.
func Alert(severity, result string) {
	if alerts != nil {
		alerts.WithLabelValues(severity, result).Inc()
	}
}

// Enrichment counts one scoring call.
func Enrichment(result string) {
	if enrichments != nil {
		enrichments.WithLabelValues(result).Inc()
	}
}

// BusinessEvent counts one consumed business event.
func BusinessEvent(kind string) {
	if businessEvents != nil {
		businessEvents.WithLabelValues(kind).Inc()
	}
}

// PacketPublished counts one packet handed to the backplane.
func PacketPublished(channel string) {
	if packetsPublished != nil {
		packetsPublished.WithLabelValues(channel).Inc()
	}
}

// PacketDelivered counts one packet fanned to local sessions.
func PacketDelivered(channel string) {
	if packetsDelivered != nil {
		packetsDelivered.WithLabelValues(channel).Inc()
	}
}

// SessionOpened increments the active session gauge.
func SessionOpened() {
	if sessionsActive != nil {
		sessionsActive.Inc()
	}
}

// SessionClosed decrements the active session gauge.
func SessionClosed() {
	if sessionsActive != nil {
		sessionsActive.Dec()
	}
}
