// Package classifier derives anomaly candidates from telemetry records
// against the cold-chain thresholds.
package classifier

import (
	"notifier/internal/events"
)

const (
	// IssueTemperature is reported when the reefer temperature leaves the
	// safe band.
	IssueTemperature = "temperature deviation"
	// IssueShock is reported when vibration exceeds the shock limit.
	IssueShock = "high shock"
)

// Thresholds are the tunable classification limits.
type Thresholds struct {
	TempMin      float64
	TempMax      float64
	VibrationMax float64
}

// DefaultThresholds returns the pharma cold-chain limits: 2–8 °C and 4.0 G.
func DefaultThresholds() Thresholds {
	return Thresholds{TempMin: 2.0, TempMax: 8.0, VibrationMax: 4.0}
}

// Candidate is a classified anomaly before debouncing.
type Candidate struct {
	Severity events.Severity
	Issues   []string
}

// Classifier evaluates telemetry records against fixed thresholds.
type Classifier struct {
	thresholds Thresholds
}

// New creates a classifier with the given thresholds.
func New(thresholds Thresholds) *Classifier {
	return &Classifier{thresholds: thresholds}
}

// Classify returns the anomaly candidate for rec, or ok=false when the
// record is nominal. Temperature issues precede the shock issue in the
// candidate's issue list. Severity is CRITICAL when the shock issue is
// present, WARNING when only the temperature issue is.
func (c *Classifier) Classify(rec *events.TelemetryRecord) (Candidate, bool) {
	var issues []string
	if rec.Temperature < c.thresholds.TempMin || rec.Temperature > c.thresholds.TempMax {
		issues = append(issues, IssueTemperature)
	}
	shock := rec.Vibration > c.thresholds.VibrationMax
	if shock {
		issues = append(issues, IssueShock)
	}
	if len(issues) == 0 {
		return Candidate{}, false
	}
	severity := events.SeverityWarning
	if shock {
		severity = events.SeverityCritical
	}
	return Candidate{Severity: severity, Issues: issues}, true
}
