// Package debounce suppresses repeat alerts for the same entity and
// severity within a fixed window. The ledger is instance-local and never
// synchronized across the cluster.
package debounce

import (
	"sync"
	"time"

	"notifier/internal/events"
)

// DefaultWindow is the minimum interval between two accepted alerts of the
// same entity+severity.
const DefaultWindow = 60 * time.Second

type key struct {
	entityID string
	severity events.Severity
}

// Ledger tracks the last fired time per (entity, severity) pair.
type Ledger struct {
	mu     sync.Mutex
	window time.Duration
	fired  map[key]time.Time
}

// NewLedger creates a ledger with the given window. A non-positive window
// falls back to DefaultWindow.
func NewLedger(window time.Duration) *Ledger {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Ledger{window: window, fired: make(map[key]time.Time)}
}

// ShouldFire reports whether an alert of the given severity may fire for
// entityID at now, and records the fire time when it may. A WARNING entry
// never suppresses a CRITICAL one or vice versa: the pair is the key.
func (l *Ledger) ShouldFire(entityID string, severity events.Severity, now time.Time) bool {
	k := key{entityID: entityID, severity: severity}
	l.mu.Lock()
	defer l.mu.Unlock()
	if last, ok := l.fired[k]; ok && now.Sub(last) < l.window {
		return false
	}
	l.fired[k] = now
	return true
}

// Clear removes every severity entry for entityID. Called when the entity's
// readings return to nominal so the next recurrence fires immediately.
func (l *Ledger) Clear(entityID string) {
	l.mu.Lock()
	delete(l.fired, key{entityID: entityID, severity: events.SeverityWarning})
	delete(l.fired, key{entityID: entityID, severity: events.SeverityCritical})
	l.mu.Unlock()
}

// Len returns the number of live entries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.fired)
}
