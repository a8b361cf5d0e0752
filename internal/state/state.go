// Package state holds the instance-local entity state store: the last-known
// telemetry record per truck, used for late-join snapshots.
package state

import (
	"sync"

	"notifier/internal/events"
)

// Store maps entity id to its most recently processed telemetry record.
// Entries are created on first sight and overwritten last-writer-wins;
// they are never deleted. Safe for concurrent use: the ingestion loop
// writes while connection handlers read snapshots.
type Store struct {
	mu      sync.RWMutex
	entries map[string]events.TelemetryRecord
}

// NewStore creates an empty entity state store.
func NewStore() *Store {
	return &Store{entries: make(map[string]events.TelemetryRecord)}
}

// Put records rec as the latest state for its entity.
func (s *Store) Put(rec events.TelemetryRecord) {
	s.mu.Lock()
	s.entries[rec.EntityID] = rec
	s.mu.Unlock()
}

// Get returns the latest record for entityID, if any.
func (s *Store) Get(entityID string) (events.TelemetryRecord, bool) {
	s.mu.RLock()
	rec, ok := s.entries[entityID]
	s.mu.RUnlock()
	return rec, ok
}

// Snapshot returns a copy of all current records. Order is unspecified.
func (s *Store) Snapshot() []events.TelemetryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]events.TelemetryRecord, 0, len(s.entries))
	for _, rec := range s.entries {
		out = append(out, rec)
	}
	return out
}

// Len returns the number of tracked entities.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
