// Package memory provides in-memory implementations of store interfaces.
// These are useful for testing and development without external dependencies.
package memory

import (
	"context"
	"fmt"
	"sync"

	"cognicity-rem/internal/store"
)

// DispatchStore is an in-memory implementation of the store.DispatchStore interface.
// It uses a map with mutex protection for thread-safe access.
type DispatchStore struct {
	mu sync.RWMutex

	// records stores dispatch records keyed by "layer:areaID"
	records map[string]*store.DispatchRecord
}

// NewDispatchStore creates a new in-memory dispatch store.
func NewDispatchStore() *DispatchStore {
	return &DispatchStore{
		records: make(map[string]*store.DispatchRecord),
	}
}

// recordKey generates the key for record lookup.
func recordKey(layer string, areaID int64) string {
	return fmt.Sprintf("%s:%d", layer, areaID)
}

// GetDispatched retrieves the record for an area.
// Returns nil, nil if nothing was dispatched for it.
func (s *DispatchStore) GetDispatched(ctx context.Context, layer string, areaID int64) (*store.DispatchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.records[recordKey(layer, areaID)]
	if !exists {
		return nil, nil
	}

	// Return a copy to prevent external modification
	recordCopy := *record
	return &recordCopy, nil
}

// SetDispatched stores or replaces the record for an area.
func (s *DispatchStore) SetDispatched(ctx context.Context, record *store.DispatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recordCopy := *record
	s.records[recordKey(record.Layer, record.AreaID)] = &recordCopy
	return nil
}

// DeleteDispatched removes the record for an area.
func (s *DispatchStore) DeleteDispatched(ctx context.Context, layer string, areaID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, recordKey(layer, areaID))
	return nil
}

// Close is a no-op for the in-memory store.
func (s *DispatchStore) Close() error {
	return nil
}
