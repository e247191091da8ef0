// Package store defines interfaces for data persistence and dispatch state management.
// These abstractions allow swapping implementations (Redis, PostgreSQL, in-memory)
// without changing business logic.
package store

import (
	"context"
	"time"

	"cognicity-rem/internal/domain"
)

// DispatchRecord remembers the last alert dispatched for an area.
// It is used to suppress repeated notifications for an unchanged state.
type DispatchRecord struct {
	// Layer is the polygon table the area belongs to.
	Layer string `json:"layer"`

	// AreaID is the primary key of the area.
	AreaID int64 `json:"area_id"`

	// State is the flood state the alert was sent for.
	State domain.FloodState `json:"state"`

	// Identifier is the CAP identifier of the dispatched alert.
	Identifier string `json:"identifier"`

	// DispatchedAt is when the alert was sent.
	DispatchedAt time.Time `json:"dispatched_at"`
}

// DispatchStore defines the interface for fast dispatch state lookups.
// This is typically backed by Redis for production use.
// All methods must be safe for concurrent use.
type DispatchStore interface {
	// GetDispatched retrieves the record for an area.
	// Returns nil, nil if nothing was dispatched for it.
	GetDispatched(ctx context.Context, layer string, areaID int64) (*DispatchRecord, error)

	// SetDispatched stores or replaces the record for an area.
	SetDispatched(ctx context.Context, record *DispatchRecord) error

	// DeleteDispatched removes the record for an area.
	DeleteDispatched(ctx context.Context, layer string, areaID int64) error

	// Close releases any resources held by the store.
	Close() error
}
