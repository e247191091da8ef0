package store

import (
	"context"

	"github.com/paulmach/orb/geojson"

	"cognicity-rem/internal/domain"
)

// FloodRepository defines the interface for reading areas and writing their flood state.
// This is typically backed by PostgreSQL with PostGIS for production use.
//
// Layer arguments are polygon table names taken from configuration. They are
// never taken from requests.
type FloodRepository interface {
	// CountByArea returns every area of the query's polygon layer with the
	// number of reports per source inside it during the query window.
	CountByArea(ctx context.Context, q domain.CountQuery) (*geojson.FeatureCollection, error)

	// States returns every area of the layer with its current flood state.
	// Areas without a recorded state have state 0 and no last_updated.
	States(ctx context.Context, layer string) (*geojson.FeatureCollection, error)

	// StateByID returns one area of the layer with its current flood state.
	// Returns domain.ErrAreaNotFound if the layer has no such area.
	StateByID(ctx context.Context, layer string, id int64) (*geojson.Feature, error)

	// Dims returns every area of the layer with its latest DIMS level.
	Dims(ctx context.Context, layer string) (*geojson.FeatureCollection, error)

	// SetState records a new flood state for an area and appends it to the state log.
	// A failure to write the log is reported but does not fail the call.
	SetState(ctx context.Context, update domain.StateUpdate) error
}
