package domain

import (
	"errors"
	"time"
)

// Validation errors for CountQuery.
var (
	ErrInvalidStart          = errors.New("'start' parameter is invalid")
	ErrInvalidEnd            = errors.New("'end' parameter is invalid")
	ErrInvalidRange          = errors.New("'end' must not be before 'start'")
	ErrEmptyPolygonLayer     = errors.New("'polygon_layer' option must be supplied")
	ErrEmptyPointLayer       = errors.New("'point_layer' option must be supplied")
	ErrEmptyUnconfirmedLayer = errors.New("'point_layer_uc' option must be supplied")
)

// CountQuery asks for report counts per area within a time window.
type CountQuery struct {
	// Start and End bound the report creation time, in unix seconds.
	Start int64
	End   int64

	// PolygonLayer is the table of areas to aggregate over.
	PolygonLayer string

	// PointLayer is the table of confirmed reports.
	PointLayer string

	// UnconfirmedPointLayer is the table of unconfirmed reports.
	UnconfirmedPointLayer string
}

// Validate checks that the window is well formed and every layer is named.
func (q *CountQuery) Validate() error {
	if q.Start < 0 {
		return ErrInvalidStart
	}
	if q.End < 0 {
		return ErrInvalidEnd
	}
	if q.End < q.Start {
		return ErrInvalidRange
	}
	if q.PolygonLayer == "" {
		return ErrEmptyPolygonLayer
	}
	if q.UnconfirmedPointLayer == "" {
		return ErrEmptyUnconfirmedLayer
	}
	if q.PointLayer == "" {
		return ErrEmptyPointLayer
	}
	return nil
}

// StartTime returns the window start as a time.
func (q *CountQuery) StartTime() time.Time {
	return time.Unix(q.Start, 0).UTC()
}

// EndTime returns the window end as a time.
func (q *CountQuery) EndTime() time.Time {
	return time.Unix(q.End, 0).UTC()
}
