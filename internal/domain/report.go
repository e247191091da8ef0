package domain

import (
	"time"

	"github.com/paulmach/orb"
)

// Report is a single flood report located at a point.
type Report struct {
	// ID is the report's primary key.
	ID int64 `json:"pkey"`

	// Source names where the report came from (e.g. "twitter", "qlue").
	Source string `json:"source"`

	// Location is the report position as [lon, lat].
	Location orb.Point `json:"location"`

	// Confirmed is false for reports that have not been verified.
	Confirmed bool `json:"confirmed"`

	// CreatedAt is when the report was made.
	CreatedAt time.Time `json:"created_at"`
}

// SourceCount is the number of reports from one source inside an area.
type SourceCount struct {
	Source string `json:"source"`
	Count  int    `json:"count"`
}
