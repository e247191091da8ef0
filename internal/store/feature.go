package store

import (
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"cognicity-rem/internal/domain"
)

// LastUpdatedLayout is the wall-clock form of last_updated in area features.
// It carries no offset; the value is local to the configured time zone.
const LastUpdatedLayout = "2006-01-02 15:04:05.999999"

// Area is one polygon of an aggregate level.
type Area struct {
	PKey       int64
	LevelName  string
	ParentName string
	Geometry   orb.Geometry
}

// AreaState is an area joined with its recorded flood state.
type AreaState struct {
	Area
	State       domain.FloodState
	LastUpdated *time.Time
}

// StateFeature renders an area and its state as a GeoJSON feature.
// LastUpdated is written as wall-clock time in loc, or null when unset.
func StateFeature(s AreaState, loc *time.Location) *geojson.Feature {
	f := geojson.NewFeature(s.Geometry)
	f.Properties["pkey"] = s.PKey
	f.Properties["level_name"] = s.LevelName
	f.Properties["parent_name"] = s.ParentName
	f.Properties["state"] = int(s.State)
	if s.LastUpdated != nil {
		f.Properties["last_updated"] = s.LastUpdated.In(loc).Format(LastUpdatedLayout)
	} else {
		f.Properties["last_updated"] = nil
	}
	return f
}

// AreaCounts is an area with its report counts over a window.
type AreaCounts struct {
	Area
	State       *domain.FloodState
	Counts      []domain.SourceCount
	Unconfirmed int64
}

// CountFeature renders an area and its report counts as a GeoJSON feature.
// Counts is null when no confirmed report fell inside the area.
func CountFeature(c AreaCounts) *geojson.Feature {
	f := geojson.NewFeature(c.Geometry)
	f.Properties["pkey"] = c.PKey
	f.Properties["level_name"] = c.LevelName
	f.Properties["parent_name"] = c.ParentName
	if len(c.Counts) > 0 {
		f.Properties["counts"] = c.Counts
	} else {
		f.Properties["counts"] = nil
	}
	f.Properties["unconfirmed"] = c.Unconfirmed
	if c.State != nil {
		f.Properties["state"] = int(*c.State)
	} else {
		f.Properties["state"] = nil
	}
	return f
}

// DimsFeature renders an area with its latest DIMS level, or null when none was reported.
func DimsFeature(a Area, level *int) *geojson.Feature {
	f := geojson.NewFeature(a.Geometry)
	if level == nil {
		f.Properties = nil
		return f
	}
	f.Properties["pkey"] = a.PKey
	f.Properties["level"] = *level
	return f
}
