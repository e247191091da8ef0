package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"cognicity-rem/internal/domain"
	"cognicity-rem/internal/store"
)

// FloodRepository is an in-memory implementation of store.FloodRepository.
// Areas and reports are held per table name; flood states are keyed by area
// id only, as the rem_status table is.
type FloodRepository struct {
	mu sync.RWMutex

	// areas stores the polygons of each layer, ordered by pkey
	areas map[string][]store.Area

	// reports stores point reports by table name
	reports map[string][]domain.Report

	// states stores the current flood state by area id
	states map[int64]stateRecord

	// stateLog records every state change in order
	stateLog []StateLogEntry

	// dims stores DIMS reports by district id
	dims map[int64][]dimsReport

	location *time.Location
	clock    clockwork.Clock
}

type stateRecord struct {
	state       domain.FloodState
	lastUpdated time.Time
}

type dimsReport struct {
	level     int
	createdAt time.Time
}

// StateLogEntry is one row of the state change log.
type StateLogEntry struct {
	AreaID    int64
	State     domain.FloodState
	Username  string
	ChangedAt time.Time
}

// NewFloodRepository creates an empty in-memory flood repository.
// Feature timestamps are rendered in loc.
func NewFloodRepository(clock clockwork.Clock, loc *time.Location) *FloodRepository {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &FloodRepository{
		areas:    make(map[string][]store.Area),
		reports:  make(map[string][]domain.Report),
		states:   make(map[int64]stateRecord),
		dims:     make(map[int64][]dimsReport),
		location: loc,
		clock:    clock,
	}
}

// AddArea adds or replaces an area in a layer.
func (r *FloodRepository) AddArea(layer string, area store.Area) {
	r.mu.Lock()
	defer r.mu.Unlock()

	areas := r.areas[layer]
	for i := range areas {
		if areas[i].PKey == area.PKey {
			areas[i] = area
			return
		}
	}
	areas = append(areas, area)
	sort.Slice(areas, func(i, j int) bool { return areas[i].PKey < areas[j].PKey })
	r.areas[layer] = areas
}

// AddReport adds a report to a point table.
func (r *FloodRepository) AddReport(table string, report domain.Report) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reports[table] = append(r.reports[table], report)
}

// AddDimsReport records a DIMS level for a district.
func (r *FloodRepository) AddDimsReport(districtID int64, level int, createdAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.dims[districtID] = append(r.dims[districtID], dimsReport{level: level, createdAt: createdAt})
}

// StateLog returns a copy of the state change log.
func (r *FloodRepository) StateLog() []StateLogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	log := make([]StateLogEntry, len(r.stateLog))
	copy(log, r.stateLog)
	return log
}

// CountByArea counts reports per source inside each area of the polygon layer.
func (r *FloodRepository) CountByArea(ctx context.Context, q domain.CountQuery) (*geojson.FeatureCollection, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	start, end := q.StartTime(), q.EndTime()
	inWindow := func(rep domain.Report) bool {
		return !rep.CreatedAt.Before(start) && !rep.CreatedAt.After(end)
	}

	fc := geojson.NewFeatureCollection()
	for _, area := range r.areas[q.PolygonLayer] {
		bySource := make(map[string]int)
		for _, rep := range r.reports[q.PointLayer] {
			if inWindow(rep) && contains(area.Geometry, rep.Location) {
				bySource[rep.Source]++
			}
		}

		var unconfirmed int64
		for _, rep := range r.reports[q.UnconfirmedPointLayer] {
			if inWindow(rep) && contains(area.Geometry, rep.Location) {
				unconfirmed++
			}
		}

		counts := make([]domain.SourceCount, 0, len(bySource))
		for source, n := range bySource {
			counts = append(counts, domain.SourceCount{Source: source, Count: n})
		}
		sort.Slice(counts, func(i, j int) bool { return counts[i].Source < counts[j].Source })

		c := store.AreaCounts{Area: area, Counts: counts, Unconfirmed: unconfirmed}
		if rec, ok := r.states[area.PKey]; ok {
			state := rec.state
			c.State = &state
		}
		fc.Append(store.CountFeature(c))
	}

	return fc, nil
}

// States returns every area of the layer with its current flood state.
func (r *FloodRepository) States(ctx context.Context, layer string) (*geojson.FeatureCollection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fc := geojson.NewFeatureCollection()
	for _, area := range r.areas[layer] {
		fc.Append(r.stateFeature(area))
	}
	return fc, nil
}

// StateByID returns one area of the layer with its current flood state.
func (r *FloodRepository) StateByID(ctx context.Context, layer string, id int64) (*geojson.Feature, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, area := range r.areas[layer] {
		if area.PKey == id {
			return r.stateFeature(area), nil
		}
	}
	return nil, domain.ErrAreaNotFound
}

// stateFeature must be called with the lock held.
func (r *FloodRepository) stateFeature(area store.Area) *geojson.Feature {
	s := store.AreaState{Area: area}
	if rec, ok := r.states[area.PKey]; ok {
		s.State = rec.state
		updated := rec.lastUpdated
		s.LastUpdated = &updated
	}
	return store.StateFeature(s, r.location)
}

// Dims returns every area of the layer with its latest DIMS level.
func (r *FloodRepository) Dims(ctx context.Context, layer string) (*geojson.FeatureCollection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fc := geojson.NewFeatureCollection()
	for _, area := range r.areas[layer] {
		var level *int
		var latest time.Time
		for _, d := range r.dims[area.PKey] {
			if level == nil || d.createdAt.After(latest) {
				l := d.level
				level, latest = &l, d.createdAt
			}
		}
		fc.Append(store.DimsFeature(area, level))
	}
	return fc, nil
}

// SetState records a new flood state for an area and appends it to the state log.
func (r *FloodRepository) SetState(ctx context.Context, update domain.StateUpdate) error {
	if err := update.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	r.states[update.AreaID] = stateRecord{state: update.State, lastUpdated: now}
	r.stateLog = append(r.stateLog, StateLogEntry{
		AreaID:    update.AreaID,
		State:     update.State,
		Username:  update.Username,
		ChangedAt: now,
	})
	return nil
}

// LoadSeedFile loads a GeoJSON FeatureCollection into the repository.
//
// Polygon and MultiPolygon features become areas in every one of layers and
// must carry a numeric pkey; area_name and parent_name are optional. Point
// features become reports in reportsTable, or in unconfirmedTable when their
// confirmed property is false. Reports carry source and created_at (RFC 3339).
func (r *FloodRepository) LoadSeedFile(path string, layers []string, reportsTable, unconfirmedTable string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return fmt.Errorf("failed to parse seed file: %w", err)
	}

	for i, f := range fc.Features {
		pkey := int64(f.Properties.MustFloat64("pkey", float64(i+1)))

		switch g := f.Geometry.(type) {
		case orb.Polygon, orb.MultiPolygon:
			area := store.Area{
				PKey:       pkey,
				LevelName:  f.Properties.MustString("area_name", ""),
				ParentName: f.Properties.MustString("parent_name", ""),
				Geometry:   g,
			}
			for _, layer := range layers {
				r.AddArea(layer, area)
			}
		case orb.Point:
			createdAt, err := time.Parse(time.RFC3339, f.Properties.MustString("created_at", ""))
			if err != nil {
				return fmt.Errorf("seed feature %d: invalid created_at: %w", i, err)
			}
			report := domain.Report{
				ID:        pkey,
				Source:    f.Properties.MustString("source", "unknown"),
				Location:  g,
				Confirmed: f.Properties.MustBool("confirmed", true),
				CreatedAt: createdAt,
			}
			table := reportsTable
			if !report.Confirmed {
				table = unconfirmedTable
			}
			r.AddReport(table, report)
		default:
			return fmt.Errorf("seed feature %d: unsupported geometry %T", i, f.Geometry)
		}
	}

	return nil
}

// contains reports whether p lies inside a polygonal geometry.
func contains(geom orb.Geometry, p orb.Point) bool {
	switch g := geom.(type) {
	case orb.Polygon:
		return planar.PolygonContains(g, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(g, p)
	}
	return false
}
