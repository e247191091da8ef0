package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"cognicity-rem/internal/domain"
	"cognicity-rem/internal/metrics"
	"cognicity-rem/internal/store"
)

const storeName = "postgres"

// FloodRepository implements store.FloodRepository using PostgreSQL with PostGIS.
type FloodRepository struct {
	db       *DB
	location *time.Location
	logger   *slog.Logger
}

// NewFloodRepository creates a new PostgreSQL-backed flood repository.
// Feature timestamps are rendered in loc.
func NewFloodRepository(db *DB, loc *time.Location, logger *slog.Logger) *FloodRepository {
	return &FloodRepository{db: db, location: loc, logger: logger}
}

// CountByArea counts reports per source inside each area of the polygon layer.
func (r *FloodRepository) CountByArea(ctx context.Context, q domain.CountQuery) (fc *geojson.FeatureCollection, err error) {
	defer observe("count_by_area", time.Now(), &err)

	if err := q.Validate(); err != nil {
		return nil, err
	}

	polygons := quoteTable(q.PolygonLayer)
	query := fmt.Sprintf(`
		SELECT p.pkey, p.area_name, p.parent_name, ST_AsGeoJSON(p.the_geom),
			   counts.counts, COALESCE(unconfirmed.count, 0), rs.state
		FROM %[1]s AS p
		LEFT OUTER JOIN (
			SELECT pkey, array_to_json(array_agg(json_build_object('source', source, 'count', count) ORDER BY source)) AS counts
			FROM (
				SELECT b.pkey, a.source, COUNT(a.pkey) AS count
				FROM %[2]s AS a, %[1]s AS b
				WHERE ST_Within(a.the_geom, b.the_geom)
				  AND a.created_at >= to_timestamp($1)
				  AND a.created_at <= to_timestamp($2)
				GROUP BY b.pkey, a.source
			) AS by_source
			GROUP BY pkey
		) AS counts ON p.pkey = counts.pkey
		LEFT OUTER JOIN (
			SELECT b.pkey, COUNT(a.pkey) AS count
			FROM %[3]s AS a, %[1]s AS b
			WHERE ST_Within(a.the_geom, b.the_geom)
			  AND a.created_at >= to_timestamp($1)
			  AND a.created_at <= to_timestamp($2)
			GROUP BY b.pkey
		) AS unconfirmed ON p.pkey = unconfirmed.pkey
		LEFT OUTER JOIN rem_status AS rs ON p.pkey = rs.rw
		ORDER BY p.pkey
	`, polygons, quoteTable(q.PointLayer), quoteTable(q.UnconfirmedPointLayer))

	rows, err := r.db.pool.Query(ctx, query, q.Start, q.End)
	if err != nil {
		return nil, fmt.Errorf("failed to count reports: %w", err)
	}
	defer rows.Close()

	fc = geojson.NewFeatureCollection()
	for rows.Next() {
		var (
			c        store.AreaCounts
			geometry []byte
			counts   []byte
			state    *int32
		)
		if err := rows.Scan(&c.PKey, &c.LevelName, &c.ParentName, &geometry, &counts, &c.Unconfirmed, &state); err != nil {
			return nil, fmt.Errorf("failed to scan report counts: %w", err)
		}
		if c.Geometry, err = decodeGeometry(geometry); err != nil {
			return nil, err
		}
		if counts != nil {
			if err := json.Unmarshal(counts, &c.Counts); err != nil {
				return nil, fmt.Errorf("failed to decode report counts: %w", err)
			}
		}
		if state != nil {
			s := domain.FloodState(*state)
			c.State = &s
		}
		fc.Append(store.CountFeature(c))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating report counts: %w", err)
	}

	return fc, nil
}

// stateQuery selects areas joined with their flood state; %s is the polygon layer.
const stateQuery = `
	SELECT j.pkey, j.area_name, j.parent_name, ST_AsGeoJSON(j.the_geom),
		   COALESCE(rs.state, 0), rs.last_updated
	FROM %s AS j
	LEFT JOIN rem_status AS rs ON rs.rw = j.pkey
`

// States returns every area of the layer with its current flood state.
func (r *FloodRepository) States(ctx context.Context, layer string) (fc *geojson.FeatureCollection, err error) {
	defer observe("states", time.Now(), &err)

	query := fmt.Sprintf(stateQuery, quoteTable(layer)) + " ORDER BY j.pkey"

	rows, err := r.db.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get states: %w", err)
	}
	defer rows.Close()

	fc = geojson.NewFeatureCollection()
	for rows.Next() {
		s, err := scanAreaState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan state: %w", err)
		}
		fc.Append(store.StateFeature(*s, r.location))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating states: %w", err)
	}

	return fc, nil
}

// StateByID returns one area of the layer with its current flood state.
func (r *FloodRepository) StateByID(ctx context.Context, layer string, id int64) (f *geojson.Feature, err error) {
	defer observe("state_by_id", time.Now(), &err)

	query := fmt.Sprintf(stateQuery, quoteTable(layer)) + " WHERE j.pkey = $1"

	s, err := scanAreaState(r.db.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAreaNotFound
		}
		return nil, fmt.Errorf("failed to get state: %w", err)
	}

	return store.StateFeature(*s, r.location), nil
}

// Dims returns every area of the layer with its latest DIMS level.
func (r *FloodRepository) Dims(ctx context.Context, layer string) (fc *geojson.FeatureCollection, err error) {
	defer observe("dims", time.Now(), &err)

	query := fmt.Sprintf(`
		SELECT lg.pkey, ST_AsGeoJSON(lg.the_geom), d.level
		FROM %s AS lg
		LEFT JOIN LATERAL (
			SELECT level
			FROM dims_reports
			WHERE district_id = lg.pkey
			ORDER BY created_at DESC
			LIMIT 1
		) AS d ON true
		ORDER BY lg.pkey
	`, quoteTable(layer))

	rows, err := r.db.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get dims: %w", err)
	}
	defer rows.Close()

	fc = geojson.NewFeatureCollection()
	for rows.Next() {
		var (
			area     store.Area
			geometry []byte
			level    *int32
		)
		if err := rows.Scan(&area.PKey, &geometry, &level); err != nil {
			return nil, fmt.Errorf("failed to scan dims: %w", err)
		}
		if area.Geometry, err = decodeGeometry(geometry); err != nil {
			return nil, err
		}

		var l *int
		if level != nil {
			v := int(*level)
			l = &v
		}
		fc.Append(store.DimsFeature(area, l))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dims: %w", err)
	}

	return fc, nil
}

// SetState upserts the area's row in rem_status and appends to rem_status_log.
func (r *FloodRepository) SetState(ctx context.Context, update domain.StateUpdate) (err error) {
	defer observe("set_state", time.Now(), &err)

	if err := update.Validate(); err != nil {
		return err
	}

	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO rem_status (rw, state, last_updated)
		VALUES ($1, $2, now())
		ON CONFLICT (rw) DO UPDATE SET state = EXCLUDED.state, last_updated = now()
	`, update.AreaID, int32(update.State))
	if err != nil {
		return fmt.Errorf("failed to set state: %w", err)
	}

	_, logErr := r.db.pool.Exec(ctx,
		`INSERT INTO rem_status_log (rw, state, username) VALUES ($1, $2, $3)`,
		update.AreaID, int32(update.State), update.Username,
	)
	if logErr != nil {
		metrics.StateLogFailuresTotal.Inc()
		r.logger.Error("failed to log state change",
			"area_id", update.AreaID,
			"state", update.State,
			"error", logErr,
		)
	}

	return nil
}

// scanAreaState scans a row produced by stateQuery.
func scanAreaState(row pgx.Row) (*store.AreaState, error) {
	var (
		s        store.AreaState
		geometry []byte
		state    int32
	)

	if err := row.Scan(&s.PKey, &s.LevelName, &s.ParentName, &geometry, &state, &s.LastUpdated); err != nil {
		return nil, err
	}

	g, err := decodeGeometry(geometry)
	if err != nil {
		return nil, err
	}
	s.Geometry = g
	s.State = domain.FloodState(state)

	return &s, nil
}

// decodeGeometry parses the output of ST_AsGeoJSON.
func decodeGeometry(data []byte) (orb.Geometry, error) {
	if data == nil {
		return nil, nil
	}
	geometry, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode geometry: %w", err)
	}
	return geometry.Geometry(), nil
}

// quoteTable quotes a possibly schema-qualified table name from configuration.
func quoteTable(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

func observe(operation string, start time.Time, err *error) {
	metrics.ObserveStorage(storeName, operation, time.Since(start).Seconds(), *err)
}
