package cap

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// Errors returned when a feature cannot be turned into an alert.
// All of them are local to one feature.
var (
	ErrUnsupportedGeometryType = errors.New("geometry type not supported")
	ErrUnsupportedInteriorRing = errors.New("polygon with interior rings is not supported")
	ErrUnmappedSeverityState   = errors.New("state cannot be resolved to a severity")
	ErrInvalidFeature          = errors.New("invalid feature")
)

// BuildArea converts a Polygon or MultiPolygon into a CAP area.
//
// Every polygon must consist of a single outer ring. Points are written as
// "lat,lon" (GeoJSON order swapped), separated by spaces, and every ring string
// ends with a space. Any violation rejects the whole area.
func BuildArea(geom orb.Geometry, desc string) (*Area, error) {
	var polygons orb.MultiPolygon
	switch g := geom.(type) {
	case orb.Polygon:
		polygons = orb.MultiPolygon{g}
	case orb.MultiPolygon:
		polygons = g
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedGeometryType, geometryType(geom))
	}

	area := &Area{
		AreaDesc: desc,
		Polygon:  make([]string, 0, len(polygons)),
	}
	for i, polygon := range polygons {
		switch {
		case len(polygon) == 0:
			return nil, fmt.Errorf("%w: polygon %d has no rings", ErrInvalidFeature, i)
		case len(polygon) > 1:
			return nil, fmt.Errorf("%w: polygon %d has %d rings", ErrUnsupportedInteriorRing, i, len(polygon))
		}
		area.Polygon = append(area.Polygon, ringString(polygon[0]))
	}

	return area, nil
}

// ringString writes a ring as "lat,lon lat,lon ... ".
func ringString(ring orb.Ring) string {
	var b strings.Builder
	for _, p := range ring {
		b.WriteString(formatCoordinate(p.Lat()))
		b.WriteByte(',')
		b.WriteString(formatCoordinate(p.Lon()))
		b.WriteByte(' ')
	}
	return b.String()
}

// formatCoordinate uses the shortest representation that round-trips.
func formatCoordinate(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func geometryType(geom orb.Geometry) string {
	if geom == nil {
		return "null"
	}
	return geom.GeoJSONType()
}
