package cap_test

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cognicity-rem/internal/cap"
)

func TestBuildArea_Polygon(t *testing.T) {
	area, err := cap.BuildArea(orb.Polygon{{{1, 2}, {3, 4}}}, "RW 01, Kampung Melayu")
	require.NoError(t, err)

	assert.Equal(t, "RW 01, Kampung Melayu", area.AreaDesc)
	require.Len(t, area.Polygon, 1)
	assert.Equal(t, "2,1 4,3 ", area.Polygon[0])
}

func TestBuildArea_MultiPolygonKeepsOrder(t *testing.T) {
	geom := orb.MultiPolygon{
		{{{1, 2}, {3, 4}}},
		{{{5, 6}, {7, 8}}},
	}

	area, err := cap.BuildArea(geom, "desc")
	require.NoError(t, err)

	require.Len(t, area.Polygon, 2)
	assert.Equal(t, "2,1 4,3 ", area.Polygon[0])
	assert.Equal(t, "6,5 8,7 ", area.Polygon[1])
}

func TestBuildArea_CoordinatePrecision(t *testing.T) {
	geom := orb.Polygon{{
		{106.8271, -6.1751},
		{106.83, -6.18},
		{106.8271, -6.1751},
	}}

	area, err := cap.BuildArea(geom, "desc")
	require.NoError(t, err)
	assert.Equal(t, "-6.1751,106.8271 -6.18,106.83 -6.1751,106.8271 ", area.Polygon[0])
}

func TestBuildArea_Errors(t *testing.T) {
	tests := []struct {
		name    string
		geom    orb.Geometry
		wantErr error
	}{
		{
			name:    "point",
			geom:    orb.Point{1, 2},
			wantErr: cap.ErrUnsupportedGeometryType,
		},
		{
			name:    "line string",
			geom:    orb.LineString{{1, 2}, {3, 4}},
			wantErr: cap.ErrUnsupportedGeometryType,
		},
		{
			name:    "nil geometry",
			geom:    nil,
			wantErr: cap.ErrUnsupportedGeometryType,
		},
		{
			name: "polygon with a hole",
			geom: orb.Polygon{
				{{0, 0}, {10, 0}, {10, 10}, {0, 0}},
				{{1, 1}, {2, 1}, {2, 2}, {1, 1}},
			},
			wantErr: cap.ErrUnsupportedInteriorRing,
		},
		{
			name: "second polygon with a hole",
			geom: orb.MultiPolygon{
				{{{1, 2}, {3, 4}}},
				{
					{{0, 0}, {10, 0}, {10, 10}, {0, 0}},
					{{1, 1}, {2, 1}, {2, 2}, {1, 1}},
				},
			},
			wantErr: cap.ErrUnsupportedInteriorRing,
		},
		{
			name:    "polygon without rings",
			geom:    orb.Polygon{},
			wantErr: cap.ErrInvalidFeature,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			area, err := cap.BuildArea(tt.geom, "desc")
			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, area)
		})
	}
}
