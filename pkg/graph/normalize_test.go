package graph

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_BoundingBoxExtremes(t *testing.T) {
	tests := []struct {
		name      string
		ring      orb.Ring
		wantScale float64
		wantSE    orb.Point
	}{
		{
			name:      "wider than tall",
			ring:      orb.Ring{{74.0, 32.1}, {74.4, 32.1}, {74.4, 32.0}, {74.0, 32.0}},
			wantScale: 2500,
			wantSE:    orb.Point{1000, -250},
		},
		{
			name:      "taller than wide",
			ring:      orb.Ring{{10, 20}, {10.5, 20}, {10.5, 22}, {10, 22}},
			wantScale: 500,
			wantSE:    orb.Point{250, -1000},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New()
			g.Buildings = []PolygonArea{{ID: 1, Points: tt.ring}}
			require.True(t, g.Normalize())

			assert.InDelta(t, tt.wantScale, g.Scale, 1e-6)

			b := orb.Bound{Min: g.Buildings[0].Points[0], Max: g.Buildings[0].Points[0]}
			for _, p := range g.Buildings[0].Points {
				b = b.Extend(p)
			}
			// north-west corner
			assert.InDelta(t, 0, b.Min.X(), 1e-6)
			assert.InDelta(t, 0, b.Max.Y(), 1e-6)
			// south-east corner
			assert.InDelta(t, tt.wantSE.X(), b.Max.X(), 1e-6)
			assert.InDelta(t, tt.wantSE.Y(), b.Min.Y(), 1e-6)

			assert.InDelta(t, tt.wantSE.X()/2, g.CenterX, 1e-6)
			assert.InDelta(t, -tt.wantSE.Y()/2, g.CenterY, 1e-6)
		})
	}
}

func TestNormalize_SignConvention(t *testing.T) {
	g := New()
	g.Buildings = []PolygonArea{{Points: orb.Ring{{0, 0}, {1, 1}}}}
	g.Roads = []Road{{Points: orb.LineString{{0.5, 0.25}}}}
	require.True(t, g.Normalize())

	// y' = (y - maxLat) * scale
	assert.InDelta(t, 500, g.Roads[0].Points[0].X(), 1e-9)
	assert.InDelta(t, -750, g.Roads[0].Points[0].Y(), 1e-9)
}

func TestNormalize_ZeroExtentUsesFallback(t *testing.T) {
	g := New()
	g.Buildings = []PolygonArea{{Points: orb.Ring{{74.2, 32.1}, {74.2, 32.1}}}}
	g.Roads = []Road{{Points: orb.LineString{{75.2, 30.1}}}}
	require.True(t, g.Normalize())

	assert.Equal(t, FallbackScale, g.Scale)
	assert.Equal(t, orb.Point{0, 0}, g.Buildings[0].Points[0])
	assert.InDelta(t, 1, g.Roads[0].Points[0].X(), 1e-9)
	assert.InDelta(t, -2, g.Roads[0].Points[0].Y(), 1e-9)
}

func TestNormalize_NoBuildings(t *testing.T) {
	g := New()
	g.Roads = []Road{{Points: orb.LineString{{74.2, 32.1}}}}
	g.Polygons = []PolygonArea{{Points: orb.Ring{{74.3, 32.2}}}}

	assert.False(t, g.Normalize())
	assert.Equal(t, orb.Point{74.2, 32.1}, g.Roads[0].Points[0])
	assert.Equal(t, orb.Point{74.3, 32.2}, g.Polygons[0].Points[0])
	assert.Equal(t, 1.0, g.Scale)
	_, ok := g.Bounds()
	assert.False(t, ok)
	assert.True(t, g.Pending())
}

func TestNormalize_Idempotent(t *testing.T) {
	g := New()
	g.Buildings = []PolygonArea{{Points: orb.Ring{{0, 0}, {2, 1}}}}
	require.True(t, g.Normalize())
	first := append(orb.Ring(nil), g.Buildings[0].Points...)

	assert.False(t, g.Normalize(), "nothing pending")
	assert.Equal(t, first, g.Buildings[0].Points)
}

func TestNormalize_LeavesNodesAndLabels(t *testing.T) {
	g := New()
	g.Nodes[1] = Node{ID: 1, Lat: 32, Lon: 74}
	g.Labels = []AreaLabel{{Name: "Civil Lines", Center: orb.Point{74.1, 32.1}}}
	g.Buildings = []PolygonArea{{Points: orb.Ring{{74, 32}, {74.2, 32.2}}}}
	require.True(t, g.Normalize())

	assert.Equal(t, Node{ID: 1, Lat: 32, Lon: 74}, g.Nodes[1])
	assert.Equal(t, orb.Point{74.1, 32.1}, g.Labels[0].Center)
}

func TestBounds(t *testing.T) {
	g := New()
	_, ok := g.Bounds()
	assert.False(t, ok)

	g.Buildings = []PolygonArea{{Points: orb.Ring{{74, 32}, {74.2, 32.1}}}}
	g.Normalize()
	b, ok := g.Bounds()
	require.True(t, ok)
	assert.Equal(t, orb.Point{74, 32}, b.Min)
	assert.Equal(t, orb.Point{74.2, 32.1}, b.Max)
}

func TestNormalize_NorthEdgeIsPositiveZero(t *testing.T) {
	g := New()
	g.Buildings = []PolygonArea{{ID: 1, Points: orb.Ring{{74.1, 32.1}, {74.2, 32.1}, {74.2, 32.0}}}}
	g.Roads = []Road{{ID: 2, Points: orb.LineString{{74.1, 32.1}, {74.2, 32.0}}}}
	require.True(t, g.Normalize())

	nw := g.Roads[0].Points[0]
	assert.False(t, math.Signbit(nw.X()), "x = %v", nw.X())
	assert.False(t, math.Signbit(nw.Y()), "y = %v", nw.Y())

	data, err := json.Marshal(g.Roads[0])
	require.NoError(t, err)
	assert.NotContains(t, string(data), "-0,")
	assert.NotContains(t, string(data), "-0]")
}
