package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const delta = 1e-6

func load(t *testing.T, g *Graph, doc string) Summary {
	t.Helper()
	s, err := NewBuilder(g, nil).Load(context.Background(), []byte(doc))
	require.NoError(t, err)
	return s
}

func TestLoad_PrimaryRoad(t *testing.T) {
	g := New()
	s := load(t, g, `{"elements": [
		{"type": "node", "id": 10, "lat": 32.10, "lon": 74.20},
		{"type": "node", "id": 11, "lat": 32.11, "lon": 74.21},
		{"type": "way", "id": 1, "nodes": [10, 11], "tags": {"highway": "primary"}}
	]}`)

	require.Len(t, g.Roads, 1)
	road := g.Roads[0]
	assert.Equal(t, int64(1), road.ID)
	assert.Equal(t, "primary", road.Type)
	assert.Empty(t, road.Name)
	assert.Len(t, road.Points, 2)

	require.Len(t, g.Edges, 1)
	edge := g.Edges[0]
	assert.Equal(t, int64(10), edge.From)
	assert.Equal(t, int64(11), edge.To)
	assert.Equal(t, "primary", edge.HighwayType)
	assert.False(t, edge.Oneway)
	assert.Len(t, edge.Geometry, 2)

	assert.Empty(t, g.Polygons, "highway ways are not generic polygons")
	assert.Empty(t, g.Buildings)
	assert.Len(t, g.Nodes, 2)

	// No buildings, so nothing was normalized.
	assert.False(t, s.Normalized)
	assert.Equal(t, orb.Point{74.20, 32.10}, road.Points[0])
	assert.Equal(t, 1.0, g.Scale)
	assert.True(t, g.Pending())
}

func TestLoad_BuildingTriangle(t *testing.T) {
	g := New()
	s := load(t, g, `{"elements": [
		{"type": "node", "id": 20, "lat": 32.10, "lon": 74.20},
		{"type": "node", "id": 21, "lat": 32.10, "lon": 74.21},
		{"type": "node", "id": 22, "lat": 32.11, "lon": 74.205},
		{"type": "way", "id": 2, "nodes": [20, 21, 22], "tags": {"building": "yes"}}
	]}`)

	require.Len(t, g.Buildings, 1)
	b := g.Buildings[0]
	assert.Equal(t, int64(2), b.ID)
	assert.Len(t, b.Points, 3)
	assert.Equal(t, map[string]string{"building": "yes"}, b.Tags)

	assert.Empty(t, g.Polygons)
	assert.Empty(t, g.Roads)
	assert.True(t, s.Normalized)
	assert.False(t, g.Pending())
}

func TestLoad_DanglingReferences(t *testing.T) {
	g := New()
	s := load(t, g, `{"elements": [
		{"type": "node", "id": 1, "lat": 1, "lon": 10},
		{"type": "node", "id": 3, "lat": 3, "lon": 30},
		{"type": "way", "id": 7, "nodes": [1, 2, 3], "tags": {"highway": "residential"}}
	]}`)

	require.Len(t, g.Roads, 1)
	assert.Equal(t, orb.LineString{{10, 1}, {30, 3}}, g.Roads[0].Points)

	// No edge bridges the missing node.
	assert.Empty(t, g.Edges)
	assert.Equal(t, 1, s.DroppedRefs)
	assert.NotContains(t, g.Nodes, int64(2))
}

func TestLoad_EdgesSkipOnlyBrokenPairs(t *testing.T) {
	g := New()
	load(t, g, `{"elements": [
		{"type": "node", "id": 1, "lat": 0, "lon": 0},
		{"type": "node", "id": 2, "lat": 0, "lon": 1},
		{"type": "node", "id": 4, "lat": 0, "lon": 3},
		{"type": "node", "id": 5, "lat": 0, "lon": 4},
		{"type": "way", "id": 9, "nodes": [1, 2, 3, 4, 5], "tags": {"highway": "service", "name": "Canal Road", "oneway": "yes"}}
	]}`)

	require.Len(t, g.Edges, 2)
	assert.Equal(t, [2]int64{1, 2}, [2]int64{g.Edges[0].From, g.Edges[0].To})
	assert.Equal(t, [2]int64{4, 5}, [2]int64{g.Edges[1].From, g.Edges[1].To})
	for _, e := range g.Edges {
		assert.Equal(t, "Canal Road", e.Name)
		assert.True(t, e.Oneway)
	}
	assert.Len(t, g.Roads[0].Points, 4)
}

func TestLoad_OnewayOnlyLiteralYes(t *testing.T) {
	for _, v := range []string{"true", "1", "-1", "no", "Yes"} {
		g := New()
		load(t, g, `{"elements": [
			{"type": "node", "id": 1, "lat": 0, "lon": 0},
			{"type": "node", "id": 2, "lat": 0, "lon": 1},
			{"type": "way", "id": 1, "nodes": [1, 2], "tags": {"highway": "primary", "oneway": "`+v+`"}}
		]}`)
		require.Len(t, g.Edges, 1)
		assert.False(t, g.Edges[0].Oneway, "oneway=%s", v)
	}
}

func TestLoad_Classification(t *testing.T) {
	g := New()
	load(t, g, `{"elements": [
		{"type": "node", "id": 1, "lat": 0, "lon": 0},
		{"type": "node", "id": 2, "lat": 0, "lon": 1},
		{"type": "node", "id": 3, "lat": 1, "lon": 1},
		{"type": "way", "id": 100, "nodes": [1, 2, 3], "tags": {"landuse": "grass"}},
		{"type": "way", "id": 101, "nodes": [1, 2, 3]},
		{"type": "way", "id": 102, "nodes": [1, 2], "tags": {"highway": "footway"}},
		{"type": "way", "id": 103, "nodes": [1, 2, 3], "tags": {"building": "house"}}
	]}`)

	var polyIDs []int64
	for _, p := range g.Polygons {
		polyIDs = append(polyIDs, p.ID)
	}
	assert.Equal(t, []int64{100, 101}, polyIDs)
	require.Len(t, g.Buildings, 1)
	assert.Equal(t, int64(103), g.Buildings[0].ID)
	require.Len(t, g.Roads, 1)
	assert.Equal(t, int64(102), g.Roads[0].ID)
}

func TestLoad_BuildingAndHighwayNormalizedOnce(t *testing.T) {
	g := New()
	load(t, g, `{"elements": [
		{"type": "node", "id": 1, "lat": 32.0, "lon": 74.0},
		{"type": "node", "id": 2, "lat": 32.1, "lon": 74.2},
		{"type": "way", "id": 5, "nodes": [1, 2], "tags": {"highway": "primary", "building": "yes"}}
	]}`)

	require.Len(t, g.Roads, 1)
	require.Len(t, g.Buildings, 1)
	assert.Empty(t, g.Polygons)
	require.Len(t, g.Edges, 1)

	// scale = 1000 / 0.2
	want := orb.LineString{{0, -500}, {1000, 0}}
	for i, p := range want {
		assert.InDelta(t, p.X(), g.Roads[0].Points[i].X(), delta)
		assert.InDelta(t, p.Y(), g.Roads[0].Points[i].Y(), delta)
		assert.InDelta(t, p.X(), g.Buildings[0].Points[i].X(), delta)
		assert.InDelta(t, p.Y(), g.Buildings[0].Points[i].Y(), delta)
		assert.InDelta(t, p.X(), g.Edges[0].Geometry[i].X(), delta)
		assert.InDelta(t, p.Y(), g.Edges[0].Geometry[i].Y(), delta)
	}
}

func TestLoad_MultipolygonMerge(t *testing.T) {
	g := New()
	s := load(t, g, `{"elements": [
		{"type": "node", "id": 1, "lat": 0, "lon": 0},
		{"type": "node", "id": 2, "lat": 0, "lon": 1},
		{"type": "node", "id": 3, "lat": 1, "lon": 1},
		{"type": "node", "id": 4, "lat": 2, "lon": 2},
		{"type": "node", "id": 5, "lat": 2, "lon": 3},
		{"type": "node", "id": 6, "lat": 3, "lon": 3},
		{"type": "way", "id": 10, "nodes": [1, 2, 3], "tags": {"note": "a"}},
		{"type": "way", "id": 11, "nodes": [4, 5, 6], "tags": {"note": "b"}},
		{"type": "way", "id": 12, "nodes": [1, 4, 6]},
		{"type": "relation", "id": 50, "tags": {"type": "multipolygon", "building": "yes", "name": "Mall"},
		 "members": [
			{"type": "way", "ref": 11, "role": "outer"},
			{"type": "way", "ref": 12, "role": "inner"},
			{"type": "node", "ref": 1, "role": "outer"},
			{"type": "way", "ref": 10, "role": "outer"},
			{"type": "way", "ref": 999, "role": "outer"}
		 ]}
	]}`)

	require.Len(t, g.Buildings, 1)
	merged := g.Buildings[0]
	assert.Equal(t, int64(50), merged.ID)
	assert.Equal(t, map[string]string{"type": "multipolygon", "building": "yes", "name": "Mall"}, merged.Tags)
	require.Len(t, merged.Points, 6)

	byID := map[int64]PolygonArea{}
	for _, p := range g.Polygons {
		byID[p.ID] = p
	}
	// Member order, with the same transform applied as the source ways.
	assert.Equal(t, []orb.Point(byID[11].Points), []orb.Point(merged.Points[:3]))
	assert.Equal(t, []orb.Point(byID[10].Points), []orb.Point(merged.Points[3:]))

	assert.Equal(t, 1, s.DroppedMembers)
}

func TestLoad_RelationsIgnored(t *testing.T) {
	g := New()
	load(t, g, `{"elements": [
		{"type": "node", "id": 1, "lat": 0, "lon": 0},
		{"type": "node", "id": 2, "lat": 0, "lon": 1},
		{"type": "way", "id": 10, "nodes": [1, 2]},
		{"type": "relation", "id": 60, "tags": {"type": "multipolygon", "landuse": "forest"},
		 "members": [{"type": "way", "ref": 10, "role": "outer"}]},
		{"type": "relation", "id": 61, "tags": {"type": "route", "building": "yes"},
		 "members": [{"type": "way", "ref": 10, "role": "outer"}]},
		{"type": "relation", "id": 62, "tags": {"type": "multipolygon", "building": "yes"},
		 "members": [{"type": "way", "ref": 404, "role": "outer"}]}
	]}`)

	assert.Empty(t, g.Buildings, "only non-empty building multipolygons are kept")
}

func TestLoad_Labels(t *testing.T) {
	g := New()
	load(t, g, `{"elements": [
		{"type": "node", "id": 1, "lat": 32.15, "lon": 74.18, "tags": {"place": "suburb", "name": "Satellite Town"}},
		{"type": "node", "id": 2, "lat": 32.16, "lon": 74.19, "tags": {"place": "neighbourhood", "name": "Peoples Colony"}},
		{"type": "node", "id": 3, "lat": 32.17, "lon": 74.20, "tags": {"place": "quarter", "name": "Old City"}},
		{"type": "node", "id": 4, "lat": 32.18, "lon": 74.21, "tags": {"place": "city_block", "name": "Block C"}},
		{"type": "node", "id": 5, "lat": 32.19, "lon": 74.22, "tags": {"place": "city", "name": "Gujranwala"}},
		{"type": "node", "id": 6, "lat": 32.20, "lon": 74.23, "tags": {"place": "suburb"}},
		{"type": "node", "id": 7, "lat": 32.00, "lon": 74.00},
		{"type": "node", "id": 8, "lat": 32.01, "lon": 74.01},
		{"type": "way", "id": 9, "nodes": [7, 8], "tags": {"building": "yes"}}
	]}`)

	labels := g.Areas()
	require.Len(t, labels, 4)

	assert.Equal(t, "Satellite Town", labels[0].Name)
	assert.True(t, labels[0].IsMajor)
	assert.Equal(t, orb.Point{74.18, 32.15}, labels[0].Center, "label centers stay geographic")

	assert.False(t, labels[1].IsMajor)
	assert.True(t, labels[2].IsMajor)
	assert.False(t, labels[3].IsMajor)
}

func TestLoad_MalformedLeavesGraphUntouched(t *testing.T) {
	g := New()
	load(t, g, `{"elements": [
		{"type": "node", "id": 1, "lat": 0, "lon": 0},
		{"type": "node", "id": 2, "lat": 1, "lon": 1},
		{"type": "way", "id": 3, "nodes": [1, 2], "tags": {"building": "yes"}}
	]}`)
	before := g.Counts()
	scale := g.Scale

	for _, doc := range []string{
		`[]`,
		`"elements"`,
		`{}`,
		`{"elements": null}`,
		`{"elements": {"type": "node"}}`,
		`{"elements": [`,
	} {
		_, err := NewBuilder(g, nil).Load(context.Background(), []byte(doc))
		require.Error(t, err, doc)
		assert.True(t, errors.Is(err, ErrMalformedDocument), doc)
		assert.Equal(t, before, g.Counts(), doc)
		assert.Equal(t, scale, g.Scale, doc)
	}
}

func TestLoad_LenientElements(t *testing.T) {
	g := New()
	load(t, g, `{"elements": [
		{"type": "node", "id": 1, "lat": "bad", "lon": 5},
		{"type": "node", "id": 2, "lat": 1, "lon": 6},
		"garbage",
		{"type": "way", "id": 3, "nodes": [1, 2], "tags": {"highway": "path", "name": 12}}
	]}`)

	require.Len(t, g.Roads, 1)
	assert.Equal(t, orb.LineString{{5, 0}, {6, 1}}, g.Roads[0].Points)
	assert.Empty(t, g.Roads[0].Name)
}

func TestLoad_MonotonicAccumulation(t *testing.T) {
	g := New()
	load(t, g, `{"elements": [
		{"type": "node", "id": 1, "lat": 32.0, "lon": 74.0},
		{"type": "node", "id": 2, "lat": 32.1, "lon": 74.1},
		{"type": "way", "id": 10, "nodes": [1, 2], "tags": {"building": "yes"}},
		{"type": "way", "id": 11, "nodes": [1, 2], "tags": {"highway": "primary"}}
	]}`)

	firstBuilding := append(orb.Ring(nil), g.Buildings[0].Points...)
	firstRoad := append(orb.LineString(nil), g.Roads[0].Points...)
	first := g.Counts()

	load(t, g, `{"elements": [
		{"type": "node", "id": 1, "lat": 50.0, "lon": 8.0},
		{"type": "node", "id": 3, "lat": 40.0, "lon": 10.0},
		{"type": "node", "id": 4, "lat": 40.5, "lon": 10.5},
		{"type": "way", "id": 10, "nodes": [3, 4], "tags": {"building": "yes"}},
		{"type": "way", "id": 11, "nodes": [3, 4], "tags": {"highway": "primary"}}
	]}`)

	second := g.Counts()
	assert.Equal(t, first.Buildings+1, second.Buildings, "duplicates are appended, not merged")
	assert.Equal(t, first.Roads+1, second.Roads)
	assert.Equal(t, first.Edges+1, second.Edges)
	assert.Equal(t, 4, second.Nodes)

	assert.Equal(t, firstBuilding, g.Buildings[0].Points, "earlier geometry is not transformed again")
	assert.Equal(t, firstRoad, g.Roads[0].Points)
	assert.Equal(t, Node{ID: 1, Lat: 32.0, Lon: 74.0}, g.Nodes[1], "nodes are never mutated")

	// The second pass has its own box
	assert.InDelta(t, 40.0, g.MinLat, delta)
	assert.InDelta(t, 2000.0, g.Scale, delta)
	assert.InDelta(t, 0, g.Buildings[1].Points[0].X(), delta)
}

func TestLoad_PendingEntitiesNormalizedLater(t *testing.T) {
	g := New()
	s := load(t, g, `{"elements": [
		{"type": "node", "id": 1, "lat": 10, "lon": 20},
		{"type": "node", "id": 2, "lat": 11, "lon": 21},
		{"type": "way", "id": 1, "nodes": [1, 2], "tags": {"highway": "primary"}}
	]}`)
	require.False(t, s.Normalized)
	assert.Equal(t, orb.Point{20, 10}, g.Roads[0].Points[0])

	s = load(t, g, `{"elements": [
		{"type": "node", "id": 3, "lat": 10, "lon": 20},
		{"type": "node", "id": 4, "lat": 12, "lon": 22},
		{"type": "way", "id": 2, "nodes": [3, 4], "tags": {"building": "yes"}}
	]}`)
	require.True(t, s.Normalized)
	assert.False(t, g.Pending())

	// scale 500, maxLat 12
	assert.InDelta(t, 0, g.Roads[0].Points[0].X(), delta)
	assert.InDelta(t, -1000, g.Roads[0].Points[0].Y(), delta)
	assert.InDelta(t, 500, g.Roads[0].Points[1].X(), delta)
	assert.InDelta(t, -500, g.Roads[0].Points[1].Y(), delta)
}

func TestLoad_SummaryCounts(t *testing.T) {
	g := New()
	s := load(t, g, `{"elements": [
		{"type": "node", "id": 1, "lat": 0, "lon": 0},
		{"type": "node", "id": 2, "lat": 0, "lon": 1},
		{"type": "node", "id": 3, "lat": 1, "lon": 1},
		{"type": "way", "id": 4, "nodes": [1, 2, 3], "tags": {"highway": "tertiary"}},
		{"type": "way", "id": 5, "nodes": [1, 2, 3, 1], "tags": {"building": "yes"}}
	]}`)

	assert.NotEmpty(t, s.IngestID)
	assert.Equal(t, 5, s.Elements)
	assert.Equal(t, Counts{Nodes: 3, Roads: 1, Edges: 2, Buildings: 1}, s.Added)
	assert.Equal(t, s.Added, s.Total)
	assert.True(t, s.Normalized)
	assert.InDelta(t, 1000, s.Scale, delta)
}

type fakeFetcher struct {
	data []byte
	err  error
}

func (f fakeFetcher) Fetch(ctx context.Context, query string) ([]byte, error) {
	return f.data, f.err
}

func TestIngest(t *testing.T) {
	g := New()
	_, err := Ingest(context.Background(), fakeFetcher{err: errors.New("timeout")}, "q", g, nil)
	require.Error(t, err)
	assert.Equal(t, Counts{}, g.Counts())

	s, err := Ingest(context.Background(), fakeFetcher{data: []byte(`{"elements": [
		{"type": "node", "id": 1, "lat": 0, "lon": 0}
	]}`)}, "q", g, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Added.Nodes)
}
