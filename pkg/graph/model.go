// Package graph holds the render-ready map graph and the pipeline that builds
// it from an Overpass element document.
package graph

import (
	"maps"

	"github.com/paulmach/orb"

	"github.com/NERVsystems/citymap/pkg/osm"
)

// ErrMalformedDocument is returned by Builder.Load when the document is
// rejected as a whole. The graph is left untouched.
var ErrMalformedDocument = osm.ErrMalformedDocument

// Entity kinds, used as metric labels and in summaries.
const (
	KindNodes     = "nodes"
	KindRoads     = "roads"
	KindEdges     = "edges"
	KindBuildings = "buildings"
	KindPolygons  = "polygons"
	KindLabels    = "labels"
)

// Node is a resolved OSM node. Nodes keep raw geographic coordinates.
type Node struct {
	ID  int64   `json:"id"`
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Road is one highway-classified way as a polyline.
type Road struct {
	ID     int64          `json:"id"`
	Name   string         `json:"name,omitempty"`
	Type   string         `json:"type"`
	Points orb.LineString `json:"points"`
}

// Clone returns a copy that shares no memory with r.
func (r Road) Clone() Road {
	r.Points = r.Points.Clone()
	return r
}

// Edge is one segment between two consecutive nodes of a highway way.
type Edge struct {
	From        int64          `json:"from"`
	To          int64          `json:"to"`
	Name        string         `json:"name,omitempty"`
	HighwayType string         `json:"highwayType"`
	Oneway      bool           `json:"oneway"`
	Geometry    orb.LineString `json:"geometry"`
}

// Clone returns a copy that shares no memory with e.
func (e Edge) Clone() Edge {
	e.Geometry = e.Geometry.Clone()
	return e
}

// PolygonArea is a building, land-use area or generic polygon. The ring is
// not closed or deduplicated.
type PolygonArea struct {
	ID     int64             `json:"id"`
	Points orb.Ring          `json:"points"`
	Tags   map[string]string `json:"tags"`
}

// Clone returns a copy that shares no memory with a.
func (a PolygonArea) Clone() PolygonArea {
	a.Points = a.Points.Clone()
	a.Tags = maps.Clone(a.Tags)
	return a
}

// AreaLabel is a place name. Center is raw (lon, lat) and is never normalized.
type AreaLabel struct {
	Name    string    `json:"name"`
	Center  orb.Point `json:"center"`
	IsMajor bool      `json:"isMajor"`
}

// Graph owns every entity collection plus the normalization parameters.
//
// A Graph is not safe for concurrent use. Callers must not read it while a
// Builder is loading into it.
type Graph struct {
	Nodes     map[int64]Node `json:"nodes"`
	Roads     []Road         `json:"roads"`
	Edges     []Edge         `json:"edges"`
	Buildings []PolygonArea  `json:"buildings"`
	Polygons  []PolygonArea  `json:"polygons"`
	Labels    []AreaLabel    `json:"labels"`

	MinLat  float64 `json:"minLat"`
	MaxLat  float64 `json:"maxLat"`
	MinLon  float64 `json:"minLon"`
	MaxLon  float64 `json:"maxLon"`
	Scale   float64 `json:"scale"`
	CenterX float64 `json:"centerX"`
	CenterY float64 `json:"centerY"`

	// entities before these indexes are already in local coordinates
	marks watermarks
}

type watermarks struct {
	roads, edges, buildings, polygons int
}

// Counts is the size of every collection.
type Counts struct {
	Nodes     int `json:"nodes"`
	Roads     int `json:"roads"`
	Edges     int `json:"edges"`
	Buildings int `json:"buildings"`
	Polygons  int `json:"polygons"`
	Labels    int `json:"labels"`
}

// New returns an empty graph with an inverted bounding box and unit scale.
func New() *Graph {
	return &Graph{
		Nodes:  make(map[int64]Node),
		MinLat: 90,
		MaxLat: -90,
		MinLon: 180,
		MaxLon: -180,
		Scale:  1,
	}
}

// Areas returns the place labels.
func (g *Graph) Areas() []AreaLabel {
	return g.Labels
}

// Bounds returns the geographic box the most recent normalization used.
// It reports false until a normalization has been applied.
func (g *Graph) Bounds() (orb.Bound, bool) {
	if g.MinLon > g.MaxLon || g.MinLat > g.MaxLat {
		return orb.Bound{}, false
	}
	return orb.Bound{
		Min: orb.Point{g.MinLon, g.MinLat},
		Max: orb.Point{g.MaxLon, g.MaxLat},
	}, true
}

// Counts returns the current collection sizes.
func (g *Graph) Counts() Counts {
	return Counts{
		Nodes:     len(g.Nodes),
		Roads:     len(g.Roads),
		Edges:     len(g.Edges),
		Buildings: len(g.Buildings),
		Polygons:  len(g.Polygons),
		Labels:    len(g.Labels),
	}
}

// Road returns the road with the given id.
func (g *Graph) Road(id int64) (Road, bool) {
	for _, r := range g.Roads {
		if r.ID == id {
			return r, true
		}
	}
	return Road{}, false
}

// Pending reports whether entities exist that have not been normalized yet.
func (g *Graph) Pending() bool {
	return g.marks.roads < len(g.Roads) ||
		g.marks.edges < len(g.Edges) ||
		g.marks.buildings < len(g.Buildings) ||
		g.marks.polygons < len(g.Polygons)
}
