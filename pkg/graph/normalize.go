package graph

import (
	"github.com/paulmach/orb"
)

// TargetExtent is the side of the local square the bounding box is fitted into.
const TargetExtent = 1000.0

// FallbackScale is used when the buildings bounding box has zero width and
// zero height.
const FallbackScale = 1.0

// Normalize maps every pending entity into the local plane.
//
// The bounding box is taken over pending buildings only. When there are none
// nothing is transformed and the pending entities stay in raw coordinates.
// Entities normalized by an earlier call are never touched again. Nodes and
// labels always keep raw coordinates.
//
// It reports whether a transform was applied.
func (g *Graph) Normalize() bool {
	buildings := g.Buildings[g.marks.buildings:]

	bound, ok := ringsBound(buildings)
	if !ok {
		return false
	}

	width := bound.Max.X() - bound.Min.X()
	height := bound.Max.Y() - bound.Min.Y()
	extent := max(width, height)

	scale := FallbackScale
	if extent > 0 {
		scale = TargetExtent / extent
	}

	g.MinLon, g.MinLat = bound.Min.X(), bound.Min.Y()
	g.MaxLon, g.MaxLat = bound.Max.X(), bound.Max.Y()
	g.Scale = scale
	g.CenterX = width * scale / 2
	g.CenterY = height * scale / 2

	t := transform{minLon: g.MinLon, maxLat: g.MaxLat, scale: scale}

	for i := range buildings {
		t.apply(buildings[i].Points)
	}
	for i := g.marks.polygons; i < len(g.Polygons); i++ {
		t.apply(g.Polygons[i].Points)
	}
	for i := g.marks.roads; i < len(g.Roads); i++ {
		t.apply(g.Roads[i].Points)
	}
	for i := g.marks.edges; i < len(g.Edges); i++ {
		t.apply(g.Edges[i].Geometry)
	}

	g.marks = watermarks{
		roads:     len(g.Roads),
		edges:     len(g.Edges),
		buildings: len(g.Buildings),
		polygons:  len(g.Polygons),
	}
	return true
}

// ringsBound returns the bound over every point of areas, or false if there
// are no points at all.
func ringsBound(areas []PolygonArea) (orb.Bound, bool) {
	var (
		bound orb.Bound
		seen  bool
	)
	for _, a := range areas {
		for _, p := range a.Points {
			if !seen {
				bound = orb.Bound{Min: p, Max: p}
				seen = true
				continue
			}
			bound = bound.Extend(p)
		}
	}
	return bound, seen
}

type transform struct {
	minLon, maxLat, scale float64
}

// apply rewrites pts in place. Latitudes map to (y - maxLat) * scale, so
// the northern edge lands on y = +0 (never -0) and everything south of it is
// negative.
func (t transform) apply(pts []orb.Point) {
	for i, p := range pts {
		pts[i] = orb.Point{
			(p.X() - t.minLon) * t.scale,
			(p.Y() - t.maxLat) * t.scale,
		}
	}
}
