// Package spatial indexes normalized map entities for viewport queries.
package spatial

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"

	"github.com/NERVsystems/citymap/pkg/graph"
)

// minExtent keeps point-like and axis-aligned entities at a non-zero size,
// which the R-tree requires. Units are normalized map units.
const minExtent = 1e-3

// Kind identifies the collection an entry came from.
type Kind string

const (
	KindBuilding Kind = "building"
	KindPolygon  Kind = "polygon"
	KindRoad     Kind = "road"
)

// ErrInvalidBound is returned by Query for a rectangle with a NaN or
// infinite coordinate.
var ErrInvalidBound = errors.New("spatial: bound is not finite")

var kindOrder = map[Kind]int{KindBuilding: 0, KindPolygon: 1, KindRoad: 2}

// Entry references one entity by collection and position.
type Entry struct {
	Kind  Kind      `json:"kind"`
	Index int       `json:"index"`
	ID    int64     `json:"id"`
	Bound orb.Bound `json:"-"`

	rect rtreego.Rect
}

// Bounds implements rtreego.Spatial.
func (e *Entry) Bounds() rtreego.Rect {
	return e.rect
}

// Index is an R-tree over the buildings, polygons and roads of a graph.
// It is a snapshot; rebuild it after loading more data.
type Index struct {
	tree *rtreego.Rtree
	size int
}

// NewIndex indexes every entity of g that has at least one point and finite
// coordinates.
func NewIndex(g *graph.Graph) *Index {
	var entries []rtreego.Spatial
	add := func(kind Kind, i int, id int64, pts []orb.Point) {
		if len(pts) == 0 {
			return
		}
		b := bound(pts)
		r, err := rect(b)
		if err != nil {
			return
		}
		entries = append(entries, &Entry{Kind: kind, Index: i, ID: id, Bound: b, rect: r})
	}

	for i, b := range g.Buildings {
		add(KindBuilding, i, b.ID, b.Points)
	}
	for i, p := range g.Polygons {
		add(KindPolygon, i, p.ID, p.Points)
	}
	for i, r := range g.Roads {
		add(KindRoad, i, r.ID, r.Points)
	}

	return &Index{
		tree: rtreego.NewTree(2, 25, 50, entries...),
		size: len(entries),
	}
}

// Size returns the number of indexed entities.
func (idx *Index) Size() int {
	return idx.size
}

// Query returns entries whose bounding box intersects b, ordered by kind
// (buildings, polygons, roads) then collection position.
func (idx *Index) Query(b orb.Bound) ([]Entry, error) {
	r, err := rect(b)
	if err != nil {
		return nil, err
	}
	hits := idx.tree.SearchIntersect(r)

	out := make([]Entry, 0, len(hits))
	for _, h := range hits {
		out = append(out, *h.(*Entry))
	}
	slices.SortFunc(out, func(a, b Entry) int {
		if c := cmp.Compare(kindOrder[a.Kind], kindOrder[b.Kind]); c != 0 {
			return c
		}
		return cmp.Compare(a.Index, b.Index)
	})
	return out, nil
}

func bound(pts []orb.Point) orb.Bound {
	b := orb.Bound{Min: pts[0], Max: pts[0]}
	for _, p := range pts[1:] {
		b = b.Extend(p)
	}
	return b
}

func rect(b orb.Bound) (rtreego.Rect, error) {
	for _, v := range []float64{b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y()} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return rtreego.Rect{}, ErrInvalidBound
		}
	}
	point := rtreego.Point{b.Min.X(), b.Min.Y()}
	lengths := []float64{
		max(b.Max.X()-b.Min.X(), minExtent),
		max(b.Max.Y()-b.Min.Y(), minExtent),
	}
	r, err := rtreego.NewRect(point, lengths)
	if err != nil {
		return rtreego.Rect{}, fmt.Errorf("spatial: %w", err)
	}
	return r, nil
}
