package graph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"go.opentelemetry.io/otel/attribute"

	"github.com/NERVsystems/citymap/pkg/monitoring"
	"github.com/NERVsystems/citymap/pkg/osm"
	"github.com/NERVsystems/citymap/pkg/tracing"
)

// Place values that produce area labels, and the subset rendered as major.
var (
	labelPlaces = map[string]bool{
		"neighbourhood": true,
		"suburb":        true,
		"quarter":       true,
		"city_block":    true,
	}
	majorPlaces = map[string]bool{
		"suburb":  true,
		"quarter": true,
	}
)

// Summary describes one ingestion pass.
type Summary struct {
	IngestID       string        `json:"ingestId"`
	Elements       int           `json:"elements"`
	Added          Counts        `json:"added"`
	Total          Counts        `json:"total"`
	DroppedRefs    int           `json:"droppedNodeRefs"`
	DroppedMembers int           `json:"droppedMembers"`
	Normalized     bool          `json:"normalized"`
	Scale          float64       `json:"scale"`
	Duration       time.Duration `json:"duration"`
}

// Builder loads Overpass documents into a Graph it does not own.
type Builder struct {
	graph  *Graph
	logger *slog.Logger
}

// NewBuilder returns a builder appending to g. A nil logger uses slog.Default.
func NewBuilder(g *Graph, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		graph:  g,
		logger: logger.With("component", "graph_builder"),
	}
}

// staging collects the output of the element passes before anything is
// committed to the graph.
type staging struct {
	nodes     map[int64]orb.Point // id -> (lon, lat)
	wayRings  map[int64]orb.Ring
	roads     []Road
	edges     []Edge
	buildings []PolygonArea
	polygons  []PolygonArea
	labels    []AreaLabel

	droppedRefs    int
	droppedMembers int
}

// Load decodes data and appends its entities to the graph, then normalizes
// the newly added entities once. A malformed document returns an error
// wrapping ErrMalformedDocument and leaves the graph untouched.
func (b *Builder) Load(ctx context.Context, data []byte) (Summary, error) {
	start := time.Now()
	ingestID := uuid.NewString()
	logger := b.logger.With("ingest_id", ingestID)

	ctx, span := tracing.StartLoad(ctx, ingestID, len(data))
	defer span.End()

	doc, err := osm.DecodeDocument(data)
	if err != nil {
		tracing.Fail(span, err, "malformed document")
		monitoring.RecordIngest(time.Since(start), false)
		monitoring.RecordError("graph", "malformed_document")
		logger.Warn("rejected document", "error", err, "bytes", len(data))
		return Summary{IngestID: ingestID}, fmt.Errorf("load document: %w", err)
	}
	span.SetAttributes(attribute.Int(tracing.AttrIngestElements, len(doc.Elements)))

	before := b.graph.Counts()
	st := &staging{
		nodes:    make(map[int64]orb.Point),
		wayRings: make(map[int64]orb.Ring),
	}

	b.pass(ctx, logger, "nodes", func() { st.collectNodes(doc.Elements) })
	b.pass(ctx, logger, "ways", func() { st.collectWays(doc.Elements) })
	b.pass(ctx, logger, "relations", func() { st.collectRelations(doc.Elements) })

	var normalized bool
	b.pass(ctx, logger, "commit", func() {
		b.commit(st)
		normalized = b.graph.Normalize()
	})
	b.pass(ctx, logger, "labels", func() {
		st.collectLabels(doc.Elements)
		b.graph.Labels = append(b.graph.Labels, st.labels...)
	})

	after := b.graph.Counts()
	summary := Summary{
		IngestID:       ingestID,
		Elements:       len(doc.Elements),
		Added:          diff(after, before),
		Total:          after,
		DroppedRefs:    st.droppedRefs,
		DroppedMembers: st.droppedMembers,
		Normalized:     normalized,
		Scale:          b.graph.Scale,
		Duration:       time.Since(start),
	}

	b.record(summary)
	span.SetAttributes(
		attribute.Bool(tracing.AttrNormalized, normalized),
		attribute.Float64(tracing.AttrNormalizeScale, b.graph.Scale),
	)
	tracing.Succeed(span)

	logger.Info("ingestion complete",
		"elements", summary.Elements,
		"nodes", summary.Added.Nodes,
		"roads", summary.Added.Roads,
		"edges", summary.Added.Edges,
		"buildings", summary.Added.Buildings,
		"polygons", summary.Added.Polygons,
		"labels", summary.Added.Labels,
		"dropped_node_refs", summary.DroppedRefs,
		"dropped_members", summary.DroppedMembers,
		"normalized", normalized,
		"scale", b.graph.Scale,
		"duration", summary.Duration,
	)
	if !normalized && b.graph.Pending() {
		logger.Warn("no buildings to derive a bounding box from, new entities left in geographic coordinates")
	}
	return summary, nil
}

// pass runs fn inside a child span.
func (b *Builder) pass(ctx context.Context, logger *slog.Logger, name string, fn func()) {
	_, span := tracing.StartPass(ctx, name)
	defer span.End()

	start := time.Now()
	fn()
	logger.Debug("pass complete", "pass", name, "duration", time.Since(start))
}

// commit appends staged entities and resolved nodes to the graph. A node id
// already in the graph keeps its first coordinates.
func (b *Builder) commit(st *staging) {
	g := b.graph
	g.Roads = append(g.Roads, st.roads...)
	g.Edges = append(g.Edges, st.edges...)
	g.Buildings = append(g.Buildings, st.buildings...)
	g.Polygons = append(g.Polygons, st.polygons...)

	for id, p := range st.nodes {
		if _, ok := g.Nodes[id]; ok {
			continue
		}
		g.Nodes[id] = Node{ID: id, Lat: p.Lat(), Lon: p.Lon()}
	}
}

func (b *Builder) record(s Summary) {
	monitoring.RecordIngest(s.Duration, true)
	monitoring.RecordEntities(KindNodes, s.Added.Nodes)
	monitoring.RecordEntities(KindRoads, s.Added.Roads)
	monitoring.RecordEntities(KindEdges, s.Added.Edges)
	monitoring.RecordEntities(KindBuildings, s.Added.Buildings)
	monitoring.RecordEntities(KindPolygons, s.Added.Polygons)
	monitoring.RecordEntities(KindLabels, s.Added.Labels)
	monitoring.RecordDroppedReferences("node", s.DroppedRefs)
	monitoring.RecordDroppedReferences("member", s.DroppedMembers)
	if s.Normalized {
		monitoring.RecordNormalization(s.Scale)
	}
}

func (st *staging) collectNodes(elements []osm.Element) {
	for i := range elements {
		el := &elements[i]
		if el.Type != osm.TypeNode {
			continue
		}
		st.nodes[el.ID] = orb.Point{el.Lon, el.Lat}
	}
}

func (st *staging) collectWays(elements []osm.Element) {
	for i := range elements {
		el := &elements[i]
		if el.Type != osm.TypeWay {
			continue
		}

		points := st.resolve(el.Nodes)
		highway, isRoad := el.Tags["highway"]

		if isRoad {
			st.roads = append(st.roads, Road{
				ID:     el.ID,
				Name:   el.Tag("name"),
				Type:   highway,
				Points: orb.LineString(clonePoints(points)),
			})
			st.addEdges(el, highway)
		}

		st.wayRings[el.ID] = orb.Ring(points)

		area := PolygonArea{
			ID:     el.ID,
			Points: orb.Ring(clonePoints(points)),
			Tags:   el.Tags,
		}
		switch {
		case el.HasTag("building"):
			st.buildings = append(st.buildings, area)
		case !isRoad:
			st.polygons = append(st.polygons, area)
		}
	}
}

// resolve maps node ids to points, dropping ids that were not in the document.
func (st *staging) resolve(ids []int64) []orb.Point {
	points := make([]orb.Point, 0, len(ids))
	for _, id := range ids {
		p, ok := st.nodes[id]
		if !ok {
			st.droppedRefs++
			continue
		}
		points = append(points, p)
	}
	return points
}

// addEdges emits one edge per adjacent node pair of the way where both ends
// resolved. A dangling node breaks the chain on both sides; no edge bridges it.
func (st *staging) addEdges(el *osm.Element, highway string) {
	name := el.Tag("name")
	oneway := el.Tag("oneway") == "yes"

	for i := 0; i+1 < len(el.Nodes); i++ {
		from, to := el.Nodes[i], el.Nodes[i+1]
		a, okA := st.nodes[from]
		b, okB := st.nodes[to]
		if !okA || !okB {
			continue
		}
		st.edges = append(st.edges, Edge{
			From:        from,
			To:          to,
			Name:        name,
			HighwayType: highway,
			Oneway:      oneway,
			Geometry:    orb.LineString{a, b},
		})
	}
}

func (st *staging) collectRelations(elements []osm.Element) {
	for i := range elements {
		el := &elements[i]
		if el.Type != osm.TypeRelation {
			continue
		}
		if el.Tag("type") != "multipolygon" || !el.HasTag("building") {
			continue
		}

		var merged orb.Ring
		for _, m := range el.Members {
			if m.Type != osm.TypeWay || m.Role != "outer" {
				continue
			}
			ring, ok := st.wayRings[m.Ref]
			if !ok {
				st.droppedMembers++
				continue
			}
			merged = append(merged, ring...)
		}

		if len(merged) == 0 {
			continue
		}
		st.buildings = append(st.buildings, PolygonArea{
			ID:     el.ID,
			Points: merged,
			Tags:   el.Tags,
		})
	}
}

func (st *staging) collectLabels(elements []osm.Element) {
	for i := range elements {
		el := &elements[i]
		if el.Type != osm.TypeNode {
			continue
		}
		place := el.Tag("place")
		name, hasName := el.Tags["name"]
		if !labelPlaces[place] || !hasName {
			continue
		}
		st.labels = append(st.labels, AreaLabel{
			Name:    name,
			Center:  orb.Point{el.Lon, el.Lat},
			IsMajor: majorPlaces[place],
		})
	}
}

func clonePoints(pts []orb.Point) []orb.Point {
	out := make([]orb.Point, len(pts))
	copy(out, pts)
	return out
}

func diff(a, b Counts) Counts {
	return Counts{
		Nodes:     a.Nodes - b.Nodes,
		Roads:     a.Roads - b.Roads,
		Edges:     a.Edges - b.Edges,
		Buildings: a.Buildings - b.Buildings,
		Polygons:  a.Polygons - b.Polygons,
		Labels:    a.Labels - b.Labels,
	}
}
