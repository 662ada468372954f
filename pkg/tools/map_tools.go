package tools

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/paulmach/orb"

	"github.com/NERVsystems/citymap/pkg/core"
	"github.com/NERVsystems/citymap/pkg/geo"
	"github.com/NERVsystems/citymap/pkg/graph"
	"github.com/NERVsystems/citymap/pkg/label"
	"github.com/NERVsystems/citymap/pkg/spatial"
	"github.com/NERVsystems/citymap/pkg/view"
)

// DefaultCollectionLimit caps each collection returned by get_map_graph.
const DefaultCollectionLimit = 500

// BuildMapGraphInput defines the input parameters for building the map graph
type BuildMapGraphInput struct {
	BBox  *geo.BoundingBox `json:"bbox,omitempty"`
	Reset bool             `json:"reset,omitempty"`
}

// Extent is the normalized size of the map.
type Extent struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// BuildMapGraphOutput defines the output of an ingest
type BuildMapGraphOutput struct {
	BBox    geo.BoundingBox  `json:"bbox"`
	Summary graph.Summary    `json:"summary"`
	Indexed int              `json:"indexed"`
	Bounds  *geo.BoundingBox `json:"normalizationBounds,omitempty"`
	Extent  Extent           `json:"extent"`
}

// BuildMapGraphTool returns a tool definition for ingesting a bounding box
func BuildMapGraphTool() mcp.Tool {
	return mcp.NewTool("build_map_graph",
		mcp.WithDescription("Fetch roads, buildings, land use and place names inside a bounding box from Overpass and add them to the map graph"),
		mcp.WithObject("bbox",
			mcp.Description("Bounding box with fields minLat, minLon, maxLat, maxLon. Defaults to the configured city. Example: {\"minLat\": 32.09, \"minLon\": 74.13, \"maxLat\": 32.21, \"maxLon\": 74.24}"),
		),
		mcp.WithBoolean("reset",
			mcp.Description("Discard previously loaded data first"),
		),
	)
}

// HandleBuildMapGraph implements map graph ingestion
func HandleBuildMapGraph(ws *Workspace) server.ToolHandlerFunc {
	return WithParsedInput("build_map_graph", func(ctx context.Context, input BuildMapGraphInput, logger *slog.Logger) (interface{}, error) {
		bbox := ws.DefaultBBox()
		if input.BBox != nil {
			bbox = *input.BBox
		}
		if err := bbox.Validate(); err != nil {
			return nil, core.NewValidationError(core.ErrInvalidBBox, err.Error())
		}

		if input.Reset {
			logger.Info("resetting map graph")
			ws.Reset()
		}

		summary, err := ws.Ingest(ctx, bbox)
		if err != nil {
			return nil, ingestError(err)
		}

		out := BuildMapGraphOutput{BBox: bbox, Summary: summary}
		err = ws.View(func(g *graph.Graph, idx *spatial.Index) error {
			out.Indexed = idx.Size()
			out.Extent = Extent{Width: g.CenterX * 2, Height: g.CenterY * 2}
			if b, ok := g.Bounds(); ok {
				out.Bounds = &geo.BoundingBox{MinLat: b.Min.Lat(), MinLon: b.Min.Lon(), MaxLat: b.Max.Lat(), MaxLon: b.Max.Lon()}
			}
			return nil
		})
		return out, err
	})
}

// GetMapGraphInput selects the collections to return
type GetMapGraphInput struct {
	Include []string `json:"include,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

// MapGraphOutput is a possibly truncated copy of the map graph
type MapGraphOutput struct {
	Counts    graph.Counts        `json:"counts"`
	Scale     float64             `json:"scale"`
	Extent    Extent              `json:"extent"`
	Truncated bool                `json:"truncated"`
	Nodes     []graph.Node        `json:"nodes,omitempty"`
	Roads     []graph.Road        `json:"roads,omitempty"`
	Edges     []graph.Edge        `json:"edges,omitempty"`
	Buildings []graph.PolygonArea `json:"buildings,omitempty"`
	Polygons  []graph.PolygonArea `json:"polygons,omitempty"`
	Labels    []graph.AreaLabel   `json:"labels,omitempty"`
}

// GetMapGraphTool returns a tool definition for reading the map graph
func GetMapGraphTool() mcp.Tool {
	return mcp.NewTool("get_map_graph",
		mcp.WithDescription("Return the loaded map graph in normalized coordinates. Nodes and labels keep raw latitude and longitude"),
		mcp.WithArray("include",
			mcp.Description("Collections to return: nodes, roads, edges, buildings, polygons, labels. Defaults to all but nodes"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum entities per collection (default 500)"),
		),
	)
}

// HandleGetMapGraph implements map graph retrieval
func HandleGetMapGraph(ws *Workspace) server.ToolHandlerFunc {
	return WithParsedInput("get_map_graph", func(ctx context.Context, input GetMapGraphInput, logger *slog.Logger) (interface{}, error) {
		include := map[string]bool{
			graph.KindRoads: true, graph.KindEdges: true, graph.KindBuildings: true,
			graph.KindPolygons: true, graph.KindLabels: true,
		}
		if len(input.Include) > 0 {
			include = make(map[string]bool, len(input.Include))
			for _, k := range input.Include {
				switch k {
				case graph.KindNodes, graph.KindRoads, graph.KindEdges,
					graph.KindBuildings, graph.KindPolygons, graph.KindLabels:
					include[k] = true
				default:
					return nil, invalidInput("unknown collection %q", k)
				}
			}
		}
		limit := input.Limit
		if limit <= 0 {
			limit = DefaultCollectionLimit
		}

		var out MapGraphOutput
		err := ws.View(func(g *graph.Graph, _ *spatial.Index) error {
			out.Counts = g.Counts()
			out.Scale = g.Scale
			out.Extent = Extent{Width: g.CenterX * 2, Height: g.CenterY * 2}

			// Normalize rewrites pending geometry in place, and the result is
			// encoded after the lock is released, so nothing may alias g.
			if include[graph.KindNodes] {
				ids := slices.Sorted(maps.Keys(g.Nodes))
				for _, id := range head(ids, limit, &out.Truncated) {
					out.Nodes = append(out.Nodes, g.Nodes[id])
				}
			}
			if include[graph.KindRoads] {
				out.Roads = cloneHead(g.Roads, limit, &out.Truncated, graph.Road.Clone)
			}
			if include[graph.KindEdges] {
				out.Edges = cloneHead(g.Edges, limit, &out.Truncated, graph.Edge.Clone)
			}
			if include[graph.KindBuildings] {
				out.Buildings = cloneHead(g.Buildings, limit, &out.Truncated, graph.PolygonArea.Clone)
			}
			if include[graph.KindPolygons] {
				out.Polygons = cloneHead(g.Polygons, limit, &out.Truncated, graph.PolygonArea.Clone)
			}
			if include[graph.KindLabels] {
				out.Labels = slices.Clone(head(g.Labels, limit, &out.Truncated))
			}
			return nil
		})
		return out, err
	})
}

func head[T any](s []T, n int, truncated *bool) []T {
	if len(s) > n {
		*truncated = true
		return s[:n]
	}
	return s
}

// cloneHead is head with every element deep copied.
func cloneHead[T any](s []T, n int, truncated *bool, clone func(T) T) []T {
	s = head(s, n, truncated)
	if len(s) == 0 {
		return nil
	}
	out := make([]T, len(s))
	for i, v := range s {
		out[i] = clone(v)
	}
	return out
}

// NormalBound is a rectangle in normalized map units.
type NormalBound struct {
	MinX float64 `json:"minX"`
	MinY float64 `json:"minY"`
	MaxX float64 `json:"maxX"`
	MaxY float64 `json:"maxY"`
}

func (b NormalBound) orb() orb.Bound {
	return orb.Bound{Min: orb.Point{b.MinX, b.MinY}, Max: orb.Point{b.MaxX, b.MaxY}}
}

func fromOrb(b orb.Bound) NormalBound {
	return NormalBound{MinX: b.Min.X(), MinY: b.Min.Y(), MaxX: b.Max.X(), MaxY: b.Max.Y()}
}

// ViewportInput describes a window over the map. Without a pan the window is
// centered on the map.
type ViewportInput struct {
	Width  float64  `json:"width"`
	Height float64  `json:"height"`
	Zoom   float64  `json:"zoom"`
	PanX   *float64 `json:"panX,omitempty"`
	PanY   *float64 `json:"panY,omitempty"`
}

// MapViewInput defines the input parameters for a viewport query
type MapViewInput struct {
	Bound    *NormalBound   `json:"bound,omitempty"`
	Viewport *ViewportInput `json:"viewport,omitempty"`
}

// MapViewOutput lists the entities intersecting the queried rectangle
type MapViewOutput struct {
	Bound      NormalBound        `json:"bound"`
	Viewport   *view.Viewport     `json:"viewport,omitempty"`
	Counts     map[string]int     `json:"counts"`
	Entries    []spatial.Entry    `json:"entries"`
	RoadOrder  []int64            `json:"roadOrder"`
	AreaLabels []label.PlacedArea `json:"areaLabels,omitempty"`
}

// MapViewTool returns a tool definition for viewport queries
func MapViewTool() mcp.Tool {
	return mcp.NewTool("map_view",
		mcp.WithDescription("List the buildings, polygons and roads intersecting a rectangle of the normalized map, with roads in draw order. Give either bound or viewport; with neither the whole map is used"),
		mcp.WithObject("bound",
			mcp.Description("Rectangle in normalized map units with fields minX, minY, maxX, maxY"),
		),
		mcp.WithObject("viewport",
			mcp.Description("Window with fields width, height (pixels), zoom (0.9-60, default 1) and optional panX, panY. Area labels are included when the zoom shows them"),
		),
	)
}

// HandleMapView implements viewport queries
func HandleMapView(ws *Workspace) server.ToolHandlerFunc {
	return WithParsedInput("map_view", func(ctx context.Context, input MapViewInput, logger *slog.Logger) (interface{}, error) {
		if input.Bound != nil && input.Viewport != nil {
			return nil, invalidInput("give either bound or viewport, not both")
		}

		var out MapViewOutput
		err := ws.View(func(g *graph.Graph, idx *spatial.Index) error {
			if idx.Size() == 0 {
				return emptyGraphError()
			}

			var b orb.Bound
			switch {
			case input.Bound != nil:
				if input.Bound.MinX > input.Bound.MaxX || input.Bound.MinY > input.Bound.MaxY {
					return invalidInput("bound minimum exceeds maximum")
				}
				b = input.Bound.orb()
			case input.Viewport != nil:
				v, err := viewport(input.Viewport, g)
				if err != nil {
					return err
				}
				out.Viewport = v
				out.AreaLabels = label.AreaLabels(g.Labels, v.Zoom)
				b = v.Visible()
			default:
				// normalized y runs from 0 at the north edge down to -height
				b = orb.Bound{
					Min: orb.Point{0, -g.CenterY * 2},
					Max: orb.Point{g.CenterX * 2, 0},
				}.Pad(1)
			}

			entries, err := idx.Query(b)
			if errors.Is(err, spatial.ErrInvalidBound) {
				return invalidInput("view rectangle must be finite")
			}
			if err != nil {
				return err
			}
			out.Bound = fromOrb(b)
			out.Entries = entries
			out.Counts = make(map[string]int)
			visible := make(map[int]bool)
			for _, e := range out.Entries {
				out.Counts[string(e.Kind)]++
				if e.Kind == spatial.KindRoad {
					visible[e.Index] = true
				}
			}

			var roads []graph.Road
			for i, r := range g.Roads {
				if visible[i] {
					roads = append(roads, r)
				}
			}
			for _, r := range ws.Theme().OrderRoads(roads) {
				out.RoadOrder = append(out.RoadOrder, r.ID)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		logger.Debug("map view", "entries", len(out.Entries))
		return out, nil
	})
}

func viewport(in *ViewportInput, g *graph.Graph) (*view.Viewport, error) {
	if in.Width <= 0 || in.Height <= 0 {
		return nil, invalidInput("viewport width and height must be positive")
	}
	zoom := in.Zoom
	if zoom == 0 {
		zoom = 1
	}
	if zoom < view.MinZoom || zoom > view.MaxZoom {
		return nil, invalidInput("zoom must be between %g and %g, got %g", view.MinZoom, view.MaxZoom, zoom)
	}

	v := view.New(in.Width, in.Height)
	v.Zoom = zoom
	v.CenterOn(g)
	if in.PanX != nil {
		v.PanX = *in.PanX
	}
	if in.PanY != nil {
		v.PanY = *in.PanY
	}
	return v, nil
}
