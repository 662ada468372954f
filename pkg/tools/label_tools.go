package tools

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/NERVsystems/citymap/pkg/core"
	"github.com/NERVsystems/citymap/pkg/graph"
	"github.com/NERVsystems/citymap/pkg/label"
	"github.com/NERVsystems/citymap/pkg/spatial"
	"github.com/NERVsystems/citymap/pkg/view"
)

// DefaultAdvance is the glyph width used when the caller gives none, in
// normalized map units.
const DefaultAdvance = 7.0

// PlaceRoadLabelsInput defines the input parameters for road label placement
type PlaceRoadLabelsInput struct {
	RoadID  *int64  `json:"road_id,omitempty"`
	Advance float64 `json:"advance,omitempty"`
}

// PlaceRoadLabelsOutput lists the placed labels. Named roads whose text does
// not fit are counted in Skipped.
type PlaceRoadLabelsOutput struct {
	Advance float64           `json:"advance"`
	Labels  []label.RoadLabel `json:"labels"`
	Placed  int               `json:"placed"`
	Skipped int               `json:"skipped"`
}

// PlaceRoadLabelsTool returns a tool definition for curved road labels
func PlaceRoadLabelsTool() mcp.Tool {
	return mcp.NewTool("place_road_labels",
		mcp.WithDescription("Place road names character by character along their polylines, centered, with each glyph rotated to its segment. Names longer than the road are skipped"),
		mcp.WithNumber("road_id",
			mcp.Description("Place only this road; defaults to every named road"),
		),
		mcp.WithNumber("advance",
			mcp.Description("Width of one character in normalized map units"),
			mcp.DefaultNumber(DefaultAdvance),
		),
	)
}

// HandlePlaceRoadLabels implements road label placement
func HandlePlaceRoadLabels(ws *Workspace) server.ToolHandlerFunc {
	return WithParsedInput("place_road_labels", func(ctx context.Context, input PlaceRoadLabelsInput, logger *slog.Logger) (interface{}, error) {
		advance := input.Advance
		if advance == 0 {
			advance = DefaultAdvance
		}
		if advance < 0 {
			return nil, invalidInput("advance must be positive, got %g", advance)
		}
		metrics := label.FixedMetrics(advance)

		out := PlaceRoadLabelsOutput{Advance: advance}
		err := ws.View(func(g *graph.Graph, _ *spatial.Index) error {
			if len(g.Roads) == 0 {
				return emptyGraphError()
			}

			roads := g.Roads
			if input.RoadID != nil {
				r, ok := g.Road(*input.RoadID)
				if !ok {
					return core.NewError(core.ErrNotFound, "road not found").WithGuidance(GuidanceRoadNotFound)
				}
				roads = []graph.Road{r}
			}

			named := 0
			for _, r := range roads {
				if r.Name != "" && len(r.Points) >= 2 {
					named++
				}
			}
			out.Labels = label.RoadLabels(roads, metrics)
			out.Placed = len(out.Labels)
			out.Skipped = named - out.Placed
			return nil
		})
		if err != nil {
			return nil, err
		}

		logger.Debug("placed road labels", "placed", out.Placed, "skipped", out.Skipped)
		return out, nil
	})
}

// AreaLabelsInput defines the input parameters for area label layout
type AreaLabelsInput struct {
	Zoom float64 `json:"zoom,omitempty"`
}

// AreaLabelsOutput lists projected and sized place labels
type AreaLabelsOutput struct {
	Zoom    float64            `json:"zoom"`
	Visible bool               `json:"visible"`
	Labels  []label.PlacedArea `json:"labels"`
}

// AreaLabelsTool returns a tool definition for place name labels
func AreaLabelsTool() mcp.Tool {
	return mcp.NewTool("area_labels",
		mcp.WithDescription("Project neighbourhood and suburb names to Web Mercator metres and size them for a zoom level. Area labels are hidden above zoom 2"),
		mcp.WithNumber("zoom",
			mcp.Description("Viewport zoom (0.9-60)"),
			mcp.DefaultNumber(1),
		),
	)
}

// HandleAreaLabels implements area label layout
func HandleAreaLabels(ws *Workspace) server.ToolHandlerFunc {
	return WithParsedInput("area_labels", func(ctx context.Context, input AreaLabelsInput, logger *slog.Logger) (interface{}, error) {
		zoom := input.Zoom
		if zoom == 0 {
			zoom = 1
		}
		if zoom < view.MinZoom || zoom > view.MaxZoom {
			return nil, invalidInput("zoom must be between %g and %g, got %g", view.MinZoom, view.MaxZoom, zoom)
		}

		out := AreaLabelsOutput{Zoom: zoom, Visible: label.AreaLabelsVisible(zoom)}
		err := ws.View(func(g *graph.Graph, _ *spatial.Index) error {
			out.Labels = label.AreaLabels(g.Areas(), zoom)
			return nil
		})
		return out, err
	})
}
