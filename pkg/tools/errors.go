// Package tools exposes the map graph, label placement and viewport queries
// as MCP tools.
package tools

import (
	"errors"
	"fmt"

	"github.com/NERVsystems/citymap/pkg/core"
	"github.com/NERVsystems/citymap/pkg/graph"
)

// Common error guidance messages
const (
	GuidanceOverpassTimeout = "Consider reducing the bounding box; a city district usually fits in 0.1 degrees."
	GuidanceOverpassData    = "The Overpass response was not a valid element document. Try again or check the endpoint."
	GuidanceEmptyGraph      = "Call build_map_graph first to load map data."
	GuidanceRoadNotFound    = "Use map_view or get_map_graph to list road ids."
)

func emptyGraphError() error {
	return core.NewError(core.ErrNoResults, "the map graph is empty").WithGuidance(GuidanceEmptyGraph)
}

// ingestError maps a load failure to a structured error.
func ingestError(err error) error {
	if _, ok := core.AsMCPError(err); ok {
		return err
	}
	if errors.Is(err, graph.ErrMalformedDocument) {
		return core.NewError(core.ErrParseError, err.Error()).WithGuidance(GuidanceOverpassData)
	}
	return err
}

func invalidInput(format string, args ...any) error {
	return core.NewValidationError(core.ErrInvalidInput, fmt.Sprintf(format, args...))
}

// GetToolUsageExample returns an example JSON snippet for using a specific tool.
// This is helpful for providing guidance when parameter validation fails
func GetToolUsageExample(toolName string) string {
	examples := map[string]string{
		"build_map_graph": `{
  "bbox": {"minLat": 32.09, "minLon": 74.13, "maxLat": 32.21, "maxLon": 74.24},
  "reset": false
}`,
		"get_map_graph": `{
  "include": ["roads", "labels"]
}`,
		"place_road_labels": `{
  "road_id": 4021113,
  "advance": 7
}`,
		"area_labels": `{
  "zoom": 1.5
}`,
		"map_view": `{
  "bound": {"minX": 0, "minY": -400, "maxX": 300, "maxY": 0}
}`,
	}

	if example, exists := examples[toolName]; exists {
		return example
	}
	return "{}"
}
