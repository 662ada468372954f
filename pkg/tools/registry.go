package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/NERVsystems/citymap/pkg/monitoring"
	"github.com/NERVsystems/citymap/pkg/tracing"
)

// Registry contains all tool definitions and handlers
type Registry struct {
	logger *slog.Logger
	ws     *Workspace
}

// NewRegistry creates a new tool registry over ws
func NewRegistry(logger *slog.Logger, ws *Workspace) *Registry {
	return &Registry{
		logger: logger,
		ws:     ws,
	}
}

// ToolDefinition represents a citymap MCP tool definition.
type ToolDefinition struct {
	Name        string
	Description string
	Tool        mcp.Tool
	Handler     server.ToolHandlerFunc
}

// GetToolDefinitions returns the list of all available tools.
func (r *Registry) GetToolDefinitions() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        "get_version",
			Description: "Get the version information for this service",
			Tool:        GetVersionTool(),
			Handler:     HandleGetVersion,
		},

		// Graph construction and access
		{
			Name:        "build_map_graph",
			Description: "Fetch a bounding box from Overpass into the map graph. Parameters: bbox (object with minLat, minLon, maxLat, maxLon), reset (boolean)",
			Tool:        BuildMapGraphTool(),
			Handler:     HandleBuildMapGraph(r.ws),
		},
		{
			Name:        "get_map_graph",
			Description: "Return the map graph. Parameters: include (array of collection names), limit (number)",
			Tool:        GetMapGraphTool(),
			Handler:     HandleGetMapGraph(r.ws),
		},
		{
			Name:        "map_view",
			Description: "Query entities in a rectangle of the normalized map. Parameters: bound (object) or viewport (object)",
			Tool:        MapViewTool(),
			Handler:     HandleMapView(r.ws),
		},

		// Labels and style
		{
			Name:        "place_road_labels",
			Description: "Place road names along their polylines. Parameters: road_id (number), advance (number)",
			Tool:        PlaceRoadLabelsTool(),
			Handler:     HandlePlaceRoadLabels(r.ws),
		},
		{
			Name:        "area_labels",
			Description: "Project and size place name labels. Parameters: zoom (number)",
			Tool:        AreaLabelsTool(),
			Handler:     HandleAreaLabels(r.ws),
		},
		{
			Name:        "get_style",
			Description: "Return the render style",
			Tool:        GetStyleTool(),
			Handler:     HandleGetStyle(r.ws),
		},
	}
}

// RegisterTools registers all tools with the MCP server.
func (r *Registry) RegisterTools(mcpServer *server.MCPServer) {
	for _, def := range r.GetToolDefinitions() {
		r.logger.Info("registering tool", "name", def.Name)
		mcpServer.AddTool(def.Tool, r.wrapWithTracing(def.Name, def.Handler))
	}
}

// wrapWithTracing wraps a tool handler with a span and request metrics
func (r *Registry) wrapWithTracing(toolName string, handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, span := tracing.StartTool(ctx, toolName)
		defer span.End()

		startTime := time.Now()
		result, err := handler(ctx, req)
		duration := time.Since(startTime)
		durationMs := duration.Milliseconds()

		// Tool failures are reported in the result, not as Go errors
		status := tracing.StatusSuccess
		failed := err != nil || (result != nil && result.IsError)
		if failed {
			status = tracing.StatusError
			monitoring.RecordError(toolName, "tool_error")
		}
		switch {
		case err != nil:
			tracing.Fail(span, err, "")
		case failed:
			tracing.Fail(span, nil, "tool returned an error result")
		default:
			tracing.Succeed(span)
		}
		monitoring.RecordMCPRequest(toolName, duration, !failed)

		resultSize := 0
		if result != nil && result.Content != nil {
			if data, marshalErr := json.Marshal(result.Content); marshalErr == nil {
				resultSize = len(data)
			}
		}

		span.SetAttributes(tracing.MCPToolAttributes(toolName, status, durationMs, resultSize)...)

		r.logger.Debug("tool execution traced",
			"tool", toolName,
			"duration_ms", durationMs,
			"status", status,
			"result_size", resultSize,
		)

		return result, err
	}
}

// GetToolNames returns a list of all tool names.
func (r *Registry) GetToolNames() []string {
	defs := r.GetToolDefinitions()
	names := make([]string, len(defs))
	for i, def := range defs {
		names[i] = def.Name
	}
	return names
}
