package tools

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"gopkg.in/yaml.v3"
)

// GetStyleOutput is the active render style
type GetStyleOutput struct {
	YAML      string   `json:"yaml"`
	RoadOrder []string `json:"roadOrder"`
}

// GetStyleTool returns a tool definition for reading the render style
func GetStyleTool() mcp.Tool {
	return mcp.NewTool("get_style",
		mcp.WithDescription("Return the active render style as YAML: background, building and area fills, and road strokes with their draw order"),
	)
}

// HandleGetStyle implements style retrieval
func HandleGetStyle(ws *Workspace) server.ToolHandlerFunc {
	return WithParsedInput("get_style", func(ctx context.Context, _ struct{}, logger *slog.Logger) (interface{}, error) {
		theme := ws.Theme()
		data, err := yaml.Marshal(theme)
		if err != nil {
			return nil, err
		}
		return GetStyleOutput{YAML: string(data), RoadOrder: theme.RoadOrder}, nil
	})
}
