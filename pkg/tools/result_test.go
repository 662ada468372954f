package tools

import (
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/NERVsystems/citymap/pkg/core"
)

func resultText(result *mcp.CallToolResult) string {
	for _, c := range result.Content {
		if text, ok := c.(mcp.TextContent); ok {
			return text.Text
		}
	}
	return ""
}

// requireSuccess fails the test when result is a tool error and returns its text.
func requireSuccess(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.Falsef(t, result.IsError, "unexpected tool error: %s", resultText(result))
	return resultText(result)
}

// decodeInto decodes the JSON body of a successful result into out.
func decodeInto(t *testing.T, result *mcp.CallToolResult, out any) {
	t.Helper()
	text := requireSuccess(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), out), "result body: %s", text)
}

// requireError fails the test unless result is a tool error and returns its text.
func requireError(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.Truef(t, result.IsError, "expected a tool error, got: %s", resultText(result))
	return resultText(result)
}

// requireErrorCode checks that result carries a structured error with code.
func requireErrorCode(t *testing.T, result *mcp.CallToolResult, code core.ErrorCode) core.MCPError {
	t.Helper()
	text := requireError(t, result)

	var mcpErr core.MCPError
	require.NoError(t, json.Unmarshal([]byte(text), &mcpErr), "error body is not structured: %s", text)
	require.Equal(t, string(code), mcpErr.Code, "error body: %s", text)
	return mcpErr
}
