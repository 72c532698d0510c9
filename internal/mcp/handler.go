package mcp

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/quotagate/quotagate/internal/model"
	"github.com/quotagate/quotagate/internal/service"
)

// --------------------------------------------------------------------------
// Parameter extraction helpers
// --------------------------------------------------------------------------

// requireString extracts a required string argument from the tool request.
func requireString(request mcp.CallToolRequest, key string) (string, error) {
	val, err := request.RequireString(key)
	if err != nil || val == "" {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	return val, nil
}

// windowArg parses the optional "window" argument. Absent means all_time.
func windowArg(request mcp.CallToolRequest) (model.Window, error) {
	return model.ParseWindow(request.GetString("window", ""))
}

// --------------------------------------------------------------------------
// Response builders
// --------------------------------------------------------------------------

// successJSON marshals data to JSON and returns it as a tool result.
func successJSON(data interface{}) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// toolError returns a tool-level error result. Errors returned this way are
// visible to the LLM so it can self-correct; they do NOT terminate the MCP
// session.
func toolError(format string, args ...interface{}) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...)), nil
}

// serviceError turns a service error into a tool error without leaking
// storage internals.
func serviceError(action string, err error) (*mcp.CallToolResult, error) {
	switch {
	case errors.Is(err, service.ErrKeyNotFound):
		return toolError("%s: API key not found. Use quotagate_list_keys to see valid key ids.", action)
	case service.IsStorageError(err):
		return toolError("%s: store unavailable, retry later", action)
	default:
		return toolError("%s: %v", action, err)
	}
}
