package tools

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
)

// trimString removes leading and trailing whitespace from a string.
func trimString(s string) string {
	return strings.TrimSpace(s)
}

// getOptionalString extracts an optional string argument from the request.
func getOptionalString(req mcp.CallToolRequest, key string) string {
	args, ok := req.Params.Arguments.(map[string]any)
	if !ok {
		return ""
	}
	val, ok := args[key].(string)
	if !ok {
		return ""
	}
	return trimString(val)
}

// getOptionalInt extracts an optional non-negative integer argument.
// JSON numbers arrive as float64; fractional or negative values are rejected.
func getOptionalInt(req mcp.CallToolRequest, key string) (int, error) {
	args, ok := req.Params.Arguments.(map[string]any)
	if !ok {
		return 0, nil
	}
	raw, present := args[key]
	if !present || raw == nil {
		return 0, nil
	}
	val, ok := raw.(float64)
	if !ok || val < 0 || val != math.Trunc(val) {
		return 0, fmt.Errorf("parameter '%s' must be a non-negative integer", key)
	}
	return int(val), nil
}

// requireNodeID extracts and parses the required node_id argument.
func requireNodeID(req mcp.CallToolRequest) (uuid.UUID, error) {
	raw, err := req.RequireString("node_id")
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(trimString(raw))
	if err != nil {
		return uuid.Nil, fmt.Errorf("parameter 'node_id' must be a UUID")
	}
	return id, nil
}
