package tools

import (
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ekaya-inc/ekaya-riskgraph/pkg/apperrors"
)

// ErrorResponse represents a structured error in tool results.
// This is used to return actionable error information to the model
// as a successful tool result, ensuring error details are visible
// rather than being swallowed by the MCP client.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result containing a structured error.
// Use this for recoverable/actionable errors the caller can fix
// (e.g., invalid parameters, node not found).
//
// Do NOT use this for system failures (database connection errors,
// internal server errors) - those should still return Go errors.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return NewErrorResultWithDetails(code, message, nil)
}

// NewErrorResultWithDetails creates an error result with additional context.
//
// Example:
//
//	return NewErrorResultWithDetails(
//	    "invalid_parameters",
//	    "unknown direction",
//	    map[string]any{"expected": []string{"OUT", "IN", "BOTH"}},
//	), nil
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
		Details: details,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// serviceErrorResult converts caller-fixable service errors into error results.
// Anything else is returned as a Go error so the MCP layer reports a failure.
func serviceErrorResult(err error) (*mcp.CallToolResult, error) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return NewErrorResult("not_found", err.Error()), nil
	case errors.Is(err, apperrors.ErrInvalidArgument):
		return NewErrorResult("invalid_parameters", err.Error()), nil
	case errors.Is(err, apperrors.ErrImpactRadiusTooLarge):
		return NewErrorResultWithDetails("IMPACT_RADIUS_TOO_LARGE", err.Error(),
			map[string]any{"hint": "lower max_depth or restrict edge_types"}), nil
	case errors.Is(err, apperrors.ErrRiskRunInProgress):
		return NewErrorResult("risk_run_in_progress", err.Error()), nil
	default:
		return nil, err
	}
}

// jsonResult marshals v as the text content of a successful tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}
