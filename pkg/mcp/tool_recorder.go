package mcp

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-riskgraph/pkg/auth"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/metrics"
)

// ToolCallRecorder logs MCP tool calls and records their outcome and latency.
type ToolCallRecorder struct {
	logger *zap.Logger

	// startTimes tracks when tool calls begin, keyed by request ID.
	startTimes sync.Map
}

// NewToolCallRecorder creates a ToolCallRecorder.
func NewToolCallRecorder(logger *zap.Logger) *ToolCallRecorder {
	return &ToolCallRecorder{
		logger: logger.Named("mcp-tools"),
	}
}

// Hooks returns mcp-go Hooks configured to capture tool call events.
func (a *ToolCallRecorder) Hooks() *server.Hooks {
	hooks := &server.Hooks{}
	hooks.AddBeforeCallTool(a.beforeCallTool)
	hooks.AddAfterCallTool(a.afterCallTool)
	hooks.AddOnError(a.onError)
	return hooks
}

func (a *ToolCallRecorder) beforeCallTool(_ context.Context, id any, _ *mcplib.CallToolRequest) {
	a.startTimes.Store(id, time.Now())
}

func (a *ToolCallRecorder) afterCallTool(ctx context.Context, id any, req *mcplib.CallToolRequest, result *mcplib.CallToolResult) {
	outcome := metrics.ResultSuccess
	if result != nil && result.IsError {
		outcome = metrics.ResultError
	}
	a.observe(ctx, id, req.Params.Name, outcome, nil)
}

func (a *ToolCallRecorder) onError(ctx context.Context, id any, method mcplib.MCPMethod, message any, err error) {
	if method != mcplib.MethodToolsCall {
		return
	}

	req, ok := message.(*mcplib.CallToolRequest)
	if !ok {
		return
	}
	a.observe(ctx, id, req.Params.Name, metrics.ResultError, err)
}

func (a *ToolCallRecorder) observe(ctx context.Context, id any, tool, outcome string, err error) {
	elapsed := time.Since(a.loadAndDeleteStart(id))

	metrics.MCPToolCallsTotal.WithLabelValues(tool, outcome).Inc()
	metrics.MCPToolCallDuration.WithLabelValues(tool).Observe(elapsed.Seconds())

	fields := []zap.Field{
		zap.String("tool", tool),
		zap.String("result", outcome),
		zap.Duration("duration", elapsed),
	}
	if orgID := auth.GetOrgIDFromContext(ctx); orgID != uuid.Nil {
		fields = append(fields, zap.String("org_id", orgID.String()))
	}
	if err != nil {
		a.logger.Warn("MCP tool call failed", append(fields, zap.Error(err))...)
		return
	}
	a.logger.Debug("MCP tool call", fields...)
}

func (a *ToolCallRecorder) loadAndDeleteStart(id any) time.Time {
	if v, ok := a.startTimes.LoadAndDelete(id); ok {
		return v.(time.Time)
	}
	return time.Now()
}
