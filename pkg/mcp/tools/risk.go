package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-riskgraph/pkg/models"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/services"
)

const defaultDriverLimit = 10

// RiskToolDeps contains dependencies for risk MCP tools.
type RiskToolDeps struct {
	RiskService services.RiskService
	RiskRunner  services.RiskRunner
	Logger      *zap.Logger
}

// RegisterRiskTools registers the org risk MCP tools.
func RegisterRiskTools(s *server.MCPServer, deps *RiskToolDeps) {
	registerGetOrgRiskTool(s, deps)
	registerGetRiskDriversTool(s, deps)
	registerRecomputeRiskTool(s, deps)
}

func registerGetOrgRiskTool(s *server.MCPServer, deps *RiskToolDeps) {
	tool := mcp.NewTool(
		"get_org_risk",
		mcp.WithDescription(
			"Get the org's latest risk score (0-100) and its change since the previous day's snapshot. "+
				"Computes a first snapshot if none exists yet.",
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		orgID, err := acquireOrg(ctx, deps.Logger, "get_org_risk")
		if err != nil {
			return nil, err
		}

		overview, err := deps.RiskService.GetLatestRisk(ctx, orgID)
		if err != nil {
			return serviceErrorResult(err)
		}
		return jsonResult(overview)
	})
}

func registerGetRiskDriversTool(s *server.MCPServer, deps *RiskToolDeps) {
	tool := mcp.NewTool(
		"get_risk_drivers",
		mcp.WithDescription(
			"Explain the org's risk score: the riskiest entities with reason codes, evidence and deeplinks. "+
				"Example: get_risk_drivers(limit=5)",
		),
		mcp.WithNumber("limit", mcp.Description("Optional - number of drivers to return (default 10)")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		orgID, err := acquireOrg(ctx, deps.Logger, "get_risk_drivers")
		if err != nil {
			return nil, err
		}
		limit, err := getOptionalInt(req, "limit")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		if limit == 0 {
			limit = defaultDriverLimit
		}

		why, err := deps.RiskService.GetRiskWhy(ctx, orgID)
		if err != nil {
			return serviceErrorResult(err)
		}
		if len(why.Drivers) > limit {
			why.Drivers = why.Drivers[:limit]
		}
		return jsonResult(why)
	})
}

func registerRecomputeRiskTool(s *server.MCPServer, deps *RiskToolDeps) {
	tool := mcp.NewTool(
		"recompute_risk",
		mcp.WithDescription(
			"Run the risk propagation engine now and store today's snapshot. "+
				"Fails with risk_run_in_progress when another run for the org holds the lease.",
		),
		mcp.WithNumber("max_nodes", mcp.Description("Optional - bound on nodes loaded for the run")),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		orgID, err := acquireOrg(ctx, deps.Logger, "recompute_risk")
		if err != nil {
			return nil, err
		}
		maxNodes, err := getOptionalInt(req, "max_nodes")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}

		snapshot, err := deps.RiskRunner.Run(ctx, orgID, models.RiskComputeOptions{MaxNodes: maxNodes})
		if err != nil {
			return serviceErrorResult(err)
		}
		return jsonResult(snapshot)
	})
}
