// Package tools provides MCP tool implementations for ekaya-riskgraph.
package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-riskgraph/pkg/models"
	"github.com/ekaya-inc/ekaya-riskgraph/pkg/services"
)

// GraphToolDeps contains dependencies for graph MCP tools.
// Requests reach the tools with a tenant scope already opened by the MCP auth middleware.
type GraphToolDeps struct {
	GraphService  services.GraphService
	ImpactService services.ImpactRadiusService
	Logger        *zap.Logger
}

// RegisterGraphTools registers the read-only graph MCP tools.
func RegisterGraphTools(s *server.MCPServer, deps *GraphToolDeps) {
	registerSearchNodesTool(s, deps)
	registerGetNodeTool(s, deps)
	registerTraverseGraphTool(s, deps)
	registerImpactRadiusTool(s, deps)
}

func registerSearchNodesTool(s *server.MCPServer, deps *GraphToolDeps) {
	tool := mcp.NewTool(
		"search_nodes",
		mcp.WithDescription(
			"Search the org's entity graph by title or entity ID. "+
				"Optionally restrict to node types (comma-separated: DEAL, WORK_ITEM, INVOICE, COMPANY, CONTACT, INCIDENT). "+
				"Example: search_nodes(query='acme', type='COMPANY,DEAL')",
		),
		mcp.WithString("query", mcp.Description("Optional - case-insensitive substring of title or entity ID")),
		mcp.WithString("type", mcp.Description("Optional - comma-separated node types")),
		mcp.WithNumber("limit", mcp.Description("Optional - max results (default 50, max 200)")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		orgID, err := acquireOrg(ctx, deps.Logger, "search_nodes")
		if err != nil {
			return nil, err
		}

		types, err := models.ParseNodeTypes(getOptionalString(req, "type"))
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		limit, err := getOptionalInt(req, "limit")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}

		filters := models.NodeFilters{
			Types: types,
			Query: getOptionalString(req, "query"),
			Page:  models.Page{Limit: limit}.Normalize(),
		}
		nodes, total, err := deps.GraphService.ListNodes(ctx, orgID, filters)
		if err != nil {
			return serviceErrorResult(err)
		}

		return jsonResult(map[string]any{
			"nodes": nodes,
			"total": total,
		})
	})
}

func registerGetNodeTool(s *server.MCPServer, deps *GraphToolDeps) {
	tool := mcp.NewTool(
		"get_node",
		mcp.WithDescription("Get one graph node with all of its incident edges."),
		mcp.WithString("node_id", mcp.Required(), mcp.Description("Node UUID. Required.")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		orgID, err := acquireOrg(ctx, deps.Logger, "get_node")
		if err != nil {
			return nil, err
		}
		nodeID, err := requireNodeID(req)
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}

		detail, err := deps.GraphService.GetNode(ctx, orgID, nodeID)
		if err != nil {
			return serviceErrorResult(err)
		}
		return jsonResult(detail)
	})
}

func registerTraverseGraphTool(s *server.MCPServer, deps *GraphToolDeps) {
	tool := mcp.NewTool(
		"traverse_graph",
		mcp.WithDescription(
			"Return the neighborhood of a node, following edges in both directions. "+
				"Depth defaults to 2 and is capped at 4. Large neighborhoods are truncated and flagged. "+
				"Example: traverse_graph(node_id='...', max_depth=2, edge_types='BLOCKS,DEPENDS_ON')",
		),
		mcp.WithString("node_id", mcp.Required(), mcp.Description("Start node UUID. Required.")),
		mcp.WithNumber("max_depth", mcp.Description("Optional - hops from the start node (1-4)")),
		mcp.WithString("edge_types", mcp.Description("Optional - comma-separated edge types to follow")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		orgID, err := acquireOrg(ctx, deps.Logger, "traverse_graph")
		if err != nil {
			return nil, err
		}
		nodeID, err := requireNodeID(req)
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		depth, err := getOptionalInt(req, "max_depth")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		edgeTypes, err := models.ParseEdgeTypes(getOptionalString(req, "edge_types"))
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}

		subgraph, err := deps.GraphService.Traverse(ctx, orgID, nodeID, services.TraverseOptions{
			MaxDepth:  depth,
			EdgeTypes: edgeTypes,
		})
		if err != nil {
			return serviceErrorResult(err)
		}
		return jsonResult(subgraph)
	})
}

func registerImpactRadiusTool(s *server.MCPServer, deps *GraphToolDeps) {
	tool := mcp.NewTool(
		"impact_radius",
		mcp.WithDescription(
			"Compute what a node affects (OUT), what affects it (IN), or both. "+
				"Returns the affected nodes, a summary, the riskiest hotspots and UI deeplinks. "+
				"Fails with IMPACT_RADIUS_TOO_LARGE instead of truncating. "+
				"Example: impact_radius(node_id='...', direction='OUT', max_depth=3)",
		),
		mcp.WithString("node_id", mcp.Required(), mcp.Description("Start node UUID. Required.")),
		mcp.WithNumber("max_depth", mcp.Description("Optional - hops from the start node (1-6, default 3)")),
		mcp.WithString("direction", mcp.Description("Optional - OUT, IN, or BOTH (default)")),
		mcp.WithString("edge_types", mcp.Description("Optional - comma-separated edge types to follow")),
		mcp.WithString("include_types", mcp.Description("Optional - comma-separated node types to keep in the result")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		orgID, err := acquireOrg(ctx, deps.Logger, "impact_radius")
		if err != nil {
			return nil, err
		}
		nodeID, err := requireNodeID(req)
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		depth, err := getOptionalInt(req, "max_depth")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		direction, err := models.ParseDirection(getOptionalString(req, "direction"))
		if err != nil {
			return NewErrorResultWithDetails("invalid_parameters", err.Error(), map[string]any{
				"parameter": "direction",
				"expected":  []models.Direction{models.DirectionOut, models.DirectionIn, models.DirectionBoth},
			}), nil
		}
		edgeTypes, err := models.ParseEdgeTypes(getOptionalString(req, "edge_types"))
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		includeTypes, err := models.ParseNodeTypes(getOptionalString(req, "include_types"))
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}

		result, err := deps.ImpactService.Compute(ctx, orgID, nodeID, models.ImpactRadiusOptions{
			MaxDepth:     depth,
			Direction:    direction,
			EdgeTypes:    edgeTypes,
			IncludeTypes: includeTypes,
		})
		if err != nil {
			return serviceErrorResult(err)
		}
		return jsonResult(result)
	})
}
