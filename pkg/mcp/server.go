package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// instructions is sent to clients on initialize.
const instructions = `Tools over one organization's business entity graph.
Nodes are DEAL, WORK_ITEM, INVOICE, COMPANY, CONTACT and INCIDENT records keyed by their source entity id.
Use search_nodes or get_node to find a node, traverse_graph for its neighborhood and impact_radius for what it affects.
get_org_risk and get_risk_drivers read the latest daily risk snapshot; recompute_risk refreshes it.`

// Server wraps the mcp-go MCPServer for the riskgraph tools.
type Server struct {
	mcp    *server.MCPServer
	logger *zap.Logger
}

// NewServer creates a new MCP server instance.
// Tool calls are logged and counted; a panicking tool fails its call instead of the process.
func NewServer(name, version string, logger *zap.Logger) *Server {
	recorder := NewToolCallRecorder(logger)
	mcpServer := server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions(instructions),
		server.WithHooks(recorder.Hooks()),
		server.WithRecovery(),
	)

	return &Server{
		mcp:    mcpServer,
		logger: logger,
	}
}

// MCP returns the underlying MCPServer for tool registration.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// NewStreamableHTTPServer creates the stateless HTTP transport mounted at /mcp.
// Every request carries its own JWT, so no session is kept between calls.
func (s *Server) NewStreamableHTTPServer() *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(
		s.mcp,
		server.WithStateLess(true),
	)
}

// RegisterTool adds a single tool outside the tools package registrars.
func (s *Server) RegisterTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.mcp.AddTool(tool, handler)
}
