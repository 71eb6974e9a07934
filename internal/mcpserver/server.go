// Package mcpserver exposes the Vajra API as Model Context Protocol tools.
package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates an MCP server with every Vajra tool registered.
func NewMCPServer(cfg Config, version string) *server.MCPServer {
	s := server.NewMCPServer("vajra", version, server.WithToolCapabilities(false))
	h := NewHandlers(NewClient(cfg))

	s.AddTool(ToolDetectAnomalies, h.HandleDetectAnomalies)
	s.AddTool(ToolGetRiskOverview, h.HandleGetRiskOverview)
	s.AddTool(ToolListFlaggedVendors, h.HandleListFlaggedVendors)
	s.AddTool(ToolGetVendor, h.HandleGetVendor)
	s.AddTool(ToolListRiskyTransactions, h.HandleListRiskyTransactions)

	return s
}
