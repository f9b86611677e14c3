package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/walletguard/internal/apiclient"
)

// Version is reported to MCP clients.
var Version = "1.0.0"

// NewMCPServer creates a configured MCP server with all walletguard tools registered.
func NewMCPServer(cfg apiclient.Config) *server.MCPServer {
	s := server.NewMCPServer("walletguard", Version)
	h := NewHandlers(apiclient.New(cfg))

	s.AddTool(ToolCheckTransaction, h.HandleCheckTransaction)
	s.AddTool(ToolListPending, h.HandleListPending)
	s.AddTool(ToolListWarnings, h.HandleListWarnings)
	s.AddTool(ToolGetWarning, h.HandleGetWarning)
	s.AddTool(ToolDecideWarning, h.HandleDecideWarning)
	s.AddTool(ToolListVerdicts, h.HandleListVerdicts)

	return s
}
