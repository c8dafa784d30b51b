// Package mcp implements the Model Context Protocol server for Kioku.
//
// It exposes the assistant kernel to MCP-compatible agents: kioku_ask runs
// a full kernel cycle, kioku_confirm redeems a pending high-risk plan, and
// kioku_search queries records directly. Resources give read-only views of
// recent memory, the audit trail, and the skill catalog.
package mcp

import (
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kioku/internal/kernel"
)

// Source identifies confirmation tokens issued over MCP; they cannot be
// redeemed from the CLI and vice versa.
const Source = "mcp"

// Server wraps the MCP server around the kernel.
type Server struct {
	mcpServer *mcpserver.MCPServer
	kernel    *kernel.Kernel
	store     kernel.Store
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all resources and tools.
func New(k *kernel.Kernel, store kernel.Store, logger *slog.Logger, version string) *Server {
	s := &Server{
		kernel: k,
		store:  store,
		logger: logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"kioku",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// ServeStdio blocks serving the MCP protocol over stdin/stdout.
func (s *Server) ServeStdio() error {
	return mcpserver.ServeStdio(s.mcpServer)
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
