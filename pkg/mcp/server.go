// Package mcp hosts the engine's Model Context Protocol surface.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// Server wraps an mcp-go MCPServer together with the engine's logger.
type Server struct {
	inner  *server.MCPServer
	logger *zap.Logger
}

// NewServer builds an MCP server advertising tool capabilities.
func NewServer(name, version string, logger *zap.Logger) *Server {
	return &Server{
		inner: server.NewMCPServer(
			name,
			version,
			server.WithToolCapabilities(true),
		),
		logger: logger.Named("mcp"),
	}
}

// NewStreamableHTTPServer returns the stateless HTTP transport for this
// server. Routing to /mcp is the mux's job, so no endpoint path is set here.
func (s *Server) NewStreamableHTTPServer() *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(
		s.inner,
		server.WithStateLess(true),
	)
}

// AddTool attaches a tool and its handler, logging the registration so
// the advertised tool set shows up in startup logs.
func (s *Server) AddTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.logger.Debug("registering tool", zap.String("tool", tool.Name))
	s.inner.AddTool(tool, handler)
}
