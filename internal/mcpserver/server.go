// Package mcpserver exposes the browser dispatcher as typed MCP tools over
// stdio JSON-RPC, mirroring the HTTP op surface for agents that speak the
// Model Context Protocol instead.
package mcpserver

import (
	"context"
	"log"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/joestump/browserd/internal/actions"
	"github.com/joestump/browserd/internal/config"
	"github.com/joestump/browserd/internal/session"
)

// Server holds the MCP tool handlers' dependencies.
type Server struct {
	manager  *session.Manager
	dispatch *actions.Dispatcher
}

// NewServer creates an MCP server backed by the given session manager and
// dispatcher.
func NewServer(manager *session.Manager, dispatch *actions.Dispatcher) *Server {
	return &Server{manager: manager, dispatch: dispatch}
}

// Run starts the MCP stdio server. It blocks until stdin is closed.
func (s *Server) Run() error {
	mcpServer := server.NewMCPServer(
		"browserd",
		config.Version,
		server.WithToolCapabilities(true),
	)

	mcpServer.AddTools(
		server.ServerTool{Tool: launchTool(), Handler: s.handleLaunch},
		server.ServerTool{Tool: actionTool(), Handler: s.handleAction},
		server.ServerTool{Tool: snapshotTool(), Handler: s.handleSnapshot},
		server.ServerTool{Tool: closeTool(), Handler: s.handleClose},
		server.ServerTool{Tool: statusTool(), Handler: s.handleStatus},
	)

	stdio := server.NewStdioServer(mcpServer)
	stdio.SetErrorLogger(log.New(os.Stderr, "[mcp] ", log.LstdFlags))

	return stdio.Listen(context.Background(), os.Stdin, os.Stdout)
}
