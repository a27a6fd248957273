// Package mcp exposes the observer over the Model Context Protocol so AI
// tooling can ask what the fleet of coding sessions is doing right now.
package mcp

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tomekhotdog/AgeOfTheCrystalBall-sub001/internal/model"
)

// SnapshotSource yields the latest observation snapshot.
type SnapshotSource interface {
	Latest() *model.Snapshot
}

// Server wraps the MCP server instance around a live snapshot source.
type Server struct {
	mcpServer *server.MCPServer
	source    SnapshotSource
}

// NewServer creates a new MCP server with the observation tools registered.
func NewServer(source SnapshotSource, version string) *Server {
	s := &Server{source: source}
	s.mcpServer = server.NewMCPServer("crystalball", version, server.WithLogging())
	s.registerTools()
	return s
}

// Start runs the server in stdio mode (blocking).
func (s *Server) Start(ctx context.Context) error {
	stdioServer := server.NewStdioServer(s.mcpServer)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// registerTools adds all supported tools to the server.
func (s *Server) registerTools() {
	sessionsTool := mcp.NewTool("get_sessions",
		mcp.WithDescription("List observed AI coding sessions with state, CPU, memory, age, and sidecar context. Optionally filter by group or state."),
		mcp.WithString("group",
			mcp.Description("Only return sessions in this group (working-directory basename)"),
		),
		mcp.WithString("state",
			mcp.Description("Only return sessions in this state"),
			mcp.Enum("active", "awaiting", "idle", "stale", "blocked"),
		),
	)
	s.mcpServer.AddTool(sessionsTool, s.handleGetSessions)

	groupsTool := mcp.NewTool("get_groups",
		mcp.WithDescription("List session groups (sessions bucketed by working-directory basename) with member counts."),
	)
	s.mcpServer.AddTool(groupsTool, s.handleGetGroups)

	metricsTool := mcp.NewTool("get_metrics",
		mcp.WithDescription("Idle-economics summary: total minutes sessions have spent waiting for a human, blocked session count, and the longest current wait."),
	)
	s.mcpServer.AddTool(metricsTool, s.handleGetMetrics)

	longestWaitTool := mcp.NewTool("get_longest_wait",
		mcp.WithDescription("The session that has been waiting for human input the longest, or a note that nothing is waiting."),
	)
	s.mcpServer.AddTool(longestWaitTool, s.handleGetLongestWait)
}
