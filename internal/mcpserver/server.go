// Package mcpserver exposes a read-only inspection surface over MCP: recent
// battles from the durable store and live counters from the coordinator.
// Gameplay itself stays on the websocket transport.
package mcpserver

import (
	"context"
	"net/http"

	"battle-relay/internal/store"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// battleReader is the slice of the store the inspection tools need.
type battleReader interface {
	GetBattle(ctx context.Context, id string) (*store.Battle, error)
	ListRecentBattles(ctx context.Context, limit int) ([]store.Battle, error)
}

// coordinatorStats reports live in-memory state.
type coordinatorStats interface {
	RoomCount() int
	SessionCount() int
}

type Server struct {
	reader     battleReader
	stats      coordinatorStats
	mcpServer  *server.MCPServer
	httpServer *server.StreamableHTTPServer
}

func New(reader battleReader, stats coordinatorStats) *Server {
	mcpSrv := server.NewMCPServer(
		"battle-relay",
		"0.1.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	s := &Server{
		reader:     reader,
		stats:      stats,
		mcpServer:  mcpSrv,
		httpServer: server.NewStreamableHTTPServer(mcpSrv, server.WithStateLess(true), server.WithDisableStreaming(true)),
	}
	s.registerInspectionTools()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.httpServer
}

func (s *Server) registerInspectionTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_battles",
			mcp.WithDescription("List recent battles, newest first"),
			mcp.WithNumber("limit", mcp.Description("Page size, default 50, max 500")),
		),
		s.handleListBattles,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_battle",
			mcp.WithDescription("Get one battle record by id"),
			mcp.WithString("battle_id", mcp.Required(), mcp.Description("Battle id")),
		),
		s.handleGetBattle,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"coordinator_stats",
			mcp.WithDescription("Live room and session counts"),
		),
		s.handleCoordinatorStats,
	)
}

func (s *Server) handleListBattles(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := request.GetInt("limit", defaultListLimit)
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	battles, err := s.reader.ListRecentBattles(ctx, limit)
	if err != nil {
		return mapDomainError(err), nil
	}
	return toolResult(map[string]any{"battles": battles}), nil
}

func (s *Server) handleGetBattle(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	battleID, err := request.RequireString("battle_id")
	if err != nil {
		return toolError("invalid_request", err.Error()), nil
	}
	battle, err := s.reader.GetBattle(ctx, battleID)
	if err != nil {
		return mapDomainError(err), nil
	}
	return toolResult(map[string]any{"battle": battle}), nil
}

func (s *Server) handleCoordinatorStats(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return toolResult(map[string]any{
		"rooms":    s.stats.RoomCount(),
		"sessions": s.stats.SessionCount(),
	}), nil
}
