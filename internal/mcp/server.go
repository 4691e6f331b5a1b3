// Package mcp exposes the memory tools over the Model Context Protocol.
package mcp

import (
	"context"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/claude-mem-bridge/internal/plugin"
)

const serverName = "claude-mem"

// Tools is the part of the plugin the server delegates to.
type Tools interface {
	CallTool(ctx context.Context, name string, args json.RawMessage) (string, error)
}

// Server is the MCP server that exposes the memory tools.
type Server struct {
	mcp     *server.MCPServer
	tools   Tools
	version string
}

// NewServer creates a server whose tool calls are answered by tools.
func NewServer(tools Tools, version string) *Server {
	s := &Server{
		tools:   tools,
		version: version,
		mcp: server.NewMCPServer(
			serverName,
			version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// Run serves MCP over the given streams until ctx is done or in reaches EOF.
func (s *Server) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	log.Info().Str("version", s.version).Msg("MCP server listening on stdio")
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

func (s *Server) registerTools() {
	desc := make(map[string]string)
	for _, tool := range plugin.Tools() {
		desc[tool.Name] = tool.Description
	}

	s.mcp.AddTool(mcp.NewTool(plugin.ToolWorkflow,
		mcp.WithDescription(desc[plugin.ToolWorkflow]),
	), s.handler(plugin.ToolWorkflow))

	s.mcp.AddTool(mcp.NewTool(plugin.ToolSearch,
		mcp.WithDescription(desc[plugin.ToolSearch]),
		mcp.WithString("query", mcp.Description("Full-text query")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 20, max 100)")),
		mcp.WithNumber("offset", mcp.Description("Results to skip")),
		mcp.WithString("type", mcp.Description("Record type: observations, sessions or prompts")),
		mcp.WithString("obs_type", mcp.Description("Observation type, e.g. bugfix or decision")),
		mcp.WithString("project", mcp.Description("Project name filter")),
		mcp.WithString("dateStart", mcp.Description("Earliest date, YYYY-MM-DD")),
		mcp.WithString("dateEnd", mcp.Description("Latest date, YYYY-MM-DD")),
		mcp.WithString("orderBy", mcp.Description("relevance, date_desc or date_asc")),
	), s.handler(plugin.ToolSearch))

	s.mcp.AddTool(mcp.NewTool(plugin.ToolTimeline,
		mcp.WithDescription(desc[plugin.ToolTimeline]),
		mcp.WithNumber("anchor", mcp.Description("Observation ID to center on")),
		mcp.WithString("query", mcp.Description("Find the anchor by query instead")),
		mcp.WithNumber("depth_before", mcp.Description("Records before the anchor")),
		mcp.WithNumber("depth_after", mcp.Description("Records after the anchor")),
		mcp.WithString("project", mcp.Description("Project name filter")),
	), s.handler(plugin.ToolTimeline))

	s.mcp.AddTool(mcp.NewTool(plugin.ToolGetObservations,
		mcp.WithDescription(desc[plugin.ToolGetObservations]),
		mcp.WithArray("ids",
			mcp.Required(),
			mcp.Description("Observation IDs to fetch"),
			mcp.Items(map[string]any{"type": "number"}),
		),
		mcp.WithString("orderBy", mcp.Description("date_desc or date_asc")),
		mcp.WithNumber("limit", mcp.Description("Maximum records")),
		mcp.WithString("project", mcp.Description("Project name filter")),
	), s.handler(plugin.ToolGetObservations))

	s.mcp.AddTool(mcp.NewTool(plugin.ToolSaveMemory,
		mcp.WithDescription(desc[plugin.ToolSaveMemory]),
		mcp.WithString("text", mcp.Required(), mcp.Description("What to remember")),
		mcp.WithString("title", mcp.Description("Short title")),
		mcp.WithString("project", mcp.Description("Project name")),
	), s.handler(plugin.ToolSaveMemory))
}

// handler forwards a tool call with its arguments re-encoded as JSON.
func (s *Server) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := json.Marshal(req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}

		text, err := s.tools.CallTool(ctx, name, args)
		if err != nil {
			log.Warn().Err(err).Str("tool", name).Msg("Tool call rejected")
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(text), nil
	}
}
