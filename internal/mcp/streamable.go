package mcp

import (
	"net/http"

	"github.com/mark3labs/mcp-go/server"
)

// NewStreamableHandler serves the tools over Streamable HTTP: JSON-RPC requests
// are POSTed to a single endpoint and answered inline.
func NewStreamableHandler(s *Server) http.Handler {
	return server.NewStreamableHTTPServer(s.mcp, server.WithStateLess(true))
}
