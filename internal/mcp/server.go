package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/quotagate/quotagate/internal/service"
)

// MCPServer wraps the mcp-go server with quotagate tool and resource
// registrations. It lets AI agents inspect keys, usage and quota headroom,
// and disable a misbehaving key. Agents cannot issue keys or spend quota.
type MCPServer struct {
	keys   *service.KeyStore
	ledger *service.UsageLedger
	quota  *service.QuotaEvaluator
	audit  *service.AuditLog
	logger *slog.Logger
	server *server.MCPServer
}

// NewMCPServer creates an MCPServer pre-loaded with all quotagate tools and
// resources. The returned server is ready to serve over stdio or HTTP. A nil
// audit skips audit records for agent actions.
func NewMCPServer(keys *service.KeyStore, ledger *service.UsageLedger, quota *service.QuotaEvaluator, audit *service.AuditLog, version string, logger *slog.Logger) *MCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &MCPServer{
		keys:   keys,
		ledger: ledger,
		quota:  quota,
		audit:  audit,
		logger: logger,
	}

	mcpServer := server.NewMCPServer(
		"quotagate",
		version,
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go MCPServer instance.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio starts the MCP server in stdio mode, for clients that launch
// quotagate as a subprocess.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// ServeHTTP starts the MCP server in Streamable HTTP mode, listening on
// the given address (e.g. ":3001").
func (s *MCPServer) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)
	s.logger.Info("MCP HTTP server starting", "addr", addr)
	return httpServer.Start(addr)
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

func mutatingAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint:    boolPtr(false),
		DestructiveHint: boolPtr(true),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
