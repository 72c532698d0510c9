package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	qmcp "github.com/quotagate/quotagate/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		port      int
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server that lets AI agents list keys,
read usage, check quota headroom and disable keys. Agents cannot issue keys
or spend quota. Supports stdio (default) and HTTP transports.`,
		Example: `  quotagate mcp                              # stdio mode
  quotagate mcp --transport http --port 3001  # Streamable HTTP mode`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(transport, port)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().IntVar(&port, "port", 3001, "HTTP port (only used with --transport http)")

	return cmd
}

func runMCP(transport string, port int) error {
	if transport != "stdio" && transport != "http" {
		return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", transport)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// stdout carries the protocol in stdio mode; logs go to stderr.
	logger := newLogger(cfg.Logging, os.Stderr)

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	svcs := newServices(st, cfg, logger)
	mcpSrv := qmcp.NewMCPServer(svcs.keys, svcs.ledger, svcs.quota, svcs.audit, versionString(), logger)

	if transport == "http" {
		return mcpSrv.ServeHTTP(fmt.Sprintf(":%d", port))
	}
	return mcpSrv.ServeStdio()
}
