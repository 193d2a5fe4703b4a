package main

import (
	"context"

	"github.com/dusk-indust/triage/internal/mcptools"
	"github.com/spf13/cobra"
)

func newServeMCPCmd(opts *rootOptions) *cobra.Command {
	var (
		useHTTP bool
		addr    string
	)

	cmd := &cobra.Command{
		Use:   "serve-mcp",
		Short: "Run as an MCP server exposing the triage tools",
		Long: `Serves the triage tools over MCP. The default transport is stdio;
--http serves streamable HTTP on --addr (default from TRIAGE_MCP_ADDR).
Logs always go to stderr.`,
		Args: cobra.NoArgs,
		RunE: withApp(opts, func(ctx context.Context, a *app, _ []string) error {
			server := mcptools.NewTriageMCPServer(a.svc)
			if !useHTTP {
				a.logger.Info("serving MCP on stdio")
				return mcptools.RunMCPServerStdio(ctx, server)
			}
			if addr == "" {
				addr = a.cfg.MCPAddr
			}
			a.logger.Info("serving MCP over HTTP", "addr", addr)
			return mcptools.RunMCPServerHTTP(ctx, server, addr)
		}),
	}

	cmd.Flags().BoolVar(&useHTTP, "http", false, "serve streamable HTTP instead of stdio")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address for --http")
	return cmd
}
