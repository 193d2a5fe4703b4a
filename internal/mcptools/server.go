// Package mcptools exposes the triage operations as MCP tools.
package mcptools

import (
	"context"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// version is set by the linker at build time.
var version = "dev"

// NewTriageMCPServer creates an MCP server with every triage tool registered.
func NewTriageMCPServer(svc *TriageService) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "triage",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_groups",
		Description: "Load one page of issue groups for a project. Returns the groups and a cursor for the next page.",
	}, svc.ListGroups)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_group",
		Description: "Return the current view of one group, including in-flight operations and the number of pending changes.",
	}, svc.GetGroup)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "update_groups",
		Description: "Apply a patch (for example status or hasSeen) to a set of groups, or to every loaded group.",
	}, svc.UpdateGroups)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "delete_groups",
		Description: "Delete a set of groups.",
	}, svc.DeleteGroups)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "merge_groups",
		Description: "Merge two or more groups. The server picks the parent; the other groups disappear.",
	}, svc.MergeGroups)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "merge_similar",
		Description: "Merge issues listed by similar_issues into a group. Ids that are not similar candidates of the group are refused.",
	}, svc.MergeSimilar)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "refresh_groups",
		Description: "Fetch groups from the server again, in parallel, and return their current view.",
	}, svc.RefreshGroups)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "assign_group",
		Description: "Assign a group to a user or team, or clear its assignee when no actor type is given.",
	}, svc.AssignGroup)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "describe_pending",
		Description: "Show a unified diff between the confirmed record of a group and its view with pending changes applied.",
	}, svc.DescribePending)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "similar_issues",
		Description: "List the fingerprints merged into a group and the similar issues that could be merged into it, with per-interface similarity scores.",
	}, svc.SimilarIssues)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "unmerge_fingerprints",
		Description: "Split fingerprints out of a group into a new group. At least one eligible fingerprint must remain unless the policy allows otherwise.",
	}, svc.UnmergeFingerprints)

	return server
}

// RunMCPServerStdio runs the MCP server on stdio transport, blocking until
// stdin is closed or the context is cancelled.
func RunMCPServerStdio(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}

// RunMCPServerHTTP serves the MCP tools over streamable HTTP on addr until
// ctx is cancelled.
func RunMCPServerHTTP(ctx context.Context, server *mcp.Server, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Shutdown gracefully when context is cancelled.
	go func() {
		<-ctx.Done()
		httpServer.Shutdown(context.Background())
	}()

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
