package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/maestro-mcp/maestro/internal/collab"
	"github.com/maestro-mcp/maestro/internal/intelligence"
)

// CacheLoadTool handles the cache_load MCP tool.
type CacheLoadTool struct {
	cache *intelligence.Cache
}

// NewCacheLoadTool creates a CacheLoadTool.
func NewCacheLoadTool(cache *intelligence.Cache) *CacheLoadTool {
	return &CacheLoadTool{cache: cache}
}

// Definition returns the MCP tool definition for registration.
func (t *CacheLoadTool) Definition() mcp.Tool {
	return mcp.NewTool("cache_load",
		mcp.WithDescription(
			"Load the stored project intelligence cache for a project. "+
				"Returns the full record including all four sections, or a "+
				"not-found message if no cache exists. Loading never mutates "+
				"the record; use cache_validate to check its freshness.",
		),
		mcp.WithString("project_name",
			mcp.Required(),
			mcp.Description("Project name the cache was created under."),
		),
	)
}

// Handle processes the cache_load tool call.
func (t *CacheLoadTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project := strings.TrimSpace(req.GetString("project_name", ""))
	if project == "" {
		return mcp.NewToolResultError("'project_name' is required"), nil
	}

	record, err := t.cache.Load(ctx, project)
	if collab.IsNotFound(err) {
		return mcp.NewToolResultError(fmt.Sprintf("no intelligence cache for project %q — run cache_create first", project)), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading cache for %s: %w", project, err)
	}

	var sb strings.Builder
	sb.WriteString("# Project Intelligence\n\n")
	fmt.Fprintf(&sb, "**Project:** %s (%s)\n", record.Project, record.Path)
	fmt.Fprintf(&sb, "**Version:** %d\n", record.CacheVersion)
	fmt.Fprintf(&sb, "**Created:** %s\n", record.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&sb, "**Last updated:** %s\n", record.LastUpdated.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&sb, "**Freshness:** %s (%.2f)\n", record.Freshness.Status, record.Freshness.Confidence)

	appendJSON(&sb, "Sections", record.Sections)
	return mcp.NewToolResultText(sb.String()), nil
}
