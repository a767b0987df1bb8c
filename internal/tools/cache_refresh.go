package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/maestro-mcp/maestro/internal/collab"
	"github.com/maestro-mcp/maestro/internal/intelligence"
)

// CacheRefreshTool handles the cache_refresh MCP tool. It maps
// reported changes to the sections they can affect and regenerates
// only those.
type CacheRefreshTool struct {
	cache *intelligence.Cache
}

// NewCacheRefreshTool creates a CacheRefreshTool.
func NewCacheRefreshTool(cache *intelligence.Cache) *CacheRefreshTool {
	return &CacheRefreshTool{cache: cache}
}

// Definition returns the MCP tool definition for registration.
func (t *CacheRefreshTool) Definition() mcp.Tool {
	return mcp.NewTool("cache_refresh",
		mcp.WithDescription(
			"Incrementally refresh a project intelligence cache. Pass the "+
				"changes made since the last update as a JSON array of "+
				"{path, magnitude, area} objects; magnitude is minor, moderate, "+
				"major, or breaking, and area is documentation, code, config, "+
				"or dependency. Only the sections those changes can affect are "+
				"regenerated (a minor documentation change touches only the "+
				"context section; a breaking change regenerates everything). "+
				"The cache version is bumped and the confidence delta reported.",
		),
		mcp.WithString("project_name",
			mcp.Required(),
			mcp.Description("Project name the cache was created under."),
		),
		mcp.WithString("changes",
			mcp.Required(),
			mcp.Description(`JSON array of changes, e.g. [{"path":"README.md","magnitude":"minor","area":"documentation"}].`),
		),
	)
}

// Handle processes the cache_refresh tool call.
func (t *CacheRefreshTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project := strings.TrimSpace(req.GetString("project_name", ""))
	if project == "" {
		return mcp.NewToolResultError("'project_name' is required"), nil
	}

	var changes []intelligence.Change
	if err := json.Unmarshal([]byte(req.GetString("changes", "")), &changes); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("'changes' must be a JSON array of {path, magnitude, area} objects: %v", err)), nil
	}
	if len(changes) == 0 {
		return mcp.NewToolResultError("'changes' is empty — pass at least one change, or use cache_create to rebuild from scratch"), nil
	}

	result, err := t.cache.Refresh(ctx, project, changes)
	if collab.IsNotFound(err) {
		return mcp.NewToolResultError(fmt.Sprintf("no intelligence cache for project %q — run cache_create first", project)), nil
	}
	if err != nil {
		return nil, fmt.Errorf("refreshing cache for %s: %w", project, err)
	}

	var sb strings.Builder
	sb.WriteString("# Cache Refreshed\n\n")
	fmt.Fprintf(&sb, "**Project:** %s (now version %d)\n", result.Project, result.CacheVersion)
	fmt.Fprintf(&sb, "**Confidence:** %.2f → %.2f (%+.2f)\n",
		result.ConfidenceBefore, result.ConfidenceAfter, result.ConfidenceImprovement)

	sb.WriteString("\n## Regenerated Sections\n\n")
	if len(result.RefreshedSections) == 0 {
		sb.WriteString("_No sections affected by the reported changes._\n")
	}
	for _, name := range result.RefreshedSections {
		fmt.Fprintf(&sb, "- %s\n", name)
	}

	return mcp.NewToolResultText(sb.String()), nil
}
