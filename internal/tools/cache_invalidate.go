package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/maestro-mcp/maestro/internal/intelligence"
)

// CacheInvalidateTool handles the cache_invalidate MCP tool.
type CacheInvalidateTool struct {
	cache *intelligence.Cache
}

// NewCacheInvalidateTool creates a CacheInvalidateTool.
func NewCacheInvalidateTool(cache *intelligence.Cache) *CacheInvalidateTool {
	return &CacheInvalidateTool{cache: cache}
}

// Definition returns the MCP tool definition for registration.
func (t *CacheInvalidateTool) Definition() mcp.Tool {
	return mcp.NewTool("cache_invalidate",
		mcp.WithDescription(
			"Discard a project's intelligence cache. The stored record is "+
				"deleted; a later cache_load returns not-found, never a stale "+
				"copy. Use this when the project has changed beyond what an "+
				"incremental refresh can absorb.",
		),
		mcp.WithString("project_name",
			mcp.Required(),
			mcp.Description("Project name the cache was created under."),
		),
		mcp.WithString("reason",
			mcp.Description("Why the cache is being discarded. Logged for diagnostics."),
		),
	)
}

// Handle processes the cache_invalidate tool call.
func (t *CacheInvalidateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project := strings.TrimSpace(req.GetString("project_name", ""))
	if project == "" {
		return mcp.NewToolResultError("'project_name' is required"), nil
	}
	reason := req.GetString("reason", "not given")

	if err := t.cache.Invalidate(ctx, project, reason); err != nil {
		return nil, fmt.Errorf("invalidating cache for %s: %w", project, err)
	}

	return mcp.NewToolResultText(fmt.Sprintf("Intelligence cache for **%s** discarded.", project)), nil
}
