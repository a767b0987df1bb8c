package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/maestro-mcp/maestro/internal/collab"
	"github.com/maestro-mcp/maestro/internal/intelligence"
)

// CacheValidateTool handles the cache_validate MCP tool. It checks
// the stored cache's invalidation triggers against the current
// filesystem state and recommends an action.
type CacheValidateTool struct {
	cache *intelligence.Cache
}

// NewCacheValidateTool creates a CacheValidateTool.
func NewCacheValidateTool(cache *intelligence.Cache) *CacheValidateTool {
	return &CacheValidateTool{cache: cache}
}

// Definition returns the MCP tool definition for registration.
func (t *CacheValidateTool) Definition() mcp.Tool {
	return mcp.NewTool("cache_validate",
		mcp.WithDescription(
			"Validate a project intelligence cache: re-check every "+
				"invalidation trigger against the project's current state and "+
				"compute a freshness confidence in [0,1]. The recommended "+
				"action is 'use' (trust it), 'refresh' (incremental update), "+
				"'recreate' (full rebuild), or 'invalidate' (discard). "+
				"Validation never changes the stored record.",
		),
		mcp.WithString("project_name",
			mcp.Required(),
			mcp.Description("Project name the cache was created under."),
		),
	)
}

// Handle processes the cache_validate tool call.
func (t *CacheValidateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project := strings.TrimSpace(req.GetString("project_name", ""))
	if project == "" {
		return mcp.NewToolResultError("'project_name' is required"), nil
	}

	result, err := t.cache.Validate(ctx, project)
	if collab.IsNotFound(err) {
		return mcp.NewToolResultError(fmt.Sprintf("no intelligence cache for project %q — run cache_create first", project)), nil
	}
	if err != nil {
		return nil, fmt.Errorf("validating cache for %s: %w", project, err)
	}

	var sb strings.Builder
	sb.WriteString("# Cache Validation\n\n")
	fmt.Fprintf(&sb, "**Project:** %s (version %d)\n", result.Project, result.CacheVersion)
	fmt.Fprintf(&sb, "**Confidence:** %.2f (%s)\n", result.Confidence, result.Status)
	fmt.Fprintf(&sb, "**Recommended action:** %s\n\n", result.RecommendedAction)

	sb.WriteString("## Matched Triggers\n\n")
	if len(result.Matched) == 0 {
		sb.WriteString("_No staleness detected._\n")
	}
	for _, m := range result.Matched {
		fmt.Fprintf(&sb, "- **%s** (%s): %s\n", m.Trigger.Pattern, m.Trigger.Importance, m.Reason)
	}

	if len(result.Unverified) > 0 {
		sb.WriteString("\n## Unverified Triggers\n\n")
		sb.WriteString("These triggers could not be evaluated; freshness cannot be asserted.\n\n")
		for _, u := range result.Unverified {
			fmt.Fprintf(&sb, "- %s\n", u)
		}
	}

	return mcp.NewToolResultText(sb.String()), nil
}
