package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/maestro-mcp/maestro/internal/intelligence"
)

// CacheCreateTool handles the cache_create MCP tool. It analyzes a
// project through the filesystem collaborator and persists a fresh
// ProjectIntelligence record.
type CacheCreateTool struct {
	cache *intelligence.Cache
}

// NewCacheCreateTool creates a CacheCreateTool.
func NewCacheCreateTool(cache *intelligence.Cache) *CacheCreateTool {
	return &CacheCreateTool{cache: cache}
}

// Definition returns the MCP tool definition for registration.
func (t *CacheCreateTool) Definition() mcp.Tool {
	return mcp.NewTool("cache_create",
		mcp.WithDescription(
			"Build a project intelligence cache: analyze the project's "+
				"structure, architecture, development setup, and context through "+
				"the filesystem collaborator and persist the result. A section "+
				"whose analysis fails is stored degraded rather than aborting "+
				"the whole cache. Re-creating an existing cache replaces it "+
				"with a higher version.",
		),
		mcp.WithString("project_name",
			mcp.Required(),
			mcp.Description("Project name, the cache key. One live record per name."),
		),
		mcp.WithString("project_path",
			mcp.Required(),
			mcp.Description("Absolute path of the project root to analyze."),
		),
	)
}

// Handle processes the cache_create tool call.
func (t *CacheCreateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project := strings.TrimSpace(req.GetString("project_name", ""))
	projectPath := strings.TrimSpace(req.GetString("project_path", ""))
	if project == "" {
		return mcp.NewToolResultError("'project_name' is required"), nil
	}
	if projectPath == "" {
		return mcp.NewToolResultError("'project_path' is required"), nil
	}

	record, err := t.cache.Create(ctx, project, projectPath)
	if err != nil {
		return nil, fmt.Errorf("creating cache for %s: %w", project, err)
	}

	var sb strings.Builder
	sb.WriteString("# Intelligence Cache Created\n\n")
	fmt.Fprintf(&sb, "**Project:** %s\n", record.Project)
	fmt.Fprintf(&sb, "**Version:** %d\n", record.CacheVersion)
	fmt.Fprintf(&sb, "**Confidence:** %.2f (%s)\n", record.Freshness.Confidence, record.Freshness.Status)
	fmt.Fprintf(&sb, "**Triggers attached:** %d\n\n", len(record.Triggers))

	sb.WriteString("## Sections\n\n")
	for _, name := range intelligence.SectionNames {
		section := record.Sections[name]
		if section.Degraded {
			fmt.Fprintf(&sb, "- **%s**: degraded (%s)\n", name, section.Reason)
		} else {
			fmt.Fprintf(&sb, "- **%s**: analyzed\n", name)
		}
	}

	return mcp.NewToolResultText(sb.String()), nil
}
