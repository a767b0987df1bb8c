package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/maestro-mcp/maestro/internal/journal"
)

// defaultRecentRuns is how many sync runs coord_stats lists by default.
const defaultRecentRuns = 5

// CoordStatsTool handles the coord_stats MCP tool. It reports
// aggregate journal statistics and recent sync history.
type CoordStatsTool struct {
	jour *journal.Store // nullable — reports unavailability
}

// NewCoordStatsTool creates a CoordStatsTool. jour may be nil.
func NewCoordStatsTool(jour *journal.Store) *CoordStatsTool {
	return &CoordStatsTool{jour: jour}
}

// Definition returns the MCP tool definition for registration.
func (t *CoordStatsTool) Definition() mcp.Tool {
	return mcp.NewTool("coord_stats",
		mcp.WithDescription(
			"Show coordination statistics from the local journal: total and "+
				"failed sync runs, snapshot counts, and the most recent sync "+
				"history with per-run failure and conflict counts.",
		),
		mcp.WithString("limit",
			mcp.Description("How many recent sync runs to list (default 5)."),
		),
	)
}

// Handle processes the coord_stats tool call.
func (t *CoordStatsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if t.jour == nil {
		return mcp.NewToolResultError("journal unavailable — coordination statistics are not being recorded"), nil
	}

	limit := defaultRecentRuns
	if raw := req.GetString("limit", ""); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return mcp.NewToolResultError("'limit' must be a positive integer"), nil
		}
		limit = n
	}

	stats, err := t.jour.Stats()
	if err != nil {
		return nil, fmt.Errorf("reading journal stats: %w", err)
	}
	runs, err := t.jour.RecentSyncRuns(limit)
	if err != nil {
		return nil, fmt.Errorf("reading sync history: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("# Coordination Statistics\n\n")
	fmt.Fprintf(&sb, "**Sync runs:** %d (%d failed)\n", stats.TotalSyncRuns, stats.FailedSyncRuns)
	fmt.Fprintf(&sb, "**Snapshots:** %d\n", stats.TotalSnapshots)
	if stats.LastSyncAt != "" {
		fmt.Fprintf(&sb, "**Last sync:** %s\n", stats.LastSyncAt)
	}
	if stats.LastSnapshotAt != "" {
		fmt.Fprintf(&sb, "**Last snapshot:** %s\n", stats.LastSnapshotAt)
	}

	sb.WriteString("\n## Recent Sync Runs\n\n")
	if len(runs) == 0 {
		sb.WriteString("_No sync runs recorded yet._\n")
	}
	for _, run := range runs {
		outcome := "ok"
		if run.FailureCount > 0 {
			outcome = fmt.Sprintf("%d failed", run.FailureCount)
		}
		fmt.Fprintf(&sb, "- **%s** at %s: %s, %d conflicts, %dms\n",
			run.ID, run.StartedAt, outcome, run.ConflictCount, run.DurationMS)
	}

	return mcp.NewToolResultText(sb.String()), nil
}
