package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/maestro-mcp/maestro/internal/collab"
	"github.com/maestro-mcp/maestro/internal/syncer"
)

// CoordSyncTool handles the coord_sync MCP tool. It fans a sync pass
// out to all collaborators and reports per-collaborator outcomes plus
// any cross-collaborator conflicts.
type CoordSyncTool struct {
	engine *syncer.Engine
}

// NewCoordSyncTool creates a CoordSyncTool.
func NewCoordSyncTool(engine *syncer.Engine) *CoordSyncTool {
	return &CoordSyncTool{engine: engine}
}

// Definition returns the MCP tool definition for registration.
func (t *CoordSyncTool) Definition() mcp.Tool {
	return mcp.NewTool("coord_sync",
		mcp.WithDescription(
			"Synchronize state across all collaborators. Each collaborator "+
				"syncs independently with its own timeout, so one slow or failing "+
				"collaborator never blocks the others. Conflicting authoritative "+
				"values (e.g. two collaborators reporting different head commits) "+
				"are resolved by the configured strategy or flagged for manual "+
				"review. The sync succeeds even when collaborators disagree.",
		),
		mcp.WithBoolean("force",
			mcp.Description("Run a full sync even if the last one was recent and healthy."),
		),
	)
}

// Handle processes the coord_sync tool call.
func (t *CoordSyncTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	force := req.GetBool("force", false)

	result, err := t.engine.SyncAll(ctx, force)
	if err != nil {
		return nil, fmt.Errorf("running sync: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("# Sync Result\n\n")
	fmt.Fprintf(&sb, "**Run:** %s\n", result.ID)
	fmt.Fprintf(&sb, "**Summary:** %s\n", syncer.Describe(result))
	if result.NextSync != nil {
		fmt.Fprintf(&sb, "**Next sync recommended:** %s\n", result.NextSync.Format("2006-01-02 15:04:05 MST"))
	}

	sb.WriteString("\n## Collaborators\n\n")
	for _, typ := range collab.Types {
		r := result.Results[typ]
		if r.Success {
			fmt.Fprintf(&sb, "- **%s**: ok, %d items in %s\n", typ, r.Items, r.Duration.Round(time.Millisecond))
		} else {
			fmt.Fprintf(&sb, "- **%s**: failed (%s)\n", typ, r.Error)
		}
	}

	sb.WriteString("\n## Conflicts\n\n")
	if len(result.Conflicts) == 0 {
		sb.WriteString("_None detected._\n")
	}
	for _, c := range result.Conflicts {
		if c.Resolved {
			fmt.Fprintf(&sb, "- **%s**: resolved by %s (%q)\n", c.Key, c.ResolvedBy, c.ChosenValue)
		} else {
			fmt.Fprintf(&sb, "- **%s**: manual review needed, values %v\n", c.Key, c.Values)
		}
	}

	appendJSON(&sb, "Raw result", result)
	return mcp.NewToolResultText(sb.String()), nil
}
