package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/maestro-mcp/maestro/internal/collab"
	"github.com/maestro-mcp/maestro/internal/health"
	"github.com/maestro-mcp/maestro/internal/journal"
)

// CoordEcosystemTool handles the coord_ecosystem MCP tool. It takes a
// point-in-time snapshot of collaborator health plus per-collaborator
// activity, and records it in the local journal when one is available.
type CoordEcosystemTool struct {
	monitor *health.Monitor
	jour    *journal.Store // nullable — snapshot works without history
}

// NewCoordEcosystemTool creates a CoordEcosystemTool. jour may be nil.
func NewCoordEcosystemTool(monitor *health.Monitor, jour *journal.Store) *CoordEcosystemTool {
	return &CoordEcosystemTool{monitor: monitor, jour: jour}
}

// Definition returns the MCP tool definition for registration.
func (t *CoordEcosystemTool) Definition() mcp.Tool {
	return mcp.NewTool("coord_ecosystem",
		mcp.WithDescription(
			"Take a snapshot of the whole collaborator ecosystem: health of "+
				"every collaborator plus a lightweight activity summary from "+
				"each one (entity counts, recent items). A collaborator whose "+
				"activity pull fails is marked unavailable without affecting "+
				"the rest of the snapshot.",
		),
	)
}

// Handle processes the coord_ecosystem tool call.
func (t *CoordEcosystemTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	state := t.monitor.Snapshot(ctx)
	t.record(state)

	var sb strings.Builder
	sb.WriteString("# Ecosystem Snapshot\n\n")
	fmt.Fprintf(&sb, "**Taken:** %s\n", state.Timestamp.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&sb, "**Status:** %s (%d failing)\n\n", state.Health.Status, state.Health.ErrorCount)

	sb.WriteString("## Activity\n\n")
	for _, typ := range collab.Types {
		activity, ok := state.Activity[typ]
		if !ok || !activity.Available {
			reason := "no result"
			if ok && activity.Error != "" {
				reason = activity.Error
			}
			fmt.Fprintf(&sb, "- **%s**: unavailable (%s)\n", typ, reason)
			continue
		}
		fmt.Fprintf(&sb, "- **%s**: %s\n", typ, describeActivity(activity))
	}

	appendJSON(&sb, "Raw snapshot", state)
	return mcp.NewToolResultText(sb.String()), nil
}

// describeActivity renders counters and recent items on one line, in
// stable key order.
func describeActivity(a health.Activity) string {
	var parts []string
	for _, key := range sortedKeys(a.Counters) {
		parts = append(parts, fmt.Sprintf("%s=%d", key, a.Counters[key]))
	}
	if len(a.Recent) > 0 {
		parts = append(parts, "recent: "+strings.Join(a.Recent, ", "))
	}
	if len(parts) == 0 {
		return "idle"
	}
	return strings.Join(parts, "; ")
}

func (t *CoordEcosystemTool) record(state health.EcosystemState) {
	if t.jour == nil {
		return
	}
	// Snapshot history is best effort; drop on journal failure.
	_ = t.jour.RecordSnapshot(journal.Snapshot{
		TakenAt:       state.Timestamp.Format(time.RFC3339),
		Status:        string(state.Health.Status),
		ErrorCount:    state.Health.ErrorCount,
		AvgResponseMS: float64(state.Health.AvgResponseTime.Milliseconds()),
	})
}
