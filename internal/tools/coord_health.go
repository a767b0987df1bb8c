// Package tools implements the MCP tools exposed by the Maestro
// coordination server.
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

// CoordHealthTool handles the coord_health MCP tool. It probes every
// collaborator concurrently and folds the results into one
// coordination health report, annotated with the last full sync time
// from the journal.
type CoordHealthTool struct {
	agg  *health.Aggregator
	jour *journal.Store // nil when the journal is unavailable
}

// NewCoordHealthTool creates a CoordHealthTool. jour may be nil.
func NewCoordHealthTool(agg *health.Aggregator, jour *journal.Store) *CoordHealthTool {
	return &CoordHealthTool{agg: agg, jour: jour}
}

// Definition returns the MCP tool definition for registration.
func (t *CoordHealthTool) Definition() mcp.Tool {
	return mcp.NewTool("coord_health",
		mcp.WithDescription(
			"Check the health of every collaborator service and report the "+
				"combined coordination status. Healthy means all collaborators "+
				"are online; degraded means a minority failed; unhealthy means "+
				"half or more are unreachable. Call this before operations that "+
				"need multiple collaborators, or to diagnose a degraded response.",
		),
	)
}

// Handle processes the coord_health tool call.
func (t *CoordHealthTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ch := t.agg.Check(ctx)
	if t.jour != nil {
		// Journal read failure just leaves the field unset; the
		// health report itself stays usable.
		if last, ok, err := t.jour.LastFullSync(); err == nil && ok {
			ch.LastFullSync = last
		}
	}

	var sb strings.Builder
	sb.WriteString("# Coordination Health\n\n")
	fmt.Fprintf(&sb, "**Status:** %s\n", ch.Status)
	fmt.Fprintf(&sb, "**Collaborators failing:** %d of %d\n", ch.ErrorCount, len(collab.Types))
	if ch.AvgResponseTime > 0 {
		fmt.Fprintf(&sb, "**Average response:** %s\n", ch.AvgResponseTime.Round(time.Millisecond))
	}
	if !ch.LastFullSync.IsZero() {
		fmt.Fprintf(&sb, "**Last full sync:** %s\n", ch.LastFullSync.Format("2006-01-02 15:04:05 MST"))
	}
	sb.WriteString("\n## Collaborators\n\n")

	for _, typ := range collab.Types {
		probe, ok := ch.Collaborators[typ]
		if !ok {
			fmt.Fprintf(&sb, "- **%s**: no result\n", typ)
			continue
		}
		switch probe.Status {
		case health.StatusOnline:
			fmt.Fprintf(&sb, "- **%s**: online (%s)\n", typ, probe.Latency.Round(time.Millisecond))
		default:
			fmt.Fprintf(&sb, "- **%s**: %s (%s)\n", typ, probe.Status, probe.Error)
		}
	}

	appendJSON(&sb, "Raw result", ch)
	return mcp.NewToolResultText(sb.String()), nil
}
