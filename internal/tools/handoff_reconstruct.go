package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/maestro-mcp/maestro/internal/collab"
	"github.com/maestro-mcp/maestro/internal/handoff"
)

// HandoffReconstructTool handles the handoff_reconstruct MCP tool. It
// replays a stored handoff package's instructions in order and reports
// completeness and accuracy of the restored context.
type HandoffReconstructTool struct {
	coord *handoff.Coordinator
}

// NewHandoffReconstructTool creates a HandoffReconstructTool.
func NewHandoffReconstructTool(coord *handoff.Coordinator) *HandoffReconstructTool {
	return &HandoffReconstructTool{coord: coord}
}

// Definition returns the MCP tool definition for registration.
func (t *HandoffReconstructTool) Definition() mcp.Tool {
	return mcp.NewTool("handoff_reconstruct",
		mcp.WithDescription(
			"Reconstruct context from a previously created handoff package. "+
				"Instructions replay in dependency order; a collaborator that is "+
				"unreachable during replay is skipped and named in the missing "+
				"elements rather than failing the reconstruction. Completeness "+
				"is the fraction of steps replayed; accuracy compares verifiable "+
				"state against what was captured.",
		),
		mcp.WithString("handoff_id",
			mcp.Required(),
			mcp.Description("The id returned by handoff_create."),
		),
	)
}

// Handle processes the handoff_reconstruct tool call.
func (t *HandoffReconstructTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	handoffID := strings.TrimSpace(req.GetString("handoff_id", ""))
	if handoffID == "" {
		return mcp.NewToolResultError("'handoff_id' is required — pass the id returned by handoff_create"), nil
	}

	rc, err := t.coord.Reconstruct(ctx, handoffID)
	if collab.IsNotFound(err) {
		return mcp.NewToolResultError(fmt.Sprintf("no handoff package found with id %q", handoffID)), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reconstructing handoff %s: %w", handoffID, err)
	}

	var sb strings.Builder
	sb.WriteString("# Context Reconstructed\n\n")
	fmt.Fprintf(&sb, "**Handoff:** %s\n", rc.HandoffID)
	fmt.Fprintf(&sb, "**Completeness:** %.0f%%\n", rc.Completeness*100)
	fmt.Fprintf(&sb, "**Accuracy:** %.0f%%\n", rc.Accuracy*100)
	fmt.Fprintf(&sb, "**Duration:** %s\n\n", rc.Duration.Round(time.Millisecond))

	sb.WriteString("## Restored\n\n")
	if len(rc.Restored) == 0 {
		sb.WriteString("_Nothing restored._\n")
	}
	for _, typ := range collab.Types {
		if _, ok := rc.Restored[typ]; ok {
			fmt.Fprintf(&sb, "- **%s**\n", typ)
		}
	}

	sb.WriteString("\n## Missing Elements\n\n")
	if len(rc.MissingElements) == 0 {
		sb.WriteString("_None — full reconstruction._\n")
	}
	for _, missing := range rc.MissingElements {
		fmt.Fprintf(&sb, "- %s\n", missing)
	}

	return mcp.NewToolResultText(sb.String()), nil
}
