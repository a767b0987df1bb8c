package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/maestro-mcp/maestro/internal/collab"
	"github.com/maestro-mcp/maestro/internal/handoff"
)

// HandoffCreateTool handles the handoff_create MCP tool. It captures a
// snapshot from every collaborator, links cross-collaborator
// references, and persists a replayable package.
type HandoffCreateTool struct {
	coord *handoff.Coordinator
}

// NewHandoffCreateTool creates a HandoffCreateTool.
func NewHandoffCreateTool(coord *handoff.Coordinator) *HandoffCreateTool {
	return &HandoffCreateTool{coord: coord}
}

// Definition returns the MCP tool definition for registration.
func (t *HandoffCreateTool) Definition() mcp.Tool {
	return mcp.NewTool("handoff_create",
		mcp.WithDescription(
			"Create a handoff package: capture the current state of every "+
				"collaborator, detect entities referenced across collaborators, "+
				"and store an ordered set of reconstruction instructions. A "+
				"collaborator that is down is recorded as a degraded sub-package "+
				"and the handoff is still created. Use handoff_reconstruct with "+
				"the returned id to replay the context later.",
		),
	)
}

// Handle processes the handoff_create tool call.
func (t *HandoffCreateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pkg, err := t.coord.Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating handoff: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("# Handoff Package Created\n\n")
	fmt.Fprintf(&sb, "**ID:** %s\n", pkg.ID)
	fmt.Fprintf(&sb, "**Created:** %s\n", pkg.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&sb, "**Cross-references:** %d\n", len(pkg.References))
	fmt.Fprintf(&sb, "**Reconstruction steps:** %d\n\n", len(pkg.Instructions))

	sb.WriteString("## Sub-packages\n\n")
	for _, typ := range collab.Types {
		sub, ok := pkg.SubPackages[typ]
		if !ok {
			continue
		}
		if sub.Degraded {
			fmt.Fprintf(&sb, "- **%s**: degraded (%s)\n", typ, sub.Reason)
		} else {
			fmt.Fprintf(&sb, "- **%s**: captured, %d entities\n", typ, len(sub.Entities))
		}
	}

	sb.WriteString("\n## Reconstruction Plan\n\n")
	for _, inst := range pkg.Instructions {
		deps := ""
		if len(inst.DependsOn) > 0 {
			deps = fmt.Sprintf(" (after steps %v)", inst.DependsOn)
		}
		fmt.Fprintf(&sb, "%d. %s via `%s`%s\n", inst.Step, inst.Target, inst.Operation, deps)
	}

	return mcp.NewToolResultText(sb.String()), nil
}
