package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/maestro-mcp/maestro/internal/config"
)

// Transport is one request/response channel to a collaborator process.
// The Manager owns exactly one live Transport per collaborator; tests
// substitute a fake.
type Transport interface {
	// Initialize performs the protocol handshake. Must be called once
	// before Call or Ping.
	Initialize(ctx context.Context) error
	// Ping is the cheap side-effect-free probe used by health checks.
	Ping(ctx context.Context) error
	// Call invokes one named operation and decodes the result.
	Call(ctx context.Context, operation string, args map[string]any) (map[string]any, error)
	// Close tears the channel down. The Transport is unusable after.
	Close() error
}

// TransportFactory builds a Transport from a roster entry. The Manager
// takes it as a dependency so tests can inject fakes.
type TransportFactory func(c config.Collaborator) (Transport, error)

// stdioTransport is the production Transport: an MCP client speaking
// JSON-RPC to a collaborator subprocess over stdio.
type stdioTransport struct {
	mcp *client.Client
}

// NewStdioTransport launches the collaborator process described by c
// and wraps it in a Transport. The process is spawned immediately;
// the MCP handshake happens in Initialize.
func NewStdioTransport(c config.Collaborator) (Transport, error) {
	mcpClient, err := client.NewStdioMCPClient(c.Command, c.Env, c.Args...)
	if err != nil {
		return nil, fmt.Errorf("collab: starting %q: %w", c.Command, err)
	}
	return &stdioTransport{mcp: mcpClient}, nil
}

func (t *stdioTransport) Initialize(ctx context.Context) error {
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: "maestro", Version: "dev"}

	if _, err := t.mcp.Initialize(ctx, req); err != nil {
		return fmt.Errorf("collab: initialize handshake: %w", err)
	}
	return nil
}

func (t *stdioTransport) Ping(ctx context.Context) error {
	return t.mcp.Ping(ctx)
}

func (t *stdioTransport) Call(ctx context.Context, operation string, args map[string]any) (map[string]any, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = operation
	req.Params.Arguments = args

	res, err := t.mcp.CallTool(ctx, req)
	if err != nil {
		return nil, err
	}

	text := flattenContent(res.Content)
	if res.IsError {
		return nil, fmt.Errorf("%s", text)
	}
	return decodeResult(text), nil
}

func (t *stdioTransport) Close() error {
	return t.mcp.Close()
}

// flattenContent joins the text parts of a tool result. Non-text
// content is ignored — collaborator servers answer in text/JSON.
func flattenContent(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := mcp.AsTextContent(c); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// decodeResult parses a tool result as a JSON object when possible.
// Plain-text answers are wrapped under a "text" key so callers always
// get a map.
func decodeResult(text string) map[string]any {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") {
		var m map[string]any
		if err := json.Unmarshal([]byte(trimmed), &m); err == nil {
			return m
		}
	}
	if strings.HasPrefix(trimmed, "[") {
		var list []any
		if err := json.Unmarshal([]byte(trimmed), &list); err == nil {
			return map[string]any{"items": list}
		}
	}
	return map[string]any{"text": text}
}
