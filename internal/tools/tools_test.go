package tools

import (
	"context"
	"errors"
	"log"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/maestro-mcp/maestro/internal/collab"
	"github.com/maestro-mcp/maestro/internal/handoff"
	"github.com/maestro-mcp/maestro/internal/health"
	"github.com/maestro-mcp/maestro/internal/intelligence"
	"github.com/maestro-mcp/maestro/internal/journal"
	"github.com/maestro-mcp/maestro/internal/syncer"
)

var testLogger = log.New(os.Stderr, "", 0)

// --- Test helpers ---

// fakeInvoker serves every collaborator operation the tools exercise:
// an in-process graph for the memory collaborator and canned payloads
// for the rest. Collaborators listed in down fail every call.
type fakeInvoker struct {
	mu    sync.Mutex
	graph map[string]string
	down  map[collab.CollaboratorType]bool
}

func newFake() *fakeInvoker {
	return &fakeInvoker{
		graph: make(map[string]string),
		down:  make(map[collab.CollaboratorType]bool),
	}
}

func (f *fakeInvoker) Invoke(ctx context.Context, t collab.CollaboratorType, op string, args map[string]any) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.down[t] {
		return nil, errors.New(string(t) + " is down")
	}

	if t == collab.Memory {
		switch op {
		case "create_entities":
			for _, e := range args["entities"].([]any) {
				entity := e.(map[string]any)
				f.graph[entity["name"].(string)] = entity["observations"].([]any)[0].(string)
			}
			return map[string]any{}, nil
		case "open_nodes":
			var entities []any
			for _, n := range args["names"].([]any) {
				if obs, ok := f.graph[n.(string)]; ok {
					entities = append(entities, map[string]any{"name": n, "observations": []any{obs}})
				}
			}
			return map[string]any{"entities": entities}, nil
		case "delete_entities":
			for _, n := range args["entityNames"].([]any) {
				delete(f.graph, n.(string))
			}
			return map[string]any{}, nil
		case "read_graph":
			return map[string]any{"entities": []any{}}, nil
		}
	}

	switch op {
	case "directory_tree":
		return map[string]any{"tree": []any{"cmd", "internal"}}, nil
	case "get_file_info":
		return map[string]any{"modified": "2026-01-01T00:00:00Z"}, nil
	case "search_files":
		return map[string]any{"matches": []any{}}, nil
	case "list_allowed_directories":
		return map[string]any{"directories": []any{"/work"}}, nil
	case "git_status":
		return map[string]any{"branch": "main", "head_commit": "abc123"}, nil
	case "list_tables":
		return map[string]any{"tables": []any{"runs"}}, nil
	case "list_checkpoints":
		return map[string]any{"checkpoints": []any{"ckpt-1"}}, nil
	}
	return map[string]any{}, nil
}

func (f *fakeInvoker) Probe(ctx context.Context, t collab.CollaboratorType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down[t] {
		return errors.New(string(t) + " is down")
	}
	return nil
}

func (f *fakeInvoker) Status(t collab.CollaboratorType) collab.Health {
	return collab.Health{Type: t}
}

// isErrorResult checks if the result is a tool error.
func isErrorResult(result *mcp.CallToolResult) bool {
	return result != nil && result.IsError
}

// getResultText extracts the text content from a CallToolResult.
func getResultText(result *mcp.CallToolResult) string {
	if result == nil || len(result.Content) == 0 {
		return ""
	}
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

// --- Definitions ---

func TestToolNames(t *testing.T) {
	fake := newFake()
	agg := health.NewAggregator(fake, time.Second)
	cache := intelligence.NewCache(fake, testLogger)
	coord := handoff.NewCoordinator(fake, testLogger)
	engine := syncer.NewEngine(fake, nil, nil, time.Second, testLogger)

	want := map[string]mcp.Tool{
		"coord_health":        NewCoordHealthTool(agg, nil).Definition(),
		"coord_ecosystem":     NewCoordEcosystemTool(health.NewMonitor(fake, agg), nil).Definition(),
		"coord_sync":          NewCoordSyncTool(engine).Definition(),
		"coord_stats":         NewCoordStatsTool(nil).Definition(),
		"handoff_create":      NewHandoffCreateTool(coord).Definition(),
		"handoff_reconstruct": NewHandoffReconstructTool(coord).Definition(),
		"cache_create":        NewCacheCreateTool(cache).Definition(),
		"cache_load":          NewCacheLoadTool(cache).Definition(),
		"cache_validate":      NewCacheValidateTool(cache).Definition(),
		"cache_refresh":       NewCacheRefreshTool(cache).Definition(),
		"cache_invalidate":    NewCacheInvalidateTool(cache).Definition(),
	}
	for name, def := range want {
		if def.Name != name {
			t.Errorf("tool registered as %q, want %q", def.Name, name)
		}
		if def.Description == "" {
			t.Errorf("%s: empty description", name)
		}
	}
}

// --- coord_health ---

func TestCoordHealthToolAllOnline(t *testing.T) {
	tool := NewCoordHealthTool(health.NewAggregator(newFake(), time.Second), nil)

	result, err := tool.Handle(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	text := getResultText(result)
	if !strings.Contains(text, "healthy") {
		t.Errorf("result should report healthy, got: %s", text)
	}
}

func TestCoordHealthToolDegraded(t *testing.T) {
	fake := newFake()
	fake.down[collab.Git] = true
	tool := NewCoordHealthTool(health.NewAggregator(fake, time.Second), nil)

	result, err := tool.Handle(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	text := getResultText(result)
	if !strings.Contains(text, "degraded") {
		t.Errorf("result should report degraded, got: %s", text)
	}
	if !strings.Contains(text, "git is down") {
		t.Errorf("failing collaborator should be named, got: %s", text)
	}
}

func TestCoordHealthToolReportsLastFullSync(t *testing.T) {
	jour, err := journal.New(journal.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("journal.New: %v", err)
	}
	defer jour.Close()

	syncedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := jour.RecordSyncRun(journal.SyncRun{
		ID:        "run-1",
		StartedAt: syncedAt.Format(time.RFC3339),
		Success:   true,
	}); err != nil {
		t.Fatalf("RecordSyncRun: %v", err)
	}

	tool := NewCoordHealthTool(health.NewAggregator(newFake(), time.Second), jour)
	result, err := tool.Handle(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	text := getResultText(result)
	if !strings.Contains(text, "Last full sync:") {
		t.Errorf("report should include the last full sync, got: %s", text)
	}
	if !strings.Contains(text, "2026-03-01") {
		t.Errorf("last full sync should carry the journal's date, got: %s", text)
	}
}

// --- coord_ecosystem ---

func TestCoordEcosystemTool(t *testing.T) {
	fake := newFake()
	tool := NewCoordEcosystemTool(health.NewMonitor(fake, health.NewAggregator(fake, time.Second)), nil)

	result, err := tool.Handle(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	text := getResultText(result)
	for _, typ := range collab.Types {
		if !strings.Contains(text, string(typ)) {
			t.Errorf("snapshot should mention %s", typ)
		}
	}
}

// --- coord_sync ---

func TestCoordSyncTool(t *testing.T) {
	engine := syncer.NewEngine(newFake(), nil, nil, time.Second, testLogger)
	tool := NewCoordSyncTool(engine)

	result, err := tool.Handle(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !strings.Contains(getResultText(result), "all collaborators synchronized") {
		t.Errorf("result should summarize a clean sync, got: %s", getResultText(result))
	}
}

// --- coord_stats ---

func TestCoordStatsToolNoJournal(t *testing.T) {
	tool := NewCoordStatsTool(nil)
	result, err := tool.Handle(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !isErrorResult(result) {
		t.Fatal("expected an error result when the journal is unavailable")
	}
}

// --- handoff tools ---

func TestHandoffCreateThenReconstruct(t *testing.T) {
	fake := newFake()
	coord := handoff.NewCoordinator(fake, testLogger)
	create := NewHandoffCreateTool(coord)
	reconstruct := NewHandoffReconstructTool(coord)

	result, err := create.Handle(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatalf("create Handle: %v", err)
	}
	text := getResultText(result)
	if !strings.Contains(text, "Handoff Package Created") {
		t.Fatalf("unexpected create output: %s", text)
	}

	// The id is rendered as "**ID:** <id>".
	var handoffID string
	for _, line := range strings.Split(text, "\n") {
		if after, ok := strings.CutPrefix(line, "**ID:** "); ok {
			handoffID = after
			break
		}
	}
	if handoffID == "" {
		t.Fatalf("could not find handoff id in output: %s", text)
	}

	result, err = reconstruct.Handle(context.Background(), callRequest(map[string]any{"handoff_id": handoffID}))
	if err != nil {
		t.Fatalf("reconstruct Handle: %v", err)
	}
	if !strings.Contains(getResultText(result), "Completeness:** 100%") {
		t.Errorf("expected full reconstruction, got: %s", getResultText(result))
	}
}

func TestHandoffReconstructUnknownID(t *testing.T) {
	tool := NewHandoffReconstructTool(handoff.NewCoordinator(newFake(), testLogger))
	result, err := tool.Handle(context.Background(), callRequest(map[string]any{"handoff_id": "nope"}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !isErrorResult(result) {
		t.Fatal("unknown handoff id should yield an error result, not a Go error")
	}
}

func TestHandoffReconstructMissingArg(t *testing.T) {
	tool := NewHandoffReconstructTool(handoff.NewCoordinator(newFake(), testLogger))
	result, err := tool.Handle(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !isErrorResult(result) {
		t.Fatal("missing handoff_id should yield an error result")
	}
}

// --- cache tools ---

func TestCacheToolLifecycle(t *testing.T) {
	cache := intelligence.NewCache(newFake(), testLogger)
	ctx := context.Background()
	args := map[string]any{"project_name": "foo", "project_path": "/work/foo"}

	result, err := NewCacheCreateTool(cache).Handle(ctx, callRequest(args))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if isErrorResult(result) {
		t.Fatalf("create failed: %s", getResultText(result))
	}

	result, err = NewCacheLoadTool(cache).Handle(ctx, callRequest(map[string]any{"project_name": "foo"}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !strings.Contains(getResultText(result), "Version:** 1") {
		t.Errorf("load should show version 1, got: %s", getResultText(result))
	}

	result, err = NewCacheValidateTool(cache).Handle(ctx, callRequest(map[string]any{"project_name": "foo"}))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(getResultText(result), "use") {
		t.Errorf("fresh cache should recommend use, got: %s", getResultText(result))
	}

	result, err = NewCacheRefreshTool(cache).Handle(ctx, callRequest(map[string]any{
		"project_name": "foo",
		"changes":      `[{"path":"README.md","magnitude":"minor","area":"documentation"}]`,
	}))
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !strings.Contains(getResultText(result), "version 2") {
		t.Errorf("refresh should bump to version 2, got: %s", getResultText(result))
	}

	result, err = NewCacheInvalidateTool(cache).Handle(ctx, callRequest(map[string]any{"project_name": "foo"}))
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if isErrorResult(result) {
		t.Fatalf("invalidate failed: %s", getResultText(result))
	}

	result, err = NewCacheLoadTool(cache).Handle(ctx, callRequest(map[string]any{"project_name": "foo"}))
	if err != nil {
		t.Fatalf("load after invalidate: %v", err)
	}
	if !isErrorResult(result) {
		t.Fatal("load after invalidate should be not-found")
	}
}

func TestCacheRefreshBadChanges(t *testing.T) {
	tool := NewCacheRefreshTool(intelligence.NewCache(newFake(), testLogger))
	result, err := tool.Handle(context.Background(), callRequest(map[string]any{
		"project_name": "foo",
		"changes":      "not json",
	}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !isErrorResult(result) {
		t.Fatal("malformed changes should yield an error result")
	}
}

func TestCacheCreateMissingArgs(t *testing.T) {
	tool := NewCacheCreateTool(intelligence.NewCache(newFake(), testLogger))
	result, err := tool.Handle(context.Background(), callRequest(map[string]any{"project_name": "foo"}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !isErrorResult(result) {
		t.Fatal("missing project_path should yield an error result")
	}
}
