// Package server wires all MCP components and creates the server instance.
//
// This is the composition root (DIP): it creates concrete implementations
// and injects them into the tools that depend on abstractions.
// No business logic lives here — only wiring.
package server

import (
	"log"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/maestro-mcp/maestro/internal/collab"
	"github.com/maestro-mcp/maestro/internal/config"
	"github.com/maestro-mcp/maestro/internal/handoff"
	"github.com/maestro-mcp/maestro/internal/health"
	"github.com/maestro-mcp/maestro/internal/intelligence"
	"github.com/maestro-mcp/maestro/internal/journal"
	"github.com/maestro-mcp/maestro/internal/syncer"
	"github.com/maestro-mcp/maestro/internal/tools"
)

// Version is set at build time via ldflags.
var Version = "dev"

// New creates and configures the MCP server with all coordination
// tools registered. This is the single place where all dependencies
// are resolved.
//
// The returned cleanup function shuts down collaborator connections
// and closes the journal database, and must be called on shutdown
// (typically via defer). It is always non-nil and safe to call even
// if journal init failed.
func New() (*server.MCPServer, func(), error) {
	// Diagnostics go to stderr only; stdout carries the MCP protocol.
	logger := log.New(os.Stderr, "maestro: ", log.LstdFlags)

	// --- Load configuration ---

	dataDir, err := config.DataDir()
	if err != nil {
		return nil, noop, err
	}
	cfg, err := config.Load(dataDir)
	if err != nil {
		return nil, noop, err
	}

	// --- Create shared dependencies ---

	manager := collab.NewManager(cfg, collab.NewStdioTransport, logger)

	// The journal is an independent subsystem: if SQLite fails to
	// open, sync history and snapshot recording are skipped but every
	// coordination tool keeps working.
	var jour *journal.Store
	if j, jourErr := journal.New(journal.Config{DataDir: dataDir}); jourErr != nil {
		logger.Printf("WARNING: journal disabled: %v", jourErr)
	} else {
		jour = j
	}

	cleanup := func() {
		manager.ShutdownAll()
		if jour != nil {
			if err := jour.Close(); err != nil {
				logger.Printf("WARNING: journal close: %v", err)
			}
		}
	}

	agg := health.NewAggregator(manager, cfg.Timeouts.Probe)
	monitor := health.NewMonitor(manager, agg)
	engine := syncer.NewEngine(manager, jour, cfg.SyncStrategies, cfg.Timeouts.Invoke, logger)
	coordinator := handoff.NewCoordinator(manager, logger)
	cache := intelligence.NewCache(manager, logger)

	// --- Create the MCP server ---

	s := server.NewMCPServer(
		"maestro",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	// --- Register coordination tools ---

	healthTool := tools.NewCoordHealthTool(agg, jour)
	s.AddTool(healthTool.Definition(), healthTool.Handle)

	ecosystemTool := tools.NewCoordEcosystemTool(monitor, jour)
	s.AddTool(ecosystemTool.Definition(), ecosystemTool.Handle)

	syncTool := tools.NewCoordSyncTool(engine)
	s.AddTool(syncTool.Definition(), syncTool.Handle)

	statsTool := tools.NewCoordStatsTool(jour)
	s.AddTool(statsTool.Definition(), statsTool.Handle)

	// --- Register handoff tools ---

	handoffCreate := tools.NewHandoffCreateTool(coordinator)
	s.AddTool(handoffCreate.Definition(), handoffCreate.Handle)

	handoffReconstruct := tools.NewHandoffReconstructTool(coordinator)
	s.AddTool(handoffReconstruct.Definition(), handoffReconstruct.Handle)

	// --- Register intelligence cache tools ---

	cacheCreate := tools.NewCacheCreateTool(cache)
	s.AddTool(cacheCreate.Definition(), cacheCreate.Handle)

	cacheLoad := tools.NewCacheLoadTool(cache)
	s.AddTool(cacheLoad.Definition(), cacheLoad.Handle)

	cacheValidate := tools.NewCacheValidateTool(cache)
	s.AddTool(cacheValidate.Definition(), cacheValidate.Handle)

	cacheRefresh := tools.NewCacheRefreshTool(cache)
	s.AddTool(cacheRefresh.Definition(), cacheRefresh.Handle)

	cacheInvalidate := tools.NewCacheInvalidateTool(cache)
	s.AddTool(cacheInvalidate.Definition(), cacheInvalidate.Handle)

	return s, cleanup, nil
}

// noop is a no-op cleanup function used as the default before the
// manager and journal exist.
func noop() {}

// serverInstructions returns the system instructions that tell the AI
// how to use Maestro effectively.
func serverInstructions() string {
	return `You have access to Maestro, a coordination server for a set of
collaborator MCP services (memory, filesystem, git, sqlite, postgres,
checkpoint). Maestro does not implement these services — it connects to
them, tracks their health, synchronizes their state, and packages their
combined context for handoff between sessions.

## Health and Monitoring

- coord_health: probe every collaborator and report the combined status.
  Healthy = all online; degraded = a minority failed; unhealthy = half
  or more unreachable. Run this first when another tool reports
  degraded results.
- coord_ecosystem: full snapshot including per-collaborator activity
  (entity counts, recent items). Heavier than coord_health; use it for
  diagnosis, not routine checks.
- coord_stats: local history of sync runs and snapshots.

## Synchronization

- coord_sync: sync all collaborators. Each one syncs independently —
  a slow or dead collaborator degrades only its own entry. Conflicts
  between collaborators (e.g. diverging head commits) are resolved by
  configured strategies or flagged for manual review. A sync with
  unresolved conflicts still succeeds; review the conflict list.
- Respect next_sync when present — it reflects the worst collaborator's
  staleness window.

## Context Handoff

Use handoffs to carry working context across sessions:
1. At the end of a session, call handoff_create. Save the returned id.
2. In a later session, call handoff_reconstruct with that id.
3. Check completeness and missing_elements: a collaborator that was
   down at creation or replay time is named there, never silently
   dropped. Decide whether the missing parts matter before continuing.

## Project Intelligence Cache

The cache stores derived project understanding (structure,
architecture, development setup, context) keyed by project name:
- cache_create: full analysis. Run once per project, or to rebuild.
- cache_validate: ALWAYS validate before trusting a loaded cache. The
  recommended_action tells you what to do: use, refresh, recreate, or
  invalidate. Never act on a cache that validates below the refresh
  threshold without refreshing it first.
- cache_refresh: pass the actual changes made ({path, magnitude, area});
  only affected sections are regenerated. Prefer this over recreating.
- cache_invalidate: discard when the project changed beyond repair.

## Degraded Results

Every Maestro response distinguishes full success, partial success with
named degraded parts, and failure. When a response names degraded or
missing collaborators, tell the user which parts of the result are
affected instead of presenting it as complete.`
}
