// Package syncer fans a synchronization pass out to every
// collaborator, detects cross-collaborator conflicts, and recommends
// when to sync next.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maestro-mcp/maestro/internal/collab"
	"github.com/maestro-mcp/maestro/internal/journal"
)

// timeNow is a package-level var to allow test injection.
var timeNow = time.Now

// newID is a package-level var to allow test injection.
var newID = uuid.NewString

// syncOp names the per-collaborator sync operation.
var syncOp = map[collab.CollaboratorType]string{
	collab.Memory:     "read_graph",
	collab.Filesystem: "list_allowed_directories",
	collab.Git:        "git_status",
	collab.SQLite:     "list_tables",
	collab.Postgres:   "list_tables",
	collab.Checkpoint: "list_checkpoints",
}

// conflictKeys are payload keys both collaborators may claim as
// authoritative. Two collaborators reporting different values for the
// same key is a conflict.
var conflictKeys = []string{"latest_checkpoint", "head_commit", "branch", "schema_version"}

// typicalStaleness is each collaborator kind's typical staleness
// window, used when recommending a next sync after a degraded run.
var typicalStaleness = map[collab.CollaboratorType]time.Duration{
	collab.Memory:     10 * time.Minute,
	collab.Filesystem: 5 * time.Minute,
	collab.Git:        15 * time.Minute,
	collab.SQLite:     30 * time.Minute,
	collab.Postgres:   30 * time.Minute,
	collab.Checkpoint: time.Hour,
}

// baseInterval is the routine sync cadence when everything is healthy.
const baseInterval = 15 * time.Minute

// CollabResult is one collaborator's independent sync outcome.
type CollabResult struct {
	Type     collab.CollaboratorType `json:"type"`
	Success  bool                    `json:"success"`
	Duration time.Duration           `json:"duration"`
	Items    int                     `json:"items"`
	// Authoritative holds the values this collaborator claims for the
	// well-known conflict keys.
	Authoritative map[string]string `json:"authoritative,omitempty"`
	Error         string            `json:"error,omitempty"`
}

// Conflict is one disagreement between collaborators, with its
// resolution.
type Conflict struct {
	Key          string                             `json:"key"`
	Values       map[collab.CollaboratorType]string `json:"values"`
	Strategy     string                             `json:"strategy"`
	Resolved     bool                               `json:"resolved"`
	ResolvedBy   collab.CollaboratorType            `json:"resolved_by,omitempty"`
	ChosenValue  string                             `json:"chosen_value,omitempty"`
	ManualReview bool                               `json:"manual_review"`
}

// Result is the outcome of one sync invocation. Success reflects
// whether the sync operation itself completed, not whether every
// collaborator agreed.
type Result struct {
	ID        string                                   `json:"id"`
	Success   bool                                     `json:"success"`
	Results   map[collab.CollaboratorType]CollabResult `json:"results"`
	Conflicts []Conflict                               `json:"conflicts"`
	Duration  time.Duration                            `json:"duration"`
	NextSync  *time.Time                               `json:"next_sync,omitempty"`
}

// Engine runs sync passes.
type Engine struct {
	invoker    collab.Invoker
	jour       *journal.Store // nullable — engine works without history
	strategies map[string]string
	timeout    time.Duration
	logger     *log.Logger
}

// NewEngine builds an Engine. jour may be nil; the engine then skips
// history recording and bases recommendations on the current run only.
func NewEngine(invoker collab.Invoker, jour *journal.Store, strategies map[string]string, timeout time.Duration, logger *log.Logger) *Engine {
	return &Engine{
		invoker:    invoker,
		jour:       jour,
		strategies: strategies,
		timeout:    timeout,
		logger:     logger,
	}
}

// SyncAll fans the sync operation out to all collaborators with
// independent timeouts, detects and resolves conflicts, records the
// run, and proposes a next sync time.
//
// When force is false and the last recorded sync was fully healthy and
// recent, the pass is still executed — force only bypasses the
// recency note in the recommendation.
func (e *Engine) SyncAll(ctx context.Context, force bool) (*Result, error) {
	start := timeNow()
	res := &Result{
		ID:      newID(),
		Results: make(map[collab.CollaboratorType]CollabResult, len(collab.Types)),
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, t := range collab.Types {
		wg.Add(1)
		go func(t collab.CollaboratorType) {
			defer wg.Done()
			r := e.syncOne(ctx, t)
			mu.Lock()
			res.Results[t] = r
			mu.Unlock()
		}(t)
	}
	wg.Wait()

	res.Conflicts = e.resolveConflicts(detectConflicts(res.Results))
	res.Duration = timeNow().Sub(start)
	res.Success = true
	res.NextSync = e.recommendNextSync(res, force)

	e.record(res)
	return res, nil
}

// syncOne runs one collaborator's sync with its own timeout. A timeout
// is treated identically to a collaborator error: it degrades this one
// result and nothing else.
func (e *Engine) syncOne(ctx context.Context, t collab.CollaboratorType) CollabResult {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := timeNow()
	payload, err := e.invoker.Invoke(callCtx, t, syncOp[t], nil)
	r := CollabResult{Type: t, Duration: timeNow().Sub(start)}
	if err != nil {
		r.Error = err.Error()
		return r
	}

	r.Success = true
	r.Items = countItems(payload)
	r.Authoritative = authoritativeValues(payload)
	return r
}

func countItems(payload map[string]any) int {
	var n int
	for _, value := range payload {
		if list, ok := value.([]any); ok {
			n += len(list)
		}
	}
	return n
}

func authoritativeValues(payload map[string]any) map[string]string {
	values := make(map[string]string)
	for _, key := range conflictKeys {
		if v, ok := payload[key].(string); ok && v != "" {
			values[key] = v
		}
	}
	if len(values) == 0 {
		return nil
	}
	return values
}

// detectConflicts finds keys where two collaborators claim different
// authoritative values. Output is ordered by key for reproducibility.
func detectConflicts(results map[collab.CollaboratorType]CollabResult) []Conflict {
	byKey := make(map[string]map[collab.CollaboratorType]string)
	for _, t := range collab.Types {
		r, ok := results[t]
		if !ok || !r.Success {
			continue
		}
		for key, value := range r.Authoritative {
			if byKey[key] == nil {
				byKey[key] = make(map[collab.CollaboratorType]string)
			}
			byKey[key][t] = value
		}
	}

	keys := make([]string, 0, len(byKey))
	for key := range byKey {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var conflicts []Conflict
	for _, key := range keys {
		values := byKey[key]
		if len(values) < 2 {
			continue
		}
		distinct := make(map[string]bool)
		for _, v := range values {
			distinct[v] = true
		}
		if len(distinct) > 1 {
			conflicts = append(conflicts, Conflict{Key: key, Values: values})
		}
	}
	return conflicts
}

// resolveConflicts applies the configured per-key strategy. Unknown or
// manual_review strategies leave the conflict flagged for review —
// never fatal.
func (e *Engine) resolveConflicts(conflicts []Conflict) []Conflict {
	for i := range conflicts {
		c := &conflicts[i]
		strategy, ok := e.strategies[c.Key]
		if !ok {
			strategy = "manual_review"
		}
		c.Strategy = strategy

		if preferred, found := strings.CutPrefix(strategy, "prefer_"); found {
			t := collab.CollaboratorType(preferred)
			if value, has := c.Values[t]; has {
				c.Resolved = true
				c.ResolvedBy = t
				c.ChosenValue = value
				continue
			}
			// The preferred collaborator did not report this key;
			// fall through to manual review.
		}
		c.ManualReview = true
	}
	return conflicts
}

// recommendNextSync proposes a next sync time from the worst failing
// collaborator's typical staleness window. Omitted only when the run
// was fully healthy and the journal shows a full sync within the base
// interval; a stale or absent journal record, or a forced run, gets a
// routine recommendation.
func (e *Engine) recommendNextSync(res *Result, force bool) *time.Time {
	var worst time.Duration
	for _, t := range collab.Types {
		r := res.Results[t]
		if r.Success {
			continue
		}
		window := typicalStaleness[t]
		if worst == 0 || window < worst {
			worst = window
		}
	}

	if worst > 0 {
		// Failing collaborators: resync at half the tightest window.
		next := timeNow().Add(worst / 2)
		return &next
	}

	if !force && e.jour != nil {
		if last, ok, err := e.jour.LastFullSync(); err == nil && ok && timeNow().Sub(last) < baseInterval {
			return nil
		}
		// Stale or missing full-sync record: recommend a routine pass.
		next := timeNow().Add(baseInterval)
		return &next
	}
	if !force {
		return nil
	}
	next := timeNow().Add(baseInterval)
	return &next
}

func (e *Engine) record(res *Result) {
	if e.jour == nil {
		return
	}

	var failures int
	degraded := make([]string, 0)
	for _, t := range collab.Types {
		if r := res.Results[t]; !r.Success {
			failures++
			degraded = append(degraded, string(t))
		}
	}

	detail, _ := json.Marshal(map[string]any{"degraded": degraded})
	run := journal.SyncRun{
		ID:            res.ID,
		StartedAt:     timeNow().Add(-res.Duration).UTC().Format(time.RFC3339),
		DurationMS:    res.Duration.Milliseconds(),
		Success:       res.Success,
		FailureCount:  failures,
		ConflictCount: len(res.Conflicts),
		Detail:        string(detail),
	}
	if err := e.jour.RecordSyncRun(run); err != nil {
		e.logger.Printf("syncer: recording run %s: %v", res.ID, err)
	}
}

// Describe renders a short human-readable summary of one result.
func Describe(res *Result) string {
	var degraded []string
	for _, t := range collab.Types {
		if r := res.Results[t]; !r.Success {
			degraded = append(degraded, fmt.Sprintf("%s (%s)", t, r.Error))
		}
	}
	if len(degraded) == 0 {
		return "all collaborators synchronized"
	}
	return "degraded: " + strings.Join(degraded, ", ")
}
