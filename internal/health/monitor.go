package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/maestro-mcp/maestro/internal/collab"
)

// Activity is a lightweight per-collaborator activity pull: counters
// and a few recent items, best effort.
type Activity struct {
	Type      collab.CollaboratorType `json:"type"`
	Available bool                    `json:"available"`
	Counters  map[string]int          `json:"counters,omitempty"`
	Recent    []string                `json:"recent,omitempty"`
	Error     string                  `json:"error,omitempty"`
}

// EcosystemState is an immutable snapshot of the whole collaborator
// ecosystem. Created fresh on each Snapshot call.
type EcosystemState struct {
	Timestamp time.Time                            `json:"timestamp"`
	Health    CoordinationHealth                   `json:"health"`
	Activity  map[collab.CollaboratorType]Activity `json:"activity"`
}

// activityOp names the cheap read operation used to pull activity from
// each collaborator kind.
var activityOp = map[collab.CollaboratorType]string{
	collab.Memory:     "read_graph",
	collab.Filesystem: "list_allowed_directories",
	collab.Git:        "git_status",
	collab.SQLite:     "list_tables",
	collab.Postgres:   "list_tables",
	collab.Checkpoint: "list_checkpoints",
}

// Monitor composes probe health with activity pulls into ecosystem
// snapshots.
type Monitor struct {
	invoker collab.Invoker
	agg     *Aggregator
}

// NewMonitor builds a Monitor sharing the given aggregator.
func NewMonitor(invoker collab.Invoker, agg *Aggregator) *Monitor {
	return &Monitor{invoker: invoker, agg: agg}
}

// Snapshot probes all collaborators and pulls activity from each,
// concurrently. A failed pull marks that one collaborator's activity
// unavailable without affecting the rest.
func (m *Monitor) Snapshot(ctx context.Context) EcosystemState {
	state := EcosystemState{
		Timestamp: timeNow().UTC(),
		Activity:  make(map[collab.CollaboratorType]Activity, len(collab.Types)),
	}

	var mu sync.Mutex
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		h := m.agg.Check(ctx)
		mu.Lock()
		state.Health = h
		mu.Unlock()
	}()

	for _, t := range collab.Types {
		wg.Add(1)
		go func(t collab.CollaboratorType) {
			defer wg.Done()
			a := m.pullActivity(ctx, t)
			mu.Lock()
			state.Activity[t] = a
			mu.Unlock()
		}(t)
	}
	wg.Wait()

	return state
}

func (m *Monitor) pullActivity(ctx context.Context, t collab.CollaboratorType) Activity {
	result, err := m.invoker.Invoke(ctx, t, activityOp[t], nil)
	if err != nil {
		return Activity{Type: t, Available: false, Error: err.Error()}
	}

	a := Activity{Type: t, Available: true, Counters: map[string]int{}}
	keys := make([]string, 0, len(result))
	for key := range result {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		switch v := result[key].(type) {
		case []any:
			a.Counters[key] = len(v)
			for _, item := range v {
				if s, ok := item.(string); ok && len(a.Recent) < 5 {
					a.Recent = append(a.Recent, s)
				}
			}
		case float64:
			a.Counters[key] = int(v)
		case string:
			if len(a.Recent) < 5 {
				a.Recent = append(a.Recent, fmt.Sprintf("%s: %s", key, truncate(v, 80)))
			}
		}
	}
	return a
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
