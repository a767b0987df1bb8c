// Package health probes collaborator liveness and folds the results
// into coordination-level health and ecosystem snapshots.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/maestro-mcp/maestro/internal/collab"
)

// timeNow is a package-level var to allow test injection.
var timeNow = time.Now

// Status is the probe outcome for one collaborator.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusError   Status = "error"
)

// OverallStatus is the folded coordination status.
type OverallStatus string

const (
	Healthy   OverallStatus = "healthy"
	Degraded  OverallStatus = "degraded"
	Unhealthy OverallStatus = "unhealthy"
)

// ProbeResult records one collaborator probe.
type ProbeResult struct {
	Type    collab.CollaboratorType `json:"type"`
	Status  Status                  `json:"status"`
	Latency time.Duration           `json:"latency"`
	Error   string                  `json:"error,omitempty"`
}

// CoordinationHealth is derived from the current probe set. It is
// always recomputed, never stored as truth.
type CoordinationHealth struct {
	Status          OverallStatus                           `json:"status"`
	Collaborators   map[collab.CollaboratorType]ProbeResult `json:"collaborators"`
	ErrorCount      int                                     `json:"error_count"`
	AvgResponseTime time.Duration                           `json:"avg_response_time"`
	LastFullSync    time.Time                               `json:"last_full_sync,omitzero"`
}

// Aggregator probes all collaborators concurrently and folds the
// results.
type Aggregator struct {
	invoker collab.Invoker
	timeout time.Duration
}

// NewAggregator builds an Aggregator. timeout bounds each probe
// independently.
func NewAggregator(invoker collab.Invoker, timeout time.Duration) *Aggregator {
	return &Aggregator{invoker: invoker, timeout: timeout}
}

// ProbeOne runs a single bounded probe. A timeout or error yields a
// non-online status, never an error return.
func (a *Aggregator) ProbeOne(ctx context.Context, t collab.CollaboratorType) ProbeResult {
	probeCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := timeNow()
	err := a.invoker.Probe(probeCtx, t)
	latency := timeNow().Sub(start)

	if err == nil {
		return ProbeResult{Type: t, Status: StatusOnline, Latency: latency}
	}
	status := StatusError
	if collab.IsUnavailable(err) {
		status = StatusOffline
	}
	return ProbeResult{Type: t, Status: status, Latency: latency, Error: err.Error()}
}

// Check probes every collaborator concurrently and folds the results
// into CoordinationHealth. One collaborator's failure never prevents
// the others from being included; results are keyed by collaborator
// identity so the fold is deterministic.
func (a *Aggregator) Check(ctx context.Context) CoordinationHealth {
	results := make(map[collab.CollaboratorType]ProbeResult, len(collab.Types))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, t := range collab.Types {
		wg.Add(1)
		go func(t collab.CollaboratorType) {
			defer wg.Done()
			r := a.ProbeOne(ctx, t)
			mu.Lock()
			results[t] = r
			mu.Unlock()
		}(t)
	}
	wg.Wait()

	return Fold(results)
}

// Fold computes CoordinationHealth from a probe set.
//
// Status is healthy iff all probes succeed, degraded iff at least one
// fails but a majority succeed, unhealthy otherwise. ErrorCount counts
// non-online collaborators; AvgResponseTime averages successful probes
// only.
func Fold(results map[collab.CollaboratorType]ProbeResult) CoordinationHealth {
	h := CoordinationHealth{Collaborators: results}

	var online int
	var latencySum time.Duration
	for _, t := range collab.Types {
		r, ok := results[t]
		if !ok || r.Status != StatusOnline {
			h.ErrorCount++
			continue
		}
		online++
		latencySum += r.Latency
	}

	if online > 0 {
		h.AvgResponseTime = latencySum / time.Duration(online)
	}

	switch {
	case h.ErrorCount == 0:
		h.Status = Healthy
	case online*2 > len(collab.Types):
		h.Status = Degraded
	default:
		h.Status = Unhealthy
	}
	return h
}
