package intelligence

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path"
	"sync"
	"time"

	"github.com/maestro-mcp/maestro/internal/collab"
)

// timeNow is a package-level var to allow test injection.
var timeNow = time.Now

// recordPrefix names ProjectIntelligence records in the graph store.
const recordPrefix = "project_intelligence_"

// sectionQuery describes how one section is gathered from the
// filesystem collaborator.
type sectionQuery struct {
	operation string
	args      func(projectPath string) map[string]any
}

var sectionQueries = map[SectionName]sectionQuery{
	SectionStructure: {"directory_tree", func(p string) map[string]any {
		return map[string]any{"path": p}
	}},
	SectionArchitecture: {"search_files", func(p string) map[string]any {
		return map[string]any{"path": p, "pattern": "*.mod"}
	}},
	SectionDevelopment: {"search_files", func(p string) map[string]any {
		return map[string]any{"path": p, "pattern": "*_test.go"}
	}},
	SectionContext: {"search_files", func(p string) map[string]any {
		return map[string]any{"path": p, "pattern": "README*"}
	}},
}

// defaultTriggers are attached to every new record. Config-file
// identity is the critical signal; source and documentation patterns
// matter progressively less.
func defaultTriggers(projectPath string) []InvalidationTrigger {
	return []InvalidationTrigger{
		{Pattern: path.Join(projectPath, "go.mod"), Kind: TriggerConfigFile, Importance: Critical},
		{Pattern: projectPath, Kind: TriggerDirectory, Importance: Major},
		{Pattern: "*.go", Kind: TriggerFilePattern, Importance: Moderate},
		{Pattern: "*.md", Kind: TriggerFilePattern, Importance: Minor},
	}
}

// Cache creates, loads, validates, refreshes, and invalidates
// ProjectIntelligence records.
type Cache struct {
	invoker collab.Invoker
	logger  *log.Logger
}

// NewCache builds a Cache on top of an Invoker.
func NewCache(invoker collab.Invoker, logger *log.Logger) *Cache {
	return &Cache{invoker: invoker, logger: logger}
}

// RecordName is the graph-store record name for a project.
func RecordName(project string) string {
	return recordPrefix + project
}

// Create analyzes a project and persists a fresh record. A section
// whose analysis source is unreachable degrades to a minimal value;
// an unreachable storage collaborator is fatal.
func (c *Cache) Create(ctx context.Context, project, projectPath string) (*ProjectIntelligence, error) {
	now := timeNow()
	record := &ProjectIntelligence{
		Project:      project,
		Path:         projectPath,
		CreatedAt:    now,
		LastUpdated:  now,
		CacheVersion: 1,
		Sections:     c.gatherSections(ctx, projectPath, SectionNames),
		Triggers:     defaultTriggers(projectPath),
		Freshness: Freshness{
			Status:     Fresh,
			Confidence: 1.0,
			AssessedAt: now,
		},
	}

	// The version token must strictly increase even across
	// create-over-existing.
	if prev, err := c.Load(ctx, project); err == nil {
		record.CacheVersion = prev.CacheVersion + 1
	}

	if err := c.persist(ctx, record); err != nil {
		return nil, fmt.Errorf("intelligence: persisting %s: %w", project, err)
	}
	return record, nil
}

// gatherSections runs the named section analyses concurrently and
// combines results by section name.
func (c *Cache) gatherSections(ctx context.Context, projectPath string, names []SectionName) map[SectionName]Section {
	sections := make(map[SectionName]Section, len(names))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name SectionName) {
			defer wg.Done()
			s := c.gatherOne(ctx, projectPath, name)
			mu.Lock()
			sections[name] = s
			mu.Unlock()
		}(name)
	}
	wg.Wait()
	return sections
}

func (c *Cache) gatherOne(ctx context.Context, projectPath string, name SectionName) Section {
	q := sectionQueries[name]
	payload, err := c.invoker.Invoke(ctx, collab.Filesystem, q.operation, q.args(projectPath))
	if err != nil {
		c.logger.Printf("intelligence: %s analysis degraded: %v", name, err)
		return Section{GeneratedAt: timeNow(), Degraded: true, Reason: err.Error()}
	}
	return Section{GeneratedAt: timeNow(), Data: payload}
}

func (c *Cache) persist(ctx context.Context, record *ProjectIntelligence) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}

	_, err = c.invoker.Invoke(ctx, collab.Memory, "create_entities", map[string]any{
		"entities": []any{
			map[string]any{
				"name":         RecordName(record.Project),
				"entityType":   "project_intelligence",
				"observations": []any{string(data)},
			},
		},
	})
	return err
}

// Load reads a persisted record. A missing record is collab.ErrNotFound.
func (c *Cache) Load(ctx context.Context, project string) (*ProjectIntelligence, error) {
	result, err := c.invoker.Invoke(ctx, collab.Memory, "open_nodes", map[string]any{
		"names": []any{RecordName(project)},
	})
	if err != nil {
		return nil, fmt.Errorf("intelligence: loading %s: %w", project, err)
	}

	raw, ok := firstObservation(result)
	if !ok {
		return nil, fmt.Errorf("intelligence: %s: %w", project, collab.ErrNotFound)
	}

	var record ProjectIntelligence
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("intelligence: decoding %s: %w", project, err)
	}
	return &record, nil
}

func firstObservation(result map[string]any) (string, bool) {
	entities, ok := result["entities"].([]any)
	if !ok || len(entities) == 0 {
		return "", false
	}
	entity, ok := entities[0].(map[string]any)
	if !ok {
		return "", false
	}
	observations, ok := entity["observations"].([]any)
	if !ok || len(observations) == 0 {
		return "", false
	}
	s, ok := observations[0].(string)
	return s, ok
}

// Validate re-evaluates every trigger against the current filesystem
// state and maps the accumulated staleness to a recommended action.
func (c *Cache) Validate(ctx context.Context, project string) (*ValidationResult, error) {
	record, err := c.Load(ctx, project)
	if err != nil {
		return nil, err
	}

	matched, unverified := c.evaluateTriggers(ctx, record)
	confidence := confidenceFrom(matched)
	status := statusFor(confidence)
	action := actionFor(confidence)
	if len(unverified) > 0 {
		// Some triggers could not be checked, so "fresh" cannot be
		// asserted. An unverifiable cache is never blindly trusted.
		status = Unknown
		if action == ActionUse {
			action = ActionRefresh
		}
	}
	return &ValidationResult{
		Project:           project,
		CacheVersion:      record.CacheVersion,
		Confidence:        confidence,
		Status:            status,
		Matched:           matched,
		Unverified:        unverified,
		RecommendedAction: action,
	}, nil
}

// confidenceFrom derives confidence as 1 minus the summed importance
// weights of matched triggers, clamped to [0,1].
func confidenceFrom(matched []MatchedTrigger) float64 {
	total := 0.0
	for _, m := range matched {
		total += importanceWeight[m.Trigger.Importance]
	}
	return clamp01(1.0 - total)
}

// evaluateTriggers checks each trigger for changes after the record's
// lastUpdated. Triggers that cannot be evaluated (an unreachable
// filesystem collaborator, usually) are reported back by name rather
// than being treated as "no evidence of change".
func (c *Cache) evaluateTriggers(ctx context.Context, record *ProjectIntelligence) (matched []MatchedTrigger, unverified []string) {
	for _, trigger := range record.Triggers {
		reason, hit, err := c.evaluateOne(ctx, record, trigger)
		if err != nil {
			c.logger.Printf("intelligence: trigger %s unverifiable: %v", trigger.Pattern, err)
			unverified = append(unverified, fmt.Sprintf("%s: %v", trigger.Pattern, err))
			continue
		}
		if hit {
			matched = append(matched, MatchedTrigger{Trigger: trigger, Reason: reason})
		}
	}
	return matched, unverified
}

func (c *Cache) evaluateOne(ctx context.Context, record *ProjectIntelligence, trigger InvalidationTrigger) (string, bool, error) {
	switch trigger.Kind {
	case TriggerConfigFile, TriggerDirectory:
		payload, err := c.invoker.Invoke(ctx, collab.Filesystem, "get_file_info", map[string]any{
			"path": trigger.Pattern,
		})
		if err != nil {
			return "", false, err
		}
		if modifiedAfter(payload, record.LastUpdated) {
			return fmt.Sprintf("%s modified after %s", trigger.Pattern, record.LastUpdated.Format(time.RFC3339)), true, nil
		}
	case TriggerFilePattern:
		payload, err := c.invoker.Invoke(ctx, collab.Filesystem, "search_files", map[string]any{
			"path":    record.Path,
			"pattern": trigger.Pattern,
		})
		if err != nil {
			return "", false, err
		}
		if entries, ok := payload["matches"].([]any); ok {
			for _, entry := range entries {
				if m, ok := entry.(map[string]any); ok && modifiedAfter(m, record.LastUpdated) {
					return fmt.Sprintf("file matching %s modified after %s", trigger.Pattern, record.LastUpdated.Format(time.RFC3339)), true, nil
				}
			}
		}
	}
	return "", false, nil
}

// modifiedAfter reads an RFC3339 "modified" timestamp out of a file
// info payload.
func modifiedAfter(payload map[string]any, since time.Time) bool {
	raw, ok := payload["modified"].(string)
	if !ok {
		return false
	}
	modified, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return false
	}
	return modified.After(since)
}

// Refresh regenerates only the sections the reported changes can
// affect, bumps the cache version, and reports the confidence delta.
func (c *Cache) Refresh(ctx context.Context, project string, changes []Change) (*UpdateResult, error) {
	record, err := c.Load(ctx, project)
	if err != nil {
		return nil, err
	}

	// Confidence deltas count only confirmed matches; unverifiable
	// triggers do not move the score in either direction.
	beforeMatched, _ := c.evaluateTriggers(ctx, record)
	before := confidenceFrom(beforeMatched)

	dirty := make(map[SectionName]bool)
	for _, change := range changes {
		for _, name := range sectionsFor(change) {
			dirty[name] = true
		}
	}
	var names []SectionName
	for _, name := range SectionNames {
		if dirty[name] {
			names = append(names, name)
		}
	}

	for name, section := range c.gatherSections(ctx, record.Path, names) {
		record.Sections[name] = section
	}

	now := timeNow()
	record.LastUpdated = now
	record.CacheVersion++

	afterMatched, _ := c.evaluateTriggers(ctx, record)
	after := confidenceFrom(afterMatched)
	record.Freshness = Freshness{
		Status:     statusFor(after),
		Confidence: after,
		AssessedAt: now,
	}

	if err := c.persist(ctx, record); err != nil {
		return nil, fmt.Errorf("intelligence: persisting %s: %w", project, err)
	}

	return &UpdateResult{
		Project:               project,
		CacheVersion:          record.CacheVersion,
		RefreshedSections:     names,
		ConfidenceBefore:      before,
		ConfidenceAfter:       after,
		ConfidenceImprovement: after - before,
	}, nil
}

// Invalidate deletes the persisted record. A later Load returns
// not-found, never a stale copy.
func (c *Cache) Invalidate(ctx context.Context, project, reason string) error {
	c.logger.Printf("intelligence: invalidating %s: %s", project, reason)
	_, err := c.invoker.Invoke(ctx, collab.Memory, "delete_entities", map[string]any{
		"entityNames": []any{RecordName(project)},
	})
	if err != nil {
		return fmt.Errorf("intelligence: invalidating %s: %w", project, err)
	}
	return nil
}
