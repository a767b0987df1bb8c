package handoff

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
)

// timeNow is a package-level var to allow test injection.
var timeNow = time.Now

// newID is a package-level var to allow test injection.
var newID = uuid.NewString

// captureOp names the read operation used to pull each collaborator's
// relevant state at handoff creation.
var captureOp = map[collab.CollaboratorType]string{
	collab.Memory:     "read_graph",
	collab.Filesystem: "list_allowed_directories",
	collab.Git:        "git_status",
	collab.SQLite:     "list_tables",
	collab.Postgres:   "list_tables",
	collab.Checkpoint: "list_checkpoints",
}

// replayOrder is the fixed priority ordering for instructions:
// storage-of-record first (restore operations), derived views last
// (verification operations).
var replayOrder = []collab.CollaboratorType{
	collab.Memory,
	collab.Checkpoint,
	collab.Filesystem,
	collab.Git,
	collab.SQLite,
	collab.Postgres,
}

// verifiedKinds get a checksum declared on their instruction: replay
// re-runs the read operation and compares the result against the
// captured state. Restore kinds (memory, checkpoint) get no checksum —
// their replay result is an acknowledgement, so accuracy is neutral.
var verifiedKinds = map[collab.CollaboratorType]bool{
	collab.Filesystem: true,
	collab.Git:        true,
	collab.SQLite:     true,
	collab.Postgres:   true,
}

// recordPrefix is the graph-store naming convention for persisted
// handoff packages: one record per handoff id.
const recordPrefix = "handoff_package_"

// Coordinator builds and replays handoff packages.
type Coordinator struct {
	invoker collab.Invoker
	logger  *log.Logger
}

// NewCoordinator builds a Coordinator.
func NewCoordinator(invoker collab.Invoker, logger *log.Logger) *Coordinator {
	return &Coordinator{invoker: invoker, logger: logger}
}

// Create queries all collaborators concurrently, links shared
// entities, assembles ordered replay instructions, and persists the
// package through the graph-store collaborator.
//
// An unreachable collaborator yields a degraded sub-package, never an
// aborted handoff; only failure to persist the finished package is
// fatal.
func (c *Coordinator) Create(ctx context.Context) (*Package, error) {
	pkg := &Package{
		ID:          newID(),
		CreatedAt:   timeNow().UTC(),
		SubPackages: make(map[collab.CollaboratorType]SubPackage, len(collab.Types)),
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, t := range collab.Types {
		wg.Add(1)
		go func(t collab.CollaboratorType) {
			defer wg.Done()
			sub := c.capture(ctx, t)
			mu.Lock()
			pkg.SubPackages[t] = sub
			mu.Unlock()
		}(t)
	}
	wg.Wait()

	pkg.References = crossReferences(pkg.SubPackages)

	instructions, err := buildInstructions(pkg.SubPackages, pkg.References)
	if err != nil {
		return nil, err
	}
	pkg.Instructions = instructions

	if err := c.persist(ctx, pkg); err != nil {
		return nil, fmt.Errorf("handoff: persisting package %s: %w", pkg.ID, err)
	}

	c.logger.Printf("handoff: created package %s (%d instructions, %d references)",
		pkg.ID, len(pkg.Instructions), len(pkg.References))
	return pkg, nil
}

func (c *Coordinator) capture(ctx context.Context, t collab.CollaboratorType) SubPackage {
	sub := SubPackage{Type: t, CapturedAt: timeNow().UTC()}

	payload, err := c.invoker.Invoke(ctx, t, captureOp[t], nil)
	if err != nil {
		sub.Degraded = true
		sub.Reason = err.Error()
		return sub
	}

	sub.Payload = payload
	sub.Entities = extractEntities(payload)
	return sub
}

// refKeys are payload keys whose string values name logical entities
// shared across collaborators.
var refKeys = map[string]bool{
	"checkpoint_id": true,
	"commit":        true,
	"head_commit":   true,
	"branch":        true,
	"session_id":    true,
	"snapshot_id":   true,
	"project":       true,
	"database":      true,
}

// extractEntities walks a payload collecting logical entity ids:
// values under known reference keys, keys ending in "_id", and the
// names of graph entities.
func extractEntities(payload map[string]any) []string {
	seen := make(map[string]bool)
	var walk func(m map[string]any)
	walk = func(m map[string]any) {
		for key, value := range m {
			switch v := value.(type) {
			case string:
				if refKeys[key] || strings.HasSuffix(key, "_id") || key == "name" {
					if v != "" {
						seen[v] = true
					}
				}
			case map[string]any:
				walk(v)
			case []any:
				for _, item := range v {
					if nested, ok := item.(map[string]any); ok {
						walk(nested)
					}
				}
			}
		}
	}
	walk(payload)

	entities := make([]string, 0, len(seen))
	for e := range seen {
		entities = append(entities, e)
	}
	sort.Strings(entities)
	return entities
}

// crossReferences emits one reference per pair of collaborators whose
// sub-states mention the same logical entity. Output order is fixed by
// the canonical collaborator order plus entity sort, never by map
// iteration.
func crossReferences(subs map[collab.CollaboratorType]SubPackage) []CrossRef {
	var refs []CrossRef
	for i, source := range collab.Types {
		for _, target := range collab.Types[i+1:] {
			src, tgt := subs[source], subs[target]
			if src.Degraded || tgt.Degraded {
				continue
			}
			targetSet := make(map[string]bool, len(tgt.Entities))
			for _, e := range tgt.Entities {
				targetSet[e] = true
			}
			for _, e := range src.Entities {
				if targetSet[e] {
					refs = append(refs, CrossRef{
						SourceType:   source,
						SourceID:     e,
						TargetType:   target,
						TargetID:     e,
						Relationship: "shared_entity",
					})
				}
			}
		}
	}
	return refs
}

// buildInstructions assembles the replay list in the fixed priority
// order. A step depends on every earlier step whose collaborator
// shares a cross reference with it. Degraded sub-packages yield no
// instruction; they surface as missing elements at reconstruction.
func buildInstructions(subs map[collab.CollaboratorType]SubPackage, refs []CrossRef) ([]Instruction, error) {
	linked := make(map[collab.CollaboratorType]map[collab.CollaboratorType]bool)
	for _, ref := range refs {
		if linked[ref.SourceType] == nil {
			linked[ref.SourceType] = make(map[collab.CollaboratorType]bool)
		}
		if linked[ref.TargetType] == nil {
			linked[ref.TargetType] = make(map[collab.CollaboratorType]bool)
		}
		linked[ref.SourceType][ref.TargetType] = true
		linked[ref.TargetType][ref.SourceType] = true
	}

	stepOf := make(map[collab.CollaboratorType]int)
	var instructions []Instruction
	for _, t := range replayOrder {
		sub, ok := subs[t]
		if !ok || sub.Degraded {
			continue
		}

		ins := Instruction{
			Step:   len(instructions) + 1,
			Target: t,
		}

		if verifiedKinds[t] {
			// Re-run the capture read and verify the result matches.
			ins.Operation = captureOp[t]
			ins.Checksum = canonicalChecksum(sub.Payload)
		} else {
			ins.Operation = restoreOperation(t)
			ins.Parameters = restoreParameters(t, sub)
		}

		for _, earlier := range replayOrder {
			if earlier == t {
				break
			}
			if step, ok := stepOf[earlier]; ok && linked[t][earlier] {
				ins.DependsOn = append(ins.DependsOn, step)
			}
		}

		stepOf[t] = ins.Step
		instructions = append(instructions, ins)
	}

	if err := ValidateInstructions(instructions); err != nil {
		return nil, err
	}
	return instructions, nil
}

func restoreOperation(t collab.CollaboratorType) string {
	if t == collab.Checkpoint {
		return "restore_checkpoint"
	}
	return "create_entities"
}

func restoreParameters(t collab.CollaboratorType, sub SubPackage) map[string]any {
	if t == collab.Checkpoint {
		params := map[string]any{}
		if len(sub.Entities) > 0 {
			params["checkpoint_id"] = sub.Entities[0]
		}
		return params
	}
	// Graph store: re-create the captured entities.
	if entities, ok := sub.Payload["entities"]; ok {
		return map[string]any{"entities": entities}
	}
	return map[string]any{"entities": []any{}}
}

// RecordName returns the graph-store record name for a handoff id.
func RecordName(handoffID string) string {
	return recordPrefix + handoffID
}

func (c *Coordinator) persist(ctx context.Context, pkg *Package) error {
	data, err := json.Marshal(pkg)
	if err != nil {
		return fmt.Errorf("encoding package: %w", err)
	}

	_, err = c.invoker.Invoke(ctx, collab.Memory, "create_entities", map[string]any{
		"entities": []any{
			map[string]any{
				"name":         RecordName(pkg.ID),
				"entityType":   "handoff_package",
				"observations": []any{string(data)},
			},
		},
	})
	return err
}

// Load reads a persisted package back from the graph store.
func (c *Coordinator) Load(ctx context.Context, handoffID string) (*Package, error) {
	result, err := c.invoker.Invoke(ctx, collab.Memory, "open_nodes", map[string]any{
		"names": []any{RecordName(handoffID)},
	})
	if err != nil {
		return nil, fmt.Errorf("handoff: loading package %s: %w", handoffID, err)
	}

	raw, ok := firstObservation(result)
	if !ok {
		return nil, fmt.Errorf("handoff: package %s: %w", handoffID, collab.ErrNotFound)
	}

	var pkg Package
	if err := json.Unmarshal([]byte(raw), &pkg); err != nil {
		return nil, fmt.Errorf("handoff: decoding package %s: %w", handoffID, err)
	}
	return &pkg, nil
}

// firstObservation digs the first observation string out of a graph
// read result ({"entities": [{"observations": ["..."]}]}).
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

// Reconstruct loads a package and replays its instructions in step
// order. Steps whose target is unavailable are skipped and recorded as
// missing elements; they never fail the reconstruction.
func (c *Coordinator) Reconstruct(ctx context.Context, handoffID string) (*ReconstructedContext, error) {
	start := timeNow()

	pkg, err := c.Load(ctx, handoffID)
	if err != nil {
		return nil, err
	}
	if err := ValidateInstructions(pkg.Instructions); err != nil {
		return nil, err
	}

	rc := &ReconstructedContext{
		HandoffID:       handoffID,
		Restored:        make(map[collab.CollaboratorType]map[string]any),
		MissingElements: []string{},
	}

	// Sub-packages degraded at creation never produced instructions;
	// name them explicitly rather than dropping them silently.
	for _, t := range collab.Types {
		if sub, ok := pkg.SubPackages[t]; ok && sub.Degraded {
			rc.MissingElements = append(rc.MissingElements, string(t))
		}
	}

	replayed := make(map[int]bool)
	var accuracySum float64
	var accuracyCount int

	for _, ins := range pkg.Instructions {
		if dep, ok := unsatisfiedDep(ins, replayed); ok {
			rc.MissingElements = append(rc.MissingElements,
				fmt.Sprintf("%s (step %d: dependency step %d not replayed)", ins.Target, ins.Step, dep))
			continue
		}

		result, err := c.invoker.Invoke(ctx, ins.Target, ins.Operation, ins.Parameters)
		if err != nil {
			rc.MissingElements = append(rc.MissingElements, string(ins.Target))
			c.logger.Printf("handoff: replay step %d (%s) skipped: %v", ins.Step, ins.Target, err)
			continue
		}

		replayed[ins.Step] = true
		rc.Restored[ins.Target] = result

		accuracyCount++
		if ins.Checksum == "" || canonicalChecksum(result) == ins.Checksum {
			accuracySum++
		}
	}

	if total := len(pkg.Instructions); total > 0 {
		rc.Completeness = float64(len(replayed)) / float64(total)
	}
	if accuracyCount > 0 {
		rc.Accuracy = accuracySum / float64(accuracyCount)
	}
	rc.Duration = timeNow().Sub(start)
	return rc, nil
}

func unsatisfiedDep(ins Instruction, replayed map[int]bool) (int, bool) {
	for _, dep := range ins.DependsOn {
		if !replayed[dep] {
			return dep, true
		}
	}
	return 0, false
}
