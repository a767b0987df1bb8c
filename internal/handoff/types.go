// Package handoff builds cross-collaborator handoff packages and
// replays them into reconstructed contexts.
//
// A package captures each collaborator's relevant state, links entries
// that reference the same logical entity, and carries an ordered list
// of replay instructions. Packages are persisted as graph-store
// records; the package itself is immutable once created, so replay is
// idempotent given the same package.
package handoff

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/maestro-mcp/maestro/internal/collab"
)

// ErrInvalidPackage marks a malformed package, e.g. an instruction
// list with forward or cyclic dependencies. Fatal to the single
// operation being constructed; never corrupts persisted records.
var ErrInvalidPackage = errors.New("invalid handoff package")

// SubPackage is one collaborator's captured sub-state. Opaque beyond
// this declared shape.
type SubPackage struct {
	Type       collab.CollaboratorType `json:"type"`
	CapturedAt time.Time               `json:"captured_at"`
	Degraded   bool                    `json:"degraded"`
	Reason     string                  `json:"reason,omitempty"`
	Payload    map[string]any          `json:"payload,omitempty"`
	// Entities lists logical entity ids this sub-state references,
	// used for cross-collaborator linking.
	Entities []string `json:"entities,omitempty"`
}

// CrossRef links entries in two collaborators that reference the same
// logical entity.
type CrossRef struct {
	SourceType   collab.CollaboratorType `json:"source_type"`
	SourceID     string                  `json:"source_id"`
	TargetType   collab.CollaboratorType `json:"target_type"`
	TargetID     string                  `json:"target_id"`
	Relationship string                  `json:"relationship"`
	Metadata     map[string]string       `json:"metadata,omitempty"`
}

// Instruction is one ordered replay step. Dependencies reference
// strictly lower step numbers — validated at construction time.
type Instruction struct {
	Step       int                     `json:"step"`
	Target     collab.CollaboratorType `json:"target"`
	Operation  string                  `json:"operation"`
	Parameters map[string]any          `json:"parameters,omitempty"`
	DependsOn  []int                   `json:"depends_on,omitempty"`
	// Checksum, when set, is the expected canonical checksum of the
	// replay result. Empty means the step's accuracy is neutral.
	Checksum string `json:"checksum,omitempty"`
}

// Package is the unified handoff package. Immutable after creation.
type Package struct {
	ID           string                                 `json:"id"`
	CreatedAt    time.Time                              `json:"created_at"`
	SubPackages  map[collab.CollaboratorType]SubPackage `json:"sub_packages"`
	References   []CrossRef                             `json:"references,omitempty"`
	Instructions []Instruction                          `json:"instructions"`
}

// ReconstructedContext is the outcome of replaying one package.
type ReconstructedContext struct {
	HandoffID       string                                     `json:"handoff_id"`
	Restored        map[collab.CollaboratorType]map[string]any `json:"restored"`
	Completeness    float64                                    `json:"completeness"`
	Accuracy        float64                                    `json:"accuracy"`
	MissingElements []string                                   `json:"missing_elements"`
	Duration        time.Duration                              `json:"duration"`
}

// ValidateInstructions checks the ordering invariant: steps are
// numbered 1..n in order, and every dependency references a strictly
// lower step number. Forward and self dependencies (which subsume
// cycles in a linear list) are rejected.
func ValidateInstructions(instructions []Instruction) error {
	for i, ins := range instructions {
		wantStep := i + 1
		if ins.Step != wantStep {
			return fmt.Errorf("%w: instruction %d has step number %d", ErrInvalidPackage, i, ins.Step)
		}
		if !ins.Target.Valid() {
			return fmt.Errorf("%w: step %d targets unknown collaborator %q", ErrInvalidPackage, ins.Step, ins.Target)
		}
		if ins.Operation == "" {
			return fmt.Errorf("%w: step %d has no operation", ErrInvalidPackage, ins.Step)
		}
		for _, dep := range ins.DependsOn {
			if dep >= ins.Step {
				return fmt.Errorf("%w: step %d depends on step %d (must be strictly lower)", ErrInvalidPackage, ins.Step, dep)
			}
			if dep < 1 {
				return fmt.Errorf("%w: step %d depends on invalid step %d", ErrInvalidPackage, ins.Step, dep)
			}
		}
	}
	return nil
}

// canonicalChecksum hashes a payload's canonical JSON form. Map keys
// are sorted by encoding/json, so two structurally equal payloads
// always hash the same.
func canonicalChecksum(payload map[string]any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
