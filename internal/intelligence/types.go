// Package intelligence maintains a versioned, sectioned cache of
// project understanding persisted through the graph-store
// collaborator, with trigger-driven staleness detection and
// section-level refresh.
package intelligence

import "time"

// Importance grades how strongly a matched trigger erodes confidence.
type Importance string

const (
	Minor    Importance = "minor"
	Moderate Importance = "moderate"
	Major    Importance = "major"
	Critical Importance = "critical"
)

// importanceWeight maps each grade to its confidence penalty. A single
// critical match drops confidence from 1.0 to 0.4, below the refresh
// threshold.
var importanceWeight = map[Importance]float64{
	Minor:    0.05,
	Moderate: 0.15,
	Major:    0.30,
	Critical: 0.60,
}

// TriggerKind says what a trigger's pattern refers to.
type TriggerKind string

const (
	TriggerConfigFile  TriggerKind = "config_file"
	TriggerFilePattern TriggerKind = "file_pattern"
	TriggerDirectory   TriggerKind = "directory"
)

// InvalidationTrigger is a declared pattern whose match signals that a
// cached section may be stale. Triggers are attached at creation time
// and never mutated afterward.
type InvalidationTrigger struct {
	Pattern    string      `json:"pattern"`
	Kind       TriggerKind `json:"kind"`
	Importance Importance  `json:"importance"`
}

// SectionName identifies one of the four intelligence sections.
type SectionName string

const (
	SectionStructure    SectionName = "structure"
	SectionArchitecture SectionName = "architecture"
	SectionDevelopment  SectionName = "development"
	SectionContext      SectionName = "context"
)

// SectionNames is the canonical section order.
var SectionNames = []SectionName{
	SectionStructure,
	SectionArchitecture,
	SectionDevelopment,
	SectionContext,
}

// Section holds one analyzed slice of project understanding. Degraded
// sections carry a minimal best-effort value instead of aborting the
// whole cache.
type Section struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Degraded    bool           `json:"degraded"`
	Reason      string         `json:"reason,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// FreshnessStatus summarizes how trustworthy the record still is.
// Unknown means the triggers could not all be evaluated, so freshness
// cannot be asserted either way.
type FreshnessStatus string

const (
	Fresh   FreshnessStatus = "fresh"
	Stale   FreshnessStatus = "stale"
	Expired FreshnessStatus = "expired"
	Unknown FreshnessStatus = "unknown"
)

// Freshness is the stored freshness assessment.
type Freshness struct {
	Status     FreshnessStatus `json:"status"`
	Confidence float64         `json:"confidence"`
	AssessedAt time.Time       `json:"assessed_at"`
	Reasons    []string        `json:"reasons,omitempty"`
}

// ProjectIntelligence is the one live cached record per project.
type ProjectIntelligence struct {
	Project      string                  `json:"project"`
	Path         string                  `json:"path"`
	CreatedAt    time.Time               `json:"created_at"`
	LastUpdated  time.Time               `json:"last_updated"`
	CacheVersion int64                   `json:"cache_version"`
	Sections     map[SectionName]Section `json:"sections"`
	Triggers     []InvalidationTrigger   `json:"triggers"`
	Freshness    Freshness               `json:"freshness"`
	Metadata     map[string]string       `json:"metadata,omitempty"`
}

// Action is the recommended response to a validation outcome, ordered
// from most to least trusting.
type Action string

const (
	ActionUse        Action = "use"
	ActionRefresh    Action = "refresh"
	ActionRecreate   Action = "recreate"
	ActionInvalidate Action = "invalidate"
)

// Confidence thresholds for the recommended actions. Monotonic: a
// lower confidence never yields a more trusting recommendation.
const (
	useThreshold      = 0.80
	refreshThreshold  = 0.50
	recreateThreshold = 0.25
)

// actionFor maps a confidence score to its recommended action.
func actionFor(confidence float64) Action {
	switch {
	case confidence >= useThreshold:
		return ActionUse
	case confidence >= refreshThreshold:
		return ActionRefresh
	case confidence >= recreateThreshold:
		return ActionRecreate
	default:
		return ActionInvalidate
	}
}

// statusFor maps a confidence score to a freshness status.
func statusFor(confidence float64) FreshnessStatus {
	switch {
	case confidence >= useThreshold:
		return Fresh
	case confidence >= refreshThreshold:
		return Stale
	default:
		return Expired
	}
}

// MatchedTrigger records one trigger that fired during validation.
type MatchedTrigger struct {
	Trigger InvalidationTrigger `json:"trigger"`
	Reason  string              `json:"reason"`
}

// ValidationResult is the outcome of validating a cached record.
// Unverified names the triggers whose evaluation failed; a non-empty
// list forces Status to Unknown.
type ValidationResult struct {
	Project           string           `json:"project"`
	CacheVersion      int64            `json:"cache_version"`
	Confidence        float64          `json:"confidence"`
	Status            FreshnessStatus  `json:"status"`
	Matched           []MatchedTrigger `json:"matched_triggers"`
	Unverified        []string         `json:"unverified,omitempty"`
	RecommendedAction Action           `json:"recommended_action"`
}

// ChangeMagnitude grades a reported project change.
type ChangeMagnitude string

const (
	ChangeMinor    ChangeMagnitude = "minor"
	ChangeModerate ChangeMagnitude = "moderate"
	ChangeMajor    ChangeMagnitude = "major"
	ChangeBreaking ChangeMagnitude = "breaking"
)

// ChangeArea names what part of the project a change touched.
type ChangeArea string

const (
	AreaDocumentation ChangeArea = "documentation"
	AreaCode          ChangeArea = "code"
	AreaConfig        ChangeArea = "config"
	AreaDependency    ChangeArea = "dependency"
)

// Change is one reported project change feeding an incremental
// refresh.
type Change struct {
	Path      string          `json:"path"`
	Magnitude ChangeMagnitude `json:"magnitude"`
	Area      ChangeArea      `json:"area"`
}

// sectionsFor maps one change to the sections it can dirty. A minor
// documentation change touches only context; a breaking change dirties
// everything.
func sectionsFor(change Change) []SectionName {
	if change.Magnitude == ChangeBreaking {
		return SectionNames
	}
	switch change.Area {
	case AreaDocumentation:
		return []SectionName{SectionContext}
	case AreaConfig, AreaDependency:
		return []SectionName{SectionArchitecture, SectionDevelopment}
	case AreaCode:
		if change.Magnitude == ChangeMajor {
			return []SectionName{SectionStructure, SectionArchitecture, SectionDevelopment}
		}
		return []SectionName{SectionStructure, SectionDevelopment}
	default:
		return []SectionName{SectionStructure}
	}
}

// UpdateResult is the outcome of an incremental refresh.
type UpdateResult struct {
	Project               string        `json:"project"`
	CacheVersion          int64         `json:"cache_version"`
	RefreshedSections     []SectionName `json:"refreshed_sections"`
	ConfidenceBefore      float64       `json:"confidence_before"`
	ConfidenceAfter       float64       `json:"confidence_after"`
	ConfidenceImprovement float64       `json:"confidence_improvement"`
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
