package bim

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
)

type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

func (s Severity) Valid() bool {
	return s == SeverityHigh || s == SeverityMedium || s == SeverityLow
}

type ConflictKind string

const (
	ConflictCollision           ConflictKind = "collision"
	ConflictClearance           ConflictKind = "clearance"
	ConflictInterModelCollision ConflictKind = "inter_model_collision"
)

type ConflictCandidate struct {
	Kind         ConflictKind   `json:"type"`
	Severity     Severity       `json:"severity"`
	Description  string         `json:"description"`
	ElementRefs  [2]string      `json:"element_refs"`
	ElementTypes [2]ElementType `json:"element_types"`
	// Distance is the box gap for clearance conflicts, in model units.
	Distance float64 `json:"distance,omitempty"`
}

// Signature is the order-independent identity of the element pair.
func (c ConflictCandidate) Signature() string {
	return PairSignature(c.ElementRefs[0], c.ElementRefs[1])
}

// PairSignature hashes the two global ids in sorted order so (a,b) and (b,a)
// share one signature.
func PairSignature(a, b string) string {
	if b < a {
		a, b = b, a
	}
	h := sha256.New()
	h.Write([]byte(a))
	h.Write([]byte{0})
	h.Write([]byte(b))
	return hex.EncodeToString(h.Sum(nil))
}

type SolutionType string

const (
	SolutionBeamRelocation        SolutionType = "beam_relocation"
	SolutionColumnAdjustment      SolutionType = "column_adjustment"
	SolutionStructuralRedesign    SolutionType = "structural_redesign"
	SolutionBeamElevationChange   SolutionType = "beam_elevation_change"
	SolutionWallOpening           SolutionType = "wall_opening"
	SolutionElementRelocation     SolutionType = "element_relocation"
	SolutionGeometricModification SolutionType = "geometric_modification"
	SolutionSpacingOptimization   SolutionType = "spacing_optimization"
	SolutionElementResizing       SolutionType = "element_resizing"
)

type ImpactLevel string

const (
	ImpactHigh   ImpactLevel = "High"
	ImpactMedium ImpactLevel = "Medium"
	ImpactLow    ImpactLevel = "Low"
)

type ImpactAssessment struct {
	Cost    ImpactLevel `json:"cost_impact"`
	Time    ImpactLevel `json:"time_impact"`
	Overall ImpactLevel `json:"overall_disruption"`
}

type SolutionCandidate struct {
	// ConflictRef is the pair signature of the conflict this solves.
	ConflictRef       string           `json:"conflict_ref"`
	Type              SolutionType     `json:"type"`
	Description       string           `json:"description"`
	EstimatedCost     float64          `json:"estimated_cost"`
	EstimatedTimeDays float64          `json:"estimated_time"`
	Priority          int              `json:"priority"`
	Feasibility       float64          `json:"feasibility"`
	Complexity        float64          `json:"complexity"`
	Score             float64          `json:"score"`
	ConfidenceScore   int              `json:"confidence_score"`
	Impact            ImpactAssessment `json:"impact"`
}

// CostMinorUnits returns the estimated cost in cents, never negative.
func (s SolutionCandidate) CostMinorUnits() int64 {
	if s.EstimatedCost <= 0 || math.IsNaN(s.EstimatedCost) {
		return 0
	}
	return int64(math.Round(s.EstimatedCost * 100))
}

// TimeDays truncates the estimate to whole days, never negative. A sub-day
// estimate stores as zero.
func (s SolutionCandidate) TimeDays() int {
	if s.EstimatedTimeDays <= 0 || math.IsNaN(s.EstimatedTimeDays) {
		return 0
	}
	return int(s.EstimatedTimeDays)
}

type ConflictAnalysis struct {
	Conflict    ConflictCandidate   `json:"conflict"`
	Solutions   []SolutionCandidate `json:"solutions"`
	Recommended *SolutionCandidate  `json:"recommended_solution,omitempty"`
	Confidence  float64             `json:"confidence"`
}

type Analysis struct {
	ConflictsAnalyzed int                `json:"conflicts_analyzed"`
	Results           []ConflictAnalysis `json:"results"`
}

// SolutionCount counts solution candidates across all conflicts.
func (a Analysis) SolutionCount() int {
	n := 0
	for _, r := range a.Results {
		n += len(r.Solutions)
	}
	return n
}

// Metadata is the aggregate cached once per content hash.
type Metadata struct {
	ProjectID      string `json:"project_id"`
	FilePath       string `json:"file_path"`
	SchemaVersion  string `json:"schema_version"`
	TotalElements  int    `json:"total_elements"`
	ConflictsCount int    `json:"conflicts_count"`
	SolutionsCount int    `json:"solutions_count"`
}
