// Package rules turns detected conflicts into ranked remediation proposals
// using static solution templates and per-category cost and time factors.
package rules

import "github.com/vitruvius-bim/vitruvius-backend/internal/domain/bim"

// RuleKey selects a template table within a conflict kind.
type RuleKey string

const (
	KeyBeamColumn          RuleKey = "beam_column"
	KeyWallBeam            RuleKey = "wall_beam"
	KeyGeneric             RuleKey = "generic"
	KeyInsufficientSpacing RuleKey = "insufficient_spacing"
)

type Template struct {
	Type        bim.SolutionType
	Description string
	Priority    int
	CostImpact  float64
	TimeImpact  float64
	Feasibility float64
}

var (
	beamColumnTemplates = []Template{
		{bim.SolutionBeamRelocation, "Relocate beam to avoid column intersection", 1, 0.12, 0.08, 0.9},
		{bim.SolutionColumnAdjustment, "Adjust column position or size", 2, 0.18, 0.15, 0.7},
		{bim.SolutionStructuralRedesign, "Redesign structural system", 3, 0.35, 0.25, 0.6},
	}
	wallBeamTemplates = []Template{
		{bim.SolutionBeamElevationChange, "Modify beam elevation to clear wall", 1, 0.08, 0.05, 0.85},
		{bim.SolutionWallOpening, "Create opening in wall for beam passage", 2, 0.15, 0.10, 0.8},
	}
	genericCollisionTemplates = []Template{
		{bim.SolutionElementRelocation, "Relocate one of the conflicting elements", 1, 0.15, 0.10, 0.8},
		{bim.SolutionGeometricModification, "Modify element geometry to resolve conflict", 2, 0.20, 0.15, 0.7},
	}
	spacingTemplates = []Template{
		{bim.SolutionSpacingOptimization, "Optimize spacing between elements", 1, 0.05, 0.03, 0.9},
		{bim.SolutionElementResizing, "Resize elements to improve clearance", 2, 0.12, 0.08, 0.75},
	}
)

// RuleKeyFor classifies a conflict. Clearance conflicts always use the
// spacing table; collisions of any origin use the pair tables.
func RuleKeyFor(kind bim.ConflictKind, a, b bim.ElementType) RuleKey {
	if kind == bim.ConflictClearance {
		return KeyInsufficientSpacing
	}
	switch {
	case (a == bim.ElementBeam && b == bim.ElementColumn) || (a == bim.ElementColumn && b == bim.ElementBeam):
		return KeyBeamColumn
	case (a == bim.ElementWall && b == bim.ElementBeam) || (a == bim.ElementBeam && b == bim.ElementWall):
		return KeyWallBeam
	default:
		return KeyGeneric
	}
}

// Templates returns a copy of the table for key.
func Templates(key RuleKey) []Template {
	var src []Template
	switch key {
	case KeyBeamColumn:
		src = beamColumnTemplates
	case KeyWallBeam:
		src = wallBeamTemplates
	case KeyInsufficientSpacing:
		src = spacingTemplates
	default:
		src = genericCollisionTemplates
	}
	return append([]Template(nil), src...)
}

// Per-category multipliers. Categories not listed weigh 1.0.
func costFactor(t bim.ElementType) float64 {
	switch t {
	case bim.ElementBeam:
		return 1.2
	case bim.ElementColumn:
		return 1.5
	case bim.ElementWall:
		return 0.8
	case bim.ElementSlab:
		return 1.1
	case bim.ElementDoor:
		return 0.6
	case bim.ElementWindow:
		return 0.7
	default:
		return 1.0
	}
}

func timeFactor(t bim.ElementType) float64 {
	switch t {
	case bim.ElementBeam:
		return 1.1
	case bim.ElementColumn:
		return 1.3
	case bim.ElementWall:
		return 0.9
	case bim.ElementSlab:
		return 1.2
	case bim.ElementDoor:
		return 0.7
	case bim.ElementWindow:
		return 0.8
	default:
		return 1.0
	}
}

func severityMultiplier(s bim.Severity) float64 {
	switch s {
	case bim.SeverityHigh:
		return 1.3
	case bim.SeverityLow:
		return 0.8
	default:
		return 1.0
	}
}

func severityComplexity(s bim.Severity) float64 {
	switch s {
	case bim.SeverityHigh:
		return 0.3
	case bim.SeverityLow:
		return 0.1
	default:
		return 0.2
	}
}

func severityConfidence(s bim.Severity) float64 {
	switch s {
	case bim.SeverityHigh:
		return 0.9
	case bim.SeverityLow:
		return 0.7
	default:
		return 0.8
	}
}
