package rules

import (
	"context"
	"math"
	"sort"

	"github.com/vitruvius-bim/vitruvius-backend/internal/domain/bim"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/apperr"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/logger"
)

const (
	DefaultBaseProjectCost     = 100000.0
	DefaultBaseProjectTimeDays = 60.0

	weightCost        = 0.25
	weightTime        = 0.25
	weightFeasibility = 0.30
	weightComplexity  = 0.10
	weightPriority    = 0.10
)

type Options struct {
	BaseProjectCost     float64
	BaseProjectTimeDays float64
}

type Engine struct {
	log      *logger.Logger
	baseCost float64
	baseTime float64
}

func NewEngine(baseLog *logger.Logger, opts Options) *Engine {
	if opts.BaseProjectCost <= 0 {
		opts.BaseProjectCost = DefaultBaseProjectCost
	}
	if opts.BaseProjectTimeDays <= 0 {
		opts.BaseProjectTimeDays = DefaultBaseProjectTimeDays
	}
	return &Engine{
		log:      baseLog.With("component", "SolutionsEngine"),
		baseCost: opts.BaseProjectCost,
		baseTime: opts.BaseProjectTimeDays,
	}
}

// Generate instantiates every template that applies to c. Scores are not
// filled in until Rank.
func (e *Engine) Generate(c bim.ConflictCandidate) []bim.SolutionCandidate {
	a, b := c.ElementTypes[0], c.ElementTypes[1]
	templates := Templates(RuleKeyFor(c.Kind, a, b))
	cf := (costFactor(a) + costFactor(b)) / 2
	tf := (timeFactor(a) + timeFactor(b)) / 2
	sev := severityMultiplier(c.Severity)

	out := make([]bim.SolutionCandidate, 0, len(templates))
	for _, t := range templates {
		s := bim.SolutionCandidate{
			ConflictRef:       c.Signature(),
			Type:              t.Type,
			Description:       t.Description,
			EstimatedCost:     math.Max(0, e.baseCost*t.CostImpact*cf*sev),
			EstimatedTimeDays: math.Max(0, e.baseTime*t.TimeImpact*tf*sev),
			Priority:          t.Priority,
			Feasibility:       t.Feasibility,
			Complexity:        math.Min(1-t.Feasibility+severityComplexity(c.Severity), 1),
		}
		s.Impact = e.impact(s)
		out = append(out, s)
	}
	return out
}

// Score is the weighted multi-criteria rank of one solution.
func (e *Engine) Score(s bim.SolutionCandidate) float64 {
	costScore := 1 / (1 + s.EstimatedCost/e.baseCost)
	timeScore := 1 / (1 + s.EstimatedTimeDays/e.baseTime)
	priority := s.Priority
	if priority < 1 {
		priority = 1
	}
	return weightCost*costScore +
		weightTime*timeScore +
		weightFeasibility*s.Feasibility +
		weightComplexity*(1-s.Complexity) +
		weightPriority*(1/float64(priority))
}

// Rank scores the solutions and orders them best first. Ties keep template
// order.
func (e *Engine) Rank(solutions []bim.SolutionCandidate) []bim.SolutionCandidate {
	out := append([]bim.SolutionCandidate(nil), solutions...)
	for i := range out {
		out[i].Score = e.Score(out[i])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Confidence aggregates solution count, mean feasibility and a per-severity
// base into [0,1].
func Confidence(c bim.ConflictCandidate, solutions []bim.SolutionCandidate) float64 {
	if len(solutions) == 0 {
		return 0
	}
	var feas float64
	for _, s := range solutions {
		feas += s.Feasibility
	}
	feas /= float64(len(solutions))
	countFactor := math.Min(float64(len(solutions))/3, 1)
	return countFactor*0.3 + feas*0.4 + severityConfidence(c.Severity)*0.3
}

// AnalyzeConflict runs generate, rank and confidence for one conflict and
// stamps each solution's persisted 0-100 confidence score.
func (e *Engine) AnalyzeConflict(c bim.ConflictCandidate) bim.ConflictAnalysis {
	ranked := e.Rank(e.Generate(c))
	conf := Confidence(c, ranked)
	for i := range ranked {
		ranked[i].ConfidenceScore = int(math.Round(100 * (0.5*ranked[i].Feasibility + 0.5*conf)))
	}
	out := bim.ConflictAnalysis{Conflict: c, Solutions: ranked, Confidence: conf}
	if len(ranked) > 0 {
		top := ranked[0]
		out.Recommended = &top
	}
	return out
}

func (e *Engine) Analyze(ctx context.Context, conflicts []bim.ConflictCandidate) (bim.Analysis, error) {
	out := bim.Analysis{ConflictsAnalyzed: len(conflicts), Results: make([]bim.ConflictAnalysis, 0, len(conflicts))}
	for i, c := range conflicts {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return bim.Analysis{}, apperr.FromContext("rules.Analyze", err)
			}
		}
		out.Results = append(out.Results, e.AnalyzeConflict(c))
	}
	e.log.Info("prescriptive analysis completed", "conflicts", len(conflicts), "solutions", out.SolutionCount())
	return out, nil
}

func (e *Engine) impact(s bim.SolutionCandidate) bim.ImpactAssessment {
	level := func(v, base float64) bim.ImpactLevel {
		switch {
		case v > base*0.2:
			return bim.ImpactHigh
		case v > base*0.1:
			return bim.ImpactMedium
		default:
			return bim.ImpactLow
		}
	}
	out := bim.ImpactAssessment{
		Cost: level(s.EstimatedCost, e.baseCost),
		Time: level(s.EstimatedTimeDays, e.baseTime),
	}
	switch {
	case out.Cost == bim.ImpactHigh || out.Time == bim.ImpactHigh:
		out.Overall = bim.ImpactHigh
	case out.Cost == bim.ImpactMedium || out.Time == bim.ImpactMedium:
		out.Overall = bim.ImpactMedium
	default:
		out.Overall = bim.ImpactLow
	}
	return out
}
