// Package clash finds potential conflicts between the elements of an
// extracted model, or between the elements of two federated models.
package clash

import (
	"context"
	"fmt"

	"github.com/vitruvius-bim/vitruvius-backend/internal/domain/bim"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/apperr"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/logger"
)

type Mode string

const (
	// ModeTypePair flags pairs by element category alone.
	ModeTypePair Mode = "type_pair"
	// ModeBoundingBox additionally requires overlapping boxes for structural
	// pairs and reports near misses as clearance conflicts.
	ModeBoundingBox Mode = "bounding_box"
)

type Options struct {
	Mode        Mode
	ClearanceMM float64
}

type pair struct{ a, b bim.ElementType }

func key(a, b bim.ElementType) pair {
	if b < a {
		a, b = b, a
	}
	return pair{a, b}
}

// Pairs flagged regardless of category or geometry.
var alwaysCandidate = map[pair]struct{}{
	key(bim.ElementBeam, bim.ElementColumn): {},
	key(bim.ElementDoor, bim.ElementWall):   {},
}

var critical = map[pair]struct{}{
	key(bim.ElementBeam, bim.ElementColumn): {},
	key(bim.ElementSlab, bim.ElementBeam):   {},
	key(bim.ElementWall, bim.ElementColumn): {},
}

// IsPotentialConflict applies the category heuristic to an unordered pair.
func IsPotentialConflict(a, b bim.ElementType) bool {
	if a.IsStructural() && b.IsStructural() {
		return true
	}
	_, ok := alwaysCandidate[key(a, b)]
	return ok
}

// Severity is high for the critical structural pairs and medium otherwise.
func Severity(a, b bim.ElementType) bim.Severity {
	if _, ok := critical[key(a, b)]; ok {
		return bim.SeverityHigh
	}
	return bim.SeverityMedium
}

type Detector struct {
	log  *logger.Logger
	opts Options
}

func NewDetector(baseLog *logger.Logger, opts Options) *Detector {
	if opts.Mode == "" {
		opts.Mode = ModeTypePair
	}
	return &Detector{log: baseLog.With("component", "ClashDetector"), opts: opts}
}

// Detect compares every unordered pair of elements that carry geometry. The
// result order follows element order but callers must not rely on it.
func (d *Detector) Detect(ctx context.Context, model *bim.ExtractedModel) ([]bim.ConflictCandidate, error) {
	if model == nil {
		return nil, apperr.Newf(apperr.InvalidArgument, "clash.Detect", "nil model")
	}
	elems := model.WithGeometry()
	// clearance is configured in millimetres, boxes are in model units
	tolerance := 0.0
	if d.opts.Mode == ModeBoundingBox && model.LengthUnitMeters > 0 {
		tolerance = d.opts.ClearanceMM / 1000 / model.LengthUnitMeters
	}

	out := []bim.ConflictCandidate{}
	for i := 0; i < len(elems); i++ {
		if i%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, apperr.FromContext("clash.Detect", err)
			}
		}
		for j := i + 1; j < len(elems); j++ {
			if c, ok := d.check(elems[i], elems[j], tolerance); ok {
				out = append(out, c)
			}
		}
	}
	d.log.Debug("clash detection finished", "mode", d.opts.Mode, "elements", len(elems), "conflicts", len(out))
	return out, nil
}

func (d *Detector) check(e1, e2 bim.ExtractedElement, tolerance float64) (bim.ConflictCandidate, bool) {
	if e1.GlobalID == e2.GlobalID || !IsPotentialConflict(e1.Type, e2.Type) {
		return bim.ConflictCandidate{}, false
	}
	c := candidate(bim.ConflictCollision, e1, e2)
	if d.opts.Mode != ModeBoundingBox {
		return c, true
	}
	if _, forced := alwaysCandidate[key(e1.Type, e2.Type)]; forced {
		return c, true
	}
	b1, ok1 := e1.Bounds()
	b2, ok2 := e2.Bounds()
	if !ok1 || !ok2 {
		return c, true
	}
	if b1.Intersects(b2) {
		return c, true
	}
	if gap := b1.Gap(b2); gap < tolerance {
		c.Kind = bim.ConflictClearance
		c.Distance = gap
		c.Description = fmt.Sprintf("%s is within clearance of %s", e1.IFCType, e2.IFCType)
		return c, true
	}
	return bim.ConflictCandidate{}, false
}

func candidate(kind bim.ConflictKind, e1, e2 bim.ExtractedElement) bim.ConflictCandidate {
	return bim.ConflictCandidate{
		Kind:         kind,
		Severity:     Severity(e1.Type, e2.Type),
		Description:  fmt.Sprintf("%s conflicts with %s", e1.IFCType, e2.IFCType),
		ElementRefs:  [2]string{e1.GlobalID, e2.GlobalID},
		ElementTypes: [2]bim.ElementType{e1.Type, e2.Type},
	}
}
