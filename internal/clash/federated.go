package clash

import (
	"context"
	"fmt"

	"github.com/vitruvius-bim/vitruvius-backend/internal/domain/bim"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/apperr"
)

// Discipline pairs that are always high severity across models.
var criticalInterModel = map[pair]struct{}{
	key(bim.ElementBeam, bim.ElementPipeSegment):    {},
	key(bim.ElementSlab, bim.ElementDuctSegment):    {},
	key(bim.ElementColumn, bim.ElementCableSegment): {},
	key(bim.ElementWall, bim.ElementPipeSegment):    {},
}

// IsPotentialInterModelConflict accepts structural and MEP pairings in any
// combination. Same-category pairs are filtered by the caller.
func IsPotentialInterModelConflict(a, b bim.ElementType) bool {
	relevant := func(t bim.ElementType) bool { return t.IsStructural() || t.IsMEP() }
	return relevant(a) && relevant(b)
}

func InterModelSeverity(a, b bim.ElementType) bim.Severity {
	if _, ok := criticalInterModel[key(a, b)]; ok {
		return bim.SeverityHigh
	}
	if a.IsMEP() && b.IsMEP() {
		return bim.SeverityMedium
	}
	return bim.SeverityLow
}

// Source names one side of a federated comparison.
type Source struct {
	Name  string
	Model *bim.ExtractedModel
}

// DetectFederated compares the elements of two models. Boxes are brought to
// meters first so models authored in different units compare correctly, and
// only overlapping boxes are reported.
func (d *Detector) DetectFederated(ctx context.Context, a, b Source) ([]bim.ConflictCandidate, error) {
	if a.Model == nil || b.Model == nil {
		return nil, apperr.Newf(apperr.InvalidArgument, "clash.DetectFederated", "both models are required")
	}
	ea, eb := a.Model.WithGeometry(), b.Model.WithGeometry()
	out := []bim.ConflictCandidate{}
	for i, e1 := range ea {
		if i%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, apperr.FromContext("clash.DetectFederated", err)
			}
		}
		b1, ok := e1.Bounds()
		if !ok {
			continue
		}
		b1 = scaled(b1, a.Model.LengthUnitMeters)
		for _, e2 := range eb {
			if e1.Type == e2.Type || e1.GlobalID == e2.GlobalID || !IsPotentialInterModelConflict(e1.Type, e2.Type) {
				continue
			}
			b2, ok := e2.Bounds()
			if !ok || !b1.Intersects(scaled(b2, b.Model.LengthUnitMeters)) {
				continue
			}
			out = append(out, bim.ConflictCandidate{
				Kind:         bim.ConflictInterModelCollision,
				Severity:     InterModelSeverity(e1.Type, e2.Type),
				Description:  fmt.Sprintf("%s from %s conflicts with %s from %s", e1.IFCType, a.Name, e2.IFCType, b.Name),
				ElementRefs:  [2]string{e1.GlobalID, e2.GlobalID},
				ElementTypes: [2]bim.ElementType{e1.Type, e2.Type},
			})
		}
	}
	d.log.Info("federated clash detection finished",
		"model_a", a.Name, "model_b", b.Name,
		"elements_a", len(ea), "elements_b", len(eb),
		"conflicts", len(out),
	)
	return out, nil
}

func scaled(b bim.AABB, unit float64) bim.AABB {
	if unit <= 0 || unit == 1 {
		return b
	}
	for i := 0; i < 3; i++ {
		b.Min[i] *= unit
		b.Max[i] *= unit
	}
	return b
}
