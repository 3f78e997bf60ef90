package bim

import (
	"math"
	"testing"
)

func TestPairSignatureOrderIndependent(t *testing.T) {
	a, b := "2O2Fr$t4X7Zf8NOew3FLOH", "1hOSvn6df7F8_7GcBWlRGQ"
	if PairSignature(a, b) != PairSignature(b, a) {
		t.Fatalf("signature must not depend on order")
	}
	if PairSignature(a, b) == PairSignature(a, a) {
		t.Fatalf("distinct pairs must not collide")
	}
	if len(PairSignature(a, b)) != 64 {
		t.Fatalf("want hex sha256, got len=%d", len(PairSignature(a, b)))
	}
	// "ab"+"c" vs "a"+"bc" must differ
	if PairSignature("ab", "c") == PairSignature("a", "bc") {
		t.Fatalf("separator missing")
	}
}

func TestElementTypeFromSTEP(t *testing.T) {
	cases := map[string]ElementType{
		"IFCWALLSTANDARDCASE": ElementWall,
		"ifcbeam":             ElementBeam,
		"IFCPIPESEGMENT":      ElementPipeSegment,
		"IFCFURNISHINGELEMENT": ElementUnknown,
	}
	for in, want := range cases {
		if got := ElementTypeFromSTEP(in); got != want {
			t.Fatalf("%s: want=%q got=%q", in, want, got)
		}
	}
	if ElementBeam.IFCName() != "IfcBeam" {
		t.Fatalf("IFCName: got=%q", ElementBeam.IFCName())
	}
	if !ElementSlab.IsStructural() || ElementDoor.IsStructural() {
		t.Fatalf("IsStructural mismatch")
	}
}

func TestAABB(t *testing.T) {
	a := EmptyAABB()
	if !a.IsEmpty() {
		t.Fatalf("want empty")
	}
	a.Extend([3]float64{0, 0, 0})
	a.Extend([3]float64{1, 1, 1})
	b := AABB{Min: [3]float64{2, 0, 0}, Max: [3]float64{3, 1, 1}}
	if a.Intersects(b) {
		t.Fatalf("boxes 1 apart must not intersect")
	}
	if g := a.Gap(b); math.Abs(g-1) > 1e-9 {
		t.Fatalf("gap: want=1 got=%v", g)
	}
	c := AABB{Min: [3]float64{0.5, 0.5, 0.5}, Max: [3]float64{4, 4, 4}}
	if !a.Intersects(c) || a.Gap(c) != 0 {
		t.Fatalf("overlapping boxes: want intersect and zero gap")
	}
}

func TestSolutionMinorUnits(t *testing.T) {
	s := SolutionCandidate{EstimatedCost: 21060.004, EstimatedTimeDays: 7.488}
	if s.CostMinorUnits() != 2106000 {
		t.Fatalf("cents: got=%d", s.CostMinorUnits())
	}
	if s.TimeDays() != 7 {
		t.Fatalf("days: got=%d", s.TimeDays())
	}
	if short := (SolutionCandidate{EstimatedTimeDays: 0.9}); short.TimeDays() != 0 {
		t.Fatalf("sub-day estimate: got=%d", short.TimeDays())
	}
	neg := SolutionCandidate{EstimatedCost: -5, EstimatedTimeDays: -1}
	if neg.CostMinorUnits() != 0 || neg.TimeDays() != 0 {
		t.Fatalf("negatives must clamp to zero")
	}
}
