package clash

import (
	"context"
	"testing"
	"time"

	"github.com/vitruvius-bim/vitruvius-backend/internal/domain/bim"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/apperr"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/logger"
)

func box(minX, minY, minZ, maxX, maxY, maxZ float64) *bim.AABB {
	return &bim.AABB{Min: [3]float64{minX, minY, minZ}, Max: [3]float64{maxX, maxY, maxZ}}
}

func elem(gid string, t bim.ElementType, b *bim.AABB) bim.ExtractedElement {
	e := bim.ExtractedElement{GlobalID: gid, Type: t, IFCType: t.IFCName(), Properties: bim.PropertySets{}}
	if b != nil {
		e.HasGeometry = true
		e.Geometry = &bim.GeometrySummary{Vertices: 8, Faces: 12, Bounds: b}
	}
	return e
}

func TestSeverityTable(t *testing.T) {
	cases := []struct {
		a, b bim.ElementType
		want bim.Severity
	}{
		{bim.ElementBeam, bim.ElementColumn, bim.SeverityHigh},
		{bim.ElementColumn, bim.ElementBeam, bim.SeverityHigh},
		{bim.ElementSlab, bim.ElementBeam, bim.SeverityHigh},
		{bim.ElementBeam, bim.ElementSlab, bim.SeverityHigh},
		{bim.ElementWall, bim.ElementColumn, bim.SeverityHigh},
		{bim.ElementColumn, bim.ElementWall, bim.SeverityHigh},
		{bim.ElementWall, bim.ElementBeam, bim.SeverityMedium},
		{bim.ElementSlab, bim.ElementSlab, bim.SeverityMedium},
		{bim.ElementDoor, bim.ElementWall, bim.SeverityMedium},
	}
	for _, tc := range cases {
		if got := Severity(tc.a, tc.b); got != tc.want {
			t.Errorf("Severity(%s,%s): want=%s got=%s", tc.a, tc.b, tc.want, got)
		}
	}
}

func TestIsPotentialConflict(t *testing.T) {
	yes := [][2]bim.ElementType{
		{bim.ElementWall, bim.ElementSlab},
		{bim.ElementBeam, bim.ElementColumn},
		{bim.ElementWall, bim.ElementDoor},
		{bim.ElementColumn, bim.ElementColumn},
	}
	no := [][2]bim.ElementType{
		{bim.ElementDoor, bim.ElementColumn},
		{bim.ElementDoor, bim.ElementBeam},
		{bim.ElementWindow, bim.ElementWall},
		{bim.ElementPipeSegment, bim.ElementBeam},
	}
	for _, p := range yes {
		if !IsPotentialConflict(p[0], p[1]) {
			t.Errorf("%s/%s should be a candidate", p[0], p[1])
		}
	}
	for _, p := range no {
		if IsPotentialConflict(p[0], p[1]) {
			t.Errorf("%s/%s should not be a candidate", p[0], p[1])
		}
	}
}

func TestDetectThreeElementScenario(t *testing.T) {
	model := &bim.ExtractedModel{
		LengthUnitMeters: 1,
		Elements: []bim.ExtractedElement{
			elem("beam-1", bim.ElementBeam, box(0, 0, 3, 6, 0.3, 3.5)),
			elem("col-1", bim.ElementColumn, box(0, 0, 0, 0.4, 0.4, 3.6)),
			elem("door-1", bim.ElementDoor, box(5, 2, 0, 5.9, 2.1, 2.1)),
		},
	}
	got, err := NewDetector(logger.NewNop(), Options{}).Detect(context.Background(), model)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("want exactly one conflict, got %d: %+v", len(got), got)
	}
	c := got[0]
	if c.Severity != bim.SeverityHigh || c.Kind != bim.ConflictCollision {
		t.Fatalf("beam/column conflict: %+v", c)
	}
	if c.Description != "IfcBeam conflicts with IfcColumn" {
		t.Fatalf("description: got=%q", c.Description)
	}
	if c.Signature() != bim.PairSignature("col-1", "beam-1") {
		t.Fatalf("signature must be order independent")
	}
}

func TestDetectSkipsElementsWithoutGeometry(t *testing.T) {
	model := &bim.ExtractedModel{Elements: []bim.ExtractedElement{
		elem("w", bim.ElementWall, nil),
		elem("c", bim.ElementColumn, box(0, 0, 0, 1, 1, 1)),
	}}
	got, _ := NewDetector(logger.NewNop(), Options{}).Detect(context.Background(), model)
	if len(got) != 0 {
		t.Fatalf("want no conflicts, got %+v", got)
	}
}

func TestDetectBoundingBoxMode(t *testing.T) {
	// millimetre model; clearance 50mm
	model := &bim.ExtractedModel{
		LengthUnitMeters: 0.001,
		Elements: []bim.ExtractedElement{
			elem("wall-a", bim.ElementWall, box(0, 0, 0, 5000, 200, 3000)),
			elem("slab-near", bim.ElementSlab, box(0, 230, 0, 5000, 1000, 200)),
			elem("slab-far", bim.ElementSlab, box(0, 5000, 0, 5000, 6000, 200)),
			elem("slab-hit", bim.ElementSlab, box(100, 100, 2900, 400, 400, 3100)),
			elem("col-away", bim.ElementColumn, box(9000, 9000, 0, 9400, 9400, 3000)),
			elem("beam-away", bim.ElementBeam, box(-9000, -9000, 0, -8000, -8700, 300)),
		},
	}
	d := NewDetector(logger.NewNop(), Options{Mode: ModeBoundingBox, ClearanceMM: 50})
	got, err := d.Detect(context.Background(), model)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	bySig := map[string]bim.ConflictCandidate{}
	for _, c := range got {
		bySig[c.Signature()] = c
	}

	hit, ok := bySig[bim.PairSignature("wall-a", "slab-hit")]
	if !ok || hit.Kind != bim.ConflictCollision {
		t.Fatalf("overlapping wall/slab must collide: %+v", got)
	}
	near, ok := bySig[bim.PairSignature("wall-a", "slab-near")]
	if !ok || near.Kind != bim.ConflictClearance || near.Distance != 30 {
		t.Fatalf("wall/slab 30mm apart must be a clearance conflict: %+v", near)
	}
	if _, ok := bySig[bim.PairSignature("wall-a", "slab-far")]; ok {
		t.Fatalf("distant wall/slab must not be reported")
	}
	forced, ok := bySig[bim.PairSignature("col-away", "beam-away")]
	if !ok || forced.Severity != bim.SeverityHigh {
		t.Fatalf("beam/column stays a candidate without overlap: %+v", forced)
	}
}

func TestDetectFederated(t *testing.T) {
	structure := &bim.ExtractedModel{
		LengthUnitMeters: 0.001,
		Elements: []bim.ExtractedElement{
			elem("beam", bim.ElementBeam, box(0, 0, 3000, 6000, 300, 3500)),
			elem("pipe-s", bim.ElementPipeSegment, box(0, 0, 0, 10, 10, 10)),
		},
	}
	services := &bim.ExtractedModel{
		LengthUnitMeters: 1,
		Elements: []bim.ExtractedElement{
			elem("pipe", bim.ElementPipeSegment, box(1, 0.1, 3.2, 4, 0.2, 3.3)),
			elem("duct", bim.ElementDuctSegment, box(20, 20, 20, 21, 21, 21)),
			elem("beam-m", bim.ElementBeam, box(0, 0, 3, 1, 1, 4)),
		},
	}
	d := NewDetector(logger.NewNop(), Options{})
	got, err := d.DetectFederated(context.Background(),
		Source{Name: "structure.ifc", Model: structure},
		Source{Name: "mep.ifc", Model: services},
	)
	if err != nil {
		t.Fatalf("DetectFederated: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("want one inter-model clash, got %+v", got)
	}
	c := got[0]
	if c.Kind != bim.ConflictInterModelCollision || c.Severity != bim.SeverityHigh {
		t.Fatalf("beam/pipe: %+v", c)
	}
	if c.Description != "IfcBeam from structure.ifc conflicts with IfcPipeSegment from mep.ifc" {
		t.Fatalf("description: %q", c.Description)
	}
}

func TestInterModelSeverity(t *testing.T) {
	if InterModelSeverity(bim.ElementDuctSegment, bim.ElementPipeSegment) != bim.SeverityMedium {
		t.Fatalf("MEP/MEP must be medium")
	}
	if InterModelSeverity(bim.ElementWall, bim.ElementDuctSegment) != bim.SeverityLow {
		t.Fatalf("wall/duct must be low")
	}
	if InterModelSeverity(bim.ElementPipeSegment, bim.ElementWall) != bim.SeverityHigh {
		t.Fatalf("pipe/wall must be high")
	}
}

func TestDetectIgnoresSharedGlobalID(t *testing.T) {
	model := &bim.ExtractedModel{
		LengthUnitMeters: 1,
		Elements: []bim.ExtractedElement{
			elem("dup", bim.ElementWall, box(0, 0, 0, 1, 1, 1)),
			elem("dup", bim.ElementColumn, box(0, 0, 0, 1, 1, 1)),
		},
	}
	d := NewDetector(logger.NewNop(), Options{})
	got, err := d.Detect(context.Background(), model)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("an element cannot clash with itself: %+v", got)
	}

	other := &bim.ExtractedModel{LengthUnitMeters: 1, Elements: []bim.ExtractedElement{
		elem("dup", bim.ElementPipeSegment, box(0, 0, 0, 1, 1, 1)),
	}}
	fed, err := d.DetectFederated(context.Background(), Source{Name: "a", Model: model}, Source{Name: "b", Model: other})
	if err != nil {
		t.Fatalf("DetectFederated: %v", err)
	}
	if len(fed) != 0 {
		t.Fatalf("shared GlobalId across models: %+v", fed)
	}
}

func TestDetectContextErrors(t *testing.T) {
	model := &bim.ExtractedModel{Elements: []bim.ExtractedElement{elem("w", bim.ElementWall, box(0, 0, 0, 1, 1, 1))}}
	d := NewDetector(logger.NewNop(), Options{})

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Detect(cancelled, model); apperr.CodeOf(err) != apperr.Internal {
		t.Fatalf("cancelled: want internal got %v", err)
	}

	expired, cancel2 := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel2()
	if _, err := d.Detect(expired, model); apperr.CodeOf(err) != apperr.ProcessingTimeout {
		t.Fatalf("expired: want processing_timeout got %v", err)
	}
}
