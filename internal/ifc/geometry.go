package ifc

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/vitruvius-bim/vitruvius-backend/internal/domain/bim"
)

var (
	errNoRepresentation = errors.New("element has no shape representation")
	errNoGeometry       = errors.New("no supported body geometry")
	errUnsupported      = errors.New("unsupported geometry item")
)

const (
	maxItemDepth      = 8
	maxPlacementDepth = 64
	circleSegments    = 16
)

// shapeBuilder evaluates element body representations into vertex and face
// counts plus a world-space bounding box. Placements are memoized per file.
type shapeBuilder struct {
	f          *File
	placements map[int]mgl64.Mat4
}

func newShapeBuilder(f *File) *shapeBuilder {
	return &shapeBuilder{f: f, placements: map[int]mgl64.Mat4{}}
}

type mesh struct {
	vertices int
	faces    int
	bounds   bim.AABB
}

func (m *mesh) add(p mgl64.Vec3) error {
	for _, c := range p {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return fmt.Errorf("non-finite vertex %v", p)
		}
	}
	m.vertices++
	m.bounds.Extend([3]float64(p))
	return nil
}

// element returns the geometry summary of a product entity. A panic while
// walking malformed data is reported as an error for that element only.
func (b *shapeBuilder) element(e *Entity) (summary *bim.GeometrySummary, err error) {
	defer func() {
		if r := recover(); r != nil {
			summary, err = nil, fmt.Errorf("geometry evaluation panic: %v", r)
		}
	}()

	world := mgl64.Ident4()
	if pl := e.Arg(5); !pl.IsNull() {
		world, err = b.placement(pl, 0)
		if err != nil {
			return nil, err
		}
	}
	shape, ok := b.f.Deref(e.Arg(6))
	if !ok {
		return nil, errNoRepresentation
	}
	reps, _ := shape.Arg(2).AsList()
	m := &mesh{bounds: bim.EmptyAABB()}
	for _, rv := range reps {
		rep, ok := b.f.Deref(rv)
		if !ok {
			continue
		}
		if ident, _ := rep.Arg(1).AsString(); !isBodyRepresentation(ident) {
			continue
		}
		items, _ := rep.Arg(3).AsList()
		for _, iv := range items {
			if err := b.item(iv, world, m, 0); err != nil {
				if errors.Is(err, errUnsupported) {
					continue
				}
				return nil, err
			}
		}
	}
	if m.vertices == 0 {
		return nil, errNoGeometry
	}
	bounds := m.bounds
	return &bim.GeometrySummary{Vertices: m.vertices, Faces: m.faces, Bounds: &bounds}, nil
}

func isBodyRepresentation(ident string) bool {
	switch ident {
	case "", "Body", "Facetation", "Reference":
		return true
	default:
		return false
	}
}

func (b *shapeBuilder) item(v Value, xf mgl64.Mat4, m *mesh, depth int) error {
	if depth > maxItemDepth {
		return fmt.Errorf("representation nesting deeper than %d", maxItemDepth)
	}
	it, ok := b.f.Deref(v)
	if !ok {
		return fmt.Errorf("dangling representation item")
	}
	switch it.Type {
	case "IFCEXTRUDEDAREASOLID", "IFCEXTRUDEDAREASOLIDTAPERED":
		return b.extrusion(it, xf, m)
	case "IFCFACETEDBREP", "IFCFACETEDBREPWITHVOIDS":
		return b.brep(it, xf, m)
	case "IFCTRIANGULATEDFACESET":
		return b.triangulated(it, xf, m)
	case "IFCPOLYGONALFACESET":
		return b.polygonal(it, xf, m)
	case "IFCBOOLEANRESULT", "IFCBOOLEANCLIPPINGRESULT":
		// the first operand carries the body; clipping only removes material
		return b.item(it.Arg(1), xf, m, depth+1)
	case "IFCMAPPEDITEM":
		return b.mapped(it, xf, m, depth)
	default:
		return fmt.Errorf("%w: %s", errUnsupported, it.Type)
	}
}

func (b *shapeBuilder) extrusion(it *Entity, xf mgl64.Mat4, m *mesh) error {
	profile, err := b.profile(it.Arg(0))
	if err != nil {
		return err
	}
	pos := mgl64.Ident4()
	if !it.Arg(1).IsNull() {
		if pos, err = b.axis3D(it.Arg(1)); err != nil {
			return err
		}
	}
	dir, err := b.direction(it.Arg(2))
	if err != nil {
		return err
	}
	depth, ok := it.Arg(3).AsFloat()
	if !ok || depth <= 0 {
		return fmt.Errorf("#%d: invalid extrusion depth", it.ID)
	}
	full := xf.Mul4(pos)
	ext := dir.Normalize().Mul(depth)
	for _, p := range profile {
		base := mgl64.Vec3{p[0], p[1], 0}
		if err := m.add(full.Mul4x1(base.Vec4(1)).Vec3()); err != nil {
			return err
		}
		if err := m.add(full.Mul4x1(base.Add(ext).Vec4(1)).Vec3()); err != nil {
			return err
		}
	}
	n := len(profile)
	m.faces += 2*(n-2) + 2*n
	return nil
}

func (b *shapeBuilder) brep(it *Entity, xf mgl64.Mat4, m *mesh) error {
	shell, ok := b.f.Deref(it.Arg(0))
	if !ok {
		return fmt.Errorf("#%d: missing shell", it.ID)
	}
	faces, _ := shell.Arg(0).AsList()
	seen := map[int]struct{}{}
	for _, fv := range faces {
		face, ok := b.f.Deref(fv)
		if !ok {
			return fmt.Errorf("#%d: dangling face", it.ID)
		}
		bounds, _ := face.Arg(0).AsList()
		for _, bv := range bounds {
			bound, ok := b.f.Deref(bv)
			if !ok {
				return fmt.Errorf("#%d: dangling face bound", face.ID)
			}
			loop, ok := b.f.Deref(bound.Arg(0))
			if !ok || loop.Type != "IFCPOLYLOOP" {
				return fmt.Errorf("%w: face bound without polyloop", errUnsupported)
			}
			pts, _ := loop.Arg(0).AsList()
			for _, pv := range pts {
				id, ok := pv.AsRef()
				if !ok {
					return fmt.Errorf("#%d: polyloop point is not a reference", loop.ID)
				}
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
				p, err := b.point3(pv)
				if err != nil {
					return err
				}
				if err := m.add(xf.Mul4x1(p.Vec4(1)).Vec3()); err != nil {
					return err
				}
			}
			if len(pts) >= 3 {
				m.faces += len(pts) - 2
			}
		}
	}
	return nil
}

func (b *shapeBuilder) pointList3(v Value) ([]mgl64.Vec3, error) {
	list, ok := b.f.Deref(v)
	if !ok {
		return nil, fmt.Errorf("missing point list")
	}
	rows, _ := list.Arg(0).AsList()
	out := make([]mgl64.Vec3, 0, len(rows))
	for _, row := range rows {
		c, err := floats(row)
		if err != nil || len(c) < 3 {
			return nil, fmt.Errorf("#%d: malformed coordinate", list.ID)
		}
		out = append(out, mgl64.Vec3{c[0], c[1], c[2]})
	}
	return out, nil
}

func (b *shapeBuilder) triangulated(it *Entity, xf mgl64.Mat4, m *mesh) error {
	coords, err := b.pointList3(it.Arg(0))
	if err != nil {
		return err
	}
	for _, p := range coords {
		if err := m.add(xf.Mul4x1(p.Vec4(1)).Vec3()); err != nil {
			return err
		}
	}
	tris, _ := it.Arg(3).AsList()
	m.faces += len(tris)
	return nil
}

func (b *shapeBuilder) polygonal(it *Entity, xf mgl64.Mat4, m *mesh) error {
	coords, err := b.pointList3(it.Arg(0))
	if err != nil {
		return err
	}
	for _, p := range coords {
		if err := m.add(xf.Mul4x1(p.Vec4(1)).Vec3()); err != nil {
			return err
		}
	}
	faces, _ := it.Arg(2).AsList()
	for _, fv := range faces {
		face, ok := b.f.Deref(fv)
		if !ok {
			continue
		}
		idx, _ := face.Arg(0).AsList()
		if len(idx) >= 3 {
			m.faces += len(idx) - 2
		}
	}
	return nil
}

func (b *shapeBuilder) mapped(it *Entity, xf mgl64.Mat4, m *mesh, depth int) error {
	source, ok := b.f.Deref(it.Arg(0))
	if !ok {
		return fmt.Errorf("#%d: missing mapping source", it.ID)
	}
	origin, err := b.axis3D(source.Arg(0))
	if err != nil {
		return err
	}
	target, err := b.transformOperator(it.Arg(1))
	if err != nil {
		return err
	}
	rep, ok := b.f.Deref(source.Arg(1))
	if !ok {
		return fmt.Errorf("#%d: missing mapped representation", source.ID)
	}
	full := xf.Mul4(target).Mul4(origin)
	items, _ := rep.Arg(3).AsList()
	for _, iv := range items {
		if err := b.item(iv, full, m, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// transformOperator handles IfcCartesianTransformationOperator3D with a
// uniform scale.
func (b *shapeBuilder) transformOperator(v Value) (mgl64.Mat4, error) {
	op, ok := b.f.Deref(v)
	if !ok {
		return mgl64.Ident4(), fmt.Errorf("missing transformation operator")
	}
	x := mgl64.Vec3{1, 0, 0}
	y := mgl64.Vec3{0, 1, 0}
	z := mgl64.Vec3{0, 0, 1}
	var err error
	if !op.Arg(0).IsNull() {
		if x, err = b.direction(op.Arg(0)); err != nil {
			return mgl64.Ident4(), err
		}
	}
	if !op.Arg(1).IsNull() {
		if y, err = b.direction(op.Arg(1)); err != nil {
			return mgl64.Ident4(), err
		}
	}
	if !op.Arg(4).IsNull() {
		if z, err = b.direction(op.Arg(4)); err != nil {
			return mgl64.Ident4(), err
		}
	}
	loc, err := b.point3(op.Arg(2))
	if err != nil {
		return mgl64.Ident4(), err
	}
	scale := 1.0
	if s, ok := op.Arg(3).AsFloat(); ok && s > 0 {
		scale = s
	}
	return mgl64.Mat4FromCols(
		x.Normalize().Mul(scale).Vec4(0),
		y.Normalize().Mul(scale).Vec4(0),
		z.Normalize().Mul(scale).Vec4(0),
		loc.Vec4(1),
	), nil
}

func (b *shapeBuilder) placement(v Value, depth int) (mgl64.Mat4, error) {
	if depth > maxPlacementDepth {
		return mgl64.Ident4(), fmt.Errorf("placement chain deeper than %d", maxPlacementDepth)
	}
	p, ok := b.f.Deref(v)
	if !ok {
		return mgl64.Ident4(), fmt.Errorf("dangling placement")
	}
	if cached, ok := b.placements[p.ID]; ok {
		return cached, nil
	}
	var out mgl64.Mat4
	switch p.Type {
	case "IFCLOCALPLACEMENT":
		rel := mgl64.Ident4()
		var err error
		if !p.Arg(1).IsNull() {
			if rel, err = b.axis3D(p.Arg(1)); err != nil {
				return mgl64.Ident4(), err
			}
		}
		parent := mgl64.Ident4()
		if !p.Arg(0).IsNull() {
			if parent, err = b.placement(p.Arg(0), depth+1); err != nil {
				return mgl64.Ident4(), err
			}
		}
		out = parent.Mul4(rel)
	case "IFCGRIDPLACEMENT":
		// grid intersections are not resolved; such elements sit at their grid origin
		out = mgl64.Ident4()
	default:
		return mgl64.Ident4(), fmt.Errorf("#%d: unsupported placement %s", p.ID, p.Type)
	}
	b.placements[p.ID] = out
	return out, nil
}

func (b *shapeBuilder) axis3D(v Value) (mgl64.Mat4, error) {
	a, ok := b.f.Deref(v)
	if !ok {
		return mgl64.Ident4(), fmt.Errorf("dangling axis placement")
	}
	loc, err := b.point3(a.Arg(0))
	if err != nil {
		return mgl64.Ident4(), err
	}
	if a.Type == "IFCAXIS2PLACEMENT2D" {
		x := mgl64.Vec3{1, 0, 0}
		if !a.Arg(1).IsNull() {
			if x, err = b.direction(a.Arg(1)); err != nil {
				return mgl64.Ident4(), err
			}
		}
		return frame(loc, mgl64.Vec3{0, 0, 1}, x)
	}
	if a.Type != "IFCAXIS2PLACEMENT3D" {
		return mgl64.Ident4(), fmt.Errorf("#%d: unsupported axis placement %s", a.ID, a.Type)
	}
	z := mgl64.Vec3{0, 0, 1}
	if !a.Arg(1).IsNull() {
		if z, err = b.direction(a.Arg(1)); err != nil {
			return mgl64.Ident4(), err
		}
	}
	x := mgl64.Vec3{1, 0, 0}
	if !a.Arg(2).IsNull() {
		if x, err = b.direction(a.Arg(2)); err != nil {
			return mgl64.Ident4(), err
		}
	}
	return frame(loc, z, x)
}

// frame builds a right-handed placement from an axis and a reference
// direction projected onto the plane normal to it.
func frame(loc, axis, ref mgl64.Vec3) (mgl64.Mat4, error) {
	if axis.Len() < 1e-12 {
		return mgl64.Ident4(), fmt.Errorf("zero-length placement axis")
	}
	z := axis.Normalize()
	x := ref.Sub(z.Mul(ref.Dot(z)))
	if x.Len() < 1e-9 {
		x = mgl64.Vec3{1, 0, 0}.Sub(z.Mul(z[0]))
		if x.Len() < 1e-9 {
			x = mgl64.Vec3{0, 1, 0}.Sub(z.Mul(z[1]))
		}
	}
	x = x.Normalize()
	y := z.Cross(x)
	return mgl64.Mat4FromCols(x.Vec4(0), y.Vec4(0), z.Vec4(0), loc.Vec4(1)), nil
}

func (b *shapeBuilder) point3(v Value) (mgl64.Vec3, error) {
	p, ok := b.f.Deref(v)
	if !ok || p.Type != "IFCCARTESIANPOINT" {
		return mgl64.Vec3{}, fmt.Errorf("expected cartesian point")
	}
	c, err := floats(p.Arg(0))
	if err != nil || len(c) < 2 {
		return mgl64.Vec3{}, fmt.Errorf("#%d: malformed coordinates", p.ID)
	}
	out := mgl64.Vec3{c[0], c[1], 0}
	if len(c) > 2 {
		out[2] = c[2]
	}
	return out, nil
}

func (b *shapeBuilder) direction(v Value) (mgl64.Vec3, error) {
	d, ok := b.f.Deref(v)
	if !ok || d.Type != "IFCDIRECTION" {
		return mgl64.Vec3{}, fmt.Errorf("expected direction")
	}
	c, err := floats(d.Arg(0))
	if err != nil || len(c) < 2 {
		return mgl64.Vec3{}, fmt.Errorf("#%d: malformed direction", d.ID)
	}
	out := mgl64.Vec3{c[0], c[1], 0}
	if len(c) > 2 {
		out[2] = c[2]
	}
	if out.Len() < 1e-12 {
		return mgl64.Vec3{}, fmt.Errorf("#%d: zero-length direction", d.ID)
	}
	return out, nil
}

// profile returns the outer boundary of a swept area in profile coordinates.
// Parameterized steel sections are approximated by their outer envelope.
func (b *shapeBuilder) profile(v Value) ([]mgl64.Vec2, error) {
	p, ok := b.f.Deref(v)
	if !ok {
		return nil, fmt.Errorf("dangling profile")
	}
	var pts []mgl64.Vec2
	switch p.Type {
	case "IFCRECTANGLEPROFILEDEF", "IFCRECTANGLEHOLLOWPROFILEDEF", "IFCROUNDEDRECTANGLEPROFILEDEF", "IFCISHAPEPROFILEDEF":
		x, okx := p.Arg(3).AsFloat()
		y, oky := p.Arg(4).AsFloat()
		if !okx || !oky || x <= 0 || y <= 0 {
			return nil, fmt.Errorf("#%d: invalid profile dimensions", p.ID)
		}
		pts = rectangle(x, y)
	case "IFCLSHAPEPROFILEDEF", "IFCUSHAPEPROFILEDEF", "IFCTSHAPEPROFILEDEF", "IFCCSHAPEPROFILEDEF", "IFCZSHAPEPROFILEDEF":
		depth, okd := p.Arg(3).AsFloat()
		width, okw := p.Arg(4).AsFloat()
		if !okd || !okw || depth <= 0 || width <= 0 {
			return nil, fmt.Errorf("#%d: invalid profile dimensions", p.ID)
		}
		pts = rectangle(width, depth)
	case "IFCCIRCLEPROFILEDEF", "IFCCIRCLEHOLLOWPROFILEDEF":
		r, ok := p.Arg(3).AsFloat()
		if !ok || r <= 0 {
			return nil, fmt.Errorf("#%d: invalid radius", p.ID)
		}
		for i := 0; i < circleSegments; i++ {
			a := 2 * math.Pi * float64(i) / circleSegments
			pts = append(pts, mgl64.Vec2{r * math.Cos(a), r * math.Sin(a)})
		}
	case "IFCARBITRARYCLOSEDPROFILEDEF", "IFCARBITRARYPROFILEDEFWITHVOIDS":
		curve, err := b.curve(p.Arg(2))
		if err != nil {
			return nil, err
		}
		return curve, nil
	default:
		return nil, fmt.Errorf("%w: profile %s", errUnsupported, p.Type)
	}
	if pos := p.Arg(2); !pos.IsNull() {
		xf, err := b.axis2D(pos)
		if err != nil {
			return nil, err
		}
		for i := range pts {
			pts[i] = xf(pts[i])
		}
	}
	return pts, nil
}

func rectangle(x, y float64) []mgl64.Vec2 {
	hx, hy := x/2, y/2
	return []mgl64.Vec2{{-hx, -hy}, {hx, -hy}, {hx, hy}, {-hx, hy}}
}

func (b *shapeBuilder) curve(v Value) ([]mgl64.Vec2, error) {
	c, ok := b.f.Deref(v)
	if !ok {
		return nil, fmt.Errorf("dangling profile curve")
	}
	var pts []mgl64.Vec2
	switch c.Type {
	case "IFCPOLYLINE":
		refs, _ := c.Arg(0).AsList()
		for _, rv := range refs {
			p, err := b.point3(rv)
			if err != nil {
				return nil, err
			}
			pts = append(pts, mgl64.Vec2{p[0], p[1]})
		}
	case "IFCINDEXEDPOLYCURVE":
		list, ok := b.f.Deref(c.Arg(0))
		if !ok {
			return nil, fmt.Errorf("#%d: missing point list", c.ID)
		}
		rows, _ := list.Arg(0).AsList()
		for _, row := range rows {
			xy, err := floats(row)
			if err != nil || len(xy) < 2 {
				return nil, fmt.Errorf("#%d: malformed coordinate", list.ID)
			}
			pts = append(pts, mgl64.Vec2{xy[0], xy[1]})
		}
	default:
		return nil, fmt.Errorf("%w: curve %s", errUnsupported, c.Type)
	}
	if n := len(pts); n > 1 && pts[0].ApproxEqual(pts[n-1]) {
		pts = pts[:n-1]
	}
	if len(pts) < 3 {
		return nil, fmt.Errorf("#%d: profile needs at least 3 points", c.ID)
	}
	return pts, nil
}

func (b *shapeBuilder) axis2D(v Value) (func(mgl64.Vec2) mgl64.Vec2, error) {
	a, ok := b.f.Deref(v)
	if !ok {
		return nil, fmt.Errorf("dangling 2D placement")
	}
	loc, err := b.point3(a.Arg(0))
	if err != nil {
		return nil, err
	}
	x := mgl64.Vec2{1, 0}
	if !a.Arg(1).IsNull() {
		d, err := b.direction(a.Arg(1))
		if err != nil {
			return nil, err
		}
		x = mgl64.Vec2{d[0], d[1]}.Normalize()
	}
	y := mgl64.Vec2{-x[1], x[0]}
	origin := mgl64.Vec2{loc[0], loc[1]}
	return func(p mgl64.Vec2) mgl64.Vec2 {
		return origin.Add(x.Mul(p[0])).Add(y.Mul(p[1]))
	}, nil
}

func floats(v Value) ([]float64, error) {
	list, ok := v.AsList()
	if !ok {
		return nil, fmt.Errorf("expected list of numbers")
	}
	out := make([]float64, 0, len(list))
	for _, x := range list {
		f, ok := x.AsFloat()
		if !ok {
			return nil, fmt.Errorf("expected number")
		}
		out = append(out, f)
	}
	return out, nil
}
