package ifc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/vitruvius-bim/vitruvius-backend/internal/domain/bim"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/apperr"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/logger"
)

// Physical element entities counted towards ExtractedModel.ElementCount in
// addition to the extracted categories.
var physicalElements = map[string]struct{}{
	"IFCBUILDINGELEMENTPROXY": {}, "IFCCOVERING": {}, "IFCCURTAINWALL": {}, "IFCFOOTING": {},
	"IFCMEMBER": {}, "IFCPILE": {}, "IFCPLATE": {}, "IFCRAILING": {}, "IFCRAMP": {},
	"IFCRAMPFLIGHT": {}, "IFCSTAIRFLIGHT": {}, "IFCCHIMNEY": {}, "IFCSHADINGDEVICE": {},
	"IFCFURNISHINGELEMENT": {}, "IFCFURNITURE": {}, "IFCFLOWSEGMENT": {}, "IFCFLOWFITTING": {},
	"IFCFLOWTERMINAL": {}, "IFCFLOWCONTROLLER": {}, "IFCPIPEFITTING": {}, "IFCDUCTFITTING": {},
	"IFCCABLEFITTING": {}, "IFCOPENINGELEMENT": {}, "IFCDISTRIBUTIONELEMENT": {},
}

type Option func(*Extractor)

// WithMaxElements fails extraction with too_many_elements when a file holds
// more extractable elements than n. Zero disables the ceiling.
func WithMaxElements(n int) Option {
	return func(x *Extractor) { x.maxElements = n }
}

type Extractor struct {
	log         *logger.Logger
	maxElements int
}

func NewExtractor(baseLog *logger.Logger, opts ...Option) *Extractor {
	x := &Extractor{log: baseLog.With("component", "IFCExtractor")}
	for _, o := range opts {
		o(x)
	}
	return x
}

func (x *Extractor) Extract(ctx context.Context, path string) (*bim.ExtractedModel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperr.New(apperr.IOFailure, "ifc.Extract", err)
	}
	defer f.Close()
	return x.ExtractReader(ctx, f)
}

func (x *Extractor) ExtractReader(ctx context.Context, r io.Reader) (*bim.ExtractedModel, error) {
	sf, err := Parse(ctx, r)
	if err != nil {
		return nil, classifyParseError(ctx, err)
	}
	if !SupportedSchema(sf.Schema) {
		return nil, apperr.Newf(apperr.ParseFailure, "ifc.Extract", "unsupported schema %q", sf.Schema)
	}
	return x.build(ctx, sf)
}

func classifyParseError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperr.FromContext("ifc.Extract", err)
	}
	var se *SyntaxError
	if errors.Is(err, ErrNotSTEP) || errors.As(err, &se) {
		return apperr.New(apperr.ParseFailure, "ifc.Extract", err)
	}
	return apperr.New(apperr.IOFailure, "ifc.Extract", err)
}

func (x *Extractor) build(ctx context.Context, f *File) (*bim.ExtractedModel, error) {
	model := &bim.ExtractedModel{
		SchemaVersion:    f.Schema,
		LengthUnitMeters: lengthUnitMeters(f),
	}
	var project *Entity
	if projects := f.OfType("IFCPROJECT"); len(projects) > 0 {
		project = projects[0]
		model.ProjectName = project.StringArg(2)
		model.ProjectDescription = project.StringArg(3)
	}
	if project != nil {
		model.LengthUnitMeters = projectLengthUnit(f, project, model.LengthUnitMeters)
	}

	type candidate struct {
		e *Entity
		t bim.ElementType
	}
	var candidates []candidate
	for _, e := range f.All() {
		t := bim.ElementTypeFromSTEP(e.Type)
		if t != bim.ElementUnknown {
			candidates = append(candidates, candidate{e: e, t: t})
			model.ElementCount++
			continue
		}
		if _, ok := physicalElements[e.Type]; ok {
			model.ElementCount++
		}
	}
	if x.maxElements > 0 && len(candidates) > x.maxElements {
		return nil, apperr.Newf(apperr.TooManyElements, "ifc.Extract",
			"model has %d elements, limit is %d", len(candidates), x.maxElements)
	}

	psets := indexPropertySets(f)
	shapes := newShapeBuilder(f)
	model.Elements = make([]bim.ExtractedElement, 0, len(candidates))
	failed, duplicates := 0, 0
	seen := make(map[string]struct{}, len(candidates))
	for i, c := range candidates {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, classifyParseError(ctx, err)
			}
		}
		el := bim.ExtractedElement{
			GlobalID:    c.e.StringArg(0),
			Type:        c.t,
			IFCType:     c.t.IFCName(),
			Name:        c.e.StringArg(2),
			Description: c.e.StringArg(3),
			Properties:  propertiesFor(f, psets[c.e.ID]),
		}
		if el.GlobalID == "" {
			el.GlobalID = fmt.Sprintf("#%d", c.e.ID)
		}
		// GlobalIds key elements downstream; the first occurrence wins
		if _, dup := seen[el.GlobalID]; dup {
			duplicates++
			x.log.Warn("Duplicate GlobalId, element skipped", "global_id", el.GlobalID, "entity", c.e.ID, "type", c.e.Type)
			continue
		}
		seen[el.GlobalID] = struct{}{}
		summary, err := shapes.element(c.e)
		if err != nil {
			failed++
			x.log.Debug("Element geometry unavailable", "global_id", el.GlobalID, "type", c.e.Type, "error", err)
		} else {
			el.HasGeometry = true
			el.Geometry = summary
		}
		model.Elements = append(model.Elements, el)
	}
	sort.SliceStable(model.Elements, func(i, j int) bool {
		return typeOrder(model.Elements[i].Type) < typeOrder(model.Elements[j].Type)
	})
	model.SpatialStructure = spatialStructure(f)

	x.log.Info("IFC model extracted",
		"schema", model.SchemaVersion,
		"elements", len(model.Elements),
		"element_count", model.ElementCount,
		"without_geometry", failed,
		"duplicate_global_ids", duplicates,
	)
	return model, nil
}

func typeOrder(t bim.ElementType) int {
	for i, et := range bim.ExtractedTypes {
		if et == t {
			return i
		}
	}
	return len(bim.ExtractedTypes)
}

// indexPropertySets maps element entity id to the property sets assigned to
// it through IfcRelDefinesByProperties.
func indexPropertySets(f *File) map[int][]*Entity {
	idx := map[int][]*Entity{}
	for _, rel := range f.OfType("IFCRELDEFINESBYPROPERTIES") {
		def, ok := f.Deref(rel.Arg(5))
		if !ok || def.Type != "IFCPROPERTYSET" {
			continue
		}
		related, _ := rel.Arg(4).AsList()
		for _, rv := range related {
			if id, ok := rv.AsRef(); ok {
				idx[id] = append(idx[id], def)
			}
		}
	}
	return idx
}

func propertiesFor(f *File, sets []*Entity) bim.PropertySets {
	out := bim.PropertySets{}
	for _, ps := range sets {
		name := ps.StringArg(2)
		if name == "" {
			name = fmt.Sprintf("#%d", ps.ID)
		}
		props := out[name]
		if props == nil {
			props = map[string]any{}
			out[name] = props
		}
		refs, _ := ps.Arg(4).AsList()
		for _, rv := range refs {
			p, ok := f.Deref(rv)
			if !ok {
				continue
			}
			switch p.Type {
			case "IFCPROPERTYSINGLEVALUE":
				props[p.StringArg(0)] = p.Arg(2).Scalar()
			case "IFCPROPERTYENUMERATEDVALUE":
				props[p.StringArg(0)] = p.Arg(2).Scalar()
			}
		}
	}
	return out
}

func spatialStructure(f *File) bim.SpatialStructure {
	children := map[int][]*Entity{}
	for _, rel := range f.OfType("IFCRELAGGREGATES") {
		parent, ok := rel.Arg(4).AsRef()
		if !ok {
			continue
		}
		related, _ := rel.Arg(5).AsList()
		for _, rv := range related {
			if e, ok := f.Deref(rv); ok {
				children[parent] = append(children[parent], e)
			}
		}
	}
	out := bim.SpatialStructure{Buildings: []bim.Building{}}
	for _, b := range f.OfType("IFCBUILDING") {
		building := bim.Building{
			ID:          b.ID,
			Name:        b.StringArg(2),
			Description: b.StringArg(3),
			Floors:      []bim.Floor{},
		}
		for _, c := range children[b.ID] {
			if c.Type != "IFCBUILDINGSTOREY" {
				continue
			}
			elevation, _ := c.Arg(9).AsFloat()
			building.Floors = append(building.Floors, bim.Floor{
				ID:          c.ID,
				Name:        c.StringArg(2),
				Description: c.StringArg(3),
				Elevation:   elevation,
			})
		}
		out.Buildings = append(out.Buildings, building)
	}
	return out
}

var siPrefixes = map[string]float64{
	"KILO": 1e3, "HECTO": 1e2, "DECA": 1e1, "DECI": 1e-1, "CENTI": 1e-2, "MILLI": 1e-3, "MICRO": 1e-6,
}

// lengthUnitMeters scans every length unit in the file; projectLengthUnit
// prefers the one assigned to the project.
func lengthUnitMeters(f *File) float64 {
	for _, u := range f.OfType("IFCSIUNIT", "IFCCONVERSIONBASEDUNIT") {
		if m, ok := unitMeters(u); ok {
			return m
		}
	}
	return 1
}

func projectLengthUnit(f *File, project *Entity, fallback float64) float64 {
	assignment, ok := f.Deref(project.Arg(8))
	if !ok {
		return fallback
	}
	units, _ := assignment.Arg(0).AsList()
	for _, uv := range units {
		if u, ok := f.Deref(uv); ok {
			if m, ok := unitMeters(u); ok {
				return m
			}
		}
	}
	return fallback
}

func unitMeters(u *Entity) (float64, bool) {
	kind, _ := u.Arg(1).AsEnum()
	if kind != "LENGTHUNIT" {
		return 0, false
	}
	switch u.Type {
	case "IFCSIUNIT":
		scale := 1.0
		if prefix, ok := u.Arg(2).AsEnum(); ok {
			if s, known := siPrefixes[prefix]; known {
				scale = s
			}
		}
		return scale, true
	case "IFCCONVERSIONBASEDUNIT":
		name := strings.ToUpper(u.StringArg(2))
		switch {
		case strings.Contains(name, "INCH"):
			return 0.0254, true
		case strings.Contains(name, "FOOT"), strings.Contains(name, "FEET"):
			return 0.3048, true
		}
	}
	return 0, false
}
