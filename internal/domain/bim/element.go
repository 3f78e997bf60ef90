// Package bim holds the in-memory model produced and consumed by the IFC
// processing pipeline. These values are immutable once built and are what the
// result cache serializes.
package bim

import "strings"

// ElementType is the closed set of element categories the pipeline extracts.
type ElementType string

const (
	ElementWall         ElementType = "wall"
	ElementBeam         ElementType = "beam"
	ElementColumn       ElementType = "column"
	ElementSlab         ElementType = "slab"
	ElementDoor         ElementType = "door"
	ElementWindow       ElementType = "window"
	ElementStair        ElementType = "stair"
	ElementRoof         ElementType = "roof"
	ElementPipeSegment  ElementType = "pipe_segment"
	ElementDuctSegment  ElementType = "duct_segment"
	ElementCableSegment ElementType = "cable_segment"
	ElementUnknown      ElementType = "unknown"
)

// ExtractedTypes lists the categories in extraction order.
var ExtractedTypes = []ElementType{
	ElementWall, ElementBeam, ElementColumn, ElementSlab, ElementDoor, ElementWindow,
	ElementStair, ElementRoof, ElementPipeSegment, ElementDuctSegment, ElementCableSegment,
}

var ifcNames = map[ElementType]string{
	ElementWall:         "IfcWall",
	ElementBeam:         "IfcBeam",
	ElementColumn:       "IfcColumn",
	ElementSlab:         "IfcSlab",
	ElementDoor:         "IfcDoor",
	ElementWindow:       "IfcWindow",
	ElementStair:        "IfcStair",
	ElementRoof:         "IfcRoof",
	ElementPipeSegment:  "IfcPipeSegment",
	ElementDuctSegment:  "IfcDuctSegment",
	ElementCableSegment: "IfcCableSegment",
}

// STEP entity names (upper case) that map onto each category. Standard-case
// subtypes from IFC2X3 are folded into their parent.
var stepEntities = map[string]ElementType{
	"IFCWALL":                 ElementWall,
	"IFCWALLSTANDARDCASE":     ElementWall,
	"IFCWALLELEMENTEDCASE":    ElementWall,
	"IFCBEAM":                 ElementBeam,
	"IFCBEAMSTANDARDCASE":     ElementBeam,
	"IFCCOLUMN":               ElementColumn,
	"IFCCOLUMNSTANDARDCASE":   ElementColumn,
	"IFCSLAB":                 ElementSlab,
	"IFCSLABSTANDARDCASE":     ElementSlab,
	"IFCSLABELEMENTEDCASE":    ElementSlab,
	"IFCDOOR":                 ElementDoor,
	"IFCDOORSTANDARDCASE":     ElementDoor,
	"IFCWINDOW":               ElementWindow,
	"IFCWINDOWSTANDARDCASE":   ElementWindow,
	"IFCSTAIR":                ElementStair,
	"IFCROOF":                 ElementRoof,
	"IFCPIPESEGMENT":          ElementPipeSegment,
	"IFCDUCTSEGMENT":          ElementDuctSegment,
	"IFCCABLESEGMENT":         ElementCableSegment,
	"IFCCABLECARRIERSEGMENT":  ElementCableSegment,
}

// ElementTypeFromSTEP maps a STEP entity name such as IFCWALLSTANDARDCASE to
// its category, or ElementUnknown.
func ElementTypeFromSTEP(entity string) ElementType {
	if t, ok := stepEntities[strings.ToUpper(strings.TrimSpace(entity))]; ok {
		return t
	}
	return ElementUnknown
}

// STEPEntities returns the STEP entity names that belong to t.
func (t ElementType) STEPEntities() []string {
	var out []string
	for name, et := range stepEntities {
		if et == t {
			out = append(out, name)
		}
	}
	return out
}

func (t ElementType) Valid() bool {
	_, ok := ifcNames[t]
	return ok
}

// IFCName is the schema class name, e.g. IfcBeam.
func (t ElementType) IFCName() string {
	if n, ok := ifcNames[t]; ok {
		return n
	}
	return "IfcBuildingElementProxy"
}

func (t ElementType) IsStructural() bool {
	switch t {
	case ElementWall, ElementColumn, ElementBeam, ElementSlab:
		return true
	default:
		return false
	}
}

func (t ElementType) IsMEP() bool {
	switch t {
	case ElementPipeSegment, ElementDuctSegment, ElementCableSegment:
		return true
	default:
		return false
	}
}

// PropertySets maps property-set name to property name to scalar value
// (string, float64, int64, bool or nil).
type PropertySets map[string]map[string]any

type GeometrySummary struct {
	Vertices int   `json:"vertices"`
	Faces    int   `json:"faces"`
	Bounds   *AABB `json:"bounds,omitempty"`
}

type ExtractedElement struct {
	GlobalID    string           `json:"global_id"`
	Type        ElementType      `json:"type"`
	IFCType     string           `json:"ifc_type"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Properties  PropertySets     `json:"properties"`
	HasGeometry bool             `json:"has_geometry"`
	Geometry    *GeometrySummary `json:"geometry,omitempty"`
}

// Bounds returns the element's world-space box when geometry was computed.
func (e ExtractedElement) Bounds() (AABB, bool) {
	if !e.HasGeometry || e.Geometry == nil || e.Geometry.Bounds == nil {
		return AABB{}, false
	}
	return *e.Geometry.Bounds, true
}

type Floor struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Elevation   float64 `json:"elevation"`
}

type Building struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Floors      []Floor `json:"floors"`
}

type SpatialStructure struct {
	Buildings []Building `json:"buildings"`
}

type ExtractedModel struct {
	SchemaVersion      string `json:"schema_version"`
	ProjectName        string `json:"project_name"`
	ProjectDescription string `json:"project_description"`
	// ElementCount counts every physical element entity in the file, including
	// categories that are not extracted.
	ElementCount int `json:"element_count"`
	// LengthUnitMeters is the size of one model length unit in meters.
	LengthUnitMeters float64            `json:"length_unit_meters"`
	Elements         []ExtractedElement `json:"elements"`
	SpatialStructure SpatialStructure   `json:"spatial_structure"`
}

// Element returns the element with the given global id.
func (m *ExtractedModel) Element(globalID string) (ExtractedElement, bool) {
	for _, e := range m.Elements {
		if e.GlobalID == globalID {
			return e, true
		}
	}
	return ExtractedElement{}, false
}

// WithGeometry returns the elements that carry solid geometry, in order.
func (m *ExtractedModel) WithGeometry() []ExtractedElement {
	out := make([]ExtractedElement, 0, len(m.Elements))
	for _, e := range m.Elements {
		if e.HasGeometry {
			out = append(out, e)
		}
	}
	return out
}
