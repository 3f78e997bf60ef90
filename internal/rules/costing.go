package rules

import (
	"math"
	"strings"

	"github.com/vitruvius-bim/vitruvius-backend/internal/domain/bim"
)

// Project cost parameter names.
const (
	ParamConcreteM3        = "CONCRETE_M3"
	ParamSteelKG           = "STEEL_KG"
	ParamLaborHour         = "LABOR_HOUR"
	ParamEquipmentHour     = "EQUIPMENT_HOUR"
	ParamMaterialTransport = "MATERIAL_TRANSPORT"
)

// DefaultCostParams applies when a project has no override for a parameter.
func DefaultCostParams() map[string]float64 {
	return map[string]float64{
		ParamConcreteM3:        500,
		ParamSteelKG:           2.5,
		ParamLaborHour:         45,
		ParamEquipmentHour:     75,
		ParamMaterialTransport: 150,
	}
}

// CostWithProjectParams prices a solution from labour, equipment and
// transport rates instead of project-size fractions. Lower confidence raises
// the price, up to double at confidence 0.1 or below.
func CostWithProjectParams(t bim.SolutionType, confidence float64, overrides map[string]float64) float64 {
	params := DefaultCostParams()
	for k, v := range overrides {
		if v > 0 {
			params[k] = v
		}
	}
	labor := params[ParamLaborHour]
	name := strings.ToLower(string(t))

	var base float64
	switch {
	case strings.Contains(name, "relocation"):
		base = labor*8 + params[ParamEquipmentHour]*2
	case strings.Contains(name, "redesign"):
		base = labor * 24
	case strings.Contains(name, "modification"), strings.Contains(name, "adjustment"):
		base = labor*4 + params[ParamMaterialTransport]
	default:
		base = labor * 6
	}

	if math.IsNaN(confidence) {
		confidence = 1
	}
	if confidence < 0.1 {
		confidence = 0.1
	}
	if confidence > 1 {
		confidence = 1
	}
	return base * (2 - confidence)
}
