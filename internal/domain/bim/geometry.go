package bim

import "math"

// AABB is an axis-aligned bounding box in model length units.
type AABB struct {
	Min [3]float64 `json:"min"`
	Max [3]float64 `json:"max"`
}

// EmptyAABB returns an inverted box that any Extend call will replace.
func EmptyAABB() AABB {
	inf := math.Inf(1)
	return AABB{
		Min: [3]float64{inf, inf, inf},
		Max: [3]float64{-inf, -inf, -inf},
	}
}

func (b AABB) IsEmpty() bool {
	return b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] || b.Min[2] > b.Max[2]
}

func (b *AABB) Extend(p [3]float64) {
	for i := 0; i < 3; i++ {
		if p[i] < b.Min[i] {
			b.Min[i] = p[i]
		}
		if p[i] > b.Max[i] {
			b.Max[i] = p[i]
		}
	}
}

// Intersects reports whether the boxes overlap or touch.
func (b AABB) Intersects(o AABB) bool {
	for i := 0; i < 3; i++ {
		if b.Max[i] < o.Min[i] || o.Max[i] < b.Min[i] {
			return false
		}
	}
	return true
}

// Gap is the Euclidean distance between the closest points of two boxes; zero
// when they intersect.
func (b AABB) Gap(o AABB) float64 {
	var sum float64
	for i := 0; i < 3; i++ {
		d := math.Max(0, math.Max(o.Min[i]-b.Max[i], b.Min[i]-o.Max[i]))
		sum += d * d
	}
	return math.Sqrt(sum)
}
