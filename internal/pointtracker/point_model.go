package pointtracker

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// PointModel is the fixed geometry of the three-marker constellation in
// millimetres. Marker 0 sits at the origin; markers 1 and 2 lie M01 and M02
// away from it on legs opened 60° either side of the model +y axis, so equal
// offsets form an equilateral triangle. All markers are in the z=0 plane and
// the front face (normal -z) looks at the camera in the rest pose.
//
// A PointModel is immutable once built.
type PointModel struct {
	m [3]Vec3
	// sides[k] is the length of the side opposite marker k.
	sides [3]float64
}

// NewPointModel builds the model from the two marker offsets.
func NewPointModel(m01, m02 float64) *PointModel {
	h := math.Sqrt(3) / 2
	pm := &PointModel{m: [3]Vec3{
		{},
		{X: -0.5 * m01, Y: h * m01},
		{X: 0.5 * m02, Y: h * m02},
	}}
	pm.sides[0] = r3.Norm(r3.Sub(pm.m[2], pm.m[1]))
	pm.sides[1] = r3.Norm(r3.Sub(pm.m[2], pm.m[0]))
	pm.sides[2] = r3.Norm(r3.Sub(pm.m[1], pm.m[0]))
	return pm
}

// Points returns the three marker positions.
func (pm *PointModel) Points() [3]Vec3 {
	return pm.m
}

// Point returns marker i.
func (pm *PointModel) Point(i int) Vec3 {
	return pm.m[i]
}

// Sides returns the side lengths opposite markers 0, 1 and 2.
func (pm *PointModel) Sides() [3]float64 {
	return pm.sides
}

// normalizedSides returns the side lengths divided by the perimeter.
func (pm *PointModel) normalizedSides() [3]float64 {
	p := pm.sides[0] + pm.sides[1] + pm.sides[2]
	return [3]float64{pm.sides[0] / p, pm.sides[1] / p, pm.sides[2] / p}
}

// baseAngle is the direction from marker 0 to the midpoint of markers 1 and 2
// in the model x-y plane, measured from +y towards +x.
func (pm *PointModel) baseAngle() float64 {
	mx := (pm.m[1].X + pm.m[2].X) / 2
	my := (pm.m[1].Y + pm.m[2].Y) / 2
	return math.Atan2(mx, my)
}
