package field

import "math"

// metersPerDegree is the meridional meter-to-degree factor (one nautical
// mile per minute of latitude).
const metersPerDegree = 1852.0 * 60.0

// Converter rescales raw sampled values into target units. The sample
// location is provided for converters that depend on it.
type Converter interface {
	ToTarget(value, depth, lat, lon float64) float64
}

// Identity returns values unchanged.
type Identity struct{}

func (Identity) ToTarget(value, _, _, _ float64) float64 { return value }

// Affine applies value*Scale + Offset (e.g. per-second to per-day).
type Affine struct {
	Scale  float64
	Offset float64
}

func (a Affine) ToTarget(value, _, _, _ float64) float64 { return value*a.Scale + a.Offset }

// Geographic converts meridional velocities from m/s to degrees/s on a
// spherical mesh.
type Geographic struct{}

func (Geographic) ToTarget(value, _, _, _ float64) float64 {
	return value / metersPerDegree
}

// GeographicPolar converts zonal velocities from m/s to degrees/s on a
// spherical mesh, accounting for meridian convergence at the sample latitude.
type GeographicPolar struct{}

func (GeographicPolar) ToTarget(value, _, lat, _ float64) float64 {
	return value / (metersPerDegree * math.Cos(lat*math.Pi/180))
}
