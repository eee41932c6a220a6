package field

import (
	"fmt"
	"math"
	"sort"
)

// Boundary selects how queries outside an axis range are handled.
type Boundary int

const (
	// BoundaryError fails the sample with an OutOfBoundsError.
	BoundaryError Boundary = iota
	// BoundaryClamp clamps the query to the axis range (free-slip).
	BoundaryClamp
	// BoundaryPeriodic wraps the query around the axis period.
	BoundaryPeriodic
)

// ParseBoundary maps a config string to a Boundary.
func ParseBoundary(s string) (Boundary, error) {
	switch s {
	case "error":
		return BoundaryError, nil
	case "clamp":
		return BoundaryClamp, nil
	case "periodic":
		return BoundaryPeriodic, nil
	}
	return 0, fmt.Errorf("field: unknown boundary policy %q", s)
}

// Axis is a strictly increasing coordinate array for one grid dimension,
// with a boundary policy for queries outside its range.
type Axis struct {
	Coords   []float64
	Boundary Boundary
	Period   float64 // wrap period, required when Boundary is BoundaryPeriodic
}

// NewAxis builds an axis and validates monotonicity.
func NewAxis(coords []float64, boundary Boundary) (*Axis, error) {
	if len(coords) == 0 {
		return nil, fmt.Errorf("field: empty axis")
	}
	for i := 1; i < len(coords); i++ {
		if coords[i] <= coords[i-1] {
			return nil, fmt.Errorf("field: axis coordinates not strictly increasing at index %d (%g <= %g)",
				i, coords[i], coords[i-1])
		}
	}
	a := &Axis{Coords: coords, Boundary: boundary}
	if boundary == BoundaryPeriodic {
		// Default period: span plus one trailing cell, so that a uniform
		// axis wraps onto its first node.
		n := len(coords)
		if n > 1 {
			a.Period = coords[n-1] - coords[0] + (coords[n-1] - coords[n-2])
		} else {
			a.Period = 1
		}
	}
	return a, nil
}

// Min returns the first coordinate.
func (a *Axis) Min() float64 { return a.Coords[0] }

// Max returns the last coordinate.
func (a *Axis) Max() float64 { return a.Coords[len(a.Coords)-1] }

// Len returns the number of nodes.
func (a *Axis) Len() int { return len(a.Coords) }

// wrap maps x into [min, min+period) for periodic axes.
func (a *Axis) wrap(x float64) float64 {
	r := math.Mod(x-a.Coords[0], a.Period)
	if r < 0 {
		r += a.Period
	}
	return a.Coords[0] + r
}

// Locate resolves x to a cell index i and fractional offset frac in [0, 1],
// applying the axis boundary policy first. For a single-node axis it returns
// (0, 0). The named axis label is only used for error reporting.
func (a *Axis) Locate(fieldName, axisName string, x float64) (int, float64, error) {
	n := len(a.Coords)
	if n == 1 {
		return 0, 0, nil
	}

	switch a.Boundary {
	case BoundaryPeriodic:
		x = a.wrap(x)
		if x > a.Max() {
			// Inside the wrap cell between the last and (virtual) first node.
			last := n - 2
			span := a.Period - (a.Max() - a.Min())
			return last + 1, (x - a.Max()) / span, nil
		}
	case BoundaryClamp:
		if x < a.Min() {
			x = a.Min()
		} else if x > a.Max() {
			x = a.Max()
		}
	case BoundaryError:
		if x < a.Min() || x > a.Max() {
			return 0, 0, &OutOfBoundsError{
				Field: fieldName, Axis: axisName, Value: x, Min: a.Min(), Max: a.Max(),
			}
		}
	}

	// Binary search for the bracketing cell.
	i := sort.SearchFloat64s(a.Coords, x) - 1
	if i < 0 {
		i = 0
	}
	if i > n-2 {
		i = n - 2
	}
	frac := (x - a.Coords[i]) / (a.Coords[i+1] - a.Coords[i])
	return i, frac, nil
}
