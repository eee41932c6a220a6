// Package field implements the sampled-field data model and the point
// interpolation engine the kernel runtime calls into. Fields are immutable
// once constructed, apart from lazy chunked loading of time slabs, and are
// safe for concurrent sampling.
package field

import (
	"fmt"
	"sync"
)

// Interp selects the interpolation method for scalar sampling.
type Interp int

const (
	// InterpLinear is bilinear (2D) or trilinear (3D) interpolation.
	InterpLinear Interp = iota
	// InterpNearest snaps to the nearest grid node in every dimension.
	InterpNearest
)

// ParseInterp maps a config string to an Interp.
func ParseInterp(s string) (Interp, error) {
	switch s {
	case "linear", "cgrid_velocity":
		// cgrid_velocity applies to the velocity pair; component fields
		// fall back to linear for scalar sampling.
		return InterpLinear, nil
	case "nearest":
		return InterpNearest, nil
	}
	return 0, fmt.Errorf("field: unknown interpolation method %q", s)
}

// ChunkLoader fetches the data slab for one time snapshot (nz*ny*nx values,
// depth-major). Used for out-of-core fields; may be called from any worker.
type ChunkLoader func(ti int) ([]float64, error)

// Options configures optional Field behavior.
type Options struct {
	Interp                 Interp
	Units                  Converter   // nil = Identity
	AllowTimeExtrapolation bool        // clamp instead of failing outside the time range
	Loader                 ChunkLoader // non-nil = lazy chunked loading, data may be nil
	DepthBoundary          Boundary
}

// Field is an immutable grid of sampled values over (time, depth, lat, lon).
type Field struct {
	Name   string
	Grid   Grid
	Interp Interp
	Units  Converter

	times                  []float64
	depth                  *Axis // nil for surface-only fields
	allowTimeExtrapolation bool

	nt, nz, ny, nx int
	slabSize       int

	data []float64 // whole-field storage; nil when lazily loaded

	mu     sync.Mutex
	loader ChunkLoader
	slabs  [][]float64
}

// New builds a field over the given grid. times may be nil for a static
// field and depths nil for a surface-only field. data holds nt*nz*ny*nx
// values in (time, depth, lat, lon) order, and may be nil when opts.Loader
// is set.
func New(name string, data []float64, times, depths []float64, grid Grid, opts Options) (*Field, error) {
	ny, nx := grid.Dims()
	nt := len(times)
	if nt == 0 {
		nt = 1
		times = []float64{0}
	}
	for i := 1; i < len(times); i++ {
		if times[i] <= times[i-1] {
			return nil, fmt.Errorf("field %s: time axis not strictly increasing at index %d", name, i)
		}
	}

	var depth *Axis
	nz := 1
	if len(depths) > 0 {
		b := opts.DepthBoundary
		if b == BoundaryPeriodic {
			b = BoundaryClamp
		}
		var err error
		depth, err = NewAxis(depths, b)
		if err != nil {
			return nil, fmt.Errorf("field %s: depth: %w", name, err)
		}
		nz = depth.Len()
	}

	f := &Field{
		Name:                   name,
		Grid:                   grid,
		Interp:                 opts.Interp,
		Units:                  opts.Units,
		times:                  times,
		depth:                  depth,
		allowTimeExtrapolation: opts.AllowTimeExtrapolation,
		nt:                     nt,
		nz:                     nz,
		ny:                     ny,
		nx:                     nx,
		slabSize:               nz * ny * nx,
		data:                   data,
		loader:                 opts.Loader,
	}
	if f.Units == nil {
		f.Units = Identity{}
	}
	if f.loader != nil {
		f.slabs = make([][]float64, nt)
	} else if len(data) != nt*f.slabSize {
		return nil, fmt.Errorf("field %s: data length %d, want %d (nt=%d nz=%d ny=%d nx=%d)",
			name, len(data), nt*f.slabSize, nt, nz, ny, nx)
	}
	return f, nil
}

// Times returns the time snapshot coordinates.
func (f *Field) Times() []float64 { return f.times }

// slab returns the data slab for time index ti, fetching it through the
// chunk loader on first access. Loading is serialized; a failed fetch leaves
// the field unchanged so the sample can be retried.
func (f *Field) slab(ti int) ([]float64, error) {
	if f.data != nil {
		return f.data[ti*f.slabSize : (ti+1)*f.slabSize], nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if s := f.slabs[ti]; s != nil {
		return s, nil
	}
	s, err := f.loader(ti)
	if err != nil {
		return nil, &DataUnavailableError{Field: f.Name, Chunk: ti, Err: err}
	}
	if len(s) != f.slabSize {
		return nil, &DataUnavailableError{Field: f.Name, Chunk: ti,
			Err: fmt.Errorf("chunk length %d, want %d", len(s), f.slabSize)}
	}
	f.slabs[ti] = s
	return s, nil
}

// at reads the stored value at the given node indices.
func (f *Field) at(ti, zi, yi, xi int) (float64, error) {
	s, err := f.slab(ti)
	if err != nil {
		return 0, err
	}
	return s[(zi*f.ny+yi)*f.nx+xi], nil
}

// timeIndex locates the snapshot pair bracketing t.
func (f *Field) timeIndex(t float64) (int, float64, error) {
	if f.nt == 1 {
		return 0, 0, nil
	}
	t0, tN := f.times[0], f.times[f.nt-1]
	if t < t0 || t > tN {
		if !f.allowTimeExtrapolation {
			return 0, 0, &OutOfBoundsError{Field: f.Name, Axis: "time", Value: t, Min: t0, Max: tN}
		}
		if t < t0 {
			return 0, 0, nil
		}
		return f.nt - 2, 1, nil
	}
	// Binary search for the bracketing snapshot.
	lo, hi := 0, f.nt-1
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		if f.times[mid] <= t {
			lo = mid
		} else {
			hi = mid
		}
	}
	frac := (t - f.times[lo]) / (f.times[lo+1] - f.times[lo])
	return lo, frac, nil
}

// depthIndex locates the depth cell for z.
func (f *Field) depthIndex(z float64) (int, float64, error) {
	if f.depth == nil || f.nz == 1 {
		return 0, 0, nil
	}
	return f.depth.Locate(f.Name, "depth", z)
}

// Sample interpolates the field at a point, applying the configured
// boundary policy, interpolation method and unit conversion. A query that
// coincides with a grid node returns the stored value exactly.
func (f *Field) Sample(t, depth, lat, lon float64) (float64, error) {
	ti, tfrac, err := f.timeIndex(t)
	if err != nil {
		return 0, err
	}
	zi, zfrac, err := f.depthIndex(depth)
	if err != nil {
		return 0, err
	}
	yi, xi, eta, xsi, err := f.Grid.Locate(f.Name, lat, lon)
	if err != nil {
		return 0, err
	}

	if f.Interp == InterpNearest {
		ti, tfrac = roundIndex(ti, tfrac)
		zi, zfrac = roundIndex(zi, zfrac)
		yi, eta = roundIndex(yi, eta)
		if xsi >= 0.5 {
			xi, xsi = f.Grid.NextX(xi), 0
		} else {
			xsi = 0
		}
	}

	v, err := f.sampleAt(ti, zi, zfrac, yi, eta, xi, xsi)
	if err != nil {
		return 0, err
	}
	if tfrac > 0 {
		v1, err := f.sampleAt(ti+1, zi, zfrac, yi, eta, xi, xsi)
		if err != nil {
			return 0, err
		}
		v = v + (v1-v)*tfrac
	}
	return f.Units.ToTarget(v, depth, lat, lon), nil
}

// sampleAt performs the spatial interpolation at a single time snapshot.
func (f *Field) sampleAt(ti, zi int, zfrac float64, yi int, eta float64, xi int, xsi float64) (float64, error) {
	v, err := f.planeAt(ti, zi, yi, eta, xi, xsi)
	if err != nil {
		return 0, err
	}
	if zfrac > 0 && f.nz > 1 {
		v1, err := f.planeAt(ti, zi+1, yi, eta, xi, xsi)
		if err != nil {
			return 0, err
		}
		v = v + (v1-v)*zfrac
	}
	return v, nil
}

// planeAt performs bilinear interpolation within one depth level.
func (f *Field) planeAt(ti, zi, yi int, eta float64, xi int, xsi float64) (float64, error) {
	xi2 := f.Grid.NextX(xi)
	yi2 := yi + 1
	if yi2 > f.ny-1 {
		yi2 = f.ny - 1
	}

	v00, err := f.at(ti, zi, yi, xi)
	if err != nil {
		return 0, err
	}
	v01, err := f.at(ti, zi, yi, xi2)
	if err != nil {
		return 0, err
	}
	v10, err := f.at(ti, zi, yi2, xi)
	if err != nil {
		return 0, err
	}
	v11, err := f.at(ti, zi, yi2, xi2)
	if err != nil {
		return 0, err
	}
	return (1-eta)*(1-xsi)*v00 + (1-eta)*xsi*v01 + eta*(1-xsi)*v10 + eta*xsi*v11, nil
}

// nodeValue reads the stored value at horizontal node (yi, xi) with time and
// depth interpolation applied. Used for staggered-mesh velocity sampling,
// which interpolates between face values itself.
func (f *Field) nodeValue(t, depth float64, yi, xi int) (float64, error) {
	ti, tfrac, err := f.timeIndex(t)
	if err != nil {
		return 0, err
	}
	zi, zfrac, err := f.depthIndex(depth)
	if err != nil {
		return 0, err
	}
	read := func(ti int) (float64, error) {
		v, err := f.at(ti, zi, yi, xi)
		if err != nil {
			return 0, err
		}
		if zfrac > 0 && f.nz > 1 {
			v1, err := f.at(ti, zi+1, yi, xi)
			if err != nil {
				return 0, err
			}
			v = v + (v1-v)*zfrac
		}
		return v, nil
	}
	v, err := read(ti)
	if err != nil {
		return 0, err
	}
	if tfrac > 0 {
		v1, err := read(ti + 1)
		if err != nil {
			return 0, err
		}
		v = v + (v1-v)*tfrac
	}
	return v, nil
}

func roundIndex(i int, frac float64) (int, float64) {
	if frac >= 0.5 {
		return i + 1, 0
	}
	return i, 0
}
