package field

import (
	"errors"
	"math"
	"testing"
)

const tol = 1e-12

// uniformGrid builds a small rectilinear grid: lats 0..4, lons 0..4.
func uniformGrid(t *testing.T, boundary Boundary) *RectilinearGrid {
	t.Helper()
	coords := []float64{0, 1, 2, 3, 4}
	g, err := NewRectilinearGrid(coords, coords, boundary)
	if err != nil {
		t.Fatalf("NewRectilinearGrid: %v", err)
	}
	return g
}

// rampField stores value lat*10 + lon at each node of a 5x5 grid.
func rampField(t *testing.T, boundary Boundary, opts Options) *Field {
	t.Helper()
	g := uniformGrid(t, boundary)
	data := make([]float64, 25)
	for yi := 0; yi < 5; yi++ {
		for xi := 0; xi < 5; xi++ {
			data[yi*5+xi] = float64(yi*10 + xi)
		}
	}
	f, err := New("T", data, nil, nil, g, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func TestSampleNodeExact(t *testing.T) {
	f := rampField(t, BoundaryError, Options{Interp: InterpLinear})
	for yi := 0; yi < 5; yi++ {
		for xi := 0; xi < 5; xi++ {
			v, err := f.Sample(0, 0, float64(yi), float64(xi))
			if err != nil {
				t.Fatalf("Sample(%d,%d): %v", yi, xi, err)
			}
			want := float64(yi*10 + xi)
			if v != want {
				t.Errorf("node (%d,%d) = %v, want exactly %v", yi, xi, v, want)
			}
		}
	}
}

func TestSampleBilinear(t *testing.T) {
	f := rampField(t, BoundaryError, Options{Interp: InterpLinear})
	cases := []struct {
		lat, lon, want float64
	}{
		{0.5, 0.5, 5.5},
		{1.25, 2.75, 15.25},
		{3.999, 0, 39.99},
	}
	for _, tc := range cases {
		v, err := f.Sample(0, 0, tc.lat, tc.lon)
		if err != nil {
			t.Fatalf("Sample(%v,%v): %v", tc.lat, tc.lon, err)
		}
		if math.Abs(v-tc.want) > 1e-9 {
			t.Errorf("Sample(%v,%v) = %v, want %v", tc.lat, tc.lon, v, tc.want)
		}
	}
}

func TestSampleNearest(t *testing.T) {
	f := rampField(t, BoundaryError, Options{Interp: InterpNearest})
	cases := []struct {
		lat, lon, want float64
	}{
		{0.4, 0.4, 0},
		{0.6, 0.4, 10},
		{2.5, 2.5, 33}, // ties round up
		{1.1, 3.9, 14},
	}
	for _, tc := range cases {
		v, err := f.Sample(0, 0, tc.lat, tc.lon)
		if err != nil {
			t.Fatalf("Sample(%v,%v): %v", tc.lat, tc.lon, err)
		}
		if v != tc.want {
			t.Errorf("Sample(%v,%v) = %v, want %v", tc.lat, tc.lon, v, tc.want)
		}
	}
}

func TestBoundaryError(t *testing.T) {
	f := rampField(t, BoundaryError, Options{Interp: InterpLinear})
	_, err := f.Sample(0, 0, 2, 4.5)
	if err == nil {
		t.Fatal("out-of-range sample did not fail")
	}
	var oob *OutOfBoundsError
	if !errors.As(err, &oob) {
		t.Fatalf("error %T is not OutOfBoundsError", err)
	}
	if oob.Axis != "lon" || oob.Value != 4.5 {
		t.Errorf("error detail = %+v, want axis lon value 4.5", oob)
	}
}

func TestBoundaryClamp(t *testing.T) {
	f := rampField(t, BoundaryClamp, Options{Interp: InterpLinear})
	v, err := f.Sample(0, 0, -3, 10)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	// Clamped to the (0, 4) corner node.
	if v != 4 {
		t.Errorf("clamped sample = %v, want 4", v)
	}
}

func TestBoundaryPeriodicWrap(t *testing.T) {
	f := rampField(t, BoundaryPeriodic, Options{Interp: InterpLinear})

	// One full period east of a node lands back on the node value.
	// Period is 5 (span 4 plus one trailing cell).
	v, err := f.Sample(0, 0, 2, 1+5)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if math.Abs(v-21) > tol {
		t.Errorf("wrapped node sample = %v, want 21", v)
	}

	// Inside the wrap cell: halfway between the last node (lon 4) and the
	// first node (lon 0) interpolates between their values.
	v, err = f.Sample(0, 0, 2, 4.5)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	want := (24.0 + 20.0) / 2
	if math.Abs(v-want) > tol {
		t.Errorf("wrap-cell sample = %v, want %v", v, want)
	}
}

func TestTimeInterpolation(t *testing.T) {
	g := uniformGrid(t, BoundaryError)
	// Two snapshots: all zeros, then all tens.
	data := make([]float64, 50)
	for i := 25; i < 50; i++ {
		data[i] = 10
	}
	f, err := New("T", data, []float64{0, 100}, nil, g, Options{Interp: InterpLinear})
	if err != nil {
		t.Fatal(err)
	}

	v, err := f.Sample(25, 0, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(v-2.5) > tol {
		t.Errorf("t=25 sample = %v, want 2.5", v)
	}

	// Outside the time range fails unless extrapolation is allowed.
	if _, err := f.Sample(150, 0, 2, 2); err == nil {
		t.Error("time extrapolation succeeded without being enabled")
	}

	fx, err := New("T", data, []float64{0, 100}, nil, g,
		Options{Interp: InterpLinear, AllowTimeExtrapolation: true})
	if err != nil {
		t.Fatal(err)
	}
	v, err = fx.Sample(150, 0, 2, 2)
	if err != nil {
		t.Fatalf("extrapolated sample: %v", err)
	}
	if v != 10 {
		t.Errorf("extrapolated sample = %v, want clamped 10", v)
	}
}

func TestDepthInterpolation(t *testing.T) {
	g := uniformGrid(t, BoundaryError)
	// Two depth levels: surface all 1, 100 m all 3.
	data := make([]float64, 50)
	for i := 0; i < 25; i++ {
		data[i] = 1
	}
	for i := 25; i < 50; i++ {
		data[i] = 3
	}
	f, err := New("S", data, nil, []float64{0, 100}, g, Options{Interp: InterpLinear})
	if err != nil {
		t.Fatal(err)
	}
	v, err := f.Sample(0, 50, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(v-2) > tol {
		t.Errorf("mid-depth sample = %v, want 2", v)
	}
}

func TestChunkLoader(t *testing.T) {
	g := uniformGrid(t, BoundaryError)
	calls := 0
	loader := func(ti int) ([]float64, error) {
		calls++
		slab := make([]float64, 25)
		for i := range slab {
			slab[i] = float64(ti)
		}
		return slab, nil
	}
	f, err := New("T", nil, []float64{0, 100, 200}, nil, g,
		Options{Interp: InterpLinear, Loader: loader})
	if err != nil {
		t.Fatal(err)
	}

	v, err := f.Sample(50, 0, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(v-0.5) > tol {
		t.Errorf("sample = %v, want 0.5", v)
	}
	if calls != 2 {
		t.Errorf("loader calls = %d, want 2 (bracketing snapshots)", calls)
	}

	// Same bracket again hits the cache.
	if _, err := f.Sample(60, 0, 2, 2); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("loader calls after cached sample = %d, want 2", calls)
	}
}

func TestChunkLoaderFailure(t *testing.T) {
	g := uniformGrid(t, BoundaryError)
	loader := func(ti int) ([]float64, error) {
		return nil, errors.New("read timeout")
	}
	f, err := New("T", nil, []float64{0, 100}, nil, g,
		Options{Interp: InterpLinear, Loader: loader})
	if err != nil {
		t.Fatal(err)
	}
	_, err = f.Sample(50, 0, 2, 2)
	var unavailable *DataUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("error %T is not DataUnavailableError", err)
	}
	if unavailable.Field != "T" {
		t.Errorf("error field = %q, want T", unavailable.Field)
	}
}

func TestNewValidation(t *testing.T) {
	g := uniformGrid(t, BoundaryError)
	if _, err := New("T", make([]float64, 10), nil, nil, g, Options{}); err == nil {
		t.Error("wrong data length accepted")
	}
	if _, err := New("T", make([]float64, 50), []float64{100, 100}, nil, g, Options{}); err == nil {
		t.Error("non-increasing time axis accepted")
	}
}

func TestUnitsGeographic(t *testing.T) {
	// 1 m/s eastward at the equator in degrees/s.
	g := Geographic{}
	want := 1.0 / (1852.0 * 60.0)
	if v := g.ToTarget(1, 0, 0, 0); math.Abs(v-want) > 1e-18 {
		t.Errorf("Geographic(1) = %v, want %v", v, want)
	}

	// GeographicPolar shrinks the meters-per-degree-lon with latitude.
	p := GeographicPolar{}
	at60 := p.ToTarget(1, 0, 60, 0)
	if math.Abs(at60-want/math.Cos(60*math.Pi/180)) > 1e-15 {
		t.Errorf("GeographicPolar at 60N = %v, want %v", at60, want/math.Cos(60*math.Pi/180))
	}
}
