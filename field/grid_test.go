package field

import (
	"math"
	"testing"
)

// skewedGrid builds a 4x4 curvilinear grid: a unit lattice sheared so cell
// edges are not axis-aligned.
func skewedGrid(t *testing.T) *CurvilinearGrid {
	t.Helper()
	const n = 4
	lons := make([]float64, n*n)
	lats := make([]float64, n*n)
	for yi := 0; yi < n; yi++ {
		for xi := 0; xi < n; xi++ {
			lons[yi*n+xi] = float64(xi) + 0.2*float64(yi)
			lats[yi*n+xi] = float64(yi) + 0.1*float64(xi)
		}
	}
	g, err := NewCurvilinearGrid(lats, lons, n, n)
	if err != nil {
		t.Fatalf("NewCurvilinearGrid: %v", err)
	}
	return g
}

func TestCurvilinearLocateNodes(t *testing.T) {
	g := skewedGrid(t)
	// Interior node positions invert to integer cell corners.
	for yi := 0; yi < 3; yi++ {
		for xi := 0; xi < 3; xi++ {
			lon, lat := g.NodeLonLat(yi, xi)
			cy, cx, eta, xsi, err := g.Locate("T", lat, lon)
			if err != nil {
				t.Fatalf("Locate node (%d,%d): %v", yi, xi, err)
			}
			x00, y00 := g.NodeLonLat(cy, cx)
			x01, y01 := g.NodeLonLat(cy, cx+1)
			x10, y10 := g.NodeLonLat(cy+1, cx)
			x11, y11 := g.NodeLonLat(cy+1, cx+1)
			rlon := (1-eta)*(1-xsi)*x00 + (1-eta)*xsi*x01 + eta*(1-xsi)*x10 + eta*xsi*x11
			rlat := (1-eta)*(1-xsi)*y00 + (1-eta)*xsi*y01 + eta*(1-xsi)*y10 + eta*xsi*y11
			if math.Abs(rlon-lon) > 1e-9 || math.Abs(rlat-lat) > 1e-9 {
				t.Errorf("node (%d,%d): bilinear recomposition (%v,%v), want (%v,%v)",
					yi, xi, rlon, rlat, lon, lat)
			}
		}
	}
}

func TestCurvilinearLocateInterior(t *testing.T) {
	g := skewedGrid(t)
	// Center of cell (1,1) in physical space.
	x00, y00 := g.NodeLonLat(1, 1)
	x11, y11 := g.NodeLonLat(2, 2)
	lon, lat := (x00+x11)/2, (y00+y11)/2

	yi, xi, eta, xsi, err := g.Locate("T", lat, lon)
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if yi != 1 || xi != 1 {
		t.Fatalf("Locate cell = (%d,%d), want (1,1)", yi, xi)
	}
	if math.Abs(eta-0.5) > 1e-6 || math.Abs(xsi-0.5) > 1e-6 {
		t.Errorf("offsets = (%v,%v), want (0.5,0.5)", eta, xsi)
	}
}

func TestCurvilinearLocateOutside(t *testing.T) {
	g := skewedGrid(t)
	if _, _, _, _, err := g.Locate("T", -5, -5); err == nil {
		t.Error("point outside the mesh located without error")
	}
}

func TestCenterTreeNearest(t *testing.T) {
	g := skewedGrid(t)
	// The nearest cell center to a cell center is the cell itself.
	for yi := 0; yi < 3; yi++ {
		for xi := 0; xi < 3; xi++ {
			x00, y00 := g.NodeLonLat(yi, xi)
			x11, y11 := g.NodeLonLat(yi+1, xi+1)
			cy, cx := g.tree.nearest((x00+x11)/2, (y00+y11)/2)
			if cy != yi || cx != xi {
				t.Errorf("nearest(center of %d,%d) = (%d,%d)", yi, xi, cy, cx)
			}
		}
	}
}

func TestCGridFaceInterpolation(t *testing.T) {
	coords := []float64{0, 1, 2}
	g, err := NewRectilinearGrid(coords, coords, BoundaryError)
	if err != nil {
		t.Fatal(err)
	}
	// U varies along lon only, V along lat only; stored on faces.
	u := []float64{
		0, 1, 2,
		0, 1, 2,
		0, 1, 2,
	}
	v := []float64{
		0, 0, 0,
		5, 5, 5,
		10, 10, 10,
	}
	uf, err := New("U", u, nil, nil, g, Options{Units: Identity{}})
	if err != nil {
		t.Fatal(err)
	}
	vf, err := New("V", v, nil, nil, g, Options{Units: Identity{}})
	if err != nil {
		t.Fatal(err)
	}

	fs := NewFieldSet(MeshFlat)
	if err := fs.AddVelocity(uf, vf, true); err != nil {
		t.Fatal(err)
	}

	// At (lat 0.25, lon 0.5): u interpolates along xsi only (west face 0,
	// east face 1), v along eta only (south face 0, north face 5).
	uVal, vVal, err := fs.Velocity().Sample(0, 0, 0.25, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(uVal-0.5) > tol {
		t.Errorf("u = %v, want 0.5", uVal)
	}
	if math.Abs(vVal-1.25) > tol {
		t.Errorf("v = %v, want 1.25", vVal)
	}

	// Component queries through the set route through the face sampler.
	uOnly, err := fs.Sample("U", 0, 0, 0.25, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if uOnly != uVal {
		t.Errorf("FieldSet.Sample(U) = %v, want %v", uOnly, uVal)
	}
}

func TestSphericalVelocityUnits(t *testing.T) {
	coords := []float64{-1, 0, 1}
	g, err := NewRectilinearGrid(coords, coords, BoundaryClamp)
	if err != nil {
		t.Fatal(err)
	}
	ones := []float64{1, 1, 1, 1, 1, 1, 1, 1, 1}
	uf, _ := New("U", ones, nil, nil, g, Options{})
	vf, _ := New("V", ones, nil, nil, g, Options{})

	fs := NewFieldSet(MeshSpherical)
	if err := fs.AddVelocity(uf, vf, false); err != nil {
		t.Fatal(err)
	}

	// 1 m/s at the equator becomes 1/(1852*60) degrees/s in both components.
	u, v, err := fs.Velocity().Sample(0, 0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := 1.0 / (1852.0 * 60.0)
	if math.Abs(u-want) > 1e-18 || math.Abs(v-want) > 1e-18 {
		t.Errorf("velocity = (%v,%v), want (%v,%v)", u, v, want, want)
	}
}

func TestFieldSetLookup(t *testing.T) {
	coords := []float64{0, 1}
	g, _ := NewRectilinearGrid(coords, coords, BoundaryError)
	f, _ := New("T", []float64{1, 2, 3, 4}, nil, nil, g, Options{})

	fs := NewFieldSet(MeshFlat)
	if err := fs.Add(f); err != nil {
		t.Fatal(err)
	}
	if err := fs.Add(f); err == nil {
		t.Error("duplicate field name accepted")
	}
	if _, err := fs.Sample("S", 0, 0, 0, 0); err == nil {
		t.Error("unknown field sampled without error")
	}
	if _, ok := fs.Field("T"); !ok {
		t.Error("registered field not found")
	}
}
