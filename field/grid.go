package field

import (
	"fmt"
	"math"
	"sort"
)

// Mesh describes how horizontal coordinates are interpreted.
type Mesh int

const (
	// MeshFlat treats lon/lat as planar meters.
	MeshFlat Mesh = iota
	// MeshSpherical treats lon/lat as degrees on the sphere; velocity
	// fields get geographic unit conversion.
	MeshSpherical
)

// ParseMesh maps a config string to a Mesh.
func ParseMesh(s string) (Mesh, error) {
	switch s {
	case "flat":
		return MeshFlat, nil
	case "spherical":
		return MeshSpherical, nil
	}
	return 0, fmt.Errorf("field: unknown mesh %q", s)
}

// Grid locates horizontal sample positions within a spatial mesh.
// Implementations are immutable after construction and safe for concurrent
// lookups.
type Grid interface {
	// Dims returns the node counts (ny, nx).
	Dims() (ny, nx int)
	// Locate resolves (lat, lon) to a cell (yi, xi) with fractional
	// offsets eta (lat direction) and xsi (lon direction) in [0, 1].
	Locate(fieldName string, lat, lon float64) (yi, xi int, eta, xsi float64, err error)
	// NodeLonLat returns the position of node (yi, xi).
	NodeLonLat(yi, xi int) (lon, lat float64)
	// NextX returns the x-index of the node east of xi, honoring periodic wrap.
	NextX(xi int) int
}

// RectilinearGrid is an axis-aligned grid with independent lat and lon axes.
type RectilinearGrid struct {
	Lat *Axis
	Lon *Axis
}

// NewRectilinearGrid builds a rectilinear grid from coordinate arrays.
// The boundary policy applies to both horizontal axes, except that periodic
// wrapping is only ever applied to longitude.
func NewRectilinearGrid(lats, lons []float64, boundary Boundary) (*RectilinearGrid, error) {
	latBoundary := boundary
	if latBoundary == BoundaryPeriodic {
		latBoundary = BoundaryClamp
	}
	lat, err := NewAxis(lats, latBoundary)
	if err != nil {
		return nil, fmt.Errorf("lat: %w", err)
	}
	lon, err := NewAxis(lons, boundary)
	if err != nil {
		return nil, fmt.Errorf("lon: %w", err)
	}
	return &RectilinearGrid{Lat: lat, Lon: lon}, nil
}

func (g *RectilinearGrid) Dims() (int, int) { return g.Lat.Len(), g.Lon.Len() }

func (g *RectilinearGrid) Locate(fieldName string, lat, lon float64) (int, int, float64, float64, error) {
	yi, eta, err := g.Lat.Locate(fieldName, "lat", lat)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	xi, xsi, err := g.Lon.Locate(fieldName, "lon", lon)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	return yi, xi, eta, xsi, nil
}

func (g *RectilinearGrid) NodeLonLat(yi, xi int) (float64, float64) {
	return g.Lon.Coords[xi], g.Lat.Coords[yi]
}

func (g *RectilinearGrid) NextX(xi int) int {
	if g.Lon.Boundary == BoundaryPeriodic {
		return (xi + 1) % g.Lon.Len()
	}
	next := xi + 1
	if next > g.Lon.Len()-1 {
		next = g.Lon.Len() - 1
	}
	return next
}

// CurvilinearGrid is an irregular spatial mesh with 2D node position arrays.
// Cell search goes through a k-d tree over cell centers followed by a local
// walk, then an inverse bilinear solve for the in-cell offsets.
type CurvilinearGrid struct {
	// LonNodes and LatNodes are ny*nx node positions, row-major.
	LonNodes []float64
	LatNodes []float64
	ny, nx   int

	tree *centerTree
}

// NewCurvilinearGrid builds a curvilinear grid from node position arrays.
func NewCurvilinearGrid(latNodes, lonNodes []float64, ny, nx int) (*CurvilinearGrid, error) {
	if ny < 2 || nx < 2 {
		return nil, fmt.Errorf("field: curvilinear grid needs at least 2x2 nodes, got %dx%d", ny, nx)
	}
	if len(lonNodes) != ny*nx || len(latNodes) != ny*nx {
		return nil, fmt.Errorf("field: curvilinear node arrays must be %d long, got %d/%d",
			ny*nx, len(latNodes), len(lonNodes))
	}
	g := &CurvilinearGrid{LonNodes: lonNodes, LatNodes: latNodes, ny: ny, nx: nx}
	g.tree = buildCenterTree(g)
	return g, nil
}

func (g *CurvilinearGrid) Dims() (int, int) { return g.ny, g.nx }

func (g *CurvilinearGrid) NodeLonLat(yi, xi int) (float64, float64) {
	i := yi*g.nx + xi
	return g.LonNodes[i], g.LatNodes[i]
}

func (g *CurvilinearGrid) NextX(xi int) int {
	next := xi + 1
	if next > g.nx-1 {
		next = g.nx - 1
	}
	return next
}

// Locate finds the enclosing quadrilateral by walking from the cell whose
// center is nearest the query point, then inverts the bilinear map to get
// (eta, xsi). Queries outside the mesh fail with an OutOfBoundsError.
func (g *CurvilinearGrid) Locate(fieldName string, lat, lon float64) (int, int, float64, float64, error) {
	yi, xi := g.tree.nearest(lon, lat)

	// Walk toward the query point. The inverse bilinear solve on the
	// candidate cell tells us which neighbor to try next when the point
	// lies outside it.
	for step := 0; step < g.ny+g.nx; step++ {
		eta, xsi, ok := g.invertCell(yi, xi, lon, lat)
		if ok && eta >= -1e-12 && eta <= 1+1e-12 && xsi >= -1e-12 && xsi <= 1+1e-12 {
			return yi, xi, clamp01(eta), clamp01(xsi), nil
		}
		moved := false
		if ok {
			if xsi > 1 && xi < g.nx-2 {
				xi++
				moved = true
			} else if xsi < 0 && xi > 0 {
				xi--
				moved = true
			}
			if eta > 1 && yi < g.ny-2 {
				yi++
				moved = true
			} else if eta < 0 && yi > 0 {
				yi--
				moved = true
			}
		}
		if !moved {
			break
		}
	}
	return 0, 0, 0, 0, &OutOfBoundsError{
		Field: fieldName, Axis: "lon/lat", Value: lon,
		Min: math.NaN(), Max: math.NaN(),
	}
}

// invertCell solves the inverse bilinear map of cell (yi, xi) for the query
// point by Newton iteration. ok is false when the cell is degenerate.
func (g *CurvilinearGrid) invertCell(yi, xi int, lon, lat float64) (eta, xsi float64, ok bool) {
	x00, y00 := g.NodeLonLat(yi, xi)
	x01, y01 := g.NodeLonLat(yi, xi+1)
	x10, y10 := g.NodeLonLat(yi+1, xi)
	x11, y11 := g.NodeLonLat(yi+1, xi+1)

	eta, xsi = 0.5, 0.5
	for it := 0; it < 10; it++ {
		// Bilinear map and its Jacobian at (eta, xsi).
		fx := (1-eta)*(1-xsi)*x00 + (1-eta)*xsi*x01 + eta*(1-xsi)*x10 + eta*xsi*x11 - lon
		fy := (1-eta)*(1-xsi)*y00 + (1-eta)*xsi*y01 + eta*(1-xsi)*y10 + eta*xsi*y11 - lat

		dxdxsi := (1-eta)*(x01-x00) + eta*(x11-x10)
		dxdeta := (1-xsi)*(x10-x00) + xsi*(x11-x01)
		dydxsi := (1-eta)*(y01-y00) + eta*(y11-y10)
		dydeta := (1-xsi)*(y10-y00) + xsi*(y11-y01)

		det := dxdxsi*dydeta - dxdeta*dydxsi
		if math.Abs(det) < 1e-18 {
			return 0, 0, false
		}
		dxsi := (fx*dydeta - fy*dxdeta) / det
		deta := (fy*dxdxsi - fx*dydxsi) / det
		xsi -= dxsi
		eta -= deta
		if math.Abs(dxsi) < 1e-12 && math.Abs(deta) < 1e-12 {
			break
		}
	}
	return eta, xsi, true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// centerTree is a static 2-d tree over cell centers, built once at grid
// construction and read-only afterwards.
type centerTree struct {
	// Nodes stored as an implicit median-split tree over index slices.
	idx  []int // cell index = yi*(nx-1) + xi
	lons []float64
	lats []float64
	ncx  int
}

func buildCenterTree(g *CurvilinearGrid) *centerTree {
	ncy, ncx := g.ny-1, g.nx-1
	t := &centerTree{
		idx:  make([]int, ncy*ncx),
		lons: make([]float64, ncy*ncx),
		lats: make([]float64, ncy*ncx),
		ncx:  ncx,
	}
	for yi := 0; yi < ncy; yi++ {
		for xi := 0; xi < ncx; xi++ {
			c := yi*ncx + xi
			x00, y00 := g.NodeLonLat(yi, xi)
			x11, y11 := g.NodeLonLat(yi+1, xi+1)
			t.idx[c] = c
			t.lons[c] = (x00 + x11) / 2
			t.lats[c] = (y00 + y11) / 2
		}
	}
	t.build(0, len(t.idx), 0)
	return t
}

// build recursively median-splits idx[lo:hi] on alternating axes.
func (t *centerTree) build(lo, hi, depth int) {
	if hi-lo <= 1 {
		return
	}
	byLon := depth%2 == 0
	sub := t.idx[lo:hi]
	sort.Slice(sub, func(a, b int) bool {
		if byLon {
			return t.lons[sub[a]] < t.lons[sub[b]]
		}
		return t.lats[sub[a]] < t.lats[sub[b]]
	})
	mid := (lo + hi) / 2
	t.build(lo, mid, depth+1)
	t.build(mid+1, hi, depth+1)
}

// nearest returns the (yi, xi) cell whose center is closest to the query.
func (t *centerTree) nearest(lon, lat float64) (int, int) {
	best, bestDist := -1, math.Inf(1)
	var walk func(lo, hi, depth int)
	walk = func(lo, hi, depth int) {
		if lo >= hi {
			return
		}
		mid := (lo + hi) / 2
		c := t.idx[mid]
		dx, dy := t.lons[c]-lon, t.lats[c]-lat
		if d := dx*dx + dy*dy; d < bestDist {
			bestDist, best = d, c
		}
		var delta float64
		if depth%2 == 0 {
			delta = lon - t.lons[c]
		} else {
			delta = lat - t.lats[c]
		}
		near, far := lo, mid+1
		if delta > 0 {
			near, far = mid+1, lo
		}
		nearHi, farHi := mid, hi
		if near == mid+1 {
			nearHi, farHi = hi, mid
		}
		walk(near, nearHi, depth+1)
		if delta*delta < bestDist {
			walk(far, farHi, depth+1)
		}
	}
	walk(0, len(t.idx), 0)
	return best / t.ncx, best % t.ncx
}
