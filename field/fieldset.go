package field

import (
	"fmt"
	"math"
)

// VectorField pairs zonal and meridional velocity components. When CGrid is
// set the components live on staggered cell faces: U on east/west faces
// (interpolated along xsi only) and V on north/south faces (interpolated
// along eta only), with a rotation to geographic east/north when the mesh's
// local axes are not aligned with the sphere's.
type VectorField struct {
	Name  string
	U, V  *Field
	CGrid bool
}

// Sample interpolates both velocity components at a point. Unit conversion
// is applied after any staggered-mesh rotation.
func (vf *VectorField) Sample(t, depth, lat, lon float64) (float64, float64, error) {
	if !vf.CGrid {
		u, err := vf.U.Sample(t, depth, lat, lon)
		if err != nil {
			return 0, 0, err
		}
		v, err := vf.V.Sample(t, depth, lat, lon)
		if err != nil {
			return 0, 0, err
		}
		return u, v, nil
	}

	yi, xi, eta, xsi, err := vf.U.Grid.Locate(vf.U.Name, lat, lon)
	if err != nil {
		return 0, 0, err
	}
	xi2 := vf.U.Grid.NextX(xi)
	ny, _ := vf.U.Grid.Dims()
	yi2 := yi + 1
	if yi2 > ny-1 {
		yi2 = ny - 1
	}

	uw, err := vf.U.nodeValue(t, depth, yi, xi)
	if err != nil {
		return 0, 0, err
	}
	ue, err := vf.U.nodeValue(t, depth, yi, xi2)
	if err != nil {
		return 0, 0, err
	}
	vs, err := vf.V.nodeValue(t, depth, yi, xi)
	if err != nil {
		return 0, 0, err
	}
	vn, err := vf.V.nodeValue(t, depth, yi2, xi)
	if err != nil {
		return 0, 0, err
	}

	u := (1-xsi)*uw + xsi*ue
	v := (1-eta)*vs + eta*vn

	// Rotate to geographic east/north when the grid's local x-axis is not
	// aligned with a parallel.
	if theta := gridAngle(vf.U.Grid, yi, xi); theta != 0 {
		cosT, sinT := math.Cos(theta), math.Sin(theta)
		u, v = u*cosT-v*sinT, u*sinT+v*cosT
	}

	return vf.U.Units.ToTarget(u, depth, lat, lon), vf.V.Units.ToTarget(v, depth, lat, lon), nil
}

// gridAngle returns the angle between the local x-direction of cell (yi, xi)
// and geographic east. Rectilinear grids are axis-aligned by construction.
func gridAngle(g Grid, yi, xi int) float64 {
	cg, ok := g.(*CurvilinearGrid)
	if !ok {
		return 0
	}
	x0, y0 := cg.NodeLonLat(yi, xi)
	x1, y1 := cg.NodeLonLat(yi, xi+1)
	dlon := (x1 - x0) * math.Cos(y0*math.Pi/180)
	return math.Atan2(y1-y0, dlon)
}

// FieldSet is a named, immutable mapping of fields plus at most one
// registered velocity pair.
type FieldSet struct {
	Mesh     Mesh
	fields   map[string]*Field
	velocity *VectorField
}

// NewFieldSet creates an empty field set on the given mesh.
func NewFieldSet(mesh Mesh) *FieldSet {
	return &FieldSet{Mesh: mesh, fields: make(map[string]*Field)}
}

// Add registers a field under its name.
func (fs *FieldSet) Add(f *Field) error {
	if _, ok := fs.fields[f.Name]; ok {
		return fmt.Errorf("field: duplicate field %q", f.Name)
	}
	fs.fields[f.Name] = f
	return nil
}

// AddVelocity registers the velocity component pair. On a spherical mesh the
// components get geographic unit conversion (m/s to degrees/s) unless they
// already carry a converter.
func (fs *FieldSet) AddVelocity(u, v *Field, cgrid bool) error {
	if fs.velocity != nil {
		return fmt.Errorf("field: velocity pair already registered")
	}
	if err := fs.Add(u); err != nil {
		return err
	}
	if err := fs.Add(v); err != nil {
		return err
	}
	if fs.Mesh == MeshSpherical {
		if _, ok := u.Units.(Identity); ok {
			u.Units = GeographicPolar{}
		}
		if _, ok := v.Units.(Identity); ok {
			v.Units = Geographic{}
		}
	}
	fs.velocity = &VectorField{Name: "UV", U: u, V: v, CGrid: cgrid}
	return nil
}

// Field looks up a field by name.
func (fs *FieldSet) Field(name string) (*Field, bool) {
	f, ok := fs.fields[name]
	return f, ok
}

// Velocity returns the registered velocity pair, or nil.
func (fs *FieldSet) Velocity() *VectorField { return fs.velocity }

// Sample answers a point query for the named field. Velocity components on a
// staggered mesh are routed through the vector sampler so that individual
// component queries still see face interpolation and rotation.
func (fs *FieldSet) Sample(name string, t, depth, lat, lon float64) (float64, error) {
	if fs.velocity != nil && fs.velocity.CGrid {
		if name == fs.velocity.U.Name || name == fs.velocity.V.Name {
			u, v, err := fs.velocity.Sample(t, depth, lat, lon)
			if err != nil {
				return 0, err
			}
			if name == fs.velocity.U.Name {
				return u, nil
			}
			return v, nil
		}
	}
	f, ok := fs.fields[name]
	if !ok {
		return 0, fmt.Errorf("field: unknown field %q", name)
	}
	return f.Sample(t, depth, lat, lon)
}

// Names returns the registered field names.
func (fs *FieldSet) Names() []string {
	names := make([]string, 0, len(fs.fields))
	for name := range fs.fields {
		names = append(names, name)
	}
	return names
}
