package kernel

import (
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/pthm-cable/drift/field"
	"github.com/pthm-cable/drift/particle"
)

// testFieldSet builds a flat-mesh field set where U = lon, V = lat and
// T = lat*10 + lon on a 5x5 unit grid.
func testFieldSet(t *testing.T) *field.FieldSet {
	t.Helper()
	coords := []float64{0, 1, 2, 3, 4}
	g, err := field.NewRectilinearGrid(coords, coords, field.BoundaryError)
	if err != nil {
		t.Fatal(err)
	}
	u := make([]float64, 25)
	v := make([]float64, 25)
	tt := make([]float64, 25)
	for yi := 0; yi < 5; yi++ {
		for xi := 0; xi < 5; xi++ {
			u[yi*5+xi] = float64(xi)
			v[yi*5+xi] = float64(yi)
			tt[yi*5+xi] = float64(yi*10 + xi)
		}
	}
	mk := func(name string, data []float64) *field.Field {
		f, err := field.New(name, data, nil, nil, g, field.Options{})
		if err != nil {
			t.Fatal(err)
		}
		return f
	}
	fs := field.NewFieldSet(field.MeshFlat)
	if err := fs.AddVelocity(mk("U", u), mk("V", v), false); err != nil {
		t.Fatal(err)
	}
	if err := fs.Add(mk("T", tt)); err != nil {
		t.Fatal(err)
	}
	return fs
}

func testSet(t *testing.T, schema *particle.Schema, lons, lats []float64) *particle.Set {
	t.Helper()
	ps, err := particle.NewSet(schema, lons, lats, nil, nil, 1)
	if err != nil {
		t.Fatal(err)
	}
	return ps
}

func evalChain(t *testing.T, b Backend, env *EvalEnv, ps *particle.Set) []Result {
	t.Helper()
	rows := make([]int, ps.Len())
	for i := range rows {
		rows[i] = i
	}
	out := make([]Result, len(rows))
	b.Evaluate(env, ps, rows, out)
	return out
}

func TestCompiledInterpreterEquivalence(t *testing.T) {
	schema, err := particle.NewSchema(particle.Variable{Name: "age", Type: particle.Float64})
	if err != nil {
		t.Fatal(err)
	}
	src := `func Mix(particle, fieldset, time) {
	s := fieldset.U[particle] + fieldset.T[particle] * 0.01
	n := 0.0
	for n < 3 {
		s += rand.uniform(-1, 1) * 0.1
		n += 1
	}
	if s > 0.5 && rand.random() < 0.9 {
		particle.dlon += s * 0.01
	} else {
		particle.dlat -= s * 0.01
	}
	particle.ddepth += pow(fabs(s), 1.5)
	particle.age += rand.normal(0, 1)
}`
	chain, err := NewChain(MustParse(src, schema))
	if err != nil {
		t.Fatal(err)
	}
	compiled, err := EnsureCompiled(chain)
	if err != nil {
		t.Fatal(err)
	}
	interp := NewInterpreter(chain)

	lons := []float64{0.5, 1.5, 2.5, 3.1}
	lats := []float64{0.5, 2.5, 1.0, 3.9}

	fs := testFieldSet(t)
	psA := testSet(t, schema, lons, lats)
	psB := testSet(t, schema, lons, lats)

	outA := evalChain(t, compiled, &EvalEnv{Fields: fs, Rand: rand.New(rand.NewSource(7))}, psA)
	outB := evalChain(t, interp, &EvalEnv{Fields: fs, Rand: rand.New(rand.NewSource(7))}, psB)

	for i := range outA {
		if outA[i].Err != nil || outB[i].Err != nil {
			t.Fatalf("row %d errored: %v / %v", i, outA[i].Err, outB[i].Err)
		}
		if outA[i].Deltas != outB[i].Deltas {
			t.Errorf("row %d deltas: compiled %+v, interpreted %+v", i, outA[i].Deltas, outB[i].Deltas)
		}
		ageA, _ := psA.Var("age")
		ageB, _ := psB.Var("age")
		if ageA[i] != ageB[i] {
			t.Errorf("row %d age: compiled %v, interpreted %v", i, ageA[i], ageB[i])
		}
	}
}

func TestDeltaAccumulationLeavesPositionUntouched(t *testing.T) {
	src := `func K(particle, fieldset, time) {
	particle.dlon += 0.5
	particle.dlon += 0.25
	particle.dlon -= 0.05
	particle.dlat -= 1.0
}`
	chain, _ := NewChain(MustParse(src, nil))
	for name, b := range testBackends(t, chain) {
		ps := testSet(t, nil, []float64{2}, []float64{2})
		out := evalChain(t, b, &EvalEnv{Fields: testFieldSet(t)}, ps)
		if out[0].Err != nil {
			t.Fatalf("%s: %v", name, out[0].Err)
		}
		if math.Abs(out[0].Deltas.Lon-0.7) > 1e-15 {
			t.Errorf("%s: dlon = %v, want 0.7", name, out[0].Deltas.Lon)
		}
		if out[0].Deltas.Lat != -1.0 {
			t.Errorf("%s: dlat = %v, want -1", name, out[0].Deltas.Lat)
		}
		// Evaluation stages deltas; positions commit elsewhere.
		if ps.Lon[0] != 2 || ps.Lat[0] != 2 {
			t.Errorf("%s: position mutated during evaluation: (%v,%v)", name, ps.Lon[0], ps.Lat[0])
		}
	}
}

func testBackends(t *testing.T, chain *Chain) map[string]Backend {
	t.Helper()
	compiled, err := EnsureCompiled(chain)
	if err != nil {
		t.Fatal(err)
	}
	return map[string]Backend{
		"compiled":    compiled,
		"interpreted": NewInterpreter(chain),
	}
}

func TestSampleShorthandMatchesExplicit(t *testing.T) {
	short := `func K(particle, fieldset, time) {
	particle.dlon += fieldset.T[particle]
}`
	long := `func K(particle, fieldset, time) {
	particle.dlon += fieldset.T[time, particle.depth, particle.lat, particle.lon]
}`
	cShort, _ := NewChain(MustParse(short, nil))
	cLong, _ := NewChain(MustParse(long, nil))
	fs := testFieldSet(t)

	psA := testSet(t, nil, []float64{1.5}, []float64{2.5})
	psB := testSet(t, nil, []float64{1.5}, []float64{2.5})
	outA := evalChain(t, NewInterpreter(cShort), &EvalEnv{Fields: fs}, psA)
	outB := evalChain(t, NewInterpreter(cLong), &EvalEnv{Fields: fs}, psB)
	if outA[0].Err != nil || outB[0].Err != nil {
		t.Fatal(outA[0].Err, outB[0].Err)
	}
	if outA[0].Deltas.Lon != outB[0].Deltas.Lon {
		t.Errorf("shorthand %v != explicit %v", outA[0].Deltas.Lon, outB[0].Deltas.Lon)
	}
}

func TestSampleErrorIsolation(t *testing.T) {
	src := `func K(particle, fieldset, time) {
	particle.dlon += fieldset.U[particle]
}`
	chain, _ := NewChain(MustParse(src, nil))
	for name, b := range testBackends(t, chain) {
		// Middle particle is outside the grid.
		ps := testSet(t, nil, []float64{1, 99, 2}, []float64{1, 1, 2})
		out := evalChain(t, b, &EvalEnv{Fields: testFieldSet(t)}, ps)
		if out[0].Err != nil || out[2].Err != nil {
			t.Errorf("%s: healthy rows errored: %v / %v", name, out[0].Err, out[2].Err)
		}
		if out[1].Err == nil {
			t.Errorf("%s: out-of-bounds row did not error", name)
		}
	}
}

func TestDeleteStatement(t *testing.T) {
	src := `func K(particle, fieldset, time) {
	if particle.lon > 2 {
		particle.delete()
	}
	particle.dlat += 1
}`
	chain, _ := NewChain(MustParse(src, nil))
	for name, b := range testBackends(t, chain) {
		ps := testSet(t, nil, []float64{1, 3}, []float64{1, 1})
		out := evalChain(t, b, &EvalEnv{Fields: testFieldSet(t)}, ps)
		if out[0].Delete {
			t.Errorf("%s: row 0 marked for delete", name)
		}
		if !out[1].Delete {
			t.Errorf("%s: row 1 not marked for delete", name)
		}
		// Statements after delete still run; the flag is inspected at commit.
		if out[1].Deltas.Lat != 1 {
			t.Errorf("%s: dlat after delete = %v, want 1", name, out[1].Deltas.Lat)
		}
	}
}

func TestPrintStatement(t *testing.T) {
	src := `func K(particle, fieldset, time) {
	print("pos %.1f %.1f", particle.lon, particle.lat)
}`
	chain, _ := NewChain(MustParse(src, nil))
	for name, b := range testBackends(t, chain) {
		var buf strings.Builder
		ps := testSet(t, nil, []float64{1.5}, []float64{2.5})
		evalChain(t, b, &EvalEnv{Fields: testFieldSet(t), Print: &buf}, ps)
		if got := buf.String(); got != "pos 1.5 2.5\n" {
			t.Errorf("%s: print output %q", name, got)
		}
	}
}

func TestRandDeterminism(t *testing.T) {
	src := `func K(particle, fieldset, time) {
	particle.dlon += rand.random()
	particle.dlat += rand.normal(0, 2)
	particle.ddepth += rand.uniform(10, 20)
}`
	chain, _ := NewChain(MustParse(src, nil))
	run := func(seed int64) []Result {
		ps := testSet(t, nil, []float64{1, 2, 3}, []float64{1, 2, 3})
		return evalChain(t, NewInterpreter(chain),
			&EvalEnv{Fields: testFieldSet(t), Rand: rand.New(rand.NewSource(seed))}, ps)
	}
	a, b := run(42), run(42)
	for i := range a {
		if a[i].Deltas != b[i].Deltas {
			t.Errorf("row %d: same seed produced %+v and %+v", i, a[i].Deltas, b[i].Deltas)
		}
	}
	c := run(43)
	same := true
	for i := range a {
		if a[i].Deltas != c[i].Deltas {
			same = false
		}
	}
	if same {
		t.Error("different seeds produced identical draws")
	}
	// Uniform bounds hold.
	for i := range a {
		if a[i].Deltas.Depth < 10 || a[i].Deltas.Depth >= 20 {
			t.Errorf("uniform(10,20) = %v out of range", a[i].Deltas.Depth)
		}
	}
}

func TestChainKernelsSeeCommittedPosition(t *testing.T) {
	schema, err := particle.NewSchema(particle.Variable{Name: "seen", Type: particle.Float64})
	if err != nil {
		t.Fatal(err)
	}
	first := `func First(particle, fieldset, time) {
	particle.dlon += 10
}`
	second := `func Second(particle, fieldset, time) {
	particle.seen = particle.lon
}`
	chain, err := NewChain(MustParse(first, schema), MustParse(second, schema))
	if err != nil {
		t.Fatal(err)
	}
	if chain.Name() != "First+Second" {
		t.Errorf("chain name = %q", chain.Name())
	}
	for name, b := range testBackends(t, chain) {
		ps := testSet(t, schema, []float64{2}, []float64{2})
		out := evalChain(t, b, &EvalEnv{Fields: testFieldSet(t)}, ps)
		if out[0].Err != nil {
			t.Fatal(out[0].Err)
		}
		seen, _ := ps.Var("seen")
		// The second kernel reads the committed position, not the staged one.
		if seen[0] != 2 {
			t.Errorf("%s: downstream kernel saw lon %v, want committed 2", name, seen[0])
		}
		if out[0].Deltas.Lon != 10 {
			t.Errorf("%s: chain deltas = %v, want 10", name, out[0].Deltas.Lon)
		}
	}
}

func TestCompileCacheSharing(t *testing.T) {
	ClearCache()
	src := `func K(particle, fieldset, time) {
	particle.dlon += 1
}`
	c1, _ := NewChain(MustParse(src, nil))
	c2, _ := NewChain(MustParse(src, nil))

	cc1, err := EnsureCompiled(c1)
	if err != nil {
		t.Fatal(err)
	}
	cc2, err := EnsureCompiled(c2)
	if err != nil {
		t.Fatal(err)
	}
	if cc1 != cc2 {
		t.Error("identical chains compiled to distinct units")
	}
	if CacheSize() != 1 {
		t.Errorf("cache size = %d, want 1", CacheSize())
	}
	if cc1.Hash() == "" {
		t.Error("compiled unit has no content hash")
	}

	other, _ := NewChain(MustParse(`func K(particle, fieldset, time) {
	particle.dlon += 2
}`, nil))
	if _, err := EnsureCompiled(other); err != nil {
		t.Fatal(err)
	}
	if CacheSize() != 2 {
		t.Errorf("cache size after distinct chain = %d, want 2", CacheSize())
	}
}

func TestAdvectionEEUniformFlow(t *testing.T) {
	// U = lon on the test grid; a particle at lon 2 moves by u*dt = 2*1.
	chain, _ := NewChain(MustParse(AdvectionEE, nil))
	for name, b := range testBackends(t, chain) {
		ps := testSet(t, nil, []float64{2}, []float64{3})
		out := evalChain(t, b, &EvalEnv{Fields: testFieldSet(t)}, ps)
		if out[0].Err != nil {
			t.Fatal(out[0].Err)
		}
		if math.Abs(out[0].Deltas.Lon-2) > 1e-12 {
			t.Errorf("%s: dlon = %v, want 2", name, out[0].Deltas.Lon)
		}
		if math.Abs(out[0].Deltas.Lat-3) > 1e-12 {
			t.Errorf("%s: dlat = %v, want 3", name, out[0].Deltas.Lat)
		}
	}
}
