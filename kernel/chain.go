package kernel

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"strings"

	"github.com/pthm-cable/drift/field"
	"github.com/pthm-cable/drift/particle"
)

// Chain is an ordered sequence of kernels executed as one unit per particle
// per step. Ordering is a user contract: all kernels in the chain observe
// the same committed particle position, and their delta contributions sum
// before a single commit.
type Chain struct {
	Kernels []*Kernel
}

// NewChain builds a chain from kernels in execution order.
func NewChain(kernels ...*Kernel) (*Chain, error) {
	if len(kernels) == 0 {
		return nil, fmt.Errorf("kernel: empty chain")
	}
	return &Chain{Kernels: kernels}, nil
}

// Name returns the chain's display name, kernel names joined by "+".
func (c *Chain) Name() string {
	names := make([]string, len(c.Kernels))
	for i, k := range c.Kernels {
		names[i] = k.Name
	}
	return strings.Join(names, "+")
}

// GeneratedSource renders the chain's IR in canonical form. Identical chain
// input yields byte-identical output; the compiled-artifact cache is keyed
// by this text's content hash.
func (c *Chain) GeneratedSource() string {
	var sb strings.Builder
	for _, k := range c.Kernels {
		fmt.Fprintf(&sb, "kernel %s locals=%d ", k.Name, k.NLocals)
		k.Body.printTo(&sb)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// maxLocals returns the widest per-kernel local frame in the chain.
func (c *Chain) maxLocals() int {
	max := 0
	for _, k := range c.Kernels {
		if k.NLocals > max {
			max = k.NLocals
		}
	}
	return max
}

// Deltas are the per-step staging accumulators for position change. They
// commit atomically after the whole chain runs.
type Deltas struct {
	Lon   float64
	Lat   float64
	Depth float64
}

// Result is the outcome of one chain invocation for one particle.
type Result struct {
	Deltas Deltas
	Delete bool  // particle.delete() was called
	Err    error // sampling or state error; deltas must be discarded
}

// EvalEnv carries the run-scoped collaborators a chain invocation needs:
// the field set, the seeded random source, and the print destination.
type EvalEnv struct {
	Fields *field.FieldSet
	Rand   *rand.Rand
	Print  io.Writer // nil = os.Stdout
}

func (e *EvalEnv) printWriter() io.Writer {
	if e.Print != nil {
		return e.Print
	}
	return os.Stdout
}

// Backend evaluates a chain against a particle batch. The two
// implementations (compiled closures and the tree-walking interpreter) must
// produce numerically equivalent results for any valid chain.
type Backend interface {
	// Evaluate runs the chain once per listed row, writing one Result per
	// row. Rows are evaluated in order; evaluation of one row never touches
	// another row's state.
	Evaluate(env *EvalEnv, ps *particle.Set, rows []int, out []Result)
}

// ctx is the per-invocation evaluation state shared by both backends.
type ctx struct {
	env    *EvalEnv
	ps     *particle.Set
	row    int
	deltas Deltas
	del    bool
	locals []float64
}

func (c *ctx) attr(a Attr) float64 {
	switch a {
	case AttrLon:
		return c.ps.Lon[c.row]
	case AttrLat:
		return c.ps.Lat[c.row]
	case AttrDepth:
		return c.ps.Depth[c.row]
	case AttrTime:
		return c.ps.Time[c.row]
	default:
		return c.ps.DT[c.row]
	}
}

func (c *ctx) addDelta(axis DeltaAxis, v float64) {
	switch axis {
	case DeltaLon:
		c.deltas.Lon += v
	case DeltaLat:
		c.deltas.Lat += v
	default:
		c.deltas.Depth += v
	}
}

// sampleHere answers the particle-shorthand form field[particle].
func (c *ctx) sampleHere(name string) (float64, error) {
	return c.env.Fields.Sample(name,
		c.ps.Time[c.row], c.ps.Depth[c.row], c.ps.Lat[c.row], c.ps.Lon[c.row])
}

func truthy(v float64) bool { return v != 0 }
