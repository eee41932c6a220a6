package kernel

import (
	"fmt"

	"github.com/pthm-cable/drift/particle"
)

// The compiled backend lowers chain IR into a tree of closures built once
// and invoked directly per particle per step, avoiding per-node dispatch in
// the hot loop.

type control uint8

const (
	ctlNext control = iota
	ctlBreak
)

type stmtFunc func(c *ctx) (control, error)
type exprFunc func(c *ctx) (float64, error)

// CompiledChain is a cached, directly callable unit derived from a chain's
// generated source. Built once per distinct source, shared for the process
// lifetime across particle sets using the same chain.
type CompiledChain struct {
	name    string
	hash    string
	kernels []compiledKernel
	locals  int
}

type compiledKernel struct {
	name    string
	nLocals int
	fn      stmtFunc
}

// Hash returns the content hash of the generated source this unit was built
// from.
func (cc *CompiledChain) Hash() string { return cc.hash }

// Compile lowers every kernel of the chain into closures. Validated IR
// always compiles; a failure here is an internal invariant violation and is
// surfaced by the loader as a BuildError.
func Compile(chain *Chain) (*CompiledChain, error) {
	cc := &CompiledChain{name: chain.Name(), locals: chain.maxLocals()}
	for _, k := range chain.Kernels {
		fn, err := compileBlock(k.Body)
		if err != nil {
			return nil, fmt.Errorf("kernel %s: %w", k.Name, err)
		}
		cc.kernels = append(cc.kernels, compiledKernel{name: k.Name, nLocals: k.NLocals, fn: fn})
	}
	return cc, nil
}

// Evaluate implements Backend.
func (cc *CompiledChain) Evaluate(env *EvalEnv, ps *particle.Set, rows []int, out []Result) {
	locals := make([]float64, cc.locals)
	c := &ctx{env: env, ps: ps}
	for i, row := range rows {
		c.row = row
		c.deltas = Deltas{}
		c.del = false

		var err error
		for _, k := range cc.kernels {
			c.locals = locals[:k.nLocals]
			clear(c.locals)
			if _, err = k.fn(c); err != nil {
				break
			}
		}
		out[i] = Result{Deltas: c.deltas, Delete: c.del, Err: err}
	}
}

func compileBlock(b *Block) (stmtFunc, error) {
	fns := make([]stmtFunc, len(b.Stmts))
	for i, s := range b.Stmts {
		fn, err := compileStmt(s)
		if err != nil {
			return nil, err
		}
		fns[i] = fn
	}
	return func(c *ctx) (control, error) {
		for _, fn := range fns {
			ctl, err := fn(c)
			if err != nil || ctl == ctlBreak {
				return ctl, err
			}
		}
		return ctlNext, nil
	}, nil
}

func compileStmt(s Stmt) (stmtFunc, error) {
	switch s := s.(type) {
	case *Assign:
		return compileAssign(s)

	case *If:
		cond, err := compileExpr(s.Cond)
		if err != nil {
			return nil, err
		}
		then, err := compileBlock(s.Then)
		if err != nil {
			return nil, err
		}
		var els stmtFunc
		if s.Else != nil {
			if els, err = compileBlock(s.Else); err != nil {
				return nil, err
			}
		}
		return func(c *ctx) (control, error) {
			v, err := cond(c)
			if err != nil {
				return ctlNext, err
			}
			if truthy(v) {
				return then(c)
			}
			if els != nil {
				return els(c)
			}
			return ctlNext, nil
		}, nil

	case *While:
		cond, err := compileExpr(s.Cond)
		if err != nil {
			return nil, err
		}
		body, err := compileBlock(s.Body)
		if err != nil {
			return nil, err
		}
		return func(c *ctx) (control, error) {
			for {
				v, err := cond(c)
				if err != nil {
					return ctlNext, err
				}
				if !truthy(v) {
					return ctlNext, nil
				}
				ctl, err := body(c)
				if err != nil {
					return ctlNext, err
				}
				if ctl == ctlBreak {
					return ctlNext, nil
				}
			}
		}, nil

	case *Break:
		return func(*ctx) (control, error) { return ctlBreak, nil }, nil

	case *Print:
		args, err := compileExprs(s.Args)
		if err != nil {
			return nil, err
		}
		format := s.Format
		return func(c *ctx) (control, error) {
			vals := make([]any, len(args))
			for i, a := range args {
				v, err := a(c)
				if err != nil {
					return ctlNext, err
				}
				vals[i] = v
			}
			fmt.Fprintf(c.env.printWriter(), format+"\n", vals...)
			return ctlNext, nil
		}, nil

	case *DeleteParticle:
		return func(c *ctx) (control, error) {
			c.del = true
			return ctlNext, nil
		}, nil

	default:
		return nil, fmt.Errorf("unexpected statement node %T", s)
	}
}

func compileAssign(s *Assign) (stmtFunc, error) {
	value, err := compileExpr(s.Value)
	if err != nil {
		return nil, err
	}
	target := s.Target
	op := s.Op

	switch target.Kind {
	case RefDelta:
		axis := DeltaAxis(target.Slot)
		neg := op == OpSub
		return func(c *ctx) (control, error) {
			v, err := value(c)
			if err != nil {
				return ctlNext, err
			}
			if neg {
				v = -v
			}
			c.addDelta(axis, v)
			return ctlNext, nil
		}, nil

	case RefLocal:
		slot := target.Slot
		return func(c *ctx) (control, error) {
			v, err := value(c)
			if err != nil {
				return ctlNext, err
			}
			c.locals[slot] = applyOp(op, c.locals[slot], v)
			return ctlNext, nil
		}, nil

	case RefUserVar:
		slot := target.Slot
		return func(c *ctx) (control, error) {
			v, err := value(c)
			if err != nil {
				return ctlNext, err
			}
			col := c.ps.VarByIndex(slot)
			col[c.row] = applyOp(op, col[c.row], v)
			return ctlNext, nil
		}, nil
	}
	return nil, fmt.Errorf("unexpected assignment target kind %d", target.Kind)
}

func applyOp(op AssignOp, old, v float64) float64 {
	switch op {
	case OpSet:
		return v
	case OpAdd:
		return old + v
	case OpSub:
		return old - v
	case OpMul:
		return old * v
	default:
		return old / v
	}
}

func compileExprs(list []Expr) ([]exprFunc, error) {
	fns := make([]exprFunc, len(list))
	for i, e := range list {
		fn, err := compileExpr(e)
		if err != nil {
			return nil, err
		}
		fns[i] = fn
	}
	return fns, nil
}

func compileExpr(e Expr) (exprFunc, error) {
	switch e := e.(type) {
	case *Num:
		v := e.Val
		return func(*ctx) (float64, error) { return v, nil }, nil

	case *LoadLocal:
		slot := e.Slot
		return func(c *ctx) (float64, error) { return c.locals[slot], nil }, nil

	case *LoadVar:
		slot := e.Slot
		return func(c *ctx) (float64, error) { return c.ps.VarByIndex(slot)[c.row], nil }, nil

	case *LoadAttr:
		a := e.Attr
		return func(c *ctx) (float64, error) { return c.attr(a), nil }, nil

	case *Binary:
		return compileBinary(e)

	case *Unary:
		x, err := compileExpr(e.X)
		if err != nil {
			return nil, err
		}
		if e.Neg {
			return func(c *ctx) (float64, error) {
				v, err := x(c)
				return -v, err
			}, nil
		}
		return func(c *ctx) (float64, error) {
			v, err := x(c)
			if err != nil {
				return 0, err
			}
			if truthy(v) {
				return 0, nil
			}
			return 1, nil
		}, nil

	case *Call:
		b := mathBuiltins[e.Fn]
		args, err := compileExprs(e.Args)
		if err != nil {
			return nil, err
		}
		return func(c *ctx) (float64, error) {
			vals := make([]float64, len(args))
			for i, a := range args {
				v, err := a(c)
				if err != nil {
					return 0, err
				}
				vals[i] = v
			}
			return b.fn(vals), nil
		}, nil

	case *RandCall:
		fn := e.Fn
		args, err := compileExprs(e.Args)
		if err != nil {
			return nil, err
		}
		return func(c *ctx) (float64, error) {
			vals := make([]float64, len(args))
			for i, a := range args {
				v, err := a(c)
				if err != nil {
					return 0, err
				}
				vals[i] = v
			}
			return evalRand(fn, c.env.Rand, vals), nil
		}, nil

	case *Sample:
		name := e.Field
		if e.T == nil {
			return func(c *ctx) (float64, error) { return c.sampleHere(name) }, nil
		}
		coords, err := compileExprs([]Expr{e.T, e.Z, e.Y, e.X})
		if err != nil {
			return nil, err
		}
		return func(c *ctx) (float64, error) {
			var tzyx [4]float64
			for i, fn := range coords {
				v, err := fn(c)
				if err != nil {
					return 0, err
				}
				tzyx[i] = v
			}
			return c.env.Fields.Sample(name, tzyx[0], tzyx[1], tzyx[2], tzyx[3])
		}, nil

	default:
		return nil, fmt.Errorf("unexpected expression node %T", e)
	}
}

func compileBinary(e *Binary) (exprFunc, error) {
	l, err := compileExpr(e.L)
	if err != nil {
		return nil, err
	}
	r, err := compileExpr(e.R)
	if err != nil {
		return nil, err
	}

	// Short-circuit connectives evaluate the right side conditionally, which
	// matters for random-draw ordering equivalence with the interpreter.
	switch e.Op {
	case OpAnd:
		return func(c *ctx) (float64, error) {
			lv, err := l(c)
			if err != nil || !truthy(lv) {
				return 0, err
			}
			rv, err := r(c)
			if err != nil {
				return 0, err
			}
			return boolVal(truthy(rv)), nil
		}, nil
	case OpOr:
		return func(c *ctx) (float64, error) {
			lv, err := l(c)
			if err != nil {
				return 0, err
			}
			if truthy(lv) {
				return 1, nil
			}
			rv, err := r(c)
			if err != nil {
				return 0, err
			}
			return boolVal(truthy(rv)), nil
		}, nil
	}

	op := e.Op
	return func(c *ctx) (float64, error) {
		lv, err := l(c)
		if err != nil {
			return 0, err
		}
		rv, err := r(c)
		if err != nil {
			return 0, err
		}
		return applyBinOp(op, lv, rv), nil
	}, nil
}

func applyBinOp(op BinOp, l, r float64) float64 {
	switch op {
	case OpAddBin:
		return l + r
	case OpSubBin:
		return l - r
	case OpMulBin:
		return l * r
	case OpDivBin:
		return l / r
	case OpLT:
		return boolVal(l < r)
	case OpLE:
		return boolVal(l <= r)
	case OpGT:
		return boolVal(l > r)
	case OpGE:
		return boolVal(l >= r)
	case OpEQ:
		return boolVal(l == r)
	default:
		return boolVal(l != r)
	}
}

func boolVal(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
