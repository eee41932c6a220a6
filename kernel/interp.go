package kernel

import (
	"fmt"

	"github.com/pthm-cable/drift/particle"
)

// Interpreter is the non-compiled backend: it walks the same IR the compiler
// consumes, batched over all requested rows per call. Semantics match the
// compiled backend exactly, including evaluation order and random-draw
// consumption, so the two produce equivalent trajectories.
type Interpreter struct {
	chain  *Chain
	locals int
}

// NewInterpreter builds a tree-walking evaluator for a validated chain.
func NewInterpreter(chain *Chain) *Interpreter {
	return &Interpreter{chain: chain, locals: chain.maxLocals()}
}

// Evaluate implements Backend.
func (in *Interpreter) Evaluate(env *EvalEnv, ps *particle.Set, rows []int, out []Result) {
	locals := make([]float64, in.locals)
	c := &ctx{env: env, ps: ps}
	for i, row := range rows {
		c.row = row
		c.deltas = Deltas{}
		c.del = false

		var err error
		for _, k := range in.chain.Kernels {
			c.locals = locals[:k.NLocals]
			clear(c.locals)
			if _, err = evalBlock(k.Body, c); err != nil {
				break
			}
		}
		out[i] = Result{Deltas: c.deltas, Delete: c.del, Err: err}
	}
}

func evalBlock(b *Block, c *ctx) (control, error) {
	for _, s := range b.Stmts {
		ctl, err := evalStmt(s, c)
		if err != nil || ctl == ctlBreak {
			return ctl, err
		}
	}
	return ctlNext, nil
}

func evalStmt(s Stmt, c *ctx) (control, error) {
	switch s := s.(type) {
	case *Assign:
		v, err := evalExpr(s.Value, c)
		if err != nil {
			return ctlNext, err
		}
		switch s.Target.Kind {
		case RefDelta:
			if s.Op == OpSub {
				v = -v
			}
			c.addDelta(DeltaAxis(s.Target.Slot), v)
		case RefLocal:
			c.locals[s.Target.Slot] = applyOp(s.Op, c.locals[s.Target.Slot], v)
		case RefUserVar:
			col := c.ps.VarByIndex(s.Target.Slot)
			col[c.row] = applyOp(s.Op, col[c.row], v)
		}
		return ctlNext, nil

	case *If:
		v, err := evalExpr(s.Cond, c)
		if err != nil {
			return ctlNext, err
		}
		if truthy(v) {
			return evalBlock(s.Then, c)
		}
		if s.Else != nil {
			return evalBlock(s.Else, c)
		}
		return ctlNext, nil

	case *While:
		for {
			v, err := evalExpr(s.Cond, c)
			if err != nil {
				return ctlNext, err
			}
			if !truthy(v) {
				return ctlNext, nil
			}
			ctl, err := evalBlock(s.Body, c)
			if err != nil {
				return ctlNext, err
			}
			if ctl == ctlBreak {
				return ctlNext, nil
			}
		}

	case *Break:
		return ctlBreak, nil

	case *Print:
		vals := make([]any, len(s.Args))
		for i, a := range s.Args {
			v, err := evalExpr(a, c)
			if err != nil {
				return ctlNext, err
			}
			vals[i] = v
		}
		fmt.Fprintf(c.env.printWriter(), s.Format+"\n", vals...)
		return ctlNext, nil

	case *DeleteParticle:
		c.del = true
		return ctlNext, nil

	default:
		return ctlNext, fmt.Errorf("unexpected statement node %T", s)
	}
}

func evalExpr(e Expr, c *ctx) (float64, error) {
	switch e := e.(type) {
	case *Num:
		return e.Val, nil
	case *LoadLocal:
		return c.locals[e.Slot], nil
	case *LoadVar:
		return c.ps.VarByIndex(e.Slot)[c.row], nil
	case *LoadAttr:
		return c.attr(e.Attr), nil

	case *Binary:
		lv, err := evalExpr(e.L, c)
		if err != nil {
			return 0, err
		}
		switch e.Op {
		case OpAnd:
			if !truthy(lv) {
				return 0, nil
			}
			rv, err := evalExpr(e.R, c)
			if err != nil {
				return 0, err
			}
			return boolVal(truthy(rv)), nil
		case OpOr:
			if truthy(lv) {
				return 1, nil
			}
			rv, err := evalExpr(e.R, c)
			if err != nil {
				return 0, err
			}
			return boolVal(truthy(rv)), nil
		}
		rv, err := evalExpr(e.R, c)
		if err != nil {
			return 0, err
		}
		return applyBinOp(e.Op, lv, rv), nil

	case *Unary:
		v, err := evalExpr(e.X, c)
		if err != nil {
			return 0, err
		}
		if e.Neg {
			return -v, nil
		}
		return boolVal(!truthy(v)), nil

	case *Call:
		vals, err := evalExprs(e.Args, c)
		if err != nil {
			return 0, err
		}
		return mathBuiltins[e.Fn].fn(vals), nil

	case *RandCall:
		vals, err := evalExprs(e.Args, c)
		if err != nil {
			return 0, err
		}
		return evalRand(e.Fn, c.env.Rand, vals), nil

	case *Sample:
		if e.T == nil {
			return c.sampleHere(e.Field)
		}
		coords, err := evalExprs([]Expr{e.T, e.Z, e.Y, e.X}, c)
		if err != nil {
			return 0, err
		}
		return c.env.Fields.Sample(e.Field, coords[0], coords[1], coords[2], coords[3])

	default:
		return 0, fmt.Errorf("unexpected expression node %T", e)
	}
}

func evalExprs(list []Expr, c *ctx) ([]float64, error) {
	vals := make([]float64, len(list))
	for i, e := range list {
		v, err := evalExpr(e, c)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}
