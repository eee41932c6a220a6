package kernel

import (
	"fmt"
	"strconv"
	"strings"
)

// The intermediate representation produced by the validator and consumed by
// both execution backends. Nodes are immutable after parsing.

// Attr identifies a core particle attribute.
type Attr int

const (
	AttrLon Attr = iota
	AttrLat
	AttrDepth
	AttrTime
	AttrDT
)

var attrNames = [...]string{"lon", "lat", "depth", "time", "dt"}

func (a Attr) String() string { return attrNames[a] }

// DeltaAxis identifies one of the per-step delta accumulators.
type DeltaAxis int

const (
	DeltaLon DeltaAxis = iota
	DeltaLat
	DeltaDepth
)

var deltaNames = [...]string{"dlon", "dlat", "ddepth"}

func (d DeltaAxis) String() string { return deltaNames[d] }

// RefKind distinguishes assignment targets.
type RefKind int

const (
	RefLocal   RefKind = iota // kernel-local scratch variable
	RefUserVar                // schema-declared particle variable
	RefDelta                  // delta accumulator
)

// Ref is an assignable storage location.
type Ref struct {
	Kind RefKind
	Slot int    // local slot, schema index, or DeltaAxis
	Name string // source name, for printing and diagnostics
}

// AssignOp is the assignment operator.
type AssignOp int

const (
	OpSet AssignOp = iota // = and :=
	OpAdd                 // +=
	OpSub                 // -=
	OpMul                 // *=
	OpDiv                 // /=
)

var assignOpNames = [...]string{"set", "add", "sub", "mul", "div"}

// Stmt is a kernel statement.
type Stmt interface{ printTo(b *strings.Builder) }

// Expr is a kernel expression; every expression evaluates to a float64
// (comparisons and logical connectives yield 0 or 1).
type Expr interface{ printTo(b *strings.Builder) }

// Block is an ordered statement list.
type Block struct{ Stmts []Stmt }

// Assign writes Value into Target.
type Assign struct {
	Target Ref
	Op     AssignOp
	Value  Expr
}

// If branches on a condition; Else may be nil.
type If struct {
	Cond Expr
	Then *Block
	Else *Block
}

// While loops on a condition; the only loop form in the grammar.
type While struct {
	Cond Expr
	Body *Block
}

// Break exits the innermost While.
type Break struct{}

// Print emits a formatted message with a literal format string.
type Print struct {
	Format string
	Args   []Expr
}

// DeleteParticle requests terminal deletion at commit time.
type DeleteParticle struct{}

// Num is a numeric literal.
type Num struct{ Val float64 }

// LoadLocal reads a kernel-local variable.
type LoadLocal struct {
	Slot int
	Name string
}

// LoadVar reads a schema-declared particle variable.
type LoadVar struct {
	Slot int
	Name string
}

// LoadAttr reads a core particle attribute.
type LoadAttr struct{ Attr Attr }

// BinOp is an arithmetic, comparison or logical operator.
type BinOp int

const (
	OpAddBin BinOp = iota
	OpSubBin
	OpMulBin
	OpDivBin
	OpLT
	OpLE
	OpGT
	OpGE
	OpEQ
	OpNE
	OpAnd // short-circuit
	OpOr  // short-circuit
)

var binOpNames = [...]string{"+", "-", "*", "/", "<", "<=", ">", ">=", "==", "!=", "&&", "||"}

// Binary applies a binary operator.
type Binary struct {
	Op   BinOp
	L, R Expr
}

// Unary is negation or logical not.
type Unary struct {
	Neg bool // true: -x, false: !x
	X   Expr
}

// Call invokes an allow-listed math builtin.
type Call struct {
	Fn   string
	Args []Expr
}

// RandCall invokes the deterministic random source.
type RandCall struct {
	Fn   string
	Args []Expr
}

// Sample is an indexed field sampling expression. A nil coordinate set means
// the particle shorthand form field[particle].
type Sample struct {
	Field      string
	T, Z, Y, X Expr // all nil for the shorthand form
}

// Canonical printing. The printed form is the chain's generated source:
// identical chain input must yield byte-identical output, since the compiled
// artifact cache is keyed by its content hash.

func (b *Block) printTo(sb *strings.Builder) {
	sb.WriteString("(block")
	for _, s := range b.Stmts {
		sb.WriteByte(' ')
		s.printTo(sb)
	}
	sb.WriteByte(')')
}

func (a *Assign) printTo(sb *strings.Builder) {
	fmt.Fprintf(sb, "(%s ", assignOpNames[a.Op])
	switch a.Target.Kind {
	case RefLocal:
		fmt.Fprintf(sb, "local:%d", a.Target.Slot)
	case RefUserVar:
		fmt.Fprintf(sb, "var:%s", a.Target.Name)
	case RefDelta:
		fmt.Fprintf(sb, "delta:%s", DeltaAxis(a.Target.Slot))
	}
	sb.WriteByte(' ')
	a.Value.printTo(sb)
	sb.WriteByte(')')
}

func (i *If) printTo(sb *strings.Builder) {
	sb.WriteString("(if ")
	i.Cond.printTo(sb)
	sb.WriteByte(' ')
	i.Then.printTo(sb)
	if i.Else != nil {
		sb.WriteByte(' ')
		i.Else.printTo(sb)
	}
	sb.WriteByte(')')
}

func (w *While) printTo(sb *strings.Builder) {
	sb.WriteString("(while ")
	w.Cond.printTo(sb)
	sb.WriteByte(' ')
	w.Body.printTo(sb)
	sb.WriteByte(')')
}

func (*Break) printTo(sb *strings.Builder) { sb.WriteString("(break)") }

func (p *Print) printTo(sb *strings.Builder) {
	fmt.Fprintf(sb, "(print %q", p.Format)
	for _, a := range p.Args {
		sb.WriteByte(' ')
		a.printTo(sb)
	}
	sb.WriteByte(')')
}

func (*DeleteParticle) printTo(sb *strings.Builder) { sb.WriteString("(delete)") }

func (n *Num) printTo(sb *strings.Builder) {
	sb.WriteString(strconv.FormatFloat(n.Val, 'g', -1, 64))
}

func (l *LoadLocal) printTo(sb *strings.Builder) { fmt.Fprintf(sb, "local:%d", l.Slot) }
func (l *LoadVar) printTo(sb *strings.Builder)   { fmt.Fprintf(sb, "var:%s", l.Name) }
func (l *LoadAttr) printTo(sb *strings.Builder)  { fmt.Fprintf(sb, "attr:%s", l.Attr) }

func (x *Binary) printTo(sb *strings.Builder) {
	fmt.Fprintf(sb, "(%s ", binOpNames[x.Op])
	x.L.printTo(sb)
	sb.WriteByte(' ')
	x.R.printTo(sb)
	sb.WriteByte(')')
}

func (u *Unary) printTo(sb *strings.Builder) {
	if u.Neg {
		sb.WriteString("(neg ")
	} else {
		sb.WriteString("(not ")
	}
	u.X.printTo(sb)
	sb.WriteByte(')')
}

func (c *Call) printTo(sb *strings.Builder) {
	fmt.Fprintf(sb, "(call %s", c.Fn)
	for _, a := range c.Args {
		sb.WriteByte(' ')
		a.printTo(sb)
	}
	sb.WriteByte(')')
}

func (c *RandCall) printTo(sb *strings.Builder) {
	fmt.Fprintf(sb, "(rand %s", c.Fn)
	for _, a := range c.Args {
		sb.WriteByte(' ')
		a.printTo(sb)
	}
	sb.WriteByte(')')
}

func (s *Sample) printTo(sb *strings.Builder) {
	fmt.Fprintf(sb, "(sample %s", s.Field)
	if s.T != nil {
		for _, e := range []Expr{s.T, s.Z, s.Y, s.X} {
			sb.WriteByte(' ')
			e.printTo(sb)
		}
	} else {
		sb.WriteString(" particle")
	}
	sb.WriteByte(')')
}
