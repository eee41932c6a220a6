// Package kernel implements the restricted kernel language: a validator that
// lowers Go-syntax kernel sources into a small IR, plus two execution
// backends over that IR (a closure compiler with a content-addressed cache,
// and a tree-walking batch interpreter).
package kernel

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"

	"github.com/pthm-cable/drift/particle"
)

// Kernel is one named per-step transformation, validated into IR. The fixed
// signature is func Name(particle, fieldset, time).
type Kernel struct {
	Name    string
	Source  string
	Body    *Block
	NLocals int
}

// sourcePrefix turns a bare kernel function into a parseable file. Reported
// positions are shifted back by its two lines.
const sourcePrefix = "package kernels\n\n"

// desugarIndexing rewrites sampling brackets to call parentheses before
// parsing. go/parser reads x[a, b, c, d] as a generic instantiation and
// demands types after the first element, which would reject literal or
// arithmetic coordinates; as a call every coordinate parses as an ordinary
// expression. The rewrite is byte for byte, so reported positions are
// unaffected. Brackets inside string literals and comments are left alone.
func desugarIndexing(src string) string {
	b := []byte(src)
	for i := 0; i < len(b); i++ {
		switch b[i] {
		case '"':
			for i++; i < len(b) && b[i] != '"'; i++ {
				if b[i] == '\\' {
					i++
				}
			}
		case '`':
			for i++; i < len(b) && b[i] != '`'; i++ {
			}
		case '/':
			if i+1 < len(b) && b[i+1] == '/' {
				for i++; i < len(b) && b[i] != '\n'; i++ {
				}
			} else if i+1 < len(b) && b[i+1] == '*' {
				i += 2
				for ; i+1 < len(b) && !(b[i] == '*' && b[i+1] == '/'); i++ {
				}
				i++
			}
		case '[':
			b[i] = '('
		case ']':
			b[i] = ')'
		}
	}
	return string(b)
}

// Parse validates a kernel source against the restricted grammar and lowers
// it to IR. User variable references are resolved against schema (which may
// be nil for kernels that use none).
func Parse(src string, schema *particle.Schema) (*Kernel, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "kernel.src", sourcePrefix+desugarIndexing(src), parser.SkipObjectResolution)
	if err != nil {
		return nil, &GrammarError{Kernel: "?", Pos: "-", Construct: "syntax error", Msg: err.Error()}
	}
	if len(file.Decls) != 1 {
		return nil, &GrammarError{Kernel: "?", Pos: "-", Construct: "source",
			Msg: fmt.Sprintf("want exactly one kernel function, got %d declarations", len(file.Decls))}
	}
	fn, ok := file.Decls[0].(*ast.FuncDecl)
	if !ok {
		return nil, &GrammarError{Kernel: "?", Pos: "-", Construct: "declaration",
			Msg: "kernel source must be a single function"}
	}

	v := &validator{
		fset:   fset,
		schema: schema,
		name:   fn.Name.Name,
		locals: map[string]int{},
	}
	if err := v.checkSignature(fn); err != nil {
		return nil, err
	}
	body, err := v.stmts(fn.Body.List)
	if err != nil {
		return nil, err
	}
	return &Kernel{Name: fn.Name.Name, Source: src, Body: body, NLocals: len(v.locals)}, nil
}

// MustParse is Parse for statically known kernel sources.
func MustParse(src string, schema *particle.Schema) *Kernel {
	k, err := Parse(src, schema)
	if err != nil {
		panic(err)
	}
	return k
}

type validator struct {
	fset      *token.FileSet
	schema    *particle.Schema
	name      string
	locals    map[string]int
	loopDepth int
}

func (v *validator) pos(n ast.Node) string {
	p := v.fset.Position(n.Pos())
	return fmt.Sprintf("%d:%d", p.Line-2, p.Column)
}

func (v *validator) reject(n ast.Node, construct string) error {
	return &GrammarError{Kernel: v.name, Pos: v.pos(n), Construct: construct}
}

func (v *validator) rejectf(n ast.Node, construct, format string, args ...any) error {
	return &GrammarError{Kernel: v.name, Pos: v.pos(n), Construct: construct,
		Msg: fmt.Sprintf(format, args...)}
}

func (v *validator) checkSignature(fn *ast.FuncDecl) error {
	if fn.Recv != nil {
		return v.reject(fn, "method receiver")
	}
	if fn.Type.Results != nil {
		return v.rejectf(fn, "return values", "kernels communicate through delta accumulators, not return values")
	}
	var params []string
	for _, f := range fn.Type.Params.List {
		if len(f.Names) != 0 {
			return v.rejectf(fn, "signature", "kernel parameters are written without types: (particle, fieldset, time)")
		}
		id, ok := f.Type.(*ast.Ident)
		if !ok {
			return v.rejectf(fn, "signature", "kernel parameters are written without types: (particle, fieldset, time)")
		}
		params = append(params, id.Name)
	}
	if len(params) != 3 || params[0] != "particle" || params[1] != "fieldset" || params[2] != "time" {
		return v.rejectf(fn, "signature", "kernel signature must be (particle, fieldset, time), got %v", params)
	}
	return nil
}

func (v *validator) stmts(list []ast.Stmt) (*Block, error) {
	b := &Block{}
	for _, s := range list {
		// Bare nested braces are flattened; locals are kernel-scoped.
		if inner, ok := s.(*ast.BlockStmt); ok {
			ib, err := v.stmts(inner.List)
			if err != nil {
				return nil, err
			}
			b.Stmts = append(b.Stmts, ib.Stmts...)
			continue
		}
		st, err := v.stmt(s)
		if err != nil {
			return nil, err
		}
		b.Stmts = append(b.Stmts, st)
	}
	return b, nil
}

func (v *validator) stmt(s ast.Stmt) (Stmt, error) {
	switch s := s.(type) {
	case *ast.AssignStmt:
		return v.assign(s)
	case *ast.IfStmt:
		return v.ifStmt(s)
	case *ast.ForStmt:
		return v.forStmt(s)
	case *ast.RangeStmt:
		return nil, v.rejectf(s, "for-range loop", "loops over collections are not supported")
	case *ast.BranchStmt:
		if s.Tok != token.BREAK || s.Label != nil {
			return nil, v.reject(s, s.Tok.String()+" statement")
		}
		if v.loopDepth == 0 {
			return nil, v.rejectf(s, "break statement", "break outside a loop")
		}
		return &Break{}, nil
	case *ast.ExprStmt:
		return v.exprStmt(s)
	case *ast.ReturnStmt:
		return nil, v.reject(s, "return statement")
	case *ast.DeclStmt:
		return nil, v.reject(s, "declaration statement")
	case *ast.IncDecStmt:
		return nil, v.rejectf(s, s.Tok.String()+" statement", "use += 1 or -= 1")
	default:
		return nil, v.reject(s, fmt.Sprintf("%T", s))
	}
}

func (v *validator) assign(s *ast.AssignStmt) (Stmt, error) {
	if len(s.Lhs) != 1 || len(s.Rhs) != 1 {
		return nil, v.reject(s, "multiple assignment")
	}

	var op AssignOp
	switch s.Tok {
	case token.DEFINE, token.ASSIGN:
		op = OpSet
	case token.ADD_ASSIGN:
		op = OpAdd
	case token.SUB_ASSIGN:
		op = OpSub
	case token.MUL_ASSIGN:
		op = OpMul
	case token.QUO_ASSIGN:
		op = OpDiv
	default:
		return nil, v.reject(s, s.Tok.String()+" assignment")
	}

	value, err := v.expr(s.Rhs[0])
	if err != nil {
		return nil, err
	}

	switch lhs := s.Lhs[0].(type) {
	case *ast.Ident:
		slot, declared := v.locals[lhs.Name]
		if s.Tok == token.DEFINE {
			if declared {
				return nil, v.rejectf(lhs, "redeclaration", "variable %s already declared", lhs.Name)
			}
			slot = len(v.locals)
			v.locals[lhs.Name] = slot
		} else if !declared {
			return nil, v.rejectf(lhs, "assignment", "variable %s not declared (use :=)", lhs.Name)
		}
		return &Assign{Target: Ref{Kind: RefLocal, Slot: slot, Name: lhs.Name}, Op: op, Value: value}, nil

	case *ast.SelectorExpr:
		base, ok := lhs.X.(*ast.Ident)
		if !ok || base.Name != "particle" {
			return nil, v.reject(lhs, "assignment target")
		}
		name := lhs.Sel.Name
		for axis, dn := range deltaNames {
			if name == dn {
				if op != OpAdd && op != OpSub {
					return nil, v.rejectf(lhs, "delta assignment",
						"delta accumulators only accept += and -=")
				}
				return &Assign{Target: Ref{Kind: RefDelta, Slot: axis, Name: name}, Op: op, Value: value}, nil
			}
		}
		switch name {
		case "lon", "lat", "depth":
			return nil, v.rejectf(lhs, "position write",
				"particle.%s cannot be written directly; accumulate into particle.d%s", name, name)
		case "time", "dt":
			return nil, v.rejectf(lhs, "state write", "particle.%s is read-only in kernels", name)
		}
		if slot, ok := v.schema.Index(name); ok {
			return &Assign{Target: Ref{Kind: RefUserVar, Slot: slot, Name: name}, Op: op, Value: value}, nil
		}
		return nil, v.rejectf(lhs, "unknown variable", "particle.%s is not declared in the schema", name)

	default:
		return nil, v.reject(s.Lhs[0], "assignment target")
	}
}

func (v *validator) ifStmt(s *ast.IfStmt) (Stmt, error) {
	if s.Init != nil {
		return nil, v.reject(s, "if with init statement")
	}
	cond, err := v.expr(s.Cond)
	if err != nil {
		return nil, err
	}
	then, err := v.stmts(s.Body.List)
	if err != nil {
		return nil, err
	}
	node := &If{Cond: cond, Then: then}
	switch e := s.Else.(type) {
	case nil:
	case *ast.BlockStmt:
		node.Else, err = v.stmts(e.List)
		if err != nil {
			return nil, err
		}
	case *ast.IfStmt:
		chained, err := v.ifStmt(e)
		if err != nil {
			return nil, err
		}
		node.Else = &Block{Stmts: []Stmt{chained}}
	default:
		return nil, v.reject(s.Else, "else clause")
	}
	return node, nil
}

// forStmt admits only the condition-only form, which is the grammar's while
// loop. Counted and range loops are rejected.
func (v *validator) forStmt(s *ast.ForStmt) (Stmt, error) {
	if s.Init != nil || s.Post != nil || s.Cond == nil {
		return nil, v.rejectf(s, "for loop",
			"only the while form `for cond { ... }` is supported")
	}
	cond, err := v.expr(s.Cond)
	if err != nil {
		return nil, err
	}
	v.loopDepth++
	body, err := v.stmts(s.Body.List)
	v.loopDepth--
	if err != nil {
		return nil, err
	}
	return &While{Cond: cond, Body: body}, nil
}

func (v *validator) exprStmt(s *ast.ExprStmt) (Stmt, error) {
	call, ok := s.X.(*ast.CallExpr)
	if !ok {
		return nil, v.reject(s, "expression statement")
	}
	switch fun := call.Fun.(type) {
	case *ast.Ident:
		if fun.Name == "print" {
			return v.printStmt(call)
		}
	case *ast.SelectorExpr:
		if base, ok := fun.X.(*ast.Ident); ok && base.Name == "particle" && fun.Sel.Name == "delete" {
			if len(call.Args) != 0 {
				return nil, v.rejectf(call, "particle.delete", "takes no arguments")
			}
			return &DeleteParticle{}, nil
		}
	}
	return nil, v.reject(s, "call statement")
}

func (v *validator) printStmt(call *ast.CallExpr) (Stmt, error) {
	if len(call.Args) == 0 {
		return nil, v.rejectf(call, "print", "needs a literal format string")
	}
	lit, ok := call.Args[0].(*ast.BasicLit)
	if !ok || lit.Kind != token.STRING {
		return nil, v.rejectf(call.Args[0], "print", "format must be a literal string")
	}
	format, err := strconv.Unquote(lit.Value)
	if err != nil {
		return nil, v.rejectf(lit, "print", "bad format string: %v", err)
	}
	p := &Print{Format: format}
	for _, a := range call.Args[1:] {
		e, err := v.expr(a)
		if err != nil {
			return nil, err
		}
		p.Args = append(p.Args, e)
	}
	return p, nil
}

func (v *validator) expr(e ast.Expr) (Expr, error) {
	switch e := e.(type) {
	case *ast.ParenExpr:
		return v.expr(e.X)

	case *ast.BasicLit:
		switch e.Kind {
		case token.INT, token.FLOAT:
			val, err := strconv.ParseFloat(e.Value, 64)
			if err != nil {
				return nil, v.rejectf(e, "numeric literal", "%v", err)
			}
			return &Num{Val: val}, nil
		case token.STRING:
			return nil, v.rejectf(e, "string literal", "strings only appear as print formats")
		}
		return nil, v.reject(e, e.Kind.String()+" literal")

	case *ast.Ident:
		switch e.Name {
		case "time":
			return &LoadAttr{Attr: AttrTime}, nil
		case "true":
			return &Num{Val: 1}, nil
		case "false":
			return &Num{Val: 0}, nil
		case "particle", "fieldset":
			return nil, v.rejectf(e, "bare reference", "%s cannot be used as a value", e.Name)
		}
		if slot, ok := v.locals[e.Name]; ok {
			return &LoadLocal{Slot: slot, Name: e.Name}, nil
		}
		return nil, v.rejectf(e, "unknown identifier", "%s", e.Name)

	case *ast.SelectorExpr:
		base, ok := e.X.(*ast.Ident)
		if !ok {
			return nil, v.reject(e, "selector expression")
		}
		switch base.Name {
		case "particle":
			name := e.Sel.Name
			for a, an := range attrNames {
				if name == an {
					return &LoadAttr{Attr: Attr(a)}, nil
				}
			}
			for _, dn := range deltaNames {
				if name == dn {
					return nil, v.rejectf(e, "delta read", "delta accumulators are write-only")
				}
			}
			if slot, ok := v.schema.Index(name); ok {
				return &LoadVar{Slot: slot, Name: name}, nil
			}
			return nil, v.rejectf(e, "unknown variable", "particle.%s is not declared in the schema", name)
		case "fieldset":
			return nil, v.rejectf(e, "field reference",
				"fields must be sampled: fieldset.%s[time, depth, lat, lon] or fieldset.%s[particle]",
				e.Sel.Name, e.Sel.Name)
		}
		return nil, v.reject(e, "selector expression")

	case *ast.BinaryExpr:
		return v.binary(e)

	case *ast.UnaryExpr:
		x, err := v.expr(e.X)
		if err != nil {
			return nil, err
		}
		switch e.Op {
		case token.SUB:
			return &Unary{Neg: true, X: x}, nil
		case token.NOT:
			return &Unary{Neg: false, X: x}, nil
		case token.ADD:
			return x, nil
		}
		return nil, v.reject(e, "unary "+e.Op.String())

	case *ast.CallExpr:
		return v.call(e)

	case *ast.CompositeLit:
		return nil, v.reject(e, "collection literal")
	case *ast.FuncLit:
		return nil, v.reject(e, "function literal")
	default:
		return nil, v.reject(e, fmt.Sprintf("%T", e))
	}
}

func (v *validator) binary(e *ast.BinaryExpr) (Expr, error) {
	var op BinOp
	switch e.Op {
	case token.ADD:
		op = OpAddBin
	case token.SUB:
		op = OpSubBin
	case token.MUL:
		op = OpMulBin
	case token.QUO:
		op = OpDivBin
	case token.REM:
		return nil, v.rejectf(e, "% operator", "use fmod(x, y)")
	case token.LSS:
		op = OpLT
	case token.LEQ:
		op = OpLE
	case token.GTR:
		op = OpGT
	case token.GEQ:
		op = OpGE
	case token.EQL:
		op = OpEQ
	case token.NEQ:
		op = OpNE
	case token.LAND:
		op = OpAnd
	case token.LOR:
		op = OpOr
	default:
		return nil, v.reject(e, e.Op.String()+" operator")
	}
	l, err := v.expr(e.X)
	if err != nil {
		return nil, err
	}
	r, err := v.expr(e.Y)
	if err != nil {
		return nil, err
	}
	return &Binary{Op: op, L: l, R: r}, nil
}

func (v *validator) call(e *ast.CallExpr) (Expr, error) {
	switch fun := e.Fun.(type) {
	case *ast.Ident:
		if fun.Name == "print" {
			return nil, v.rejectf(e, "print", "print is a statement, not an expression")
		}
		b, ok := mathBuiltins[fun.Name]
		if !ok {
			return nil, v.rejectf(e, "function call", "%s is not in the kernel math allow-list", fun.Name)
		}
		if len(e.Args) != b.arity {
			return nil, v.rejectf(e, "function call", "%s takes %d arguments, got %d", fun.Name, b.arity, len(e.Args))
		}
		args, err := v.exprList(e.Args)
		if err != nil {
			return nil, err
		}
		return &Call{Fn: fun.Name, Args: args}, nil

	case *ast.SelectorExpr:
		base, ok := fun.X.(*ast.Ident)
		if ok && base.Name == "fieldset" {
			return v.sample(e, fun.Sel.Name, e.Args)
		}
		if ok && base.Name == "rand" {
			arity, ok := randBuiltins[fun.Sel.Name]
			if !ok {
				return nil, v.rejectf(e, "function call", "rand.%s is not a kernel random function", fun.Sel.Name)
			}
			if len(e.Args) != arity {
				return nil, v.rejectf(e, "function call", "rand.%s takes %d arguments, got %d",
					fun.Sel.Name, arity, len(e.Args))
			}
			args, err := v.exprList(e.Args)
			if err != nil {
				return nil, err
			}
			return &RandCall{Fn: fun.Sel.Name, Args: args}, nil
		}
		if ok && base.Name == "particle" && fun.Sel.Name == "delete" {
			return nil, v.rejectf(e, "particle.delete", "delete is a statement, not an expression")
		}
		return nil, v.reject(e, "function call")

	default:
		return nil, v.reject(e, "function call")
	}
}

func (v *validator) exprList(list []ast.Expr) ([]Expr, error) {
	out := make([]Expr, len(list))
	for i, a := range list {
		e, err := v.expr(a)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

// sample lowers fieldset.Name[...] indexing, reaching the validator in call
// form after desugarIndexing. One index must be the particle shorthand; four
// are explicit (time, depth, lat, lon) coordinates.
func (v *validator) sample(n ast.Node, fieldName string, indices []ast.Expr) (Expr, error) {
	switch len(indices) {
	case 1:
		if id, ok := indices[0].(*ast.Ident); ok && id.Name == "particle" {
			return &Sample{Field: fieldName}, nil
		}
		return nil, v.rejectf(n, "field sampling",
			"fieldset.%s takes [particle] or [time, depth, lat, lon]", fieldName)
	case 4:
		coords, err := v.exprList(indices)
		if err != nil {
			return nil, err
		}
		return &Sample{Field: fieldName, T: coords[0], Z: coords[1], Y: coords[2], X: coords[3]}, nil
	default:
		return nil, v.rejectf(n, "field sampling",
			"fieldset.%s takes [particle] or [time, depth, lat, lon], got %d indices", fieldName, len(indices))
	}
}
