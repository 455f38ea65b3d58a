// Package lang defines the primitive, desugared AST both engines execute.
// Upstream tooling (parser, type checker) reduces every surface form to
// these nodes before either engine sees them: iteration arrives as a counted
// loop, method calls as builtin calls with the receiver first, ownership
// modes as static tags on bindings. The Lower pass in this package performs
// the same reduction for source text, standing in for the full front end.
package lang

import (
	"github.com/strand-lang/strand/sem"
	"github.com/strand-lang/strand/value"
)

// Mode is a binding's static ownership mode. It is checked before execution
// and never changes at runtime; it only picks the physical representation
// (plain handle vs. shared cell).
type Mode uint8

const (
	ModeExclusive Mode = iota
	ModeBorrowed
	ModeShared
)

func (m Mode) String() string {
	switch m {
	case ModeExclusive:
		return "exclusive"
	case ModeBorrowed:
		return "borrowed"
	case ModeShared:
		return "shared"
	default:
		return "mode(?)"
	}
}

type Node interface {
	Pos() sem.Span
}

type Stmt interface {
	Node
	stmt()
}

type Expr interface {
	Node
	expr()
}

type base struct {
	Span sem.Span
}

func (b base) Pos() sem.Span { return b.Span }

// ---- Expressions ----

type Lit struct {
	base
	Val value.Value
}

type Ident struct {
	base
	Name string
}

type Unary struct {
	base
	Op sem.UnOp
	X  Expr
}

type Binary struct {
	base
	Op   sem.BinOp
	X, Y Expr
}

type Cond struct {
	base
	Test, Then, Else Expr
}

type Index struct {
	base
	X, Idx Expr
}

type SliceExpr struct {
	base
	X      Expr
	Lo, Hi Expr // nil means open bound
}

type ArrayLit struct {
	base
	Elems []Expr
}

type MapLit struct {
	base
	Keys []Expr
	Vals []Expr
}

// Call invokes a user function or closure.
type Call struct {
	base
	Callee Expr
	Args   []Expr
}

// BuiltinCall invokes a registry entry. Recv names the binding the receiver
// was loaded from; when the entry mutates, the engine writes the new receiver
// back into that binding. An empty Recv means the receiver is a temporary.
type BuiltinCall struct {
	base
	Name string
	Args []Expr
	Recv string
}

type Param struct {
	Name string
	Mode Mode
}

type FuncLit struct {
	base
	Name   string // empty for anonymous
	Params []Param
	Body   *Block
}

func (Lit) expr()         {}
func (Ident) expr()       {}
func (Unary) expr()       {}
func (Binary) expr()      {}
func (Cond) expr()        {}
func (Index) expr()       {}
func (SliceExpr) expr()   {}
func (ArrayLit) expr()    {}
func (MapLit) expr()      {}
func (Call) expr()        {}
func (BuiltinCall) expr() {}
func (FuncLit) expr()     {}

// ---- Statements ----

type Let struct {
	base
	Name string
	Mode Mode
	Init Expr
}

type Assign struct {
	base
	Name string
	Val  Expr
}

// IndexAssign writes through one index level on a named binding. The
// lowering pass guarantees deeper paths are rewritten via temporaries.
type IndexAssign struct {
	base
	Name string
	Idx  Expr
	Val  Expr
}

type ExprStmt struct {
	base
	X Expr
}

type If struct {
	base
	Test Expr
	Then *Block
	Else Stmt // *Block, *If, or nil
}

type While struct {
	base
	Test Expr
	Body *Block
}

type Break struct{ base }

type Continue struct{ base }

type Return struct {
	base
	X Expr // nil returns null
}

type Block struct {
	base
	Stmts []Stmt
}

type FuncDecl struct {
	base
	Name string
	Fn   *FuncLit
}

func (Let) stmt()         {}
func (Assign) stmt()      {}
func (IndexAssign) stmt() {}
func (ExprStmt) stmt()    {}
func (If) stmt()          {}
func (While) stmt()       {}
func (Break) stmt()       {}
func (Continue) stmt()    {}
func (Return) stmt()      {}
func (Block) stmt()       {}
func (FuncDecl) stmt()    {}

// Program is the unit both engines consume: top-level function declarations
// plus the main block. A Return in Main produces the program result.
type Program struct {
	Path  string
	Decls []*FuncDecl
	Main  *Block
}

// Decl resolves a declared function by name.
func (p *Program) Decl(name string) (*FuncDecl, bool) {
	for _, d := range p.Decls {
		if d.Name == name {
			return d, true
		}
	}
	return nil, false
}
