package compiler

import "fmt"

// ---------------------------------------------------------------------------
// AST: Abstract Syntax Tree for oklang
// ---------------------------------------------------------------------------

// Position represents a source location.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number, in runes
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Span represents a range in source code.
type Span struct {
	Start Position
	End   Position
}

// Node is the interface implemented by all AST nodes.
type Node interface {
	Span() Span
	node() // marker method
}

// ---------------------------------------------------------------------------
// Expression nodes
// ---------------------------------------------------------------------------

// Expr is the interface for expression nodes.
type Expr interface {
	Node
	expr() // marker method
}

// NumberLiteral represents a number literal.
type NumberLiteral struct {
	SpanVal Span
	Value   float64
}

func (n *NumberLiteral) Span() Span { return n.SpanVal }
func (n *NumberLiteral) node()      {}
func (n *NumberLiteral) expr()      {}

// StringLiteral represents a string literal.
type StringLiteral struct {
	SpanVal Span
	Value   string
}

func (n *StringLiteral) Span() Span { return n.SpanVal }
func (n *StringLiteral) node()      {}
func (n *StringLiteral) expr()      {}

// LiteralKind distinguishes the keyword literals.
type LiteralKind int

const (
	LiteralNil LiteralKind = iota
	LiteralTrue
	LiteralFalse
)

// KeywordLiteral represents nil, true or false.
type KeywordLiteral struct {
	SpanVal Span
	Kind    LiteralKind
}

func (n *KeywordLiteral) Span() Span { return n.SpanVal }
func (n *KeywordLiteral) node()      {}
func (n *KeywordLiteral) expr()      {}

// Variable represents a reference to a named variable.
type Variable struct {
	SpanVal Span
	Name    string
}

func (n *Variable) Span() Span { return n.SpanVal }
func (n *Variable) node()      {}
func (n *Variable) expr()      {}

// Assign represents name = value.
type Assign struct {
	SpanVal Span
	Name    string
	Value   Expr
}

func (n *Assign) Span() Span { return n.SpanVal }
func (n *Assign) node()      {}
func (n *Assign) expr()      {}

// Unary represents a prefix operator application (-x, !x).
type Unary struct {
	SpanVal Span
	Op      TokenType
	Operand Expr
}

func (n *Unary) Span() Span { return n.SpanVal }
func (n *Unary) node()      {}
func (n *Unary) expr()      {}

// Binary represents an infix arithmetic or comparison operator.
type Binary struct {
	SpanVal Span
	Op      TokenType
	OpPos   Position
	Left    Expr
	Right   Expr
}

func (n *Binary) Span() Span { return n.SpanVal }
func (n *Binary) node()      {}
func (n *Binary) expr()      {}

// Logical represents a short-circuiting and/or.
type Logical struct {
	SpanVal Span
	Op      TokenType
	Left    Expr
	Right   Expr
}

func (n *Logical) Span() Span { return n.SpanVal }
func (n *Logical) node()      {}
func (n *Logical) expr()      {}

// Call represents callee(args...).
type Call struct {
	SpanVal Span
	Callee  Expr
	Args    []Expr
}

func (n *Call) Span() Span { return n.SpanVal }
func (n *Call) node()      {}
func (n *Call) expr()      {}

// Get represents object.name.
type Get struct {
	SpanVal Span
	Object  Expr
	Name    string
}

func (n *Get) Span() Span { return n.SpanVal }
func (n *Get) node()      {}
func (n *Get) expr()      {}

// Set represents object.name = value.
type Set struct {
	SpanVal Span
	Object  Expr
	Name    string
	Value   Expr
}

func (n *Set) Span() Span { return n.SpanVal }
func (n *Set) node()      {}
func (n *Set) expr()      {}

// This represents the this keyword.
type This struct {
	SpanVal Span
}

func (n *This) Span() Span { return n.SpanVal }
func (n *This) node()      {}
func (n *This) expr()      {}

// Super represents super.method.
type Super struct {
	SpanVal Span
	Method  string
}

func (n *Super) Span() Span { return n.SpanVal }
func (n *Super) node()      {}
func (n *Super) expr()      {}

// BadExpr stands in for an expression that failed to parse.
type BadExpr struct {
	SpanVal Span
}

func (n *BadExpr) Span() Span { return n.SpanVal }
func (n *BadExpr) node()      {}
func (n *BadExpr) expr()      {}

// ---------------------------------------------------------------------------
// Statement nodes
// ---------------------------------------------------------------------------

// Stmt is the interface for statement nodes.
type Stmt interface {
	Node
	stmt() // marker method
}

// ExprStmt is an expression evaluated for its effect.
type ExprStmt struct {
	SpanVal Span
	Expr    Expr
}

func (n *ExprStmt) Span() Span { return n.SpanVal }
func (n *ExprStmt) node()      {}
func (n *ExprStmt) stmt()      {}

// PrintStmt is print expr;
type PrintStmt struct {
	SpanVal Span
	Expr    Expr
}

func (n *PrintStmt) Span() Span { return n.SpanVal }
func (n *PrintStmt) node()      {}
func (n *PrintStmt) stmt()      {}

// VarStmt declares a variable. Init is nil when no initializer is given.
type VarStmt struct {
	SpanVal Span
	Name    string
	NamePos Position
	Init    Expr
}

func (n *VarStmt) Span() Span { return n.SpanVal }
func (n *VarStmt) node()      {}
func (n *VarStmt) stmt()      {}

// BlockStmt is a braced statement list with its own scope.
type BlockStmt struct {
	SpanVal Span
	Stmts   []Stmt
}

func (n *BlockStmt) Span() Span { return n.SpanVal }
func (n *BlockStmt) node()      {}
func (n *BlockStmt) stmt()      {}

// IfStmt is if (cond) then else otherwise. Else may be nil.
type IfStmt struct {
	SpanVal Span
	Cond    Expr
	Then    Stmt
	Else    Stmt
}

func (n *IfStmt) Span() Span { return n.SpanVal }
func (n *IfStmt) node()      {}
func (n *IfStmt) stmt()      {}

// WhileStmt is while (cond) body.
type WhileStmt struct {
	SpanVal Span
	Cond    Expr
	Body    Stmt
}

func (n *WhileStmt) Span() Span { return n.SpanVal }
func (n *WhileStmt) node()      {}
func (n *WhileStmt) stmt()      {}

// ForStmt is for (init; cond; incr) body. Any clause may be nil.
type ForStmt struct {
	SpanVal Span
	Init    Stmt
	Cond    Expr
	Incr    Expr
	Body    Stmt
}

func (n *ForStmt) Span() Span { return n.SpanVal }
func (n *ForStmt) node()      {}
func (n *ForStmt) stmt()      {}

// FunctionDecl is a named function or method.
type FunctionDecl struct {
	SpanVal Span
	Name    string
	NamePos Position
	Params  []Param
	Body    []Stmt
}

// Param is one declared parameter.
type Param struct {
	Name string
	Pos  Position
}

func (n *FunctionDecl) Span() Span { return n.SpanVal }
func (n *FunctionDecl) node()      {}
func (n *FunctionDecl) stmt()      {}

// ReturnStmt is return value;. Value is nil for a bare return.
type ReturnStmt struct {
	SpanVal Span
	Value   Expr
}

func (n *ReturnStmt) Span() Span { return n.SpanVal }
func (n *ReturnStmt) node()      {}
func (n *ReturnStmt) stmt()      {}

// ClassStmt declares a class. Superclass is nil without a < clause.
type ClassStmt struct {
	SpanVal    Span
	Name       string
	NamePos    Position
	Superclass *Variable
	Methods    []*FunctionDecl
}

func (n *ClassStmt) Span() Span { return n.SpanVal }
func (n *ClassStmt) node()      {}
func (n *ClassStmt) stmt()      {}

// ---------------------------------------------------------------------------
// Program
// ---------------------------------------------------------------------------

// Program is a parsed script. Result is the trailing expression written
// without a semicolon, whose value the script returns; nil if absent.
type Program struct {
	Stmts  []Stmt
	Result Expr
	End    Position
}
