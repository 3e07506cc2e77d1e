package compiler

import (
	"fmt"
	"strings"

	"github.com/QaisAlsaid/oklang-sub000/vm"
)

// ---------------------------------------------------------------------------
// Semantic Analyzer: lint checks over a parsed program
// ---------------------------------------------------------------------------

// Warning codes. Warnings never stop compilation.
const (
	CodeUnreachableCode  = "W001"
	CodeUnusedLocal      = "W002"
	CodeUndefinedGlobal  = "W003"
	CodeShadowedVariable = "W004"
)

// IsWarning reports whether d is a lint warning rather than an error.
func IsWarning(d vm.Diagnostic) bool {
	return strings.HasPrefix(d.Code, "W")
}

// SemanticAnalyzer finds likely mistakes the compiler accepts: code after
// a return, locals that are never read, and reads of globals the script
// never defines.
type SemanticAnalyzer struct {
	warnings []vm.Diagnostic

	// Known globals that are always defined
	knownGlobals map[string]bool

	// Scope tracking, innermost last
	scopes []map[string]*localUse
}

type localUse struct {
	pos  Position
	used bool
	// params are exempt from the unused check
	param bool
}

// NewSemanticAnalyzer creates a new semantic analyzer.
func NewSemanticAnalyzer() *SemanticAnalyzer {
	return &SemanticAnalyzer{
		knownGlobals: defaultKnownGlobals(),
	}
}

// defaultKnownGlobals returns the natives every VM defines.
func defaultKnownGlobals() map[string]bool {
	return map[string]bool{
		"clock": true,
		"str":   true,
		"len":   true,
		"type":  true,
		"gc":    true,
	}
}

// AddKnownGlobal adds a global to the known globals set, for hosts that
// define their own natives.
func (s *SemanticAnalyzer) AddKnownGlobal(name string) {
	s.knownGlobals[name] = true
}

// Warnings returns accumulated warnings.
func (s *SemanticAnalyzer) Warnings() []vm.Diagnostic {
	return s.warnings
}

func (s *SemanticAnalyzer) warnAt(pos Position, code, format string, args ...interface{}) {
	s.warnings = append(s.warnings, vm.Diagnostic{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Pos:     pos.Offset,
		Line:    pos.Line,
		Column:  pos.Column,
	})
}

// Lint runs the semantic analyzer over prog with the default globals.
func Lint(prog *Program) []vm.Diagnostic {
	s := NewSemanticAnalyzer()
	s.AnalyzeProgram(prog)
	return s.Warnings()
}

// AnalyzeProgram performs semantic analysis on a whole script.
func (s *SemanticAnalyzer) AnalyzeProgram(prog *Program) {
	// Globals may be used before their definition in source order, from
	// inside functions, so collect them all first.
	for _, stmt := range prog.Stmts {
		switch st := stmt.(type) {
		case *VarStmt:
			s.knownGlobals[st.Name] = true
		case *FunctionDecl:
			s.knownGlobals[st.Name] = true
		case *ClassStmt:
			s.knownGlobals[st.Name] = true
		}
	}

	s.analyzeStatements(prog.Stmts)
	if prog.Result != nil {
		s.analyzeExpr(prog.Result)
	}
}

func (s *SemanticAnalyzer) pushScope() {
	s.scopes = append(s.scopes, make(map[string]*localUse))
}

// popScope closes the innermost scope and reports its unread locals.
func (s *SemanticAnalyzer) popScope() {
	scope := s.scopes[len(s.scopes)-1]
	s.scopes = s.scopes[:len(s.scopes)-1]
	for name, use := range scope {
		if !use.used && !use.param && name != "_" {
			s.warnAt(use.pos, CodeUnusedLocal, "local variable '%s' is never used", name)
		}
	}
}

func (s *SemanticAnalyzer) declare(name string, pos Position, param bool) {
	if len(s.scopes) == 0 {
		return
	}
	for i := len(s.scopes) - 2; i >= 0; i-- {
		if _, ok := s.scopes[i][name]; ok {
			s.warnAt(pos, CodeShadowedVariable, "'%s' shadows a variable in an enclosing scope", name)
			break
		}
	}
	s.scopes[len(s.scopes)-1][name] = &localUse{pos: pos, param: param}
}

// use marks name as read. Names that resolve to no local must be globals.
func (s *SemanticAnalyzer) use(name string, pos Position) {
	for i := len(s.scopes) - 1; i >= 0; i-- {
		if l, ok := s.scopes[i][name]; ok {
			l.used = true
			return
		}
	}
	if !s.knownGlobals[name] {
		s.warnAt(pos, CodeUndefinedGlobal, "'%s' may be undefined", name)
	}
}

// analyzeStatements analyzes a list of statements.
func (s *SemanticAnalyzer) analyzeStatements(stmts []Stmt) {
	for _, stmt := range stmts {
		s.analyzeStmt(stmt)
	}
	s.checkUnreachableCode(stmts)
}

// analyzeStmt analyzes a single statement.
func (s *SemanticAnalyzer) analyzeStmt(stmt Stmt) {
	switch st := stmt.(type) {
	case *ExprStmt:
		s.analyzeExpr(st.Expr)
	case *PrintStmt:
		s.analyzeExpr(st.Expr)
	case *VarStmt:
		if st.Init != nil {
			s.analyzeExpr(st.Init)
		}
		s.declare(st.Name, st.NamePos, false)
	case *BlockStmt:
		s.pushScope()
		s.analyzeStatements(st.Stmts)
		s.popScope()
	case *IfStmt:
		s.analyzeExpr(st.Cond)
		s.analyzeStmt(st.Then)
		if st.Else != nil {
			s.analyzeStmt(st.Else)
		}
	case *WhileStmt:
		s.analyzeExpr(st.Cond)
		s.analyzeStmt(st.Body)
	case *ForStmt:
		s.pushScope()
		if st.Init != nil {
			s.analyzeStmt(st.Init)
		}
		if st.Cond != nil {
			s.analyzeExpr(st.Cond)
		}
		if st.Incr != nil {
			s.analyzeExpr(st.Incr)
		}
		s.analyzeStmt(st.Body)
		s.popScope()
	case *FunctionDecl:
		s.declare(st.Name, st.NamePos, true)
		s.analyzeFunction(st)
	case *ReturnStmt:
		if st.Value != nil {
			s.analyzeExpr(st.Value)
		}
	case *ClassStmt:
		s.declare(st.Name, st.NamePos, true)
		if st.Superclass != nil {
			s.analyzeExpr(st.Superclass)
		}
		for _, m := range st.Methods {
			s.analyzeFunction(m)
		}
	}
}

func (s *SemanticAnalyzer) analyzeFunction(fn *FunctionDecl) {
	s.pushScope()
	for _, p := range fn.Params {
		s.declare(p.Name, p.Pos, true)
	}
	s.analyzeStatements(fn.Body)
	s.popScope()
}

// analyzeExpr analyzes an expression.
func (s *SemanticAnalyzer) analyzeExpr(expr Expr) {
	switch e := expr.(type) {
	case *Variable:
		s.use(e.Name, e.SpanVal.Start)
	case *Assign:
		s.analyzeExpr(e.Value)
		s.use(e.Name, e.SpanVal.Start)
	case *Unary:
		s.analyzeExpr(e.Operand)
	case *Binary:
		s.analyzeExpr(e.Left)
		s.analyzeExpr(e.Right)
	case *Logical:
		s.analyzeExpr(e.Left)
		s.analyzeExpr(e.Right)
	case *Call:
		s.analyzeExpr(e.Callee)
		for _, arg := range e.Args {
			s.analyzeExpr(arg)
		}
	case *Get:
		s.analyzeExpr(e.Object)
	case *Set:
		s.analyzeExpr(e.Object)
		s.analyzeExpr(e.Value)
	// Literals and receivers don't need checking
	case *NumberLiteral, *StringLiteral, *KeywordLiteral, *This, *Super, *BadExpr:
		// OK
	}
}

// checkUnreachableCode warns about the first statement after a return.
func (s *SemanticAnalyzer) checkUnreachableCode(stmts []Stmt) {
	for i, stmt := range stmts {
		if _, isReturn := stmt.(*ReturnStmt); isReturn && i < len(stmts)-1 {
			s.warnAt(stmts[i+1].Span().Start, CodeUnreachableCode, "unreachable code after return")
			return
		}
	}
}
