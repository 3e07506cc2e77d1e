package compiler

import (
	"errors"
	"fmt"

	"github.com/QaisAlsaid/oklang-sub000/vm"
)

// ---------------------------------------------------------------------------
// Codegen: Compile AST to bytecode
// ---------------------------------------------------------------------------

type functionKind int

const (
	kindScript functionKind = iota
	kindFunction
	kindMethod
	kindInitializer
)

type local struct {
	name     string
	depth    int // -1 while the initializer is being compiled
	captured bool
}

// funcState is the compilation context of one function body. States form
// a chain through enclosing, innermost first.
type funcState struct {
	enclosing  *funcState
	fn         *vm.FunctionObject
	kind       functionKind
	locals     []local
	upvalues   []vm.UpvalueDescriptor
	scopeDepth int
	names      map[string]int // identifier constants already in the pool
}

type classState struct {
	enclosing     *classState
	hasSuperclass bool
}

// Compiler compiles a parsed Program into functions on a VM heap.
type Compiler struct {
	vm     *vm.VM
	source *vm.Source

	current *funcState
	class   *classState
	diags   []vm.Diagnostic
}

// NewCompiler creates a compiler that allocates on v.
func NewCompiler(v *vm.VM, src *vm.Source) *Compiler {
	return &Compiler{vm: v, source: src}
}

// Diagnostics returns accumulated compilation errors.
func (c *Compiler) Diagnostics() []vm.Diagnostic {
	return c.diags
}

// MarkRoots marks every function still under construction.
func (c *Compiler) MarkRoots(mark func(vm.Value)) {
	for fs := c.current; fs != nil; fs = fs.enclosing {
		mark(vm.ObjectValue(fs.fn.Handle()))
	}
}

// CompileProgram compiles prog into the top-level script function. The
// function is returned even when diagnostics were reported.
func (c *Compiler) CompileProgram(prog *Program) *vm.FunctionObject {
	c.vm.PushRootSource(c)
	defer c.vm.PopRootSource()

	c.beginFunction(kindScript, "")
	for _, stmt := range prog.Stmts {
		c.compileStmt(stmt)
	}
	if prog.Result != nil {
		c.compileExpr(prog.Result)
		c.emitOp(vm.OpReturn, prog.End)
	} else {
		c.emitReturn(prog.End)
	}
	return c.endFunction()
}

func (c *Compiler) errorAt(pos Position, code, msg string) {
	c.diags = append(c.diags, vm.Diagnostic{
		Code:    code,
		Message: msg,
		Pos:     pos.Offset,
		Line:    pos.Line,
		Column:  pos.Column,
	})
}

// ---------------------------------------------------------------------------
// Function contexts
// ---------------------------------------------------------------------------

func (c *Compiler) beginFunction(kind functionKind, name string) {
	fs := &funcState{
		enclosing: c.current,
		kind:      kind,
		names:     make(map[string]int),
	}
	fs.fn = c.vm.NewFunction(c.source)
	c.current = fs

	// The state is linked before the name is interned so the function
	// is rooted if interning collects.
	if kind != kindScript {
		fs.fn.Name = c.vm.Intern(name).Handle()
	}

	// Slot zero holds the callee, or the receiver inside methods.
	slot0 := ""
	if kind == kindMethod || kind == kindInitializer {
		slot0 = "this"
	}
	fs.locals = append(fs.locals, local{name: slot0, depth: 0})
}

func (c *Compiler) endFunction() *vm.FunctionObject {
	fs := c.current
	fs.fn.UpvalueCount = len(fs.upvalues)
	fs.fn.Chunk.Upvalues = fs.upvalues
	c.current = fs.enclosing
	return fs.fn
}

func (c *Compiler) chunk() *vm.Chunk {
	return c.current.fn.Chunk
}

// ---------------------------------------------------------------------------
// Emission
// ---------------------------------------------------------------------------

func (c *Compiler) emitOp(op vm.Opcode, pos Position) {
	c.chunk().WriteOp(op, pos.Offset)
}

func (c *Compiler) emitOpByte(op vm.Opcode, b byte, pos Position) {
	c.chunk().WriteOp(op, pos.Offset)
	c.chunk().Write(b, pos.Offset)
}

func (c *Compiler) emitReturn(pos Position) {
	if c.current.kind == kindInitializer {
		c.emitOpByte(vm.OpGetLocal, 0, pos)
	} else {
		c.emitOp(vm.OpNil, pos)
	}
	c.emitOp(vm.OpReturn, pos)
}

func (c *Compiler) emitConstant(v vm.Value, pos Position) {
	if _, err := c.chunk().WriteConstant(v, pos.Offset); err != nil {
		c.constantError(err, pos)
	}
}

func (c *Compiler) constantError(err error, pos Position) {
	if errors.Is(err, vm.ErrConstantPoolOverflow) {
		c.errorAt(pos, CodeTooManyConstants, "Too many constants in one chunk.")
		return
	}
	c.errorAt(pos, CodeTooManyConstants, err.Error())
}

// identifierConstant returns the pool index of the interned name,
// adding it once per function.
func (c *Compiler) identifierConstant(name string, pos Position) int {
	if idx, ok := c.current.names[name]; ok {
		return idx
	}
	idx, err := c.chunk().AddConstant(c.vm.Intern(name))
	if err != nil {
		c.constantError(err, pos)
		return 0
	}
	c.current.names[name] = idx
	return idx
}

// emitNameOp emits op with a 24-bit name operand.
func (c *Compiler) emitNameOp(op vm.Opcode, name string, pos Position) {
	idx := c.identifierConstant(name, pos)
	c.emitOp(op, pos)
	c.chunk().WriteU24(idx, pos.Offset)
}

func (c *Compiler) emitJump(op vm.Opcode, pos Position) int {
	return c.chunk().WriteJump(op, pos.Offset)
}

func (c *Compiler) patchJump(placeholder int, pos Position) {
	if err := c.chunk().PatchJump(placeholder); err != nil {
		c.errorAt(pos, CodeJumpTooLarge, "Too much code to jump over.")
	}
}

func (c *Compiler) emitLoop(loopStart int, pos Position) {
	if err := c.chunk().WriteLoop(loopStart, pos.Offset); err != nil {
		c.errorAt(pos, CodeJumpTooLarge, "Loop body too large.")
	}
}

// ---------------------------------------------------------------------------
// Scopes and variables
// ---------------------------------------------------------------------------

func (c *Compiler) beginScope() {
	c.current.scopeDepth++
}

func (c *Compiler) endScope(pos Position) {
	fs := c.current
	fs.scopeDepth--
	for len(fs.locals) > 0 && fs.locals[len(fs.locals)-1].depth > fs.scopeDepth {
		if fs.locals[len(fs.locals)-1].captured {
			c.emitOp(vm.OpCloseUpvalue, pos)
		} else {
			c.emitOp(vm.OpPop, pos)
		}
		fs.locals = fs.locals[:len(fs.locals)-1]
	}
}

func (c *Compiler) addLocal(name string, pos Position) {
	fs := c.current
	if len(fs.locals) == maxLocals {
		c.errorAt(pos, CodeTooManyLocals, "Too many local variables in function.")
		return
	}
	fs.locals = append(fs.locals, local{name: name, depth: -1})
}

// declareVariable registers a local in the current scope. Globals are
// late bound and need no declaration.
func (c *Compiler) declareVariable(name string, pos Position) {
	fs := c.current
	if fs.scopeDepth == 0 {
		return
	}
	for i := len(fs.locals) - 1; i >= 0; i-- {
		l := fs.locals[i]
		if l.depth != -1 && l.depth < fs.scopeDepth {
			break
		}
		if l.name == name {
			c.errorAt(pos, CodeDuplicateLocal, "Already a variable with this name in this scope.")
		}
	}
	c.addLocal(name, pos)
}

func (c *Compiler) markInitialized() {
	fs := c.current
	if fs.scopeDepth == 0 {
		return
	}
	fs.locals[len(fs.locals)-1].depth = fs.scopeDepth
}

// defineVariable completes a declaration whose value is on the stack.
func (c *Compiler) defineVariable(name string, pos Position) {
	if c.current.scopeDepth > 0 {
		c.markInitialized()
		return
	}
	c.emitNameOp(vm.OpDefineGlobal, name, pos)
}

func (c *Compiler) resolveLocal(fs *funcState, name string, pos Position) int {
	for i := len(fs.locals) - 1; i >= 0; i-- {
		if fs.locals[i].name == name {
			if fs.locals[i].depth == -1 {
				c.errorAt(pos, CodeOwnInitializer, "Can't read local variable in its own initializer.")
			}
			return i
		}
	}
	return -1
}

func (c *Compiler) addUpvalue(fs *funcState, index int, isLocal bool, pos Position) int {
	for i, uv := range fs.upvalues {
		if int(uv.Index) == index && uv.IsLocal == isLocal {
			return i
		}
	}
	if len(fs.upvalues) == maxUpvalues {
		c.errorAt(pos, CodeTooManyUpvalues, "Too many closure variables in function.")
		return 0
	}
	fs.upvalues = append(fs.upvalues, vm.UpvalueDescriptor{IsLocal: isLocal, Index: uint8(index)})
	return len(fs.upvalues) - 1
}

func (c *Compiler) resolveUpvalue(fs *funcState, name string, pos Position) int {
	if fs.enclosing == nil {
		return -1
	}
	if idx := c.resolveLocal(fs.enclosing, name, pos); idx != -1 {
		fs.enclosing.locals[idx].captured = true
		return c.addUpvalue(fs, idx, true, pos)
	}
	if idx := c.resolveUpvalue(fs.enclosing, name, pos); idx != -1 {
		return c.addUpvalue(fs, idx, false, pos)
	}
	return -1
}

// namedVariable loads name, or stores into it when value is non-nil.
func (c *Compiler) namedVariable(name string, value Expr, pos Position) {
	getOp, setOp := vm.OpGetLocal, vm.OpSetLocal
	arg := c.resolveLocal(c.current, name, pos)
	if arg == -1 {
		arg = c.resolveUpvalue(c.current, name, pos)
		getOp, setOp = vm.OpGetUpvalue, vm.OpSetUpvalue
	}

	if arg == -1 {
		if value != nil {
			c.compileExpr(value)
			c.emitNameOp(vm.OpSetGlobal, name, pos)
		} else {
			c.emitNameOp(vm.OpGetGlobal, name, pos)
		}
		return
	}

	if value != nil {
		c.compileExpr(value)
		c.emitOpByte(setOp, byte(arg), pos)
	} else {
		c.emitOpByte(getOp, byte(arg), pos)
	}
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (c *Compiler) compileStmt(stmt Stmt) {
	switch s := stmt.(type) {
	case *ExprStmt:
		c.compileExpr(s.Expr)
		c.emitOp(vm.OpPop, s.SpanVal.End)

	case *PrintStmt:
		c.compileExpr(s.Expr)
		c.emitOp(vm.OpPrint, s.SpanVal.Start)

	case *VarStmt:
		c.declareVariable(s.Name, s.NamePos)
		if s.Init != nil {
			c.compileExpr(s.Init)
		} else {
			c.emitOp(vm.OpNil, s.NamePos)
		}
		c.defineVariable(s.Name, s.NamePos)

	case *BlockStmt:
		c.beginScope()
		for _, inner := range s.Stmts {
			c.compileStmt(inner)
		}
		c.endScope(s.SpanVal.End)

	case *IfStmt:
		c.compileIf(s)

	case *WhileStmt:
		c.compileWhile(s)

	case *ForStmt:
		c.compileFor(s)

	case *FunctionDecl:
		c.declareVariable(s.Name, s.NamePos)
		c.markInitialized()
		c.compileFunction(s, kindFunction)
		c.defineVariable(s.Name, s.NamePos)

	case *ReturnStmt:
		c.compileReturn(s)

	case *ClassStmt:
		c.compileClass(s)
	}
}

func (c *Compiler) compileIf(s *IfStmt) {
	pos := s.SpanVal.Start
	c.compileExpr(s.Cond)

	thenJump := c.emitJump(vm.OpJumpIfFalse, pos)
	c.emitOp(vm.OpPop, pos)
	c.compileStmt(s.Then)

	elseJump := c.emitJump(vm.OpJump, pos)
	c.patchJump(thenJump, pos)
	c.emitOp(vm.OpPop, pos)

	if s.Else != nil {
		c.compileStmt(s.Else)
	}
	c.patchJump(elseJump, pos)
}

func (c *Compiler) compileWhile(s *WhileStmt) {
	pos := s.SpanVal.Start
	loopStart := c.chunk().Len()
	c.compileExpr(s.Cond)

	exitJump := c.emitJump(vm.OpJumpIfFalse, pos)
	c.emitOp(vm.OpPop, pos)
	c.compileStmt(s.Body)
	c.emitLoop(loopStart, pos)

	c.patchJump(exitJump, pos)
	c.emitOp(vm.OpPop, pos)
}

func (c *Compiler) compileFor(s *ForStmt) {
	pos := s.SpanVal.Start
	c.beginScope()
	if s.Init != nil {
		c.compileStmt(s.Init)
	}

	loopStart := c.chunk().Len()
	exitJump := -1
	if s.Cond != nil {
		c.compileExpr(s.Cond)
		exitJump = c.emitJump(vm.OpJumpIfFalse, pos)
		c.emitOp(vm.OpPop, pos)
	}

	// The increment runs after the body, so jump over it on the way in
	// and loop back to it from the end of the body.
	if s.Incr != nil {
		bodyJump := c.emitJump(vm.OpJump, pos)
		incrStart := c.chunk().Len()
		c.compileExpr(s.Incr)
		c.emitOp(vm.OpPop, pos)
		c.emitLoop(loopStart, pos)
		loopStart = incrStart
		c.patchJump(bodyJump, pos)
	}

	c.compileStmt(s.Body)
	c.emitLoop(loopStart, pos)

	if exitJump != -1 {
		c.patchJump(exitJump, pos)
		c.emitOp(vm.OpPop, pos)
	}
	c.endScope(s.SpanVal.End)
}

func (c *Compiler) compileReturn(s *ReturnStmt) {
	pos := s.SpanVal.Start
	if c.current.kind == kindScript {
		c.errorAt(pos, CodeTopLevelReturn, "Can't return from top-level code.")
	}
	if s.Value == nil {
		c.emitReturn(pos)
		return
	}
	if c.current.kind == kindInitializer {
		c.errorAt(pos, CodeInitializerReturn, "Can't return a value from an initializer.")
	}
	c.compileExpr(s.Value)
	c.emitOp(vm.OpReturn, pos)
}

// compileFunction compiles decl as a nested function and emits the
// CLOSURE that creates it at runtime.
func (c *Compiler) compileFunction(decl *FunctionDecl, kind functionKind) {
	c.beginFunction(kind, decl.Name)
	c.beginScope()

	for _, p := range decl.Params {
		c.declareVariable(p.Name, p.Pos)
		c.defineVariable(p.Name, p.Pos)
	}
	c.current.fn.Arity = len(decl.Params)

	for _, stmt := range decl.Body {
		c.compileStmt(stmt)
	}
	c.emitReturn(decl.SpanVal.End)

	// No endScope: OpReturn discards the whole frame.
	fn := c.endFunction()

	idx, err := c.chunk().AddConstant(vm.ObjectValue(fn.Handle()))
	if err != nil {
		c.constantError(err, decl.NamePos)
		return
	}
	c.emitOp(vm.OpClosure, decl.NamePos)
	c.chunk().WriteU24(idx, decl.NamePos.Offset)
}

func (c *Compiler) compileClass(s *ClassStmt) {
	pos := s.NamePos
	c.declareVariable(s.Name, pos)
	c.emitNameOp(vm.OpClass, s.Name, pos)
	c.defineVariable(s.Name, pos)

	c.class = &classState{enclosing: c.class}
	defer func() { c.class = c.class.enclosing }()

	if s.Superclass != nil {
		superPos := s.Superclass.SpanVal.Start
		if s.Superclass.Name == s.Name {
			c.errorAt(superPos, CodeSelfInheritance, "A class can't inherit from itself.")
		}
		c.compileExpr(s.Superclass)

		c.beginScope()
		c.addLocal("super", superPos)
		c.defineVariable("super", superPos)

		c.namedVariable(s.Name, nil, pos)
		c.emitOp(vm.OpInherit, superPos)
		c.class.hasSuperclass = true
	}

	c.namedVariable(s.Name, nil, pos)
	for _, m := range s.Methods {
		kind := kindMethod
		if m.Name == "init" {
			kind = kindInitializer
		}
		c.compileFunction(m, kind)
		c.emitNameOp(vm.OpMethod, m.Name, m.NamePos)
	}
	c.emitOp(vm.OpPop, s.SpanVal.End)

	if c.class.hasSuperclass {
		c.endScope(s.SpanVal.End)
	}
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (c *Compiler) compileExpr(expr Expr) {
	switch e := expr.(type) {
	case *NumberLiteral:
		c.emitConstant(vm.NumberValue(e.Value), e.SpanVal.Start)

	case *StringLiteral:
		c.emitConstant(c.vm.Intern(e.Value), e.SpanVal.Start)

	case *KeywordLiteral:
		switch e.Kind {
		case LiteralNil:
			c.emitOp(vm.OpNil, e.SpanVal.Start)
		case LiteralTrue:
			c.emitOp(vm.OpTrue, e.SpanVal.Start)
		case LiteralFalse:
			c.emitOp(vm.OpFalse, e.SpanVal.Start)
		}

	case *Variable:
		c.namedVariable(e.Name, nil, e.SpanVal.Start)

	case *Assign:
		c.namedVariable(e.Name, e.Value, e.SpanVal.Start)

	case *Unary:
		c.compileExpr(e.Operand)
		if e.Op == TokenMinus {
			c.emitOp(vm.OpNegate, e.SpanVal.Start)
		} else {
			c.emitOp(vm.OpNot, e.SpanVal.Start)
		}

	case *Binary:
		c.compileExpr(e.Left)
		c.compileExpr(e.Right)
		c.emitOp(binaryOps[e.Op], e.OpPos)

	case *Logical:
		c.compileLogical(e)

	case *Call:
		c.compileCall(e)

	case *Get:
		c.compileExpr(e.Object)
		c.emitNameOp(vm.OpGetProperty, e.Name, e.SpanVal.Start)

	case *Set:
		c.compileExpr(e.Object)
		c.compileExpr(e.Value)
		c.emitNameOp(vm.OpSetProperty, e.Name, e.SpanVal.Start)

	case *This:
		if c.class == nil {
			c.errorAt(e.SpanVal.Start, CodeThisOutsideClass, "Can't use 'this' outside of a class.")
			return
		}
		c.namedVariable("this", nil, e.SpanVal.Start)

	case *Super:
		if !c.checkSuper(e) {
			return
		}
		pos := e.SpanVal.Start
		c.namedVariable("this", nil, pos)
		c.namedVariable("super", nil, pos)
		c.emitNameOp(vm.OpGetSuper, e.Method, pos)

	case *BadExpr:
		// Already reported by the parser.

	default:
		panic(fmt.Sprintf("compiler: unexpected expression %T", expr))
	}
}

var binaryOps = map[TokenType]vm.Opcode{
	TokenPlus:         vm.OpAdd,
	TokenMinus:        vm.OpSubtract,
	TokenStar:         vm.OpMultiply,
	TokenSlash:        vm.OpDivide,
	TokenEqualEqual:   vm.OpEqual,
	TokenBangEqual:    vm.OpNotEqual,
	TokenGreater:      vm.OpGreater,
	TokenGreaterEqual: vm.OpGreaterEqual,
	TokenLess:         vm.OpLess,
	TokenLessEqual:    vm.OpLessEqual,
}

func (c *Compiler) checkSuper(e *Super) bool {
	switch {
	case c.class == nil:
		c.errorAt(e.SpanVal.Start, CodeSuperMisuse, "Can't use 'super' outside of a class.")
		return false
	case !c.class.hasSuperclass:
		c.errorAt(e.SpanVal.Start, CodeSuperMisuse, "Can't use 'super' in a class with no superclass.")
		return false
	}
	return true
}

func (c *Compiler) compileLogical(e *Logical) {
	pos := e.SpanVal.Start
	c.compileExpr(e.Left)
	if e.Op == TokenAnd {
		endJump := c.emitJump(vm.OpJumpIfFalse, pos)
		c.emitOp(vm.OpPop, pos)
		c.compileExpr(e.Right)
		c.patchJump(endJump, pos)
		return
	}

	elseJump := c.emitJump(vm.OpJumpIfFalse, pos)
	endJump := c.emitJump(vm.OpJump, pos)
	c.patchJump(elseJump, pos)
	c.emitOp(vm.OpPop, pos)
	c.compileExpr(e.Right)
	c.patchJump(endJump, pos)
}

// compileCall emits CALL, or the fused INVOKE and SUPER_INVOKE forms
// when the callee is a property or super access.
func (c *Compiler) compileCall(e *Call) {
	pos := e.SpanVal.Start
	argc := byte(len(e.Args))

	switch callee := e.Callee.(type) {
	case *Get:
		c.compileExpr(callee.Object)
		c.compileArgs(e.Args)
		c.emitNameOp(vm.OpInvoke, callee.Name, callee.SpanVal.Start)
		c.chunk().Write(argc, callee.SpanVal.Start.Offset)
		return

	case *Super:
		if !c.checkSuper(callee) {
			return
		}
		c.namedVariable("this", nil, pos)
		c.compileArgs(e.Args)
		c.namedVariable("super", nil, pos)
		c.emitNameOp(vm.OpSuperInvoke, callee.Method, pos)
		c.chunk().Write(argc, pos.Offset)
		return
	}

	c.compileExpr(e.Callee)
	c.compileArgs(e.Args)
	c.emitOpByte(vm.OpCall, argc, pos)
}

func (c *Compiler) compileArgs(args []Expr) {
	for _, arg := range args {
		c.compileExpr(arg)
	}
}
