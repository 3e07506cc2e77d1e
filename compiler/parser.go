package compiler

import (
	"fmt"
	"strconv"

	"github.com/QaisAlsaid/oklang-sub000/vm"
)

// ---------------------------------------------------------------------------
// Parser: Pratt parser producing an AST
// ---------------------------------------------------------------------------

// Parser parses oklang source into a Program. Errors do not stop the
// parse: after reporting one, the parser skips to the next statement
// boundary and continues, so a single pass reports every independent
// mistake.
type Parser struct {
	lexer     *Lexer
	prevToken Token // most recently consumed
	curToken  Token // lookahead

	diags     []vm.Diagnostic
	panicMode bool
	result    Expr
}

// NewParser creates a parser for the given input.
func NewParser(input string) *Parser {
	p := &Parser{lexer: NewLexer(input)}
	p.advance()
	return p
}

// Parse parses input and returns the program with any diagnostics.
func Parse(input string) (*Program, []vm.Diagnostic) {
	p := NewParser(input)
	prog := p.ParseProgram()
	return prog, p.Diagnostics()
}

// Diagnostics returns the errors reported so far.
func (p *Parser) Diagnostics() []vm.Diagnostic {
	return p.diags
}

// ParseProgram parses declarations until EOF.
func (p *Parser) ParseProgram() *Program {
	prog := &Program{}
	for !p.check(TokenEOF) {
		if stmt := p.declaration(true); stmt != nil {
			prog.Stmts = append(prog.Stmts, stmt)
		}
	}
	prog.Result = p.result
	prog.End = p.curToken.Pos
	return prog
}

// ---------------------------------------------------------------------------
// Token handling
// ---------------------------------------------------------------------------

func (p *Parser) advance() {
	p.prevToken = p.curToken
	for {
		p.curToken = p.lexer.NextToken()
		if p.curToken.Type != TokenError {
			return
		}
		p.errorAt(p.curToken, p.curToken.Code, p.curToken.Literal)
	}
}

func (p *Parser) check(t TokenType) bool {
	return p.curToken.Type == t
}

func (p *Parser) match(t TokenType) bool {
	if !p.check(t) {
		return false
	}
	p.advance()
	return true
}

// expect consumes a token of type t or reports msg.
func (p *Parser) expect(t TokenType, msg string) bool {
	if p.check(t) {
		p.advance()
		return true
	}
	p.errorAt(p.curToken, CodeExpectToken, msg)
	return false
}

// errorAt records a diagnostic at tok unless the parser is already
// recovering from an earlier error.
func (p *Parser) errorAt(tok Token, code, msg string) {
	if p.panicMode {
		return
	}
	p.panicMode = true
	p.diags = append(p.diags, vm.Diagnostic{
		Code:    code,
		Message: msg,
		Pos:     tok.Pos.Offset,
		Line:    tok.Pos.Line,
		Column:  tok.Pos.Column,
	})
}

// synchronize skips tokens until a likely statement boundary.
func (p *Parser) synchronize() {
	p.panicMode = false
	for !p.check(TokenEOF) {
		if p.prevToken.Type == TokenSemicolon {
			return
		}
		switch p.curToken.Type {
		case TokenClass, TokenFun, TokenVar, TokenFor, TokenIf,
			TokenWhile, TokenPrint, TokenReturn:
			return
		}
		p.advance()
	}
}

func spanFrom(start Position, end Token) Span {
	return Span{Start: start, End: end.End}
}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

// declaration parses one declaration. top is true only for statements
// directly in the script body, where a trailing expression without a
// semicolon becomes the script's result.
func (p *Parser) declaration(top bool) Stmt {
	var stmt Stmt
	switch {
	case p.match(TokenClass):
		stmt = p.classDeclaration()
	case p.match(TokenFun):
		stmt = p.function()
	case p.match(TokenVar):
		stmt = p.varDeclaration()
	default:
		stmt = p.statement(top)
	}

	if p.panicMode {
		p.synchronize()
	}
	return stmt
}

func (p *Parser) classDeclaration() Stmt {
	start := p.prevToken.Pos
	p.expect(TokenIdentifier, "Expect class name.")
	cls := &ClassStmt{Name: p.prevToken.Literal, NamePos: p.prevToken.Pos}

	if p.match(TokenLess) {
		p.expect(TokenIdentifier, "Expect superclass name.")
		cls.Superclass = &Variable{
			SpanVal: Span{Start: p.prevToken.Pos, End: p.prevToken.End},
			Name:    p.prevToken.Literal,
		}
	}

	p.expect(TokenLBrace, "Expect '{' before class body.")
	for !p.check(TokenRBrace) && !p.check(TokenEOF) {
		cls.Methods = append(cls.Methods, p.function())
		if p.panicMode {
			break
		}
	}
	p.expect(TokenRBrace, "Expect '}' after class body.")
	cls.SpanVal = spanFrom(start, p.prevToken)
	return cls
}

// function parses name(params) { body } after 'fun', or a method.
func (p *Parser) function() *FunctionDecl {
	start := p.curToken.Pos
	p.expect(TokenIdentifier, "Expect function name.")
	fn := &FunctionDecl{Name: p.prevToken.Literal, NamePos: p.prevToken.Pos}

	p.expect(TokenLParen, "Expect '(' after function name.")
	if !p.check(TokenRParen) {
		for {
			if len(fn.Params) == maxArguments {
				p.errorAt(p.curToken, CodeTooManyArguments,
					fmt.Sprintf("Can't have more than %d parameters.", maxArguments))
			}
			p.expect(TokenIdentifier, "Expect parameter name.")
			fn.Params = append(fn.Params, Param{Name: p.prevToken.Literal, Pos: p.prevToken.Pos})
			if !p.match(TokenComma) {
				break
			}
		}
	}
	p.expect(TokenRParen, "Expect ')' after parameters.")
	p.expect(TokenLBrace, "Expect '{' before function body.")
	fn.Body = p.block()
	fn.SpanVal = spanFrom(start, p.prevToken)
	return fn
}

func (p *Parser) varDeclaration() Stmt {
	start := p.prevToken.Pos
	p.expect(TokenIdentifier, "Expect variable name.")
	v := &VarStmt{Name: p.prevToken.Literal, NamePos: p.prevToken.Pos}
	if p.match(TokenEqual) {
		v.Init = p.expression()
	}
	p.expect(TokenSemicolon, "Expect ';' after variable declaration.")
	v.SpanVal = spanFrom(start, p.prevToken)
	return v
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (p *Parser) statement(top bool) Stmt {
	switch {
	case p.match(TokenPrint):
		return p.printStatement()
	case p.match(TokenFor):
		return p.forStatement()
	case p.match(TokenIf):
		return p.ifStatement()
	case p.match(TokenReturn):
		return p.returnStatement()
	case p.match(TokenWhile):
		return p.whileStatement()
	case p.match(TokenLBrace):
		start := p.prevToken.Pos
		stmts := p.block()
		return &BlockStmt{SpanVal: spanFrom(start, p.prevToken), Stmts: stmts}
	}
	return p.expressionStatement(top)
}

// block parses declarations up to and including the closing brace.
func (p *Parser) block() []Stmt {
	var stmts []Stmt
	for !p.check(TokenRBrace) && !p.check(TokenEOF) {
		if stmt := p.declaration(false); stmt != nil {
			stmts = append(stmts, stmt)
		}
	}
	p.expect(TokenRBrace, "Expect '}' after block.")
	return stmts
}

func (p *Parser) printStatement() Stmt {
	start := p.prevToken.Pos
	value := p.expression()
	p.expect(TokenSemicolon, "Expect ';' after value.")
	return &PrintStmt{SpanVal: spanFrom(start, p.prevToken), Expr: value}
}

func (p *Parser) expressionStatement(top bool) Stmt {
	start := p.curToken.Pos
	expr := p.expression()
	if top && p.check(TokenEOF) && !p.panicMode {
		p.result = expr
		return nil
	}
	p.expect(TokenSemicolon, "Expect ';' after expression.")
	return &ExprStmt{SpanVal: spanFrom(start, p.prevToken), Expr: expr}
}

func (p *Parser) ifStatement() Stmt {
	start := p.prevToken.Pos
	p.expect(TokenLParen, "Expect '(' after 'if'.")
	cond := p.expression()
	p.expect(TokenRParen, "Expect ')' after condition.")

	stmt := &IfStmt{Cond: cond, Then: p.statement(false)}
	if p.match(TokenElse) {
		stmt.Else = p.statement(false)
	}
	stmt.SpanVal = spanFrom(start, p.prevToken)
	return stmt
}

func (p *Parser) whileStatement() Stmt {
	start := p.prevToken.Pos
	p.expect(TokenLParen, "Expect '(' after 'while'.")
	cond := p.expression()
	p.expect(TokenRParen, "Expect ')' after condition.")
	body := p.statement(false)
	return &WhileStmt{SpanVal: spanFrom(start, p.prevToken), Cond: cond, Body: body}
}

func (p *Parser) forStatement() Stmt {
	start := p.prevToken.Pos
	stmt := &ForStmt{}
	p.expect(TokenLParen, "Expect '(' after 'for'.")

	switch {
	case p.match(TokenSemicolon):
		// No initializer.
	case p.match(TokenVar):
		stmt.Init = p.varDeclaration()
	default:
		stmt.Init = p.expressionStatement(false)
	}

	if !p.check(TokenSemicolon) {
		stmt.Cond = p.expression()
	}
	p.expect(TokenSemicolon, "Expect ';' after loop condition.")

	if !p.check(TokenRParen) {
		stmt.Incr = p.expression()
	}
	p.expect(TokenRParen, "Expect ')' after for clauses.")

	stmt.Body = p.statement(false)
	stmt.SpanVal = spanFrom(start, p.prevToken)
	return stmt
}

func (p *Parser) returnStatement() Stmt {
	start := p.prevToken.Pos
	stmt := &ReturnStmt{}
	if !p.check(TokenSemicolon) {
		stmt.Value = p.expression()
	}
	p.expect(TokenSemicolon, "Expect ';' after return value.")
	stmt.SpanVal = spanFrom(start, p.prevToken)
	return stmt
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

type precedence int

const (
	precNone       precedence = iota
	precAssignment            // =
	precOr                    // or
	precAnd                   // and
	precEquality              // == !=
	precComparison            // < > <= >=
	precTerm                  // + -
	precFactor                // * /
	precUnary                 // ! -
	precCall                  // . ()
	precPrimary
)

var infixPrecedence = map[TokenType]precedence{
	TokenOr:           precOr,
	TokenAnd:          precAnd,
	TokenEqualEqual:   precEquality,
	TokenBangEqual:    precEquality,
	TokenLess:         precComparison,
	TokenLessEqual:    precComparison,
	TokenGreater:      precComparison,
	TokenGreaterEqual: precComparison,
	TokenPlus:         precTerm,
	TokenMinus:        precTerm,
	TokenStar:         precFactor,
	TokenSlash:        precFactor,
	TokenLParen:       precCall,
	TokenDot:          precCall,
}

func (p *Parser) expression() Expr {
	return p.parsePrecedence(precAssignment)
}

func (p *Parser) parsePrecedence(prec precedence) Expr {
	p.advance()
	canAssign := prec <= precAssignment

	left := p.prefix(canAssign)
	if left == nil {
		p.errorAt(p.prevToken, CodeExpectExpression, "Expect expression.")
		return &BadExpr{SpanVal: Span{Start: p.prevToken.Pos, End: p.prevToken.End}}
	}

	for prec <= infixPrecedence[p.curToken.Type] {
		p.advance()
		left = p.infix(left, canAssign)
	}

	if canAssign && p.match(TokenEqual) {
		p.errorAt(p.prevToken, CodeInvalidAssignment, "Invalid assignment target.")
	}
	return left
}

// prefix parses the expression starting at prevToken, or returns nil if
// no expression can start there.
func (p *Parser) prefix(canAssign bool) Expr {
	tok := p.prevToken
	tokSpan := Span{Start: tok.Pos, End: tok.End}

	switch tok.Type {
	case TokenLParen:
		expr := p.expression()
		p.expect(TokenRParen, "Expect ')' after expression.")
		return expr

	case TokenMinus, TokenBang:
		operand := p.parsePrecedence(precUnary)
		return &Unary{SpanVal: Span{Start: tok.Pos, End: operand.Span().End}, Op: tok.Type, Operand: operand}

	case TokenNumber:
		f, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			p.errorAt(tok, CodeInvalidNumber, fmt.Sprintf("Invalid number literal '%s'.", tok.Literal))
		}
		return &NumberLiteral{SpanVal: tokSpan, Value: f}

	case TokenString:
		return &StringLiteral{SpanVal: tokSpan, Value: tok.Literal}

	case TokenNil:
		return &KeywordLiteral{SpanVal: tokSpan, Kind: LiteralNil}
	case TokenTrue:
		return &KeywordLiteral{SpanVal: tokSpan, Kind: LiteralTrue}
	case TokenFalse:
		return &KeywordLiteral{SpanVal: tokSpan, Kind: LiteralFalse}

	case TokenIdentifier:
		if canAssign && p.match(TokenEqual) {
			value := p.expression()
			return &Assign{SpanVal: Span{Start: tok.Pos, End: value.Span().End}, Name: tok.Literal, Value: value}
		}
		return &Variable{SpanVal: tokSpan, Name: tok.Literal}

	case TokenThis:
		return &This{SpanVal: tokSpan}

	case TokenSuper:
		p.expect(TokenDot, "Expect '.' after 'super'.")
		p.expect(TokenIdentifier, "Expect superclass method name.")
		return &Super{SpanVal: spanFrom(tok.Pos, p.prevToken), Method: p.prevToken.Literal}
	}
	return nil
}

// infix parses the operator in prevToken applied to left.
func (p *Parser) infix(left Expr, canAssign bool) Expr {
	tok := p.prevToken
	start := left.Span().Start

	switch tok.Type {
	case TokenAnd:
		right := p.parsePrecedence(precAnd)
		return &Logical{SpanVal: Span{Start: start, End: right.Span().End}, Op: tok.Type, Left: left, Right: right}

	case TokenOr:
		right := p.parsePrecedence(precOr)
		return &Logical{SpanVal: Span{Start: start, End: right.Span().End}, Op: tok.Type, Left: left, Right: right}

	case TokenLParen:
		call := &Call{Callee: left}
		if !p.check(TokenRParen) {
			for {
				if len(call.Args) == maxArguments {
					p.errorAt(p.curToken, CodeTooManyArguments,
						fmt.Sprintf("Can't have more than %d arguments.", maxArguments))
				}
				call.Args = append(call.Args, p.expression())
				if !p.match(TokenComma) {
					break
				}
			}
		}
		p.expect(TokenRParen, "Expect ')' after arguments.")
		call.SpanVal = spanFrom(start, p.prevToken)
		return call

	case TokenDot:
		p.expect(TokenIdentifier, "Expect property name after '.'.")
		name := p.prevToken.Literal
		if canAssign && p.match(TokenEqual) {
			value := p.expression()
			return &Set{SpanVal: Span{Start: start, End: value.Span().End}, Object: left, Name: name, Value: value}
		}
		return &Get{SpanVal: spanFrom(start, p.prevToken), Object: left, Name: name}
	}

	// Arithmetic and comparison operators are left-associative.
	right := p.parsePrecedence(infixPrecedence[tok.Type] + 1)
	return &Binary{
		SpanVal: Span{Start: start, End: right.Span().End},
		Op:      tok.Type,
		OpPos:   tok.Pos,
		Left:    left,
		Right:   right,
	}
}
