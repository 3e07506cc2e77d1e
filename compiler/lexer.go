package compiler

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Lexer: Tokenizer for oklang syntax
// ---------------------------------------------------------------------------

// Lexer tokenizes oklang source code.
type Lexer struct {
	input     string
	pos       int  // current position in input
	readPos   int  // reading position (after current char)
	ch        rune // current character
	line      int  // current line (1-based)
	lineStart int  // offset of current line start
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{
		input: input,
		line:  1,
	}
	l.readChar()
	return l
}

// readChar reads the next character.
func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.lineStart = l.readPos
	}
	if l.readPos >= len(l.input) {
		l.ch = 0 // EOF
		l.pos = l.readPos
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	l.ch = r
	l.pos = l.readPos
	l.readPos += size
}

// peekChar returns the next character without consuming it.
func (l *Lexer) peekChar() rune {
	if l.readPos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPos:])
	return r
}

// position returns the current position.
func (l *Lexer) position() Position {
	return Position{
		Offset: l.pos,
		Line:   l.line,
		Column: utf8.RuneCountInString(l.input[l.lineStart:l.pos]) + 1,
	}
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	tok := l.scan()
	tok.End = l.position()
	return tok
}

func (l *Lexer) scan() Token {
	l.skipWhitespaceAndComments()

	pos := l.position()
	if l.pos >= len(l.input) {
		return Token{Type: TokenEOF, Pos: pos}
	}

	switch ch := l.ch; {
	case ch == '"' || ch == '\'':
		return l.readString(pos)

	case isDigit(ch):
		return l.readNumber(pos)

	case isLetter(ch) || ch == '_':
		return l.readIdentifierOrKeyword(pos)
	}

	if typ, lit, ok := l.readOperator(); ok {
		return Token{Type: typ, Literal: lit, Pos: pos}
	}

	ch := l.ch
	l.readChar()
	return Token{
		Type:    TokenError,
		Literal: fmt.Sprintf("Unexpected character '%c'.", ch),
		Pos:     pos,
		Code:    CodeUnexpectedChar,
	}
}

var singleCharTokens = map[rune]TokenType{
	'(': TokenLParen,
	')': TokenRParen,
	'{': TokenLBrace,
	'}': TokenRBrace,
	',': TokenComma,
	'.': TokenDot,
	';': TokenSemicolon,
	'-': TokenMinus,
	'+': TokenPlus,
	'/': TokenSlash,
	'*': TokenStar,
}

// Operators that may be followed by '=' to form a two-character token.
var equalPairs = map[rune][2]TokenType{
	'!': {TokenBang, TokenBangEqual},
	'=': {TokenEqual, TokenEqualEqual},
	'<': {TokenLess, TokenLessEqual},
	'>': {TokenGreater, TokenGreaterEqual},
}

func (l *Lexer) readOperator() (TokenType, string, bool) {
	ch := l.ch
	if typ, ok := singleCharTokens[ch]; ok {
		l.readChar()
		return typ, string(ch), true
	}
	if pair, ok := equalPairs[ch]; ok {
		l.readChar()
		if l.ch == '=' {
			l.readChar()
			return pair[1], string(ch) + "=", true
		}
		return pair[0], string(ch), true
	}
	return TokenError, "", false
}

// skipWhitespaceAndComments skips whitespace and // line comments.
func (l *Lexer) skipWhitespaceAndComments() {
	for {
		for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
			l.readChar()
		}

		if l.ch == '/' && l.peekChar() == '/' {
			for l.ch != '\n' && l.pos < len(l.input) {
				l.readChar()
			}
			continue
		}

		break
	}
}

// readString reads a string literal delimited by " or '. The usual
// backslash escapes are recognized; strings may span lines.
func (l *Lexer) readString(pos Position) Token {
	quote := l.ch
	l.readChar() // consume opening quote

	var sb strings.Builder
	for l.ch != quote {
		if l.pos >= len(l.input) {
			return Token{Type: TokenError, Literal: "Unterminated string.", Pos: pos, Code: CodeUnterminatedString}
		}
		if l.ch == '\\' {
			l.readChar()
			switch l.ch {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case '0':
				sb.WriteByte(0)
			case '\\', '"', '\'':
				sb.WriteRune(l.ch)
			default:
				if l.pos >= len(l.input) {
					continue
				}
				sb.WriteByte('\\')
				sb.WriteRune(l.ch)
			}
			l.readChar()
			continue
		}
		sb.WriteRune(l.ch)
		l.readChar()
	}
	l.readChar() // consume closing quote

	return Token{Type: TokenString, Literal: sb.String(), Pos: pos}
}

// readNumber reads a number literal: digits with an optional fraction.
func (l *Lexer) readNumber(pos Position) Token {
	start := l.pos
	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar() // consume .
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	return Token{Type: TokenNumber, Literal: l.input[start:l.pos], Pos: pos}
}

// readIdentifierOrKeyword reads an identifier or reserved word.
func (l *Lexer) readIdentifierOrKeyword(pos Position) Token {
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	lit := l.input[start:l.pos]
	if typ, ok := reservedWords[lit]; ok {
		return Token{Type: typ, Literal: lit, Pos: pos}
	}
	return Token{Type: TokenIdentifier, Literal: lit, Pos: pos}
}

// Helper functions

func isLetter(r rune) bool {
	return unicode.IsLetter(r)
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// Tokenize returns all tokens from the input, ending with EOF. Error
// tokens are included and scanning continues after them.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			break
		}
	}
	return tokens
}
