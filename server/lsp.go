package server

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/QaisAlsaid/oklang-sub000/compiler"
	"github.com/QaisAlsaid/oklang-sub000/vm"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "oklang-lsp"

var lspLog = commonlog.GetLogger("oklang.lsp")

var keywords = []string{
	"and", "class", "else", "false", "for", "fun", "if", "nil",
	"or", "print", "return", "super", "this", "true", "var", "while",
}

var nativeDocs = map[string]string{
	"clock": "clock() returns seconds since the VM started.",
	"str":   "str(x) returns x formatted the way print shows it.",
	"len":   "len(s) returns the number of characters in string s.",
	"type":  "type(x) returns the name of x's type.",
	"gc":    "gc() forces a collection and returns the number of bytes freed.",
}

// LspServer provides editor diagnostics, completion, hover and
// go-to-definition for oklang scripts.
type LspServer struct {
	worker *VMWorker

	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server. The VM supplies the global names
// offered as completions.
func NewLSP(v *vm.VM) *LspServer {
	worker := NewVMWorker(v)
	s := &LspServer{
		worker:  worker,
		docs:    make(map[string]string),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	lspLog.Info("oklang LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{"."},
	}

	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	s.worker.Stop()
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()

	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			s.docs[string(uri)] = whole.Text
			s.mu.Unlock()

			s.publishDiagnostics(ctx, uri, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LspServer) document(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[string(uri)]
	return text, ok
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	prefix := extractPrefix(text, params.Position)
	if prefix == "" {
		return nil, nil
	}

	result, err := s.worker.Do(context.Background(), func(v *vm.VM) any {
		return v.GlobalNames()
	})
	if err != nil {
		return nil, err
	}
	return complete(prefix, result.([]string), declarations(text)), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	return hover(word, declarations(text)), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	word := extractWord(text, params.Position)
	for _, d := range declarations(text) {
		if d.name == word {
			pos := toLSPPosition(d.pos.Line, d.pos.Column)
			return []protocol.Location{{
				URI: params.TextDocument.URI,
				Range: protocol.Range{
					Start: pos,
					End:   protocol.Position{Line: pos.Line, Character: pos.Character + protocol.UInteger(utf8.RuneCountInString(word))},
				},
			}}, nil
		}
	}
	return nil, nil
}

// declaration is a top-level name a document defines.
type declaration struct {
	name   string
	kind   protocol.CompletionItemKind
	detail string
	pos    compiler.Position
}

// declarations lists the top-level functions, classes and variables of
// text. Documents that fail to parse contribute nothing.
func declarations(text string) []declaration {
	prog, diags := compiler.Parse(text)
	if len(diags) > 0 || prog == nil {
		return nil
	}

	var out []declaration
	for _, stmt := range prog.Stmts {
		switch n := stmt.(type) {
		case *compiler.FunctionDecl:
			out = append(out, declaration{
				name:   n.Name,
				kind:   protocol.CompletionItemKindFunction,
				detail: signature(n),
				pos:    n.NamePos,
			})
		case *compiler.ClassStmt:
			detail := "class " + n.Name
			if n.Superclass != nil {
				detail += " < " + n.Superclass.Name
			}
			out = append(out, declaration{
				name:   n.Name,
				kind:   protocol.CompletionItemKindClass,
				detail: detail,
				pos:    n.NamePos,
			})
		case *compiler.VarStmt:
			out = append(out, declaration{
				name:   n.Name,
				kind:   protocol.CompletionItemKindVariable,
				detail: "var " + n.Name,
				pos:    n.NamePos,
			})
		}
	}
	return out
}

func signature(fn *compiler.FunctionDecl) string {
	params := make([]string, len(fn.Params))
	for i, p := range fn.Params {
		params[i] = p.Name
	}
	return fmt.Sprintf("fun %s(%s)", fn.Name, strings.Join(params, ", "))
}

// complete returns keywords, VM globals and document declarations that
// start with prefix, sorted by label.
func complete(prefix string, globals []string, decls []declaration) []protocol.CompletionItem {
	seen := make(map[string]bool)
	var items []protocol.CompletionItem
	add := func(label string, kind protocol.CompletionItemKind, detail string) {
		if seen[label] || !strings.HasPrefix(label, prefix) {
			return
		}
		seen[label] = true
		item := protocol.CompletionItem{Label: label, Kind: &kind}
		if detail != "" {
			d := detail
			item.Detail = &d
		}
		items = append(items, item)
	}

	for _, d := range decls {
		add(d.name, d.kind, d.detail)
	}
	for _, g := range globals {
		if _, native := nativeDocs[g]; native {
			add(g, protocol.CompletionItemKindFunction, "native")
		} else {
			add(g, protocol.CompletionItemKindVariable, "global")
		}
	}
	for _, kw := range keywords {
		add(kw, protocol.CompletionItemKindKeyword, "")
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Label < items[j].Label })
	return items
}

// hover describes word: a document declaration first, then a native.
func hover(word string, decls []declaration) *protocol.Hover {
	var value string
	for _, d := range decls {
		if d.name == word {
			value = fmt.Sprintf("```oklang\n%s\n```\n\nDefined at line %d.", d.detail, d.pos.Line)
			break
		}
	}
	if value == "" {
		doc, ok := nativeDocs[word]
		if !ok {
			return nil
		}
		value = fmt.Sprintf("**%s** (native)\n\n%s", word, doc)
	}
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: value,
		},
	}
}

// --- Diagnostics ---

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	diagnostics := lspDiagnostics(text, compiler.Check(string(uri), text))
	lspLog.Debugf("%s: %d diagnostics", uri, len(diagnostics))

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

// lspDiagnostics converts compiler diagnostics to LSP ones. Each range
// covers the word at the reported position, or one character.
func lspDiagnostics(text string, diags []vm.Diagnostic) []protocol.Diagnostic {
	lines := strings.Split(text, "\n")
	out := make([]protocol.Diagnostic, 0, len(diags))
	source := lspName
	for _, d := range diags {
		start := toLSPPosition(d.Line, d.Column)
		width := 1
		if int(start.Line) < len(lines) {
			width = wordWidth(lines[start.Line], int(start.Character))
		}
		severity := protocol.DiagnosticSeverityError
		if compiler.IsWarning(d) {
			severity = protocol.DiagnosticSeverityWarning
		}
		code := protocol.IntegerOrString{Value: d.Code}
		out = append(out, protocol.Diagnostic{
			Range: protocol.Range{
				Start: start,
				End:   protocol.Position{Line: start.Line, Character: start.Character + protocol.UInteger(width)},
			},
			Severity: &severity,
			Code:     &code,
			Source:   &source,
			Message:  d.Message,
		})
	}
	return out
}

// toLSPPosition converts 1-based line and column to a 0-based position.
func toLSPPosition(line, column int) protocol.Position {
	if line < 1 {
		line = 1
	}
	if column < 1 {
		column = 1
	}
	return protocol.Position{Line: protocol.UInteger(line - 1), Character: protocol.UInteger(column - 1)}
}

// --- Text extraction helpers ---

// extractPrefix returns the word fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	// Walk backwards from cursor to find the start of the identifier
	start := col
	for start > 0 && isIdentByte(line[start-1]) {
		start--
	}
	return line[start:col]
}

// extractWord returns the full identifier under the cursor.
func extractWord(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	start := col
	for start > 0 && isIdentByte(line[start-1]) {
		start--
	}
	end := col
	for end < len(line) && isIdentByte(line[end]) {
		end++
	}
	return line[start:end]
}

// wordWidth returns the length in runes of the identifier starting at
// rune column col of line, or 1 when there is none.
func wordWidth(line string, col int) int {
	runes := []rune(line)
	n := 0
	for col+n < len(runes) {
		ch := runes[col+n]
		if !unicode.IsLetter(ch) && !unicode.IsDigit(ch) && ch != '_' {
			break
		}
		n++
	}
	if n == 0 {
		return 1
	}
	return n
}

func isIdentByte(b byte) bool {
	ch := rune(b)
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}

func boolPtr(b bool) *bool {
	return &b
}
