package vm

import (
	"errors"
	"fmt"
	"strings"
)

// InterpretResult classifies the outcome of Interpret.
type InterpretResult int

const (
	ResultOK InterpretResult = iota
	ResultCompileError
	ResultRuntimeError
)

func (r InterpretResult) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultCompileError:
		return "compile_error"
	case ResultRuntimeError:
		return "runtime_error"
	default:
		return fmt.Sprintf("InterpretResult(%d)", int(r))
	}
}

// ResultOf maps an error returned by Interpret to its result kind.
func ResultOf(err error) InterpretResult {
	var ce *CompileError
	switch {
	case err == nil:
		return ResultOK
	case errors.As(err, &ce):
		return ResultCompileError
	default:
		return ResultRuntimeError
	}
}

// ErrNoCompiler is returned by Interpret when no compiler is installed.
var ErrNoCompiler = errors.New("no compiler installed; call UseCompiler first")

// Diagnostic is one compile-time problem.
type Diagnostic struct {
	Code    string // stable identifier, e.g. "P001"
	Message string
	Pos     int // byte offset into the source
	Line    int
	Column  int
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%d:%d: [%s] %s", d.Line, d.Column, d.Code, d.Message)
}

// CompileError carries every diagnostic a failed compile produced.
type CompileError struct {
	Source      string
	Diagnostics []Diagnostic
}

func (e *CompileError) Error() string {
	var sb strings.Builder
	for i, d := range e.Diagnostics {
		if i > 0 {
			sb.WriteByte('\n')
		}
		if e.Source != "" {
			sb.WriteString(e.Source)
			sb.WriteByte(':')
		}
		sb.WriteString(d.String())
	}
	return sb.String()
}

// TraceEntry is one frame of a runtime error's call trace.
type TraceEntry struct {
	Function string
	Line     int
}

// RuntimeError is a script-level failure. The VM state is reset to the
// enclosing entry point before it is returned.
type RuntimeError struct {
	Message string
	Line    int
	Column  int
	Trace   []TraceEntry // innermost first
}

func (e *RuntimeError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	for _, t := range e.Trace {
		sb.WriteString(fmt.Sprintf("\n[line %d] in %s", t.Line, t.Function))
	}
	return sb.String()
}

// CorruptChunkError reports malformed bytecode. The VM raises it as a
// panic: malformed bytecode cannot be produced by the compiler, so it is
// a bug or a damaged image rather than a script error.
type CorruptChunkError struct {
	Function string
	Offset   int
	Reason   string
}

func (e *CorruptChunkError) Error() string {
	return fmt.Sprintf("corrupt chunk in %s at %04X: %s", e.Function, e.Offset, e.Reason)
}
