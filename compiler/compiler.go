package compiler

import (
	"github.com/QaisAlsaid/oklang-sub000/vm"
)

// Compile parses and compiles src into a top-level function on v's heap.
// It has the vm.CompileFunc signature and is normally installed with
// v.UseCompiler(compiler.Compile).
//
// On failure the function is nil and every diagnostic from both the parse
// and code generation is returned, in source order per phase.
func Compile(v *vm.VM, src *vm.Source) (*vm.FunctionObject, []vm.Diagnostic) {
	prog, diags := Parse(src.Text)
	if len(diags) > 0 {
		return nil, diags
	}

	c := NewCompiler(v, src)
	fn := c.CompileProgram(prog)
	if len(c.Diagnostics()) > 0 {
		return nil, c.Diagnostics()
	}
	return fn, nil
}

// Check compiles text on a throwaway VM and returns its diagnostics
// followed by any lint warnings. It never runs the code.
func Check(name, text string) []vm.Diagnostic {
	prog, diags := Parse(text)
	if len(diags) > 0 {
		return diags
	}

	v := vm.New(vm.DefaultOptions())
	c := NewCompiler(v, vm.NewSource(name, text))
	c.CompileProgram(prog)
	diags = append(diags, c.Diagnostics()...)
	return append(diags, Lint(prog)...)
}

// NewVM returns a VM with this compiler installed.
func NewVM(opts vm.Options) *vm.VM {
	v := vm.New(opts)
	v.UseCompiler(Compile)
	return v
}
