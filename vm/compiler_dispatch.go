package vm

// ---------------------------------------------------------------------------
// CompilerBackend: Interface for compilation backends
// ---------------------------------------------------------------------------

// CompilerBackend turns source text into a top-level function allocated on
// the given VM's heap. On failure it returns at least one diagnostic and a
// nil function.
//
// The returned function is not rooted. The caller must run it, or Guard it,
// before the next allocation.
type CompilerBackend interface {
	Compile(vm *VM, src *Source) (*FunctionObject, []Diagnostic)

	// Name returns the name of this compiler backend.
	Name() string
}

// CompileFunc is the signature for compilation functions.
// This is used to inject the compiler without creating import cycles.
type CompileFunc func(vm *VM, src *Source) (*FunctionObject, []Diagnostic)

type funcBackend struct {
	name string
	fn   CompileFunc
}

func (b funcBackend) Compile(vm *VM, src *Source) (*FunctionObject, []Diagnostic) {
	return b.fn(vm, src)
}

func (b funcBackend) Name() string { return b.name }

// UseCompiler installs compileFunc (typically compiler.Compile).
func (vm *VM) UseCompiler(compileFunc CompileFunc) {
	vm.compiler = funcBackend{name: "oklang", fn: compileFunc}
}

// SetCompilerBackend installs a backend, for example one that consults a
// compile cache before delegating.
func (vm *VM) SetCompilerBackend(backend CompilerBackend) {
	vm.compiler = backend
}

// CompilerBackend returns the installed backend, or nil.
func (vm *VM) CompilerBackend() CompilerBackend {
	return vm.compiler
}

// CompilerName returns the name of the current compiler backend.
func (vm *VM) CompilerName() string {
	if vm.compiler == nil {
		return "none"
	}
	return vm.compiler.Name()
}

// Compile compiles source without running it.
func (vm *VM) Compile(name, source string) (*FunctionObject, error) {
	if vm.compiler == nil {
		return nil, ErrNoCompiler
	}
	fn, diags := vm.compiler.Compile(vm, NewSource(name, source))
	if len(diags) > 0 {
		return nil, &CompileError{Source: name, Diagnostics: diags}
	}
	return fn, nil
}

// ---------------------------------------------------------------------------
// Extra roots
// ---------------------------------------------------------------------------

// RootSource contributes roots the VM cannot see on its own, such as the
// functions a compiler is still building.
type RootSource interface {
	MarkRoots(mark func(Value))
}

// PushRootSource registers r until the matching PopRootSource.
func (vm *VM) PushRootSource(r RootSource) {
	vm.rootSources = append(vm.rootSources, r)
}

// PopRootSource removes the most recently pushed root source.
func (vm *VM) PopRootSource() {
	vm.rootSources = vm.rootSources[:len(vm.rootSources)-1]
}
