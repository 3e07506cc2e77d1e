// Package vm implements the oklang virtual machine.
//
// This package contains:
//   - NaN-boxed value representation
//   - The generational-handle object heap and string interner
//   - Bytecode chunks, the disassembler and bytecode images
//   - The stack interpreter with closures and upvalues
//   - The mark-sweep garbage collector
//
// The VM does not parse source itself; a compiler backend is installed
// with UseCompiler.
package vm
