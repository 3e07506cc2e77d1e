package vm

import (
	"bytes"
	"testing"
)

func newTestVM(t *testing.T) (*VM, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	return New(Options{Stdout: &out}), &out
}

// asm assembles a top-level function by hand.
type asm struct {
	vm *VM
	fn *FunctionObject
}

func newAsm(vm *VM, name string) *asm {
	fn := vm.NewFunction(NewSource(name, ""))
	return &asm{vm: vm, fn: fn}
}

func (a *asm) op(ops ...Opcode) *asm {
	for _, op := range ops {
		a.fn.Chunk.WriteOp(op, 0)
	}
	return a
}

func (a *asm) bytes(bs ...byte) *asm {
	a.fn.Chunk.WriteBytes(0, bs...)
	return a
}

func (a *asm) num(f float64) *asm {
	a.fn.Chunk.WriteConstant(NumberValue(f), 0)
	return a
}

func (a *asm) str(s string) *asm {
	a.fn.Chunk.WriteConstant(a.vm.Intern(s), 0)
	return a
}

// name emits op with a 24-bit constant operand naming s.
func (a *asm) name(op Opcode, s string) *asm {
	idx, _ := a.fn.Chunk.AddConstant(a.vm.Intern(s))
	a.fn.Chunk.WriteOp(op, 0)
	a.fn.Chunk.WriteU24(idx, 0)
	return a
}

func (a *asm) run(t *testing.T) (Value, error) {
	t.Helper()
	return a.vm.RunFunction(a.fn)
}
