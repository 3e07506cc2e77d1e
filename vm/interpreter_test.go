package vm

import (
	"errors"
	"strings"
	"testing"
)

func TestRunAddition(t *testing.T) {
	vm, _ := newTestVM(t)
	result, err := newAsm(vm, "add").num(1).num(2).op(OpAdd, OpReturn).run(t)
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsNumber() || result.Number() != 3 {
		t.Errorf("result = %s, want 3", vm.Format(result))
	}
	if vm.Depth() != 0 || vm.sp != 0 {
		t.Errorf("state not reset: depth %d, sp %d", vm.Depth(), vm.sp)
	}
}

func TestRunArithmetic(t *testing.T) {
	vm, _ := newTestVM(t)
	// -(10 - 4) * 3 / 2
	result, err := newAsm(vm, "arith").
		num(10).num(4).op(OpSubtract, OpNegate).
		num(3).op(OpMultiply).
		num(2).op(OpDivide, OpReturn).run(t)
	if err != nil {
		t.Fatal(err)
	}
	if result.Number() != -9 {
		t.Errorf("result = %v, want -9", result.Number())
	}
}

func TestRunComparisons(t *testing.T) {
	tests := []struct {
		op   Opcode
		a, b float64
		want bool
	}{
		{OpLess, 1, 2, true},
		{OpLessEqual, 2, 2, true},
		{OpGreater, 1, 2, false},
		{OpGreaterEqual, 3, 2, true},
		{OpEqual, 2, 2, true},
		{OpNotEqual, 2, 2, false},
	}
	for _, tt := range tests {
		vm, _ := newTestVM(t)
		result, err := newAsm(vm, "cmp").num(tt.a).num(tt.b).op(tt.op, OpReturn).run(t)
		if err != nil {
			t.Fatalf("%v: %v", tt.op, err)
		}
		if result != BoolValue(tt.want) {
			t.Errorf("%v %v %v = %s, want %v", tt.a, tt.op, tt.b, vm.Format(result), tt.want)
		}
	}
}

func TestStringConcatIsInterned(t *testing.T) {
	vm, _ := newTestVM(t)
	result, err := newAsm(vm, "concat").str("a").str("b").op(OpAdd, OpReturn).run(t)
	if err != nil {
		t.Fatal(err)
	}
	if result != vm.Intern("ab") {
		t.Error("'a' + 'b' is not identical to the interned \"ab\"")
	}
}

func TestAddMismatchedTypes(t *testing.T) {
	vm, _ := newTestVM(t)
	_, err := newAsm(vm, "mismatch").str("a").num(1).op(OpAdd, OpReturn).run(t)
	var rerr *RuntimeError
	if !errors.As(err, &rerr) {
		t.Fatalf("error = %v, want RuntimeError", err)
	}
	if rerr.Message != "Operands must be two numbers or two strings." {
		t.Errorf("message = %q", rerr.Message)
	}
	if vm.sp != 0 || vm.Depth() != 0 {
		t.Error("runtime error did not reset the stack")
	}
	if ResultOf(err) != ResultRuntimeError {
		t.Errorf("ResultOf = %v", ResultOf(err))
	}
}

func TestNegateNonNumber(t *testing.T) {
	vm, _ := newTestVM(t)
	_, err := newAsm(vm, "neg").op(OpNil, OpNegate, OpReturn).run(t)
	if err == nil || !strings.Contains(err.Error(), "Operand must be a number.") {
		t.Errorf("error = %v", err)
	}
}

func TestNotAndTruthiness(t *testing.T) {
	vm, _ := newTestVM(t)
	result, err := newAsm(vm, "not").num(0).op(OpNot, OpReturn).run(t)
	if err != nil {
		t.Fatal(err)
	}
	if result != False {
		t.Error("!0 should be false: 0 is truthy")
	}
}

func TestGlobals(t *testing.T) {
	vm, out := newTestVM(t)
	_, err := newAsm(vm, "globals").
		num(1).name(OpDefineGlobal, "x").
		num(5).name(OpSetGlobal, "x").op(OpPop).
		name(OpGetGlobal, "x").op(OpPrint).
		op(OpNil, OpReturn).run(t)
	if err != nil {
		t.Fatal(err)
	}
	if out.String() != "5\n" {
		t.Errorf("output = %q, want %q", out.String(), "5\n")
	}
	v, ok := vm.Global("x")
	if !ok || v.Number() != 5 {
		t.Errorf("Global(x) = %v, %v", v, ok)
	}
}

func TestUndefinedGlobal(t *testing.T) {
	vm, _ := newTestVM(t)
	_, err := newAsm(vm, "undef").name(OpGetGlobal, "missing").op(OpReturn).run(t)
	if err == nil || !strings.Contains(err.Error(), "Undefined variable 'missing'.") {
		t.Errorf("error = %v", err)
	}

	_, err = newAsm(vm, "undef-set").num(1).name(OpSetGlobal, "missing").op(OpReturn).run(t)
	if err == nil {
		t.Error("assigning an undefined global should fail")
	}
	if _, ok := vm.Global("missing"); ok {
		t.Error("failed assignment must not define the global")
	}
}

func TestJumpIfFalse(t *testing.T) {
	vm, out := newTestVM(t)
	a := newAsm(vm, "branch").op(OpFalse)
	jump := a.fn.Chunk.WriteJump(OpJumpIfFalse, 0)
	a.op(OpPop).num(1).op(OpPrint)
	if err := a.fn.Chunk.PatchJump(jump); err != nil {
		t.Fatal(err)
	}
	a.op(OpPop).num(2).op(OpPrint, OpNil, OpReturn)
	if _, err := a.run(t); err != nil {
		t.Fatal(err)
	}
	if out.String() != "2\n" {
		t.Errorf("output = %q, want %q", out.String(), "2\n")
	}
}

func TestCorruptConstantIndexPanics(t *testing.T) {
	vm, _ := newTestVM(t)
	a := newAsm(vm, "corrupt").op(OpConstant).bytes(9).op(OpReturn)
	defer func() {
		r := recover()
		cerr, ok := r.(*CorruptChunkError)
		if !ok {
			t.Fatalf("recovered %v, want *CorruptChunkError", r)
		}
		if !strings.Contains(cerr.Reason, "out of range") {
			t.Errorf("reason = %q", cerr.Reason)
		}
		if vm.Depth() != 0 || vm.sp != 0 {
			t.Error("panic did not unwind the activation")
		}
	}()
	a.run(t)
	t.Fatal("expected panic")
}

func TestUnknownOpcodePanics(t *testing.T) {
	vm, _ := newTestVM(t)
	a := newAsm(vm, "unknown").bytes(0xEE)
	defer func() {
		if _, ok := recover().(*CorruptChunkError); !ok {
			t.Fatal("expected *CorruptChunkError")
		}
	}()
	a.run(t)
}

func TestReadPastEndPanics(t *testing.T) {
	vm, _ := newTestVM(t)
	a := newAsm(vm, "runaway").op(OpNil, OpPop)
	defer func() {
		if _, ok := recover().(*CorruptChunkError); !ok {
			t.Fatal("expected *CorruptChunkError")
		}
	}()
	a.run(t)
}

func TestCallNative(t *testing.T) {
	vm, _ := newTestVM(t)
	vm.DefineNative("double", 1, func(v *VM, args []Value) (Value, error) {
		return NumberValue(args[0].Number() * 2), nil
	})
	result, err := newAsm(vm, "native").
		name(OpGetGlobal, "double").num(21).op(OpCall).bytes(1).
		op(OpReturn).run(t)
	if err != nil {
		t.Fatal(err)
	}
	if result.Number() != 42 {
		t.Errorf("double(21) = %v", result.Number())
	}
}

func TestNativeArityAndError(t *testing.T) {
	vm, _ := newTestVM(t)
	vm.DefineNative("fail", 0, func(v *VM, args []Value) (Value, error) {
		return Nil, errors.New("boom")
	})

	_, err := newAsm(vm, "arity").name(OpGetGlobal, "fail").num(1).op(OpCall).bytes(1).op(OpReturn).run(t)
	if err == nil || !strings.Contains(err.Error(), "Expected 0 arguments but got 1.") {
		t.Errorf("arity error = %v", err)
	}

	_, err = newAsm(vm, "fail").name(OpGetGlobal, "fail").op(OpCall).bytes(0).op(OpReturn).run(t)
	var rerr *RuntimeError
	if !errors.As(err, &rerr) || rerr.Message != "boom" {
		t.Errorf("native error = %v", err)
	}
}

func TestCallNonCallable(t *testing.T) {
	vm, _ := newTestVM(t)
	_, err := newAsm(vm, "call").num(1).op(OpCall).bytes(0).op(OpReturn).run(t)
	if err == nil || !strings.Contains(err.Error(), "Can only call functions and classes.") {
		t.Errorf("error = %v", err)
	}
}

func TestReentrantCallFromNative(t *testing.T) {
	vm, _ := newTestVM(t)

	// inner() returns 7
	inner := vm.NewFunction(NewSource("inner", ""))
	vm.Guard(ObjectValue(inner.self))
	inner.Name = vm.Intern("inner").Handle()
	inner.Chunk.WriteConstant(NumberValue(7), 0)
	inner.Chunk.WriteOp(OpReturn, 0)
	closure := vm.newClosure(inner)
	vm.Unguard()
	vm.DefineGlobal("inner", ObjectValue(closure.self))

	vm.DefineNative("apply", 1, func(v *VM, args []Value) (Value, error) {
		r, err := v.Call(args[0])
		if err != nil {
			return Nil, err
		}
		return NumberValue(r.Number() + 1), nil
	})

	result, err := newAsm(vm, "outer").
		name(OpGetGlobal, "apply").name(OpGetGlobal, "inner").op(OpCall).bytes(1).
		op(OpReturn).run(t)
	if err != nil {
		t.Fatal(err)
	}
	if result.Number() != 8 {
		t.Errorf("apply(inner) = %v, want 8", result.Number())
	}
	if len(vm.activations) != 0 {
		t.Errorf("activations leaked: %d", len(vm.activations))
	}
}

func TestRuntimeErrorPosition(t *testing.T) {
	vm, _ := newTestVM(t)
	fn := vm.NewFunction(NewSource("pos", "print nil;\nprint -nil;"))
	fn.Chunk.WriteOp(OpNil, 17)
	fn.Chunk.WriteOp(OpNegate, 17)
	fn.Chunk.WriteOp(OpReturn, 17)

	_, err := vm.RunFunction(fn)
	var rerr *RuntimeError
	if !errors.As(err, &rerr) {
		t.Fatalf("error = %v", err)
	}
	if rerr.Line != 2 || rerr.Column != 7 {
		t.Errorf("position = %d:%d, want 2:7", rerr.Line, rerr.Column)
	}
	if len(rerr.Trace) != 1 || rerr.Trace[0].Function != "script" {
		t.Errorf("trace = %+v", rerr.Trace)
	}
}
