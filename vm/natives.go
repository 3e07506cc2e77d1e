package vm

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// DefineNative installs a host function as a global. Arity -1 accepts any
// number of arguments.
func (vm *VM) DefineNative(name string, arity int, fn NativeFn) {
	nameVal := vm.Intern(name)
	vm.Guard(nameVal)
	native := vm.newNative(name, arity, fn)
	vm.globals[nameVal.Handle()] = ObjectValue(native.self)
	vm.Unguard()
}

func (vm *VM) registerNatives() {
	vm.DefineNative("clock", 0, nativeClock)
	vm.DefineNative("str", 1, nativeStr)
	vm.DefineNative("len", 1, nativeLen)
	vm.DefineNative("type", 1, nativeType)
	vm.DefineNative("gc", 0, nativeGC)
}

// clock() returns seconds elapsed since the VM was created.
func nativeClock(v *VM, _ []Value) (Value, error) {
	return NumberValue(time.Since(v.started).Seconds()), nil
}

// str(x) returns the printed form of x as a string.
func nativeStr(v *VM, args []Value) (Value, error) {
	if v.IsString(args[0]) {
		return args[0], nil
	}
	return v.Intern(v.Format(args[0])), nil
}

// len(s) returns the number of characters in s.
func nativeLen(v *VM, args []Value) (Value, error) {
	s, ok := v.AsString(args[0])
	if !ok {
		return Nil, fmt.Errorf("len() expects a string, got %s.", v.TypeName(args[0]))
	}
	return NumberValue(float64(utf8.RuneCountInString(s.Chars))), nil
}

// type(x) returns the name of x's type.
func nativeType(v *VM, args []Value) (Value, error) {
	return v.Intern(v.TypeName(args[0])), nil
}

// gc() forces a collection and returns the number of bytes freed.
func nativeGC(v *VM, _ []Value) (Value, error) {
	stats := v.CollectGarbage()
	return NumberValue(float64(stats.BytesBefore - stats.BytesAfter)), nil
}
