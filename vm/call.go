package vm

import "fmt"

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// callValue dispatches a call whose callee sits argc slots below the top
// of the stack. Closures push a frame; natives and argument-less
// constructors complete immediately and leave their result in place of
// the callee.
func (vm *VM) callValue(callee Value, argc int) error {
	obj, ok := vm.Object(callee)
	if !ok {
		return vm.runtimeError("Can only call functions and classes.")
	}

	switch o := obj.(type) {
	case *BoundMethodObject:
		vm.stack[vm.sp-argc-1] = o.Receiver
		return vm.call(vm.mustObject(o.Method).(*ClosureObject), argc)

	case *ClassObject:
		// The class is still on the stack, so it stays rooted while the
		// instance is allocated.
		instance := vm.newInstance(o.self)
		vm.stack[vm.sp-argc-1] = ObjectValue(instance.self)
		if init, ok := o.Methods[vm.initString]; ok {
			return vm.call(vm.mustObject(init.Handle()).(*ClosureObject), argc)
		}
		if argc != 0 {
			return vm.runtimeError("Expected 0 arguments but got %d.", argc)
		}
		return nil

	case *ClosureObject:
		return vm.call(o, argc)

	case *NativeObject:
		return vm.callNative(o, argc)
	}

	return vm.runtimeError("Can only call functions and classes.")
}

func (vm *VM) call(closure *ClosureObject, argc int) error {
	if argc != closure.fn.Arity {
		return vm.runtimeError("Expected %d arguments but got %d.", closure.fn.Arity, argc)
	}
	if vm.fc == len(vm.frames) {
		return vm.runtimeError("Stack overflow.")
	}

	vm.frames[vm.fc] = CallFrame{
		closure: closure,
		fn:      closure.fn,
		base:    vm.sp - argc - 1,
	}
	vm.fc++
	return nil
}

func (vm *VM) callNative(native *NativeObject, argc int) error {
	if native.Arity >= 0 && argc != native.Arity {
		return vm.runtimeError("Expected %d arguments but got %d.", native.Arity, argc)
	}

	// Arguments stay on the stack (and rooted) until the native returns.
	args := make([]Value, argc)
	copy(args, vm.stack[vm.sp-argc:vm.sp])

	result, err := native.Fn(vm, args)
	if err != nil {
		if rerr, ok := err.(*RuntimeError); ok {
			return rerr
		}
		return vm.runtimeError("%s", err.Error())
	}

	vm.sp -= argc + 1
	vm.push(result)
	return nil
}

func (vm *VM) invoke(name Handle, argc int) error {
	receiver := vm.peek(argc)
	instance, ok := vm.asInstance(receiver)
	if !ok {
		return vm.runtimeError("Only instances have methods.")
	}

	// A field holding a callable shadows a method of the same name.
	if field, ok := instance.Fields[name]; ok {
		vm.stack[vm.sp-argc-1] = field
		return vm.callValue(field, argc)
	}

	return vm.invokeFromClass(vm.mustObject(instance.Class).(*ClassObject), name, argc)
}

func (vm *VM) invokeFromClass(class *ClassObject, name Handle, argc int) error {
	method, ok := class.Methods[name]
	if !ok {
		return vm.runtimeError("Undefined property '%s'.", vm.stringText(name))
	}
	return vm.call(vm.mustObject(method.Handle()).(*ClosureObject), argc)
}

// bindMethod replaces the receiver on top of the stack with a bound method.
func (vm *VM) bindMethod(class *ClassObject, name Handle) error {
	method, ok := class.Methods[name]
	if !ok {
		return vm.runtimeError("Undefined property '%s'.", vm.stringText(name))
	}

	// The receiver stays on the stack during allocation.
	bound := vm.newBoundMethod(vm.peek(0), method.Handle())
	vm.stack[vm.sp-1] = ObjectValue(bound.self)
	return nil
}

// ---------------------------------------------------------------------------
// Upvalues
// ---------------------------------------------------------------------------

// captureUpvalue returns the open upvalue for stack slot, creating it if
// none exists. Two closures capturing the same variable share one upvalue.
func (vm *VM) captureUpvalue(slot int) *UpvalueObject {
	var prev *UpvalueObject
	cur := vm.openUpvalues
	for cur != NoHandle {
		uv := vm.mustObject(cur).(*UpvalueObject)
		if uv.Slot <= slot {
			if uv.Slot == slot {
				return uv
			}
			break
		}
		prev = uv
		cur = uv.nextOpen
	}

	created := vm.newUpvalue(slot)
	created.nextOpen = cur
	if prev == nil {
		vm.openUpvalues = created.self
	} else {
		prev.nextOpen = created.self
	}
	return created
}

// closeUpvalues closes every open upvalue at or above stack slot last.
// The chain is sorted by descending slot, so these form a prefix.
func (vm *VM) closeUpvalues(last int) {
	for vm.openUpvalues != NoHandle {
		uv := vm.mustObject(vm.openUpvalues).(*UpvalueObject)
		if uv.Slot < last {
			break
		}
		uv.Closed = vm.stack[uv.Slot]
		uv.IsClosed = true
		vm.openUpvalues = uv.nextOpen
		uv.nextOpen = NoHandle
	}
}

func (vm *VM) upvalueGet(uv *UpvalueObject) Value {
	if uv.IsClosed {
		return uv.Closed
	}
	return vm.stack[uv.Slot]
}

func (vm *VM) upvalueSet(uv *UpvalueObject, v Value) {
	if uv.IsClosed {
		uv.Closed = v
		return
	}
	vm.stack[uv.Slot] = v
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// runtimeError builds a RuntimeError positioned at the current instruction
// of every active frame.
func (vm *VM) runtimeError(format string, args ...any) *RuntimeError {
	err := &RuntimeError{Message: fmt.Sprintf(format, args...)}
	for i := vm.fc - 1; i >= 0; i-- {
		frame := &vm.frames[i]
		line, col := vm.framePosition(frame)
		if i == vm.fc-1 {
			err.Line, err.Column = line, col
		}
		name := "script"
		if frame.fn.Name != NoHandle {
			name = vm.stringText(frame.fn.Name) + "()"
		}
		err.Trace = append(err.Trace, TraceEntry{Function: name, Line: line})
	}
	return err
}

func (vm *VM) framePosition(frame *CallFrame) (line, col int) {
	offset := frame.ip - 1
	if offset < 0 {
		offset = 0
	}
	pos := frame.fn.Chunk.PositionAt(offset)
	if pos < 0 || frame.fn.Source == nil {
		return 0, 0
	}
	return frame.fn.Source.Position(pos)
}
