package vm

import (
	"fmt"
	"strings"
)

// run executes frames until the frame count drops back to base, returning
// the value the outermost of those frames returned.
func (vm *VM) run(base int) (Value, error) {
	frame := &vm.frames[vm.fc-1]
	code := frame.fn.Chunk.Code

	for {
		if frame.ip >= len(code) {
			vm.corrupt(frame, frame.ip, "read past end of code")
		}
		if vm.opts.Trace {
			vm.traceInstruction(frame)
		}

		op := Opcode(code[frame.ip])
		frame.ip++
		if info, ok := LookupOpcode(op); !ok {
			vm.corrupt(frame, frame.ip-1, fmt.Sprintf("unknown opcode 0x%02X", byte(op)))
		} else if frame.ip+info.OperandLen > len(code) {
			vm.corrupt(frame, frame.ip-1, "read past end of code")
		}

		switch op {
		// ---------------------------------------------------------------
		// Constants and literals
		// ---------------------------------------------------------------
		case OpConstant:
			idx := int(code[frame.ip])
			frame.ip++
			vm.push(vm.constant(frame, idx))

		case OpConstantLong:
			idx := readU24(code, frame.ip)
			frame.ip += 3
			vm.push(vm.constant(frame, idx))

		case OpNil:
			vm.push(Nil)
		case OpTrue:
			vm.push(True)
		case OpFalse:
			vm.push(False)
		case OpPop:
			vm.pop()

		// ---------------------------------------------------------------
		// Variables
		// ---------------------------------------------------------------
		case OpGetLocal:
			slot := vm.localSlot(frame, int(code[frame.ip]))
			frame.ip++
			vm.push(vm.stack[slot])

		case OpSetLocal:
			slot := vm.localSlot(frame, int(code[frame.ip]))
			frame.ip++
			vm.stack[slot] = vm.peek(0)

		case OpGetGlobal:
			name := vm.nameOperand(frame)
			v, ok := vm.globals[name]
			if !ok {
				return Nil, vm.runtimeError("Undefined variable '%s'.", vm.stringText(name))
			}
			vm.push(v)

		case OpDefineGlobal:
			name := vm.nameOperand(frame)
			vm.globals[name] = vm.peek(0)
			vm.pop()

		case OpSetGlobal:
			name := vm.nameOperand(frame)
			if _, ok := vm.globals[name]; !ok {
				return Nil, vm.runtimeError("Undefined variable '%s'.", vm.stringText(name))
			}
			vm.globals[name] = vm.peek(0)

		case OpGetUpvalue:
			slot := int(code[frame.ip])
			frame.ip++
			vm.push(vm.upvalueGet(vm.frameUpvalue(frame, slot)))

		case OpSetUpvalue:
			slot := int(code[frame.ip])
			frame.ip++
			vm.upvalueSet(vm.frameUpvalue(frame, slot), vm.peek(0))

		case OpGetProperty:
			name := vm.nameOperand(frame)
			instance, ok := vm.asInstance(vm.peek(0))
			if !ok {
				return Nil, vm.runtimeError("Only instances have properties.")
			}
			if v, ok := instance.Fields[name]; ok {
				vm.stack[vm.sp-1] = v
				break
			}
			if err := vm.bindMethod(vm.mustObject(instance.Class).(*ClassObject), name); err != nil {
				return Nil, err
			}

		case OpSetProperty:
			name := vm.nameOperand(frame)
			instance, ok := vm.asInstance(vm.peek(1))
			if !ok {
				return Nil, vm.runtimeError("Only instances have fields.")
			}
			vm.setTableEntry(instance, instance.Fields, name, vm.peek(0))
			v := vm.pop()
			vm.pop()
			vm.push(v)

		case OpGetSuper:
			name := vm.nameOperand(frame)
			super, ok := vm.asClass(vm.pop())
			if !ok {
				vm.corrupt(frame, frame.ip-4, "GET_SUPER without a class")
			}
			if err := vm.bindMethod(super, name); err != nil {
				return Nil, err
			}

		// ---------------------------------------------------------------
		// Comparison
		// ---------------------------------------------------------------
		case OpEqual:
			b := vm.pop()
			a := vm.pop()
			vm.push(BoolValue(ValuesEqual(a, b)))

		case OpNotEqual:
			b := vm.pop()
			a := vm.pop()
			vm.push(BoolValue(!ValuesEqual(a, b)))

		case OpGreater, OpGreaterEqual, OpLess, OpLessEqual,
			OpSubtract, OpMultiply, OpDivide:
			if err := vm.binaryNumberOp(op); err != nil {
				return Nil, err
			}

		// ---------------------------------------------------------------
		// Arithmetic and logic
		// ---------------------------------------------------------------
		case OpAdd:
			if err := vm.add(); err != nil {
				return Nil, err
			}

		case OpNot:
			vm.stack[vm.sp-1] = BoolValue(vm.peek(0).IsFalsey())

		case OpNegate:
			if !vm.peek(0).IsNumber() {
				return Nil, vm.runtimeError("Operand must be a number.")
			}
			vm.stack[vm.sp-1] = NumberValue(-vm.peek(0).Number())

		// ---------------------------------------------------------------
		// Output
		// ---------------------------------------------------------------
		case OpPrint:
			fmt.Fprintln(vm.out, vm.Format(vm.pop()))

		// ---------------------------------------------------------------
		// Control flow
		// ---------------------------------------------------------------
		case OpJump:
			offset := readU16(code, frame.ip)
			frame.ip += 2 + offset

		case OpJumpIfFalse:
			offset := readU16(code, frame.ip)
			frame.ip += 2
			if vm.peek(0).IsFalsey() {
				frame.ip += offset
			}

		case OpLoop:
			offset := readU16(code, frame.ip)
			frame.ip += 2 - offset

		// ---------------------------------------------------------------
		// Calls and closures
		// ---------------------------------------------------------------
		case OpCall:
			argc := int(code[frame.ip])
			frame.ip++
			if err := vm.callValue(vm.peek(argc), argc); err != nil {
				return Nil, err
			}
			frame = &vm.frames[vm.fc-1]
			code = frame.fn.Chunk.Code

		case OpInvoke:
			name := vm.nameOperand(frame)
			argc := int(code[frame.ip])
			frame.ip++
			if err := vm.invoke(name, argc); err != nil {
				return Nil, err
			}
			frame = &vm.frames[vm.fc-1]
			code = frame.fn.Chunk.Code

		case OpSuperInvoke:
			name := vm.nameOperand(frame)
			argc := int(code[frame.ip])
			frame.ip++
			super, ok := vm.asClass(vm.pop())
			if !ok {
				vm.corrupt(frame, frame.ip-5, "SUPER_INVOKE without a class")
			}
			if err := vm.invokeFromClass(super, name, argc); err != nil {
				return Nil, err
			}
			frame = &vm.frames[vm.fc-1]
			code = frame.fn.Chunk.Code

		case OpClosure:
			idx := readU24(code, frame.ip)
			frame.ip += 3
			obj, ok := vm.Object(vm.constant(frame, idx))
			fn, isFn := obj.(*FunctionObject)
			if !ok || !isFn {
				vm.corrupt(frame, frame.ip-4, "CLOSURE operand is not a function")
			}
			if len(fn.Chunk.Upvalues) != fn.UpvalueCount {
				vm.corrupt(frame, frame.ip-4, "CLOSURE descriptor count mismatch")
			}
			closure := vm.newClosure(fn)
			// Rooted on the stack before any capture allocates.
			vm.push(ObjectValue(closure.self))
			for i, desc := range fn.Chunk.Upvalues {
				if desc.IsLocal {
					slot := vm.localSlot(frame, int(desc.Index))
					closure.Upvalues[i] = vm.captureUpvalue(slot).self
				} else {
					closure.Upvalues[i] = vm.frameUpvalue(frame, int(desc.Index)).self
				}
			}

		case OpCloseUpvalue:
			vm.closeUpvalues(vm.sp - 1)
			vm.pop()

		case OpReturn:
			result := vm.pop()
			vm.closeUpvalues(frame.base)
			vm.fc--
			vm.sp = frame.base
			if vm.fc == base {
				return result, nil
			}
			vm.push(result)
			frame = &vm.frames[vm.fc-1]
			code = frame.fn.Chunk.Code

		// ---------------------------------------------------------------
		// Classes
		// ---------------------------------------------------------------
		case OpClass:
			name := vm.nameOperand(frame)
			class := vm.newClass(name)
			vm.push(ObjectValue(class.self))

		case OpInherit:
			super, ok := vm.asClass(vm.peek(1))
			if !ok {
				return Nil, vm.runtimeError("Superclass must be a class.")
			}
			sub, ok := vm.asClass(vm.peek(0))
			if !ok {
				vm.corrupt(frame, frame.ip-1, "INHERIT without a subclass")
			}
			for name, method := range super.Methods {
				vm.setTableEntry(sub, sub.Methods, name, method)
			}
			vm.pop()

		case OpMethod:
			name := vm.nameOperand(frame)
			class, ok := vm.asClass(vm.peek(1))
			if !ok {
				vm.corrupt(frame, frame.ip-4, "METHOD without a class")
			}
			vm.setTableEntry(class, class.Methods, name, vm.peek(0))
			vm.pop()
		}
	}
}

// ---------------------------------------------------------------------------
// Operand decoding
// ---------------------------------------------------------------------------

func (vm *VM) constant(frame *CallFrame, idx int) Value {
	consts := frame.fn.Chunk.Constants
	if idx >= len(consts) {
		vm.corrupt(frame, frame.ip-1, fmt.Sprintf("constant index %d out of range (pool has %d)", idx, len(consts)))
	}
	return consts[idx]
}

// nameOperand reads a 24-bit constant operand that must name a string.
func (vm *VM) nameOperand(frame *CallFrame) Handle {
	idx := readU24(frame.fn.Chunk.Code, frame.ip)
	frame.ip += 3
	v := vm.constant(frame, idx)
	if !vm.IsString(v) {
		vm.corrupt(frame, frame.ip-4, fmt.Sprintf("constant %d is not a name", idx))
	}
	return v.Handle()
}

// localSlot returns the absolute stack index of a frame-relative slot.
func (vm *VM) localSlot(frame *CallFrame, slot int) int {
	abs := frame.base + slot
	if abs >= vm.sp {
		vm.corrupt(frame, frame.ip-1, fmt.Sprintf("local slot %d outside the frame", slot))
	}
	return abs
}

func (vm *VM) frameUpvalue(frame *CallFrame, slot int) *UpvalueObject {
	if slot >= len(frame.closure.Upvalues) {
		vm.corrupt(frame, frame.ip-2, fmt.Sprintf("upvalue %d out of range", slot))
	}
	return vm.mustObject(frame.closure.Upvalues[slot]).(*UpvalueObject)
}

func (vm *VM) corrupt(frame *CallFrame, offset int, reason string) {
	panic(&CorruptChunkError{
		Function: vm.formatFunction(frame.fn),
		Offset:   offset,
		Reason:   reason,
	})
}

// ---------------------------------------------------------------------------
// Arithmetic helpers
// ---------------------------------------------------------------------------

func (vm *VM) binaryNumberOp(op Opcode) error {
	bv, av := vm.peek(0), vm.peek(1)
	if !av.IsNumber() || !bv.IsNumber() {
		return vm.runtimeError("Operands must be numbers.")
	}
	a, b := av.Number(), bv.Number()
	vm.sp -= 2

	switch op {
	case OpGreater:
		vm.push(BoolValue(a > b))
	case OpGreaterEqual:
		vm.push(BoolValue(a >= b))
	case OpLess:
		vm.push(BoolValue(a < b))
	case OpLessEqual:
		vm.push(BoolValue(a <= b))
	case OpSubtract:
		vm.push(NumberValue(a - b))
	case OpMultiply:
		vm.push(NumberValue(a * b))
	case OpDivide:
		vm.push(NumberValue(a / b))
	}
	return nil
}

func (vm *VM) add() error {
	bv, av := vm.peek(0), vm.peek(1)
	if av.IsNumber() && bv.IsNumber() {
		vm.sp -= 2
		vm.push(NumberValue(av.Number() + bv.Number()))
		return nil
	}

	a, aok := vm.AsString(av)
	b, bok := vm.AsString(bv)
	if !aok || !bok {
		return vm.runtimeError("Operands must be two numbers or two strings.")
	}
	// Operands are popped only after the result exists.
	result := vm.concatenate(a, b)
	vm.sp -= 2
	vm.push(result)
	return nil
}

// ---------------------------------------------------------------------------
// Tracing
// ---------------------------------------------------------------------------

func (vm *VM) traceInstruction(frame *CallFrame) {
	var sb strings.Builder
	sb.WriteString("          ")
	for i := 0; i < vm.sp; i++ {
		sb.WriteString("[ ")
		sb.WriteString(vm.Format(vm.stack[i]))
		sb.WriteString(" ]")
	}
	text, _ := frame.fn.Chunk.DisassembleInstruction(frame.ip, vm.DisasmOptionsFor(frame.fn))
	fmt.Fprintf(vm.opts.TraceOutput, "%s\n%04X  %s\n", sb.String(), frame.ip, text)
}
