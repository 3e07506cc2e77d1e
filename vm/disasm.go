package vm

import (
	"fmt"
	"strings"
)

// DisasmOptions supplies the context a bare chunk lacks.
type DisasmOptions struct {
	// Format renders constants. Nil renders numbers and literals only.
	Format func(Value) string

	// Line maps a source offset to a 1-based line. Nil prints raw offsets.
	Line func(pos int) int

	// Upvalues returns the capture list of a function constant, so
	// CLOSURE can list where each capture comes from.
	Upvalues func(Value) []UpvalueDescriptor
}

func (o DisasmOptions) format(v Value) string {
	if o.Format != nil {
		return o.Format(v)
	}
	switch {
	case v.IsNumber():
		return formatNumber(v.Number())
	case v == Nil:
		return "nil"
	case v == True:
		return "true"
	case v == False:
		return "false"
	}
	return "<object>"
}

// Disassemble returns a human-readable listing of the chunk.
func (c *Chunk) Disassemble(name string, opts DisasmOptions) string {
	var sb strings.Builder

	if name != "" {
		sb.WriteString(fmt.Sprintf("; == %s ==\n", name))
	}

	if len(c.Constants) > 0 {
		sb.WriteString("; Constants:\n")
		for i, v := range c.Constants {
			display := opts.format(v)
			if len(display) > 40 {
				display = display[:37] + "..."
			}
			display = strings.ReplaceAll(display, "\n", "\\n")
			sb.WriteString(fmt.Sprintf(";   [%3d] %s\n", i, display))
		}
	}

	sb.WriteString("; Code:\n")
	prevPos := -1
	for offset := 0; offset < len(c.Code); {
		text, n := c.DisassembleInstruction(offset, opts)
		pos := c.PositionAt(offset)
		switch {
		case pos == prevPos:
			sb.WriteString(fmt.Sprintf("%04X  %-32s |\n", offset, text))
		case opts.Line != nil:
			sb.WriteString(fmt.Sprintf("%04X  %-32s ; line %d\n", offset, text, opts.Line(pos)))
		default:
			sb.WriteString(fmt.Sprintf("%04X  %-32s ; @%d\n", offset, text, pos))
		}
		prevPos = pos
		offset += n
	}

	return sb.String()
}

// DisassembleInstruction disassembles the instruction at offset.
// Returns the formatted text and the instruction length.
func (c *Chunk) DisassembleInstruction(offset int, opts DisasmOptions) (string, int) {
	if offset >= len(c.Code) {
		return "<end of code>", 1
	}

	op := Opcode(c.Code[offset])
	info, ok := LookupOpcode(op)
	if !ok {
		return info.Name, 1
	}
	n := 1 + info.OperandLen
	if offset+n > len(c.Code) {
		return fmt.Sprintf("%s <truncated>", info.Name), len(c.Code) - offset
	}

	switch op {
	case OpConstant:
		idx := int(c.Code[offset+1])
		return fmt.Sprintf("%s %d ; %s", info.Name, idx, c.constantText(idx, opts)), n

	case OpConstantLong, OpGetGlobal, OpDefineGlobal, OpSetGlobal,
		OpGetProperty, OpSetProperty, OpGetSuper, OpClass, OpMethod:
		idx := readU24(c.Code, offset+1)
		return fmt.Sprintf("%s %d ; %s", info.Name, idx, c.constantText(idx, opts)), n

	case OpGetLocal, OpSetLocal, OpGetUpvalue, OpSetUpvalue, OpCall:
		return fmt.Sprintf("%s %d", info.Name, c.Code[offset+1]), n

	case OpJump, OpJumpIfFalse:
		delta := readU16(c.Code, offset+1)
		return fmt.Sprintf("%s %d -> %04X", info.Name, delta, offset+n+delta), n

	case OpLoop:
		delta := readU16(c.Code, offset+1)
		return fmt.Sprintf("%s %d -> %04X", info.Name, delta, offset+n-delta), n

	case OpInvoke, OpSuperInvoke:
		idx := readU24(c.Code, offset+1)
		argc := c.Code[offset+4]
		return fmt.Sprintf("%s %d (%d args) ; %s", info.Name, idx, argc, c.constantText(idx, opts)), n

	case OpClosure:
		idx := readU24(c.Code, offset+1)
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("%s %d ; %s", info.Name, idx, c.constantText(idx, opts)))
		if opts.Upvalues != nil && idx < len(c.Constants) {
			for i, uv := range opts.Upvalues(c.Constants[idx]) {
				kind := "upvalue"
				if uv.IsLocal {
					kind = "local"
				}
				sb.WriteString(fmt.Sprintf("\n      |   capture %d: %s %d", i, kind, uv.Index))
			}
		}
		return sb.String(), n
	}

	return info.Name, n
}

func (c *Chunk) constantText(idx int, opts DisasmOptions) string {
	if idx >= len(c.Constants) {
		return "<bad constant>"
	}
	return opts.format(c.Constants[idx])
}

// DisasmOptionsFor returns options that render constants through this VM
// and report lines from fn's source.
func (vm *VM) DisasmOptionsFor(fn *FunctionObject) DisasmOptions {
	opts := DisasmOptions{
		Format: func(v Value) string {
			if s, ok := vm.AsString(v); ok {
				return fmt.Sprintf("%q", s.Chars)
			}
			return vm.Format(v)
		},
		Upvalues: func(v Value) []UpvalueDescriptor {
			if obj, ok := vm.Object(v); ok {
				if f, ok := obj.(*FunctionObject); ok {
					return f.Chunk.Upvalues
				}
			}
			return nil
		},
	}
	if fn.Source != nil {
		src := fn.Source
		opts.Line = func(pos int) int {
			line, _ := src.Position(pos)
			return line
		}
	}
	return opts
}

// Disassemble lists fn and, after it, every function nested in its
// constant pool.
func (vm *VM) Disassemble(fn *FunctionObject) string {
	var sb strings.Builder
	vm.disassembleInto(&sb, fn)
	return sb.String()
}

func (vm *VM) disassembleInto(sb *strings.Builder, fn *FunctionObject) {
	sb.WriteString(fn.Chunk.Disassemble(vm.formatFunction(fn), vm.DisasmOptionsFor(fn)))
	for _, c := range fn.Chunk.Constants {
		obj, ok := vm.Object(c)
		if !ok {
			continue
		}
		if nested, ok := obj.(*FunctionObject); ok {
			sb.WriteString("\n")
			vm.disassembleInto(sb, nested)
		}
	}
}
