package vm

import (
	"errors"
	"fmt"
)

// MaxConstants is the constant pool limit imposed by the 24-bit operand of
// the long instruction forms.
const MaxConstants = 1 << 24

// MaxJump is the largest forward or backward distance a 16-bit jump
// operand can encode.
const MaxJump = 1<<16 - 1

var (
	// ErrConstantPoolOverflow is returned when a chunk already holds
	// MaxConstants constants.
	ErrConstantPoolOverflow = errors.New("too many constants in one chunk")

	// ErrJumpTooLarge is returned when a jump or loop body exceeds MaxJump.
	ErrJumpTooLarge = errors.New("jump distance too large")
)

// PositionRun is one run of the run-length encoded position table: Reps
// consecutive code bytes all produced by source offset Pos.
type PositionRun struct {
	Pos  int
	Reps int
}

// UpvalueDescriptor tells OpClosure where the closure's i-th capture comes
// from: a local slot of the enclosing frame, or one of the enclosing
// closure's own upvalues.
type UpvalueDescriptor struct {
	IsLocal bool
	Index   uint8
}

// Chunk is the compiled body of one function.
type Chunk struct {
	// Code section
	Code []byte

	// Constant pool
	Constants []Value

	// Source offsets for every code byte, run-length encoded
	Lines []PositionRun

	// Capture information for closures created from this chunk's function
	Upvalues []UpvalueDescriptor
}

// NewChunk creates a new empty chunk.
func NewChunk() *Chunk {
	return &Chunk{
		Code:      make([]byte, 0, 64),
		Constants: make([]Value, 0, 8),
	}
}

// Write appends one byte produced by source offset pos.
func (c *Chunk) Write(b byte, pos int) {
	c.Code = append(c.Code, b)
	if n := len(c.Lines); n > 0 && c.Lines[n-1].Pos == pos {
		c.Lines[n-1].Reps++
		return
	}
	c.Lines = append(c.Lines, PositionRun{Pos: pos, Reps: 1})
}

// WriteOp appends an opcode byte.
func (c *Chunk) WriteOp(op Opcode, pos int) int {
	offset := len(c.Code)
	c.Write(byte(op), pos)
	return offset
}

// WriteBytes appends operand bytes, all attributed to pos.
func (c *Chunk) WriteBytes(pos int, bs ...byte) {
	for _, b := range bs {
		c.Write(b, pos)
	}
}

// WriteU24 appends a little-endian 24-bit operand.
func (c *Chunk) WriteU24(v int, pos int) {
	c.WriteBytes(pos, byte(v), byte(v>>8), byte(v>>16))
}

// AddConstant appends v to the constant pool and returns its index.
// The pool is append-only: existing indices never change.
func (c *Chunk) AddConstant(v Value) (int, error) {
	if len(c.Constants) >= MaxConstants {
		return 0, ErrConstantPoolOverflow
	}
	c.Constants = append(c.Constants, v)
	return len(c.Constants) - 1, nil
}

// WriteConstant adds v to the pool and emits the narrowest load for it:
// OpConstant with a one-byte index below 256, OpConstantLong with a
// three-byte index otherwise.
func (c *Chunk) WriteConstant(v Value, pos int) (int, error) {
	idx, err := c.AddConstant(v)
	if err != nil {
		return 0, err
	}
	if idx < 256 {
		c.WriteOp(OpConstant, pos)
		c.Write(byte(idx), pos)
	} else {
		c.WriteOp(OpConstantLong, pos)
		c.WriteU24(idx, pos)
	}
	return idx, nil
}

// WriteJump emits a jump instruction with a placeholder offset.
// Returns the offset of the placeholder for later patching.
func (c *Chunk) WriteJump(op Opcode, pos int) int {
	c.WriteOp(op, pos)
	c.WriteBytes(pos, 0xFF, 0xFF)
	return len(c.Code) - 2
}

// PatchJump patches a forward jump to land on the current end of code.
func (c *Chunk) PatchJump(placeholder int) error {
	delta := len(c.Code) - (placeholder + 2)
	if delta > MaxJump {
		return ErrJumpTooLarge
	}
	c.Code[placeholder] = byte(delta >> 8)
	c.Code[placeholder+1] = byte(delta)
	return nil
}

// WriteLoop emits a backward jump to loopStart.
func (c *Chunk) WriteLoop(loopStart int, pos int) error {
	c.WriteOp(OpLoop, pos)
	delta := len(c.Code) + 2 - loopStart
	if delta > MaxJump {
		return ErrJumpTooLarge
	}
	c.WriteBytes(pos, byte(delta>>8), byte(delta))
	return nil
}

// Len returns the length of the code section.
func (c *Chunk) Len() int {
	return len(c.Code)
}

// PositionAt returns the source offset that produced the code byte at
// offset, or -1 if offset is outside the code.
func (c *Chunk) PositionAt(offset int) int {
	if offset < 0 || offset >= len(c.Code) {
		return -1
	}
	for _, run := range c.Lines {
		if offset < run.Reps {
			return run.Pos
		}
		offset -= run.Reps
	}
	return -1
}

// readU24 decodes the little-endian 24-bit operand at offset.
func readU24(code []byte, offset int) int {
	return int(code[offset]) | int(code[offset+1])<<8 | int(code[offset+2])<<16
}

// readU16 decodes the big-endian 16-bit jump operand at offset.
func readU16(code []byte, offset int) int {
	return int(code[offset])<<8 | int(code[offset+1])
}

// Validate walks the code and checks that every opcode is known, every
// instruction fits, every constant operand is in range and every jump lands
// on an instruction. It also checks that the position table covers the code
// exactly. Images loaded from outside the process are validated before they
// run.
func (c *Chunk) Validate() error {
	covered := 0
	for i, run := range c.Lines {
		if run.Reps <= 0 {
			return fmt.Errorf("position run %d: non-positive length %d", i, run.Reps)
		}
		covered += run.Reps
	}
	if covered != len(c.Code) {
		return fmt.Errorf("position table covers %d bytes, code has %d", covered, len(c.Code))
	}

	starts := make(map[int]bool)
	var jumps [][2]int // instruction offset, target
	for offset := 0; offset < len(c.Code); {
		op := Opcode(c.Code[offset])
		info, ok := LookupOpcode(op)
		if !ok {
			return fmt.Errorf("offset %d: unknown opcode 0x%02X", offset, byte(op))
		}
		end := offset + 1 + info.OperandLen
		if end > len(c.Code) {
			return fmt.Errorf("offset %d: %s truncated", offset, info.Name)
		}
		if idx, isConst := c.constantOperand(op, offset); isConst && idx >= len(c.Constants) {
			return fmt.Errorf("offset %d: %s constant %d out of range", offset, info.Name, idx)
		}
		switch op {
		case OpJump, OpJumpIfFalse:
			jumps = append(jumps, [2]int{offset, end + readU16(c.Code, offset+1)})
		case OpLoop:
			jumps = append(jumps, [2]int{offset, end - readU16(c.Code, offset+1)})
		}
		starts[offset] = true
		offset = end
	}
	for _, j := range jumps {
		if !starts[j[1]] {
			return fmt.Errorf("offset %d: jump target %d is not an instruction", j[0], j[1])
		}
	}
	return nil
}

// constantOperand returns the constant index an instruction references.
func (c *Chunk) constantOperand(op Opcode, offset int) (int, bool) {
	switch op {
	case OpConstant:
		return int(c.Code[offset+1]), true
	case OpConstantLong, OpGetGlobal, OpSetGlobal, OpDefineGlobal,
		OpGetProperty, OpSetProperty, OpGetSuper, OpInvoke, OpSuperInvoke,
		OpClosure, OpClass, OpMethod:
		return readU24(c.Code, offset+1), true
	}
	return 0, false
}
