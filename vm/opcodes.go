package vm

import (
	"fmt"
	"sort"
)

// Opcode represents a bytecode instruction.
// Opcodes are organized into ranges by category.
type Opcode byte

const (
	// ========================================================================
	// Constants and literals (0x00-0x0F)
	// ========================================================================

	OpConstant     Opcode = 0x00 // Push constant: OpConstant <index:u8>
	OpConstantLong Opcode = 0x01 // Push constant: OpConstantLong <index:u24le>
	OpNil          Opcode = 0x02
	OpTrue         Opcode = 0x03
	OpFalse        Opcode = 0x04
	OpPop          Opcode = 0x05

	// ========================================================================
	// Variables (0x10-0x1F)
	// ========================================================================

	OpGetLocal     Opcode = 0x10 // <slot:u8>
	OpSetLocal     Opcode = 0x11 // <slot:u8>, leaves value on stack
	OpGetGlobal    Opcode = 0x12 // <name:u24le>
	OpDefineGlobal Opcode = 0x13 // <name:u24le>, pops value
	OpSetGlobal    Opcode = 0x14 // <name:u24le>, leaves value on stack
	OpGetUpvalue   Opcode = 0x15 // <index:u8>
	OpSetUpvalue   Opcode = 0x16 // <index:u8>
	OpGetProperty  Opcode = 0x17 // <name:u24le>
	OpSetProperty  Opcode = 0x18 // <name:u24le>
	OpGetSuper     Opcode = 0x19 // <name:u24le>

	// ========================================================================
	// Comparison (0x20-0x2F)
	// ========================================================================

	OpEqual        Opcode = 0x20
	OpNotEqual     Opcode = 0x21
	OpGreater      Opcode = 0x22
	OpGreaterEqual Opcode = 0x23
	OpLess         Opcode = 0x24
	OpLessEqual    Opcode = 0x25

	// ========================================================================
	// Arithmetic and logic (0x30-0x3F)
	// ========================================================================

	OpAdd      Opcode = 0x30 // Numbers add, strings concatenate
	OpSubtract Opcode = 0x31
	OpMultiply Opcode = 0x32
	OpDivide   Opcode = 0x33
	OpNot      Opcode = 0x34
	OpNegate   Opcode = 0x35

	// ========================================================================
	// Output (0x40-0x4F)
	// ========================================================================

	OpPrint Opcode = 0x40

	// ========================================================================
	// Control flow (0x50-0x5F)
	// ========================================================================

	OpJump        Opcode = 0x50 // <offset:u16be>, forward
	OpJumpIfFalse Opcode = 0x51 // <offset:u16be>, forward, leaves condition
	OpLoop        Opcode = 0x52 // <offset:u16be>, backward

	// ========================================================================
	// Calls and closures (0x60-0x6F)
	// ========================================================================

	OpCall         Opcode = 0x60 // <argc:u8>
	OpInvoke       Opcode = 0x61 // <name:u24le> <argc:u8>
	OpSuperInvoke  Opcode = 0x62 // <name:u24le> <argc:u8>
	OpClosure      Opcode = 0x63 // <function:u24le>
	OpCloseUpvalue Opcode = 0x64
	OpReturn       Opcode = 0x65

	// ========================================================================
	// Classes (0x70-0x7F)
	// ========================================================================

	OpClass   Opcode = 0x70 // <name:u24le>
	OpInherit Opcode = 0x71
	OpMethod  Opcode = 0x72 // <name:u24le>
)

// OpcodeInfo contains metadata about an opcode.
type OpcodeInfo struct {
	Name       string // Human-readable name
	StackPop   int    // Values popped (-1 for variable)
	StackPush  int    // Values pushed
	OperandLen int    // Bytes of operands following the opcode
}

var opcodeInfoTable = map[Opcode]OpcodeInfo{
	// Constants and literals
	OpConstant:     {"CONSTANT", 0, 1, 1},
	OpConstantLong: {"CONSTANT_LONG", 0, 1, 3},
	OpNil:          {"NIL", 0, 1, 0},
	OpTrue:         {"TRUE", 0, 1, 0},
	OpFalse:        {"FALSE", 0, 1, 0},
	OpPop:          {"POP", 1, 0, 0},

	// Variables
	OpGetLocal:     {"GET_LOCAL", 0, 1, 1},
	OpSetLocal:     {"SET_LOCAL", 1, 1, 1},
	OpGetGlobal:    {"GET_GLOBAL", 0, 1, 3},
	OpDefineGlobal: {"DEFINE_GLOBAL", 1, 0, 3},
	OpSetGlobal:    {"SET_GLOBAL", 1, 1, 3},
	OpGetUpvalue:   {"GET_UPVALUE", 0, 1, 1},
	OpSetUpvalue:   {"SET_UPVALUE", 1, 1, 1},
	OpGetProperty:  {"GET_PROPERTY", 1, 1, 3},
	OpSetProperty:  {"SET_PROPERTY", 2, 1, 3},
	OpGetSuper:     {"GET_SUPER", 2, 1, 3},

	// Comparison
	OpEqual:        {"EQUAL", 2, 1, 0},
	OpNotEqual:     {"NOT_EQUAL", 2, 1, 0},
	OpGreater:      {"GREATER", 2, 1, 0},
	OpGreaterEqual: {"GREATER_EQUAL", 2, 1, 0},
	OpLess:         {"LESS", 2, 1, 0},
	OpLessEqual:    {"LESS_EQUAL", 2, 1, 0},

	// Arithmetic and logic
	OpAdd:      {"ADD", 2, 1, 0},
	OpSubtract: {"SUBTRACT", 2, 1, 0},
	OpMultiply: {"MULTIPLY", 2, 1, 0},
	OpDivide:   {"DIVIDE", 2, 1, 0},
	OpNot:      {"NOT", 1, 1, 0},
	OpNegate:   {"NEGATE", 1, 1, 0},

	// Output
	OpPrint: {"PRINT", 1, 0, 0},

	// Control flow
	OpJump:        {"JUMP", 0, 0, 2},
	OpJumpIfFalse: {"JUMP_IF_FALSE", 1, 1, 2},
	OpLoop:        {"LOOP", 0, 0, 2},

	// Calls and closures
	OpCall:         {"CALL", -1, 1, 1},
	OpInvoke:       {"INVOKE", -1, 1, 4},
	OpSuperInvoke:  {"SUPER_INVOKE", -1, 1, 4},
	OpClosure:      {"CLOSURE", 0, 1, 3},
	OpCloseUpvalue: {"CLOSE_UPVALUE", 1, 0, 0},
	OpReturn:       {"RETURN", 1, 0, 0},

	// Classes
	OpClass:   {"CLASS", 0, 1, 3},
	OpInherit: {"INHERIT", 2, 1, 0},
	OpMethod:  {"METHOD", 1, 0, 3},
}

// LookupOpcode returns metadata for op and whether op is defined.
func LookupOpcode(op Opcode) (OpcodeInfo, bool) {
	info, ok := opcodeInfoTable[op]
	return info, ok
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns an OpcodeInfo named "UNKNOWN(0xNN)" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// OperandLen returns the number of operand bytes for this opcode.
func (op Opcode) OperandLen() int {
	return GetOpcodeInfo(op).OperandLen
}

// InstructionLen returns the total length of an instruction (1 + operand bytes).
func (op Opcode) InstructionLen() int {
	return 1 + op.OperandLen()
}

// IsJump returns true if this opcode is a jump instruction.
func (op Opcode) IsJump() bool {
	return op >= OpJump && op <= OpLoop
}

// AllOpcodes returns every defined opcode in ascending order.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	sort.Slice(opcodes, func(i, j int) bool { return opcodes[i] < opcodes[j] })
	return opcodes
}
