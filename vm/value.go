package vm

import (
	"math"
	"strconv"
)

// Value represents an oklang value using NaN-boxing.
//
// All values are 64-bit IEEE 754 doubles. Non-number values are encoded in
// the quiet NaN space using tag bits:
//   - Number: native IEEE 754 double (anything that is not one of our tags)
//   - Special: quiet NaN + tagSpecial + special ID (nil/true/false)
//   - Object: quiet NaN + tagObject + 48-bit heap Handle
type Value uint64

const (
	// Quiet NaN prefix: exponent all 1s, quiet bit set, sign bit 0
	nanBits uint64 = 0x7FF8000000000000

	// Tag mask: 3 bits within the NaN mantissa space
	tagMask uint64 = 0x0007000000000000

	// Payload mask: 48 bits for handle/special ID
	payloadMask uint64 = 0x0000FFFFFFFFFFFF

	tagObject  uint64 = 0x0001000000000000
	tagSpecial uint64 = 0x0003000000000000
)

const (
	specialNil   uint64 = 0
	specialTrue  uint64 = 1
	specialFalse uint64 = 2
)

// Pre-defined special values
const (
	Nil   Value = Value(nanBits | tagSpecial | specialNil)
	True  Value = Value(nanBits | tagSpecial | specialTrue)
	False Value = Value(nanBits | tagSpecial | specialFalse)
)

// canonicalNaN is the single NaN bit pattern the VM ever stores.
const canonicalNaN Value = Value(nanBits)

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

// IsNumber returns true if v holds a float64.
// Infinities and untagged NaNs are numbers.
func (v Value) IsNumber() bool {
	bits := uint64(v)

	// Exponent is not all 1s: a regular float
	if (bits & 0x7FF0000000000000) != 0x7FF0000000000000 {
		return true
	}

	// +Inf or -Inf
	if bits&0x000FFFFFFFFFFFFF == 0 {
		return true
	}

	// Signaling NaN
	if (bits & nanBits) != nanBits {
		return true
	}

	// Quiet NaN without tag bits is a real NaN
	return bits&tagMask == 0
}

// IsObject returns true if v references a heap object.
func (v Value) IsObject() bool {
	return (uint64(v) & (nanBits | tagMask)) == (nanBits | tagObject)
}

// IsNil returns true if v is nil.
func (v Value) IsNil() bool {
	return v == Nil
}

// IsBool returns true if v is true or false.
func (v Value) IsBool() bool {
	return v == True || v == False
}

// ---------------------------------------------------------------------------
// Constructors and accessors
// ---------------------------------------------------------------------------

// NumberValue creates a Value from a float64.
func NumberValue(f float64) Value {
	if f != f {
		return canonicalNaN
	}
	return Value(math.Float64bits(f))
}

// Number returns v as a float64.
// Panics if v is not a number.
func (v Value) Number() float64 {
	if !v.IsNumber() {
		panic("Value.Number: not a number")
	}
	return math.Float64frombits(uint64(v))
}

// BoolValue creates a Value from a bool.
func BoolValue(b bool) Value {
	if b {
		return True
	}
	return False
}

// Bool returns v as a bool.
// Panics if v is not true or false.
func (v Value) Bool() bool {
	switch v {
	case True:
		return true
	case False:
		return false
	default:
		panic("Value.Bool: not a boolean")
	}
}

// ObjectValue creates a Value referencing the heap object at h.
func ObjectValue(h Handle) Value {
	return Value(nanBits | tagObject | (uint64(h) & payloadMask))
}

// Handle returns the heap handle referenced by v.
// Panics if v is not an object.
func (v Value) Handle() Handle {
	if !v.IsObject() {
		panic("Value.Handle: not an object")
	}
	return Handle(uint64(v) & payloadMask)
}

// ---------------------------------------------------------------------------
// Semantics
// ---------------------------------------------------------------------------

// IsFalsey reports whether v is falsy in a conditional.
// Only nil and false are falsy; every other value, including 0 and the
// empty string, is truthy.
func (v Value) IsFalsey() bool {
	return v == False || v == Nil
}

// ValuesEqual implements the == operator. Numbers compare by IEEE value,
// objects by identity, which is content equality for interned strings.
// Values of different types are never equal.
func ValuesEqual(a, b Value) bool {
	an, bn := a.IsNumber(), b.IsNumber()
	if an && bn {
		return a.Number() == b.Number()
	}
	if an != bn {
		return false
	}
	return a == b
}

// formatNumber renders a number the way print shows it.
func formatNumber(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case f != f:
		return "nan"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
