package vm

import (
	"math"
	"testing"
)

// ---------------------------------------------------------------------------
// Number tests
// ---------------------------------------------------------------------------

func TestNumberRoundTrip(t *testing.T) {
	tests := []float64{
		0.0,
		1.0,
		-1.0,
		3.14159265358979,
		math.MaxFloat64,
		math.SmallestNonzeroFloat64,
		-math.MaxFloat64,
		math.Inf(1),
		math.Inf(-1),
	}

	for _, f := range tests {
		v := NumberValue(f)
		if !v.IsNumber() {
			t.Errorf("NumberValue(%v).IsNumber() = false, want true", f)
			continue
		}
		if v.IsObject() || v.IsNil() || v.IsBool() {
			t.Errorf("NumberValue(%v) reports a non-number type", f)
		}
		if got := v.Number(); got != f {
			t.Errorf("NumberValue(%v).Number() = %v", f, got)
		}
	}
}

func TestNumberNegativeZero(t *testing.T) {
	v := NumberValue(math.Copysign(0, -1))
	if !math.Signbit(v.Number()) {
		t.Error("negative zero lost its sign")
	}
	if !ValuesEqual(v, NumberValue(0)) {
		t.Error("-0 should equal 0")
	}
}

func TestNumberNaN(t *testing.T) {
	v := NumberValue(math.NaN())
	if !v.IsNumber() {
		t.Fatal("NaN should be a number")
	}
	if !math.IsNaN(v.Number()) {
		t.Error("NaN roundtrip failed")
	}
	if ValuesEqual(v, v) {
		t.Error("NaN should not equal itself")
	}
}

// ---------------------------------------------------------------------------
// Special and object tests
// ---------------------------------------------------------------------------

func TestSpecialValues(t *testing.T) {
	if !Nil.IsNil() || Nil.IsNumber() || Nil.IsObject() {
		t.Error("Nil type checks wrong")
	}
	if !True.IsBool() || !True.Bool() {
		t.Error("True type checks wrong")
	}
	if !False.IsBool() || False.Bool() {
		t.Error("False type checks wrong")
	}
	if BoolValue(true) != True || BoolValue(false) != False {
		t.Error("BoolValue mismatch")
	}
}

func TestObjectValueRoundTrip(t *testing.T) {
	handles := []Handle{
		makeHandle(1, 0),
		makeHandle(42, 7),
		makeHandle(math.MaxUint32, math.MaxUint16),
	}
	for _, h := range handles {
		v := ObjectValue(h)
		if !v.IsObject() {
			t.Errorf("ObjectValue(%v).IsObject() = false", h)
			continue
		}
		if v.IsNumber() {
			t.Errorf("ObjectValue(%v).IsNumber() = true", h)
		}
		if got := v.Handle(); got != h {
			t.Errorf("ObjectValue(%v).Handle() = %v", h, got)
		}
	}
}

func TestIsFalsey(t *testing.T) {
	tests := []struct {
		v    Value
		want bool
	}{
		{Nil, true},
		{False, true},
		{True, false},
		{NumberValue(0), false},
		{NumberValue(1), false},
		{ObjectValue(makeHandle(1, 0)), false},
	}
	for _, tt := range tests {
		if got := tt.v.IsFalsey(); got != tt.want {
			t.Errorf("IsFalsey(%#x) = %v, want %v", uint64(tt.v), got, tt.want)
		}
	}
}

func TestValuesEqualAcrossTypes(t *testing.T) {
	pairs := [][2]Value{
		{Nil, False},
		{NumberValue(0), False},
		{NumberValue(0), Nil},
		{True, NumberValue(1)},
		{ObjectValue(makeHandle(1, 0)), NumberValue(1)},
	}
	for _, p := range pairs {
		if ValuesEqual(p[0], p[1]) {
			t.Errorf("ValuesEqual(%#x, %#x) = true, want false", uint64(p[0]), uint64(p[1]))
		}
	}
	if !ValuesEqual(NumberValue(2.5), NumberValue(2.5)) {
		t.Error("equal numbers should be equal")
	}
}

func TestFormatNumber(t *testing.T) {
	tests := map[float64]string{
		3:       "3",
		-2.5:    "-2.5",
		0.1:     "0.1",
		1e21:    "1e+21",
		1000000: "1e+06",
	}
	for in, want := range tests {
		if got := formatNumber(in); got != want {
			t.Errorf("formatNumber(%v) = %q, want %q", in, got, want)
		}
	}
}
