package vm

import (
	"errors"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

// buildNested assembles a script that creates a closure over a nested
// function and calls it.
func buildNested(t *testing.T, vm *VM) *FunctionObject {
	t.Helper()
	script := vm.NewFunction(NewSource("nested", "script text"))
	vm.Guard(ObjectValue(script.self))
	defer vm.Unguard()

	inner := vm.NewFunction(script.Source)
	idx, err := script.Chunk.AddConstant(ObjectValue(inner.self))
	if err != nil {
		t.Fatal(err)
	}
	inner.Name = vm.Intern("inner").Handle()
	inner.Chunk.WriteConstant(vm.Intern("hel"), 1)
	inner.Chunk.WriteConstant(vm.Intern("lo"), 2)
	inner.Chunk.WriteOp(OpAdd, 3)
	inner.Chunk.WriteOp(OpReturn, 3)

	script.Chunk.WriteOp(OpClosure, 0)
	script.Chunk.WriteU24(idx, 0)
	script.Chunk.WriteOp(OpCall, 0)
	script.Chunk.Write(0, 0)
	script.Chunk.WriteConstant(NumberValue(-0.5), 4)
	script.Chunk.WriteOp(OpPop, 4)
	script.Chunk.WriteOp(OpReturn, 5)
	return script
}

func TestImageRoundTrip(t *testing.T) {
	src, _ := newTestVM(t)
	fn := buildNested(t, src)
	data, err := src.EncodeImage(fn)
	if err != nil {
		t.Fatalf("EncodeImage: %v", err)
	}

	dst, _ := newTestVM(t)
	loaded, err := dst.LoadImage(data)
	if err != nil {
		t.Fatalf("LoadImage: %v", err)
	}
	if loaded.Source.Name != "nested" || loaded.Source.Text != "script text" {
		t.Errorf("source = %q %q", loaded.Source.Name, loaded.Source.Text)
	}
	if len(loaded.Chunk.Constants) != 2 {
		t.Fatalf("constants = %d, want 2", len(loaded.Chunk.Constants))
	}
	if got := loaded.Chunk.PositionAt(len(loaded.Chunk.Code) - 1); got != 5 {
		t.Errorf("position of RETURN = %d, want 5", got)
	}

	result, err := dst.RunFunction(loaded)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result != dst.Intern("hello") {
		t.Errorf("result = %s, want hello", dst.Format(result))
	}
}

func TestImageDeterministic(t *testing.T) {
	vm, _ := newTestVM(t)
	fn := buildNested(t, vm)
	a, err := vm.EncodeImage(fn)
	if err != nil {
		t.Fatal(err)
	}
	b, err := vm.EncodeImage(fn)
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Error("encoding is not deterministic")
	}
}

func TestImageRejectsBadHeader(t *testing.T) {
	vm, _ := newTestVM(t)

	if _, err := vm.LoadImage([]byte{0xFF, 0x00}); !errors.Is(err, ErrCorruptImage) {
		t.Errorf("garbage: err = %v, want ErrCorruptImage", err)
	}

	bad, _ := cbor.Marshal(Image{Magic: "NOPE", Version: ImageVersion})
	if _, err := vm.LoadImage(bad); !errors.Is(err, ErrInvalidMagic) {
		t.Errorf("magic: err = %v, want ErrInvalidMagic", err)
	}

	old, _ := cbor.Marshal(Image{Magic: ImageMagic, Version: ImageVersion + 1})
	if _, err := vm.LoadImage(old); !errors.Is(err, ErrVersionMismatch) {
		t.Errorf("version: err = %v, want ErrVersionMismatch", err)
	}
}

func TestImageRejectsBadConstantIndex(t *testing.T) {
	vm, _ := newTestVM(t)
	img := Image{
		Magic:   ImageMagic,
		Version: ImageVersion,
		Functions: []imageFunction{{
			Code:  []byte{byte(OpConstant), 3, byte(OpReturn)},
			Lines: []PositionRun{{Pos: 0, Reps: 3}},
		}},
	}
	data, _ := cbor.Marshal(img)
	if _, err := vm.LoadImage(data); !errors.Is(err, ErrCorruptImage) {
		t.Errorf("err = %v, want ErrCorruptImage", err)
	}
}

// closingImage builds an image whose script closes over function 1 and
// calls it. inner describes function 1's captures.
func closingImage(inner []UpvalueDescriptor) Image {
	return Image{
		Magic:   ImageMagic,
		Version: ImageVersion,
		Functions: []imageFunction{
			{
				Code: []byte{
					byte(OpClosure), 0, 0, 0,
					byte(OpCall), 0,
					byte(OpReturn),
				},
				Constants: []imageConstant{{Kind: imgFunction, Fn: 1}},
				Lines:     []PositionRun{{Pos: 0, Reps: 7}},
			},
			{
				Name:     "inner",
				Named:    true,
				Code:     []byte{byte(OpNil), byte(OpReturn)},
				Lines:    []PositionRun{{Pos: 0, Reps: 2}},
				Upvalues: inner,
			},
		},
	}
}

func TestImageRejectsBadCaptures(t *testing.T) {
	vm, _ := newTestVM(t)

	data, _ := cbor.Marshal(closingImage([]UpvalueDescriptor{{IsLocal: false, Index: 7}}))
	if _, err := vm.LoadImage(data); !errors.Is(err, ErrCorruptImage) {
		t.Errorf("enclosing upvalue out of range: err = %v, want ErrCorruptImage", err)
	}

	img := closingImage(nil)
	img.Functions[0].Upvalues = []UpvalueDescriptor{{IsLocal: true, Index: 0}}
	data, _ = cbor.Marshal(img)
	if _, err := vm.LoadImage(data); !errors.Is(err, ErrCorruptImage) {
		t.Errorf("script with captures: err = %v, want ErrCorruptImage", err)
	}

	data, _ = cbor.Marshal(closingImage(nil))
	fn, err := vm.LoadImage(data)
	if err != nil {
		t.Fatalf("valid image: %v", err)
	}
	if result, err := vm.RunFunction(fn); err != nil || !result.IsNil() {
		t.Errorf("run = %v, %v", vm.Format(result), err)
	}
}

func TestImageRejectsBadPositionsAndJumps(t *testing.T) {
	vm, _ := newTestVM(t)
	tests := []struct {
		name  string
		code  []byte
		lines []PositionRun
	}{
		{"short position table", []byte{byte(OpNil), byte(OpReturn)}, []PositionRun{{Pos: 0, Reps: 1}}},
		{"empty run", []byte{byte(OpNil), byte(OpReturn)}, []PositionRun{{Pos: 0, Reps: 2}, {Pos: 1, Reps: 0}}},
		{"jump past end", []byte{byte(OpJump), 0, 9, byte(OpNil), byte(OpReturn)}, []PositionRun{{Pos: 0, Reps: 5}}},
		{"jump into operand", []byte{byte(OpJump), 0, 1, byte(OpConstant), 0, byte(OpReturn)}, []PositionRun{{Pos: 0, Reps: 6}}},
		{"loop before start", []byte{byte(OpNil), byte(OpLoop), 0, 9, byte(OpReturn)}, []PositionRun{{Pos: 0, Reps: 5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := Image{
				Magic:   ImageMagic,
				Version: ImageVersion,
				Functions: []imageFunction{{
					Code:      tt.code,
					Constants: []imageConstant{{Kind: imgNumber, Num: 1}},
					Lines:     tt.lines,
				}},
			}
			data, _ := cbor.Marshal(img)
			if _, err := vm.LoadImage(data); !errors.Is(err, ErrCorruptImage) {
				t.Errorf("err = %v, want ErrCorruptImage", err)
			}
		})
	}
}

func TestLocalOutsideFrameIsCorrupt(t *testing.T) {
	vm, _ := newTestVM(t)
	img := Image{
		Magic:   ImageMagic,
		Version: ImageVersion,
		Functions: []imageFunction{{
			Code:  []byte{byte(OpGetLocal), 9, byte(OpReturn)},
			Lines: []PositionRun{{Pos: 0, Reps: 3}},
		}},
	}
	data, _ := cbor.Marshal(img)
	fn, err := vm.LoadImage(data)
	if err != nil {
		t.Fatalf("LoadImage: %v", err)
	}

	defer func() {
		r := recover()
		if _, ok := r.(*CorruptChunkError); !ok {
			t.Fatalf("recovered %v (%T), want *CorruptChunkError", r, r)
		}
		if vm.Depth() != 0 {
			t.Errorf("depth after corrupt chunk = %d, want 0", vm.Depth())
		}
	}()
	vm.RunFunction(fn)
}
