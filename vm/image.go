package vm

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ImageMagic identifies a compiled oklang image.
const ImageMagic = "OKLI"

// ImageVersion is the current image format version.
// Increment when making incompatible changes to the format or opcodes.
const ImageVersion uint16 = 1

var (
	ErrInvalidMagic    = errors.New("invalid image magic: expected " + ImageMagic)
	ErrVersionMismatch = errors.New("image version mismatch")
	ErrCorruptImage    = errors.New("corrupt image data")
)

var imageEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	imageEncMode = em
}

// Constant kinds in an image.
const (
	imgNumber uint8 = iota
	imgNil
	imgTrue
	imgFalse
	imgString
	imgFunction
)

type imageConstant struct {
	Kind uint8   `cbor:"k"`
	Num  float64 `cbor:"n"`
	Str  string  `cbor:"s,omitempty"`
	Fn   int     `cbor:"f,omitempty"`
}

type imageFunction struct {
	Name      string              `cbor:"name,omitempty"`
	Named     bool                `cbor:"named"`
	Arity     int                 `cbor:"arity"`
	Code      []byte              `cbor:"code"`
	Constants []imageConstant     `cbor:"consts"`
	Lines     []PositionRun       `cbor:"lines"`
	Upvalues  []UpvalueDescriptor `cbor:"upvalues"`
}

// Image is the serialized form of a compiled script: every function
// reachable from the script, the script itself first.
type Image struct {
	Magic      string          `cbor:"magic"`
	Version    uint16          `cbor:"version"`
	SourceName string          `cbor:"source_name"`
	SourceText string          `cbor:"source_text"`
	Functions  []imageFunction `cbor:"functions"`
}

// EncodeImage serializes fn and every function nested in it.
func (vm *VM) EncodeImage(fn *FunctionObject) ([]byte, error) {
	img := Image{Magic: ImageMagic, Version: ImageVersion}
	if fn.Source != nil {
		img.SourceName = fn.Source.Name
		img.SourceText = fn.Source.Text
	}

	index := make(map[*FunctionObject]int)
	var visit func(f *FunctionObject) (int, error)
	visit = func(f *FunctionObject) (int, error) {
		if i, ok := index[f]; ok {
			return i, nil
		}
		i := len(img.Functions)
		index[f] = i
		img.Functions = append(img.Functions, imageFunction{})

		out := imageFunction{
			Named:    f.Name != NoHandle,
			Arity:    f.Arity,
			Code:     f.Chunk.Code,
			Lines:    f.Chunk.Lines,
			Upvalues: f.Chunk.Upvalues,
		}
		if out.Named {
			out.Name = vm.stringText(f.Name)
		}
		for _, c := range f.Chunk.Constants {
			ic, err := vm.encodeConstant(c, visit)
			if err != nil {
				return 0, err
			}
			out.Constants = append(out.Constants, ic)
		}
		img.Functions[i] = out
		return i, nil
	}
	if _, err := visit(fn); err != nil {
		return nil, err
	}
	return imageEncMode.Marshal(&img)
}

func (vm *VM) encodeConstant(c Value, visit func(*FunctionObject) (int, error)) (imageConstant, error) {
	switch {
	case c.IsNumber():
		return imageConstant{Kind: imgNumber, Num: c.Number()}, nil
	case c == Nil:
		return imageConstant{Kind: imgNil}, nil
	case c == True:
		return imageConstant{Kind: imgTrue}, nil
	case c == False:
		return imageConstant{Kind: imgFalse}, nil
	}
	obj, ok := vm.Object(c)
	if !ok {
		return imageConstant{}, fmt.Errorf("encode image: dangling constant %v", c)
	}
	switch o := obj.(type) {
	case *StringObject:
		return imageConstant{Kind: imgString, Str: o.Chars}, nil
	case *FunctionObject:
		i, err := visit(o)
		if err != nil {
			return imageConstant{}, err
		}
		return imageConstant{Kind: imgFunction, Fn: i}, nil
	}
	return imageConstant{}, fmt.Errorf("encode image: %s constants are not serializable", obj.Kind())
}

// LoadImage decodes an image into this VM's heap and returns the script
// function. Collection is paused while the object graph is rebuilt; the
// returned function is unrooted, so run it before allocating again.
func (vm *VM) LoadImage(data []byte) (*FunctionObject, error) {
	var img Image
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptImage, err)
	}
	if img.Magic != ImageMagic {
		return nil, ErrInvalidMagic
	}
	if img.Version != ImageVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, img.Version, ImageVersion)
	}
	if len(img.Functions) == 0 {
		return nil, fmt.Errorf("%w: no functions", ErrCorruptImage)
	}

	vm.PauseGC()
	defer vm.ResumeGC()

	src := NewSource(img.SourceName, img.SourceText)
	fns := make([]*FunctionObject, len(img.Functions))
	for i := range img.Functions {
		fns[i] = vm.NewFunction(src)
	}

	for i, in := range img.Functions {
		fn := fns[i]
		fn.Arity = in.Arity
		fn.UpvalueCount = len(in.Upvalues)
		if in.Named {
			fn.Name = vm.Intern(in.Name).Handle()
		}
		fn.Chunk.Code = in.Code
		fn.Chunk.Lines = in.Lines
		fn.Chunk.Upvalues = in.Upvalues

		for _, ic := range in.Constants {
			c, err := vm.decodeConstant(ic, fns)
			if err != nil {
				return nil, fmt.Errorf("function %d: %w", i, err)
			}
			fn.Chunk.Constants = append(fn.Chunk.Constants, c)
		}
		if err := fn.Chunk.Validate(); err != nil {
			return nil, fmt.Errorf("%w: function %d: %v", ErrCorruptImage, i, err)
		}
	}
	if fns[0].UpvalueCount != 0 {
		return nil, fmt.Errorf("%w: script function captures upvalues", ErrCorruptImage)
	}
	for i, fn := range fns {
		if err := vm.validateCaptures(fn); err != nil {
			return nil, fmt.Errorf("%w: function %d: %v", ErrCorruptImage, i, err)
		}
	}

	log.Debugf("loaded image %q: %d functions", img.SourceName, len(fns))
	return fns[0], nil
}

// validateCaptures checks the upvalue descriptors of every function fn
// closes over. A capture of an enclosing upvalue must name one of fn's own.
func (vm *VM) validateCaptures(fn *FunctionObject) error {
	code := fn.Chunk.Code
	for offset := 0; offset < len(code); {
		op := Opcode(code[offset])
		info, _ := LookupOpcode(op)
		if op == OpClosure {
			obj, _ := vm.Object(fn.Chunk.Constants[readU24(code, offset+1)])
			inner, ok := obj.(*FunctionObject)
			if !ok {
				return fmt.Errorf("offset %d: CLOSURE operand is not a function", offset)
			}
			for j, desc := range inner.Chunk.Upvalues {
				if !desc.IsLocal && int(desc.Index) >= fn.UpvalueCount {
					return fmt.Errorf("offset %d: upvalue %d captures enclosing upvalue %d of %d",
						offset, j, desc.Index, fn.UpvalueCount)
				}
			}
		}
		offset += 1 + info.OperandLen
	}
	return nil
}

func (vm *VM) decodeConstant(ic imageConstant, fns []*FunctionObject) (Value, error) {
	switch ic.Kind {
	case imgNumber:
		return NumberValue(ic.Num), nil
	case imgNil:
		return Nil, nil
	case imgTrue:
		return True, nil
	case imgFalse:
		return False, nil
	case imgString:
		return vm.Intern(ic.Str), nil
	case imgFunction:
		if ic.Fn <= 0 || ic.Fn >= len(fns) {
			return Nil, fmt.Errorf("%w: function index %d out of range", ErrCorruptImage, ic.Fn)
		}
		return ObjectValue(fns[ic.Fn].self), nil
	}
	return Nil, fmt.Errorf("%w: unknown constant kind %d", ErrCorruptImage, ic.Kind)
}
