package vm

// ObjectKind identifies the variant of a heap object.
type ObjectKind uint8

const (
	KindString ObjectKind = iota + 1
	KindFunction
	KindClosure
	KindUpvalue
	KindClass
	KindInstance
	KindBoundMethod
	KindNative

	kindCount
)

var kindNames = [kindCount]string{
	KindString:      "string",
	KindFunction:    "function",
	KindClosure:     "closure",
	KindUpvalue:     "upvalue",
	KindClass:       "class",
	KindInstance:    "instance",
	KindBoundMethod: "bound_method",
	KindNative:      "native",
}

func (k ObjectKind) String() string {
	if k < kindCount && kindNames[k] != "" {
		return kindNames[k]
	}
	return "unknown"
}

// Object is implemented by every heap-resident variant. The header is
// embedded so the collector can reach the mark bit and list link without
// knowing the concrete type.
type Object interface {
	Kind() ObjectKind
	hdr() *header
}

type header struct {
	marked bool
	next   Handle // intrusive all-objects list
	self   Handle
	size   int // bytes charged to the heap
}

func (h *header) hdr() *header { return h }

// Handle returns the object's own heap handle.
func (h *header) Handle() Handle { return h.self }

// Approximate per-variant sizes charged at allocation. They only drive the
// collection threshold, so they need to be proportional, not exact.
const (
	sizeHeader      = 32
	sizeString      = sizeHeader + 24
	sizeFunction    = sizeHeader + 64
	sizeClosure     = sizeHeader + 32
	sizeUpvalue     = sizeHeader + 32
	sizeClass       = sizeHeader + 32
	sizeInstance    = sizeHeader + 24
	sizeBoundMethod = sizeHeader + 16
	sizeNative      = sizeHeader + 40
	sizeTableEntry  = 24
	sizeHandle      = 8
)

// StringObject is an immutable interned string.
type StringObject struct {
	header
	Chars string
	Hash  uint64
}

func (*StringObject) Kind() ObjectKind { return KindString }

// FunctionObject is a compiled function. Name is NoHandle for the
// top-level script.
type FunctionObject struct {
	header
	Name         Handle
	Arity        int
	UpvalueCount int
	Chunk        *Chunk
	Source       *Source
}

func (*FunctionObject) Kind() ObjectKind { return KindFunction }

// ClosureObject pairs a function with its captured variables.
type ClosureObject struct {
	header
	Function Handle
	Upvalues []Handle

	fn *FunctionObject
}

func (*ClosureObject) Kind() ObjectKind { return KindClosure }

// Proto returns the closure's function.
func (c *ClosureObject) Proto() *FunctionObject { return c.fn }

// UpvalueObject is a captured variable. While open it names an absolute
// stack slot; once closed it owns the value.
type UpvalueObject struct {
	header
	Slot     int
	Closed   Value
	IsClosed bool

	// nextOpen links the VM's open-upvalue chain, ordered by
	// strictly descending Slot.
	nextOpen Handle
}

func (*UpvalueObject) Kind() ObjectKind { return KindUpvalue }

// ClassObject is a class with its method table keyed by interned name.
type ClassObject struct {
	header
	Name    Handle
	Methods map[Handle]Value
}

func (*ClassObject) Kind() ObjectKind { return KindClass }

// InstanceObject is an instance with its own field table.
type InstanceObject struct {
	header
	Class  Handle
	Fields map[Handle]Value
}

func (*InstanceObject) Kind() ObjectKind { return KindInstance }

// BoundMethodObject is a method closure bound to its receiver.
type BoundMethodObject struct {
	header
	Receiver Value
	Method   Handle
}

func (*BoundMethodObject) Kind() ObjectKind { return KindBoundMethod }

// NativeFn is a host function callable from scripts. args aliases nothing
// on the VM stack and may be retained. Returning an error raises a runtime
// error at the call site.
type NativeFn func(v *VM, args []Value) (Value, error)

// NativeObject wraps a host function. Arity -1 accepts any argument count.
type NativeObject struct {
	header
	Name  string
	Arity int
	Fn    NativeFn
}

func (*NativeObject) Kind() ObjectKind { return KindNative }

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

// allocate makes room for obj and links it into the heap. A collection may
// run before obj is linked, so every object obj references must already be
// reachable from a root.
func (vm *VM) allocate(obj Object, size int) Handle {
	vm.maybeCollect(size)
	return vm.heap.insert(obj, size)
}

// NewFunction allocates an empty function with a fresh chunk.
func (vm *VM) NewFunction(src *Source) *FunctionObject {
	fn := &FunctionObject{Chunk: NewChunk(), Source: src}
	vm.allocate(fn, sizeFunction)
	return fn
}

func (vm *VM) newClosure(fn *FunctionObject) *ClosureObject {
	c := &ClosureObject{
		Function: fn.self,
		Upvalues: make([]Handle, fn.UpvalueCount),
		fn:       fn,
	}
	vm.allocate(c, sizeClosure+sizeHandle*fn.UpvalueCount)
	return c
}

func (vm *VM) newUpvalue(slot int) *UpvalueObject {
	uv := &UpvalueObject{Slot: slot, Closed: Nil}
	vm.allocate(uv, sizeUpvalue)
	return uv
}

func (vm *VM) newClass(name Handle) *ClassObject {
	c := &ClassObject{Name: name, Methods: make(map[Handle]Value)}
	vm.allocate(c, sizeClass)
	return c
}

func (vm *VM) newInstance(class Handle) *InstanceObject {
	in := &InstanceObject{Class: class, Fields: make(map[Handle]Value)}
	vm.allocate(in, sizeInstance)
	return in
}

func (vm *VM) newBoundMethod(receiver Value, method Handle) *BoundMethodObject {
	b := &BoundMethodObject{Receiver: receiver, Method: method}
	vm.allocate(b, sizeBoundMethod)
	return b
}

func (vm *VM) newNative(name string, arity int, fn NativeFn) *NativeObject {
	n := &NativeObject{Name: name, Arity: arity, Fn: fn}
	vm.allocate(n, sizeNative+len(name))
	return n
}

// setTableEntry stores key=val in table and charges the owner for a new
// entry.
func (vm *VM) setTableEntry(owner Object, table map[Handle]Value, key Handle, val Value) {
	if _, exists := table[key]; !exists {
		vm.heap.charge(owner, sizeTableEntry)
	}
	table[key] = val
}

// ---------------------------------------------------------------------------
// Typed access
// ---------------------------------------------------------------------------

// Object resolves v to its heap object. It returns false for non-objects
// and stale handles.
func (vm *VM) Object(v Value) (Object, bool) {
	if !v.IsObject() {
		return nil, false
	}
	return vm.heap.Get(v.Handle())
}

func (vm *VM) mustObject(h Handle) Object {
	obj, ok := vm.heap.Get(h)
	if !ok {
		panic("vm: dangling handle " + h.String())
	}
	return obj
}

// AsString returns the string object behind v, if v is a string.
func (vm *VM) AsString(v Value) (*StringObject, bool) {
	obj, ok := vm.Object(v)
	if !ok {
		return nil, false
	}
	s, ok := obj.(*StringObject)
	return s, ok
}

// IsString reports whether v is a string.
func (vm *VM) IsString(v Value) bool {
	_, ok := vm.AsString(v)
	return ok
}

func (vm *VM) asClosure(v Value) (*ClosureObject, bool) {
	obj, ok := vm.Object(v)
	if !ok {
		return nil, false
	}
	c, ok := obj.(*ClosureObject)
	return c, ok
}

func (vm *VM) asClass(v Value) (*ClassObject, bool) {
	obj, ok := vm.Object(v)
	if !ok {
		return nil, false
	}
	c, ok := obj.(*ClassObject)
	return c, ok
}

func (vm *VM) asInstance(v Value) (*InstanceObject, bool) {
	obj, ok := vm.Object(v)
	if !ok {
		return nil, false
	}
	in, ok := obj.(*InstanceObject)
	return in, ok
}

func (vm *VM) stringText(h Handle) string {
	if s, ok := vm.mustObject(h).(*StringObject); ok {
		return s.Chars
	}
	return ""
}

// FunctionName returns the display name of fn ("script" for top level).
func (vm *VM) FunctionName(fn *FunctionObject) string {
	if fn.Name == NoHandle {
		return "script"
	}
	return vm.stringText(fn.Name)
}

// TypeName returns the script-visible type name of v.
func (vm *VM) TypeName(v Value) string {
	switch {
	case v.IsNumber():
		return "number"
	case v.IsBool():
		return "boolean"
	case v.IsNil():
		return "nil"
	}
	obj, ok := vm.Object(v)
	if !ok {
		return "invalid"
	}
	switch obj.Kind() {
	case KindClosure, KindFunction, KindBoundMethod, KindNative:
		return "function"
	}
	return obj.Kind().String()
}

// Format renders v the way print shows it.
func (vm *VM) Format(v Value) string {
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
	obj, ok := vm.Object(v)
	if !ok {
		return "<invalid>"
	}
	return vm.formatObject(obj)
}

func (vm *VM) formatObject(obj Object) string {
	switch o := obj.(type) {
	case *StringObject:
		return o.Chars
	case *FunctionObject:
		return vm.formatFunction(o)
	case *ClosureObject:
		return vm.formatFunction(o.fn)
	case *UpvalueObject:
		return "upvalue"
	case *ClassObject:
		return vm.stringText(o.Name)
	case *InstanceObject:
		class := vm.mustObject(o.Class).(*ClassObject)
		return vm.stringText(class.Name) + " instance"
	case *BoundMethodObject:
		return vm.formatFunction(vm.mustObject(o.Method).(*ClosureObject).fn)
	case *NativeObject:
		return "<native fn>"
	}
	return "<object>"
}

func (vm *VM) formatFunction(fn *FunctionObject) string {
	if fn.Name == NoHandle {
		return "<script>"
	}
	return "<fn " + vm.stringText(fn.Name) + ">"
}
