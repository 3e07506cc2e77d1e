package vm

import (
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

var (
	log   = commonlog.GetLogger("oklang.vm")
	gcLog = commonlog.GetLogger("oklang.gc")
)

const (
	DefaultMaxFrames    = 256
	DefaultStackSize    = 1024
	DefaultGCThreshold  = 1 << 20
	DefaultGrowthFactor = 2.0
)

// Options configures a VM. Zero fields take their defaults.
type Options struct {
	MaxFrames int // call depth limit
	StackSize int // initial value stack capacity; the stack grows on demand

	InitialGCThreshold int     // bytes allocated before the first collection
	GrowthFactor       float64 // next threshold = live bytes * GrowthFactor
	StressGC           bool    // collect before every allocation
	LogGC              bool    // log every collection at info level

	Trace       bool      // disassemble each instruction as it executes
	TraceOutput io.Writer // defaults to os.Stderr
	Stdout      io.Writer // print destination; defaults to os.Stdout
}

// DefaultOptions returns the default VM configuration.
func DefaultOptions() Options {
	return Options{
		MaxFrames:          DefaultMaxFrames,
		StackSize:          DefaultStackSize,
		InitialGCThreshold: DefaultGCThreshold,
		GrowthFactor:       DefaultGrowthFactor,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxFrames <= 0 {
		o.MaxFrames = d.MaxFrames
	}
	if o.StackSize <= 0 {
		o.StackSize = d.StackSize
	}
	if o.InitialGCThreshold <= 0 {
		o.InitialGCThreshold = d.InitialGCThreshold
	}
	if o.GrowthFactor < 1 {
		o.GrowthFactor = d.GrowthFactor
	}
	if o.TraceOutput == nil {
		o.TraceOutput = os.Stderr
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	return o
}

// CallFrame is one active function invocation. Slot 0 of its window
// (stack[base]) holds the callee, or the receiver for methods.
type CallFrame struct {
	closure *ClosureObject
	fn      *FunctionObject
	ip      int
	base    int
}

// activation records where a host entry point (RunFunction, Call) started,
// so a failure unwinds only its own frames.
type activation struct {
	frameBase int
	stackBase int
}

// VM is one isolated oklang runtime. A VM is not safe for concurrent use;
// serialize access (see server.VMWorker).
type VM struct {
	ID string

	opts Options
	out  io.Writer

	heap    *Heap
	strings *Interner
	globals map[Handle]Value

	stack []Value
	sp    int

	frames []CallFrame
	fc     int

	openUpvalues Handle
	activations  []activation

	guards      []Value
	rootSources []RootSource
	gray        []Handle
	gc          gcState

	initString Handle
	compiler   CompilerBackend
	started    time.Time
}

// New creates a VM with the built-in natives installed.
func New(opts Options) *VM {
	opts = opts.withDefaults()
	vm := &VM{
		ID:      uuid.NewString(),
		opts:    opts,
		out:     opts.Stdout,
		heap:    NewHeap(),
		strings: newInterner(),
		globals: make(map[Handle]Value),
		stack:   make([]Value, opts.StackSize),
		frames:  make([]CallFrame, opts.MaxFrames),
		started: time.Now(),
	}
	vm.gc = gcState{
		nextGC: opts.InitialGCThreshold,
		growth: opts.GrowthFactor,
		stress: opts.StressGC,
		logAll: opts.LogGC,
	}

	vm.initString = vm.Intern("init").Handle()
	vm.registerNatives()

	log.Debugf("vm %s created (max frames %d, gc threshold %d)", vm.ID, opts.MaxFrames, opts.InitialGCThreshold)
	return vm
}

// Options returns the effective configuration.
func (vm *VM) Options() Options {
	return vm.opts
}

// Heap exposes the object heap for inspection.
func (vm *VM) Heap() *Heap {
	return vm.heap
}

// Interner exposes the string table for inspection.
func (vm *VM) Interner() *Interner {
	return vm.strings
}

// SetOutput redirects print.
func (vm *VM) SetOutput(w io.Writer) {
	vm.out = w
}

// Output returns the current print destination.
func (vm *VM) Output() io.Writer {
	return vm.out
}

// ---------------------------------------------------------------------------
// Public execution API
// ---------------------------------------------------------------------------

// Interpret compiles and runs source. It returns the script's value: the
// final expression when the script ends with one, nil otherwise.
// Use ResultOf to classify the error.
func (vm *VM) Interpret(name, source string) (Value, error) {
	fn, err := vm.Compile(name, source)
	if err != nil {
		return Nil, err
	}
	return vm.RunFunction(fn)
}

// RunFunction wraps a top-level function in a closure and runs it.
func (vm *VM) RunFunction(fn *FunctionObject) (Value, error) {
	vm.Guard(ObjectValue(fn.self))
	closure := vm.newClosure(fn)
	vm.Unguard()
	return vm.execute(ObjectValue(closure.self), nil)
}

// Call invokes a callable value from host code. It may be used re-entrantly
// from inside a native function; a failure unwinds only the frames this
// call pushed.
func (vm *VM) Call(callee Value, args ...Value) (Value, error) {
	return vm.execute(callee, args)
}

func (vm *VM) execute(callee Value, args []Value) (result Value, err error) {
	act := activation{frameBase: vm.fc, stackBase: vm.sp}
	vm.activations = append(vm.activations, act)
	completed := false
	defer func() {
		vm.activations = vm.activations[:len(vm.activations)-1]
		if err != nil || !completed {
			vm.unwind(act)
		}
	}()

	vm.push(callee)
	for _, a := range args {
		vm.push(a)
	}
	if err = vm.callValue(callee, len(args)); err != nil {
		return Nil, err
	}

	if vm.fc == act.frameBase {
		// Natives complete inside callValue.
		result = vm.pop()
	} else {
		result, err = vm.run(act.frameBase)
	}
	completed = true
	return result, err
}

// unwind discards everything an activation left behind.
func (vm *VM) unwind(act activation) {
	vm.closeUpvalues(act.stackBase)
	vm.fc = act.frameBase
	vm.sp = act.stackBase
}

// Depth returns the number of active frames.
func (vm *VM) Depth() int {
	return vm.fc
}

// ---------------------------------------------------------------------------
// Globals
// ---------------------------------------------------------------------------

// DefineGlobal binds name to v.
func (vm *VM) DefineGlobal(name string, v Value) {
	vm.Guard(v)
	key := vm.Intern(name).Handle()
	vm.globals[key] = v
	vm.Unguard()
}

// Global looks up a global by name.
func (vm *VM) Global(name string) (Value, bool) {
	str, ok := vm.strings.lookup(vm.heap, name, HashString(name))
	if !ok {
		return Nil, false
	}
	v, ok := vm.globals[str.self]
	return v, ok
}

// GlobalNames returns the names of all defined globals.
func (vm *VM) GlobalNames() []string {
	names := make([]string, 0, len(vm.globals))
	for k := range vm.globals {
		names = append(names, vm.stringText(k))
	}
	return names
}

// ---------------------------------------------------------------------------
// Host roots
// ---------------------------------------------------------------------------

// Guard keeps v alive across allocations until the matching Unguard.
// Guards nest.
func (vm *VM) Guard(v Value) {
	vm.guards = append(vm.guards, v)
}

// Unguard releases the most recent Guard.
func (vm *VM) Unguard() {
	vm.guards = vm.guards[:len(vm.guards)-1]
}

// ---------------------------------------------------------------------------
// Value stack
// ---------------------------------------------------------------------------

func (vm *VM) push(v Value) {
	if vm.sp == len(vm.stack) {
		vm.stack = append(vm.stack, make([]Value, len(vm.stack))...)
	}
	vm.stack[vm.sp] = v
	vm.sp++
}

func (vm *VM) pop() Value {
	if vm.sp == 0 {
		panic("stack underflow")
	}
	vm.sp--
	return vm.stack[vm.sp]
}

func (vm *VM) peek(distance int) Value {
	return vm.stack[vm.sp-1-distance]
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

// Stats is a snapshot of VM resource usage.
type Stats struct {
	ID             string
	Objects        int
	ObjectsByKind  map[string]int
	BytesAllocated int
	NextGC         int
	Strings        int
	Globals        int
	StackDepth     int
	Frames         int
	Collections    uint64
	LastGC         GCStats
}

// Stats returns current resource usage.
func (vm *VM) Stats() Stats {
	byKind := make(map[string]int)
	for k := KindString; k < kindCount; k++ {
		if n := vm.heap.LiveOfKind(k); n > 0 {
			byKind[k.String()] = n
		}
	}
	return Stats{
		ID:             vm.ID,
		Objects:        vm.heap.Live(),
		ObjectsByKind:  byKind,
		BytesAllocated: vm.heap.BytesAllocated(),
		NextGC:         vm.gc.nextGC,
		Strings:        vm.strings.Len(),
		Globals:        len(vm.globals),
		StackDepth:     vm.sp,
		Frames:         vm.fc,
		Collections:    vm.gc.cycles,
		LastGC:         vm.gc.last,
	}
}
