package vm

import "time"

// ---------------------------------------------------------------------------
// Mark-sweep collector
// ---------------------------------------------------------------------------

// GCStats holds statistics from a single collection.
type GCStats struct {
	Cycle         uint64
	BytesBefore   int
	BytesAfter    int
	ObjectsFreed  int
	StringsPruned int
	NextThreshold int
	Duration      time.Duration
	Timestamp     time.Time
}

type gcState struct {
	nextGC int
	growth float64
	stress bool
	logAll bool

	paused     int
	collecting bool
	cycles     uint64
	last       GCStats
}

// maybeCollect runs a collection if allocating size more bytes would cross
// the threshold, or always in stress mode.
func (vm *VM) maybeCollect(size int) {
	if vm.gc.paused > 0 || vm.gc.collecting {
		return
	}
	if vm.gc.stress || vm.heap.BytesAllocated()+size > vm.gc.nextGC {
		vm.CollectGarbage()
	}
}

// PauseGC suspends automatic collection until the matching ResumeGC.
// Calls nest. Explicit CollectGarbage calls still run.
func (vm *VM) PauseGC() {
	vm.gc.paused++
}

// ResumeGC undoes one PauseGC.
func (vm *VM) ResumeGC() {
	if vm.gc.paused > 0 {
		vm.gc.paused--
	}
}

// SetStressGC toggles collect-on-every-allocation.
func (vm *VM) SetStressGC(on bool) {
	vm.gc.stress = on
}

// CollectGarbage marks everything reachable from the roots, frees the
// rest, prunes the interner and resets the threshold.
func (vm *VM) CollectGarbage() GCStats {
	vm.gc.collecting = true
	defer func() { vm.gc.collecting = false }()

	start := time.Now()
	before := vm.heap.BytesAllocated()

	vm.markRoots()
	vm.traceReferences()
	freed := vm.sweep()
	pruned := vm.strings.prune(vm.heap)

	after := vm.heap.BytesAllocated()
	next := int(float64(after) * vm.gc.growth)
	vm.gc.nextGC = next
	vm.gc.cycles++

	stats := GCStats{
		Cycle:         vm.gc.cycles,
		BytesBefore:   before,
		BytesAfter:    after,
		ObjectsFreed:  freed,
		StringsPruned: pruned,
		NextThreshold: next,
		Duration:      time.Since(start),
		Timestamp:     start,
	}
	vm.gc.last = stats

	if vm.gc.logAll {
		gcLog.Infof("gc %d: collected %d bytes (from %d to %d), %d objects, next at %d",
			stats.Cycle, before-after, before, after, freed, next)
	} else if !vm.gc.stress {
		gcLog.Debugf("gc %d: %d -> %d bytes, %d objects freed", stats.Cycle, before, after, freed)
	}
	return stats
}

// LastGC returns statistics of the most recent collection.
func (vm *VM) LastGC() GCStats {
	return vm.gc.last
}

// ---------------------------------------------------------------------------
// Mark phase
// ---------------------------------------------------------------------------

func (vm *VM) markRoots() {
	for i := 0; i < vm.sp; i++ {
		vm.markValue(vm.stack[i])
	}
	for i := 0; i < vm.fc; i++ {
		vm.markObject(vm.frames[i].closure)
	}
	for h := vm.openUpvalues; h != NoHandle; {
		uv := vm.mustObject(h).(*UpvalueObject)
		vm.markObject(uv)
		h = uv.nextOpen
	}
	for _, v := range vm.guards {
		vm.markValue(v)
	}
	for name, v := range vm.globals {
		vm.markHandle(name)
		vm.markValue(v)
	}
	for _, r := range vm.rootSources {
		r.MarkRoots(vm.markValue)
	}
	vm.markHandle(vm.initString)
}

func (vm *VM) markValue(v Value) {
	if v.IsObject() {
		vm.markHandle(v.Handle())
	}
}

func (vm *VM) markHandle(h Handle) {
	if h == NoHandle {
		return
	}
	vm.markObject(vm.mustObject(h))
}

func (vm *VM) markObject(obj Object) {
	hdr := obj.hdr()
	if hdr.marked {
		return
	}
	hdr.marked = true
	vm.gray = append(vm.gray, hdr.self)
}

// traceReferences drains the gray worklist. An explicit worklist keeps
// deep object graphs off the Go stack.
func (vm *VM) traceReferences() {
	for len(vm.gray) > 0 {
		h := vm.gray[len(vm.gray)-1]
		vm.gray = vm.gray[:len(vm.gray)-1]
		vm.blacken(vm.mustObject(h))
	}
}

func (vm *VM) blacken(obj Object) {
	switch o := obj.(type) {
	case *StringObject, *NativeObject:
		// No outgoing references.

	case *FunctionObject:
		vm.markHandle(o.Name)
		for _, c := range o.Chunk.Constants {
			vm.markValue(c)
		}

	case *ClosureObject:
		vm.markHandle(o.Function)
		for _, uv := range o.Upvalues {
			vm.markHandle(uv)
		}

	case *UpvalueObject:
		// An open upvalue's value lives on the stack, which is a root.
		vm.markValue(o.Closed)

	case *ClassObject:
		vm.markHandle(o.Name)
		for name, m := range o.Methods {
			vm.markHandle(name)
			vm.markValue(m)
		}

	case *InstanceObject:
		vm.markHandle(o.Class)
		for name, v := range o.Fields {
			vm.markHandle(name)
			vm.markValue(v)
		}

	case *BoundMethodObject:
		vm.markValue(o.Receiver)
		vm.markHandle(o.Method)
	}
}

// ---------------------------------------------------------------------------
// Sweep phase
// ---------------------------------------------------------------------------

// sweep walks the object list, unlinking and releasing every unmarked
// object and clearing the mark on survivors.
func (vm *VM) sweep() int {
	freed := 0
	var prev Object
	cur := vm.heap.head
	for cur != NoHandle {
		obj := vm.heap.slots[cur.Index()].obj
		hdr := obj.hdr()
		next := hdr.next

		if hdr.marked {
			hdr.marked = false
			prev = obj
			cur = next
			continue
		}

		if prev == nil {
			vm.heap.head = next
		} else {
			prev.hdr().next = next
		}
		vm.heap.release(cur)
		freed++
		cur = next
	}
	return freed
}
