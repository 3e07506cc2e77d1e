package vm

import (
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Handle: generational reference to a heap slot
// ---------------------------------------------------------------------------

// Handle addresses a heap object. The low 32 bits are the slot index and
// the next 16 bits the slot generation at the time the object was stored.
// A Handle whose generation no longer matches its slot is stale: the object
// it named has been swept. A slot whose generation is exhausted is retired
// instead of wrapping, so a stale Handle never validates again.
type Handle uint64

// NoHandle is the zero Handle. Slot 0 is never used so it can stand for
// "absent" in optional fields (function names, open-upvalue links).
const NoHandle Handle = 0

func makeHandle(index uint32, gen uint16) Handle {
	return Handle(uint64(gen)<<32 | uint64(index))
}

// Index returns the slot index.
func (h Handle) Index() uint32 {
	return uint32(h)
}

// Generation returns the slot generation.
func (h Handle) Generation() uint16 {
	return uint16(h >> 32)
}

func (h Handle) String() string {
	return fmt.Sprintf("#%d.%d", h.Index(), h.Generation())
}

// ---------------------------------------------------------------------------
// Heap: arena of objects plus the intrusive all-objects list
// ---------------------------------------------------------------------------

type heapSlot struct {
	gen uint16
	obj Object // nil when the slot is free
}

// Heap owns every object of one VM. Objects are linked through their
// header's next Handle, newest first, so the sweeper can walk them without
// scanning free slots.
type Heap struct {
	slots []heapSlot
	free  []uint32
	head  Handle

	live           int
	retired        int
	liveByKind     [kindCount]int
	bytesAllocated int
}

// NewHeap creates an empty heap.
func NewHeap() *Heap {
	return &Heap{
		// Start at 1 (0 is NoHandle)
		slots: make([]heapSlot, 1, 256),
	}
}

// insert stores obj, links it at the head of the object list and charges
// size bytes. It never triggers a collection; that is VM.allocate's job.
func (h *Heap) insert(obj Object, size int) Handle {
	var index uint32
	if n := len(h.free); n > 0 {
		index = h.free[n-1]
		h.free = h.free[:n-1]
	} else {
		index = uint32(len(h.slots))
		h.slots = append(h.slots, heapSlot{})
	}

	slot := &h.slots[index]
	slot.obj = obj
	handle := makeHandle(index, slot.gen)

	hdr := obj.hdr()
	hdr.self = handle
	hdr.size = size
	hdr.marked = false
	hdr.next = h.head
	h.head = handle

	h.live++
	h.liveByKind[obj.Kind()]++
	h.bytesAllocated += size
	return handle
}

// Get resolves a handle. It returns false for NoHandle, out-of-range
// indices, free slots and stale generations.
func (h *Heap) Get(handle Handle) (Object, bool) {
	index := handle.Index()
	if index == 0 || int(index) >= len(h.slots) {
		return nil, false
	}
	slot := &h.slots[index]
	if slot.obj == nil || slot.gen != handle.Generation() {
		return nil, false
	}
	return slot.obj, true
}

// Contains reports whether handle still names a live object.
func (h *Heap) Contains(handle Handle) bool {
	_, ok := h.Get(handle)
	return ok
}

// release frees the slot behind handle. The caller must already have
// unlinked the object from the object list.
func (h *Heap) release(handle Handle) {
	slot := &h.slots[handle.Index()]
	obj := slot.obj
	h.bytesAllocated -= obj.hdr().size
	h.live--
	h.liveByKind[obj.Kind()]--

	slot.obj = nil
	if slot.gen == math.MaxUint16 {
		h.retired++
		return
	}
	slot.gen++
	h.free = append(h.free, handle.Index())
}

// charge adjusts the accounted size of a live object after it grew.
func (h *Heap) charge(obj Object, delta int) {
	obj.hdr().size += delta
	h.bytesAllocated += delta
}

// Live returns the number of live objects.
func (h *Heap) Live() int {
	return h.live
}

// LiveOfKind returns the number of live objects of kind k.
func (h *Heap) LiveOfKind(k ObjectKind) int {
	return h.liveByKind[k]
}

// Retired returns the number of slots taken out of use after their
// generation ran out.
func (h *Heap) Retired() int {
	return h.retired
}

// BytesAllocated returns the bytes currently charged to live objects.
func (h *Heap) BytesAllocated() int {
	return h.bytesAllocated
}

// Each calls fn for every live object, newest first.
func (h *Heap) Each(fn func(Handle, Object)) {
	for cur := h.head; cur != NoHandle; {
		obj := h.slots[cur.Index()].obj
		next := obj.hdr().next
		fn(cur, obj)
		cur = next
	}
}
