package vm

import "github.com/zeebo/xxh3"

// Interner guarantees at most one live StringObject per distinct content.
// It holds its entries weakly: the collector prunes entries whose string
// was swept, so interning never keeps a string alive on its own.
type Interner struct {
	buckets map[uint64][]Handle
	count   int
}

func newInterner() *Interner {
	return &Interner{buckets: make(map[uint64][]Handle)}
}

// HashString is the hash every StringObject carries.
func HashString(s string) uint64 {
	return xxh3.HashString(s)
}

// lookup finds the live string with content s.
func (in *Interner) lookup(heap *Heap, s string, hash uint64) (*StringObject, bool) {
	for _, h := range in.buckets[hash] {
		obj, ok := heap.Get(h)
		if !ok {
			continue
		}
		if str := obj.(*StringObject); str.Chars == s {
			return str, true
		}
	}
	return nil, false
}

func (in *Interner) add(str *StringObject) {
	in.buckets[str.Hash] = append(in.buckets[str.Hash], str.self)
	in.count++
}

// prune drops entries for strings the sweep released. It must run after
// every sweep, before any new string is interned.
func (in *Interner) prune(heap *Heap) int {
	removed := 0
	for hash, handles := range in.buckets {
		kept := handles[:0]
		for _, h := range handles {
			if heap.Contains(h) {
				kept = append(kept, h)
			} else {
				removed++
			}
		}
		if len(kept) == 0 {
			delete(in.buckets, hash)
		} else {
			in.buckets[hash] = kept
		}
	}
	in.count -= removed
	return removed
}

// Len returns the number of interned strings.
func (in *Interner) Len() int {
	return in.count
}

// Intern returns the canonical string value for s, allocating it on first
// use. Two calls with equal content return the same Value.
func (vm *VM) Intern(s string) Value {
	return ObjectValue(vm.internString(s).self)
}

func (vm *VM) internString(s string) *StringObject {
	hash := HashString(s)
	if str, ok := vm.strings.lookup(vm.heap, s, hash); ok {
		return str
	}
	str := &StringObject{Chars: s, Hash: hash}
	vm.allocate(str, sizeString+len(s))
	vm.strings.add(str)
	return str
}

// concatenate interns a+b. Both operands must stay rooted by the caller
// until this returns.
func (vm *VM) concatenate(a, b *StringObject) Value {
	return vm.Intern(a.Chars + b.Chars)
}
