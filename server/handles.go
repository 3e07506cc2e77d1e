package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/QaisAlsaid/oklang-sub000/vm"
)

// handle is a server-side reference to a VM value.
type handle struct {
	id       string
	value    vm.Value
	typeName string
	display  string
	created  time.Time
	lastUsed time.Time
}

// HandleStore maps opaque string IDs to VM values. The store is a GC root
// source, so every value it holds survives collection until released.
type HandleStore struct {
	mu      sync.RWMutex
	handles map[string]*handle
	worker  *VMWorker
}

// NewHandleStore creates a handle store and registers it as a root
// source on the worker's VM. It fails if the worker has stopped, since an
// unregistered store would not keep its values alive.
func NewHandleStore(worker *VMWorker) (*HandleStore, error) {
	s := &HandleStore{
		handles: make(map[string]*handle),
		worker:  worker,
	}
	_, err := worker.Do(context.Background(), func(v *vm.VM) any {
		v.PushRootSource(s)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("registering handle store: %w", err)
	}
	return s, nil
}

// MarkRoots implements vm.RootSource.
func (s *HandleStore) MarkRoots(mark func(vm.Value)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, h := range s.handles {
		mark(h.value)
	}
}

// Create registers a value and returns an opaque handle ID. Must be
// called on the VM goroutine before the next allocation, while value is
// still reachable.
func (s *HandleStore) Create(value vm.Value, typeName, display string) string {
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.handles[id] = &handle{
		id:       id,
		value:    value,
		typeName: typeName,
		display:  display,
		created:  now,
		lastUsed: now,
	}
	return id
}

// Lookup retrieves the value for a handle. Returns the value and true,
// or Nil and false if the handle doesn't exist.
func (s *HandleStore) Lookup(id string) (vm.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.handles[id]
	if !ok {
		return vm.Nil, false
	}
	h.lastUsed = time.Now()
	return h.value, true
}

// Release removes a handle. The value becomes collectable unless
// something else still reaches it.
func (s *HandleStore) Release(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.handles[id]; !ok {
		return false
	}
	delete(s.handles, id)
	return true
}

// Len returns the number of live handles.
func (s *HandleStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handles)
}

// Sweep removes handles that haven't been accessed within the TTL.
func (s *HandleStore) Sweep(ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-ttl)
	removed := 0
	for id, h := range s.handles {
		if h.lastUsed.Before(cutoff) {
			delete(s.handles, id)
			removed++
		}
	}
	if removed > 0 {
		log.Debugf("swept %d idle handles", removed)
	}
	return removed
}

// StartSweeper runs periodic TTL sweeps in the background.
// Returns a stop function.
func (s *HandleStore) StartSweeper(interval, ttl time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				s.Sweep(ttl)
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(done) }
}
