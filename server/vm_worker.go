package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/QaisAlsaid/oklang-sub000/vm"
)

// ErrWorkerStopped is returned by Do after Stop.
var ErrWorkerStopped = errors.New("vm worker stopped")

// vmRequest represents a unit of work to be executed on the VM goroutine.
type vmRequest struct {
	fn   func(*vm.VM) any
	done chan vmResult
}

// vmResult holds the return value from a VM operation.
type vmResult struct {
	value any
	err   error
}

// VMWorker serializes all VM access through a single goroutine.
// The interpreter is single-threaded; every handler must go through the
// worker to avoid data races.
type VMWorker struct {
	vm       *vm.VM
	requests chan vmRequest
	quit     chan struct{}
	stopOnce sync.Once
}

// NewVMWorker creates a VMWorker and starts the processing goroutine.
func NewVMWorker(v *vm.VM) *VMWorker {
	w := &VMWorker{
		vm:       v,
		requests: make(chan vmRequest, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop processes VM requests sequentially on a dedicated goroutine.
func (w *VMWorker) loop() {
	for {
		select {
		case req := <-w.requests:
			result := w.execute(req.fn)
			req.done <- result
		case <-w.quit:
			return
		}
	}
}

// execute runs a function on the VM, recovering from panics. A corrupt
// chunk panics inside the interpreter; the request fails but the worker
// keeps serving.
func (w *VMWorker) execute(fn func(*vm.VM) any) vmResult {
	var result vmResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				if err, ok := r.(error); ok {
					result.err = fmt.Errorf("vm panic: %w", err)
				} else {
					result.err = fmt.Errorf("vm panic: %v", r)
				}
				log.Errorf("recovered from VM panic: %v", r)
			}
		}()
		result.value = fn(w.vm)
	}()
	return result
}

// Do submits a function for execution on the VM goroutine and blocks
// until it completes. Returns the result and any error (including panics).
// A request still queued when ctx is done is abandoned; one already
// running completes.
func (w *VMWorker) Do(ctx context.Context, fn func(*vm.VM) any) (any, error) {
	req := vmRequest{
		fn:   fn,
		done: make(chan vmResult, 1),
	}
	select {
	case <-w.quit:
		return nil, ErrWorkerStopped
	default:
	}
	select {
	case w.requests <- req:
	case <-w.quit:
		return nil, ErrWorkerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case result := <-req.done:
		return result.value, result.err
	case <-w.quit:
		return nil, ErrWorkerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop shuts down the worker goroutine. Further calls are no-ops.
func (w *VMWorker) Stop() {
	w.stopOnce.Do(func() { close(w.quit) })
}

// VM returns the underlying VM. Only safe to touch from inside Do.
func (w *VMWorker) VM() *vm.VM {
	return w.vm
}
