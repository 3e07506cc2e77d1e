package server

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/QaisAlsaid/oklang-sub000/compiler"
	"github.com/QaisAlsaid/oklang-sub000/vm"
)

func TestVMWorker_Do(t *testing.T) {
	result, err := testWorker.Do(bg(), func(v *vm.VM) any {
		return v.Depth()
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.(int) != 0 {
		t.Errorf("depth = %v, want 0 between requests", result)
	}
}

func TestVMWorker_RecoversPanic(t *testing.T) {
	env := newTestEnv(t, vm.Options{})

	_, err := env.Worker.Do(bg(), func(v *vm.VM) any {
		panic("boom")
	})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err = %v, want recovered panic", err)
	}

	// The worker keeps serving.
	result, err := env.Worker.Do(bg(), func(v *vm.VM) any {
		val, err := v.Interpret("after", "1 + 1")
		if err != nil {
			return err
		}
		return v.Format(val)
	})
	if err != nil || result != "2" {
		t.Errorf("after panic: %v, %v", result, err)
	}
}

func TestVMWorker_ContextCanceled(t *testing.T) {
	env := newTestEnv(t, vm.Options{})

	release := make(chan struct{})
	started := make(chan struct{})
	go env.Worker.Do(bg(), func(v *vm.VM) any {
		close(started)
		<-release
		return nil
	})
	<-started
	defer close(release)

	ctx, cancel := context.WithTimeout(bg(), 20*time.Millisecond)
	defer cancel()
	_, err := env.Worker.Do(ctx, func(v *vm.VM) any { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestVMWorker_Stop(t *testing.T) {
	w := NewVMWorker(compiler.NewVM(vm.Options{}))
	w.Stop()
	w.Stop()

	if _, err := w.Do(bg(), func(v *vm.VM) any { return nil }); !errors.Is(err, ErrWorkerStopped) {
		t.Errorf("err = %v, want ErrWorkerStopped", err)
	}
}

func TestNewHandleStore_StoppedWorker(t *testing.T) {
	w := NewVMWorker(compiler.NewVM(vm.Options{}))
	w.Stop()

	if _, err := NewHandleStore(w); !errors.Is(err, ErrWorkerStopped) {
		t.Errorf("err = %v, want ErrWorkerStopped", err)
	}
}

func TestHandleStore_KeepsValuesAlive(t *testing.T) {
	env := newTestEnv(t, vm.Options{StressGC: true})

	resp, err := env.Eval.Evaluate(bg(), connectReq(&EvaluateRequest{Source: `"kept" + "alive"`}))
	if err != nil {
		t.Fatal(err)
	}
	id := resp.Msg.Handle

	result, err := env.Worker.Do(bg(), func(v *vm.VM) any {
		v.CollectGarbage()
		val, ok := env.Handles.Lookup(id)
		if !ok {
			return "missing"
		}
		return v.Format(val)
	})
	if err != nil {
		t.Fatal(err)
	}
	if result != "keptalive" {
		t.Errorf("held value = %v, want keptalive", result)
	}
}

func TestHandleStore_ReleaseLetsValueBeCollected(t *testing.T) {
	env := newTestEnv(t, vm.Options{})

	resp, err := env.Eval.Evaluate(bg(), connectReq(&EvaluateRequest{Source: `"short" + "lived"`}))
	if err != nil {
		t.Fatal(err)
	}

	count := func() int {
		n, err := env.Worker.Do(bg(), func(v *vm.VM) any {
			v.CollectGarbage()
			return v.Stats().ObjectsByKind["string"]
		})
		if err != nil {
			t.Fatal(err)
		}
		return n.(int)
	}

	before := count()
	env.Handles.Release(resp.Msg.Handle)
	after := count()
	if after != before-1 {
		t.Errorf("strings before/after release = %d/%d", before, after)
	}
}

func TestHandleStore_Sweep(t *testing.T) {
	env := newTestEnv(t, vm.Options{})
	env.Worker.Do(bg(), func(v *vm.VM) any {
		env.Handles.Create(vm.NumberValue(1), "number", "1")
		return nil
	})

	if n := env.Handles.Sweep(time.Hour); n != 0 {
		t.Errorf("swept %d fresh handles", n)
	}
	time.Sleep(2 * time.Millisecond)
	if n := env.Handles.Sweep(time.Millisecond); n != 1 {
		t.Errorf("swept %d, want 1", n)
	}
	if env.Handles.Len() != 0 {
		t.Errorf("Len = %d after sweep", env.Handles.Len())
	}
}
