package server

import (
	"context"
	"os"
	"testing"

	"connectrpc.com/connect"

	"github.com/QaisAlsaid/oklang-sub000/compiler"
	"github.com/QaisAlsaid/oklang-sub000/vm"
)

// ---------------------------------------------------------------------------
// Shared test infrastructure for server package tests.
//
// One VM is shared through TestMain. Tests that define globals use names
// no other test uses; tests that need a clean heap create a local VM.
// ---------------------------------------------------------------------------

var (
	testVM      *vm.VM
	testWorker  *VMWorker
	testHandles *HandleStore
)

// TestMain creates a single VM with the compiler installed for all server
// tests.
func TestMain(m *testing.M) {
	testVM = compiler.NewVM(vm.Options{})

	testWorker = NewVMWorker(testVM)
	var err error
	testHandles, err = NewHandleStore(testWorker)
	if err != nil {
		panic(err)
	}

	code := m.Run()

	testWorker.Stop()
	os.Exit(code)
}

// newTestEvalService creates an EvalService backed by the shared VM.
func newTestEvalService() *EvalService {
	return NewEvalService(testWorker, testHandles)
}

// testEnv bundles a fresh, isolated VM with its worker and handles.
type testEnv struct {
	VM      *vm.VM
	Worker  *VMWorker
	Handles *HandleStore
	Eval    *EvalService
}

// newTestEnv creates an isolated VM. The worker is stopped at cleanup.
func newTestEnv(t *testing.T, opts vm.Options) *testEnv {
	t.Helper()
	v := compiler.NewVM(opts)
	worker := NewVMWorker(v)
	handles, err := NewHandleStore(worker)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(worker.Stop)
	return &testEnv{
		VM:      v,
		Worker:  worker,
		Handles: handles,
		Eval:    NewEvalService(worker, handles),
	}
}

// newTestServer creates a Server on a fresh VM. It is stopped at cleanup.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := New(compiler.NewVM(vm.Options{}))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(srv.Stop)
	return srv
}

func bg() context.Context {
	return context.Background()
}

func connectReq[T any](msg *T) *connect.Request[T] {
	return connect.NewRequest(msg)
}
