package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"connectrpc.com/connect"
	"github.com/google/uuid"

	"github.com/QaisAlsaid/oklang-sub000/compiler"
	"github.com/QaisAlsaid/oklang-sub000/vm"
)

// RequestIDHeader carries the ID the server assigns to each evaluation.
const RequestIDHeader = "Oklang-Request-Id"

const defaultSourceName = "eval"

// EvalService implements the evaluation endpoints. Globals persist across
// requests: every call runs on the same VM.
type EvalService struct {
	worker  *VMWorker
	handles *HandleStore
}

// NewEvalService creates an EvalService.
func NewEvalService(worker *VMWorker, handles *HandleStore) *EvalService {
	return &EvalService{
		worker:  worker,
		handles: handles,
	}
}

// NewEvalServiceHandler builds the Connect handler for svc. It returns the
// path to mount it on.
func NewEvalServiceHandler(svc *EvalService) (string, http.Handler) {
	opts := codecOptions()
	mux := http.NewServeMux()
	mux.Handle(EvaluateProcedure, connect.NewUnaryHandler(EvaluateProcedure, svc.Evaluate, opts...))
	mux.Handle(CheckSyntaxProcedure, connect.NewUnaryHandler(CheckSyntaxProcedure, svc.CheckSyntax, opts...))
	mux.Handle(DisassembleProcedure, connect.NewUnaryHandler(DisassembleProcedure, svc.Disassemble, opts...))
	mux.Handle(StatsProcedure, connect.NewUnaryHandler(StatsProcedure, svc.Stats, opts...))
	mux.Handle(ReleaseProcedure, connect.NewUnaryHandler(ReleaseProcedure, svc.Release, opts...))
	mux.Handle(InspectProcedure, connect.NewUnaryHandler(InspectProcedure, svc.Inspect, opts...))
	return "/" + EvalServiceName + "/", mux
}

// Evaluate compiles and runs a script.
func (s *EvalService) Evaluate(
	ctx context.Context,
	req *connect.Request[EvaluateRequest],
) (*connect.Response[EvaluateResponse], error) {
	source := req.Msg.Source
	if source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}
	name := req.Msg.Name
	if name == "" {
		name = defaultSourceName
	}

	id := uuid.NewString()
	log.Debugf("evaluate %s (%s, %d bytes)", id, name, len(source))

	result, err := s.worker.Do(ctx, func(v *vm.VM) any {
		return s.evaluate(v, name, source)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, connect.NewError(connect.CodeCanceled, err)
		}
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	resp := connect.NewResponse(result.(*EvaluateResponse))
	resp.Header().Set(RequestIDHeader, id)
	return resp, nil
}

// evaluate runs source with print output captured.
// Must be called on the VM worker goroutine.
func (s *EvalService) evaluate(v *vm.VM, name, source string) *EvaluateResponse {
	var out bytes.Buffer
	prev := v.Output()
	v.SetOutput(&out)
	defer v.SetOutput(prev)

	val, err := v.Interpret(name, source)
	resp := &EvaluateResponse{
		Status: vm.ResultOf(err).String(),
		Output: out.String(),
	}

	var (
		ce *vm.CompileError
		re *vm.RuntimeError
	)
	switch {
	case err == nil:
		// val is unrooted until it is in the handle store; format first,
		// neither call allocates on the heap.
		resp.Value = v.Format(val)
		resp.Type = v.TypeName(val)
		resp.Handle = s.handles.Create(val, resp.Type, resp.Value)
	case errors.As(err, &ce):
		resp.Diagnostics = diagnosticsFrom(ce.Diagnostics)
		resp.Error = err.Error()
	case errors.As(err, &re):
		resp.Error = re.Message
		for _, t := range re.Trace {
			resp.Trace = append(resp.Trace, TraceLine{Function: t.Function, Line: t.Line})
		}
	default:
		resp.Error = err.Error()
	}
	return resp
}

// CheckSyntax compiles source without running it and returns every error
// and lint warning.
func (s *EvalService) CheckSyntax(
	ctx context.Context,
	req *connect.Request[CheckSyntaxRequest],
) (*connect.Response[CheckSyntaxResponse], error) {
	source := req.Msg.Source
	if source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}

	diags := compiler.Check(defaultSourceName, source)
	valid := true
	for _, d := range diags {
		if !compiler.IsWarning(d) {
			valid = false
			break
		}
	}
	return connect.NewResponse(&CheckSyntaxResponse{
		Valid:       valid,
		Diagnostics: diagnosticsFrom(diags),
	}), nil
}

// Disassemble compiles source and returns its bytecode listing.
func (s *EvalService) Disassemble(
	ctx context.Context,
	req *connect.Request[DisassembleRequest],
) (*connect.Response[DisassembleResponse], error) {
	source := req.Msg.Source
	if source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}
	name := req.Msg.Name
	if name == "" {
		name = defaultSourceName
	}

	result, err := s.worker.Do(ctx, func(v *vm.VM) any {
		fn, err := v.Compile(name, source)
		if err != nil {
			var ce *vm.CompileError
			if errors.As(err, &ce) {
				return &DisassembleResponse{Diagnostics: diagnosticsFrom(ce.Diagnostics)}
			}
			return err
		}
		return &DisassembleResponse{Listing: v.Disassemble(fn)}
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	if err, ok := result.(error); ok {
		return nil, connect.NewError(connect.CodeFailedPrecondition, err)
	}
	return connect.NewResponse(result.(*DisassembleResponse)), nil
}

// Stats reports heap and collector counters.
func (s *EvalService) Stats(
	ctx context.Context,
	req *connect.Request[StatsRequest],
) (*connect.Response[StatsResponse], error) {
	result, err := s.worker.Do(ctx, func(v *vm.VM) any {
		return v.Stats()
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	st := result.(vm.Stats)
	return connect.NewResponse(&StatsResponse{
		VMID:           st.ID,
		Objects:        st.Objects,
		ObjectsByKind:  st.ObjectsByKind,
		BytesAllocated: st.BytesAllocated,
		NextGC:         st.NextGC,
		Strings:        st.Strings,
		Globals:        st.Globals,
		Collections:    st.Collections,
		Handles:        s.handles.Len(),
	}), nil
}

// Inspect describes the value behind a handle returned by Evaluate or by
// an earlier Inspect.
func (s *EvalService) Inspect(
	ctx context.Context,
	req *connect.Request[InspectRequest],
) (*connect.Response[InspectResponse], error) {
	id := req.Msg.Handle
	if id == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("handle is required"))
	}

	result, err := s.worker.Do(ctx, func(v *vm.VM) any {
		val, ok := s.handles.Lookup(id)
		if !ok {
			return nil
		}
		return s.inspect(v, val)
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	resp, ok := result.(*InspectResponse)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("handle %q not found", id))
	}
	return connect.NewResponse(resp), nil
}

// inspect builds the description of val. Must be called on the VM worker
// goroutine. Nothing here allocates on the VM heap.
func (s *EvalService) inspect(v *vm.VM, val vm.Value) *InspectResponse {
	resp := &InspectResponse{
		Value: v.Format(val),
		Type:  v.TypeName(val),
	}
	obj, _ := v.Object(val)
	switch o := obj.(type) {
	case *vm.InstanceObject:
		resp.Class = v.Format(vm.ObjectValue(o.Class))
		for name, fv := range o.Fields {
			field := InspectField{
				Name:  v.Format(vm.ObjectValue(name)),
				Value: v.Format(fv),
				Type:  v.TypeName(fv),
			}
			if fv.IsObject() {
				field.Handle = s.handles.Create(fv, field.Type, field.Value)
			}
			resp.Fields = append(resp.Fields, field)
		}
		sort.Slice(resp.Fields, func(i, j int) bool { return resp.Fields[i].Name < resp.Fields[j].Name })
	case *vm.ClassObject:
		resp.Class = resp.Value
		for name := range o.Methods {
			resp.Methods = append(resp.Methods, v.Format(vm.ObjectValue(name)))
		}
		sort.Strings(resp.Methods)
	}
	return resp
}

// Release drops a handle returned by Evaluate.
func (s *EvalService) Release(
	ctx context.Context,
	req *connect.Request[ReleaseRequest],
) (*connect.Response[ReleaseResponse], error) {
	if req.Msg.Handle == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("handle is required"))
	}
	if !s.handles.Release(req.Msg.Handle) {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("handle %q not found", req.Msg.Handle))
	}
	return connect.NewResponse(&ReleaseResponse{Released: true}), nil
}
