package server

import (
	"github.com/QaisAlsaid/oklang-sub000/compiler"
	"github.com/QaisAlsaid/oklang-sub000/vm"
)

// Procedure paths served by the evaluation service.
const (
	EvalServiceName = "oklang.v1.EvalService"

	EvaluateProcedure    = "/" + EvalServiceName + "/Evaluate"
	CheckSyntaxProcedure = "/" + EvalServiceName + "/CheckSyntax"
	DisassembleProcedure = "/" + EvalServiceName + "/Disassemble"
	StatsProcedure       = "/" + EvalServiceName + "/Stats"
	ReleaseProcedure     = "/" + EvalServiceName + "/Release"
	InspectProcedure     = "/" + EvalServiceName + "/Inspect"
)

// Diagnostic is a compile error or lint warning on the wire.
type Diagnostic struct {
	Code     string `json:"code" cbor:"code"`
	Severity string `json:"severity" cbor:"severity"`
	Message  string `json:"message" cbor:"message"`
	Line     int    `json:"line" cbor:"line"`
	Column   int    `json:"column" cbor:"column"`
}

// TraceLine is one frame of a runtime error trace.
type TraceLine struct {
	Function string `json:"function" cbor:"function"`
	Line     int    `json:"line" cbor:"line"`
}

type EvaluateRequest struct {
	Source string `json:"source" cbor:"source"`
	Name   string `json:"name,omitempty" cbor:"name,omitempty"`
}

// EvaluateResponse reports one run. Status is "ok", "compile_error" or
// "runtime_error". Output holds everything the script printed, even when
// it failed part way.
type EvaluateResponse struct {
	Status      string       `json:"status" cbor:"status"`
	Value       string       `json:"value,omitempty" cbor:"value,omitempty"`
	Type        string       `json:"type,omitempty" cbor:"type,omitempty"`
	Handle      string       `json:"handle,omitempty" cbor:"handle,omitempty"`
	Output      string       `json:"output" cbor:"output"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty" cbor:"diagnostics,omitempty"`
	Error       string       `json:"error,omitempty" cbor:"error,omitempty"`
	Trace       []TraceLine  `json:"trace,omitempty" cbor:"trace,omitempty"`
}

type CheckSyntaxRequest struct {
	Source string `json:"source" cbor:"source"`
}

type CheckSyntaxResponse struct {
	Valid       bool         `json:"valid" cbor:"valid"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty" cbor:"diagnostics,omitempty"`
}

type DisassembleRequest struct {
	Source string `json:"source" cbor:"source"`
	Name   string `json:"name,omitempty" cbor:"name,omitempty"`
}

type DisassembleResponse struct {
	Listing     string       `json:"listing,omitempty" cbor:"listing,omitempty"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty" cbor:"diagnostics,omitempty"`
}

type StatsRequest struct{}

type StatsResponse struct {
	VMID           string         `json:"vm_id" cbor:"vm_id"`
	Objects        int            `json:"objects" cbor:"objects"`
	ObjectsByKind  map[string]int `json:"objects_by_kind" cbor:"objects_by_kind"`
	BytesAllocated int            `json:"bytes_allocated" cbor:"bytes_allocated"`
	NextGC         int            `json:"next_gc" cbor:"next_gc"`
	Strings        int            `json:"strings" cbor:"strings"`
	Globals        int            `json:"globals" cbor:"globals"`
	Collections    uint64         `json:"collections" cbor:"collections"`
	Handles        int            `json:"handles" cbor:"handles"`
}

type InspectRequest struct {
	Handle string `json:"handle" cbor:"handle"`
}

// InspectField is one field of an inspected instance. Object-valued
// fields get their own handle so a client can follow them.
type InspectField struct {
	Name   string `json:"name" cbor:"name"`
	Value  string `json:"value" cbor:"value"`
	Type   string `json:"type" cbor:"type"`
	Handle string `json:"handle,omitempty" cbor:"handle,omitempty"`
}

// InspectResponse describes the value behind a handle. Fields is set for
// instances, Methods for classes.
type InspectResponse struct {
	Value   string         `json:"value" cbor:"value"`
	Type    string         `json:"type" cbor:"type"`
	Class   string         `json:"class,omitempty" cbor:"class,omitempty"`
	Fields  []InspectField `json:"fields,omitempty" cbor:"fields,omitempty"`
	Methods []string       `json:"methods,omitempty" cbor:"methods,omitempty"`
}

type ReleaseRequest struct {
	Handle string `json:"handle" cbor:"handle"`
}

type ReleaseResponse struct {
	Released bool `json:"released" cbor:"released"`
}

// diagnosticsFrom converts compiler diagnostics for the wire.
func diagnosticsFrom(diags []vm.Diagnostic) []Diagnostic {
	if len(diags) == 0 {
		return nil
	}
	out := make([]Diagnostic, len(diags))
	for i, d := range diags {
		severity := "error"
		if compiler.IsWarning(d) {
			severity = "warning"
		}
		out[i] = Diagnostic{
			Code:     d.Code,
			Severity: severity,
			Message:  d.Message,
			Line:     d.Line,
			Column:   d.Column,
		}
	}
	return out
}
