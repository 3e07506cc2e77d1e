package server

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/QaisAlsaid/oklang-sub000/vm"
)

// GRPCEvaluateMethod is the full gRPC method name of Evaluate.
const GRPCEvaluateMethod = "/oklang.v1.Evaluator/Evaluate"

// EvaluatorServer is the gRPC evaluation service. Requests and responses
// are google.protobuf.Struct values with the same fields as the Connect
// EvaluateRequest and EvaluateResponse.
type EvaluatorServer interface {
	Evaluate(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var evaluatorServiceDesc = grpc.ServiceDesc{
	ServiceName: "oklang.v1.Evaluator",
	HandlerType: (*EvaluatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Evaluate",
			Handler:    evaluatorEvaluateHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "oklang/v1/evaluator.proto",
}

func evaluatorEvaluateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EvaluatorServer).Evaluate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: GRPCEvaluateMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EvaluatorServer).Evaluate(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterEvaluatorServer registers srv on s.
func RegisterEvaluatorServer(s grpc.ServiceRegistrar, srv EvaluatorServer) {
	s.RegisterService(&evaluatorServiceDesc, srv)
}

// grpcEvaluator adapts EvalService to EvaluatorServer.
type grpcEvaluator struct {
	svc *EvalService
}

// NewEvaluatorServer returns a gRPC evaluator sharing svc's VM.
func NewEvaluatorServer(svc *EvalService) EvaluatorServer {
	return &grpcEvaluator{svc: svc}
}

func (g *grpcEvaluator) Evaluate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	fields := in.GetFields()
	source := fields["source"].GetStringValue()
	if source == "" {
		return nil, status.Error(codes.InvalidArgument, "source is required")
	}
	name := fields["name"].GetStringValue()
	if name == "" {
		name = defaultSourceName
	}

	result, err := g.svc.worker.Do(ctx, func(v *vm.VM) any {
		return g.svc.evaluate(v, name, source)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, status.FromContextError(ctx.Err()).Err()
		}
		return nil, status.Error(codes.Internal, err.Error())
	}

	out, err := toStruct(result)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// toStruct converts a tagged Go struct to a protobuf Struct through its
// JSON form.
func toStruct(msg any) (*structpb.Struct, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// GRPCEvaluate calls Evaluate on conn.
func GRPCEvaluate(ctx context.Context, conn grpc.ClientConnInterface, source string) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]any{"source": source})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, GRPCEvaluateMethod, in, out); err != nil {
		return nil, err
	}
	return out, nil
}
