package server

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

// dialBufconn serves srv's gRPC server on an in-memory listener and
// returns a client connection to it.
func dialBufconn(t *testing.T, srv *Server) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go srv.GRPCServer().Serve(lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestGRPCEvaluate(t *testing.T) {
	srv := newTestServer(t)
	conn := dialBufconn(t, srv)

	out, err := GRPCEvaluate(bg(), conn, `var who = "grpc"; print "hi " + who; who`)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	fields := out.GetFields()
	if got := fields["status"].GetStringValue(); got != "ok" {
		t.Fatalf("status = %q (%s)", got, fields["error"].GetStringValue())
	}
	if got := fields["output"].GetStringValue(); got != "hi grpc\n" {
		t.Errorf("output = %q", got)
	}
	if got := fields["value"].GetStringValue(); got != "grpc" {
		t.Errorf("value = %q", got)
	}
}

func TestGRPCEvaluateSharesGlobalsWithConnect(t *testing.T) {
	srv := newTestServer(t)
	conn := dialBufconn(t, srv)

	if _, err := srv.eval.Evaluate(bg(), connectReq(&EvaluateRequest{Source: "var shared = 5;"})); err != nil {
		t.Fatal(err)
	}
	out, err := GRPCEvaluate(bg(), conn, "shared * 2")
	if err != nil {
		t.Fatal(err)
	}
	if got := out.GetFields()["value"].GetStringValue(); got != "10" {
		t.Errorf("value = %q, want 10", got)
	}
}

func TestGRPCEvaluateCompileError(t *testing.T) {
	srv := newTestServer(t)
	conn := dialBufconn(t, srv)

	out, err := GRPCEvaluate(bg(), conn, "var;")
	if err != nil {
		t.Fatal(err)
	}
	fields := out.GetFields()
	if got := fields["status"].GetStringValue(); got != "compile_error" {
		t.Errorf("status = %q", got)
	}
	diags := fields["diagnostics"].GetListValue().GetValues()
	if len(diags) != 1 {
		t.Fatalf("diagnostics = %v", diags)
	}
	line := diags[0].GetStructValue().GetFields()["line"].GetNumberValue()
	if line != 1 {
		t.Errorf("line = %v, want 1", line)
	}
}

func TestGRPCEvaluateEmptySource(t *testing.T) {
	srv := newTestServer(t)
	conn := dialBufconn(t, srv)

	_, err := GRPCEvaluate(bg(), conn, "")
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("code = %v, want InvalidArgument", status.Code(err))
	}
}
