// Package server exposes an oklang VM over Connect (JSON or CBOR on HTTP),
// gRPC and the Language Server Protocol.
package server

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/tliron/commonlog"
	"google.golang.org/grpc"

	"github.com/QaisAlsaid/oklang-sub000/vm"
)

var log = commonlog.GetLogger("oklang.server")

// Server wraps a running VM. Connect and gRPC requests share one worker,
// so globals defined through either are visible to both.
type Server struct {
	worker  *VMWorker
	handles *HandleStore
	eval    *EvalService
	mux     *http.ServeMux
	grpc    *grpc.Server
	http    *http.Server

	stopSweeper func()
}

// Option configures a Server.
type Option func(*serverConfig)

type serverConfig struct {
	handleTTL     time.Duration
	sweepInterval time.Duration
}

// WithHandleTTL sets how long an unused result handle is kept.
func WithHandleTTL(ttl, interval time.Duration) Option {
	return func(c *serverConfig) {
		c.handleTTL = ttl
		c.sweepInterval = interval
	}
}

// New creates a Server wrapping the given VM. The VM must have a compiler
// installed.
func New(v *vm.VM, opts ...Option) (*Server, error) {
	cfg := &serverConfig{
		handleTTL:     30 * time.Minute,
		sweepInterval: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	worker := NewVMWorker(v)
	handles, err := NewHandleStore(worker)
	if err != nil {
		worker.Stop()
		return nil, err
	}
	eval := NewEvalService(worker, handles)

	s := &Server{
		worker:  worker,
		handles: handles,
		eval:    eval,
		mux:     http.NewServeMux(),
		grpc:    grpc.NewServer(),
	}

	path, handler := NewEvalServiceHandler(eval)
	s.mux.Handle(path, handler)
	RegisterEvaluatorServer(s.grpc, NewEvaluatorServer(eval))

	s.stopSweeper = handles.StartSweeper(cfg.sweepInterval, cfg.handleTTL)

	return s, nil
}

// Handler returns the Connect HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// GRPCServer returns the gRPC server with the evaluator registered.
func (s *Server) GRPCServer() *grpc.Server {
	return s.grpc
}

// ListenAndServe serves Connect on addr until Stop.
func (s *Server) ListenAndServe(addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.mux}
	log.Noticef("oklang server listening on %s", addr)
	log.Infof("  Connect (JSON/CBOR): http://%s%s", addr, EvaluateProcedure)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ServeGRPC serves gRPC on addr until Stop.
func (s *Server) ServeGRPC(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.Noticef("oklang gRPC listening on %s", lis.Addr())
	return s.grpc.Serve(lis)
}

// Stop shuts down both listeners and the worker.
func (s *Server) Stop() {
	if s.stopSweeper != nil {
		s.stopSweeper()
	}
	if s.http != nil {
		s.http.Close()
	}
	s.grpc.Stop()
	s.worker.Stop()
}
