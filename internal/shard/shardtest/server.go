// Package shardtest provides an in-process fake text-generation shard
// cluster, served over real unix sockets, for tests that need a live
// backend without a model server.
package shardtest

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/dynamic"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/protoadapt"

	"github.com/tgbench/tgbench/internal/shard"
)

// Server is one fake shard listening on a unix socket.
type Server struct {
	Path string

	urls []string
	grpc *grpc.Server

	mu             sync.Mutex
	failHealth     bool
	failClearCache bool
	clearCalls     int
	prefillCalls   int
	decodeCalls    int
}

// Cluster is a fake multi-shard backend. Servers[0] is the master: its
// ServiceDiscovery lists every shard socket.
type Cluster struct {
	Servers []*Server
}

// MasterPath returns the master control socket path.
func (c *Cluster) MasterPath() string { return c.Servers[0].Path }

// ClearCalls sums cache-clear acknowledgments across all shards.
func (c *Cluster) ClearCalls() int {
	total := 0
	for _, s := range c.Servers {
		total += s.ClearCalls()
	}
	return total
}

// PrefillCalls sums prefill requests across all shards.
func (c *Cluster) PrefillCalls() int {
	total := 0
	for _, s := range c.Servers {
		total += s.PrefillCalls()
	}
	return total
}

// DecodeCalls sums decode requests across all shards.
func (c *Cluster) DecodeCalls() int {
	total := 0
	for _, s := range c.Servers {
		total += s.DecodeCalls()
	}
	return total
}

// StartCluster starts n fake shards on sockets under a test temp dir and
// registers their shutdown with t.Cleanup.
func StartCluster(t testing.TB, n int) *Cluster {
	t.Helper()
	dir := t.TempDir()

	paths := make([]string, n)
	for i := range paths {
		paths[i] = filepath.Join(dir, fmt.Sprintf("shard-%d", i))
	}

	cluster := &Cluster{}
	for i := 0; i < n; i++ {
		server, err := start(paths[i], paths)
		if err != nil {
			t.Fatalf("start fake shard %d: %v", i, err)
		}
		t.Cleanup(server.Stop)
		cluster.Servers = append(cluster.Servers, server)
	}
	return cluster
}

func start(path string, urls []string) (*Server, error) {
	lis, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	server := &Server{
		Path: path,
		urls: append([]string(nil), urls...),
		grpc: grpc.NewServer(),
	}
	desc, err := server.serviceDesc()
	if err != nil {
		_ = lis.Close()
		return nil, err
	}
	server.grpc.RegisterService(desc, nil)
	go func() { _ = server.grpc.Serve(lis) }()
	return server, nil
}

// Stop shuts the shard down.
func (s *Server) Stop() { s.grpc.Stop() }

// SetFailHealth makes the readiness probe fail.
func (s *Server) SetFailHealth(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failHealth = fail
}

// SetFailClearCache makes cache clears fail without acknowledgment.
func (s *Server) SetFailClearCache(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failClearCache = fail
}

// ClearCalls returns how many cache clears this shard acknowledged.
func (s *Server) ClearCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearCalls
}

// PrefillCalls returns how many prefill steps this shard served.
func (s *Server) PrefillCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefillCalls
}

// DecodeCalls returns how many decode steps this shard served.
func (s *Server) DecodeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decodeCalls
}

type methodFunc func(req *dynamic.Message, out *dynamic.Message) error

func (s *Server) serviceDesc() (*grpc.ServiceDesc, error) {
	svc, err := shard.Schema()
	if err != nil {
		return nil, err
	}

	handlers := map[string]methodFunc{
		"Health":           s.health,
		"Info":             s.info,
		"ServiceDiscovery": s.serviceDiscovery,
		"ClearCache":       s.clearCache,
		"Prefill":          s.prefill,
		"Decode":           s.decode,
	}

	desc := &grpc.ServiceDesc{
		ServiceName: shard.ServiceName,
		HandlerType: (*interface{})(nil),
		Metadata:    "generation.proto",
	}
	for name, fn := range handlers {
		method := svc.FindMethodByName(name)
		if method == nil {
			return nil, fmt.Errorf("schema has no method %s", name)
		}
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: name,
			Handler:    unaryHandler(method.GetInputType(), method.GetOutputType(), fn),
		})
	}
	return desc, nil
}

func unaryHandler(in, out *desc.MessageDescriptor, fn methodFunc) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(_ interface{}, _ context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
		reqMsg := dynamic.NewMessage(in)
		respMsg := dynamic.NewMessage(out)
		if err := dec(protoadapt.MessageV2Of(reqMsg)); err != nil {
			return nil, err
		}
		if err := fn(reqMsg, respMsg); err != nil {
			return nil, err
		}
		return protoadapt.MessageV2Of(respMsg), nil
	}
}

func (s *Server) health(_ *dynamic.Message, _ *dynamic.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failHealth {
		return status.Error(codes.Unavailable, "shard not ready")
	}
	return nil
}

func (s *Server) info(_ *dynamic.Message, out *dynamic.Message) error {
	return out.UnmarshalJSON([]byte(`{"requiresPadding": true, "dtype": "float16", "deviceType": "cuda"}`))
}

func (s *Server) serviceDiscovery(_ *dynamic.Message, out *dynamic.Message) error {
	for _, url := range s.urls {
		if err := out.TryAddRepeatedFieldByName("urls", url); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) clearCache(_ *dynamic.Message, _ *dynamic.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failClearCache {
		return status.Error(codes.Internal, "cache clear refused")
	}
	s.clearCalls++
	return nil
}

func (s *Server) prefill(req *dynamic.Message, out *dynamic.Message) error {
	s.mu.Lock()
	s.prefillCalls++
	s.mu.Unlock()

	batch, ok := req.GetFieldByName("batch").(*dynamic.Message)
	if !ok || batch == nil {
		return status.Error(codes.InvalidArgument, "prefill requires a batch")
	}
	id, _ := batch.GetFieldByName("id").(uint64)
	requests, _ := batch.GetFieldByName("requests").([]interface{})
	return writeGenerateResponse(out, id, len(requests))
}

func (s *Server) decode(req *dynamic.Message, out *dynamic.Message) error {
	s.mu.Lock()
	s.decodeCalls++
	s.mu.Unlock()

	batches, _ := req.GetFieldByName("batches").([]interface{})
	if len(batches) == 0 {
		return status.Error(codes.InvalidArgument, "decode requires at least one batch")
	}
	first, ok := batches[0].(*dynamic.Message)
	if !ok {
		return status.Error(codes.InvalidArgument, "malformed cached batch")
	}
	id, _ := first.GetFieldByName("id").(uint64)
	size, _ := first.GetFieldByName("size").(uint32)
	return writeGenerateResponse(out, id, int(size))
}

func writeGenerateResponse(out *dynamic.Message, batchID uint64, size int) error {
	payload := fmt.Sprintf(`{"batch": {"id": %d, "size": %d}}`, batchID, size)
	if err := out.UnmarshalJSON([]byte(payload)); err != nil {
		return err
	}
	svc, err := shard.Schema()
	if err != nil {
		return err
	}
	genDesc := svc.GetFile().FindMessage("generate.v1.Generation")
	for i := 0; i < size; i++ {
		gen := dynamic.NewMessage(genDesc)
		gen.SetFieldByName("request_id", uint64(i))
		gen.SetFieldByName("token_id", uint32(1))
		gen.SetFieldByName("token_text", "tok")
		if err := out.TryAddRepeatedFieldByName("generations", gen); err != nil {
			return err
		}
	}
	return nil
}
