package shard

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/protoparse"
)

// ServiceName is the fully qualified gRPC service every shard serves.
const ServiceName = "generate.v1.TextGenerationService"

const protoFileName = "generation.proto"

//go:embed generation.proto
var generationProto string

var (
	schemaOnce sync.Once
	schemaDesc *desc.ServiceDescriptor
	schemaErr  error
)

// Schema returns the descriptor of the generation service. The schema ships
// embedded in the binary and is parsed once; requests and responses are
// built dynamically from it, so the protocol needs no generated stubs.
func Schema() (*desc.ServiceDescriptor, error) {
	schemaOnce.Do(func() {
		parser := protoparse.Parser{
			Accessor: protoparse.FileContentsFromMap(map[string]string{
				protoFileName: generationProto,
			}),
		}
		files, err := parser.ParseFiles(protoFileName)
		if err != nil {
			schemaErr = fmt.Errorf("parse embedded schema: %w", err)
			return
		}
		svc := files[0].FindService(ServiceName)
		if svc == nil {
			schemaErr = fmt.Errorf("embedded schema has no service %s", ServiceName)
			return
		}
		schemaDesc = svc
	})
	return schemaDesc, schemaErr
}

// methodDescriptor looks up an RPC of the generation service by name.
func methodDescriptor(name string) (*desc.MethodDescriptor, error) {
	svc, err := Schema()
	if err != nil {
		return nil, err
	}
	method := svc.FindMethodByName(name)
	if method == nil {
		return nil, fmt.Errorf("schema has no method %s", name)
	}
	return method, nil
}
