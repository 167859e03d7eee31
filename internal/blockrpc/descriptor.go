// Package blockrpc exposes a blockstore.Backend over gRPC and provides a
// pooled client that is itself a Backend.
//
// Messages are dynamic; the service descriptor is assembled at runtime and
// can be printed as a .proto file for clients in other languages.
package blockrpc

import (
	"strings"
	"sync"

	"github.com/jhump/protoreflect/v2/protobuilder"
	"google.golang.org/protobuf/reflect/protoreflect"
)

const (
	// ProtoPath is the path of the generated .proto file.
	ProtoPath = "ipld/blocks/v1/blocks.proto"
	// ServiceName is the fully-qualified gRPC service name.
	ServiceName = "ipld.blocks.v1.BlockService"
)

// Method names of the block service.
const (
	MethodGet = "Get"
	MethodPut = "Put"
	MethodHas = "Has"
)

var (
	descOnce sync.Once
	descFile protoreflect.FileDescriptor
	descErr  error
)

// Descriptor returns the file descriptor of the block service.
func Descriptor() (protoreflect.FileDescriptor, error) {
	descOnce.Do(func() { descFile, descErr = buildDescriptor() })
	return descFile, descErr
}

func buildDescriptor() (protoreflect.FileDescriptor, error) {
	fb := protobuilder.NewFile(ProtoPath)
	fb.SetPackageName(protoreflect.FullName(ServiceName[:strings.LastIndexByte(ServiceName, '.')]))
	fb.SetSyntax(protoreflect.Proto3)

	getReq := message("GetBlockRequest", "Binary identifier of the block.", field("cid", protoreflect.BytesKind, 1))
	getResp := message("GetBlockResponse", "", field("data", protoreflect.BytesKind, 1))
	putReq := message("PutBlockRequest", "The server checks data against cid before storing.",
		field("cid", protoreflect.BytesKind, 1),
		field("data", protoreflect.BytesKind, 2))
	putResp := message("PutBlockResponse", "")
	hasReq := message("HasBlockRequest", "", field("cid", protoreflect.BytesKind, 1))
	hasResp := message("HasBlockResponse", "", field("found", protoreflect.BoolKind, 1))
	for _, mb := range []*protobuilder.MessageBuilder{getReq, getResp, putReq, putResp, hasReq, hasResp} {
		fb.AddMessage(mb)
	}

	sb := protobuilder.NewService("BlockService")
	sb.SetComments(comment("BlockService stores raw IPLD blocks keyed by CID."))
	sb.AddMethod(method(MethodGet, "Get returns NOT_FOUND for unknown blocks.", getReq, getResp))
	sb.AddMethod(method(MethodPut, "", putReq, putResp))
	sb.AddMethod(method(MethodHas, "", hasReq, hasResp))
	fb.AddService(sb)

	return fb.Build()
}

func message(name protoreflect.Name, doc string, fields ...*protobuilder.FieldBuilder) *protobuilder.MessageBuilder {
	mb := protobuilder.NewMessage(name)
	mb.SetComments(comment(doc))
	for _, f := range fields {
		mb.AddField(f)
	}
	return mb
}

func field(name protoreflect.Name, kind protoreflect.Kind, number protoreflect.FieldNumber) *protobuilder.FieldBuilder {
	fb := protobuilder.NewField(name, protobuilder.FieldTypeScalar(kind))
	fb.SetNumber(number)
	return fb
}

func method(name protoreflect.Name, doc string, req, resp *protobuilder.MessageBuilder) *protobuilder.MethodBuilder {
	mb := protobuilder.NewMethod(name,
		protobuilder.RpcTypeMessage(req, false),
		protobuilder.RpcTypeMessage(resp, false))
	mb.SetComments(comment(doc))
	return mb
}

func comment(doc string) protobuilder.Comments {
	if doc == "" {
		return protobuilder.Comments{}
	}
	return protobuilder.Comments{LeadingComment: " " + doc + "\n"}
}

// methodDescriptor looks up a method of the block service.
func methodDescriptor(name string) (protoreflect.MethodDescriptor, error) {
	fd, err := Descriptor()
	if err != nil {
		return nil, err
	}
	return fd.Services().ByName("BlockService").Methods().ByName(protoreflect.Name(name)), nil
}

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }
