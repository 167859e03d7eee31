package blockrpc

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	blockstore "github.com/austinabell/graphql-ipld/internal/blockstore"
	ident "github.com/austinabell/graphql-ipld/internal/ident"
)

// blockService is the handler type checked by grpc.Server.RegisterService.
type blockService interface {
	get(ctx context.Context, req *dynamicpb.Message) (*dynamicpb.Message, error)
	put(ctx context.Context, req *dynamicpb.Message) (*dynamicpb.Message, error)
	has(ctx context.Context, req *dynamicpb.Message) (*dynamicpb.Message, error)
}

// Server serves a Backend as the block service.
type Server struct {
	backend blockstore.Backend
	logger  *slog.Logger
	methods map[string]protoreflect.MethodDescriptor
}

var _ blockService = (*Server)(nil)

type ServerOption func(*Server)

func WithServerLogger(l *slog.Logger) ServerOption { return func(s *Server) { s.logger = l } }

func NewServer(backend blockstore.Backend, opts ...ServerOption) (*Server, error) {
	s := &Server{backend: backend, logger: slog.Default(), methods: make(map[string]protoreflect.MethodDescriptor)}
	for _, opt := range opts {
		opt(s)
	}
	for _, name := range []string{MethodGet, MethodPut, MethodHas} {
		md, err := methodDescriptor(name)
		if err != nil {
			return nil, err
		}
		s.methods[name] = md
	}
	return s, nil
}

// Register adds the block service to gs.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*blockService)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: MethodGet, Handler: s.handler(MethodGet, blockService.get)},
			{MethodName: MethodPut, Handler: s.handler(MethodPut, blockService.put)},
			{MethodName: MethodHas, Handler: s.handler(MethodHas, blockService.has)},
		},
		Metadata: ProtoPath,
	}, s)
}

type unaryFunc func(blockService, context.Context, *dynamicpb.Message) (*dynamicpb.Message, error)

func (s *Server) handler(name string, fn unaryFunc) grpc.MethodHandler {
	md := s.methods[name]
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := dynamicpb.NewMessage(md.Input())
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return fn(srv.(blockService), ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
		return interceptor(ctx, req, info, func(ctx context.Context, r any) (any, error) {
			return fn(srv.(blockService), ctx, r.(*dynamicpb.Message))
		})
	}
}

func (s *Server) get(ctx context.Context, req *dynamicpb.Message) (*dynamicpb.Message, error) {
	md := s.methods[MethodGet]
	id, err := ident.FromBytes(bytesField(req, "cid"))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	data, err := s.backend.Get(ctx, id)
	if err != nil {
		return nil, s.statusError(ctx, MethodGet, err)
	}
	resp := dynamicpb.NewMessage(md.Output())
	resp.Set(md.Output().Fields().ByName("data"), protoreflect.ValueOfBytes(data))
	return resp, nil
}

func (s *Server) put(ctx context.Context, req *dynamicpb.Message) (*dynamicpb.Message, error) {
	md := s.methods[MethodPut]
	id, err := ident.FromBytes(bytesField(req, "cid"))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	data := bytesField(req, "data")
	if err := ident.Verify(id, data); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.backend.Put(ctx, id, data); err != nil {
		return nil, s.statusError(ctx, MethodPut, err)
	}
	s.logger.DebugContext(ctx, "stored block", slog.String("cid", id.String()), slog.Int("size", len(data)))
	return dynamicpb.NewMessage(md.Output()), nil
}

func (s *Server) has(ctx context.Context, req *dynamicpb.Message) (*dynamicpb.Message, error) {
	md := s.methods[MethodHas]
	id, err := ident.FromBytes(bytesField(req, "cid"))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	ok, err := s.backend.Has(ctx, id)
	if err != nil {
		return nil, s.statusError(ctx, MethodHas, err)
	}
	resp := dynamicpb.NewMessage(md.Output())
	resp.Set(md.Output().Fields().ByName("found"), protoreflect.ValueOfBool(ok))
	return resp, nil
}

func (s *Server) statusError(ctx context.Context, method string, err error) error {
	switch {
	case errors.Is(err, blockstore.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, blockstore.ErrCorrupt):
		return status.Error(codes.DataLoss, err.Error())
	case errors.Is(err, blockstore.ErrBackendUnavailable):
		s.logger.WarnContext(ctx, "backend unavailable", slog.String("method", method), slog.Any("error", err))
		return status.Error(codes.Unavailable, err.Error())
	}
	s.logger.ErrorContext(ctx, "block service failure", slog.String("method", method), slog.Any("error", err))
	return status.Error(codes.Internal, err.Error())
}

func bytesField(m *dynamicpb.Message, name protoreflect.Name) []byte {
	return m.Get(m.Descriptor().Fields().ByName(name)).Bytes()
}
