// Package otel turns eventbus events into OpenTelemetry spans.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	eventbus "github.com/austinabell/graphql-ipld/internal/eventbus"
	events "github.com/austinabell/graphql-ipld/internal/events"
	reqid "github.com/austinabell/graphql-ipld/internal/reqid"
)

// TracerName is the instrumentation scope of every span.
const TracerName = "graphql-ipld"

// Setup exports spans over OTLP/gRPC to endpoint and subscribes to the
// process-wide bus. An empty endpoint configures nothing.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	detach := Attach(tp)
	return func(ctx context.Context) error {
		detach()
		return tp.Shutdown(ctx)
	}, nil
}

// Attach subscribes span producers backed by tp and returns a function that
// removes them.
func Attach(tp trace.TracerProvider) (detach func()) {
	s := &subscriber{tracer: tp.Tracer(TracerName)}
	return s.register()
}

type subscriber struct {
	tracer    trace.Tracer
	httpSpans sync.Map // reqid.ID -> trace.Span
	gqlSpans  sync.Map // reqid.ID -> trace.Span
	grpcSpans sync.Map // call id -> trace.Span
}

// parent returns ctx carrying the innermost open span of the request.
func (s *subscriber) parent(ctx context.Context) context.Context {
	rid, ok := reqid.FromContext(ctx)
	if !ok {
		return ctx
	}
	if v, ok := s.gqlSpans.Load(rid); ok {
		return trace.ContextWithSpan(ctx, v.(trace.Span))
	}
	if v, ok := s.httpSpans.Load(rid); ok {
		return trace.ContextWithSpan(ctx, v.(trace.Span))
	}
	return ctx
}

func (s *subscriber) register() func() {
	offs := []func(){
		eventbus.Subscribe(s.httpStart),
		eventbus.Subscribe(s.httpFinish),
		eventbus.Subscribe(s.graphqlStart),
		eventbus.Subscribe(s.graphqlFinish),
		eventbus.Subscribe(s.grpcStart),
		eventbus.Subscribe(s.grpcFinish),
		eventbus.Subscribe(s.blockGet),
		eventbus.Subscribe(s.blockPut),
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

func (s *subscriber) httpStart(ctx context.Context, e events.HTTPStart) {
	_, span := s.tracer.Start(ctx, "http.request", trace.WithSpanKind(trace.SpanKindServer))
	span.SetAttributes(
		semconv.HTTPMethodKey.String(e.Request.Method),
		attribute.String("http.target", e.Request.URL.Path),
		attribute.String("request.id", e.RequestID.String()),
	)
	s.httpSpans.Store(e.RequestID, span)
}

func (s *subscriber) httpFinish(_ context.Context, e events.HTTPFinish) {
	v, ok := s.httpSpans.LoadAndDelete(e.RequestID)
	if !ok {
		return
	}
	span := v.(trace.Span)
	span.SetAttributes(semconv.HTTPStatusCodeKey.Int(e.Status))
	if e.Status >= 500 {
		span.SetStatus(codes.Error, "")
	}
	span.End()
}

func (s *subscriber) graphqlStart(ctx context.Context, e events.GraphQLStart) {
	_, span := s.tracer.Start(s.parent(ctx), "graphql.operation")
	span.SetAttributes(
		attribute.String("graphql.operation.name", e.OperationName),
		attribute.String("graphql.operation.type", e.OperationType),
	)
	s.gqlSpans.Store(e.RequestID, span)
}

func (s *subscriber) graphqlFinish(_ context.Context, e events.GraphQLFinish) {
	v, ok := s.gqlSpans.LoadAndDelete(e.RequestID)
	if !ok {
		return
	}
	span := v.(trace.Span)
	span.SetAttributes(
		attribute.Int("graphql.error_count", len(e.Errors)),
		attribute.StringSlice("graphql.error_codes", e.Codes),
	)
	span.End()
}

func (s *subscriber) grpcStart(ctx context.Context, e events.GRPCClientStart) {
	_, span := s.tracer.Start(s.parent(ctx), "grpc.client", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		semconv.RPCSystemGRPC,
		semconv.RPCServiceKey.String(e.Service),
		semconv.RPCMethodKey.String(e.Method),
		attribute.String("net.peer.name", e.Target),
	)
	s.grpcSpans.Store(e.CallID, span)
}

func (s *subscriber) grpcFinish(_ context.Context, e events.GRPCClientFinish) {
	v, ok := s.grpcSpans.LoadAndDelete(e.CallID)
	if !ok {
		return
	}
	span := v.(trace.Span)
	span.SetAttributes(attribute.String("grpc.code", e.Code.String()))
	if e.Err != nil {
		span.RecordError(e.Err)
		span.SetStatus(codes.Error, e.Err.Error())
	}
	span.End()
}

// Block events arrive once the operation finished, so their spans are
// recorded with the reported start time and duration.
func (s *subscriber) blockGet(ctx context.Context, e events.BlockGet) {
	_, span := s.tracer.Start(s.parent(ctx), "block.get", trace.WithTimestamp(e.Start))
	span.SetAttributes(attribute.String("block.cid", e.Cid), attribute.Int("block.size", e.Size))
	if e.Err != nil {
		span.RecordError(e.Err)
		span.SetStatus(codes.Error, e.Err.Error())
	}
	span.End(trace.WithTimestamp(e.Start.Add(e.Duration)))
}

func (s *subscriber) blockPut(ctx context.Context, e events.BlockPut) {
	_, span := s.tracer.Start(s.parent(ctx), "block.put", trace.WithTimestamp(e.Start))
	span.SetAttributes(
		attribute.String("block.cid", e.Cid),
		attribute.Int("block.size", e.Size),
		attribute.Bool("block.existed", e.Existed),
	)
	if e.Err != nil {
		span.RecordError(e.Err)
		span.SetStatus(codes.Error, e.Err.Error())
	}
	span.End(trace.WithTimestamp(e.Start.Add(e.Duration)))
}
