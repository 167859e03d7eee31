package otel

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"google.golang.org/grpc/codes"

	eventbus "github.com/austinabell/graphql-ipld/internal/eventbus"
	events "github.com/austinabell/graphql-ipld/internal/events"
	reqid "github.com/austinabell/graphql-ipld/internal/reqid"
)

func setup(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	eventbus.Use(eventbus.New())
	t.Cleanup(func() { eventbus.Use(nil) })
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(Attach(tp))
	return sr
}

func TestSpansFollowRequest(t *testing.T) {
	sr := setup(t)
	ctx, rid := reqid.NewContext(context.Background())
	r := httptest.NewRequest("POST", "/graphql", nil)

	eventbus.Publish(ctx, events.HTTPStart{RequestID: rid, Request: r})
	eventbus.Publish(ctx, events.GraphQLStart{RequestID: rid, OperationType: "query"})
	eventbus.Publish(ctx, events.GRPCClientStart{CallID: 7, Service: "ipld.blocks.v1.BlockService", Method: "Get"})
	eventbus.Publish(ctx, events.GRPCClientFinish{CallID: 7, Code: codes.NotFound, Err: errors.New("not found")})
	start := time.Now().Add(-time.Millisecond)
	eventbus.Publish(ctx, events.BlockGet{Cid: "bafy", Size: 3, Start: start, Duration: time.Millisecond})
	eventbus.Publish(ctx, events.GraphQLFinish{RequestID: rid, Codes: []string{"NOT_FOUND"}})
	eventbus.Publish(ctx, events.HTTPFinish{RequestID: rid, Status: 200})

	ended := sr.Ended()
	var names []string
	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range ended {
		names = append(names, s.Name())
		byName[s.Name()] = s
	}
	want := []string{"grpc.client", "block.get", "graphql.operation", "http.request"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("span mismatch (-want +got):\n%s", diff)
	}

	root := byName["http.request"].SpanContext()
	op := byName["graphql.operation"]
	require.Equal(t, root.SpanID(), op.Parent().SpanID())
	require.Equal(t, op.SpanContext().SpanID(), byName["grpc.client"].Parent().SpanID())
	require.Equal(t, op.SpanContext().SpanID(), byName["block.get"].Parent().SpanID())
	require.True(t, start.Equal(byName["block.get"].StartTime()))
	require.True(t, start.Add(time.Millisecond).Equal(byName["block.get"].EndTime()))
	require.Len(t, byName["grpc.client"].Events(), 1)
}

func TestDetachStopsSpans(t *testing.T) {
	eventbus.Use(eventbus.New())
	t.Cleanup(func() { eventbus.Use(nil) })
	sr := tracetest.NewSpanRecorder()
	detach := Attach(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	detach()

	eventbus.Publish(context.Background(), events.BlockPut{Cid: "bafy", Start: time.Now()})
	require.Empty(t, sr.Ended())
}

func TestFinishWithoutStartIsIgnored(t *testing.T) {
	sr := setup(t)
	eventbus.Publish(context.Background(), events.GRPCClientFinish{CallID: 99})
	eventbus.Publish(context.Background(), events.GraphQLFinish{RequestID: 5})
	require.Empty(t, sr.Ended())
}

func TestSetupWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup("", "graphql-ipld")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
