package blockrpc

import (
	"bytes"
	"context"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/ipfs/go-cid"
	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/node/basicnode"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"

	blockstore "github.com/austinabell/graphql-ipld/internal/blockstore"
	eventbus "github.com/austinabell/graphql-ipld/internal/eventbus"
	events "github.com/austinabell/graphql-ipld/internal/events"
	ident "github.com/austinabell/graphql-ipld/internal/ident"
)

type harness struct {
	lis    *bufconn.Listener
	client *Client

	mu      sync.Mutex
	methods []string
	headers []string
}

func newHarness(t *testing.T, backend blockstore.Backend, opts ...Option) *harness {
	t.Helper()
	h := &harness{lis: bufconn.Listen(1 << 20)}

	srv, err := NewServer(backend)
	require.NoError(t, err)
	gs := grpc.NewServer(grpc.UnaryInterceptor(func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		h.mu.Lock()
		h.methods = append(h.methods, info.FullMethod)
		h.headers = append(h.headers, md.Get("x-graphql-ipld-method")...)
		h.mu.Unlock()
		return handler(ctx, req)
	}))
	srv.Register(gs)
	go func() { _ = gs.Serve(h.lis) }()
	t.Cleanup(gs.Stop)

	opts = append([]Option{
		WithEndpoints("passthrough:///bufnet"),
		WithDialOptions(
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return h.lis.DialContext(ctx) }),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		),
	}, opts...)
	h.client, err = NewClient(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.client.Close() })
	return h
}

func TestClient_StoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, blockstore.NewMemory())
	s := blockstore.New(h.client)

	id, err := s.Put(ctx, basicnode.NewInt(8))
	require.NoError(t, err)
	require.Equal(t, "bafy2bzaced5n2imaxvvrz6ttuz7hrewypbjb55uzdcmvaqh3qzqwi7jsdygfk", id.String())

	n, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, datamodel.DeepEqual(basicnode.NewInt(8), n))

	ok, err := s.Has(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	want := []string{
		"/ipld.blocks.v1.BlockService/Has",
		"/ipld.blocks.v1.BlockService/Put",
		"/ipld.blocks.v1.BlockService/Get",
		"/ipld.blocks.v1.BlockService/Has",
	}
	if diff := cmp.Diff(want, h.methods); diff != "" {
		t.Fatalf("methods mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Has", "Put", "Get", "Has"}, h.headers); diff != "" {
		t.Fatalf("metadata mismatch (-want +got):\n%s", diff)
	}
}

func TestClient_NotFound(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, blockstore.NewMemory())

	id, err := ident.Sum(ident.DefaultHash, ident.DagCBOR, []byte{0x08})
	require.NoError(t, err)

	_, err = h.client.Get(ctx, id)
	require.ErrorIs(t, err, blockstore.ErrNotFound)

	ok, err := h.client.Has(ctx, id)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestClient_PutRejectsMismatchedData(t *testing.T) {
	ctx := context.Background()
	backend := blockstore.NewMemory()
	h := newHarness(t, backend)

	id, err := ident.Sum(ident.DefaultHash, ident.DagCBOR, []byte{0x08})
	require.NoError(t, err)

	err = h.client.Put(ctx, id, []byte{0x09})
	require.ErrorIs(t, err, blockstore.ErrCorrupt)

	ok, err := backend.Has(ctx, id)
	require.NoError(t, err)
	require.False(t, ok)
}

type failingBackend struct {
	blockstore.Backend
	err error
}

func (f failingBackend) Get(context.Context, cid.Cid) ([]byte, error) { return nil, f.err }
func (f failingBackend) Has(context.Context, cid.Cid) (bool, error)   { return false, f.err }

func TestClient_ErrorMapping(t *testing.T) {
	ctx := context.Background()
	id, err := ident.Sum(ident.DefaultHash, ident.DagCBOR, []byte{0x08})
	require.NoError(t, err)

	tests := []struct {
		name    string
		backend error
		want    error
	}{
		{"corrupt", blockstore.ErrCorrupt, blockstore.ErrCorrupt},
		{"unavailable", blockstore.ErrBackendUnavailable, blockstore.ErrBackendUnavailable},
		{"internal", os.ErrPermission, blockstore.ErrBackendUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, failingBackend{Backend: blockstore.NewMemory(), err: tt.backend})
			_, err := h.client.Get(ctx, id)
			require.ErrorIs(t, err, tt.want)
			_, err = h.client.Has(ctx, id)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestClient_UnreachableIsUnavailable(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, blockstore.NewMemory(), WithRPCTimeout(500*time.Millisecond))
	require.NoError(t, h.lis.Close())

	id, err := ident.Sum(ident.DefaultHash, ident.DagCBOR, []byte{0x08})
	require.NoError(t, err)
	_, err = h.client.Get(ctx, id)
	require.ErrorIs(t, err, blockstore.ErrBackendUnavailable)
}

func TestClient_NoEndpoints(t *testing.T) {
	c, err := NewClient(WithProvider(NewStaticEndpoints(nil)))
	require.NoError(t, err)
	defer c.Close()

	id, err := ident.Sum(ident.DefaultHash, ident.DagCBOR, []byte{0x08})
	require.NoError(t, err)
	_, err = c.Get(context.Background(), id)
	require.ErrorIs(t, err, blockstore.ErrBackendUnavailable)
	require.ErrorIs(t, err, ErrNoEndpoints)
}

func TestClient_Closed(t *testing.T) {
	h := newHarness(t, blockstore.NewMemory())
	require.NoError(t, h.client.Close())
	require.NoError(t, h.client.Close())

	id, err := ident.Sum(ident.DefaultHash, ident.DagCBOR, []byte{0x08})
	require.NoError(t, err)
	_, err = h.client.Has(context.Background(), id)
	require.ErrorIs(t, err, blockstore.ErrBackendUnavailable)
}

func TestNewClient_RequiresProvider(t *testing.T) {
	_, err := NewClient()
	require.EqualError(t, err, "blockrpc: provider not configured")
}

func TestClient_PublishesCallEvents(t *testing.T) {
	eventbus.Use(eventbus.New())
	t.Cleanup(func() { eventbus.Use(nil) })

	var starts []events.GRPCClientStart
	var finishes []events.GRPCClientFinish
	defer eventbus.Subscribe(func(ctx context.Context, e events.GRPCClientStart) { starts = append(starts, e) })()
	defer eventbus.Subscribe(func(ctx context.Context, e events.GRPCClientFinish) { finishes = append(finishes, e) })()

	h := newHarness(t, blockstore.NewMemory())
	id, err := ident.Sum(ident.DefaultHash, ident.DagCBOR, []byte{0x08})
	require.NoError(t, err)
	_, err = h.client.Get(context.Background(), id)
	require.Error(t, err)

	require.Len(t, starts, 1)
	require.Len(t, finishes, 1)
	require.Equal(t, starts[0].CallID, finishes[0].CallID)
	require.Equal(t, ServiceName, finishes[0].Service)
	require.Equal(t, MethodGet, finishes[0].Method)
	require.Equal(t, "passthrough:///bufnet", finishes[0].Target)
	require.Equal(t, codes.NotFound, finishes[0].Code)
}

func TestWriteProto(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteProto(&buf))
	out := buf.String()
	for _, want := range []string{
		`syntax = "proto3";`,
		"package ipld.blocks.v1;",
		"service BlockService {",
		"message PutBlockRequest {",
		"bytes cid = 1;",
		"bool found = 1;",
		"BlockService stores raw IPLD blocks keyed by CID.",
	} {
		require.Contains(t, out, want)
	}

	fp, err := WriteProtoFile(t.TempDir())
	require.NoError(t, err)
	written, err := os.ReadFile(fp)
	require.NoError(t, err)
	require.Equal(t, out, string(written))
}
