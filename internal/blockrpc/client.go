package blockrpc

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ipfs/go-cid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	blockstore "github.com/austinabell/graphql-ipld/internal/blockstore"
	eventbus "github.com/austinabell/graphql-ipld/internal/eventbus"
	events "github.com/austinabell/graphql-ipld/internal/events"
)

// ErrNoEndpoints indicates the provider returned no endpoints for the service.
var ErrNoEndpoints = errors.New("blockrpc: no endpoints available")

// EndpointProvider provides reachable endpoints (host:port) for a
// fully-qualified gRPC service name. Implementations must be safe for
// concurrent use.
type EndpointProvider interface {
	Endpoints(ctx context.Context, service string) ([]string, error)
}

// StaticEndpoints is a provider backed by an in-memory map.
type StaticEndpoints struct {
	mu   sync.RWMutex
	data map[string][]string
}

func NewStaticEndpoints(m map[string][]string) *StaticEndpoints {
	cp := make(map[string][]string, len(m))
	for k, v := range m {
		cp[k] = append([]string(nil), v...)
	}
	return &StaticEndpoints{data: cp}
}

// Set replaces the endpoints of service.
func (s *StaticEndpoints) Set(service string, endpoints ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[service] = append([]string(nil), endpoints...)
}

func (s *StaticEndpoints) Endpoints(_ context.Context, service string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.data[service]
	if len(arr) == 0 {
		return nil, ErrNoEndpoints
	}
	return append([]string(nil), arr...), nil
}

// Options configures the client.
//
// Defaults:
// - MaxConnsPerEndpoint: 2
// - RPCTimeout:          3s (used only if the context has no deadline)
// - DialOptions:         insecure credentials with default backoff
type Options struct {
	Provider EndpointProvider

	MaxConnsPerEndpoint int
	RPCTimeout          time.Duration

	DialOptions []grpc.DialOption
}

type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		MaxConnsPerEndpoint: 2,
		RPCTimeout:          3 * time.Second,
	}
}

func WithProvider(p EndpointProvider) Option { return func(o *Options) { o.Provider = p } }
func WithMaxConnsPerEndpoint(n int) Option   { return func(o *Options) { o.MaxConnsPerEndpoint = n } }
func WithRPCTimeout(d time.Duration) Option  { return func(o *Options) { o.RPCTimeout = d } }
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *Options) { o.DialOptions = opts }
}

// WithEndpoints is shorthand for a static provider serving the block service.
func WithEndpoints(endpoints ...string) Option {
	return WithProvider(NewStaticEndpoints(map[string][]string{ServiceName: endpoints}))
}

var callSeq atomic.Uint64

// Client is a blockstore.Backend backed by a remote block service.
type Client struct {
	opts    *Options
	methods map[string]protoreflect.MethodDescriptor

	mu     sync.RWMutex
	pools  map[string]*connPool
	closed atomic.Bool
}

var _ blockstore.Backend = (*Client)(nil)

func NewClient(opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	if o.Provider == nil {
		return nil, fmt.Errorf("blockrpc: provider not configured")
	}
	if len(o.DialOptions) == 0 {
		o.DialOptions = []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig}),
		}
	}
	c := &Client{opts: o, methods: make(map[string]protoreflect.MethodDescriptor), pools: make(map[string]*connPool)}
	for _, name := range []string{MethodGet, MethodPut, MethodHas} {
		md, err := methodDescriptor(name)
		if err != nil {
			return nil, err
		}
		c.methods[name] = md
	}
	return c, nil
}

func (c *Client) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	md := c.methods[MethodGet]
	req := dynamicpb.NewMessage(md.Input())
	req.Set(md.Input().Fields().ByName("cid"), protoreflect.ValueOfBytes(id.Bytes()))
	resp, err := c.call(ctx, md, req)
	if err != nil {
		return nil, backendError(id, err)
	}
	return resp.Get(md.Output().Fields().ByName("data")).Bytes(), nil
}

func (c *Client) Put(ctx context.Context, id cid.Cid, data []byte) error {
	md := c.methods[MethodPut]
	req := dynamicpb.NewMessage(md.Input())
	req.Set(md.Input().Fields().ByName("cid"), protoreflect.ValueOfBytes(id.Bytes()))
	req.Set(md.Input().Fields().ByName("data"), protoreflect.ValueOfBytes(data))
	if _, err := c.call(ctx, md, req); err != nil {
		return backendError(id, err)
	}
	return nil
}

func (c *Client) Has(ctx context.Context, id cid.Cid) (bool, error) {
	md := c.methods[MethodHas]
	req := dynamicpb.NewMessage(md.Input())
	req.Set(md.Input().Fields().ByName("cid"), protoreflect.ValueOfBytes(id.Bytes()))
	resp, err := c.call(ctx, md, req)
	if err != nil {
		return false, backendError(id, err)
	}
	return resp.Get(md.Output().Fields().ByName("found")).Bool(), nil
}

func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.pools {
		p.close()
	}
	c.pools = map[string]*connPool{}
	return nil
}

func (c *Client) call(ctx context.Context, md protoreflect.MethodDescriptor, req *dynamicpb.Message) (*dynamicpb.Message, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("blockrpc: client closed")
	}
	if _, ok := ctx.Deadline(); !ok && c.opts.RPCTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RPCTimeout)
		defer cancel()
	}
	ctx = metadata.AppendToOutgoingContext(ctx, "x-graphql-ipld-method", string(md.Name()))

	endpoints, err := c.opts.Provider.Endpoints(ctx, ServiceName)
	if err != nil {
		return nil, err
	}
	endpoint := endpoints[rand.IntN(len(endpoints))]

	cc, err := c.getConn(endpoint)
	if err != nil {
		return nil, err
	}
	defer c.returnConn(endpoint, cc)

	callID := callSeq.Add(1)
	method := string(md.Name())
	start := time.Now()
	eventbus.Publish(ctx, events.GRPCClientStart{CallID: callID, Service: ServiceName, Method: method, Target: endpoint})
	resp := dynamicpb.NewMessage(md.Output())
	err = cc.Invoke(ctx, fullMethod(method), req, resp)
	eventbus.Publish(ctx, events.GRPCClientFinish{
		CallID:   callID,
		Service:  ServiceName,
		Method:   method,
		Target:   endpoint,
		Code:     status.Code(err),
		Err:      err,
		Duration: time.Since(start),
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// backendError maps a call failure onto the blockstore taxonomy.
func backendError(id cid.Cid, err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%w: %s", blockstore.ErrNotFound, id)
	case codes.DataLoss, codes.InvalidArgument:
		return fmt.Errorf("%w: %s: %s", blockstore.ErrCorrupt, id, status.Convert(err).Message())
	}
	return fmt.Errorf("%w: %w", blockstore.ErrBackendUnavailable, err)
}

type connPool struct {
	endpoint string
	opts     *Options
	conns    chan *grpc.ClientConn
	closed   atomic.Bool
}

func newConnPool(endpoint string, opts *Options) *connPool {
	n := opts.MaxConnsPerEndpoint
	if n <= 0 {
		n = 2
	}
	return &connPool{endpoint: endpoint, opts: opts, conns: make(chan *grpc.ClientConn, n)}
}

func (p *connPool) get() (*grpc.ClientConn, error) {
	if p.closed.Load() {
		return nil, fmt.Errorf("blockrpc: pool closed")
	}
	select {
	case cc := <-p.conns:
		return cc, nil
	default:
		return grpc.NewClient(p.endpoint, p.opts.DialOptions...)
	}
}

func (p *connPool) put(cc *grpc.ClientConn) {
	if p.closed.Load() {
		_ = cc.Close()
		return
	}
	select {
	case p.conns <- cc:
	default:
		_ = cc.Close()
	}
}

func (p *connPool) close() {
	if p.closed.Swap(true) {
		return
	}
	close(p.conns)
	for cc := range p.conns {
		_ = cc.Close()
	}
}

func (c *Client) getConn(endpoint string) (*grpc.ClientConn, error) {
	c.mu.RLock()
	pool := c.pools[endpoint]
	c.mu.RUnlock()
	if pool == nil {
		c.mu.Lock()
		pool = c.pools[endpoint]
		if pool == nil {
			pool = newConnPool(endpoint, c.opts)
			c.pools[endpoint] = pool
		}
		c.mu.Unlock()
	}
	return pool.get()
}

func (c *Client) returnConn(endpoint string, cc *grpc.ClientConn) {
	c.mu.RLock()
	pool := c.pools[endpoint]
	c.mu.RUnlock()
	if pool != nil {
		pool.put(cc)
		return
	}
	_ = cc.Close()
}
