package blockstore

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/ipld/go-ipld-prime/codec"
	"github.com/ipld/go-ipld-prime/codec/dagcbor"
	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/node/basicnode"

	eventbus "github.com/austinabell/graphql-ipld/internal/eventbus"
	events "github.com/austinabell/graphql-ipld/internal/events"
	ident "github.com/austinabell/graphql-ipld/internal/ident"
)

// Store puts and gets IPLD values. It is safe for concurrent use when its
// Backend is.
type Store struct {
	backend          Backend
	hash             ident.Hash
	preserveMapOrder bool
	verify           bool
	logger           *slog.Logger
}

type Option func(*Store)

// WithHash selects the hash function for new identifiers.
func WithHash(h ident.Hash) Option { return func(s *Store) { s.hash = h } }

// WithPreserveMapOrder encodes map entries in the order the value holds
// them instead of the canonical DAG-CBOR key order.
func WithPreserveMapOrder(v bool) Option { return func(s *Store) { s.preserveMapOrder = v } }

// WithVerify recomputes the digest of every block read.
func WithVerify(v bool) Option { return func(s *Store) { s.verify = v } }

func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

func New(backend Backend, opts ...Option) *Store {
	s := &Store{backend: backend, hash: ident.DefaultHash, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hash returns the hash function used for new identifiers.
func (s *Store) Hash() ident.Hash { return s.hash }

// Backend returns the underlying block storage.
func (s *Store) Backend() Backend { return s.backend }

// Close closes the backend.
func (s *Store) Close() error { return s.backend.Close() }

// Encode returns the DAG-CBOR bytes of node and their identifier.
func (s *Store) Encode(node datamodel.Node) (cid.Cid, []byte, error) {
	opts := dagcbor.EncodeOptions{AllowLinks: true, MapSortMode: codec.MapSortMode_RFC7049}
	if s.preserveMapOrder {
		opts.MapSortMode = codec.MapSortMode_None
	}
	var buf bytes.Buffer
	if err := opts.Encode(node, &buf); err != nil {
		return cid.Undef, nil, fmt.Errorf("encode dag-cbor: %w", err)
	}
	id, err := ident.Sum(s.hash, ident.DagCBOR, buf.Bytes())
	if err != nil {
		return cid.Undef, nil, err
	}
	return id, buf.Bytes(), nil
}

// Put stores node and returns its identifier. Storing a value that is
// already present writes nothing.
func (s *Store) Put(ctx context.Context, node datamodel.Node) (id cid.Cid, err error) {
	start := time.Now()
	var size int
	var existed bool
	defer func() {
		eventbus.Publish(ctx, events.BlockPut{
			Cid:      cidString(id),
			Size:     size,
			Existed:  existed,
			Err:      err,
			Start:    start,
			Duration: time.Since(start),
		})
	}()

	id, data, err := s.Encode(node)
	if err != nil {
		return cid.Undef, err
	}
	size = len(data)

	existed, err = s.backend.Has(ctx, id)
	if err != nil {
		return cid.Undef, classify(err)
	}
	if existed {
		s.logger.DebugContext(ctx, "block already stored", slog.String("cid", id.String()))
		return id, nil
	}
	if err := s.backend.Put(ctx, id, data); err != nil {
		return cid.Undef, classify(err)
	}
	s.logger.DebugContext(ctx, "stored block", slog.String("cid", id.String()), slog.Int("size", size))
	return id, nil
}

// Get loads and decodes the value stored under id.
func (s *Store) Get(ctx context.Context, id cid.Cid) (node datamodel.Node, err error) {
	start := time.Now()
	var size int
	defer func() {
		eventbus.Publish(ctx, events.BlockGet{
			Cid:      cidString(id),
			Size:     size,
			Err:      err,
			Start:    start,
			Duration: time.Since(start),
		})
	}()

	data, err := s.backend.Get(ctx, id)
	if err != nil {
		return nil, classify(err)
	}
	size = len(data)

	if s.verify {
		if err := ident.Verify(id, data); err != nil {
			s.logger.WarnContext(ctx, "block failed verification", slog.String("cid", id.String()), slog.Any("error", err))
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
	}

	node, err = decode(id, data)
	if err != nil {
		s.logger.WarnContext(ctx, "undecodable block", slog.String("cid", id.String()), slog.Any("error", err))
		return nil, err
	}
	return node, nil
}

// Has reports whether a block exists for id.
func (s *Store) Has(ctx context.Context, id cid.Cid) (bool, error) {
	ok, err := s.backend.Has(ctx, id)
	if err != nil {
		return false, classify(err)
	}
	return ok, nil
}

func decode(id cid.Cid, data []byte) (datamodel.Node, error) {
	switch c := id.Prefix().Codec; c {
	case ident.DagCBOR:
		nb := basicnode.Prototype.Any.NewBuilder()
		if err := dagcbor.Decode(nb, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, id, err)
		}
		return nb.Build(), nil
	case ident.Raw:
		return basicnode.NewBytes(data), nil
	default:
		return nil, fmt.Errorf("%w: %s: unsupported codec 0x%x", ErrCorrupt, id, c)
	}
}

func cidString(id cid.Cid) string {
	if !id.Defined() {
		return ""
	}
	return id.String()
}
