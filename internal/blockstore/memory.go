package blockstore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	bstore "github.com/ipfs/boxo/blockstore"
	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	ds "github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"
	dssync "github.com/ipfs/go-datastore/sync"
	format "github.com/ipfs/go-ipld-format"
)

// Memory keeps blocks in a mutex-guarded map datastore.
//
// A boxo blockstore keys blocks by multihash alone, so Memory keeps one per
// CID version and codec under its own namespace. An identifier that shares
// a digest with a stored block but names another codec is not found.
type Memory struct {
	root   ds.Batching
	mu     sync.Mutex
	stores map[ds.Key]bstore.Blockstore
	closed atomic.Bool
}

func NewMemory() *Memory {
	return &Memory{
		root:   dssync.MutexWrap(ds.NewMapDatastore()),
		stores: map[ds.Key]bstore.Blockstore{},
	}
}

func (m *Memory) blockstore(id cid.Cid) bstore.Blockstore {
	p := id.Prefix()
	k := ds.NewKey(fmt.Sprintf("v%d/%x", p.Version, p.Codec))
	m.mu.Lock()
	defer m.mu.Unlock()
	bs, ok := m.stores[k]
	if !ok {
		bs = bstore.NewBlockstore(namespace.Wrap(m.root, k))
		m.stores[k] = bs
	}
	return bs
}

func (m *Memory) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	if m.closed.Load() {
		return nil, fmt.Errorf("%w: memory store closed", ErrBackendUnavailable)
	}
	b, err := m.blockstore(id).Get(ctx, id)
	if err != nil {
		if format.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, classify(err)
	}
	return b.RawData(), nil
}

func (m *Memory) Put(ctx context.Context, id cid.Cid, data []byte) error {
	if m.closed.Load() {
		return fmt.Errorf("%w: memory store closed", ErrBackendUnavailable)
	}
	b, err := blocks.NewBlockWithCid(data, id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return classify(m.blockstore(id).Put(ctx, b))
}

func (m *Memory) Has(ctx context.Context, id cid.Cid) (bool, error) {
	if m.closed.Load() {
		return false, fmt.Errorf("%w: memory store closed", ErrBackendUnavailable)
	}
	ok, err := m.blockstore(id).Has(ctx, id)
	return ok, classify(err)
}

// Close makes every later call fail with ErrBackendUnavailable.
func (m *Memory) Close() error {
	m.closed.Store(true)
	return nil
}
