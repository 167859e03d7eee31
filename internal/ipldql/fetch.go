package ipldql

import (
	"context"
	"sync"

	"github.com/ipfs/go-cid"
	"github.com/ipld/go-ipld-prime/datamodel"

	blockstore "github.com/austinabell/graphql-ipld/internal/blockstore"
)

// batchFetcher loads each identifier at most once per batch. Concurrent
// callers asking for the same identifier wait for the first load.
type batchFetcher struct {
	store *blockstore.Store

	mu      sync.Mutex
	calls   map[cid.Cid]*fetchCall
	fetched int
}

type fetchCall struct {
	done chan struct{}
	node datamodel.Node
	err  error
}

func newBatchFetcher(store *blockstore.Store) *batchFetcher {
	return &batchFetcher{store: store, calls: make(map[cid.Cid]*fetchCall)}
}

func (f *batchFetcher) get(ctx context.Context, id cid.Cid) (datamodel.Node, error) {
	f.mu.Lock()
	if c, ok := f.calls[id]; ok {
		f.mu.Unlock()
		select {
		case <-c.done:
			return c.node, c.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c := &fetchCall{done: make(chan struct{})}
	f.calls[id] = c
	f.fetched++
	f.mu.Unlock()

	c.node, c.err = f.store.Get(ctx, id)
	close(c.done)
	return c.node, c.err
}

// count returns the number of distinct loads.
func (f *batchFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetched
}
