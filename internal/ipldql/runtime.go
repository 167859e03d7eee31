package ipldql

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/ipfs/go-cid"
	"github.com/ipld/go-ipld-prime/codec/dagjson"
	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/node/basicnode"

	blockstore "github.com/austinabell/graphql-ipld/internal/blockstore"
	executor "github.com/austinabell/graphql-ipld/internal/executor"
	ident "github.com/austinabell/graphql-ipld/internal/ident"
	projection "github.com/austinabell/graphql-ipld/internal/projection"
)

// DefaultMaxParallel bounds concurrent loads within one batch.
const DefaultMaxParallel = 16

// Runtime implements executor.Runtime over a block store.
//   - Projection slots and MapEntry fields resolve synchronously from the
//     parent *projection.Value or projection.MapEntry; they never load.
//   - Root fields and IpldValue.link resolve in BatchResolveAsync. Loads
//     run in parallel up to MaxParallel and each identifier is loaded once
//     per batch. Mutations run one after another in task order.
//   - Errors carry an extensions code (see CodeOf) and stay scoped to the
//     field that failed.
type Runtime struct {
	store       *blockstore.Store
	maxParallel int
	logger      *slog.Logger
}

var _ executor.Runtime = (*Runtime)(nil)

type Option func(*Runtime)

// WithMaxParallel bounds concurrent loads within one batch. Values below
// one mean no parallelism.
func WithMaxParallel(n int) Option { return func(r *Runtime) { r.maxParallel = n } }

func WithLogger(l *slog.Logger) Option { return func(r *Runtime) { r.logger = l } }

func NewRuntime(store *blockstore.Store, opts ...Option) *Runtime {
	r := &Runtime{store: store, maxParallel: DefaultMaxParallel, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	if r.maxParallel < 1 {
		r.maxParallel = 1
	}
	return r
}

func (r *Runtime) ResolveSync(ctx context.Context, objectType string, field string, source any, args map[string]any) (any, error) {
	switch objectType {
	case "IpldValue":
		v, ok := source.(*projection.Value)
		if !ok {
			return nil, fmt.Errorf("source for %s.%s must be *projection.Value, got %T", objectType, field, source)
		}
		return valueField(v, field)
	case "MapEntry":
		e, ok := source.(projection.MapEntry)
		if !ok {
			return nil, fmt.Errorf("source for %s.%s must be projection.MapEntry, got %T", objectType, field, source)
		}
		switch field {
		case "key":
			return e.Key, nil
		case "value":
			return e.Value, nil
		}
	}
	return nil, fmt.Errorf("no synchronous resolver for %s.%s", objectType, field)
}

func valueField(v *projection.Value, field string) (any, error) {
	switch field {
	case "null":
		return deref(v.Null), nil
	case "bool":
		return deref(v.Bool), nil
	case "integer":
		return deref(v.Integer), nil
	case "float":
		return deref(v.Float), nil
	case "string":
		return deref(v.String), nil
	case "bytes":
		return deref(v.Bytes), nil
	case "list":
		if v.List == nil {
			return nil, nil
		}
		return v.List, nil
	case "map":
		if v.Map == nil {
			return nil, nil
		}
		return v.Map, nil
	case "linkCid":
		return deref(v.Link), nil
	}
	return nil, fmt.Errorf("no synchronous resolver for IpldValue.%s", field)
}

func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func (r *Runtime) BatchResolveAsync(ctx context.Context, tasks []executor.AsyncResolveTask) []executor.AsyncResolveResult {
	results := make([]executor.AsyncResolveResult, len(tasks))
	if len(tasks) == 0 {
		return results
	}
	fetcher := newBatchFetcher(r.store)

	var loads []int
	for i, t := range tasks {
		if t.ObjectType == "Mutation" {
			v, err := r.mutate(ctx, t)
			results[i] = executor.AsyncResolveResult{Value: v, Error: coded(err)}
			continue
		}
		loads = append(loads, i)
	}

	if len(loads) == 1 || r.maxParallel == 1 {
		for _, i := range loads {
			v, err := r.load(ctx, fetcher, tasks[i])
			results[i] = executor.AsyncResolveResult{Value: v, Error: coded(err)}
		}
	} else {
		sem := make(chan struct{}, r.maxParallel)
		var wg sync.WaitGroup
		wg.Add(len(loads))
		for _, i := range loads {
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				v, err := r.load(ctx, fetcher, tasks[i])
				results[i] = executor.AsyncResolveResult{Value: v, Error: coded(err)}
			}()
		}
		wg.Wait()
	}

	r.logger.DebugContext(ctx, "resolved batch",
		slog.Int("tasks", len(tasks)),
		slog.Int("loads", len(loads)),
		slog.Int("fetched", fetcher.count()))
	return results
}

// load resolves one query or link task.
func (r *Runtime) load(ctx context.Context, f *batchFetcher, t executor.AsyncResolveTask) (any, error) {
	switch t.ObjectType + "." + t.Field {
	case "Query.resolve":
		id, err := cidArg(t.Args, "cid")
		if err != nil {
			return nil, err
		}
		return r.resolve(ctx, f, id)

	case "Query.has":
		id, err := cidArg(t.Args, "cid")
		if err != nil {
			return nil, err
		}
		return r.store.Has(ctx, id)

	case "Query.dagJSON":
		id, err := cidArg(t.Args, "cid")
		if err != nil {
			return nil, err
		}
		node, err := f.get(ctx, id)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := dagjson.Encode(node, &buf); err != nil {
			return nil, err
		}
		return buf.String(), nil

	case "IpldValue.link":
		v, ok := t.Source.(*projection.Value)
		if !ok {
			return nil, fmt.Errorf("source for IpldValue.link must be *projection.Value, got %T", t.Source)
		}
		return r.resolveLink(ctx, f, v)
	}
	return nil, fmt.Errorf("no resolver for %s.%s", t.ObjectType, t.Field)
}

// resolveLink dereferences the link slot of v. It returns nil for values
// that are not links.
func (r *Runtime) resolveLink(ctx context.Context, f *batchFetcher, v *projection.Value) (*projection.Value, error) {
	if v == nil || v.Link == nil {
		return nil, nil
	}
	id, err := ident.Parse(*v.Link)
	if err != nil {
		return nil, err
	}
	return r.resolve(ctx, f, id)
}

func (r *Runtime) resolve(ctx context.Context, f *batchFetcher, id cid.Cid) (*projection.Value, error) {
	node, err := f.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return projection.Project(node)
}

// mutate runs one Mutation task.
func (r *Runtime) mutate(ctx context.Context, t executor.AsyncResolveTask) (any, error) {
	var node datamodel.Node
	switch t.Field {
	case "insert":
		i, ok := t.Args["value"].(int)
		if !ok {
			return nil, invalidValue("value: expected integer, got %T", t.Args["value"])
		}
		node = basicnode.NewInt(int64(i))
	case "insertValue":
		in, ok := t.Args["value"].(map[string]any)
		if !ok {
			return nil, invalidValue("value: expected object, got %T", t.Args["value"])
		}
		n, err := nodeFromInput(in)
		if err != nil {
			return nil, err
		}
		node = n
	case "insertJSON":
		doc, _ := t.Args["json"].(string)
		n, err := nodeFromJSON(doc)
		if err != nil {
			return nil, err
		}
		node = n
	default:
		return nil, fmt.Errorf("no resolver for Mutation.%s", t.Field)
	}

	id, err := r.store.Put(ctx, node)
	if err != nil {
		return nil, err
	}
	r.logger.InfoContext(ctx, "inserted value", slog.String("field", t.Field), slog.String("cid", id.String()))
	return id.String(), nil
}

func cidArg(args map[string]any, name string) (cid.Cid, error) {
	s, _ := args[name].(string)
	return ident.Parse(s)
}

func (r *Runtime) ResolveType(ctx context.Context, abstractType string, value any) (string, error) {
	return "", fmt.Errorf("abstract type %s is not part of the schema", abstractType)
}

// SerializeLeafValue rejects floats that have no JSON representation.
func (r *Runtime) SerializeLeafValue(ctx context.Context, scalarOrEnumTypeName string, value any) (any, error) {
	if scalarOrEnumTypeName == "Float" {
		if f, ok := value.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
			return nil, &Error{Code: CodeInvalidValue, Err: fmt.Errorf("%w: float %v cannot be serialized", ErrInvalidValue, f)}
		}
	}
	return value, nil
}
