package ipldql

import (
	"context"
	"math"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ipfs/go-cid"
	"github.com/ipld/go-ipld-prime/node/basicnode"
	"github.com/stretchr/testify/require"

	blockstore "github.com/austinabell/graphql-ipld/internal/blockstore"
	executor "github.com/austinabell/graphql-ipld/internal/executor"
	ident "github.com/austinabell/graphql-ipld/internal/ident"
	language "github.com/austinabell/graphql-ipld/internal/language"
	projection "github.com/austinabell/graphql-ipld/internal/projection"
	schema "github.com/austinabell/graphql-ipld/internal/schema"
)

const (
	intCid  = "bafy2bzaced5n2imaxvvrz6ttuz7hrewypbjb55uzdcmvaqh3qzqwi7jsdygfk"
	linkCid = "bafy2bzacebdyrodpi5ivwjnqgzkys73khawycs7ch5olmjk2a56tvydcdlcu2"
	mapCid  = "bafy2bzacebjpfhxkkbdtr3a4ag34rw2uedwzwlzuppqfmawvxafx62h5hr6pq"
	listCid = "bafy2bzaceatj4dsfk5ylhzvgmg2pn3yhi5mj6z2uzgftqjfvskxgvy5m2dnu4"
)

type countingBackend struct {
	blockstore.Backend
	gets atomic.Int64
}

func (c *countingBackend) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	c.gets.Add(1)
	return c.Backend.Get(ctx, id)
}

type harness struct {
	backend *countingBackend
	store   *blockstore.Store
	rt      *Runtime
	schema  *schema.Schema
	ex      *executor.Executor
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	sch, err := Schema()
	require.NoError(t, err)
	backend := &countingBackend{Backend: blockstore.NewMemory()}
	store := blockstore.New(backend)
	rt := NewRuntime(store, opts...)
	return &harness{backend: backend, store: store, rt: rt, schema: sch, ex: executor.NewExecutor(rt, sch)}
}

func (h *harness) run(t *testing.T, query string) *executor.ExecutionResult {
	t.Helper()
	doc, errs := language.LoadQuery(h.schema.AST, query)
	require.Empty(t, errs)
	return h.ex.ExecuteRequest(context.Background(), doc, "", nil, nil)
}

// mustInsert runs a mutation selecting a single field and returns its value.
func (h *harness) mustInsert(t *testing.T, mutation string) string {
	t.Helper()
	res := h.run(t, mutation)
	require.Empty(t, res.Errors)
	data := res.Data.(map[string]any)
	require.Len(t, data, 1)
	for _, v := range data {
		return v.(string)
	}
	return ""
}

func errorCodes(errs []executor.GraphQLError) []string {
	var out []string
	for _, e := range errs {
		out = append(out, e.Extensions["code"].(string))
	}
	return out
}

func TestInsertAndResolveInteger(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, intCid, h.mustInsert(t, `mutation { insert(value: 8) }`))

	res := h.run(t, `{ resolve(cid: "`+intCid+`") { integer null bool linkCid } }`)
	want := &executor.ExecutionResult{
		Data: map[string]any{
			"resolve": map[string]any{"integer": int32(8), "null": nil, "bool": nil, "linkCid": nil},
		},
		Errors: []executor.GraphQLError{},
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestInsertValue_PinnedIdentifiers(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, intCid, h.mustInsert(t, `mutation { insertValue(value: {integer: 8}) }`))
	require.Equal(t, linkCid, h.mustInsert(t, `mutation { insertValue(value: {link: "`+intCid+`"}) }`))
	require.Equal(t, mapCid, h.mustInsert(t, `mutation {
		insertValue(value: {map: [
			{key: "1", value: {integer: 1}},
			{key: "2", value: {string: "test_name"}}
		]})
	}`))
	require.Equal(t, listCid, h.mustInsert(t, `mutation { insertValue(value: {list: [{bool: true}, {bytes: "0802"}]}) }`))
}

func TestResolve_FollowsLinkOnlyWhenSelected(t *testing.T) {
	h := newHarness(t)
	h.mustInsert(t, `mutation { insert(value: 8) }`)
	h.mustInsert(t, `mutation { insertValue(value: {link: "`+intCid+`"}) }`)

	h.backend.gets.Store(0)
	res := h.run(t, `{ resolve(cid: "`+linkCid+`") { linkCid } }`)
	require.Empty(t, res.Errors)
	require.Equal(t, map[string]any{"resolve": map[string]any{"linkCid": intCid}}, res.Data)
	require.Equal(t, int64(1), h.backend.gets.Load())

	h.backend.gets.Store(0)
	res = h.run(t, `{ resolve(cid: "`+linkCid+`") { linkCid link { integer link { integer } } } }`)
	want := &executor.ExecutionResult{
		Data: map[string]any{
			"resolve": map[string]any{
				"linkCid": intCid,
				"link":    map[string]any{"integer": int32(8), "link": nil},
			},
		},
		Errors: []executor.GraphQLError{},
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, int64(2), h.backend.gets.Load())
}

func TestResolve_DanglingLinkIsFieldScoped(t *testing.T) {
	h := newHarness(t)
	missing, err := ident.Sum(ident.DefaultHash, ident.DagCBOR, []byte{0x09})
	require.NoError(t, err)

	parent := h.mustInsert(t, `mutation {
		insertValue(value: {map: [
			{key: "name", value: {string: "parent"}},
			{key: "child", value: {link: "`+missing.String()+`"}}
		]})
	}`)

	// Canonical key order sorts shorter keys first.
	res := h.run(t, `{ resolve(cid: "`+parent+`") { map { key value { string link { integer } } } } }`)
	want := &executor.ExecutionResult{
		Data: map[string]any{
			"resolve": map[string]any{
				"map": []any{
					map[string]any{"key": "name", "value": map[string]any{"string": "parent", "link": nil}},
					map[string]any{"key": "child", "value": map[string]any{"string": nil, "link": nil}},
				},
			},
		},
		Errors: []executor.GraphQLError{{
			Message:    "block not found: " + missing.String(),
			Path:       executor.Path{"resolve", "map", 1, "value", "link"},
			Extensions: map[string]any{"code": CodeNotFound},
		}},
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestResolve_DanglingRootLink(t *testing.T) {
	h := newHarness(t)
	missing, err := ident.Sum(ident.DefaultHash, ident.DagCBOR, []byte{0x09})
	require.NoError(t, err)
	parent := h.mustInsert(t, `mutation { insertValue(value: {link: "`+missing.String()+`"}) }`)

	res := h.run(t, `{ resolve(cid: "`+parent+`") { linkCid link { integer } } }`)
	require.Equal(t, map[string]any{
		"resolve": map[string]any{"linkCid": missing.String(), "link": nil},
	}, res.Data)
	require.Len(t, res.Errors, 1)
	require.Equal(t, executor.Path{"resolve", "link"}, res.Errors[0].Path)
	require.Equal(t, []string{CodeNotFound}, errorCodes(res.Errors))
}

func TestResolve_RootErrors(t *testing.T) {
	h := newHarness(t)
	big, err := h.store.Put(context.Background(), basicnode.NewInt(math.MaxInt32+1))
	require.NoError(t, err)
	unknown, err := ident.Sum(ident.DefaultHash, ident.DagCBOR, []byte{0x09})
	require.NoError(t, err)

	tests := []struct {
		name string
		cid  string
		code string
	}{
		{"malformed", "not-a-cid", CodeMalformedIdentifier},
		{"empty", "", CodeMalformedIdentifier},
		{"unknown", unknown.String(), CodeNotFound},
		{"overflow", big.String(), CodeIntegerOverflow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := h.run(t, `{ resolve(cid: "`+tt.cid+`") { integer } version: has(cid: "`+intCid+`") }`)
			require.Equal(t, map[string]any{"resolve": nil, "version": false}, res.Data)
			require.Len(t, res.Errors, 1)
			require.Equal(t, executor.Path{"resolve"}, res.Errors[0].Path)
			require.Equal(t, []string{tt.code}, errorCodes(res.Errors))
		})
	}
}

func TestResolve_ClosedBackendIsUnavailable(t *testing.T) {
	h := newHarness(t)
	h.mustInsert(t, `mutation { insert(value: 8) }`)
	require.NoError(t, h.store.Close())

	res := h.run(t, `{ resolve(cid: "`+intCid+`") { integer } }`)
	require.Equal(t, []string{CodeBackendUnavailable}, errorCodes(res.Errors))

	res = h.run(t, `mutation { insert(value: 9) }`)
	require.Equal(t, []string{CodeBackendUnavailable}, errorCodes(res.Errors))
}

func TestResolve_MapAndListProjection(t *testing.T) {
	h := newHarness(t)
	id := h.mustInsert(t, `mutation { insertJSON(json: "{\"b\":[1,\"x\",true],\"a\":{\"/\":{\"bytes\":\"CAI\"}}}") }`)

	res := h.run(t, `{ resolve(cid: "`+id+`") { map { key value { bytes list { integer string bool } } } } }`)
	want := &executor.ExecutionResult{
		Data: map[string]any{
			"resolve": map[string]any{
				"map": []any{
					map[string]any{"key": "a", "value": map[string]any{"bytes": "0802", "list": nil}},
					map[string]any{"key": "b", "value": map[string]any{
						"bytes": nil,
						"list": []any{
							map[string]any{"integer": int32(1), "string": nil, "bool": nil},
							map[string]any{"integer": nil, "string": "x", "bool": nil},
							map[string]any{"integer": nil, "string": nil, "bool": true},
						},
					}},
				},
			},
		},
		Errors: []executor.GraphQLError{},
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestHasAndDagJSON(t *testing.T) {
	h := newHarness(t)
	h.mustInsert(t, `mutation { insertJSON(json: "{\"1\":1,\"2\":\"test_name\"}") }`)

	res := h.run(t, `{
		present: has(cid: "`+mapCid+`")
		absent: has(cid: "`+intCid+`")
		json: dagJSON(cid: "`+mapCid+`")
	}`)
	require.Empty(t, res.Errors)
	require.Equal(t, map[string]any{
		"present": true,
		"absent":  false,
		"json":    `{"1":1,"2":"test_name"}`,
	}, res.Data)
}

func TestInsertValue_Invalid(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name  string
		value string
		code  string
	}{
		{"two fields", `{integer: 1, string: "x"}`, CodeInvalidValue},
		{"no fields", `{}`, CodeInvalidValue},
		{"null false", `{null: false}`, CodeInvalidValue},
		{"bad hex", `{bytes: "zz"}`, CodeInvalidValue},
		{"nested", `{list: [{bool: true, integer: 2}]}`, CodeInvalidValue},
		{"duplicate key", `{map: [{key: "a", value: {null: true}}, {key: "a", value: {null: true}}]}`, CodeInvalidValue},
		{"bad link", `{link: "nope"}`, CodeMalformedIdentifier},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := h.run(t, `mutation { insertValue(value: `+tt.value+`) }`)
			require.Equal(t, map[string]any{"insertValue": nil}, res.Data)
			require.Equal(t, []string{tt.code}, errorCodes(res.Errors))
			require.Equal(t, executor.Path{"insertValue"}, res.Errors[0].Path)
		})
	}

	res := h.run(t, `mutation { insertJSON(json: "{") }`)
	require.Equal(t, []string{CodeInvalidValue}, errorCodes(res.Errors))
}

func TestInsertValue_NestedErrorMessage(t *testing.T) {
	h := newHarness(t)
	res := h.run(t, `mutation { insertValue(value: {list: [{null: true}, {bool: true, integer: 2}]}) }`)
	require.Len(t, res.Errors, 1)
	require.True(t, strings.Contains(res.Errors[0].Message, "value.list[1]: exactly one field must be set, got 2 (bool, integer)"),
		res.Errors[0].Message)
}

func TestMutationsRunInOrder(t *testing.T) {
	h := newHarness(t)
	res := h.run(t, `mutation {
		a: insert(value: 8)
		b: insertValue(value: {link: "`+intCid+`"})
		c: insert(value: 8)
	}`)
	require.Empty(t, res.Errors)
	require.Equal(t, map[string]any{"a": intCid, "b": linkCid, "c": intCid}, res.Data)
}

func TestBatch_DeduplicatesLoads(t *testing.T) {
	h := newHarness(t, WithMaxParallel(4))
	h.mustInsert(t, `mutation { insert(value: 8) }`)

	h.backend.gets.Store(0)
	res := h.run(t, `{
		a: resolve(cid: "`+intCid+`") { integer }
		b: resolve(cid: "`+intCid+`") { integer }
		c: dagJSON(cid: "`+intCid+`")
	}`)
	require.Empty(t, res.Errors)
	require.Equal(t, map[string]any{
		"a": map[string]any{"integer": int32(8)},
		"b": map[string]any{"integer": int32(8)},
		"c": "8",
	}, res.Data)
	require.Equal(t, int64(1), h.backend.gets.Load())
}

func TestResolveLink_MalformedStoredLink(t *testing.T) {
	h := newHarness(t)
	bad := "garbage"

	_, err := h.rt.resolveLink(context.Background(), newBatchFetcher(h.store), &projection.Value{Link: &bad})
	require.Error(t, err)
	require.Equal(t, CodeMalformedIdentifier, CodeOf(err))

	results := h.rt.BatchResolveAsync(context.Background(), []executor.AsyncResolveTask{
		{ObjectType: "IpldValue", Field: "link", Source: &projection.Value{Link: &bad}},
		{ObjectType: "IpldValue", Field: "link", Source: &projection.Value{String: &bad}},
	})
	require.Len(t, results, 2)
	require.Equal(t, CodeMalformedIdentifier, CodeOf(results[0].Error))
	require.NoError(t, results[1].Error)
	require.Nil(t, results[1].Value.(*projection.Value))
}

func TestSerializeLeafValue_RejectsNonFiniteFloats(t *testing.T) {
	rt := NewRuntime(blockstore.New(blockstore.NewMemory()))
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := rt.SerializeLeafValue(context.Background(), "Float", f)
		require.Error(t, err)
		require.Equal(t, CodeInvalidValue, CodeOf(err))
	}
	v, err := rt.SerializeLeafValue(context.Background(), "Float", 1.5)
	require.NoError(t, err)
	require.Equal(t, 1.5, v)
}

func TestResolveSync_RejectsUnexpectedSource(t *testing.T) {
	rt := NewRuntime(blockstore.New(blockstore.NewMemory()))
	_, err := rt.ResolveSync(context.Background(), "IpldValue", "integer", "not a value", nil)
	require.Error(t, err)
	_, err = rt.ResolveSync(context.Background(), "Query", "resolve", nil, nil)
	require.Error(t, err)
}
