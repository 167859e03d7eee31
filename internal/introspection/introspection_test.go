package introspection

import (
	"context"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	executor "github.com/austinabell/graphql-ipld/internal/executor"
	language "github.com/austinabell/graphql-ipld/internal/language"
	schema "github.com/austinabell/graphql-ipld/internal/schema"
)

const testSDL = `
directive @resolver on FIELD_DEFINITION

type Query {
  node(id: ID!): Node @resolver
  search(kind: Kind = BLOCK, limit: Int = 10, filter: Filter): [Result!]!
  legacy: String @deprecated(reason: "use node")
}

interface Node {
  id: ID!
}

"A stored block."
type Block implements Node {
  id: ID!
  size: Int
}

type Link implements Node {
  id: ID!
  target: Node
}

union Result = Block | Link

enum Kind {
  BLOCK
  LINK
  OLD @deprecated
}

input Filter {
  prefix: String
  tags: [String!] = ["a", "b"]
}
`

func run(t *testing.T, query string) map[string]any {
	t.Helper()
	sch, err := schema.BuildFromSDL("test.graphql", testSDL)
	require.NoError(t, err)
	rt := executor.NewMockRuntime(map[string]executor.MockResolver{
		"Query.legacy": executor.NewMockValueResolver("old"),
	})
	w, err := Wrap(rt, sch)
	require.NoError(t, err)

	doc, errs := language.LoadQuery(w.Schema.AST, query)
	require.Empty(t, errs)
	res := executor.NewExecutor(w.Runtime, w.Schema).ExecuteRequest(context.Background(), doc, "", nil, nil)
	require.Empty(t, res.Errors)
	return res.Data.(map[string]any)
}

func TestSchemaRoots(t *testing.T) {
	data := run(t, `{ __schema { queryType { name } mutationType { name } types { name } } }`)
	s := data["__schema"].(map[string]any)
	require.Equal(t, map[string]any{"name": "Query"}, s["queryType"])
	require.Nil(t, s["mutationType"])

	var names []string
	for _, typ := range s["types"].([]any) {
		names = append(names, typ.(map[string]any)["name"].(string))
	}
	require.True(t, slices.IsSorted(names), names)
	for _, want := range []string{"Block", "Filter", "Kind", "Node", "Query", "Result", "String", "__Schema", "__Type"} {
		require.Contains(t, names, want)
	}
}

func TestTypeFields(t *testing.T) {
	data := run(t, `{
  __type(name: "Query") {
    kind
    name
    fields {
      name
      isDeprecated
      args { name defaultValue type { kind name ofType { kind name } } }
    }
  }
}`)
	want := map[string]any{
		"kind": "OBJECT",
		"name": "Query",
		"fields": []any{
			map[string]any{
				"name":         "node",
				"isDeprecated": false,
				"args": []any{
					map[string]any{
						"name":         "id",
						"defaultValue": nil,
						"type": map[string]any{
							"kind":   "NON_NULL",
							"name":   nil,
							"ofType": map[string]any{"kind": "SCALAR", "name": "ID"},
						},
					},
				},
			},
			map[string]any{
				"name":         "search",
				"isDeprecated": false,
				"args": []any{
					map[string]any{
						"name":         "kind",
						"defaultValue": "BLOCK",
						"type":         map[string]any{"kind": "ENUM", "name": "Kind", "ofType": nil},
					},
					map[string]any{
						"name":         "limit",
						"defaultValue": "10",
						"type":         map[string]any{"kind": "SCALAR", "name": "Int", "ofType": nil},
					},
					map[string]any{
						"name":         "filter",
						"defaultValue": nil,
						"type":         map[string]any{"kind": "INPUT_OBJECT", "name": "Filter", "ofType": nil},
					},
				},
			},
		},
	}
	if diff := cmp.Diff(want, data["__type"]); diff != "" {
		t.Fatalf("__type mismatch (-want +got):\n%s", diff)
	}
}

func TestIncludeDeprecated(t *testing.T) {
	data := run(t, `{
  query: __type(name: "Query") { fields(includeDeprecated: true) { name deprecationReason } }
  kind: __type(name: "Kind") {
    enumValues { name }
    all: enumValues(includeDeprecated: true) { name isDeprecated deprecationReason }
  }
}`)
	want := map[string]any{
		"query": map[string]any{"fields": []any{
			map[string]any{"name": "node", "deprecationReason": nil},
			map[string]any{"name": "search", "deprecationReason": nil},
			map[string]any{"name": "legacy", "deprecationReason": "use node"},
		}},
		"kind": map[string]any{
			"enumValues": []any{
				map[string]any{"name": "BLOCK"},
				map[string]any{"name": "LINK"},
			},
			"all": []any{
				map[string]any{"name": "BLOCK", "isDeprecated": false, "deprecationReason": nil},
				map[string]any{"name": "LINK", "isDeprecated": false, "deprecationReason": nil},
				map[string]any{"name": "OLD", "isDeprecated": true, "deprecationReason": defaultDeprecationReason},
			},
		},
	}
	if diff := cmp.Diff(want, data); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestAbstractTypes(t *testing.T) {
	data := run(t, `{
  node: __type(name: "Node") { kind possibleTypes { name } interfaces { name } }
  result: __type(name: "Result") { kind possibleTypes { name } fields { name } }
  block: __type(name: "Block") { description interfaces { name } possibleTypes { name } }
}`)
	want := map[string]any{
		"node": map[string]any{
			"kind":          "INTERFACE",
			"possibleTypes": []any{map[string]any{"name": "Block"}, map[string]any{"name": "Link"}},
			"interfaces":    []any{},
		},
		"result": map[string]any{
			"kind":          "UNION",
			"possibleTypes": []any{map[string]any{"name": "Block"}, map[string]any{"name": "Link"}},
			"fields":        nil,
		},
		"block": map[string]any{
			"description":   "A stored block.",
			"interfaces":    []any{map[string]any{"name": "Node"}},
			"possibleTypes": nil,
		},
	}
	if diff := cmp.Diff(want, data); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestInputFieldsAndDirectives(t *testing.T) {
	data := run(t, `{
  __type(name: "Filter") { inputFields { name defaultValue } }
  __schema { directives { name locations args { name } } }
}`)
	want := map[string]any{
		"__type": map[string]any{"inputFields": []any{
			map[string]any{"name": "prefix", "defaultValue": nil},
			map[string]any{"name": "tags", "defaultValue": `["a", "b"]`},
		}},
		"__schema": map[string]any{"directives": []any{
			map[string]any{
				"name":      "include",
				"locations": []any{"FIELD", "FRAGMENT_SPREAD", "INLINE_FRAGMENT"},
				"args":      []any{map[string]any{"name": "if"}},
			},
			map[string]any{
				"name":      "skip",
				"locations": []any{"FIELD", "FRAGMENT_SPREAD", "INLINE_FRAGMENT"},
				"args":      []any{map[string]any{"name": "if"}},
			},
		}},
	}
	if diff := cmp.Diff(want, data); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestDelegatesOtherFields(t *testing.T) {
	data := run(t, `{ legacy __typename missing: __type(name: "Nope") { name } }`)
	require.Equal(t, map[string]any{"legacy": "old", "__typename": "Query", "missing": nil}, data)
}

func TestWrapLeavesSchemaUntouched(t *testing.T) {
	sch, err := schema.BuildFromSDL("test.graphql", testSDL)
	require.NoError(t, err)
	w, err := Wrap(executor.NewMockRuntime(nil), sch)
	require.NoError(t, err)

	require.Nil(t, sch.GetQueryType().Field("__schema"))
	require.Nil(t, sch.Types["__Type"])
	require.NotNil(t, w.Schema.GetQueryType().Field("__type"))
	require.Same(t, sch.AST, w.Schema.AST)

	_, err = Wrap(executor.NewMockRuntime(nil), schema.NewSchema(""))
	require.EqualError(t, err, "schema has no query type")
}
