package introspection

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	language "github.com/austinabell/graphql-ipld/internal/language"
	schema "github.com/austinabell/graphql-ipld/internal/schema"
)

// gqlparser merges its prelude, which declares the __ types, into every
// schema it loads. A one-field query type is enough to get at them.
const preludeHost = `type Query { ok: Boolean }`

var metaTypes = sync.OnceValues(func() ([]*schema.Type, error) {
	doc, err := language.LoadSchema("introspection", preludeHost)
	if err != nil {
		return nil, err
	}
	var out []*schema.Type
	for _, name := range slices.Sorted(maps.Keys(doc.Types)) {
		if !strings.HasPrefix(name, "__") {
			continue
		}
		t, err := schema.BuildDefinition(doc.Types[name])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if t != nil {
			out = append(out, t)
		}
	}
	return out, nil
})

// extend returns a copy of sch carrying the meta types and a query root
// with the __schema and __type fields. sch itself is not modified.
func extend(sch *schema.Schema) (*schema.Schema, error) {
	meta, err := metaTypes()
	if err != nil {
		return nil, fmt.Errorf("load introspection types: %w", err)
	}
	query := sch.GetQueryType()
	if query == nil {
		return nil, fmt.Errorf("schema has no query type")
	}

	ext := *sch
	ext.Types = maps.Clone(sch.Types)
	for _, t := range meta {
		ext.Types[t.Name] = t
	}

	root := *query
	root.Fields = append(slices.Clip(query.Fields),
		schema.NewField("__schema", "Access the current type schema of this server.",
			schema.NonNullType(schema.NamedType("__Schema"))),
		schema.NewField("__type", "Request the type information of a single type.",
			schema.NamedType("__Type")).
			AddArgument(schema.NewInputValue("name", "", schema.NonNullType(schema.NamedType("String")))),
	)
	ext.Types[root.Name] = &root
	return &ext, nil
}
