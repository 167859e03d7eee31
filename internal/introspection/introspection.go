// Package introspection answers the __schema and __type meta fields on top
// of any executor.Runtime.
package introspection

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	executor "github.com/austinabell/graphql-ipld/internal/executor"
	schema "github.com/austinabell/graphql-ipld/internal/schema"
)

const defaultDeprecationReason = "No longer supported"

// Wrapped pairs the introspecting runtime with the schema it must be
// executed against.
type Wrapped struct {
	Runtime executor.Runtime
	Schema  *schema.Schema
}

// Wrap extends sch with the introspection types and returns a runtime that
// resolves them, delegating every other field to base.
func Wrap(base executor.Runtime, sch *schema.Schema) (*Wrapped, error) {
	ext, err := extend(sch)
	if err != nil {
		return nil, err
	}
	r := &runtime{Runtime: base, schema: ext, implementers: map[string][]string{}}
	for _, name := range slices.Sorted(maps.Keys(ext.Types)) {
		t := ext.Types[name]
		if t.Kind != schema.TypeKindObject {
			continue
		}
		for _, iface := range t.Interfaces {
			r.implementers[iface] = append(r.implementers[iface], name)
		}
	}
	return &Wrapped{Runtime: r, Schema: ext}, nil
}

type runtime struct {
	executor.Runtime

	schema       *schema.Schema
	implementers map[string][]string
}

// typeRef is the source of a __Type object. Named types carry their
// definition; LIST and NON_NULL wrappers carry the wrapped reference.
type typeRef struct {
	kind   string
	def    *schema.Type
	ofType *schema.TypeRef
}

func (r *runtime) ResolveSync(ctx context.Context, objectType, field string, source any, args map[string]any) (any, error) {
	switch objectType {
	case r.schema.QueryType:
		switch field {
		case "__schema":
			return r.schema, nil
		case "__type":
			name, _ := args["name"].(string)
			return r.lookup(name), nil
		}
	case "__Schema":
		return r.schemaField(field), nil
	case "__Type":
		if t, ok := source.(*typeRef); ok {
			return r.typeField(t, field, args), nil
		}
	case "__Field":
		if f, ok := source.(*schema.Field); ok {
			return r.fieldField(f, field, args), nil
		}
	case "__InputValue":
		if iv, ok := source.(*schema.InputValue); ok {
			return r.inputValueField(iv, field), nil
		}
	case "__EnumValue":
		if ev, ok := source.(*schema.EnumValue); ok {
			return enumValueField(ev, field), nil
		}
	case "__Directive":
		if d, ok := source.(*schema.Directive); ok {
			return directiveField(d, field, args), nil
		}
	}
	if strings.HasPrefix(objectType, "__") {
		return nil, fmt.Errorf("introspection: unexpected %T source for %s.%s", source, objectType, field)
	}
	return r.Runtime.ResolveSync(ctx, objectType, field, source, args)
}

// lookup returns the named type, or nil when there is none.
func (r *runtime) lookup(name string) any {
	t := r.schema.Types[name]
	if t == nil {
		return nil
	}
	return &typeRef{kind: string(t.Kind), def: t}
}

func (r *runtime) ref(tr *schema.TypeRef) any {
	switch tr.Kind {
	case schema.TypeRefKindNonNull, schema.TypeRefKindList:
		return &typeRef{kind: string(tr.Kind), ofType: tr.OfType}
	}
	return r.lookup(tr.Named)
}

func (r *runtime) list(names []string) []any {
	out := make([]any, 0, len(names))
	for _, name := range names {
		if t := r.lookup(name); t != nil {
			out = append(out, t)
		}
	}
	return out
}

func (r *runtime) schemaField(field string) any {
	s := r.schema
	switch field {
	case "description":
		return optional(s.Description)
	case "types":
		return r.list(slices.Sorted(maps.Keys(s.Types)))
	case "queryType":
		return r.lookup(s.QueryType)
	case "mutationType":
		return r.lookup(s.MutationType)
	case "subscriptionType":
		return r.lookup(s.SubscriptionType)
	case "directives":
		out := make([]*schema.Directive, 0, len(s.Directives))
		for _, name := range slices.Sorted(maps.Keys(s.Directives)) {
			out = append(out, s.Directives[name])
		}
		return out
	}
	return nil
}

func (r *runtime) typeField(t *typeRef, field string, args map[string]any) any {
	if field == "kind" {
		return t.kind
	}
	if t.def == nil {
		if field == "ofType" {
			return r.ref(t.ofType)
		}
		return nil
	}

	d := t.def
	withDeprecated, _ := args["includeDeprecated"].(bool)
	composite := d.Kind == schema.TypeKindObject || d.Kind == schema.TypeKindInterface
	switch field {
	case "name":
		return d.Name
	case "description":
		return optional(d.Description)
	case "fields":
		if !composite {
			return nil
		}
		out := []*schema.Field{}
		for _, f := range d.Fields {
			if strings.HasPrefix(f.Name, "__") || (f.IsDeprecated && !withDeprecated) {
				continue
			}
			out = append(out, f)
		}
		return out
	case "interfaces":
		if !composite {
			return nil
		}
		return r.list(d.Interfaces)
	case "possibleTypes":
		switch d.Kind {
		case schema.TypeKindUnion:
			return r.list(d.PossibleTypes)
		case schema.TypeKindInterface:
			return r.list(r.implementers[d.Name])
		}
		return nil
	case "enumValues":
		if d.Kind != schema.TypeKindEnum {
			return nil
		}
		out := []*schema.EnumValue{}
		for _, ev := range d.EnumValues {
			if !ev.IsDeprecated || withDeprecated {
				out = append(out, ev)
			}
		}
		return out
	case "inputFields":
		if d.Kind != schema.TypeKindInputObject {
			return nil
		}
		return inputValues(d.InputFields, withDeprecated)
	case "isOneOf":
		if d.Kind != schema.TypeKindInputObject {
			return nil
		}
		return d.OneOf
	}
	return nil
}

func (r *runtime) fieldField(f *schema.Field, field string, args map[string]any) any {
	switch field {
	case "name":
		return f.Name
	case "description":
		return optional(f.Description)
	case "args":
		withDeprecated, _ := args["includeDeprecated"].(bool)
		return inputValues(f.Arguments, withDeprecated)
	case "type":
		return r.ref(f.Type)
	case "isDeprecated":
		return f.IsDeprecated
	case "deprecationReason":
		return deprecationReason(f.IsDeprecated, f.DeprecationReason)
	}
	return nil
}

func (r *runtime) inputValueField(iv *schema.InputValue, field string) any {
	switch field {
	case "name":
		return iv.Name
	case "description":
		return optional(iv.Description)
	case "type":
		return r.ref(iv.Type)
	case "defaultValue":
		if iv.DefaultValue == nil {
			return nil
		}
		named := r.schema.Types[iv.Type.GetNamedType()]
		return literal(iv.DefaultValue, named != nil && named.Kind == schema.TypeKindEnum)
	case "isDeprecated":
		return iv.IsDeprecated
	case "deprecationReason":
		return deprecationReason(iv.IsDeprecated, iv.DeprecationReason)
	}
	return nil
}

func enumValueField(ev *schema.EnumValue, field string) any {
	switch field {
	case "name":
		return ev.Name
	case "description":
		return optional(ev.Description)
	case "isDeprecated":
		return ev.IsDeprecated
	case "deprecationReason":
		return deprecationReason(ev.IsDeprecated, ev.DeprecationReason)
	}
	return nil
}

func directiveField(d *schema.Directive, field string, args map[string]any) any {
	switch field {
	case "name":
		return d.Name
	case "description":
		return optional(d.Description)
	case "isRepeatable":
		return d.IsRepeatable
	case "locations":
		return d.Locations
	case "args":
		withDeprecated, _ := args["includeDeprecated"].(bool)
		return inputValues(d.Arguments, withDeprecated)
	}
	return nil
}

func inputValues(in []*schema.InputValue, withDeprecated bool) []*schema.InputValue {
	out := []*schema.InputValue{}
	for _, iv := range in {
		if !iv.IsDeprecated || withDeprecated {
			out = append(out, iv)
		}
	}
	return out
}

func deprecationReason(deprecated bool, reason string) any {
	if !deprecated {
		return nil
	}
	if reason == "" {
		return defaultDeprecationReason
	}
	return reason
}

func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// literal renders a coerced default value as GraphQL source text. Strings
// stay bare when they name an enum value.
func literal(v any, enum bool) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		if enum {
			return x
		}
		return strconv.Quote(x)
	case []any:
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = literal(item, enum)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		parts := make([]string, 0, len(x))
		for _, k := range slices.Sorted(maps.Keys(x)) {
			parts = append(parts, k+": "+literal(x[k], false))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return fmt.Sprint(v)
}
