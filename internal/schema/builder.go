package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"

	language "github.com/austinabell/graphql-ipld/internal/language"
)

// ResolverDirective marks a field definition as resolver-backed. Such fields
// are built with Async set and the directive itself is not part of the
// executable schema.
const ResolverDirective = "resolver"

// BuildFromSDL validates sdl with gqlparser and converts it into an
// executable Schema. Definition order from the SDL is preserved.
func BuildFromSDL(name, sdl string) (*Schema, error) {
	doc, err := language.LoadSchema(name, sdl)
	if err != nil {
		return nil, fmt.Errorf("load schema %s: %w", name, err)
	}
	return BuildFromAST(doc)
}

// BuildFromAST converts a validated gqlparser schema.
func BuildFromAST(doc *language.Schema) (*Schema, error) {
	s := NewSchema(doc.Description).AddBuiltins()
	s.AST = doc
	if doc.Query != nil {
		s.SetQueryType(doc.Query.Name)
	}
	if doc.Mutation != nil {
		s.SetMutationType(doc.Mutation.Name)
	}
	if doc.Subscription != nil {
		s.SetSubscriptionType(doc.Subscription.Name)
	}
	if s.QueryType == "" {
		return nil, fmt.Errorf("schema has no query type")
	}

	for _, def := range orderedDefinitions(doc) {
		t, err := BuildDefinition(def)
		if err != nil {
			return nil, err
		}
		if t != nil {
			s.AddType(t)
		}
	}

	for _, name := range sortedKeys(doc.Directives) {
		dir := doc.Directives[name]
		if dir.Position == nil || dir.Position.Src.BuiltIn || dir.Name == ResolverDirective {
			continue
		}
		d := NewDirective(dir.Name, dir.Description).SetRepeatable(dir.IsRepeatable)
		for _, loc := range dir.Locations {
			d.Locations = append(d.Locations, string(loc))
		}
		for _, arg := range dir.Arguments {
			in, err := buildInputValue(arg.Name, arg.Description, arg.Type, arg.DefaultValue, arg.Directives)
			if err != nil {
				return nil, fmt.Errorf("@%s(%s): %w", dir.Name, arg.Name, err)
			}
			d.AddArgument(in)
		}
		s.AddDirective(d)
	}
	return s, nil
}

// BuildDefinition converts one named type definition. Definitions of a
// kind the executor has no use for yield nil.
func BuildDefinition(def *ast.Definition) (*Type, error) {
	switch def.Kind {
	case ast.Object, ast.Interface:
		return buildObject(def), nil
	case ast.Union:
		t := NewType(def.Name, TypeKindUnion, def.Description)
		for _, name := range def.Types {
			t.AddPossibleType(name)
		}
		return t, nil
	case ast.Enum:
		t := NewType(def.Name, TypeKindEnum, def.Description)
		for _, v := range def.EnumValues {
			ev := NewEnumValue(v.Name, v.Description)
			if reason, ok := deprecation(v.Directives); ok {
				ev.Deprecate(reason)
			}
			t.AddEnumValue(ev)
		}
		return t, nil
	case ast.InputObject:
		t := NewType(def.Name, TypeKindInputObject, def.Description).
			SetOneOf(def.Directives.ForName("oneOf") != nil)
		for _, f := range def.Fields {
			in, err := buildInputValue(f.Name, f.Description, f.Type, f.DefaultValue, f.Directives)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", def.Name, f.Name, err)
			}
			t.AddInputField(in)
		}
		return t, nil
	case ast.Scalar:
		return NewType(def.Name, TypeKindScalar, def.Description), nil
	}
	return nil, nil
}

func buildObject(def *ast.Definition) *Type {
	kind := TypeKindObject
	if def.Kind == ast.Interface {
		kind = TypeKindInterface
	}
	t := NewType(def.Name, kind, def.Description)
	for _, name := range def.Interfaces {
		t.AddInterface(name)
	}
	for _, fd := range def.Fields {
		if strings.HasPrefix(fd.Name, "__") {
			continue
		}
		f := NewField(fd.Name, fd.Description, buildTypeRef(fd.Type)).
			SetAsync(fd.Directives.ForName(ResolverDirective) != nil)
		if reason, ok := deprecation(fd.Directives); ok {
			f.Deprecate(reason)
		}
		for _, arg := range fd.Arguments {
			in, _ := buildInputValue(arg.Name, arg.Description, arg.Type, arg.DefaultValue, arg.Directives)
			f.AddArgument(in)
		}
		t.AddField(f)
	}
	return t
}

func buildInputValue(name, description string, typ *ast.Type, def *ast.Value, dirs ast.DirectiveList) (*InputValue, error) {
	in := NewInputValue(name, description, buildTypeRef(typ))
	if def != nil {
		v, err := def.Value(nil)
		if err != nil {
			return nil, err
		}
		in.SetDefault(v)
	}
	if reason, ok := deprecation(dirs); ok {
		in.Deprecate(reason)
	}
	return in, nil
}

func buildTypeRef(t *ast.Type) *TypeRef {
	var ref *TypeRef
	if t.Elem != nil {
		ref = ListType(buildTypeRef(t.Elem))
	} else {
		ref = NamedType(t.NamedType)
	}
	if t.NonNull {
		return NonNullType(ref)
	}
	return ref
}

func deprecation(dirs ast.DirectiveList) (string, bool) {
	d := dirs.ForName("deprecated")
	if d == nil {
		return "", false
	}
	if arg := d.Arguments.ForName("reason"); arg != nil && arg.Value != nil {
		return arg.Value.Raw, true
	}
	return "", true
}

// orderedDefinitions returns the user-declared definitions in source order.
func orderedDefinitions(doc *ast.Schema) []*ast.Definition {
	defs := make([]*ast.Definition, 0, len(doc.Types))
	for _, def := range doc.Types {
		if def.BuiltIn {
			continue
		}
		defs = append(defs, def)
	}
	sortDefinitions(defs)
	return defs
}

func sortDefinitions(defs []*ast.Definition) {
	sort.SliceStable(defs, func(i, j int) bool {
		a, b := defs[i].Position, defs[j].Position
		if a == nil || b == nil {
			return defs[i].Name < defs[j].Name
		}
		if a.Src.Name != b.Src.Name {
			return a.Src.Name < b.Src.Name
		}
		return a.Start < b.Start
	})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
