package schema

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Render produces SDL from the Schema. Root operation types come first,
// followed by the remaining types and directives sorted by name. Resolver
// markers are not rendered.
func Render(s *Schema) string {
	if s == nil {
		return ""
	}
	var b strings.Builder

	var roots, rest []string
	for name, typ := range s.Types {
		switch {
		case isBuiltinScalar(typ):
		case name == s.QueryType || name == s.MutationType || name == s.SubscriptionType:
		default:
			rest = append(rest, name)
		}
	}
	for _, name := range []string{s.QueryType, s.MutationType, s.SubscriptionType} {
		if name != "" && s.Types[name] != nil {
			roots = append(roots, name)
		}
	}
	sort.Strings(rest)

	for _, name := range append(roots, rest...) {
		renderType(&b, s.Types[name])
	}

	names := make([]string, 0, len(s.Directives))
	for name, d := range s.Directives {
		if d != includeDirective && d != skipDirective {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		renderDirective(&b, s.Directives[name])
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

func renderType(b *strings.Builder, typ *Type) {
	renderDescription(b, typ.Description, "")
	switch typ.Kind {
	case TypeKindScalar:
		fmt.Fprintf(b, "scalar %s\n\n", typ.Name)
	case TypeKindUnion:
		fmt.Fprintf(b, "union %s = %s\n\n", typ.Name, strings.Join(typ.PossibleTypes, " | "))
	case TypeKindEnum:
		fmt.Fprintf(b, "enum %s {\n", typ.Name)
		for _, v := range typ.EnumValues {
			renderDescription(b, v.Description, "  ")
			b.WriteString("  " + v.Name + deprecated(v.IsDeprecated, v.DeprecationReason) + "\n")
		}
		b.WriteString("}\n\n")
	case TypeKindInputObject:
		b.WriteString("input " + typ.Name)
		if typ.OneOf {
			b.WriteString(" @oneOf")
		}
		b.WriteString(" {\n")
		for _, f := range typ.InputFields {
			renderDescription(b, f.Description, "  ")
			b.WriteString("  " + inputValue(f) + deprecated(f.IsDeprecated, f.DeprecationReason) + "\n")
		}
		b.WriteString("}\n\n")
	case TypeKindObject, TypeKindInterface:
		keyword := "type"
		if typ.Kind == TypeKindInterface {
			keyword = "interface"
		}
		b.WriteString(keyword + " " + typ.Name)
		if len(typ.Interfaces) > 0 {
			b.WriteString(" implements " + strings.Join(typ.Interfaces, " & "))
		}
		b.WriteString(" {\n")
		for _, f := range typ.Fields {
			renderDescription(b, f.Description, "  ")
			b.WriteString("  " + f.Name + arguments(f.Arguments) + ": " + f.Type.String())
			b.WriteString(deprecated(f.IsDeprecated, f.DeprecationReason) + "\n")
		}
		b.WriteString("}\n\n")
	}
}

func renderDirective(b *strings.Builder, d *Directive) {
	renderDescription(b, d.Description, "")
	b.WriteString("directive @" + d.Name + arguments(d.Arguments))
	if d.IsRepeatable {
		b.WriteString(" repeatable")
	}
	b.WriteString(" on " + strings.Join(d.Locations, " | ") + "\n\n")
}

func renderDescription(b *strings.Builder, desc, indent string) {
	if desc == "" {
		return
	}
	b.WriteString(indent + `"""` + "\n")
	for _, line := range strings.Split(strings.ReplaceAll(desc, `"""`, `\"""`), "\n") {
		b.WriteString(indent + line + "\n")
	}
	b.WriteString(indent + `"""` + "\n")
}

func arguments(args []*InputValue) string {
	if len(args) == 0 {
		return ""
	}
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = inputValue(a)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func inputValue(v *InputValue) string {
	s := v.Name + ": " + v.Type.String()
	if v.DefaultValue != nil {
		s += " = " + renderValue(v.DefaultValue)
	}
	return s
}

func deprecated(is bool, reason string) string {
	switch {
	case !is:
		return ""
	case reason == "":
		return " @deprecated"
	}
	return " @deprecated(reason: " + strconv.Quote(reason) + ")"
}

// renderValue renders a default value literal.
func renderValue(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = renderValue(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		keys := sortedKeys(v)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + renderValue(v[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return fmt.Sprint(v)
	}
}
