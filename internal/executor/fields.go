package executor

import (
	language "github.com/austinabell/graphql-ipld/internal/language"
	schema "github.com/austinabell/graphql-ipld/internal/schema"
)

// fieldGroups keeps fields grouped by response name in first-seen order.
type fieldGroups struct {
	groups []fieldGroup
	index  map[string]int
}

type fieldGroup struct {
	ResponseName string
	Fields       []*language.Field
}

func (g *fieldGroups) add(responseName string, field *language.Field) {
	if idx, ok := g.index[responseName]; ok {
		g.groups[idx].Fields = append(g.groups[idx].Fields, field)
		return
	}
	g.index[responseName] = len(g.groups)
	g.groups = append(g.groups, fieldGroup{ResponseName: responseName, Fields: []*language.Field{field}})
}

func (g *fieldGroups) orderedFields() []fieldGroup { return g.groups }

// collectFields flattens fragments and applies @skip/@include.
func collectFields(state *executionState, objectType *schema.Type, selectionSet language.SelectionSet) *fieldGroups {
	groups := &fieldGroups{index: make(map[string]int)}
	collectInto(state, objectType, selectionSet, groups, make(map[string]bool))
	return groups
}

func collectInto(state *executionState, objectType *schema.Type, selectionSet language.SelectionSet, groups *fieldGroups, visited map[string]bool) {
	for _, selection := range selectionSet {
		switch sel := selection.(type) {
		case *language.Field:
			if !shouldIncludeNode(state, sel.Directives) {
				continue
			}
			name := sel.Alias
			if name == "" {
				name = sel.Name
			}
			groups.add(name, sel)

		case *language.InlineFragment:
			if !shouldIncludeNode(state, sel.Directives) || !doesFragmentTypeApply(state.schema, objectType, sel.TypeCondition) {
				continue
			}
			collectInto(state, objectType, sel.SelectionSet, groups, visited)

		case *language.FragmentSpread:
			if !shouldIncludeNode(state, sel.Directives) || visited[sel.Name] {
				continue
			}
			visited[sel.Name] = true
			def := state.document.Fragments.ForName(sel.Name)
			if def == nil || !doesFragmentTypeApply(state.schema, objectType, def.TypeCondition) || !shouldIncludeNode(state, def.Directives) {
				continue
			}
			collectInto(state, objectType, def.SelectionSet, groups, visited)
		}
	}
}

// shouldIncludeNode evaluates @skip and @include.
func shouldIncludeNode(state *executionState, directives language.DirectiveList) bool {
	if d := directives.ForName("skip"); d != nil && directiveCondition(state, d) {
		return false
	}
	if d := directives.ForName("include"); d != nil && !directiveCondition(state, d) {
		return false
	}
	return true
}

func directiveCondition(state *executionState, d *language.Directive) bool {
	arg := d.Arguments.ForName("if")
	if arg == nil {
		return false
	}
	b, _ := valueFromAST(arg.Value, state.variableValues).(bool)
	return b
}

// doesFragmentTypeApply reports whether a fragment with the given type
// condition applies to objectType, following interfaces and union members.
func doesFragmentTypeApply(sch *schema.Schema, objectType *schema.Type, condition string) bool {
	if condition == "" || condition == objectType.Name {
		return true
	}
	cond := sch.Types[condition]
	if cond == nil {
		return false
	}
	switch cond.Kind {
	case schema.TypeKindInterface:
		for _, name := range objectType.Interfaces {
			if name == condition {
				return true
			}
		}
	case schema.TypeKindUnion:
		for _, name := range cond.PossibleTypes {
			if name == objectType.Name {
				return true
			}
		}
	}
	return false
}
