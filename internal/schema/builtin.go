package schema

var (
	stringType = &Type{
		Name:        "String",
		Kind:        TypeKindScalar,
		Description: "The `String` scalar type represents textual data, represented as UTF-8 character sequences.",
	}
	intType = &Type{
		Name:        "Int",
		Kind:        TypeKindScalar,
		Description: "The `Int` scalar type represents non-fractional signed whole numeric values between -(2^31) and 2^31 - 1.",
	}
	floatType = &Type{
		Name:        "Float",
		Kind:        TypeKindScalar,
		Description: "The `Float` scalar type represents signed double-precision fractional values.",
	}
	booleanType = &Type{
		Name:        "Boolean",
		Kind:        TypeKindScalar,
		Description: "The `Boolean` scalar type represents `true` or `false`.",
	}
	idType = &Type{
		Name:        "ID",
		Kind:        TypeKindScalar,
		Description: "The `ID` scalar type represents a unique identifier.",
	}
)

var builtinScalars = []*Type{stringType, intType, floatType, booleanType, idType}

func isBuiltinScalar(t *Type) bool {
	for _, b := range builtinScalars {
		if b == t {
			return true
		}
	}
	return false
}

var conditionLocations = []string{"FIELD", "FRAGMENT_SPREAD", "INLINE_FRAGMENT"}

var includeDirective = &Directive{
	Name:        "include",
	Description: "Directs the executor to include this field or fragment only when the `if` argument is true.",
	Arguments:   []*InputValue{NewInputValue("if", "Included when true.", NonNullType(NamedType("Boolean")))},
	Locations:   conditionLocations,
}

var skipDirective = &Directive{
	Name:        "skip",
	Description: "Directs the executor to skip this field or fragment when the `if` argument is true.",
	Arguments:   []*InputValue{NewInputValue("if", "Skipped when true.", NonNullType(NamedType("Boolean")))},
	Locations:   conditionLocations,
}
