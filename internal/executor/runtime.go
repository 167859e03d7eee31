package executor

import (
	"context"
)

// Runtime defines the host integration surface for field resolution, batching,
// abstract type resolution, and leaf-value serialization used by the Executor.
//
// General contract
//   - The Executor performs a breadth-first execution. At each depth it drains all
//     synchronous fields first via ResolveSync, then calls BatchResolveAsync ONCE
//     with all async tasks collected at that depth. The next depth does not begin
//     until BatchResolveAsync returns and those results are completed.
//   - ResolveSync is never invoked for fields marked async, and
//     BatchResolveAsync is only invoked when at least one async task is live.
//   - Errors returned from any method are converted into located GraphQL errors.
//     Errors implementing ExtendedError contribute their extensions.
//   - Implementations must be safe for concurrent use across requests and
//     must not mutate source or args values.
//
// Identifiers
//   - objectType is the GraphQL type name; for root fields it is the root
//     operation type name and source is the initial value (usually nil).
//   - args holds already-coerced Go values: Int as int, Float as float64,
//     input objects as map[string]any with omitted fields absent.
type Runtime interface {
	// ResolveSync resolves a field that needs no I/O. Return (nil, nil) to
	// produce a GraphQL null for nullable fields.
	ResolveSync(ctx context.Context, objectType string, field string, source any, args map[string]any) (any, error)

	// BatchResolveAsync resolves one execution depth of async field tasks.
	//
	// Requirements:
	// - Return len(results) == len(tasks), results[i] answering tasks[i].
	// - Return independent errors per element without failing the whole batch.
	// - Tasks of a mutation operation must take effect in task order.
	BatchResolveAsync(ctx context.Context, tasks []AsyncResolveTask) []AsyncResolveResult

	// ResolveType determines the concrete object type name for a value of an
	// interface or union type.
	ResolveType(ctx context.Context, abstractType string, value any) (string, error)

	// SerializeLeafValue serializes a scalar or enum value to a JSON-safe Go
	// value (int32 for Int, float64 for Float, string, bool).
	SerializeLeafValue(ctx context.Context, scalarOrEnumTypeName string, value any) (any, error)
}

type AsyncResolveTask struct {
	// ObjectType is the parent GraphQL object type name for the field.
	ObjectType string
	// Field is the GraphQL field name to resolve.
	Field string
	// Source is the parent object value (nil for root fields).
	Source any
	// Args are the field arguments, coerced to Go values per the schema.
	Args map[string]any
}

type AsyncResolveResult struct {
	// Value is the resolved raw value prior to completion, or nil on error.
	Value any
	// Error contains a failure specific to this element.
	Error error
}
