// Package executor implements a breadth-first, batch-friendly GraphQL executor
// with explicit runtime hooks for synchronous resolution, depth-wise batching of
// asynchronous work, abstract-type resolution, and leaf serialization.
//
// # Execution Model
//
// Fields are classified through schema.Field.Async:
//   - Synchronous fields are projections of their parent value. They are
//     resolved immediately via Runtime.ResolveSync and never add depth.
//   - Asynchronous fields need I/O (a store fetch, a write). They are queued
//     while the current depth expands and resolved together in one
//     Runtime.BatchResolveAsync call per depth.
//
// For a response with asynchronous depth d, BatchResolveAsync is invoked
// exactly d times. An async field that is never selected is never queued, so
// its I/O never happens.
//
// # Value Completion
//
//   - Non-Null: unwrap and complete the inner type; a null result records an
//     error and propagates null upward.
//   - List: complete each element with an index-aware path. A null element for
//     a Non-Null inner type nullifies the whole list.
//   - Leaf: Runtime.SerializeLeafValue produces the JSON-safe value.
//   - Abstract: Runtime.ResolveType picks the concrete object type.
//   - Object: collect subfields, expanding sync fields and queueing async ones.
//
// # Errors and Partial Success
//
// Errors are accumulated as located GraphQL errors (message, path, optional
// extensions). A failing nullable field becomes null and its siblings are
// kept. A failing Non-Null async field nullifies its top-level response field
// and drops queued work below it. Batch results are independent, so one
// failing task never affects the others in the same batch.
package executor
